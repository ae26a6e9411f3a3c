package dns

import (
	"errors"
	"fmt"
)

// ErrWriteFailed is matched by every error a Directory returns.
var ErrWriteFailed = errors.New("dns write failed")

// maxErrorBody caps how much of an upstream response body is kept.
const maxErrorBody = 4 << 10

// WriteError describes a failed directory write.
type WriteError struct {
	Op         string // "upsert" or "delete"
	Name       string // absolute record name
	StatusCode int    // upstream HTTP status, 0 when no response was received
	Body       string // upstream response body, truncated
	Err        error  // underlying transport or provider error
}

func (e *WriteError) Error() string {
	switch {
	case e.StatusCode != 0 && e.Body != "":
		return fmt.Sprintf("dns %s %s: upstream returned %d: %s", e.Op, e.Name, e.StatusCode, e.Body)
	case e.StatusCode != 0:
		return fmt.Sprintf("dns %s %s: upstream returned %d", e.Op, e.Name, e.StatusCode)
	case e.Err != nil:
		return fmt.Sprintf("dns %s %s: %v", e.Op, e.Name, e.Err)
	default:
		return fmt.Sprintf("dns %s %s: failed", e.Op, e.Name)
	}
}

func (e *WriteError) Unwrap() error { return e.Err }

// Is reports whether target is ErrWriteFailed.
func (e *WriteError) Is(target error) bool { return target == ErrWriteFailed }

func truncateBody(b []byte) string {
	if len(b) > maxErrorBody {
		b = b[:maxErrorBody]
	}
	return string(b)
}

func errUnsupportedType(t string) error {
	return fmt.Errorf("unsupported record type %q", t)
}
