// Package label validates subdomain labels and DNS record targets.
//
// Every function here is pure: no I/O, deterministic, and total. Malformed
// input always yields an *Error rather than a panic.
package label

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// ErrInvalid is matched by every *Error returned from this package.
var ErrInvalid = errors.New("invalid input")

// Error describes why a label or target was rejected.
type Error struct {
	Field  string // "label" or "target"
	Input  string
	Reason string
}

func (e *Error) Error() string {
	return fmt.Sprintf("invalid %s %q: %s", e.Field, e.Input, e.Reason)
}

// Is reports whether target is ErrInvalid.
func (e *Error) Is(target error) bool { return target == ErrInvalid }

const (
	MinLength = 3
	MaxLength = 63
)

// DefaultReserved is the reserved-name set used when none is configured.
var DefaultReserved = []string{"www", "mail", "ftp", "admin", "root", "api", "ns1", "ns2"}

var labelRe = regexp.MustCompile(`^[a-z0-9-]+$`)

// Validator validates candidate subdomain labels against syntax and a
// reserved-name set.
type Validator struct {
	reserved map[string]struct{}
}

// NewValidator creates a Validator. A nil or empty reserved slice selects
// DefaultReserved.
func NewValidator(reserved []string) *Validator {
	if len(reserved) == 0 {
		reserved = DefaultReserved
	}
	set := make(map[string]struct{}, len(reserved))
	for _, r := range reserved {
		r = strings.ToLower(strings.TrimSpace(r))
		if r != "" {
			set[r] = struct{}{}
		}
	}
	return &Validator{reserved: set}
}

// IsReserved reports whether the normalized label is in the reserved set.
func (v *Validator) IsReserved(s string) bool {
	_, ok := v.reserved[s]
	return ok
}

// Label trims and lowercases input and returns the normalized label, or an
// *Error explaining the rejection.
func (v *Validator) Label(input string) (string, error) {
	s := strings.ToLower(strings.TrimSpace(input))
	reject := func(reason string) (string, error) {
		return "", &Error{Field: "label", Input: input, Reason: reason}
	}

	switch {
	case s == "":
		return reject("must not be empty")
	case len(s) < MinLength:
		return reject(fmt.Sprintf("must be at least %d characters", MinLength))
	case len(s) > MaxLength:
		return reject(fmt.Sprintf("must be at most %d characters", MaxLength))
	case !labelRe.MatchString(s):
		return reject("may only contain a-z, 0-9 and '-'")
	case strings.HasPrefix(s, "-") || strings.HasSuffix(s, "-"):
		return reject("must not start or end with '-'")
	case v.IsReserved(s):
		return reject("is reserved")
	}
	return s, nil
}
