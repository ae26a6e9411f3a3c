package service

import (
	"errors"
	"fmt"

	"github.com/jmerrifield20/SubzoneRegistry/internal/label"
)

// Errors returned by Registry operations. Callers match them with errors.Is.
var (
	ErrInvalidLabel        = errors.New("invalid label")
	ErrInvalidTarget       = errors.New("invalid target")
	ErrLabelTaken          = errors.New("label already claimed")
	ErrNotFound            = errors.New("subdomain not found")
	ErrForbidden           = errors.New("forbidden")
	ErrUnauthenticated     = errors.New("authentication required")
	ErrInvalidTransition   = errors.New("invalid status transition")
	ErrUpstreamUnavailable = errors.New("registry store unavailable")
)

// ValidationError carries the human-readable reason a label or target was
// rejected. It unwraps to ErrInvalidLabel or ErrInvalidTarget.
type ValidationError struct {
	Kind   error
	Reason string
}

func (e *ValidationError) Error() string { return e.Reason }

func (e *ValidationError) Unwrap() error { return e.Kind }

func invalid(kind, err error) error {
	var lerr *label.Error
	if errors.As(err, &lerr) {
		return &ValidationError{Kind: kind, Reason: lerr.Field + " " + lerr.Reason}
	}
	return &ValidationError{Kind: kind, Reason: err.Error()}
}

func upstream(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, ErrUpstreamUnavailable, err)
}
