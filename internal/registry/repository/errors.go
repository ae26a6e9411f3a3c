package repository

import "errors"

var (
	// ErrNotFound is returned when no subdomain matches the lookup.
	ErrNotFound = errors.New("subdomain not found")
	// ErrLabelTaken is returned when a label is already claimed.
	ErrLabelTaken = errors.New("label already claimed")
	// ErrStatusConflict is returned when a conditional status transition
	// finds the record in a different state than expected.
	ErrStatusConflict = errors.New("subdomain status changed concurrently")
	// ErrStaleTarget is returned when a DNS outcome is recorded for a
	// target the record no longer carries.
	ErrStaleTarget = errors.New("subdomain target changed concurrently")
)
