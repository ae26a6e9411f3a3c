// Package dns talks to the authoritative DNS server that hosts the parent
// zone. Records are addressed by their label relative to that zone.
package dns

import (
	"context"
	"strings"

	"github.com/jmerrifield20/SubzoneRegistry/internal/registry/model"
)

// Directory replaces or removes the record set for a label under the
// parent zone. Every failure is a *WriteError matching ErrWriteFailed.
type Directory interface {
	// UpsertA replaces the A record set at <label>.<zone> with ipv4.
	UpsertA(ctx context.Context, label, ipv4 string) error
	// UpsertCNAME replaces the CNAME record set at <label>.<zone> with target.
	UpsertCNAME(ctx context.Context, label, target string) error
	// DeleteRecordSet removes the record set of recordType at <label>.<zone>.
	DeleteRecordSet(ctx context.Context, label, recordType string) error
	// Zone returns the parent zone in canonical form (trailing dot).
	Zone() string
}

// CanonicalZone lowercases zone and guarantees a trailing dot.
func CanonicalZone(zone string) string {
	z := strings.ToLower(strings.TrimSpace(zone))
	if !strings.HasSuffix(z, ".") {
		z += "."
	}
	return z
}

// RecordName returns the absolute owner name "<label>.<zone>" with a
// trailing dot, as used on the wire.
func RecordName(label, zone string) string {
	return label + "." + CanonicalZone(zone)
}

// FQDN returns the display form of <label>.<zone> without a trailing dot.
func FQDN(label, zone string) string {
	return strings.TrimSuffix(RecordName(label, zone), ".")
}

// Upsert dispatches to UpsertA or UpsertCNAME by record type.
func Upsert(ctx context.Context, d Directory, label, recordType, target string) error {
	switch recordType {
	case model.RecordTypeA:
		return d.UpsertA(ctx, label, target)
	case model.RecordTypeCNAME:
		return d.UpsertCNAME(ctx, label, target)
	default:
		return &WriteError{Op: "upsert", Name: RecordName(label, d.Zone()), Err: errUnsupportedType(recordType)}
	}
}
