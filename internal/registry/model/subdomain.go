package model

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Status is the moderation state of a subdomain claim.
type Status string

const (
	StatusPending  Status = "pending"
	StatusApproved Status = "approved"
	StatusRejected Status = "rejected"
)

// Valid reports whether s is one of the known statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusApproved, StatusRejected:
		return true
	}
	return false
}

// Record types a subdomain may carry.
const (
	RecordTypeA     = "A"
	RecordTypeCNAME = "CNAME"
)

// Subdomain is a claimed label under the parent zone and the DNS record
// published for it.
type Subdomain struct {
	ID         uuid.UUID  `json:"id"                    db:"id"`
	Label      string     `json:"label"                 db:"label"`
	OwnerID    string     `json:"owner_id"              db:"owner_id"`
	OwnerEmail string     `json:"owner_email,omitempty" db:"owner_email"`
	RecordType string     `json:"record_type"           db:"record_type"`
	Target     string     `json:"target"                db:"target"`
	Status     Status     `json:"status"                db:"status"`
	DNSCreated bool       `json:"dns_created"           db:"dns_created"`
	DNSError   *string    `json:"dns_error,omitempty"   db:"dns_error"`
	CreatedAt  time.Time  `json:"created_at"            db:"created_at"`
	ApprovedAt *time.Time `json:"approved_at,omitempty" db:"approved_at"`
	UpdatedAt  time.Time  `json:"updated_at"            db:"updated_at"`
	// FQDN is computed from the label and the parent zone; never stored.
	FQDN string `json:"fqdn" db:"-"`
}

// SetFQDN fills FQDN from the label and zone.
func (s *Subdomain) SetFQDN(zone string) {
	s.FQDN = s.Label + "." + strings.TrimSuffix(strings.ToLower(zone), ".")
}

// DNSAttempted reports whether a DNS write was ever tried for the record.
func (s *Subdomain) DNSAttempted() bool {
	return s.DNSCreated || s.DNSError != nil
}

// Actor is the verified caller of a registry operation. A nil *Actor is
// unauthenticated.
type Actor struct {
	ID      string `json:"id"`
	Email   string `json:"email,omitempty"`
	IsAdmin bool   `json:"is_admin"`
}

// SystemActorID identifies background jobs in records and the audit ledger.
const SystemActorID = "subzone-system"

// SystemActor is used by background jobs.
var SystemActor = &Actor{ID: SystemActorID, IsAdmin: true}

// CreateRequest is the payload for claiming a label.
type CreateRequest struct {
	Label      string `json:"label"       binding:"required"`
	RecordType string `json:"record_type" binding:"required"`
	Target     string `json:"target"      binding:"required"`
}

// UpdateTargetRequest is the payload for changing a record's target.
type UpdateTargetRequest struct {
	Target string `json:"target" binding:"required"`
}

// SetStatusRequest is the payload for a moderation decision.
type SetStatusRequest struct {
	Status Status `json:"status" binding:"required"`
}

// ListFilter narrows a List call. Zero values mean "no constraint".
type ListFilter struct {
	Status     Status
	OwnerID    string
	DNSCreated *bool
	Cursor     *uuid.UUID // id of the last record of the previous page
	Limit      int
}

// List limits.
const (
	DefaultListLimit = 50
	MaxListLimit     = 200
)

// NormalizedLimit clamps Limit to (0, MaxListLimit], defaulting to
// DefaultListLimit.
func (f ListFilter) NormalizedLimit() int {
	switch {
	case f.Limit <= 0:
		return DefaultListLimit
	case f.Limit > MaxListLimit:
		return MaxListLimit
	}
	return f.Limit
}

// DNSUpdate is the outcome of a DNS write, persisted on the record.
type DNSUpdate struct {
	Target     string // target the write was issued for
	DNSCreated bool
	DNSError   *string
}

// Availability is the answer to "can this label be claimed?".
type Availability struct {
	Label     string `json:"label"`
	Available bool   `json:"available"`
	Reason    string `json:"reason,omitempty"`
}

// DNSState summarises the DNS outcome of a mutation for API callers.
type DNSState struct {
	Synced         bool    `json:"synced"`
	Error          *string `json:"error,omitempty"`
	RetryAvailable bool    `json:"retry_available"`
}

// DNSStateOf derives the DNS summary of a record.
func DNSStateOf(s *Subdomain) DNSState {
	return DNSState{
		Synced:         s.DNSCreated,
		Error:          s.DNSError,
		RetryAvailable: s.Status == StatusApproved && !s.DNSCreated,
	}
}
