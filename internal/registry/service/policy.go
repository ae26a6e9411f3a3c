package service

import "github.com/jmerrifield20/SubzoneRegistry/internal/registry/model"

// Policy decides who may read and change a record.
type Policy struct {
	// OwnerCanMutate lets owners update and delete their own records.
	OwnerCanMutate bool
	// AdminForStatus restricts moderation decisions to administrators.
	AdminForStatus bool
}

// DefaultPolicy is the policy used when none is configured.
var DefaultPolicy = Policy{OwnerCanMutate: true, AdminForStatus: true}

func isOwner(a *model.Actor, rec *model.Subdomain) bool {
	return a != nil && a.ID != "" && a.ID == rec.OwnerID
}

// CanRead reports whether a may see rec. Unauthenticated callers never can.
func (p Policy) CanRead(a *model.Actor, rec *model.Subdomain) bool {
	if a == nil {
		return false
	}
	return a.IsAdmin || isOwner(a, rec)
}

// CanMutate reports whether a may change or delete rec.
func (p Policy) CanMutate(a *model.Actor, rec *model.Subdomain) bool {
	if a == nil {
		return false
	}
	return a.IsAdmin || (p.OwnerCanMutate && isOwner(a, rec))
}

// CanSetStatus reports whether a may approve or reject rec.
func (p Policy) CanSetStatus(a *model.Actor, rec *model.Subdomain) bool {
	if a == nil {
		return false
	}
	if p.AdminForStatus {
		return a.IsAdmin
	}
	return p.CanMutate(a, rec)
}
