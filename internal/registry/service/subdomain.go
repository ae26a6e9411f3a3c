package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmerrifield20/SubzoneRegistry/internal/dns"
	"github.com/jmerrifield20/SubzoneRegistry/internal/label"
	"github.com/jmerrifield20/SubzoneRegistry/internal/ledger"
	"github.com/jmerrifield20/SubzoneRegistry/internal/registry/model"
	"github.com/jmerrifield20/SubzoneRegistry/internal/registry/repository"
	"go.uber.org/zap"
)

// subdomainStore is the persistence interface for the Registry.
// *repository.SubdomainRepository, *repository.GormRepository and
// *repository.MemoryRepository satisfy it.
type subdomainStore interface {
	Create(ctx context.Context, s *model.Subdomain) error
	GetByID(ctx context.Context, id uuid.UUID) (*model.Subdomain, error)
	GetByLabel(ctx context.Context, label string) (*model.Subdomain, error)
	List(ctx context.Context, f model.ListFilter) ([]*model.Subdomain, error)
	UpdateTarget(ctx context.Context, id uuid.UUID, u model.DNSUpdate) (*model.Subdomain, error)
	UpdateDNS(ctx context.Context, id uuid.UUID, u model.DNSUpdate) (*model.Subdomain, error)
	TransitionStatus(ctx context.Context, id uuid.UUID, from, to model.Status, approvedAt *time.Time) (*model.Subdomain, error)
	Delete(ctx context.Context, id uuid.UUID) error
	CountByStatus(ctx context.Context) (map[model.Status]int, error)
}

// Notifier receives moderation events. *email.Notifier satisfies it.
type Notifier interface {
	ClaimPending(ctx context.Context, fqdn, id, owner string)
	ClaimDecided(ctx context.Context, to, fqdn, status string)
	DNSFailed(ctx context.Context, to, fqdn, reason string)
}

// DNSObserver is told about every directory write and its outcome.
type DNSObserver func(op, recordType string, err error)

// Config holds the Registry's startup settings.
type Config struct {
	// ModerationMode puts new claims in pending until an admin decides.
	ModerationMode bool
	Policy         Policy
	// DNSTimeout bounds each directory call.
	DNSTimeout     time.Duration
	ReservedLabels []string
}

const defaultDNSTimeout = 10 * time.Second

// Registry owns subdomain records and keeps the DNS directory in step
// with them.
type Registry struct {
	store      subdomainStore
	dir        dns.Directory
	names      *label.Validator
	policy     Policy
	moderated  bool
	dnsTimeout time.Duration
	ledger     ledger.Ledger // nil = no audit trail
	notifier   Notifier      // nil = no notifications
	observe    DNSObserver   // nil = no observation
	logger     *zap.Logger
}

// NewRegistry creates a Registry.
func NewRegistry(store subdomainStore, dir dns.Directory, cfg Config, logger *zap.Logger) *Registry {
	if cfg.DNSTimeout <= 0 {
		cfg.DNSTimeout = defaultDNSTimeout
	}
	return &Registry{
		store:      store,
		dir:        dir,
		names:      label.NewValidator(cfg.ReservedLabels),
		policy:     cfg.Policy,
		moderated:  cfg.ModerationMode,
		dnsTimeout: cfg.DNSTimeout,
		logger:     logger,
	}
}

// SetLedger configures the audit ledger.
func (r *Registry) SetLedger(l ledger.Ledger) { r.ledger = l }

// SetNotifier configures moderation notifications.
func (r *Registry) SetNotifier(n Notifier) { r.notifier = n }

// SetDNSObserver configures the DNS write observer.
func (r *Registry) SetDNSObserver(fn DNSObserver) { r.observe = fn }

// Zone returns the parent zone of the directory.
func (r *Registry) Zone() string { return r.dir.Zone() }

// ModerationMode reports whether new claims start in pending.
func (r *Registry) ModerationMode() bool { return r.moderated }

// Create claims a label for actor and, unless moderation is on, publishes
// its DNS record. A failed DNS write is recorded on the returned record
// and does not fail the call.
func (r *Registry) Create(ctx context.Context, actor *model.Actor, req model.CreateRequest) (*model.Subdomain, error) {
	if actor == nil || actor.ID == "" {
		return nil, ErrUnauthenticated
	}
	name, err := r.names.Label(req.Label)
	if err != nil {
		return nil, invalid(ErrInvalidLabel, err)
	}
	recordType := strings.ToUpper(strings.TrimSpace(req.RecordType))
	target, err := label.ValidateTarget(recordType, req.Target)
	if err != nil {
		return nil, invalid(ErrInvalidTarget, err)
	}

	// The store's unique constraint is authoritative; this only saves a write.
	if _, err := r.store.GetByLabel(ctx, name); err == nil {
		return nil, ErrLabelTaken
	} else if !errors.Is(err, repository.ErrNotFound) {
		return nil, upstream("lookup label", err)
	}

	rec := &model.Subdomain{
		Label:      name,
		OwnerID:    actor.ID,
		OwnerEmail: actor.Email,
		RecordType: recordType,
		Target:     target,
		Status:     model.StatusPending,
	}
	if !r.moderated {
		now := time.Now().UTC()
		rec.Status = model.StatusApproved
		rec.ApprovedAt = &now
	}

	if err := r.store.Create(ctx, rec); err != nil {
		if errors.Is(err, repository.ErrLabelTaken) {
			return nil, ErrLabelTaken
		}
		return nil, upstream("create subdomain", err)
	}
	rec.SetFQDN(r.Zone())

	r.logger.Info("subdomain claimed",
		zap.String("id", rec.ID.String()),
		zap.String("fqdn", rec.FQDN),
		zap.String("owner_id", rec.OwnerID),
		zap.String("status", string(rec.Status)),
	)
	r.appendLedger(ctx, rec, ledger.ActionClaim, actor.ID, map[string]string{
		"record_type": rec.RecordType,
		"target":      rec.Target,
		"status":      string(rec.Status),
	})

	if rec.Status == model.StatusApproved {
		return r.publish(ctx, rec, true), nil
	}
	if r.notifier != nil {
		r.notifier.ClaimPending(ctx, rec.FQDN, rec.ID.String(), rec.OwnerID)
	}
	return rec, nil
}

// SetStatus approves or rejects a pending record. Approval publishes DNS.
func (r *Registry) SetStatus(ctx context.Context, actor *model.Actor, id uuid.UUID, status model.Status) (*model.Subdomain, error) {
	if actor == nil {
		return nil, ErrUnauthenticated
	}
	rec, err := r.get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !r.policy.CanSetStatus(actor, rec) {
		return nil, ErrForbidden
	}
	if rec.Status != model.StatusPending || (status != model.StatusApproved && status != model.StatusRejected) {
		return nil, ErrInvalidTransition
	}

	var approvedAt *time.Time
	if status == model.StatusApproved {
		now := time.Now().UTC()
		approvedAt = &now
	}
	updated, err := r.store.TransitionStatus(ctx, id, model.StatusPending, status, approvedAt)
	switch {
	case errors.Is(err, repository.ErrStatusConflict):
		return nil, ErrInvalidTransition
	case errors.Is(err, repository.ErrNotFound):
		return nil, ErrNotFound
	case err != nil:
		return nil, upstream("transition status", err)
	}
	updated.SetFQDN(r.Zone())

	action := ledger.ActionReject
	if status == model.StatusApproved {
		action = ledger.ActionApprove
	}
	r.logger.Info("subdomain moderated",
		zap.String("id", id.String()),
		zap.String("fqdn", updated.FQDN),
		zap.String("status", string(status)),
		zap.String("actor", actor.ID),
	)
	r.appendLedger(ctx, updated, action, actor.ID, nil)

	if r.notifier != nil {
		r.notifier.ClaimDecided(ctx, updated.OwnerEmail, updated.FQDN, string(status))
	}
	if status == model.StatusApproved {
		return r.publish(ctx, updated, true), nil
	}
	return updated, nil
}

// UpdateTarget changes a record's target. For approved records the new
// target is written to DNS; the outcome is recorded either way.
func (r *Registry) UpdateTarget(ctx context.Context, actor *model.Actor, id uuid.UUID, newTarget string) (*model.Subdomain, error) {
	if actor == nil {
		return nil, ErrUnauthenticated
	}
	rec, err := r.get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !r.policy.CanMutate(actor, rec) {
		return nil, ErrForbidden
	}
	if rec.Status == model.StatusRejected {
		return nil, ErrInvalidTransition
	}
	target, err := label.ValidateTarget(rec.RecordType, newTarget)
	if err != nil {
		return nil, invalid(ErrInvalidTarget, err)
	}

	updated, err := r.store.UpdateTarget(ctx, id, model.DNSUpdate{Target: target})
	if errors.Is(err, repository.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, upstream("update target", err)
	}
	updated.SetFQDN(r.Zone())

	r.appendLedger(ctx, updated, ledger.ActionUpdateTarget, actor.ID, map[string]string{
		"from": rec.Target,
		"to":   target,
	})

	if updated.Status == model.StatusApproved {
		return r.publish(ctx, updated, false), nil
	}
	return updated, nil
}

// SyncDNS re-issues the DNS write for an approved record.
func (r *Registry) SyncDNS(ctx context.Context, actor *model.Actor, id uuid.UUID) (*model.Subdomain, error) {
	if actor == nil {
		return nil, ErrUnauthenticated
	}
	rec, err := r.get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !r.policy.CanMutate(actor, rec) {
		return nil, ErrForbidden
	}
	if rec.Status != model.StatusApproved {
		return nil, ErrInvalidTransition
	}
	synced := r.publish(ctx, rec, false)
	r.appendLedger(ctx, synced, ledger.ActionDNSSync, actor.ID, model.DNSStateOf(synced))
	return synced, nil
}

// Resync retries the DNS write for rec on behalf of the system and returns
// the record as stored afterwards. rec is re-read first: ErrNotFound and
// ErrInvalidTransition report a record deleted or no longer approved since
// it was listed, and nothing is written for it.
func (r *Registry) Resync(ctx context.Context, rec *model.Subdomain) (*model.Subdomain, error) {
	cur, err := r.get(ctx, rec.ID)
	if err != nil {
		return nil, err
	}
	if cur.Status != model.StatusApproved {
		return nil, ErrInvalidTransition
	}
	if cur.DNSCreated {
		return cur, nil
	}
	synced := r.publish(ctx, cur, false)
	if synced.DNSCreated {
		r.appendLedger(ctx, synced, ledger.ActionDNSSync, ledger.SystemActor, model.DNSStateOf(synced))
	}
	return synced, nil
}

// MarkDrift flags rec as out of sync with the directory so the next
// reconcile pass rewrites it.
func (r *Registry) MarkDrift(ctx context.Context, rec *model.Subdomain, reason string) error {
	_, err := r.store.UpdateDNS(ctx, rec.ID, model.DNSUpdate{Target: rec.Target, DNSCreated: false, DNSError: &reason})
	switch {
	case errors.Is(err, repository.ErrNotFound), errors.Is(err, repository.ErrStaleTarget):
		return nil
	case err != nil:
		return upstream("mark drift", err)
	}
	rec.SetFQDN(r.Zone())
	r.logger.Warn("dns drift detected",
		zap.String("fqdn", rec.FQDN),
		zap.String("reason", reason),
	)
	r.appendLedger(ctx, rec, ledger.ActionDrift, ledger.SystemActor, map[string]string{"reason": reason})
	return nil
}

// Delete removes a record. The DNS record set is deleted on a best-effort
// basis; the store deletion happens regardless.
func (r *Registry) Delete(ctx context.Context, actor *model.Actor, id uuid.UUID) error {
	if actor == nil {
		return ErrUnauthenticated
	}
	rec, err := r.get(ctx, id)
	if err != nil {
		return err
	}
	if !r.policy.CanMutate(actor, rec) {
		return ErrForbidden
	}

	if rec.Status == model.StatusApproved || rec.DNSAttempted() {
		dctx, cancel := r.dnsContext(ctx)
		err := r.dir.DeleteRecordSet(dctx, rec.Label, rec.RecordType)
		cancel()
		r.observeWrite("delete", rec.RecordType, err)
		if err != nil {
			r.logger.Warn("dns delete failed (non-fatal)",
				zap.String("fqdn", rec.FQDN),
				zap.Error(err),
			)
		}
	}

	if err := r.store.Delete(ctx, id); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return ErrNotFound
		}
		return upstream("delete subdomain", err)
	}
	r.logger.Info("subdomain deleted", zap.String("fqdn", rec.FQDN), zap.String("actor", actor.ID))
	r.appendLedger(ctx, rec, ledger.ActionDelete, actor.ID, nil)
	return nil
}

// Get returns a record the actor may read.
func (r *Registry) Get(ctx context.Context, actor *model.Actor, id uuid.UUID) (*model.Subdomain, error) {
	if actor == nil {
		return nil, ErrUnauthenticated
	}
	rec, err := r.get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !r.policy.CanRead(actor, rec) {
		return nil, ErrForbidden
	}
	return rec, nil
}

// Page is one page of a List result.
type Page struct {
	Items []*model.Subdomain
	// NextCursor is set when more records may follow.
	NextCursor *uuid.UUID
}

// List returns records newest first. Non-admin callers only see their own.
func (r *Registry) List(ctx context.Context, actor *model.Actor, f model.ListFilter) (*Page, error) {
	if actor == nil {
		return nil, ErrUnauthenticated
	}
	if !actor.IsAdmin {
		f.OwnerID = actor.ID
	}
	f.Limit = f.NormalizedLimit()

	items, err := r.store.List(ctx, f)
	if err != nil {
		return nil, upstream("list subdomains", err)
	}
	page := &Page{Items: items}
	for _, it := range items {
		it.SetFQDN(r.Zone())
	}
	if len(items) == f.Limit {
		last := items[len(items)-1].ID
		page.NextCursor = &last
	}
	return page, nil
}

// CountByStatus returns the number of records per status.
func (r *Registry) CountByStatus(ctx context.Context) (map[model.Status]int, error) {
	counts, err := r.store.CountByStatus(ctx)
	if err != nil {
		return nil, upstream("count subdomains", err)
	}
	return counts, nil
}

func (r *Registry) get(ctx context.Context, id uuid.UUID) (*model.Subdomain, error) {
	rec, err := r.store.GetByID(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, upstream("get subdomain", err)
	}
	rec.SetFQDN(r.Zone())
	return rec, nil
}

// dnsContext detaches from request cancellation so a started write runs
// to its outcome, bounded by the DNS timeout.
func (r *Registry) dnsContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), r.dnsTimeout)
}

// maxPublishAttempts bounds how often publish follows a target that
// changed while its write was in flight.
const maxPublishAttempts = 3

// publish writes rec's current target to DNS and records the outcome.
// It never fails: the returned record reflects what is stored.
//
// The outcome is stored only if the record still has the target that was
// written. Otherwise a concurrent UpdateTarget won, and the directory may
// now hold the older value, so the stored target is written again.
func (r *Registry) publish(ctx context.Context, rec *model.Subdomain, notifyFailure bool) *model.Subdomain {
	sctx := context.WithoutCancel(ctx)
	for attempt := 1; ; attempt++ {
		upd := r.write(ctx, rec)
		saved, serr := r.store.UpdateDNS(sctx, rec.ID, upd)
		switch {
		case serr == nil:
			saved.SetFQDN(r.Zone())
			if upd.DNSError != nil && notifyFailure && r.notifier != nil {
				r.notifier.DNSFailed(ctx, saved.OwnerEmail, saved.FQDN, *upd.DNSError)
			}
			return saved
		case errors.Is(serr, repository.ErrStaleTarget):
			cur, err := r.get(sctx, rec.ID)
			if errors.Is(err, ErrNotFound) {
				r.removeOrphan(sctx, rec)
				return rec
			}
			if err != nil {
				r.logger.Error("re-reading superseded record failed",
					zap.String("fqdn", rec.FQDN),
					zap.Error(err),
				)
				return rec
			}
			if attempt >= maxPublishAttempts {
				return r.markUnsynced(sctx, cur, "target changed during dns write; reconciler will rewrite it")
			}
			r.logger.Info("target changed during dns write; republishing",
				zap.String("fqdn", cur.FQDN),
				zap.String("written", rec.Target),
				zap.String("target", cur.Target),
			)
			rec = cur
		case errors.Is(serr, repository.ErrNotFound):
			r.removeOrphan(sctx, rec)
			return rec
		default:
			r.logger.Error("recording dns outcome failed; reconciler will retry",
				zap.String("fqdn", rec.FQDN),
				zap.Error(serr),
			)
			return rec
		}
	}
}

// write upserts rec's target and returns the outcome to store.
func (r *Registry) write(ctx context.Context, rec *model.Subdomain) model.DNSUpdate {
	dctx, cancel := r.dnsContext(ctx)
	err := dns.Upsert(dctx, r.dir, rec.Label, rec.RecordType, rec.Target)
	cancel()
	r.observeWrite("upsert", rec.RecordType, err)

	upd := model.DNSUpdate{Target: rec.Target, DNSCreated: err == nil}
	if err != nil {
		msg := err.Error()
		upd.DNSError = &msg
		r.logger.Warn("dns upsert failed",
			zap.String("fqdn", rec.FQDN),
			zap.String("target", rec.Target),
			zap.Error(err),
		)
	}
	return upd
}

// markUnsynced clears dns_created on rec if its target is unchanged.
func (r *Registry) markUnsynced(ctx context.Context, rec *model.Subdomain, reason string) *model.Subdomain {
	saved, err := r.store.UpdateDNS(ctx, rec.ID, model.DNSUpdate{Target: rec.Target, DNSError: &reason})
	if err == nil {
		saved.SetFQDN(r.Zone())
		return saved
	}
	if cur, gerr := r.get(ctx, rec.ID); gerr == nil {
		return cur
	}
	return rec
}

// removeOrphan deletes a record set written for a record that was deleted
// while the write was in flight, unless the label has been claimed again.
func (r *Registry) removeOrphan(ctx context.Context, rec *model.Subdomain) {
	other, err := r.store.GetByLabel(ctx, rec.Label)
	switch {
	case err == nil && other.ID != rec.ID:
		return
	case err != nil && !errors.Is(err, repository.ErrNotFound):
		r.logger.Warn("orphan dns check failed; leaving record set",
			zap.String("fqdn", rec.FQDN),
			zap.Error(err),
		)
		return
	}

	dctx, cancel := r.dnsContext(ctx)
	err = r.dir.DeleteRecordSet(dctx, rec.Label, rec.RecordType)
	cancel()
	r.observeWrite("delete", rec.RecordType, err)
	if err != nil {
		r.logger.Warn("orphan dns delete failed (non-fatal)",
			zap.String("fqdn", rec.FQDN),
			zap.Error(err),
		)
		return
	}
	r.logger.Info("removed dns record of deleted subdomain", zap.String("fqdn", rec.FQDN))
}

func (r *Registry) observeWrite(op, recordType string, err error) {
	if r.observe != nil {
		r.observe(op, recordType, err)
	}
}

// appendLedger writes an audit entry; failures are logged only.
func (r *Registry) appendLedger(ctx context.Context, rec *model.Subdomain, action, actor string, payload any) {
	if r.ledger == nil {
		return
	}
	if _, err := r.ledger.Append(context.WithoutCancel(ctx), rec.FQDN, action, actor, payload); err != nil {
		r.logger.Error("ledger append failed (non-fatal)",
			zap.String("action", action),
			zap.String("fqdn", rec.FQDN),
			zap.Error(err),
		)
	}
}
