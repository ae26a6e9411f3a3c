// Package reconcile repairs approved subdomains whose DNS record is missing
// or out of date. Each pass retries failed writes and, when a prober is
// configured, compares synced records with the authoritative server.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/jmerrifield20/SubzoneRegistry/internal/registry/model"
	"github.com/jmerrifield20/SubzoneRegistry/internal/registry/service"
	"go.uber.org/zap"
)

// Config holds reconciler configuration.
type Config struct {
	Interval    time.Duration
	Concurrency int
	BatchSize   int
}

// Registry is the subset of *service.Registry the reconciler drives.
type Registry interface {
	List(ctx context.Context, actor *model.Actor, f model.ListFilter) (*service.Page, error)
	Resync(ctx context.Context, rec *model.Subdomain) (*model.Subdomain, error)
	MarkDrift(ctx context.Context, rec *model.Subdomain, reason string) error
}

// Prober answers what the authoritative server publishes for a name.
// *dns.Prober satisfies it.
type Prober interface {
	Lookup(ctx context.Context, fqdn, recordType string) ([]string, error)
}

// MetricsRecordFunc is an optional callback told the outcome of every
// record visited: "repaired", "failed", "skipped", "in_sync", "drift" or
// "probe_error".
type MetricsRecordFunc func(outcome string)

// Result summarises one pass.
type Result struct {
	Repaired int
	Failed   int
	Drifted  int
}

// Reconciler runs periodic DNS repair passes.
type Reconciler struct {
	reg       Registry
	prober    Prober // nil = no drift detection
	cfg       Config
	onMetrics MetricsRecordFunc
	logger    *zap.Logger
}

// New creates a new Reconciler.
func New(reg Registry, cfg Config, logger *zap.Logger) *Reconciler {
	if cfg.Interval <= 0 {
		cfg.Interval = 5 * time.Minute
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 5
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	return &Reconciler{reg: reg, cfg: cfg, logger: logger}
}

// SetProber enables drift detection against the authoritative server.
func (r *Reconciler) SetProber(p Prober) { r.prober = p }

// SetMetricsRecord configures the metrics recording callback.
func (r *Reconciler) SetMetricsRecord(fn MetricsRecordFunc) { r.onMetrics = fn }

// Run executes a pass every interval until ctx is cancelled.
func (r *Reconciler) Run(ctx context.Context) {
	ticker := time.NewTicker(r.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			pctx, cancel := context.WithTimeout(ctx, r.cfg.Interval)
			res, err := r.RunOnce(pctx)
			cancel()
			if err != nil {
				r.logger.Error("reconcile: pass aborted", zap.Error(err))
				continue
			}
			if res.Repaired+res.Failed+res.Drifted > 0 {
				r.logger.Info("reconcile: pass complete",
					zap.Int("repaired", res.Repaired),
					zap.Int("failed", res.Failed),
					zap.Int("drifted", res.Drifted),
				)
			}
		case <-ctx.Done():
			return
		}
	}
}

// RunOnce performs a single pass. Drift found by the probe is flagged and
// repaired on the next pass.
func (r *Reconciler) RunOnce(ctx context.Context) (Result, error) {
	var res Result
	var mu sync.Mutex

	unsynced := false
	err := r.each(ctx, &unsynced, func(rec *model.Subdomain) {
		after, err := r.reg.Resync(ctx, rec)
		mu.Lock()
		defer mu.Unlock()
		switch {
		case errors.Is(err, service.ErrNotFound), errors.Is(err, service.ErrInvalidTransition):
			// Deleted or no longer approved since the page was listed.
			r.record("skipped")
		case err != nil:
			r.logger.Warn("reconcile: resync failed", zap.String("fqdn", rec.FQDN), zap.Error(err))
			res.Failed++
			r.record("failed")
		case after.DNSCreated:
			res.Repaired++
			r.record("repaired")
		default:
			res.Failed++
			r.record("failed")
		}
	})
	if err != nil {
		return res, err
	}

	if r.prober == nil {
		return res, nil
	}
	synced := true
	err = r.each(ctx, &synced, func(rec *model.Subdomain) {
		drifted, err := r.check(ctx, rec)
		mu.Lock()
		defer mu.Unlock()
		switch {
		case err != nil:
			r.record("probe_error")
		case drifted:
			res.Drifted++
			r.record("drift")
		default:
			r.record("in_sync")
		}
	})
	return res, err
}

// each pages through approved records with the given dns_created value
// and runs fn on them with bounded concurrency.
func (r *Reconciler) each(ctx context.Context, dnsCreated *bool, fn func(*model.Subdomain)) error {
	sem := make(chan struct{}, r.cfg.Concurrency)
	var wg sync.WaitGroup
	defer wg.Wait()

	f := model.ListFilter{
		Status:     model.StatusApproved,
		DNSCreated: dnsCreated,
		Limit:      r.cfg.BatchSize,
	}
	for {
		page, err := r.reg.List(ctx, model.SystemActor, f)
		if err != nil {
			return fmt.Errorf("list approved subdomains: %w", err)
		}
		for _, rec := range page.Items {
			select {
			case sem <- struct{}{}:
			case <-ctx.Done():
				return ctx.Err()
			}
			wg.Add(1)
			go func(rec *model.Subdomain) {
				defer wg.Done()
				defer func() { <-sem }()
				fn(rec)
			}(rec)
		}
		if page.NextCursor == nil {
			return nil
		}
		f.Cursor = page.NextCursor
	}
}

// check compares rec with the authoritative answer and flags a mismatch.
func (r *Reconciler) check(ctx context.Context, rec *model.Subdomain) (bool, error) {
	got, err := r.prober.Lookup(ctx, rec.FQDN, rec.RecordType)
	if err != nil {
		r.logger.Warn("reconcile: probe failed", zap.String("fqdn", rec.FQDN), zap.Error(err))
		return false, err
	}
	want := strings.ToLower(strings.TrimSuffix(rec.Target, "."))
	if len(got) == 1 && got[0] == want {
		return false, nil
	}

	reason := "authoritative server has no " + rec.RecordType + " record"
	if len(got) > 0 {
		reason = fmt.Sprintf("authoritative server answers %s, want %s", strings.Join(got, ","), want)
	}
	if slices.Contains(got, want) {
		reason = fmt.Sprintf("authoritative server answers extra records %s", strings.Join(got, ","))
	}
	if err := r.reg.MarkDrift(ctx, rec, reason); err != nil {
		r.logger.Warn("reconcile: mark drift", zap.String("fqdn", rec.FQDN), zap.Error(err))
		return false, err
	}
	return true, nil
}

func (r *Reconciler) record(outcome string) {
	if r.onMetrics != nil {
		r.onMetrics(outcome)
	}
}
