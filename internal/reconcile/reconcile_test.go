package reconcile_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/jmerrifield20/SubzoneRegistry/internal/reconcile"
	"github.com/jmerrifield20/SubzoneRegistry/internal/registry/model"
	"github.com/jmerrifield20/SubzoneRegistry/internal/registry/repository"
	"github.com/jmerrifield20/SubzoneRegistry/internal/registry/service"
	"go.uber.org/zap"
)

type flakyDirectory struct {
	mu      sync.Mutex
	down    bool
	records map[string]string
}

func (d *flakyDirectory) Zone() string { return "example.com." }

func (d *flakyDirectory) set(label, value string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.down {
		return errors.New("connection refused")
	}
	d.records[label] = value
	return nil
}

func (d *flakyDirectory) setDown(down bool) {
	d.mu.Lock()
	d.down = down
	d.mu.Unlock()
}

func (d *flakyDirectory) UpsertA(_ context.Context, label, ip string) error {
	return d.set(label, ip)
}

func (d *flakyDirectory) UpsertCNAME(_ context.Context, label, target string) error {
	return d.set(label, target)
}

func (d *flakyDirectory) DeleteRecordSet(_ context.Context, label, _ string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.records, label)
	return nil
}

// directoryProber answers lookups from the directory's own state, or
// from overrides when set.
type directoryProber struct {
	dir       *flakyDirectory
	overrides map[string][]string
}

func (p *directoryProber) Lookup(_ context.Context, fqdn, _ string) ([]string, error) {
	if v, ok := p.overrides[fqdn]; ok {
		return v, nil
	}
	p.dir.mu.Lock()
	defer p.dir.mu.Unlock()
	for label, v := range p.dir.records {
		if label+".example.com" == fqdn {
			return []string{v}, nil
		}
	}
	return nil, nil
}

func setup(t *testing.T) (*service.Registry, *flakyDirectory, *repository.MemoryRepository) {
	t.Helper()
	repo := repository.NewMemoryRepository()
	dir := &flakyDirectory{records: make(map[string]string)}
	reg := service.NewRegistry(repo, dir, service.Config{Policy: service.DefaultPolicy}, zap.NewNop())
	return reg, dir, repo
}

func claim(t *testing.T, reg *service.Registry, label string) *model.Subdomain {
	t.Helper()
	rec, err := reg.Create(context.Background(), &model.Actor{ID: "owner"}, model.CreateRequest{
		Label: label, RecordType: model.RecordTypeA, Target: "192.0.2.1",
	})
	if err != nil {
		t.Fatalf("create %s: %v", label, err)
	}
	return rec
}

func TestRunOnce_repairsUnsyncedRecords(t *testing.T) {
	reg, dir, repo := setup(t)
	dir.setDown(true)
	for i := 0; i < 7; i++ {
		if rec := claim(t, reg, fmt.Sprintf("site%d", i)); rec.DNSCreated {
			t.Fatal("expected DNS failure while directory is down")
		}
	}
	dir.setDown(false)

	var mu sync.Mutex
	outcomes := map[string]int{}
	rc := reconcile.New(reg, reconcile.Config{Concurrency: 3, BatchSize: 2}, zap.NewNop())
	rc.SetMetricsRecord(func(o string) {
		mu.Lock()
		outcomes[o]++
		mu.Unlock()
	})

	res, err := rc.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if res.Repaired != 7 || res.Failed != 0 {
		t.Errorf("result = %+v, want 7 repaired", res)
	}
	if outcomes["repaired"] != 7 {
		t.Errorf("metrics = %v", outcomes)
	}

	unsynced := false
	left, _ := repo.List(context.Background(), model.ListFilter{DNSCreated: &unsynced})
	if len(left) != 0 {
		t.Errorf("%d records still unsynced", len(left))
	}
}

func TestRunOnce_directoryStillDown(t *testing.T) {
	reg, dir, _ := setup(t)
	dir.setDown(true)
	claim(t, reg, "myblog")

	res, err := reconcile.New(reg, reconcile.Config{}, zap.NewNop()).RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if res.Failed != 1 || res.Repaired != 0 {
		t.Errorf("result = %+v, want 1 failed", res)
	}
}

func TestRunOnce_skipsPendingRecords(t *testing.T) {
	repo := repository.NewMemoryRepository()
	dir := &flakyDirectory{records: make(map[string]string)}
	reg := service.NewRegistry(repo, dir, service.Config{ModerationMode: true, Policy: service.DefaultPolicy}, zap.NewNop())
	claim(t, reg, "waiting")

	res, err := reconcile.New(reg, reconcile.Config{}, zap.NewNop()).RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if res != (reconcile.Result{}) || len(dir.records) != 0 {
		t.Errorf("pending record was touched: %+v %v", res, dir.records)
	}
}

// deletingRegistry deletes a record right after it has been listed.
type deletingRegistry struct {
	*service.Registry
	victim *model.Subdomain
	once   sync.Once
}

func (d *deletingRegistry) List(ctx context.Context, actor *model.Actor, f model.ListFilter) (*service.Page, error) {
	page, err := d.Registry.List(ctx, actor, f)
	d.once.Do(func() {
		if derr := d.Registry.Delete(ctx, model.SystemActor, d.victim.ID); derr != nil {
			err = derr
		}
	})
	return page, err
}

func TestRunOnce_skipsRecordDeletedAfterListing(t *testing.T) {
	reg, dir, _ := setup(t)
	dir.setDown(true)
	gone := claim(t, reg, "gone")
	kept := claim(t, reg, "kept")
	dir.setDown(false)

	var mu sync.Mutex
	outcomes := map[string]int{}
	rc := reconcile.New(&deletingRegistry{Registry: reg, victim: gone}, reconcile.Config{}, zap.NewNop())
	rc.SetMetricsRecord(func(o string) {
		mu.Lock()
		outcomes[o]++
		mu.Unlock()
	})

	res, err := rc.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if res.Repaired != 1 || res.Failed != 0 || outcomes["skipped"] != 1 {
		t.Errorf("result = %+v, metrics = %v", res, outcomes)
	}
	dir.mu.Lock()
	defer dir.mu.Unlock()
	if v, ok := dir.records[gone.Label]; ok {
		t.Errorf("deleted record republished: %s -> %s", gone.Label, v)
	}
	if _, ok := dir.records[kept.Label]; !ok {
		t.Error("surviving record was not repaired")
	}
}

func TestRunOnce_driftFlaggedThenRepaired(t *testing.T) {
	reg, dir, repo := setup(t)
	ok := claim(t, reg, "steady")
	moved := claim(t, reg, "moved")

	prober := &directoryProber{dir: dir, overrides: map[string][]string{
		"moved.example.com": {"203.0.113.50"},
	}}
	rc := reconcile.New(reg, reconcile.Config{}, zap.NewNop())
	rc.SetProber(prober)

	res, err := rc.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if res.Drifted != 1 {
		t.Fatalf("result = %+v, want 1 drifted", res)
	}
	got, _ := repo.GetByID(context.Background(), moved.ID)
	if got.DNSCreated || got.DNSError == nil {
		t.Errorf("drift not recorded: %+v", got)
	}
	if steady, _ := repo.GetByID(context.Background(), ok.ID); !steady.DNSCreated {
		t.Error("in-sync record was flagged")
	}

	delete(prober.overrides, "moved.example.com")
	res, err = rc.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("second RunOnce: %v", err)
	}
	if res.Repaired != 1 || res.Drifted != 0 {
		t.Errorf("second pass = %+v, want 1 repaired", res)
	}
}

func TestRun_stopsOnCancel(t *testing.T) {
	reg, _, _ := setup(t)
	rc := reconcile.New(reg, reconcile.Config{Interval: 10 * time.Millisecond}, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		rc.Run(ctx)
		close(done)
	}()
	time.Sleep(30 * time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
