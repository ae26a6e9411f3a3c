package dns_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/jmerrifield20/SubzoneRegistry/internal/dns"
	"go.uber.org/zap"
)

type captured struct {
	Method string
	Path   string
	APIKey string
	Body   map[string]any
	Raw    string
}

type fakePDNS struct {
	mu       sync.Mutex
	requests []captured
	status   int
	body     string
}

func (f *fakePDNS) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	raw, _ := io.ReadAll(r.Body)
	var body map[string]any
	_ = json.Unmarshal(raw, &body)

	f.mu.Lock()
	f.requests = append(f.requests, captured{
		Method: r.Method,
		Path:   r.URL.Path,
		APIKey: r.Header.Get("X-API-Key"),
		Body:   body,
		Raw:    string(raw),
	})
	status, respBody := f.status, f.body
	f.mu.Unlock()

	if status == 0 {
		status = http.StatusNoContent
	}
	w.WriteHeader(status)
	_, _ = io.WriteString(w, respBody)
}

func (f *fakePDNS) last(t *testing.T) captured {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.requests) == 0 {
		t.Fatal("no request received")
	}
	return f.requests[len(f.requests)-1]
}

func newPowerDNS(t *testing.T, fake *fakePDNS) *dns.PowerDNS {
	t.Helper()
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)

	p, err := dns.NewPowerDNS(dns.PowerDNSConfig{
		APIURL: srv.URL + "/",
		APIKey: "secret-key",
		Zone:   "example.com.",
	}, zap.NewNop())
	if err != nil {
		t.Fatalf("NewPowerDNS: %v", err)
	}
	return p
}

func onlyRRSet(t *testing.T, c captured) map[string]any {
	t.Helper()
	sets, ok := c.Body["rrsets"].([]any)
	if !ok || len(sets) != 1 {
		t.Fatalf("expected exactly one rrset, got body %s", c.Raw)
	}
	return sets[0].(map[string]any)
}

func TestPowerDNS_UpsertA_wireFormat(t *testing.T) {
	fake := &fakePDNS{}
	p := newPowerDNS(t, fake)

	if err := p.UpsertA(context.Background(), "alice", "10.0.0.5"); err != nil {
		t.Fatalf("UpsertA: %v", err)
	}

	req := fake.last(t)
	if req.Method != http.MethodPatch {
		t.Errorf("method = %s; want PATCH", req.Method)
	}
	if req.Path != "/api/v1/servers/localhost/zones/example.com." {
		t.Errorf("path = %s", req.Path)
	}
	if req.APIKey != "secret-key" {
		t.Errorf("X-API-Key = %q", req.APIKey)
	}

	set := onlyRRSet(t, req)
	if set["name"] != "alice.example.com." {
		t.Errorf("name = %v", set["name"])
	}
	if set["type"] != "A" {
		t.Errorf("type = %v", set["type"])
	}
	if set["ttl"] != float64(3600) {
		t.Errorf("ttl = %v; want 3600", set["ttl"])
	}
	if set["changetype"] != "REPLACE" {
		t.Errorf("changetype = %v", set["changetype"])
	}
	records := set["records"].([]any)
	if len(records) != 1 {
		t.Fatalf("expected 1 record, got %d", len(records))
	}
	rec := records[0].(map[string]any)
	if rec["content"] != "10.0.0.5" || rec["disabled"] != false {
		t.Errorf("record = %v", rec)
	}
}

func TestPowerDNS_UpsertCNAME_absoluteTarget(t *testing.T) {
	fake := &fakePDNS{}
	p := newPowerDNS(t, fake)

	if err := p.UpsertCNAME(context.Background(), "bob", "app.example.org"); err != nil {
		t.Fatalf("UpsertCNAME: %v", err)
	}
	set := onlyRRSet(t, fake.last(t))
	rec := set["records"].([]any)[0].(map[string]any)
	if rec["content"] != "app.example.org." {
		t.Errorf("content = %v; want trailing dot", rec["content"])
	}
	if set["type"] != "CNAME" {
		t.Errorf("type = %v", set["type"])
	}

	// Already absolute targets are not doubled.
	if err := p.UpsertCNAME(context.Background(), "bob", "app.example.org."); err != nil {
		t.Fatalf("UpsertCNAME: %v", err)
	}
	rec = onlyRRSet(t, fake.last(t))["records"].([]any)[0].(map[string]any)
	if rec["content"] != "app.example.org." {
		t.Errorf("content = %v", rec["content"])
	}
}

func TestPowerDNS_DeleteRecordSet_omitsRecordsAndTTL(t *testing.T) {
	fake := &fakePDNS{}
	p := newPowerDNS(t, fake)

	if err := p.DeleteRecordSet(context.Background(), "alice", "A"); err != nil {
		t.Fatalf("DeleteRecordSet: %v", err)
	}
	req := fake.last(t)
	if req.Method != http.MethodPatch {
		t.Errorf("method = %s", req.Method)
	}
	set := onlyRRSet(t, req)
	if set["changetype"] != "DELETE" {
		t.Errorf("changetype = %v", set["changetype"])
	}
	if _, ok := set["records"]; ok {
		t.Error("delete must not carry records")
	}
	if _, ok := set["ttl"]; ok {
		t.Error("delete must not carry ttl")
	}
}

func TestPowerDNS_UpsertIsIdempotent(t *testing.T) {
	fake := &fakePDNS{}
	p := newPowerDNS(t, fake)

	for i := 0; i < 2; i++ {
		if err := p.UpsertA(context.Background(), "alice", "10.0.0.5"); err != nil {
			t.Fatalf("UpsertA #%d: %v", i, err)
		}
	}
	fake.mu.Lock()
	defer fake.mu.Unlock()
	if len(fake.requests) != 2 || fake.requests[0].Raw != fake.requests[1].Raw {
		t.Error("repeated upserts must send identical replace requests")
	}
}

func TestPowerDNS_anySuccessStatus(t *testing.T) {
	for _, status := range []int{http.StatusOK, http.StatusNoContent} {
		fake := &fakePDNS{status: status}
		p := newPowerDNS(t, fake)
		if err := p.UpsertA(context.Background(), "alice", "10.0.0.5"); err != nil {
			t.Errorf("status %d: unexpected error %v", status, err)
		}
	}
}

func TestPowerDNS_non2xx_isWriteError(t *testing.T) {
	fake := &fakePDNS{status: http.StatusUnprocessableEntity, body: `{"error":"RRset alice.example.com. IN A: conflicts with pre-existing RRset"}`}
	p := newPowerDNS(t, fake)

	err := p.UpsertA(context.Background(), "alice", "10.0.0.5")
	if !errors.Is(err, dns.ErrWriteFailed) {
		t.Fatalf("expected ErrWriteFailed, got %v", err)
	}
	var we *dns.WriteError
	if !errors.As(err, &we) {
		t.Fatalf("expected *dns.WriteError, got %T", err)
	}
	if we.StatusCode != http.StatusUnprocessableEntity {
		t.Errorf("StatusCode = %d", we.StatusCode)
	}
	if !strings.Contains(we.Body, "conflicts") {
		t.Errorf("Body = %q", we.Body)
	}
	if we.Name != "alice.example.com." || we.Op != "upsert" {
		t.Errorf("WriteError = %+v", we)
	}
}

func TestPowerDNS_authFailure(t *testing.T) {
	fake := &fakePDNS{status: http.StatusUnauthorized, body: "Unauthorized"}
	p := newPowerDNS(t, fake)

	err := p.DeleteRecordSet(context.Background(), "alice", "A")
	if !errors.Is(err, dns.ErrWriteFailed) {
		t.Fatalf("expected ErrWriteFailed, got %v", err)
	}
}

func TestPowerDNS_bodyTruncated(t *testing.T) {
	fake := &fakePDNS{status: http.StatusInternalServerError, body: strings.Repeat("x", 10000)}
	p := newPowerDNS(t, fake)

	err := p.UpsertA(context.Background(), "alice", "10.0.0.5")
	var we *dns.WriteError
	if !errors.As(err, &we) {
		t.Fatalf("expected *dns.WriteError, got %v", err)
	}
	if len(we.Body) > 4096 {
		t.Errorf("body length %d exceeds cap", len(we.Body))
	}
}

func TestPowerDNS_transportFailure(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	p, err := dns.NewPowerDNS(dns.PowerDNSConfig{APIURL: url, APIKey: "k", Zone: "example.com"}, zap.NewNop())
	if err != nil {
		t.Fatalf("NewPowerDNS: %v", err)
	}
	err = p.UpsertA(context.Background(), "alice", "10.0.0.5")
	if !errors.Is(err, dns.ErrWriteFailed) {
		t.Fatalf("expected ErrWriteFailed, got %v", err)
	}
	var we *dns.WriteError
	if errors.As(err, &we) && we.StatusCode != 0 {
		t.Errorf("transport failure should carry no status, got %d", we.StatusCode)
	}
}

func TestPowerDNS_configValidation(t *testing.T) {
	if _, err := dns.NewPowerDNS(dns.PowerDNSConfig{Zone: "example.com."}, nil); err == nil {
		t.Error("expected error for missing api url")
	}
	if _, err := dns.NewPowerDNS(dns.PowerDNSConfig{APIURL: "http://localhost:8081"}, nil); err == nil {
		t.Error("expected error for missing zone")
	}
	p, err := dns.NewPowerDNS(dns.PowerDNSConfig{APIURL: "http://localhost:8081", Zone: "Example.COM"}, nil)
	if err != nil {
		t.Fatalf("NewPowerDNS: %v", err)
	}
	if p.Zone() != "example.com." {
		t.Errorf("Zone() = %q", p.Zone())
	}
}

func TestFQDNHelpers(t *testing.T) {
	if got := dns.RecordName("alice", "example.com"); got != "alice.example.com." {
		t.Errorf("RecordName = %q", got)
	}
	if got := dns.FQDN("alice", "example.com."); got != "alice.example.com" {
		t.Errorf("FQDN = %q", got)
	}
}
