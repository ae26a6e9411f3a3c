package handler_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jmerrifield20/SubzoneRegistry/internal/identity"
	"github.com/jmerrifield20/SubzoneRegistry/internal/ledger"
	"github.com/jmerrifield20/SubzoneRegistry/internal/ratelimit"
	"github.com/jmerrifield20/SubzoneRegistry/internal/registry/handler"
	"github.com/jmerrifield20/SubzoneRegistry/internal/registry/repository"
	"github.com/jmerrifield20/SubzoneRegistry/internal/registry/service"
	"go.uber.org/zap"
)

const (
	testSecret = "handler-test-secret-0123456789abcdef"
	testIssuer = "https://idp.test"
)

type fakeDirectory struct {
	mu   sync.Mutex
	fail bool
	sets map[string]string
}

func (d *fakeDirectory) Zone() string { return "example.com." }

func (d *fakeDirectory) write(label, value string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.fail {
		return errors.New("powerdns unreachable")
	}
	d.sets[label] = value
	return nil
}

func (d *fakeDirectory) UpsertA(_ context.Context, label, ip string) error {
	return d.write(label, ip)
}

func (d *fakeDirectory) UpsertCNAME(_ context.Context, label, target string) error {
	return d.write(label, target)
}

func (d *fakeDirectory) DeleteRecordSet(_ context.Context, label, _ string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.sets, label)
	return nil
}

type testEnv struct {
	router *gin.Engine
	dir    *fakeDirectory
	issuer *identity.Issuer
}

func setupRouter(t *testing.T, moderated bool) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	verifier, err := identity.NewVerifier(testSecret, testIssuer, []string{"ops@example.com"})
	if err != nil {
		t.Fatalf("NewVerifier: %v", err)
	}
	dir := &fakeDirectory{sets: make(map[string]string)}
	reg := service.NewRegistry(repository.NewMemoryRepository(), dir, service.Config{
		ModerationMode: moderated,
		Policy:         service.DefaultPolicy,
	}, zap.NewNop())
	led := ledger.NewMemory()
	reg.SetLedger(led)

	r := gin.New()
	v1 := r.Group("/api/v1", identity.Authenticate(verifier))
	handler.NewSubdomainHandler(reg, zap.NewNop()).Register(v1)
	handler.NewLedgerHandler(led, zap.NewNop()).Register(v1)

	return &testEnv{router: r, dir: dir, issuer: identity.NewIssuer(testSecret, testIssuer, time.Hour)}
}

func (e *testEnv) token(t *testing.T, user, email string, admin bool) string {
	t.Helper()
	tok, err := e.issuer.Issue(user, email, admin)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	return tok
}

func (e *testEnv) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

type mutationResp struct {
	Subdomain struct {
		ID         string `json:"id"`
		Label      string `json:"label"`
		FQDN       string `json:"fqdn"`
		Status     string `json:"status"`
		Target     string `json:"target"`
		DNSCreated bool   `json:"dns_created"`
	} `json:"subdomain"`
	DNS struct {
		Synced         bool    `json:"synced"`
		Error          *string `json:"error"`
		RetryAvailable bool    `json:"retry_available"`
	} `json:"dns"`
}

type errorResp struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(w.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode %q: %v", w.Body.String(), err)
	}
	return v
}

func claim(t *testing.T, env *testEnv, token, label string) mutationResp {
	t.Helper()
	w := env.do(t, http.MethodPost, "/api/v1/subdomains", token, map[string]string{
		"label": label, "record_type": "A", "target": "192.0.2.10",
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("claim %s: expected 201, got %d: %s", label, w.Code, w.Body.String())
	}
	return decode[mutationResp](t, w)
}

func TestAvailability_public(t *testing.T) {
	env := setupRouter(t, false)

	w := env.do(t, http.MethodGet, "/api/v1/availability/myblog", "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var avail struct {
		Available bool   `json:"available"`
		Reason    string `json:"reason"`
	}
	json.Unmarshal(w.Body.Bytes(), &avail)
	if !avail.Available {
		t.Errorf("expected available, got %+v", avail)
	}

	w = env.do(t, http.MethodGet, "/api/v1/availability/admin", "", nil)
	json.Unmarshal(w.Body.Bytes(), &avail)
	if avail.Available || avail.Reason == "" {
		t.Errorf("reserved label should be unavailable with a reason, got %+v", avail)
	}
}

func TestCreate_201_withDNSState(t *testing.T) {
	env := setupRouter(t, false)
	resp := claim(t, env, env.token(t, "u1", "u1@example.com", false), "myblog")

	if resp.Subdomain.FQDN != "myblog.example.com" {
		t.Errorf("fqdn = %q", resp.Subdomain.FQDN)
	}
	if resp.Subdomain.Status != "approved" || !resp.DNS.Synced || resp.DNS.RetryAvailable {
		t.Errorf("unexpected state: %+v", resp)
	}
	if env.dir.sets["myblog"] != "192.0.2.10" {
		t.Errorf("directory not written: %v", env.dir.sets)
	}
}

func TestCreate_dnsFailureStill201(t *testing.T) {
	env := setupRouter(t, false)
	env.dir.fail = true

	resp := claim(t, env, env.token(t, "u1", "", false), "myblog")
	if resp.DNS.Synced || resp.DNS.Error == nil || !resp.DNS.RetryAvailable {
		t.Errorf("expected flagged DNS failure, got %+v", resp.DNS)
	}
}

func TestCreate_errors(t *testing.T) {
	env := setupRouter(t, false)
	tok := env.token(t, "u1", "", false)
	claim(t, env, tok, "taken")

	cases := []struct {
		name   string
		token  string
		body   map[string]string
		status int
		code   string
	}{
		{"anonymous", "", map[string]string{"label": "abc", "record_type": "A", "target": "192.0.2.1"}, http.StatusUnauthorized, "unauthenticated"},
		{"bad label", tok, map[string]string{"label": "a", "record_type": "A", "target": "192.0.2.1"}, http.StatusBadRequest, "invalid_label"},
		{"bad target", tok, map[string]string{"label": "abc", "record_type": "A", "target": "::1"}, http.StatusBadRequest, "invalid_target"},
		{"bad type", tok, map[string]string{"label": "abc", "record_type": "MX", "target": "mail.example.org"}, http.StatusBadRequest, "invalid_target"},
		{"taken", tok, map[string]string{"label": "TAKEN", "record_type": "A", "target": "192.0.2.1"}, http.StatusConflict, "label_taken"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			w := env.do(t, http.MethodPost, "/api/v1/subdomains", tc.token, tc.body)
			if w.Code != tc.status {
				t.Fatalf("expected %d, got %d: %s", tc.status, w.Code, w.Body.String())
			}
			if got := decode[errorResp](t, w); got.Code != tc.code {
				t.Errorf("code = %q, want %q", got.Code, tc.code)
			}
		})
	}
}

func TestInvalidToken_401(t *testing.T) {
	env := setupRouter(t, false)
	w := env.do(t, http.MethodGet, "/api/v1/subdomains", "not-a-jwt", nil)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", w.Code)
	}
}

func TestGet_ownerAndForbidden(t *testing.T) {
	env := setupRouter(t, false)
	owner := env.token(t, "u1", "", false)
	resp := claim(t, env, owner, "myblog")
	path := "/api/v1/subdomains/" + resp.Subdomain.ID

	if w := env.do(t, http.MethodGet, path, owner, nil); w.Code != http.StatusOK {
		t.Errorf("owner get: expected 200, got %d", w.Code)
	}
	if w := env.do(t, http.MethodGet, path, env.token(t, "u2", "", false), nil); w.Code != http.StatusForbidden {
		t.Errorf("stranger get: expected 403, got %d", w.Code)
	}
	if w := env.do(t, http.MethodGet, path, env.token(t, "ops", "ops@example.com", false), nil); w.Code != http.StatusOK {
		t.Errorf("configured admin email get: expected 200, got %d", w.Code)
	}
	if w := env.do(t, http.MethodGet, "/api/v1/subdomains/not-a-uuid", owner, nil); w.Code != http.StatusNotFound {
		t.Errorf("bad id: expected 404, got %d", w.Code)
	}
}

func TestList_scopedAndPaged(t *testing.T) {
	env := setupRouter(t, false)
	u1 := env.token(t, "u1", "", false)
	u2 := env.token(t, "u2", "", false)
	for _, l := range []string{"alpha", "bravo", "charlie"} {
		claim(t, env, u1, l)
	}
	claim(t, env, u2, "delta")

	type listResp struct {
		Subdomains []struct {
			Label string `json:"label"`
		} `json:"subdomains"`
		Count      int    `json:"count"`
		NextCursor string `json:"next_cursor"`
	}

	w := env.do(t, http.MethodGet, "/api/v1/subdomains?limit=2", u1, nil)
	page := decode[listResp](t, w)
	if page.Count != 2 || page.NextCursor == "" {
		t.Fatalf("first page: %+v", page)
	}
	w = env.do(t, http.MethodGet, "/api/v1/subdomains?limit=2&cursor="+page.NextCursor, u1, nil)
	page2 := decode[listResp](t, w)
	if page2.Count != 1 || page2.NextCursor != "" {
		t.Fatalf("second page: %+v", page2)
	}
	for _, s := range append(page.Subdomains, page2.Subdomains...) {
		if s.Label == "delta" {
			t.Error("non-admin saw another owner's record")
		}
	}

	admin := env.token(t, "root", "", true)
	all := decode[listResp](t, env.do(t, http.MethodGet, "/api/v1/subdomains", admin, nil))
	if all.Count != 4 {
		t.Errorf("admin list count = %d, want 4", all.Count)
	}

	if w := env.do(t, http.MethodGet, "/api/v1/subdomains?status=bogus", admin, nil); w.Code != http.StatusBadRequest {
		t.Errorf("bad status filter: expected 400, got %d", w.Code)
	}
}

func TestUpdateTarget_200(t *testing.T) {
	env := setupRouter(t, false)
	tok := env.token(t, "u1", "", false)
	resp := claim(t, env, tok, "myblog")

	w := env.do(t, http.MethodPatch, "/api/v1/subdomains/"+resp.Subdomain.ID, tok, map[string]string{"target": "198.51.100.7"})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	got := decode[mutationResp](t, w)
	if got.Subdomain.Target != "198.51.100.7" || !got.DNS.Synced {
		t.Errorf("unexpected: %+v", got)
	}
	if env.dir.sets["myblog"] != "198.51.100.7" {
		t.Errorf("directory not updated: %v", env.dir.sets)
	}

	w = env.do(t, http.MethodPatch, "/api/v1/subdomains/"+resp.Subdomain.ID, tok, map[string]string{"target": "sites.example.org"})
	if w.Code != http.StatusBadRequest {
		t.Errorf("cname target on A record: expected 400, got %d", w.Code)
	}
}

func TestModeration_flow(t *testing.T) {
	env := setupRouter(t, true)
	owner := env.token(t, "u1", "", false)
	admin := env.token(t, "root", "", true)

	resp := claim(t, env, owner, "myblog")
	if resp.Subdomain.Status != "pending" || len(env.dir.sets) != 0 {
		t.Fatalf("moderated claim should be pending without DNS: %+v", resp)
	}
	path := "/api/v1/subdomains/" + resp.Subdomain.ID + "/status"

	if w := env.do(t, http.MethodPost, path, owner, map[string]string{"status": "approved"}); w.Code != http.StatusForbidden {
		t.Errorf("owner approve: expected 403, got %d", w.Code)
	}
	w := env.do(t, http.MethodPost, path, admin, map[string]string{"status": "approved"})
	if w.Code != http.StatusOK {
		t.Fatalf("admin approve: expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if got := decode[mutationResp](t, w); got.Subdomain.Status != "approved" || !got.DNS.Synced {
		t.Errorf("approval did not publish: %+v", got)
	}

	w = env.do(t, http.MethodPost, path, admin, map[string]string{"status": "rejected"})
	if w.Code != http.StatusConflict || decode[errorResp](t, w).Code != "invalid_transition" {
		t.Errorf("second decision: expected 409 invalid_transition, got %d: %s", w.Code, w.Body.String())
	}
}

func TestSyncDNS_retriesFailedWrite(t *testing.T) {
	env := setupRouter(t, false)
	tok := env.token(t, "u1", "", false)
	env.dir.fail = true
	resp := claim(t, env, tok, "myblog")
	env.dir.fail = false

	w := env.do(t, http.MethodPost, "/api/v1/subdomains/"+resp.Subdomain.ID+"/dns/sync", tok, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if got := decode[mutationResp](t, w); !got.DNS.Synced || got.DNS.Error != nil {
		t.Errorf("sync did not repair: %+v", got.DNS)
	}
}

func TestDelete_204thenGone(t *testing.T) {
	env := setupRouter(t, false)
	tok := env.token(t, "u1", "", false)
	resp := claim(t, env, tok, "myblog")
	path := "/api/v1/subdomains/" + resp.Subdomain.ID

	if w := env.do(t, http.MethodDelete, path, env.token(t, "u2", "", false), nil); w.Code != http.StatusForbidden {
		t.Errorf("stranger delete: expected 403, got %d", w.Code)
	}
	if w := env.do(t, http.MethodDelete, path, tok, nil); w.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d: %s", w.Code, w.Body.String())
	}
	if _, ok := env.dir.sets["myblog"]; ok {
		t.Error("record set still present after delete")
	}
	if w := env.do(t, http.MethodGet, path, tok, nil); w.Code != http.StatusNotFound {
		t.Errorf("get after delete: expected 404, got %d", w.Code)
	}
	w := env.do(t, http.MethodGet, "/api/v1/availability/myblog", "", nil)
	if !bytes.Contains(w.Body.Bytes(), []byte(`"available":true`)) {
		t.Errorf("label not freed: %s", w.Body.String())
	}
}

func TestRateLimiter_429(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(handler.RateLimiter(ratelimit.New(0.001, 2, time.Minute)))
	r.GET("/ping", func(c *gin.Context) { c.Status(http.StatusOK) })

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodGet, "/ping", nil)
		req.RemoteAddr = "203.0.113.9:4000"
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		codes = append(codes, w.Code)
	}
	if codes[0] != http.StatusOK || codes[1] != http.StatusOK || codes[2] != http.StatusTooManyRequests {
		t.Errorf("codes = %v, want [200 200 429]", codes)
	}

	req := httptest.NewRequest(http.MethodGet, "/ping", nil)
	req.RemoteAddr = "203.0.113.10:4000"
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Errorf("other client limited: %d", w.Code)
	}
}
