package dns

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/jmerrifield20/SubzoneRegistry/internal/registry/model"
	"go.uber.org/zap"
)

// DefaultTTL is the record TTL used when none is configured.
const DefaultTTL = 3600

const defaultTimeout = 10 * time.Second

// PowerDNSConfig configures a PowerDNS client.
type PowerDNSConfig struct {
	APIURL  string        // base URL of the HTTP API, e.g. http://pdns:8081
	APIKey  string        // sent as X-API-Key
	Zone    string        // parent zone, e.g. "example.com."
	TTL     int           // TTL for written records (default 3600)
	Timeout time.Duration // per-request bound (default 10s)
}

// PowerDNS is a Directory backed by the PowerDNS authoritative server
// HTTP API.
type PowerDNS struct {
	endpoint string
	apiKey   string
	zone     string
	ttl      int
	client   *http.Client
	logger   *zap.Logger
}

// NewPowerDNS creates a PowerDNS client. APIURL and Zone are required.
func NewPowerDNS(cfg PowerDNSConfig, logger *zap.Logger) (*PowerDNS, error) {
	if strings.TrimSpace(cfg.APIURL) == "" {
		return nil, errors.New("powerdns: api url is required")
	}
	if strings.TrimSpace(cfg.Zone) == "" {
		return nil, errors.New("powerdns: zone is required")
	}
	if _, err := url.Parse(cfg.APIURL); err != nil {
		return nil, fmt.Errorf("powerdns: parse api url: %w", err)
	}
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultTTL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	zone := CanonicalZone(cfg.Zone)
	endpoint := strings.TrimRight(cfg.APIURL, "/") +
		"/api/v1/servers/localhost/zones/" + url.PathEscape(zone)

	return &PowerDNS{
		endpoint: endpoint,
		apiKey:   cfg.APIKey,
		zone:     zone,
		ttl:      cfg.TTL,
		client:   &http.Client{Timeout: cfg.Timeout},
		logger:   logger,
	}, nil
}

// Zone returns the parent zone with a trailing dot.
func (p *PowerDNS) Zone() string { return p.zone }

// patchBody is the zone PATCH payload.
type patchBody struct {
	RRSets []rrSet `json:"rrsets"`
}

type rrSet struct {
	Name       string     `json:"name"`
	Type       string     `json:"type"`
	TTL        int        `json:"ttl,omitempty"`
	ChangeType string     `json:"changetype"`
	Records    []rrRecord `json:"records,omitempty"`
}

type rrRecord struct {
	Content  string `json:"content"`
	Disabled bool   `json:"disabled"`
}

// UpsertA replaces the A record set for label.
func (p *PowerDNS) UpsertA(ctx context.Context, label, ipv4 string) error {
	return p.replace(ctx, label, model.RecordTypeA, ipv4)
}

// UpsertCNAME replaces the CNAME record set for label. The target is
// written as an absolute name.
func (p *PowerDNS) UpsertCNAME(ctx context.Context, label, target string) error {
	if !strings.HasSuffix(target, ".") {
		target += "."
	}
	return p.replace(ctx, label, model.RecordTypeCNAME, target)
}

// DeleteRecordSet removes the record set of recordType for label.
func (p *PowerDNS) DeleteRecordSet(ctx context.Context, label, recordType string) error {
	set := rrSet{
		Name:       RecordName(label, p.zone),
		Type:       recordType,
		ChangeType: "DELETE",
	}
	return p.patch(ctx, "delete", set)
}

func (p *PowerDNS) replace(ctx context.Context, label, recordType, content string) error {
	set := rrSet{
		Name:       RecordName(label, p.zone),
		Type:       recordType,
		TTL:        p.ttl,
		ChangeType: "REPLACE",
		Records:    []rrRecord{{Content: content, Disabled: false}},
	}
	return p.patch(ctx, "upsert", set)
}

func (p *PowerDNS) patch(ctx context.Context, op string, set rrSet) error {
	fail := func(status int, body string, err error) error {
		return &WriteError{Op: op, Name: set.Name, StatusCode: status, Body: body, Err: err}
	}

	data, err := json.Marshal(patchBody{RRSets: []rrSet{set}})
	if err != nil {
		return fail(0, "", fmt.Errorf("marshal rrset: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPatch, p.endpoint, bytes.NewReader(data))
	if err != nil {
		return fail(0, "", fmt.Errorf("build request: %w", err))
	}
	req.Header.Set("X-API-Key", p.apiKey)
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := p.client.Do(req)
	if err != nil {
		return fail(0, "", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return fail(resp.StatusCode, truncateBody(bytes.TrimSpace(body)), nil)
	}
	_, _ = io.Copy(io.Discard, resp.Body)

	p.logger.Debug("powerdns rrset patched",
		zap.String("op", op),
		zap.String("name", set.Name),
		zap.String("type", set.Type),
		zap.Int("status", resp.StatusCode),
		zap.Duration("elapsed", time.Since(start)),
	)
	return nil
}
