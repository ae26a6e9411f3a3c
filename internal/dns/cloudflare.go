package dns

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/cloudflare/cloudflare-go"
	"github.com/jmerrifield20/SubzoneRegistry/internal/registry/model"
	"go.uber.org/zap"
)

// CloudflareConfig configures a Cloudflare-backed Directory.
type CloudflareConfig struct {
	APIToken string
	Zone     string
	TTL      int
	// BaseURL overrides the API endpoint; empty uses Cloudflare's.
	BaseURL string
	// RateLimit caps requests per second; 0 keeps the client default.
	RateLimit float64
}

// Cloudflare is a Directory for parent zones hosted on Cloudflare.
// Replace semantics are built from list, update and create calls.
type Cloudflare struct {
	api    *cloudflare.API
	rc     *cloudflare.ResourceContainer
	zone   string
	ttl    int
	logger *zap.Logger
}

// NewCloudflare resolves the zone ID for cfg.Zone and returns a Directory.
func NewCloudflare(cfg CloudflareConfig, logger *zap.Logger) (*Cloudflare, error) {
	if cfg.APIToken == "" || cfg.Zone == "" {
		return nil, errors.New("cloudflare: api token and zone are required")
	}
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultTTL
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	var opts []cloudflare.Option
	if cfg.BaseURL != "" {
		opts = append(opts, cloudflare.BaseURL(strings.TrimSuffix(cfg.BaseURL, "/")))
	}
	if cfg.RateLimit > 0 {
		opts = append(opts, cloudflare.UsingRateLimit(cfg.RateLimit))
	}
	api, err := cloudflare.NewWithAPIToken(cfg.APIToken, opts...)
	if err != nil {
		return nil, fmt.Errorf("cloudflare: new client: %w", err)
	}
	zone := CanonicalZone(cfg.Zone)
	zoneID, err := api.ZoneIDByName(strings.TrimSuffix(zone, "."))
	if err != nil {
		return nil, fmt.Errorf("cloudflare: resolve zone %s: %w", zone, err)
	}

	return &Cloudflare{
		api:    api,
		rc:     cloudflare.ZoneIdentifier(zoneID),
		zone:   zone,
		ttl:    cfg.TTL,
		logger: logger,
	}, nil
}

// Zone returns the parent zone with a trailing dot.
func (c *Cloudflare) Zone() string { return c.zone }

// UpsertA replaces the A record for label.
func (c *Cloudflare) UpsertA(ctx context.Context, label, ipv4 string) error {
	return c.replace(ctx, label, model.RecordTypeA, ipv4)
}

// UpsertCNAME replaces the CNAME record for label.
func (c *Cloudflare) UpsertCNAME(ctx context.Context, label, target string) error {
	return c.replace(ctx, label, model.RecordTypeCNAME, strings.TrimSuffix(target, "."))
}

// DeleteRecordSet removes every record of recordType at label.
func (c *Cloudflare) DeleteRecordSet(ctx context.Context, label, recordType string) error {
	name := FQDN(label, c.zone)
	existing, err := c.list(ctx, name, recordType)
	if err != nil {
		return c.fail("delete", label, err)
	}
	for _, rec := range existing {
		if err := c.api.DeleteDNSRecord(ctx, c.rc, rec.ID); err != nil {
			return c.fail("delete", label, err)
		}
	}
	return nil
}

func (c *Cloudflare) replace(ctx context.Context, label, recordType, content string) error {
	name := FQDN(label, c.zone)
	existing, err := c.list(ctx, name, recordType)
	if err != nil {
		return c.fail("upsert", label, err)
	}

	if len(existing) == 0 {
		_, err := c.api.CreateDNSRecord(ctx, c.rc, cloudflare.CreateDNSRecordParams{
			Type:    recordType,
			Name:    name,
			Content: content,
			TTL:     c.ttl,
			Proxied: cloudflare.BoolPtr(false),
		})
		if err != nil {
			return c.fail("upsert", label, err)
		}
		return nil
	}

	if _, err := c.api.UpdateDNSRecord(ctx, c.rc, cloudflare.UpdateDNSRecordParams{
		ID:      existing[0].ID,
		Type:    recordType,
		Name:    name,
		Content: content,
		TTL:     c.ttl,
	}); err != nil {
		return c.fail("upsert", label, err)
	}
	// A replaced set holds exactly one value.
	for _, extra := range existing[1:] {
		if err := c.api.DeleteDNSRecord(ctx, c.rc, extra.ID); err != nil {
			return c.fail("upsert", label, err)
		}
	}
	return nil
}

func (c *Cloudflare) list(ctx context.Context, name, recordType string) ([]cloudflare.DNSRecord, error) {
	records, _, err := c.api.ListDNSRecords(ctx, c.rc, cloudflare.ListDNSRecordsParams{
		Type: recordType,
		Name: name,
	})
	return records, err
}

func (c *Cloudflare) fail(op, label string, err error) error {
	we := &WriteError{Op: op, Name: RecordName(label, c.zone), Err: err}
	var cfErr *cloudflare.Error
	if errors.As(err, &cfErr) {
		we.StatusCode = cfErr.StatusCode
		we.Body = truncateBody([]byte(strings.Join(cfErr.ErrorMessages, "; ")))
	}
	c.logger.Debug("cloudflare write failed", zap.String("op", op), zap.String("name", we.Name), zap.Error(err))
	return we
}
