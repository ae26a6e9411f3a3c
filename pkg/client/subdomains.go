package client

import (
	"context"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// Subdomain is a claimed label as returned by the registry.
type Subdomain struct {
	ID         string     `json:"id"`
	Label      string     `json:"label"`
	FQDN       string     `json:"fqdn"`
	OwnerID    string     `json:"owner_id"`
	RecordType string     `json:"record_type"`
	Target     string     `json:"target"`
	Status     string     `json:"status"`
	DNSCreated bool       `json:"dns_created"`
	DNSError   *string    `json:"dns_error,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	ApprovedAt *time.Time `json:"approved_at,omitempty"`
	UpdatedAt  time.Time  `json:"updated_at"`
}

// DNSState tells whether the record's DNS write went through.
type DNSState struct {
	Synced         bool    `json:"synced"`
	Error          *string `json:"error,omitempty"`
	RetryAvailable bool    `json:"retry_available"`
}

// Result is the response to every call that changes a subdomain.
type Result struct {
	Subdomain Subdomain `json:"subdomain"`
	DNS       DNSState  `json:"dns"`
}

// Availability answers whether a label can be claimed.
type Availability struct {
	Label     string `json:"label"`
	Available bool   `json:"available"`
	Reason    string `json:"reason,omitempty"`
}

// ClaimRequest is the payload for Claim.
type ClaimRequest struct {
	Label      string `json:"label"`
	RecordType string `json:"record_type"`
	Target     string `json:"target"`
}

// ListOptions filters List. Zero values are omitted.
type ListOptions struct {
	Status  string
	OwnerID string
	Cursor  string
	Limit   int
}

// ListResult is one page of subdomains.
type ListResult struct {
	Subdomains []Subdomain `json:"subdomains"`
	Count      int         `json:"count"`
	NextCursor string      `json:"next_cursor,omitempty"`
}

// CheckAvailability reports whether label can be claimed. No token needed.
func (c *Client) CheckAvailability(ctx context.Context, label string) (*Availability, error) {
	var out Availability
	if err := c.do(ctx, http.MethodGet, "/availability/"+url.PathEscape(label), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Claim registers a new subdomain for the token's user.
func (c *Client) Claim(ctx context.Context, req ClaimRequest) (*Result, error) {
	var out Result
	if err := c.do(ctx, http.MethodPost, "/subdomains", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// List returns one page of subdomains visible to the caller.
func (c *Client) List(ctx context.Context, opts ListOptions) (*ListResult, error) {
	q := url.Values{}
	if opts.Status != "" {
		q.Set("status", opts.Status)
	}
	if opts.OwnerID != "" {
		q.Set("owner_id", opts.OwnerID)
	}
	if opts.Cursor != "" {
		q.Set("cursor", opts.Cursor)
	}
	if opts.Limit > 0 {
		q.Set("limit", strconv.Itoa(opts.Limit))
	}
	path := "/subdomains"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}
	var out ListResult
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Get fetches one subdomain.
func (c *Client) Get(ctx context.Context, id string) (*Result, error) {
	var out Result
	if err := c.do(ctx, http.MethodGet, "/subdomains/"+url.PathEscape(id), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// SetTarget points the subdomain at a new IPv4 address or host name,
// matching its record type.
func (c *Client) SetTarget(ctx context.Context, id, target string) (*Result, error) {
	var out Result
	body := map[string]string{"target": target}
	if err := c.do(ctx, http.MethodPatch, "/subdomains/"+url.PathEscape(id), body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Approve approves a pending claim. Requires an admin token.
func (c *Client) Approve(ctx context.Context, id string) (*Result, error) {
	return c.setStatus(ctx, id, "approved")
}

// Reject rejects a pending claim. Requires an admin token.
func (c *Client) Reject(ctx context.Context, id string) (*Result, error) {
	return c.setStatus(ctx, id, "rejected")
}

func (c *Client) setStatus(ctx context.Context, id, status string) (*Result, error) {
	var out Result
	body := map[string]string{"status": status}
	if err := c.do(ctx, http.MethodPost, "/subdomains/"+url.PathEscape(id)+"/status", body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// SyncDNS re-publishes an approved subdomain's record.
func (c *Client) SyncDNS(ctx context.Context, id string) (*Result, error) {
	var out Result
	if err := c.do(ctx, http.MethodPost, "/subdomains/"+url.PathEscape(id)+"/dns/sync", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Delete removes a subdomain and frees its label.
func (c *Client) Delete(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/subdomains/"+url.PathEscape(id), nil, nil)
}
