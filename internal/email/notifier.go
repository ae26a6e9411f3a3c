package email

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"
)

// Notifier composes and sends the messages of the moderation flow.
// Delivery failures are logged and never returned.
type Notifier struct {
	sender       Sender
	adminAddress string
	baseURL      string
	logger       *zap.Logger
}

// NewNotifier creates a Notifier. adminAddress receives new-claim notices;
// an empty adminAddress disables them. baseURL, when set, is used to link
// to the record in the API.
func NewNotifier(sender Sender, adminAddress, baseURL string, logger *zap.Logger) *Notifier {
	return &Notifier{
		sender:       sender,
		adminAddress: adminAddress,
		baseURL:      strings.TrimRight(baseURL, "/"),
		logger:       logger,
	}
}

// ClaimPending tells the administrator that a claim awaits review.
func (n *Notifier) ClaimPending(ctx context.Context, fqdn, id, owner string) {
	if n.adminAddress == "" {
		return
	}
	body := fmt.Sprintf("%s was claimed by %s and is waiting for review.\n", fqdn, owner)
	if n.baseURL != "" {
		body += fmt.Sprintf("\nReview it at %s/api/v1/subdomains/%s\n", n.baseURL, id)
	}
	n.send(ctx, n.adminAddress, "Subdomain claim pending: "+fqdn, body)
}

// ClaimDecided tells the owner their claim was approved or rejected.
func (n *Notifier) ClaimDecided(ctx context.Context, to, fqdn, status string) {
	if to == "" {
		return
	}
	body := fmt.Sprintf("Your claim for %s was %s.\n", fqdn, status)
	n.send(ctx, to, "Subdomain "+status+": "+fqdn, body)
}

// DNSFailed tells the owner their record could not be published yet.
func (n *Notifier) DNSFailed(ctx context.Context, to, fqdn, reason string) {
	if to == "" {
		return
	}
	body := fmt.Sprintf("%s is registered, but its DNS record could not be published:\n\n  %s\n\n"+
		"The registry retries automatically. You can also trigger a sync from the API.\n", fqdn, reason)
	n.send(ctx, to, "DNS not yet published: "+fqdn, body)
}

func (n *Notifier) send(ctx context.Context, to, subject, body string) {
	if err := n.sender.Send(ctx, to, subject, body); err != nil {
		n.logger.Warn("email send failed (non-fatal)",
			zap.String("to", to),
			zap.String("subject", subject),
			zap.Error(err),
		)
	}
}
