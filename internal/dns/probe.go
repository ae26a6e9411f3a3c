package dns

import (
	"context"
	"fmt"
	"net"
	"sort"
	"strings"
	"time"

	"github.com/miekg/dns"
)

// Prober asks the authoritative nameserver what it currently serves for a
// name. It is used to detect records that drifted after a successful write.
type Prober struct {
	server string
	client *dns.Client
}

// NewProber creates a Prober for nameserver ("host" or "host:port"; port
// 53 is assumed when missing).
func NewProber(nameserver string, timeout time.Duration) *Prober {
	if _, _, err := net.SplitHostPort(nameserver); err != nil {
		nameserver = net.JoinHostPort(nameserver, "53")
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Prober{
		server: nameserver,
		client: &dns.Client{Net: "udp", Timeout: timeout},
	}
}

// Lookup returns the record values served for fqdn and recordType, sorted.
// NXDOMAIN and empty answers yield an empty slice. CNAME targets are
// returned without a trailing dot.
func (p *Prober) Lookup(ctx context.Context, fqdn, recordType string) ([]string, error) {
	qtype, ok := dns.StringToType[strings.ToUpper(recordType)]
	if !ok {
		return nil, errUnsupportedType(recordType)
	}

	msg := new(dns.Msg)
	msg.SetQuestion(dns.Fqdn(strings.ToLower(fqdn)), qtype)
	msg.RecursionDesired = false

	resp, _, err := p.client.ExchangeContext(ctx, msg, p.server)
	if err != nil {
		return nil, fmt.Errorf("probe %s %s: %w", recordType, fqdn, err)
	}
	switch resp.Rcode {
	case dns.RcodeSuccess, dns.RcodeNameError:
	default:
		return nil, fmt.Errorf("probe %s %s: rcode %s", recordType, fqdn, dns.RcodeToString[resp.Rcode])
	}

	values := []string{}
	for _, rr := range resp.Answer {
		switch v := rr.(type) {
		case *dns.A:
			if qtype == dns.TypeA {
				values = append(values, v.A.String())
			}
		case *dns.CNAME:
			if qtype == dns.TypeCNAME {
				values = append(values, strings.ToLower(strings.TrimSuffix(v.Target, ".")))
			}
		}
	}
	sort.Strings(values)
	return values, nil
}
