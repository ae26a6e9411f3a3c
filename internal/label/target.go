package label

import (
	"net/netip"
	"regexp"
	"strconv"
	"strings"

	"github.com/jmerrifield20/SubzoneRegistry/internal/registry/model"
	"github.com/miekg/dns"
	"golang.org/x/net/idna"
)

const maxNameLength = 253

var ldhRe = regexp.MustCompile(`^[a-z0-9]([a-z0-9-]{0,61}[a-z0-9])?$`)

// ValidateIPv4 accepts only well-formed dotted-quad IPv4 literals.
func ValidateIPv4(input string) (string, error) {
	s := strings.TrimSpace(input)
	reject := func(reason string) (string, error) {
		return "", &Error{Field: "target", Input: input, Reason: reason}
	}
	if s == "" {
		return reject("must not be empty")
	}
	if strings.Count(s, ".") != 3 {
		return reject("must be a dotted-quad IPv4 address")
	}
	addr, err := netip.ParseAddr(s)
	if err != nil || !addr.Is4() {
		return reject("must be a dotted-quad IPv4 address")
	}
	return addr.String(), nil
}

// ValidateFQDN accepts a syntactically valid fully-qualified domain name.
// An optional scheme prefix and trailing slash are stripped first, the name
// is lowercased and converted to its ASCII form. The returned value carries
// no trailing dot.
func ValidateFQDN(input string) (string, error) {
	reject := func(reason string) (string, error) {
		return "", &Error{Field: "target", Input: input, Reason: reason}
	}

	s := strings.TrimSpace(input)
	if i := strings.Index(s, "://"); i >= 0 {
		s = s[i+3:]
	}
	s = strings.TrimSuffix(s, "/")
	s = strings.TrimSuffix(s, ".")
	if s == "" {
		return reject("must not be empty")
	}
	if strings.ContainsAny(s, "/:?#@ ") {
		return reject("must be a bare host name")
	}

	ascii, err := idna.Lookup.ToASCII(s)
	if err != nil {
		return reject("is not a valid domain name")
	}
	ascii = strings.ToLower(ascii)

	if len(ascii) > maxNameLength {
		return reject("must be at most 253 characters")
	}
	n, ok := dns.IsDomainName(ascii)
	if !ok {
		return reject("is not a valid domain name")
	}
	if n < 2 {
		return reject("must be fully qualified (at least two labels)")
	}

	labels := dns.SplitDomainName(ascii)
	for _, l := range labels {
		if !ldhRe.MatchString(l) {
			return reject("label " + strconv.Quote(l) + " is not a valid host label")
		}
	}
	if isNumeric(labels[len(labels)-1]) {
		return reject("top-level label must not be numeric")
	}
	return ascii, nil
}

// ValidateTarget validates input against the given record type.
func ValidateTarget(recordType, input string) (string, error) {
	switch recordType {
	case model.RecordTypeA:
		return ValidateIPv4(input)
	case model.RecordTypeCNAME:
		return ValidateFQDN(input)
	default:
		return "", &Error{Field: "record_type", Input: recordType, Reason: "must be A or CNAME"}
	}
}

func isNumeric(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return s != ""
}
