// Package tenancy maps inbound hostnames to tenant subdomains and resolves
// whether a subdomain is backed by a live tenant.
//
// Hostname parsing is pure and side-effect free; resolution hits the data store
// (with an optional Redis cache) and fails closed: any ambiguity or backend
// error reads as "no such tenant" so unknown subdomains land on the marketing
// site instead of a tenant-scoped surface.
package tenancy

import (
	"regexp"
	"strings"
)

// PreviewMarker separates the tenant label from the deployment slug in preview
// hosts (e.g. acme---feature-xyz.preview.example.dev).
const PreviewMarker = "---"

var subdomainPattern = regexp.MustCompile(`^[a-z0-9](?:[a-z0-9-]{1,61})[a-z0-9]$`)

// NormalizeSubdomain lowercases and trims a candidate subdomain. All lookups
// and comparisons happen on the normalized form, so "Acme-1" and "ACME-1"
// resolve identically.
func NormalizeSubdomain(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// ValidSubdomain reports whether s (already normalized) is an acceptable tenant
// subdomain: lowercase [a-z0-9-], 3-63 characters, no leading or trailing hyphen.
func ValidSubdomain(s string) bool {
	if len(s) < 3 || len(s) > 63 {
		return false
	}
	if strings.Contains(s, PreviewMarker) {
		// Triple hyphens would collide with preview-host parsing.
		return false
	}
	return subdomainPattern.MatchString(s)
}

// Parser extracts the tenant subdomain from a request's Host header.
// All domain fields must be bare lowercase domains without ports or schemes.
type Parser struct {
	// RootDomain is the wildcard application domain (acme.<RootDomain> is tenant acme).
	RootDomain string
	// MarketingDomain never yields a subdomain, with or without a www. prefix.
	MarketingDomain string
	// PreviewSuffix, when non-empty, marks preview-deployment hosts whose first
	// label embeds the tenant before a PreviewMarker.
	PreviewSuffix string
}

// NewParser builds a Parser from configured domains, normalizing them to
// lowercase so host comparison stays case-insensitive end to end.
func NewParser(rootDomain, marketingDomain, previewSuffix string) Parser {
	return Parser{
		RootDomain:      strings.ToLower(strings.TrimSpace(rootDomain)),
		MarketingDomain: strings.ToLower(strings.TrimSpace(marketingDomain)),
		PreviewSuffix:   strings.ToLower(strings.TrimSpace(previewSuffix)),
	}
}

// Subdomain returns the tenant subdomain encoded in the host, or "" when the
// host does not address a tenant. The host may carry a port. Matching is
// case-insensitive.
//
// Rules, in priority order:
//  1. localhost / 127.0.0.1 hosts: the label immediately before ".localhost"
//     is the subdomain; a bare localhost has none.
//  2. Preview-deployment hosts (first label contains "---" before the known
//     suffix): the part before the marker is the subdomain.
//  3. The marketing root, with or without www., never yields a subdomain.
//  4. <label>.<root domain> yields label, unless label is "www".
//  5. Any other multi-label host yields its first label, unless that label is
//     "www" or the bare root domain itself.
func (p Parser) Subdomain(host string) string {
	host = strings.ToLower(strings.TrimSpace(host))
	host = stripPort(host)
	if host == "" {
		return ""
	}

	// Local development hosts.
	if host == "localhost" || host == "127.0.0.1" {
		return ""
	}
	if strings.HasSuffix(host, ".localhost") {
		labels := strings.Split(strings.TrimSuffix(host, ".localhost"), ".")
		return labels[len(labels)-1]
	}
	if strings.Contains(host, "127.0.0.1") {
		return ""
	}

	// Preview deployments: acme---anything.<preview suffix> → acme.
	if p.PreviewSuffix != "" && strings.HasSuffix(host, p.PreviewSuffix) {
		first, _, _ := strings.Cut(host, ".")
		if sub, _, found := strings.Cut(first, PreviewMarker); found {
			return sub
		}
	}

	// The marketing site is never itself a tenant.
	if host == p.MarketingDomain || host == "www."+p.MarketingDomain {
		return ""
	}

	// Wildcard application domain.
	if host == p.RootDomain || host == "www."+p.RootDomain {
		return ""
	}
	if suffix := "." + p.RootDomain; strings.HasSuffix(host, suffix) {
		sub, _, _ := strings.Cut(strings.TrimSuffix(host, suffix), ".")
		if sub == "www" {
			return ""
		}
		return sub
	}

	// Unknown domain (custom domains, tests): first label of a multi-label host.
	labels := strings.Split(host, ".")
	if len(labels) <= 2 {
		return ""
	}
	if labels[0] == "www" || labels[0] == p.RootDomain {
		return ""
	}
	return labels[0]
}

// stripPort removes a trailing :port. Hostnames never contain colons otherwise
// (bracketed IPv6 literals are not tenant hosts and fall out naturally).
func stripPort(host string) string {
	if i := strings.LastIndex(host, ":"); i != -1 && !strings.Contains(host[i+1:], "]") {
		if !strings.Contains(host, "]") || strings.HasSuffix(host[:i], "]") {
			return host[:i]
		}
	}
	return host
}
