package gateway

import "strings"

// Action codes used by the policy API.
const (
	// ActionBlock blocks DNS resolution for the hostname.
	ActionBlock = 0
	// ActionBypass resolves the hostname without filtering.
	ActionBypass = 1
	// ActionRedirect resolves the hostname through a proxy.
	ActionRedirect = 3
)

// Rule is the normalized view of a remote policy rule. The remote store is
// the sole owner of this entity; a Rule value is a transient session view.
type Rule struct {
	Hostnames []string // Hostname list the rule applies to, usually one entry.
	Hostname  string   // Single-hostname field when the response carries one.
	Action    *int     // Extracted action code; nil when no shape matched.
	Via       string   // Redirect target, present when Action is Redirect.
	Key       string   // Store key the remote system indexes the rule by.
}

// Matches reports whether the rule covers the given domain by hostname-list
// membership, single-hostname equality, or store key equality.
func (r *Rule) Matches(domain string) bool {
	if r == nil {
		return false
	}
	domain = strings.TrimSpace(domain)
	if domain == "" {
		return false
	}
	for _, hostname := range r.Hostnames {
		if strings.EqualFold(strings.TrimSpace(hostname), domain) {
			return true
		}
	}
	if strings.EqualFold(strings.TrimSpace(r.Hostname), domain) {
		return true
	}
	return strings.EqualFold(strings.TrimSpace(r.Key), domain)
}
