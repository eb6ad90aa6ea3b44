package resolver

import (
	"context"
	"errors"
	"strings"

	"github.com/tabguard/tabguard/internal/gateway"
)

// wwwPrefix is the hostname variant prefix the remote store is inconsistent
// about.
const wwwPrefix = "www."

// Querier is the gateway capability the resolver needs.
type Querier interface {
	QueryRule(ctx context.Context, candidates []string) (*gateway.Rule, string, error)
}

// Resolver determines whether an active rule exists for a domain and which
// variant of the domain it is keyed under. The remote store may index a rule
// by bare domain, "www."-prefixed domain, or an opaque key equal to neither,
// so lookups check both common variants and deletions prefer the discovered
// store key.
type Resolver struct {
	gw Querier
}

// New constructs a Resolver over a gateway querier.
func New(gw Querier) *Resolver {
	return &Resolver{gw: gw}
}

// Variations returns the candidate forms of a domain in priority order:
// exact match first, the "www." variant second.
func Variations(domain string) []string {
	domain = strings.TrimSpace(domain)
	if domain == "" {
		return nil
	}
	if strings.HasPrefix(strings.ToLower(domain), wwwPrefix) {
		return []string{domain, domain[len(wwwPrefix):]}
	}
	return []string{domain, wwwPrefix + domain}
}

// FindActiveRule queries the domain variations in order and returns the
// first match. NotFound is (nil, "", nil); errors are reserved for gateway
// failures.
func (r *Resolver) FindActiveRule(ctx context.Context, domain string) (*gateway.Rule, string, error) {
	if r == nil || r.gw == nil {
		return nil, "", errors.New("resolver: not initialized")
	}
	candidates := Variations(domain)
	if len(candidates) == 0 {
		return nil, "", errors.New("resolver: domain is required")
	}
	return r.gw.QueryRule(ctx, candidates)
}

// DeleteCandidates orders the domain strings a deletion should try. The
// rule's own store key is more specific than the computed variations, so it
// goes first when it differs from them.
func DeleteCandidates(rule *gateway.Rule, domain string) []string {
	variations := Variations(domain)
	if rule == nil || strings.TrimSpace(rule.Key) == "" {
		return variations
	}
	key := strings.TrimSpace(rule.Key)
	for _, variation := range variations {
		if strings.EqualFold(variation, key) {
			return variations
		}
	}
	return append([]string{key}, variations...)
}
