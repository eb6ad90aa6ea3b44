package engine

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/tabguard/tabguard/internal/gateway"
	"github.com/tabguard/tabguard/internal/resolver"
	"github.com/tabguard/tabguard/internal/settings"

	log "github.com/sirupsen/logrus"
)

// State labels for a domain's rule lifecycle.
type State string

const (
	// StateUnknown is the initial state before any query.
	StateUnknown State = "unknown"
	// StateChecking means a remote query is in flight.
	StateChecking State = "checking"
	// StateActive means a rule exists for the domain.
	StateActive State = "active"
	// StateReady means no rule is known for the domain.
	StateReady State = "ready"
)

// ValidationError reports a rejected request that never reached the network.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string {
	if e == nil {
		return ""
	}
	return "engine: " + e.Message
}

// Gateway is the remote-mutation capability the engine needs.
type Gateway interface {
	CreateOrUpdateRule(ctx context.Context, domain string, action int, proxyID string) error
	DeleteRule(ctx context.Context, candidates []string) error
	QueryRule(ctx context.Context, candidates []string) (*gateway.Rule, string, error)
}

// Scheduler is the trigger-arming capability the engine needs.
type Scheduler interface {
	ArmExpiry(ctx context.Context, domain string, delayMinutes int) error
	ArmReapply(ctx context.Context, domain string, delayMinutes int, action *int, proxyID string) error
}

// Session is the state snapshot returned by every engine operation. The
// remote store stays authoritative; a Session is a view, not a cache, and
// operations return fresh snapshots instead of mutating shared state.
type Session struct {
	Domain         string    `json:"domain"`
	State          State     `json:"state"`
	Action         *int      `json:"action,omitempty"`
	ProxyID        string    `json:"proxy_id,omitempty"`
	MatchedVariant string    `json:"matched_variant,omitempty"`
	RuleKey        string    `json:"rule_key,omitempty"`
	PendingReapply bool      `json:"pending_reapply,omitempty"`
	CheckedAt      time.Time `json:"checked_at"`
	Warnings       []string  `json:"warnings,omitempty"`
}

// ApplyRequest asks for a rule to be created or updated.
type ApplyRequest struct {
	Domain          string `json:"domain"`
	Action          int    `json:"action"`
	ProxyID         string `json:"proxy_id"`
	DurationMinutes int    `json:"duration_minutes"`
}

// RemoveRequest asks for a rule to be removed, optionally temporarily.
type RemoveRequest struct {
	Domain          string `json:"domain"`
	DurationMinutes int    `json:"duration_minutes"`
}

// Engine orchestrates apply and remove operations end to end, chaining the
// gateway, resolver, and scheduler with the bounded fallback strategies each
// of them carries.
type Engine struct {
	gw     Gateway
	res    *resolver.Resolver
	sched  Scheduler
	settle func() time.Duration
	now    func() time.Time
}

// New constructs an Engine.
func New(gw Gateway, sched Scheduler) *Engine {
	if gw == nil || sched == nil {
		return nil
	}
	return &Engine{
		gw:    gw,
		res:   resolver.New(gw),
		sched: sched,
		settle: func() time.Duration {
			millis := settings.IntValue(settings.SettleDelayMillisKey, settings.DefaultSettleDelayMillis)
			if millis < 0 {
				millis = 0
			}
			return time.Duration(millis) * time.Millisecond
		},
		now: func() time.Time { return time.Now().UTC() },
	}
}

// Refresh queries the current remote state for a domain. A gateway failure
// fails open to Ready rather than blocking the caller; the error is carried
// as a warning on the snapshot.
func (e *Engine) Refresh(ctx context.Context, domain string) Session {
	session := Session{Domain: strings.TrimSpace(domain), State: StateChecking}
	if session.Domain == "" {
		session.State = StateUnknown
		return session
	}

	rule, matched, errFind := e.res.FindActiveRule(ctx, session.Domain)
	session.CheckedAt = e.now()
	if errFind != nil {
		log.WithError(errFind).Warnf("engine: refresh failed (domain=%s)", session.Domain)
		session.State = StateReady
		session.Warnings = append(session.Warnings, "rule lookup failed: "+errFind.Error())
		return session
	}
	if rule == nil {
		session.State = StateReady
		return session
	}

	session.State = StateActive
	session.Action = rule.Action
	session.ProxyID = rule.Via
	session.MatchedVariant = matched
	session.RuleKey = rule.Key
	return session
}

// Apply creates or updates the rule for a domain. Validation failures never
// issue a network call. A positive duration arms an expiry trigger; zero
// means permanent and arms nothing. The returned snapshot is re-resolved
// from the remote store.
func (e *Engine) Apply(ctx context.Context, req ApplyRequest) (Session, error) {
	if e == nil {
		return Session{}, errors.New("engine: not initialized")
	}
	domain := strings.TrimSpace(req.Domain)
	if domain == "" {
		return Session{}, &ValidationError{Message: "domain is required"}
	}
	switch req.Action {
	case gateway.ActionBlock, gateway.ActionBypass, gateway.ActionRedirect:
	default:
		return Session{}, &ValidationError{Message: "unknown action code"}
	}
	if req.Action == gateway.ActionRedirect && strings.TrimSpace(req.ProxyID) == "" {
		return Session{}, &ValidationError{Message: "redirect requires a proxy selection"}
	}

	if errApply := e.gw.CreateOrUpdateRule(ctx, domain, req.Action, strings.TrimSpace(req.ProxyID)); errApply != nil {
		return Session{Domain: domain, State: StateUnknown}, errApply
	}

	if req.DurationMinutes > 0 {
		if errArm := e.sched.ArmExpiry(ctx, domain, req.DurationMinutes); errArm != nil {
			return Session{Domain: domain, State: StateUnknown}, errArm
		}
		log.Infof("engine: applied rule for %s (do=%d, expires in %dm)", domain, req.Action, req.DurationMinutes)
	} else {
		log.Infof("engine: applied rule for %s (do=%d, permanent)", domain, req.Action)
	}

	return e.Refresh(ctx, domain), nil
}

// Remove deletes the rule for a domain. The current action is resolved first
// so a temporary removal can persist it for restoration; when it cannot be
// determined the removal proceeds with a degraded warning and the eventual
// restore is skipped. After a short settle delay the domain is re-queried;
// a rule that still appears active yields a warning, not an error, because
// the bypass soft delete is indistinguishable from true deletion upstream.
func (e *Engine) Remove(ctx context.Context, req RemoveRequest) (Session, error) {
	if e == nil {
		return Session{}, errors.New("engine: not initialized")
	}
	domain := strings.TrimSpace(req.Domain)
	if domain == "" {
		return Session{}, &ValidationError{Message: "domain is required"}
	}

	var warnings []string
	rule, _, errFind := e.res.FindActiveRule(ctx, domain)
	if errFind != nil {
		log.WithError(errFind).Warnf("engine: pre-removal lookup failed (domain=%s)", domain)
		warnings = append(warnings, "could not resolve current rule before removal")
	}

	candidates := resolver.DeleteCandidates(rule, domain)
	if errDelete := e.gw.DeleteRule(ctx, candidates); errDelete != nil {
		return Session{Domain: domain, State: StateUnknown}, errDelete
	}

	pendingReapply := false
	if req.DurationMinutes > 0 {
		var action *int
		proxyID := ""
		if rule != nil {
			action = rule.Action
			proxyID = rule.Via
		}
		if action == nil {
			warnings = append(warnings, "original action unknown; the rule will not be restored automatically")
		}
		if errArm := e.sched.ArmReapply(ctx, domain, req.DurationMinutes, action, proxyID); errArm != nil {
			return Session{Domain: domain, State: StateUnknown, Warnings: warnings}, errArm
		}
		pendingReapply = true
		log.Infof("engine: removed rule for %s (restores in %dm)", domain, req.DurationMinutes)
	} else {
		log.Infof("engine: removed rule for %s (permanent)", domain)
	}

	e.waitSettle(ctx)
	session := e.Refresh(ctx, domain)
	session.PendingReapply = pendingReapply
	if session.State == StateActive {
		warnings = append(warnings, "rule still appears active after removal")
	}
	session.Warnings = append(warnings, session.Warnings...)
	return session, nil
}

// waitSettle sleeps for the configured settle delay, bailing early when the
// context is done.
func (e *Engine) waitSettle(ctx context.Context) {
	delay := e.settle()
	if delay <= 0 {
		return
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}
