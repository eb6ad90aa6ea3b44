package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/tabguard/tabguard/internal/gateway"
	"github.com/tabguard/tabguard/internal/models"
	"github.com/tabguard/tabguard/internal/resolver"
	"github.com/tabguard/tabguard/internal/settings"

	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// Trigger kinds and the name prefixes that encode them. The domain is the
// raw name suffix; a domain literally containing "_rule_" would misparse,
// which is a known limitation of the naming scheme.
const (
	KindExpire  = "expire"
	KindReapply = "reapply"

	expirePrefix  = "expire_rule_"
	reapplyPrefix = "reapply_rule_"
)

// Gateway is the remote-mutation capability the scheduler needs.
type Gateway interface {
	CreateOrUpdateRule(ctx context.Context, domain string, action int, proxyID string) error
	DeleteRule(ctx context.Context, candidates []string) error
	QueryRule(ctx context.Context, candidates []string) (*gateway.Rule, string, error)
}

// Scheduler owns delayed one-shot triggers for override expiry and
// restoration. Triggers are persisted rows driven by a poll loop, so they
// fire whether or not any extension popup is open and survive agent
// restarts; overdue triggers fire on the first poll after startup.
type Scheduler struct {
	db  *gorm.DB
	gw  Gateway
	res *resolver.Resolver
	now func() time.Time
}

// New constructs a Scheduler.
func New(db *gorm.DB, gw Gateway) *Scheduler {
	if db == nil || gw == nil {
		return nil
	}
	return &Scheduler{
		db:  db,
		gw:  gw,
		res: resolver.New(gw),
		now: func() time.Time { return time.Now().UTC() },
	}
}

// ArmExpiry schedules unconditional removal of the domain's rule after the
// delay. A delay of zero or less means permanent and never arms a trigger.
func (s *Scheduler) ArmExpiry(ctx context.Context, domain string, delayMinutes int) error {
	if s == nil {
		return errors.New("scheduler: not initialized")
	}
	domain = strings.TrimSpace(domain)
	if domain == "" {
		return errors.New("scheduler: domain is required")
	}
	if delayMinutes <= 0 {
		return nil
	}
	return s.upsertTrigger(ctx, models.ScheduledTrigger{
		Name:   expirePrefix + domain,
		Kind:   KindExpire,
		Domain: domain,
		FireAt: s.now().Add(time.Duration(delayMinutes) * time.Minute),
	})
}

// ArmReapply persists the PendingRestore record first, then schedules the
// reapply trigger. Re-arming a domain overwrites the prior record and delay
// (last-write-wins).
func (s *Scheduler) ArmReapply(ctx context.Context, domain string, delayMinutes int, action *int, proxyID string) error {
	if s == nil {
		return errors.New("scheduler: not initialized")
	}
	domain = strings.TrimSpace(domain)
	if domain == "" {
		return errors.New("scheduler: domain is required")
	}
	if delayMinutes <= 0 {
		return nil
	}
	if errPersist := s.upsertPendingRestore(ctx, domain, action, proxyID); errPersist != nil {
		return errPersist
	}
	return s.upsertTrigger(ctx, models.ScheduledTrigger{
		Name:   reapplyPrefix + domain,
		Kind:   KindReapply,
		Domain: domain,
		FireAt: s.now().Add(time.Duration(delayMinutes) * time.Minute),
	})
}

// Disarm removes both trigger kinds and the pending restore for a domain.
func (s *Scheduler) Disarm(ctx context.Context, domain string) error {
	if s == nil || s.db == nil {
		return errors.New("scheduler: not initialized")
	}
	domain = strings.TrimSpace(domain)
	if domain == "" {
		return errors.New("scheduler: domain is required")
	}
	if errDelete := s.db.WithContext(ctx).
		Where("name IN ?", []string{expirePrefix + domain, reapplyPrefix + domain}).
		Delete(&models.ScheduledTrigger{}).Error; errDelete != nil {
		return errDelete
	}
	return s.db.WithContext(ctx).
		Where("domain = ?", domain).
		Delete(&models.PendingRestore{}).Error
}

// Start launches the polling loop in a background goroutine. The first poll
// runs immediately so triggers that came due while the agent was down fire
// right away.
func (s *Scheduler) Start(ctx context.Context) {
	if s == nil {
		return
	}
	if ctx == nil {
		ctx = context.Background()
	}
	go s.run(ctx)
	log.Infof("scheduler started (poll interval=%s)", s.pollInterval())
}

func (s *Scheduler) run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}
		s.Poll(ctx)
		if ctx.Err() != nil {
			return
		}
		timer := time.NewTimer(s.pollInterval())
		select {
		case <-ctx.Done():
			if !timer.Stop() {
				<-timer.C
			}
			return
		case <-timer.C:
		}
	}
}

// Poll fires every due trigger once. The row is deleted before the handler
// runs; a handler failure never re-arms.
func (s *Scheduler) Poll(ctx context.Context) {
	if s == nil || s.db == nil {
		return
	}
	if ctx == nil {
		ctx = context.Background()
	}

	var due []models.ScheduledTrigger
	if errFind := s.db.WithContext(ctx).
		Where("fire_at <= ?", s.now()).
		Order("fire_at ASC").
		Find(&due).Error; errFind != nil {
		log.WithError(errFind).Warn("scheduler: load due triggers failed")
		return
	}

	for _, trigger := range due {
		consumed := s.db.WithContext(ctx).
			Where("name = ?", trigger.Name).
			Delete(&models.ScheduledTrigger{})
		if consumed.Error != nil {
			log.WithError(consumed.Error).Warnf("scheduler: consume trigger failed (name=%s)", trigger.Name)
			continue
		}
		if consumed.RowsAffected == 0 {
			continue
		}
		if errFire := s.fire(ctx, trigger); errFire != nil {
			log.WithError(errFire).Warnf("scheduler: trigger failed (name=%s)", trigger.Name)
		}
	}
}

// fire dispatches a consumed trigger by kind.
func (s *Scheduler) fire(ctx context.Context, trigger models.ScheduledTrigger) error {
	domain := strings.TrimSpace(trigger.Domain)
	if domain == "" {
		domain = domainFromTriggerName(trigger.Name)
	}
	if domain == "" {
		return fmt.Errorf("scheduler: trigger %s carries no domain", trigger.Name)
	}

	switch trigger.Kind {
	case KindExpire:
		return s.fireExpire(ctx, domain)
	case KindReapply:
		return s.fireReapply(ctx, domain)
	default:
		return fmt.Errorf("scheduler: unknown trigger kind %q", trigger.Kind)
	}
}

// fireExpire deletes the remote rule unconditionally. No restoration is
// scheduled afterward.
func (s *Scheduler) fireExpire(ctx context.Context, domain string) error {
	rule, _, errFind := s.res.FindActiveRule(ctx, domain)
	if errFind != nil {
		log.WithError(errFind).Debugf("scheduler: expiry lookup failed (domain=%s)", domain)
	}
	candidates := resolver.DeleteCandidates(rule, domain)
	if errDelete := s.gw.DeleteRule(ctx, candidates); errDelete != nil {
		return errDelete
	}
	log.Infof("scheduler: temporary rule for %s expired", domain)
	return nil
}

// fireReapply restores the suspended rule from its PendingRestore record. A
// record with an unknown action is discarded without touching the remote
// store, because silent restoration with a guessed action is unsafe. On
// gateway failure the record is left in place for a manual retry.
func (s *Scheduler) fireReapply(ctx context.Context, domain string) error {
	var record models.PendingRestore
	errFind := s.db.WithContext(ctx).Where("domain = ?", domain).First(&record).Error
	if errors.Is(errFind, gorm.ErrRecordNotFound) {
		return nil
	}
	if errFind != nil {
		return errFind
	}

	if record.Action == nil {
		log.Warnf("scheduler: dropping restore for %s, original action unknown", domain)
		return s.deletePendingRestore(ctx, domain)
	}

	if errApply := s.gw.CreateOrUpdateRule(ctx, domain, *record.Action, record.ProxyID); errApply != nil {
		return errApply
	}
	log.Infof("scheduler: restored rule for %s (do=%d)", domain, *record.Action)
	return s.deletePendingRestore(ctx, domain)
}

func (s *Scheduler) deletePendingRestore(ctx context.Context, domain string) error {
	return s.db.WithContext(ctx).
		Where("domain = ?", domain).
		Delete(&models.PendingRestore{}).Error
}

// upsertTrigger replaces any prior trigger of the same name.
func (s *Scheduler) upsertTrigger(ctx context.Context, trigger models.ScheduledTrigger) error {
	if s.db == nil {
		return errors.New("scheduler: db not initialized")
	}
	var existing models.ScheduledTrigger
	errFind := s.db.WithContext(ctx).Where("name = ?", trigger.Name).First(&existing).Error
	if errFind == nil {
		return s.db.WithContext(ctx).
			Model(&models.ScheduledTrigger{}).
			Where("name = ?", trigger.Name).
			Updates(map[string]any{
				"kind":    trigger.Kind,
				"domain":  trigger.Domain,
				"fire_at": trigger.FireAt,
			}).Error
	}
	if errors.Is(errFind, gorm.ErrRecordNotFound) {
		return s.db.WithContext(ctx).Create(&trigger).Error
	}
	return errFind
}

// upsertPendingRestore replaces any prior record for the domain.
func (s *Scheduler) upsertPendingRestore(ctx context.Context, domain string, action *int, proxyID string) error {
	if s.db == nil {
		return errors.New("scheduler: db not initialized")
	}
	var existing models.PendingRestore
	errFind := s.db.WithContext(ctx).Where("domain = ?", domain).First(&existing).Error
	if errFind == nil {
		return s.db.WithContext(ctx).
			Model(&models.PendingRestore{}).
			Where("domain = ?", domain).
			Updates(map[string]any{
				"action":     action,
				"proxy_id":   proxyID,
				"created_at": s.now(),
			}).Error
	}
	if errors.Is(errFind, gorm.ErrRecordNotFound) {
		row := models.PendingRestore{
			Domain:    domain,
			Action:    action,
			ProxyID:   proxyID,
			CreatedAt: s.now(),
		}
		return s.db.WithContext(ctx).Create(&row).Error
	}
	return errFind
}

// pollInterval resolves the loop interval from DB settings.
func (s *Scheduler) pollInterval() time.Duration {
	seconds := settings.IntValue(settings.TriggerPollSecondsKey, settings.DefaultTriggerPollSeconds)
	if seconds <= 0 {
		seconds = settings.DefaultTriggerPollSeconds
	}
	return time.Duration(seconds) * time.Second
}

// domainFromTriggerName reconstructs the domain from a trigger name.
func domainFromTriggerName(name string) string {
	if domain, ok := strings.CutPrefix(name, expirePrefix); ok {
		return domain
	}
	if domain, ok := strings.CutPrefix(name, reapplyPrefix); ok {
		return domain
	}
	return ""
}
