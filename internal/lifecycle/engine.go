// Package lifecycle maps asset categories to retention periods and keeps
// the bucket's expiration rules in line with them.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"time"

	"github.com/littlehero/api/internal/config"
	"github.com/littlehero/api/internal/model"
	"github.com/littlehero/api/internal/storage"
	"github.com/rs/zerolog"
)

const day = 24 * time.Hour

// Policy is the retention for one asset category. Zero retention keeps
// objects indefinitely.
type Policy struct {
	Category  model.AssetCategory
	Pattern   string
	Retention time.Duration
}

// Unlimited reports whether objects of the category never expire.
func (p Policy) Unlimited() bool {
	return p.Retention <= 0
}

// RuleID is the lifecycle rule id used for a category.
func RuleID(category model.AssetCategory) string {
	return "books-expire-" + string(category)
}

// DefaultPolicies builds the policy table from the retention settings.
func DefaultPolicies(cfg config.RetentionConfig) []Policy {
	return []Policy{
		{Category: model.CategoryUpload, Pattern: storage.PatternFor(model.CategoryUpload), Retention: time.Duration(cfg.UploadDays) * day},
		{Category: model.CategoryProcessing, Pattern: storage.PatternFor(model.CategoryProcessing), Retention: time.Duration(cfg.ProcessingDays) * day},
		{Category: model.CategoryFinal, Pattern: storage.PatternFor(model.CategoryFinal), Retention: time.Duration(cfg.FinalDays) * day},
	}
}

// Backend is the part of the storage gateway the engine needs.
type Backend interface {
	ApplyLifecycleRule(ctx context.Context, rule storage.LifecycleRule) error
	RemoveLifecycleRule(ctx context.Context, id string) error
	List(ctx context.Context, prefix string) iter.Seq2[storage.Object, error]
}

// Report summarises a Reconcile run.
type Report struct {
	Applied  []model.AssetCategory
	Removed  []model.AssetCategory
	Rejected map[model.AssetCategory]error
	Failed   map[model.AssetCategory]error
}

// OK reports whether every rule was reconciled.
func (r Report) OK() bool {
	return len(r.Rejected) == 0 && len(r.Failed) == 0
}

// Finding is an object older than its category's retention.
type Finding struct {
	Object    storage.Object
	Age       time.Duration
	Retention time.Duration
}

// Overdue is how long the object has outlived its retention.
func (f Finding) Overdue() time.Duration {
	return f.Age - f.Retention
}

type Engine struct {
	backend  Backend
	policies []Policy
	log      zerolog.Logger
	now      func() time.Time
}

func NewEngine(backend Backend, policies []Policy, log zerolog.Logger) *Engine {
	return &Engine{
		backend:  backend,
		policies: policies,
		log:      log.With().Str("component", "lifecycle").Logger(),
		now:      time.Now,
	}
}

// WithClock replaces the clock used by Audit.
func (e *Engine) WithClock(now func() time.Time) *Engine {
	e.now = now
	return e
}

// Policies returns the policy table.
func (e *Engine) Policies() []Policy {
	return e.policies
}

// PolicyFor returns the policy of a category.
func (e *Engine) PolicyFor(category model.AssetCategory) (Policy, bool) {
	for _, p := range e.policies {
		if p.Category == category {
			return p, true
		}
	}
	return Policy{}, false
}

// Reconcile applies every policy to the bucket. Categories with unlimited
// retention have their rule removed. A rejected rule is logged and reported
// and the remaining policies are still applied.
func (e *Engine) Reconcile(ctx context.Context) (Report, error) {
	report := Report{
		Rejected: map[model.AssetCategory]error{},
		Failed:   map[model.AssetCategory]error{},
	}
	var errs []error

	for _, p := range e.policies {
		id := RuleID(p.Category)
		log := e.log.With().Str("category", string(p.Category)).Str("rule_id", id).Logger()

		if p.Unlimited() {
			if err := e.backend.RemoveLifecycleRule(ctx, id); err != nil {
				log.Error().Err(err).Msg("failed to remove lifecycle rule")
				report.Failed[p.Category] = err
				errs = append(errs, err)
				continue
			}
			report.Removed = append(report.Removed, p.Category)
			log.Info().Msg("category kept indefinitely")
			continue
		}

		err := e.backend.ApplyLifecycleRule(ctx, storage.LifecycleRule{
			ID:         id,
			Prefix:     storage.Root,
			Category:   p.Category,
			Expiration: p.Retention,
		})
		switch {
		case err == nil:
			report.Applied = append(report.Applied, p.Category)
			log.Info().Dur("retention", p.Retention).Msg("lifecycle rule applied")
		case errors.Is(err, storage.ErrPolicyRejected):
			log.Warn().Err(err).Msg("lifecycle rule rejected")
			report.Rejected[p.Category] = err
		default:
			log.Error().Err(err).Msg("failed to apply lifecycle rule")
			report.Failed[p.Category] = err
			errs = append(errs, err)
		}
	}

	if len(errs) > 0 {
		return report, fmt.Errorf("reconcile lifecycle rules: %w", errors.Join(errs...))
	}
	return report, nil
}

// Audit lists every book asset and returns those older than their
// category's retention. It never deletes.
func (e *Engine) Audit(ctx context.Context) ([]Finding, error) {
	now := e.now()
	var findings []Finding
	scanned := 0

	for obj, err := range e.backend.List(ctx, storage.Root) {
		if err != nil {
			return findings, fmt.Errorf("audit: %w", err)
		}
		scanned++
		p, ok := e.PolicyFor(obj.Category)
		if !ok || p.Unlimited() {
			continue
		}
		age := now.Sub(obj.LastModified)
		if age > p.Retention {
			findings = append(findings, Finding{Object: obj, Age: age, Retention: p.Retention})
		}
	}

	e.log.Info().Int("scanned", scanned).Int("overdue", len(findings)).Msg("storage audit finished")
	return findings, nil
}
