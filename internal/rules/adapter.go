// Package rules resolves commission percentages through the layered
// rule hierarchy: merchant/supplier override, then zone, city, country,
// and global default. Two heterogeneous sources back the hierarchy (a
// document store for overrides, an indexed ledger mirror for location
// tiers); the adapter normalizes both into one rule shape.
package rules

import (
	"context"
	"log"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/marketgrid/commission-engine/internal/domain"
)

// OverrideSource is the document-store side of the hierarchy.
type OverrideSource interface {
	GetActive(ctx context.Context, scope domain.RuleScope, subjectID, businessType string, at time.Time) (*domain.CommissionRule, error)
	TiersForSupplier(ctx context.Context, supplierID string) ([]domain.SupplierCommissionTier, error)
}

// LocationSource is the indexed-ledger side of the hierarchy.
type LocationSource interface {
	GetActive(ctx context.Context, scope domain.RuleScope, country, city, zone, businessType string, at time.Time) (*domain.CommissionRule, error)
}

// Scope carries the location context of one order.
type Scope struct {
	BusinessID string
	Country    string
	City       string
	Zone       string
}

// Resolution is a resolved percentage and the tier it came from.
type Resolution struct {
	Pct    float64
	Source domain.RuleScope
}

// Adapter walks the precedence hierarchy. A read failure at one tier
// degrades to the next tier; only when every attempted tier fails does
// the walk surface ErrRuleResolutionUnavailable.
type Adapter struct {
	overrides OverrideSource
	locations LocationSource
	timeout   time.Duration
	now       func() time.Time

	// Rules change rarely; lookups are cached for a short TTL. Both
	// present and absent results are cached, so staleness is bounded by
	// the TTL in either direction.
	cache *expirable.LRU[string, *domain.CommissionRule]
	tiers *expirable.LRU[string, []domain.SupplierCommissionTier]
}

// NewAdapter creates an adapter with the given cache size and TTL. A
// zero ttl disables caching in all but name (entries expire instantly).
func NewAdapter(overrides OverrideSource, locations LocationSource, size int, ttl, timeout time.Duration) *Adapter {
	if size <= 0 {
		size = 1024
	}
	return &Adapter{
		overrides: overrides,
		locations: locations,
		timeout:   timeout,
		now:       time.Now,
		cache:     expirable.NewLRU[string, *domain.CommissionRule](size, nil, ttl),
		tiers:     expirable.NewLRU[string, []domain.SupplierCommissionTier](size, nil, ttl),
	}
}

// WithClock overrides the effective-date clock for tests.
func (a *Adapter) WithClock(now func() time.Time) *Adapter {
	a.now = now
	return a
}

// MerchantOverride returns the merchant's override rule, or nil when
// absent. Exposed separately so the resolver can inspect the
// zero-commission flag and justification, not just the rate.
func (a *Adapter) MerchantOverride(ctx context.Context, businessID, businessType string) (*domain.CommissionRule, error) {
	return a.cachedOverride(ctx, domain.ScopeMerchantOverride, businessID, businessType)
}

// ResolveOrderRate walks the hierarchy for the order-subtotal rate.
func (a *Adapter) ResolveOrderRate(ctx context.Context, scope Scope, businessType string) (Resolution, bool, error) {
	return a.walk(ctx, scope, businessType, func(r *domain.CommissionRule) *float64 {
		return r.OrderCommissionPct
	})
}

// ResolveDeliveryRate walks the hierarchy for the delivery-fee rate.
// The walk is independent of the order-rate walk: an override may set
// only one of the two rates and the other inherits from location tiers.
func (a *Adapter) ResolveDeliveryRate(ctx context.Context, scope Scope, businessType string) (Resolution, bool, error) {
	return a.walk(ctx, scope, businessType, func(r *domain.CommissionRule) *float64 {
		return r.DeliveryCommissionPct
	})
}

// ResolveSupplierRate resolves the supplier leg: a supplier override
// wins, otherwise the highest volume tier covering the supplied volume.
func (a *Adapter) ResolveSupplierRate(ctx context.Context, supplierID string, volume float64) (Resolution, bool, error) {
	attempted, failed := 0, 0

	attempted++
	override, err := a.cachedOverride(ctx, domain.ScopeSupplierOverride, supplierID, "")
	if err != nil {
		failed++
		log.Printf("[rules] WARNING: supplier override lookup failed for %s: %v", supplierID, err)
	} else if override != nil && override.OrderCommissionPct != nil {
		return Resolution{Pct: *override.OrderCommissionPct, Source: domain.ScopeSupplierOverride}, true, nil
	}

	attempted++
	tiers, err := a.cachedTiers(ctx, supplierID)
	if err != nil {
		failed++
		log.Printf("[rules] WARNING: supplier tier lookup failed for %s: %v", supplierID, err)
	} else {
		// Tiers arrive sorted by min_volume descending, so the first
		// covering tier is the highest band at or below the volume.
		for i := range tiers {
			if tiers[i].Covers(volume) {
				return Resolution{Pct: tiers[i].CommissionPct, Source: domain.ScopeSupplierOverride}, true, nil
			}
		}
	}

	if failed == attempted {
		return Resolution{}, false, domain.ErrRuleResolutionUnavailable
	}
	return Resolution{}, false, nil
}

// --- walk machinery ---

type tierLookup struct {
	scope domain.RuleScope
	fetch func(ctx context.Context) (*domain.CommissionRule, error)
}

func (a *Adapter) walk(ctx context.Context, scope Scope, businessType string, pick func(*domain.CommissionRule) *float64) (Resolution, bool, error) {
	tiers := a.tierChain(scope, businessType)

	failed := 0
	for _, tier := range tiers {
		rule, err := tier.fetch(ctx)
		if err != nil {
			failed++
			log.Printf("[rules] WARNING: %s lookup failed, degrading to next tier: %v", tier.scope, err)
			continue
		}
		if rule == nil {
			continue
		}
		if pct := pick(rule); pct != nil {
			return Resolution{Pct: *pct, Source: rule.Scope}, true, nil
		}
		// Rule present but this rate inherits; keep walking.
	}

	if failed == len(tiers) {
		return Resolution{}, false, domain.ErrRuleResolutionUnavailable
	}
	return Resolution{}, false, nil
}

func (a *Adapter) tierChain(scope Scope, businessType string) []tierLookup {
	tiers := []tierLookup{{
		scope: domain.ScopeMerchantOverride,
		fetch: func(ctx context.Context) (*domain.CommissionRule, error) {
			return a.cachedOverride(ctx, domain.ScopeMerchantOverride, scope.BusinessID, businessType)
		},
	}}

	if scope.Zone != "" {
		tiers = append(tiers, a.locationTier(domain.ScopeZone, scope, businessType))
	}
	if scope.City != "" {
		tiers = append(tiers, a.locationTier(domain.ScopeCity, scope, businessType))
	}
	if scope.Country != "" {
		tiers = append(tiers, a.locationTier(domain.ScopeCountry, scope, businessType))
	}
	tiers = append(tiers, a.locationTier(domain.ScopeGlobal, scope, businessType))

	return tiers
}

func (a *Adapter) locationTier(ruleScope domain.RuleScope, scope Scope, businessType string) tierLookup {
	return tierLookup{
		scope: ruleScope,
		fetch: func(ctx context.Context) (*domain.CommissionRule, error) {
			return a.cachedLocation(ctx, ruleScope, scope, businessType)
		},
	}
}

// --- cached lookups ---

func (a *Adapter) cachedOverride(ctx context.Context, ruleScope domain.RuleScope, subjectID, businessType string) (*domain.CommissionRule, error) {
	key := string(ruleScope) + "|" + subjectID + "|" + businessType
	if rule, ok := a.cache.Get(key); ok {
		return rule, nil
	}

	ctx, cancel := a.withTimeout(ctx)
	defer cancel()

	rule, err := a.overrides.GetActive(ctx, ruleScope, subjectID, businessType, a.now())
	if err != nil {
		return nil, err
	}
	a.cache.Add(key, rule)
	return rule, nil
}

func (a *Adapter) cachedLocation(ctx context.Context, ruleScope domain.RuleScope, scope Scope, businessType string) (*domain.CommissionRule, error) {
	key := string(ruleScope) + "|" + scope.Country + "|" + scope.City + "|" + scope.Zone + "|" + businessType
	if rule, ok := a.cache.Get(key); ok {
		return rule, nil
	}

	ctx, cancel := a.withTimeout(ctx)
	defer cancel()

	rule, err := a.locations.GetActive(ctx, ruleScope, scope.Country, scope.City, scope.Zone, businessType, a.now())
	if err != nil {
		return nil, err
	}
	a.cache.Add(key, rule)
	return rule, nil
}

func (a *Adapter) cachedTiers(ctx context.Context, supplierID string) ([]domain.SupplierCommissionTier, error) {
	if tiers, ok := a.tiers.Get(supplierID); ok {
		return tiers, nil
	}

	ctx, cancel := a.withTimeout(ctx)
	defer cancel()

	tiers, err := a.overrides.TiersForSupplier(ctx, supplierID)
	if err != nil {
		return nil, err
	}
	a.tiers.Add(supplierID, tiers)
	return tiers, nil
}

// Invalidate drops all cached rules. Called after admin rule writes so
// the next calculation sees the new rule immediately.
func (a *Adapter) Invalidate() {
	a.cache.Purge()
	a.tiers.Purge()
}

func (a *Adapter) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if a.timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, a.timeout)
}
