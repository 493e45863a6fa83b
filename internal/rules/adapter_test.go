package rules

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marketgrid/commission-engine/internal/domain"
)

// stubOverrides is an in-memory OverrideSource keyed by scope|subject.
type stubOverrides struct {
	rules map[string]*domain.CommissionRule
	tiers map[string][]domain.SupplierCommissionTier
	err   error
	calls int
}

func (s *stubOverrides) GetActive(_ context.Context, scope domain.RuleScope, subjectID, _ string, _ time.Time) (*domain.CommissionRule, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	return s.rules[string(scope)+"|"+subjectID], nil
}

func (s *stubOverrides) TiersForSupplier(_ context.Context, supplierID string) ([]domain.SupplierCommissionTier, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.tiers[supplierID], nil
}

// stubLocations is an in-memory LocationSource keyed by scope.
type stubLocations struct {
	rules map[domain.RuleScope]*domain.CommissionRule
	err   error
	calls int
}

func (s *stubLocations) GetActive(_ context.Context, scope domain.RuleScope, _, _, _, _ string, _ time.Time) (*domain.CommissionRule, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	return s.rules[scope], nil
}

func ptr(v float64) *float64 { return &v }

func locationRule(scope domain.RuleScope, orderPct, deliveryPct *float64) *domain.CommissionRule {
	return &domain.CommissionRule{
		ID:                    string(scope) + "-rule",
		Scope:                 scope,
		OrderCommissionPct:    orderPct,
		DeliveryCommissionPct: deliveryPct,
		IsActive:              true,
	}
}

func fullScope() Scope {
	return Scope{BusinessID: "biz-1", Country: "CO", City: "Bogota", Zone: "chapinero"}
}

func TestResolveOrderRate_Precedence(t *testing.T) {
	overrides := &stubOverrides{rules: map[string]*domain.CommissionRule{
		"MERCHANT_OVERRIDE|biz-1": {
			Scope:              domain.ScopeMerchantOverride,
			SubjectID:          "biz-1",
			OrderCommissionPct: ptr(10),
			IsActive:           true,
		},
	}}
	locations := &stubLocations{rules: map[domain.RuleScope]*domain.CommissionRule{
		domain.ScopeZone:    locationRule(domain.ScopeZone, ptr(8), nil),
		domain.ScopeCity:    locationRule(domain.ScopeCity, ptr(7), nil),
		domain.ScopeCountry: locationRule(domain.ScopeCountry, ptr(5), nil),
		domain.ScopeGlobal:  locationRule(domain.ScopeGlobal, ptr(4), nil),
	}}
	a := NewAdapter(overrides, locations, 16, time.Minute, 0)

	res, ok, err := a.ResolveOrderRate(context.Background(), fullScope(), "restaurant")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 10.0, res.Pct)
	assert.Equal(t, domain.ScopeMerchantOverride, res.Source)

	// Without the merchant override the zone rule wins.
	delete(overrides.rules, "MERCHANT_OVERRIDE|biz-1")
	a.Invalidate()
	res, ok, err = a.ResolveOrderRate(context.Background(), fullScope(), "restaurant")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 8.0, res.Pct)
	assert.Equal(t, domain.ScopeZone, res.Source)

	// Without the zone rule the city rule wins, and so on down.
	delete(locations.rules, domain.ScopeZone)
	a.Invalidate()
	res, _, err = a.ResolveOrderRate(context.Background(), fullScope(), "restaurant")
	require.NoError(t, err)
	assert.Equal(t, domain.ScopeCity, res.Source)

	delete(locations.rules, domain.ScopeCity)
	delete(locations.rules, domain.ScopeCountry)
	a.Invalidate()
	res, _, err = a.ResolveOrderRate(context.Background(), fullScope(), "restaurant")
	require.NoError(t, err)
	assert.Equal(t, 4.0, res.Pct)
	assert.Equal(t, domain.ScopeGlobal, res.Source)
}

func TestResolveDeliveryRate_InheritsAcrossTiers(t *testing.T) {
	// The override sets only the order rate; the delivery rate walks
	// past it to the country rule.
	overrides := &stubOverrides{rules: map[string]*domain.CommissionRule{
		"MERCHANT_OVERRIDE|biz-1": {
			Scope:              domain.ScopeMerchantOverride,
			SubjectID:          "biz-1",
			OrderCommissionPct: ptr(10),
			IsActive:           true,
		},
	}}
	locations := &stubLocations{rules: map[domain.RuleScope]*domain.CommissionRule{
		domain.ScopeCountry: locationRule(domain.ScopeCountry, ptr(5), ptr(2)),
	}}
	a := NewAdapter(overrides, locations, 16, time.Minute, 0)

	res, ok, err := a.ResolveDeliveryRate(context.Background(), fullScope(), "restaurant")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 2.0, res.Pct)
	assert.Equal(t, domain.ScopeCountry, res.Source)
}

func TestResolveOrderRate_AbsenceEverywhere(t *testing.T) {
	a := NewAdapter(&stubOverrides{}, &stubLocations{}, 16, time.Minute, 0)

	_, ok, err := a.ResolveOrderRate(context.Background(), fullScope(), "restaurant")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestResolveOrderRate_TierFailureDegrades(t *testing.T) {
	overrides := &stubOverrides{err: fmt.Errorf("document store down")}
	locations := &stubLocations{rules: map[domain.RuleScope]*domain.CommissionRule{
		domain.ScopeCountry: locationRule(domain.ScopeCountry, ptr(5), ptr(2)),
	}}
	a := NewAdapter(overrides, locations, 16, time.Minute, 0)

	res, ok, err := a.ResolveOrderRate(context.Background(), fullScope(), "restaurant")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 5.0, res.Pct)
	assert.Equal(t, domain.ScopeCountry, res.Source)
}

func TestResolveOrderRate_AllTiersFail(t *testing.T) {
	overrides := &stubOverrides{err: fmt.Errorf("document store down")}
	locations := &stubLocations{err: fmt.Errorf("subgraph mirror down")}
	a := NewAdapter(overrides, locations, 16, time.Minute, 0)

	_, _, err := a.ResolveOrderRate(context.Background(), fullScope(), "restaurant")
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrRuleResolutionUnavailable))
}

func TestResolveSupplierRate_TierSelection(t *testing.T) {
	overrides := &stubOverrides{tiers: map[string][]domain.SupplierCommissionTier{
		"sup-1": {
			{SupplierID: "sup-1", MinVolume: 1000, CommissionPct: 3, IsActive: true},
			{SupplierID: "sup-1", MinVolume: 500, MaxVolume: ptr(1000), CommissionPct: 2, IsActive: true},
			{SupplierID: "sup-1", MinVolume: 0, MaxVolume: ptr(500), CommissionPct: 1, IsActive: true},
		},
	}}
	a := NewAdapter(overrides, &stubLocations{}, 16, time.Minute, 0)

	res, ok, err := a.ResolveSupplierRate(context.Background(), "sup-1", 1200)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 3.0, res.Pct)

	a.Invalidate()
	res, ok, err = a.ResolveSupplierRate(context.Background(), "sup-1", 400)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 1.0, res.Pct)

	// Unknown supplier resolves to absence, not an error.
	_, ok, err = a.ResolveSupplierRate(context.Background(), "sup-9", 100)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestResolveSupplierRate_OverrideBeatsTiers(t *testing.T) {
	overrides := &stubOverrides{
		rules: map[string]*domain.CommissionRule{
			"SUPPLIER_OVERRIDE|sup-1": {
				Scope:              domain.ScopeSupplierOverride,
				SubjectID:          "sup-1",
				OrderCommissionPct: ptr(7.5),
				IsActive:           true,
			},
		},
		tiers: map[string][]domain.SupplierCommissionTier{
			"sup-1": {{SupplierID: "sup-1", MinVolume: 0, CommissionPct: 1, IsActive: true}},
		},
	}
	a := NewAdapter(overrides, &stubLocations{}, 16, time.Minute, 0)

	res, ok, err := a.ResolveSupplierRate(context.Background(), "sup-1", 100)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 7.5, res.Pct)
	assert.Equal(t, domain.ScopeSupplierOverride, res.Source)
}

func TestResolveSupplierRate_AllLookupsFail(t *testing.T) {
	overrides := &stubOverrides{err: fmt.Errorf("store down")}
	a := NewAdapter(overrides, &stubLocations{}, 16, time.Minute, 0)

	_, _, err := a.ResolveSupplierRate(context.Background(), "sup-1", 100)
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrRuleResolutionUnavailable))
}

func TestMerchantOverride_AbsentIsNil(t *testing.T) {
	a := NewAdapter(&stubOverrides{}, &stubLocations{}, 16, time.Minute, 0)

	rule, err := a.MerchantOverride(context.Background(), "biz-1", "restaurant")
	require.NoError(t, err)
	assert.Nil(t, rule)
}

func TestAdapter_CachesLookups(t *testing.T) {
	overrides := &stubOverrides{rules: map[string]*domain.CommissionRule{
		"MERCHANT_OVERRIDE|biz-1": {
			Scope:              domain.ScopeMerchantOverride,
			SubjectID:          "biz-1",
			OrderCommissionPct: ptr(10),
			IsActive:           true,
		},
	}}
	a := NewAdapter(overrides, &stubLocations{}, 16, time.Minute, 0)

	_, err := a.MerchantOverride(context.Background(), "biz-1", "restaurant")
	require.NoError(t, err)
	_, err = a.MerchantOverride(context.Background(), "biz-1", "restaurant")
	require.NoError(t, err)
	assert.Equal(t, 1, overrides.calls)

	// Absence is cached too.
	_, err = a.MerchantOverride(context.Background(), "biz-2", "restaurant")
	require.NoError(t, err)
	_, err = a.MerchantOverride(context.Background(), "biz-2", "restaurant")
	require.NoError(t, err)
	assert.Equal(t, 2, overrides.calls)

	a.Invalidate()
	_, err = a.MerchantOverride(context.Background(), "biz-1", "restaurant")
	require.NoError(t, err)
	assert.Equal(t, 3, overrides.calls)
}
