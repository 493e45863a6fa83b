package commission

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marketgrid/commission-engine/internal/domain"
	"github.com/marketgrid/commission-engine/internal/repository"
)

func (f *fixture) calculate(t *testing.T, orderID string) *domain.CommissionBreakdown {
	t.Helper()
	b, err := f.svc.CalculateCommissions(context.Background(), baseInput(orderID))
	require.NoError(t, err)
	return b
}

func TestSettleCommission(t *testing.T) {
	f := newFixture(t)
	f.seedCountryRule(t, "CO", 5, 2)
	f.calculate(t, "order-1")

	require.NoError(t, f.svc.SettleCommission("order-1"))

	rec, err := f.svc.GetRecord("order-1")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusSettled, rec.Status)
	require.NotNil(t, rec.SettledAt)

	entries, _, err := f.auditRepo.List(repository.AuditFilter{
		Action:   string(domain.ActionCommissionSettled),
		EntityID: "order-1",
	})
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestSettleCommission_SecondSettleIsNoOp(t *testing.T) {
	f := newFixture(t)
	f.seedCountryRule(t, "CO", 5, 2)
	f.calculate(t, "order-1")

	require.NoError(t, f.svc.SettleCommission("order-1"))
	require.NoError(t, f.svc.SettleCommission("order-1"))

	rec, err := f.svc.GetRecord("order-1")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusSettled, rec.Status)
}

func TestSettleCommission_NotFound(t *testing.T) {
	f := newFixture(t)

	err := f.svc.SettleCommission("order-missing")
	assert.True(t, errors.Is(err, domain.ErrRecordNotFound))
}

func TestReverseCommission(t *testing.T) {
	f := newFixture(t)
	f.seedCountryRule(t, "CO", 5, 2)
	f.calculate(t, "order-1")

	require.NoError(t, f.svc.ReverseCommission("order-1", "order refunded", "admin-1"))

	rec, err := f.svc.GetRecord("order-1")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusReversed, rec.Status)
	assert.Equal(t, "order refunded", rec.ReversalReason)
	require.NotNil(t, rec.ReversedAt)

	entries, _, err := f.auditRepo.List(repository.AuditFilter{
		Action:   string(domain.ActionCommissionReversed),
		EntityID: "order-1",
	})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "admin-1", entries[0].AdminID)
	// The pre-reversal snapshot rides in the audit entry.
	assert.NotEmpty(t, entries[0].OldValue)
}

func TestReverseCommission_ReasonRequired(t *testing.T) {
	f := newFixture(t)
	f.seedCountryRule(t, "CO", 5, 2)
	f.calculate(t, "order-1")

	err := f.svc.ReverseCommission("order-1", "", "admin-1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "reason")
}

func TestReverseCommission_OnlyOnce(t *testing.T) {
	f := newFixture(t)
	f.seedCountryRule(t, "CO", 5, 2)
	f.calculate(t, "order-1")

	require.NoError(t, f.svc.ReverseCommission("order-1", "order refunded", "admin-1"))

	err := f.svc.ReverseCommission("order-1", "again", "admin-1")
	assert.True(t, errors.Is(err, domain.ErrAlreadyReversed))

	// Reversal is terminal: settling afterwards rejects too.
	err = f.svc.SettleCommission("order-1")
	assert.True(t, errors.Is(err, domain.ErrAlreadyReversed))
}

func TestReverseCommission_SettledRecordCanReverse(t *testing.T) {
	f := newFixture(t)
	f.seedCountryRule(t, "CO", 5, 2)
	f.calculate(t, "order-1")

	require.NoError(t, f.svc.SettleCommission("order-1"))
	require.NoError(t, f.svc.ReverseCommission("order-1", "clawback", "admin-1"))

	rec, err := f.svc.GetRecord("order-1")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusReversed, rec.Status)
}

func TestSupersedeCommission(t *testing.T) {
	f := newFixture(t)
	f.seedCountryRule(t, "CO", 5, 2)
	f.calculate(t, "order-1")

	in := baseInput("order-1")
	in.OrderSubtotal = 150

	b, err := f.svc.SupersedeCommission(context.Background(), in, "order amended after support call", "admin-1")
	require.NoError(t, err)
	assert.Equal(t, 7.50, b.OrderCommissionAmount)

	rec, err := f.svc.GetRecord("order-1")
	require.NoError(t, err)
	assert.Equal(t, 2, rec.Version)
	assert.Equal(t, domain.StatusCalculated, rec.Status)
	assert.Equal(t, 150.0, rec.OrderSubtotal)

	// The reversal and the replacement are both audited.
	reversed, _, err := f.auditRepo.List(repository.AuditFilter{
		Action:   string(domain.ActionCommissionReversed),
		EntityID: "order-1",
	})
	require.NoError(t, err)
	assert.Len(t, reversed, 1)

	calculated, _, err := f.auditRepo.List(repository.AuditFilter{
		Action:   string(domain.ActionCommissionCalculated),
		EntityID: "order-1",
	})
	require.NoError(t, err)
	assert.Len(t, calculated, 2)
}

func TestSupersedeCommission_RequiresExistingRecord(t *testing.T) {
	f := newFixture(t)
	f.seedCountryRule(t, "CO", 5, 2)

	_, err := f.svc.SupersedeCommission(context.Background(), baseInput("order-1"), "amended", "admin-1")
	assert.True(t, errors.Is(err, domain.ErrRecordNotFound))
}

func TestSupersedeCommission_GuardBlocksReplacement(t *testing.T) {
	f := newFixture(t)
	f.seedCountryRule(t, "CO", 5, 2)
	f.calculate(t, "order-1")

	in := baseInput("order-1")
	in.OrderSubtotal = 0
	in.DeliveryFee = 0

	_, err := f.svc.SupersedeCommission(context.Background(), in, "amended", "admin-1")
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrZeroRevenue))

	// The original record survives unreversed.
	rec, err := f.svc.GetRecord("order-1")
	require.NoError(t, err)
	assert.Equal(t, 1, rec.Version)
	assert.Equal(t, domain.StatusCalculated, rec.Status)
}

func TestValidateOrderProfit(t *testing.T) {
	f := newFixture(t)
	f.seedCountryRule(t, "CO", 5, 2)
	f.calculate(t, "order-1")

	check, err := f.svc.ValidateOrderProfit("order-1")
	require.NoError(t, err)
	assert.True(t, check.Valid)

	require.NoError(t, f.svc.ReverseCommission("order-1", "refund", "admin-1"))
	check, err = f.svc.ValidateOrderProfit("order-1")
	require.NoError(t, err)
	assert.False(t, check.Valid)
	assert.Contains(t, check.Message, "reversed")

	_, err = f.svc.ValidateOrderProfit("order-missing")
	assert.True(t, errors.Is(err, domain.ErrRecordNotFound))
}

func TestSummary_ExcludesReversed(t *testing.T) {
	f := newFixture(t)
	f.seedCountryRule(t, "CO", 5, 2)
	f.calculate(t, "order-1")
	f.calculate(t, "order-2")
	f.calculate(t, "order-3")
	require.NoError(t, f.svc.ReverseCommission("order-3", "refund", "admin-1"))

	s, err := f.svc.Summary(testNow.Add(-time.Hour), testNow.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 2, s.TotalOrders)
	assert.InDelta(t, 10.40, s.TotalRevenue, 0.001)
	assert.InDelta(t, 10.00, s.OrderCommission, 0.001)
	assert.InDelta(t, 0.40, s.DeliveryCommission, 0.001)
	assert.InDelta(t, 5.20, s.AverageOrderRevenue, 0.001)
}
