package commission

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marketgrid/commission-engine/internal/domain"
)

func TestCheckProfit_Positive(t *testing.T) {
	assert.Nil(t, CheckProfit(0.01))
	assert.Nil(t, CheckProfit(5.20))
}

func TestCheckProfit_Zero(t *testing.T) {
	v := CheckProfit(0)
	require.NotNil(t, v)
	assert.Equal(t, domain.AlertZeroProfit, v.Type)
	assert.Equal(t, domain.SeverityCritical, v.Severity)
	assert.True(t, errors.Is(v, domain.ErrZeroRevenue))
}

func TestCheckProfit_Negative(t *testing.T) {
	v := CheckProfit(-3.50)
	require.NotNil(t, v)
	assert.Equal(t, domain.AlertNegativeProfit, v.Type)
	assert.Equal(t, domain.SeverityCritical, v.Severity)
	assert.True(t, errors.Is(v, domain.ErrZeroRevenue))
	assert.Contains(t, v.Error(), "-3.50")
}

func TestRoundMinor(t *testing.T) {
	assert.Equal(t, 0.38, RoundMinor(0.375))
	assert.Equal(t, -0.38, RoundMinor(-0.375))
	assert.Equal(t, 0.13, RoundMinor(0.125))
	assert.Equal(t, 2.34, RoundMinor(2.344))
	assert.Equal(t, 2.35, RoundMinor(2.346))
	assert.Equal(t, 5.0, RoundMinor(5.0))
	assert.Equal(t, 0.0, RoundMinor(0))
}
