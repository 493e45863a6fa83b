package commission

import (
	"fmt"
	"math"

	"github.com/marketgrid/commission-engine/internal/domain"
)

// GuardViolation describes a rejected calculation. It is the system's
// central correctness guarantee: a calculation whose platform revenue
// is zero or negative never reaches the ledger.
type GuardViolation struct {
	Type     domain.AlertType
	Severity domain.Severity
	Message  string
}

func (v *GuardViolation) Error() string {
	return fmt.Sprintf("%s: %s", v.Type, v.Message)
}

// Unwrap lets callers match the violation with errors.Is against
// domain.ErrZeroRevenue.
func (v *GuardViolation) Unwrap() error {
	return domain.ErrZeroRevenue
}

// CheckProfit evaluates the platform revenue that would be persisted.
// Zero and negative totals are both CRITICAL violations; nil means the
// calculation may proceed.
func CheckProfit(platformRevenue float64) *GuardViolation {
	switch {
	case platformRevenue < 0:
		return &GuardViolation{
			Type:     domain.AlertNegativeProfit,
			Severity: domain.SeverityCritical,
			Message:  fmt.Sprintf("platform revenue is negative (%.2f)", platformRevenue),
		}
	case platformRevenue == 0:
		return &GuardViolation{
			Type:     domain.AlertZeroProfit,
			Severity: domain.SeverityCritical,
			Message:  "platform revenue is zero",
		}
	}
	return nil
}

// RoundMinor rounds to currency minor units (2 decimal places), half
// away from zero. It is applied exactly once per amount, at
// persistence, so round-trips are stable.
func RoundMinor(v float64) float64 {
	return math.Round(v*100) / 100
}
