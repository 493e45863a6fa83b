package domain

import (
	"encoding/json"
	"time"
)

type AlertType string

const (
	AlertZeroProfit        AlertType = "ZERO_PROFIT"
	AlertNegativeProfit    AlertType = "NEGATIVE_PROFIT"
	AlertCommissionBypass  AlertType = "COMMISSION_BYPASS"
	AlertSettlementAnomaly AlertType = "SETTLEMENT_ANOMALY"
)

type Severity string

const (
	SeverityCritical Severity = "CRITICAL"
	SeverityHigh     Severity = "HIGH"
	SeverityMedium   Severity = "MEDIUM"
)

// ProfitAlert is raised by the profit guard or integrity checks and is
// resolved only by an explicit admin action, never automatically.
type ProfitAlert struct {
	ID         string          `json:"id"`
	OrderID    string          `json:"order_id,omitempty"`
	Type       AlertType       `json:"type"`
	Severity   Severity        `json:"severity"`
	Message    string          `json:"message"`
	Details    json.RawMessage `json:"details,omitempty"`
	Resolved   bool            `json:"resolved"`
	ResolvedBy string          `json:"resolved_by,omitempty"`
	ResolvedAt *time.Time      `json:"resolved_at,omitempty"`
	CreatedAt  time.Time       `json:"created_at"`
}
