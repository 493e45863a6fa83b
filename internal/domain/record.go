package domain

import "time"

type RecordStatus string

const (
	StatusCalculated RecordStatus = "CALCULATED"
	StatusSettled    RecordStatus = "SETTLED"
	StatusReversed   RecordStatus = "REVERSED"
)

type AnchorStatus string

const (
	AnchorPending   AnchorStatus = "PENDING"
	AnchorConfirmed AnchorStatus = "ANCHORED"
	AnchorFailed    AnchorStatus = "FAILED"
)

// OrderCommissionRecord is the immutable financial record of a single
// commission calculation. At most one non-reversed record exists per
// order; supersession reverses the prior version and writes the next.
type OrderCommissionRecord struct {
	ID           string `json:"id"`
	OrderID      string `json:"order_id"`
	Version      int    `json:"version"`
	BusinessID   string `json:"business_id"`
	BusinessType string `json:"business_type"`

	OrderSubtotal float64 `json:"order_subtotal"`
	DeliveryFee   float64 `json:"delivery_fee"`

	OrderCommissionPct    float64  `json:"order_commission_pct"`
	DeliveryCommissionPct float64  `json:"delivery_commission_pct"`
	SupplierCommissionPct *float64 `json:"supplier_commission_pct,omitempty"`

	OrderCommissionAmount    float64  `json:"order_commission_amount"`
	DeliveryCommissionAmount float64  `json:"delivery_commission_amount"`
	SupplierCommissionAmount *float64 `json:"supplier_commission_amount,omitempty"`

	PlatformRevenue float64 `json:"platform_revenue"`
	MerchantPayout  float64 `json:"merchant_payout"`

	Status         RecordStatus `json:"status"`
	CalculatedAt   time.Time    `json:"calculated_at"`
	SettledAt      *time.Time   `json:"settled_at,omitempty"`
	ReversedAt     *time.Time   `json:"reversed_at,omitempty"`
	ReversalReason string       `json:"reversal_reason,omitempty"`

	AnchorStatus    AnchorStatus `json:"anchor_status"`
	LedgerAnchorRef string       `json:"ledger_anchor_ref,omitempty"`
}

// CommissionBreakdown is the calculation result returned to the order
// pipeline. Amounts are already rounded to currency minor units; the
// rate sources record which tier each percentage came from.
type CommissionBreakdown struct {
	OrderID string `json:"order_id"`

	OrderCommissionPct    float64  `json:"order_commission_pct"`
	DeliveryCommissionPct float64  `json:"delivery_commission_pct"`
	SupplierCommissionPct *float64 `json:"supplier_commission_pct,omitempty"`

	OrderRateSource    RuleScope `json:"order_rate_source"`
	DeliveryRateSource RuleScope `json:"delivery_rate_source"`

	OrderCommissionAmount    float64  `json:"order_commission_amount"`
	DeliveryCommissionAmount float64  `json:"delivery_commission_amount"`
	SupplierCommissionAmount *float64 `json:"supplier_commission_amount,omitempty"`

	PlatformRevenue float64 `json:"platform_revenue"`
	MerchantPayout  float64 `json:"merchant_payout"`
}

// CommissionSummary aggregates non-reversed records over a period.
type CommissionSummary struct {
	TotalOrders         int     `json:"total_orders"`
	TotalRevenue        float64 `json:"total_revenue"`
	OrderCommission     float64 `json:"order_commission"`
	DeliveryCommission  float64 `json:"delivery_commission"`
	SupplierCommission  float64 `json:"supplier_commission"`
	AverageOrderRevenue float64 `json:"average_order_revenue"`
}
