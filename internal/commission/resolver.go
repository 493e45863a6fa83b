// Package commission computes how each completed order's revenue splits
// between the platform, the merchant, and an optional supplier, and
// owns the resulting ledger record's lifecycle.
package commission

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/marketgrid/commission-engine/internal/audit"
	"github.com/marketgrid/commission-engine/internal/domain"
	"github.com/marketgrid/commission-engine/internal/repository"
	"github.com/marketgrid/commission-engine/internal/rules"
)

// Defaults are the named safe rates applied when every rule tier
// resolves to absence. They are caller-supplied, never hidden literals.
type Defaults struct {
	OrderPct    float64
	DeliveryPct float64
}

// CalculationInput is one completed order entering the engine.
type CalculationInput struct {
	OrderID       string  `json:"order_id"`
	BusinessID    string  `json:"business_id"`
	BusinessType  string  `json:"business_type"`
	OrderSubtotal float64 `json:"order_subtotal"`
	DeliveryFee   float64 `json:"delivery_fee"`
	Country       string  `json:"country"`
	City          string  `json:"city,omitempty"`
	Zone          string  `json:"zone,omitempty"`

	SupplierID     string   `json:"supplier_id,omitempty"`
	SupplierVolume *float64 `json:"supplier_volume,omitempty"`
}

func (in *CalculationInput) validate() error {
	if in.OrderID == "" {
		return fmt.Errorf("order_id is required")
	}
	if in.BusinessID == "" {
		return fmt.Errorf("business_id is required")
	}
	if in.OrderSubtotal < 0 || in.DeliveryFee < 0 {
		return fmt.Errorf("order_subtotal and delivery_fee must be non-negative")
	}
	if in.SupplierID != "" && in.SupplierVolume == nil {
		return fmt.Errorf("supplier_volume is required when supplier_id is set")
	}
	return nil
}

// Service is the commission resolver plus the ledger state machine.
type Service struct {
	adapter  *rules.Adapter
	records  *repository.RecordRepo
	auditSvc *audit.Service
	defaults Defaults
	now      func() time.Time
}

func NewService(adapter *rules.Adapter, records *repository.RecordRepo, auditSvc *audit.Service, defaults Defaults) *Service {
	return &Service{
		adapter:  adapter,
		records:  records,
		auditSvc: auditSvc,
		defaults: defaults,
		now:      time.Now,
	}
}

// WithClock overrides the clock for tests.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// CalculateCommissions resolves the split for one order, checks the
// profit guard, and persists the record. Calling it twice for the same
// order fails with ErrDuplicateCalculation and leaves the first record
// untouched.
func (s *Service) CalculateCommissions(ctx context.Context, in CalculationInput) (*domain.CommissionBreakdown, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}

	breakdown, grant, err := s.resolve(ctx, in)
	if err != nil {
		return nil, err
	}

	if violation := CheckProfit(breakdown.PlatformRevenue); violation != nil {
		if err := s.raiseGuardAlert(in.OrderID, violation, breakdown); err != nil {
			return nil, err
		}
		return nil, violation
	}

	if err := s.persist(in, breakdown, grant); err != nil {
		return nil, err
	}

	log.Printf("[resolver] Calculated order %s: platform=%.2f merchant=%.2f (order %s%.2f%%, delivery %s%.2f%%)",
		in.OrderID, breakdown.PlatformRevenue, breakdown.MerchantPayout,
		breakdown.OrderRateSource, breakdown.OrderCommissionPct,
		breakdown.DeliveryRateSource, breakdown.DeliveryCommissionPct)

	return breakdown, nil
}

// resolve walks the rule hierarchy and computes the rounded split
// without touching the ledger. When a zero-commission override drove
// the order rate it is returned alongside, so the caller can record
// the grant in the same transaction as the ledger write.
func (s *Service) resolve(ctx context.Context, in CalculationInput) (*domain.CommissionBreakdown, *domain.CommissionRule, error) {
	scope := rules.Scope{
		BusinessID: in.BusinessID,
		Country:    in.Country,
		City:       in.City,
		Zone:       in.Zone,
	}

	override, err := s.adapter.MerchantOverride(ctx, in.BusinessID, in.BusinessType)
	if err != nil {
		// One tier failing degrades; the full walks below decide whether
		// resolution is impossible outright.
		log.Printf("[resolver] WARNING: merchant override lookup failed for %s: %v", in.BusinessID, err)
		override = nil
	}
	var grant *domain.CommissionRule
	if override != nil && override.IsZeroCommission {
		grant = override
	}

	var orderRes rules.Resolution
	if grant != nil {
		orderRes = rules.Resolution{Pct: 0, Source: domain.ScopeMerchantOverride}
	} else {
		orderRes, err = s.resolveRate(ctx, scope, in.BusinessType, s.adapter.ResolveOrderRate, s.defaults.OrderPct)
		if err != nil {
			return nil, nil, err
		}
	}

	// The delivery walk is independent: a zero-commission merchant still
	// pays delivery commission unless a rule says otherwise.
	deliveryRes, err := s.resolveRate(ctx, scope, in.BusinessType, s.adapter.ResolveDeliveryRate, s.defaults.DeliveryPct)
	if err != nil {
		return nil, nil, err
	}

	breakdown := &domain.CommissionBreakdown{
		OrderID:               in.OrderID,
		OrderCommissionPct:    orderRes.Pct,
		DeliveryCommissionPct: deliveryRes.Pct,
		OrderRateSource:       orderRes.Source,
		DeliveryRateSource:    deliveryRes.Source,
	}

	if in.SupplierID != "" {
		supplierRes, ok, err := s.adapter.ResolveSupplierRate(ctx, in.SupplierID, *in.SupplierVolume)
		if err != nil {
			return nil, nil, fmt.Errorf("resolve supplier rate: %w", err)
		}
		if ok {
			pct := supplierRes.Pct
			breakdown.SupplierCommissionPct = &pct
		}
	}

	// Rounding to minor units happens exactly once, here. The platform
	// revenue is then the exact sum of the rounded legs, so the ledger
	// identity holds without drift.
	breakdown.OrderCommissionAmount = RoundMinor(in.OrderSubtotal * breakdown.OrderCommissionPct / 100)
	breakdown.DeliveryCommissionAmount = RoundMinor(in.DeliveryFee * breakdown.DeliveryCommissionPct / 100)

	supplierAmount := 0.0
	if breakdown.SupplierCommissionPct != nil {
		supplierAmount = RoundMinor(in.OrderSubtotal * *breakdown.SupplierCommissionPct / 100)
		breakdown.SupplierCommissionAmount = &supplierAmount
	}

	breakdown.PlatformRevenue = breakdown.OrderCommissionAmount + breakdown.DeliveryCommissionAmount + supplierAmount

	// Delivery commission comes out of the delivery fee pool, not the
	// merchant's goods revenue, so it is not deducted here.
	breakdown.MerchantPayout = RoundMinor(in.OrderSubtotal - breakdown.OrderCommissionAmount - supplierAmount)

	return breakdown, grant, nil
}

type rateWalk func(ctx context.Context, scope rules.Scope, businessType string) (rules.Resolution, bool, error)

func (s *Service) resolveRate(ctx context.Context, scope rules.Scope, businessType string, walk rateWalk, fallback float64) (rules.Resolution, error) {
	res, ok, err := walk(ctx, scope, businessType)
	if err != nil {
		// All tiers unreachable. An unlogged arbitrary default is itself
		// an integrity risk, so abort order completion instead.
		return rules.Resolution{}, fmt.Errorf("resolve rate for %s: %w", scope.BusinessID, err)
	}
	if !ok {
		return rules.Resolution{Pct: fallback, Source: domain.ScopeDefault}, nil
	}
	return res, nil
}

func zeroGrantEntry(in CalculationInput, override *domain.CommissionRule) *domain.AuditLogEntry {
	justification := override.Justification
	if justification == "" {
		// A zero-commission merchant without a justification is a data
		// integrity defect upstream; proceed but record the gap.
		justification = "not provided"
	}

	snapshot, _ := json.Marshal(override)
	return &domain.AuditLogEntry{
		Action:     domain.ActionZeroCommissionGrant,
		EntityType: "order",
		EntityID:   in.OrderID,
		NewValue:   snapshot,
		Reason:     justification,
	}
}

func (s *Service) raiseGuardAlert(orderID string, v *GuardViolation, breakdown *domain.CommissionBreakdown) error {
	details, _ := json.Marshal(breakdown)
	return s.auditSvc.CreateProfitAlert(&domain.ProfitAlert{
		OrderID:  orderID,
		Type:     v.Type,
		Severity: v.Severity,
		Message:  fmt.Sprintf("order %s: %s", orderID, v.Message),
		Details:  details,
	})
}

// persist writes the record, its calculation entry, and any
// zero-commission grant entry in one transaction. A duplicate or
// guard-rejected calculation therefore leaves no grant entry behind.
func (s *Service) persist(in CalculationInput, breakdown *domain.CommissionBreakdown, grant *domain.CommissionRule) error {
	tx, err := s.records.DB().Begin()
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	rec, err := s.insertRecord(tx, in, breakdown)
	if err != nil {
		return err
	}

	if grant != nil {
		if err := s.auditSvc.LogActionTx(tx, zeroGrantEntry(in, grant)); err != nil {
			return err
		}
	}

	snapshot, _ := json.Marshal(rec)
	err = s.auditSvc.LogActionTx(tx, &domain.AuditLogEntry{
		Action:     domain.ActionCommissionCalculated,
		EntityType: "commission_record",
		EntityID:   rec.OrderID,
		NewValue:   snapshot,
	})
	if err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func (s *Service) insertRecord(tx *sql.Tx, in CalculationInput, breakdown *domain.CommissionBreakdown) (*domain.OrderCommissionRecord, error) {
	version, err := s.records.NextVersion(tx, in.OrderID)
	if err != nil {
		return nil, fmt.Errorf("next version: %w", err)
	}

	rec := &domain.OrderCommissionRecord{
		ID:           uuid.New().String(),
		OrderID:      in.OrderID,
		Version:      version,
		BusinessID:   in.BusinessID,
		BusinessType: in.BusinessType,

		OrderSubtotal: in.OrderSubtotal,
		DeliveryFee:   in.DeliveryFee,

		OrderCommissionPct:    breakdown.OrderCommissionPct,
		DeliveryCommissionPct: breakdown.DeliveryCommissionPct,
		SupplierCommissionPct: breakdown.SupplierCommissionPct,

		OrderCommissionAmount:    breakdown.OrderCommissionAmount,
		DeliveryCommissionAmount: breakdown.DeliveryCommissionAmount,
		SupplierCommissionAmount: breakdown.SupplierCommissionAmount,

		PlatformRevenue: breakdown.PlatformRevenue,
		MerchantPayout:  breakdown.MerchantPayout,

		Status:       domain.StatusCalculated,
		CalculatedAt: s.now(),
		AnchorStatus: domain.AnchorPending,
	}

	if err := s.records.Insert(tx, rec); err != nil {
		return nil, err
	}
	return rec, nil
}
