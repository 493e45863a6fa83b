package commission

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/marketgrid/commission-engine/internal/domain"
)

// SettleCommission confirms settlement of the live record, invoked by
// the owning payment flow. Settling an already settled record is a
// no-op acknowledgment; a reversed record rejects with
// ErrAlreadyReversed.
func (s *Service) SettleCommission(orderID string) error {
	tx, err := s.records.DB().Begin()
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	rec, err := s.records.MarkSettled(tx, orderID, s.now())
	if err != nil {
		return err
	}

	snapshot, _ := json.Marshal(rec)
	err = s.auditSvc.LogActionTx(tx, &domain.AuditLogEntry{
		Action:     domain.ActionCommissionSettled,
		EntityType: "commission_record",
		EntityID:   orderID,
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

// ReverseCommission transitions the live record to REVERSED exactly
// once, capturing the pre-reversal snapshot in the audit trail. A
// second reversal for the same order fails with ErrAlreadyReversed.
func (s *Service) ReverseCommission(orderID, reason, adminID string) error {
	if reason == "" {
		return fmt.Errorf("reversal reason is required")
	}

	tx, err := s.records.DB().Begin()
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	if err := s.reverseInTx(tx, orderID, reason, adminID); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}

	log.Printf("[resolver] Reversed commission for order %s: %s", orderID, reason)
	return nil
}

func (s *Service) reverseInTx(tx *sql.Tx, orderID, reason, adminID string) error {
	snapshot, err := s.records.MarkReversed(tx, orderID, s.now(), reason)
	if err != nil {
		return err
	}

	oldValue, _ := json.Marshal(snapshot)
	return s.auditSvc.LogActionTx(tx, &domain.AuditLogEntry{
		AdminID:    adminID,
		Action:     domain.ActionCommissionReversed,
		EntityType: "commission_record",
		EntityID:   orderID,
		OldValue:   oldValue,
		Reason:     reason,
	})
}

// SupersedeCommission recalculates an amended order: the prior record
// is reversed and a new version created, both inside one transaction
// and both audited. There is no in-place recalculation path.
func (s *Service) SupersedeCommission(ctx context.Context, in CalculationInput, reason, adminID string) (*domain.CommissionBreakdown, error) {
	if reason == "" {
		return nil, fmt.Errorf("supersede reason is required")
	}
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

	tx, err := s.records.DB().Begin()
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	if err := s.reverseInTx(tx, in.OrderID, reason, adminID); err != nil {
		return nil, err
	}

	rec, err := s.insertRecord(tx, in, breakdown)
	if err != nil {
		return nil, err
	}

	if grant != nil {
		if err := s.auditSvc.LogActionTx(tx, zeroGrantEntry(in, grant)); err != nil {
			return nil, err
		}
	}

	snapshot, _ := json.Marshal(rec)
	err = s.auditSvc.LogActionTx(tx, &domain.AuditLogEntry{
		AdminID:    adminID,
		Action:     domain.ActionCommissionCalculated,
		EntityType: "commission_record",
		EntityID:   rec.OrderID,
		NewValue:   snapshot,
		Reason:     reason,
	})
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}

	log.Printf("[resolver] Superseded commission for order %s (v%d): %s", in.OrderID, rec.Version, reason)
	return breakdown, nil
}

// ProfitCheck reports whether the latest record for an order holds a
// positive platform revenue.
type ProfitCheck struct {
	Valid   bool   `json:"valid"`
	Message string `json:"message,omitempty"`
}

// ValidateOrderProfit re-evaluates the persisted record for an order.
func (s *Service) ValidateOrderProfit(orderID string) (*ProfitCheck, error) {
	rec, err := s.records.GetLatest(orderID)
	if err != nil {
		return nil, err
	}

	if rec.Status == domain.StatusReversed {
		return &ProfitCheck{Valid: false, Message: "commission record is reversed"}, nil
	}
	if violation := CheckProfit(rec.PlatformRevenue); violation != nil {
		return &ProfitCheck{Valid: false, Message: violation.Message}, nil
	}
	return &ProfitCheck{Valid: true}, nil
}

// GetRecord returns the latest ledger record for an order.
func (s *Service) GetRecord(orderID string) (*domain.OrderCommissionRecord, error) {
	return s.records.GetLatest(orderID)
}

// Summary aggregates non-reversed records over a period.
func (s *Service) Summary(from, to time.Time) (*domain.CommissionSummary, error) {
	return s.records.Summary(from, to)
}
