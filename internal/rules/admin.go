package rules

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/marketgrid/commission-engine/internal/audit"
	"github.com/marketgrid/commission-engine/internal/domain"
	"github.com/marketgrid/commission-engine/internal/repository"
)

// AdminContext identifies the administrator behind a rule mutation.
type AdminContext struct {
	AdminID   string
	Reason    string
	IPAddress string
	UserAgent string
}

// AdminService applies rule mutations. Every write commits in the same
// transaction as its audit entry; overlapping-range validation is the
// owning admin tool's job, the engine only guarantees the trail.
type AdminService struct {
	db        *sql.DB
	overrides *repository.OverrideRepo
	locations *repository.LocationRuleRepo
	adapter   *Adapter
	auditSvc  *audit.Service
	now       func() time.Time
}

func NewAdminService(db *sql.DB, overrides *repository.OverrideRepo, locations *repository.LocationRuleRepo, adapter *Adapter, auditSvc *audit.Service) *AdminService {
	return &AdminService{
		db:        db,
		overrides: overrides,
		locations: locations,
		adapter:   adapter,
		auditSvc:  auditSvc,
		now:       time.Now,
	}
}

// WithClock overrides the clock for tests.
func (s *AdminService) WithClock(now func() time.Time) *AdminService {
	s.now = now
	return s
}

// UpsertOverride writes a merchant or supplier override.
func (s *AdminService) UpsertOverride(rule *domain.CommissionRule, admin AdminContext) error {
	if rule.Scope != domain.ScopeMerchantOverride && rule.Scope != domain.ScopeSupplierOverride {
		return fmt.Errorf("scope %s is not an override scope", rule.Scope)
	}
	if rule.SubjectID == "" {
		return fmt.Errorf("subject_id is required")
	}
	if rule.IsZeroCommission && rule.Justification == "" {
		return fmt.Errorf("zero-commission overrides require a justification")
	}
	if err := validatePct(rule.OrderCommissionPct); err != nil {
		return err
	}
	if err := validatePct(rule.DeliveryCommissionPct); err != nil {
		return err
	}

	s.prepare(rule)

	return s.inTx(func(tx *sql.Tx) error {
		old, err := s.overrides.GetActiveTx(tx, rule.Scope, rule.SubjectID, rule.BusinessType, s.now())
		if err != nil {
			return err
		}
		if err := s.overrides.Upsert(tx, rule); err != nil {
			return err
		}
		entry := s.mutationEntry(rule.Scope, rule.SubjectID, old, rule, admin)
		if rule.IsZeroCommission {
			entry.Action = domain.ActionZeroCommissionGrant
			entry.Reason = rule.Justification
		}
		return s.auditSvc.LogActionTx(tx, entry)
	})
}

// UpsertLocationRule writes a zone, city, country, or global rule.
func (s *AdminService) UpsertLocationRule(rule *domain.CommissionRule, admin AdminContext) error {
	switch rule.Scope {
	case domain.ScopeZone, domain.ScopeCity, domain.ScopeCountry, domain.ScopeGlobal:
	default:
		return fmt.Errorf("scope %s is not a location scope", rule.Scope)
	}
	if err := validatePct(rule.OrderCommissionPct); err != nil {
		return err
	}
	if err := validatePct(rule.DeliveryCommissionPct); err != nil {
		return err
	}

	s.prepare(rule)

	return s.inTx(func(tx *sql.Tx) error {
		old, err := s.locations.GetActiveTx(tx, rule.Scope, rule.Country, rule.City, rule.Zone, rule.BusinessType, s.now())
		if err != nil {
			return err
		}
		if err := s.locations.Upsert(tx, rule); err != nil {
			return err
		}
		entityID := rule.Country + "/" + rule.City + "/" + rule.Zone
		return s.auditSvc.LogActionTx(tx, s.mutationEntry(rule.Scope, entityID, old, rule, admin))
	})
}

// ReplaceSupplierTiers swaps a supplier's volume tier set.
func (s *AdminService) ReplaceSupplierTiers(supplierID string, tiers []domain.SupplierCommissionTier, admin AdminContext) error {
	if supplierID == "" {
		return fmt.Errorf("supplier_id is required")
	}
	for i := range tiers {
		t := &tiers[i]
		if t.ID == "" {
			t.ID = uuid.New().String()
		}
		t.SupplierID = supplierID
		if t.CommissionPct < 0 || t.CommissionPct > 100 {
			return fmt.Errorf("tier %d: commission_pct must be between 0 and 100", i)
		}
		if t.MaxVolume != nil && *t.MaxVolume < t.MinVolume {
			return fmt.Errorf("tier %d: max_volume below min_volume", i)
		}
	}

	return s.inTx(func(tx *sql.Tx) error {
		if err := s.overrides.ReplaceTiers(tx, supplierID, tiers); err != nil {
			return err
		}
		newValue, _ := json.Marshal(tiers)
		return s.auditSvc.LogActionTx(tx, &domain.AuditLogEntry{
			AdminID:    admin.AdminID,
			Action:     domain.ActionRuleUpdated,
			EntityType: "supplier_tiers",
			EntityID:   supplierID,
			NewValue:   newValue,
			Reason:     admin.Reason,
			IPAddress:  admin.IPAddress,
			UserAgent:  admin.UserAgent,
		})
	})
}

// --- helpers ---

func (s *AdminService) prepare(rule *domain.CommissionRule) {
	if rule.ID == "" {
		rule.ID = uuid.New().String()
	}
	rule.UpdatedAt = s.now()
}

func (s *AdminService) inTx(fn func(tx *sql.Tx) error) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}

	// Rule caches hold the old value for up to the TTL; drop them so
	// the next calculation sees the new rule.
	s.adapter.Invalidate()
	return nil
}

func (s *AdminService) mutationEntry(scope domain.RuleScope, entityID string, old, updated *domain.CommissionRule, admin AdminContext) *domain.AuditLogEntry {
	action := domain.ActionRuleCreated
	var oldValue json.RawMessage
	if old != nil {
		action = domain.ActionRuleUpdated
		oldValue, _ = json.Marshal(old)
	}
	newValue, _ := json.Marshal(updated)

	return &domain.AuditLogEntry{
		AdminID:    admin.AdminID,
		Action:     action,
		EntityType: "commission_rule:" + string(scope),
		EntityID:   entityID,
		OldValue:   oldValue,
		NewValue:   newValue,
		Reason:     admin.Reason,
		IPAddress:  admin.IPAddress,
		UserAgent:  admin.UserAgent,
	}
}

func validatePct(p *float64) error {
	if p != nil && (*p < 0 || *p > 100) {
		return fmt.Errorf("commission percentage must be between 0 and 100")
	}
	return nil
}
