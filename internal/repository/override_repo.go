package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/marketgrid/commission-engine/internal/domain"
)

// OverrideRepo reads and writes merchant/supplier rule overrides. It is
// the document-store side of the rule hierarchy.
type OverrideRepo struct {
	db *sql.DB
}

func NewOverrideRepo(db *sql.DB) *OverrideRepo {
	return &OverrideRepo{db: db}
}

const selectOverride = `SELECT id, scope, subject_id, business_type, order_commission_pct,
	delivery_commission_pct, is_zero_commission, justification,
	effective_from, effective_to, is_active, updated_at
	FROM override_rules
	WHERE scope = ? AND subject_id = ? AND business_type = ? AND is_active = 1
	ORDER BY effective_from DESC, updated_at DESC`

// GetActive returns the active override for a (scope, subject,
// businessType) at the given instant, or nil when none matches. Stored
// duplicates are tolerated defensively: the most-recently-effective,
// most-recently-updated match wins.
func (r *OverrideRepo) GetActive(ctx context.Context, scope domain.RuleScope, subjectID, businessType string, at time.Time) (*domain.CommissionRule, error) {
	rows, err := r.db.QueryContext(ctx, selectOverride, string(scope), subjectID, businessType)
	if err != nil {
		return nil, fmt.Errorf("query overrides: %w", err)
	}
	return firstEffectiveOverride(rows, at)
}

// GetActiveTx reads the current override inside a transaction, used to
// snapshot the old value before an admin write.
func (r *OverrideRepo) GetActiveTx(tx *sql.Tx, scope domain.RuleScope, subjectID, businessType string, at time.Time) (*domain.CommissionRule, error) {
	rows, err := tx.Query(selectOverride, string(scope), subjectID, businessType)
	if err != nil {
		return nil, fmt.Errorf("query overrides: %w", err)
	}
	return firstEffectiveOverride(rows, at)
}

func firstEffectiveOverride(rows *sql.Rows, at time.Time) (*domain.CommissionRule, error) {
	defer rows.Close()
	for rows.Next() {
		rule, err := scanOverride(rows)
		if err != nil {
			return nil, fmt.Errorf("scan override: %w", err)
		}
		if rule.EffectiveAt(at) {
			return rule, nil
		}
	}
	return nil, rows.Err()
}

// Upsert replaces the override for (scope, subject, businessType)
// inside the given transaction. The caller owns the transaction so the
// matching audit entry commits atomically with the rule write.
func (r *OverrideRepo) Upsert(tx *sql.Tx, rule *domain.CommissionRule) error {
	_, err := tx.Exec(
		`DELETE FROM override_rules WHERE scope = ? AND subject_id = ? AND business_type = ?`,
		string(rule.Scope), rule.SubjectID, rule.BusinessType,
	)
	if err != nil {
		return fmt.Errorf("delete prior override: %w", err)
	}

	_, err = tx.Exec(
		`INSERT INTO override_rules
		(id, scope, subject_id, business_type, order_commission_pct,
		 delivery_commission_pct, is_zero_commission, justification,
		 effective_from, effective_to, is_active, updated_at)
		VALUES (?,?,?,?,?,?,?,?,?,?,?,?)`,
		rule.ID, string(rule.Scope), rule.SubjectID, rule.BusinessType,
		nullableFloat(rule.OrderCommissionPct), nullableFloat(rule.DeliveryCommissionPct),
		boolToInt(rule.IsZeroCommission), rule.Justification,
		formatNullableTime(rule.EffectiveFrom), formatNullableTime(rule.EffectiveTo),
		boolToInt(rule.IsActive), rule.UpdatedAt.Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("insert override: %w", err)
	}
	return nil
}

// CountMutatedSince counts overrides whose updated_at falls after the
// cutoff. Used by the integrity check to detect missing audit trail.
func (r *OverrideRepo) CountMutatedSince(cutoff time.Time) (int, error) {
	var count int
	err := r.db.QueryRow(
		"SELECT COUNT(*) FROM override_rules WHERE updated_at >= ?",
		cutoff.Format(time.RFC3339),
	).Scan(&count)
	return count, err
}

// --- supplier tiers ---

// TiersForSupplier returns the active volume tiers for a supplier,
// highest band first so the first covering tier wins.
func (r *OverrideRepo) TiersForSupplier(ctx context.Context, supplierID string) ([]domain.SupplierCommissionTier, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, supplier_id, min_volume, max_volume, commission_pct, is_active
		 FROM supplier_tiers
		 WHERE supplier_id = ? AND is_active = 1
		 ORDER BY min_volume DESC`,
		supplierID,
	)
	if err != nil {
		return nil, fmt.Errorf("query tiers: %w", err)
	}
	defer rows.Close()

	var tiers []domain.SupplierCommissionTier
	for rows.Next() {
		var t domain.SupplierCommissionTier
		var maxVol sql.NullFloat64
		var active int
		if err := rows.Scan(&t.ID, &t.SupplierID, &t.MinVolume, &maxVol, &t.CommissionPct, &active); err != nil {
			return nil, fmt.Errorf("scan tier: %w", err)
		}
		if maxVol.Valid {
			v := maxVol.Float64
			t.MaxVolume = &v
		}
		t.IsActive = active != 0
		tiers = append(tiers, t)
	}
	return tiers, rows.Err()
}

// ReplaceTiers swaps the full tier set for a supplier inside the given
// transaction.
func (r *OverrideRepo) ReplaceTiers(tx *sql.Tx, supplierID string, tiers []domain.SupplierCommissionTier) error {
	if _, err := tx.Exec("DELETE FROM supplier_tiers WHERE supplier_id = ?", supplierID); err != nil {
		return fmt.Errorf("delete prior tiers: %w", err)
	}

	stmt, err := tx.Prepare(
		`INSERT INTO supplier_tiers
		(id, supplier_id, min_volume, max_volume, commission_pct, is_active)
		VALUES (?,?,?,?,?,?)`,
	)
	if err != nil {
		return fmt.Errorf("prepare: %w", err)
	}
	defer stmt.Close()

	for i := range tiers {
		t := &tiers[i]
		var maxVol any
		if t.MaxVolume != nil {
			maxVol = *t.MaxVolume
		}
		if _, err := stmt.Exec(t.ID, supplierID, t.MinVolume, maxVol, t.CommissionPct, boolToInt(t.IsActive)); err != nil {
			return fmt.Errorf("insert tier %d: %w", i, err)
		}
	}
	return nil
}

// --- helpers ---

func scanOverride(rows *sql.Rows) (*domain.CommissionRule, error) {
	var rule domain.CommissionRule
	var scope, updatedAt string
	var orderPct, deliveryPct sql.NullFloat64
	var justification sql.NullString
	var effFrom, effTo sql.NullString
	var zero, active int

	err := rows.Scan(
		&rule.ID, &scope, &rule.SubjectID, &rule.BusinessType,
		&orderPct, &deliveryPct, &zero, &justification,
		&effFrom, &effTo, &active, &updatedAt,
	)
	if err != nil {
		return nil, err
	}

	rule.Scope = domain.RuleScope(scope)
	rule.IsZeroCommission = zero != 0
	rule.IsActive = active != 0
	if orderPct.Valid {
		v := orderPct.Float64
		rule.OrderCommissionPct = &v
	}
	if deliveryPct.Valid {
		v := deliveryPct.Float64
		rule.DeliveryCommissionPct = &v
	}
	if justification.Valid {
		rule.Justification = justification.String
	}
	rule.EffectiveFrom = parseNullableTime(effFrom)
	rule.EffectiveTo = parseNullableTime(effTo)
	rule.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)

	return &rule, nil
}

func nullableFloat(v *float64) any {
	if v == nil {
		return nil
	}
	return *v
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func formatNullableTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.Format(time.RFC3339)
}

func parseNullableTime(s sql.NullString) *time.Time {
	if !s.Valid || s.String == "" {
		return nil
	}
	t, err := time.Parse(time.RFC3339, s.String)
	if err != nil {
		return nil
	}
	return &t
}
