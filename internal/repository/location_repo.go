package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/marketgrid/commission-engine/internal/domain"
)

// LocationRuleRepo reads and writes the zone/city/country/global rule
// tiers. It mirrors the indexed-ledger (subgraph) side of the rule
// hierarchy into local tables so lookups stay cheap and bounded.
type LocationRuleRepo struct {
	db *sql.DB
}

func NewLocationRuleRepo(db *sql.DB) *LocationRuleRepo {
	return &LocationRuleRepo{db: db}
}

// GetActive returns the active rule for a location scope at the given
// instant, or nil when none matches. Country/city/zone narrow the match
// according to the scope; GLOBAL ignores all three. Duplicate stored
// rules are tolerated by taking the most-recently-effective match.
func (r *LocationRuleRepo) GetActive(ctx context.Context, scope domain.RuleScope, country, city, zone, businessType string, at time.Time) (*domain.CommissionRule, error) {
	query, args, err := locationRuleQuery(scope, country, city, zone, businessType)
	if err != nil {
		return nil, err
	}
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query location rules: %w", err)
	}
	return firstEffectiveLocationRule(rows, at)
}

// GetActiveTx reads the current rule inside a transaction, used to
// snapshot the old value before an admin write.
func (r *LocationRuleRepo) GetActiveTx(tx *sql.Tx, scope domain.RuleScope, country, city, zone, businessType string, at time.Time) (*domain.CommissionRule, error) {
	query, args, err := locationRuleQuery(scope, country, city, zone, businessType)
	if err != nil {
		return nil, err
	}
	rows, err := tx.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("query location rules: %w", err)
	}
	return firstEffectiveLocationRule(rows, at)
}

func locationRuleQuery(scope domain.RuleScope, country, city, zone, businessType string) (string, []any, error) {
	query := `SELECT id, scope, country, city, zone, business_type,
	                 order_commission_pct, delivery_commission_pct,
	                 effective_from, effective_to, is_active, updated_at
	          FROM location_rules
	          WHERE scope = ? AND business_type = ? AND is_active = 1`
	args := []any{string(scope), businessType}

	switch scope {
	case domain.ScopeZone:
		query += " AND country = ? AND city = ? AND zone = ?"
		args = append(args, country, city, zone)
	case domain.ScopeCity:
		query += " AND country = ? AND city = ?"
		args = append(args, country, city)
	case domain.ScopeCountry:
		query += " AND country = ?"
		args = append(args, country)
	case domain.ScopeGlobal:
		// no location predicate
	default:
		return "", nil, fmt.Errorf("location lookup for non-location scope %s", scope)
	}

	query += " ORDER BY effective_from DESC, updated_at DESC"
	return query, args, nil
}

func firstEffectiveLocationRule(rows *sql.Rows, at time.Time) (*domain.CommissionRule, error) {
	defer rows.Close()
	for rows.Next() {
		rule, err := scanLocationRule(rows)
		if err != nil {
			return nil, fmt.Errorf("scan location rule: %w", err)
		}
		if rule.EffectiveAt(at) {
			return rule, nil
		}
	}
	return nil, rows.Err()
}

// Upsert replaces the rule for its scope tuple inside the given
// transaction, so the audit entry commits atomically with the write.
func (r *LocationRuleRepo) Upsert(tx *sql.Tx, rule *domain.CommissionRule) error {
	_, err := tx.Exec(
		`DELETE FROM location_rules
		 WHERE scope = ? AND country = ? AND city = ? AND zone = ? AND business_type = ?`,
		string(rule.Scope), rule.Country, rule.City, rule.Zone, rule.BusinessType,
	)
	if err != nil {
		return fmt.Errorf("delete prior rule: %w", err)
	}

	_, err = tx.Exec(
		`INSERT INTO location_rules
		(id, scope, country, city, zone, business_type, order_commission_pct,
		 delivery_commission_pct, effective_from, effective_to, is_active, updated_at)
		VALUES (?,?,?,?,?,?,?,?,?,?,?,?)`,
		rule.ID, string(rule.Scope), rule.Country, rule.City, rule.Zone, rule.BusinessType,
		nullableFloat(rule.OrderCommissionPct), nullableFloat(rule.DeliveryCommissionPct),
		formatNullableTime(rule.EffectiveFrom), formatNullableTime(rule.EffectiveTo),
		boolToInt(rule.IsActive), rule.UpdatedAt.Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("insert rule: %w", err)
	}
	return nil
}

// CountMutatedSince counts location rules whose updated_at falls after
// the cutoff, for the integrity check.
func (r *LocationRuleRepo) CountMutatedSince(cutoff time.Time) (int, error) {
	var count int
	err := r.db.QueryRow(
		"SELECT COUNT(*) FROM location_rules WHERE updated_at >= ?",
		cutoff.Format(time.RFC3339),
	).Scan(&count)
	return count, err
}

func scanLocationRule(rows *sql.Rows) (*domain.CommissionRule, error) {
	var rule domain.CommissionRule
	var scope, updatedAt string
	var orderPct, deliveryPct sql.NullFloat64
	var effFrom, effTo sql.NullString
	var active int

	err := rows.Scan(
		&rule.ID, &scope, &rule.Country, &rule.City, &rule.Zone, &rule.BusinessType,
		&orderPct, &deliveryPct, &effFrom, &effTo, &active, &updatedAt,
	)
	if err != nil {
		return nil, err
	}

	rule.Scope = domain.RuleScope(scope)
	rule.IsActive = active != 0
	if orderPct.Valid {
		v := orderPct.Float64
		rule.OrderCommissionPct = &v
	}
	if deliveryPct.Valid {
		v := deliveryPct.Float64
		rule.DeliveryCommissionPct = &v
	}
	rule.EffectiveFrom = parseNullableTime(effFrom)
	rule.EffectiveTo = parseNullableTime(effTo)
	rule.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)

	return &rule, nil
}
