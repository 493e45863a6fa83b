package repository

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/marketgrid/commission-engine/internal/domain"
)

// RecordRepo persists the commission ledger. Mutations run inside a
// caller-owned transaction so audit entries commit atomically with the
// financial write.
type RecordRepo struct {
	db *sql.DB
}

func NewRecordRepo(db *sql.DB) *RecordRepo {
	return &RecordRepo{db: db}
}

// DB exposes the underlying handle for transaction boundaries.
func (r *RecordRepo) DB() *sql.DB {
	return r.db
}

// NextVersion returns the next record version for an order (1 for the
// first calculation).
func (r *RecordRepo) NextVersion(tx *sql.Tx, orderID string) (int, error) {
	var v int
	err := tx.QueryRow(
		"SELECT COALESCE(MAX(version), 0) + 1 FROM commission_records WHERE order_id = ?",
		orderID,
	).Scan(&v)
	return v, err
}

// Insert writes a new CALCULATED record. The partial unique index on
// live records makes this the at-most-one-writer guard: when a live
// record already exists the insert affects zero rows and the caller
// gets ErrDuplicateCalculation.
func (r *RecordRepo) Insert(tx *sql.Tx, rec *domain.OrderCommissionRecord) error {
	res, err := tx.Exec(
		`INSERT INTO commission_records
		(id, order_id, version, business_id, business_type, order_subtotal,
		 delivery_fee, order_commission_pct, delivery_commission_pct,
		 supplier_commission_pct, order_commission_amount,
		 delivery_commission_amount, supplier_commission_amount,
		 platform_revenue, merchant_payout, status, calculated_at,
		 anchor_status)
		VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)
		ON CONFLICT (order_id) WHERE status != 'REVERSED' DO NOTHING`,
		rec.ID, rec.OrderID, rec.Version, rec.BusinessID, rec.BusinessType,
		rec.OrderSubtotal, rec.DeliveryFee, rec.OrderCommissionPct,
		rec.DeliveryCommissionPct, nullableFloat(rec.SupplierCommissionPct),
		rec.OrderCommissionAmount, rec.DeliveryCommissionAmount,
		nullableFloat(rec.SupplierCommissionAmount),
		rec.PlatformRevenue, rec.MerchantPayout, string(rec.Status),
		rec.CalculatedAt.Format(time.RFC3339), string(rec.AnchorStatus),
	)
	if err != nil {
		return fmt.Errorf("insert record: %w", err)
	}
	ra, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if ra == 0 {
		return domain.ErrDuplicateCalculation
	}
	return nil
}

// GetLatest returns the highest-version record for an order.
func (r *RecordRepo) GetLatest(orderID string) (*domain.OrderCommissionRecord, error) {
	row := r.db.QueryRow(
		selectRecord+" WHERE order_id = ? ORDER BY version DESC LIMIT 1", orderID,
	)
	rec, err := scanRecordRow(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrRecordNotFound
	}
	return rec, err
}

// GetLive returns the non-reversed record for an order within the
// given transaction, distinguishing "never calculated" from "already
// reversed".
func (r *RecordRepo) GetLive(tx *sql.Tx, orderID string) (*domain.OrderCommissionRecord, error) {
	row := tx.QueryRow(
		selectRecord+" WHERE order_id = ? AND status != 'REVERSED'", orderID,
	)
	rec, err := scanRecordRow(row)
	if errors.Is(err, sql.ErrNoRows) {
		var n int
		if err := tx.QueryRow(
			"SELECT COUNT(*) FROM commission_records WHERE order_id = ?", orderID,
		).Scan(&n); err != nil {
			return nil, err
		}
		if n > 0 {
			return nil, domain.ErrAlreadyReversed
		}
		return nil, domain.ErrRecordNotFound
	}
	return rec, err
}

// MarkSettled transitions CALCULATED → SETTLED. Settling an already
// settled record is a no-op acknowledgment; a reversed record rejects.
func (r *RecordRepo) MarkSettled(tx *sql.Tx, orderID string, at time.Time) (*domain.OrderCommissionRecord, error) {
	rec, err := r.GetLive(tx, orderID)
	if err != nil {
		return nil, err
	}
	if rec.Status == domain.StatusSettled {
		return rec, nil
	}

	res, err := tx.Exec(
		`UPDATE commission_records SET status = ?, settled_at = ?
		 WHERE order_id = ? AND status = 'CALCULATED'`,
		string(domain.StatusSettled), at.Format(time.RFC3339), orderID,
	)
	if err != nil {
		return nil, fmt.Errorf("mark settled: %w", err)
	}
	if ra, _ := res.RowsAffected(); ra == 0 {
		// Lost a race with a reversal inside another transaction.
		return nil, domain.ErrAlreadyReversed
	}
	rec.Status = domain.StatusSettled
	rec.SettledAt = &at
	return rec, nil
}

// MarkReversed transitions the live record to REVERSED, exactly once.
// Returns the pre-reversal snapshot for the audit trail.
func (r *RecordRepo) MarkReversed(tx *sql.Tx, orderID string, at time.Time, reason string) (*domain.OrderCommissionRecord, error) {
	snapshot, err := r.GetLive(tx, orderID)
	if err != nil {
		return nil, err
	}

	res, err := tx.Exec(
		`UPDATE commission_records SET status = ?, reversed_at = ?, reversal_reason = ?
		 WHERE order_id = ? AND status != 'REVERSED'`,
		string(domain.StatusReversed), at.Format(time.RFC3339), reason, orderID,
	)
	if err != nil {
		return nil, fmt.Errorf("mark reversed: %w", err)
	}
	if ra, _ := res.RowsAffected(); ra == 0 {
		return nil, domain.ErrAlreadyReversed
	}
	return snapshot, nil
}

// Summary aggregates non-reversed records calculated inside the period.
func (r *RecordRepo) Summary(from, to time.Time) (*domain.CommissionSummary, error) {
	s := &domain.CommissionSummary{}
	err := r.db.QueryRow(`
		SELECT
			COUNT(*),
			COALESCE(SUM(platform_revenue), 0),
			COALESCE(SUM(order_commission_amount), 0),
			COALESCE(SUM(delivery_commission_amount), 0),
			COALESCE(SUM(COALESCE(supplier_commission_amount, 0)), 0)
		FROM commission_records
		WHERE status != 'REVERSED' AND calculated_at >= ? AND calculated_at <= ?
	`, from.Format(time.RFC3339), to.Format(time.RFC3339)).Scan(
		&s.TotalOrders, &s.TotalRevenue, &s.OrderCommission,
		&s.DeliveryCommission, &s.SupplierCommission,
	)
	if err != nil {
		return nil, fmt.Errorf("summary: %w", err)
	}
	if s.TotalOrders > 0 {
		s.AverageOrderRevenue = s.TotalRevenue / float64(s.TotalOrders)
	}
	return s, nil
}

// PendingAnchors returns records awaiting an anchor write.
func (r *RecordRepo) PendingAnchors(limit int) ([]domain.OrderCommissionRecord, error) {
	rows, err := r.db.Query(
		selectRecord+" WHERE anchor_status = 'PENDING' ORDER BY calculated_at LIMIT ?", limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query pending anchors: %w", err)
	}
	defer rows.Close()

	var recs []domain.OrderCommissionRecord
	for rows.Next() {
		rec, err := scanRecordRows(rows)
		if err != nil {
			return nil, fmt.Errorf("scan: %w", err)
		}
		recs = append(recs, *rec)
	}
	return recs, rows.Err()
}

// SetAnchor records the outcome of an anchor write for a record.
func (r *RecordRepo) SetAnchor(recordID string, status domain.AnchorStatus, ref string) error {
	var refVal any
	if ref != "" {
		refVal = ref
	}
	_, err := r.db.Exec(
		"UPDATE commission_records SET anchor_status = ?, ledger_anchor_ref = ? WHERE id = ?",
		string(status), refVal, recordID,
	)
	return err
}

// --- helpers ---

const selectRecord = `SELECT id, order_id, version, business_id, business_type,
	order_subtotal, delivery_fee, order_commission_pct, delivery_commission_pct,
	supplier_commission_pct, order_commission_amount, delivery_commission_amount,
	supplier_commission_amount, platform_revenue, merchant_payout, status,
	calculated_at, settled_at, reversed_at, reversal_reason, anchor_status,
	ledger_anchor_ref
	FROM commission_records`

type recordScanner interface {
	Scan(dest ...any) error
}

func scanRecordInto(sc recordScanner) (*domain.OrderCommissionRecord, error) {
	var rec domain.OrderCommissionRecord
	var status, anchorStatus, calculatedAt string
	var supplierPct, supplierAmt sql.NullFloat64
	var settledAt, reversedAt, reversalReason, anchorRef sql.NullString

	err := sc.Scan(
		&rec.ID, &rec.OrderID, &rec.Version, &rec.BusinessID, &rec.BusinessType,
		&rec.OrderSubtotal, &rec.DeliveryFee, &rec.OrderCommissionPct,
		&rec.DeliveryCommissionPct, &supplierPct, &rec.OrderCommissionAmount,
		&rec.DeliveryCommissionAmount, &supplierAmt, &rec.PlatformRevenue,
		&rec.MerchantPayout, &status, &calculatedAt, &settledAt, &reversedAt,
		&reversalReason, &anchorStatus, &anchorRef,
	)
	if err != nil {
		return nil, err
	}

	rec.Status = domain.RecordStatus(status)
	rec.AnchorStatus = domain.AnchorStatus(anchorStatus)
	rec.CalculatedAt, _ = time.Parse(time.RFC3339, calculatedAt)
	if supplierPct.Valid {
		v := supplierPct.Float64
		rec.SupplierCommissionPct = &v
	}
	if supplierAmt.Valid {
		v := supplierAmt.Float64
		rec.SupplierCommissionAmount = &v
	}
	rec.SettledAt = parseNullableTime(settledAt)
	rec.ReversedAt = parseNullableTime(reversedAt)
	if reversalReason.Valid {
		rec.ReversalReason = reversalReason.String
	}
	if anchorRef.Valid {
		rec.LedgerAnchorRef = anchorRef.String
	}

	return &rec, nil
}

func scanRecordRow(row *sql.Row) (*domain.OrderCommissionRecord, error) {
	return scanRecordInto(row)
}

func scanRecordRows(rows *sql.Rows) (*domain.OrderCommissionRecord, error) {
	return scanRecordInto(rows)
}

// buildActionPlaceholders renders "?,?,?" for IN clauses over actions.
func buildActionPlaceholders(actions []domain.AuditAction) (string, []any) {
	placeholders := make([]string, len(actions))
	args := make([]any, len(actions))
	for i, a := range actions {
		placeholders[i] = "?"
		args[i] = string(a)
	}
	return strings.Join(placeholders, ","), args
}
