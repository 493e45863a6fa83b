package repository

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/marketgrid/commission-engine/internal/domain"
)

type AlertRepo struct {
	db *sql.DB
}

func NewAlertRepo(db *sql.DB) *AlertRepo {
	return &AlertRepo{db: db}
}

func (r *AlertRepo) Insert(a *domain.ProfitAlert) error {
	var orderID any
	if a.OrderID != "" {
		orderID = a.OrderID
	}
	_, err := r.db.Exec(
		`INSERT INTO profit_alerts
		(id, order_id, type, severity, message, details, resolved, created_at)
		VALUES (?,?,?,?,?,?,?,?)`,
		a.ID, orderID, string(a.Type), string(a.Severity), a.Message,
		nullableRaw(a.Details), boolToInt(a.Resolved),
		a.CreatedAt.Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("insert alert: %w", err)
	}
	return nil
}

func (r *AlertRepo) GetByID(id string) (*domain.ProfitAlert, error) {
	row := r.db.QueryRow(selectAlert+" WHERE id = ?", id)
	return scanAlertRow(row)
}

// Resolve marks an alert resolved by an explicit admin action. Already
// resolved alerts stay resolved by their original resolver.
func (r *AlertRepo) Resolve(id, resolvedBy string, at time.Time) (bool, error) {
	res, err := r.db.Exec(
		`UPDATE profit_alerts SET resolved = 1, resolved_by = ?, resolved_at = ?
		 WHERE id = ? AND resolved = 0`,
		resolvedBy, at.Format(time.RFC3339), id,
	)
	if err != nil {
		return false, fmt.Errorf("resolve alert: %w", err)
	}
	ra, _ := res.RowsAffected()
	return ra > 0, nil
}

type AlertFilter struct {
	Type     string
	Severity string
	Resolved *bool
	OrderID  string
	Limit    int
}

func (r *AlertRepo) List(f AlertFilter) ([]domain.ProfitAlert, error) {
	var clauses []string
	var args []any

	if f.Type != "" {
		clauses = append(clauses, "type = ?")
		args = append(args, f.Type)
	}
	if f.Severity != "" {
		clauses = append(clauses, "severity = ?")
		args = append(args, f.Severity)
	}
	if f.Resolved != nil {
		clauses = append(clauses, "resolved = ?")
		args = append(args, boolToInt(*f.Resolved))
	}
	if f.OrderID != "" {
		clauses = append(clauses, "order_id = ?")
		args = append(args, f.OrderID)
	}

	q := selectAlert
	if len(clauses) > 0 {
		q += " WHERE " + strings.Join(clauses, " AND ")
	}
	q += " ORDER BY created_at DESC"
	if f.Limit <= 0 {
		f.Limit = 50
	}
	q += " LIMIT ?"
	args = append(args, f.Limit)

	rows, err := r.db.Query(q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var alerts []domain.ProfitAlert
	for rows.Next() {
		a, err := scanAlertRows(rows)
		if err != nil {
			return nil, err
		}
		alerts = append(alerts, *a)
	}
	return alerts, rows.Err()
}

// CountUnresolvedCritical feeds the integrity check.
func (r *AlertRepo) CountUnresolvedCritical() (int, error) {
	var n int
	err := r.db.QueryRow(
		"SELECT COUNT(*) FROM profit_alerts WHERE severity = ? AND resolved = 0",
		string(domain.SeverityCritical),
	).Scan(&n)
	return n, err
}

// SummaryBySeverity counts unresolved alerts per severity.
func (r *AlertRepo) SummaryBySeverity() (map[string]int, error) {
	rows, err := r.db.Query(
		"SELECT severity, COUNT(*) FROM profit_alerts WHERE resolved = 0 GROUP BY severity",
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	m := make(map[string]int)
	for rows.Next() {
		var sev string
		var n int
		if err := rows.Scan(&sev, &n); err != nil {
			return nil, err
		}
		m[sev] = n
	}
	return m, rows.Err()
}

// --- helpers ---

const selectAlert = `SELECT id, order_id, type, severity, message, details,
	resolved, resolved_by, resolved_at, created_at
	FROM profit_alerts`

type alertScanner interface {
	Scan(dest ...any) error
}

func scanAlertInto(sc alertScanner) (*domain.ProfitAlert, error) {
	var a domain.ProfitAlert
	var alertType, severity, createdAt string
	var orderID, details, resolvedBy, resolvedAt sql.NullString
	var resolved int

	err := sc.Scan(
		&a.ID, &orderID, &alertType, &severity, &a.Message, &details,
		&resolved, &resolvedBy, &resolvedAt, &createdAt,
	)
	if err != nil {
		return nil, err
	}

	a.Type = domain.AlertType(alertType)
	a.Severity = domain.Severity(severity)
	a.Resolved = resolved != 0
	a.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	if orderID.Valid {
		a.OrderID = orderID.String
	}
	if details.Valid {
		a.Details = []byte(details.String)
	}
	if resolvedBy.Valid {
		a.ResolvedBy = resolvedBy.String
	}
	a.ResolvedAt = parseNullableTime(resolvedAt)

	return &a, nil
}

func scanAlertRow(row *sql.Row) (*domain.ProfitAlert, error) {
	return scanAlertInto(row)
}

func scanAlertRows(rows *sql.Rows) (*domain.ProfitAlert, error) {
	return scanAlertInto(rows)
}
