package repository

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/marketgrid/commission-engine/internal/domain"
)

// AuditRepo persists the append-only audit log. There are no update or
// delete paths: corrections are new entries.
type AuditRepo struct {
	db *sql.DB
}

func NewAuditRepo(db *sql.DB) *AuditRepo {
	return &AuditRepo{db: db}
}

func (r *AuditRepo) DB() *sql.DB {
	return r.db
}

// Insert appends an entry outside any caller transaction.
func (r *AuditRepo) Insert(e *domain.AuditLogEntry) error {
	return insertAudit(r.db, e)
}

// InsertTx appends an entry inside a caller-owned transaction so the
// audit trail commits atomically with the financial mutation.
func (r *AuditRepo) InsertTx(tx *sql.Tx, e *domain.AuditLogEntry) error {
	return insertAudit(tx, e)
}

type execer interface {
	Exec(query string, args ...any) (sql.Result, error)
}

func insertAudit(db execer, e *domain.AuditLogEntry) error {
	_, err := db.Exec(
		`INSERT INTO audit_log
		(id, admin_id, action, entity_type, entity_id, old_value, new_value,
		 reason, ip_address, user_agent, timestamp)
		VALUES (?,?,?,?,?,?,?,?,?,?,?)`,
		e.ID, e.AdminID, string(e.Action), e.EntityType, e.EntityID,
		nullableRaw(e.OldValue), nullableRaw(e.NewValue),
		e.Reason, e.IPAddress, e.UserAgent, e.Timestamp.Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("insert audit entry: %w", err)
	}
	return nil
}

type AuditFilter struct {
	AdminID    string
	Action     string
	EntityType string
	EntityID   string
	From       *time.Time
	To         *time.Time
	Limit      int
	Offset     int
}

func (r *AuditRepo) List(f AuditFilter) ([]domain.AuditLogEntry, int, error) {
	where, args := buildAuditWhere(f)

	var total int
	if err := r.db.QueryRow("SELECT COUNT(*) FROM audit_log"+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	if f.Limit <= 0 {
		f.Limit = 50
	}

	// Timestamps are second precision; rowid breaks ties in insertion
	// order so paging stays stable.
	q := selectAudit + where + " ORDER BY timestamp DESC, rowid DESC LIMIT ? OFFSET ?"
	args = append(args, f.Limit, f.Offset)

	rows, err := r.db.Query(q, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	entries, err := scanAuditEntries(rows)
	return entries, total, err
}

// Export returns every entry in the period, oldest first, with the raw
// old/new value snapshots intact for compliance export.
func (r *AuditRepo) Export(from, to time.Time, entityType string) ([]domain.AuditLogEntry, error) {
	q := selectAudit + " WHERE timestamp >= ? AND timestamp <= ?"
	args := []any{from.Format(time.RFC3339), to.Format(time.RFC3339)}
	if entityType != "" {
		q += " AND entity_type = ?"
		args = append(args, entityType)
	}
	q += " ORDER BY timestamp, rowid"

	rows, err := r.db.Query(q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanAuditEntries(rows)
}

// CountByAdminSince counts all actions by one admin after the cutoff.
func (r *AuditRepo) CountByAdminSince(adminID string, cutoff time.Time) (int, error) {
	var n int
	err := r.db.QueryRow(
		"SELECT COUNT(*) FROM audit_log WHERE admin_id = ? AND timestamp >= ?",
		adminID, cutoff.Format(time.RFC3339),
	).Scan(&n)
	return n, err
}

// CountDistinctEntityTypes counts distinct entity types touched by one
// admin after the cutoff, restricted to the given actions.
func (r *AuditRepo) CountDistinctEntityTypes(adminID string, cutoff time.Time, actions []domain.AuditAction) (int, error) {
	placeholders, actionArgs := buildActionPlaceholders(actions)
	args := append([]any{adminID, cutoff.Format(time.RFC3339)}, actionArgs...)

	var n int
	err := r.db.QueryRow(
		"SELECT COUNT(DISTINCT entity_type) FROM audit_log WHERE admin_id = ? AND timestamp >= ? AND action IN ("+placeholders+")",
		args...,
	).Scan(&n)
	return n, err
}

// CountActionsSince counts entries matching the given actions by one
// admin after the cutoff.
func (r *AuditRepo) CountActionsSince(adminID string, cutoff time.Time, actions []domain.AuditAction) (int, error) {
	placeholders, actionArgs := buildActionPlaceholders(actions)
	args := append([]any{adminID, cutoff.Format(time.RFC3339)}, actionArgs...)

	var n int
	err := r.db.QueryRow(
		"SELECT COUNT(*) FROM audit_log WHERE admin_id = ? AND timestamp >= ? AND action IN ("+placeholders+")",
		args...,
	).Scan(&n)
	return n, err
}

// CountAllActionsSince counts entries matching the given actions by any
// actor after the cutoff, for the integrity cross-check.
func (r *AuditRepo) CountAllActionsSince(cutoff time.Time, actions []domain.AuditAction) (int, error) {
	placeholders, actionArgs := buildActionPlaceholders(actions)
	args := append([]any{cutoff.Format(time.RFC3339)}, actionArgs...)

	var n int
	err := r.db.QueryRow(
		"SELECT COUNT(*) FROM audit_log WHERE timestamp >= ? AND action IN ("+placeholders+")",
		args...,
	).Scan(&n)
	return n, err
}

// --- helpers ---

const selectAudit = `SELECT id, admin_id, action, entity_type, entity_id,
	old_value, new_value, reason, ip_address, user_agent, timestamp
	FROM audit_log`

func buildAuditWhere(f AuditFilter) (string, []any) {
	var clauses []string
	var args []any

	if f.AdminID != "" {
		clauses = append(clauses, "admin_id = ?")
		args = append(args, f.AdminID)
	}
	if f.Action != "" {
		clauses = append(clauses, "action = ?")
		args = append(args, f.Action)
	}
	if f.EntityType != "" {
		clauses = append(clauses, "entity_type = ?")
		args = append(args, f.EntityType)
	}
	if f.EntityID != "" {
		clauses = append(clauses, "entity_id = ?")
		args = append(args, f.EntityID)
	}
	if f.From != nil {
		clauses = append(clauses, "timestamp >= ?")
		args = append(args, f.From.Format(time.RFC3339))
	}
	if f.To != nil {
		clauses = append(clauses, "timestamp <= ?")
		args = append(args, f.To.Format(time.RFC3339))
	}

	if len(clauses) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(clauses, " AND "), args
}

func scanAuditEntries(rows *sql.Rows) ([]domain.AuditLogEntry, error) {
	var entries []domain.AuditLogEntry
	for rows.Next() {
		var e domain.AuditLogEntry
		var action, timestamp string
		var oldVal, newVal, reason, ip, ua sql.NullString

		err := rows.Scan(
			&e.ID, &e.AdminID, &action, &e.EntityType, &e.EntityID,
			&oldVal, &newVal, &reason, &ip, &ua, &timestamp,
		)
		if err != nil {
			return nil, err
		}

		e.Action = domain.AuditAction(action)
		e.Timestamp, _ = time.Parse(time.RFC3339, timestamp)
		if oldVal.Valid {
			e.OldValue = []byte(oldVal.String)
		}
		if newVal.Valid {
			e.NewValue = []byte(newVal.String)
		}
		if reason.Valid {
			e.Reason = reason.String
		}
		if ip.Valid {
			e.IPAddress = ip.String
		}
		if ua.Valid {
			e.UserAgent = ua.String
		}

		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func nullableRaw(b []byte) any {
	if len(b) == 0 {
		return nil
	}
	return string(b)
}
