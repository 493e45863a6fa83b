// Package audit owns the append-only audit trail, profit alerts, the
// suspicious-activity heuristics, and the integrity check.
package audit

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/marketgrid/commission-engine/internal/domain"
	"github.com/marketgrid/commission-engine/internal/repository"
)

// Thresholds configure the anomaly heuristics in detector.go.
type Thresholds struct {
	HourlyActions       int
	DistinctEntityTypes int
	LargeValueChanges   int
}

type Service struct {
	auditRepo *repository.AuditRepo
	alertRepo *repository.AlertRepo
	limits    Thresholds
	now       func() time.Time
}

func NewService(auditRepo *repository.AuditRepo, alertRepo *repository.AlertRepo, limits Thresholds) *Service {
	if limits.HourlyActions <= 0 {
		limits.HourlyActions = 50
	}
	if limits.DistinctEntityTypes <= 0 {
		limits.DistinctEntityTypes = 5
	}
	if limits.LargeValueChanges <= 0 {
		limits.LargeValueChanges = 10
	}
	return &Service{
		auditRepo: auditRepo,
		alertRepo: alertRepo,
		limits:    limits,
		now:       time.Now,
	}
}

// WithClock overrides the clock for tests.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// LogAction appends an audit entry. A failed append is fatal to the
// enclosing business operation: the error wraps ErrAuditWriteFailure
// and callers must abort rather than proceed unaudited.
func (s *Service) LogAction(e *domain.AuditLogEntry) error {
	s.fill(e)
	if err := s.auditRepo.Insert(e); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrAuditWriteFailure, err)
	}
	return nil
}

// LogActionTx appends an audit entry inside a caller-owned transaction
// so the trail commits (or rolls back) with the financial mutation.
func (s *Service) LogActionTx(tx *sql.Tx, e *domain.AuditLogEntry) error {
	s.fill(e)
	if err := s.auditRepo.InsertTx(tx, e); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrAuditWriteFailure, err)
	}
	return nil
}

func (s *Service) fill(e *domain.AuditLogEntry) {
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	if e.AdminID == "" {
		e.AdminID = domain.SystemActor
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = s.now()
	}
}

// CreateProfitAlert records a new alert. Alerts are created only by the
// profit guard and integrity checks, never resolved automatically.
func (s *Service) CreateProfitAlert(a *domain.ProfitAlert) error {
	if a.ID == "" {
		a.ID = uuid.New().String()
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = s.now()
	}
	if err := s.alertRepo.Insert(a); err != nil {
		return fmt.Errorf("create alert: %w", err)
	}
	log.Printf("[audit] ALERT %s/%s order=%s: %s", a.Severity, a.Type, a.OrderID, a.Message)
	return nil
}

// ResolveAlert marks an alert resolved by an explicit admin action and
// logs the resolution.
func (s *Service) ResolveAlert(id, resolvedBy string) (*domain.ProfitAlert, error) {
	if resolvedBy == "" {
		return nil, fmt.Errorf("resolved_by is required")
	}

	ok, err := s.alertRepo.Resolve(id, resolvedBy, s.now())
	if err != nil {
		return nil, err
	}
	if !ok {
		alert, getErr := s.alertRepo.GetByID(id)
		if getErr != nil {
			return nil, fmt.Errorf("alert %s not found", id)
		}
		return nil, fmt.Errorf("alert %s already resolved by %s", id, alert.ResolvedBy)
	}

	alert, err := s.alertRepo.GetByID(id)
	if err != nil {
		return nil, err
	}

	snapshot, _ := json.Marshal(alert)
	err = s.LogAction(&domain.AuditLogEntry{
		AdminID:    resolvedBy,
		Action:     domain.ActionAlertResolved,
		EntityType: "profit_alert",
		EntityID:   id,
		NewValue:   snapshot,
	})
	if err != nil {
		return nil, err
	}
	return alert, nil
}

// Alerts lists alerts through the repository filter.
func (s *Service) Alerts(f repository.AlertFilter) ([]domain.ProfitAlert, error) {
	return s.alertRepo.List(f)
}

// Logs lists audit entries through the repository filter.
func (s *Service) Logs(f repository.AuditFilter) ([]domain.AuditLogEntry, int, error) {
	return s.auditRepo.List(f)
}

// Export returns the full-fidelity audit export for a period.
func (s *Service) Export(from, to time.Time, entityType string) ([]domain.AuditLogEntry, error) {
	return s.auditRepo.Export(from, to, entityType)
}
