package audit

import (
	"fmt"
	"time"

	"github.com/marketgrid/commission-engine/internal/domain"
)

type IntegrityStatus string

const (
	IntegrityHealthy  IntegrityStatus = "healthy"
	IntegrityWarning  IntegrityStatus = "warning"
	IntegrityCritical IntegrityStatus = "critical"
)

// IntegrityReport is the result of a cross-check between stored rule
// mutations and their audit trail, plus the unresolved alert state.
type IntegrityReport struct {
	Status    IntegrityStatus `json:"status"`
	Issues    []string        `json:"issues"`
	CheckedAt time.Time       `json:"checked_at"`
}

// RuleMutationCounter reports how many rule rows changed after a
// cutoff. Both rule repositories implement it.
type RuleMutationCounter interface {
	CountMutatedSince(cutoff time.Time) (int, error)
}

// PerformIntegrityCheck verifies that recent commission-rule mutations
// have a matching audit-log entry count and that no CRITICAL alert is
// unresolved. Any unresolved critical alert makes the status critical;
// audit-trail drift alone is a warning.
func (s *Service) PerformIntegrityCheck(ruleCounters ...RuleMutationCounter) (*IntegrityReport, error) {
	report := &IntegrityReport{Status: IntegrityHealthy, CheckedAt: s.now()}
	cutoff := s.now().Add(-24 * time.Hour)

	mutated := 0
	for _, counter := range ruleCounters {
		n, err := counter.CountMutatedSince(cutoff)
		if err != nil {
			return nil, fmt.Errorf("count rule mutations: %w", err)
		}
		mutated += n
	}

	audited, err := s.auditRepo.CountAllActionsSince(cutoff, domain.RuleMutationActions)
	if err != nil {
		return nil, fmt.Errorf("count audited mutations: %w", err)
	}
	if mutated > audited {
		report.Issues = append(report.Issues, fmt.Sprintf(
			"%d commission rule mutations in the last 24h but only %d audit entries: audit trail drift",
			mutated, audited,
		))
	}

	criticals, err := s.alertRepo.CountUnresolvedCritical()
	if err != nil {
		return nil, fmt.Errorf("count critical alerts: %w", err)
	}
	if criticals > 0 {
		report.Issues = append(report.Issues, fmt.Sprintf(
			"%d unresolved CRITICAL profit alerts", criticals,
		))
	}

	switch {
	case criticals > 0:
		report.Status = IntegrityCritical
	case len(report.Issues) > 0:
		report.Status = IntegrityWarning
	}

	return report, nil
}
