package audit

import (
	"fmt"
	"time"

	"github.com/marketgrid/commission-engine/internal/domain"
)

// DetectSuspiciousActivity runs the heuristic scans over one admin's
// recent audit entries. The warnings are advisory signals for a human
// reviewer, not an authorization decision: nothing is blocked.
func (s *Service) DetectSuspiciousActivity(adminID string) ([]string, error) {
	var warnings []string
	now := s.now()

	hourly, err := s.auditRepo.CountByAdminSince(adminID, now.Add(-time.Hour))
	if err != nil {
		return nil, fmt.Errorf("hourly action scan: %w", err)
	}
	if hourly > s.limits.HourlyActions {
		warnings = append(warnings, fmt.Sprintf(
			"admin %s performed %d actions in the last hour (threshold %d)",
			adminID, hourly, s.limits.HourlyActions,
		))
	}

	dayCutoff := now.Add(-24 * time.Hour)

	entityTypes, err := s.auditRepo.CountDistinctEntityTypes(adminID, dayCutoff, domain.RuleMutationActions)
	if err != nil {
		return nil, fmt.Errorf("entity type scan: %w", err)
	}
	if entityTypes > s.limits.DistinctEntityTypes {
		warnings = append(warnings, fmt.Sprintf(
			"admin %s mutated commission rules across %d entity types in the last day (threshold %d)",
			adminID, entityTypes, s.limits.DistinctEntityTypes,
		))
	}

	largeChanges, err := s.auditRepo.CountActionsSince(adminID, dayCutoff, domain.LargeValueChangeActions)
	if err != nil {
		return nil, fmt.Errorf("large change scan: %w", err)
	}
	if largeChanges > s.limits.LargeValueChanges {
		warnings = append(warnings, fmt.Sprintf(
			"admin %s made %d rate or pricing-base changes in the last day (threshold %d)",
			adminID, largeChanges, s.limits.LargeValueChanges,
		))
	}

	return warnings, nil
}
