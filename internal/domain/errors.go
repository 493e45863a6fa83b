package domain

import "errors"

// Error kinds surfaced to the order pipeline. Each invariant violation
// is rejected, never merged; callers branch with errors.Is.
var (
	// ErrRuleResolutionUnavailable means every rule tier was unreachable.
	// The recommended caller behavior is to abort order completion rather
	// than apply an unlogged default.
	ErrRuleResolutionUnavailable = errors.New("rule resolution unavailable: all tiers unreachable")

	// ErrZeroRevenue is the profit guard violation: the calculation would
	// persist a record with platform revenue at or below zero.
	ErrZeroRevenue = errors.New("calculation yields zero or negative platform revenue")

	// ErrDuplicateCalculation means a live commission record already
	// exists for the order. Recalculation goes through supersede.
	ErrDuplicateCalculation = errors.New("commission already calculated for order")

	// ErrAlreadyReversed rejects any transition out of REVERSED.
	ErrAlreadyReversed = errors.New("commission record already reversed")

	// ErrRecordNotFound means no commission record exists for the order.
	ErrRecordNotFound = errors.New("commission record not found")

	// ErrAuditWriteFailure wraps a failed audit append. Financial
	// mutations without an audit trail are worse than no mutation, so
	// the enclosing operation fails and rolls back.
	ErrAuditWriteFailure = errors.New("audit write failed")
)
