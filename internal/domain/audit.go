package domain

import (
	"encoding/json"
	"time"
)

// SystemActor is the admin ID recorded for engine-originated entries.
const SystemActor = "SYSTEM"

type AuditAction string

const (
	ActionRuleCreated          AuditAction = "COMMISSION_RULE_CREATED"
	ActionRuleUpdated          AuditAction = "COMMISSION_RULE_UPDATED"
	ActionZeroCommissionGrant  AuditAction = "ZERO_COMMISSION_GRANTED"
	ActionCommissionCalculated AuditAction = "COMMISSION_CALCULATED"
	ActionCommissionSettled    AuditAction = "COMMISSION_SETTLED"
	ActionCommissionReversed   AuditAction = "COMMISSION_REVERSED"
	ActionAlertResolved        AuditAction = "PROFIT_ALERT_RESOLVED"
	ActionPricingBaseUpdated   AuditAction = "PRICING_BASE_UPDATED"
)

// RuleMutationActions are the actions counted by the anomaly scans and
// the integrity check as commission-rule mutations.
var RuleMutationActions = []AuditAction{
	ActionRuleCreated,
	ActionRuleUpdated,
	ActionZeroCommissionGrant,
}

// LargeValueChangeActions are rate or pricing-base changes scanned by
// the large-value-change heuristic.
var LargeValueChangeActions = []AuditAction{
	ActionRuleUpdated,
	ActionPricingBaseUpdated,
}

// AuditLogEntry is an immutable record of an administrative mutation.
// Entries are never updated or deleted; corrections are new entries.
// OldValue/NewValue are stored as raw JSON so exports round-trip the
// original snapshots without a stringify-reparse cycle.
type AuditLogEntry struct {
	ID         string          `json:"id"`
	AdminID    string          `json:"admin_id"`
	Action     AuditAction     `json:"action"`
	EntityType string          `json:"entity_type"`
	EntityID   string          `json:"entity_id"`
	OldValue   json.RawMessage `json:"old_value,omitempty"`
	NewValue   json.RawMessage `json:"new_value,omitempty"`
	Reason     string          `json:"reason,omitempty"`
	IPAddress  string          `json:"ip_address,omitempty"`
	UserAgent  string          `json:"user_agent,omitempty"`
	Timestamp  time.Time       `json:"timestamp"`
}
