package domain

import "time"

// RuleScope identifies where in the precedence hierarchy a rule lives.
// Lookups walk from the most specific scope to the least specific one.
type RuleScope string

const (
	ScopeMerchantOverride RuleScope = "MERCHANT_OVERRIDE"
	ScopeSupplierOverride RuleScope = "SUPPLIER_OVERRIDE"
	ScopeZone             RuleScope = "ZONE"
	ScopeCity             RuleScope = "CITY"
	ScopeCountry          RuleScope = "COUNTRY"
	ScopeGlobal           RuleScope = "GLOBAL"
	// ScopeDefault marks a rate that came from the configured safe
	// default because every tier resolved to absence.
	ScopeDefault RuleScope = "DEFAULT"
)

// CommissionRule is the normalized rule shape shared by both backing
// stores. Merchant/supplier overrides carry a subject ID; location
// rules carry country/city/zone codes instead.
type CommissionRule struct {
	ID           string    `json:"id"`
	Scope        RuleScope `json:"scope"`
	SubjectID    string    `json:"subject_id,omitempty"` // merchant or supplier ID for overrides
	Country      string    `json:"country,omitempty"`
	City         string    `json:"city,omitempty"`
	Zone         string    `json:"zone,omitempty"`
	BusinessType string    `json:"business_type"`

	// Nil percentage means "inherit from the next tier down".
	OrderCommissionPct    *float64 `json:"order_commission_pct,omitempty"`
	DeliveryCommissionPct *float64 `json:"delivery_commission_pct,omitempty"`

	IsZeroCommission bool   `json:"is_zero_commission"`
	Justification    string `json:"justification,omitempty"`

	EffectiveFrom *time.Time `json:"effective_from,omitempty"`
	EffectiveTo   *time.Time `json:"effective_to,omitempty"`
	IsActive      bool       `json:"is_active"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

// EffectiveAt reports whether the rule is active and its effective
// window covers the given instant.
func (r *CommissionRule) EffectiveAt(t time.Time) bool {
	if !r.IsActive {
		return false
	}
	if r.EffectiveFrom != nil && t.Before(*r.EffectiveFrom) {
		return false
	}
	if r.EffectiveTo != nil && t.After(*r.EffectiveTo) {
		return false
	}
	return true
}

// SupplierCommissionTier maps a supplied volume band to a commission
// percentage. A nil MaxVolume means the band is unbounded above.
type SupplierCommissionTier struct {
	ID            string   `json:"id"`
	SupplierID    string   `json:"supplier_id"`
	MinVolume     float64  `json:"min_volume"`
	MaxVolume     *float64 `json:"max_volume,omitempty"`
	CommissionPct float64  `json:"commission_pct"`
	IsActive      bool     `json:"is_active"`
}

// Covers reports whether the tier's band contains the given volume.
func (t *SupplierCommissionTier) Covers(volume float64) bool {
	if !t.IsActive || volume < t.MinVolume {
		return false
	}
	return t.MaxVolume == nil || volume <= *t.MaxVolume
}
