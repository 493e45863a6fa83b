package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marketgrid/commission-engine/internal/audit"
	"github.com/marketgrid/commission-engine/internal/commission"
	"github.com/marketgrid/commission-engine/internal/domain"
	"github.com/marketgrid/commission-engine/internal/repository"
	"github.com/marketgrid/commission-engine/internal/rules"
)

func newTestServer(t *testing.T) http.Handler {
	t.Helper()

	db, err := repository.InitDB(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	overrides := repository.NewOverrideRepo(db)
	locations := repository.NewLocationRuleRepo(db)
	records := repository.NewRecordRepo(db)
	auditRepo := repository.NewAuditRepo(db)
	alertRepo := repository.NewAlertRepo(db)

	auditSvc := audit.NewService(auditRepo, alertRepo, audit.Thresholds{})
	adapter := rules.NewAdapter(overrides, locations, 128, time.Minute, 0)
	commissionSvc := commission.NewService(adapter, records, auditSvc, commission.Defaults{OrderPct: 5, DeliveryPct: 2})
	adminSvc := rules.NewAdminService(db, overrides, locations, adapter, auditSvc)

	return NewRouter(commissionSvc, auditSvc, adminSvc, overrides, locations)
}

func doJSON(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func decode(t *testing.T, rr *httptest.ResponseRecorder, v any) {
	t.Helper()
	require.NoError(t, json.NewDecoder(rr.Body).Decode(v))
}

func seedCountryRuleHTTP(t *testing.T, h http.Handler) {
	t.Helper()
	rr := doJSON(t, h, http.MethodPut, "/api/v1/rules/location", map[string]any{
		"scope":                   "COUNTRY",
		"country":                 "CO",
		"business_type":           "restaurant",
		"order_commission_pct":    5,
		"delivery_commission_pct": 2,
		"is_active":               true,
		"admin_id":                "admin-1",
		"reason":                  "baseline rates",
	})
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
}

func calculateBody(orderID string) map[string]any {
	return map[string]any{
		"order_id":       orderID,
		"business_id":    "biz-1",
		"business_type":  "restaurant",
		"order_subtotal": 100,
		"delivery_fee":   10,
		"country":        "CO",
	}
}

func TestCommissionLifecycleOverHTTP(t *testing.T) {
	h := newTestServer(t)
	seedCountryRuleHTTP(t, h)

	rr := doJSON(t, h, http.MethodPost, "/api/v1/commissions/calculate", calculateBody("order-1"))
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())

	var breakdown domain.CommissionBreakdown
	decode(t, rr, &breakdown)
	assert.Equal(t, 5.20, breakdown.PlatformRevenue)
	assert.Equal(t, 95.00, breakdown.MerchantPayout)

	// A second calculation for the same order conflicts.
	rr = doJSON(t, h, http.MethodPost, "/api/v1/commissions/calculate", calculateBody("order-1"))
	assert.Equal(t, http.StatusConflict, rr.Code)

	rr = doJSON(t, h, http.MethodGet, "/api/v1/commissions/order-1", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	var rec domain.OrderCommissionRecord
	decode(t, rr, &rec)
	assert.Equal(t, domain.StatusCalculated, rec.Status)

	rr = doJSON(t, h, http.MethodPost, "/api/v1/commissions/order-1/settle", nil)
	assert.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	rr = doJSON(t, h, http.MethodPost, "/api/v1/commissions/order-1/reverse", map[string]any{
		"reason":   "order refunded",
		"admin_id": "admin-1",
	})
	assert.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	rr = doJSON(t, h, http.MethodPost, "/api/v1/commissions/order-1/reverse", map[string]any{
		"reason":   "again",
		"admin_id": "admin-1",
	})
	assert.Equal(t, http.StatusConflict, rr.Code)

	rr = doJSON(t, h, http.MethodGet, "/api/v1/commissions/order-1/profit-check", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	var check commission.ProfitCheck
	decode(t, rr, &check)
	assert.False(t, check.Valid)
}

func TestSupersedeOverHTTP(t *testing.T) {
	h := newTestServer(t)
	seedCountryRuleHTTP(t, h)

	rr := doJSON(t, h, http.MethodPost, "/api/v1/commissions/calculate", calculateBody("order-1"))
	require.Equal(t, http.StatusCreated, rr.Code)

	body := calculateBody("order-1")
	body["order_subtotal"] = 150
	body["reason"] = "order amended"
	body["admin_id"] = "admin-1"
	rr = doJSON(t, h, http.MethodPost, "/api/v1/commissions/order-1/supersede", body)
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())

	var breakdown domain.CommissionBreakdown
	decode(t, rr, &breakdown)
	assert.Equal(t, 7.50, breakdown.OrderCommissionAmount)

	rr = doJSON(t, h, http.MethodGet, "/api/v1/commissions/order-1", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	var rec domain.OrderCommissionRecord
	decode(t, rr, &rec)
	assert.Equal(t, 2, rec.Version)
}

func TestCalculate_ZeroRevenueAndAlertResolution(t *testing.T) {
	h := newTestServer(t)
	seedCountryRuleHTTP(t, h)

	// A zero-commission merchant with an explicit zero delivery rate
	// yields nothing for the platform.
	rr := doJSON(t, h, http.MethodPut, "/api/v1/rules/merchant/biz-1", map[string]any{
		"business_type":           "restaurant",
		"is_zero_commission":      true,
		"justification":           "full waiver pilot",
		"delivery_commission_pct": 0,
		"is_active":               true,
		"admin_id":                "admin-1",
	})
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	rr = doJSON(t, h, http.MethodPost, "/api/v1/commissions/calculate", calculateBody("order-1"))
	assert.Equal(t, http.StatusUnprocessableEntity, rr.Code, rr.Body.String())

	rr = doJSON(t, h, http.MethodGet, "/api/v1/commissions/order-1", nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)

	rr = doJSON(t, h, http.MethodGet, "/api/v1/alerts?resolved=false", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	var listing struct {
		Alerts []domain.ProfitAlert `json:"alerts"`
	}
	decode(t, rr, &listing)
	require.Len(t, listing.Alerts, 1)
	assert.Equal(t, domain.SeverityCritical, listing.Alerts[0].Severity)

	// With an unresolved CRITICAL alert the integrity check reports
	// critical until an admin resolves it.
	rr = doJSON(t, h, http.MethodGet, "/api/v1/integrity", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	var report audit.IntegrityReport
	decode(t, rr, &report)
	assert.Equal(t, audit.IntegrityCritical, report.Status)

	rr = doJSON(t, h, http.MethodPost, "/api/v1/alerts/"+listing.Alerts[0].ID+"/resolve", map[string]any{
		"resolved_by": "admin-1",
	})
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	rr = doJSON(t, h, http.MethodGet, "/api/v1/integrity", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	decode(t, rr, &report)
	assert.Equal(t, audit.IntegrityHealthy, report.Status)
}

func TestGetCommission_NotFound(t *testing.T) {
	h := newTestServer(t)

	rr := doJSON(t, h, http.MethodGet, "/api/v1/commissions/order-missing", nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestSummaryEndpoint(t *testing.T) {
	h := newTestServer(t)
	seedCountryRuleHTTP(t, h)

	rr := doJSON(t, h, http.MethodGet, "/api/v1/commissions/summary", nil)
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = doJSON(t, h, http.MethodPost, "/api/v1/commissions/calculate", calculateBody("order-1"))
	require.Equal(t, http.StatusCreated, rr.Code)

	from := time.Now().UTC().Add(-time.Hour).Format(time.RFC3339)
	to := time.Now().UTC().Add(time.Hour).Format(time.RFC3339)
	rr = doJSON(t, h, http.MethodGet, "/api/v1/commissions/summary?from="+from+"&to="+to, nil)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	var summary domain.CommissionSummary
	decode(t, rr, &summary)
	assert.Equal(t, 1, summary.TotalOrders)
	assert.InDelta(t, 5.20, summary.TotalRevenue, 0.001)
}

func TestAuditLogEndpoints(t *testing.T) {
	h := newTestServer(t)
	seedCountryRuleHTTP(t, h)

	rr := doJSON(t, h, http.MethodGet, "/api/v1/audit-logs?action=COMMISSION_RULE_CREATED", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	var listing struct {
		Entries []domain.AuditLogEntry `json:"entries"`
		Total   int                    `json:"total"`
	}
	decode(t, rr, &listing)
	assert.Equal(t, 1, listing.Total)
	require.Len(t, listing.Entries, 1)
	assert.Equal(t, "admin-1", listing.Entries[0].AdminID)

	// Export requires an explicit period.
	rr = doJSON(t, h, http.MethodGet, "/api/v1/audit-logs/export", nil)
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	from := time.Now().UTC().Add(-time.Hour).Format(time.RFC3339)
	to := time.Now().UTC().Add(time.Hour).Format(time.RFC3339)
	rr = doJSON(t, h, http.MethodGet, "/api/v1/audit-logs/export?from="+from+"&to="+to, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	var exported []domain.AuditLogEntry
	decode(t, rr, &exported)
	assert.Len(t, exported, 1)
}

func TestActivityWarningsEndpoint(t *testing.T) {
	h := newTestServer(t)

	rr := doJSON(t, h, http.MethodGet, "/api/v1/admins/admin-1/activity-warnings", nil)
	require.Equal(t, http.StatusOK, rr.Code)

	var resp struct {
		AdminID  string   `json:"admin_id"`
		Warnings []string `json:"warnings"`
	}
	decode(t, rr, &resp)
	assert.Equal(t, "admin-1", resp.AdminID)
	assert.Empty(t, resp.Warnings)
}

func TestDashboardEndpoint(t *testing.T) {
	h := newTestServer(t)
	seedCountryRuleHTTP(t, h)

	rr := doJSON(t, h, http.MethodPost, "/api/v1/commissions/calculate", calculateBody("order-1"))
	require.Equal(t, http.StatusCreated, rr.Code)

	rr = doJSON(t, h, http.MethodGet, "/api/v1/dashboard", nil)
	require.Equal(t, http.StatusOK, rr.Code)

	var dash map[string]json.RawMessage
	decode(t, rr, &dash)
	assert.Contains(t, dash, "commissions")
	assert.Contains(t, dash, "integrity")
	assert.Contains(t, dash, "unresolved_alerts")
}
