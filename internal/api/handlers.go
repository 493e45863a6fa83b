package api

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/marketgrid/commission-engine/internal/audit"
	"github.com/marketgrid/commission-engine/internal/commission"
	"github.com/marketgrid/commission-engine/internal/domain"
	"github.com/marketgrid/commission-engine/internal/repository"
	"github.com/marketgrid/commission-engine/internal/rules"
)

// Handlers groups all HTTP handler methods and their dependencies.
type Handlers struct {
	commissionSvc *commission.Service
	auditSvc      *audit.Service
	adminSvc      *rules.AdminService
	ruleCounters  []audit.RuleMutationCounter
}

// --- helpers ---

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("[api] encode error: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// writeDomainError maps the engine's error kinds onto HTTP statuses.
func writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrDuplicateCalculation):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, domain.ErrAlreadyReversed):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, domain.ErrRecordNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, domain.ErrZeroRevenue):
		// The order pipeline translates this into a "requires manual
		// pricing review" state, so it gets a distinct status.
		writeError(w, http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, domain.ErrRuleResolutionUnavailable):
		writeError(w, http.StatusServiceUnavailable, err.Error())
	case errors.Is(err, domain.ErrAuditWriteFailure):
		writeError(w, http.StatusInternalServerError, err.Error())
	default:
		writeError(w, http.StatusBadRequest, err.Error())
	}
}

func parseTime(s string) *time.Time {
	if s == "" {
		return nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		t, err = time.Parse("2006-01-02", s)
		if err != nil {
			return nil
		}
	}
	return &t
}

func parseIntDefault(s string, def int) int {
	if s == "" {
		return def
	}
	v, err := strconv.Atoi(s)
	if err != nil || v < 1 {
		return def
	}
	return v
}

func parseOffset(s string) int {
	v, err := strconv.Atoi(s)
	if err != nil || v < 0 {
		return 0
	}
	return v
}

func adminFromRequest(r *http.Request, adminID, reason string) rules.AdminContext {
	return rules.AdminContext{
		AdminID:   adminID,
		Reason:    reason,
		IPAddress: r.RemoteAddr,
		UserAgent: r.UserAgent(),
	}
}

// --- commissions ---

func (h *Handlers) CalculateCommissions(w http.ResponseWriter, r *http.Request) {
	var in commission.CalculationInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body: "+err.Error())
		return
	}

	breakdown, err := h.commissionSvc.CalculateCommissions(r.Context(), in)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, breakdown)
}

func (h *Handlers) GetCommission(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "orderID")

	rec, err := h.commissionSvc.GetRecord(orderID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (h *Handlers) SettleCommission(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "orderID")

	if err := h.commissionSvc.SettleCommission(orderID); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"order_id": orderID, "status": "SETTLED"})
}

type reverseRequest struct {
	Reason  string `json:"reason"`
	AdminID string `json:"admin_id"`
}

func (h *Handlers) ReverseCommission(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "orderID")

	var req reverseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body: "+err.Error())
		return
	}

	if err := h.commissionSvc.ReverseCommission(orderID, req.Reason, req.AdminID); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"order_id": orderID, "status": "REVERSED"})
}

type supersedeRequest struct {
	commission.CalculationInput
	Reason  string `json:"reason"`
	AdminID string `json:"admin_id"`
}

func (h *Handlers) SupersedeCommission(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "orderID")

	var req supersedeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body: "+err.Error())
		return
	}
	req.CalculationInput.OrderID = orderID

	breakdown, err := h.commissionSvc.SupersedeCommission(r.Context(), req.CalculationInput, req.Reason, req.AdminID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, breakdown)
}

func (h *Handlers) ValidateOrderProfit(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "orderID")

	check, err := h.commissionSvc.ValidateOrderProfit(orderID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, check)
}

func (h *Handlers) GetCommissionSummary(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	from := parseTime(q.Get("from"))
	to := parseTime(q.Get("to"))
	if from == nil || to == nil {
		writeError(w, http.StatusBadRequest, "from and to are required (RFC3339 or YYYY-MM-DD)")
		return
	}

	summary, err := h.commissionSvc.Summary(*from, *to)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

// --- rules ---

type overrideRequest struct {
	domain.CommissionRule
	AdminID string `json:"admin_id"`
	Reason  string `json:"reason"`
}

func (h *Handlers) UpsertMerchantOverride(w http.ResponseWriter, r *http.Request) {
	h.upsertOverride(w, r, domain.ScopeMerchantOverride, chi.URLParam(r, "businessID"))
}

func (h *Handlers) UpsertSupplierOverride(w http.ResponseWriter, r *http.Request) {
	h.upsertOverride(w, r, domain.ScopeSupplierOverride, chi.URLParam(r, "supplierID"))
}

func (h *Handlers) upsertOverride(w http.ResponseWriter, r *http.Request, scope domain.RuleScope, subjectID string) {
	var req overrideRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body: "+err.Error())
		return
	}

	rule := req.CommissionRule
	rule.Scope = scope
	rule.SubjectID = subjectID

	if err := h.adminSvc.UpsertOverride(&rule, adminFromRequest(r, req.AdminID, req.Reason)); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rule)
}

func (h *Handlers) UpsertLocationRule(w http.ResponseWriter, r *http.Request) {
	var req overrideRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body: "+err.Error())
		return
	}

	rule := req.CommissionRule
	if err := h.adminSvc.UpsertLocationRule(&rule, adminFromRequest(r, req.AdminID, req.Reason)); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rule)
}

type tiersRequest struct {
	Tiers   []domain.SupplierCommissionTier `json:"tiers"`
	AdminID string                          `json:"admin_id"`
	Reason  string                          `json:"reason"`
}

func (h *Handlers) ReplaceSupplierTiers(w http.ResponseWriter, r *http.Request) {
	supplierID := chi.URLParam(r, "supplierID")

	var req tiersRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body: "+err.Error())
		return
	}

	if err := h.adminSvc.ReplaceSupplierTiers(supplierID, req.Tiers, adminFromRequest(r, req.AdminID, req.Reason)); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"supplier_id": supplierID, "tiers": len(req.Tiers)})
}

// --- audit, alerts, integrity ---

func (h *Handlers) ListAuditLogs(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := repository.AuditFilter{
		AdminID:    q.Get("admin_id"),
		Action:     q.Get("action"),
		EntityType: q.Get("entity_type"),
		EntityID:   q.Get("entity_id"),
		From:       parseTime(q.Get("from")),
		To:         parseTime(q.Get("to")),
		Limit:      parseIntDefault(q.Get("limit"), 50),
		Offset:     parseOffset(q.Get("offset")),
	}

	entries, total, err := h.auditSvc.Logs(filter)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"entries": entries,
		"total":   total,
		"limit":   filter.Limit,
		"offset":  filter.Offset,
	})
}

func (h *Handlers) ExportAuditLogs(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	from := parseTime(q.Get("from"))
	to := parseTime(q.Get("to"))
	if from == nil || to == nil {
		writeError(w, http.StatusBadRequest, "from and to are required (RFC3339 or YYYY-MM-DD)")
		return
	}

	entries, err := h.auditSvc.Export(*from, *to, q.Get("entity_type"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

func (h *Handlers) ListAlerts(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := repository.AlertFilter{
		Type:     q.Get("type"),
		Severity: q.Get("severity"),
		OrderID:  q.Get("order_id"),
		Limit:    parseIntDefault(q.Get("limit"), 50),
	}
	if v := q.Get("resolved"); v != "" {
		resolved := v == "true"
		filter.Resolved = &resolved
	}

	alerts, err := h.auditSvc.Alerts(filter)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"alerts": alerts})
}

type resolveAlertRequest struct {
	ResolvedBy string `json:"resolved_by"`
}

func (h *Handlers) ResolveAlert(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req resolveAlertRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body: "+err.Error())
		return
	}

	alert, err := h.auditSvc.ResolveAlert(id, req.ResolvedBy)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, alert)
}

func (h *Handlers) ActivityWarnings(w http.ResponseWriter, r *http.Request) {
	adminID := chi.URLParam(r, "adminID")

	warnings, err := h.auditSvc.DetectSuspiciousActivity(adminID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if warnings == nil {
		warnings = []string{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"admin_id": adminID, "warnings": warnings})
}

func (h *Handlers) IntegrityCheck(w http.ResponseWriter, r *http.Request) {
	report, err := h.auditSvc.PerformIntegrityCheck(h.ruleCounters...)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (h *Handlers) GetDashboard(w http.ResponseWriter, r *http.Request) {
	now := time.Now()
	from := now.Add(-30 * 24 * time.Hour)

	summary, err := h.commissionSvc.Summary(from, now)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	report, err := h.auditSvc.PerformIntegrityCheck(h.ruleCounters...)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	unresolved := false
	alerts, err := h.auditSvc.Alerts(repository.AlertFilter{Resolved: &unresolved, Limit: 10})
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"period": map[string]string{
			"from": from.Format("2006-01-02"),
			"to":   now.Format("2006-01-02"),
		},
		"commissions":       summary,
		"integrity":         report,
		"unresolved_alerts": alerts,
	})
}
