package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/marketgrid/commission-engine/internal/audit"
	"github.com/marketgrid/commission-engine/internal/commission"
	"github.com/marketgrid/commission-engine/internal/rules"
)

// NewRouter creates the Chi router with all API routes mounted.
func NewRouter(
	commissionSvc *commission.Service,
	auditSvc *audit.Service,
	adminSvc *rules.AdminService,
	ruleCounters ...audit.RuleMutationCounter,
) http.Handler {
	h := &Handlers{
		commissionSvc: commissionSvc,
		auditSvc:      auditSvc,
		adminSvc:      adminSvc,
		ruleCounters:  ruleCounters,
	}

	r := chi.NewRouter()

	// Middleware.
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.SetHeader("Content-Type", "application/json"))

	r.Route("/api/v1", func(r chi.Router) {
		// Commission lifecycle.
		r.Post("/commissions/calculate", h.CalculateCommissions)
		r.Get("/commissions/summary", h.GetCommissionSummary)
		r.Get("/commissions/{orderID}", h.GetCommission)
		r.Post("/commissions/{orderID}/settle", h.SettleCommission)
		r.Post("/commissions/{orderID}/reverse", h.ReverseCommission)
		r.Post("/commissions/{orderID}/supersede", h.SupersedeCommission)
		r.Get("/commissions/{orderID}/profit-check", h.ValidateOrderProfit)

		// Rule administration.
		r.Put("/rules/merchant/{businessID}", h.UpsertMerchantOverride)
		r.Put("/rules/supplier/{supplierID}", h.UpsertSupplierOverride)
		r.Put("/rules/supplier/{supplierID}/tiers", h.ReplaceSupplierTiers)
		r.Put("/rules/location", h.UpsertLocationRule)

		// Audit trail and alerts.
		r.Get("/audit-logs", h.ListAuditLogs)
		r.Get("/audit-logs/export", h.ExportAuditLogs)
		r.Get("/alerts", h.ListAlerts)
		r.Post("/alerts/{id}/resolve", h.ResolveAlert)
		r.Get("/admins/{adminID}/activity-warnings", h.ActivityWarnings)
		r.Get("/integrity", h.IntegrityCheck)

		// Dashboard.
		r.Get("/dashboard", h.GetDashboard)
	})

	return r
}
