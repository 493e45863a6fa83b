package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/marketgrid/commission-engine/internal/anchor"
	"github.com/marketgrid/commission-engine/internal/api"
	"github.com/marketgrid/commission-engine/internal/audit"
	"github.com/marketgrid/commission-engine/internal/commission"
	"github.com/marketgrid/commission-engine/internal/config"
	"github.com/marketgrid/commission-engine/internal/repository"
	"github.com/marketgrid/commission-engine/internal/rules"
)

func main() {
	cfg, err := config.Load(os.Getenv("CONFIG_PATH"))
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	log.Printf("Initializing database at %s", cfg.Database.Path)
	db, err := repository.InitDB(cfg.Database.Path)
	if err != nil {
		log.Fatalf("Failed to init DB: %v", err)
	}
	defer db.Close()

	// Create repositories.
	overrideRepo := repository.NewOverrideRepo(db)
	locationRepo := repository.NewLocationRuleRepo(db)
	recordRepo := repository.NewRecordRepo(db)
	auditRepo := repository.NewAuditRepo(db)
	alertRepo := repository.NewAlertRepo(db)

	// Create services.
	auditSvc := audit.NewService(auditRepo, alertRepo, audit.Thresholds{
		HourlyActions:       cfg.Anomaly.HourlyActionThreshold,
		DistinctEntityTypes: cfg.Anomaly.EntityTypeThreshold,
		LargeValueChanges:   cfg.Anomaly.LargeChangeThreshold,
	})
	adapter := rules.NewAdapter(overrideRepo, locationRepo,
		cfg.RuleStore.CacheSize, cfg.RuleStore.CacheTTL.Std(), cfg.RuleStore.Timeout.Std())
	commissionSvc := commission.NewService(adapter, recordRepo, auditSvc, commission.Defaults{
		OrderPct:    cfg.Defaults.OrderPct,
		DeliveryPct: cfg.Defaults.DeliveryPct,
	})
	adminSvc := rules.NewAdminService(db, overrideRepo, locationRepo, adapter, auditSvc)

	// Start the background anchorer.
	chain, err := anchor.NewChain(db)
	if err != nil {
		log.Fatalf("Failed to load anchor chain: %v", err)
	}
	if ok, detail := chain.Verify(); !ok {
		log.Fatalf("Anchor chain failed verification: %s", detail)
	}
	anchorer := anchor.NewAnchorer(chain, recordRepo, cfg.Anchor.Interval.Std(), cfg.Anchor.BatchSize)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	go anchorer.Run(ctx)

	// Create router.
	router := api.NewRouter(commissionSvc, auditSvc, adminSvc, overrideRepo, locationRepo)

	log.Printf("Commission Resolution & Profit Integrity Engine")
	log.Printf("Listening on http://localhost:%s", cfg.Server.Port)
	log.Printf("API base: http://localhost:%s/api/v1", cfg.Server.Port)
	log.Printf("")
	log.Printf("Endpoints:")
	log.Printf("  POST   /api/v1/commissions/calculate")
	log.Printf("  POST   /api/v1/commissions/{orderID}/settle")
	log.Printf("  POST   /api/v1/commissions/{orderID}/reverse")
	log.Printf("  POST   /api/v1/commissions/{orderID}/supersede")
	log.Printf("  GET    /api/v1/commissions/{orderID}/profit-check")
	log.Printf("  GET    /api/v1/commissions/summary")
	log.Printf("  PUT    /api/v1/rules/...")
	log.Printf("  GET    /api/v1/audit-logs")
	log.Printf("  GET    /api/v1/alerts")
	log.Printf("  GET    /api/v1/integrity")
	log.Printf("  GET    /api/v1/dashboard")

	server := &http.Server{Addr: ":" + cfg.Server.Port, Handler: router}
	go func() {
		<-ctx.Done()
		server.Shutdown(context.Background())
	}()

	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatalf("Server failed: %v", err)
	}
}
