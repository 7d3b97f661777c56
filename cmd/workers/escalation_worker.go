package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"contractor-hub/contractor-portal/contractor-portal-backend/internal/approval"
	"contractor-hub/contractor-portal/contractor-portal-backend/internal/config"
	"contractor-hub/contractor-portal/contractor-portal-backend/internal/notifications"
)

// Standalone escalation worker: runs the SLA sweep out of process for
// deployments that scale the API separately from background work.
func main() {
	logger, _ := zap.NewProduction()
	defer logger.Sync()

	_ = godotenv.Load()

	cfg, err := config.LoadConfig("config.json")
	if err != nil {
		logger.Fatal("Failed to load config", zap.Error(err))
	}

	db, err := sqlx.Connect("postgres", cfg.Database.GetDatabaseURL())
	if err != nil {
		logger.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer db.Close()

	repo := approval.NewRepository(db)
	configStore := approval.NewConfigStore(db)
	directory, badKeys := approval.ParseDirectoryTables(cfg.Workflow.DefaultApprovers, cfg.Workflow.EscalationContacts)
	for _, key := range badKeys {
		logger.Warn("Bad approver table entry", zap.String("key", key))
	}
	dispatcher := notifications.NewLogDispatcher(logger)
	sweeper := approval.NewEscalationSweeper(repo, configStore, directory, dispatcher, logger)

	runSweep := func() {
		ctx, cancel := context.WithTimeout(context.Background(), cfg.Workflow.SweepInterval)
		defer cancel()
		result, err := sweeper.EscalateOverdueApprovals(ctx)
		if err != nil {
			logger.Error("escalation sweep failed", zap.Error(err))
			return
		}
		logger.Info("escalation sweep complete",
			zap.Int("escalated", result.EscalatedCount),
			zap.Int("reassigned", len(result.NewAssignments)))
	}

	c := cron.New()
	if _, err := c.AddFunc("@every "+cfg.Workflow.SweepInterval.String(), runSweep); err != nil {
		logger.Fatal("Failed to schedule sweep", zap.Error(err))
	}
	c.Start()
	logger.Info("Escalation worker started", zap.Duration("interval", cfg.Workflow.SweepInterval))

	// Run once at startup so a crashed worker catches up immediately.
	runSweep()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Escalation worker stopping")
	stopCtx := c.Stop()
	select {
	case <-stopCtx.Done():
	case <-time.After(30 * time.Second):
	}
}
