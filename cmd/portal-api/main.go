package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jmoiron/sqlx"
	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"contractor-hub/contractor-portal/contractor-portal-backend/internal/approval"
	"contractor-hub/contractor-portal/contractor-portal-backend/internal/config"
	"contractor-hub/contractor-portal/contractor-portal-backend/internal/documents"
	"contractor-hub/contractor-portal/contractor-portal-backend/internal/notifications"
	"contractor-hub/contractor-portal/contractor-portal-backend/internal/stageconfig"
)

func main() {
	// Initialize logger
	logger, _ := zap.NewDevelopment()
	defer logger.Sync()

	_ = godotenv.Load()

	// Load configuration
	cfg, err := config.LoadConfig("config.json")
	if err != nil {
		logger.Fatal("Failed to load config", zap.Error(err))
	}

	logger.Info("Connecting to database",
		zap.String("host", cfg.Database.Host),
		zap.String("db", cfg.Database.DBName))
	db, err := sqlx.Connect("postgres", cfg.Database.GetDatabaseURL())
	if err != nil {
		logger.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer db.Close()

	if cfg.Database.MaxConnections > 0 {
		db.SetMaxOpenConns(cfg.Database.MaxConnections)
	}
	if cfg.Database.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.Database.MaxIdleConns)
	}

	// Initialize Approval Workflow Engine
	repo := approval.NewRepository(db)
	configStore := approval.NewConfigStore(db)
	documentsRepo := documents.NewRepository(db)
	directory, badKeys := approval.ParseDirectoryTables(cfg.Workflow.DefaultApprovers, cfg.Workflow.EscalationContacts)
	for _, key := range badKeys {
		logger.Warn("Bad approver table entry", zap.String("key", key))
	}
	dispatcher := notifications.NewLogDispatcher(logger)

	engine := approval.NewEngine(repo, configStore, approval.NewDocumentsDirectory(documentsRepo), directory, dispatcher, logger)
	sweeper := approval.NewEscalationSweeper(repo, configStore, directory, dispatcher, logger)
	handler := approval.NewHandler(engine, logger)
	stageConfigHandler := stageconfig.NewHandler(stageconfig.NewService(stageconfig.NewRepository(db)), logger)

	// Setup Router
	router := gin.Default()

	// CORS Middleware
	router.Use(func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, X-CSRF-Token, Authorization, accept, origin, Cache-Control, X-Requested-With")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET, PUT, DELETE")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}

		c.Next()
	})

	// Register Routes
	api := router.Group("/api/v1")
	{
		handler.RegisterRoutes(api)
		stageConfigHandler.RegisterRoutes(api.Group("/admin"))
	}

	// Health Check
	router.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{
			"status":    "healthy",
			"timestamp": time.Now(),
		})
	})

	// Escalation sweep on a fixed interval
	sweepCron := cron.New()
	_, err = sweepCron.AddFunc(fmt.Sprintf("@every %s", cfg.Workflow.SweepInterval), func() {
		ctx, cancel := context.WithTimeout(context.Background(), cfg.Workflow.SweepInterval)
		defer cancel()
		if _, err := sweeper.EscalateOverdueApprovals(ctx); err != nil {
			logger.Error("escalation sweep failed", zap.Error(err))
		}
	})
	if err != nil {
		logger.Fatal("Failed to schedule escalation sweep", zap.Error(err))
	}
	sweepCron.Start()

	// Start Server
	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: router,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("listen failed", zap.Error(err))
		}
	}()

	logger.Info("Server started", zap.Int("port", cfg.Server.Port))

	// Graceful Shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("Shutting down server...")

	<-sweepCron.Stop().Done()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Fatal("Server forced to shutdown", zap.Error(err))
	}

	logger.Info("Server exiting")
}
