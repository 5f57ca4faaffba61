package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/subosito/gotenv"
	"go.uber.org/zap"

	"github.com/practicehq/crm/internal/automation"
	"github.com/practicehq/crm/internal/config"
	"github.com/practicehq/crm/internal/history"
	httpserver "github.com/practicehq/crm/internal/interfaces/http"
	"github.com/practicehq/crm/internal/notification"
	"github.com/practicehq/crm/internal/report"
	"github.com/practicehq/crm/internal/repository"
	"github.com/practicehq/crm/internal/worker"
	"github.com/practicehq/crm/internal/workflow"
	"github.com/practicehq/crm/pkg/database"
	"github.com/practicehq/crm/pkg/utils"
)

func main() {
	_ = gotenv.Load()

	configPath := "configs/config.yaml"
	if v := os.Getenv("CRM_CONFIG"); v != "" {
		configPath = v
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger, err := utils.NewLogger(utils.LoggerConfig{
		Level:      cfg.Logger.Level,
		OutputPath: cfg.Logger.OutputPath,
		Format:     cfg.Logger.Format,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Info("Starting Practice CRM workflow core",
		zap.Int("port", cfg.Server.Port))

	db, err := database.New(database.Config{
		Path:            cfg.Database.Path,
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
	}, logger)
	if err != nil {
		logger.Fatal("Failed to initialize database", zap.Error(err))
	}
	defer db.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	migrator := database.NewMigrator(db, logger)
	if err := migrator.RunMigrations(ctx, cfg.Database.MigrationsDir); err != nil {
		logger.Fatal("Failed to run database migrations", zap.Error(err))
	}

	// Repositories
	workflowRepo := repository.NewWorkflowRepository(db.DB, logger)
	requestRepo := repository.NewRequestRepository(db.DB, logger)
	userRepo := repository.NewUserRepository(db.DB, logger)
	historyRepo := repository.NewHistoryRepository(db.DB, logger)
	assignmentRepo := repository.NewAssignmentRepository(db.DB, logger)
	outboxRepo := repository.NewOutboxRepository(db.DB, logger)
	taskRepo := repository.NewTaskRepository(db.DB, logger)

	// Services
	notifier := notification.NewLogNotifier(cfg.Notification.SenderName, logger)
	historySvc := history.NewService(historyRepo, logger)
	assigner := workflow.NewAssigner(requestRepo, userRepo, logger)
	workflowSvc := workflow.NewService(db, workflowRepo, requestRepo, userRepo, outboxRepo, assignmentRepo, historySvc, assigner, notifier, logger)
	webhooks := automation.NewWebhookClient(cfg.Webhook.Timeout, logger)
	executor := automation.NewExecutor(db, requestRepo, userRepo, taskRepo, assignmentRepo, assigner, notifier, webhooks, logger)
	reporter := report.NewDurationReporter(historySvc, logger)

	// Background workers
	manager := worker.NewManager(logger)
	manager.Register(worker.NewOutboxDrainer(outboxRepo, workflowRepo, requestRepo, executor, worker.DrainerConfig{
		PollInterval: cfg.Outbox.PollInterval,
		BatchSize:    cfg.Outbox.BatchSize,
		MaxAttempts:  cfg.Outbox.MaxAttempts,
		BaseBackoff:  cfg.Outbox.BaseBackoff,
	}, logger))

	if err := manager.StartAll(ctx); err != nil {
		logger.Fatal("Failed to start workers", zap.Error(err))
	}

	server := httpserver.NewServer(httpserver.ServerConfig{
		Host:         cfg.Server.Host,
		Port:         cfg.Server.Port,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}, workflowSvc, historySvc, reporter, requestRepo, userRepo, logger)

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start()
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		if err != nil {
			logger.Error("Server error", zap.Error(err))
		}
	case sig := <-quit:
		logger.Info("Shutting down", zap.String("signal", sig.String()))
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("Failed to shut down HTTP server", zap.Error(err))
	}
	manager.StopAll()
	cancel()

	logger.Info("Shutdown complete")
}
