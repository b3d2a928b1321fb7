package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/bankdata-service/bankdata_service/internal/api/ops"
	"github.com/bankdata-service/bankdata_service/internal/domain/services/pipeline"
	"github.com/bankdata-service/bankdata_service/internal/domain/services/risk"
	"github.com/bankdata-service/bankdata_service/internal/domain/services/runlog"
	"github.com/bankdata-service/bankdata_service/internal/domain/services/validation"
	"github.com/bankdata-service/bankdata_service/internal/infrastructure/config"
	"github.com/bankdata-service/bankdata_service/internal/infrastructure/database"
	"github.com/bankdata-service/bankdata_service/internal/infrastructure/repositories"
	"github.com/bankdata-service/bankdata_service/internal/ingest"
	pipelinescheduler "github.com/bankdata-service/bankdata_service/internal/workers/pipeline_scheduler"
	"github.com/bankdata-service/bankdata_service/pkg/health"
	"github.com/bankdata-service/bankdata_service/pkg/logger"
	"github.com/bankdata-service/bankdata_service/pkg/version"
)

const migrationsDir = "./migrations"

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(fmt.Sprintf("Failed to load config: %v", err))
	}

	log := logger.New(cfg.LogLevel, cfg.Environment)

	db, err := database.Connect(cfg.Database)
	if err != nil {
		log.Fatal("Failed to connect to database", "error", err)
	}
	defer db.Close()

	if err := database.RunMigrations(cfg.Database.URL, migrationsDir); err != nil {
		log.Fatal("Failed to run migrations", "error", err)
	}

	// Repositories
	storeRepo := repositories.NewStoreRepository(db, log.Zap())
	batchRepo := repositories.NewBatchRepository(db, log.Zap())
	alertRepo := repositories.NewAlertRepository(db, log.Zap())
	runLogRepo := repositories.NewRunLogRepository(db, log.Zap())

	// Services
	highValue, err := cfg.Risk.HighValue()
	if err != nil {
		log.Fatal("Invalid high value threshold", "error", err)
	}
	dailyLimit, err := cfg.Risk.DailyLimit()
	if err != nil {
		log.Fatal("Invalid daily limit threshold", "error", err)
	}

	validator := validation.NewService(storeRepo, log)
	riskService := risk.NewService(storeRepo, storeRepo, storeRepo, storeRepo, alertRepo, risk.Config{
		HighValueThreshold:  highValue,
		DailyLimitThreshold: dailyLimit,
		AuthLookback:        cfg.Risk.AuthLookback(),
		LookupTimeout:       cfg.Risk.LookupTimeout(),
	}, log)
	runLogger := runlog.NewService(runLogRepo, log)
	loader := ingest.NewLoader(cfg.Pipeline.InputDir, log)
	artifacts := ingest.NewArtifactStore(cfg.Pipeline.ArtifactDir)

	pipelineService := pipeline.NewService(loader, validator, batchRepo, riskService, runLogger, artifacts, log)

	// Health checks
	checker := health.NewHealthChecker(10 * time.Second)
	checker.Register(health.NewDatabaseChecker(db.DB, 5*time.Second))

	// Ops surface
	server := ops.NewServer(cfg.Server, cfg.Environment, checker, runLogRepo, alertRepo, pipelineService, log)
	go func() {
		if err := server.Start(); err != nil {
			log.Fatal("Ops server failed", "error", err)
		}
	}()

	// Connection pool gauges
	poolCtx, poolCancel := context.WithCancel(context.Background())
	defer poolCancel()
	go func() {
		ticker := time.NewTicker(15 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-poolCtx.Done():
				return
			case <-ticker.C:
				database.ObserveConnections(db)
			}
		}
	}()

	// Scheduler
	scheduler := pipelinescheduler.New(cfg.Pipeline.Schedule, pipelineService, log.Zap())
	if err := scheduler.Start(context.Background()); err != nil {
		log.Fatal("Failed to start pipeline scheduler", "error", err)
	}

	if cfg.Pipeline.RunOnStart {
		go func() {
			if _, err := pipelineService.Execute(context.Background()); err != nil {
				log.Error("Initial run failed", "error", err)
			}
		}()
	}

	log.Info("Pipeline service started",
		"version", version.Get().String(),
		"environment", cfg.Environment,
		"schedule", cfg.Pipeline.Schedule,
		"input_dir", cfg.Pipeline.InputDir)

	// Wait for interrupt signal to gracefully shut down
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down...")

	scheduler.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		log.Fatal("Ops server forced to shutdown", "error", err)
	}

	log.Info("Pipeline service exited")
}
