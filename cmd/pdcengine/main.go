// Command pdcengine serves the PDC Adherence Engine's admin/ops HTTP
// surface: ad hoc recalculation, manual batch triggering, batch-run status,
// and the denormalization rebuild procedure.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/carepath/pdc-engine/internal/config"
	"github.com/carepath/pdc-engine/internal/logging"
	"github.com/carepath/pdc-engine/internal/server"
)

func gracefulShutdown(srv *http.Server, deps *server.Deps, done chan bool) {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	<-ctx.Done()

	logger := logging.GetLogger()
	logger.Info("shutting down gracefully, press Ctrl+C again to force")
	stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", logging.WithError(err))
	}

	deps.Scheduler.Stop()
	if err := deps.Audit.Close(); err != nil {
		logger.Error("failed to close audit store", logging.WithError(err))
	}

	logger.Info("server exiting")
	done <- true
}

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		panic(fmt.Sprintf("failed to load configuration: %v", err))
	}

	if err := logging.InitLogger(logging.LogConfig{
		Environment: cfg.Logging.Environment,
		Level:       cfg.Logging.Level,
		Format:      cfg.Logging.Format,
		FilePath:    cfg.Logging.FilePath,
		MaxSizeMB:   cfg.Logging.MaxSizeMB,
		MaxBackups:  cfg.Logging.MaxBackups,
		MaxAgeDays:  cfg.Logging.MaxAgeDays,
	}); err != nil {
		panic(fmt.Sprintf("failed to initialize logger: %v", err))
	}
	logger := logging.GetLogger()
	logger.Info("configuration loaded",
		logging.WithComponent("main"),
		zap.String("environment", cfg.Server.Environment),
		zap.Int("measurement_year", cfg.Engine.MeasurementYear))

	httpServer, deps, err := server.NewServerWithConfig(cfg)
	if err != nil {
		logger.Fatal("failed to initialize server", logging.WithError(err))
	}

	if err := deps.Scheduler.Start(cfg.Batch.ScheduleAt); err != nil {
		logger.Fatal("failed to start batch scheduler", logging.WithError(err))
	}

	logger.Info("starting PDC adherence engine admin server",
		logging.WithComponent("main"),
		zap.String("address", httpServer.Addr),
		zap.String("schedule_at", cfg.Batch.ScheduleAt))

	done := make(chan bool, 1)
	go gracefulShutdown(httpServer, deps, done)

	if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Fatal("http server error", logging.WithError(err))
	}

	<-done
	logger.Info("graceful shutdown complete")
}
