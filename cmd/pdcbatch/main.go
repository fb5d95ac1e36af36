// Command pdcbatch drives the nightly fleet-wide recomputation outside the
// admin server: a one-shot run for operators and cron wrappers that don't
// want to go through the HTTP surface, a dry-run preview, and a long-lived
// scheduler process for environments that run the engine as a standalone
// batch worker rather than embedding it in pdcengine.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/carepath/pdc-engine/internal/batch"
	"github.com/carepath/pdc-engine/internal/config"
	"github.com/carepath/pdc-engine/internal/logging"
	"github.com/carepath/pdc-engine/internal/server"
)

var maxPatients int

func main() {
	root := &cobra.Command{
		Use:   "pdcbatch",
		Short: "Run the PDC adherence engine's nightly fleet recomputation",
	}

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Run one fleet-wide recomputation pass and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runOnce(false)
		},
	}
	runCmd.Flags().IntVar(&maxPatients, "max-patients", 0, "cap discovered patients (0 = unbounded)")

	dryRunCmd := &cobra.Command{
		Use:   "dry-run",
		Short: "Run one fleet-wide recomputation pass without persisting results",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runOnce(true)
		},
	}
	dryRunCmd.Flags().IntVar(&maxPatients, "max-patients", 0, "cap discovered patients (0 = unbounded)")

	scheduleCmd := &cobra.Command{
		Use:   "schedule",
		Short: "Start the nightly scheduler and block until signaled",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSchedule()
		},
	}

	root.AddCommand(runCmd, dryRunCmd, scheduleCmd)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func setup() (*config.Config, *server.Deps, error) {
	cfg, err := config.LoadConfig()
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}

	if err := logging.InitLogger(logging.LogConfig{
		Environment: cfg.Logging.Environment,
		Level:       cfg.Logging.Level,
		Format:      cfg.Logging.Format,
	}); err != nil {
		return nil, nil, fmt.Errorf("init logger: %w", err)
	}

	deps, err := server.BuildDeps(cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("build dependencies: %w", err)
	}

	return cfg, deps, nil
}

func runOnce(dryRun bool) error {
	cfg, deps, err := setup()
	if err != nil {
		return err
	}
	defer deps.Audit.Close()

	opts := batch.DefaultOptions(cfg.Engine.MeasurementYear)
	opts.BatchSize = cfg.Batch.BatchSize
	opts.MaxPatients = maxPatients
	opts.InterBatchDelay = cfg.Batch.InterBatchDelay
	opts.ProgressEveryN = cfg.Batch.ProgressEveryN
	opts.MaxPatientRetries = cfg.Batch.MaxPatientRetries
	opts.DryRun = dryRun

	result, err := deps.Scheduler.RunWithOptions(context.Background(), opts)
	if err != nil {
		return fmt.Errorf("batch run: %w", err)
	}

	logging.BatchLogger().Info("batch run complete",
		logging.WithEntityID("batch_run", result.BatchRunID),
		zap.Int("patients_total", result.PatientsTotal),
		zap.Int("patients_ok", result.PatientsOK),
		zap.Int("patients_failed", result.PatientsFailed),
		zap.Bool("dry_run", dryRun))

	return nil
}

func runSchedule() error {
	cfg, deps, err := setup()
	if err != nil {
		return err
	}
	defer deps.Audit.Close()

	if err := deps.Scheduler.Start(cfg.Batch.ScheduleAt); err != nil {
		return fmt.Errorf("start scheduler: %w", err)
	}
	logging.BatchLogger().Info("batch scheduler started", zap.String("schedule_at", cfg.Batch.ScheduleAt))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()

	deps.Scheduler.Stop()
	logging.BatchLogger().Info("batch scheduler stopped")
	return nil
}
