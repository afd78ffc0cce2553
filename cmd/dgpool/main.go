package main

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/danmuck/dgpool/internal/fold"
	"github.com/danmuck/dgpool/internal/logging"
	"github.com/danmuck/dgpool/internal/observability"
	"github.com/danmuck/dgpool/internal/supervisor"
	"github.com/danmuck/dgpool/internal/worker"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCommand().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "dgpool: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "dgpool [workers]",
		Short: "Serve folding free-energy queries from a pool of worker processes",
		Long: `dgpool launches one worker process per port starting at the base port
(6000 unless configured) and keeps them running until interrupted.

The optional argument is the worker count. Anything that is not a positive
integer falls back to the number of logical CPUs. Set DGPOOL_CONFIG to a
.toml or .yaml file to override defaults.`,
		Args:          cobra.ArbitraryArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			logging.ConfigureRuntime()
			cfg, err := loadConfig(os.Getenv(envConfig))
			if err != nil {
				return err
			}
			if raw := os.Getenv(supervisor.EnvWorkerPort); raw != "" {
				return runWorker(cmd.Context(), cfg, raw, os.Getenv(supervisor.EnvWorkerIndex))
			}
			arg := ""
			if len(args) > 0 {
				arg = args[0]
			}
			return runSupervisor(cmd.Context(), cfg, arg)
		},
	}
}

func runSupervisor(ctx context.Context, cfg appConfig, countArg string) error {
	logger, runID := observability.ProcessLogger(log.Logger, "supervisor")
	observability.RegisterMetrics()

	cfg.Supervisor.Workers = supervisor.ResolveWorkerCount(countArg)
	if err := cfg.checkPorts(); err != nil {
		return err
	}
	launcher, err := supervisor.SelfLauncher()
	if err != nil {
		return err
	}
	sup, err := supervisor.New(cfg.Supervisor, launcher, logger)
	if err != nil {
		return err
	}
	logger.Info().Str("run_id", runID).Int("workers", cfg.Supervisor.Workers).Msg("dgpool starting")
	return sup.Run(ctx)
}

func runWorker(ctx context.Context, cfg appConfig, rawPort, rawIndex string) error {
	port, err := strconv.Atoi(strings.TrimSpace(rawPort))
	if err != nil {
		return fmt.Errorf("invalid %s %q: %w", supervisor.EnvWorkerPort, rawPort, err)
	}
	index, _ := strconv.Atoi(strings.TrimSpace(rawIndex))

	logger, _ := observability.ProcessLogger(log.Logger, "worker")
	logger = logger.With().Int("port", port).Logger()
	observability.RegisterMetrics()

	engine, err := fold.Select(cfg.Engine, cfg.EngineCommand, cfg.EngineTimeout)
	if err != nil {
		return err
	}
	wcfg := cfg.Worker
	wcfg.Port = port
	return worker.RunProcess(ctx, worker.ProcessConfig{
		Worker:      wcfg,
		MetricsAddr: cfg.metricsAddr(index),
		Control:     os.Stdin,
	}, engine, logger)
}
