package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/trickstertwo/xlog"
	"github.com/trickstertwo/xlog/adapter/zerolog"

	"github.com/trickstertwo/xsvc"
	"github.com/trickstertwo/xsvc/adapter/process"
	"github.com/trickstertwo/xsvc/adapter/redisexport"
	"github.com/trickstertwo/xsvc/config"
	"github.com/trickstertwo/xsvc/manager"
)

var (
	runConfigPath string
	runDebug      bool
)

func newRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Start the supervisor with the configured services",
		Long: `Loads the configuration, builds the bus and the lifecycle manager,
registers every declared service, starts them in dependency order, and
supervises them until SIGINT or SIGTERM.`,
		Args: cobra.NoArgs,
		RunE: runSupervisor,
	}
	cmd.Flags().StringVarP(&runConfigPath, "config", "c", "xsvc.yaml", "Path to the supervisor configuration")
	cmd.Flags().BoolVar(&runDebug, "debug", false, "Enable debug logging")
	return cmd
}

func runSupervisor(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(runConfigPath)
	if err != nil {
		return err
	}

	zcfg := zerolog.Config{
		Console:           true,
		ConsoleTimeFormat: time.RFC3339,
	}
	if runDebug || cfg.LogLevel == "debug" {
		zcfg.MinLevel = xlog.LevelDebug
	}
	logger := zerolog.Use(zcfg).With(xlog.Str("app", "xsvc"))

	bus, closeBus, err := xsvc.New(func(b *xsvc.BusBuilder) {
		b.WithLogger(logger).
			WithLaneCapacity(xsvc.PriorityCritical, cfg.Bus.CriticalCapacity).
			WithLaneCapacity(xsvc.PriorityHigh, cfg.Bus.HighCapacity).
			WithLaneCapacity(xsvc.PriorityNormal, cfg.Bus.NormalCapacity).
			WithLaneCapacity(xsvc.PriorityLow, cfg.Bus.LowCapacity)
	})
	if err != nil {
		return fmt.Errorf("build bus: %w", err)
	}
	defer func() { _ = closeBus() }()

	mgr := manager.New(manager.Config{
		Bus:                bus,
		Logger:             logger,
		HealthInterval:     cfg.Manager.HealthInterval.Std(),
		DependencyInterval: cfg.Manager.DependencyInterval.Std(),
		HealthTimeout:      cfg.Manager.HealthTimeout.Std(),
		StopTimeout:        cfg.Manager.StopTimeout.Std(),
		StaleAfter:         cfg.Manager.StaleAfter.Std(),
		Restart: manager.RestartPolicy{
			Threshold:   cfg.Manager.Restart.Threshold,
			MaxRestarts: cfg.Manager.Restart.MaxRestarts,
			Backoff:     cfg.Manager.Restart.Backoff.Std(),
		},
	})

	if cfg.Export.Enabled {
		exp, err := redisexport.New(redisexport.Config{
			Addr:          cfg.Export.Addr,
			Username:      cfg.Export.Username,
			Password:      cfg.Export.Password,
			DB:            cfg.Export.DB,
			Stream:        cfg.Export.Stream,
			MaxLenApprox:  cfg.Export.MaxLenApprox,
			Buffer:        4096,
			BatchSize:     128,
			FlushInterval: time.Second,
		}, redisexport.WithLogger(logger))
		if err != nil {
			return fmt.Errorf("build event exporter: %w", err)
		}
		bus.AddObserver(exp)
		if err := mgr.Register("event-export", exp, nil, nil); err != nil {
			return fmt.Errorf("register event exporter: %w", err)
		}
	}

	for _, svc := range cfg.Services {
		unit, err := process.New(process.Config{
			Name:              svc.Name,
			Command:           svc.Command,
			Args:              svc.Args,
			Dir:               svc.Dir,
			Env:               svc.Env,
			GracePeriod:       svc.GracePeriod.Std(),
			HeartbeatInterval: svc.HeartbeatInterval.Std(),
		}, process.WithBus(bus), process.WithLogger(logger))
		if err != nil {
			return fmt.Errorf("build service %s: %w", svc.Name, err)
		}
		if err := mgr.Register(svc.Name, unit, svc.Dependencies, svc.Kinds()); err != nil {
			return fmt.Errorf("register service %s: %w", svc.Name, err)
		}
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	if err := mgr.StartAll(ctx); err != nil {
		return err
	}

	sigC := make(chan os.Signal, 1)
	signal.Notify(sigC, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigC
	logger.With(xlog.Str("signal", sig.String())).Info().Msg("shutting down")

	if err := mgr.StopAll(ctx); err != nil {
		return err
	}
	return nil
}
