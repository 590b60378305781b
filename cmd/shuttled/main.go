package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"codeberg.org/mutker/shuttled/internal/config"
	"codeberg.org/mutker/shuttled/internal/health"
	"codeberg.org/mutker/shuttled/internal/lock"
	"codeberg.org/mutker/shuttled/internal/logger"
	"codeberg.org/mutker/shuttled/internal/monitor"
	"codeberg.org/mutker/shuttled/internal/notify"
	"codeberg.org/mutker/shuttled/internal/sensors"
	"codeberg.org/mutker/shuttled/internal/status"
	"codeberg.org/mutker/shuttled/internal/supervisor"
	"codeberg.org/mutker/shuttled/internal/telemetry"
)

var cfg *config.Config

func init() {
	var err error
	cfg, err = config.Load()
	if err != nil {
		fmt.Printf("failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger.Init(cfg.Debug, cfg.Verbose, logger.IsService())
	logger.Debug().Msg("Config loaded")
}

func main() {
	// One daemon per host; the lock lives next to the status file.
	lockFile := filepath.Join(filepath.Dir(cfg.StatusFile), "shuttled.lock")
	instance, err := lock.Acquire(lockFile)
	if err != nil {
		logger.Fatal().Err(err).Msg("another instance is already running")
	}
	defer instance.Release()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go handleSignals(cancel)

	if err := run(ctx); err != nil {
		logger.Error().Err(err).Msg("error in main loop")
	}
	logger.Info().Msg("Exiting...")
}

func run(ctx context.Context) error {
	system := sensors.NewSystem(0)

	cpu := monitor.New("cpu", cfg.CPULimit, cfg.WindowSize, cfg.Probation, system.CPUPercent)
	queue := monitor.New("disk_queue", cfg.DiskQueueLimit, cfg.WindowSize, cfg.Probation, system.DiskQueueDepth)
	drives := health.NewDriveChecker(system, cfg.Drives)
	gate := health.NewGate([]*monitor.Monitor{cpu, queue}, drives, system, cfg.Blacklist, cfg.LowSpaceSuspends)

	store := status.Load(cfg.StatusFile, time.Now)
	throttle := notify.NewThrottle(map[notify.Category]time.Duration{
		notify.CategoryStorage: time.Duration(cfg.StorageNotifyInterval) * time.Minute,
		notify.CategoryAdmin:   time.Duration(cfg.AdminNotifyInterval) * time.Minute,
		notify.CategoryGrace:   time.Duration(cfg.GraceNotifyInterval) * time.Minute,
	})
	dispatcher := notify.NewDispatcher(cfg.Mail)

	telemetryCfg := telemetry.DefaultConfig()
	telemetryCfg.Enabled = cfg.Telemetry
	if cfg.TelemetryDB != "" {
		telemetryCfg.DBPath = cfg.TelemetryDB
	}
	collector, err := telemetry.NewService(telemetryCfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := collector.Close(); err != nil {
			logger.Error().Err(err).Msg("failed to close telemetry service")
		}
	}()

	sup, err := supervisor.New(supervisor.Deps{
		Config:     cfg,
		Gate:       gate,
		CPU:        cpu,
		Queue:      queue,
		Store:      store,
		Throttle:   throttle,
		Dispatcher: dispatcher,
		Copier:     supervisor.NoopCopier{},
		Telemetry:  collector,
		Host:       system,
		Clock:      time.Now,
	})
	if err != nil {
		return err
	}

	return sup.Run(ctx)
}

func handleSignals(cancel context.CancelFunc) {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	<-sigs
	logger.Info().Msg("Received termination signal.")
	cancel()
}
