// Command hub runs the home-automation hub: the embedded TLS MQTT broker
// with its device registry, security interceptor, health monitor and
// certificate rotation service.
//
// Usage:
//
//	hub [flags]
//
// Flags:
//
//	-config string     Configuration file path (YAML)
//	-log-level string  Log level: debug, info, warn, error (default "info")
//	-seed              Seed the demo device registry on startup
//	-version           Print the build version and exit
package main

import (
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/homehub-iot/hubcore/pkg/alertlog"
	"github.com/homehub-iot/hubcore/pkg/broker"
	"github.com/homehub-iot/hubcore/pkg/certwatch"
	"github.com/homehub-iot/hubcore/pkg/config"
	"github.com/homehub-iot/hubcore/pkg/discovery"
	"github.com/homehub-iot/hubcore/pkg/monitor"
	"github.com/homehub-iot/hubcore/pkg/registry"
	"github.com/homehub-iot/hubcore/pkg/transport"
	"github.com/homehub-iot/hubcore/pkg/version"
)

func main() {
	var (
		configPath  = flag.String("config", "", "Configuration file path (YAML)")
		logLevel    = flag.String("log-level", "info", "Log level: debug, info, warn, error")
		seed        = flag.Bool("seed", false, "Seed the demo device registry on startup")
		showVersion = flag.Bool("version", false, "Print the build version and exit")
	)
	flag.Parse()

	if *showVersion {
		fmt.Println(version.String())
		return
	}

	logger := newLogger(*logLevel)

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Error("load configuration", "err", err)
		os.Exit(1)
	}

	store, err := registry.Open(cfg.DatabasePath, logger)
	if err != nil {
		logger.Error("open registry", "path", cfg.DatabasePath, "err", err)
		os.Exit(1)
	}
	defer store.Close()

	if *seed {
		if err := store.SeedDemoDevices(registry.DemoSeeds()); err != nil {
			logger.Error("seed demo devices", "err", err)
			os.Exit(1)
		}
	}

	recorder, cleanup := newRecorder(cfg.EventLogPath, logger)
	defer cleanup()

	material := transport.Material{
		KeyStorePath:       cfg.TLS.KeyStorePath,
		KeyStorePassword:   cfg.TLS.KeyStorePassword,
		TrustStorePath:     cfg.TLS.TrustStorePath,
		TrustStorePassword: cfg.TLS.TrustStorePassword,
	}

	svc := broker.NewService(broker.Config{
		Port:           cfg.Port,
		ControllerID:   cfg.ControllerID,
		Material:       material,
		PoolSize:       cfg.WorkerPoolSize,
		DriftThreshold: cfg.DriftThreshold.Std(),
	}, store, recorder, logger)

	if err := svc.Start(); err != nil {
		logger.Error("start broker", "err", err)
		os.Exit(1)
	}

	healthMonitor := monitor.NewHealthMonitor(store, recorder, logger,
		cfg.HealthScanInterval.Std(), cfg.OfflineThreshold.Std())
	healthMonitor.Start()

	rotator := certwatch.NewRotator(svc.Restart, material.Paths(), logger,
		cfg.CertRotationMin.Std(), cfg.CertRotationMax.Std(), cfg.CertPollInterval.Std())
	rotator.Start()

	var advertiser *discovery.Advertiser
	if cfg.Discovery.Enabled {
		advertiser = discovery.NewAdvertiser(discovery.Config{
			InstanceName: cfg.Discovery.InstanceName,
			ControllerID: cfg.ControllerID,
			Port:         cfg.Port,
			Interface:    cfg.Discovery.Interface,
		}, logger)
		if err := advertiser.Start(); err != nil {
			logger.Warn("mDNS advertisement failed", "err", err)
		}
	}

	logger.Info("hub running", "port", cfg.Port, "controller_id", cfg.ControllerID)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	logger.Info("shutting down", "signal", sig.String())

	if advertiser != nil {
		advertiser.Stop()
	}
	rotator.Stop()
	healthMonitor.Stop()
	if err := svc.Stop(); err != nil {
		logger.Error("stop broker", "err", err)
	}
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}

func newRecorder(path string, logger *slog.Logger) (alertlog.Recorder, func()) {
	if path == "" {
		return alertlog.NewSlogRecorder(logger), func() {}
	}
	file, err := alertlog.NewFileRecorder(path)
	if err != nil {
		logger.Warn("event log unavailable, falling back to console",
			"path", path, "err", err)
		return alertlog.NewSlogRecorder(logger), func() {}
	}
	multi := alertlog.Multi{file, alertlog.NewSlogRecorder(logger)}
	return multi, func() { _ = file.Close() }
}
