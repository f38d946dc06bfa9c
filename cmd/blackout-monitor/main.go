package main

import (
	"context"
	"os"
	"os/signal"
	"os/user"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/thatsimonsguy/blackout-monitor/db"
	"github.com/thatsimonsguy/blackout-monitor/internal/api"
	"github.com/thatsimonsguy/blackout-monitor/internal/config"
	"github.com/thatsimonsguy/blackout-monitor/internal/energy"
	"github.com/thatsimonsguy/blackout-monitor/internal/export"
	"github.com/thatsimonsguy/blackout-monitor/internal/logging"
	"github.com/thatsimonsguy/blackout-monitor/internal/metrics"
	"github.com/thatsimonsguy/blackout-monitor/internal/monitor"
	"github.com/thatsimonsguy/blackout-monitor/internal/observe"
	"github.com/thatsimonsguy/blackout-monitor/internal/schedule"
	"github.com/thatsimonsguy/blackout-monitor/system/startup"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load config")
	}
	logging.Init(cfg.LogLevel, cfg.LogFile)

	if cfg.InstallService != "" {
		installService(cfg)
		return
	}

	log.Info().
		Str("config_file", cfg.ConfigFile).
		Str("group", cfg.GroupNumber).
		Str("db_path", cfg.DBPath).
		Bool("check_only", cfg.CheckOnly).
		Msg("Starting blackout monitor")

	if err := os.MkdirAll(filepath.Dir(cfg.DBPath), 0755); err != nil {
		log.Fatal().Err(err).Msg("Failed to create database directory")
	}
	conn, err := db.Open(cfg.DBDriver, cfg.DBPath)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open database")
	}
	defer conn.Close()
	if err := db.ApplyMigrations(conn); err != nil {
		log.Fatal().Err(err).Msg("Failed to apply migrations")
	}

	source := observe.NewSource(cfg.Observation)
	defer source.Close()
	log.Info().Str("source", source.Name()).Msg("Observation source selected")

	timeout := time.Duration(cfg.Observation.AttemptTimeoutSeconds) * time.Second
	window := observe.NewWindowSource(cfg.Observation.OutageWindowURL, observe.NewRenderer(cfg.Observation.Renderer, timeout))
	defer window.Close()

	collector, err := energy.NewCollector(cfg.Energy)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to set up energy collection")
	}
	defer collector.Close()

	sink := metrics.New(cfg.Metrics)
	defer sink.Close()

	exports := export.NewWriter(cfg.ExportDir)

	m := monitor.New(monitor.Deps{
		Config:    cfg,
		DB:        conn,
		Schedules: schedule.NewStore(cfg.ScheduleFile, cfg.GroupNumber),
		Observer:  observe.NewObserver(source, cfg.Observation),
		Window:    window,
		Energy:    collector,
		Exports:   exports,
		Metrics:   sink,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.CheckOnly {
		cycle := m.Check(ctx)
		log.Info().
			Str("expected", cycle.Record.Expected.String()).
			Str("actual", cycle.Record.Actual.String()).
			Str("comparison", string(cycle.Record.Comparison)).
			Msg("Check-only run finished")
		return
	}

	if cfg.API.Port > 0 {
		server := api.NewServer(conn, m, exports, sink.Handler(), cfg.API)
		go func() {
			if err := server.Start(ctx, cfg.API.Port); err != nil {
				log.Error().Err(err).Msg("REST API server stopped")
			}
		}()
	}

	if err := m.Run(ctx); err != nil {
		log.Error().Err(err).Msg("Monitor stopped")
		return
	}
	log.Info().Msg("Blackout monitor stopped")
}

func installService(cfg config.Config) {
	exe, err := os.Executable()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to resolve executable path")
	}
	workdir, err := os.Getwd()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to resolve working directory")
	}
	configFile, _ := filepath.Abs(cfg.ConfigFile)
	envFile, _ := filepath.Abs(cfg.EnvFile)

	unit := startup.Unit{
		WorkDir:   workdir,
		ExecStart: strings.Join([]string{exe, "-config-file", configFile, "-env-file", envFile}, " "),
		EnvFile:   envFile,
	}
	if u, err := user.Current(); err == nil && u.Username != "root" {
		unit.User = u.Username
	}

	if err := startup.InstallService(cfg.InstallService, unit); err != nil {
		log.Fatal().Err(err).Msg("Failed to install service unit")
	}
	if err := startup.EnableService(cfg.InstallService); err != nil {
		log.Fatal().Err(err).Msg("Failed to enable service")
	}
	log.Info().Str("unit", cfg.InstallService).Msg("Service installed")
}
