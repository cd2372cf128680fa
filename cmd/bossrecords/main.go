// Command bossrecords runs the record authority: it tracks fights reported
// over HTTP, keeps every player's records and the world records, and
// streams record packets to observers over WebSocket.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/handlers"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/Rijam/BossChecklist/internal/api"
	"github.com/Rijam/BossChecklist/internal/config"
	"github.com/Rijam/BossChecklist/internal/database"
	"github.com/Rijam/BossChecklist/internal/dispatcher"
	"github.com/Rijam/BossChecklist/internal/influx"
	"github.com/Rijam/BossChecklist/internal/logging"
	"github.com/Rijam/BossChecklist/internal/monitor"
	"github.com/Rijam/BossChecklist/internal/otel"
	"github.com/Rijam/BossChecklist/internal/storage"
	"github.com/Rijam/BossChecklist/internal/storage/factory"
	"github.com/Rijam/BossChecklist/internal/tracker"
	"github.com/Rijam/BossChecklist/internal/transport/websocket"
)

// module defs - BuildDate can be set at build time via ldflags
var (
	Version   string = "0.0.1"
	BuildDate string = "unknown"

	AppName string = "bossrecords"
)

const shutdownTimeout = 10 * time.Second

func main() {
	configDir := "."
	if len(os.Args) > 1 {
		configDir = os.Args[1]
	}

	if err := run(configDir); err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", AppName, err)
		os.Exit(1)
	}
}

func run(configDir string) error {
	sessionStart := time.Now()
	sessionID := uuid.NewString()

	configErr := config.Load(configDir)

	logsDir := config.GetString("logsDir")
	if err := os.MkdirAll(logsDir, 0755); err != nil {
		return fmt.Errorf("create logs dir: %w", err)
	}
	logFilePath := logging.LogFilePath(logsDir, AppName, sessionStart)
	logFile, err := os.OpenFile(logFilePath, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0666)
	if err != nil {
		return fmt.Errorf("open log file: %w", err)
	}
	defer logFile.Close()

	worldID := config.GetString("worldID")
	level := config.GetString("logLevel")

	slogManager := logging.NewSlogManager()
	slogManager.Setup(logFile, level, logging.SessionContext(sessionID, worldID, "authority"))
	logger := slogManager.Logger()

	if configErr != nil {
		logger.Warn("Failed to load config, using defaults!", "error", configErr)
	} else {
		logger.Info("Loaded config", "dir", configDir)
	}
	logger.Info("Starting up", "version", Version, "build", BuildDate, "log", logFilePath)

	// storage
	storageCfg := config.GetStorageConfig()
	dbm := database.NewManager(logging.NewZerolog(logFile, level, "database"))
	backend, err := factory.NewBackend(storageCfg, dbm, slogManager)
	if err != nil {
		return err
	}
	if err := backend.Init(); err != nil {
		return fmt.Errorf("init %s storage: %w", storageCfg.Type, err)
	}
	logger.Info("Storage backend initialized", "type", storageCfg.Type)

	// session
	otelProvider, err := otel.New(otel.Config{
		Enabled:        config.GetBool("otel.enabled"),
		ServiceName:    AppName,
		ServiceVersion: Version,
	})
	if err != nil {
		return fmt.Errorf("set up otel: %w", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		_ = otelProvider.Shutdown(ctx)
	}()

	d, err := dispatcher.New(logging.NewDispatcherLogger(logging.NewZerolog(logFile, level, "dispatcher")).ForRole("authority"))
	if err != nil {
		return fmt.Errorf("create dispatcher: %w", err)
	}

	transportCfg := config.GetTransportConfig()
	hub := websocket.NewHub(transportCfg.Secret, d,
		websocket.WithLogger(logger),
		websocket.OnConnect(func(player string) {
			logger.Info("Observer joined", "player", player)
		}),
	)

	opts := []tracker.AuthorityOption{tracker.WithLogger(logger)}
	kills := connectInflux(logsDir, worldID, logFile, level, logger)
	if kills != nil {
		defer kills.Close()
		opts = append(opts, tracker.WithRecorder(kills))
	}

	authority := tracker.NewAuthority(worldID, hub, opts...)
	authority.RegisterHandlers(d)

	if err := storage.Restore(backend, authority, worldID); err != nil {
		return fmt.Errorf("restore records: %w", err)
	}
	logger.Info("Records restored", "players", len(authority.Players()))

	monitorDeps := monitor.Dependencies{
		WorldID:    worldID,
		Connected:  hub.Players,
		Tracked:    authority.Players,
		StatusPath: filepath.Join(logsDir, "status.json"),
		Interval:   config.GetDuration("statusInterval"),
		Logger:     logger,
	}
	if kills != nil {
		monitorDeps.Writer = kills
	}
	status := monitor.NewService(monitorDeps)
	if err := status.Start(); err != nil {
		return fmt.Errorf("start status monitor: %w", err)
	}

	promauto.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "bossrecords_connected_players",
		Help: "Number of observers currently connected.",
	}, func() float64 {
		return float64(len(hub.Players()))
	})

	router := api.NewRouter(api.Config{
		Tracker: authority,
		Hub:     hub,
		Secret:  transportCfg.Secret,
		Logger:  logger,
	})
	srv := &http.Server{
		Addr:    transportCfg.Listen,
		Handler: handlers.RecoveryHandler()(handlers.LoggingHandler(logFile, router)),
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("Listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	autosave := config.GetDuration("autosaveInterval")
	var ticker <-chan time.Time
	if autosave > 0 {
		t := time.NewTicker(autosave)
		defer t.Stop()
		ticker = t.C
	}

	var runErr error
loop:
	for {
		select {
		case <-ctx.Done():
			logger.Info("Shutting down")
			break loop
		case err := <-serveErr:
			runErr = err
			break loop
		case <-ticker:
			if err := storage.Persist(backend, authority); err != nil {
				logger.Error("Autosave failed", "error", err)
			}
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("HTTP shutdown", "error", err)
	}
	_ = hub.Close()
	d.Close()
	status.Stop()

	if err := storage.Persist(backend, authority); err != nil {
		runErr = errors.Join(runErr, fmt.Errorf("save records: %w", err))
	}
	if err := backend.Close(); err != nil {
		runErr = errors.Join(runErr, fmt.Errorf("close storage: %w", err))
	}
	logger.Info("Stopped", "uptime", time.Since(sessionStart).Round(time.Second))
	return runErr
}

// connectInflux returns the kill recorder, or nil when telemetry is off or
// cannot start.
func connectInflux(logsDir, worldID string, w io.Writer, level string, logger *slog.Logger) *influx.Manager {
	cfg := config.GetInfluxConfig()
	if !cfg.Enabled {
		return nil
	}

	m := influx.NewManager(cfg, worldID, filepath.Join(logsDir, "kills.lp.gz"), logging.NewZerolog(w, level, "influx"))
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := m.Connect(ctx); err != nil {
		logger.Warn("Kill telemetry disabled", "error", err)
		return nil
	}
	return m
}
