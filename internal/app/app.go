// Package app wires the run server together: config from the environment,
// persisted state restore, the simulation loop, and the HTTP surface, with a
// graceful shutdown path that flushes the final snapshot.
package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/caarlos0/env/v11"

	"group-speedrun/server/internal/history"
	"group-speedrun/server/internal/hub"
	servernet "group-speedrun/server/internal/net"
	"group-speedrun/server/internal/net/ws"
	"group-speedrun/server/internal/run"
	"group-speedrun/server/internal/stats"
	"group-speedrun/server/internal/store"
	"group-speedrun/server/internal/telemetry"
	"group-speedrun/server/logging"
	loggingSinks "group-speedrun/server/logging/sinks"
)

// Config is populated from the environment.
type Config struct {
	Addr            string        `env:"ADDR" envDefault:":8080"`
	DataDir         string        `env:"DATA_DIR" envDefault:"data"`
	TickRate        int           `env:"TICK_RATE" envDefault:"20"`
	CatalogPath     string        `env:"MILESTONE_CATALOG"`
	DisconnectAfter time.Duration `env:"DISCONNECT_AFTER" envDefault:"30s"`
	AutoStart       bool          `env:"AUTO_START" envDefault:"true"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"10s"`

	Logger telemetry.Logger `env:"-"`
}

// LoadConfig reads the configuration from the environment.
func LoadConfig() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse environment: %w", err)
	}
	return cfg, nil
}

// Run starts the server and blocks until ctx is cancelled, then shuts down
// gracefully.
func Run(ctx context.Context, cfg Config) error {
	telemetryLogger := cfg.Logger
	if telemetryLogger == nil {
		telemetryLogger = telemetry.WrapLogger(log.Default())
	}

	router := logging.NewRouter(logging.SystemClock{}, logging.DefaultConfig(), []logging.NamedSink{
		{Name: "console", Sink: loggingSinks.NewConsoleSink(os.Stdout)},
	})
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if cerr := router.Close(closeCtx); cerr != nil {
			telemetryLogger.Printf("failed to close logging router: %v", cerr)
		}
	}()

	catalog := run.DefaultCatalog()
	if cfg.CatalogPath != "" {
		loaded, err := run.LoadCatalog(cfg.CatalogPath)
		if err != nil {
			return fmt.Errorf("load milestone catalog: %w", err)
		}
		catalog = loaded
	}

	fileStore := store.NewFileStore(filepath.Join(cfg.DataDir, "run.json"), telemetryLogger)

	archive, err := history.Open(filepath.Join(cfg.DataDir, "history.db"))
	if err != nil {
		return fmt.Errorf("open run history: %w", err)
	}
	defer func() {
		if cerr := archive.Close(); cerr != nil {
			telemetryLogger.Printf("failed to close run history: %v", cerr)
		}
	}()

	recorder := stats.NewRecorder()
	broadcaster := ws.NewBroadcaster(telemetryLogger)

	engineCfg := run.DefaultEngineConfig()
	engineCfg.AutoStart = cfg.AutoStart
	engine := run.NewEngine(engineCfg, catalog, run.Deps{
		Logger:      telemetryLogger,
		Publisher:   router,
		Store:       fileStore,
		Broadcaster: broadcaster,
		History:     archive,
		Stats:       recorder,
	})
	if persisted, ok := fileStore.Load(); ok {
		engine.Load(persisted)
	}

	h := hub.NewHub(hub.Config{
		TickRate:        cfg.TickRate,
		DisconnectAfter: cfg.DisconnectAfter,
	}, engine, recorder, telemetryLogger, nil)
	h.SetDetacher(broadcaster)

	stop := make(chan struct{})
	loopDone := make(chan struct{})
	go func() {
		defer close(loopDone)
		h.Run(stop)
	}()

	handler := servernet.NewHTTPHandler(engine, h, broadcaster, servernet.HTTPHandlerConfig{
		TickRate: cfg.TickRate,
		Logger:   telemetryLogger,
		History:  archive,
		Stats:    recorder,
	})

	srv := &http.Server{Addr: cfg.Addr, Handler: handler}
	serveErr := make(chan error, 1)
	go func() {
		serveErr <- srv.ListenAndServe()
	}()
	telemetryLogger.Printf("server listening on %s", cfg.Addr)

	select {
	case <-ctx.Done():
	case err := <-serveErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			close(stop)
			<-loopDone
			return fmt.Errorf("server failed: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		telemetryLogger.Printf("http shutdown: %v", err)
	}
	close(stop)
	<-loopDone

	fileStore.MarkDirty(engine.ShutdownSnapshot())
	if err := fileStore.Close(shutdownCtx); err != nil {
		telemetryLogger.Printf("final snapshot flush: %v", err)
	}
	telemetryLogger.Printf("server stopped")
	return nil
}
