package daemon

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/cascade-app/cascade/internal/api"
	"github.com/cascade-app/cascade/internal/app/engagement"
	"github.com/cascade-app/cascade/internal/health"
	"github.com/cascade-app/cascade/internal/infra/sqlite"
)

// Daemon is the Cascade runtime. It wires together all services.
type Daemon struct {
	Config Config
	Log    *zap.Logger
	DB     *sqlite.DB
	Engine *engagement.Engine
	Health *health.Checker
	Server *api.Server
}

// New creates and initializes a Daemon from $CASCADE_HOME/config.toml.
func New() (*Daemon, error) {
	cfg, err := LoadConfig()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	return NewWithConfig(cfg)
}

// NewWithConfig creates a Daemon with the given configuration.
func NewWithConfig(cfg Config) (*Daemon, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	log, err := NewLogger(cfg.Logging)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}

	dataDir := cfg.Database.Dir
	if dataDir == "" {
		dataDir = cascadeHome()
	}
	db, err := sqlite.Open(dataDir)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	opts := cfg.EngineOptions()
	opts.Logger = log
	engine := engagement.NewEngine(db, opts)

	checker := health.NewChecker(db, dataDir, log)

	srv := api.NewServer(engine, checker, api.Options{
		CORSOrigins:        cfg.API.CORSOrigins,
		RateLimitPerMinute: cfg.API.RateLimitPerMinute,
		Metrics:            cfg.Telemetry.Prometheus,
		Logger:             log,
	})

	return &Daemon{
		Config: cfg,
		Log:    log,
		DB:     db,
		Engine: engine,
		Health: checker,
		Server: srv,
	}, nil
}

// Close releases the database and flushes logs. Serve calls it on shutdown.
func (d *Daemon) Close() error {
	err := d.DB.Close()
	_ = d.Log.Sync()
	return err
}

// Serve starts the HTTP server and blocks until ctx is done or a signal arrives.
func (d *Daemon) Serve(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	go d.Health.Run(ctx)

	addr := fmt.Sprintf("%s:%d", d.Config.API.Host, d.Config.API.Port)
	httpServer := &http.Server{
		Addr:         addr,
		Handler:      d.Server.Handler(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 45 * time.Second,
		IdleTimeout:  2 * time.Minute,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- httpServer.ListenAndServe()
	}()

	fmt.Fprintf(os.Stdout, "Cascade serving on http://%s\n", addr)
	if d.Config.Telemetry.Prometheus {
		fmt.Fprintf(os.Stdout, "  Metrics: http://%s/metrics\n", addr)
	}
	d.Log.Info("server started", zap.String("addr", addr))

	var serveErr error
	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			serveErr = fmt.Errorf("listen: %w", err)
		}
	case <-ctx.Done():
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		d.Log.Warn("graceful shutdown failed", zap.Error(err))
	}
	d.Log.Info("server stopped")

	return errors.Join(serveErr, d.Close())
}
