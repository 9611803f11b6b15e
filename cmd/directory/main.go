package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/fourducktion/party-lobby/internal/directory"
	"github.com/fourducktion/party-lobby/internal/platform/config"
	"github.com/fourducktion/party-lobby/internal/platform/logger"
	"github.com/fourducktion/party-lobby/internal/platform/metrics"
)

type directoryConfig struct {
	Port            string        `env:"PORT" envDefault:"8081"`
	LogLevel        string        `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat       string        `env:"LOG_FORMAT" envDefault:"json"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"10s"`

	// Postgres DSN; empty keeps records in memory.
	DSN           string        `env:"DIRECTORY_DSN"`
	TTL           time.Duration `env:"DIRECTORY_TTL" envDefault:"30s"`
	SweepInterval time.Duration `env:"DIRECTORY_SWEEP_INTERVAL" envDefault:"10s"`
}

func main() {
	if err := config.Load(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	var cfg directoryConfig
	if err := config.ParseEnv(&cfg); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	log, err := logger.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Error("directory stopped with error", zap.Error(err))
		os.Exit(1)
	}
	log.Info("directory stopped")
}

func run(ctx context.Context, cfg directoryConfig, log *zap.Logger) error {
	var store directory.Store = directory.NewMemoryStore()
	if cfg.DSN != "" {
		gs, err := directory.OpenGormStore(cfg.DSN)
		if err != nil {
			return err
		}
		defer func() {
			if err := gs.Close(); err != nil {
				log.Warn("close store", zap.Error(err))
			}
		}()
		store = gs
	}
	reg := directory.NewRegistry(store, log, directory.WithTTL(cfg.TTL))
	met := metrics.New()

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(logger.RequestLogger(log))
	r.Use(metrics.RequestMiddleware(met))
	r.Method(http.MethodGet, "/metrics", met.Handler())
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })
	directory.NewHandler(reg, log).Routes(r)

	srv := &http.Server{Addr: ":" + cfg.Port, Handler: r, ReadHeaderTimeout: 10 * time.Second}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return reg.RunSweeper(gctx, cfg.SweepInterval) })
	g.Go(func() error {
		log.Info("directory starting",
			zap.String("port", cfg.Port),
			zap.Bool("postgres", cfg.DSN != ""),
			zap.Duration("ttl", cfg.TTL),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("listen: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(sctx)
	})
	return g.Wait()
}
