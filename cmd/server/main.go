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

	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/fourducktion/party-lobby/internal/directory"
	"github.com/fourducktion/party-lobby/internal/httpapi"
	"github.com/fourducktion/party-lobby/internal/hub"
	"github.com/fourducktion/party-lobby/internal/lobby"
	"github.com/fourducktion/party-lobby/internal/platform/config"
	"github.com/fourducktion/party-lobby/internal/platform/logger"
	"github.com/fourducktion/party-lobby/internal/platform/metrics"
	"github.com/fourducktion/party-lobby/internal/ws"
)

type serverConfig struct {
	Port            string        `env:"PORT" envDefault:"8080"`
	LogLevel        string        `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat       string        `env:"LOG_FORMAT" envDefault:"json"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"10s"`

	// Remote directory; empty runs one in-process.
	DirectoryURL   string        `env:"DIRECTORY_URL"`
	DirectoryTTL   time.Duration `env:"DIRECTORY_TTL" envDefault:"30s"`
	OriginPatterns []string      `env:"WS_ORIGIN_PATTERNS"`

	Lobby lobby.Config
}

func main() {
	if err := config.Load(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	var cfg serverConfig
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
		log.Error("server stopped with error", zap.Error(err))
		os.Exit(1)
	}
	log.Info("server stopped")
}

func run(ctx context.Context, cfg serverConfig, log *zap.Logger) error {
	g, gctx := errgroup.WithContext(ctx)

	var dir directory.Client
	if cfg.DirectoryURL != "" {
		dir = directory.NewHTTPClient(cfg.DirectoryURL, nil)
		log.Info("using remote directory", zap.String("url", cfg.DirectoryURL))
	} else {
		reg := directory.NewRegistry(directory.NewMemoryStore(), log.Named("directory"), directory.WithTTL(cfg.DirectoryTTL))
		// An unset TTL leaves both the registry and its sweeper on defaults.
		g.Go(func() error { return reg.RunSweeper(gctx, cfg.DirectoryTTL/2) })
		dir = reg
	}

	met := metrics.New()
	// Lobbies outlive gctx so that shutdown can close them in order.
	h := hub.NewHub(context.WithoutCancel(ctx), log, cfg.Lobby,
		lobby.WithLogger(log.Named("lobby")),
		lobby.WithDirectory(dir),
		lobby.WithRecorder(met),
	)

	srv := &http.Server{
		Addr: ":" + cfg.Port,
		Handler: httpapi.SetupRoutes(httpapi.Deps{
			Hub:       h,
			Directory: dir,
			Metrics:   met,
			Log:       log,
			WS:        ws.Options{OutboxSize: cfg.Lobby.OutboxSize, OriginPatterns: cfg.OriginPatterns},
		}),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g.Go(func() error {
		log.Info("server starting",
			zap.String("port", cfg.Port),
			zap.Int("max_players", cfg.Lobby.MaxPlayers),
			zap.Bool("remote_directory", cfg.DirectoryURL != ""),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("listen: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutdown signal received, closing lobbies")

		sctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		// Lobbies first so every participant gets its closed frame and every
		// advertisement is withdrawn while the connections are still up.
		return multierr.Combine(
			h.Shutdown(sctx),
			srv.Shutdown(sctx),
		)
	})

	return g.Wait()
}
