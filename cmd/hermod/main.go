package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/relves/hermod/internal/config"
	"github.com/relves/hermod/internal/storage/sqlite"
	"github.com/relves/hermod/pkg/server"
	"github.com/relves/hermod/pkg/service"
)

func main() {
	configPath := flag.String("config", getEnv("HERMOD_CONFIG", ""), "path to TOML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	levelStr := getEnv("LOG_LEVEL", cfg.Node.LogLevel)
	var level slog.Level
	if err := level.UnmarshalText([]byte(levelStr)); err != nil {
		level = slog.LevelInfo
	}
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)

	if err := run(cfg, logger); err != nil {
		logger.Error("node stopped", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *slog.Logger) error {
	store, err := sqlite.Open(cfg.Node.DataPath)
	if err != nil {
		return fmt.Errorf("open state store: %w", err)
	}
	defer store.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	ledgerCfg, err := cfg.LedgerConfig()
	if err != nil {
		return err
	}

	svc, err := service.Open(ctx, service.Config{
		Store:  store,
		Ledger: ledgerCfg,
		Logger: logger,
	})
	if err != nil {
		return err
	}

	srv, err := server.New(
		server.WithService(svc),
		server.WithLogger(logger),
	)
	if err != nil {
		return err
	}

	httpServer := &http.Server{
		Addr:              cfg.Node.Listen,
		Handler:           srv.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	height, err := svc.Height()
	if err != nil {
		return err
	}
	logger.Info("hermod node starting",
		"listen", cfg.Node.Listen,
		"dataPath", cfg.Node.DataPath,
		"blockInterval", cfg.Node.BlockInterval,
		"height", height)

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		ticker := time.NewTicker(cfg.BlockInterval())
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
				height, swept, err := svc.AdvanceBlock(ctx)
				if err != nil {
					return fmt.Errorf("advance block: %w", err)
				}
				if swept > 0 {
					logger.Info("swept expired messages", "height", height, "count", swept)
				}
			}
		}
	})

	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
