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

	"github.com/spf13/cobra"

	"github.com/verte-zerg/drillog/internal/config"
	"github.com/verte-zerg/drillog/internal/remote"
)

const (
	defaultServeAddr  = "127.0.0.1:8787"
	defaultServeRate  = 20.0
	defaultServeBurst = 40
	sweepInterval     = 5 * time.Minute
	shutdownTimeout   = 10 * time.Second
)

var (
	serveAddr     string
	serveDB       string
	serveAPIKey   string
	serveRate     float64
	serveBurst    int
	serveRedisURL string
)

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run a remote store server for development and self-hosting",
		Args:  cobra.NoArgs,
		RunE:  runServeCmd,
	}
	cmd.Flags().StringVar(&serveAddr, "addr", defaultServeAddr, "listen address")
	cmd.Flags().StringVar(&serveDB, "db", "", "server database path")
	cmd.Flags().StringVar(&serveAPIKey, "api-key", "", "require this key in the X-Api-Key header")
	cmd.Flags().Float64Var(&serveRate, "rate", defaultServeRate, "requests per second allowed per user (0 disables)")
	cmd.Flags().IntVar(&serveBurst, "burst", defaultServeBurst, "burst size for the per-user rate limit")
	cmd.Flags().StringVar(&serveRedisURL, "redis-url", "", "share rate limits through redis")
	return cmd
}

func runServeCmd(cmd *cobra.Command, _ []string) error {
	e, err := loadEnv(cmd)
	if err != nil {
		return err
	}
	defer e.close()
	applyStringConfig(cmd, "addr", &serveAddr, e.cfg.Serve.Addr)
	applyStringConfig(cmd, "db", &serveDB, e.cfg.Serve.DB)
	applyStringConfig(cmd, "api-key", &serveAPIKey, e.cfg.Serve.APIKey)
	applyFloatConfig(cmd, "rate", &serveRate, e.cfg.Serve.Rate)
	applyIntConfig(cmd, "burst", &serveBurst, e.cfg.Serve.Burst)
	applyStringConfig(cmd, "redis-url", &serveRedisURL, e.cfg.Serve.RedisURL)
	if serveRate < 0 || serveBurst < 0 {
		return fmt.Errorf("--rate and --burst must be >= 0")
	}
	dbPath := config.DefaultServerDBPath()
	if serveDB != "" {
		dbPath = config.ExpandHome(serveDB)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	log := e.log.Logger

	backend, err := remote.OpenBackend(ctx, dbPath, log)
	if err != nil {
		return fmt.Errorf("failed to open server db: %w", err)
	}
	defer func() {
		if cerr := backend.Close(); cerr != nil {
			logErrf("failed to close server db: %v\n", cerr)
		}
	}()

	opts := remote.ServerOptions{APIKey: serveAPIKey, Logger: log}
	switch {
	case serveRate == 0:
	case serveRedisURL != "":
		limiter, err := remote.NewRedisRateLimiter(ctx, serveRedisURL, serveBurst, log)
		if err != nil {
			return err
		}
		defer func() {
			if cerr := limiter.Close(); cerr != nil {
				logErrf("failed to close redis: %v\n", cerr)
			}
		}()
		opts.Limiter = limiter
	default:
		limiter := remote.NewInMemoryRateLimiter(serveRate, serveBurst)
		go sweepLimiters(ctx, limiter)
		opts.Limiter = limiter
	}

	srv := &http.Server{
		Addr:              serveAddr,
		Handler:           remote.NewServer(backend, opts).Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		log.Info("server listening", "addr", serveAddr, "db", dbPath)
		errCh <- srv.ListenAndServe()
	}()
	logErrf("Listening on %s\n", serveAddr)

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	log.Info("server shutting down")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}
	return nil
}

func sweepLimiters(ctx context.Context, limiter *remote.InMemoryRateLimiter) {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			limiter.Sweep()
		}
	}
}
