// Command server exposes the semantic planner over HTTP.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/spf13/pflag"

	"smartbi/internal/api"
	"smartbi/internal/app"
	"smartbi/internal/config"
	"smartbi/internal/middleware"
)

var version = "dev"

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

// serverFlags are the command-line overrides applied on top of the
// environment.
type serverFlags struct {
	envFile     string
	listen      string
	catalogPath string
}

func parseFlags(args []string) (serverFlags, error) {
	var f serverFlags
	fs := pflag.NewFlagSet("server", pflag.ContinueOnError)
	fs.StringVar(&f.envFile, "env-file", ".env", "dotenv file loaded before reading the environment")
	fs.StringVar(&f.listen, "listen", "", "listen address (overrides LISTEN_ADDR)")
	fs.StringVar(&f.catalogPath, "catalog", "", "semantic layer YAML (overrides CATALOG_PATH)")
	if err := fs.Parse(args); err != nil {
		return serverFlags{}, err
	}
	return f, nil
}

// loadConfig reads the dotenv file and environment, then applies the flag
// overrides.
func loadConfig(f serverFlags) (*config.Config, error) {
	if err := config.LoadDotEnv(f.envFile); err != nil {
		return nil, fmt.Errorf("load %s: %w", f.envFile, err)
	}
	cfg, err := config.LoadFromEnv()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if f.listen != "" {
		cfg.ListenAddr = f.listen
	}
	if f.catalogPath != "" {
		cfg.CatalogPath = f.catalogPath
	}
	return cfg, nil
}

func run(args []string) error {
	flags, err := parseFlags(args)
	if err != nil {
		return err
	}
	cfg, err := loadConfig(flags)
	if err != nil {
		return err
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.SlogLevel()}))
	slog.SetDefault(logger)
	for _, w := range cfg.Warnings {
		logger.Warn(w)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	application, err := app.New(ctx, app.Deps{Cfg: cfg, Logger: logger})
	if err != nil {
		return err
	}
	defer func() {
		if err := application.Close(); err != nil {
			logger.Warn("close application", "error", err)
		}
	}()

	r := chi.NewRouter()
	r.Use(chimw.Logger)
	r.Use(chimw.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: cfg.CORSAllowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type", middleware.RequestIDHeader},
		ExposedHeaders: []string{middleware.RequestIDHeader, "Retry-After"},
		MaxAge:         300,
	}))
	r.Use(middleware.RateLimiter(middleware.RateLimitConfig{
		RequestsPerSecond: cfg.RateLimitRPS,
		Burst:             cfg.RateLimitBurst,
		Logger:            logger,
	}))
	r.Mount("/", api.NewHandler(api.HandlerConfig{
		Service: application.Semantic,
		Version: version,
		Logger:  logger,
	}))

	srv := &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		<-ctx.Done()
		logger.Info("shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("server shutdown error", "error", err)
		}
	}()

	logger.Info("planning API listening",
		"addr", cfg.ListenAddr,
		"catalog", cfg.CatalogPath,
		"datasets", len(application.Catalog.Datasets()),
		"retrieval", cfg.Retrieval.Enabled(),
		"sql_guard", cfg.SQLGuard)
	logger.Info(fmt.Sprintf("Try: curl -s -X POST http://%s/v1/query/plan -d '{\"features\":{\"metrics\":[\"...\"]}}'",
		curlHostForListenAddr(cfg.ListenAddr)))

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server: %w", err)
	}
	return nil
}

// curlHostForListenAddr turns a listen address into something a local curl
// can reach. Wildcard hosts become localhost.
func curlHostForListenAddr(addr string) string {
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return "localhost:8080"
	}
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return addr
	}
	switch host {
	case "", "0.0.0.0", "::":
		return net.JoinHostPort("localhost", port)
	}
	return addr
}
