package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/klauspost/compress/gzhttp"
	"github.com/spf13/pflag"

	"github.com/randilt/geckomem/memstore"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	config, showVersion, err := LoadConfig(args)
	if err != nil {
		return err
	}

	if showVersion {
		fmt.Printf("geckomem %s\n", version)
		fmt.Printf("  commit: %s\n", commit)
		fmt.Printf("  built:  %s\n", date)
		return nil
	}

	logger := NewLogger(os.Stdout, config.Log)
	slog.SetDefault(logger)

	store := memstore.New()

	server := &http.Server{
		Addr:              config.ListenAddr,
		Handler:           NewServer(config, store, logger),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       6 * time.Hour,
		WriteTimeout:      6 * time.Hour,
		IdleTimeout:       120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("starting geckomem",
			"version", version,
			"listen", config.ListenAddr,
			"metrics", config.Metrics.Enabled,
			"rate_limit_rps", config.RateLimit.RPS)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case err := <-errCh:
		return fmt.Errorf("server failed: %w", err)
	case <-quit:
	}

	logger.Info("shutting down server")
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server forced shutdown: %w", err)
	}
	logger.Info("server stopped")
	return nil
}

// NewServer assembles the HTTP handler tree: the S3 API behind CORS, rate
// limiting and the concurrency cap, plus the metrics and debug endpoints when
// enabled. Everything is access logged and optionally gzipped.
func NewServer(config *Config, store *memstore.Storage, logger *slog.Logger) http.Handler {
	var metrics *Metrics
	if config.Metrics.Enabled {
		metrics = NewMetrics(store)
	}

	var api http.Handler = NewS3Handler(NewMemoryStorage(store), logger, metrics)
	api = RateLimitMiddleware(config.RateLimit.RPS, config.RateLimit.Burst)(api)
	api = MaxClientsMiddleware(config.MaxClients)(api)
	if config.CORS.Enabled {
		api = CORSMiddleware(config.CORS.AllowOrigins)(api)
	}

	// Object keys may hold "//" or "..", so requests are dispatched on the raw
	// path instead of through a ServeMux, which would redirect them.
	var scrape, debug http.Handler
	if metrics != nil {
		scrape = metrics.Handler()
	}
	if config.Debug.Enabled {
		debug = debugTreeHandler(store, logger)
	}
	var dispatch http.Handler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		read := r.Method == http.MethodGet || r.Method == http.MethodHead
		switch {
		case read && scrape != nil && r.URL.Path == "/metrics":
			scrape.ServeHTTP(w, r)
		case read && debug != nil && r.URL.Path == "/_debug/tree":
			debug.ServeHTTP(w, r)
		default:
			api.ServeHTTP(w, r)
		}
	})

	var handler http.Handler = metrics.Middleware(dispatch)
	if config.Compress.Enabled {
		handler = gzhttp.GzipHandler(handler)
	}
	return LoggingMiddleware(logger)(handler)
}
