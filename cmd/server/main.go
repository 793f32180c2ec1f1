// Package main provides the TerraClimate extraction HTTP server.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.ngs.io/terraclimate-extract/internal/app"
	"go.ngs.io/terraclimate-extract/internal/config"
	httpHandler "go.ngs.io/terraclimate-extract/internal/http"
	"go.ngs.io/terraclimate-extract/internal/observability"
	"go.ngs.io/terraclimate-extract/internal/usecase"
)

const (
	version         = "0.1.0"
	shutdownTimeout = 10 * time.Second
)

func main() {
	// Parse command-line flags.
	showHelp := flag.Bool("help", false, "Show usage information")
	showVersion := flag.Bool("version", false, "Show version information")
	flag.Parse()

	if *showHelp {
		printUsage()
		return
	}

	if *showVersion {
		fmt.Printf("terraclimate-server version %s\n", version)
		return
	}

	if err := run(); err != nil {
		log.Printf("Server error: %v", err)
		os.Exit(1)
	}
}

// run serves until SIGINT or SIGTERM.
func run() error {
	// Load configuration from environment.
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("configuration error: %w", err)
	}

	logger := observability.NewLogger(os.Stderr, cfg.LogLevel, cfg.LogFormat)
	metrics := observability.NewMetrics()

	log.Printf("Starting TerraClimate extraction server...")
	log.Printf("Port: %d", cfg.Port)
	log.Printf("Locations: %s", cfg.LocationsFile)
	log.Printf("Output directory: %s", cfg.OutputDir)
	log.Printf("Cache directory: %s", cfg.CacheDir)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.Build(ctx, cfg, logger, metrics)
	if err != nil {
		return fmt.Errorf("failed to initialize: %w", err)
	}
	defer a.Close()
	if cfg.DatabaseURL != "" {
		log.Printf("Postgres sink enabled (table %s)", cfg.DatabaseTable)
	}

	// Initialize runner and handler.
	runner := usecase.NewRunner(a.Pipeline, metrics)
	var index httpHandler.IndexReader = a.Index
	if a.Index == nil {
		index = noIndex{}
	}
	handler := httpHandler.NewHandler(ctx, runner, index, app.DefaultRequest(cfg))

	// Setup router.
	router := httpHandler.SetupRouter(handler, cfg.AllowedOrigins())

	// Start server.
	addr := fmt.Sprintf(":%d", cfg.Port)
	log.Printf("Server listening on %s", addr)
	log.Printf("Health check: http://localhost:%d/health", cfg.Port)
	log.Printf("API endpoints:")
	log.Printf("  - POST /v1/runs")
	log.Printf("  - GET  /v1/runs/current")
	log.Printf("  - GET  /v1/report")
	log.Printf("  - GET  /v1/locations/:id")
	log.Printf("  - GET  /v1/variables")
	log.Printf("  - GET  /metrics")

	err = serve(ctx, addr, router)

	// An in-flight run stops on cancellation and must finish before the pool closes.
	stop()
	runner.Wait()
	if err != nil {
		return fmt.Errorf("failed to start server: %w", err)
	}
	log.Printf("Shutdown complete")
	return nil
}

// serve listens on addr until ctx is done, then drains connections.
func serve(ctx context.Context, addr string, handler http.Handler) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// printUsage prints usage information.
func printUsage() {
	fmt.Printf("TerraClimate Extraction Server v%s\n\n", version)
	fmt.Println("USAGE:")
	fmt.Println("  terraclimate-server [flags]")
	fmt.Println()
	fmt.Println("FLAGS:")
	fmt.Println("  -help          Show this help message")
	fmt.Println("  -version       Show version information")
	fmt.Println()
	fmt.Println("ENVIRONMENT VARIABLES:")
	fmt.Println("  PORT                    Server port (default: 8080)")
	fmt.Println("  LOCATIONS_FILE          Location table (default: accessions.csv)")
	fmt.Println("  OUTPUT_DIR              Output directory (default: output)")
	fmt.Println("  CACHE_DIR               Spatial index cache directory (default: cache)")
	fmt.Println("  CORS_ALLOWED_ORIGINS    Comma-separated list of allowed origins (default: all origins)")
	fmt.Println("  DATABASE_URL            Optional Postgres sink")
	fmt.Println("  All extraction settings of terraclimate-extract apply to runs started here.")
	fmt.Println()
	fmt.Println("EXAMPLES:")
	fmt.Println("  # Start server on custom port")
	fmt.Println("  PORT=3000 terraclimate-server")
	fmt.Println()
	fmt.Println("  # Trigger an annual run for two variables")
	fmt.Println(`  curl -X POST localhost:8080/v1/runs -d '{"variables":["tmax","ppt"],"aggregation":"annual"}'`)
	fmt.Println()
	fmt.Println("API ENDPOINTS:")
	fmt.Println("  GET  /health                  Health check")
	fmt.Println("  GET  /metrics                 Prometheus metrics")
	fmt.Println("  GET  /v1/variables            List TerraClimate variables")
	fmt.Println("  POST /v1/runs                 Start an extraction run")
	fmt.Println("  GET  /v1/runs/current         Status of the latest run")
	fmt.Println("  GET  /v1/report               Latest validation report")
	fmt.Println("  GET  /v1/locations/:id        Cached grid cell of a location")
	fmt.Println()
}
