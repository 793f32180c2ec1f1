// Package main provides the one-shot TerraClimate extraction CLI.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"

	"go.ngs.io/terraclimate-extract/internal/app"
	"go.ngs.io/terraclimate-extract/internal/config"
	"go.ngs.io/terraclimate-extract/internal/domain"
	"go.ngs.io/terraclimate-extract/internal/observability"
)

const version = "0.1.0"

func main() {
	os.Exit(run())
}

func run() int {
	// Parse command-line flags. Unset flags keep the environment configuration.
	showHelp := flag.Bool("help", false, "Show usage information")
	showVersion := flag.Bool("version", false, "Show version information")
	variables := flag.String("variables", "", "Comma-separated variables to extract (default: all)")
	aggregation := flag.String("aggregation", "", "summary, annual, seasonal, quarterly or monthly")
	format := flag.String("format", "", "Output format: csv, csv.zst or both")
	startYear := flag.Int("start-year", 0, "First year to extract")
	endYear := flag.Int("end-year", 0, "Last year to extract")
	noDerived := flag.Bool("no-derived", false, "Skip derived climate indices")
	noValidation := flag.Bool("no-validation", false, "Skip the validation report")
	rebuildIndex := flag.Bool("rebuild-index", false, "Rebuild the spatial index even if a cached one matches")
	locations := flag.String("locations", "", "Location table (CSV or TSV)")
	outputDir := flag.String("output", "", "Output directory")
	flag.Parse()

	if *showHelp {
		printUsage()
		return 0
	}
	if *showVersion {
		fmt.Printf("terraclimate-extract version %s\n", version)
		return 0
	}

	// Load configuration from environment.
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		return 2
	}
	if *variables != "" {
		cfg.Variables = *variables
	}
	if *aggregation != "" {
		cfg.Aggregation = *aggregation
	}
	if *format != "" {
		cfg.OutputFormat = *format
	}
	if *startYear != 0 {
		cfg.StartYear = *startYear
	}
	if *endYear != 0 {
		cfg.EndYear = *endYear
	}
	if *locations != "" {
		cfg.LocationsFile = *locations
	}
	if *outputDir != "" {
		cfg.OutputDir = *outputDir
	}
	cfg.Derived = cfg.Derived && !*noDerived
	cfg.SkipValidation = cfg.SkipValidation || *noValidation
	cfg.RebuildIndex = cfg.RebuildIndex || *rebuildIndex
	if err := config.Validate(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		return 2
	}

	logger := observability.NewLogger(os.Stderr, cfg.LogLevel, cfg.LogFormat)
	metrics := observability.NewMetrics()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.Build(ctx, cfg, logger, metrics)
	if err != nil {
		logger.Error("failed to initialize", "error", err)
		return 1
	}
	defer a.Close()

	req := app.DefaultRequest(cfg)
	fmt.Println("TerraClimate extraction")
	fmt.Printf("  Locations:   %s\n", cfg.LocationsFile)
	fmt.Printf("  Variables:   %s\n", strings.Join(cfg.VariableList(), ", "))
	fmt.Printf("  Aggregation: %s\n", req.Aggregation)
	fmt.Printf("  Output:      %s (%s)\n", cfg.OutputDir, cfg.OutputFormat)
	fmt.Println()

	res, err := a.Pipeline.Execute(ctx, req)
	if res != nil {
		printSummary(res.RunID, res.Accounting.LocationsLoaded, res.Accounting.Indexed, res.Accounting.Unmatched,
			res.Accounting.VariablesSucceeded, res.Accounting.VariablesFailed, res.Outputs)
	}
	if err != nil {
		logger.Error("run failed", "kind", domain.KindOf(err), "error", err)
		if errors.Is(err, context.Canceled) {
			return 130
		}
		if domain.IsKind(err, domain.KindConfiguration) {
			return 2
		}
		return 1
	}
	if res.Degraded {
		fmt.Println("\nCompleted with gaps; see extraction_failures.csv and the validation report.")
	}
	return 0
}

func printSummary(runID string, loaded, indexed, unmatched int, succeeded []string, failed map[string]string, outputs []string) {
	fmt.Printf("Run %s\n", runID)
	fmt.Printf("  Locations: %d loaded, %d indexed, %d unmatched\n", loaded, indexed, unmatched)
	fmt.Printf("  Variables: %d succeeded\n", len(succeeded))
	names := make([]string, 0, len(failed))
	for v := range failed {
		names = append(names, v)
	}
	sort.Strings(names)
	for _, v := range names {
		fmt.Printf("    FAILED %s: %s\n", v, failed[v])
	}
	if len(outputs) > 0 {
		fmt.Println("  Outputs:")
		for _, p := range outputs {
			fmt.Printf("    %s\n", p)
		}
	}
}

// printUsage prints usage information.
func printUsage() {
	fmt.Printf("TerraClimate Extract v%s\n\n", version)
	fmt.Println("USAGE:")
	fmt.Println("  terraclimate-extract [flags]")
	fmt.Println()
	fmt.Println("FLAGS:")
	fmt.Println("  -variables LIST      Comma-separated variables (default: all 14)")
	fmt.Println("  -aggregation MODE    summary | annual | seasonal | quarterly | monthly (default: summary)")
	fmt.Println("  -format FORMAT       csv | csv.zst | both (default: csv)")
	fmt.Println("  -start-year YEAR     First year to extract")
	fmt.Println("  -end-year YEAR       Last year to extract")
	fmt.Println("  -no-derived          Skip derived climate indices")
	fmt.Println("  -no-validation       Skip the validation report")
	fmt.Println("  -rebuild-index       Rebuild the spatial index")
	fmt.Println("  -locations PATH      Location table (overrides LOCATIONS_FILE)")
	fmt.Println("  -output DIR          Output directory (overrides OUTPUT_DIR)")
	fmt.Println("  -help                Show this help message")
	fmt.Println("  -version             Show version information")
	fmt.Println()
	fmt.Println("ENVIRONMENT VARIABLES:")
	fmt.Println("  LOCATIONS_FILE          Location table (default: accessions.csv)")
	fmt.Println("  SOURCE_URL_TEMPLATE     Dataset URL with {var} placeholder (default: TerraClimate THREDDS)")
	fmt.Println("  CACHE_DIR               Spatial index cache directory (default: cache)")
	fmt.Println("  SPATIAL_TOLERANCE       Match tolerance in degrees (default: 1/48)")
	fmt.Println("  VARIABLE_WORKERS        Variables extracted concurrently (default: 4)")
	fmt.Println("  LOCATION_WORKERS        Concurrent reads per variable (default: 8)")
	fmt.Println("  FAILURE_THRESHOLD_PCT   Abort a variable above this failed share (default: 50)")
	fmt.Println("  DATABASE_URL            Optional Postgres sink")
	fmt.Println("  LOG_LEVEL, LOG_FORMAT   Logging (default: info, text)")
	fmt.Println()
	fmt.Println("EXAMPLES:")
	fmt.Println("  # Summary features for all variables")
	fmt.Println("  terraclimate-extract -locations accessions.csv")
	fmt.Println()
	fmt.Println("  # Seasonal temperature for 1981-2010")
	fmt.Println("  terraclimate-extract -variables tmax,tmin -aggregation seasonal -start-year 1981 -end-year 2010")
	fmt.Println()
}
