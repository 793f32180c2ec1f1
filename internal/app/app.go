// Package app wires configuration into a ready-to-run pipeline. Both
// binaries share it.
package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"

	csvsink "go.ngs.io/terraclimate-extract/internal/adapter/sink/csv"
	"go.ngs.io/terraclimate-extract/internal/adapter/sink/postgres"
	"go.ngs.io/terraclimate-extract/internal/adapter/store/cache"
	csvstore "go.ngs.io/terraclimate-extract/internal/adapter/store/csv"
	"go.ngs.io/terraclimate-extract/internal/adapter/store/opendap"
	"go.ngs.io/terraclimate-extract/internal/config"
	"go.ngs.io/terraclimate-extract/internal/extract"
	"go.ngs.io/terraclimate-extract/internal/observability"
	"go.ngs.io/terraclimate-extract/internal/spatial"
	"go.ngs.io/terraclimate-extract/internal/usecase"
	"go.ngs.io/terraclimate-extract/internal/validate"
)

// App holds the wired components.
type App struct {
	Pipeline *usecase.PipelineUseCase
	Index    *cache.IndexFile // nil when the cache is disabled.
	pool     *pgxpool.Pool
}

// Close releases the database pool, if any.
func (a *App) Close() {
	if a.pool != nil {
		a.pool.Close()
	}
}

// Build creates the pipeline from cfg. The Postgres sink is enabled when
// DatabaseURL is set.
func Build(ctx context.Context, cfg *config.Config, logger *slog.Logger, metrics *observability.Metrics) (*App, error) {
	format, err := csvsink.ParseFormat(cfg.OutputFormat)
	if err != nil {
		return nil, err
	}

	source := opendap.NewSource(cfg.SourceURLTemplate, cfg.SampleVariable, logger)

	a := &App{}
	builderOpts := []spatial.BuilderOption{
		spatial.WithTolerance(cfg.SpatialTolerance),
		spatial.WithExpectedShape(cfg.ExpectedLatLen, cfg.ExpectedLonLen),
		spatial.WithLogger(logger),
		spatial.WithMetrics(metrics),
	}
	if cfg.CacheDir != "" {
		a.Index = cache.NewIndexFile(cfg.CacheDir)
		builderOpts = append(builderOpts, spatial.WithCache(a.Index))
	}

	pipelineOpts := []usecase.PipelineOption{
		usecase.WithLogger(logger),
		usecase.WithMetrics(metrics),
	}
	if cfg.DatabaseURL != "" {
		pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}
		a.pool = pool
		pipelineOpts = append(pipelineOpts, usecase.WithSink(postgres.NewTableSink(pool, cfg.DatabaseTable, logger)))
	}

	a.Pipeline = usecase.NewPipelineUseCase(
		csvstore.NewLocationLoader(cfg.LocationsFile, logger),
		spatial.NewBuilder(source, builderOpts...),
		extract.NewExtractor(source, cfg.ExtractConfig(), extract.WithLogger(logger), extract.WithMetrics(metrics)),
		csvsink.NewWriter(cfg.OutputDir, format, logger),
		validate.NewValidator(cfg.CompletenessThreshold),
		pipelineOpts...,
	)
	return a, nil
}

// DefaultRequest builds the run request described by cfg.
func DefaultRequest(cfg *config.Config) usecase.RunRequest {
	return usecase.RunRequest{
		Variables:      cfg.VariableList(),
		Aggregation:    cfg.Aggregation,
		Derived:        cfg.Derived,
		StartYear:      cfg.StartYear,
		EndYear:        cfg.EndYear,
		SkipValidation: cfg.SkipValidation,
		RebuildIndex:   cfg.RebuildIndex,
	}
}
