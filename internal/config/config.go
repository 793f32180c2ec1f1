// Package config loads runtime settings from the environment.
package config

import (
	"fmt"
	"strings"
	"time"

	"go.ngs.io/terraclimate-extract/internal/extract"
)

// Config holds every setting of the extractor and the server. Values come
// from environment variables; cmd/extract flags may override them.
type Config struct {
	// Inputs.
	LocationsFile     string  `envconfig:"LOCATIONS_FILE" default:"accessions.csv" validate:"required"`
	SourceURLTemplate string  `envconfig:"SOURCE_URL_TEMPLATE" default:"http://thredds.northwestknowledge.net:8080/thredds/dodsC/agg_terraclimate_{var}_1958_CurrentYear_GLOBE.nc" validate:"required,contains={var}"`
	SampleVariable    string  `envconfig:"SAMPLE_VARIABLE" default:"tmax" validate:"required"`
	Variables         string  `envconfig:"VARIABLES" default:"aet,def,pet,ppt,q,soil,srad,swe,tmax,tmin,vap,ws,vpd,PDSI"`
	EpochYear         int     `envconfig:"EPOCH_YEAR" default:"1958" validate:"min=1800,max=2200"`
	StartYear         int     `envconfig:"START_YEAR" validate:"omitempty,min=1800,max=2200"`
	EndYear           int     `envconfig:"END_YEAR" validate:"omitempty,min=1800,max=2200"`
	SpatialTolerance  float64 `envconfig:"SPATIAL_TOLERANCE" default:"0.0208333333333" validate:"gt=0,lte=5"`
	ExpectedLatLen    int     `envconfig:"EXPECTED_LAT_LEN" validate:"min=0"`
	ExpectedLonLen    int     `envconfig:"EXPECTED_LON_LEN" validate:"min=0"`

	// Transformation and outputs.
	Aggregation  string `envconfig:"AGGREGATION" default:"summary" validate:"oneof=summary annual seasonal quarterly monthly"`
	Derived      bool   `envconfig:"DERIVED" default:"true"`
	OutputDir    string `envconfig:"OUTPUT_DIR" default:"output" validate:"required"`
	OutputFormat string `envconfig:"OUTPUT_FORMAT" default:"csv" validate:"oneof=csv csv.zst both"`
	CacheDir     string `envconfig:"CACHE_DIR" default:"cache"`

	// Extraction behavior.
	VariableWorkers            int           `envconfig:"VARIABLE_WORKERS" default:"4" validate:"min=1,max=32"`
	LocationWorkers            int           `envconfig:"LOCATION_WORKERS" default:"8" validate:"min=1,max=256"`
	RetryAttempts              int           `envconfig:"RETRY_ATTEMPTS" default:"3" validate:"min=1,max=10"`
	RetryMinWait               time.Duration `envconfig:"RETRY_MIN_WAIT" default:"500ms" validate:"gt=0"`
	RetryMaxWait               time.Duration `envconfig:"RETRY_MAX_WAIT" default:"10s" validate:"gtefield=RetryMinWait"`
	FailureThresholdPct        float64       `envconfig:"FAILURE_THRESHOLD_PCT" default:"50" validate:"gt=0,lte=100"`
	BreakerConsecutiveFailures uint32        `envconfig:"BREAKER_CONSECUTIVE_FAILURES" default:"10" validate:"min=1"`
	BreakerCooldown            time.Duration `envconfig:"BREAKER_COOLDOWN" default:"10s" validate:"gt=0"`
	BreakerWaits               int           `envconfig:"BREAKER_WAITS" default:"10" validate:"min=1,max=100"`

	// Validation.
	CompletenessThreshold float64 `envconfig:"COMPLETENESS_THRESHOLD" default:"0.95" validate:"gt=0,lte=1"`
	SkipValidation        bool    `envconfig:"SKIP_VALIDATION" default:"false"`
	RebuildIndex          bool    `envconfig:"REBUILD_INDEX" default:"false"`

	// Optional Postgres sink.
	DatabaseURL   string `envconfig:"DATABASE_URL"`
	DatabaseTable string `envconfig:"DATABASE_TABLE" default:"climate_features" validate:"required"`

	// Ambient.
	LogLevel           string `envconfig:"LOG_LEVEL" default:"info" validate:"oneof=debug info warn error"`
	LogFormat          string `envconfig:"LOG_FORMAT" default:"text" validate:"oneof=text json"`
	Port               int    `envconfig:"PORT" default:"8080" validate:"min=1,max=65535"`
	CORSAllowedOrigins string `envconfig:"CORS_ALLOWED_ORIGINS" default:"*"`
}

// VariableList splits Variables on commas, dropping blanks.
func (c *Config) VariableList() []string {
	return splitList(c.Variables)
}

// AllowedOrigins splits CORSAllowedOrigins on commas.
func (c *Config) AllowedOrigins() []string {
	return splitList(c.CORSAllowedOrigins)
}

// ExtractConfig maps the extraction settings.
func (c *Config) ExtractConfig() extract.Config {
	return extract.Config{
		EpochYear:       c.EpochYear,
		VariableWorkers: c.VariableWorkers,
		LocationWorkers: c.LocationWorkers,
		Retry: extract.RetryPolicy{
			MaxAttempts: c.RetryAttempts,
			MinWait:     c.RetryMinWait,
			MaxWait:     c.RetryMaxWait,
		},
		FailureThresholdPct: c.FailureThresholdPct,
		BreakerTrip:         c.BreakerConsecutiveFailures,
		BreakerCooldown:     c.BreakerCooldown,
		BreakerWaits:        c.BreakerWaits,
	}
}

// YearRange returns the configured year bounds, or nil when unbounded.
func (c *Config) YearRange() *extract.YearRange {
	if c.StartYear == 0 && c.EndYear == 0 {
		return nil
	}
	return &extract.YearRange{Start: c.StartYear, End: c.EndYear}
}

// Check validates relations between fields that struct tags cannot express.
func (c *Config) Check() error {
	if c.StartYear != 0 && c.EndYear != 0 && c.StartYear > c.EndYear {
		return &ConfigError{
			Type:    ErrValidation,
			Message: fmt.Sprintf("START_YEAR %d is after END_YEAR %d", c.StartYear, c.EndYear),
		}
	}
	if (c.ExpectedLatLen == 0) != (c.ExpectedLonLen == 0) {
		return &ConfigError{
			Type:    ErrValidation,
			Message: "EXPECTED_LAT_LEN and EXPECTED_LON_LEN must be set together",
		}
	}
	return nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
