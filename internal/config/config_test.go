package config

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "accessions.csv", cfg.LocationsFile)
	assert.Equal(t, "tmax", cfg.SampleVariable)
	assert.Len(t, cfg.VariableList(), 14)
	assert.Equal(t, 1958, cfg.EpochYear)
	assert.InDelta(t, 1.0/48.0, cfg.SpatialTolerance, 1e-9)
	assert.Equal(t, "summary", cfg.Aggregation)
	assert.True(t, cfg.Derived)
	assert.Equal(t, "csv", cfg.OutputFormat)
	assert.Equal(t, 4, cfg.VariableWorkers)
	assert.Equal(t, 500*time.Millisecond, cfg.RetryMinWait)
	assert.Equal(t, 10*time.Second, cfg.RetryMaxWait)
	assert.Equal(t, 0.95, cfg.CompletenessThreshold)
	assert.Nil(t, cfg.YearRange())
	assert.Equal(t, []string{"*"}, cfg.AllowedOrigins())
	assert.Equal(t, time.UTC, time.Local)
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("VARIABLES", "tmax, ppt,,pet")
	t.Setenv("AGGREGATION", "seasonal")
	t.Setenv("START_YEAR", "1990")
	t.Setenv("END_YEAR", "2000")
	t.Setenv("RETRY_ATTEMPTS", "5")
	t.Setenv("BREAKER_CONSECUTIVE_FAILURES", "3")
	t.Setenv("BREAKER_COOLDOWN", "2s")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, []string{"tmax", "ppt", "pet"}, cfg.VariableList())
	assert.Equal(t, "seasonal", cfg.Aggregation)

	yr := cfg.YearRange()
	require.NotNil(t, yr)
	assert.Equal(t, 1990, yr.Start)
	assert.Equal(t, 2000, yr.End)

	ec := cfg.ExtractConfig()
	assert.Equal(t, 5, ec.Retry.MaxAttempts)
	assert.Equal(t, uint32(3), ec.BreakerTrip)
	assert.Equal(t, 2*time.Second, ec.BreakerCooldown)
	assert.Equal(t, 10, ec.BreakerWaits)
	assert.Equal(t, 1958, ec.EpochYear)
}

func TestLoad_ValidationErrors(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
		want ConfigErrorType
	}{
		{"unknown aggregation", map[string]string{"AGGREGATION": "weekly"}, ErrValidation},
		{"unknown format", map[string]string{"OUTPUT_FORMAT": "parquet"}, ErrValidation},
		{"template without placeholder", map[string]string{"SOURCE_URL_TEMPLATE": "http://example.org/tmax.nc"}, ErrValidation},
		{"start after end", map[string]string{"START_YEAR": "2001", "END_YEAR": "2000"}, ErrValidation},
		{"max wait below min wait", map[string]string{"RETRY_MIN_WAIT": "5s", "RETRY_MAX_WAIT": "1s"}, ErrValidation},
		{"half expected shape", map[string]string{"EXPECTED_LAT_LEN": "4320"}, ErrValidation},
		{"non-numeric workers", map[string]string{"VARIABLE_WORKERS": "many"}, ErrParsing},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := Load()
			require.Error(t, err)

			var cfgErr *ConfigError
			require.True(t, errors.As(err, &cfgErr))
			assert.Equal(t, tt.want, cfgErr.Type)
		})
	}
}
