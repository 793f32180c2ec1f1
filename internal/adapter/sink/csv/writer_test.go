package csv

import (
	"bytes"
	"encoding/csv"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/klauspost/compress/zstd"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go.ngs.io/terraclimate-extract/internal/domain"
	"go.ngs.io/terraclimate-extract/internal/extract"
	"go.ngs.io/terraclimate-extract/internal/observability"
	"go.ngs.io/terraclimate-extract/internal/transform"
)

func sampleTable() *transform.Table {
	return &transform.Table{
		Mode:    transform.ModeAnnual,
		Columns: []string{"tmax_mean", "ppt_mean"},
		Rows: []transform.Row{
			{Key: transform.RowKey{LocationID: "A", Year: 1958}, Values: []domain.Value{domain.Some(12.5), domain.Missing}},
			{Key: transform.RowKey{LocationID: "B", Year: 1958}, Values: []domain.Value{domain.Some(-3), domain.Some(80)}},
		},
	}
}

func readRecords(t *testing.T, data []byte) [][]string {
	t.Helper()
	records, err := csv.NewReader(bytes.NewReader(data)).ReadAll()
	require.NoError(t, err)
	return records
}

func TestParseFormat(t *testing.T) {
	f, err := ParseFormat("")
	require.NoError(t, err)
	assert.Equal(t, FormatCSV, f)

	f, err = ParseFormat("both")
	require.NoError(t, err)
	assert.Equal(t, []string{".csv", ".csv.zst"}, f.Extensions())

	_, err = ParseFormat("parquet")
	assert.True(t, domain.IsKind(err, domain.KindConfiguration))
}

func TestWriteTable_BothFormats(t *testing.T) {
	dir := t.TempDir()
	w := NewWriter(dir, FormatBoth, observability.Discard())

	paths, err := w.WriteTable("climate_data_annual", sampleTable())
	require.NoError(t, err)
	require.Equal(t, []string{
		filepath.Join(dir, "climate_data_annual.csv"),
		filepath.Join(dir, "climate_data_annual.csv.zst"),
	}, paths)

	want := [][]string{
		{"accession_id", "year", "tmax_mean", "ppt_mean"},
		{"A", "1958", "12.5", ""},
		{"B", "1958", "-3", "80"},
	}

	plain, err := os.ReadFile(paths[0])
	require.NoError(t, err)
	assert.Equal(t, want, readRecords(t, plain))

	compressed, err := os.ReadFile(paths[1])
	require.NoError(t, err)
	dec, err := zstd.NewReader(nil)
	require.NoError(t, err)
	defer dec.Close()
	raw, err := dec.DecodeAll(compressed, nil)
	require.NoError(t, err)
	assert.Equal(t, want, readRecords(t, raw))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 2, "no temp files left behind")
}

func TestWriteFailures(t *testing.T) {
	dir := t.TempDir()
	w := NewWriter(dir, FormatCSV, observability.Discard())

	path, err := w.WriteFailures([]extract.Failure{
		{LocationID: "B", Variable: "tmax", Reason: "timeout", Attempts: 3},
		{Variable: "ppt", Reason: "source unavailable"},
		{LocationID: "A", Variable: "tmax", Reason: "reset, retry", Attempts: 3},
	})
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, FailuresFileName), path)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, [][]string{
		{"location_id", "variable", "reason", "attempts"},
		{"", "ppt", "source unavailable", "0"},
		{"A", "tmax", "reset, retry", "3"},
		{"B", "tmax", "timeout", "3"},
	}, readRecords(t, data))
}

func TestWriteFailures_EmptyLogHasHeader(t *testing.T) {
	w := NewWriter(t.TempDir(), FormatCSV, observability.Discard())
	path, err := w.WriteFailures(nil)
	require.NoError(t, err)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, [][]string{{"location_id", "variable", "reason", "attempts"}}, readRecords(t, data))
}

func TestWriteText(t *testing.T) {
	dir := t.TempDir()
	w := NewWriter(dir, FormatCSV, observability.Discard())

	path, err := w.WriteText("validation_report.txt", func(out io.Writer) error {
		_, err := io.WriteString(out, "report body\n")
		return err
	})
	require.NoError(t, err)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "report body\n", string(data))

	_, err = w.WriteText("broken.txt", func(io.Writer) error { return errors.New("render failed") })
	require.Error(t, err)
	_, statErr := os.Stat(filepath.Join(dir, "broken.txt"))
	assert.True(t, os.IsNotExist(statErr))
}
