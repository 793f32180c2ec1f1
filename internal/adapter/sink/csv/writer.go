// Package csv writes result tables and the failure log as delimited text,
// optionally zstd-compressed.
package csv

import (
	"encoding/csv"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strconv"

	"github.com/klauspost/compress/zstd"

	"go.ngs.io/terraclimate-extract/internal/domain"
	"go.ngs.io/terraclimate-extract/internal/extract"
	"go.ngs.io/terraclimate-extract/internal/transform"
)

// Format selects the output encoding.
type Format string

const (
	FormatCSV  Format = "csv"
	FormatZstd Format = "csv.zst"
	FormatBoth Format = "both"
)

// FailuresFileName is the name of the failure log.
const FailuresFileName = "extraction_failures.csv"

// ParseFormat validates a format name. An empty name means csv.
func ParseFormat(s string) (Format, error) {
	switch Format(s) {
	case "":
		return FormatCSV, nil
	case FormatCSV, FormatZstd, FormatBoth:
		return Format(s), nil
	}
	return "", domain.NewError(domain.KindConfiguration, fmt.Sprintf("unknown output format %q", s), nil)
}

// Extensions lists the file extensions written for f.
func (f Format) Extensions() []string {
	switch f {
	case FormatZstd:
		return []string{".csv.zst"}
	case FormatBoth:
		return []string{".csv", ".csv.zst"}
	default:
		return []string{".csv"}
	}
}

// Writer writes files into one output directory.
type Writer struct {
	dir    string
	format Format
	logger *slog.Logger
}

// NewWriter creates a Writer. The directory is created on first write.
func NewWriter(dir string, format Format, logger *slog.Logger) *Writer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Writer{dir: dir, format: format, logger: logger}
}

// WriteTable writes t as name plus one file per extension of the format,
// returning the written paths. Missing values are empty fields.
func (w *Writer) WriteTable(name string, t *transform.Table) ([]string, error) {
	header := append(t.KeyColumns(), t.Columns...)
	var paths []string
	for _, ext := range w.format.Extensions() {
		path := filepath.Join(w.dir, name+ext)
		err := w.writeCSV(path, ext == ".csv.zst", func(cw *csv.Writer) error {
			if err := cw.Write(header); err != nil {
				return err
			}
			record := make([]string, len(header))
			for _, row := range t.Rows {
				record = append(record[:0], t.KeyRecord(row.Key)...)
				for _, v := range row.Values {
					record = append(record, formatValue(v))
				}
				if err := cw.Write(record); err != nil {
					return err
				}
			}
			return nil
		})
		if err != nil {
			return paths, err
		}
		w.logger.Info("wrote table", "path", path, "rows", len(t.Rows), "columns", len(header))
		paths = append(paths, path)
	}
	return paths, nil
}

// WriteFailures writes the failure log as plain CSV sorted by variable and
// location. The file is written even when there are no failures.
func (w *Writer) WriteFailures(failures []extract.Failure) (string, error) {
	sorted := append([]extract.Failure(nil), failures...)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].Variable != sorted[j].Variable {
			return sorted[i].Variable < sorted[j].Variable
		}
		return sorted[i].LocationID < sorted[j].LocationID
	})

	path := filepath.Join(w.dir, FailuresFileName)
	err := w.writeCSV(path, false, func(cw *csv.Writer) error {
		if err := cw.Write([]string{"location_id", "variable", "reason", "attempts"}); err != nil {
			return err
		}
		for _, f := range sorted {
			if err := cw.Write([]string{f.LocationID, f.Variable, f.Reason, strconv.Itoa(f.Attempts)}); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	w.logger.Info("wrote failure log", "path", path, "failures", len(sorted))
	return path, nil
}

// WriteText writes a file produced by render, such as a rendered report.
func (w *Writer) WriteText(name string, render func(io.Writer) error) (string, error) {
	path := filepath.Join(w.dir, name)
	if err := w.writeFile(path, false, render); err != nil {
		return "", err
	}
	w.logger.Info("wrote file", "path", path)
	return path, nil
}

func (w *Writer) writeCSV(path string, compress bool, fill func(*csv.Writer) error) error {
	return w.writeFile(path, compress, func(out io.Writer) error {
		cw := csv.NewWriter(out)
		if err := fill(cw); err != nil {
			return err
		}
		cw.Flush()
		return cw.Error()
	})
}

// writeFile writes to a temp file in the target directory and renames it
// into place once fill succeeds.
func (w *Writer) writeFile(path string, compress bool, fill func(io.Writer) error) (err error) {
	//nolint:gosec // G301: Output directory is not sensitive.
	if err := os.MkdirAll(w.dir, 0o755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}
	tmp, err := os.CreateTemp(w.dir, "."+filepath.Base(path)+".*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tmp.Close()
			_ = os.Remove(tmp.Name())
		}
	}()

	var out io.Writer = tmp
	var enc *zstd.Encoder
	if compress {
		enc, err = zstd.NewWriter(tmp)
		if err != nil {
			return fmt.Errorf("failed to create zstd writer: %w", err)
		}
		out = enc
	}

	if err = fill(out); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	if enc != nil {
		if err = enc.Close(); err != nil {
			return fmt.Errorf("failed to finish zstd stream: %w", err)
		}
	}
	if err = tmp.Close(); err != nil {
		return fmt.Errorf("failed to close %s: %w", path, err)
	}
	if err = os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("failed to move %s into place: %w", path, err)
	}
	return nil
}

func formatValue(v domain.Value) string {
	f, ok := v.Float()
	if !ok {
		return ""
	}
	return strconv.FormatFloat(f, 'g', -1, 64)
}
