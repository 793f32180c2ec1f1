package usecase

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"go.ngs.io/terraclimate-extract/internal/domain"
	"go.ngs.io/terraclimate-extract/internal/extract"
	"go.ngs.io/terraclimate-extract/internal/observability"
	"go.ngs.io/terraclimate-extract/internal/spatial"
	"go.ngs.io/terraclimate-extract/internal/transform"
	"go.ngs.io/terraclimate-extract/internal/validate"
)

// Output file names.
const (
	SummaryTableName = "climate_data_for_gwas"
	ReportTextName   = "validation_report.txt"
	ReportJSONName   = "validation_report.json"
)

// LocationLoader loads the cleaned location table.
type LocationLoader interface {
	Load() (domain.LocationTable, error)
}

// IndexResolver returns the spatial index for a location table.
type IndexResolver interface {
	Resolve(ctx context.Context, table domain.LocationTable, force bool) (*spatial.Resolution, error)
}

// VariableExtractor extracts several variables for an index.
type VariableExtractor interface {
	ExtractAll(ctx context.Context, variables []string, ix *spatial.Index, years *extract.YearRange) (*extract.Outcome, error)
}

// OutputWriter persists tables, the failure log and rendered reports.
type OutputWriter interface {
	WriteTable(name string, t *transform.Table) ([]string, error)
	WriteFailures(failures []extract.Failure) (string, error)
	WriteText(name string, render func(io.Writer) error) (string, error)
}

// TableSink receives the final table, for example a database.
type TableSink interface {
	Write(ctx context.Context, runID string, t *transform.Table) (int64, error)
}

// RunRequest selects what a pipeline run produces.
type RunRequest struct {
	RunID          string   `json:"run_id,omitempty"` // Generated when empty.
	Variables      []string `json:"variables"`
	Aggregation    string   `json:"aggregation"`
	Derived        bool     `json:"derived"`
	StartYear      int      `json:"start_year,omitempty"`
	EndYear        int      `json:"end_year,omitempty"`
	SkipValidation bool     `json:"skip_validation"`
	RebuildIndex   bool     `json:"rebuild_index"`
}

// Validate checks the request and normalizes variable names to catalog order.
// No variables means all of them. It never touches the network.
func (r *RunRequest) Validate() error {
	if len(r.Variables) == 0 {
		r.Variables = domain.VariableNames()
	}
	vars, err := domain.CanonicalVariables(r.Variables)
	if err != nil {
		return err
	}
	r.Variables = vars

	mode, err := transform.ParseMode(r.Aggregation)
	if err != nil {
		return err
	}
	r.Aggregation = string(mode)

	if r.StartYear < 0 || r.EndYear < 0 {
		return domain.NewError(domain.KindConfiguration, "year bounds must be positive", nil)
	}
	if r.StartYear != 0 && r.EndYear != 0 && r.StartYear > r.EndYear {
		return domain.NewError(domain.KindConfiguration,
			fmt.Sprintf("start year %d is after end year %d", r.StartYear, r.EndYear), nil)
	}
	return nil
}

func (r *RunRequest) years() *extract.YearRange {
	if r.StartYear == 0 && r.EndYear == 0 {
		return nil
	}
	return &extract.YearRange{Start: r.StartYear, End: r.EndYear}
}

// RunResult describes a finished run.
type RunResult struct {
	RunID      string              `json:"run_id"`
	StartedAt  time.Time           `json:"started_at"`
	FinishedAt time.Time           `json:"finished_at"`
	Mode       transform.Mode      `json:"mode"`
	Accounting validate.Accounting `json:"accounting"`
	Outputs    []string            `json:"outputs"`
	Rows       int                 `json:"rows"`
	Degraded   bool                `json:"degraded"`
	SinkRows   int64               `json:"sink_rows,omitempty"`
	SinkError  string              `json:"sink_error,omitempty"`
	Report     *validate.Report    `json:"-"`
}

// PipelineUseCase sequences loading, indexing, extraction, transformation,
// validation and output for one run.
type PipelineUseCase struct {
	locations LocationLoader
	index     IndexResolver
	extractor VariableExtractor
	writer    OutputWriter
	validator *validate.Validator
	sink      TableSink
	logger    *slog.Logger
	metrics   *observability.Metrics
}

// PipelineOption configures a PipelineUseCase.
type PipelineOption func(*PipelineUseCase)

// WithSink adds a destination for the final table.
func WithSink(s TableSink) PipelineOption {
	return func(p *PipelineUseCase) { p.sink = s }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) PipelineOption {
	return func(p *PipelineUseCase) { p.logger = l }
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *observability.Metrics) PipelineOption {
	return func(p *PipelineUseCase) { p.metrics = m }
}

// NewPipelineUseCase creates a new pipeline use case.
func NewPipelineUseCase(
	locations LocationLoader,
	index IndexResolver,
	extractor VariableExtractor,
	writer OutputWriter,
	validator *validate.Validator,
	opts ...PipelineOption,
) *PipelineUseCase {
	p := &PipelineUseCase{
		locations: locations,
		index:     index,
		extractor: extractor,
		writer:    writer,
		validator: validator,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Execute performs one run. A run that loses some variables or locations
// still writes its outputs and reports them as degraded; it fails only on
// configuration errors, axis loading failures, or when every variable failed.
func (p *PipelineUseCase) Execute(ctx context.Context, req RunRequest) (res *RunResult, err error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	if req.RunID == "" {
		req.RunID = uuid.NewString()
	}

	res = &RunResult{
		RunID:     req.RunID,
		StartedAt: domain.Now(),
		Mode:      transform.Mode(req.Aggregation),
	}
	logger := p.logger.With("run_id", req.RunID)
	defer p.observe(res, &err)

	table, err := p.locations.Load()
	if err != nil {
		return res, err
	}
	acct := &res.Accounting
	acct.LocationsLoaded = len(table.Locations) + table.DroppedInvalid + table.Duplicates
	acct.DroppedInvalid = table.DroppedInvalid
	acct.Duplicates = table.Duplicates
	acct.VariablesRequested = req.Variables

	resolution, err := p.index.Resolve(ctx, table, req.RebuildIndex)
	if err != nil {
		return res, err
	}
	ix := resolution.Index
	acct.Unmatched = len(resolution.Unmatched)
	acct.Indexed = ix.Len()
	acct.IndexFromCache = resolution.FromCache
	if ix.Len() == 0 {
		return res, domain.NewError(domain.KindLocationMatch, "no location matched a grid cell", nil)
	}

	logger.Info("extracting variables", "variables", req.Variables, "locations", ix.Len())
	outcome, err := p.extractor.ExtractAll(ctx, req.Variables, ix, req.years())
	if err != nil {
		return res, err
	}

	failLog, err := p.writer.WriteFailures(outcome.Failures)
	if err != nil {
		return res, fmt.Errorf("failed to write failure log: %w", err)
	}
	res.Outputs = append(res.Outputs, failLog)

	succeeded := outcome.Succeeded(req.Variables)
	acct.VariablesSucceeded = succeeded
	acct.VariablesFailed = make(map[string]string, len(outcome.Failed))
	for v, ferr := range outcome.Failed {
		acct.VariablesFailed[v] = ferr.Error()
	}
	acct.SliceFailures = make(map[string]int)
	for _, f := range outcome.Failures {
		if f.LocationID != "" {
			acct.SliceFailures[f.Variable]++
		}
	}
	res.Degraded = len(outcome.Failures) > 0 || acct.Unmatched > 0

	if len(succeeded) == 0 {
		return res, domain.NewError(domain.KindSourceUnavailable,
			fmt.Sprintf("all %d variables failed", len(req.Variables)), nil)
	}

	points := make(map[string][]domain.TimeSeriesPoint, len(succeeded))
	for _, v := range succeeded {
		points[v] = outcome.Results[v].Points
	}
	window := outcome.Results[succeeded[0]].Window

	monthly := transform.Merge(req.Variables, points)
	if monthly.Duplicates > 0 {
		logger.Warn("dropped repeated time series points", "count", monthly.Duplicates)
	}
	monthly.Fill(ix.IDs(), window.Months())
	if req.Derived {
		monthly = transform.AddDerived(monthly)
	}

	final, err := transform.Aggregate(monthly, res.Mode)
	if err != nil {
		return res, err
	}
	res.Rows = len(final.Rows)

	paths, err := p.writer.WriteTable(tableName(res.Mode), final)
	res.Outputs = append(res.Outputs, paths...)
	if err != nil {
		return res, err
	}
	if res.Mode == transform.ModeMonthly {
		for _, v := range succeeded {
			paths, err := p.writer.WriteTable(v+"_monthly", monthly.Select(v))
			res.Outputs = append(res.Outputs, paths...)
			if err != nil {
				return res, err
			}
		}
	}

	if !req.SkipValidation {
		report := p.validator.Validate(monthly, window.Count)
		report.Accounting = &res.Accounting
		res.Report = report
		renders := []struct {
			name   string
			render func(io.Writer, *validate.Report) error
		}{
			{ReportTextName, validate.RenderText},
			{ReportJSONName, validate.RenderJSON},
		}
		for _, r := range renders {
			path, err := p.writer.WriteText(r.name, func(w io.Writer) error { return r.render(w, report) })
			if err != nil {
				return res, err
			}
			res.Outputs = append(res.Outputs, path)
		}
	}

	if p.sink != nil {
		n, serr := p.sink.Write(ctx, req.RunID, final)
		if serr != nil {
			logger.Warn("table sink failed", "error", serr)
			res.SinkError = serr.Error()
			res.Degraded = true
		}
		res.SinkRows = n
	}

	logger.Info("run complete",
		"rows", res.Rows, "variables_succeeded", len(succeeded), "variables_failed", len(outcome.Failed),
		"unmatched", acct.Unmatched, "degraded", res.Degraded)
	return res, nil
}

func (p *PipelineUseCase) observe(res *RunResult, err *error) {
	res.FinishedAt = domain.Now()
	if p.metrics == nil {
		return
	}
	outcome := "success"
	switch {
	case *err != nil:
		outcome = "failed"
	case res.Degraded:
		outcome = "degraded"
	}
	p.metrics.RunsTotal.WithLabelValues(outcome).Inc()
	p.metrics.RunDuration.Observe(res.FinishedAt.Sub(res.StartedAt).Seconds())
}

func tableName(mode transform.Mode) string {
	if mode == transform.ModeSummary {
		return SummaryTableName
	}
	return "climate_data_" + string(mode)
}
