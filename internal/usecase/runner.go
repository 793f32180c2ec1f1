package usecase

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"

	"go.ngs.io/terraclimate-extract/internal/domain"
	"go.ngs.io/terraclimate-extract/internal/observability"
	"go.ngs.io/terraclimate-extract/internal/validate"
)

// ErrRunActive is returned by Start while another run is in progress.
var ErrRunActive = errors.New("a run is already in progress")

// RunState is the lifecycle state of a background run.
type RunState string

const (
	StateIdle      RunState = "idle"
	StateRunning   RunState = "running"
	StateSucceeded RunState = "succeeded"
	StateFailed    RunState = "failed"
)

// RunStatus is a snapshot of the latest run.
type RunStatus struct {
	State     RunState   `json:"state"`
	RunID     string     `json:"run_id,omitempty"`
	Request   RunRequest `json:"request"`
	Result    *RunResult `json:"result,omitempty"`
	Error     string     `json:"error,omitempty"`
	ErrorKind string     `json:"error_kind,omitempty"`
}

// Runner executes at most one pipeline run at a time in the background and
// remembers the latest outcome.
type Runner struct {
	pipeline *PipelineUseCase
	metrics  *observability.Metrics

	mu     sync.Mutex
	status RunStatus
	report *validate.Report
	done   chan struct{}
}

// NewRunner creates a Runner.
func NewRunner(pipeline *PipelineUseCase, metrics *observability.Metrics) *Runner {
	return &Runner{
		pipeline: pipeline,
		metrics:  metrics,
		status:   RunStatus{State: StateIdle},
	}
}

// Start validates req and launches a run. The run continues after the
// caller returns; ctx bounds its lifetime.
func (r *Runner) Start(ctx context.Context, req RunRequest) (string, error) {
	if err := req.Validate(); err != nil {
		return "", err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.status.State == StateRunning {
		return "", ErrRunActive
	}
	req.RunID = uuid.NewString()
	r.status = RunStatus{State: StateRunning, RunID: req.RunID, Request: req}
	r.done = make(chan struct{})
	if r.metrics != nil {
		r.metrics.RunRunning.Set(1)
	}

	go r.run(ctx, req, r.done)
	return req.RunID, nil
}

func (r *Runner) run(ctx context.Context, req RunRequest, done chan struct{}) {
	defer close(done)
	res, err := r.pipeline.Execute(ctx, req)

	r.mu.Lock()
	defer r.mu.Unlock()
	r.status.Result = res
	if err != nil {
		r.status.State = StateFailed
		r.status.Error = err.Error()
		r.status.ErrorKind = string(domain.KindOf(err))
	} else {
		r.status.State = StateSucceeded
	}
	if res != nil && res.Report != nil {
		r.report = res.Report
	}
	if r.metrics != nil {
		r.metrics.RunRunning.Set(0)
	}
}

// Current returns the status of the latest run.
func (r *Runner) Current() RunStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.status
}

// Report returns the latest validation report, or nil.
func (r *Runner) Report() *validate.Report {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.report
}

// Wait blocks until the current run, if any, finishes.
func (r *Runner) Wait() {
	r.mu.Lock()
	done := r.done
	r.mu.Unlock()
	if done != nil {
		<-done
	}
}
