package http

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"go.ngs.io/terraclimate-extract/internal/domain"
	"go.ngs.io/terraclimate-extract/internal/spatial"
	"go.ngs.io/terraclimate-extract/internal/usecase"
	"go.ngs.io/terraclimate-extract/internal/validate"
)

// RunController starts background runs and reports on them.
type RunController interface {
	Start(ctx context.Context, req usecase.RunRequest) (string, error)
	Current() usecase.RunStatus
	Report() *validate.Report
}

// IndexReader loads the persisted spatial index.
type IndexReader interface {
	Load(ctx context.Context) (*spatial.Index, error)
}

// Handler handles HTTP requests for extraction runs.
type Handler struct {
	baseCtx  context.Context
	runs     RunController
	index    IndexReader
	defaults usecase.RunRequest
}

// NewHandler creates a new HTTP handler. Runs started through the API live
// for as long as baseCtx; defaults supplies fields a request leaves unset.
func NewHandler(baseCtx context.Context, runs RunController, index IndexReader, defaults usecase.RunRequest) *Handler {
	return &Handler{
		baseCtx:  baseCtx,
		runs:     runs,
		index:    index,
		defaults: defaults,
	}
}

// runOverrides is the optional body of POST /v1/runs.
type runOverrides struct {
	Variables      []string `json:"variables"`
	Aggregation    *string  `json:"aggregation"`
	Derived        *bool    `json:"derived"`
	StartYear      *int     `json:"start_year"`
	EndYear        *int     `json:"end_year"`
	SkipValidation *bool    `json:"skip_validation"`
	RebuildIndex   *bool    `json:"rebuild_index"`
}

func (o runOverrides) apply(req usecase.RunRequest) usecase.RunRequest {
	req.Variables = append([]string(nil), req.Variables...)
	if len(o.Variables) > 0 {
		req.Variables = o.Variables
	}
	if o.Aggregation != nil {
		req.Aggregation = *o.Aggregation
	}
	if o.Derived != nil {
		req.Derived = *o.Derived
	}
	if o.StartYear != nil {
		req.StartYear = *o.StartYear
	}
	if o.EndYear != nil {
		req.EndYear = *o.EndYear
	}
	if o.SkipValidation != nil {
		req.SkipValidation = *o.SkipValidation
	}
	if o.RebuildIndex != nil {
		req.RebuildIndex = *o.RebuildIndex
	}
	return req
}

// StartRun handles POST /v1/runs.
func (h *Handler) StartRun(c *gin.Context) {
	var body runOverrides
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&body); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body: " + err.Error()})
			return
		}
	}

	runID, err := h.runs.Start(h.baseCtx, body.apply(h.defaults))
	switch {
	case errors.Is(err, usecase.ErrRunActive):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error(), "run_id": h.runs.Current().RunID})
		return
	case domain.IsKind(err, domain.KindConfiguration):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	case err != nil:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusAccepted, gin.H{
		"run_id": runID,
		"status": "/v1/runs/current",
	})
}

// GetCurrentRun handles GET /v1/runs/current.
func (h *Handler) GetCurrentRun(c *gin.Context) {
	c.JSON(http.StatusOK, h.runs.Current())
}

// GetReport handles GET /v1/report.
func (h *Handler) GetReport(c *gin.Context) {
	report := h.runs.Report()
	if report == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "no validation report available"})
		return
	}
	c.JSON(http.StatusOK, report)
}

// GetLocation handles GET /v1/locations/:id.
func (h *Handler) GetLocation(c *gin.Context) {
	id := c.Param("id")

	ix, err := h.index.Load(c.Request.Context())
	if errors.Is(err, domain.ErrIndexNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "spatial index has not been built"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	cell, ok := ix.Lookup(id)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "location is not indexed", "id": id})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"id":         id,
		"cell":       cell,
		"provenance": ix.Provenance,
	})
}

// GetVariables handles GET /v1/variables.
func (h *Handler) GetVariables(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"variables": domain.Variables,
		"count":     len(domain.Variables),
	})
}

// HealthCheck handles GET /health.
func (h *Handler) HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "ok",
		"time":   time.Now().UTC().Format(time.RFC3339),
		"run":    h.runs.Current().State,
	})
}
