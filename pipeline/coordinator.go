// Package pipeline sequences the download, extract, load, and transform
// stages for one ingestion year.
package pipeline

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/glidru/ipeds-pipeline/logging"
	"github.com/glidru/ipeds-pipeline/metrics"
)

// Stage outcome states.
const (
	StatusSuccess      = "success"
	StatusFailed       = "failed"
	StatusSkipped      = "skipped"
	StatusNotAttempted = "not attempted"
)

// Ordered stage names.
const (
	StageDownload  = "download"
	StageExtract   = "extract"
	StageLoad      = "load"
	StageTransform = "transform"
)

// StageResult records one stage's outcome within a run.
type StageResult struct {
	Stage           string  `json:"stage"`
	Status          string  `json:"status"`
	Error           string  `json:"error,omitempty"`
	DurationSeconds float64 `json:"duration_seconds"`
}

// RunResult aggregates the stage outcomes of one pipeline run. Success is
// true only if every non-skipped stage succeeded.
type RunResult struct {
	RunID   string        `json:"run_id"`
	Year    int           `json:"year"`
	Version string        `json:"version"`
	Stages  []StageResult `json:"stages"`
	Success bool          `json:"success"`
}

// FailedStage returns the name of the stage that failed, or "".
func (r *RunResult) FailedStage() string {
	for _, s := range r.Stages {
		if s.Status == StatusFailed {
			return s.Stage
		}
	}
	return ""
}

// StageFunc runs one pipeline stage to completion.
type StageFunc func(ctx context.Context) error

// Stages supplies the four stage implementations in order.
type Stages struct {
	Download  StageFunc
	Extract   StageFunc
	Load      StageFunc
	Transform StageFunc
}

// Options selects which stages a run skips.
type Options struct {
	SkipDownload  bool
	SkipExtract   bool
	SkipLoad      bool
	SkipTransform bool
}

// Coordinator drives the stage sequence. Stages run strictly in order; the
// first failure stops the run (artifacts written by earlier stages are kept
// so a rerun with skip flags can resume from the failure point).
type Coordinator struct {
	stages  Stages
	logger  *logging.ComponentLogger
	metrics *metrics.Metrics
}

// NewCoordinator creates a Coordinator over the given stage implementations.
func NewCoordinator(stages Stages, logger *logging.ComponentLogger, m *metrics.Metrics) *Coordinator {
	return &Coordinator{stages: stages, logger: logger, metrics: m}
}

// Run executes the pipeline for one year and returns the aggregated result.
// The returned error mirrors the first stage failure, if any.
func (c *Coordinator) Run(ctx context.Context, year int, version string, opts Options) *RunResult {
	type stageDef struct {
		name string
		skip bool
		fn   StageFunc
	}

	defs := []stageDef{
		{StageDownload, opts.SkipDownload, c.stages.Download},
		{StageExtract, opts.SkipExtract, c.stages.Extract},
		{StageLoad, opts.SkipLoad, c.stages.Load},
		{StageTransform, opts.SkipTransform, c.stages.Transform},
	}

	result := &RunResult{
		RunID:   uuid.NewString(),
		Year:    year,
		Version: version,
		Success: true,
	}

	failed := false
	for _, def := range defs {
		switch {
		case def.skip:
			result.Stages = append(result.Stages, StageResult{Stage: def.name, Status: StatusSkipped})
			c.logger.Info().
				Str("stage", def.name).
				Msg("Stage skipped")
			continue
		case failed:
			result.Stages = append(result.Stages, StageResult{Stage: def.name, Status: StatusNotAttempted})
			continue
		}

		c.logger.Info().
			Str("stage", def.name).
			Int("year", year).
			Msg("Stage starting")

		start := time.Now()
		err := def.fn(ctx)
		elapsed := time.Since(start)

		if err != nil {
			failed = true
			result.Success = false
			result.Stages = append(result.Stages, StageResult{
				Stage:           def.name,
				Status:          StatusFailed,
				Error:           err.Error(),
				DurationSeconds: elapsed.Seconds(),
			})
			c.logger.Error().
				Str("stage", def.name).
				Dur("duration", elapsed).
				Err(err).
				Msg("Stage failed, aborting remaining stages")
			if c.metrics != nil {
				c.metrics.RecordStage(def.name, StatusFailed, elapsed)
				c.metrics.RecordError(def.name)
			}
			continue
		}

		result.Stages = append(result.Stages, StageResult{
			Stage:           def.name,
			Status:          StatusSuccess,
			DurationSeconds: elapsed.Seconds(),
		})
		c.logger.Info().
			Str("stage", def.name).
			Dur("duration", elapsed).
			Msg("Stage completed")
		if c.metrics != nil {
			c.metrics.RecordStage(def.name, StatusSuccess, elapsed)
		}
	}

	return result
}
