package ingest

import (
	"context"
	"log/slog"
)

// Step is one phase of a company run. Steps record per-item failures in
// the run summary themselves; a returned error aborts the run.
type Step interface {
	// Do executes the step against the shared run state.
	Do(ctx context.Context, run *Run) error

	// Name returns the step's name for logging.
	Name() string
}

// Pipeline runs steps in order, stopping at the first error or on
// cancellation.
type Pipeline struct {
	steps  []Step
	logger *slog.Logger
}

// NewPipeline creates a pipeline of steps.
func NewPipeline(logger *slog.Logger, steps ...Step) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{steps: steps, logger: logger}
}

// Execute runs every step. Cancellation is checked before each step; steps
// check it between items themselves.
func (p *Pipeline) Execute(ctx context.Context, run *Run) error {
	for _, step := range p.steps {
		if err := ctx.Err(); err != nil {
			p.logger.Warn("run cancelled",
				"step", step.Name(),
				"company_id", run.Company.ID,
				"reason", err,
			)
			return err
		}

		p.logger.Debug("executing step",
			"step", step.Name(),
			"company_id", run.Company.ID,
			"run_id", run.ID,
		)
		if err := step.Do(ctx, run); err != nil {
			p.logger.Error("step failed",
				"step", step.Name(),
				"company_id", run.Company.ID,
				"error", err,
			)
			return err
		}
		run.markPerformed(step.Name())
	}
	return nil
}

// StepNames returns the names of all steps in execution order.
func (p *Pipeline) StepNames() []string {
	names := make([]string, len(p.steps))
	for i, step := range p.steps {
		names[i] = step.Name()
	}
	return names
}
