package workflow

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/liamcoop/leadscore/audit"
	"github.com/liamcoop/leadscore/internal/logger"
	"github.com/liamcoop/leadscore/rules"
	"golang.org/x/sync/errgroup"
)

// Executor runs a rule by name. *rules.Registry satisfies it.
type Executor interface {
	Execute(ruleName string, input rules.Input) (*rules.Decision, error)
}

// Fold combines the step results of a run into one aggregate value
type Fold func(steps []*StepResult) (any, error)

// Orchestrator executes workflow definitions against an Executor
type Orchestrator struct {
	executor Executor
	recorder audit.Recorder
}

// Option configures an Orchestrator
type Option func(*Orchestrator)

// WithRecorder audits every successful step. Recorder failures are logged
// and never fail the step.
func WithRecorder(r audit.Recorder) Option {
	return func(o *Orchestrator) {
		o.recorder = r
	}
}

// NewOrchestrator creates an Orchestrator
func NewOrchestrator(executor Executor, opts ...Option) *Orchestrator {
	o := &Orchestrator{executor: executor}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Execute runs def against input and folds the step results with fold (which
// may be nil). Invalid or cyclic definitions return an error and no result
// before any rule runs. Once steps have started, a result is always returned;
// the error is non-nil exactly when the run status is failed.
func (o *Orchestrator) Execute(ctx context.Context, def *Definition, input rules.Input, fold Fold) (*Result, error) {
	plan, err := NewPlan(def)
	if err != nil {
		return nil, err
	}
	if input == nil {
		input = rules.Input{}
	}

	started := time.Now()
	r := &run{
		orchestrator: o,
		def:          def,
		runID:        uuid.NewString(),
		ledger:       newLedger(def, input),
		optional:     make(map[string]bool, len(def.Steps)),
	}
	for _, s := range def.Steps {
		r.optional[s.ID] = s.Optional
	}
	logger.WorkflowRuns.Add(1)
	logger.Debug("workflow started", "workflow", def.Name, "version", def.Version, "run_id", r.runID,
		"mode", string(def.Config.ExecutionMode), "steps", len(def.Steps))

	var abort error
	if def.Config.ExecutionMode == ParallelWherePossible {
		abort = r.runLevels(ctx, plan.Levels)
	} else {
		abort = r.runSequential(ctx, plan.Order)
	}

	for _, s := range r.ledger.pending(def) {
		if ctx.Err() != nil {
			r.ledger.finish(&StepResult{StepID: s.ID, RuleName: s.RuleName, Status: StatusCancelled,
				Reason: ReasonCancelled, Err: ErrCancelled})
			continue
		}
		r.ledger.finish(&StepResult{StepID: s.ID, RuleName: s.RuleName, Status: StatusSkipped,
			Reason: ReasonWorkflowAborted})
	}

	res := &Result{
		RunID:    r.runID,
		Workflow: def.Name,
		Version:  def.Version,
		Steps:    r.ledger.ordered(),
		Err:      abort,
	}
	res.Status = runStatus(res.Steps, abort, def.Config)

	if fold != nil && (abort == nil || def.Config.AggregatePartialResults) {
		agg, err := fold(res.Steps)
		if err != nil {
			res.Status = RunFailed
			res.Err = fmt.Errorf("aggregate: %w", err)
		} else {
			res.Aggregate = agg
		}
	}
	res.DurationMs = millis(time.Since(started))

	if res.Status == RunFailed {
		logger.Warn("workflow failed", "workflow", def.Name, "run_id", r.runID, "error", res.Err)
		return res, res.Err
	}
	logger.Info("workflow completed", "workflow", def.Name, "run_id", r.runID,
		"status", string(res.Status), "duration_ms", res.DurationMs)
	return res, nil
}

// runStatus: failed on abort; partial when an optional step failed or was
// skipped for an unsatisfied dependency, unless partial results are accepted
func runStatus(steps []*StepResult, abort error, cfg Config) RunStatus {
	if abort != nil {
		return RunFailed
	}
	if cfg.AggregatePartialResults {
		return RunSucceeded
	}
	for _, s := range steps {
		if s.Status == StatusFailed || (s.Status == StatusSkipped && s.Reason == ReasonDependencyNotSatisfied) {
			return RunPartial
		}
	}
	return RunSucceeded
}

// run is the state of one Execute call
type run struct {
	orchestrator *Orchestrator
	def          *Definition
	runID        string
	ledger       *ledger
	optional     map[string]bool
}

func (r *run) runSequential(ctx context.Context, order []Step) error {
	for _, s := range order {
		if err := r.step(ctx, s); err != nil {
			return err
		}
	}
	return nil
}

// runLevels runs each dependency level concurrently. A level always runs to
// completion; an abort stops later levels from starting.
func (r *run) runLevels(ctx context.Context, levels [][]Step) error {
	for _, level := range levels {
		var g errgroup.Group
		for _, s := range level {
			g.Go(func() error {
				return r.step(ctx, s)
			})
		}
		if err := g.Wait(); err != nil {
			return err
		}
	}
	return nil
}

// step runs one step through dependency, condition, mapping and execution.
// It returns a non-nil error only when the whole run must abort.
func (r *run) step(ctx context.Context, s Step) error {
	if err := ctx.Err(); err != nil {
		r.ledger.finish(&StepResult{StepID: s.ID, RuleName: s.RuleName, Status: StatusCancelled,
			Reason: ReasonCancelled, Err: ErrCancelled})
		return fmt.Errorf("%w: %w", ErrCancelled, err)
	}

	cfg := r.def.Config
	for _, dep := range s.Dependencies {
		status := r.ledger.Status(dep)
		if status == StatusSucceeded || r.optional[dep] || cfg.AggregatePartialResults {
			continue
		}
		depErr := &DependencyNotSatisfiedError{StepID: s.ID, Dependency: dep, Status: status}
		r.ledger.finish(&StepResult{StepID: s.ID, RuleName: s.RuleName, Status: StatusSkipped,
			Reason: ReasonDependencyNotSatisfied, Err: depErr})
		if s.Optional {
			return nil
		}
		return depErr
	}

	if !Evaluate(s.Condition, r.ledger) {
		logger.Debug("step condition not met", "workflow", r.def.Name, "run_id", r.runID,
			"step", s.ID, "condition", describe(s.Condition))
		switch {
		case !s.Optional:
			condErr := &RequiredStepConditionFailedError{StepID: s.ID}
			r.ledger.finish(&StepResult{StepID: s.ID, RuleName: s.RuleName, Status: StatusSkipped,
				Reason: ReasonRequiredConditionFailed, Err: condErr})
			return condErr
		case cfg.SkipOnConditionFailure:
			r.ledger.finish(&StepResult{StepID: s.ID, RuleName: s.RuleName, Status: StatusSkipped,
				Reason: ReasonConditionNotMet})
		default:
			r.ledger.finish(&StepResult{StepID: s.ID, RuleName: s.RuleName, Status: StatusFailed,
				Reason: ReasonConditionNotMet, Err: &ConditionNotMetError{StepID: s.ID}})
		}
		return nil
	}

	input := r.mapInput(s)
	started := time.Now()
	var decision *rules.Decision
	attempts, err := Retry(ctx, cfg.RetryPolicy, IsRetryable,
		func(ctx context.Context, attempt int) error {
			d, err := r.attempt(ctx, s, input, attempt)
			if err != nil {
				return err
			}
			decision = d
			return nil
		},
		func(attempt int, err error) {
			logger.StepRetries.Add(1)
			logger.Warn("retrying workflow step", "workflow", r.def.Name, "run_id", r.runID,
				"step", s.ID, "attempt", attempt, "error", err)
		})

	sr := &StepResult{
		StepID:     s.ID,
		RuleName:   s.RuleName,
		Attempts:   attempts,
		DurationMs: millis(time.Since(started)),
	}
	if err == nil {
		sr.Status = StatusSucceeded
		sr.Decision = decision
		r.ledger.finish(sr)
		r.record(ctx, s, input, decision)
		return nil
	}

	sr.Err = err
	if ctxErr := ctx.Err(); ctxErr != nil {
		sr.Status = StatusCancelled
		sr.Reason = ReasonCancelled
		r.ledger.finish(sr)
		return fmt.Errorf("%w: %w", ErrCancelled, ctxErr)
	}

	sr.Status = StatusFailed
	sr.Reason = ReasonExecutionFailed
	r.ledger.finish(sr)
	logger.StepFailures.Add(1)
	if s.Optional {
		logger.Warn("optional workflow step failed", "workflow", r.def.Name, "run_id", r.runID,
			"step", s.ID, "attempts", attempts, "error", err)
		return nil
	}
	return &StepFailedError{StepID: s.ID, Cause: err}
}

// attempt executes the step's rule once, bounded by the step timeout. A
// timed-out evaluation keeps running in its goroutine and its result is dropped.
func (r *run) attempt(ctx context.Context, s Step, input rules.Input, n int) (*rules.Decision, error) {
	timeout := r.def.Config.stepTimeout()
	actx, cancel := ctx, context.CancelFunc(func() {})
	if timeout > 0 {
		actx, cancel = context.WithTimeout(ctx, timeout)
	}
	defer cancel()

	type outcome struct {
		decision *rules.Decision
		err      error
	}
	done := make(chan outcome, 1)
	go func() {
		defer func() {
			if rec := recover(); rec != nil {
				done <- outcome{err: &rules.RuleExecutionError{Rule: s.RuleName, Cause: fmt.Errorf("panic: %v", rec)}}
			}
		}()
		d, err := r.orchestrator.executor.Execute(s.RuleName, input)
		done <- outcome{decision: d, err: err}
	}()

	select {
	case out := <-done:
		return out.decision, out.err
	case <-actx.Done():
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		return nil, &StepTimeoutError{StepID: s.ID, Timeout: timeout, Attempt: n}
	}
}

// mapInput builds a step's rule input. Unresolved paths are left out so the
// rule's required-field check reports them.
func (r *run) mapInput(s Step) rules.Input {
	if len(s.InputMapping) == 0 {
		out := make(rules.Input, len(r.ledger.input))
		for k, v := range r.ledger.input {
			out[k] = v
		}
		return out
	}

	out := make(rules.Input, len(s.InputMapping))
	for target, source := range s.InputMapping {
		if !isPath(source) {
			out[target] = source
			continue
		}
		if v, ok := r.ledger.Resolve(source); ok {
			out[target] = v
		} else {
			logger.Debug("input mapping unresolved", "workflow", r.def.Name, "run_id", r.runID,
				"step", s.ID, "field", target, "source", source)
		}
	}
	return out
}

func (r *run) record(ctx context.Context, s Step, input rules.Input, d *rules.Decision) {
	if r.orchestrator.recorder == nil {
		return
	}
	rec, err := audit.NewRecord(s.RuleName, input, d)
	if err != nil {
		logger.Warn("failed to build audit record", "workflow", r.def.Name, "step", s.ID, "error", err)
		return
	}
	rec.Workflow = r.def.Name
	rec.RunID = r.runID
	rec.StepID = s.ID
	if err := r.orchestrator.recorder.Record(context.WithoutCancel(ctx), rec); err != nil {
		logger.Warn("failed to write audit record", "workflow", r.def.Name, "step", s.ID, "error", err)
	}
}

func millis(d time.Duration) float64 {
	return float64(d.Microseconds()) / 1000
}
