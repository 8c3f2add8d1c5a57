package workflow

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/liamcoop/leadscore/audit"
	"github.com/liamcoop/leadscore/rules"
)

// fakeExecutor serves rules from functions and counts invocations
type fakeExecutor struct {
	mu     sync.Mutex
	fns    map[string]func(rules.Input) (*rules.Decision, error)
	calls  map[string]int
	inputs map[string][]rules.Input
}

func newFakeExecutor() *fakeExecutor {
	return &fakeExecutor{
		fns:    make(map[string]func(rules.Input) (*rules.Decision, error)),
		calls:  make(map[string]int),
		inputs: make(map[string][]rules.Input),
	}
}

func (f *fakeExecutor) on(name string, fn func(rules.Input) (*rules.Decision, error)) *fakeExecutor {
	f.fns[name] = fn
	return f
}

func (f *fakeExecutor) Execute(name string, input rules.Input) (*rules.Decision, error) {
	f.mu.Lock()
	fn, ok := f.fns[name]
	f.calls[name]++
	f.inputs[name] = append(f.inputs[name], input)
	f.mu.Unlock()
	if !ok {
		return nil, &rules.RuleNotFoundError{Name: name}
	}
	return fn(input)
}

func (f *fakeExecutor) count(name string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[name]
}

func (f *fakeExecutor) total() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		n += c
	}
	return n
}

func scored(score, confidence float64) func(rules.Input) (*rules.Decision, error) {
	return func(rules.Input) (*rules.Decision, error) {
		return &rules.Decision{
			Score:      rules.Score(score),
			Confidence: confidence,
			Reasoning:  []string{"scored"},
			Metadata:   map[string]any{"ruleVersion": "1.0.0"},
		}, nil
	}
}

func failing(rule string) func(rules.Input) (*rules.Decision, error) {
	return func(rules.Input) (*rules.Decision, error) {
		return nil, &rules.RuleExecutionError{Rule: rule, Version: "1.0.0", Cause: errors.New("upstream unavailable")}
	}
}

func fastConfig() Config {
	cfg := DefaultConfig()
	cfg.TimeoutMs = 1000
	cfg.RetryPolicy = RetryPolicy{MaxRetries: 2, BackoffMs: 1, Strategy: BackoffFixed}
	return cfg
}

func stepOrder(res *Result) []string {
	ids := make([]string, len(res.Steps))
	for i, s := range res.Steps {
		ids[i] = s.StepID
	}
	return ids
}

// TestExecuteSequential verifies a linear workflow runs in dependency order and folds its results
func TestExecuteSequential(t *testing.T) {
	exec := newFakeExecutor().
		on("rule_a", scored(10, 0.2)).
		on("rule_b", scored(20, 0.9)).
		on("rule_c", scored(30, 0.5))
	def := &Definition{
		Name:    "linear",
		Version: "1.0.0",
		Config:  fastConfig(),
		Steps: []Step{
			{ID: "c", RuleName: "rule_c", Dependencies: []string{"b"}},
			{ID: "a", RuleName: "rule_a"},
			{ID: "b", RuleName: "rule_b", Dependencies: []string{"a"}},
		},
	}

	res, err := NewOrchestrator(exec).Execute(context.Background(), def, rules.Input{"x": 1}, HighestConfidence)
	if err != nil {
		t.Fatalf("Execute() failed: %v", err)
	}
	if res.Status != RunSucceeded {
		t.Errorf("Status = %s, want succeeded", res.Status)
	}
	if got := stepOrder(res); !sameIDs(got, "a", "b", "c") {
		t.Errorf("step order = %v, want a b c", got)
	}
	for _, s := range res.Steps {
		if s.Status != StatusSucceeded || s.Attempts != 1 {
			t.Errorf("step %s: status=%s attempts=%d", s.StepID, s.Status, s.Attempts)
		}
	}
	pick, ok := res.Aggregate.(*Pick)
	if !ok || pick.StepID != "b" {
		t.Errorf("Aggregate = %#v, want pick of step b", res.Aggregate)
	}
	if res.RunID == "" || res.Workflow != "linear" || res.Version != "1.0.0" {
		t.Errorf("run identity not set: %+v", res)
	}
}

// TestExecuteCyclicRunsNothing verifies a cycle is reported before any rule is invoked
func TestExecuteCyclicRunsNothing(t *testing.T) {
	exec := newFakeExecutor().on("r", scored(1, 1))
	def := &Definition{
		Name:   "cyclic",
		Config: fastConfig(),
		Steps: []Step{
			{ID: "a", RuleName: "r", Dependencies: []string{"b"}},
			{ID: "b", RuleName: "r", Dependencies: []string{"a"}},
		},
	}

	res, err := NewOrchestrator(exec).Execute(context.Background(), def, nil, nil)
	var cyclic *CyclicDependencyError
	if !errors.As(err, &cyclic) {
		t.Fatalf("expected CyclicDependencyError, got %v", err)
	}
	if res != nil {
		t.Error("no result should be returned for a cyclic definition")
	}
	if exec.total() != 0 {
		t.Errorf("rules invoked %d times, want 0", exec.total())
	}
}

// TestExecuteOptionalConditionSkip verifies an optional step with a false condition is skipped without invoking its rule
func TestExecuteOptionalConditionSkip(t *testing.T) {
	exec := newFakeExecutor().
		on("quality", scored(65, 0.5)).
		on("contact", scored(90, 1))
	def := &Definition{
		Name:   "gated",
		Config: fastConfig(),
		Steps: []Step{
			{ID: "quality", RuleName: "quality"},
			{ID: "contact", RuleName: "contact", Dependencies: []string{"quality"}, Optional: true,
				Condition: Threshold{Path: "$.results.quality.score", Operator: OpGreaterOrEqual, Value: 70}},
		},
	}

	res, err := NewOrchestrator(exec).Execute(context.Background(), def, nil, nil)
	if err != nil {
		t.Fatalf("Execute() failed: %v", err)
	}
	contact := res.Step("contact")
	if contact.Status != StatusSkipped || contact.Reason != ReasonConditionNotMet {
		t.Errorf("contact: status=%s reason=%s", contact.Status, contact.Reason)
	}
	if exec.count("contact") != 0 {
		t.Errorf("contact rule invoked %d times, want 0", exec.count("contact"))
	}
	if res.Status != RunSucceeded {
		t.Errorf("Status = %s, want succeeded", res.Status)
	}
}

// TestExecuteConditionFailureRecordedAsFailed verifies skipOnConditionFailure=false records a failure
func TestExecuteConditionFailureRecordedAsFailed(t *testing.T) {
	exec := newFakeExecutor().on("r", scored(1, 1))
	cfg := fastConfig()
	cfg.SkipOnConditionFailure = false
	def := &Definition{
		Name:   "strict",
		Config: cfg,
		Steps: []Step{
			{ID: "a", RuleName: "r"},
			{ID: "b", RuleName: "r", Optional: true, Condition: Exists{Path: "$.input.missing", Want: true}},
		},
	}

	res, err := NewOrchestrator(exec).Execute(context.Background(), def, nil, nil)
	if err != nil {
		t.Fatalf("Execute() failed: %v", err)
	}
	b := res.Step("b")
	var notMet *ConditionNotMetError
	if b.Status != StatusFailed || !errors.As(b.Err, &notMet) {
		t.Errorf("b: status=%s err=%v", b.Status, b.Err)
	}
	if res.Status != RunPartial {
		t.Errorf("Status = %s, want partial", res.Status)
	}
}

// TestExecuteRequiredConditionAborts verifies a required step with a false condition aborts the run
func TestExecuteRequiredConditionAborts(t *testing.T) {
	exec := newFakeExecutor().on("r", scored(1, 1))
	def := &Definition{
		Name:   "required_gate",
		Config: fastConfig(),
		Steps: []Step{
			{ID: "a", RuleName: "r"},
			{ID: "b", RuleName: "r", Dependencies: []string{"a"},
				Condition: Threshold{Path: "$.results.a.score", Operator: OpGreater, Value: 50}},
			{ID: "c", RuleName: "r", Dependencies: []string{"b"}},
		},
	}

	res, err := NewOrchestrator(exec).Execute(context.Background(), def, nil, MergeReasoning)
	var condErr *RequiredStepConditionFailedError
	if !errors.As(err, &condErr) || condErr.StepID != "b" {
		t.Fatalf("expected RequiredStepConditionFailedError for b, got %v", err)
	}
	if res == nil || res.Status != RunFailed {
		t.Fatalf("expected failed result, got %+v", res)
	}
	if s := res.Step("b"); s.Status != StatusSkipped || s.Reason != ReasonRequiredConditionFailed {
		t.Errorf("b: status=%s reason=%s", s.Status, s.Reason)
	}
	if s := res.Step("c"); s.Status != StatusSkipped || s.Reason != ReasonWorkflowAborted {
		t.Errorf("c: status=%s reason=%s", s.Status, s.Reason)
	}
	if res.Aggregate != nil {
		t.Error("aborted run should not be folded without aggregatePartialResults")
	}
	if exec.count("r") != 1 {
		t.Errorf("rule invoked %d times, want 1", exec.count("r"))
	}
}

// TestExecuteAggregatePartialResults verifies an aborted run is still folded when partial results are accepted
func TestExecuteAggregatePartialResults(t *testing.T) {
	exec := newFakeExecutor().on("r", scored(1, 0.4))
	cfg := fastConfig()
	cfg.AggregatePartialResults = true
	def := &Definition{
		Name:   "partial_fold",
		Config: cfg,
		Steps: []Step{
			{ID: "a", RuleName: "r"},
			{ID: "b", RuleName: "r", Condition: Exists{Path: "$.input.missing", Want: true}},
		},
	}

	res, err := NewOrchestrator(exec).Execute(context.Background(), def, nil, MergeReasoning)
	if err == nil || res.Status != RunFailed {
		t.Fatalf("required condition should still fail the run, got %v / %v", res.Status, err)
	}
	lines, ok := res.Aggregate.([]string)
	if !ok || len(lines) != 1 || lines[0] != "a: scored" {
		t.Errorf("Aggregate = %#v", res.Aggregate)
	}
}

// TestExecuteRetriesThenFails verifies a throwing rule is retried maxRetries times and recorded as failed
func TestExecuteRetriesThenFails(t *testing.T) {
	exec := newFakeExecutor().
		on("stable", scored(50, 0.5)).
		on("flaky", failing("flaky"))
	cfg := fastConfig()
	cfg.RetryPolicy.MaxRetries = 3
	def := &Definition{
		Name:   "retrying",
		Config: cfg,
		Steps: []Step{
			{ID: "stable", RuleName: "stable"},
			{ID: "flaky", RuleName: "flaky", Optional: true},
		},
	}

	res, err := NewOrchestrator(exec).Execute(context.Background(), def, nil, nil)
	if err != nil {
		t.Fatalf("an optional failure should not fail the run: %v", err)
	}
	flaky := res.Step("flaky")
	if flaky.Status != StatusFailed || flaky.Reason != ReasonExecutionFailed {
		t.Errorf("flaky: status=%s reason=%s", flaky.Status, flaky.Reason)
	}
	if flaky.Attempts != 4 || exec.count("flaky") != 4 {
		t.Errorf("attempts=%d invocations=%d, want 4", flaky.Attempts, exec.count("flaky"))
	}
	var execErr *rules.RuleExecutionError
	if !errors.As(flaky.Err, &execErr) {
		t.Errorf("step error should be the rule's error, got %v", flaky.Err)
	}
	if res.Status != RunPartial {
		t.Errorf("Status = %s, want partial", res.Status)
	}
}

// TestExecuteRequiredFailureAborts verifies a required step failing after retries fails the run
func TestExecuteRequiredFailureAborts(t *testing.T) {
	exec := newFakeExecutor().
		on("broken", failing("broken")).
		on("after", scored(1, 1))
	def := &Definition{
		Name:   "fatal",
		Config: fastConfig(),
		Steps: []Step{
			{ID: "broken", RuleName: "broken"},
			{ID: "after", RuleName: "after", Dependencies: []string{"broken"}},
		},
	}

	res, err := NewOrchestrator(exec).Execute(context.Background(), def, nil, nil)
	var stepErr *StepFailedError
	if !errors.As(err, &stepErr) || stepErr.StepID != "broken" {
		t.Fatalf("expected StepFailedError, got %v", err)
	}
	if res.Status != RunFailed {
		t.Errorf("Status = %s, want failed", res.Status)
	}
	if exec.count("broken") != 3 {
		t.Errorf("broken invoked %d times, want 3", exec.count("broken"))
	}
	if exec.count("after") != 0 {
		t.Error("dependent step should not run after an abort")
	}
	if s := res.Step("after"); s.Reason != ReasonWorkflowAborted {
		t.Errorf("after: reason=%s", s.Reason)
	}
}

// TestExecuteRetryRecovers verifies a transient failure succeeds on a later attempt
func TestExecuteRetryRecovers(t *testing.T) {
	var calls int32
	exec := newFakeExecutor().on("transient", func(in rules.Input) (*rules.Decision, error) {
		if atomic.AddInt32(&calls, 1) < 2 {
			return failing("transient")(in)
		}
		return scored(42, 0.8)(in)
	})
	def := &Definition{Name: "recovering", Config: fastConfig(), Steps: []Step{{ID: "s", RuleName: "transient"}}}

	res, err := NewOrchestrator(exec).Execute(context.Background(), def, nil, nil)
	if err != nil {
		t.Fatalf("Execute() failed: %v", err)
	}
	if s := res.Step("s"); s.Status != StatusSucceeded || s.Attempts != 2 {
		t.Errorf("s: status=%s attempts=%d", s.Status, s.Attempts)
	}
}

// TestExecuteValidationNotRetried verifies input validation failures are not retried
func TestExecuteValidationNotRetried(t *testing.T) {
	exec := newFakeExecutor().on("strict", func(rules.Input) (*rules.Decision, error) {
		return nil, &rules.ValidationError{Rule: "strict", Errors: []string{"industry"}}
	})
	def := &Definition{Name: "no_retry", Config: fastConfig(), Steps: []Step{{ID: "s", RuleName: "strict", Optional: true}}}

	res, _ := NewOrchestrator(exec).Execute(context.Background(), def, nil, nil)
	if exec.count("strict") != 1 {
		t.Errorf("invoked %d times, want 1", exec.count("strict"))
	}
	if s := res.Step("s"); s.Status != StatusFailed || s.Attempts != 1 {
		t.Errorf("s: status=%s attempts=%d", s.Status, s.Attempts)
	}
}

// TestExecuteUnknownRule verifies a missing rule fails the step without retrying
func TestExecuteUnknownRule(t *testing.T) {
	exec := newFakeExecutor()
	def := &Definition{Name: "missing_rule", Config: fastConfig(), Steps: []Step{{ID: "s", RuleName: "ghost"}}}

	res, err := NewOrchestrator(exec).Execute(context.Background(), def, nil, nil)
	var notFound *rules.RuleNotFoundError
	if !errors.As(err, &notFound) {
		t.Fatalf("expected RuleNotFoundError in chain, got %v", err)
	}
	if exec.count("ghost") != 1 || res.Step("s").Attempts != 1 {
		t.Errorf("unknown rule should be attempted once")
	}
}

// TestExecuteTimeout verifies slow attempts time out, are retried and end as failed
func TestExecuteTimeout(t *testing.T) {
	release := make(chan struct{})
	defer close(release)
	exec := newFakeExecutor().on("slow", func(rules.Input) (*rules.Decision, error) {
		<-release
		return scored(1, 1)(nil)
	})
	cfg := fastConfig()
	cfg.TimeoutMs = 20
	cfg.RetryPolicy.MaxRetries = 1
	def := &Definition{Name: "timing_out", Config: cfg, Steps: []Step{{ID: "s", RuleName: "slow", Optional: true}}}

	start := time.Now()
	res, err := NewOrchestrator(exec).Execute(context.Background(), def, nil, nil)
	if err != nil {
		t.Fatalf("Execute() failed: %v", err)
	}
	if time.Since(start) > 2*time.Second {
		t.Error("timed out attempts should not block the run")
	}
	s := res.Step("s")
	var timeout *StepTimeoutError
	if s.Status != StatusFailed || !errors.As(s.Err, &timeout) {
		t.Fatalf("s: status=%s err=%v", s.Status, s.Err)
	}
	if timeout.Attempt != 2 || s.Attempts != 2 {
		t.Errorf("timeout attempt=%d attempts=%d, want 2", timeout.Attempt, s.Attempts)
	}
	if !errors.Is(s.Err, context.DeadlineExceeded) {
		t.Error("StepTimeoutError should unwrap to context.DeadlineExceeded")
	}
}

// TestExecuteRecoversPanics verifies a panicking executor fails the step instead of the process
func TestExecuteRecoversPanics(t *testing.T) {
	exec := newFakeExecutor().on("explosive", func(rules.Input) (*rules.Decision, error) {
		panic("boom")
	})
	cfg := fastConfig()
	cfg.RetryPolicy.MaxRetries = 0
	def := &Definition{Name: "panicking", Config: cfg, Steps: []Step{{ID: "s", RuleName: "explosive", Optional: true}}}

	res, err := NewOrchestrator(exec).Execute(context.Background(), def, nil, nil)
	if err != nil {
		t.Fatalf("Execute() failed: %v", err)
	}
	var execErr *rules.RuleExecutionError
	if s := res.Step("s"); s.Status != StatusFailed || !errors.As(s.Err, &execErr) {
		t.Errorf("s: status=%s err=%v", s.Status, s.Err)
	}
}

// TestExecuteCancelled verifies a cancelled context marks every step cancelled without running rules
func TestExecuteCancelled(t *testing.T) {
	exec := newFakeExecutor().on("r", scored(1, 1))
	def := &Definition{
		Name:   "cancelled",
		Config: fastConfig(),
		Steps: []Step{
			{ID: "a", RuleName: "r"},
			{ID: "b", RuleName: "r", Dependencies: []string{"a"}},
		},
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	res, err := NewOrchestrator(exec).Execute(ctx, def, nil, nil)
	if !errors.Is(err, ErrCancelled) {
		t.Fatalf("expected ErrCancelled, got %v", err)
	}
	if res.Status != RunFailed {
		t.Errorf("Status = %s, want failed", res.Status)
	}
	for _, s := range res.Steps {
		if s.Status != StatusCancelled {
			t.Errorf("step %s: status=%s, want cancelled", s.StepID, s.Status)
		}
	}
	if exec.total() != 0 {
		t.Errorf("rules invoked %d times, want 0", exec.total())
	}
}

// TestExecuteCancelledMidRun verifies in-flight attempts are abandoned when the caller cancels
func TestExecuteCancelledMidRun(t *testing.T) {
	release := make(chan struct{})
	defer close(release)
	ctx, cancel := context.WithCancel(context.Background())
	exec := newFakeExecutor().
		on("first", scored(1, 1)).
		on("blocking", func(rules.Input) (*rules.Decision, error) {
			cancel()
			<-release
			return scored(1, 1)(nil)
		}).
		on("last", scored(1, 1))
	def := &Definition{
		Name:   "interrupted",
		Config: fastConfig(),
		Steps: []Step{
			{ID: "first", RuleName: "first"},
			{ID: "blocking", RuleName: "blocking", Dependencies: []string{"first"}},
			{ID: "last", RuleName: "last", Dependencies: []string{"blocking"}},
		},
	}

	res, err := NewOrchestrator(exec).Execute(ctx, def, nil, nil)
	if !errors.Is(err, ErrCancelled) {
		t.Fatalf("expected ErrCancelled, got %v", err)
	}
	if s := res.Step("first"); s.Status != StatusSucceeded {
		t.Errorf("first: status=%s", s.Status)
	}
	if s := res.Step("blocking"); s.Status != StatusCancelled {
		t.Errorf("blocking: status=%s", s.Status)
	}
	if s := res.Step("last"); s.Status != StatusCancelled {
		t.Errorf("last: status=%s", s.Status)
	}
	if exec.count("blocking") != 1 {
		t.Errorf("cancelled step should not be retried, invoked %d times", exec.count("blocking"))
	}
}

// TestExecuteParallelLevels verifies siblings run concurrently and dependents wait for the whole level
func TestExecuteParallelLevels(t *testing.T) {
	var running, peak int32
	sibling := func(rules.Input) (*rules.Decision, error) {
		n := atomic.AddInt32(&running, 1)
		for {
			p := atomic.LoadInt32(&peak)
			if n <= p || atomic.CompareAndSwapInt32(&peak, p, n) {
				break
			}
		}
		time.Sleep(30 * time.Millisecond)
		atomic.AddInt32(&running, -1)
		return scored(80, 0.7)(nil)
	}
	var joinSawAll bool
	exec := newFakeExecutor().
		on("root", scored(90, 0.9)).
		on("sibling", sibling).
		on("join", func(rules.Input) (*rules.Decision, error) {
			joinSawAll = atomic.LoadInt32(&running) == 0
			return scored(10, 0.1)(nil)
		})
	cfg := fastConfig()
	cfg.ExecutionMode = ParallelWherePossible
	def := &Definition{
		Name:   "fan_out",
		Config: cfg,
		Steps: []Step{
			{ID: "root", RuleName: "root"},
			{ID: "left", RuleName: "sibling", Dependencies: []string{"root"}},
			{ID: "middle", RuleName: "sibling", Dependencies: []string{"root"}},
			{ID: "right", RuleName: "sibling", Dependencies: []string{"root"}},
			{ID: "join", RuleName: "join", Dependencies: []string{"left", "middle", "right"},
				Condition: AllDependenciesExecuted{RequiredDependencies: []string{"left", "middle", "right"}}},
		},
	}

	res, err := NewOrchestrator(exec).Execute(context.Background(), def, nil, Decisions)
	if err != nil {
		t.Fatalf("Execute() failed: %v", err)
	}
	if atomic.LoadInt32(&peak) < 2 {
		t.Errorf("siblings did not overlap, peak concurrency %d", peak)
	}
	if !joinSawAll {
		t.Error("join ran before its level finished")
	}
	order := stepOrder(res)
	if order[0] != "root" || order[len(order)-1] != "join" {
		t.Errorf("order = %v, want root first and join last", order)
	}
	decisions := res.Aggregate.(map[string]*rules.Decision)
	if len(decisions) != 5 {
		t.Errorf("Decisions fold has %d entries, want 5", len(decisions))
	}
}

// TestExecuteInputMapping verifies mapped inputs read from the workflow input, earlier results and literals
func TestExecuteInputMapping(t *testing.T) {
	exec := newFakeExecutor().
		on("first", scored(77, 0.5)).
		on("second", scored(1, 1))
	def := &Definition{
		Name:   "mapping",
		Config: fastConfig(),
		Steps: []Step{
			{ID: "first", RuleName: "first"},
			{ID: "second", RuleName: "second", Dependencies: []string{"first"}, InputMapping: map[string]string{
				"industry":      "$.input.company.industry",
				"quality_score": "$.results.first.score",
				"segment":       "sme",
				"absent":        "$.input.nothing",
			}},
		},
	}
	input := rules.Input{"company": map[string]any{"industry": "Retail"}, "other": true}

	if _, err := NewOrchestrator(exec).Execute(context.Background(), def, input, nil); err != nil {
		t.Fatalf("Execute() failed: %v", err)
	}

	first := exec.inputs["first"][0]
	if first["other"] != true {
		t.Errorf("unmapped step should receive the whole input, got %v", first)
	}
	second := exec.inputs["second"][0]
	if second["industry"] != "Retail" || second["quality_score"] != 77.0 || second["segment"] != "sme" {
		t.Errorf("mapped input = %v", second)
	}
	if _, ok := second["absent"]; ok {
		t.Error("unresolved paths should be left out")
	}
	if _, ok := second["other"]; ok {
		t.Error("mapped step should only receive mapped fields")
	}
}

// TestExecuteFoldError verifies a failing fold fails the run
func TestExecuteFoldError(t *testing.T) {
	exec := newFakeExecutor().on("r", scored(1, 1))
	def := &Definition{Name: "bad_fold", Config: fastConfig(), Steps: []Step{{ID: "s", RuleName: "r"}}}
	fold := func([]*StepResult) (any, error) { return nil, errors.New("cannot fold") }

	res, err := NewOrchestrator(exec).Execute(context.Background(), def, nil, fold)
	if err == nil || res.Status != RunFailed {
		t.Errorf("expected failed run, got %v / %v", res.Status, err)
	}
}

// TestExecuteRecordsAudit verifies every succeeded step is written to the recorder
func TestExecuteRecordsAudit(t *testing.T) {
	exec := newFakeExecutor().
		on("ok", scored(1, 0.3)).
		on("bad", failing("bad"))
	cfg := fastConfig()
	cfg.RetryPolicy.MaxRetries = 0
	def := &Definition{
		Name:   "audited",
		Config: cfg,
		Steps: []Step{
			{ID: "ok", RuleName: "ok"},
			{ID: "bad", RuleName: "bad", Optional: true},
		},
	}
	recorder := audit.NewMemoryRecorder()

	res, err := NewOrchestrator(exec, WithRecorder(recorder)).Execute(context.Background(), def, rules.Input{"k": "v"}, nil)
	if err != nil {
		t.Fatalf("Execute() failed: %v", err)
	}

	records := recorder.ForRun(res.RunID)
	if len(records) != 1 {
		t.Fatalf("got %d audit records, want 1", len(records))
	}
	rec := records[0]
	if rec.Workflow != "audited" || rec.StepID != "ok" || rec.RuleName != "ok" {
		t.Errorf("record = %+v", rec)
	}
	if rec.RuleVersion != "1.0.0" || rec.Confidence != 0.3 {
		t.Errorf("record version/confidence = %s/%v", rec.RuleVersion, rec.Confidence)
	}
}
