package logger

import "sync/atomic"

// Counters served on the metrics endpoint
var (
	TotalErrors    atomic.Int64
	TotalWarnings  atomic.Int64
	Total5xxErrors atomic.Int64
	Total4xxErrors atomic.Int64
	Total400Errors atomic.Int64
	Total404Errors atomic.Int64
	Total422Errors atomic.Int64

	RuleExecutions atomic.Int64
	WorkflowRuns   atomic.Int64
	StepRetries    atomic.Int64
	StepFailures   atomic.Int64
)

// ErrorHttp5xx counts a server error response
func ErrorHttp5xx() {
	Total5xxErrors.Add(1)
	TotalErrors.Add(1)
}

// WarnHttp4xx counts a client error response
func WarnHttp4xx(status int) {
	Total4xxErrors.Add(1)
	TotalWarnings.Add(1)
	switch status {
	case 400:
		Total400Errors.Add(1)
	case 404:
		Total404Errors.Add(1)
	case 422:
		Total422Errors.Add(1)
	}
}

// Snapshot reads every counter
func Snapshot() map[string]int64 {
	return map[string]int64{
		"errors":          TotalErrors.Load(),
		"warnings":        TotalWarnings.Load(),
		"http_5xx":        Total5xxErrors.Load(),
		"http_4xx":        Total4xxErrors.Load(),
		"http_400":        Total400Errors.Load(),
		"http_404":        Total404Errors.Load(),
		"http_422":        Total422Errors.Load(),
		"rule_executions": RuleExecutions.Load(),
		"workflow_runs":   WorkflowRuns.Load(),
		"step_retries":    StepRetries.Load(),
		"step_failures":   StepFailures.Load(),
	}
}
