package main

import (
	"github.com/liamcoop/leadscore/rules"
	"github.com/liamcoop/leadscore/workflow"
)

// API request and response models

// ToolMetadata accompanies a tool decision
type ToolMetadata struct {
	ExecutionTimeMs float64 `json:"executionTimeMs" example:"0.42"`
	RuleVersion     string  `json:"ruleVersion" example:"1.0.0"`
	AuditID         string  `json:"auditId,omitempty" example:"123e4567-e89b-12d3-a456-426614174000"`
}

// ToolResponse is the body of a successful POST /tools/{ruleName}
type ToolResponse struct {
	Success     bool            `json:"success" example:"true"`
	Result      *rules.Decision `json:"result"`
	Explanation string          `json:"explanation" example:"This lead scores high because UAE presence is strong, plus 2 other positive signals."`
	Metadata    ToolMetadata    `json:"metadata"`
}

// WorkflowMetadata accompanies a workflow run
type WorkflowMetadata struct {
	Workflow        string  `json:"workflow" example:"conditional_lead_scoring"`
	Version         string  `json:"version" example:"1.0.0"`
	ExecutionTimeMs float64 `json:"executionTimeMs" example:"3.1"`
}

// WorkflowResponse is the body of POST /workflows/{workflowName}
type WorkflowResponse struct {
	Success   bool                   `json:"success" example:"true"`
	RunID     string                 `json:"runId" example:"123e4567-e89b-12d3-a456-426614174000"`
	Status    workflow.RunStatus     `json:"status" example:"succeeded"`
	Results   []*workflow.StepResult `json:"results"`
	Aggregate any                    `json:"aggregate,omitempty"`
	Error     string                 `json:"error,omitempty"`
	Metadata  WorkflowMetadata       `json:"metadata"`
}

// ToolsListResponse lists the registered rules
type ToolsListResponse struct {
	Tools []rules.RuleInfo `json:"tools"`
}

// WorkflowsListResponse lists the catalog
type WorkflowsListResponse struct {
	Workflows []workflow.WorkflowInfo `json:"workflows"`
}

// CreateRuleResponse is returned after an expression rule is stored
type CreateRuleResponse struct {
	Name    string `json:"name" example:"fintech_affinity"`
	Version string `json:"version" example:"1.0.0"`
	Active  bool   `json:"active" example:"true"`
	Checks  int    `json:"checks" example:"3"`
}

// ErrorResponse represents an error response
type ErrorResponse struct {
	Success bool     `json:"success" example:"false"`
	Error   string   `json:"error" example:"validation failed for rule evaluate_company_quality: missing required fields: industry"`
	Errors  []string `json:"errors,omitempty"`
}

// HealthResponse represents the health check response
type HealthResponse struct {
	Status    string `json:"status" example:"healthy"`
	Database  string `json:"database,omitempty" example:"connected"`
	Rules     int    `json:"rules" example:"4"`
	Workflows int    `json:"workflows" example:"1"`
	Error     string `json:"error,omitempty"`
}

// MetricsResponse exposes the logger counters
type MetricsResponse struct {
	Counters map[string]int64 `json:"counters"`
}
