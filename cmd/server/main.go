package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/cel-go/cel"
	"github.com/liamcoop/leadscore/audit"
	"github.com/liamcoop/leadscore/internal/config"
	"github.com/liamcoop/leadscore/internal/logger"
	"github.com/liamcoop/leadscore/rules"
	"github.com/liamcoop/leadscore/tools"
	"github.com/liamcoop/leadscore/workflow"
	_ "github.com/lib/pq"
)

type Server struct {
	db           *sql.DB
	registry     *rules.Registry
	catalog      *workflow.Catalog
	orchestrator *workflow.Orchestrator
	env          *cel.Env
	specs        rules.SpecStore
	recorder     audit.Recorder
	router       *chi.Mux
	timeout      time.Duration
}

// NewServer wires the registry, workflow catalog, spec store and audit
// recorder. db may be nil, in which case expression rules and audit records
// are kept in memory.
func NewServer(cfg *config.Config, db *sql.DB) (*Server, error) {
	var specs rules.SpecStore
	if db != nil {
		specs = rules.NewPostgresSpecStore(db)
	} else {
		specs = rules.NewInMemorySpecStore()
	}
	return newServer(cfg, db, specs)
}

func newServer(cfg *config.Config, db *sql.DB, specs rules.SpecStore) (*Server, error) {
	env, err := rules.NewExpressionEnv()
	if err != nil {
		return nil, err
	}

	s := &Server{
		db:       db,
		registry: rules.NewRegistry(),
		catalog:  workflow.NewCatalog(),
		env:      env,
		specs:    specs,
		timeout:  cfg.RequestTimeout,
	}
	if cfg.AuditEnabled {
		if db != nil {
			s.recorder = audit.NewPostgresRecorder(db)
		} else {
			s.recorder = audit.NewMemoryRecorder()
		}
	}

	rulesFile, err := config.LoadRulesFile(cfg.RulesFile)
	if err != nil {
		return nil, err
	}
	if err := tools.RegisterDefaults(s.registry, tools.DefaultConfig().Merge(rulesFile.Tools)); err != nil {
		return nil, err
	}
	n, err := rules.LoadActiveSpecs(env, s.specs, s.registry)
	if err != nil {
		return nil, fmt.Errorf("failed to load stored rules: %w", err)
	}
	logger.Info("loaded stored expression rules", "count", n)
	for _, spec := range rulesFile.Expressions {
		if err := s.syncExpressionRule(spec); err != nil {
			return nil, fmt.Errorf("rules file: %w", err)
		}
	}

	if err := tools.RegisterWorkflows(s.catalog); err != nil {
		return nil, err
	}
	wfSpecs, err := config.LoadWorkflowsFile(cfg.WorkflowsFile)
	if err != nil {
		return nil, err
	}
	for _, spec := range wfSpecs {
		if err := s.catalog.AddSpec(spec); err != nil {
			return nil, fmt.Errorf("workflows file: %w", err)
		}
	}

	var opts []workflow.Option
	if s.recorder != nil {
		opts = append(opts, workflow.WithRecorder(s.recorder))
	}
	s.orchestrator = workflow.NewOrchestrator(s.registry, opts...)

	logger.Info("server configured", "rules", len(s.registry.List()), "workflows", len(s.catalog.List()),
		"audit", cfg.AuditEnabled, "database", db != nil)

	s.setupRoutes()
	return s, nil
}

func (s *Server) setupRoutes() {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(countResponses)
	r.Use(middleware.Recoverer)
	if s.timeout > 0 {
		r.Use(middleware.Timeout(s.timeout))
	}

	r.Get("/api/v1/health", s.handleHealth)
	r.Get("/api/v1/metrics", s.handleMetrics)

	r.Route("/api/v1/tools", func(r chi.Router) {
		r.Get("/", s.handleListTools)
		r.Post("/{ruleName}", s.handleExecuteTool)
	})

	r.Route("/api/v1/workflows", func(r chi.Router) {
		r.Get("/", s.handleListWorkflows)
		r.Get("/{workflowName}", s.handleGetWorkflow)
		r.Post("/{workflowName}", s.handleExecuteWorkflow)
	})

	r.Route("/api/v1/rules", func(r chi.Router) {
		r.Post("/", s.handleCreateRule)
		r.Put("/{name}/active/{version}", s.handleActivateRule)
		r.Delete("/{name}/{version}", s.handleDeleteRule)
	})

	s.router = r
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// countResponses feeds response status classes into the logger counters
func countResponses(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		switch status := ww.Status(); {
		case status >= 500:
			logger.ErrorHttp5xx()
		case status >= 400:
			logger.WarnHttp4xx(status)
		}
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{
		Status:    "healthy",
		Rules:     len(s.registry.List()),
		Workflows: len(s.catalog.List()),
	}
	if s.db != nil {
		if err := s.db.PingContext(r.Context()); err != nil {
			resp.Status = "unhealthy"
			resp.Database = "unreachable"
			resp.Error = err.Error()
			respondJSON(w, http.StatusServiceUnavailable, resp)
			return
		}
		resp.Database = "connected"
	}
	respondJSON(w, http.StatusOK, resp)
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, MetricsResponse{Counters: logger.Snapshot()})
}

func (s *Server) handleListTools(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, ToolsListResponse{Tools: s.registry.List()})
}

// handleExecuteTool runs one rule. ?version= executes a specific registered
// version instead of the active one.
func (s *Server) handleExecuteTool(w http.ResponseWriter, r *http.Request) {
	ruleName := chi.URLParam(r, "ruleName")

	input, ok := decodeInput(w, r)
	if !ok {
		return
	}

	start := time.Now()
	decision, err := s.registry.ExecuteVersion(ruleName, r.URL.Query().Get("version"), input)
	logger.RuleExecutions.Add(1)
	if err != nil {
		respondRuleError(w, err)
		return
	}

	resp := ToolResponse{
		Success:     true,
		Result:      decision,
		Explanation: rules.Summarize(decision),
		Metadata: ToolMetadata{
			ExecutionTimeMs: float64(time.Since(start).Microseconds()) / 1000,
		},
	}
	resp.Metadata.RuleVersion, _ = decision.Metadata["ruleVersion"].(string)

	if s.recorder != nil {
		rec, err := audit.NewRecord(ruleName, input, decision)
		if err == nil {
			err = s.recorder.Record(r.Context(), rec)
		}
		if err != nil {
			logger.Warn("failed to audit decision", "rule", ruleName, "error", err)
		} else {
			resp.Metadata.AuditID = rec.ID
		}
	}

	respondJSON(w, http.StatusOK, resp)
}

func (s *Server) handleListWorkflows(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, WorkflowsListResponse{Workflows: s.catalog.List()})
}

func (s *Server) handleGetWorkflow(w http.ResponseWriter, r *http.Request) {
	entry, err := s.catalog.Get(chi.URLParam(r, "workflowName"))
	if err != nil {
		respondError(w, http.StatusNotFound, err.Error(), nil)
		return
	}
	respondJSON(w, http.StatusOK, workflow.SpecOf(entry.Definition, entry.FoldName))
}

// handleExecuteWorkflow runs a catalog workflow. A failed run answers 422
// with the same body shape as a successful one.
func (s *Server) handleExecuteWorkflow(w http.ResponseWriter, r *http.Request) {
	entry, err := s.catalog.Get(chi.URLParam(r, "workflowName"))
	if err != nil {
		respondError(w, http.StatusNotFound, err.Error(), nil)
		return
	}

	input, ok := decodeInput(w, r)
	if !ok {
		return
	}

	res, err := s.orchestrator.Execute(r.Context(), entry.Definition, input, entry.Fold)
	if res == nil {
		respondError(w, http.StatusBadRequest, err.Error(), nil)
		return
	}

	resp := WorkflowResponse{
		Success:   res.Status != workflow.RunFailed,
		RunID:     res.RunID,
		Status:    res.Status,
		Results:   res.Steps,
		Aggregate: res.Aggregate,
		Metadata: WorkflowMetadata{
			Workflow:        res.Workflow,
			Version:         res.Version,
			ExecutionTimeMs: res.DurationMs,
		},
	}
	if err != nil {
		resp.Error = err.Error()
		respondJSON(w, http.StatusUnprocessableEntity, resp)
		return
	}
	respondJSON(w, http.StatusOK, resp)
}

// handleCreateRule stores and registers a CEL expression rule
func (s *Server) handleCreateRule(w http.ResponseWriter, r *http.Request) {
	var spec rules.ExpressionSpec
	if err := json.NewDecoder(r.Body).Decode(&spec); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", nil)
		return
	}

	if err := s.addExpressionRule(spec); err != nil {
		var dup *rules.DuplicateRuleError
		if errors.As(err, &dup) {
			respondError(w, http.StatusConflict, err.Error(), nil)
			return
		}
		respondError(w, http.StatusBadRequest, err.Error(), nil)
		return
	}

	respondJSON(w, http.StatusCreated, CreateRuleResponse{
		Name:    spec.Name,
		Version: spec.Version,
		Active:  spec.Active,
		Checks:  len(spec.Checks),
	})
}

// handleActivateRule pins the version served for a rule. A stored inactive
// expression rule is registered first and marked active in the store.
func (s *Server) handleActivateRule(w http.ResponseWriter, r *http.Request) {
	name, version := chi.URLParam(r, "name"), chi.URLParam(r, "version")
	if err := s.activateRule(name, version); err != nil {
		var notFound *rules.RuleNotFoundError
		if errors.As(err, &notFound) {
			respondError(w, http.StatusNotFound, err.Error(), nil)
			return
		}
		logger.Error("failed to activate rule", "rule", name, "version", version, "error", err)
		respondError(w, http.StatusInternalServerError, "failed to activate rule", nil)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleDeleteRule removes a stored expression rule. Built-in tools are not
// stored and cannot be deleted.
func (s *Server) handleDeleteRule(w http.ResponseWriter, r *http.Request) {
	name, version := chi.URLParam(r, "name"), chi.URLParam(r, "version")
	if err := s.specs.Delete(name, version); err != nil {
		respondError(w, http.StatusNotFound, err.Error(), nil)
		return
	}
	if err := s.registry.Unregister(name, version); err != nil {
		logger.Warn("stored rule was not registered", "rule", name, "version", version, "error", err)
	}
	w.WriteHeader(http.StatusNoContent)
}

// addExpressionRule compiles spec, persists it and registers it when active
func (s *Server) addExpressionRule(spec rules.ExpressionSpec) error {
	compiled, err := rules.CompileExpressionRule(s.env, spec)
	if err != nil {
		return err
	}
	if err := s.specs.Add(&spec); err != nil {
		return err
	}
	if !spec.Active {
		return nil
	}
	if err := s.registry.Register(compiled); err != nil {
		if delErr := s.specs.Delete(spec.Name, spec.Version); delErr != nil {
			logger.Warn("failed to roll back stored rule", "rule", spec.Name, "version", spec.Version, "error", delErr)
		}
		return err
	}
	return nil
}

// syncExpressionRule upserts a rules file spec. The file wins over a stored
// copy of the same version, and the registry is brought in line with its
// active flag.
func (s *Server) syncExpressionRule(spec rules.ExpressionSpec) error {
	compiled, err := rules.CompileExpressionRule(s.env, spec)
	if err != nil {
		return err
	}

	_, err = s.specs.Get(spec.Name, spec.Version)
	stored := err == nil
	var notFound *rules.RuleNotFoundError
	if !stored && !errors.As(err, &notFound) {
		return err
	}
	registered := s.registry.Has(spec.Name, spec.Version)
	if !stored && registered {
		return &rules.DuplicateRuleError{Name: spec.Name, Version: spec.Version}
	}

	if stored {
		err = s.specs.Update(&spec)
	} else {
		err = s.specs.Add(&spec)
	}
	if err != nil {
		return err
	}

	if registered {
		if err := s.registry.Unregister(spec.Name, spec.Version); err != nil {
			return err
		}
	}
	if !spec.Active {
		return nil
	}
	return s.registry.Register(compiled)
}

// activateRule pins name@version. Stored expression rules are registered on
// demand and persisted as active; built-in tools only need the pin.
func (s *Server) activateRule(name, version string) error {
	stored, err := s.specs.Get(name, version)
	if err != nil {
		var notFound *rules.RuleNotFoundError
		if !errors.As(err, &notFound) {
			return err
		}
		return s.registry.SetActive(name, version)
	}

	if !s.registry.Has(name, version) {
		compiled, err := rules.CompileExpressionRule(s.env, *stored)
		if err != nil {
			return err
		}
		if err := s.registry.Register(compiled); err != nil {
			return err
		}
	}
	if !stored.Active {
		updated := *stored
		updated.Active = true
		if err := s.specs.Update(&updated); err != nil {
			return err
		}
	}
	return s.registry.SetActive(name, version)
}

func decodeInput(w http.ResponseWriter, r *http.Request) (rules.Input, bool) {
	var input rules.Input
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		respondError(w, http.StatusBadRequest, "request body must be a JSON object", nil)
		return nil, false
	}
	if input == nil {
		input = rules.Input{}
	}
	return input, true
}

// respondRuleError maps registry errors onto the tool response contract
func respondRuleError(w http.ResponseWriter, err error) {
	var notFound *rules.RuleNotFoundError
	var validation *rules.ValidationError
	var execErr *rules.RuleExecutionError
	switch {
	case errors.As(err, &notFound):
		respondError(w, http.StatusNotFound, err.Error(), nil)
	case errors.As(err, &validation):
		respondError(w, http.StatusBadRequest, err.Error(), validation.Details())
	case errors.As(err, &execErr):
		respondError(w, http.StatusUnprocessableEntity, err.Error(), nil)
	default:
		logger.Error("rule execution failed", "error", err)
		respondError(w, http.StatusInternalServerError, "internal error", nil)
	}
}

func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		logger.Warn("failed to encode response", "error", err)
	}
}

func respondError(w http.ResponseWriter, status int, message string, errs []string) {
	respondJSON(w, status, ErrorResponse{Success: false, Error: message, Errors: errs})
}

func openDB(url string) (*sql.DB, error) {
	db, err := sql.Open("postgres", url)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return db, nil
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("invalid configuration", "error", err)
	}

	var db *sql.DB
	if cfg.DatabaseURL != "" {
		if db, err = openDB(cfg.DatabaseURL); err != nil {
			logger.Fatal("database unavailable", "error", err)
		}
		defer db.Close()
	}

	server, err := NewServer(cfg, db)
	if err != nil {
		logger.Fatal("failed to create server", "error", err)
	}

	httpServer := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      server,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: cfg.RequestTimeout + 5*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("server starting", "port", cfg.Port)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server failed to start", "error", err)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	logger.Info("shutting down server")
	ctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := httpServer.Shutdown(ctx); err != nil {
		logger.Error("server shutdown error", "error", err)
	}
	if err := logger.Shutdown(ctx); err != nil {
		logger.Error("logger shutdown error", "error", err)
	}
	logger.Info("server stopped")
}
