// Package config loads server settings from the environment and rule and
// workflow definitions from YAML files.
package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/liamcoop/leadscore/rules"
	"github.com/liamcoop/leadscore/tools"
	"github.com/liamcoop/leadscore/workflow"
	"gopkg.in/yaml.v3"
)

const (
	defaultPort            = "8080"
	defaultRequestTimeout  = 60 * time.Second
	defaultShutdownTimeout = 30 * time.Second
)

// Config holds the runtime settings of the server
type Config struct {
	// DatabaseURL enables the Postgres spec store and audit trail when set
	DatabaseURL     string
	Port            string
	RulesFile       string
	WorkflowsFile   string
	AuditEnabled    bool
	RequestTimeout  time.Duration
	ShutdownTimeout time.Duration
}

// Load reads the configuration from the process environment
func Load() (*Config, error) {
	return load(os.Getenv)
}

func load(getenv func(string) string) (*Config, error) {
	c := &Config{
		DatabaseURL:     strings.TrimSpace(getenv("DATABASE_URL")),
		Port:            getenv("PORT"),
		RulesFile:       getenv("RULES_FILE"),
		WorkflowsFile:   getenv("WORKFLOWS_FILE"),
		RequestTimeout:  defaultRequestTimeout,
		ShutdownTimeout: defaultShutdownTimeout,
	}
	if c.Port == "" {
		c.Port = defaultPort
	}
	if _, err := strconv.Atoi(c.Port); err != nil {
		return nil, fmt.Errorf("PORT must be numeric, got %q", c.Port)
	}

	c.AuditEnabled = c.DatabaseURL != ""
	if s := getenv("AUDIT_ENABLED"); s != "" {
		v, err := strconv.ParseBool(s)
		if err != nil {
			return nil, fmt.Errorf("AUDIT_ENABLED: %w", err)
		}
		c.AuditEnabled = v
	}

	var err error
	if c.RequestTimeout, err = duration(getenv, "REQUEST_TIMEOUT", defaultRequestTimeout); err != nil {
		return nil, err
	}
	if c.ShutdownTimeout, err = duration(getenv, "SHUTDOWN_TIMEOUT", defaultShutdownTimeout); err != nil {
		return nil, err
	}
	return c, nil
}

func duration(getenv func(string) string, key string, def time.Duration) (time.Duration, error) {
	s := getenv(key)
	if s == "" {
		return def, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("%s must be positive, got %s", key, s)
	}
	return d, nil
}

// RulesFile is the YAML document named by RULES_FILE
type RulesFile struct {
	// Tools overrides weights, bands and versions of the built-in tools
	Tools tools.Config `yaml:"tools"`
	// Expressions are CEL-defined rules registered next to the built-ins
	Expressions []rules.ExpressionSpec `yaml:"expressions"`
}

// LoadRulesFile reads a rules file. A missing path yields an empty file.
func LoadRulesFile(path string) (*RulesFile, error) {
	f := &RulesFile{}
	if path == "" {
		return f, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read rules file: %w", err)
	}
	if err := yaml.Unmarshal(data, f); err != nil {
		return nil, fmt.Errorf("failed to parse rules file %s: %w", path, err)
	}
	return f, nil
}

// LoadWorkflowsFile reads the workflow specs named by WORKFLOWS_FILE
func LoadWorkflowsFile(path string) ([]workflow.Spec, error) {
	if path == "" {
		return nil, nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open workflows file: %w", err)
	}
	defer f.Close()

	specs, err := workflow.DecodeSpecs(f)
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return specs, nil
}
