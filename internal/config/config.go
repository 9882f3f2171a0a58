package config

import (
	"encoding/json"
	"fmt"
	"os"
	"regexp"
	"time"
)

// Config is the top-level application configuration.
type Config struct {
	Server       ServerConfig       `json:"server"`
	Pipeline     PipelineConfig     `json:"pipeline"`
	Capabilities []CapabilityConfig `json:"capabilities"`
	Evaluator    EvaluatorConfig    `json:"evaluator"`
	Database     DatabaseConfig     `json:"database"`
	StoreDir     string             `json:"store_dir"`
}

type ServerConfig struct {
	Port     int    `json:"port"`
	LogLevel string `json:"log_level"`
}

// PipelineConfig points at the declarative worker and task definition files.
type PipelineConfig struct {
	ID                 string            `json:"id"`
	WorkersFile        string            `json:"workers_file"`
	TasksFile          string            `json:"tasks_file"`
	TaskTimeoutSeconds int                 `json:"task_timeout_seconds"`
	Bindings           map[string]string   `json:"bindings,omitempty"`  // worker -> capability
	Fallbacks          map[string][]string `json:"fallbacks,omitempty"` // worker -> capability fallback chain
}

type CapabilityConfig struct {
	ID             string `json:"id"`
	Type           string `json:"type"`
	Name           string `json:"name"`
	Endpoint       string `json:"endpoint"`
	APIKey         string `json:"api_key"`
	Model          string `json:"model"`
	TimeoutSeconds int    `json:"timeout_seconds,omitempty"`
}

// EvaluatorConfig selects the capability used as the test-mode judge.
type EvaluatorConfig struct {
	Capability string `json:"capability"`
}

type DatabaseConfig struct {
	Postgres PostgresConfig `json:"postgres"`
}

type PostgresConfig struct {
	DSN string `json:"dsn"`
}

// TaskTimeout returns the per-task invocation timeout, defaulting to two
// minutes.
func (p PipelineConfig) TaskTimeout() time.Duration {
	if p.TaskTimeoutSeconds <= 0 {
		return 2 * time.Minute
	}
	return time.Duration(p.TaskTimeoutSeconds) * time.Second
}

// envVarRe matches ${VAR} and ${VAR:default} patterns.
var envVarRe = regexp.MustCompile(`\$\{(\w+)(?::([^}]*))?\}`)

// Load reads a JSON config file and substitutes environment variable references.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	// Substitute ${VAR} and ${VAR:default} with environment values.
	resolved := envVarRe.ReplaceAllStringFunc(string(data), func(match string) string {
		parts := envVarRe.FindStringSubmatch(match)
		name := parts[1]
		defaultVal := parts[2]
		if v := os.Getenv(name); v != "" {
			return v
		}
		return defaultVal
	})

	var cfg Config
	if err := json.Unmarshal([]byte(resolved), &cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	return &cfg, nil
}
