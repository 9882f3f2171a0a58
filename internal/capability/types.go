package capability

import (
	"context"
	"errors"
	"time"
)

// Capability is the opaque worker capability consumed by the executor. It
// accepts a role-bound instruction set and returns free-form text. The core
// assumes nothing about streaming, retries, or latency.
type Capability interface {
	ID() string
	Name() string
	Invoke(ctx context.Context, inv *Invocation) (*Result, error)
	HealthCheck(ctx context.Context) error
}

// Invocation carries everything a worker needs for one task.
type Invocation struct {
	Role           string `json:"role"`
	Goal           string `json:"goal"`
	Backstory      string `json:"backstory"`
	Instructions   string `json:"instructions"`
	ExpectedOutput string `json:"expected_output"`
}

// Result is a worker's raw output for one invocation.
type Result struct {
	Output string `json:"output"`
	Model  string `json:"model,omitempty"`
	Usage  Usage  `json:"usage"`
}

// Usage tracks token consumption where the backing capability reports it.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Config holds configuration for a capability instance.
type Config struct {
	ID       string        `json:"id"`
	Type     string        `json:"type"`
	Name     string        `json:"name"`
	Endpoint string        `json:"endpoint"`
	APIKey   string        `json:"api_key"`
	Model    string        `json:"model"`
	Timeout  time.Duration `json:"timeout,omitempty"`
}

var (
	// ErrInvocation classifies a worker capability failure: network error,
	// non-2xx response, or malformed payload.
	ErrInvocation = errors.New("worker invocation failed")

	// ErrTimeout classifies an invocation that exceeded its deadline.
	ErrTimeout = errors.New("worker invocation timed out")
)
