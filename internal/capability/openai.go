package capability

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// OpenAICapability implements Capability against an OpenAI-compatible
// chat-completions endpoint.
type OpenAICapability struct {
	config Config
	client *http.Client
	logger *zap.Logger
}

// NewOpenAICapability creates a capability backed by an OpenAI-compatible API.
func NewOpenAICapability(cfg Config, logger *zap.Logger) *OpenAICapability {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 120 * time.Second
	}
	if cfg.Endpoint == "" {
		cfg.Endpoint = "https://api.openai.com/v1"
	}
	return &OpenAICapability{
		config: cfg,
		client: &http.Client{Timeout: timeout},
		logger: logger,
	}
}

func (c *OpenAICapability) ID() string   { return c.config.ID }
func (c *OpenAICapability) Name() string { return c.config.Name }

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
}

type chatResponse struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Choices []struct {
		Message      chatMessage `json:"message"`
		FinishReason string      `json:"finish_reason"`
	} `json:"choices"`
	Usage Usage `json:"usage"`
}

// Invoke sends a single non-streaming chat request. The worker's identity
// goes into the system message; the composed instructions and the expected
// output contract go into the user message.
func (c *OpenAICapability) Invoke(ctx context.Context, inv *Invocation) (*Result, error) {
	req := chatRequest{
		Model: c.config.Model,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt(inv)},
			{Role: "user", Content: userPrompt(inv)},
		},
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.config.Endpoint+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.config.APIKey)

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, classify(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("%w: API error %d: %s", ErrInvocation, resp.StatusCode, string(respBody))
	}

	var chat chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&chat); err != nil {
		return nil, fmt.Errorf("%w: decode response: %v", ErrInvocation, err)
	}
	if len(chat.Choices) == 0 {
		return nil, fmt.Errorf("%w: empty response", ErrInvocation)
	}

	return &Result{
		Output: chat.Choices[0].Message.Content,
		Model:  chat.Model,
		Usage:  chat.Usage,
	}, nil
}

// HealthCheck verifies the endpoint is reachable.
func (c *OpenAICapability) HealthCheck(ctx context.Context) error {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet,
		c.config.Endpoint+"/models", nil)
	if err != nil {
		return err
	}
	httpReq.Header.Set("Authorization", "Bearer "+c.config.APIKey)

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return err
	}
	resp.Body.Close()
	return nil
}

// classify maps transport errors to the capability error taxonomy so the
// executor can distinguish timeouts from other invocation failures.
func classify(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}
	var netErr interface{ Timeout() bool }
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}
	return fmt.Errorf("%w: %v", ErrInvocation, err)
}

func systemPrompt(inv *Invocation) string {
	return fmt.Sprintf("You are %s.\nYour goal: %s\nBackground: %s",
		inv.Role, inv.Goal, inv.Backstory)
}

func userPrompt(inv *Invocation) string {
	if inv.ExpectedOutput == "" {
		return inv.Instructions
	}
	return fmt.Sprintf("%s\n\nExpected output:\n%s", inv.Instructions, inv.ExpectedOutput)
}
