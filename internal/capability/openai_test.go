package capability

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"
)

func chatServer(t *testing.T, handler http.HandlerFunc) *httptest.Server {
	t.Helper()
	ts := httptest.NewServer(handler)
	t.Cleanup(ts.Close)
	return ts
}

func TestOpenAIInvoke(t *testing.T) {
	var gotReq chatRequest
	ts := chatServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if auth := r.Header.Get("Authorization"); auth != "Bearer test-key" {
			t.Errorf("unexpected auth header %q", auth)
		}
		if err := json.NewDecoder(r.Body).Decode(&gotReq); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		json.NewEncoder(w).Encode(map[string]interface{}{
			"id":    "cmpl-1",
			"model": "test-model",
			"choices": []map[string]interface{}{
				{"message": map[string]string{"role": "assistant", "content": "the review"}, "finish_reason": "stop"},
			},
			"usage": map[string]int{"prompt_tokens": 10, "completion_tokens": 5, "total_tokens": 15},
		})
	})

	c := NewOpenAICapability(Config{
		ID: "test", Endpoint: ts.URL, APIKey: "test-key", Model: "test-model",
	}, zap.NewNop())

	res, err := c.Invoke(context.Background(), &Invocation{
		Role:           "Senior Code Reviewer",
		Goal:           "review code",
		Backstory:      "meticulous",
		Instructions:   "review /repo",
		ExpectedOutput: "a review",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Output != "the review" {
		t.Errorf("got %q, want %q", res.Output, "the review")
	}
	if res.Usage.TotalTokens != 15 {
		t.Errorf("usage not propagated: %+v", res.Usage)
	}

	if len(gotReq.Messages) != 2 {
		t.Fatalf("got %d messages, want 2", len(gotReq.Messages))
	}
	if gotReq.Messages[0].Role != "system" || !strings.Contains(gotReq.Messages[0].Content, "Senior Code Reviewer") {
		t.Errorf("system message missing role identity: %+v", gotReq.Messages[0])
	}
	if !strings.Contains(gotReq.Messages[1].Content, "review /repo") ||
		!strings.Contains(gotReq.Messages[1].Content, "a review") {
		t.Errorf("user message missing instructions or expected output: %+v", gotReq.Messages[1])
	}
}

func TestOpenAIInvokeAPIError(t *testing.T) {
	ts := chatServer(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"overloaded"}`, http.StatusServiceUnavailable)
	})

	c := NewOpenAICapability(Config{ID: "test", Endpoint: ts.URL}, zap.NewNop())
	_, err := c.Invoke(context.Background(), &Invocation{Instructions: "x"})
	if !errors.Is(err, ErrInvocation) {
		t.Errorf("got %v, want ErrInvocation", err)
	}
}

func TestOpenAIInvokeEmptyChoices(t *testing.T) {
	ts := chatServer(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{"choices": []interface{}{}})
	})

	c := NewOpenAICapability(Config{ID: "test", Endpoint: ts.URL}, zap.NewNop())
	_, err := c.Invoke(context.Background(), &Invocation{Instructions: "x"})
	if !errors.Is(err, ErrInvocation) {
		t.Errorf("got %v, want ErrInvocation", err)
	}
}

func TestOpenAIInvokeTimeout(t *testing.T) {
	ts := chatServer(t, func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	})

	c := NewOpenAICapability(Config{ID: "test", Endpoint: ts.URL}, zap.NewNop())
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err := c.Invoke(ctx, &Invocation{Instructions: "x"})
	if !errors.Is(err, ErrTimeout) {
		t.Errorf("got %v, want ErrTimeout", err)
	}
}
