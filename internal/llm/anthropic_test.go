package llm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestAnthropicClient_Complete(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/messages" {
			t.Errorf("path = %q, want /v1/messages", r.URL.Path)
		}
		if r.Header.Get("x-api-key") != "k" {
			t.Errorf("x-api-key = %q", r.Header.Get("x-api-key"))
		}
		var body anthropicRequest
		json.NewDecoder(r.Body).Decode(&body)
		if len(body.Messages) != 1 || body.Messages[0].Content != "hi" {
			t.Errorf("messages = %+v", body.Messages)
		}
		w.Write([]byte(`{"model":"m","content":[{"type":"text","text":"hello "},{"type":"text","text":"world"}]}`))
	}))
	defer srv.Close()

	c := NewAnthropicClient("k", WithBaseURL(srv.URL))
	got, err := c.Complete(context.Background(), "hi")
	if err != nil {
		t.Fatalf("Complete() error = %v", err)
	}
	if got != "hello world" {
		t.Errorf("Complete() = %q, want %q", got, "hello world")
	}
}

func TestAnthropicClient_RateLimited(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	_, err := NewAnthropicClient("k", WithBaseURL(srv.URL)).Complete(context.Background(), "hi")
	if !errors.Is(err, ErrRateLimited) {
		t.Fatalf("Complete() error = %v, want ErrRateLimited", err)
	}
	var pe *ProviderError
	if !errors.As(err, &pe) || pe.Status != http.StatusTooManyRequests {
		t.Errorf("ProviderError = %+v", pe)
	}
}

func TestExtractJSON(t *testing.T) {
	tests := []struct {
		in, want string
		ok       bool
	}{
		{"```json\n{\"score\": 80}\n```", `{"score": 80}`, true},
		{`Sure! {"a": {"b": "}"}} trailing`, `{"a": {"b": "}"}}`, true},
		{"no json here", "", false},
		{`{"open": true`, "", false},
	}
	for _, tt := range tests {
		got, ok := ExtractJSON(tt.in)
		if ok != tt.ok || got != tt.want {
			t.Errorf("ExtractJSON(%q) = %q, %v; want %q, %v", tt.in, got, ok, tt.want, tt.ok)
		}
	}
}
