package enrich

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/faultline/faultline/pkg/config"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestBuildPromptLimitsStackLines(t *testing.T) {
	stack := strings.Join([]string{"l1", "l2", "l3", "l4", "l5", "l6", "l7"}, "\n")
	prompt := BuildPrompt("boom", stack)

	if !strings.Contains(prompt, "Error: boom") {
		t.Fatalf("expected message in prompt:\n%s", prompt)
	}
	if !strings.Contains(prompt, "l5") {
		t.Fatalf("expected fifth stack line in prompt")
	}
	if strings.Contains(prompt, "l6") {
		t.Fatalf("expected prompt to drop lines past the fifth")
	}
}

func TestBuildPromptOmitsEmptyStack(t *testing.T) {
	prompt := BuildPrompt("boom", "")
	if strings.Contains(prompt, "Stack Trace") {
		t.Fatalf("expected no stack section for empty trace:\n%s", prompt)
	}
}

func TestSummarizeRequiresAPIKey(t *testing.T) {
	svc := New(testLogger(), config.APIConfig{})
	if _, err := svc.Summarize(context.Background(), "boom", ""); !errors.Is(err, errNoAPIKey) {
		t.Fatalf("expected errNoAPIKey, got %v", err)
	}
}

func TestSummarizeParsesChoice(t *testing.T) {
	var gotAuth string
	var gotReq chatRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		if err := json.NewDecoder(r.Body).Decode(&gotReq); err != nil {
			t.Errorf("decode request: %v", err)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{
				{"message": map[string]any{"content": "  nil map write in handler  "}},
			},
		})
	}))
	defer srv.Close()

	svc := New(testLogger(), config.APIConfig{
		AIEndpoint:  srv.URL,
		AIAPIKey:    "test-key",
		AIModel:     "test-model",
		AIMaxTokens: 150,
	})

	summary, err := svc.Summarize(context.Background(), "boom", "at main.go:42")
	if err != nil {
		t.Fatalf("Summarize returned error: %v", err)
	}
	if summary != "nil map write in handler" {
		t.Fatalf("expected trimmed summary, got %q", summary)
	}
	if gotAuth != "Bearer test-key" {
		t.Fatalf("expected bearer auth, got %q", gotAuth)
	}
	if gotReq.Model != "test-model" || gotReq.MaxTokens != 150 {
		t.Fatalf("unexpected request parameters: %+v", gotReq)
	}
	if len(gotReq.Messages) != 2 || gotReq.Messages[0].Role != "system" {
		t.Fatalf("expected system+user messages, got %+v", gotReq.Messages)
	}
	if !strings.Contains(gotReq.Messages[1].Content, "Error: boom") {
		t.Fatalf("expected prompt in user message")
	}
}

func TestSummarizeFailsOnAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	svc := New(testLogger(), config.APIConfig{AIEndpoint: srv.URL, AIAPIKey: "test-key"})
	if _, err := svc.Summarize(context.Background(), "boom", ""); err == nil {
		t.Fatalf("expected error on non-2xx status")
	}
}

func TestSummarizeFailsOnEmptyChoices(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"choices": []any{}})
	}))
	defer srv.Close()

	svc := New(testLogger(), config.APIConfig{AIEndpoint: srv.URL, AIAPIKey: "test-key"})
	if _, err := svc.Summarize(context.Background(), "boom", ""); err == nil {
		t.Fatalf("expected error when no choices returned")
	}
}
