package enrich

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"log/slog"

	"github.com/faultline/faultline/pkg/config"
)

// maxStackLines caps how much of the stack trace reaches the prompt so a
// deep trace cannot blow up the token budget.
const maxStackLines = 5

const systemInstruction = "You are a helpful assistant that analyzes software errors. " +
	"Provide a concise technical summary of what went wrong, followed by 1-2 actionable " +
	"solutions or fixes. Keep it brief and developer-focused."

// Service produces AI summaries for ingested errors by calling an external
// chat-completion API. Every call is best-effort; callers treat a returned
// error as "no summary".
type Service struct {
	client   *http.Client
	endpoint string
	apiKey   string
	model    string
	maxTok   int
	logger   *slog.Logger
}

// New returns an enrichment service configured from cfg.
func New(logger *slog.Logger, cfg config.APIConfig) Service {
	timeout := cfg.AITimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return Service{
		client:   &http.Client{Timeout: timeout},
		endpoint: cfg.AIEndpoint,
		apiKey:   cfg.AIAPIKey,
		model:    cfg.AIModel,
		maxTok:   cfg.AIMaxTokens,
		logger:   logger,
	}
}

var errNoAPIKey = errors.New("enrichment API key not configured")

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens"`
	Temperature float64       `json:"temperature"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

// Summarize asks the model for a short analysis of the error. The returned
// text is stored opaquely; no schema is assumed.
func (s Service) Summarize(ctx context.Context, message, stackTrace string) (string, error) {
	if s.apiKey == "" {
		return "", errNoAPIKey
	}
	body, err := json.Marshal(chatRequest{
		Model: s.model,
		Messages: []chatMessage{
			{Role: "system", Content: systemInstruction},
			{Role: "user", Content: BuildPrompt(message, stackTrace)},
		},
		MaxTokens:   s.maxTok,
		Temperature: 0.7,
	})
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+s.apiKey)

	resp, err := s.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("enrichment API returned %s", resp.Status)
	}
	var parsed chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", err
	}
	if len(parsed.Choices) == 0 {
		return "", errors.New("enrichment API returned no choices")
	}
	summary := strings.TrimSpace(parsed.Choices[0].Message.Content)
	if summary == "" {
		return "", errors.New("enrichment API returned empty content")
	}
	return summary, nil
}

// BuildPrompt assembles the user prompt: the full message plus at most the
// first five stack trace lines.
func BuildPrompt(message, stackTrace string) string {
	var sb strings.Builder
	sb.WriteString("Analyze this error and provide a concise technical summary:\n")
	sb.WriteString("Error: ")
	sb.WriteString(message)
	sb.WriteString("\n")
	if stackTrace != "" {
		lines := strings.Split(stackTrace, "\n")
		if len(lines) > maxStackLines {
			lines = lines[:maxStackLines]
		}
		sb.WriteString("Stack Trace (partial): ")
		sb.WriteString(strings.Join(lines, "\n"))
		sb.WriteString("\n")
	}
	return sb.String()
}
