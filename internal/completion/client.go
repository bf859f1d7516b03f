package completion

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"
)

const (
	defaultBaseURL = "https://api.openai.com/v1"
	defaultModel   = "gpt-4o-mini"
	defaultTimeout = 60 * time.Second
	temperature    = 0.7
)

var errCallerCanceled = errors.New("caller canceled")

// Client issues chat completion requests with a fixed model and sampling
// temperature. Each call is a single attempt bounded by the client timeout.
type Client struct {
	httpClient *http.Client
	apiKey     string
	baseURL    string
	model      string
	timeout    time.Duration
	logger     *slog.Logger
	breaker    *gobreaker.CircuitBreaker[string]
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) { cl.httpClient = c }
}

// WithBaseURL overrides the API base URL (everything before /chat/completions).
func WithBaseURL(url string) Option {
	return func(cl *Client) {
		if url != "" {
			cl.baseURL = url
		}
	}
}

// WithModel overrides the model identifier.
func WithModel(model string) Option {
	return func(cl *Client) {
		if model != "" {
			cl.model = model
		}
	}
}

// WithTimeout bounds every completion call.
func WithTimeout(d time.Duration) Option {
	return func(cl *Client) {
		if d > 0 {
			cl.timeout = d
		}
	}
}

// WithLogger sets a structured logger for the client.
func WithLogger(l *slog.Logger) Option {
	return func(cl *Client) {
		if l != nil {
			cl.logger = l
		}
	}
}

// NewClient creates a completion client.
func NewClient(apiKey string, opts ...Option) *Client {
	c := &Client{
		httpClient: &http.Client{},
		apiKey:     apiKey,
		baseURL:    defaultBaseURL,
		model:      defaultModel,
		timeout:    defaultTimeout,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}

	c.breaker = gobreaker.NewCircuitBreaker[string](gobreaker.Settings{
		Name:        "completion-" + c.model,
		MaxRequests: 1,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			c.logger.Warn("completion circuit breaker state change",
				"breaker", name,
				"from", from.String(),
				"to", to.String(),
			)
		},
		IsSuccessful: func(err error) bool {
			return !countsAsOutage(err)
		},
	})
	return c
}

// Model returns the model identifier sent with every request.
func (c *Client) Model() string {
	return c.model
}

// Complete sends the system prompt followed by the history and returns the
// first choice's text, or req.Fallback when the provider returns none.
func (c *Client) Complete(ctx context.Context, req Request) (string, error) {
	text, err := c.breaker.Execute(func() (string, error) {
		return c.do(ctx, req)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return "", ErrCircuitOpen
	}
	if errors.Is(err, errCallerCanceled) {
		return "", ctx.Err()
	}
	if err != nil {
		return "", err
	}
	if text == "" {
		return req.Fallback, nil
	}
	return text, nil
}

func (c *Client) do(ctx context.Context, req Request) (string, error) {
	messages := make([]Message, 0, len(req.History)+1)
	messages = append(messages, Message{Role: "system", Content: req.System})
	messages = append(messages, req.History...)

	body, err := json.Marshal(chatRequest{
		Model:       c.model,
		Messages:    messages,
		MaxTokens:   req.MaxTokens,
		Temperature: temperature,
	})
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	callCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(callCtx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return "", fmt.Errorf("%w: %w", errCallerCanceled, ctx.Err())
		}
		if errors.Is(err, context.DeadlineExceeded) {
			return "", &ProviderError{Kind: KindTimeout, Message: fmt.Sprintf("no response within %s", c.timeout), Err: err}
		}
		return "", &ProviderError{Kind: KindUnknown, Message: err.Error(), Err: err}
	}
	defer func() {
		if closeErr := resp.Body.Close(); closeErr != nil {
			c.logger.Debug("failed to close completion response body", "error", closeErr)
		}
	}()

	if resp.StatusCode != http.StatusOK {
		return "", classifyHTTPError(resp)
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return "", &ProviderError{Kind: KindTimeout, Message: "reading response body", Err: err}
		}
		return "", &ProviderError{Kind: KindMalformed, Message: fmt.Sprintf("read response body: %v", err), Err: err}
	}

	var parsed chatResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return "", &ProviderError{Kind: KindMalformed, Message: fmt.Sprintf("parse response JSON: %v", err), Err: err}
	}

	c.logger.Debug("completion finished",
		"model", c.model,
		"messages", len(messages),
		"duration", time.Since(start),
	)
	return parsed.text(), nil
}
