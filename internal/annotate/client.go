package annotate

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"google.golang.org/genai"

	"github.com/skobkin/llmsim-web/internal/sim"
)

// ClientConfig configures the Gemini client.
type ClientConfig struct {
	Endpoint       string
	APIKey         string
	TrainingModel  string
	InferenceModel string
	CompareModel   string
	Timeout        time.Duration
	// Retry applies to rate-limited calls. The zero value means DefaultRetryPolicy.
	Retry RetryPolicy
}

// Client asks a Gemini model for step annotations and memory comparisons.
type Client struct {
	cfg   ClientConfig
	genai *genai.Client
}

// NewClient creates a client. An empty endpoint targets the public API.
func NewClient(cfg ClientConfig) (*Client, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, fmt.Errorf("api key is required")
	}
	cfg.Endpoint = strings.TrimRight(cfg.Endpoint, "/")
	if cfg.TrainingModel == "" {
		cfg.TrainingModel = "gemini-3-pro-preview"
	}
	if cfg.InferenceModel == "" {
		cfg.InferenceModel = "gemini-3-flash-preview"
	}
	if cfg.CompareModel == "" {
		cfg.CompareModel = "gemini-3-flash-preview"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	if cfg.Retry == (RetryPolicy{}) {
		cfg.Retry = DefaultRetryPolicy
	}

	// The context is only consulted for credential discovery, which an API
	// key bypasses.
	gc, err := genai.NewClient(context.Background(), &genai.ClientConfig{
		APIKey:      cfg.APIKey,
		Backend:     genai.BackendGeminiAPI,
		HTTPClient:  &http.Client{Timeout: cfg.Timeout},
		HTTPOptions: genai.HTTPOptions{BaseURL: cfg.Endpoint},
	})
	if err != nil {
		return nil, fmt.Errorf("create genai client: %w", err)
	}
	return &Client{cfg: cfg, genai: gc}, nil
}

// Annotate asks the model for a one-line log message describing a step.
func (c *Client) Annotate(ctx context.Context, mode sim.Mode, step int) (string, error) {
	model := c.cfg.InferenceModel
	prompt := fmt.Sprintf("You are an AI Inference Engine. Generate a one-sentence technical log for generating token #%d. Mention KV cache, attention mechanism, or sampling temperature. Return ONLY the log message.", step)
	if mode == sim.ModeTraining {
		model = c.cfg.TrainingModel
		prompt = fmt.Sprintf("You are an AI Training System Monitor. Generate a one-sentence technical log for step %d of training a 70B parameter LLM. Mention things like gradients, backpropagation, optimizer states (AdamW), or loss convergence. Return ONLY the log message.", step)
	}
	return Retry(ctx, c.cfg.Retry, func(ctx context.Context) (string, error) {
		return c.generate(ctx, model, prompt)
	})
}

// CompareView asks the model for three bullet points on memory usage.
func (c *Client) CompareView(ctx context.Context, training bool) (string, error) {
	kind, focus := "Inference", "KV Cache and weights"
	if training {
		kind, focus = "Training", "Optimizer states and Gradients"
	}
	prompt := fmt.Sprintf("Explain the primary difference in GPU memory usage between LLM %s. Focus on %s. Keep it to 3 short bullet points.", kind, focus)
	return Retry(ctx, c.cfg.Retry, func(ctx context.Context) (string, error) {
		return c.generate(ctx, c.cfg.CompareModel, prompt)
	})
}

// RetryPolicy returns the effective retry policy.
func (c *Client) RetryPolicy() RetryPolicy {
	return c.cfg.Retry
}

func (c *Client) generate(ctx context.Context, model, prompt string) (string, error) {
	resp, err := c.genai.Models.GenerateContent(ctx, model, genai.Text(prompt), nil)
	if err != nil {
		return "", statusError(err)
	}
	return strings.TrimSpace(resp.Text()), nil
}

// statusError converts API failures to *StatusError so callers do not depend
// on the SDK error types.
func statusError(err error) error {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return &StatusError{Code: apiErr.Code, Message: apiErr.Message}
	}
	var apiErrPtr *genai.APIError
	if errors.As(err, &apiErrPtr) && apiErrPtr != nil {
		return &StatusError{Code: apiErrPtr.Code, Message: apiErrPtr.Message}
	}
	return fmt.Errorf("generate content: %w", err)
}
