package completion

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/cory-johannsen/officeverse/internal/config"
)

// ProviderAnthropic names the Anthropic Messages API provider.
const ProviderAnthropic = "anthropic"

var (
	// ErrInvalidKey is returned when the provider rejects the API key.
	ErrInvalidKey = errors.New("invalid API key")
	// ErrRateLimited is returned when the provider throttles the request.
	ErrRateLimited = errors.New("rate limit exceeded, try again later")
)

// Anthropic completes prompts with the Anthropic Messages API.
type Anthropic struct {
	model     string
	maxTokens int64
	baseURL   string
	timeout   time.Duration
}

// NewAnthropic creates an Anthropic completer from cfg.
//
// Precondition: cfg.Model must be non-empty and cfg.MaxTokens positive.
func NewAnthropic(cfg config.CompletionConfig) *Anthropic {
	return &Anthropic{
		model:     cfg.Model,
		maxTokens: cfg.MaxTokens,
		baseURL:   cfg.BaseURL,
		timeout:   cfg.Timeout,
	}
}

// Name returns ProviderAnthropic.
func (a *Anthropic) Name() string { return ProviderAnthropic }

// Model returns the configured model id.
func (a *Anthropic) Model() string { return a.model }

// Complete sends prompt as a single user turn and returns the concatenated
// text blocks of the reply. A client is built per call because the key can
// change at runtime.
func (a *Anthropic) Complete(ctx context.Context, apiKey, prompt string) (string, error) {
	opts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithMaxRetries(1),
	}
	if a.baseURL != "" {
		opts = append(opts, option.WithBaseURL(a.baseURL))
	}
	if a.timeout > 0 {
		opts = append(opts, option.WithRequestTimeout(a.timeout))
	}
	client := anthropic.NewClient(opts...)

	msg, err := client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(a.model),
		MaxTokens: a.maxTokens,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	})
	if err != nil {
		return "", classify(err)
	}

	var b strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			b.WriteString(block.Text)
		}
	}
	return strings.TrimSpace(b.String()), nil
}

func classify(err error) error {
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		switch apiErr.StatusCode {
		case http.StatusUnauthorized, http.StatusForbidden:
			return ErrInvalidKey
		case http.StatusTooManyRequests:
			return ErrRateLimited
		}
		return fmt.Errorf("completion request failed with status %d: %w", apiErr.StatusCode, err)
	}
	return fmt.Errorf("completion request failed: %w", err)
}
