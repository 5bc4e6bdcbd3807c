// Package completion answers free-text prompts from office zones through an
// external text completion provider. The API key may come from configuration
// or be supplied at runtime; a runtime key takes precedence.
package completion

import (
	"context"
	"errors"
	"strings"
	"sync"
	"unicode/utf8"

	"go.uber.org/zap"
)

var (
	// ErrNotConfigured is returned when no API key is available.
	ErrNotConfigured = errors.New("no API key configured, configure an API key first")
	// ErrEmptyKey is returned by Configure for a blank key.
	ErrEmptyKey = errors.New("API key cannot be empty")
	// ErrUnsupportedProvider is returned by Configure for a provider other than the completer's.
	ErrUnsupportedProvider = errors.New("unsupported provider")
	// ErrEmptyPrompt is returned for a blank prompt.
	ErrEmptyPrompt = errors.New("prompt cannot be empty")
	// ErrPromptTooLong is returned when a prompt exceeds the configured maximum.
	ErrPromptTooLong = errors.New("prompt too long")
)

// Completer produces a reply to prompt using apiKey.
type Completer interface {
	Name() string
	Model() string
	Complete(ctx context.Context, apiKey, prompt string) (string, error)
}

// Status describes the completion service for status endpoints.
type Status struct {
	Available  bool   `json:"available"`
	Configured bool   `json:"configured"`
	Model      string `json:"model"`
	Provider   string `json:"provider"`
}

// Service guards the runtime API key and validates prompts before they
// reach the Completer.
type Service struct {
	completer       Completer
	configuredKey   string
	maxPromptLength int
	logger          *zap.Logger

	mu         sync.RWMutex
	runtimeKey string
}

// NewService creates a Service. configuredKey may be empty.
//
// Precondition: completer and logger must be non-nil; maxPromptLength must be positive.
func NewService(completer Completer, configuredKey string, maxPromptLength int, logger *zap.Logger) *Service {
	return &Service{
		completer:       completer,
		configuredKey:   configuredKey,
		maxPromptLength: maxPromptLength,
		logger:          logger.Named("completion"),
	}
}

// Configure sets the runtime API key. provider may be empty.
//
// Postcondition: On success IsConfigured reports true.
func (s *Service) Configure(apiKey, provider string) error {
	apiKey = strings.TrimSpace(apiKey)
	if apiKey == "" {
		return ErrEmptyKey
	}
	if provider != "" && !strings.EqualFold(provider, s.completer.Name()) {
		return ErrUnsupportedProvider
	}
	s.mu.Lock()
	s.runtimeKey = apiKey
	s.mu.Unlock()
	s.logger.Info("runtime API key configured", zap.String("provider", s.completer.Name()))
	return nil
}

func (s *Service) apiKey() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.runtimeKey != "" {
		return s.runtimeKey
	}
	return s.configuredKey
}

// IsConfigured reports whether an API key is available.
func (s *Service) IsConfigured() bool {
	return s.apiKey() != ""
}

// Provider returns the completer's provider name.
func (s *Service) Provider() string {
	return s.completer.Name()
}

// MaxPromptLength returns the longest accepted prompt in characters.
func (s *Service) MaxPromptLength() int {
	return s.maxPromptLength
}

// Status reports the service's configuration.
func (s *Service) Status() Status {
	configured := s.IsConfigured()
	return Status{
		Available:  configured,
		Configured: configured,
		Model:      s.completer.Model(),
		Provider:   s.completer.Name(),
	}
}

// ValidatePrompt checks prompt against the emptiness and length limits.
func (s *Service) ValidatePrompt(prompt string) error {
	if strings.TrimSpace(prompt) == "" {
		return ErrEmptyPrompt
	}
	if utf8.RuneCountInString(prompt) > s.maxPromptLength {
		return ErrPromptTooLong
	}
	return nil
}

// Complete returns the provider's reply to prompt.
//
// Postcondition: Returns ErrNotConfigured when no key is set, a prompt
// validation error, or the provider's error.
func (s *Service) Complete(ctx context.Context, prompt string) (string, error) {
	key := s.apiKey()
	if key == "" {
		return "", ErrNotConfigured
	}
	if err := s.ValidatePrompt(prompt); err != nil {
		return "", err
	}
	reply, err := s.completer.Complete(ctx, key, prompt)
	if err != nil {
		s.logger.Warn("completion failed", zap.Error(err))
		return "", err
	}
	if reply == "" {
		reply = "No response generated"
	}
	return reply, nil
}

// Respond is Complete with failures folded into the reply text as "Error: ...".
func (s *Service) Respond(ctx context.Context, prompt string) string {
	reply, err := s.Complete(ctx, prompt)
	if err != nil {
		return "Error: " + err.Error()
	}
	return reply
}
