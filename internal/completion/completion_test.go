package completion

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
	"pgregory.net/rapid"

	"github.com/cory-johannsen/officeverse/internal/config"
)

type fakeCompleter struct {
	gotKey    string
	gotPrompt string
	reply     string
	err       error
}

func (f *fakeCompleter) Name() string  { return ProviderAnthropic }
func (f *fakeCompleter) Model() string { return "test-model" }

func (f *fakeCompleter) Complete(_ context.Context, apiKey, prompt string) (string, error) {
	f.gotKey, f.gotPrompt = apiKey, prompt
	return f.reply, f.err
}

func newService(t *testing.T, key string) (*Service, *fakeCompleter) {
	t.Helper()
	fc := &fakeCompleter{reply: "sure"}
	return NewService(fc, key, 500, zaptest.NewLogger(t)), fc
}

func TestService_NotConfigured(t *testing.T) {
	s, fc := newService(t, "")
	assert.False(t, s.IsConfigured())

	_, err := s.Complete(context.Background(), "hello")
	assert.ErrorIs(t, err, ErrNotConfigured)
	assert.Empty(t, fc.gotPrompt)
	assert.True(t, strings.HasPrefix(s.Respond(context.Background(), "hello"), "Error: "))
}

func TestService_RuntimeKeyWins(t *testing.T) {
	s, fc := newService(t, "config-key")
	require.NoError(t, s.Configure("  runtime-key ", ""))

	reply, err := s.Complete(context.Background(), "agenda?")
	require.NoError(t, err)
	assert.Equal(t, "sure", reply)
	assert.Equal(t, "runtime-key", fc.gotKey)
	assert.Equal(t, "agenda?", fc.gotPrompt)
}

func TestService_Configure(t *testing.T) {
	s, _ := newService(t, "")
	assert.ErrorIs(t, s.Configure("   ", ""), ErrEmptyKey)
	assert.ErrorIs(t, s.Configure("k", "openai"), ErrUnsupportedProvider)
	assert.False(t, s.IsConfigured())

	require.NoError(t, s.Configure("k", "Anthropic"))
	assert.Equal(t, Status{Available: true, Configured: true, Model: "test-model", Provider: ProviderAnthropic}, s.Status())
}

func TestService_PromptValidation(t *testing.T) {
	s, fc := newService(t, "k")

	_, err := s.Complete(context.Background(), "  ")
	assert.ErrorIs(t, err, ErrEmptyPrompt)

	_, err = s.Complete(context.Background(), strings.Repeat("a", 501))
	assert.ErrorIs(t, err, ErrPromptTooLong)
	assert.Empty(t, fc.gotPrompt)

	_, err = s.Complete(context.Background(), strings.Repeat("é", 500))
	assert.NoError(t, err, "limit counts characters, not bytes")
}

func TestService_ProviderErrorAndEmptyReply(t *testing.T) {
	s, fc := newService(t, "k")
	fc.err = ErrRateLimited
	assert.Equal(t, "Error: "+ErrRateLimited.Error(), s.Respond(context.Background(), "hi"))

	fc.err, fc.reply = nil, ""
	assert.Equal(t, "No response generated", s.Respond(context.Background(), "hi"))
}

func TestPropertyPromptLengthBoundary(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		max := rapid.IntRange(1, 64).Draw(t, "max")
		n := rapid.IntRange(1, 128).Draw(t, "n")
		s := NewService(&fakeCompleter{}, "k", max, zap.NewNop())
		err := s.ValidatePrompt(strings.Repeat("x", n))
		if n > max && !errors.Is(err, ErrPromptTooLong) {
			t.Fatalf("prompt of %d accepted with max %d", n, max)
		}
		if n <= max && err != nil {
			t.Fatalf("prompt of %d rejected with max %d: %v", n, max, err)
		}
	})
}

func anthropicServer(t *testing.T, status int, body string) (*httptest.Server, *map[string]any) {
	t.Helper()
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/messages", r.URL.Path)
		assert.Equal(t, "test-key", r.Header.Get("X-Api-Key"))
		raw, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(raw, &got)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = io.WriteString(w, body)
	}))
	t.Cleanup(srv.Close)
	return srv, &got
}

func testCompletionConfig(baseURL string) config.CompletionConfig {
	return config.CompletionConfig{
		Model:           "claude-test",
		MaxTokens:       64,
		BaseURL:         baseURL,
		Timeout:         5 * time.Second,
		MaxPromptLength: 500,
	}
}

func TestAnthropic_Complete(t *testing.T) {
	srv, got := anthropicServer(t, http.StatusOK, `{"id":"msg_1","type":"message","role":"assistant","model":"claude-test",
		"content":[{"type":"text","text":" Standup is at 9. "}],
		"stop_reason":"end_turn","usage":{"input_tokens":3,"output_tokens":5}}`)

	a := NewAnthropic(testCompletionConfig(srv.URL))
	reply, err := a.Complete(context.Background(), "test-key", "when is standup?")
	require.NoError(t, err)
	assert.Equal(t, "Standup is at 9.", reply)

	assert.Equal(t, "claude-test", (*got)["model"])
	assert.EqualValues(t, 64, (*got)["max_tokens"])
	assert.Contains(t, mustJSON(t, (*got)["messages"]), "when is standup?")
}

func TestAnthropic_Unauthorized(t *testing.T) {
	srv, _ := anthropicServer(t, http.StatusUnauthorized,
		`{"type":"error","error":{"type":"authentication_error","message":"invalid x-api-key"}}`)

	_, err := NewAnthropic(testCompletionConfig(srv.URL)).Complete(context.Background(), "test-key", "hi")
	assert.ErrorIs(t, err, ErrInvalidKey)
}

func mustJSON(t *testing.T, v any) string {
	t.Helper()
	b, err := json.Marshal(v)
	require.NoError(t, err)
	return string(b)
}
