package llm

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spherical/prd-testgen/internal/config"
	"github.com/spherical/prd-testgen/internal/domain"
)

// recorder captures the decoded body of each request it serves.
type recorder struct {
	mu     sync.Mutex
	bodies []map[string]any
	status int
	reply  string
}

func (r *recorder) handler(t *testing.T) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		raw, err := io.ReadAll(req.Body)
		assert.NoError(t, err)
		var body map[string]any
		assert.NoError(t, json.Unmarshal(raw, &body))

		r.mu.Lock()
		r.bodies = append(r.bodies, body)
		status := r.status
		r.mu.Unlock()

		w.Header().Set("Content-Type", "application/json")
		if status != 0 {
			w.WriteHeader(status)
			_, _ = w.Write([]byte(`{"error":{"message":"boom","type":"server_error"}}`))
			return
		}
		_, _ = w.Write([]byte(r.reply))
	}
}

func (r *recorder) last() map[string]any {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.bodies[len(r.bodies)-1]
}

func sampleRequest() domain.CompletionRequest {
	return domain.CompletionRequest{
		System: "You are a QA architect.",
		Messages: []domain.ChatMessage{
			{Role: domain.RoleUser, Parts: []domain.Part{
				{Kind: domain.PartText, Text: "PRD"},
				{Kind: domain.PartText, Text: "\n[Reference Image 1]\n"},
				{Kind: domain.PartImage, ImageURL: "data:image/jpeg;base64,QUJD"},
			}},
			{Role: domain.RoleAssistant, Parts: []domain.Part{{Kind: domain.PartText, Text: "not json"}}},
			{Role: domain.RoleUser, Parts: []domain.Part{{Kind: domain.PartText, Text: "fix it"}}},
		},
		JSONOutput: true,
	}
}

const chatReply = `{"id":"c1","object":"chat.completion","created":1,"model":"ep-test",
"choices":[{"index":0,"finish_reason":"stop","message":{"role":"assistant","content":"{\"cases\":[]}"}}]}`

func TestOpenAIProvider_Complete(t *testing.T) {
	rec := &recorder{reply: chatReply}
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/chat/completions", rec.handler(t))
	srv := httptest.NewServer(mux)
	defer srv.Close()

	p := NewOpenAIProvider(Settings{Endpoint: "ep-test", APIKey: "k", BaseURL: srv.URL + "/v1", Temperature: 0.1, MaxTokens: 100})
	out, err := p.Complete(context.Background(), sampleRequest())
	require.NoError(t, err)
	assert.Equal(t, `{"cases":[]}`, out)

	body := rec.last()
	assert.Equal(t, "ep-test", body["model"])
	assert.Equal(t, map[string]any{"type": "json_object"}, body["response_format"])
	assert.EqualValues(t, 100, body["max_tokens"])

	msgs := body["messages"].([]any)
	require.Len(t, msgs, 4)
	assert.Equal(t, "system", msgs[0].(map[string]any)["role"])
	assert.Equal(t, "assistant", msgs[2].(map[string]any)["role"])
	assert.Equal(t, "not json", msgs[2].(map[string]any)["content"])

	userParts := msgs[1].(map[string]any)["content"].([]any)
	require.Len(t, userParts, 3)
	img := userParts[2].(map[string]any)
	assert.Equal(t, "image_url", img["type"])
	assert.Equal(t, "data:image/jpeg;base64,QUJD", img["image_url"].(map[string]any)["url"])
}

func TestOpenAIProvider_NoJSONMode(t *testing.T) {
	rec := &recorder{reply: chatReply}
	srv := httptest.NewServer(rec.handler(t))
	defer srv.Close()

	p := NewOpenAIProvider(Settings{Endpoint: "ep-test", BaseURL: srv.URL + "/v1"})
	req := sampleRequest()
	req.JSONOutput = false
	_, err := p.Complete(context.Background(), req)
	require.NoError(t, err)

	_, ok := rec.last()["response_format"]
	assert.False(t, ok)
}

func TestOpenAIProvider_Errors(t *testing.T) {
	tests := []struct {
		name   string
		status int
		reply  string
	}{
		{name: "server error", status: http.StatusInternalServerError},
		{name: "no choices", reply: `{"id":"c1","object":"chat.completion","created":1,"model":"m","choices":[]}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := &recorder{status: tt.status, reply: tt.reply}
			srv := httptest.NewServer(rec.handler(t))
			defer srv.Close()

			p := NewOpenAIProvider(Settings{Endpoint: "m", BaseURL: srv.URL + "/v1"})
			_, err := p.Complete(context.Background(), sampleRequest())
			require.Error(t, err)
			assert.True(t, domain.IsType(err, domain.ErrorTypeAPI))
		})
	}
}

const messagesReply = `{"id":"msg_1","type":"message","role":"assistant","model":"claude-test",
"content":[{"type":"text","text":"{\"detected_modules\":"},{"type":"text","text":"[]}"}],
"stop_reason":"end_turn","usage":{"input_tokens":1,"output_tokens":1}}`

func TestAnthropicProvider_Complete(t *testing.T) {
	rec := &recorder{reply: messagesReply}
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/messages", rec.handler(t))
	srv := httptest.NewServer(mux)
	defer srv.Close()

	p := NewAnthropicProvider(Settings{Endpoint: "claude-test", APIKey: "k", BaseURL: srv.URL + "/"})
	out, err := p.Complete(context.Background(), sampleRequest())
	require.NoError(t, err)
	assert.Equal(t, `{"detected_modules":[]}`, out)

	body := rec.last()
	assert.Equal(t, "claude-test", body["model"])
	assert.EqualValues(t, defaultAnthropicMaxTokens, body["max_tokens"])

	system := body["system"].([]any)
	assert.Equal(t, "You are a QA architect.", system[0].(map[string]any)["text"])

	msgs := body["messages"].([]any)
	require.Len(t, msgs, 3)
	blocks := msgs[0].(map[string]any)["content"].([]any)
	require.Len(t, blocks, 3)
	source := blocks[2].(map[string]any)["source"].(map[string]any)
	assert.Equal(t, "base64", source["type"])
	assert.Equal(t, "image/jpeg", source["media_type"])
	assert.Equal(t, "QUJD", source["data"])
}

func TestAnthropicProvider_RejectsNonDataURI(t *testing.T) {
	p := NewAnthropicProvider(Settings{Endpoint: "claude-test", BaseURL: "http://127.0.0.1:1/"})
	req := domain.CompletionRequest{Messages: []domain.ChatMessage{{
		Role:  domain.RoleUser,
		Parts: []domain.Part{{Kind: domain.PartImage, ImageURL: "https://example.com/a.png"}},
	}}}

	_, err := p.Complete(context.Background(), req)
	require.Error(t, err)
	assert.True(t, domain.IsType(err, domain.ErrorTypeValidation))
}

type fakeProvider struct {
	name  string
	out   string
	err   error
	calls int
}

func (f *fakeProvider) Name() string { return f.name }

func (f *fakeProvider) Complete(_ context.Context, _ domain.CompletionRequest) (string, error) {
	f.calls++
	return f.out, f.err
}

func TestFallbackProvider(t *testing.T) {
	tests := []struct {
		name         string
		primaryErr   error
		fallbackErr  error
		want         string
		wantErr      bool
		wantFallback int
	}{
		{name: "primary succeeds", want: "primary", wantFallback: 0},
		{name: "fallback succeeds", primaryErr: errors.New("down"), want: "fallback", wantFallback: 1},
		{name: "both fail", primaryErr: errors.New("down"), fallbackErr: errors.New("also down"), wantErr: true, wantFallback: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			primary := &fakeProvider{name: "p", out: "primary", err: tt.primaryErr}
			fallback := &fakeProvider{name: "f", out: "fallback", err: tt.fallbackErr}

			out, err := NewFallbackProvider(primary, fallback, nil).Complete(context.Background(), domain.CompletionRequest{})
			if tt.wantErr {
				require.Error(t, err)
				assert.ErrorIs(t, err, tt.primaryErr)
				assert.Contains(t, err.Error(), "also down")
			} else {
				require.NoError(t, err)
				assert.Equal(t, tt.want, out)
			}
			assert.Equal(t, tt.wantFallback, fallback.calls)
		})
	}
}

func TestFallbackProvider_SkipsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	primary := &fakeProvider{name: "p", err: context.Canceled}
	fallback := &fakeProvider{name: "f", out: "fallback"}

	_, err := NewFallbackProvider(primary, fallback, nil).Complete(ctx, domain.CompletionRequest{})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, fallback.calls)
}

func TestNew(t *testing.T) {
	tests := []struct {
		name    string
		cfg     config.ModelConfig
		want    string
		wantErr bool
	}{
		{name: "openai", cfg: config.ModelConfig{Provider: "openai", Endpoint: "ep"}, want: "openai:ep"},
		{name: "anthropic", cfg: config.ModelConfig{Provider: "anthropic", Endpoint: "claude"}, want: "anthropic:claude"},
		{
			name: "with fallback",
			cfg: config.ModelConfig{Provider: "openai", Endpoint: "ep",
				Fallback: &config.ProviderEntry{Provider: "anthropic", Endpoint: "claude"}},
			want: "openai:ep,anthropic:claude",
		},
		{name: "missing endpoint", cfg: config.ModelConfig{Provider: "openai"}, wantErr: true},
		{name: "unknown provider", cfg: config.ModelConfig{Provider: "gemini", Endpoint: "x"}, wantErr: true},
		{
			name: "bad fallback",
			cfg: config.ModelConfig{Provider: "openai", Endpoint: "ep",
				Fallback: &config.ProviderEntry{Provider: "openai"}},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := New(tt.cfg, nil)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, domain.IsType(err, domain.ErrorTypeConfig))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, p.Name())
		})
	}
}
