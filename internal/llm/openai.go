package llm

import (
	"context"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"

	"github.com/spherical/prd-testgen/internal/domain"
)

// OpenAIProvider talks to any OpenAI-compatible chat completions endpoint.
type OpenAIProvider struct {
	client   openai.Client
	settings Settings
}

// NewOpenAIProvider creates a provider. Settings.Endpoint is sent as the model name.
func NewOpenAIProvider(s Settings, opts ...option.RequestOption) *OpenAIProvider {
	base := []option.RequestOption{
		option.WithAPIKey(s.APIKey),
		option.WithMaxRetries(s.MaxRetries),
	}
	if s.BaseURL != "" {
		base = append(base, option.WithBaseURL(s.BaseURL))
	}
	if s.Timeout > 0 {
		base = append(base, option.WithRequestTimeout(s.Timeout))
	}

	return &OpenAIProvider{
		client:   openai.NewClient(append(base, opts...)...),
		settings: s,
	}
}

func (p *OpenAIProvider) Name() string {
	return "openai:" + p.settings.Endpoint
}

// Complete sends the conversation and returns the first choice's content.
func (p *OpenAIProvider) Complete(ctx context.Context, req domain.CompletionRequest) (string, error) {
	params := openai.ChatCompletionNewParams{
		Model:       p.settings.Endpoint,
		Messages:    openAIMessages(req),
		Temperature: openai.Float(p.settings.Temperature),
	}
	if p.settings.MaxTokens > 0 {
		params.MaxTokens = openai.Int(int64(p.settings.MaxTokens))
	}
	if req.JSONOutput {
		params.ResponseFormat = openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONObject: &shared.ResponseFormatJSONObjectParam{},
		}
	}

	resp, err := p.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return "", domain.APIError("chat completion failed", err)
	}
	if len(resp.Choices) == 0 {
		return "", domain.APIError("chat completion returned no choices", nil)
	}

	return resp.Choices[0].Message.Content, nil
}

func openAIMessages(req domain.CompletionRequest) []openai.ChatCompletionMessageParamUnion {
	msgs := make([]openai.ChatCompletionMessageParamUnion, 0, len(req.Messages)+1)
	if req.System != "" {
		msgs = append(msgs, openai.SystemMessage(req.System))
	}

	for _, m := range req.Messages {
		if m.Role == domain.RoleAssistant {
			msgs = append(msgs, openai.AssistantMessage(joinText(m.Parts)))
			continue
		}

		parts := make([]openai.ChatCompletionContentPartUnionParam, 0, len(m.Parts))
		for _, part := range m.Parts {
			switch part.Kind {
			case domain.PartText:
				parts = append(parts, openai.TextContentPart(part.Text))
			case domain.PartImage:
				parts = append(parts, openai.ImageContentPart(openai.ChatCompletionContentPartImageImageURLParam{
					URL: part.ImageURL,
				}))
			}
		}
		msgs = append(msgs, openai.UserMessage(parts))
	}

	return msgs
}

// joinText concatenates the text parts of an assistant turn.
func joinText(parts []domain.Part) string {
	var sb strings.Builder
	for _, p := range parts {
		if p.Kind == domain.PartText {
			sb.WriteString(p.Text)
		}
	}
	return sb.String()
}
