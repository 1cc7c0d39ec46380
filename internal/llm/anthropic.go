package llm

import (
	"context"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/spherical/prd-testgen/internal/domain"
	"github.com/spherical/prd-testgen/internal/imageproc"
)

const defaultAnthropicMaxTokens = 8192

// AnthropicProvider talks to the Anthropic Messages API.
type AnthropicProvider struct {
	client   anthropic.Client
	settings Settings
}

// NewAnthropicProvider creates a provider. Settings.Endpoint is the model name.
func NewAnthropicProvider(s Settings, opts ...option.RequestOption) *AnthropicProvider {
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

	return &AnthropicProvider{
		client:   anthropic.NewClient(append(base, opts...)...),
		settings: s,
	}
}

func (p *AnthropicProvider) Name() string {
	return "anthropic:" + p.settings.Endpoint
}

// Complete sends the conversation and concatenates the text blocks of the reply.
// The Messages API has no JSON mode, so JSONOutput relies on the prompt alone.
func (p *AnthropicProvider) Complete(ctx context.Context, req domain.CompletionRequest) (string, error) {
	msgs, err := anthropicMessages(req)
	if err != nil {
		return "", err
	}

	maxTokens := int64(p.settings.MaxTokens)
	if maxTokens <= 0 {
		maxTokens = defaultAnthropicMaxTokens
	}

	params := anthropic.MessageNewParams{
		Model:       anthropic.Model(p.settings.Endpoint),
		MaxTokens:   maxTokens,
		Messages:    msgs,
		Temperature: anthropic.Float(p.settings.Temperature),
	}
	if req.System != "" {
		params.System = []anthropic.TextBlockParam{{Text: req.System}}
	}

	resp, err := p.client.Messages.New(ctx, params)
	if err != nil {
		return "", domain.APIError("messages request failed", err)
	}

	var sb strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			sb.WriteString(block.Text)
		}
	}
	if sb.Len() == 0 {
		return "", domain.APIError("messages response contained no text", nil)
	}
	return sb.String(), nil
}

func anthropicMessages(req domain.CompletionRequest) ([]anthropic.MessageParam, error) {
	msgs := make([]anthropic.MessageParam, 0, len(req.Messages))

	for _, m := range req.Messages {
		blocks := make([]anthropic.ContentBlockParamUnion, 0, len(m.Parts))
		for _, part := range m.Parts {
			switch part.Kind {
			case domain.PartText:
				if part.Text == "" {
					continue
				}
				blocks = append(blocks, anthropic.NewTextBlock(part.Text))
			case domain.PartImage:
				mediaType, data, err := imageproc.DecodeDataURI(part.ImageURL)
				if err != nil {
					return nil, domain.ValidationError("image part must be a base64 data URI", err).WithStage(domain.StageAssemble)
				}
				blocks = append(blocks, anthropic.NewImageBlockBase64(mediaType, data))
			}
		}

		if m.Role == domain.RoleAssistant {
			msgs = append(msgs, anthropic.NewAssistantMessage(blocks...))
		} else {
			msgs = append(msgs, anthropic.NewUserMessage(blocks...))
		}
	}

	return msgs, nil
}
