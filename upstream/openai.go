package upstream

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
)

// DefaultSystemPrompt instructs the model to answer with an AnalysisPayload.
const DefaultSystemPrompt = "You analyze short customer texts. Reply only with a JSON object " +
	"containing sentiment (positive, negative, neutral or mixed), score (-1 to 1), " +
	"a one-sentence summary, keywords, topics and the ISO 639-1 language code."

// OpenAIConfig configures an OpenAIProvider.
type OpenAIConfig struct {
	// APIKey authenticates requests. Required.
	APIKey string

	// BaseURL overrides the API endpoint, e.g. for a compatible gateway.
	BaseURL string

	// Model is used when the payload names none.
	// Default: gpt-4o-mini
	Model string

	// SystemPrompt replaces DefaultSystemPrompt.
	SystemPrompt string
}

// OpenAIProvider calls OpenAI chat completions with a strict JSON schema.
type OpenAIProvider struct {
	client openai.Client
	cfg    OpenAIConfig
}

// NewOpenAIProvider creates a provider. The SDK's own retries are disabled.
func NewOpenAIProvider(cfg OpenAIConfig) (*OpenAIProvider, error) {
	if cfg.APIKey == "" {
		return nil, ErrMissingAPIKey
	}
	if cfg.Model == "" {
		cfg.Model = "gpt-4o-mini"
	}
	if cfg.SystemPrompt == "" {
		cfg.SystemPrompt = DefaultSystemPrompt
	}

	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithMaxRetries(0),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}

	return &OpenAIProvider{client: openai.NewClient(opts...), cfg: cfg}, nil
}

// Call sends one chat completion request.
func (p *OpenAIProvider) Call(ctx context.Context, payload Payload, timeout time.Duration) (RawResponse, error) {
	model := payload.Model
	if model == "" {
		model = p.cfg.Model
	}

	params := openai.ChatCompletionNewParams{
		Model: openai.ChatModel(model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(p.cfg.SystemPrompt),
			openai.UserMessage(userPrompt(payload)),
		},
		ResponseFormat: openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONSchema: &openai.ResponseFormatJSONSchemaParam{
				JSONSchema: openai.ResponseFormatJSONSchemaJSONSchemaParam{
					Name:   "text_analysis",
					Schema: any(analysisSchema),
					Strict: openai.Bool(true),
				},
			},
		},
	}
	if v, ok := floatOption(payload.Options, "temperature"); ok {
		params.Temperature = openai.Float(v)
	}
	if v, ok := floatOption(payload.Options, "max_tokens"); ok && v > 0 {
		params.MaxCompletionTokens = openai.Int(int64(v))
	}

	var reqOpts []option.RequestOption
	if timeout > 0 {
		reqOpts = append(reqOpts, option.WithRequestTimeout(timeout))
	}

	completion, err := p.client.Chat.Completions.New(ctx, params, reqOpts...)
	if err != nil {
		return RawResponse{}, err
	}
	if len(completion.Choices) == 0 {
		return RawResponse{}, errors.New("openai: no choices returned")
	}

	return RawResponse{
		Body:             completion.Choices[0].Message.Content,
		Model:            completion.Model,
		PromptTokens:     completion.Usage.PromptTokens,
		CompletionTokens: completion.Usage.CompletionTokens,
	}, nil
}

func userPrompt(p Payload) string {
	if lang, ok := p.Options["language"].(string); ok && lang != "" {
		return fmt.Sprintf("Context: %s\nExpected language: %s\n\nText:\n%s", p.Context, lang, p.Text)
	}
	return fmt.Sprintf("Context: %s\n\nText:\n%s", p.Context, p.Text)
}

func floatOption(opts map[string]any, key string) (float64, bool) {
	switch v := opts[key].(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	default:
		return 0, false
	}
}
