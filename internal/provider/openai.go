package provider

import (
	"context"
	"fmt"
	"os"

	"github.com/cloudwego/eino-ext/components/model/openai"
	"github.com/cloudwego/eino/components/model"

	"github.com/yabot-dev/yabot/pkg/types"
)

// OpenAIProvider implements Provider for OpenAI and OpenAI-compatible
// endpoints.
type OpenAIProvider struct {
	chatModel model.ToolCallingChatModel
	config    *OpenAIConfig
}

// OpenAIConfig holds configuration for OpenAI provider.
type OpenAIConfig struct {
	// ID is the provider identifier; it defaults to "openai".
	ID        string
	APIKey    string
	BaseURL   string
	Model     string
	MaxTokens int
}

// NewOpenAIProvider creates a new OpenAI provider.
func NewOpenAIProvider(ctx context.Context, config *OpenAIConfig) (*OpenAIProvider, error) {
	apiKey := config.APIKey
	if apiKey == "" {
		apiKey = os.Getenv("OPENAI_API_KEY")
	}
	if apiKey == "" {
		return nil, fmt.Errorf("OPENAI_API_KEY not set")
	}

	maxTokens := config.MaxTokens
	if maxTokens == 0 {
		maxTokens = 4096
	}

	modelID := config.Model
	if modelID == "" {
		modelID = "gpt-4o-mini"
	}

	cfg := &openai.ChatModelConfig{
		APIKey: apiKey,
		Model:  modelID,
		// max_completion_tokens is accepted by every current OpenAI model.
		MaxCompletionTokens: &maxTokens,
	}
	if config.BaseURL != "" {
		cfg.BaseURL = config.BaseURL
	}

	chatModel, err := openai.NewChatModel(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create OpenAI model: %w", err)
	}

	return &OpenAIProvider{chatModel: chatModel, config: config}, nil
}

// ID returns the provider identifier.
func (p *OpenAIProvider) ID() string {
	if p.config.ID != "" {
		return p.config.ID
	}
	return "openai"
}

// Name returns the human-readable provider name.
func (p *OpenAIProvider) Name() string { return "OpenAI" }

// Models returns the list of known OpenAI models.
func (p *OpenAIProvider) Models() []types.ModelInfo { return openAIModels() }

// ChatModel returns the Eino ChatModel.
func (p *OpenAIProvider) ChatModel() model.ToolCallingChatModel { return p.chatModel }

func openAIModels() []types.ModelInfo {
	return []types.ModelInfo{
		{ID: "gpt-5.2", Name: "GPT-5.2", Provider: "openai", ContextLength: 400000},
		{ID: "gpt-5", Name: "GPT-5", Provider: "openai", ContextLength: 272000},
		{ID: "gpt-5-mini", Name: "GPT-5 Mini", Provider: "openai", ContextLength: 272000},
		{ID: "gpt-5-nano", Name: "GPT-5 Nano", Provider: "openai", ContextLength: 272000},
		{ID: "gpt-4o", Name: "GPT-4o", Provider: "openai", ContextLength: 128000},
		{ID: "gpt-4o-mini", Name: "GPT-4o Mini", Provider: "openai", ContextLength: 128000},
		{ID: "o1", Name: "O1", Provider: "openai", ContextLength: 200000},
		{ID: "o1-mini", Name: "O1 Mini", Provider: "openai", ContextLength: 128000},
	}
}
