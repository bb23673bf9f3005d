package provider

import (
	"context"
	"fmt"
	"os"

	"github.com/cloudwego/eino-ext/components/model/claude"
	"github.com/cloudwego/eino/components/model"

	"github.com/yabot-dev/yabot/pkg/types"
)

// AnthropicProvider implements Provider for Anthropic Claude models.
type AnthropicProvider struct {
	chatModel model.ToolCallingChatModel
	config    *AnthropicConfig
}

// AnthropicConfig holds configuration for Anthropic provider.
type AnthropicConfig struct {
	// ID is the provider identifier; it defaults to "anthropic".
	ID        string
	APIKey    string
	BaseURL   string
	Model     string
	MaxTokens int
}

// NewAnthropicProvider creates a new Anthropic provider.
func NewAnthropicProvider(ctx context.Context, config *AnthropicConfig) (*AnthropicProvider, error) {
	apiKey := config.APIKey
	if apiKey == "" {
		apiKey = os.Getenv("ANTHROPIC_API_KEY")
	}
	if apiKey == "" {
		return nil, fmt.Errorf("ANTHROPIC_API_KEY not set")
	}

	modelID := config.Model
	if modelID == "" {
		modelID = "claude-sonnet-4-20250514"
	}
	maxTokens := config.MaxTokens
	if maxTokens == 0 {
		maxTokens = 8192
	}

	cfg := &claude.Config{
		APIKey:    apiKey,
		Model:     modelID,
		MaxTokens: maxTokens,
	}
	if config.BaseURL != "" {
		cfg.BaseURL = &config.BaseURL
	}
	chatModel, err := claude.NewChatModel(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create Claude model: %w", err)
	}

	return &AnthropicProvider{chatModel: chatModel, config: config}, nil
}

// ID returns the provider identifier.
func (p *AnthropicProvider) ID() string {
	if p.config.ID != "" {
		return p.config.ID
	}
	return "anthropic"
}

// Name returns the human-readable provider name.
func (p *AnthropicProvider) Name() string { return "Anthropic" }

// Models returns the list of known Anthropic models.
func (p *AnthropicProvider) Models() []types.ModelInfo { return anthropicModels() }

// ChatModel returns the Eino ChatModel.
func (p *AnthropicProvider) ChatModel() model.ToolCallingChatModel { return p.chatModel }

func anthropicModels() []types.ModelInfo {
	return []types.ModelInfo{
		{ID: "claude-sonnet-4-20250514", Name: "Claude Sonnet 4", Provider: "anthropic", ContextLength: 200000},
		{ID: "claude-opus-4-20250514", Name: "Claude Opus 4", Provider: "anthropic", ContextLength: 200000},
		{ID: "claude-3-5-sonnet-20241022", Name: "Claude 3.5 Sonnet", Provider: "anthropic", ContextLength: 200000},
		{ID: "claude-3-5-haiku-20241022", Name: "Claude 3.5 Haiku", Provider: "anthropic", ContextLength: 200000},
		{ID: "claude-haiku-4-5", Name: "Claude 4.5 Haiku", Provider: "anthropic", ContextLength: 200000},
	}
}
