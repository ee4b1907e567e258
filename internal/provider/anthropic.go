package provider

import (
	"context"
	"fmt"
	"os"

	"github.com/cloudwego/eino-ext/components/model/claude"
	"github.com/cloudwego/eino/components/model"

	"github.com/HCPTangHY/Lim-Code/pkg/types"
)

const defaultClaudeModel = "claude-sonnet-4-20250514"

// AnthropicProvider implements Provider for Anthropic Claude models.
type AnthropicProvider struct {
	chatModel model.ToolCallingChatModel
	models    []types.Model
}

// NewAnthropicProvider creates a new Anthropic provider from config.
func NewAnthropicProvider(ctx context.Context, cfg types.ProviderConfig) (*AnthropicProvider, error) {
	apiKey := cfg.APIKey
	if apiKey == "" {
		apiKey = os.Getenv("ANTHROPIC_API_KEY")
	}
	if apiKey == "" {
		return nil, fmt.Errorf("ANTHROPIC_API_KEY not set")
	}

	modelID := cfg.Model
	if modelID == "" {
		modelID = defaultClaudeModel
	}
	maxTokens := cfg.MaxTokens
	if maxTokens == 0 {
		maxTokens = 8192
	}

	claudeCfg := &claude.Config{
		APIKey:    apiKey,
		Model:     modelID,
		MaxTokens: maxTokens,
	}
	if cfg.BaseURL != "" {
		claudeCfg.BaseURL = &cfg.BaseURL
	}

	chatModel, err := claude.NewChatModel(ctx, claudeCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create Claude model: %w", err)
	}

	return &AnthropicProvider{
		chatModel: chatModel,
		models:    anthropicModels(),
	}, nil
}

func (p *AnthropicProvider) ID() string   { return "anthropic" }
func (p *AnthropicProvider) Name() string { return "Anthropic" }

func (p *AnthropicProvider) Models() []types.Model { return p.models }

func (p *AnthropicProvider) CreateCompletion(ctx context.Context, req *CompletionRequest) (*CompletionStream, error) {
	return stream(ctx, p.chatModel, req)
}

func anthropicModels() []types.Model {
	return []types.Model{
		{
			ID:              defaultClaudeModel,
			Name:            "Claude Sonnet 4",
			ProviderID:      "anthropic",
			ContextWindow:   200000,
			MaxOutputTokens: 64000,
			SupportsTools:   true,
		},
		{
			ID:              "claude-3-5-haiku-20241022",
			Name:            "Claude 3.5 Haiku",
			ProviderID:      "anthropic",
			ContextWindow:   200000,
			MaxOutputTokens: 8192,
			SupportsTools:   true,
		},
	}
}
