package provider

import (
	"context"
	"fmt"
	"os"

	"github.com/cloudwego/eino-ext/components/model/openai"
	"github.com/cloudwego/eino/components/model"

	"github.com/HCPTangHY/Lim-Code/pkg/types"
)

const defaultOpenAIModel = "gpt-4o"

// OpenAIProvider implements Provider for OpenAI and OpenAI-compatible
// endpoints (set BaseURL for the latter).
type OpenAIProvider struct {
	chatModel model.ToolCallingChatModel
	models    []types.Model
}

// NewOpenAIProvider creates a new OpenAI provider from config.
func NewOpenAIProvider(ctx context.Context, cfg types.ProviderConfig) (*OpenAIProvider, error) {
	apiKey := cfg.APIKey
	if apiKey == "" {
		apiKey = os.Getenv("OPENAI_API_KEY")
	}
	if apiKey == "" {
		return nil, fmt.Errorf("OPENAI_API_KEY not set")
	}

	modelID := cfg.Model
	if modelID == "" {
		modelID = defaultOpenAIModel
	}
	maxTokens := cfg.MaxTokens
	if maxTokens == 0 {
		maxTokens = 4096
	}

	oaCfg := &openai.ChatModelConfig{
		APIKey:              apiKey,
		Model:               modelID,
		MaxCompletionTokens: &maxTokens,
	}
	if cfg.BaseURL != "" {
		oaCfg.BaseURL = cfg.BaseURL
	}

	chatModel, err := openai.NewChatModel(ctx, oaCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create OpenAI model: %w", err)
	}

	return &OpenAIProvider{
		chatModel: chatModel,
		models:    openAIModels(),
	}, nil
}

func (p *OpenAIProvider) ID() string   { return "openai" }
func (p *OpenAIProvider) Name() string { return "OpenAI" }

func (p *OpenAIProvider) Models() []types.Model { return p.models }

func (p *OpenAIProvider) CreateCompletion(ctx context.Context, req *CompletionRequest) (*CompletionStream, error) {
	return stream(ctx, p.chatModel, req)
}

func openAIModels() []types.Model {
	return []types.Model{
		{
			ID:              defaultOpenAIModel,
			Name:            "GPT-4o",
			ProviderID:      "openai",
			ContextWindow:   128000,
			MaxOutputTokens: 16384,
			SupportsTools:   true,
		},
		{
			ID:              "gpt-4o-mini",
			Name:            "GPT-4o mini",
			ProviderID:      "openai",
			ContextWindow:   128000,
			MaxOutputTokens: 16384,
			SupportsTools:   true,
		},
	}
}
