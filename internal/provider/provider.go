// Package provider provides LLM provider abstraction using the Eino
// framework.
package provider

import (
	"context"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"

	"github.com/HCPTangHY/Lim-Code/pkg/types"
)

// Provider represents an LLM provider backed by an Eino ChatModel.
type Provider interface {
	// ID returns the provider identifier.
	ID() string

	// Name returns the human-readable provider name.
	Name() string

	// Models returns the list of available models.
	Models() []types.Model

	// CreateCompletion creates a streaming completion.
	CreateCompletion(ctx context.Context, req *CompletionRequest) (*CompletionStream, error)
}

// CompletionRequest represents a request to generate a completion.
type CompletionRequest struct {
	Model       string             `json:"model"`
	Messages    []*schema.Message  `json:"messages"`
	Tools       []*schema.ToolInfo `json:"tools,omitempty"`
	MaxTokens   int                `json:"maxTokens,omitempty"`
	Temperature float64            `json:"temperature,omitempty"`
}

// CompletionStream wraps an Eino stream reader.
type CompletionStream struct {
	reader *schema.StreamReader[*schema.Message]
}

// NewCompletionStream creates a new completion stream.
func NewCompletionStream(reader *schema.StreamReader[*schema.Message]) *CompletionStream {
	return &CompletionStream{reader: reader}
}

// Recv receives the next message chunk from the stream.
func (s *CompletionStream) Recv() (*schema.Message, error) {
	return s.reader.Recv()
}

// Close closes the stream.
func (s *CompletionStream) Close() {
	s.reader.Close()
}

// stream runs a ChatModel with the request's messages and tools bound.
func stream(ctx context.Context, chatModel model.ToolCallingChatModel, req *CompletionRequest) (*CompletionStream, error) {
	m := chatModel
	if len(req.Tools) > 0 {
		withTools, err := chatModel.WithTools(req.Tools)
		if err != nil {
			return nil, err
		}
		m = withTools
	}

	reader, err := m.Stream(ctx, req.Messages)
	if err != nil {
		return nil, err
	}
	return NewCompletionStream(reader), nil
}
