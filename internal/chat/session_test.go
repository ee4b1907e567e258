package chat

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	einotool "github.com/cloudwego/eino/components/tool"
	"github.com/cloudwego/eino/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/HCPTangHY/Lim-Code/internal/abort"
	"github.com/HCPTangHY/Lim-Code/internal/provider"
	"github.com/HCPTangHY/Lim-Code/internal/tool"
	"github.com/HCPTangHY/Lim-Code/pkg/types"
)

// streamProvider replays scripted message streams, one per completion.
type streamProvider struct {
	mu       sync.Mutex
	scripts  [][]*schema.Message
	requests []*provider.CompletionRequest
}

func (p *streamProvider) ID() string   { return "test" }
func (p *streamProvider) Name() string { return "Test" }

func (p *streamProvider) Models() []types.Model {
	return []types.Model{{ID: "test-model", Name: "Test Model", ProviderID: "test", SupportsTools: true}}
}

func (p *streamProvider) CreateCompletion(ctx context.Context, req *provider.CompletionRequest) (*provider.CompletionStream, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.requests = append(p.requests, req)
	if len(p.scripts) == 0 {
		return nil, errors.New("no scripted stream left")
	}
	msgs := p.scripts[0]
	p.scripts = p.scripts[1:]
	return provider.NewCompletionStream(schema.StreamReaderFromArray(msgs)), nil
}

// stubTool records its input and returns a fixed result.
type stubTool struct {
	id      string
	confirm bool
	output  string
	mu      sync.Mutex
	inputs  []string
}

func (t *stubTool) ID() string              { return t.id }
func (t *stubTool) Description() string     { return "stub" }
func (t *stubTool) NeedsConfirmation() bool { return t.confirm }

func (t *stubTool) Parameters() json.RawMessage {
	return json.RawMessage(`{"type":"object","properties":{"path":{"type":"string"}}}`)
}

func (t *stubTool) Execute(ctx context.Context, input json.RawMessage, toolCtx *tool.Context) (*tool.Result, error) {
	t.mu.Lock()
	t.inputs = append(t.inputs, string(input))
	t.mu.Unlock()
	return &tool.Result{Title: t.id, Output: t.output}, nil
}

func (t *stubTool) EinoTool() einotool.InvokableTool { return tool.NewEinoTool(t) }

func finishMsg(reason string) *schema.Message {
	return &schema.Message{
		Role:         schema.Assistant,
		ResponseMeta: &schema.ResponseMeta{FinishReason: reason},
	}
}

func textMsg(text string) *schema.Message {
	return &schema.Message{Role: schema.Assistant, Content: text}
}

func newSessionFixture(t *testing.T, p *streamProvider, tools *tool.Registry) (*Session, *abort.Registry) {
	t.Helper()
	providers := provider.NewRegistry(&types.Config{Model: "test/test-model"})
	providers.Register(p)
	if tools == nil {
		tools = tool.NewRegistry(t.TempDir())
	}
	aborts := abort.NewRegistry()
	return NewSession(providers, tools, aborts, nil, t.TempDir()), aborts
}

func sessionRequest(turn uint64) TurnRequest {
	return TurnRequest{
		Conversation: &types.Conversation{ID: "conv-1"},
		Turn:         turn,
		ProviderID:   "test",
		Model:        &types.Model{ID: "test-model", ProviderID: "test", SupportsTools: true},
	}
}

func collectChunks(s *Session, req TurnRequest) []Chunk {
	var chunks []Chunk
	s.Run(context.Background(), req, func(c Chunk) {
		chunks = append(chunks, c)
	})
	return chunks
}

func TestSessionStreamsTextDeltas(t *testing.T) {
	p := &streamProvider{scripts: [][]*schema.Message{
		{textMsg("Hel"), textMsg("lo"), finishMsg("stop")},
	}}
	s, _ := newSessionFixture(t, p, nil)

	chunks := collectChunks(s, sessionRequest(1))

	require.Len(t, chunks, 3)
	assert.Equal(t, KindChunk, chunks[0].Kind)
	assert.Equal(t, "Hel", chunks[0].Delta.Text)
	assert.Equal(t, "lo", chunks[1].Delta.Text)
	assert.Equal(t, KindComplete, chunks[2].Kind)

	for _, c := range chunks {
		assert.Equal(t, "conv-1", c.ConversationID)
		assert.Equal(t, uint64(1), c.Turn)
	}
}

func TestSessionHandlesCumulativeContent(t *testing.T) {
	// Some providers resend the full accumulated content each frame.
	p := &streamProvider{scripts: [][]*schema.Message{
		{textMsg("Hel"), textMsg("Hello"), textMsg("Hello"), finishMsg("stop")},
	}}
	s, _ := newSessionFixture(t, p, nil)

	chunks := collectChunks(s, sessionRequest(1))

	require.Len(t, chunks, 3)
	assert.Equal(t, "Hel", chunks[0].Delta.Text)
	assert.Equal(t, "lo", chunks[1].Delta.Text)
	assert.Equal(t, KindComplete, chunks[2].Kind)
}

func TestSessionToolLoop(t *testing.T) {
	toolCallMsg := &schema.Message{
		Role: schema.Assistant,
		ToolCalls: []schema.ToolCall{{
			ID:       "call-1",
			Function: schema.FunctionCall{Name: "stub", Arguments: `{"path":"x"}`},
		}},
	}
	p := &streamProvider{scripts: [][]*schema.Message{
		{toolCallMsg, finishMsg("tool_use")},
		{textMsg("done"), finishMsg("stop")},
	}}

	stub := &stubTool{id: "stub", output: "stub result"}
	tools := tool.NewRegistry(t.TempDir())
	tools.Register(stub)
	s, _ := newSessionFixture(t, p, tools)

	chunks := collectChunks(s, sessionRequest(1))

	var kinds []ChunkKind
	for _, c := range chunks {
		kinds = append(kinds, c.Kind)
	}
	require.Equal(t, []ChunkKind{KindChunk, KindToolsExecuting, KindToolIteration, KindChunk, KindComplete}, kinds)

	// The tool ran with the accumulated arguments.
	require.Len(t, stub.inputs, 1)
	assert.JSONEq(t, `{"path":"x"}`, stub.inputs[0])

	iteration := chunks[2]
	require.Len(t, iteration.ToolOutcomes, 1)
	assert.Equal(t, "call-1", iteration.ToolOutcomes[0].CallID)
	assert.Equal(t, types.ToolStateCompleted, iteration.ToolOutcomes[0].State)
	assert.Equal(t, "stub result", iteration.ToolOutcomes[0].Output)

	// The second completion sees the assistant tool call and its result.
	require.Len(t, p.requests, 2)
	second := p.requests[1].Messages
	require.NotEmpty(t, second)
	var sawToolResult bool
	for _, m := range second {
		if m.Role == schema.Tool && m.Content == "stub result" {
			sawToolResult = true
		}
	}
	assert.True(t, sawToolResult, "tool result should be in the follow-up history")
}

func TestSessionToolCallFragmentsAccumulate(t *testing.T) {
	// Arguments arrive in fragments; the id is only on the first one.
	frag := func(id, name, args string) *schema.Message {
		return &schema.Message{
			Role: schema.Assistant,
			ToolCalls: []schema.ToolCall{{
				ID:       id,
				Function: schema.FunctionCall{Name: name, Arguments: args},
			}},
		}
	}
	p := &streamProvider{scripts: [][]*schema.Message{
		{
			frag("call-1", "stub", `{"pa`),
			frag("", "", `th":"`),
			frag("", "", `x"}`),
			finishMsg("tool_use"),
		},
		{textMsg("done"), finishMsg("stop")},
	}}

	stub := &stubTool{id: "stub", output: "ok"}
	tools := tool.NewRegistry(t.TempDir())
	tools.Register(stub)
	s, _ := newSessionFixture(t, p, tools)

	collectChunks(s, sessionRequest(1))

	require.Len(t, stub.inputs, 1)
	assert.JSONEq(t, `{"path":"x"}`, stub.inputs[0])
}

func TestSessionUnknownToolReportsError(t *testing.T) {
	toolCallMsg := &schema.Message{
		Role: schema.Assistant,
		ToolCalls: []schema.ToolCall{{
			ID:       "call-1",
			Function: schema.FunctionCall{Name: "missing", Arguments: `{}`},
		}},
	}
	p := &streamProvider{scripts: [][]*schema.Message{
		{toolCallMsg, finishMsg("tool_use")},
		{textMsg("recovered"), finishMsg("stop")},
	}}
	s, _ := newSessionFixture(t, p, nil)

	chunks := collectChunks(s, sessionRequest(1))

	var iteration *Chunk
	for i := range chunks {
		if chunks[i].Kind == KindToolIteration {
			iteration = &chunks[i]
		}
	}
	require.NotNil(t, iteration)
	require.Len(t, iteration.ToolOutcomes, 1)
	assert.Equal(t, types.ToolStateError, iteration.ToolOutcomes[0].State)
	assert.Contains(t, iteration.ToolOutcomes[0].Error, "missing")
}

func TestSessionUnknownProvider(t *testing.T) {
	p := &streamProvider{}
	s, _ := newSessionFixture(t, p, nil)

	req := sessionRequest(1)
	req.ProviderID = "nope"
	chunks := collectChunks(s, req)

	require.Len(t, chunks, 1)
	assert.Equal(t, KindError, chunks[0].Kind)
	require.NotNil(t, chunks[0].Err)
	assert.Equal(t, types.ErrCodeProvider, chunks[0].Err.Code)
}

func TestSessionCancelledBeforeProviderCall(t *testing.T) {
	p := &streamProvider{}
	s, _ := newSessionFixture(t, p, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var chunks []Chunk
	s.Run(ctx, sessionRequest(1), func(c Chunk) {
		chunks = append(chunks, c)
	})

	require.Len(t, chunks, 1)
	assert.Equal(t, KindCancelled, chunks[0].Kind)
	assert.Equal(t, "conv-1", chunks[0].ConversationID)
}
