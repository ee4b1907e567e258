package chat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/cloudwego/eino/schema"
	"github.com/rs/zerolog"

	"github.com/HCPTangHY/Lim-Code/internal/abort"
	"github.com/HCPTangHY/Lim-Code/internal/logging"
	"github.com/HCPTangHY/Lim-Code/internal/provider"
	"github.com/HCPTangHY/Lim-Code/internal/tool"
	"github.com/HCPTangHY/Lim-Code/pkg/types"
)

const (
	// MaxSteps is the maximum number of agentic loop iterations per turn.
	MaxSteps = 50
	// MaxRetries is the maximum number of retries for provider errors.
	MaxRetries = 3
	// RetryInitialInterval is the initial interval for exponential backoff.
	RetryInitialInterval = time.Second
	// RetryMaxInterval is the maximum interval for exponential backoff.
	RetryMaxInterval = 30 * time.Second
	// RetryMaxElapsedTime is the maximum total time spent retrying.
	RetryMaxElapsedTime = 2 * time.Minute
)

// TurnRequest describes one assistant turn to run.
type TurnRequest struct {
	Conversation *types.Conversation
	Messages     []*types.Message
	Turn         uint64
	ProviderID   string
	Model        *types.Model
	SystemPrompt string
}

// TurnRunner drives one assistant turn and emits ordered chunks. Run
// returns only after a terminal chunk (complete, cancelled or error)
// has been emitted.
type TurnRunner interface {
	Run(ctx context.Context, req TurnRequest, emit func(Chunk))
}

// Confirmer resolves tool calls that require user approval. Await
// blocks until the call is approved, rejected or the context ends.
type Confirmer interface {
	Await(ctx context.Context, conversationID, callID string) (bool, error)
}

// Session orchestrates streaming assistant turns: it registers an
// abort token per conversation, drives the provider stream, executes
// tool calls between iterations and emits the resulting chunk stream.
type Session struct {
	providers *provider.Registry
	tools     *tool.Registry
	aborts    *abort.Registry
	confirmer Confirmer
	workDir   string
	maxSteps  int
	log       zerolog.Logger
}

// NewSession creates a session over the given collaborators.
func NewSession(providers *provider.Registry, tools *tool.Registry, aborts *abort.Registry, confirmer Confirmer, workDir string) *Session {
	return &Session{
		providers: providers,
		tools:     tools,
		aborts:    aborts,
		confirmer: confirmer,
		workDir:   workDir,
		maxSteps:  MaxSteps,
		log:       logging.Component("session"),
	}
}

// SetConfirmer installs the approval gate. Wired after construction
// because the controller both drives the session and resolves its
// confirmations. Must be called before the first turn starts.
func (s *Session) SetConfirmer(c Confirmer) {
	s.confirmer = c
}

// AbortKey returns the abort-registry key for a conversation's turn.
func AbortKey(conversationID string) string {
	return "chat:" + conversationID
}

func newRetryBackoff(ctx context.Context) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = RetryInitialInterval
	b.MaxInterval = RetryMaxInterval
	b.MaxElapsedTime = RetryMaxElapsedTime
	b.RandomizationFactor = 0.5
	b.Multiplier = 2.0
	b.Reset()
	return backoff.WithContext(backoff.WithMaxRetries(b, MaxRetries), ctx)
}

// Run executes one assistant turn. Chunks are emitted in order through
// emit; the final chunk is always complete, cancelled or error.
func (s *Session) Run(ctx context.Context, req TurnRequest, emit func(Chunk)) {
	token := s.aborts.Create(ctx, AbortKey(req.Conversation.ID))
	defer s.aborts.Delete(token.Key())
	tctx := token.Context()

	send := func(c Chunk) {
		c.ConversationID = req.Conversation.ID
		c.Turn = req.Turn
		emit(c)
	}

	prov, err := s.providers.Get(req.ProviderID)
	if err != nil {
		send(Chunk{Kind: KindError, Err: types.NewChatError(types.ErrCodeProvider, err.Error())})
		return
	}

	history := s.buildHistory(req)
	retry := newRetryBackoff(tctx)

	for step := 0; ; step++ {
		if token.Cancelled() {
			send(Chunk{Kind: KindCancelled})
			return
		}
		if step >= s.maxSteps {
			send(Chunk{Kind: KindError, Err: types.NewChatError(types.ErrCodeProvider, "maximum tool iterations reached")})
			return
		}

		stream, err := prov.CreateCompletion(tctx, &provider.CompletionRequest{
			Model:     req.Model.ID,
			Messages:  history,
			Tools:     s.resolveTools(req.Model),
			MaxTokens: req.Model.MaxOutputTokens,
		})
		if err != nil {
			if s.retryOrFail(tctx, token, retry, err, send) {
				continue
			}
			return
		}

		turn, err := s.drive(tctx, stream, send)
		stream.Close()
		if err != nil {
			if s.retryOrFail(tctx, token, retry, err, send) {
				continue
			}
			return
		}
		retry.Reset()

		history = append(history, turn.assistantMessage())

		switch turn.finish {
		case "tool_use", "tool_calls":
			results, cancelled := s.executeTools(tctx, token, req, turn.calls, send)
			if cancelled {
				send(Chunk{Kind: KindCancelled, ToolOutcomes: results.outcomes})
				return
			}
			send(Chunk{
				Kind:         KindToolIteration,
				ToolOutcomes: results.outcomes,
				Checkpoints:  results.checkpoints,
			})
			history = append(history, results.messages...)

		default:
			// stop, end_turn, max_tokens and anything unrecognized all
			// terminate the turn.
			send(Chunk{Kind: KindComplete})
			return
		}
	}
}

// retryOrFail classifies a provider failure. It returns true when the
// caller should retry the iteration; otherwise a terminal chunk has
// been emitted. Failures observed after the token was cancelled are
// cancellations, not errors.
func (s *Session) retryOrFail(ctx context.Context, token *abort.Token, retry backoff.BackOff, err error, send func(Chunk)) bool {
	if token.Cancelled() || errors.Is(err, context.Canceled) {
		send(Chunk{Kind: KindCancelled})
		return false
	}

	next := retry.NextBackOff()
	if next == backoff.Stop {
		send(Chunk{Kind: KindError, Err: types.NewChatError(types.ErrCodeProvider, err.Error())})
		return false
	}

	s.log.Warn().Err(err).Dur("backoff", next).Msg("provider request failed, retrying")
	select {
	case <-time.After(next):
		return true
	case <-ctx.Done():
		send(Chunk{Kind: KindCancelled})
		return false
	}
}

// turnResult accumulates one provider stream pass.
type turnResult struct {
	content   string
	toolCalls []schema.ToolCall
	calls     []pendingCall
	finish    string
}

type pendingCall struct {
	callID string
	name   string
	args   string
}

func (t *turnResult) assistantMessage() *schema.Message {
	return &schema.Message{
		Role:      schema.Assistant,
		Content:   t.content,
		ToolCalls: t.toolCalls,
	}
}

// drive consumes the provider stream, translating cumulative provider
// output into incremental chunk deltas.
func (s *Session) drive(ctx context.Context, stream *provider.CompletionStream, send func(Chunk)) (*turnResult, error) {
	res := &turnResult{}
	argsSeen := make(map[string]string)
	callOrder := []string{}
	callNames := make(map[string]string)

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		msg, err := stream.Recv()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}

		if msg.Content != "" {
			delta := msg.Content
			// Some providers resend the full accumulated content.
			if strings.HasPrefix(msg.Content, res.content) && len(msg.Content) > len(res.content) {
				delta = msg.Content[len(res.content):]
				res.content = msg.Content
			} else if msg.Content == res.content {
				delta = ""
			} else {
				res.content += msg.Content
			}
			if delta != "" {
				send(Chunk{Kind: KindChunk, Delta: &Delta{Text: delta}})
			}
		}

		for _, tc := range msg.ToolCalls {
			id := tc.ID
			if id == "" && len(callOrder) > 0 {
				// Argument-only fragments omit the call id.
				id = callOrder[len(callOrder)-1]
			}
			if id == "" {
				continue
			}
			if _, known := callNames[id]; !known {
				callOrder = append(callOrder, id)
				callNames[id] = tc.Function.Name
			}
			if tc.Function.Name != "" {
				callNames[id] = tc.Function.Name
			}

			incoming := tc.Function.Arguments
			prev := argsSeen[id]
			delta := incoming
			if strings.HasPrefix(incoming, prev) {
				delta = incoming[len(prev):]
				argsSeen[id] = incoming
			} else {
				argsSeen[id] = prev + incoming
			}

			if tc.Function.Name == "" && delta == "" {
				continue
			}
			send(Chunk{Kind: KindChunk, Delta: &Delta{ToolCall: &ToolCallFragment{
				CallID: id,
				Name:   tc.Function.Name,
				Args:   delta,
			}}})
		}

		if msg.ResponseMeta != nil && msg.ResponseMeta.FinishReason != "" {
			res.finish = msg.ResponseMeta.FinishReason
		}
	}

	for _, id := range callOrder {
		res.calls = append(res.calls, pendingCall{
			callID: id,
			name:   callNames[id],
			args:   argsSeen[id],
		})
		res.toolCalls = append(res.toolCalls, schema.ToolCall{
			ID: id,
			Function: schema.FunctionCall{
				Name:      callNames[id],
				Arguments: argsSeen[id],
			},
		})
	}

	if res.finish == "" {
		if len(res.calls) > 0 {
			res.finish = "tool_use"
		} else {
			res.finish = "stop"
		}
	}
	return res, nil
}

// toolResults collects the products of one tool iteration.
type toolResults struct {
	outcomes    []ToolOutcome
	checkpoints []types.CheckpointRecord
	messages    []*schema.Message
}

// executeTools runs each pending call, routing confirmation-gated
// tools through the confirmer first. It returns cancelled=true when
// the token fired mid-iteration; outcomes accumulated so far are still
// returned so the terminal chunk can settle them.
func (s *Session) executeTools(ctx context.Context, token *abort.Token, req TurnRequest, calls []pendingCall, send func(Chunk)) (toolResults, bool) {
	var results toolResults
	var files []types.CheckpointFile

	for _, call := range calls {
		if token.Cancelled() {
			return results, true
		}

		outcome, change := s.executeSingleTool(ctx, token, req, call, send)
		results.outcomes = append(results.outcomes, outcome)
		files = append(files, change...)

		content := outcome.Output
		if outcome.State == types.ToolStateError {
			content = "Error: " + outcome.Error
		} else if outcome.State == types.ToolStateRejected {
			content = "The user rejected this tool call."
		}
		results.messages = append(results.messages, &schema.Message{
			Role:       schema.Tool,
			ToolCallID: call.callID,
			Content:    content,
		})

		if token.Cancelled() {
			return results, true
		}
	}

	if len(files) > 0 {
		results.checkpoints = append(results.checkpoints, types.CheckpointRecord{Files: files})
	}
	return results, false
}

func (s *Session) executeSingleTool(ctx context.Context, token *abort.Token, req TurnRequest, call pendingCall, send func(Chunk)) (ToolOutcome, []types.CheckpointFile) {
	t, ok := s.tools.Get(call.name)
	if !ok {
		return ToolOutcome{
			CallID: call.callID,
			State:  types.ToolStateError,
			Error:  fmt.Sprintf("tool not found: %s", call.name),
		}, nil
	}

	if t.NeedsConfirmation() && s.confirmer != nil {
		send(Chunk{Kind: KindAwaitingConfirmation, ToolCallIDs: []string{call.callID}})
		approved, err := s.confirmer.Await(ctx, req.Conversation.ID, call.callID)
		if err != nil || !approved {
			return ToolOutcome{
				CallID: call.callID,
				State:  types.ToolStateRejected,
			}, nil
		}
	}

	send(Chunk{Kind: KindToolsExecuting, ToolCallIDs: []string{call.callID}})

	toolCtx := &tool.Context{
		ConversationID: req.Conversation.ID,
		CallID:         call.callID,
		WorkDir:        s.workDir,
		AbortCh:        token.Done(),
	}

	input := call.args
	if !json.Valid([]byte(input)) {
		input = "{}"
	}

	result, err := t.Execute(ctx, json.RawMessage(input), toolCtx)
	if err != nil {
		if token.Cancelled() || errors.Is(err, context.Canceled) {
			return ToolOutcome{CallID: call.callID, State: types.ToolStateRejected}, nil
		}
		return ToolOutcome{
			CallID: call.callID,
			State:  types.ToolStateError,
			Error:  err.Error(),
		}, nil
	}

	if result.Error != nil {
		return ToolOutcome{
			CallID: call.callID,
			State:  types.ToolStateError,
			Title:  result.Title,
			Output: result.Output,
			Error:  result.Error.Error(),
		}, nil
	}

	var files []types.CheckpointFile
	for _, fc := range result.FileChanges {
		files = append(files, types.CheckpointFile{
			Path:   fc.Path,
			Before: fc.Before,
			Diff:   fc.Diff,
		})
	}

	return ToolOutcome{
		CallID: call.callID,
		State:  types.ToolStateCompleted,
		Title:  result.Title,
		Output: result.Output,
	}, files
}

// buildHistory converts persisted messages into provider format.
func (s *Session) buildHistory(req TurnRequest) []*schema.Message {
	history := make([]*schema.Message, 0, len(req.Messages)+1)
	if req.SystemPrompt != "" {
		history = append(history, &schema.Message{Role: schema.System, Content: req.SystemPrompt})
	}

	for _, msg := range req.Messages {
		if msg.Streaming {
			continue
		}
		converted := convertMessage(msg)
		history = append(history, converted...)
	}
	return history
}

// convertMessage maps one stored message to provider messages. An
// assistant message with tool parts expands into the assistant call
// plus one tool-result message per settled call.
func convertMessage(msg *types.Message) []*schema.Message {
	role := schema.Assistant
	switch msg.Role {
	case types.RoleUser:
		role = schema.User
	case types.RoleTool:
		role = schema.Tool
	}

	out := &schema.Message{Role: role, Content: msg.Text()}
	result := []*schema.Message{out}

	if msg.Role != types.RoleAssistant {
		return result
	}

	for _, part := range msg.ToolParts() {
		inputJSON, _ := json.Marshal(part.Input)
		out.ToolCalls = append(out.ToolCalls, schema.ToolCall{
			ID: part.ToolCallID,
			Function: schema.FunctionCall{
				Name:      part.ToolName,
				Arguments: string(inputJSON),
			},
		})

		content := ""
		switch {
		case part.Output != nil:
			content = *part.Output
		case part.Error != nil:
			content = "Error: " + *part.Error
		case part.State == types.ToolStateRejected:
			content = "The user rejected this tool call."
		default:
			content = "(no result)"
		}
		result = append(result, &schema.Message{
			Role:       schema.Tool,
			ToolCallID: part.ToolCallID,
			Content:    content,
		})
	}
	return result
}

func (s *Session) resolveTools(model *types.Model) []*schema.ToolInfo {
	if model == nil || !model.SupportsTools || s.tools == nil {
		return nil
	}
	return s.tools.ToolInfos()
}
