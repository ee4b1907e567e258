package chat

import (
	"time"

	"github.com/HCPTangHY/Lim-Code/pkg/types"
)

// Reconciler applies incoming stream chunks to conversation state.
// Apply is the single writer of message content for a conversation;
// callers serialize invocations per conversation.
type Reconciler struct{}

// NewReconciler creates a reconciler.
func NewReconciler() *Reconciler {
	return &Reconciler{}
}

// Apply folds one chunk into state. Chunks for other conversations and
// stale chunks (older turn, or content chunks after the stream closed)
// are ignored without mutating anything.
func (r *Reconciler) Apply(s *State, c Chunk) {
	if s.Conversation == nil || c.ConversationID != s.Conversation.ID {
		return
	}
	if c.Turn != s.Turn {
		return
	}

	switch c.Kind {
	case KindChunk:
		r.applyDelta(s, c)
	case KindToolsExecuting:
		r.markToolCalls(s, c.ToolCallIDs, types.ToolStateExecuting)
	case KindAwaitingConfirmation:
		r.markToolCalls(s, c.ToolCallIDs, types.ToolStateConfirmation)
	case KindToolIteration:
		r.applyToolIteration(s, c)
	case KindComplete:
		r.appendCheckpoints(s, c.Checkpoints)
		r.finalizeStreaming(s)
		s.StreamingMessageID = ""
		s.Phase = PhaseIdle
	case KindCheckpoints:
		r.appendCheckpoints(s, c.Checkpoints)
	case KindCancelled:
		// Partial content already appended stays as-is.
		r.settleOutcomes(s, c.ToolOutcomes)
		r.finalizeStreaming(s)
		s.StreamingMessageID = ""
		s.Phase = PhaseIdle
	case KindError:
		if c.Err != nil {
			s.Err = c.Err
		}
		r.finalizeStreaming(s)
		s.StreamingMessageID = ""
		s.Phase = PhaseIdle
	}
}

// applyDelta appends an incremental fragment to the streaming message.
func (r *Reconciler) applyDelta(s *State, c Chunk) {
	msg := s.StreamingMessage()
	if msg == nil || c.Delta == nil {
		// Late chunk after cancellation/completion.
		return
	}
	if s.Phase == PhaseAwaitingResponse {
		s.Phase = PhaseStreaming
	}

	if c.Delta.Text != "" {
		r.appendText(msg, c.Delta.Text)
	}
	if c.Delta.ToolCall != nil {
		r.bufferToolCall(s, msg, c.Delta.ToolCall)
	}
}

func (r *Reconciler) appendText(msg *types.Message, text string) {
	if n := len(msg.Parts); n > 0 {
		if tp, ok := msg.Parts[n-1].(*types.TextPart); ok {
			tp.Text += text
			return
		}
	}
	now := time.Now().UnixMilli()
	msg.Parts = append(msg.Parts, &types.TextPart{
		ID:   newID(),
		Type: "text",
		Text: text,
		Time: types.PartTime{Start: &now},
	})
}

// bufferToolCall accumulates raw fragments for a tool call and flushes
// a structured part onto the message once a complete unit parses.
// Fragments may split at arbitrary boundaries; a partial unit is never
// flushed, and one that never completes is dropped at finalization.
func (r *Reconciler) bufferToolCall(s *State, msg *types.Message, frag *ToolCallFragment) {
	buf, ok := s.toolBuffers[frag.CallID]
	if !ok {
		buf = &toolBuffer{callID: frag.CallID}
		s.toolBuffers[frag.CallID] = buf
	}
	if frag.Name != "" {
		buf.name = frag.Name
	}
	if frag.Args != "" {
		buf.args.WriteString(frag.Args)
	}

	if buf.flushed || !buf.complete() {
		return
	}
	buf.flushed = true

	now := time.Now().UnixMilli()
	msg.Parts = append(msg.Parts, &types.ToolPart{
		ID:         newID(),
		Type:       "tool",
		ToolCallID: buf.callID,
		ToolName:   buf.name,
		Input:      buf.input(),
		State:      types.ToolStatePending,
		Time:       types.PartTime{Start: &now},
	})
}

// markToolCalls updates the state of listed tool-call parts on the
// streaming message. Status only; content is untouched.
func (r *Reconciler) markToolCalls(s *State, callIDs []string, state string) {
	msg := s.StreamingMessage()
	if msg == nil {
		return
	}
	listed := make(map[string]bool, len(callIDs))
	for _, id := range callIDs {
		listed[id] = true
	}
	for _, part := range msg.ToolParts() {
		if listed[part.ToolCallID] {
			part.State = state
		}
	}
}

// applyToolIteration closes the current assistant message as one turn
// segment and opens a fresh streaming placeholder: a tool round trip
// produces a new logical assistant message.
func (r *Reconciler) applyToolIteration(s *State, c Chunk) {
	if s.StreamingMessageID == "" {
		return
	}
	r.settleOutcomes(s, c.ToolOutcomes)
	r.appendCheckpoints(s, c.Checkpoints)
	prev := s.StreamingMessage()
	r.finalizeStreaming(s)

	placeholder := &types.Message{
		ID:             newID(),
		ConversationID: s.Conversation.ID,
		Role:           types.RoleAssistant,
		Streaming:      true,
		Time:           types.MessageTime{Created: time.Now().UnixMilli()},
	}
	if prev != nil {
		placeholder.Model = prev.Model
	}
	s.Messages = append(s.Messages, placeholder)
	s.StreamingMessageID = placeholder.ID
	s.Phase = PhaseStreaming
}

// settleOutcomes writes terminal tool-call results onto the streaming
// message's tool parts.
func (r *Reconciler) settleOutcomes(s *State, outcomes []ToolOutcome) {
	if len(outcomes) == 0 {
		return
	}
	msg := s.StreamingMessage()
	if msg == nil {
		return
	}
	byCall := make(map[string]ToolOutcome, len(outcomes))
	for _, o := range outcomes {
		byCall[o.CallID] = o
	}
	now := time.Now().UnixMilli()
	for _, part := range msg.ToolParts() {
		o, ok := byCall[part.ToolCallID]
		if !ok {
			continue
		}
		part.State = o.State
		if o.Title != "" {
			title := o.Title
			part.Title = &title
		}
		if o.Output != "" {
			out := o.Output
			part.Output = &out
		}
		if o.Error != "" {
			errText := o.Error
			part.Error = &errText
		}
		part.Time.End = &now
	}
}

// finalizeStreaming marks the streaming message as settled and drops
// tool-call buffers that never completed.
func (r *Reconciler) finalizeStreaming(s *State) {
	if msg := s.StreamingMessage(); msg != nil {
		msg.Streaming = false
	}
	s.toolBuffers = make(map[string]*toolBuffer)
}

// appendCheckpoints attaches records to the conversation, anchored at
// the current streaming message's index.
func (r *Reconciler) appendCheckpoints(s *State, records []types.CheckpointRecord) {
	if len(records) == 0 {
		return
	}
	index := len(s.Messages) - 1
	if msg := s.StreamingMessage(); msg != nil {
		for i, m := range s.Messages {
			if m.ID == msg.ID {
				index = i
				break
			}
		}
	}
	now := time.Now().UnixMilli()
	for _, record := range records {
		if record.ID == "" {
			record.ID = newID()
		}
		record.ConversationID = s.Conversation.ID
		record.MessageIndex = index
		if record.Created == 0 {
			record.Created = now
		}
		s.Checkpoints = append(s.Checkpoints, record)
	}
}
