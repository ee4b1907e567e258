package chat

import (
	"encoding/json"
	"strings"

	"github.com/HCPTangHY/Lim-Code/pkg/types"
)

// Phase is the per-conversation turn state machine. UI-facing booleans
// are derived from it instead of being stored separately.
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseAwaitingResponse
	PhaseStreaming
)

func (p Phase) String() string {
	switch p {
	case PhaseAwaitingResponse:
		return "awaiting_response"
	case PhaseStreaming:
		return "streaming"
	default:
		return "idle"
	}
}

// State is the in-memory state of one conversation. It is mutated only
// by the controller/reconciler pair, never concurrently.
type State struct {
	Conversation *types.Conversation
	Messages     []*types.Message
	Checkpoints  []types.CheckpointRecord
	Phase        Phase
	Err          *types.ChatError

	// StreamingMessageID identifies the single message being appended
	// to by the active turn; empty when no stream is open.
	StreamingMessageID string

	// Turn is a generation counter; chunks carrying an older value are
	// stale and ignored.
	Turn uint64

	// toolBuffers accumulates raw tool-call fragments per call id until
	// a complete unit parses. Scoped to a single turn.
	toolBuffers map[string]*toolBuffer
}

// NewState creates state for a conversation.
func NewState(conv *types.Conversation) *State {
	return &State{
		Conversation: conv,
		toolBuffers:  make(map[string]*toolBuffer),
	}
}

// IsWaitingForResponse reports whether a turn is in flight.
func (s *State) IsWaitingForResponse() bool { return s.Phase != PhaseIdle }

// IsStreaming reports whether chunks are currently arriving.
func (s *State) IsStreaming() bool { return s.Phase == PhaseStreaming }

// StreamingMessage returns the message the active turn appends to, or
// nil when no stream is open.
func (s *State) StreamingMessage() *types.Message {
	if s.StreamingMessageID == "" {
		return nil
	}
	for i := len(s.Messages) - 1; i >= 0; i-- {
		if s.Messages[i].ID == s.StreamingMessageID {
			return s.Messages[i]
		}
	}
	return nil
}

// ResetTransient drops state scoped to a single turn. Called before a
// retried or edited turn so buffers cannot leak into it.
func (s *State) ResetTransient() {
	s.toolBuffers = make(map[string]*toolBuffer)
}

// toolBuffer accumulates raw tool-call argument fragments.
type toolBuffer struct {
	callID  string
	name    string
	args    strings.Builder
	flushed bool
}

// complete reports whether the buffered arguments form a full JSON unit.
func (b *toolBuffer) complete() bool {
	raw := b.args.String()
	return raw != "" && json.Valid([]byte(raw))
}

func (b *toolBuffer) input() map[string]any {
	var input map[string]any
	if err := json.Unmarshal([]byte(b.args.String()), &input); err != nil {
		return nil
	}
	return input
}

// Preview derives the conversation list preview from the last
// non-empty message text.
func Preview(messages []*types.Message) string {
	for i := len(messages) - 1; i >= 0; i-- {
		if text := strings.TrimSpace(messages[i].Text()); text != "" {
			return truncateRunes(text, 100)
		}
	}
	return ""
}

// TitleFromText derives a conversation title from the first user
// message.
func TitleFromText(text string) string {
	text = strings.TrimSpace(text)
	if text == "" {
		return "New Conversation"
	}
	if idx := strings.IndexByte(text, '\n'); idx >= 0 {
		text = text[:idx]
	}
	return truncateRunes(text, 50)
}

func truncateRunes(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}
