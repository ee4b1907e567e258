// Package chat implements the streaming conversation core: one
// abortable assistant turn per conversation, incremental chunk
// reconciliation into message state, and the retry/edit/delete
// lifecycle against persisted history and checkpoints.
package chat

import "github.com/HCPTangHY/Lim-Code/pkg/types"

// ChunkKind tags a stream event.
type ChunkKind string

const (
	KindChunk                ChunkKind = "chunk"
	KindToolsExecuting       ChunkKind = "toolsExecuting"
	KindAwaitingConfirmation ChunkKind = "awaitingConfirmation"
	KindToolIteration        ChunkKind = "toolIteration"
	KindComplete             ChunkKind = "complete"
	KindCheckpoints          ChunkKind = "checkpoints"
	KindCancelled            ChunkKind = "cancelled"
	KindError                ChunkKind = "error"
)

// Chunk is one event emitted by a streaming turn. ConversationID and
// Turn let receivers discard events from conversations that are no
// longer displayed and from turns that have already terminated.
type Chunk struct {
	Kind           ChunkKind `json:"kind"`
	ConversationID string    `json:"conversationID"`
	Turn           uint64    `json:"turn"`

	// KindChunk payload
	Delta *Delta `json:"delta,omitempty"`

	// KindToolsExecuting / KindAwaitingConfirmation payload
	ToolCallIDs []string `json:"toolCallIDs,omitempty"`

	// KindCheckpoints / KindToolIteration / KindComplete payload
	Checkpoints []types.CheckpointRecord `json:"checkpoints,omitempty"`

	// KindToolIteration / KindCancelled payload: terminal states of
	// tool calls executed during the iteration.
	ToolOutcomes []ToolOutcome `json:"toolOutcomes,omitempty"`

	// KindError payload
	Err *types.ChatError `json:"error,omitempty"`
}

// ToolOutcome records the terminal state of one executed tool call.
type ToolOutcome struct {
	CallID string `json:"callID"`
	State  string `json:"state"`
	Title  string `json:"title,omitempty"`
	Output string `json:"output,omitempty"`
	Error  string `json:"error,omitempty"`
}

// Delta is an incremental text or tool-call fragment.
type Delta struct {
	Text     string            `json:"text,omitempty"`
	ToolCall *ToolCallFragment `json:"toolCall,omitempty"`
}

// ToolCallFragment is a piece of a tool call as produced by the
// provider. Arguments may be split across fragments at arbitrary
// boundaries; the reconciler buffers them until a complete unit parses.
type ToolCallFragment struct {
	CallID string `json:"callID"`
	Name   string `json:"name,omitempty"`
	Args   string `json:"args,omitempty"`
}
