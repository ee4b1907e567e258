package chat

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/HCPTangHY/Lim-Code/pkg/types"
)

func newStreamingState(t *testing.T) *State {
	t.Helper()
	conv := &types.Conversation{ID: "conv-1", Title: "test"}
	s := NewState(conv)
	s.Messages = []*types.Message{
		{ID: "m-user", ConversationID: conv.ID, Role: types.RoleUser},
		{ID: "m-asst", ConversationID: conv.ID, Role: types.RoleAssistant, Streaming: true},
	}
	s.StreamingMessageID = "m-asst"
	s.Phase = PhaseAwaitingResponse
	s.Turn = 1
	return s
}

func textChunk(s *State, text string) Chunk {
	return Chunk{
		Kind:           KindChunk,
		ConversationID: s.Conversation.ID,
		Turn:           s.Turn,
		Delta:          &Delta{Text: text},
	}
}

func toolFragment(s *State, callID, name, args string) Chunk {
	return Chunk{
		Kind:           KindChunk,
		ConversationID: s.Conversation.ID,
		Turn:           s.Turn,
		Delta:          &Delta{ToolCall: &ToolCallFragment{CallID: callID, Name: name, Args: args}},
	}
}

func TestReconcilerAppendsTextDeltas(t *testing.T) {
	r := NewReconciler()
	s := newStreamingState(t)

	r.Apply(s, textChunk(s, "Hello"))
	r.Apply(s, textChunk(s, ", world"))

	msg := s.StreamingMessage()
	require.NotNil(t, msg)
	assert.Equal(t, "Hello, world", msg.Text())
	assert.Equal(t, PhaseStreaming, s.Phase)
	assert.Len(t, msg.Parts, 1)
}

func TestReconcilerAtMostOneStreamingMessage(t *testing.T) {
	r := NewReconciler()
	s := newStreamingState(t)

	r.Apply(s, textChunk(s, "part one"))
	r.Apply(s, Chunk{Kind: KindToolIteration, ConversationID: s.Conversation.ID, Turn: s.Turn})
	r.Apply(s, textChunk(s, "part two"))

	streaming := 0
	for _, m := range s.Messages {
		if m.Streaming {
			streaming++
		}
	}
	assert.Equal(t, 1, streaming)

	r.Apply(s, Chunk{Kind: KindComplete, ConversationID: s.Conversation.ID, Turn: s.Turn})
	for _, m := range s.Messages {
		assert.False(t, m.Streaming)
	}
}

func TestReconcilerToolCallFragmentBuffering(t *testing.T) {
	r := NewReconciler()
	s := newStreamingState(t)

	// Arguments split across arbitrary boundaries must not flush until
	// a complete unit parses.
	r.Apply(s, toolFragment(s, "call-1", "edit", `{"filePa`))
	require.Empty(t, s.StreamingMessage().ToolParts())

	r.Apply(s, toolFragment(s, "call-1", "", `th":"a.txt"`))
	require.Empty(t, s.StreamingMessage().ToolParts())

	r.Apply(s, toolFragment(s, "call-1", "", `}`))
	parts := s.StreamingMessage().ToolParts()
	require.Len(t, parts, 1)
	assert.Equal(t, "call-1", parts[0].ToolCallID)
	assert.Equal(t, "edit", parts[0].ToolName)
	assert.Equal(t, types.ToolStatePending, parts[0].State)
	assert.Equal(t, "a.txt", parts[0].Input["filePath"])
}

func TestReconcilerIncompleteBufferDiscardedOnFinalize(t *testing.T) {
	r := NewReconciler()
	s := newStreamingState(t)

	r.Apply(s, toolFragment(s, "call-1", "edit", `{"never`))
	r.Apply(s, Chunk{Kind: KindComplete, ConversationID: s.Conversation.ID, Turn: s.Turn})

	assert.Empty(t, s.Messages[1].ToolParts())
	assert.Empty(t, s.toolBuffers)
}

func TestReconcilerStaleChunkAfterComplete(t *testing.T) {
	r := NewReconciler()
	s := newStreamingState(t)

	r.Apply(s, textChunk(s, "done"))
	r.Apply(s, Chunk{Kind: KindComplete, ConversationID: s.Conversation.ID, Turn: s.Turn})

	before := s.Messages[1].Text()
	r.Apply(s, textChunk(s, " late"))
	assert.Equal(t, before, s.Messages[1].Text())
	assert.Len(t, s.Messages, 2)
}

func TestReconcilerStaleTurnIgnored(t *testing.T) {
	r := NewReconciler()
	s := newStreamingState(t)

	old := Chunk{
		Kind:           KindChunk,
		ConversationID: s.Conversation.ID,
		Turn:           s.Turn - 1,
		Delta:          &Delta{Text: "from a previous turn"},
	}
	r.Apply(s, old)
	assert.Empty(t, s.Messages[1].Text())
}

func TestReconcilerCrossConversationIsolation(t *testing.T) {
	r := NewReconciler()
	s := newStreamingState(t)

	foreign := Chunk{
		Kind:           KindChunk,
		ConversationID: "conv-other",
		Turn:           s.Turn,
		Delta:          &Delta{Text: "should not appear"},
	}
	r.Apply(s, foreign)
	assert.Empty(t, s.Messages[1].Text())

	r.Apply(s, Chunk{Kind: KindComplete, ConversationID: "conv-other", Turn: s.Turn})
	assert.True(t, s.Messages[1].Streaming)
	assert.Equal(t, "m-asst", s.StreamingMessageID)
}

func TestReconcilerToolIterationOpensPlaceholder(t *testing.T) {
	r := NewReconciler()
	s := newStreamingState(t)

	r.Apply(s, textChunk(s, "Let me edit that file."))
	r.Apply(s, toolFragment(s, "call-1", "edit", `{"filePath":"a.txt"}`))
	r.Apply(s, Chunk{
		Kind:           KindToolIteration,
		ConversationID: s.Conversation.ID,
		Turn:           s.Turn,
		ToolOutcomes: []ToolOutcome{
			{CallID: "call-1", State: types.ToolStateCompleted, Output: "Replaced 1 occurrence(s)"},
		},
		Checkpoints: []types.CheckpointRecord{
			{Files: []types.CheckpointFile{{Path: "a.txt", Before: "old"}}},
		},
	})

	require.Len(t, s.Messages, 3)
	finalized := s.Messages[1]
	assert.False(t, finalized.Streaming)
	toolParts := finalized.ToolParts()
	require.Len(t, toolParts, 1)
	assert.Equal(t, types.ToolStateCompleted, toolParts[0].State)
	require.NotNil(t, toolParts[0].Output)
	assert.Equal(t, "Replaced 1 occurrence(s)", *toolParts[0].Output)

	placeholder := s.Messages[2]
	assert.True(t, placeholder.Streaming)
	assert.Equal(t, placeholder.ID, s.StreamingMessageID)
	assert.Equal(t, PhaseStreaming, s.Phase)

	require.Len(t, s.Checkpoints, 1)
	assert.Equal(t, s.Conversation.ID, s.Checkpoints[0].ConversationID)
	assert.Equal(t, 1, s.Checkpoints[0].MessageIndex)
	assert.NotEmpty(t, s.Checkpoints[0].ID)
}

func TestReconcilerToolStateTransitions(t *testing.T) {
	r := NewReconciler()
	s := newStreamingState(t)

	r.Apply(s, toolFragment(s, "call-1", "edit", `{"filePath":"a.txt"}`))
	r.Apply(s, Chunk{Kind: KindAwaitingConfirmation, ConversationID: s.Conversation.ID, Turn: s.Turn, ToolCallIDs: []string{"call-1"}})
	assert.Equal(t, types.ToolStateConfirmation, s.StreamingMessage().ToolParts()[0].State)

	r.Apply(s, Chunk{Kind: KindToolsExecuting, ConversationID: s.Conversation.ID, Turn: s.Turn, ToolCallIDs: []string{"call-1"}})
	assert.Equal(t, types.ToolStateExecuting, s.StreamingMessage().ToolParts()[0].State)
}

func TestReconcilerCancelledPreservesPartialContent(t *testing.T) {
	r := NewReconciler()
	s := newStreamingState(t)

	r.Apply(s, textChunk(s, "partial answ"))
	r.Apply(s, Chunk{Kind: KindCancelled, ConversationID: s.Conversation.ID, Turn: s.Turn})

	assert.Equal(t, "partial answ", s.Messages[1].Text())
	assert.False(t, s.Messages[1].Streaming)
	assert.Empty(t, s.StreamingMessageID)
	assert.Equal(t, PhaseIdle, s.Phase)

	r.Apply(s, textChunk(s, "stray"))
	assert.Equal(t, "partial answ", s.Messages[1].Text())
}

func TestReconcilerErrorSetsErrorSlot(t *testing.T) {
	r := NewReconciler()
	s := newStreamingState(t)

	r.Apply(s, Chunk{
		Kind:           KindError,
		ConversationID: s.Conversation.ID,
		Turn:           s.Turn,
		Err:            types.NewChatError(types.ErrCodeProvider, "rate limited"),
	})

	require.NotNil(t, s.Err)
	assert.Equal(t, types.ErrCodeProvider, s.Err.Code)
	assert.Equal(t, PhaseIdle, s.Phase)
	assert.False(t, s.Messages[1].Streaming)
}

func TestReconcilerCheckpointsChunkAppends(t *testing.T) {
	r := NewReconciler()
	s := newStreamingState(t)

	r.Apply(s, Chunk{
		Kind:           KindCheckpoints,
		ConversationID: s.Conversation.ID,
		Turn:           s.Turn,
		Checkpoints:    []types.CheckpointRecord{{Files: []types.CheckpointFile{{Path: "b.txt"}}}},
	})

	require.Len(t, s.Checkpoints, 1)
	assert.True(t, s.Messages[1].Streaming, "checkpoint append must not finalize the message")
}
