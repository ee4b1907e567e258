package chat

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/HCPTangHY/Lim-Code/internal/abort"
	"github.com/HCPTangHY/Lim-Code/internal/event"
	"github.com/HCPTangHY/Lim-Code/internal/logging"
	"github.com/HCPTangHY/Lim-Code/internal/provider"
	"github.com/HCPTangHY/Lim-Code/internal/storage"
	"github.com/HCPTangHY/Lim-Code/pkg/types"
)

// Controller owns the state of the currently displayed conversation
// and serializes every mutation of it: user operations and incoming
// stream chunks all pass through the controller's mutex, so message
// and checkpoint lists have a single writer.
type Controller struct {
	mu         sync.Mutex
	state      *State
	store      *storage.ConversationStore
	runner     TurnRunner
	reconciler *Reconciler
	aborts     *abort.Registry
	providers  *provider.Registry
	bus        *event.Bus
	workspace  string
	log        zerolog.Logger

	// running tracks the chunk-consumer goroutine per conversation;
	// the channel closes once the turn's terminal chunk was applied.
	running map[string]chan struct{}

	// deleting suppresses duplicate cascade deletions while a backend
	// round trip is in flight.
	deleting map[string]bool

	// confirmations holds pending tool-call approvals per conversation.
	confirmations map[string]map[string]chan bool
}

// NewController creates a controller over the given collaborators. The
// runner is typically a *Session; tests inject their own.
func NewController(store *storage.ConversationStore, runner TurnRunner, aborts *abort.Registry, providers *provider.Registry, bus *event.Bus, workspace string) *Controller {
	c := &Controller{
		store:         store,
		runner:        runner,
		reconciler:    NewReconciler(),
		aborts:        aborts,
		providers:     providers,
		bus:           bus,
		workspace:     workspace,
		log:           logging.Component("chat"),
		running:       make(map[string]chan struct{}),
		deleting:      make(map[string]bool),
		confirmations: make(map[string]map[string]chan bool),
	}
	c.state = NewState(c.newConversation())
	return c
}

func (c *Controller) newConversation() *types.Conversation {
	now := time.Now().UnixMilli()
	return &types.Conversation{
		ID:        newID(),
		Title:     "New Conversation",
		Workspace: c.workspace,
		Time:      types.ConversationTime{Created: now, Updated: now},
	}
}

// Snapshot returns a copy of the current conversation state safe for
// concurrent readers. Message pointers are shared; treat as read-only.
func (c *Controller) Snapshot() State {
	c.mu.Lock()
	defer c.mu.Unlock()

	snap := State{
		Conversation:       c.state.Conversation,
		Phase:              c.state.Phase,
		Err:                c.state.Err,
		StreamingMessageID: c.state.StreamingMessageID,
		Turn:               c.state.Turn,
	}
	snap.Messages = append(snap.Messages, c.state.Messages...)
	snap.Checkpoints = append(snap.Checkpoints, c.state.Checkpoints...)
	return snap
}

// CurrentConversationID returns the displayed conversation's id.
func (c *Controller) CurrentConversationID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state.Conversation.ID
}

// SendMessage appends a user message to the current conversation and
// starts a new assistant turn. modelStr selects "provider/model"; empty
// picks the configured default. Empty text is a no-op.
func (c *Controller) SendMessage(ctx context.Context, text string, modelStr string) error {
	if strings.TrimSpace(text) == "" {
		return nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state.Phase != PhaseIdle {
		return types.NewChatError(types.ErrCodeSend, "a turn is already in progress")
	}

	model, providerID, err := c.resolveModel(modelStr)
	if err != nil {
		return types.NewChatError(types.ErrCodeSend, err.Error())
	}

	conv := c.state.Conversation
	if !conv.Persisted {
		conv.Title = TitleFromText(text)
		if _, err := c.store.CreateConversation(ctx, conv.ID, conv.Title, conv.Workspace); err != nil {
			return types.NewChatError(types.ErrCodeSend, fmt.Sprintf("failed to persist conversation: %v", err))
		}
		conv.Persisted = true
		c.bus.Publish(event.Event{
			Type: event.ConversationCreated,
			Data: event.ConversationCreatedData{Info: conv},
		})
	}

	now := time.Now().UnixMilli()
	userMsg := &types.Message{
		ID:             newID(),
		ConversationID: conv.ID,
		Role:           types.RoleUser,
		Parts: []types.Part{&types.TextPart{
			ID:   newID(),
			Type: "text",
			Text: text,
			Time: types.PartTime{Start: &now},
		}},
		Model: &types.ModelRef{ProviderID: providerID, ModelID: model.ID},
		Time:  types.MessageTime{Created: now},
	}
	if err := c.store.SaveMessage(ctx, userMsg); err != nil {
		return types.NewChatError(types.ErrCodeSend, fmt.Sprintf("failed to save message: %v", err))
	}
	c.state.Messages = append(c.state.Messages, userMsg)

	c.startTurn(model, providerID)
	return nil
}

// resolveModel picks the model for a turn. Caller holds the mutex.
func (c *Controller) resolveModel(modelStr string) (*types.Model, string, error) {
	if modelStr == "" {
		model, err := c.providers.DefaultModel()
		if err != nil {
			return nil, "", err
		}
		return model, model.ProviderID, nil
	}
	providerID, modelID := provider.ParseModelString(modelStr)
	model, err := c.providers.GetModel(providerID, modelID)
	if err != nil {
		return nil, "", err
	}
	return model, providerID, nil
}

// startTurn opens a streaming placeholder and launches the runner.
// Caller holds the mutex and has verified Phase == PhaseIdle.
func (c *Controller) startTurn(model *types.Model, providerID string) {
	conv := c.state.Conversation
	now := time.Now().UnixMilli()

	placeholder := &types.Message{
		ID:             newID(),
		ConversationID: conv.ID,
		Role:           types.RoleAssistant,
		Streaming:      true,
		Model:          &types.ModelRef{ProviderID: providerID, ModelID: model.ID},
		Time:           types.MessageTime{Created: now},
	}
	c.state.Messages = append(c.state.Messages, placeholder)
	c.state.StreamingMessageID = placeholder.ID
	c.state.Phase = PhaseAwaitingResponse
	c.state.Err = nil
	c.state.Turn++

	req := TurnRequest{
		Conversation: conv,
		Messages:     c.state.Messages[:len(c.state.Messages)-1],
		Turn:         c.state.Turn,
		ProviderID:   providerID,
		Model:        model,
	}

	done := make(chan struct{})
	c.running[conv.ID] = done

	// One buffered channel per turn keeps chunk application ordered
	// with a single consumer.
	chunks := make(chan Chunk, 64)
	go func() {
		c.runner.Run(context.Background(), req, func(ch Chunk) {
			chunks <- ch
		})
		close(chunks)
	}()
	go func() {
		defer close(done)
		for ch := range chunks {
			c.applyChunk(ch)
		}
		c.mu.Lock()
		if c.running[conv.ID] == done {
			delete(c.running, conv.ID)
		}
		c.mu.Unlock()
	}()
}

// applyChunk folds one chunk into state under the controller mutex,
// relays it on the bus, and persists terminal results.
func (c *Controller) applyChunk(ch Chunk) {
	c.mu.Lock()
	defer c.mu.Unlock()

	current := c.state.Conversation.ID == ch.ConversationID && c.state.Turn == ch.Turn
	streamingID := c.state.StreamingMessageID

	c.reconciler.Apply(c.state, ch)
	c.bus.PublishSync(event.Event{Type: event.ChatChunk, Data: ch})

	if !current {
		return
	}

	ctx := context.Background()
	switch ch.Kind {
	case KindToolIteration:
		// The message before the new placeholder was just finalized.
		c.persistMessageByID(ctx, streamingID)
		c.persistNewCheckpoints(ctx, len(ch.Checkpoints))

	case KindCheckpoints:
		c.persistNewCheckpoints(ctx, len(ch.Checkpoints))

	case KindComplete, KindCancelled, KindError:
		c.persistMessageByID(ctx, streamingID)
		c.persistNewCheckpoints(ctx, len(ch.Checkpoints))
		c.persistConversationMeta(ctx)
	}
}

func (c *Controller) persistMessageByID(ctx context.Context, id string) {
	if id == "" {
		return
	}
	for _, msg := range c.state.Messages {
		if msg.ID == id {
			if err := c.store.SaveMessage(ctx, msg); err != nil {
				c.log.Error().Err(err).Str("message", id).Msg("failed to persist message")
			}
			return
		}
	}
}

func (c *Controller) persistNewCheckpoints(ctx context.Context, n int) {
	if n == 0 {
		return
	}
	records := c.state.Checkpoints[len(c.state.Checkpoints)-n:]
	if err := c.store.AppendCheckpoints(ctx, c.state.Conversation.ID, records); err != nil {
		c.log.Error().Err(err).Msg("failed to persist checkpoints")
	}
}

func (c *Controller) persistConversationMeta(ctx context.Context) {
	conv := c.state.Conversation
	if !conv.Persisted {
		return
	}
	conv.MessageCount = len(c.state.Messages)
	conv.Preview = Preview(c.state.Messages)
	if err := c.store.SaveMetadata(ctx, conv); err != nil {
		c.log.Error().Err(err).Msg("failed to persist conversation metadata")
		return
	}
	c.bus.Publish(event.Event{
		Type: event.ConversationUpdated,
		Data: event.ConversationUpdatedData{Info: conv},
	})
}

// Cancel aborts the active turn of the current conversation. It is
// idempotent and returns immediately; the cancelled chunk arrives
// through the normal stream path.
func (c *Controller) Cancel() bool {
	c.mu.Lock()
	id := c.state.Conversation.ID
	c.mu.Unlock()
	return c.aborts.Cancel(AbortKey(id))
}

// cancelAndWait aborts the active turn for the conversation and blocks
// until its terminal chunk has been applied. Caller must hold the
// mutex; it is released while waiting and re-acquired before return.
func (c *Controller) cancelAndWait(conversationID string) {
	done, active := c.running[conversationID]
	if !active {
		return
	}
	c.aborts.Cancel(AbortKey(conversationID))

	c.mu.Unlock()
	<-done
	c.mu.Lock()
}

// RetryLastMessage re-runs the turn for the most recent user message.
func (c *Controller) RetryLastMessage(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	last := -1
	for i := len(c.state.Messages) - 1; i >= 0; i-- {
		if c.state.Messages[i].Role == types.RoleUser {
			last = i
			break
		}
	}
	if last < 0 {
		return types.NewChatError(types.ErrCodeRetry, "no user message to retry")
	}
	return c.retryFromLocked(ctx, last+1, types.ErrCodeRetry)
}

// RetryFromMessage discards messages at or after index and re-runs the
// turn for the preceding user message.
func (c *Controller) RetryFromMessage(ctx context.Context, index int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.retryFromLocked(ctx, index, types.ErrCodeRetry)
}

// retryFromLocked truncates history to index (exclusive) and starts a
// new turn. Backend deletion is best-effort: local truncation already
// happened, divergence is reconciled by the drift watcher. Caller
// holds the mutex.
func (c *Controller) retryFromLocked(ctx context.Context, index int, code types.ErrorCode) error {
	if index < 1 || index > len(c.state.Messages) {
		return types.NewChatError(code, fmt.Sprintf("invalid message index %d", index))
	}

	c.cancelAndWait(c.state.Conversation.ID)

	if index > len(c.state.Messages) {
		index = len(c.state.Messages)
	}
	c.state.Messages = c.state.Messages[:index]
	c.truncateCheckpoints(index)
	c.state.ResetTransient()
	c.state.Phase = PhaseIdle
	c.state.Err = nil

	if err := c.store.DeleteMessagesFrom(ctx, c.state.Conversation.ID, index); err != nil {
		c.log.Warn().Err(err).Int("index", index).Msg("backend truncation failed, continuing with local state")
	}
	if err := c.store.DeleteCheckpointsFrom(ctx, c.state.Conversation.ID, index); err != nil {
		c.log.Warn().Err(err).Msg("backend checkpoint truncation failed")
	}

	lastMsg := c.state.Messages[len(c.state.Messages)-1]
	if lastMsg.Role != types.RoleUser {
		return types.NewChatError(code, "message before retry point is not a user message")
	}

	model, providerID, err := c.modelForMessage(lastMsg)
	if err != nil {
		return types.NewChatError(code, err.Error())
	}
	c.startTurn(model, providerID)
	return nil
}

// EditAndRetry replaces the text of the user message at index, drops
// everything after it, and re-runs the turn.
func (c *Controller) EditAndRetry(ctx context.Context, index int, newText string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if index < 0 || index >= len(c.state.Messages) {
		return types.NewChatError(types.ErrCodeEditRetry, fmt.Sprintf("invalid message index %d", index))
	}
	msg := c.state.Messages[index]
	if msg.Role != types.RoleUser {
		return types.NewChatError(types.ErrCodeEditRetry, "only user messages can be edited")
	}

	c.cancelAndWait(c.state.Conversation.ID)

	now := time.Now().UnixMilli()
	msg.Parts = []types.Part{&types.TextPart{
		ID:   newID(),
		Type: "text",
		Text: newText,
		Time: types.PartTime{Start: &now},
	}}
	msg.Time.Updated = &now

	c.state.Messages = c.state.Messages[:index+1]
	c.truncateCheckpoints(index)
	c.state.ResetTransient()
	c.state.Phase = PhaseIdle
	c.state.Err = nil

	if err := c.store.SaveMessage(ctx, msg); err != nil {
		return types.NewChatError(types.ErrCodeEditRetry, fmt.Sprintf("failed to save edited message: %v", err))
	}
	if err := c.store.DeleteMessagesFrom(ctx, c.state.Conversation.ID, index+1); err != nil {
		c.log.Warn().Err(err).Msg("backend truncation failed, continuing with local state")
	}
	if err := c.store.DeleteCheckpointsFrom(ctx, c.state.Conversation.ID, index); err != nil {
		c.log.Warn().Err(err).Msg("backend checkpoint truncation failed")
	}

	model, providerID, err := c.modelForMessage(msg)
	if err != nil {
		return types.NewChatError(types.ErrCodeEditRetry, err.Error())
	}
	c.startTurn(model, providerID)
	return nil
}

// DeleteMessagesFrom removes the message at index and everything after
// it. Unlike retry, this is backend-first: local state only changes
// once the backend deletion succeeded.
func (c *Controller) DeleteMessagesFrom(ctx context.Context, index int) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if index < 0 || index >= len(c.state.Messages) {
		return types.NewChatError(types.ErrCodeDelete, fmt.Sprintf("invalid message index %d", index))
	}

	c.cancelAndWait(c.state.Conversation.ID)
	if index >= len(c.state.Messages) {
		return nil
	}

	if err := c.store.DeleteMessagesFrom(ctx, c.state.Conversation.ID, index); err != nil {
		return types.NewChatError(types.ErrCodeDelete, fmt.Sprintf("backend deletion failed: %v", err))
	}
	if err := c.store.DeleteCheckpointsFrom(ctx, c.state.Conversation.ID, index); err != nil {
		return types.NewChatError(types.ErrCodeDelete, fmt.Sprintf("checkpoint deletion failed: %v", err))
	}

	c.state.Messages = c.state.Messages[:index]
	c.truncateCheckpoints(index)
	c.state.ResetTransient()
	c.state.Phase = PhaseIdle

	c.bus.Publish(event.Event{
		Type: event.MessageRemoved,
		Data: event.MessageRemovedData{ConversationID: c.state.Conversation.ID, Index: index, Cascade: true},
	})
	c.persistConversationMeta(ctx)
	return nil
}

// DeleteSingleMessage removes exactly one message, backend-first.
func (c *Controller) DeleteSingleMessage(ctx context.Context, index int) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if index < 0 || index >= len(c.state.Messages) {
		return types.NewChatError(types.ErrCodeDelete, fmt.Sprintf("invalid message index %d", index))
	}

	if err := c.store.DeleteMessage(ctx, c.state.Conversation.ID, index); err != nil {
		return types.NewChatError(types.ErrCodeDelete, fmt.Sprintf("backend deletion failed: %v", err))
	}

	c.state.Messages = append(c.state.Messages[:index], c.state.Messages[index+1:]...)
	c.bus.Publish(event.Event{
		Type: event.MessageRemoved,
		Data: event.MessageRemovedData{ConversationID: c.state.Conversation.ID, Index: index},
	})
	c.persistConversationMeta(ctx)
	return nil
}

// SwitchConversation makes another conversation current. An active
// turn on the old conversation is cancelled, and tool calls waiting
// for confirmation are resolved as rejected: the user navigating away
// answers them.
func (c *Controller) SwitchConversation(ctx context.Context, id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state.Conversation.ID == id {
		return nil
	}

	c.rejectPendingConfirmations(c.state.Conversation.ID)
	c.cancelAndWait(c.state.Conversation.ID)

	conv, err := c.store.GetMetadata(ctx, id)
	if err != nil {
		return types.NewChatError(types.ErrCodeLoad, fmt.Sprintf("conversation not found: %v", err))
	}
	messages, err := c.store.GetMessages(ctx, id)
	if err != nil {
		return types.NewChatError(types.ErrCodeLoad, fmt.Sprintf("failed to load messages: %v", err))
	}
	checkpoints, err := c.store.GetCheckpoints(ctx, id)
	if err != nil {
		return types.NewChatError(types.ErrCodeLoad, fmt.Sprintf("failed to load checkpoints: %v", err))
	}

	state := NewState(conv)
	state.Messages = messages
	state.Checkpoints = checkpoints
	c.state = state
	return nil
}

// NewConversation switches to a fresh unpersisted conversation.
func (c *Controller) NewConversation() *types.Conversation {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.rejectPendingConfirmations(c.state.Conversation.ID)
	c.cancelAndWait(c.state.Conversation.ID)

	c.state = NewState(c.newConversation())
	return c.state.Conversation
}

// DeleteConversation removes a conversation and all of its messages
// and checkpoints. Deleting the current conversation swaps in a fresh
// one. Duplicate requests while the backend round trip is in flight
// return immediately.
func (c *Controller) DeleteConversation(ctx context.Context, id string) error {
	c.mu.Lock()
	if c.deleting[id] {
		c.mu.Unlock()
		return nil
	}
	c.deleting[id] = true

	isCurrent := c.state.Conversation.ID == id
	if isCurrent {
		c.rejectPendingConfirmations(id)
		c.cancelAndWait(id)
	}
	c.mu.Unlock()

	err := c.store.DeleteConversation(ctx, id)

	c.mu.Lock()
	delete(c.deleting, id)
	if err == nil && c.state.Conversation.ID == id {
		c.state = NewState(c.newConversation())
	}
	c.mu.Unlock()

	if err != nil {
		return types.NewChatError(types.ErrCodeDelete, fmt.Sprintf("failed to delete conversation: %v", err))
	}
	c.bus.Publish(event.Event{
		Type: event.ConversationDeleted,
		Data: event.ConversationDeletedData{ConversationID: id},
	})
	return nil
}

// ListConversations returns persisted conversation metadata.
func (c *Controller) ListConversations(ctx context.Context) ([]*types.Conversation, error) {
	return c.store.ListConversations(ctx)
}

// Await implements Confirmer: it blocks until ResolveToolCall answers
// or the context is cancelled.
func (c *Controller) Await(ctx context.Context, conversationID, callID string) (bool, error) {
	ch := make(chan bool, 1)

	c.mu.Lock()
	if c.confirmations[conversationID] == nil {
		c.confirmations[conversationID] = make(map[string]chan bool)
	}
	c.confirmations[conversationID][callID] = ch
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		if m := c.confirmations[conversationID]; m != nil {
			delete(m, callID)
			if len(m) == 0 {
				delete(c.confirmations, conversationID)
			}
		}
		c.mu.Unlock()
	}()

	select {
	case approved := <-ch:
		return approved, nil
	case <-ctx.Done():
		return false, ctx.Err()
	}
}

// ResolveToolCall answers a pending confirmation.
func (c *Controller) ResolveToolCall(conversationID, callID string, approve bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	m := c.confirmations[conversationID]
	ch, ok := m[callID]
	if !ok {
		return types.NewChatError(types.ErrCodeSend, fmt.Sprintf("no pending confirmation for call %s", callID))
	}
	delete(m, callID)
	select {
	case ch <- approve:
	default:
	}
	return nil
}

// rejectPendingConfirmations answers every pending confirmation for
// the conversation with a rejection. Caller holds the mutex.
func (c *Controller) rejectPendingConfirmations(conversationID string) {
	for callID, ch := range c.confirmations[conversationID] {
		select {
		case ch <- false:
		default:
		}
		delete(c.confirmations[conversationID], callID)
	}
	delete(c.confirmations, conversationID)
}

// truncateCheckpoints drops records anchored at or after index. Caller
// holds the mutex.
func (c *Controller) truncateCheckpoints(index int) {
	kept := c.state.Checkpoints[:0]
	for _, record := range c.state.Checkpoints {
		if record.MessageIndex < index {
			kept = append(kept, record)
		}
	}
	c.state.Checkpoints = kept
}

func (c *Controller) modelForMessage(msg *types.Message) (*types.Model, string, error) {
	if msg.Model != nil {
		model, err := c.providers.GetModel(msg.Model.ProviderID, msg.Model.ModelID)
		if err == nil {
			return model, msg.Model.ProviderID, nil
		}
		c.log.Warn().Err(err).Msg("message model unavailable, falling back to default")
	}
	model, err := c.providers.DefaultModel()
	if err != nil {
		return nil, "", err
	}
	return model, model.ProviderID, nil
}
