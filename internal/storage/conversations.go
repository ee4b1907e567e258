package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/HCPTangHY/Lim-Code/pkg/types"
)

// ConversationStore exposes conversation, message and checkpoint
// persistence over a Store. Message keys are the messages' ULIDs, so
// directory scans yield chronological order and index-based operations
// work on that order.
type ConversationStore struct {
	store *Store
}

// NewConversationStore creates a conversation store over store.
func NewConversationStore(store *Store) *ConversationStore {
	return &ConversationStore{store: store}
}

// Store returns the underlying path-keyed store.
func (c *ConversationStore) Store() *Store { return c.store }

// CreateConversation persists a new conversation record.
func (c *ConversationStore) CreateConversation(ctx context.Context, id, title, workspace string) (*types.Conversation, error) {
	now := time.Now().UnixMilli()
	conv := &types.Conversation{
		ID:        id,
		Title:     title,
		Workspace: workspace,
		Persisted: true,
		Time: types.ConversationTime{
			Created: now,
			Updated: now,
		},
	}
	if err := c.store.Put(ctx, []string{"conversation", id}, conv); err != nil {
		return nil, fmt.Errorf("failed to save conversation: %w", err)
	}
	return conv, nil
}

// GetMetadata retrieves conversation metadata by id.
func (c *ConversationStore) GetMetadata(ctx context.Context, id string) (*types.Conversation, error) {
	var conv types.Conversation
	if err := c.store.Get(ctx, []string{"conversation", id}, &conv); err != nil {
		return nil, err
	}
	return &conv, nil
}

// SaveMetadata persists updated conversation metadata.
func (c *ConversationStore) SaveMetadata(ctx context.Context, conv *types.Conversation) error {
	conv.Time.Updated = time.Now().UnixMilli()
	return c.store.Put(ctx, []string{"conversation", conv.ID}, conv)
}

// SetCustomMetadata sets one custom metadata key on a conversation.
func (c *ConversationStore) SetCustomMetadata(ctx context.Context, id, key, value string) error {
	conv, err := c.GetMetadata(ctx, id)
	if err != nil {
		return err
	}
	if conv.Custom == nil {
		conv.Custom = make(map[string]string)
	}
	conv.Custom[key] = value
	return c.SaveMetadata(ctx, conv)
}

// ListConversations returns all persisted conversations.
func (c *ConversationStore) ListConversations(ctx context.Context) ([]*types.Conversation, error) {
	var out []*types.Conversation
	err := c.store.Scan(ctx, []string{"conversation"}, func(key string, data json.RawMessage) error {
		var conv types.Conversation
		if err := json.Unmarshal(data, &conv); err != nil {
			return err
		}
		out = append(out, &conv)
		return nil
	})
	return out, err
}

// DeleteConversation removes a conversation with all of its messages
// and checkpoints.
func (c *ConversationStore) DeleteConversation(ctx context.Context, id string) error {
	if err := c.store.Delete(ctx, []string{"conversation", id}); err != nil {
		return err
	}
	if err := c.store.DeleteTree(ctx, []string{"message", id}); err != nil {
		return err
	}
	return c.DeleteAllCheckpoints(ctx, id)
}

// SaveMessage persists one message, keyed by its ULID.
func (c *ConversationStore) SaveMessage(ctx context.Context, msg *types.Message) error {
	now := time.Now().UnixMilli()
	msg.Time.Updated = &now
	return c.store.Put(ctx, []string{"message", msg.ConversationID, msg.ID}, msg)
}

// GetMessages returns all messages of a conversation in creation order.
func (c *ConversationStore) GetMessages(ctx context.Context, id string) ([]*types.Message, error) {
	var messages []*types.Message
	err := c.store.Scan(ctx, []string{"message", id}, func(key string, data json.RawMessage) error {
		var msg types.Message
		if err := json.Unmarshal(data, &msg); err != nil {
			return err
		}
		messages = append(messages, &msg)
		return nil
	})
	return messages, err
}

// DeleteMessagesFrom removes all messages at or after index in the
// conversation's chronological order.
func (c *ConversationStore) DeleteMessagesFrom(ctx context.Context, id string, index int) error {
	keys, err := c.store.List(ctx, []string{"message", id})
	if err != nil {
		return err
	}
	if index < 0 {
		index = 0
	}
	for i := index; i < len(keys); i++ {
		if err := c.store.Delete(ctx, []string{"message", id, keys[i]}); err != nil {
			return err
		}
	}
	return nil
}

// DeleteMessage removes exactly one message by index, no cascade.
func (c *ConversationStore) DeleteMessage(ctx context.Context, id string, index int) error {
	keys, err := c.store.List(ctx, []string{"message", id})
	if err != nil {
		return err
	}
	if index < 0 || index >= len(keys) {
		return ErrNotFound
	}
	return c.store.Delete(ctx, []string{"message", id, keys[index]})
}
