package storage

import (
	"context"

	"github.com/HCPTangHY/Lim-Code/pkg/types"
)

// Checkpoints are stored as one ordered list per conversation; the list
// is small and always truncated or appended as a unit.

// GetCheckpoints returns a conversation's checkpoint list.
func (c *ConversationStore) GetCheckpoints(ctx context.Context, id string) ([]types.CheckpointRecord, error) {
	var records []types.CheckpointRecord
	err := c.store.Get(ctx, []string{"checkpoint", id}, &records)
	if err == ErrNotFound {
		return nil, nil
	}
	return records, err
}

// AppendCheckpoints appends records to a conversation's checkpoint list.
func (c *ConversationStore) AppendCheckpoints(ctx context.Context, id string, records []types.CheckpointRecord) error {
	if len(records) == 0 {
		return nil
	}
	existing, err := c.GetCheckpoints(ctx, id)
	if err != nil {
		return err
	}
	return c.store.Put(ctx, []string{"checkpoint", id}, append(existing, records...))
}

// DeleteCheckpointsFrom removes all checkpoints whose message index is
// at or after index.
func (c *ConversationStore) DeleteCheckpointsFrom(ctx context.Context, id string, index int) error {
	existing, err := c.GetCheckpoints(ctx, id)
	if err != nil {
		return err
	}
	kept := existing[:0]
	for _, record := range existing {
		if record.MessageIndex < index {
			kept = append(kept, record)
		}
	}
	if len(kept) == len(existing) {
		return nil
	}
	if len(kept) == 0 {
		return c.store.Delete(ctx, []string{"checkpoint", id})
	}
	return c.store.Put(ctx, []string{"checkpoint", id}, kept)
}

// DeleteAllCheckpoints removes a conversation's checkpoint list.
func (c *ConversationStore) DeleteAllCheckpoints(ctx context.Context, id string) error {
	return c.store.Delete(ctx, []string{"checkpoint", id})
}
