package types

// CheckpointRecord is a snapshot reference associated with a point in
// conversation history. Checkpoints are cut when a turn produces
// file-affecting tool calls, and truncated together with the messages
// they follow when history is discarded by retry/edit/delete.
type CheckpointRecord struct {
	ID             string           `json:"id"`
	ConversationID string           `json:"conversationID"`
	MessageIndex   int              `json:"messageIndex"`
	Files          []CheckpointFile `json:"files,omitempty"`
	Created        int64            `json:"created"`
}

// CheckpointFile records the pre-change content of one affected file
// plus a unified diff of the change, enabling rollback.
type CheckpointFile struct {
	Path   string `json:"path"`
	Before string `json:"before"`
	Diff   string `json:"diff,omitempty"`
}
