package event

import "github.com/HCPTangHY/Lim-Code/pkg/types"

// ConversationCreatedData is the data for conversation.created events.
type ConversationCreatedData struct {
	Info *types.Conversation `json:"info"`
}

// ConversationUpdatedData is the data for conversation.updated events.
type ConversationUpdatedData struct {
	Info *types.Conversation `json:"info"`
}

// ConversationDeletedData is the data for conversation.deleted events.
type ConversationDeletedData struct {
	ConversationID string `json:"conversationID"`
}

// MessageRemovedData is the data for message.removed events.
type MessageRemovedData struct {
	ConversationID string `json:"conversationID"`
	Index          int    `json:"index"`
	Cascade        bool   `json:"cascade"`
}

// TaskData is the data for task.* events.
type TaskData struct {
	TaskID string         `json:"taskID"`
	Type   string         `json:"taskType"`
	Status string         `json:"status,omitempty"`
	Data   map[string]any `json:"data,omitempty"`
	Error  string         `json:"error,omitempty"`
}

// StorageDriftData is the data for storage.drift events. It names a
// persisted record that changed outside the controller's own writes,
// so a reconciliation pass can compare local and backend state.
type StorageDriftData struct {
	Path string `json:"path"`
	Op   string `json:"op"`
}

// MCPStatusData is the data for mcp.status events.
type MCPStatusData struct {
	Server string `json:"server"`
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}
