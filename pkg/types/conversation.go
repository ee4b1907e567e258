// Package types provides the core data types for the Lim-Code server.
package types

// Conversation represents a chat thread between the user and the assistant.
type Conversation struct {
	ID           string            `json:"id"`
	Title        string            `json:"title"`
	Workspace    string            `json:"workspace"`
	MessageCount int               `json:"messageCount"`
	Preview      string            `json:"preview,omitempty"`
	Persisted    bool              `json:"persisted"`
	Custom       map[string]string `json:"custom,omitempty"`
	Time         ConversationTime  `json:"time"`
}

// ConversationTime contains timestamps for a conversation.
type ConversationTime struct {
	Created int64 `json:"created"`
	Updated int64 `json:"updated"`
}

// ErrorCode identifies a user-visible failure category.
type ErrorCode string

const (
	ErrCodeSend      ErrorCode = "SEND_ERROR"
	ErrCodeRetry     ErrorCode = "RETRY_ERROR"
	ErrCodeEditRetry ErrorCode = "EDIT_RETRY_ERROR"
	ErrCodeDelete    ErrorCode = "DELETE_ERROR"
	ErrCodeLoad      ErrorCode = "LOAD_ERROR"
	ErrCodeProvider  ErrorCode = "PROVIDER_ERROR"
)

// ChatError is a user-visible error shown in a conversation's error slot.
// Only one is displayed at a time; last write wins.
type ChatError struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
}

func (e *ChatError) Error() string {
	return string(e.Code) + ": " + e.Message
}

// NewChatError creates a ChatError with the given code and message.
func NewChatError(code ErrorCode, message string) *ChatError {
	return &ChatError{Code: code, Message: message}
}
