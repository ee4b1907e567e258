package types

import "encoding/json"

// Message roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// Message represents a user, assistant or tool-response message in a
// conversation. Parts hold the structured content; Streaming marks the
// single message currently being appended to by an active turn.
type Message struct {
	ID             string       `json:"id"`
	ConversationID string       `json:"conversationID"`
	Role           string       `json:"role"`
	Parts          []Part       `json:"-"`
	Streaming      bool         `json:"streaming,omitempty"`
	Attachments    []Attachment `json:"attachments,omitempty"`
	Model          *ModelRef    `json:"model,omitempty"`
	Error          *ChatError   `json:"error,omitempty"`
	Time           MessageTime  `json:"time"`
}

// MessageTime contains timestamps for a message.
type MessageTime struct {
	Created int64  `json:"created"`
	Updated *int64 `json:"updated,omitempty"`
}

// ModelRef references a specific model from a provider.
type ModelRef struct {
	ProviderID string `json:"providerID"`
	ModelID    string `json:"modelID"`
}

// Attachment is a file the user attached to a message.
type Attachment struct {
	Filename  string `json:"filename"`
	MediaType string `json:"mediaType"`
	URL       string `json:"url"`
}

// Text concatenates all text parts of the message.
func (m *Message) Text() string {
	var out string
	for _, p := range m.Parts {
		if tp, ok := p.(*TextPart); ok {
			out += tp.Text
		}
	}
	return out
}

// ToolParts returns the tool-call parts of the message in order.
func (m *Message) ToolParts() []*ToolPart {
	var out []*ToolPart
	for _, p := range m.Parts {
		if tp, ok := p.(*ToolPart); ok {
			out = append(out, tp)
		}
	}
	return out
}

// MarshalJSON embeds the polymorphic parts list.
func (m Message) MarshalJSON() ([]byte, error) {
	type Alias Message
	aux := struct {
		Alias
		Parts []Part `json:"parts"`
	}{Alias: Alias(m), Parts: m.Parts}
	if aux.Parts == nil {
		aux.Parts = []Part{}
	}
	return json.Marshal(aux)
}

// UnmarshalJSON decodes the polymorphic parts list.
func (m *Message) UnmarshalJSON(data []byte) error {
	type Alias Message
	aux := struct {
		*Alias
		Parts []json.RawMessage `json:"parts"`
	}{Alias: (*Alias)(m)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	m.Parts = m.Parts[:0]
	for _, raw := range aux.Parts {
		part, err := UnmarshalPart(raw)
		if err != nil {
			return err
		}
		m.Parts = append(m.Parts, part)
	}
	return nil
}
