// Package domain contains core domain types for the ChatXAI service.
package domain

// Sender identifies who authored a message.
type Sender string

const (
	// SenderUser marks a message typed by the user.
	SenderUser Sender = "user"
	// SenderAssistant marks a message produced by the model.
	SenderAssistant Sender = "assistant"
)

// Attachment is a single user-supplied file carried as a data URI
// ("data:<media type>;base64,<payload>").
type Attachment struct {
	Name      string `json:"name"`
	MediaType string `json:"media_type"`
	Data      string `json:"data"`
}

// Message is one entry of a conversation.
type Message struct {
	ID         string      `json:"id"`
	Text       string      `json:"text"`
	Sender     Sender      `json:"sender"`
	Attachment *Attachment `json:"attachment,omitempty"`
}

// IsPending reports whether m is an assistant message that has not received
// any text yet. The UI keys its typing indicator off this.
func (m Message) IsPending() bool {
	return m.Sender == SenderAssistant && m.Text == ""
}
