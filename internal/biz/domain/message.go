package domain

import "time"

// MessageType represents the kind of payload a message carries
type MessageType string

const (
	MessageTypeText  MessageType = "text"
	MessageTypeImage MessageType = "image"
	MessageTypeOther MessageType = "other"
)

// Message is a read-only view of an incoming chat message
type Message struct {
	ID         string
	Type       MessageType
	Text       string
	CreateTime time.Time

	Talker   Contact // Sender
	Receiver Contact // Declared recipient; in a group this is the account the message addressed
	Room     Room    // Enclosing group, nil for private chats

	IsSelf       bool // Sent by the logged-in account itself
	MentionsSelf bool // The logged-in account was @-mentioned
}

// IsText checks if the message carries plain text
func (m *Message) IsText() bool {
	return m.Type == MessageTypeText
}

// InRoom checks if the message was posted in a group
func (m *Message) InRoom() bool {
	return m.Room != nil
}

// IsBefore checks if the message is before the specified time
func (m *Message) IsBefore(t time.Time) bool {
	return m.CreateTime.Before(t)
}
