package model

import (
	"time"
)

// Message kind.
const (
	KindUser      = "user"
	KindAutomated = "automated"
	KindSystem    = "system"
)

// Delivery status. Transitions only move forward through the rank order
// below, except that Error is reachable from any non-terminal state.
const (
	StatusSending   = "sending"
	StatusSent      = "sent"
	StatusDelivered = "delivered"
	StatusRead      = "read"
	StatusError     = "error"
)

var statusRank = map[string]int{
	StatusSending:   0,
	StatusSent:      1,
	StatusDelivered: 2,
	StatusRead:      3,
}

// CanTransition reports whether a delivery status may move from -> to.
func CanTransition(from, to string) bool {
	if from == to {
		return false
	}
	if from == StatusError || from == StatusRead {
		return false // terminal
	}
	if to == StatusError {
		return true
	}
	fr, ok1 := statusRank[from]
	tr, ok2 := statusRank[to]
	return ok1 && ok2 && tr > fr
}

// Attachment is a stored file reference carried by a message.
type Attachment struct {
	Name string `json:"name"`
	URL  string `json:"url"`
	Mime string `json:"mime,omitempty"`
	Size int64  `json:"size,omitempty"`
}

// Message is a durable message row. SenderID is empty for system-generated
// messages. ClientMsgID is the client-side idempotency key minted for
// optimistic sends and kept by the backend, so an inbound change event can
// be matched back to a pending local entry.
type Message struct {
	ID             string         `json:"id"`
	ConversationID string         `json:"conversation_id"`
	SenderID       string         `json:"sender_id,omitempty"`
	Body           string         `json:"body"`
	Kind           string         `json:"kind"`
	Status         string         `json:"status"`
	ReplyTo        string         `json:"reply_to,omitempty"`
	Edited         bool           `json:"edited"`
	EditedAt       *time.Time     `json:"edited_at,omitempty"`
	Metadata       map[string]any `json:"metadata,omitempty"`
	Attachments    []Attachment   `json:"attachments,omitempty"`
	ClientMsgID    string         `json:"client_msg_id,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
}

func (m *Message) TableName() string { return "messages" }

// Before orders messages by creation time, breaking ties by id so the
// window order is total and stable.
func (m *Message) Before(other *Message) bool {
	if m.CreatedAt.Equal(other.CreatedAt) {
		return m.ID < other.ID
	}
	return m.CreatedAt.Before(other.CreatedAt)
}
