package event

import (
	"github.com/lexport/chatlink/module/chat/model"
)

// Type enumerates the closed event vocabulary of the chat layer. Consumers
// match on Type and assert the corresponding payload struct; there are no
// stringly-typed event names.
type Type int

const (
	MessageReceived Type = iota + 1
	MessageUpdated
	MessageDeleted
	TypingStarted
	TypingStopped
	PresenceChanged
	ConversationUpdated
	ConnStatusChanged
)

func (t Type) String() string {
	switch t {
	case MessageReceived:
		return "message-received"
	case MessageUpdated:
		return "message-updated"
	case MessageDeleted:
		return "message-deleted"
	case TypingStarted:
		return "typing-started"
	case TypingStopped:
		return "typing-stopped"
	case PresenceChanged:
		return "presence-changed"
	case ConversationUpdated:
		return "conversation-updated"
	case ConnStatusChanged:
		return "connection-status-changed"
	}
	return "unknown"
}

// Event is implemented by every payload below and by nothing else.
type Event interface {
	EventType() Type
}

type MessageEvent struct {
	Kind    Type // MessageReceived or MessageUpdated
	Message *model.Message
}

func (e MessageEvent) EventType() Type { return e.Kind }

type MessageDeletedEvent struct {
	ConversationID string
	MessageID      string
}

func (MessageDeletedEvent) EventType() Type { return MessageDeleted }

type TypingEvent struct {
	Kind      Type // TypingStarted or TypingStopped
	Indicator model.TypingIndicator
}

func (e TypingEvent) EventType() Type { return e.Kind }

type PresenceEvent struct {
	Record model.PresenceRecord
}

func (PresenceEvent) EventType() Type { return PresenceChanged }

type ConversationEvent struct {
	Conversation *model.Conversation
}

func (ConversationEvent) EventType() Type { return ConversationUpdated }

type ConnStatusEvent struct {
	State model.ConnState
	Err   error
}

func (ConnStatusEvent) EventType() Type { return ConnStatusChanged }
