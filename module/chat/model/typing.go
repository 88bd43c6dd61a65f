package model

import "time"

// TypingIndicator is an ephemeral row keyed by (conversation, user). It is
// never historized; expired rows simply disappear.
type TypingIndicator struct {
	ConversationID string    `json:"conversation_id"`
	UserID         string    `json:"user_id"`
	IsTyping       bool      `json:"is_typing"`
	UpdatedAt      time.Time `json:"updated_at"`
}

func (t *TypingIndicator) TableName() string { return "typing_indicators" }
