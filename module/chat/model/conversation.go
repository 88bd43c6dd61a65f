package model

import (
	"time"
)

// Conversation lifecycle status. Conversations are never physically deleted
// while messages reference them; Closed is the terminal soft state.
const (
	ConvStatusActive   = "active"
	ConvStatusArchived = "archived"
	ConvStatusClosed   = "closed"
)

// Conversation is a durable conversation row as stored in the
// `conversations` table and delivered by change notifications.
type Conversation struct {
	ID           string         `json:"id"`
	OwnerUserID  string         `json:"owner_user_id"`
	Title        string         `json:"title"`
	Topic        string         `json:"topic,omitempty"` // optional category tag
	Status       string         `json:"status"`
	LastActivity time.Time      `json:"last_activity"`
	MessageCount int64          `json:"message_count"`
	Metadata     map[string]any `json:"metadata,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
}

func (c *Conversation) TableName() string { return "conversations" }

func ValidConvStatus(s string) bool {
	switch s {
	case ConvStatusActive, ConvStatusArchived, ConvStatusClosed:
		return true
	}
	return false
}
