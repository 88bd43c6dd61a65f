package model

import "time"

// Presence status.
const (
	PresenceOnline  = "online"
	PresenceAway    = "away"
	PresenceOffline = "offline"
)

// PresenceRecord is one logical row per user, continuously overwritten.
// ViewingConversation is the conversation the user currently has open, when
// any.
type PresenceRecord struct {
	UserID              string    `json:"user_id"`
	Status              string    `json:"status"`
	LastSeen            time.Time `json:"last_seen"`
	ViewingConversation string    `json:"viewing_conversation,omitempty"`
}

func (p *PresenceRecord) TableName() string { return "user_presence" }
