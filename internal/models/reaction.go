package models

import "time"

// Reaction is a typed side-channel attachment on a message. One row per
// (message, user, emoji).
type Reaction struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	MessageID uint      `gorm:"not null;index;uniqueIndex:idx_react_once,priority:1" json:"message_id"`
	UserID    string    `gorm:"type:text;not null;uniqueIndex:idx_react_once,priority:2" json:"user_id"`
	Emoji     string    `gorm:"type:text;not null;uniqueIndex:idx_react_once,priority:3" json:"emoji"`
	CreatedAt time.Time `json:"created_at"`
}
