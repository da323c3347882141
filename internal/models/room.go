package models

import (
	"time"

	"github.com/lib/pq"
)

// ChatRoom represents a chat channel identified by a short code. It
// scopes messages, presence and delivery status.
type ChatRoom struct {
	// RoomID is the unique identifier for the chat room (UUID).
	RoomID string `gorm:"primaryKey" json:"room_id"`
	// Code is the short human-facing room code.
	Code string `gorm:"uniqueIndex;not null" json:"code"`
	// Members holds the anon IDs of everyone who has entered the room.
	Members   pq.StringArray `gorm:"type:text[]" json:"members"`
	IsActive  bool           `json:"is_active"`
	CreatedAt time.Time      `json:"created_at"`
}

// HasMember reports whether the given anon ID is already on the member
// list.
func (r *ChatRoom) HasMember(userID string) bool {
	for _, m := range r.Members {
		if m == userID {
			return true
		}
	}
	return false
}
