package models

import "time"

// Status is the delivery lifecycle of a message. It only ever moves
// forward: sent -> delivered -> read.
type Status string

const (
	StatusSent      Status = "sent"
	StatusDelivered Status = "delivered"
	StatusRead      Status = "read"
)

// Rank orders statuses so that forward-only transitions can be checked
// with a single comparison. Unknown values rank below "sent" and are
// therefore never applied over a known status.
func (s Status) Rank() int {
	switch s {
	case StatusSent:
		return 1
	case StatusDelivered:
		return 2
	case StatusRead:
		return 3
	default:
		return 0
	}
}

// Message represents a chat message row in the PostgreSQL database and,
// once loaded, an entry in the in-memory room view. ID is assigned by the
// store and is unique within a room; (CreatedAt, ID) gives the total
// display order.
type Message struct {
	ID       uint   `gorm:"primaryKey" json:"id"`
	RoomID   string `gorm:"type:uuid;not null;index:idx_room_created" json:"room_id"`
	SenderID string `gorm:"type:text;not null" json:"sender_id"`
	// Content is the opaque text payload. After a soft delete it holds
	// the placeholder text, never the original content.
	Content   string    `gorm:"type:text;not null" json:"content"`
	CreatedAt time.Time `gorm:"not null;index:idx_room_created" json:"created_at"`
	// ReplyToID references the message being replied to, if any.
	ReplyToID *uint      `gorm:"index" json:"reply_to_id,omitempty"`
	Status    Status     `gorm:"type:text;not null;default:sent" json:"status"`
	Deleted   bool       `gorm:"not null;default:false" json:"deleted"`
	DeletedAt *time.Time `json:"deleted_at,omitempty"`
}

// Before compares two messages in display order, ties broken by ID.
func (m *Message) Before(other *Message) bool {
	if m.CreatedAt.Equal(other.CreatedAt) {
		return m.ID < other.ID
	}
	return m.CreatedAt.Before(other.CreatedAt)
}
