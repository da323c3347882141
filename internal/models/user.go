package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// User is an anonymous chat identity. The ID doubles as the sender ID on
// messages and the presence key.
type User struct {
	ID         string    `gorm:"primaryKey" json:"id"`
	CreatedAt  time.Time `json:"created_at"`
	LastSeenAt time.Time `json:"last_seen_at"`
}

// BeforeCreate generates a new UUID for the user if the ID is not set
// yet.
func (u *User) BeforeCreate(tx *gorm.DB) (err error) {
	if u.ID == "" {
		u.ID = uuid.New().String()
	}
	return
}

// PresenceEntry is one row of the online roster maintained by the
// presence tracker. Entries transition online -> offline on a leave
// signal and are removed only after the grace period expires.
type PresenceEntry struct {
	Username string    `json:"username"`
	Online   bool      `json:"online"`
	LastSeen time.Time `json:"last_seen"`
}
