package storage

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"chatlive/backend/internal/models"
)

// Sentinel errors surfaced by store operations. Callers branch with
// errors.Is; everything else is a transient I/O failure.
var (
	ErrNotFound = errors.New("storage: not found")
	ErrConflict = errors.New("storage: conflict")
)

// Storage is the backing-store capability the sync engine consumes:
// one-shot queries and mutations against PostgreSQL, idempotent status
// procedures, and live change/presence streams over Redis Pub/Sub.
type Storage interface {
	// Users and rooms
	EnsureUser(userID string) (*models.User, error)
	EnterRoom(code, userID string) (*models.ChatRoom, error)

	// Message queries. Both return rows newest-first.
	RecentMessages(roomID string, limit int) ([]models.Message, error)
	MessagesBefore(roomID string, before time.Time, beforeID uint, limit int) ([]models.Message, error)

	// Message mutations
	InsertMessage(msg *models.Message) error
	SoftDeleteMessage(roomID string, id uint, requesterID string) error
	React(roomID string, messageID uint, userID, emoji string) error

	// Status procedures. MarkRoomDelivered moves every eligible row in
	// the room to delivered; eligibility is defined here, not by the
	// caller. Both are idempotent and forward-only.
	MarkRoomDelivered(roomID, selfID string) error
	MarkMessageRead(roomID string, id uint, selfID string) error

	// Live streams
	SubscribeMessages(roomID string) (*MessageSubscription, error)
	TrackPresence(roomID, selfID string) (*PresenceSubscription, error)
	PublishTyping(roomID, selfID string) error
}

// Service implements Storage on a gorm DB plus a Redis client, the
// queries in PostgreSQL and the live streams over Pub/Sub.
type Service struct {
	DB    *gorm.DB
	Redis *redis.Client
	Ctx   context.Context
	Log   zerolog.Logger
}

// NewService Constructor
func NewService(db *gorm.DB, rdb *redis.Client, log zerolog.Logger) *Service {
	return &Service{
		DB:    db,
		Redis: rdb,
		Ctx:   context.Background(),
		Log:   log.With().Str("component", "storage").Logger(),
	}
}
