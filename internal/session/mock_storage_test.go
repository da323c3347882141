package session_test

import (
	"time"

	"github.com/stretchr/testify/mock"

	"chatlive/backend/internal/models"
	"chatlive/backend/internal/storage"
)

// MockStorage is a testify mock of the storage.Storage interface with
// injectable live-event channels, so tests can push change and presence
// events the way the real Pub/Sub reader would.
type MockStorage struct {
	mock.Mock

	MsgEvents  chan models.ChangeEvent
	PresEvents chan models.PresenceEvent
}

func newMockStorage() *MockStorage {
	return &MockStorage{
		MsgEvents:  make(chan models.ChangeEvent, 16),
		PresEvents: make(chan models.PresenceEvent, 16),
	}
}

func (m *MockStorage) EnsureUser(userID string) (*models.User, error) {
	args := m.Called(userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.User), args.Error(1)
}

func (m *MockStorage) EnterRoom(code, userID string) (*models.ChatRoom, error) {
	args := m.Called(code, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.ChatRoom), args.Error(1)
}

func (m *MockStorage) RecentMessages(roomID string, limit int) ([]models.Message, error) {
	args := m.Called(roomID, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.Message), args.Error(1)
}

func (m *MockStorage) MessagesBefore(roomID string, before time.Time, beforeID uint, limit int) ([]models.Message, error) {
	args := m.Called(roomID, before, beforeID, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.Message), args.Error(1)
}

func (m *MockStorage) InsertMessage(msg *models.Message) error {
	args := m.Called(msg)
	return args.Error(0)
}

func (m *MockStorage) SoftDeleteMessage(roomID string, id uint, requesterID string) error {
	args := m.Called(roomID, id, requesterID)
	return args.Error(0)
}

func (m *MockStorage) React(roomID string, messageID uint, userID, emoji string) error {
	args := m.Called(roomID, messageID, userID, emoji)
	return args.Error(0)
}

func (m *MockStorage) MarkRoomDelivered(roomID, selfID string) error {
	args := m.Called(roomID, selfID)
	return args.Error(0)
}

func (m *MockStorage) MarkMessageRead(roomID string, id uint, selfID string) error {
	args := m.Called(roomID, id, selfID)
	return args.Error(0)
}

func (m *MockStorage) SubscribeMessages(roomID string) (*storage.MessageSubscription, error) {
	args := m.Called(roomID)
	if args.Error(1) != nil {
		return nil, args.Error(1)
	}
	return storage.NewMessageSubscription(m.MsgEvents, func() error { return nil }), nil
}

func (m *MockStorage) TrackPresence(roomID, selfID string) (*storage.PresenceSubscription, error) {
	args := m.Called(roomID, selfID)
	if args.Error(1) != nil {
		return nil, args.Error(1)
	}
	return storage.NewPresenceSubscription(m.PresEvents, func() error { return nil }), nil
}

func (m *MockStorage) PublishTyping(roomID, selfID string) error {
	args := m.Called(roomID, selfID)
	return args.Error(0)
}
