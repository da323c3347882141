package session_test

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"chatlive/backend/internal/models"
	"chatlive/backend/internal/session"
)

var testRoom = &models.ChatRoom{RoomID: "room-uuid", Code: "lobby", Members: []string{"me"}, IsActive: true}

// recorder collects session callbacks for assertion.
type recorder struct {
	mu       sync.Mutex
	appended []models.Message
	statuses []models.Message
	deleted  []models.Message
	rosters  int
	typing   []string
}

func (r *recorder) callbacks() session.Callbacks {
	return session.Callbacks{
		OnMessageAppended: func(m models.Message) {
			r.mu.Lock()
			r.appended = append(r.appended, m)
			r.mu.Unlock()
		},
		OnMessageStatusChanged: func(m models.Message) {
			r.mu.Lock()
			r.statuses = append(r.statuses, m)
			r.mu.Unlock()
		},
		OnMessageDeleted: func(m models.Message) {
			r.mu.Lock()
			r.deleted = append(r.deleted, m)
			r.mu.Unlock()
		},
		OnPresenceChanged: func([]models.PresenceEntry) {
			r.mu.Lock()
			r.rosters++
			r.mu.Unlock()
		},
		OnTyping: func(user string) {
			r.mu.Lock()
			r.typing = append(r.typing, user)
			r.mu.Unlock()
		},
	}
}

func (r *recorder) appendedCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.appended)
}

func (r *recorder) rosterCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rosters
}

func expectEnter(store *MockStorage, history []models.Message) {
	store.On("EnterRoom", "lobby", "me").Return(testRoom, nil)
	store.On("RecentMessages", "room-uuid", mock.AnythingOfType("int")).Return(history, nil)
	store.On("SubscribeMessages", "room-uuid").Return(nil, nil)
	store.On("TrackPresence", "room-uuid", "me").Return(nil, nil)
	store.On("MarkRoomDelivered", "room-uuid", "me").Return(nil)
}

func newTestSession(store *MockStorage, rec *recorder) *session.RoomSession {
	return session.New(store, session.Options{
		Callbacks:         rec.callbacks(),
		HeartbeatInterval: time.Hour,
		PresenceGrace:     30 * time.Millisecond,
		PageSize:          50,
		Logger:            zerolog.Nop(),
	})
}

func TestSession_EnterAndLeaveLifecycle(t *testing.T) {
	store := newMockStorage()
	rec := &recorder{}
	expectEnter(store, []models.Message{})

	s := newTestSession(store, rec)
	assert.Equal(t, session.StateIdle, s.State())

	require.NoError(t, s.Enter("lobby", "me"))
	assert.Equal(t, session.StateActive, s.State())
	assert.Equal(t, "room-uuid", s.Room().RoomID)
	store.AssertCalled(t, "MarkRoomDelivered", "room-uuid", "me")

	require.NoError(t, s.Leave())
	assert.Equal(t, session.StateIdle, s.State())
	assert.Nil(t, s.Room())
	assert.Nil(t, s.VisibleMessages())

	// Leaving again is a no-op.
	require.NoError(t, s.Leave())
}

func TestSession_EnterRejectedWhileActive(t *testing.T) {
	store := newMockStorage()
	rec := &recorder{}
	expectEnter(store, []models.Message{})

	s := newTestSession(store, rec)
	require.NoError(t, s.Enter("lobby", "me"))

	assert.ErrorIs(t, s.Enter("other-room", "me"), session.ErrSessionActive)

	// Re-entering the same room as the same user is a no-op.
	assert.NoError(t, s.Enter("lobby", "me"))
	assert.Equal(t, session.StateActive, s.State())
}

func TestSession_EnterFailureLeavesIdle(t *testing.T) {
	store := newMockStorage()
	rec := &recorder{}
	store.On("EnterRoom", "lobby", "me").Return(nil, errors.New("store down"))

	s := newTestSession(store, rec)
	assert.Error(t, s.Enter("lobby", "me"))
	assert.Equal(t, session.StateIdle, s.State())

	// A failed enter must not poison the next attempt.
	store.ExpectedCalls = nil
	expectEnter(store, []models.Message{})
	assert.NoError(t, s.Enter("lobby", "me"))
}

func TestSession_SendMessageOptimisticEcho(t *testing.T) {
	store := newMockStorage()
	rec := &recorder{}
	expectEnter(store, []models.Message{})
	store.On("InsertMessage", mock.AnythingOfType("*models.Message")).
		Run(func(args mock.Arguments) {
			msg := args.Get(0).(*models.Message)
			msg.ID = 1
			msg.CreatedAt = time.Now()
		}).Return(nil)

	s := newTestSession(store, rec)
	require.NoError(t, s.Enter("lobby", "me"))

	sent, err := s.SendMessage("hello", nil)
	require.NoError(t, err)
	assert.Equal(t, uint(1), sent.ID)
	assert.Equal(t, 1, rec.appendedCount())
	assert.Len(t, s.VisibleMessages(), 1)

	// The live stream delivers the same row; it must not display twice.
	store.MsgEvents <- models.ChangeEvent{Kind: models.ChangeInsert, Message: sent}
	time.Sleep(50 * time.Millisecond)
	assert.Len(t, s.VisibleMessages(), 1)
	assert.Equal(t, 1, rec.appendedCount())
}

func TestSession_SendFailureLeavesNoGhost(t *testing.T) {
	store := newMockStorage()
	rec := &recorder{}
	expectEnter(store, []models.Message{})

	s := newTestSession(store, rec)
	require.NoError(t, s.Enter("lobby", "me"))

	store.On("InsertMessage", mock.AnythingOfType("*models.Message")).Return(errors.New("offline")).Once()
	_, err := s.SendMessage("hello", nil)
	assert.Error(t, err)
	assert.Empty(t, s.VisibleMessages())

	store.On("InsertMessage", mock.AnythingOfType("*models.Message")).
		Run(func(args mock.Arguments) {
			msg := args.Get(0).(*models.Message)
			msg.ID = 1
			msg.CreatedAt = time.Now()
		}).Return(nil)
	_, err = s.SendMessage("hello", nil)
	require.NoError(t, err)
	assert.Len(t, s.VisibleMessages(), 1, "retry adds exactly one entry")
}

func TestSession_LiveInsertAppends(t *testing.T) {
	store := newMockStorage()
	rec := &recorder{}
	expectEnter(store, []models.Message{})

	s := newTestSession(store, rec)
	require.NoError(t, s.Enter("lobby", "me"))

	store.MsgEvents <- models.ChangeEvent{
		Kind:    models.ChangeInsert,
		Message: models.Message{ID: 5, RoomID: "room-uuid", SenderID: "other", Content: "hi", CreatedAt: time.Now(), Status: models.StatusSent},
	}
	time.Sleep(50 * time.Millisecond)

	assert.Len(t, s.VisibleMessages(), 1)
	assert.Equal(t, 1, rec.appendedCount())
}

func TestSession_StatusUpdateForwardOnly(t *testing.T) {
	store := newMockStorage()
	rec := &recorder{}
	history := []models.Message{
		{ID: 1, RoomID: "room-uuid", SenderID: "other", Content: "hi", CreatedAt: time.Now(), Status: models.StatusDelivered},
	}
	expectEnter(store, history)

	s := newTestSession(store, rec)
	require.NoError(t, s.Enter("lobby", "me"))

	// A stale "sent" after delivered is ignored.
	store.MsgEvents <- models.ChangeEvent{
		Kind:    models.ChangeUpdate,
		Message: models.Message{ID: 1, RoomID: "room-uuid", Status: models.StatusSent},
	}
	time.Sleep(50 * time.Millisecond)
	msgs := s.VisibleMessages()
	require.Len(t, msgs, 1)
	assert.Equal(t, models.StatusDelivered, msgs[0].Status)

	rec.mu.Lock()
	statusEvents := len(rec.statuses)
	rec.mu.Unlock()
	assert.Equal(t, 0, statusEvents)

	store.MsgEvents <- models.ChangeEvent{
		Kind:    models.ChangeUpdate,
		Message: models.Message{ID: 1, RoomID: "room-uuid", Status: models.StatusRead},
	}
	time.Sleep(50 * time.Millisecond)
	msgs = s.VisibleMessages()
	assert.Equal(t, models.StatusRead, msgs[0].Status)
}

func TestSession_DeleteEvent(t *testing.T) {
	store := newMockStorage()
	rec := &recorder{}
	history := []models.Message{
		{ID: 1, RoomID: "room-uuid", SenderID: "other", Content: "hi", CreatedAt: time.Now(), Status: models.StatusSent},
	}
	expectEnter(store, history)

	s := newTestSession(store, rec)
	require.NoError(t, s.Enter("lobby", "me"))

	now := time.Now()
	store.MsgEvents <- models.ChangeEvent{
		Kind:    models.ChangeDelete,
		Message: models.Message{ID: 1, RoomID: "room-uuid", Deleted: true, DeletedAt: &now},
	}
	time.Sleep(50 * time.Millisecond)

	msgs := s.VisibleMessages()
	require.Len(t, msgs, 1, "deleted messages keep their slot")
	assert.True(t, msgs[0].Deleted)

	rec.mu.Lock()
	assert.Len(t, rec.deleted, 1)
	rec.mu.Unlock()
}

func TestSession_EventsAfterLeaveIgnored(t *testing.T) {
	store := newMockStorage()
	rec := &recorder{}
	expectEnter(store, []models.Message{})

	s := newTestSession(store, rec)
	require.NoError(t, s.Enter("lobby", "me"))
	require.NoError(t, s.Leave())

	store.MsgEvents <- models.ChangeEvent{
		Kind:    models.ChangeInsert,
		Message: models.Message{ID: 9, RoomID: "room-uuid", SenderID: "other", CreatedAt: time.Now()},
	}
	store.PresEvents <- models.PresenceEvent{Kind: models.PresenceJoin, User: "other"}
	time.Sleep(50 * time.Millisecond)

	assert.Equal(t, 0, rec.appendedCount())
	assert.Equal(t, 0, rec.rosterCount())
}

func TestSession_PresenceFlow(t *testing.T) {
	store := newMockStorage()
	rec := &recorder{}
	expectEnter(store, []models.Message{})

	s := newTestSession(store, rec)
	require.NoError(t, s.Enter("lobby", "me"))

	store.PresEvents <- models.PresenceEvent{Kind: models.PresenceJoin, User: "other"}
	time.Sleep(50 * time.Millisecond)

	roster := s.Roster()
	require.Len(t, roster, 1)
	assert.Equal(t, "other", roster[0].Username)
	assert.True(t, roster[0].Online)
	assert.GreaterOrEqual(t, rec.rosterCount(), 1)

	// Leave then rejoin within the grace period: never dropped.
	store.PresEvents <- models.PresenceEvent{Kind: models.PresenceLeave, User: "other"}
	store.PresEvents <- models.PresenceEvent{Kind: models.PresenceJoin, User: "other"}
	time.Sleep(100 * time.Millisecond)

	roster = s.Roster()
	require.Len(t, roster, 1)
	assert.True(t, roster[0].Online)
}

func TestSession_TypingEvents(t *testing.T) {
	store := newMockStorage()
	rec := &recorder{}
	expectEnter(store, []models.Message{})

	s := newTestSession(store, rec)
	require.NoError(t, s.Enter("lobby", "me"))

	store.PresEvents <- models.PresenceEvent{Kind: models.PresenceTyping, User: "other"}
	store.PresEvents <- models.PresenceEvent{Kind: models.PresenceTyping, User: "me"}
	time.Sleep(50 * time.Millisecond)

	rec.mu.Lock()
	defer rec.mu.Unlock()
	assert.Equal(t, []string{"other"}, rec.typing, "own typing echoes are filtered")
}

func TestSession_MarkMessageVisible(t *testing.T) {
	store := newMockStorage()
	rec := &recorder{}
	history := []models.Message{
		{ID: 1, RoomID: "room-uuid", SenderID: "other", Content: "hi", CreatedAt: time.Now(), Status: models.StatusDelivered},
		{ID: 2, RoomID: "room-uuid", SenderID: "me", Content: "yo", CreatedAt: time.Now(), Status: models.StatusDelivered},
	}
	expectEnter(store, history)
	store.On("MarkMessageRead", "room-uuid", uint(1), "me").Return(nil)

	s := newTestSession(store, rec)
	require.NoError(t, s.Enter("lobby", "me"))

	s.MarkMessageVisible(1)
	store.AssertCalled(t, "MarkMessageRead", "room-uuid", uint(1), "me")

	// Own message: no read receipt.
	s.MarkMessageVisible(2)
	store.AssertNumberOfCalls(t, "MarkMessageRead", 1)
}

func TestSession_OperationsRequireActiveRoom(t *testing.T) {
	store := newMockStorage()
	s := newTestSession(store, &recorder{})

	_, err := s.SendMessage("hello", nil)
	assert.ErrorIs(t, err, session.ErrNotActive)

	_, err = s.LoadOlderMessages()
	assert.ErrorIs(t, err, session.ErrNotActive)

	assert.ErrorIs(t, s.DeleteMessage(1), session.ErrNotActive)
	assert.ErrorIs(t, s.Typing(), session.ErrNotActive)
}

func TestSession_ReactWithoutCapability(t *testing.T) {
	store := newMockStorage()
	s := newTestSession(store, &recorder{})
	assert.ErrorIs(t, s.React(1, "thumbs_up"), session.ErrNoReactions)
}

func TestSession_ReplyPreview(t *testing.T) {
	store := newMockStorage()
	rec := &recorder{}
	target := uint(1)
	now := time.Now()
	history := []models.Message{
		{ID: 1, RoomID: "room-uuid", SenderID: "other", Content: "original", CreatedAt: now, Status: models.StatusSent},
		{ID: 2, RoomID: "room-uuid", SenderID: "me", Content: "reply", CreatedAt: now.Add(time.Second), ReplyToID: &target, Status: models.StatusSent},
	}
	expectEnter(store, history)

	s := newTestSession(store, rec)
	require.NoError(t, s.Enter("lobby", "me"))

	msgs := s.VisibleMessages()
	require.Len(t, msgs, 2)
	assert.Equal(t, "original", s.ReplyPreview(msgs[1]))
	assert.Equal(t, "", s.ReplyPreview(msgs[0]))

	missing := uint(99)
	assert.Equal(t, "message unavailable",
		s.ReplyPreview(models.Message{ReplyToID: &missing}))
}
