package session

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"chatlive/backend/internal/config"
	"chatlive/backend/internal/messagestore"
	"chatlive/backend/internal/models"
	"chatlive/backend/internal/presence"
	"chatlive/backend/internal/registry"
	"chatlive/backend/internal/status"
	"chatlive/backend/internal/storage"
)

var (
	ErrSessionActive = errors.New("session: already in a room, leave first")
	ErrNotActive     = errors.New("session: no active room")
	ErrNoReactions   = errors.New("session: reactions capability not configured")
)

// State is the session lifecycle: idle -> entering -> active -> leaving
// -> idle.
type State string

const (
	StateIdle     State = "idle"
	StateEntering State = "entering"
	StateActive   State = "active"
	StateLeaving  State = "leaving"
)

// Callbacks are the change notifications the host registers. All fields
// are optional. After Leave starts, no callback fires for the old room.
type Callbacks struct {
	OnMessageAppended      func(models.Message)
	OnMessageStatusChanged func(models.Message)
	OnMessageDeleted       func(models.Message)
	OnPresenceChanged      func([]models.PresenceEntry)
	OnTyping               func(user string)
}

// ReactionsCapability is the optional reaction side-channel. A nil
// capability simply disables React.
type ReactionsCapability interface {
	React(roomID string, messageID uint, userID, emoji string) error
}

// Options tune a session; zero values fall back to the config defaults.
type Options struct {
	Callbacks         Callbacks
	Reactions         ReactionsCapability
	HeartbeatInterval time.Duration
	PresenceGrace     time.Duration
	PageSize          int
	Logger            zerolog.Logger
}

// RoomSession is the composition root: it owns one registry, message
// store, status engine and presence tracker per active room, binds their
// lifecycles together and exposes the room-level API. There are no
// package-level singletons; callers own the session value.
type RoomSession struct {
	store storage.Storage
	opts  Options
	log   zerolog.Logger

	// generation increments on every Enter and Leave; event pumps and
	// callbacks capture the value they were created under and go inert
	// the moment it moves on.
	generation atomic.Uint64
	muted      atomic.Bool

	mu       sync.Mutex
	state    State
	userID   string
	room     *models.ChatRoom
	registry *registry.Registry
	messages *messagestore.MessageStore
	engine   *status.Engine
	tracker  *presence.Tracker
}

func New(store storage.Storage, opts Options) *RoomSession {
	if opts.HeartbeatInterval == 0 {
		opts.HeartbeatInterval = config.StatusHeartbeatInterval
	}
	if opts.PresenceGrace == 0 {
		opts.PresenceGrace = config.PresenceGracePeriod
	}
	if opts.PageSize == 0 {
		opts.PageSize = config.RecentPageSize
	}
	return &RoomSession{
		store: store,
		opts:  opts,
		log:   opts.Logger.With().Str("component", "session").Logger(),
		state: StateIdle,
	}
}

// State returns the current lifecycle state.
func (s *RoomSession) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Room returns the active room, or nil when idle.
func (s *RoomSession) Room() *models.ChatRoom {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.room
}

// Enter joins the room with the given short code as userID: fresh
// sub-components are constructed, recent history is loaded, and the live
// message, presence and heartbeat subscriptions are registered one by one
// so a failure partway through still leaves a fully disposable set.
// Entering while a room is already active is rejected; re-entering the
// same room is a no-op.
func (s *RoomSession) Enter(roomCode, userID string) error {
	s.mu.Lock()
	if s.state != StateIdle {
		same := s.state == StateActive && s.room != nil && s.room.Code == roomCode && s.userID == userID
		s.mu.Unlock()
		if same {
			return nil
		}
		return ErrSessionActive
	}
	s.state = StateEntering
	gen := s.generation.Add(1)
	s.mu.Unlock()

	reg := registry.New(s.log)
	fail := func(err error) error {
		reg.CleanupAll()
		s.mu.Lock()
		s.state = StateIdle
		s.mu.Unlock()
		return err
	}

	room, err := s.store.EnterRoom(roomCode, userID)
	if err != nil {
		return fail(err)
	}

	msgs := messagestore.New(s.store, room.RoomID)
	if _, err := msgs.LoadRecent(s.opts.PageSize); err != nil {
		return fail(err)
	}

	s.muted.Store(false)
	reg.Register("host.callbacks", registry.KindObserver, func() error {
		s.muted.Store(true)
		return nil
	})

	msgSub, err := s.store.SubscribeMessages(room.RoomID)
	if err != nil {
		return fail(err)
	}
	reg.Register("messages.stream", registry.KindSubscription, msgSub.Unsubscribe)
	go s.pumpMessages(gen, msgs, msgSub.Events)

	tracker := presence.NewTracker(userID, s.opts.PresenceGrace, s.log)
	tracker.SetOnChange(func() {
		if s.generation.Load() != gen || s.muted.Load() {
			return
		}
		if cb := s.opts.Callbacks.OnPresenceChanged; cb != nil {
			cb(tracker.Roster())
		}
	})
	reg.Register("presence.gc", registry.KindTimer, tracker.Close)

	presSub, err := s.store.TrackPresence(room.RoomID, userID)
	if err != nil {
		return fail(err)
	}
	reg.Register("presence.stream", registry.KindSubscription, presSub.Untrack)
	go s.pumpPresence(gen, tracker, presSub.Events)

	engine := status.NewEngine(s.store, room.RoomID, userID, s.opts.HeartbeatInterval, s.log)
	engine.Start(reg)

	s.mu.Lock()
	s.state = StateActive
	s.userID = userID
	s.room = room
	s.registry = reg
	s.messages = msgs
	s.engine = engine
	s.tracker = tracker
	s.mu.Unlock()

	s.log.Info().Str("room", room.RoomID).Str("user", userID).Msg("entered room")
	return nil
}

// Leave tears the active room down: every registered handle is cleaned
// up first, then in-memory state is cleared. The clearing step always
// runs, even when some handle failed to dispose.
func (s *RoomSession) Leave() error {
	s.mu.Lock()
	if s.state != StateActive {
		s.mu.Unlock()
		return nil
	}
	s.state = StateLeaving
	s.generation.Add(1)
	s.muted.Store(true)
	reg := s.registry
	roomID := s.room.RoomID
	s.mu.Unlock()

	errs := reg.CleanupAll()

	s.mu.Lock()
	s.room = nil
	s.registry = nil
	s.messages = nil
	s.engine = nil
	s.tracker = nil
	s.userID = ""
	s.state = StateIdle
	s.mu.Unlock()

	s.log.Info().Str("room", roomID).Int("teardown_errors", len(errs)).Msg("left room")
	return nil
}

// SendMessage persists a new message and echoes it into the local view
// without waiting for the live stream; the stream's own copy is
// deduplicated by ID. A store failure is surfaced and leaves no ghost
// entry behind.
func (s *RoomSession) SendMessage(content string, replyTo *uint) (models.Message, error) {
	s.mu.Lock()
	if s.state != StateActive {
		s.mu.Unlock()
		return models.Message{}, ErrNotActive
	}
	msgs, room, userID := s.messages, s.room, s.userID
	s.mu.Unlock()

	msg := models.Message{
		RoomID:    room.RoomID,
		SenderID:  userID,
		Content:   content,
		ReplyToID: replyTo,
		Status:    models.StatusSent,
	}
	if err := s.store.InsertMessage(&msg); err != nil {
		s.log.Warn().Str("room", room.RoomID).Err(err).Msg("send failed")
		return models.Message{}, err
	}

	if msgs.AppendLive(msg) {
		s.emitAppended(msg)
	}
	return msg, nil
}

// DeleteMessage soft-deletes one of the caller's own messages. Deleting
// someone else's message surfaces storage.ErrConflict.
func (s *RoomSession) DeleteMessage(id uint) error {
	s.mu.Lock()
	if s.state != StateActive {
		s.mu.Unlock()
		return ErrNotActive
	}
	room, userID := s.room, s.userID
	s.mu.Unlock()

	return s.store.SoftDeleteMessage(room.RoomID, id, userID)
}

// LoadOlderMessages prepends the next older history page and reports
// whether more may remain.
func (s *RoomSession) LoadOlderMessages() (bool, error) {
	s.mu.Lock()
	if s.state != StateActive {
		s.mu.Unlock()
		return false, ErrNotActive
	}
	msgs := s.messages
	s.mu.Unlock()

	return msgs.LoadOlder(config.OlderPageSize)
}

// VisibleMessages returns the ordered message sequence for display.
func (s *RoomSession) VisibleMessages() []models.Message {
	s.mu.Lock()
	msgs := s.messages
	s.mu.Unlock()
	if msgs == nil {
		return nil
	}
	return msgs.Messages()
}

// Roster returns the presence roster, sorted by username.
func (s *RoomSession) Roster() []models.PresenceEntry {
	s.mu.Lock()
	tracker := s.tracker
	s.mu.Unlock()
	if tracker == nil {
		return nil
	}
	return tracker.Roster()
}

// MarkMessageVisible is the host's visibility signal: the message with
// the given ID is sufficiently visible to the user, so mark it read if it
// qualifies.
func (s *RoomSession) MarkMessageVisible(id uint) {
	s.mu.Lock()
	msgs, engine := s.messages, s.engine
	s.mu.Unlock()
	if msgs == nil || engine == nil {
		return
	}
	if msg, ok := msgs.Get(id); ok {
		engine.MarkVisible(msg)
	}
}

// NotifyForeground is the tab-foreground signal; it triggers an immediate
// delivered sweep.
func (s *RoomSession) NotifyForeground() {
	s.mu.Lock()
	engine := s.engine
	s.mu.Unlock()
	if engine != nil {
		engine.Foreground()
	}
}

// Typing broadcasts a transient typing signal to the room.
func (s *RoomSession) Typing() error {
	s.mu.Lock()
	if s.state != StateActive {
		s.mu.Unlock()
		return ErrNotActive
	}
	room, userID := s.room, s.userID
	s.mu.Unlock()
	return s.store.PublishTyping(room.RoomID, userID)
}

// React attaches a reaction to a message through the optional capability.
func (s *RoomSession) React(messageID uint, emoji string) error {
	if s.opts.Reactions == nil {
		return ErrNoReactions
	}
	s.mu.Lock()
	if s.state != StateActive {
		s.mu.Unlock()
		return ErrNotActive
	}
	room, userID := s.room, s.userID
	s.mu.Unlock()
	return s.opts.Reactions.React(room.RoomID, messageID, userID, emoji)
}

// ReplyPreview returns the content to show for a message's reply target:
// the target's content when loaded, a placeholder when the target is
// deleted or outside the loaded window.
func (s *RoomSession) ReplyPreview(msg models.Message) string {
	if msg.ReplyToID == nil {
		return ""
	}
	s.mu.Lock()
	msgs := s.messages
	s.mu.Unlock()
	if msgs != nil {
		if target, ok := msgs.Get(*msg.ReplyToID); ok && !target.Deleted {
			return target.Content
		}
	}
	return "message unavailable"
}
