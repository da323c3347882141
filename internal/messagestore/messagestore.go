package messagestore

import (
	"sort"
	"sync"
	"time"

	"chatlive/backend/internal/config"
	"chatlive/backend/internal/models"
)

// Fetcher is the slice of the store the message view needs for history
// pagination. Both queries return rows newest-first.
type Fetcher interface {
	RecentMessages(roomID string, limit int) ([]models.Message, error)
	MessagesBefore(roomID string, before time.Time, beforeID uint, limit int) ([]models.Message, error)
}

// MessageStore holds the ordered, deduplicated message set for the active
// room. It merges paged history with live inserts while keeping the
// visible sequence sorted by (CreatedAt, ID) ascending with no duplicate
// IDs. All entry points are serialized with a mutex since live events and
// pagination calls interleave.
type MessageStore struct {
	mu      sync.Mutex
	fetcher Fetcher
	roomID  string

	msgs     []*models.Message
	byID     map[uint]*models.Message
	hasOlder bool
}

func New(fetcher Fetcher, roomID string) *MessageStore {
	return &MessageStore{
		fetcher: fetcher,
		roomID:  roomID,
		byID:    make(map[uint]*models.Message),
	}
}

// LoadRecent fetches the most recent limit messages and replaces the
// store's content with them in chronological order. It reports whether a
// further-older page may exist: exactly limit rows returned means assume
// more.
func (s *MessageStore) LoadRecent(limit int) (bool, error) {
	rows, err := s.fetcher.RecentMessages(s.roomID, limit)
	if err != nil {
		return false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.msgs = s.msgs[:0]
	s.byID = make(map[uint]*models.Message, len(rows))
	// Rows arrive newest-first; walk backwards to append chronologically.
	for i := len(rows) - 1; i >= 0; i-- {
		m := rows[i]
		if _, ok := s.byID[m.ID]; ok {
			continue
		}
		s.byID[m.ID] = &m
		s.msgs = append(s.msgs, &m)
	}
	s.hasOlder = len(rows) == limit
	return s.hasOlder, nil
}

// LoadOlder fetches up to limit messages strictly older than the current
// oldest loaded message and prepends them in chronological order. The
// existing entries keep their relative positions, so a caller anchored on
// them does not jump.
func (s *MessageStore) LoadOlder(limit int) (bool, error) {
	s.mu.Lock()
	if len(s.msgs) == 0 {
		s.mu.Unlock()
		return s.hasOlder, nil
	}
	oldest := s.msgs[0]
	before, beforeID := oldest.CreatedAt, oldest.ID
	s.mu.Unlock()

	rows, err := s.fetcher.MessagesBefore(s.roomID, before, beforeID, limit)
	if err != nil {
		return false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	page := make([]*models.Message, 0, len(rows))
	for i := len(rows) - 1; i >= 0; i-- {
		m := rows[i]
		if _, ok := s.byID[m.ID]; ok {
			continue
		}
		s.byID[m.ID] = &m
		page = append(page, &m)
	}
	s.msgs = append(page, s.msgs...)
	s.hasOlder = len(rows) == limit
	return s.hasOlder, nil
}

// AppendLive inserts one live message at its sorted position. It is a
// no-op if the ID is already present, which covers the race between the
// optimistic echo of a just-sent message and its arrival over the live
// stream. Returns whether the message was actually added.
func (s *MessageStore) AppendLive(msg models.Message) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.byID[msg.ID]; ok {
		return false
	}

	m := msg
	// Network delay can reorder near-simultaneous inserts from different
	// senders, so find the sorted position instead of always appending.
	i := sort.Search(len(s.msgs), func(i int) bool {
		return m.Before(s.msgs[i])
	})
	s.msgs = append(s.msgs, nil)
	copy(s.msgs[i+1:], s.msgs[i:])
	s.msgs[i] = &m
	s.byID[m.ID] = &m
	return true
}

// UpdateStatus applies a forward-only status transition in place. Updates
// for unknown IDs are dropped silently: the row may simply be outside the
// loaded window. Returns whether the stored status changed.
func (s *MessageStore) UpdateStatus(id uint, status models.Status) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.byID[id]
	if !ok {
		return false
	}
	if status.Rank() <= m.Status.Rank() {
		return false
	}
	m.Status = status
	return true
}

// MarkDeleted flags a loaded message as deleted and swaps its content for
// the placeholder. The record itself is never removed. No-op for unknown
// or already deleted IDs.
func (s *MessageStore) MarkDeleted(id uint, deletedAt time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.byID[id]
	if !ok || m.Deleted {
		return false
	}
	m.Deleted = true
	m.DeletedAt = &deletedAt
	m.Content = config.DeletedPlaceholder
	return true
}

// Get returns a copy of the message with the given ID.
func (s *MessageStore) Get(id uint) (models.Message, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.byID[id]
	if !ok {
		return models.Message{}, false
	}
	return *m, true
}

// Messages returns a copy of the visible sequence in display order.
func (s *MessageStore) Messages() []models.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.Message, len(s.msgs))
	for i, m := range s.msgs {
		out[i] = *m
	}
	return out
}

func (s *MessageStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.msgs)
}

// HasOlder reports whether the last pagination call indicated a
// further-older page may exist.
func (s *MessageStore) HasOlder() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hasOlder
}
