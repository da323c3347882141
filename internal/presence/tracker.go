package presence

import (
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"chatlive/backend/internal/models"
)

// Tracker reconciles the eventually-consistent join/leave/sync event
// stream into a stable online/offline roster. Users are never dropped the
// moment they disconnect: going offline arms a removal timer and only its
// expiry, with no renewed activity in between, removes the entry. That
// grace period absorbs transient disconnect/reconnect flicker.
type Tracker struct {
	mu       sync.Mutex
	self     string
	grace    time.Duration
	entries  map[string]*entry
	onChange func()
	closed   bool
	log      zerolog.Logger
}

type entry struct {
	online   bool
	lastSeen time.Time
	removal  *time.Timer
}

func NewTracker(self string, grace time.Duration, log zerolog.Logger) *Tracker {
	return &Tracker{
		self:    self,
		grace:   grace,
		entries: make(map[string]*entry),
		log:     log.With().Str("component", "presence").Logger(),
	}
}

// SetOnChange registers the roster-changed notification. Called once at
// session wiring time, before events flow.
func (t *Tracker) SetOnChange(fn func()) {
	t.mu.Lock()
	t.onChange = fn
	t.mu.Unlock()
}

// HandleEvent dispatches one presence channel event. Typing events do not
// touch the roster and are ignored here.
func (t *Tracker) HandleEvent(ev models.PresenceEvent) {
	switch ev.Kind {
	case models.PresenceJoin:
		t.HandleJoin(ev.User)
	case models.PresenceLeave:
		t.HandleLeave(ev.User)
	case models.PresenceSync:
		t.HandleSync(ev.Roster)
	}
}

// HandleJoin forces a single user online, cancelling any pending removal.
func (t *Tracker) HandleJoin(user string) {
	t.mu.Lock()
	changed := t.setOnline(user)
	t.mu.Unlock()
	t.notify(changed)
}

// HandleLeave forces a single user offline and (re)arms the removal
// timer.
func (t *Tracker) HandleLeave(user string) {
	t.mu.Lock()
	changed := t.setOffline(user)
	t.mu.Unlock()
	t.notify(changed)
}

// HandleSync reconciles every known user against a full roster snapshot:
// snapshot members are forced online, locally known users missing from
// the snapshot are forced offline rather than removed. The local user is
// never forced offline by a snapshot.
func (t *Tracker) HandleSync(roster []string) {
	t.mu.Lock()
	present := make(map[string]bool, len(roster))
	changed := false
	for _, user := range roster {
		present[user] = true
		if t.setOnline(user) {
			changed = true
		}
	}
	for user, e := range t.entries {
		if present[user] || user == t.self {
			continue
		}
		if e.online {
			if t.setOffline(user) {
				changed = true
			}
		}
	}
	t.mu.Unlock()
	t.notify(changed)
}

// Roster returns the current entries sorted by username.
func (t *Tracker) Roster() []models.PresenceEntry {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]models.PresenceEntry, 0, len(t.entries))
	for user, e := range t.entries {
		out = append(out, models.PresenceEntry{
			Username: user,
			Online:   e.online,
			LastSeen: e.lastSeen,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Username < out[j].Username })
	return out
}

// Close cancels every pending removal timer and makes late timer fires
// inert. Safe to call more than once.
func (t *Tracker) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed = true
	for _, e := range t.entries {
		if e.removal != nil {
			e.removal.Stop()
			e.removal = nil
		}
	}
	return nil
}

// setOnline and setOffline require t.mu held. They report whether the
// visible roster changed.

func (t *Tracker) setOnline(user string) bool {
	e, ok := t.entries[user]
	if !ok {
		t.entries[user] = &entry{online: true, lastSeen: time.Now()}
		return true
	}
	if e.removal != nil {
		e.removal.Stop()
		e.removal = nil
	}
	e.lastSeen = time.Now()
	if !e.online {
		e.online = true
		return true
	}
	return false
}

func (t *Tracker) setOffline(user string) bool {
	e, ok := t.entries[user]
	if !ok {
		return false
	}
	if e.removal != nil {
		e.removal.Stop()
	}
	e.removal = time.AfterFunc(t.grace, func() { t.remove(user) })
	e.lastSeen = time.Now()
	if e.online {
		e.online = false
		return true
	}
	return false
}

// remove is the removal timer callback: drop the entry only if it is
// still offline and the tracker is still live.
func (t *Tracker) remove(user string) {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	e, ok := t.entries[user]
	if !ok || e.online {
		t.mu.Unlock()
		return
	}
	delete(t.entries, user)
	t.mu.Unlock()
	t.notify(true)
}

func (t *Tracker) notify(changed bool) {
	if !changed {
		return
	}
	t.mu.Lock()
	fn := t.onChange
	t.mu.Unlock()
	if fn != nil {
		fn()
	}
}
