package session

import (
	"time"

	"chatlive/backend/internal/messagestore"
	"chatlive/backend/internal/models"
	"chatlive/backend/internal/presence"
)

// pumpMessages applies live change events to the message store in arrival
// order. Events delivered after the session moved to a new generation are
// drained and dropped, so a late event for a left room can never fault or
// mutate the next room's state.
func (s *RoomSession) pumpMessages(gen uint64, msgs *messagestore.MessageStore, events <-chan models.ChangeEvent) {
	for ev := range events {
		if s.generation.Load() != gen {
			continue
		}
		switch ev.Kind {
		case models.ChangeInsert:
			if msgs.AppendLive(ev.Message) {
				s.emitAppended(ev.Message)
			}
		case models.ChangeUpdate:
			if ev.Message.Status == "" {
				continue
			}
			if msgs.UpdateStatus(ev.Message.ID, ev.Message.Status) {
				if m, ok := msgs.Get(ev.Message.ID); ok {
					s.emitStatusChanged(m)
				}
			}
		case models.ChangeDelete:
			deletedAt := time.Now()
			if ev.Message.DeletedAt != nil {
				deletedAt = *ev.Message.DeletedAt
			}
			if msgs.MarkDeleted(ev.Message.ID, deletedAt) {
				if m, ok := msgs.Get(ev.Message.ID); ok {
					s.emitDeleted(m)
				}
			}
		}
	}
}

// pumpPresence feeds presence events into the tracker. Typing signals
// bypass the roster state machine and go straight to the host.
func (s *RoomSession) pumpPresence(gen uint64, tracker *presence.Tracker, events <-chan models.PresenceEvent) {
	for ev := range events {
		if s.generation.Load() != gen {
			continue
		}
		if ev.Kind == models.PresenceTyping {
			s.mu.Lock()
			self := s.userID
			s.mu.Unlock()
			if ev.User != self {
				s.emitTyping(ev.User)
			}
			continue
		}
		tracker.HandleEvent(ev)
	}
}

func (s *RoomSession) emitAppended(msg models.Message) {
	if s.muted.Load() {
		return
	}
	if cb := s.opts.Callbacks.OnMessageAppended; cb != nil {
		cb(msg)
	}
}

func (s *RoomSession) emitStatusChanged(msg models.Message) {
	if s.muted.Load() {
		return
	}
	if cb := s.opts.Callbacks.OnMessageStatusChanged; cb != nil {
		cb(msg)
	}
}

func (s *RoomSession) emitDeleted(msg models.Message) {
	if s.muted.Load() {
		return
	}
	if cb := s.opts.Callbacks.OnMessageDeleted; cb != nil {
		cb(msg)
	}
}

func (s *RoomSession) emitTyping(user string) {
	if s.muted.Load() {
		return
	}
	if cb := s.opts.Callbacks.OnTyping; cb != nil {
		cb(user)
	}
}
