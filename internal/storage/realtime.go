package storage

import (
	"encoding/json"
	"sync"
	"time"

	"chatlive/backend/internal/config"
	"chatlive/backend/internal/models"
)

// presenceTTL is how long a member's liveness key survives without a
// heartbeat refresh. Kept a few beats above the heartbeat interval so a
// single missed tick does not drop the member from sync snapshots.
const presenceTTL = 90 * time.Second

func messageChannel(roomID string) string  { return "room:" + roomID + ":messages" }
func presenceChannel(roomID string) string { return "room:" + roomID + ":presence" }
func rosterKey(roomID string) string       { return "room:" + roomID + ":roster" }
func aliveKey(roomID, userID string) string {
	return "presence:" + roomID + ":" + userID
}

// MessageSubscription is a live change stream for one room's messages.
// Events is closed after Unsubscribe; delivery into a closed-down
// consumer is therefore a drained channel, never a fault.
type MessageSubscription struct {
	Events <-chan models.ChangeEvent

	closeFn func() error
	once    sync.Once
}

// NewMessageSubscription wraps an event channel and its teardown. Exposed
// so alternate Storage implementations and tests can build streams.
func NewMessageSubscription(events <-chan models.ChangeEvent, closeFn func() error) *MessageSubscription {
	return &MessageSubscription{Events: events, closeFn: closeFn}
}

// Unsubscribe tears the stream down. Idempotent.
func (sub *MessageSubscription) Unsubscribe() error {
	var err error
	sub.once.Do(func() {
		if sub.closeFn != nil {
			err = sub.closeFn()
		}
	})
	return err
}

// SubscribeMessages opens the room's Pub/Sub change channel and decodes
// its payloads into typed events. Events for which the consumer is too
// slow are dropped; the heartbeat sweep and pagination recover the state.
func (s *Service) SubscribeMessages(roomID string) (*MessageSubscription, error) {
	pubsub := s.Redis.Subscribe(s.Ctx, messageChannel(roomID))
	if _, err := pubsub.Receive(s.Ctx); err != nil {
		pubsub.Close()
		return nil, err
	}

	events := make(chan models.ChangeEvent, config.SendBufferSize)
	go func() {
		defer close(events)
		for msg := range pubsub.Channel() {
			var ev models.ChangeEvent
			if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
				s.Log.Warn().Str("room", roomID).Err(err).Msg("bad change event payload")
				continue
			}
			select {
			case events <- ev:
			default:
				s.Log.Warn().Str("room", roomID).Msg("change event dropped, consumer too slow")
			}
		}
	}()

	return NewMessageSubscription(events, pubsub.Close), nil
}

// PresenceSubscription is a live presence stream for one room: join,
// leave and typing events relayed over Pub/Sub, plus periodic sync
// snapshots derived from the roster set. The snapshot heartbeat doubles
// as the local user's own liveness signal and runs independently of the
// status heartbeat.
type PresenceSubscription struct {
	Events <-chan models.PresenceEvent

	once    sync.Once
	untrack func() error
}

// NewPresenceSubscription wraps a presence event channel and its
// teardown.
func NewPresenceSubscription(events <-chan models.PresenceEvent, untrack func() error) *PresenceSubscription {
	return &PresenceSubscription{Events: events, untrack: untrack}
}

// Untrack announces the leave, stops the liveness heartbeat and closes
// the stream. Idempotent.
func (p *PresenceSubscription) Untrack() error {
	var err error
	p.once.Do(func() {
		if p.untrack != nil {
			err = p.untrack()
		}
	})
	return err
}

// TrackPresence joins the room's presence channel as selfID: announces
// the join, heartbeats a liveness key, relays join/leave/typing events
// and emits a roster snapshot on every heartbeat tick.
func (s *Service) TrackPresence(roomID, selfID string) (*PresenceSubscription, error) {
	if err := s.Redis.SAdd(s.Ctx, rosterKey(roomID), selfID).Err(); err != nil {
		return nil, err
	}
	if err := s.Redis.Set(s.Ctx, aliveKey(roomID, selfID), "1", presenceTTL).Err(); err != nil {
		return nil, err
	}

	pubsub := s.Redis.Subscribe(s.Ctx, presenceChannel(roomID))
	if _, err := pubsub.Receive(s.Ctx); err != nil {
		pubsub.Close()
		return nil, err
	}

	s.publishPresence(roomID, models.PresenceEvent{Kind: models.PresenceJoin, User: selfID})

	events := make(chan models.PresenceEvent, config.SendBufferSize)
	stop := make(chan struct{})
	var wg sync.WaitGroup

	emit := func(ev models.PresenceEvent) {
		select {
		case events <- ev:
		default:
			s.Log.Warn().Str("room", roomID).Msg("presence event dropped, consumer too slow")
		}
	}

	// Pub/Sub relay.
	wg.Add(1)
	go func() {
		defer wg.Done()
		for msg := range pubsub.Channel() {
			var ev models.PresenceEvent
			if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
				s.Log.Warn().Str("room", roomID).Err(err).Msg("bad presence event payload")
				continue
			}
			emit(ev)
		}
	}()

	// Liveness heartbeat and sync snapshots.
	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(config.PresenceHeartbeatInterval)
		defer ticker.Stop()

		if roster, err := s.liveRoster(roomID); err == nil {
			emit(models.PresenceEvent{Kind: models.PresenceSync, Roster: roster})
		}
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				if err := s.Redis.Set(s.Ctx, aliveKey(roomID, selfID), "1", presenceTTL).Err(); err != nil {
					s.Log.Warn().Str("room", roomID).Err(err).Msg("presence heartbeat failed")
					continue
				}
				roster, err := s.liveRoster(roomID)
				if err != nil {
					s.Log.Warn().Str("room", roomID).Err(err).Msg("roster snapshot failed")
					continue
				}
				emit(models.PresenceEvent{Kind: models.PresenceSync, Roster: roster})
			}
		}
	}()

	go func() {
		wg.Wait()
		close(events)
	}()

	return NewPresenceSubscription(events, func() error {
		close(stop)
		s.Redis.Del(s.Ctx, aliveKey(roomID, selfID))
		s.publishPresence(roomID, models.PresenceEvent{Kind: models.PresenceLeave, User: selfID})
		return pubsub.Close()
	}), nil
}

// PublishTyping broadcasts a transient typing signal on the room's
// presence channel.
func (s *Service) PublishTyping(roomID, selfID string) error {
	payload, err := json.Marshal(models.PresenceEvent{Kind: models.PresenceTyping, User: selfID})
	if err != nil {
		return err
	}
	return s.Redis.Publish(s.Ctx, presenceChannel(roomID), payload).Err()
}

// liveRoster returns the members of the room whose liveness key is still
// alive.
func (s *Service) liveRoster(roomID string) ([]string, error) {
	members, err := s.Redis.SMembers(s.Ctx, rosterKey(roomID)).Result()
	if err != nil {
		return nil, err
	}
	roster := make([]string, 0, len(members))
	for _, member := range members {
		n, err := s.Redis.Exists(s.Ctx, aliveKey(roomID, member)).Result()
		if err != nil {
			return nil, err
		}
		if n > 0 {
			roster = append(roster, member)
		}
	}
	return roster, nil
}

func (s *Service) publishPresence(roomID string, ev models.PresenceEvent) {
	payload, err := json.Marshal(ev)
	if err != nil {
		s.Log.Error().Err(err).Msg("failed to encode presence event")
		return
	}
	if err := s.Redis.Publish(s.Ctx, presenceChannel(roomID), payload).Err(); err != nil {
		s.Log.Warn().Str("room", roomID).Err(err).Msg("failed to publish presence event")
	}
}
