package status

import (
	"time"

	"github.com/rs/zerolog"

	"chatlive/backend/internal/models"
	"chatlive/backend/internal/registry"
)

// Marker is the slice of the store the status engine drives. Both calls
// are idempotent store-side procedures; eligibility (which rows a
// delivered sweep touches) is defined by the store, not computed here.
type Marker interface {
	MarkRoomDelivered(roomID, selfID string) error
	MarkMessageRead(roomID string, id uint, selfID string) error
}

// Engine drives the per-message delivery/read state machine. It only
// triggers the store procedures; the resulting status updates come back
// over the live stream (or the next heartbeat sweep) and are applied by
// the message store, which enforces the forward-only rule. Failures are
// logged and dropped: the next heartbeat converges naturally.
type Engine struct {
	marker   Marker
	roomID   string
	selfID   string
	interval time.Duration
	log      zerolog.Logger
}

func NewEngine(marker Marker, roomID, selfID string, interval time.Duration, log zerolog.Logger) *Engine {
	return &Engine{
		marker:   marker,
		roomID:   roomID,
		selfID:   selfID,
		interval: interval,
		log:      log.With().Str("component", "status").Str("room", roomID).Logger(),
	}
}

// Start runs an immediate delivered sweep and arms the periodic
// heartbeat, registering its cancellation with the session registry. The
// heartbeat is the correctness backstop: the live stream is treated as an
// optimization, polling must converge to the same state on its own.
func (e *Engine) Start(reg *registry.Registry) {
	e.Sweep()

	ticker := time.NewTicker(e.interval)
	done := make(chan struct{})
	go func() {
		for {
			select {
			case <-ticker.C:
				e.Sweep()
			case <-done:
				return
			}
		}
	}()

	reg.Register("status.heartbeat", registry.KindTimer, func() error {
		ticker.Stop()
		close(done)
		return nil
	})
}

// Sweep triggers the room-wide "mark delivered for all eligible"
// procedure. Called on start, on every heartbeat tick and on foreground.
func (e *Engine) Sweep() {
	if err := e.marker.MarkRoomDelivered(e.roomID, e.selfID); err != nil {
		e.log.Warn().Err(err).Msg("delivered sweep failed")
	}
}

// Foreground is the tab-foreground signal: run a sweep right away instead
// of waiting for the next tick.
func (e *Engine) Foreground() {
	e.Sweep()
}

// MarkVisible marks a single message read once the host reports it
// sufficiently visible. Own messages and messages already read are
// skipped.
func (e *Engine) MarkVisible(msg models.Message) {
	if msg.SenderID == e.selfID || msg.Status == models.StatusRead {
		return
	}
	if err := e.marker.MarkMessageRead(e.roomID, msg.ID, e.selfID); err != nil {
		e.log.Warn().Uint("message", msg.ID).Err(err).Msg("mark read failed")
	}
}
