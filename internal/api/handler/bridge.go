package handler

import (
	"errors"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"chatlive/backend/internal/config"
	"chatlive/backend/internal/models"
	"chatlive/backend/internal/session"
	"chatlive/backend/internal/storage"
)

// inboundFrame is one client command over the socket.
type inboundFrame struct {
	Type      string `json:"type"` // send, delete, load_older, visible, typing, react, foreground
	Content   string `json:"content,omitempty"`
	ReplyTo   *uint  `json:"reply_to,omitempty"`
	MessageID uint   `json:"message_id,omitempty"`
	Emoji     string `json:"emoji,omitempty"`
}

// outboundFrame is one server notification over the socket.
type outboundFrame struct {
	Type     string                 `json:"type"` // snapshot, message, status, deleted, presence, typing, older, error
	Message  *models.Message        `json:"message,omitempty"`
	Messages []models.Message       `json:"messages,omitempty"`
	Roster   []models.PresenceEntry `json:"roster,omitempty"`
	User     string                 `json:"user,omitempty"`
	HasOlder bool                   `json:"has_older,omitempty"`
	Error    string                 `json:"error,omitempty"`
}

// bridge ties one WebSocket connection to one RoomSession: inbound frames
// become session calls, session callbacks become outbound frames.
type bridge struct {
	conn    *websocket.Conn
	session *session.RoomSession
	send    chan outboundFrame
	done    chan struct{}
	log     zerolog.Logger
}

func newBridge(conn *websocket.Conn, log zerolog.Logger) *bridge {
	return &bridge{
		conn: conn,
		send: make(chan outboundFrame, config.SendBufferSize),
		done: make(chan struct{}),
		log:  log.With().Str("component", "ws").Logger(),
	}
}

// sessionCallbacks builds the callback set the session notifies into this
// socket.
func (b *bridge) sessionCallbacks() session.Callbacks {
	return session.Callbacks{
		OnMessageAppended: func(msg models.Message) {
			b.push(outboundFrame{Type: "message", Message: &msg})
		},
		OnMessageStatusChanged: func(msg models.Message) {
			b.push(outboundFrame{Type: "status", Message: &msg})
		},
		OnMessageDeleted: func(msg models.Message) {
			b.push(outboundFrame{Type: "deleted", Message: &msg})
		},
		OnPresenceChanged: func(roster []models.PresenceEntry) {
			b.push(outboundFrame{Type: "presence", Roster: roster})
		},
		OnTyping: func(user string) {
			b.push(outboundFrame{Type: "typing", User: user})
		},
	}
}

// push enqueues a frame, dropping it when the socket is gone or cannot
// keep up. Late callbacks after teardown land here and are no-ops.
func (b *bridge) push(frame outboundFrame) {
	select {
	case <-b.done:
	case b.send <- frame:
	default:
		b.log.Warn().Str("type", frame.Type).Msg("outbound frame dropped, slow socket")
	}
}

// sendSnapshot pushes the initial room view: loaded messages plus roster.
func (b *bridge) sendSnapshot() {
	b.push(outboundFrame{
		Type:     "snapshot",
		Messages: b.session.VisibleMessages(),
		Roster:   b.session.Roster(),
	})
}

// Run starts the read and write pumps and blocks until the socket is
// done. The session is always left on the way out.
func (b *bridge) Run() {
	go b.writePump()
	b.readPump()
}

func (b *bridge) readPump() {
	defer func() {
		b.session.Leave()
		close(b.done)
		b.conn.Close()
	}()

	b.conn.SetReadLimit(config.MaxMessageSize)
	b.conn.SetReadDeadline(time.Now().Add(config.PongWait))
	b.conn.SetPongHandler(func(string) error {
		b.conn.SetReadDeadline(time.Now().Add(config.PongWait))
		return nil
	})

	for {
		var frame inboundFrame
		if err := b.conn.ReadJSON(&frame); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				b.log.Warn().Err(err).Msg("error reading frame")
			}
			return
		}
		b.dispatch(frame)
	}
}

func (b *bridge) dispatch(frame inboundFrame) {
	switch frame.Type {
	case "send":
		if _, err := b.session.SendMessage(frame.Content, frame.ReplyTo); err != nil {
			b.push(outboundFrame{Type: "error", Error: "send failed"})
		}
	case "delete":
		if err := b.session.DeleteMessage(frame.MessageID); err != nil {
			if errors.Is(err, storage.ErrConflict) {
				b.push(outboundFrame{Type: "error", Error: "not your message"})
			} else {
				b.push(outboundFrame{Type: "error", Error: "delete failed"})
			}
		}
	case "load_older":
		hasOlder, err := b.session.LoadOlderMessages()
		if err != nil {
			b.push(outboundFrame{Type: "error", Error: "load failed"})
			return
		}
		b.push(outboundFrame{
			Type:     "older",
			Messages: b.session.VisibleMessages(),
			HasOlder: hasOlder,
		})
	case "visible":
		b.session.MarkMessageVisible(frame.MessageID)
	case "typing":
		b.session.Typing()
	case "foreground":
		b.session.NotifyForeground()
	case "react":
		if err := b.session.React(frame.MessageID, frame.Emoji); err != nil {
			b.push(outboundFrame{Type: "error", Error: "reaction failed"})
		}
	default:
		b.log.Warn().Str("type", frame.Type).Msg("unknown frame type")
	}
}

func (b *bridge) writePump() {
	ticker := time.NewTicker(config.PingPeriod)
	defer func() {
		ticker.Stop()
		b.conn.Close()
	}()

	for {
		select {
		case <-b.done:
			b.conn.SetWriteDeadline(time.Now().Add(config.WriteWait))
			b.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return
		case frame := <-b.send:
			b.conn.SetWriteDeadline(time.Now().Add(config.WriteWait))
			if err := b.conn.WriteJSON(frame); err != nil {
				return
			}
		case <-ticker.C:
			b.conn.SetWriteDeadline(time.Now().Add(config.WriteWait))
			if err := b.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
