package handler

import (
	"github.com/rs/zerolog"

	"chatlive/backend/internal/storage"
)

// Handler wires the HTTP surface to the storage layer. Each WebSocket
// connection gets its own RoomSession; the handler itself holds no room
// state.
type Handler struct {
	Store     storage.Storage
	Log       zerolog.Logger
	jwtSecret []byte
}

func NewHandler(store storage.Storage, jwtSecret string, log zerolog.Logger) *Handler {
	return &Handler{
		Store:     store,
		Log:       log.With().Str("component", "handler").Logger(),
		jwtSecret: []byte(jwtSecret),
	}
}
