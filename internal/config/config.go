package config

import "time"

const (
	// Status propagation
	StatusHeartbeatInterval = 30 * time.Second

	// Presence
	PresenceGracePeriod       = 45 * time.Minute
	PresenceHeartbeatInterval = 25 * time.Second

	// Pagination
	RecentPageSize = 50
	OlderPageSize  = 50

	// WebSocket pumps
	WriteWait      = 10 * time.Second
	PongWait       = 60 * time.Second
	PingPeriod     = (PongWait * 9) / 10
	MaxMessageSize = 4096
	SendBufferSize = 256
)

// DeletedPlaceholder replaces the content of a soft-deleted message.
const DeletedPlaceholder = "message deleted"
