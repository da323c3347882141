package models

// ChangeKind classifies a row-level change delivered over the live
// message stream.
type ChangeKind string

const (
	ChangeInsert ChangeKind = "insert"
	ChangeUpdate ChangeKind = "update"
	ChangeDelete ChangeKind = "delete"
)

// ChangeEvent is one row-level change for a room's messages, as published
// on the room's Pub/Sub channel and decoded by the subscription reader.
type ChangeEvent struct {
	Kind    ChangeKind `json:"kind"`
	Message Message    `json:"message"`
}

// PresenceKind classifies an event on a room's presence channel.
type PresenceKind string

const (
	// PresenceSync carries a full roster snapshot.
	PresenceSync  PresenceKind = "sync"
	PresenceJoin  PresenceKind = "join"
	PresenceLeave PresenceKind = "leave"
	// PresenceTyping is a transient side-channel signal; it never
	// touches the roster state machine.
	PresenceTyping PresenceKind = "typing"
)

// PresenceEvent is one event on a room's presence channel. User is set
// for join/leave/typing; Roster is set for sync.
type PresenceEvent struct {
	Kind   PresenceKind `json:"kind"`
	User   string       `json:"user,omitempty"`
	Roster []string     `json:"roster,omitempty"`
}
