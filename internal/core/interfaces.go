package core

import "github.com/roomlink/roomlink/internal/domain"

// Frame is a raw encoded signaling message.
type Frame []byte

// SignalConnection abstracts a system messaging transport.
// Owned by the adapter; the adapter must Close() it.
type SignalConnection interface {
	TrySend(Frame) error
	Close()
}

// Store is the injected room registry + connection directory. One
// in-memory implementation per process, shared by every connection's
// handler; implementations serialize mutations so the member set never
// loses updates, and a snapshot taken after a mutation reflects it.
type Store interface {
	// Register adds a connection to the directory before it has joined
	// any room. DisplayName may be empty until join.
	Register(id domain.ConnectionID, conn SignalConnection)

	// Join puts the connection into a room (normalized id) and returns
	// the members that were already there, in join order. A connection
	// re-joining its current room is a no-op re-announcement
	// (rejoined=true, no second membership entry). A connection joining
	// a different room is moved out of the old one first; moved names
	// that room so the caller can announce the departure there.
	Join(room domain.RoomID, id domain.ConnectionID, displayName string) (existing []domain.Participant, rejoined bool, moved domain.RoomID, err error)

	// Leave removes the connection from the room and reports how many
	// members remain. The room is deleted when that reaches zero.
	// Unknown room or connection is a no-op (left=false).
	Leave(room domain.RoomID, id domain.ConnectionID) (remaining int, left bool)

	// Remove drops the connection from the directory and, if it was in
	// a room, from that room too. Returns the room it left, if any.
	Remove(id domain.ConnectionID) (room domain.RoomID, remaining int, wasMember bool)

	// Lookup resolves a connection to its participant meta and transport.
	Lookup(id domain.ConnectionID) (domain.Participant, SignalConnection, bool)

	// RoomOf reports which room the connection is currently in.
	RoomOf(id domain.ConnectionID) (domain.RoomID, bool)

	// Members lists the room's member ids in join order.
	Members(room domain.RoomID) []domain.ConnectionID

	// SetMediaState records the media flags a participant announced.
	SetMediaState(id domain.ConnectionID, ms domain.MediaState) bool

	// Snapshot derives a RoomSnapshot reflecting every mutation applied
	// before the call.
	Snapshot(room domain.RoomID) domain.RoomSnapshot
}
