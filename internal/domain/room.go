package domain

import "strings"

// RoomID is the case-normalized identifier of a room.
type RoomID string

// NormalizeRoomID maps whatever the user typed to the canonical room id.
func NormalizeRoomID(raw string) RoomID {
	return RoomID(strings.ToLower(strings.TrimSpace(raw)))
}

// RoomSnapshot is a point-in-time view of a room, pushed to clients on
// every membership or media-state change. Derived state, never authoritative.
type RoomSnapshot struct {
	Room         RoomID        `json:"room"`
	TotalUsers   int           `json:"totalUsers"`
	Participants []Participant `json:"users"`
}
