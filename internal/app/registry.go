package app

import (
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/roomlink/roomlink/internal/core"
	"github.com/roomlink/roomlink/internal/domain"
)

type connEntry struct {
	participant domain.Participant
	room        domain.RoomID
	conn        core.SignalConnection
}

// Registry is the in-memory room registry and connection directory.
// Single process, one mutex over both maps; every mutation on a room is
// applied atomically with respect to concurrent mutations, snapshots
// reflect the last mutation observed by the caller.
type Registry struct {
	mu    sync.RWMutex
	rooms map[domain.RoomID][]domain.ConnectionID
	conns map[domain.ConnectionID]*connEntry
}

var _ core.Store = (*Registry)(nil)

func NewRegistry() *Registry {
	return &Registry{
		rooms: make(map[domain.RoomID][]domain.ConnectionID),
		conns: make(map[domain.ConnectionID]*connEntry),
	}
}

func (r *Registry) Register(id domain.ConnectionID, conn core.SignalConnection) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.conns[id] = &connEntry{
		participant: domain.Participant{
			ID:    id,
			Media: domain.MediaState{VideoEnabled: true, AudioEnabled: true},
		},
		conn: conn,
	}
	log.Info().Str("module", "app.registry").Str("conn", string(id)).Msg("registered connection")
}

func (r *Registry) Join(room domain.RoomID, id domain.ConnectionID, displayName string) ([]domain.Participant, bool, domain.RoomID, error) {
	if err := domain.ValidateDisplayName(displayName); err != nil {
		return nil, false, "", err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.conns[id]
	if !ok {
		// Directory entry appears lazily for transports that join
		// without a prior Register (in-process tests do this).
		e = &connEntry{
			participant: domain.Participant{
				ID:    id,
				Media: domain.MediaState{VideoEnabled: true, AudioEnabled: true},
			},
		}
		r.conns[id] = e
	}
	e.participant.DisplayName = displayName

	if e.room == room {
		// Re-announcement: already a member, hand back the others
		// without adding a second membership entry.
		return r.othersLocked(room, id), true, "", nil
	}
	moved := e.room
	if moved != "" {
		// A connection is in at most one room at a time.
		r.dropMemberLocked(moved, id)
	}

	existing := r.othersLocked(room, id)
	r.rooms[room] = append(r.rooms[room], id)
	e.room = room
	log.Info().Str("module", "app.registry").Str("conn", string(id)).
		Str("room", string(room)).Int("members", len(r.rooms[room])).Msg("joined room")
	return existing, false, moved, nil
}

func (r *Registry) Leave(room domain.RoomID, id domain.ConnectionID) (int, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.conns[id]
	if !ok || e.room != room {
		return len(r.rooms[room]), false
	}
	e.room = ""
	r.dropMemberLocked(room, id)
	remaining := len(r.rooms[room])
	log.Info().Str("module", "app.registry").Str("conn", string(id)).
		Str("room", string(room)).Int("remaining", remaining).Msg("left room")
	return remaining, true
}

func (r *Registry) Remove(id domain.ConnectionID) (domain.RoomID, int, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.conns[id]
	if !ok {
		return "", 0, false
	}
	delete(r.conns, id)
	if e.room == "" {
		return "", 0, false
	}
	room := e.room
	r.dropMemberLocked(room, id)
	log.Info().Str("module", "app.registry").Str("conn", string(id)).
		Str("room", string(room)).Msg("removed connection")
	return room, len(r.rooms[room]), true
}

func (r *Registry) Lookup(id domain.ConnectionID) (domain.Participant, core.SignalConnection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.conns[id]
	if !ok {
		return domain.Participant{}, nil, false
	}
	return e.participant, e.conn, true
}

func (r *Registry) RoomOf(id domain.ConnectionID) (domain.RoomID, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.conns[id]
	if !ok || e.room == "" {
		return "", false
	}
	return e.room, true
}

func (r *Registry) Members(room domain.RoomID) []domain.ConnectionID {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]domain.ConnectionID, len(r.rooms[room]))
	copy(out, r.rooms[room])
	return out
}

// RoomCount reports how many rooms currently exist.
func (r *Registry) RoomCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rooms)
}

// HasRoom reports whether the room still exists in the registry.
func (r *Registry) HasRoom(room domain.RoomID) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.rooms[room]
	return ok
}

func (r *Registry) SetMediaState(id domain.ConnectionID, ms domain.MediaState) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.conns[id]
	if !ok {
		return false
	}
	e.participant.Media = ms
	return true
}

func (r *Registry) Snapshot(room domain.RoomID) domain.RoomSnapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := r.rooms[room]
	snap := domain.RoomSnapshot{
		Room:         room,
		TotalUsers:   len(ids),
		Participants: make([]domain.Participant, 0, len(ids)),
	}
	for _, id := range ids {
		if e, ok := r.conns[id]; ok {
			snap.Participants = append(snap.Participants, e.participant)
		}
	}
	return snap
}

// othersLocked lists room members except id, in join order.
func (r *Registry) othersLocked(room domain.RoomID, id domain.ConnectionID) []domain.Participant {
	out := make([]domain.Participant, 0, len(r.rooms[room]))
	for _, mid := range r.rooms[room] {
		if mid == id {
			continue
		}
		if e, ok := r.conns[mid]; ok {
			out = append(out, e.participant)
		}
	}
	return out
}

// dropMemberLocked removes id from the room's member slice and deletes
// the room once it is empty.
func (r *Registry) dropMemberLocked(room domain.RoomID, id domain.ConnectionID) {
	members := r.rooms[room]
	for i, mid := range members {
		if mid == id {
			r.rooms[room] = append(members[:i], members[i+1:]...)
			break
		}
	}
	if len(r.rooms[room]) == 0 {
		delete(r.rooms, room)
		log.Info().Str("module", "app.registry").Str("room", string(room)).Msg("room deleted")
	}
}
