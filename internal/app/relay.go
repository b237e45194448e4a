package app

import (
	"github.com/rs/zerolog/log"

	"github.com/roomlink/roomlink/internal/core"
	"github.com/roomlink/roomlink/internal/domain"
)

// UnknownSender is stamped when the directory has no entry for the
// sending connection. The forward still happens.
const UnknownSender = "Unknown"

// Relay routes signaling messages between exactly the right two
// participants and fans membership deltas out to rooms. It never blocks:
// delivery goes through SignalConnection.TrySend and a failed or unknown
// target is dropped, the target may have legitimately left mid-flight.
type Relay struct {
	store core.Store
}

func NewRelay(store core.Store) *Relay {
	return &Relay{store: store}
}

// Store exposes the injected registry to the transport adapter.
func (rl *Relay) Store() core.Store { return rl.store }

// Join puts the connection into the room and emits the membership flow:
// existing-users and room-info to the joiner, user-joined and room-info
// to everyone already there. A re-join of the same room replays the
// joiner-side messages without a duplicate user-joined broadcast. A
// join out of another room announces user-left and a snapshot there
// first, so no room is left holding a departed member.
func (rl *Relay) Join(id domain.ConnectionID, roomRaw, displayName string) error {
	room := domain.NormalizeRoomID(roomRaw)
	existing, rejoined, moved, err := rl.store.Join(room, id, displayName)
	if err != nil {
		return err
	}
	if moved != "" {
		// The connection switched rooms; the old room sees a normal
		// departure.
		rl.announceDeparture(moved, id, displayName)
	}

	users := make([]core.PeerInfo, 0, len(existing))
	for _, p := range existing {
		users = append(users, core.PeerInfo{ConnectionID: p.ID, DisplayName: p.DisplayName})
	}
	rl.sendTo(id, core.MsgExistingUsers, core.ExistingUsersPayload{Users: users})

	if !rejoined {
		rl.broadcast(room, id, core.MsgUserJoined, core.MembershipPayload{
			ConnectionID: id,
			DisplayName:  displayName,
		})
	}

	snap := rl.store.Snapshot(room)
	rl.sendTo(id, core.MsgRoomInfo, snap)
	rl.broadcast(room, id, core.MsgRoomInfo, snap)

	log.Info().Str("module", "app.relay").Str("conn", string(id)).
		Str("room", string(room)).Int("total", snap.TotalUsers).Msg("join relayed")
	return nil
}

// RouteSignal forwards an offer, answer or candidate to its explicit
// target, stamping the sender's identity on the way through. Unknown
// target: silently dropped, best effort.
func (rl *Relay) RouteSignal(sender domain.ConnectionID, kind core.MessageType, p core.SignalPayload) {
	if p.TargetID == "" {
		log.Debug().Str("module", "app.relay").Str("kind", string(kind)).Msg("signal without target dropped")
		return
	}

	senderName := UnknownSender
	if meta, _, ok := rl.store.Lookup(sender); ok && meta.DisplayName != "" {
		senderName = meta.DisplayName
	}

	out := core.SignalPayload{
		SenderID:    sender,
		Room:        p.Room,
		Description: p.Description,
		Candidate:   p.Candidate,
	}
	// Candidates travel without the display name, descriptions carry it.
	if kind != core.MsgICECandidate {
		out.SenderName = senderName
	}

	_, conn, ok := rl.store.Lookup(p.TargetID)
	if !ok || conn == nil {
		log.Debug().Str("module", "app.relay").Str("kind", string(kind)).
			Str("target", string(p.TargetID)).Msg("target not registered, signal dropped")
		return
	}
	rl.deliver(conn, kind, out)
}

// MediaState records the sender's media flags and broadcasts them, plus
// a fresh snapshot, to the rest of the sender's room.
func (rl *Relay) MediaState(sender domain.ConnectionID, p core.MediaStatePayload) {
	rl.store.SetMediaState(sender, domain.MediaState{
		VideoEnabled: p.VideoEnabled,
		AudioEnabled: p.AudioEnabled,
	})

	room, ok := rl.store.RoomOf(sender)
	if !ok {
		return
	}
	senderName := UnknownSender
	if meta, _, ok := rl.store.Lookup(sender); ok && meta.DisplayName != "" {
		senderName = meta.DisplayName
	}
	rl.broadcast(room, sender, core.MsgMediaState, core.MediaStatePayload{
		ConnectionID: sender,
		DisplayName:  senderName,
		VideoEnabled: p.VideoEnabled,
		AudioEnabled: p.AudioEnabled,
	})
	rl.broadcast(room, sender, core.MsgRoomInfo, rl.store.Snapshot(room))
}

// Leave takes the connection out of its room, announcing user-left and a
// snapshot to whoever remains. The signaling socket stays up.
func (rl *Relay) Leave(id domain.ConnectionID) {
	room, ok := rl.store.RoomOf(id)
	if !ok {
		return
	}
	name := UnknownSender
	if meta, _, ok := rl.store.Lookup(id); ok && meta.DisplayName != "" {
		name = meta.DisplayName
	}
	if _, left := rl.store.Leave(room, id); !left {
		return
	}
	rl.announceDeparture(room, id, name)
}

// Disconnect applies leave semantics for a dropped socket and forgets
// the connection entirely.
func (rl *Relay) Disconnect(id domain.ConnectionID) {
	name := UnknownSender
	if meta, _, ok := rl.store.Lookup(id); ok && meta.DisplayName != "" {
		name = meta.DisplayName
	}
	room, _, wasMember := rl.store.Remove(id)
	if !wasMember {
		return
	}
	rl.announceDeparture(room, id, name)
	log.Info().Str("module", "app.relay").Str("conn", string(id)).
		Str("room", string(room)).Msg("disconnect relayed")
}

func (rl *Relay) announceDeparture(room domain.RoomID, id domain.ConnectionID, name string) {
	rl.broadcast(room, id, core.MsgUserLeft, core.MembershipPayload{
		ConnectionID: id,
		DisplayName:  name,
	})
	rl.broadcast(room, id, core.MsgRoomInfo, rl.store.Snapshot(room))
}

// broadcast delivers to every room member except from. A failing member
// never aborts delivery to the others.
func (rl *Relay) broadcast(room domain.RoomID, from domain.ConnectionID, t core.MessageType, payload any) {
	for _, mid := range rl.store.Members(room) {
		if mid == from {
			continue
		}
		if _, conn, ok := rl.store.Lookup(mid); ok && conn != nil {
			rl.deliver(conn, t, payload)
		}
	}
}

func (rl *Relay) sendTo(id domain.ConnectionID, t core.MessageType, payload any) {
	if _, conn, ok := rl.store.Lookup(id); ok && conn != nil {
		rl.deliver(conn, t, payload)
	}
}

func (rl *Relay) deliver(conn core.SignalConnection, t core.MessageType, payload any) {
	env, err := core.NewEnvelope(t, payload)
	if err != nil {
		log.Error().Err(err).Str("module", "app.relay").Str("kind", string(t)).Msg("encode payload")
		return
	}
	frame, err := env.Encode()
	if err != nil {
		log.Error().Err(err).Str("module", "app.relay").Str("kind", string(t)).Msg("encode envelope")
		return
	}
	if err := conn.TrySend(frame); err != nil {
		log.Warn().Err(err).Str("module", "app.relay").Str("kind", string(t)).Msg("delivery dropped")
	}
}
