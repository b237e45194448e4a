package client

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/roomlink/roomlink/internal/core"
	"github.com/roomlink/roomlink/internal/domain"
)

// CoordinatorConfig wires one room membership.
type CoordinatorConfig struct {
	Room        string
	DisplayName string
	Links       core.LinkFactory
	Policy      ReconnectPolicy
	Source      core.MediaSource
	Renderer    core.Renderer

	// Start with a track disabled. The room is told right after the
	// join, since the relay assumes both flags on until announced.
	MuteVideo bool
	MuteAudio bool
}

// Coordinator reacts to room-membership events from the relay: it joins
// the room, spins up one PeerSession per remote member, assigns
// negotiation roles by arrival order (we offer to whoever joins after
// us, we answer whoever was there first) and tears sessions down when
// peers leave. Lifetime of one room membership.
type Coordinator struct {
	cfg    CoordinatorConfig
	out    Sender
	events <-chan core.Envelope

	mu       sync.Mutex
	sessions map[domain.ConnectionID]*PeerSession
	snapshot domain.RoomSnapshot
	media    core.MediaStream
	video    bool
	audio    bool
	left     bool
}

func NewCoordinator(out Sender, events <-chan core.Envelope, cfg CoordinatorConfig) *Coordinator {
	return &Coordinator{
		cfg:      cfg,
		out:      out,
		events:   events,
		sessions: make(map[domain.ConnectionID]*PeerSession),
		video:    !cfg.MuteVideo,
		audio:    !cfg.MuteAudio,
	}
}

// Run acquires media, joins the room and processes events until the
// context ends or the signaling stream closes. Media acquisition
// failures are surfaced to the caller, never retried here.
func (c *Coordinator) Run(ctx context.Context) error {
	if c.cfg.Source != nil {
		stream, err := c.cfg.Source.Acquire()
		if err != nil {
			return fmt.Errorf("acquire media: %w", err)
		}
		c.mu.Lock()
		c.media = stream
		stream.SetVideoEnabled(c.video)
		stream.SetAudioEnabled(c.audio)
		c.mu.Unlock()
	}

	env, err := core.NewEnvelope(core.MsgJoinRoom, core.JoinRoomPayload{
		Room:        c.cfg.Room,
		DisplayName: c.cfg.DisplayName,
	})
	if err != nil {
		return err
	}
	if err := c.out.Send(env); err != nil {
		c.releaseMedia()
		return fmt.Errorf("send join: %w", err)
	}

	c.mu.Lock()
	video, audio := c.video, c.audio
	c.mu.Unlock()
	if !video || !audio {
		if err := c.SetMediaState(video, audio); err != nil {
			log.Warn().Err(err).Str("module", "client.coordinator").Msg("announce initial media state")
		}
	}

	for {
		select {
		case <-ctx.Done():
			c.Leave()
			return ctx.Err()
		case ev, ok := <-c.events:
			if !ok {
				c.shutdownSessions()
				c.releaseMedia()
				return nil
			}
			c.dispatch(ev)
		}
	}
}

func (c *Coordinator) dispatch(env core.Envelope) {
	switch env.Type {
	case core.MsgExistingUsers:
		var p core.ExistingUsersPayload
		if err := env.Decode(&p); err != nil {
			log.Error().Err(err).Str("module", "client.coordinator").Msg("bad existing-users")
			return
		}
		// They were here first, so they offer; we answer.
		for _, u := range p.Users {
			c.startSession(u.ConnectionID, u.DisplayName, domain.RoleAnswerer)
		}

	case core.MsgUserJoined:
		var p core.MembershipPayload
		if err := env.Decode(&p); err != nil {
			log.Error().Err(err).Str("module", "client.coordinator").Msg("bad user-joined")
			return
		}
		// The newcomer announced itself to us, the established member:
		// we take the offerer role for this pair.
		c.startSession(p.ConnectionID, p.DisplayName, domain.RoleOfferer)

	case core.MsgUserLeft:
		var p core.MembershipPayload
		if err := env.Decode(&p); err != nil {
			log.Error().Err(err).Str("module", "client.coordinator").Msg("bad user-left")
			return
		}
		c.dropSession(p.ConnectionID)

	case core.MsgOffer:
		var p core.SignalPayload
		if err := env.Decode(&p); err != nil || p.Description == nil {
			log.Error().Err(err).Str("module", "client.coordinator").Msg("bad offer")
			return
		}
		// An offer can precede the user-joined announcement; make sure
		// the session exists either way.
		sess := c.ensureSession(p.SenderID, p.SenderName, domain.RoleAnswerer)
		sess.HandleOffer(*p.Description)

	case core.MsgAnswer:
		var p core.SignalPayload
		if err := env.Decode(&p); err != nil || p.Description == nil {
			log.Error().Err(err).Str("module", "client.coordinator").Msg("bad answer")
			return
		}
		if sess := c.session(p.SenderID); sess != nil {
			sess.HandleAnswer(*p.Description)
		}

	case core.MsgICECandidate:
		var p core.SignalPayload
		if err := env.Decode(&p); err != nil || p.Candidate == nil {
			log.Error().Err(err).Str("module", "client.coordinator").Msg("bad candidate")
			return
		}
		if sess := c.session(p.SenderID); sess != nil {
			sess.HandleCandidate(*p.Candidate)
		}

	case core.MsgRoomInfo:
		var snap domain.RoomSnapshot
		if err := env.Decode(&snap); err != nil {
			log.Error().Err(err).Str("module", "client.coordinator").Msg("bad room-info")
			return
		}
		c.mu.Lock()
		c.snapshot = snap
		c.mu.Unlock()

	case core.MsgMediaState:
		var p core.MediaStatePayload
		if err := env.Decode(&p); err != nil {
			log.Error().Err(err).Str("module", "client.coordinator").Msg("bad media-state")
			return
		}
		log.Info().Str("module", "client.coordinator").Str("peer", string(p.ConnectionID)).
			Str("name", p.DisplayName).Bool("video", p.VideoEnabled).Bool("audio", p.AudioEnabled).
			Msg("peer media state")

	case core.MsgError:
		var p core.ErrorPayload
		_ = env.Decode(&p)
		log.Warn().Str("module", "client.coordinator").Str("error", p.Error).Msg("server error")

	case core.MsgJoinRoom, core.MsgLeaveRoom:
		log.Warn().Str("module", "client.coordinator").Str("type", string(env.Type)).
			Msg("client-bound message from server")
	default:
		log.Warn().Str("module", "client.coordinator").Str("type", string(env.Type)).Msg("unknown message")
	}
}

func (c *Coordinator) startSession(id domain.ConnectionID, name string, role domain.Role) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if old, ok := c.sessions[id]; ok {
		old.Close()
	}
	c.sessions[id] = c.newSessionLocked(id, name, role)
	log.Info().Str("module", "client.coordinator").Str("peer", string(id)).
		Str("name", name).Str("role", string(role)).Msg("peer session started")
}

func (c *Coordinator) ensureSession(id domain.ConnectionID, name string, role domain.Role) *PeerSession {
	c.mu.Lock()
	defer c.mu.Unlock()
	if sess, ok := c.sessions[id]; ok {
		return sess
	}
	sess := c.newSessionLocked(id, name, role)
	c.sessions[id] = sess
	return sess
}

func (c *Coordinator) newSessionLocked(id domain.ConnectionID, name string, role domain.Role) *PeerSession {
	return NewPeerSession(SessionConfig{
		Remote:     id,
		RemoteName: name,
		Room:       c.cfg.Room,
		Role:       role,
		Links:      c.cfg.Links,
		Out:        c.out,
		Policy:     c.cfg.Policy,
		Media:      c.media,
		Renderer:   c.cfg.Renderer,
		OnPeerLost: c.onPeerLost,
	})
}

func (c *Coordinator) session(id domain.ConnectionID) *PeerSession {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessions[id]
}

func (c *Coordinator) dropSession(id domain.ConnectionID) {
	c.mu.Lock()
	sess, ok := c.sessions[id]
	delete(c.sessions, id)
	c.mu.Unlock()
	if ok {
		sess.Close()
	}
	if c.cfg.Renderer != nil {
		c.cfg.Renderer.Drop(string(id))
	}
}

// onPeerLost removes a terminally failed peer from the rendered set
// without touching the other peers or the room.
func (c *Coordinator) onPeerLost(id domain.ConnectionID) {
	log.Warn().Str("module", "client.coordinator").Str("peer", string(id)).Msg("peer lost")
	c.mu.Lock()
	delete(c.sessions, id)
	c.mu.Unlock()
	if c.cfg.Renderer != nil {
		c.cfg.Renderer.Drop(string(id))
	}
}

// SetMediaState toggles the local tracks and announces the flags to the
// rest of the room.
func (c *Coordinator) SetMediaState(video, audio bool) error {
	c.mu.Lock()
	c.video, c.audio = video, audio
	if c.media != nil {
		c.media.SetVideoEnabled(video)
		c.media.SetAudioEnabled(audio)
	}
	room := c.cfg.Room
	c.mu.Unlock()

	env, err := core.NewEnvelope(core.MsgMediaState, core.MediaStatePayload{
		Room:         room,
		VideoEnabled: video,
		AudioEnabled: audio,
	})
	if err != nil {
		return err
	}
	return c.out.Send(env)
}

// Snapshot returns the last room-info pushed by the relay.
func (c *Coordinator) Snapshot() domain.RoomSnapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshot
}

// Sessions reports the active peer session count.
func (c *Coordinator) Sessions() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.sessions)
}

// SessionFor exposes one session for inspection.
func (c *Coordinator) SessionFor(id domain.ConnectionID) (*PeerSession, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.sessions[id]
	return s, ok
}

// Leave tears down every peer session, notifies the relay and releases
// local media. Safe to call more than once.
func (c *Coordinator) Leave() {
	c.mu.Lock()
	if c.left {
		c.mu.Unlock()
		return
	}
	c.left = true
	c.mu.Unlock()

	c.shutdownSessions()
	if env, err := core.NewEnvelope(core.MsgLeaveRoom, nil); err == nil {
		if err := c.out.Send(env); err != nil {
			log.Debug().Err(err).Str("module", "client.coordinator").Msg("send leave")
		}
	}
	c.releaseMedia()
}

func (c *Coordinator) shutdownSessions() {
	c.mu.Lock()
	sessions := make([]*PeerSession, 0, len(c.sessions))
	for _, s := range c.sessions {
		sessions = append(sessions, s)
	}
	c.sessions = make(map[domain.ConnectionID]*PeerSession)
	c.mu.Unlock()

	for _, s := range sessions {
		s.Close()
	}
	for _, s := range sessions {
		<-s.Done()
	}
}

func (c *Coordinator) releaseMedia() {
	c.mu.Lock()
	media := c.media
	c.media = nil
	c.mu.Unlock()
	if media != nil {
		media.Close()
	}
}
