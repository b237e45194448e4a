package client

import (
	"math"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/roomlink/roomlink/internal/core"
	"github.com/roomlink/roomlink/internal/domain"
)

// Sender pushes signaling envelopes toward the relay.
type Sender interface {
	Send(core.Envelope) error
}

// ReconnectPolicy bounds how a degraded link is rebuilt: exponential
// backoff starting at Initial, capped at MaxAttempts rebuilds. After the
// cap a further transport failure is terminal for the link.
type ReconnectPolicy struct {
	Initial     time.Duration
	Multiplier  float64
	MaxAttempts int
}

func DefaultReconnectPolicy() ReconnectPolicy {
	return ReconnectPolicy{Initial: 3 * time.Second, Multiplier: 2.0, MaxAttempts: 1}
}

// Delay returns the backoff before rebuild number attempt (zero-based).
func (p ReconnectPolicy) Delay(attempt int) time.Duration {
	if attempt <= 0 || p.Multiplier <= 1 {
		return p.Initial
	}
	return time.Duration(float64(p.Initial) * math.Pow(p.Multiplier, float64(attempt)))
}

// SessionConfig wires one PeerSession.
type SessionConfig struct {
	Remote     domain.ConnectionID
	RemoteName string
	Room       string
	Role       domain.Role
	Links      core.LinkFactory
	Out        Sender
	Policy     ReconnectPolicy
	Media      core.MediaStream
	Renderer   core.Renderer
	// OnPeerLost fires once when the link is terminally gone (rebuild
	// budget exhausted). Called from the session goroutine.
	OnPeerLost func(domain.ConnectionID)
}

// PeerSession drives one peer link through
// New -> Negotiating -> Connected -> Degraded -> Reconnecting -> Closed.
// All negotiation steps for the link run on a single owning goroutine, so
// descriptions and candidates are applied in strict sequence; different
// sessions proceed fully in parallel.
type PeerSession struct {
	cfg SessionConfig

	cmds    chan func()
	closing chan struct{}
	done    chan struct{}
	once    sync.Once

	stateMu sync.RWMutex
	state   domain.LinkState

	// Owned by the run goroutine.
	link          core.PeerLink
	gen           int
	remoteDescSet bool
	pending       []core.Candidate
	attempts      int
	timer         *time.Timer
}

func NewPeerSession(cfg SessionConfig) *PeerSession {
	s := &PeerSession{
		cfg:     cfg,
		cmds:    make(chan func(), 32),
		closing: make(chan struct{}),
		done:    make(chan struct{}),
		state:   domain.LinkNew,
	}
	go s.run()
	s.do(s.start)
	return s
}

// Role is fixed at creation, per the arrival-order rule.
func (s *PeerSession) Role() domain.Role { return s.cfg.Role }

// Remote is the other end of this link.
func (s *PeerSession) Remote() domain.ConnectionID { return s.cfg.Remote }

func (s *PeerSession) State() domain.LinkState {
	s.stateMu.RLock()
	defer s.stateMu.RUnlock()
	return s.state
}

func (s *PeerSession) setState(st domain.LinkState) {
	s.stateMu.Lock()
	s.state = st
	s.stateMu.Unlock()
}

// HandleOffer applies a remote offer and answers it.
func (s *PeerSession) HandleOffer(d core.SessionDescription) {
	s.do(func() { s.applyOffer(d) })
}

// HandleAnswer applies a remote answer to our outstanding offer.
func (s *PeerSession) HandleAnswer(d core.SessionDescription) {
	s.do(func() { s.applyAnswer(d) })
}

// HandleCandidate applies a remote network-path candidate, buffering it
// if the remote description has not been applied yet.
func (s *PeerSession) HandleCandidate(c core.Candidate) {
	s.do(func() { s.applyCandidate(c) })
}

// Close forces Closed from any state. Idempotent; the transport is
// released exactly once, on the session goroutine.
func (s *PeerSession) Close() {
	s.once.Do(func() { close(s.closing) })
}

// Done is closed after the session goroutine has released everything.
func (s *PeerSession) Done() <-chan struct{} { return s.done }

func (s *PeerSession) do(fn func()) {
	select {
	case s.cmds <- fn:
	case <-s.closing:
	}
}

func (s *PeerSession) run() {
	defer close(s.done)
	for {
		select {
		case <-s.closing:
			s.teardown()
			return
		case fn := <-s.cmds:
			fn()
		}
	}
}

func (s *PeerSession) start() {
	if err := s.openLink(); err != nil {
		log.Error().Err(err).Str("module", "client.session").
			Str("remote", string(s.cfg.Remote)).Msg("open link")
		s.peerLost()
		return
	}
	s.setState(domain.LinkNegotiating)
	if s.cfg.Role == domain.RoleOfferer {
		s.negotiate()
	}
}

// openLink mints a fresh transport for the current generation and hangs
// our callbacks on it. Callback closures capture the generation so a
// replaced link's events are ignored.
func (s *PeerSession) openLink() error {
	link, err := s.cfg.Links()
	if err != nil {
		return err
	}
	s.link = link
	s.gen++
	s.remoteDescSet = false
	s.pending = nil
	gen := s.gen

	link.OnLocalCandidate(func(c core.Candidate) {
		s.do(func() {
			if gen != s.gen {
				return
			}
			s.sendSignal(core.MsgICECandidate, core.SignalPayload{
				TargetID:  s.cfg.Remote,
				Room:      s.cfg.Room,
				Candidate: &c,
			})
		})
	})
	link.OnConnectionStateChange(func(st core.LinkConnState) {
		s.do(func() { s.onLinkState(gen, st) })
	})
	link.OnRemoteTrack(func(t core.MediaTrack) {
		if s.cfg.Renderer != nil {
			s.cfg.Renderer.Render(string(s.cfg.Remote), t)
		}
	})

	if s.cfg.Media != nil {
		for _, t := range s.cfg.Media.Tracks() {
			if err := link.AddLocalTrack(t); err != nil {
				log.Error().Err(err).Str("module", "client.session").
					Str("remote", string(s.cfg.Remote)).Msg("add local track")
			}
		}
	}
	return nil
}

// negotiate produces and sends a local offer.
func (s *PeerSession) negotiate() {
	offer, err := s.link.CreateOffer()
	if err != nil {
		s.negotiationFailure("create offer", err)
		return
	}
	if err := s.link.SetLocalDescription(offer); err != nil {
		s.negotiationFailure("set local offer", err)
		return
	}
	s.sendSignal(core.MsgOffer, core.SignalPayload{
		TargetID:    s.cfg.Remote,
		Room:        s.cfg.Room,
		Description: &offer,
	})
	log.Debug().Str("module", "client.session").Str("remote", string(s.cfg.Remote)).Msg("offer sent")
}

func (s *PeerSession) applyOffer(d core.SessionDescription) {
	switch s.State() {
	case domain.LinkClosed:
		return
	case domain.LinkConnected, domain.LinkDegraded:
		// The remote rebuilt its side and is offering on a fresh
		// transport; match it with a fresh one of our own.
		if !s.replaceLink() {
			return
		}
	}

	if err := s.link.SetRemoteDescription(d); err != nil {
		s.negotiationFailure("set remote offer", err)
		return
	}
	s.remoteDescSet = true
	s.flushPending()

	answer, err := s.link.CreateAnswer()
	if err != nil {
		s.negotiationFailure("create answer", err)
		return
	}
	if err := s.link.SetLocalDescription(answer); err != nil {
		s.negotiationFailure("set local answer", err)
		return
	}
	s.sendSignal(core.MsgAnswer, core.SignalPayload{
		TargetID:    s.cfg.Remote,
		Room:        s.cfg.Room,
		Description: &answer,
	})
	s.setState(domain.LinkNegotiating)
}

func (s *PeerSession) applyAnswer(d core.SessionDescription) {
	if s.State() == domain.LinkClosed {
		return
	}
	if err := s.link.SetRemoteDescription(d); err != nil {
		s.negotiationFailure("set remote answer", err)
		return
	}
	s.remoteDescSet = true
	s.flushPending()
	// Connectivity checks continue in the transport; Connected arrives
	// through the state callback.
	s.setState(domain.LinkNegotiating)
}

func (s *PeerSession) applyCandidate(c core.Candidate) {
	if s.State() == domain.LinkClosed {
		return
	}
	if !s.remoteDescSet {
		// Applying a candidate before the remote description exists is
		// an error for the transport; hold it in arrival order.
		s.pending = append(s.pending, c)
		return
	}
	if err := s.link.AddRemoteCandidate(c); err != nil {
		s.negotiationFailure("add candidate", err)
	}
}

func (s *PeerSession) flushPending() {
	for _, c := range s.pending {
		if err := s.link.AddRemoteCandidate(c); err != nil {
			log.Error().Err(err).Str("module", "client.session").
				Str("remote", string(s.cfg.Remote)).Msg("flush buffered candidate")
		}
	}
	s.pending = nil
}

func (s *PeerSession) onLinkState(gen int, st core.LinkConnState) {
	if gen != s.gen || s.State() == domain.LinkClosed {
		return
	}
	switch st {
	case core.LinkStateConnected:
		// Recovery before the timer fires cancels the rebuild; a timer
		// that fires anyway no-ops on a Connected link.
		s.stopTimer()
		s.attempts = 0
		s.setState(domain.LinkConnected)
		log.Info().Str("module", "client.session").Str("remote", string(s.cfg.Remote)).Msg("link connected")
	case core.LinkStateDisconnected, core.LinkStateFailed:
		if s.State() == domain.LinkDegraded {
			return
		}
		s.setState(domain.LinkDegraded)
		if s.attempts >= s.cfg.Policy.MaxAttempts {
			log.Warn().Str("module", "client.session").Str("remote", string(s.cfg.Remote)).
				Int("attempts", s.attempts).Msg("rebuild budget exhausted, peer lost")
			s.peerLost()
			return
		}
		s.armTimer()
	case core.LinkStateClosed, core.LinkStateConnecting:
	}
}

func (s *PeerSession) armTimer() {
	s.stopTimer()
	gen := s.gen
	delay := s.cfg.Policy.Delay(s.attempts)
	s.timer = time.AfterFunc(delay, func() {
		s.do(func() { s.onReconnectTimer(gen) })
	})
	log.Info().Str("module", "client.session").Str("remote", string(s.cfg.Remote)).
		Dur("delay", delay).Msg("link degraded, rebuild scheduled")
}

func (s *PeerSession) onReconnectTimer(gen int) {
	// Last write wins: a fire that raced a recovery or a rebuild no-ops.
	if gen != s.gen || s.State() != domain.LinkDegraded {
		return
	}
	s.attempts++
	s.setState(domain.LinkReconnecting)
	if !s.replaceLink() {
		return
	}
	if s.cfg.Role == domain.RoleOfferer {
		s.negotiate()
	}
}

// replaceLink discards the current transport and opens a fresh one with
// the same role. Reports false when the session died instead.
func (s *PeerSession) replaceLink() bool {
	if s.link != nil {
		_ = s.link.Close()
	}
	s.stopTimer()
	if err := s.openLink(); err != nil {
		log.Error().Err(err).Str("module", "client.session").
			Str("remote", string(s.cfg.Remote)).Msg("reopen link")
		s.peerLost()
		return false
	}
	return true
}

// negotiationFailure is the NegotiationError policy: log, tear the link
// down and rebuild it. Never crashes the session.
func (s *PeerSession) negotiationFailure(op string, err error) {
	log.Error().Err(err).Str("module", "client.session").
		Str("remote", string(s.cfg.Remote)).Str("op", op).Msg("negotiation error, rebuilding link")
	if !s.replaceLink() {
		return
	}
	s.setState(domain.LinkNegotiating)
	if s.cfg.Role == domain.RoleOfferer {
		s.negotiate()
	}
}

func (s *PeerSession) peerLost() {
	s.teardownLink()
	s.setState(domain.LinkClosed)
	if s.cfg.OnPeerLost != nil {
		s.cfg.OnPeerLost(s.cfg.Remote)
	}
	s.Close()
}

func (s *PeerSession) teardown() {
	s.teardownLink()
	s.setState(domain.LinkClosed)
}

func (s *PeerSession) teardownLink() {
	s.stopTimer()
	if s.link != nil {
		_ = s.link.Close()
		s.link = nil
	}
	s.pending = nil
}

func (s *PeerSession) stopTimer() {
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
}

func (s *PeerSession) sendSignal(t core.MessageType, p core.SignalPayload) {
	env, err := core.NewEnvelope(t, p)
	if err != nil {
		log.Error().Err(err).Str("module", "client.session").Str("kind", string(t)).Msg("encode signal")
		return
	}
	if err := s.cfg.Out.Send(env); err != nil {
		log.Warn().Err(err).Str("module", "client.session").Str("kind", string(t)).Msg("send signal")
	}
}
