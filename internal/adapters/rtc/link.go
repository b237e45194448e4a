package rtc

import (
	"errors"
	"sync"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"github.com/roomlink/roomlink/internal/core"
)

// Link implements core.PeerLink over a pion PeerConnection.
type Link struct {
	pc *webrtc.PeerConnection

	mu      sync.Mutex
	closed  bool
	onICE   func(core.Candidate)
	onTrack func(core.MediaTrack)
	onState func(core.LinkConnState)
}

var _ core.PeerLink = (*Link)(nil)

// NewLinkFactory returns a core.LinkFactory minting pion links against
// the given STUN servers.
func NewLinkFactory(stunServers []string) core.LinkFactory {
	cfg := webrtc.Configuration{
		ICEServers: []webrtc.ICEServer{{URLs: stunServers}},
	}
	return func() (core.PeerLink, error) {
		return NewLink(cfg)
	}
}

func NewLink(cfg webrtc.Configuration) (*Link, error) {
	pc, err := webrtc.NewPeerConnection(cfg)
	if err != nil {
		return nil, err
	}
	l := &Link{pc: pc}

	pc.OnICECandidate(func(cand *webrtc.ICECandidate) {
		if cand == nil {
			return
		}
		l.mu.Lock()
		fn := l.onICE
		l.mu.Unlock()
		if fn != nil {
			fn(fromICEInit(cand.ToJSON()))
		}
	})

	pc.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		log.Info().Str("module", "rtc").Str("kind", track.Kind().String()).
			Str("track_id", track.ID()).Msg("remote track")
		l.mu.Lock()
		fn := l.onTrack
		l.mu.Unlock()
		if fn != nil {
			fn(RemoteTrack{Track: track})
		}
	})

	pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		log.Info().Str("module", "rtc").Str("peer_connection_state", s.String()).Msg("peer state")
		l.mu.Lock()
		fn := l.onState
		l.mu.Unlock()
		if fn != nil {
			fn(mapState(s))
		}
	})

	return l, nil
}

func (l *Link) AddLocalTrack(t core.MediaTrack) error {
	lt, ok := t.(LocalTrack)
	if !ok {
		return errors.New("rtc: track is not a local pion track")
	}
	_, err := l.pc.AddTrack(lt.Track)
	return err
}

func (l *Link) CreateOffer() (core.SessionDescription, error) {
	offer, err := l.pc.CreateOffer(nil)
	if err != nil {
		return core.SessionDescription{}, err
	}
	return fromSDP(offer), nil
}

func (l *Link) CreateAnswer() (core.SessionDescription, error) {
	answer, err := l.pc.CreateAnswer(nil)
	if err != nil {
		return core.SessionDescription{}, err
	}
	return fromSDP(answer), nil
}

func (l *Link) SetLocalDescription(d core.SessionDescription) error {
	return l.pc.SetLocalDescription(toSDP(d))
}

func (l *Link) SetRemoteDescription(d core.SessionDescription) error {
	return l.pc.SetRemoteDescription(toSDP(d))
}

func (l *Link) AddRemoteCandidate(c core.Candidate) error {
	return l.pc.AddICECandidate(toICEInit(c))
}

func (l *Link) OnRemoteTrack(fn func(core.MediaTrack)) {
	l.mu.Lock()
	l.onTrack = fn
	l.mu.Unlock()
}

func (l *Link) OnLocalCandidate(fn func(core.Candidate)) {
	l.mu.Lock()
	l.onICE = fn
	l.mu.Unlock()
}

func (l *Link) OnConnectionStateChange(fn func(core.LinkConnState)) {
	l.mu.Lock()
	l.onState = fn
	l.mu.Unlock()
}

// Close releases the underlying transport exactly once.
func (l *Link) Close() error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil
	}
	l.closed = true
	l.mu.Unlock()

	if err := l.pc.Close(); err != nil {
		log.Error().Err(err).Str("module", "rtc").Msg("close error")
		return err
	}
	return nil
}

func mapState(s webrtc.PeerConnectionState) core.LinkConnState {
	switch s {
	case webrtc.PeerConnectionStateConnected:
		return core.LinkStateConnected
	case webrtc.PeerConnectionStateDisconnected:
		return core.LinkStateDisconnected
	case webrtc.PeerConnectionStateFailed:
		return core.LinkStateFailed
	case webrtc.PeerConnectionStateClosed:
		return core.LinkStateClosed
	default:
		return core.LinkStateConnecting
	}
}

func toSDP(d core.SessionDescription) webrtc.SessionDescription {
	return webrtc.SessionDescription{
		Type: webrtc.NewSDPType(d.Type),
		SDP:  d.SDP,
	}
}

func fromSDP(d webrtc.SessionDescription) core.SessionDescription {
	return core.SessionDescription{Type: d.Type.String(), SDP: d.SDP}
}

func toICEInit(c core.Candidate) webrtc.ICECandidateInit {
	return webrtc.ICECandidateInit{
		Candidate:     c.Candidate,
		SDPMid:        c.SDPMid,
		SDPMLineIndex: c.SDPMLineIndex,
	}
}

func fromICEInit(ci webrtc.ICECandidateInit) core.Candidate {
	return core.Candidate{
		Candidate:     ci.Candidate,
		SDPMid:        ci.SDPMid,
		SDPMLineIndex: ci.SDPMLineIndex,
	}
}
