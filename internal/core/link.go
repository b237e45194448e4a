package core

import "errors"

// Media acquisition failure taxonomy. Surfaced to the user, never
// retried automatically.
var (
	ErrPermissionDenied = errors.New("media permission denied")
	ErrDeviceNotFound   = errors.New("media device not found")
)

// LinkConnState is what the transport reports about the direct peer path.
type LinkConnState int

const (
	LinkStateConnecting LinkConnState = iota
	LinkStateConnected
	LinkStateDisconnected
	LinkStateFailed
	LinkStateClosed
)

func (s LinkConnState) String() string {
	switch s {
	case LinkStateConnecting:
		return "connecting"
	case LinkStateConnected:
		return "connected"
	case LinkStateDisconnected:
		return "disconnected"
	case LinkStateFailed:
		return "failed"
	case LinkStateClosed:
		return "closed"
	}
	return "unknown"
}

// MediaTrack is an opaque handle for one media track. The session layer
// only moves it between a source, a link and a renderer.
type MediaTrack interface {
	Kind() string
	ID() string
}

// MediaStream is what a capture capability hands out.
type MediaStream interface {
	Tracks() []MediaTrack
	SetVideoEnabled(bool)
	SetAudioEnabled(bool)
	Close()
}

// MediaSource acquires the local camera/microphone. Out-of-process
// capability; implementations map their failures onto ErrPermissionDenied
// and ErrDeviceNotFound.
type MediaSource interface {
	Acquire() (MediaStream, error)
}

// Renderer is an opaque sink for remote media.
type Renderer interface {
	Render(peer string, track MediaTrack)
	Drop(peer string)
}

// PeerLink is the black-box direct-connection capability. Handshake,
// encryption and NAT traversal live behind it. Callbacks must be set
// before negotiation starts; Close is idempotent.
type PeerLink interface {
	AddLocalTrack(MediaTrack) error
	CreateOffer() (SessionDescription, error)
	CreateAnswer() (SessionDescription, error)
	SetLocalDescription(SessionDescription) error
	SetRemoteDescription(SessionDescription) error
	AddRemoteCandidate(Candidate) error

	OnRemoteTrack(func(MediaTrack))
	OnLocalCandidate(func(Candidate))
	OnConnectionStateChange(func(LinkConnState))

	Close() error
}

// LinkFactory mints a fresh PeerLink. The session manager calls it once
// at creation and again on every rebuild.
type LinkFactory func() (PeerLink, error)
