package rtc

import (
	"github.com/pion/webrtc/v4"

	"github.com/roomlink/roomlink/internal/core"
)

// LocalTrack wraps a pion local track so it can travel through the
// core.MediaTrack boundary and back.
type LocalTrack struct {
	Track webrtc.TrackLocal
}

func (t LocalTrack) Kind() string { return t.Track.Kind().String() }
func (t LocalTrack) ID() string   { return t.Track.ID() }

// RemoteTrack wraps a pion remote track for the renderer side.
type RemoteTrack struct {
	Track *webrtc.TrackRemote
}

func (t RemoteTrack) Kind() string { return t.Track.Kind().String() }
func (t RemoteTrack) ID() string   { return t.Track.ID() }

var (
	_ core.MediaTrack = LocalTrack{}
	_ core.MediaTrack = RemoteTrack{}
)
