package client

import (
	"sync"

	"github.com/roomlink/roomlink/internal/core"
)

// NullSource is the capture capability for endpoints without devices
// (the terminal client): it yields a trackless stream whose enable flags
// still follow the media-state toggles.
type NullSource struct{}

func (NullSource) Acquire() (core.MediaStream, error) {
	return &nullStream{video: true, audio: true}, nil
}

type nullStream struct {
	mu    sync.Mutex
	video bool
	audio bool
}

func (s *nullStream) Tracks() []core.MediaTrack { return nil }

func (s *nullStream) SetVideoEnabled(v bool) {
	s.mu.Lock()
	s.video = v
	s.mu.Unlock()
}

func (s *nullStream) SetAudioEnabled(v bool) {
	s.mu.Lock()
	s.audio = v
	s.mu.Unlock()
}

func (s *nullStream) Close() {}
