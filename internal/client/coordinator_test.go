package client_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roomlink/roomlink/internal/client"
	"github.com/roomlink/roomlink/internal/core"
	"github.com/roomlink/roomlink/internal/domain"
)

type fakeTrack struct{ kind, id string }

func (t fakeTrack) Kind() string { return t.kind }
func (t fakeTrack) ID() string   { return t.id }

type fakeStream struct {
	mu     sync.Mutex
	video  bool
	audio  bool
	closed bool
}

func (s *fakeStream) Tracks() []core.MediaTrack {
	return []core.MediaTrack{fakeTrack{kind: "video", id: "cam"}, fakeTrack{kind: "audio", id: "mic"}}
}

func (s *fakeStream) SetVideoEnabled(on bool) {
	s.mu.Lock()
	s.video = on
	s.mu.Unlock()
}

func (s *fakeStream) SetAudioEnabled(on bool) {
	s.mu.Lock()
	s.audio = on
	s.mu.Unlock()
}

func (s *fakeStream) Close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
}

type fakeSource struct {
	stream *fakeStream
	err    error
}

func (f *fakeSource) Acquire() (core.MediaStream, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.stream, nil
}

type recordRenderer struct {
	mu      sync.Mutex
	dropped []string
}

func (r *recordRenderer) Render(string, core.MediaTrack) {}

func (r *recordRenderer) Drop(peer string) {
	r.mu.Lock()
	r.dropped = append(r.dropped, peer)
	r.mu.Unlock()
}

func (r *recordRenderer) droppedPeers() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.dropped))
	copy(out, r.dropped)
	return out
}

type coordHarness struct {
	coord    *client.Coordinator
	events   chan core.Envelope
	out      *fakeSender
	factory  *linkFactory
	stream   *fakeStream
	renderer *recordRenderer
	cancel   context.CancelFunc
	runErr   chan error
}

func startCoordinator(t *testing.T) *coordHarness {
	t.Helper()
	h := &coordHarness{
		events:   make(chan core.Envelope, 16),
		out:      &fakeSender{},
		factory:  &linkFactory{},
		stream:   &fakeStream{video: true, audio: true},
		renderer: &recordRenderer{},
		runErr:   make(chan error, 1),
	}
	h.coord = client.NewCoordinator(h.out, h.events, client.CoordinatorConfig{
		Room:        "r1",
		DisplayName: "Alice",
		Links:       h.factory.new,
		Policy:      quickPolicy(),
		Source:      &fakeSource{stream: h.stream},
		Renderer:    h.renderer,
	})

	ctx, cancel := context.WithCancel(context.Background())
	h.cancel = cancel
	go func() { h.runErr <- h.coord.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		close(h.events)
		select {
		case <-h.runErr:
		case <-time.After(2 * time.Second):
			t.Error("coordinator did not stop")
		}
	})

	require.Eventually(t, func() bool {
		return len(h.out.typed(core.MsgJoinRoom)) == 1
	}, time.Second, 5*time.Millisecond)
	return h
}

func (h *coordHarness) push(t *testing.T, kind core.MessageType, payload any) {
	t.Helper()
	env, err := core.NewEnvelope(kind, payload)
	require.NoError(t, err)
	h.events <- env
}

func TestCoordinator_Join(t *testing.T) {
	t.Run("announces itself with room and display name", func(t *testing.T) {
		h := startCoordinator(t)
		var p core.JoinRoomPayload
		require.NoError(t, h.out.typed(core.MsgJoinRoom)[0].Decode(&p))
		assert.Equal(t, "r1", p.Room)
		assert.Equal(t, "Alice", p.DisplayName)
	})

	t.Run("media failure aborts the join", func(t *testing.T) {
		out := &fakeSender{}
		c := client.NewCoordinator(out, make(chan core.Envelope), client.CoordinatorConfig{
			Room:        "r1",
			DisplayName: "Alice",
			Links:       (&linkFactory{}).new,
			Policy:      quickPolicy(),
			Source:      &fakeSource{err: core.ErrPermissionDenied},
		})
		err := c.Run(context.Background())
		assert.ErrorIs(t, err, core.ErrPermissionDenied)
		assert.Empty(t, out.typed(core.MsgJoinRoom))
	})
}

func TestCoordinator_Membership(t *testing.T) {
	t.Run("answers everyone who was in the room first", func(t *testing.T) {
		h := startCoordinator(t)
		h.push(t, core.MsgExistingUsers, core.ExistingUsersPayload{Users: []core.PeerInfo{
			{ConnectionID: "b", DisplayName: "Bob"},
			{ConnectionID: "c", DisplayName: "Carol"},
		}})

		require.Eventually(t, func() bool { return h.coord.Sessions() == 2 }, time.Second, 5*time.Millisecond)
		for _, id := range []domain.ConnectionID{"b", "c"} {
			sess, ok := h.coord.SessionFor(id)
			require.True(t, ok)
			assert.Equal(t, domain.RoleAnswerer, sess.Role())
		}
		// Answerers never open the negotiation.
		assert.Empty(t, h.out.typed(core.MsgOffer))
	})

	t.Run("offers to a newcomer", func(t *testing.T) {
		h := startCoordinator(t)
		h.push(t, core.MsgUserJoined, core.MembershipPayload{ConnectionID: "b", DisplayName: "Bob"})

		require.Eventually(t, func() bool { return len(h.out.typed(core.MsgOffer)) == 1 }, time.Second, 5*time.Millisecond)
		sess, ok := h.coord.SessionFor("b")
		require.True(t, ok)
		assert.Equal(t, domain.RoleOfferer, sess.Role())

		var p core.SignalPayload
		require.NoError(t, h.out.typed(core.MsgOffer)[0].Decode(&p))
		assert.Equal(t, domain.ConnectionID("b"), p.TargetID)
	})

	t.Run("an offer arriving before the announcement still gets an answer", func(t *testing.T) {
		h := startCoordinator(t)
		h.push(t, core.MsgOffer, core.SignalPayload{
			SenderID:    "b",
			SenderName:  "Bob",
			Room:        "r1",
			Description: &core.SessionDescription{Type: "offer", SDP: "v=0"},
		})

		require.Eventually(t, func() bool { return len(h.out.typed(core.MsgAnswer)) == 1 }, time.Second, 5*time.Millisecond)
		sess, ok := h.coord.SessionFor("b")
		require.True(t, ok)
		assert.Equal(t, domain.RoleAnswerer, sess.Role())
	})

	t.Run("answers and candidates are routed to the matching session", func(t *testing.T) {
		h := startCoordinator(t)
		h.push(t, core.MsgUserJoined, core.MembershipPayload{ConnectionID: "b", DisplayName: "Bob"})
		require.Eventually(t, func() bool { return len(h.out.typed(core.MsgOffer)) == 1 }, time.Second, 5*time.Millisecond)

		h.push(t, core.MsgAnswer, core.SignalPayload{
			SenderID:    "b",
			Room:        "r1",
			Description: &core.SessionDescription{Type: "answer", SDP: "v=0"},
		})
		h.push(t, core.MsgICECandidate, core.SignalPayload{
			SenderID:  "b",
			Room:      "r1",
			Candidate: &core.Candidate{Candidate: "c1"},
		})

		require.Eventually(t, func() bool {
			calls := h.factory.link(0).calls()
			return len(calls) > 0 && calls[len(calls)-1] == "candidate:c1"
		}, time.Second, 5*time.Millisecond)

		// Signals from peers without a session are dropped quietly.
		h.push(t, core.MsgAnswer, core.SignalPayload{
			SenderID:    "nobody",
			Room:        "r1",
			Description: &core.SessionDescription{Type: "answer", SDP: "v=0"},
		})
		require.Eventually(t, func() bool { return h.coord.Sessions() == 1 }, time.Second, 5*time.Millisecond)
	})

	t.Run("user-left tears the session down and drops the rendering", func(t *testing.T) {
		h := startCoordinator(t)
		h.push(t, core.MsgUserJoined, core.MembershipPayload{ConnectionID: "b", DisplayName: "Bob"})
		require.Eventually(t, func() bool { return h.coord.Sessions() == 1 }, time.Second, 5*time.Millisecond)

		h.push(t, core.MsgUserLeft, core.MembershipPayload{ConnectionID: "b", DisplayName: "Bob"})
		require.Eventually(t, func() bool { return h.coord.Sessions() == 0 }, time.Second, 5*time.Millisecond)
		require.Eventually(t, func() bool {
			return len(h.renderer.droppedPeers()) == 1 && h.renderer.droppedPeers()[0] == "b"
		}, time.Second, 5*time.Millisecond)
	})

	t.Run("a terminally failed peer is removed without touching the others", func(t *testing.T) {
		h := startCoordinator(t)
		h.push(t, core.MsgUserJoined, core.MembershipPayload{ConnectionID: "b", DisplayName: "Bob"})
		require.Eventually(t, func() bool { return h.factory.count() == 1 }, time.Second, 5*time.Millisecond)
		h.push(t, core.MsgUserJoined, core.MembershipPayload{ConnectionID: "c", DisplayName: "Carol"})
		require.Eventually(t, func() bool { return h.factory.count() == 2 }, time.Second, 5*time.Millisecond)
		require.Eventually(t, func() bool { return h.coord.Sessions() == 2 }, time.Second, 5*time.Millisecond)

		// Budget of one rebuild: fail the first link twice over.
		h.factory.link(0).fire(core.LinkStateFailed)
		require.Eventually(t, func() bool { return h.factory.count() == 3 }, time.Second, 5*time.Millisecond)
		h.factory.link(2).fire(core.LinkStateFailed)

		require.Eventually(t, func() bool { return h.coord.Sessions() == 1 }, time.Second, 5*time.Millisecond)
		_, ok := h.coord.SessionFor("c")
		assert.True(t, ok)
		assert.Contains(t, h.renderer.droppedPeers(), "b")
	})
}

func TestCoordinator_RoomInfo(t *testing.T) {
	h := startCoordinator(t)
	h.push(t, core.MsgRoomInfo, domain.RoomSnapshot{
		Room:       "r1",
		TotalUsers: 2,
		Participants: []domain.Participant{
			{ID: "self", DisplayName: "Alice"},
			{ID: "b", DisplayName: "Bob", Media: domain.MediaState{AudioEnabled: true}},
		},
	})

	require.Eventually(t, func() bool {
		return h.coord.Snapshot().TotalUsers == 2
	}, time.Second, 5*time.Millisecond)
	snap := h.coord.Snapshot()
	assert.Equal(t, domain.RoomID("r1"), snap.Room)
	require.Len(t, snap.Participants, 2)
	assert.False(t, snap.Participants[1].Media.VideoEnabled)
}

func TestCoordinator_MutedStart(t *testing.T) {
	events := make(chan core.Envelope, 16)
	out := &fakeSender{}
	stream := &fakeStream{video: true, audio: true}
	c := client.NewCoordinator(out, events, client.CoordinatorConfig{
		Room:        "r1",
		DisplayName: "Alice",
		Links:       (&linkFactory{}).new,
		Policy:      quickPolicy(),
		Source:      &fakeSource{stream: stream},
		MuteVideo:   true,
	})
	done := make(chan error, 1)
	ctx, cancel := context.WithCancel(context.Background())
	go func() { done <- c.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		close(events)
		<-done
	})

	// The room hears about the disabled camera right after the join.
	require.Eventually(t, func() bool {
		return len(out.typed(core.MsgMediaState)) == 1
	}, time.Second, 5*time.Millisecond)
	require.Len(t, out.typed(core.MsgJoinRoom), 1)
	var p core.MediaStatePayload
	require.NoError(t, out.typed(core.MsgMediaState)[0].Decode(&p))
	assert.False(t, p.VideoEnabled)
	assert.True(t, p.AudioEnabled)

	stream.mu.Lock()
	defer stream.mu.Unlock()
	assert.False(t, stream.video)
	assert.True(t, stream.audio)
}

func TestCoordinator_MediaState(t *testing.T) {
	h := startCoordinator(t)
	require.NoError(t, h.coord.SetMediaState(false, true))

	states := h.out.typed(core.MsgMediaState)
	require.Len(t, states, 1)
	var p core.MediaStatePayload
	require.NoError(t, states[0].Decode(&p))
	assert.Equal(t, "r1", p.Room)
	assert.False(t, p.VideoEnabled)
	assert.True(t, p.AudioEnabled)

	h.stream.mu.Lock()
	defer h.stream.mu.Unlock()
	assert.False(t, h.stream.video)
	assert.True(t, h.stream.audio)
}

func TestCoordinator_Leave(t *testing.T) {
	t.Run("cancel leaves the room and releases everything", func(t *testing.T) {
		h := startCoordinator(t)
		h.push(t, core.MsgUserJoined, core.MembershipPayload{ConnectionID: "b", DisplayName: "Bob"})
		require.Eventually(t, func() bool { return h.coord.Sessions() == 1 }, time.Second, 5*time.Millisecond)

		h.cancel()
		select {
		case err := <-h.runErr:
			assert.ErrorIs(t, err, context.Canceled)
			h.runErr <- err
		case <-time.After(2 * time.Second):
			t.Fatal("run did not return after cancel")
		}

		assert.Len(t, h.out.typed(core.MsgLeaveRoom), 1)
		assert.Equal(t, 0, h.coord.Sessions())
		h.stream.mu.Lock()
		closed := h.stream.closed
		h.stream.mu.Unlock()
		assert.True(t, closed)
	})

	t.Run("a closed signaling stream shuts down cleanly without leave-room", func(t *testing.T) {
		events := make(chan core.Envelope)
		out := &fakeSender{}
		stream := &fakeStream{video: true, audio: true}
		c := client.NewCoordinator(out, events, client.CoordinatorConfig{
			Room:        "r1",
			DisplayName: "Alice",
			Links:       (&linkFactory{}).new,
			Policy:      quickPolicy(),
			Source:      &fakeSource{stream: stream},
		})
		done := make(chan error, 1)
		go func() { done <- c.Run(context.Background()) }()
		require.Eventually(t, func() bool { return len(out.typed(core.MsgJoinRoom)) == 1 }, time.Second, 5*time.Millisecond)

		close(events)
		select {
		case err := <-done:
			require.NoError(t, err)
		case <-time.After(2 * time.Second):
			t.Fatal("run did not return after stream close")
		}
		assert.Empty(t, out.typed(core.MsgLeaveRoom))
	})
}

func TestCoordinator_SendFailure(t *testing.T) {
	// A dead outbound socket fails the join immediately.
	events := make(chan core.Envelope)
	c := client.NewCoordinator(deadSender{}, events, client.CoordinatorConfig{
		Room:        "r1",
		DisplayName: "Alice",
		Links:       (&linkFactory{}).new,
		Policy:      quickPolicy(),
	})
	err := c.Run(context.Background())
	require.Error(t, err)
}

type deadSender struct{}

func (deadSender) Send(core.Envelope) error { return errors.New("socket closed") }
