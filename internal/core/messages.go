package core

import (
	"encoding/json"
	"fmt"

	"github.com/roomlink/roomlink/internal/domain"
)

// MessageType enumerates every signaling message on the wire. The set is
// closed: both ends switch over it exhaustively and log anything else
// instead of ignoring it.
type MessageType string

const (
	MsgJoinRoom      MessageType = "join-room"
	MsgLeaveRoom     MessageType = "leave-room"
	MsgExistingUsers MessageType = "existing-users"
	MsgUserJoined    MessageType = "user-joined"
	MsgUserLeft      MessageType = "user-left"
	MsgRoomInfo      MessageType = "room-info"
	MsgOffer         MessageType = "offer"
	MsgAnswer        MessageType = "answer"
	MsgICECandidate  MessageType = "ice-candidate"
	MsgMediaState    MessageType = "media-state-change"
	MsgError         MessageType = "error"
)

// Envelope is the outer frame of every signaling message.
type Envelope struct {
	Type    MessageType     `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// SessionDescription is the transport-agnostic wire form of an SDP blob.
type SessionDescription struct {
	Type string `json:"type"`
	SDP  string `json:"sdp"`
}

// Candidate is one proposed network path, exchanged during negotiation.
type Candidate struct {
	Candidate     string  `json:"candidate"`
	SDPMid        *string `json:"sdpMid,omitempty"`
	SDPMLineIndex *uint16 `json:"sdpMLineIndex,omitempty"`
}

// PeerInfo identifies one participant in membership messages.
type PeerInfo struct {
	ConnectionID domain.ConnectionID `json:"connectionId"`
	DisplayName  string              `json:"displayName"`
}

// JoinRoomPayload is sent by a client to enter a room.
type JoinRoomPayload struct {
	Room        string `json:"room"`
	DisplayName string `json:"displayName"`
}

// ExistingUsersPayload tells the joiner who was already in the room.
type ExistingUsersPayload struct {
	Users []PeerInfo `json:"users"`
}

// MembershipPayload announces a join or a leave to the rest of the room.
type MembershipPayload struct {
	ConnectionID domain.ConnectionID `json:"connectionId"`
	DisplayName  string              `json:"displayName"`
}

// SignalPayload carries offers, answers and candidates. Clients fill
// TargetID; the relay strips nothing and stamps SenderID/SenderName on
// delivery, so both directions share one shape.
type SignalPayload struct {
	TargetID    domain.ConnectionID `json:"targetId,omitempty"`
	SenderID    domain.ConnectionID `json:"senderId,omitempty"`
	SenderName  string              `json:"senderName,omitempty"`
	Room        string              `json:"room"`
	Description *SessionDescription `json:"description,omitempty"`
	Candidate   *Candidate          `json:"candidate,omitempty"`
}

// MediaStatePayload is broadcast to the sender's room. ConnectionID and
// DisplayName are stamped by the relay on delivery.
type MediaStatePayload struct {
	ConnectionID domain.ConnectionID `json:"connectionId,omitempty"`
	DisplayName  string              `json:"displayName,omitempty"`
	Room         string              `json:"room,omitempty"`
	VideoEnabled bool                `json:"videoEnabled"`
	AudioEnabled bool                `json:"audioEnabled"`
}

// ErrorPayload reports a request the server refused.
type ErrorPayload struct {
	Error string `json:"error"`
}

// NewEnvelope marshals a payload into a ready-to-send envelope.
func NewEnvelope(t MessageType, payload any) (Envelope, error) {
	if payload == nil {
		return Envelope{Type: t}, nil
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, fmt.Errorf("encode %s payload: %w", t, err)
	}
	return Envelope{Type: t, Payload: raw}, nil
}

// Encode renders the envelope as a wire frame.
func (e Envelope) Encode() (Frame, error) {
	b, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("encode %s envelope: %w", e.Type, err)
	}
	return b, nil
}

// Decode unmarshals the envelope payload into dst.
func (e Envelope) Decode(dst any) error {
	if err := json.Unmarshal(e.Payload, dst); err != nil {
		return fmt.Errorf("decode %s payload: %w", e.Type, err)
	}
	return nil
}
