// Package domain contains entity without logic, just meta-data
package domain

import "errors"

const MaxDisplayNameLen = 36

var (
	ErrDisplayNameEmpty   = errors.New("display name empty")
	ErrDisplayNameTooLong = errors.New("display name too long")
)

// ConnectionID identifies one active participant session. Assigned by
// the signaling server, one per socket.
type ConnectionID string

// MediaState is the last media state announced by a participant.
// Both flags default to true until the participant says otherwise.
type MediaState struct {
	VideoEnabled bool `json:"videoEnabled"`
	AudioEnabled bool `json:"audioEnabled"`
}

// Participant is what the connection directory owns for one session.
type Participant struct {
	ID          ConnectionID `json:"connectionId"`
	DisplayName string       `json:"displayName"`
	Media       MediaState   `json:"media"`
}

func ValidateDisplayName(name string) error {
	if len(name) == 0 {
		return ErrDisplayNameEmpty
	}
	if len(name) > MaxDisplayNameLen {
		return ErrDisplayNameTooLong
	}
	return nil
}
