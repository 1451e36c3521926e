package player

import (
	"zunify/models"
)

// The vendor playback SDK runs inside the browser page. To this process it
// is an external actor emitting typed events onto a channel and accepting
// transport commands; the session's state machine consumes the events
// serially and never sees the SDK's callback soup directly.

type EventType string

const (
	EventReady               EventType = "ready"
	EventNotReady            EventType = "not_ready"
	EventStateChanged        EventType = "player_state_changed"
	EventInitializationError EventType = "initialization_error"
	EventAuthenticationError EventType = "authentication_error"
	EventAccountError        EventType = "account_error"
	EventPlaybackError       EventType = "playback_error"
	// EventTokenRequest is the SDK's token-supplier callback: the player
	// asks for a fresh token instead of holding a static one, because a
	// session can outlive any single credential.
	EventTokenRequest EventType = "token_request"
	EventDisconnected EventType = "disconnected"
)

// State is the authoritative playback snapshot carried by a
// player_state_changed event.
type State struct {
	Paused     bool          `json:"paused"`
	PositionMs int           `json:"position_ms"`
	DurationMs int           `json:"duration_ms"`
	Track      *models.Track `json:"track"`
}

type Event struct {
	Type     EventType `json:"type"`
	DeviceID string    `json:"device_id,omitempty"`
	State    *State    `json:"state,omitempty"`
	Message  string    `json:"message,omitempty"`
}

// Device is the command half of the SDK boundary.
type Device interface {
	TogglePlay() error
	Seek(positionMs int) error
	SetVolume(volume float64) error
	SendToken(accessToken string) error
	Disconnect() error
	Events() <-chan Event
}
