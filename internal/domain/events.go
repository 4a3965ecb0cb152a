package domain

import "time"

// Bus subjects for internal events
const (
	SubjectChat     = "game.chat"
	SubjectJoin     = "game.join"
	SubjectLeave    = "game.leave"
	SubjectSession  = "game.session"
	SubjectOperator = "notify.operator"
)

// ChatEvent is published for every chat line attributed to a speaker
type ChatEvent struct {
	Handle    string    `json:"handle"`
	Message   string    `json:"message"`
	Raw       string    `json:"raw"`
	Timestamp time.Time `json:"timestamp"`
}

// PresenceEvent is published when a player joins or leaves the server
type PresenceEvent struct {
	Handle    string    `json:"handle"`
	Timestamp time.Time `json:"timestamp"`
}

// Session states carried by SessionEvent
const (
	SessionConnected    = "connected"
	SessionDisconnected = "disconnected"
	SessionGaveUp       = "gave_up"
)

// SessionEvent is published on game-session state transitions
type SessionEvent struct {
	State     string    `json:"state"`
	Attempt   int       `json:"attempt,omitempty"`
	Detail    string    `json:"detail,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Notification severity labels
const (
	SeverityInfo    = "info"
	SeverityWarning = "warning"
	SeverityError   = "error"
)

// OperatorNotice is a message destined for the control-channel operator
type OperatorNotice struct {
	Severity  string    `json:"severity"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}
