package messages

import "encoding/json"

// Client message types
const (
	TypeControl = "control"
)

// ClientMessage represents a message from a websocket client
type ClientMessage struct {
	Type    string          `json:"type"` // "text", "control"
	Payload json.RawMessage `json:"payload"`
}

// TextPayload carries one caller utterance
type TextPayload struct {
	Text string `json:"text"`
}

// Control actions
const (
	ActionPing       = "ping"
	ActionEndSession = "end_session"
)

// ControlPayload contains control commands
type ControlPayload struct {
	Action string `json:"action"` // "ping", "end_session"
}
