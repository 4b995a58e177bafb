package messages

import (
	"time"

	"github.com/room4-2/CaterConverse/catalog"
)

// Webhook event types sent by the voice platform
const (
	EventCallStarted       = "call_started"
	EventCallEnded         = "call_ended"
	EventSpeechRecognition = "speech_recognition"
)

// WebhookEvent is one call lifecycle or transcript event.
type WebhookEvent struct {
	EventType  string `json:"event_type"`
	CallID     string `json:"call_id"`
	Transcript string `json:"transcript,omitempty"`
}

// WebhookResponse is the reply to a WebhookEvent. Response and EndCall are
// only set for speech_recognition events.
type WebhookResponse struct {
	Message  string `json:"message,omitempty"`
	Response string `json:"response,omitempty"`
	EndCall  bool   `json:"end_call"`
}

// Search types
const (
	SearchCuisine  = "cuisine"
	SearchLocation = "location"
	SearchMenu     = "menu"
)

// SearchRequest is the body of POST /search.
type SearchRequest struct {
	Type   string  `json:"type"` // "cuisine", "location", "menu"
	Query  string  `json:"query"`
	Radius float64 `json:"radius,omitempty"` // miles, location searches only
}

// Caterer is a provider as rendered on the wire.
type Caterer struct {
	catalog.Provider
	Distance *float64 `json:"distance,omitempty"`
}

// NewCaterer renders l.
func NewCaterer(l catalog.Listing) Caterer {
	c := Caterer{Provider: l.Clone().Provider}
	if d, ok := l.Distance(); ok {
		c.Distance = &d
	}
	return c
}

// NewCaterers renders ls, never returning nil.
func NewCaterers(ls []catalog.Listing) []Caterer {
	out := make([]Caterer, 0, len(ls))
	for _, l := range ls {
		out = append(out, NewCaterer(l))
	}
	return out
}

// SearchResponse is the body returned by POST /search.
type SearchResponse struct {
	Results []Caterer `json:"results"`
}

// ServicesResponse is the body returned by GET /services.
type ServicesResponse struct {
	Services []Caterer `json:"services"`
}

// SessionView summarizes a live session for GET /sessions/{id}.
type SessionView struct {
	SessionID       string            `json:"session_id"`
	Stage           string            `json:"stage"`
	Location        string            `json:"location,omitempty"`
	Preferences     map[string]string `json:"preferences"`
	Recommendations []string          `json:"recommendations"`
	LastIntent      string            `json:"last_intent,omitempty"`
	PendingActions  []string          `json:"pending_actions"`
	Turns           int               `json:"turns"`
	HistoryLength   int               `json:"history_length"`
	CreatedAt       time.Time         `json:"created_at"`
	LastActivity    time.Time         `json:"last_activity"`
}

// HealthResponse is the body returned by GET /health.
type HealthResponse struct {
	Status         string `json:"status"`
	Timestamp      string `json:"timestamp"`
	ActiveSessions int    `json:"active_sessions"`
}

// ErrorResponse is the body of every non-2xx HTTP reply.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}
