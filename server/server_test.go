package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/room4-2/CaterConverse/catalog"
	"github.com/room4-2/CaterConverse/config"
	"github.com/room4-2/CaterConverse/dialogue"
	"github.com/room4-2/CaterConverse/messages"
	"github.com/room4-2/CaterConverse/session"
)

type harness struct {
	server *Server
	engine *dialogue.Engine
	http   *httptest.Server
}

func newHarness(t *testing.T, maxSessions int) *harness {
	t.Helper()
	providers, err := catalog.LoadProviders("")
	require.NoError(t, err)
	gazetteer := catalog.NewGazetteer(catalog.ServiceAreas)
	cat, err := catalog.New(providers, gazetteer, nil)
	require.NoError(t, err)

	engine, err := dialogue.New(session.NewStore(nil, 0, nil), cat, gazetteer, dialogue.Options{}, nil)
	require.NoError(t, err)

	cfg := &config.Config{
		MaxSessions:    maxSessions,
		AllowedOrigins: []string{"*"},
		SearchRadius:   50,
		LookupTimeout:  time.Second,
	}
	srv := NewServer(cfg, engine, cat, nil)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(func() {
		_ = srv.Shutdown(context.Background())
		ts.Close()
	})
	return &harness{server: srv, engine: engine, http: ts}
}

func (h *harness) postJSON(t *testing.T, path, body string) *http.Response {
	t.Helper()
	resp, err := http.Post(h.http.URL+path, "application/json", strings.NewReader(body))
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func (h *harness) postForm(t *testing.T, path string, form url.Values) (*http.Response, string) {
	t.Helper()
	resp, err := http.PostForm(h.http.URL+path, form)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, string(body)
}

func (h *harness) get(t *testing.T, path string) *http.Response {
	t.Helper()
	resp, err := http.Get(h.http.URL + path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func decode(t *testing.T, resp *http.Response, v interface{}) {
	t.Helper()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(v))
}

func TestHealth(t *testing.T) {
	h := newHarness(t, 10)

	resp := h.get(t, "/health")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NotEmpty(t, resp.Header.Get(correlationHeader))

	var body messages.HealthResponse
	decode(t, resp, &body)
	require.Equal(t, "healthy", body.Status)
	require.Equal(t, 0, body.ActiveSessions)
	_, err := time.Parse(time.RFC3339, body.Timestamp)
	require.NoError(t, err)
}

func TestCorrelationIDEchoed(t *testing.T) {
	h := newHarness(t, 10)

	req, err := http.NewRequest(http.MethodGet, h.http.URL+"/health", nil)
	require.NoError(t, err)
	req.Header.Set(correlationHeader, "abc-123")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, "abc-123", resp.Header.Get(correlationHeader))
}

func TestWebhook_SpeechRecognitionThenSessionView(t *testing.T) {
	h := newHarness(t, 10)

	resp := h.postJSON(t, "/webhook", `{"event_type":"speech_recognition","call_id":"call-1","transcript":"I want pizza"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var reply messages.WebhookResponse
	decode(t, resp, &reply)
	require.Contains(t, reply.Response, "Bella's Italian Catering")
	require.False(t, reply.EndCall)

	resp = h.get(t, "/sessions/call-1")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var view messages.SessionView
	decode(t, resp, &view)
	require.Equal(t, "call-1", view.SessionID)
	require.Equal(t, string(session.StageSearching), view.Stage)
	require.Equal(t, []string{"Bella's Italian Catering"}, view.Recommendations)
	require.Equal(t, "menu_inquiry", view.LastIntent)
	require.Equal(t, 1, view.Turns)
	require.Equal(t, 2, view.HistoryLength)
}

func TestWebhook_CallEndedForgetsSession(t *testing.T) {
	h := newHarness(t, 10)

	resp := h.postJSON(t, "/webhook", `{"event_type":"speech_recognition","call_id":"call-2","transcript":"hello"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, 1, h.engine.ActiveSessions())

	resp = h.postJSON(t, "/webhook", `{"event_type":"call_ended","call_id":"call-2"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, 0, h.engine.ActiveSessions())

	resp = h.get(t, "/sessions/call-2")
	require.Equal(t, http.StatusNotFound, resp.StatusCode)

	// Ending again is harmless.
	resp = h.postJSON(t, "/webhook", `{"event_type":"call_ended","call_id":"call-2"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestWebhook_Rejections(t *testing.T) {
	h := newHarness(t, 10)

	tests := []struct {
		name string
		body string
		code string
	}{
		{"malformed json", `{"event_type":`, messages.ErrCodeInvalidMessage},
		{"empty transcript", `{"event_type":"speech_recognition","call_id":"c","transcript":"  "}`, messages.ErrCodeInvalidRequest},
		{"missing call id", `{"event_type":"speech_recognition","transcript":"hi"}`, messages.ErrCodeInvalidRequest},
		{"call ended without id", `{"event_type":"call_ended"}`, messages.ErrCodeInvalidRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := h.postJSON(t, "/webhook", tt.body)
			require.Equal(t, http.StatusBadRequest, resp.StatusCode)
			var body messages.ErrorResponse
			decode(t, resp, &body)
			require.Equal(t, tt.code, body.Code)
		})
	}
	require.Equal(t, 0, h.engine.ActiveSessions())
}

func TestWebhook_OtherEvents(t *testing.T) {
	h := newHarness(t, 10)

	resp := h.postJSON(t, "/webhook", `{"event_type":"call_started","call_id":"c"}`)
	var started messages.WebhookResponse
	decode(t, resp, &started)
	require.Equal(t, "Call started", started.Message)

	resp = h.postJSON(t, "/webhook", `{"event_type":"agent_interrupted","call_id":"c"}`)
	var other messages.WebhookResponse
	decode(t, resp, &other)
	require.Equal(t, "Event processed", other.Message)

	// call_started does not open a session; the first utterance does.
	require.Equal(t, 0, h.engine.ActiveSessions())
}

func TestSearch(t *testing.T) {
	h := newHarness(t, 10)

	resp := h.postJSON(t, "/search", `{"type":"cuisine","query":"italian"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var byCuisine messages.SearchResponse
	decode(t, resp, &byCuisine)
	require.Len(t, byCuisine.Results, 1)
	require.Equal(t, "Bella's Italian Catering", byCuisine.Results[0].Name)
	require.Nil(t, byCuisine.Results[0].Distance)

	resp = h.postJSON(t, "/search", `{"type":"location","query":"Boston","radius":50}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var byLocation messages.SearchResponse
	decode(t, resp, &byLocation)
	require.NotEmpty(t, byLocation.Results)
	for _, c := range byLocation.Results {
		require.NotNil(t, c.Distance)
	}

	resp = h.postJSON(t, "/search", `{"type":"menu","query":"noodles"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var none messages.SearchResponse
	decode(t, resp, &none)
	require.NotNil(t, none.Results)
	require.Empty(t, none.Results)
}

func TestSearch_Rejections(t *testing.T) {
	h := newHarness(t, 10)

	for _, body := range []string{
		`{"type":"cuisine","query":""}`,
		`{"type":"price","query":"cheap"}`,
		`not json`,
	} {
		resp := h.postJSON(t, "/search", body)
		require.Equal(t, http.StatusBadRequest, resp.StatusCode, body)
	}
}

func TestServices(t *testing.T) {
	h := newHarness(t, 10)

	resp := h.get(t, "/services")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var body messages.ServicesResponse
	decode(t, resp, &body)
	require.Len(t, body.Services, 5)
	require.Equal(t, "+1-555-0101", body.Services[0].Phone)
}

func TestService(t *testing.T) {
	h := newHarness(t, 10)

	resp := h.get(t, "/services/1")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var body messages.Caterer
	decode(t, resp, &body)
	require.Equal(t, 1, body.ID)
	require.Equal(t, "Bella's Italian Catering", body.Name)
	require.Nil(t, body.Distance)

	tests := []struct {
		name   string
		path   string
		status int
		code   string
	}{
		{"unknown id", "/services/99", http.StatusNotFound, messages.ErrCodeNotFound},
		{"non-numeric id", "/services/pizza", http.StatusBadRequest, messages.ErrCodeInvalidRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := h.get(t, tt.path)
			require.Equal(t, tt.status, resp.StatusCode)
			var e messages.ErrorResponse
			decode(t, resp, &e)
			require.Equal(t, tt.code, e.Code)
		})
	}
}

// failingEngine fails every call with an internal error carrying details
// that must not reach production clients.
type failingEngine struct{}

var errStoreDown = &dialogue.Error{
	Code:   dialogue.ErrorInternal,
	Reason: "session_store_error",
	Err:    errors.New("redis 10.0.0.7:6379: connection refused"),
}

func (failingEngine) HandleTurn(context.Context, string, string) (string, error) {
	return "", errStoreDown
}
func (failingEngine) EndSession(context.Context, string) error { return errStoreDown }
func (failingEngine) Session(string) (session.Context, bool) { return session.Context{}, false }
func (failingEngine) ActiveSessions() int { return 0 }
func (failingEngine) VoiceGreeting() string { return "" }

func TestWebhook_InternalErrorDetails(t *testing.T) {
	providers, err := catalog.LoadProviders("")
	require.NoError(t, err)
	cat, err := catalog.New(providers, catalog.NewGazetteer(catalog.ServiceAreas), nil)
	require.NoError(t, err)

	tests := []struct {
		env    string
		leaked bool
	}{
		{"development", true},
		{"production", false},
	}
	for _, tt := range tests {
		t.Run(tt.env, func(t *testing.T) {
			srv := NewServer(&config.Config{Env: tt.env, LookupTimeout: time.Second}, failingEngine{}, cat, nil)
			ts := httptest.NewServer(srv.Handler())
			defer ts.Close()

			for _, body := range []string{
				`{"event_type":"speech_recognition","call_id":"c","transcript":"hi"}`,
				`{"event_type":"call_ended","call_id":"c"}`,
			} {
				resp, err := http.Post(ts.URL+"/webhook", "application/json", strings.NewReader(body))
				require.NoError(t, err)
				var e messages.ErrorResponse
				require.NoError(t, json.NewDecoder(resp.Body).Decode(&e))
				_ = resp.Body.Close()

				require.Equal(t, http.StatusInternalServerError, resp.StatusCode)
				require.Equal(t, messages.ErrCodeInternal, e.Code)
				require.Equal(t, tt.leaked, strings.Contains(e.Error, "10.0.0.7"), e.Error)
				if !tt.leaked {
					require.Equal(t, "Internal Server Error", e.Error)
				}
			}
		})
	}
}

func TestVoiceFlow(t *testing.T) {
	h := newHarness(t, 10)

	resp, body := h.postForm(t, "/voice", url.Values{"CallSid": {"CA1"}})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "text/xml", resp.Header.Get("Content-Type"))
	require.Contains(t, body, `<Gather input="speech" action="/voice/turn" method="POST" speechTimeout="auto">`)
	require.Contains(t, body, "Thanks for calling EZCaters.")
	require.NotContains(t, body, "Welcome to EZCaters")

	// The caller's first words get the full welcome, not the same prompt again.
	_, body = h.postForm(t, "/voice/turn", url.Values{"CallSid": {"CA1"}, "SpeechResult": {"hi"}})
	require.Contains(t, body, "Welcome to EZCaters")

	resp, body = h.postForm(t, "/voice/turn", url.Values{"CallSid": {"CA1"}, "SpeechResult": {"I want pizza"}})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Contains(t, body, "Italian Catering offers pizza")
	require.Contains(t, body, `<Redirect method="POST">/voice/turn</Redirect>`)
	require.Equal(t, 1, h.engine.ActiveSessions())

	_, body = h.postForm(t, "/voice/turn", url.Values{"CallSid": {"CA1"}})
	require.Contains(t, body, "What kind of catering are you looking for?")

	resp, _ = h.postForm(t, "/voice/status", url.Values{"CallSid": {"CA1"}, "CallStatus": {"in-progress"}})
	require.Equal(t, http.StatusNoContent, resp.StatusCode)
	require.Equal(t, 1, h.engine.ActiveSessions())

	resp, _ = h.postForm(t, "/voice/status", url.Values{"CallSid": {"CA1"}, "CallStatus": {"completed"}})
	require.Equal(t, http.StatusNoContent, resp.StatusCode)
	require.Equal(t, 0, h.engine.ActiveSessions())
}

func TestVoiceTurn_RequiresCallSid(t *testing.T) {
	h := newHarness(t, 10)

	resp, _ := h.postForm(t, "/voice/turn", url.Values{"SpeechResult": {"hello"}})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestSpeakable(t *testing.T) {
	require.Equal(t, "Options: A (4.8) B (4.5)", speakable("Options:\n• A (4.8)\n• B (4.5)"))
}

type wireMessage struct {
	Type      string          `json:"type"`
	SessionID string          `json:"sessionId"`
	Payload   json.RawMessage `json:"payload"`
}

func dial(t *testing.T, h *harness, callID string) *websocket.Conn {
	t.Helper()
	u := "ws" + strings.TrimPrefix(h.http.URL, "http") + "/ws"
	if callID != "" {
		u += "?call_id=" + url.QueryEscape(callID)
	}
	conn, resp, err := websocket.DefaultDialer.Dial(u, nil)
	require.NoError(t, err)
	_ = resp.Body.Close()
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func read(t *testing.T, conn *websocket.Conn) wireMessage {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	var msg wireMessage
	require.NoError(t, conn.ReadJSON(&msg))
	return msg
}

func send(t *testing.T, conn *websocket.Conn, typ string, payload interface{}) {
	t.Helper()
	raw, err := json.Marshal(payload)
	require.NoError(t, err)
	require.NoError(t, conn.WriteJSON(messages.ClientMessage{Type: typ, Payload: raw}))
}

func TestWebSocketConversation(t *testing.T) {
	h := newHarness(t, 10)
	conn := dial(t, h, "ws-1")

	msg := read(t, conn)
	require.Equal(t, messages.TypeStatus, msg.Type)
	require.Equal(t, "ws-1", msg.SessionID)
	var status messages.StatusPayload
	require.NoError(t, json.Unmarshal(msg.Payload, &status))
	require.Equal(t, messages.StatusConnected, status.Status)

	send(t, conn, messages.TypeText, messages.TextPayload{Text: "I want pizza"})
	msg = read(t, conn)
	require.Equal(t, messages.TypeText, msg.Type)
	var text messages.TextResponsePayload
	require.NoError(t, json.Unmarshal(msg.Payload, &text))
	require.Contains(t, text.Text, "Bella's Italian Catering")
	require.Equal(t, string(session.StageSearching), text.Stage)

	send(t, conn, messages.TypeControl, messages.ControlPayload{Action: messages.ActionPing})
	msg = read(t, conn)
	require.NoError(t, json.Unmarshal(msg.Payload, &status))
	require.Equal(t, messages.StatusPong, status.Status)

	send(t, conn, messages.TypeControl, messages.ControlPayload{Action: messages.ActionEndSession})
	msg = read(t, conn)
	require.NoError(t, json.Unmarshal(msg.Payload, &status))
	require.Equal(t, messages.StatusEnded, status.Status)

	require.Eventually(t, func() bool {
		_, ok := h.engine.Session("ws-1")
		return !ok
	}, 2*time.Second, 10*time.Millisecond)
}

func TestWebSocket_InvalidMessages(t *testing.T) {
	h := newHarness(t, 10)
	conn := dial(t, h, "")
	connected := read(t, conn)
	require.NotEmpty(t, connected.SessionID)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("{not json")))
	msg := read(t, conn)
	require.Equal(t, messages.TypeError, msg.Type)
	var errPayload messages.ErrorPayload
	require.NoError(t, json.Unmarshal(msg.Payload, &errPayload))
	require.Equal(t, messages.ErrCodeInvalidMessage, errPayload.Code)

	send(t, conn, messages.TypeText, messages.TextPayload{Text: ""})
	msg = read(t, conn)
	require.Equal(t, messages.TypeError, msg.Type)
	require.NoError(t, json.Unmarshal(msg.Payload, &errPayload))
	require.Equal(t, messages.ErrCodeInvalidRequest, errPayload.Code)

	send(t, conn, "video", map[string]string{})
	msg = read(t, conn)
	require.Equal(t, messages.TypeError, msg.Type)
}

func TestWebSocket_DisconnectEndsSession(t *testing.T) {
	h := newHarness(t, 10)
	conn := dial(t, h, "ws-drop")
	read(t, conn)

	send(t, conn, messages.TypeText, messages.TextPayload{Text: "hello"})
	read(t, conn)
	require.Equal(t, 1, h.engine.ActiveSessions())

	require.NoError(t, conn.Close())
	require.Eventually(t, func() bool {
		return h.engine.ActiveSessions() == 0
	}, 2*time.Second, 10*time.Millisecond)
}

func TestWebSocket_MaxSessions(t *testing.T) {
	h := newHarness(t, 1)
	first := dial(t, h, "ws-a")
	read(t, first)

	second := dial(t, h, "ws-b")
	msg := read(t, second)
	require.Equal(t, messages.TypeError, msg.Type)
	var errPayload messages.ErrorPayload
	require.NoError(t, json.Unmarshal(msg.Payload, &errPayload))
	require.Equal(t, messages.ErrCodeRateLimited, errPayload.Code)
}

func TestWebSocket_DuplicateCallID(t *testing.T) {
	h := newHarness(t, 10)
	first := dial(t, h, "ws-dup")
	read(t, first)

	second := dial(t, h, "ws-dup")
	msg := read(t, second)
	require.Equal(t, messages.TypeError, msg.Type)
	var errPayload messages.ErrorPayload
	require.NoError(t, json.Unmarshal(msg.Payload, &errPayload))
	require.Equal(t, messages.ErrCodeSessionInUse, errPayload.Code)
	require.NotEqual(t, messages.ErrCodeRateLimited, errPayload.Code)

	// The open conversation is untouched.
	send(t, first, messages.TypeControl, messages.ControlPayload{Action: messages.ActionPing})
	msg = read(t, first)
	var status messages.StatusPayload
	require.NoError(t, json.Unmarshal(msg.Payload, &status))
	require.Equal(t, messages.StatusPong, status.Status)
}
