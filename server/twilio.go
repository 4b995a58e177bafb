package server

import (
	"encoding/xml"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/room4-2/CaterConverse/logging"
)

const (
	voiceTurnPath = "/voice/turn"
	repromptText  = "Sorry, I didn't catch that. What kind of catering are you looking for?"
	apologyText   = "Sorry, something went wrong on our side. Please try again."
)

// Twilio call statuses that end a call.
var terminalCallStatus = map[string]bool{
	"completed": true,
	"canceled":  true,
	"failed":    true,
	"no-answer": true,
	"busy":      true,
}

type twimlResponse struct {
	XMLName  xml.Name       `xml:"Response"`
	Gather   *twimlGather   `xml:"Gather,omitempty"`
	Say      *twimlSay      `xml:"Say,omitempty"`
	Redirect *twimlRedirect `xml:"Redirect,omitempty"`
}

type twimlGather struct {
	Input         string    `xml:"input,attr"`
	Action        string    `xml:"action,attr"`
	Method        string    `xml:"method,attr"`
	SpeechTimeout string    `xml:"speechTimeout,attr"`
	Say           *twimlSay `xml:"Say,omitempty"`
}

type twimlSay struct {
	Text string `xml:",chardata"`
}

type twimlRedirect struct {
	Method string `xml:"method,attr"`
	URL    string `xml:",chardata"`
}

// gatherTwiML speaks prompt and listens for the caller's next utterance.
// A silent caller is redirected to the turn handler, which reprompts.
func gatherTwiML(prompt string) twimlResponse {
	return twimlResponse{
		Gather: &twimlGather{
			Input:         "speech",
			Action:        voiceTurnPath,
			Method:        http.MethodPost,
			SpeechTimeout: "auto",
			Say:           &twimlSay{Text: speakable(prompt)},
		},
		Redirect: &twimlRedirect{Method: http.MethodPost, URL: voiceTurnPath},
	}
}

// speakable flattens list formatting for text-to-speech.
func speakable(text string) string {
	text = strings.ReplaceAll(text, "•", "")
	return strings.Join(strings.Fields(text), " ")
}

func (s *Server) writeTwiML(w http.ResponseWriter, resp twimlResponse) {
	data, err := xml.Marshal(resp)
	if err != nil {
		s.logger.Error("encode twiml", zap.Error(err))
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/xml")
	_, _ = w.Write([]byte(xml.Header))
	_, _ = w.Write(data)
}

func (s *Server) handleVoiceCall(w http.ResponseWriter, r *http.Request) {
	callSid := r.PostFormValue("CallSid")
	s.logger.Info("voice call answered", zap.String("session_id", logging.ShortID(callSid)))
	s.writeTwiML(w, gatherTwiML(s.engine.VoiceGreeting()))
}

func (s *Server) handleVoiceTurn(w http.ResponseWriter, r *http.Request) {
	callSid := r.PostFormValue("CallSid")
	if callSid == "" {
		http.Error(w, "CallSid is required", http.StatusBadRequest)
		return
	}

	speech := strings.TrimSpace(r.PostFormValue("SpeechResult"))
	if speech == "" {
		s.writeTwiML(w, gatherTwiML(repromptText))
		return
	}

	reply, err := s.engine.HandleTurn(r.Context(), callSid, speech)
	if err != nil {
		s.logger.Warn("voice turn rejected", zap.String("session_id", logging.ShortID(callSid)), zap.Error(err))
		reply = apologyText
	}
	s.writeTwiML(w, gatherTwiML(reply))
}

func (s *Server) handleVoiceStatus(w http.ResponseWriter, r *http.Request) {
	callSid := r.PostFormValue("CallSid")
	status := r.PostFormValue("CallStatus")
	if callSid != "" && terminalCallStatus[status] {
		if err := s.engine.EndSession(r.Context(), callSid); err != nil {
			s.logger.Warn("end session failed", zap.String("session_id", logging.ShortID(callSid)), zap.Error(err))
		}
		s.logger.Info("voice call ended",
			zap.String("session_id", logging.ShortID(callSid)),
			zap.String("status", status),
		)
	}
	w.WriteHeader(http.StatusNoContent)
}
