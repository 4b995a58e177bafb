package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/room4-2/CaterConverse/catalog"
	"github.com/room4-2/CaterConverse/dialogue"
	"github.com/room4-2/CaterConverse/logging"
	"github.com/room4-2/CaterConverse/messages"
)

const (
	correlationHeader = "X-Correlation-Id"
	maxBodyBytes      = 64 * 1024
)

func (s *Server) withCorrelationID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(correlationHeader)
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set(correlationHeader, id)
		s.logger.Debug("request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.String("correlation_id", id),
		)
		next.ServeHTTP(w, r)
	})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	data, err := sonic.Marshal(v)
	if err != nil {
		s.logger.Error("encode response", zap.Error(err))
		http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(data)
}

func (s *Server) writeError(w http.ResponseWriter, status int, code, message string) {
	s.writeJSON(w, status, messages.ErrorResponse{Error: message, Code: code})
}

// publicMessage is the error text sent to clients. Production hides the
// details of server-side failures.
func (s *Server) publicMessage(status int, err error) string {
	if status >= http.StatusInternalServerError && s.config.IsProduction() {
		return http.StatusText(status)
	}
	return err.Error()
}

func decodeJSON(r *http.Request, v interface{}) error {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		return fmt.Errorf("read body: %w", err)
	}
	if err := sonic.Unmarshal(body, v); err != nil {
		return fmt.Errorf("decode body: %w", err)
	}
	return nil
}

// statusFor maps an engine error onto an HTTP status and wire code.
func statusFor(err error) (int, string) {
	var de *dialogue.Error
	if errors.As(err, &de) {
		switch de.Code {
		case dialogue.ErrorInvalidInput:
			return http.StatusBadRequest, messages.ErrCodeInvalidRequest
		case dialogue.ErrorUnavailable:
			return http.StatusServiceUnavailable, messages.ErrCodeSessionFailed
		}
	}
	return http.StatusInternalServerError, messages.ErrCodeInternal
}

func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	var event messages.WebhookEvent
	if err := decodeJSON(r, &event); err != nil {
		s.writeError(w, http.StatusBadRequest, messages.ErrCodeInvalidMessage, "invalid JSON body")
		return
	}

	log := s.logger.With(
		zap.String("event_type", event.EventType),
		zap.String("session_id", logging.ShortID(event.CallID)),
	)

	switch event.EventType {
	case messages.EventCallStarted:
		log.Info("call started")
		s.writeJSON(w, http.StatusOK, messages.WebhookResponse{Message: "Call started"})

	case messages.EventCallEnded:
		if err := s.engine.EndSession(r.Context(), event.CallID); err != nil {
			status, code := statusFor(err)
			s.writeError(w, status, code, s.publicMessage(status, err))
			return
		}
		log.Info("call ended")
		s.writeJSON(w, http.StatusOK, messages.WebhookResponse{Message: "Call ended"})

	case messages.EventSpeechRecognition:
		reply, err := s.engine.HandleTurn(r.Context(), event.CallID, event.Transcript)
		if err != nil {
			log.Warn("turn rejected", zap.Error(err))
			status, code := statusFor(err)
			s.writeError(w, status, code, s.publicMessage(status, err))
			return
		}
		s.writeJSON(w, http.StatusOK, messages.WebhookResponse{Response: reply})

	default:
		s.writeJSON(w, http.StatusOK, messages.WebhookResponse{Message: "Event processed"})
	}
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	var req messages.SearchRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, messages.ErrCodeInvalidMessage, "invalid JSON body")
		return
	}
	query := strings.TrimSpace(req.Query)
	if query == "" {
		s.writeError(w, http.StatusBadRequest, messages.ErrCodeInvalidRequest, "query is required")
		return
	}

	radius := s.config.SearchRadius
	if req.Radius > 0 && req.Radius < radius {
		radius = req.Radius
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.config.LookupTimeout)
	defer cancel()

	var (
		results []catalog.Listing
		err     error
	)
	switch req.Type {
	case messages.SearchCuisine:
		results, err = s.catalog.ByCuisine(ctx, query)
	case messages.SearchLocation:
		results, err = s.catalog.ByLocation(ctx, query, radius)
	case messages.SearchMenu:
		results, err = s.catalog.ByMenuItem(ctx, query)
	default:
		s.writeError(w, http.StatusBadRequest, messages.ErrCodeInvalidRequest,
			"type must be one of cuisine, location, menu")
		return
	}
	if err != nil {
		s.logger.Warn("search failed",
			zap.String("type", req.Type),
			zap.String("query", query),
			zap.Error(err),
		)
		s.writeError(w, http.StatusServiceUnavailable, messages.ErrCodeInternal, "search failed")
		return
	}

	s.writeJSON(w, http.StatusOK, messages.SearchResponse{Results: messages.NewCaterers(results)})
}

func (s *Server) handleServices(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, messages.ServicesResponse{Services: messages.NewCaterers(s.catalog.All())})
}

func (s *Server) handleService(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.Atoi(r.PathValue("id"))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, messages.ErrCodeInvalidRequest, "id must be a number")
		return
	}
	l, err := s.catalog.ByID(id)
	if errors.Is(err, catalog.ErrNotFound) {
		s.writeError(w, http.StatusNotFound, messages.ErrCodeNotFound, "caterer not found")
		return
	}
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, messages.ErrCodeInternal, s.publicMessage(http.StatusInternalServerError, err))
		return
	}
	s.writeJSON(w, http.StatusOK, messages.NewCaterer(l))
}

func (s *Server) handleSession(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	c, ok := s.engine.Session(id)
	if !ok {
		s.writeError(w, http.StatusNotFound, messages.ErrCodeNotFound, "session not found")
		return
	}

	view := messages.SessionView{
		SessionID:       c.ID,
		Stage:           string(c.Stage),
		Location:        c.Location,
		Preferences:     c.Preferences,
		Recommendations: make([]string, 0, len(c.Recommendations)),
		PendingActions:  c.PendingActions,
		Turns:           c.UserTurns(),
		HistoryLength:   len(c.History),
		CreatedAt:       c.CreatedAt,
		LastActivity:    c.LastActivity,
	}
	if view.Preferences == nil {
		view.Preferences = map[string]string{}
	}
	if view.PendingActions == nil {
		view.PendingActions = []string{}
	}
	for _, l := range c.Recommendations {
		view.Recommendations = append(view.Recommendations, l.Name)
	}
	if c.LastIntent != nil {
		view.LastIntent = string(c.LastIntent.Kind())
	}

	s.writeJSON(w, http.StatusOK, view)
}

// handleHealth returns server health status
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, messages.HealthResponse{
		Status:         "healthy",
		Timestamp:      time.Now().UTC().Format(time.RFC3339),
		ActiveSessions: s.engine.ActiveSessions(),
	})
}
