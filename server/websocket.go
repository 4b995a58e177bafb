package server

import (
	"context"
	"errors"
	"net/http"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/room4-2/CaterConverse/logging"
	"github.com/room4-2/CaterConverse/messages"
)

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	// Upgrade HTTP to WebSocket
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	id := r.URL.Query().Get("call_id")
	if id == "" {
		id = uuid.NewString()
	}

	c := newConversation(id, conn, s.engine, s.config.KeepAlivePeriod, s.logger)
	if err := s.register(c); err != nil {
		code, message := messages.ErrCodeRateLimited, "Too many open conversations"
		if errors.Is(err, errConversationOpen) {
			code, message = messages.ErrCodeSessionInUse, "A conversation is already open for this session"
		}
		s.logger.Warn("conversation rejected",
			zap.String("session_id", logging.ShortID(id)),
			zap.Int("max_sessions", s.config.MaxSessions),
			zap.Error(err),
		)
		c.queueMessage(messages.NewErrorMessage(id, code, message))
		go c.writePump()
		c.Close()
		return
	}

	s.logger.Info("conversation opened", zap.String("session_id", logging.ShortID(id)))

	// Start conversation (handles messages in goroutines)
	c.Start()

	// Wait for conversation to close
	<-c.Done()

	// Clean up
	s.unregister(c)
	if err := s.engine.EndSession(context.Background(), id); err != nil {
		s.logger.Warn("end session failed", zap.String("session_id", logging.ShortID(id)), zap.Error(err))
	}
	s.logger.Info("conversation closed", zap.String("session_id", logging.ShortID(id)))
}
