package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/room4-2/CaterConverse/catalog"
	"github.com/room4-2/CaterConverse/config"
	"github.com/room4-2/CaterConverse/dialogue"
	"github.com/room4-2/CaterConverse/logging"
	"github.com/room4-2/CaterConverse/session"
)

// Engine is the dialogue surface the transport drives.
type Engine interface {
	HandleTurn(ctx context.Context, sessionID, utterance string) (string, error)
	EndSession(ctx context.Context, sessionID string) error
	Session(sessionID string) (session.Context, bool)
	ActiveSessions() int
	VoiceGreeting() string
}

// Catalog backs the search and listing endpoints.
type Catalog interface {
	dialogue.Catalog
	All() []catalog.Listing
	ByID(id int) (catalog.Listing, error)
}

var (
	errTooManyConversations = errors.New("server: too many open conversations")
	errConversationOpen     = errors.New("server: conversation already open")
)

type Server struct {
	httpServer *http.Server
	upgrader   websocket.Upgrader
	engine     Engine
	catalog    Catalog
	config     *config.Config
	logger     *zap.Logger

	mu            sync.Mutex
	conversations map[string]*conversation
}

// NewServer wires every HTTP and websocket route onto one listener.
func NewServer(cfg *config.Config, engine Engine, cat Catalog, logger *zap.Logger) *Server {
	s := &Server{
		engine:        engine,
		catalog:       cat,
		config:        cfg,
		logger:        logging.OrNop(logger),
		conversations: make(map[string]*conversation),
		upgrader: websocket.Upgrader{
			ReadBufferSize:    4 * 1024,
			WriteBufferSize:   16 * 1024,
			EnableCompression: true,
			CheckOrigin: func(r *http.Request) bool {
				// Check allowed origins
				origin := r.Header.Get("Origin")
				if origin == "" {
					return true
				}
				for _, allowed := range cfg.AllowedOrigins {
					if allowed == "*" || allowed == origin {
						return true
					}
				}
				return false
			},
		},
	}

	s.httpServer = &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Port),
		Handler: s.Handler(),
		// No Read/WriteTimeout: they would cut long-lived websocket
		// connections. The websocket layer sets its own deadlines.
		ReadHeaderTimeout: 10 * time.Second,
	}

	return s
}

// Handler returns the routed handler, for tests and embedding.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /webhook", s.handleWebhook)
	mux.HandleFunc("POST /search", s.handleSearch)
	mux.HandleFunc("GET /services", s.handleServices)
	mux.HandleFunc("GET /services/{id}", s.handleService)
	mux.HandleFunc("GET /sessions/{id}", s.handleSession)
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /ws", s.handleWebSocket)
	mux.HandleFunc("POST /voice", s.handleVoiceCall)
	mux.HandleFunc("POST /voice/turn", s.handleVoiceTurn)
	mux.HandleFunc("POST /voice/status", s.handleVoiceStatus)
	return s.withCorrelationID(mux)
}

// Start begins listening for connections
func (s *Server) Start() error {
	s.logger.Info("server starting",
		zap.Int("port", s.config.Port),
		zap.String("websocket", fmt.Sprintf("ws://localhost:%d/ws", s.config.Port)),
		zap.String("voice", fmt.Sprintf("http://localhost:%d/voice", s.config.Port)),
	)
	err := s.httpServer.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown closes open conversations and stops the listener.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down server")

	s.mu.Lock()
	open := make([]*conversation, 0, len(s.conversations))
	for _, c := range s.conversations {
		open = append(open, c)
	}
	s.mu.Unlock()

	for _, c := range open {
		c.Close()
	}
	return s.httpServer.Shutdown(ctx)
}

// register tracks c. It fails when c's id already has an open conversation
// or the conversation limit is reached.
func (s *Server) register(c *conversation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, dup := s.conversations[c.id]; dup {
		return errConversationOpen
	}
	if s.config.MaxSessions > 0 && len(s.conversations) >= s.config.MaxSessions {
		return errTooManyConversations
	}
	s.conversations[c.id] = c
	return nil
}

func (s *Server) unregister(c *conversation) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conversations[c.id] == c {
		delete(s.conversations, c.id)
	}
}
