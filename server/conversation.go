package server

import (
	"context"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/room4-2/CaterConverse/messages"
)

const (
	writeBufferSize = 256
	writeTimeout    = 10 * time.Second
	maxMessageSize  = 64 * 1024
)

// conversation is one websocket client. Every text message it sends is a
// caller turn for the session named by its id.
type conversation struct {
	id        string
	conn      *websocket.Conn
	engine    Engine
	logger    *zap.Logger
	keepAlive time.Duration

	// Use channels for non-blocking writes
	writeChan chan *messages.ServerMessage

	mu        sync.RWMutex
	closed    bool
	closeChan chan struct{}
	ctx       context.Context
	cancel    context.CancelFunc
}

func newConversation(id string, conn *websocket.Conn, engine Engine, keepAlive time.Duration, logger *zap.Logger) *conversation {
	ctx, cancel := context.WithCancel(context.Background())

	conn.SetReadLimit(maxMessageSize)

	return &conversation{
		id:        id,
		conn:      conn,
		engine:    engine,
		logger:    logger.With(zap.String("session_id", id)),
		keepAlive: keepAlive,
		writeChan: make(chan *messages.ServerMessage, writeBufferSize),
		closeChan: make(chan struct{}),
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Start begins the write pump and the read loop.
func (c *conversation) Start() {
	go c.writePump()
	c.queueMessage(messages.NewStatusMessage(c.id, messages.StatusConnected, "Session established"))
	go c.readLoop()
}

// Done is closed once the conversation has been closed.
func (c *conversation) Done() <-chan struct{} {
	return c.closeChan
}

// writePump handles all outgoing messages in a single goroutine. It drains
// queued messages after Close and then sends the close frame.
func (c *conversation) writePump() {
	var ping <-chan time.Time
	if c.keepAlive > 0 {
		ticker := time.NewTicker(c.keepAlive)
		defer ticker.Stop()
		ping = ticker.C
	}

	defer func() {
		_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		_ = c.conn.WriteMessage(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		)
		_ = c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.writeChan:
			if !ok {
				return
			}
			data, err := sonic.Marshal(msg)
			if err != nil {
				c.logger.Error("encode message", zap.Error(err))
				continue
			}
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				c.logger.Debug("write failed", zap.Error(err))
				go c.Close()
				return
			}
		case <-ping:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				go c.Close()
				return
			}
		}
	}
}

// queueMessage adds a message to the write queue (non-blocking)
func (c *conversation) queueMessage(msg *messages.ServerMessage) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return
	}
	select {
	case c.writeChan <- msg:
	default:
		c.logger.Warn("write queue full, dropping message", zap.String("type", msg.Type))
	}
}

// Close stops the conversation. It is safe to call more than once.
func (c *conversation) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.writeChan)
	c.mu.Unlock()

	c.cancel()
	close(c.closeChan)
}

// IsClosed returns whether the conversation is closed
func (c *conversation) IsClosed() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.closed
}

func (c *conversation) readLoop() {
	defer c.Close()

	if c.keepAlive > 0 {
		deadline := 2 * c.keepAlive
		_ = c.conn.SetReadDeadline(time.Now().Add(deadline))
		c.conn.SetPongHandler(func(string) error {
			return c.conn.SetReadDeadline(time.Now().Add(deadline))
		})
	}

	for {
		messageType, data, err := c.conn.ReadMessage()
		if err != nil {
			if !c.IsClosed() && websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.logger.Warn("websocket read error", zap.Error(err))
			}
			return
		}
		if messageType != websocket.TextMessage {
			c.queueMessage(messages.NewErrorMessage(c.id, messages.ErrCodeInvalidMessage, "Binary messages are not supported"))
			continue
		}

		var msg messages.ClientMessage
		if err := sonic.Unmarshal(data, &msg); err != nil {
			c.queueMessage(messages.NewErrorMessage(c.id, messages.ErrCodeInvalidMessage, "Invalid message format"))
			continue
		}
		c.processClientMessage(&msg)

		if c.IsClosed() {
			return
		}
	}
}

func (c *conversation) processClientMessage(msg *messages.ClientMessage) {
	switch msg.Type {
	case messages.TypeText:
		var payload messages.TextPayload
		if err := sonic.Unmarshal(msg.Payload, &payload); err != nil {
			c.queueMessage(messages.NewErrorMessage(c.id, messages.ErrCodeInvalidMessage, "Invalid text payload"))
			return
		}
		c.handleText(payload.Text)

	case messages.TypeControl:
		var payload messages.ControlPayload
		if err := sonic.Unmarshal(msg.Payload, &payload); err != nil {
			c.queueMessage(messages.NewErrorMessage(c.id, messages.ErrCodeInvalidMessage, "Invalid control payload"))
			return
		}
		c.handleControlMessage(&payload)

	default:
		c.queueMessage(messages.NewErrorMessage(c.id, messages.ErrCodeInvalidMessage, "Unknown message type: "+msg.Type))
	}
}

func (c *conversation) handleText(text string) {
	reply, err := c.engine.HandleTurn(c.ctx, c.id, text)
	if err != nil {
		_, code := statusFor(err)
		c.queueMessage(messages.NewErrorMessage(c.id, code, err.Error()))
		return
	}

	var stage string
	if snap, ok := c.engine.Session(c.id); ok {
		stage = string(snap.Stage)
	}
	c.queueMessage(messages.NewTextMessage(c.id, reply, stage))
}

func (c *conversation) handleControlMessage(payload *messages.ControlPayload) {
	switch payload.Action {
	case messages.ActionPing:
		c.queueMessage(messages.NewStatusMessage(c.id, messages.StatusPong, ""))
	case messages.ActionEndSession:
		if err := c.engine.EndSession(c.ctx, c.id); err != nil {
			c.logger.Warn("end session failed", zap.Error(err))
		}
		c.queueMessage(messages.NewStatusMessage(c.id, messages.StatusEnded, "Session ended"))
		c.Close()
	default:
		c.queueMessage(messages.NewErrorMessage(c.id, messages.ErrCodeInvalidMessage, "Unknown control action: "+payload.Action))
	}
}
