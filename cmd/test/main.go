package main

import (
	"bufio"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/url"
	"os"
	"os/signal"
	"strings"

	"github.com/bytedance/sonic"
	"github.com/gorilla/websocket"

	"github.com/room4-2/CaterConverse/messages"
)

func main() {
	// Flags
	serverURL := flag.String("server", "ws://localhost:8080/ws", "WebSocket server URL")
	callID := flag.String("call", "", "Session id to resume (server assigns one when empty)")
	flag.Parse()

	target := *serverURL
	if *callID != "" {
		target += "?call_id=" + url.QueryEscape(*callID)
	}

	log.Printf("🔌 Connecting to %s...", target)

	// Connect to server
	conn, _, err := websocket.DefaultDialer.Dial(target, nil)
	if err != nil {
		log.Fatalf("Failed to connect: %v", err)
	}
	defer conn.Close()

	log.Println("✅ Connected! Type a message, or /quit to end the session.")

	// Handle interrupt
	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt)

	done := make(chan struct{})

	// Read responses from server
	go func() {
		defer close(done)
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				log.Println("Read error:", err)
				return
			}
			printServerMessage(data)
		}
	}()

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()

	for {
		select {
		case <-done:
			log.Println("Connection closed")
			return
		case <-interrupt:
			log.Println("👋 Interrupted, closing...")
			_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		case line, ok := <-lines:
			if !ok {
				send(conn, messages.TypeControl, messages.ControlPayload{Action: messages.ActionEndSession})
				<-done
				return
			}
			line = strings.TrimSpace(line)
			switch line {
			case "":
				continue
			case "/quit":
				send(conn, messages.TypeControl, messages.ControlPayload{Action: messages.ActionEndSession})
			case "/ping":
				send(conn, messages.TypeControl, messages.ControlPayload{Action: messages.ActionPing})
			default:
				send(conn, messages.TypeText, messages.TextPayload{Text: line})
			}
		}
	}
}

func send(conn *websocket.Conn, typ string, payload interface{}) {
	raw, err := sonic.Marshal(payload)
	if err != nil {
		log.Printf("Encode error: %v", err)
		return
	}
	data, err := sonic.Marshal(messages.ClientMessage{Type: typ, Payload: raw})
	if err != nil {
		log.Printf("Encode error: %v", err)
		return
	}
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		log.Printf("Send error: %v", err)
	}
}

type serverMessage struct {
	Type      string          `json:"type"`
	SessionID string          `json:"sessionId,omitempty"`
	Payload   json.RawMessage `json:"payload"`
}

func printServerMessage(data []byte) {
	var msg serverMessage
	if err := sonic.Unmarshal(data, &msg); err != nil {
		log.Println("Parse error:", err)
		return
	}

	switch msg.Type {
	case messages.TypeText:
		var payload messages.TextResponsePayload
		_ = sonic.Unmarshal(msg.Payload, &payload)
		fmt.Printf("📝 [%s] %s\n", payload.Stage, payload.Text)

	case messages.TypeStatus:
		var payload messages.StatusPayload
		_ = sonic.Unmarshal(msg.Payload, &payload)
		log.Printf("📊 Status: %s %s (session %s)", payload.Status, payload.Message, msg.SessionID)

	case messages.TypeError:
		var payload messages.ErrorPayload
		_ = sonic.Unmarshal(msg.Payload, &payload)
		log.Printf("❌ Error: %s %s", payload.Code, payload.Message)
	}
}
