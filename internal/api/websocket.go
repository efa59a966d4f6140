package api

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"spotbot/internal/engine"
	"spotbot/internal/events"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// outboundMessage is the envelope every push frame is wrapped in.
type outboundMessage struct {
	Type    string `json:"type"`
	Payload any    `json:"payload"`
}

// inboundMessage is the envelope the operator's client sends back.
type inboundMessage struct {
	Type    string          `json:"type"`
	Command string          `json:"command,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

var eventOutboundType = map[events.Event]string{
	events.EventStatus:    "status",
	events.EventLog:       "log",
	events.EventMarket:    "market_update_full",
	events.EventPortfolio: "portfolio_update",
	events.EventLedger:    "trade_ledger_update",
}

// websocket upgrades the connection, sends the initial_state snapshot,
// relays every subsequent domain event, and demultiplexes inbound
// command/settings frames into Engine calls.
func (s *Server) websocket(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Printf("ws upgrade error: %v", err)
		return
	}
	defer conn.Close()

	if s.Bus == nil || s.Engine == nil {
		_ = conn.WriteJSON(outboundMessage{Type: "error", Payload: "engine not ready"})
		return
	}

	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()

	if err := conn.WriteJSON(outboundMessage{Type: "initial_state", Payload: s.Engine.Snapshot()}); err != nil {
		return
	}

	subs := make([]func(), 0, len(eventOutboundType))
	streams := make([]<-chan any, 0, len(eventOutboundType))
	kinds := make([]string, 0, len(eventOutboundType))
	for ev, kind := range eventOutboundType {
		stream, unsub := s.Bus.Subscribe(ev, 32)
		subs = append(subs, unsub)
		streams = append(streams, stream)
		kinds = append(kinds, kind)
	}
	defer func() {
		for _, unsub := range subs {
			unsub()
		}
	}()

	writeDone := make(chan struct{})
	for i := range streams {
		go s.relayStream(ctx, conn, kinds[i], streams[i], writeDone)
	}

	authorized := authorizeCommand(c.Query("token"), s.JWTSecret)
	s.readCommands(conn, authorized)
	cancel()
}

func (s *Server) relayStream(ctx context.Context, conn *websocket.Conn, kind string, stream <-chan any, done chan struct{}) {
	for {
		select {
		case <-ctx.Done():
			return
		case payload, ok := <-stream:
			if !ok {
				return
			}
			if err := conn.WriteJSON(outboundMessage{Type: kind, Payload: payload}); err != nil {
				select {
				case done <- struct{}{}:
				default:
				}
				return
			}
		}
	}
}

// readCommands blocks reading inbound frames until the client disconnects.
// A connection that never presented a valid operator token may still
// receive pushes (read-only observers) but every mutating frame is
// rejected.
func (s *Server) readCommands(conn *websocket.Conn, authorized bool) {
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return
		}

		var msg inboundMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			log.Printf("ws: ignoring malformed frame: %v", err)
			continue
		}

		if !authorized {
			log.Printf("ws: rejecting %q frame from unauthorized connection", msg.Type)
			continue
		}

		switch msg.Type {
		case "command":
			s.handleCommand(msg.Command)
		case "settings":
			s.handleSettings(msg.Payload)
		default:
			log.Printf("ws: ignoring unknown frame type %q", msg.Type)
		}
	}
}

func (s *Server) handleCommand(command string) {
	ctx := context.Background()
	var err error
	switch command {
	case "START_BOT":
		err = s.Engine.Start(ctx)
	case "STOP_BOT":
		err = s.Engine.Stop(false)
	case "KILL_SWITCH":
		err = s.Engine.Stop(true)
	default:
		log.Printf("ws: ignoring unknown command %q", command)
		return
	}
	if err != nil {
		log.Printf("ws: command %q failed: %v", command, err)
	}
}

func (s *Server) handleSettings(payload json.RawMessage) {
	var settings engine.Settings
	if err := json.Unmarshal(payload, &settings); err != nil {
		log.Printf("ws: invalid settings payload: %v", err)
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.Engine.UpdateSettings(ctx, settings); err != nil {
		log.Printf("ws: settings update rejected: %v", err)
	}
}
