package bus

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/jmikh/recordio/internal/logging"
	"github.com/jmikh/recordio/internal/protocol"
)

// WSServer bridges out-of-process UI clients (popup, editor) onto the
// dispatcher over websocket. Each connection registers as its own context
// named "ui:<id>"; envelopes it sends are forwarded to the coordinator with
// From rewritten to that name, and envelopes addressed to it are written back
// to the socket. The UI itself stays outside this module.
type WSServer struct {
	dispatcher *Dispatcher
	upgrader   websocket.Upgrader
	writeWait  time.Duration
}

// NewWSServer creates a websocket bridge over the given dispatcher.
func NewWSServer(d *Dispatcher) *WSServer {
	return &WSServer{
		dispatcher: d,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
		},
		writeWait: 10 * time.Second,
	}
}

// ServeHTTP upgrades the connection and pumps envelopes in both directions
// until the client disconnects.
func (s *WSServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logging.Get(logging.CategoryBus).Warn("websocket upgrade failed: %v", err)
		return
	}

	clientName := "ui:" + uuid.NewString()
	outbound := make(chan protocol.Envelope, defaultInboxDepth)

	err = s.dispatcher.Register(clientName, func(env protocol.Envelope) {
		select {
		case outbound <- env:
		default:
			// Slow client; at-most-once says drop.
		}
	})
	if err != nil {
		conn.Close()
		return
	}
	logging.Bus("UI client connected: %s", clientName)

	done := make(chan struct{})

	// Write pump.
	go func() {
		defer conn.Close()
		for {
			select {
			case <-done:
				return
			case env := <-outbound:
				data, err := json.Marshal(env)
				if err != nil {
					continue
				}
				conn.SetWriteDeadline(time.Now().Add(s.writeWait))
				if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
					return
				}
			}
		}
	}()

	// Read pump (this goroutine).
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			break
		}
		var env protocol.Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			logging.BusDebug("Ignoring malformed frame from %s: %v", clientName, err)
			continue
		}
		// The client may only speak as itself.
		env.From = clientName
		s.dispatcher.Send(protocol.ContextCoordinator, env)
	}

	close(done)
	s.dispatcher.Unregister(clientName)
	conn.Close()
	logging.Bus("UI client disconnected: %s", clientName)
}
