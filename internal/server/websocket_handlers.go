package server

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/MeKo-Tech/ticketocr/internal/scheduler"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	wsWriteWait  = 10 * time.Second
	wsPingPeriod = 30 * time.Second
)

// WebSocket upgrader with reasonable defaults.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Message types sent over a batch stream. Besides these, every scheduler
// event type is forwarded as is.
const messageSnapshot = "snapshot"

// WebSocketMessage is one frame of a batch progress stream.
type WebSocketMessage struct {
	Type  string             `json:"type"`
	Batch scheduler.Snapshot `json:"batch"`
}

// WebSocketConnWriter is an interface for writing WebSocket messages.
type WebSocketConnWriter interface {
	WriteMessage(messageType int, data []byte) error
}

// batchWebSocketHandler streams progress events of one batch until its
// terminal event. The first frame is the current snapshot.
func (s *Server) batchWebSocketHandler(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		s.writeErrorResponse(w, "Invalid batch id", http.StatusBadRequest)
		return
	}

	sub := s.feeds.subscribe(id)
	if sub != nil {
		defer s.feeds.unsubscribe(id, sub)
	}
	snap, err := s.scheduler.Snapshot(id)
	if err != nil {
		s.writeErrorResponse(w, "Batch not found", http.StatusNotFound)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log().Error("Failed to upgrade connection to WebSocket", "error", err)
		return
	}
	defer func() { _ = conn.Close() }()

	websocketConnections.Inc()
	defer websocketConnections.Dec()
	s.log().Debug("WebSocket stream opened", "batch_id", id, "remote_addr", r.RemoteAddr)

	if sub == nil || snap.Status.Finished() {
		s.sendWebSocketMessage(conn, WebSocketMessage{Type: finalType(snap), Batch: snap})
		s.closeWebSocket(conn)
		return
	}
	if !s.sendWebSocketMessage(conn, WebSocketMessage{Type: messageSnapshot, Batch: snap}) {
		return
	}

	// Reading is only needed to notice the client going away.
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
			websocketMessagesTotal.WithLabelValues("received").Inc()
		}
	}()

	ticker := time.NewTicker(wsPingPeriod)
	defer ticker.Stop()

	sentTerminal := false
	for {
		select {
		case ev, ok := <-sub.ch:
			if !ok {
				if !sentTerminal && sub.final != nil {
					s.sendWebSocketMessage(conn, eventMessage(*sub.final))
				}
				s.closeWebSocket(conn)
				return
			}
			if !s.sendWebSocketMessage(conn, eventMessage(ev)) {
				return
			}
			if ev.Type.Terminal() {
				sentTerminal = true
			}
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteWait)); err != nil {
				return
			}
		case <-gone:
			return
		}
	}
}

func eventMessage(ev scheduler.Event) WebSocketMessage {
	return WebSocketMessage{Type: string(ev.Type), Batch: ev.Batch}
}

// finalType names the frame for a batch that is no longer streaming.
func finalType(snap scheduler.Snapshot) string {
	switch snap.Status {
	case scheduler.BatchDrained:
		return string(scheduler.EventCompleted)
	case scheduler.BatchCancelled:
		return string(scheduler.EventCancelled)
	}
	return messageSnapshot
}

// sendWebSocketMessage writes one frame and reports success.
func (s *Server) sendWebSocketMessage(conn WebSocketConnWriter, msg WebSocketMessage) bool {
	data, err := json.Marshal(msg)
	if err != nil {
		s.log().Error("Failed to marshal WebSocket message", "error", err)
		return false
	}
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		s.log().Debug("Failed to send WebSocket message", "error", err)
		return false
	}
	websocketMessagesTotal.WithLabelValues("sent").Inc()
	return true
}

func (s *Server) closeWebSocket(conn WebSocketConnWriter) {
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "batch finished")
	_ = conn.WriteMessage(websocket.CloseMessage, msg)
}
