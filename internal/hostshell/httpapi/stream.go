package httpapi

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/coder/websocket"
	"go.uber.org/zap"
)

func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}
	events, cancel := s.hub.Listen(s.event)
	defer cancel()
	s.trackSubscriber(1)
	defer s.trackSubscriber(-1)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	corsHeaders(w)
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case evt, ok := <-events:
			if !ok {
				return
			}
			if _, err := w.Write([]byte("event: " + evt.Name + "\ndata: " + string(evt.Payload) + "\n\n")); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

type wsFrame struct {
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload"`
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{InsecureSkipVerify: true})
	if err != nil {
		s.log.Debug("websocket accept failed", zap.Error(err))
		return
	}
	defer conn.CloseNow()

	events, cancel := s.hub.Listen(s.event)
	defer cancel()
	s.trackSubscriber(1)
	defer s.trackSubscriber(-1)

	// Clients only listen; CloseRead handles their close frame and cancels ctx.
	ctx := conn.CloseRead(r.Context())
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-events:
			if !ok {
				return
			}
			b, err := json.Marshal(wsFrame{Event: evt.Name, Payload: evt.Payload})
			if err != nil {
				continue
			}
			if err := writeFrame(ctx, conn, b); err != nil {
				s.log.Debug("websocket write failed", zap.Error(err))
				return
			}
		}
	}
}

func writeFrame(ctx context.Context, conn *websocket.Conn, b []byte) error {
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return conn.Write(ctx, websocket.MessageText, b)
}
