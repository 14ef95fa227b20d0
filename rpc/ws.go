package rpc

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"nhooyr.io/websocket"

	"tokensale/core/types"
	"tokensale/native/tokensale"
)

const (
	wsWriteTimeout = 10 * time.Second
)

// EventMessage is one frame of the /ws stream.
type EventMessage struct {
	Type       string            `json:"type"`
	Attributes map[string]string `json:"attributes"`
}

// handleEventsWS streams sale events. The optional ?sale= query narrows the
// stream to one sale.
func (s *Server) handleEventsWS(w http.ResponseWriter, r *http.Request) {
	if s.stream == nil {
		http.Error(w, "event stream unavailable", http.StatusServiceUnavailable)
		return
	}
	if !s.limiter.allow(r) {
		s.metrics.RecordThrottle("ws_rate_limit")
		http.Error(w, http.StatusText(http.StatusTooManyRequests), http.StatusTooManyRequests)
		return
	}
	sale := strings.TrimSpace(r.URL.Query().Get("sale"))
	opts := &websocket.AcceptOptions{OriginPatterns: s.cfg.AllowedOrigins}
	if len(opts.OriginPatterns) == 0 {
		opts.OriginPatterns = []string{"*"}
	}
	conn, err := websocket.Accept(w, r, opts)
	if err != nil {
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "stream closed")
	ctx := conn.CloseRead(r.Context())
	if err := s.streamEvents(ctx, conn, sale); err != nil {
		if status := websocket.CloseStatus(err); status == -1 && ctx.Err() == nil {
			s.logger.Warn("event stream failed", slog.Any("error", err))
			_ = conn.Close(websocket.StatusInternalError, "stream error")
		}
	}
}

func (s *Server) streamEvents(ctx context.Context, conn *websocket.Conn, sale string) error {
	updates, cancel := s.stream.Subscribe()
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case evt, ok := <-updates:
			if !ok {
				return nil
			}
			payload, ok := tokensale.EventPayload(evt)
			if !ok {
				continue
			}
			if sale != "" && payload.Attributes["name"] != sale {
				continue
			}
			if err := writeEvent(ctx, conn, payload); err != nil {
				return err
			}
		}
	}
}

func writeEvent(ctx context.Context, conn *websocket.Conn, evt *types.Event) error {
	data, err := json.Marshal(EventMessage{Type: evt.Type, Attributes: evt.Attributes})
	if err != nil {
		return err
	}
	writeCtx, cancel := context.WithTimeout(ctx, wsWriteTimeout)
	defer cancel()
	return conn.Write(writeCtx, websocket.MessageText, data)
}
