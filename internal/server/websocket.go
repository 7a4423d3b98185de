package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/google/uuid"
	"nhooyr.io/websocket"

	"github.com/habspeaker/habspeaker/internal/registry"
)

// wsTransport delivers frames as binary websocket messages
type wsTransport struct {
	conn *websocket.Conn
}

func (t *wsTransport) Send(ctx context.Context, frame []byte) error {
	return t.conn.Write(ctx, websocket.MessageBinary, frame)
}

func (t *wsTransport) Close() error {
	return t.conn.Close(websocket.StatusNormalClosure, "")
}

// handleWebSocket registers a speaker for the lifetime of its connection.
// Query parameters id (UUID) and label identify the speaker; a missing or
// invalid id gets a fresh one.
func (h *HTTPServer) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	id, err := uuid.Parse(query.Get("id"))
	if err != nil {
		id = uuid.New()
	}
	label := query.Get("label")

	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		h.logger.Warn("Websocket handshake failed",
			slog.String("remote_addr", r.RemoteAddr),
			slog.String("error", err.Error()),
		)
		return
	}

	client := registry.NewClient(id, label, r.RemoteAddr, &wsTransport{conn: conn}, h.config.Broadcast.ClientQueueSize)
	h.registry.Register(client)
	defer h.registry.Unregister(client)

	// Nothing is expected from speakers; reading observes the close.
	ctx := r.Context()
	for {
		if _, _, err := conn.Read(ctx); err != nil {
			logger := h.logger.With(slog.String("client_id", id.String()))
			status := websocket.CloseStatus(err)
			switch {
			case status == websocket.StatusNormalClosure || status == websocket.StatusGoingAway:
				logger.Debug("Speaker disconnected", slog.Int("status", int(status)))
			case errors.Is(err, context.Canceled):
				logger.Debug("Speaker connection cancelled")
			default:
				logger.Debug("Speaker connection closed", slog.String("error", err.Error()))
			}
			return
		}
	}
}
