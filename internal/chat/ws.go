package chat

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/privatechat-app/privatechat-server/internal/log"
	"github.com/privatechat-app/privatechat-server/internal/session"
)

// Websocket keepalive tuning. Pings must outrun pongWait or healthy
// clients get dropped.
const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 512
	sendBuffer     = 16
)

// Feed is the live event source for one chat channel.
type Feed interface {
	Subscribe(ctx context.Context, channel string) (<-chan []byte, func())
}

type HubMetrics interface {
	IncWSConnections()
	DecWSConnections()
}

// Hub upgrades authorized requests to websockets and relays the chat's
// live feed to them. The socket is delivery-only; messages are sent over
// the HTTP API, so inbound frames beyond control traffic are discarded.
type Hub struct {
	feed     Feed
	authz    Authorizer
	metrics  HubMetrics
	upgrader websocket.Upgrader
}

func NewHub(feed Feed, authz Authorizer, metrics HubMetrics) *Hub {
	return &Hub{
		feed:    feed,
		authz:   authz,
		metrics: metrics,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
	}
}

// Serve authorizes the caller for the chat, upgrades the connection, and
// streams events until either side goes away.
func (h *Hub) Serve(w http.ResponseWriter, r *http.Request, caller session.Identity, chatID uuid.UUID) error {
	if err := h.authz.AuthorizeChat(caller, chatID); err != nil {
		return err
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the error response
		return nil
	}

	ctx := r.Context()
	L := log.FromContext(ctx).With("chat_id", chatID.String(), "handle", caller.Handle)
	L.Debug(ctx, "websocket connected")

	if h.metrics != nil {
		h.metrics.IncWSConnections()
		defer h.metrics.DecWSConnections()
	}

	events, stop := h.feed.Subscribe(ctx, ChannelFor(chatID))
	defer stop()

	done := make(chan struct{})
	go h.readPump(conn, done)
	h.writePump(ctx, L, conn, events, done)

	L.Debug(ctx, "websocket closed")
	return nil
}

// readPump drains inbound frames so pong handling and close frames work.
func (h *Hub) readPump(conn *websocket.Conn, done chan<- struct{}) {
	defer close(done)
	conn.SetReadLimit(maxMessageSize)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Hub) writePump(ctx context.Context, L log.Logger, conn *websocket.Conn, events <-chan []byte, done <-chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		conn.Close()
	}()

	for {
		select {
		case payload, ok := <-events:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			w, err := conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			w.Write(payload)
			// batch whatever else is already queued into the same frame
			for range len(events) {
				w.Write([]byte{'\n'})
				w.Write(<-events)
			}
			if err := w.Close(); err != nil {
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-done:
			return
		case <-ctx.Done():
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"))
			return
		}
	}
}
