package ws

import (
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// maxMessageSize mirrors the teacher's maxFrameSize guard: browser clients
// never send frames anywhere near this size, so anything larger is treated
// as a misbehaving client and the connection is dropped.
const maxMessageSize = 64 * 1024

// Handler upgrades HTTP connections to WebSocket and drives the per-client
// read/write loops, registering and unregistering each connection with a
// Broadcaster. The client never sends data this server cares about (PIDA's
// dashboard only consumes the event/alert stream), so the read loop exists
// solely to detect disconnection, exactly as in the teacher's handler.
type Handler struct {
	bc     *Broadcaster
	logger *slog.Logger

	upgrader     websocket.Upgrader
	writeTimeout time.Duration
}

// NewHandler creates a Handler backed by bc. writeTimeout <= 0 defaults to
// 10 seconds. checkOrigin, if non-nil, is used as the upgrader's
// CheckOrigin function; nil allows same-origin and no-Origin requests only
// (gorilla/websocket's conservative default).
func NewHandler(bc *Broadcaster, logger *slog.Logger, writeTimeout time.Duration, checkOrigin func(r *http.Request) bool) *Handler {
	if writeTimeout <= 0 {
		writeTimeout = 10 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		bc:     bc,
		logger: logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     checkOrigin,
		},
		writeTimeout: writeTimeout,
	}
}

// ServeHTTP handles the HTTP -> WebSocket upgrade and drives the
// connection lifecycle for /ws/events.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("ws handler: upgrade failed", slog.Any("error", err))
		return
	}
	defer conn.Close()

	conn.SetReadLimit(maxMessageSize)

	clientID := uuid.NewString()
	client := h.bc.Register(clientID)
	defer h.bc.Unregister(clientID)

	h.logger.Info("ws handler: client connected",
		slog.String("client_id", clientID),
		slog.String("remote_addr", conn.RemoteAddr().String()),
	)

	var closed atomic.Bool
	done := make(chan struct{})

	go func() {
		defer close(done)
		defer func() {
			if r := recover(); r != nil {
				h.logger.Error("ws handler: read loop panic recovered",
					slog.Any("recover", r), slog.String("client_id", clientID))
			}
		}()
		readLoop(conn, h.logger, clientID)
		if closed.CompareAndSwap(false, true) {
			_ = conn.Close()
		}
	}()

	for {
		select {
		case <-done:
			return
		case msg, ok := <-client.Send():
			if !ok {
				if closed.CompareAndSwap(false, true) {
					_ = conn.Close()
				}
				return
			}
			if err := conn.SetWriteDeadline(time.Now().Add(h.writeTimeout)); err != nil {
				h.logger.Warn("ws handler: set write deadline failed",
					slog.String("client_id", clientID), slog.Any("error", err))
				return
			}
			if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				h.logger.Warn("ws handler: write failed",
					slog.String("client_id", clientID), slog.Any("error", err))
				return
			}
		}
	}
}

// readLoop reads and discards incoming frames until the connection closes
// or a protocol error occurs, detecting client disconnection.
func readLoop(conn *websocket.Conn, logger *slog.Logger, clientID string) {
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			logger.Debug("ws handler: read loop exiting", slog.String("client_id", clientID), slog.Any("error", err))
			return
		}
	}
}
