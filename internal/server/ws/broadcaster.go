// Package ws provides the WebSocket fan-out for live TimelineEvent and
// Alert streaming to dashboard clients (spec.md §6's /ws/events route,
// supplemented from the original's simple "broadcast to every connected
// websocket" loop in agent/api/routes.py).
//
// The Broadcaster's shape — a sync.Map of per-client buffered channels, a
// non-blocking send with a dropped-message counter, Register/Unregister
// lifecycle — is ported from the teacher's
// internal/server/websocket/broadcaster.go. The connection handling itself
// uses gorilla/websocket (github.com/gorilla/websocket, also present
// elsewhere in the retrieved example pack) instead of the teacher's
// hand-rolled RFC 6455 framer, since gorilla/websocket is a real dependency
// this module can exercise and the hand-rolled framer is exactly the kind
// of large, load-bearing, easily-miscopied code this exercise asks to be
// replaced rather than transplanted.
package ws

import (
	"encoding/json"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/abi50/pida/internal/model"
)

// EventMessage is the JSON envelope pushed to every connected client for a
// TimelineEvent.
type EventMessage struct {
	Type string              `json:"type"`
	Data model.TimelineEvent `json:"data"`
}

// AlertMessage is the JSON envelope pushed to every connected client for an
// Alert.
type AlertMessage struct {
	Type string      `json:"type"`
	Data model.Alert `json:"data"`
}

// Client represents a single connected WebSocket client, created by
// Broadcaster.Register and valid until Unregister.
type Client struct {
	id      string
	send    chan []byte
	Dropped atomic.Int64
}

// ID returns the client's unique identifier.
func (c *Client) ID() string { return c.id }

// Send returns the receive-only channel of JSON-encoded frames for this
// client. It is closed when the client is unregistered.
func (c *Client) Send() <-chan []byte { return c.send }

// Broadcaster fans TimelineEvents and Alerts out to every connected
// WebSocket client. It is safe for concurrent use.
type Broadcaster struct {
	clients   sync.Map // map[string]*Client
	clientCnt atomic.Int64

	bufSize int
	logger  *slog.Logger

	closed    atomic.Bool
	closeOnce sync.Once
}

// NewBroadcaster creates a Broadcaster. bufSize is the per-client channel
// depth; 0 uses a default of 64.
func NewBroadcaster(logger *slog.Logger, bufSize int) *Broadcaster {
	if bufSize <= 0 {
		bufSize = 64
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Broadcaster{bufSize: bufSize, logger: logger}
}

// Register creates and stores a new Client under id.
func (b *Broadcaster) Register(id string) *Client {
	c := &Client{id: id, send: make(chan []byte, b.bufSize)}
	if b.closed.Load() {
		close(c.send)
		return c
	}
	b.clients.Store(id, c)
	b.clientCnt.Add(1)
	return c
}

// Unregister removes the client with id and closes its Send channel.
// Unregistering an unknown id is a no-op.
func (b *Broadcaster) Unregister(id string) {
	if v, loaded := b.clients.LoadAndDelete(id); loaded {
		close(v.(*Client).send)
		b.clientCnt.Add(-1)
	}
}

// ClientCount returns the number of currently registered clients.
func (b *Broadcaster) ClientCount() int {
	return int(b.clientCnt.Load())
}

// BroadcastEvent fans event out to every connected client as an
// EventMessage.
func (b *Broadcaster) BroadcastEvent(event model.TimelineEvent) {
	b.broadcastRaw(EventMessage{Type: "event", Data: event}, event.ID)
}

// BroadcastAlert fans alert out to every connected client as an
// AlertMessage.
func (b *Broadcaster) BroadcastAlert(alert model.Alert) {
	b.broadcastRaw(AlertMessage{Type: "alert", Data: alert}, alert.ID)
}

func (b *Broadcaster) broadcastRaw(msg any, id string) {
	if b.closed.Load() {
		return
	}
	raw, err := json.Marshal(msg)
	if err != nil {
		b.logger.Error("ws broadcaster: marshal failed", slog.Any("error", err))
		return
	}
	b.clients.Range(func(_, v any) bool {
		c := v.(*Client)
		select {
		case c.send <- raw:
		default:
			c.Dropped.Add(1)
			b.logger.Warn("ws broadcaster: client buffer full, dropping message",
				slog.String("client_id", c.id), slog.String("message_id", id))
		}
		return true
	})
}

// Close unregisters every client, closing all Send channels.
func (b *Broadcaster) Close() {
	b.closeOnce.Do(func() {
		b.closed.Store(true)
		b.clients.Range(func(key, value any) bool {
			b.clients.Delete(key)
			close(value.(*Client).send)
			b.clientCnt.Add(-1)
			return true
		})
	})
}
