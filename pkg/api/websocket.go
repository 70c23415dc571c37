package api

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // CORS is handled by the main server, not here
	},
}

// Hub fans trade-update broadcasts out to every WebSocket subscriber,
// filtered by which "trade:<trade_id>" channels each subscriber opted
// into over WSSubscribeRequest.
type Hub struct {
	subscribers map[*subscriber]bool
	broadcast   chan []byte
	register    chan *subscriber
	unregister  chan *subscriber
	mu          sync.RWMutex
	log         *zap.SugaredLogger
}

// NewHub creates a trade-update broadcast hub. log may be nil.
func NewHub(log *zap.SugaredLogger) *Hub {
	return &Hub{
		subscribers: make(map[*subscriber]bool),
		broadcast:   make(chan []byte, 256),
		register:    make(chan *subscriber),
		unregister:  make(chan *subscriber),
		log:         log,
	}
}

// Run is the hub's single goroutine owning the subscriber set.
func (h *Hub) Run() {
	for {
		select {
		case sub := <-h.register:
			h.mu.Lock()
			h.subscribers[sub] = true
			h.mu.Unlock()
			if h.log != nil {
				h.log.Infow("ws_subscriber_connected", "id", sub.id, "total", len(h.subscribers))
			}

		case sub := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.subscribers[sub]; ok {
				delete(h.subscribers, sub)
				close(sub.send)
				if h.log != nil {
					h.log.Infow("ws_subscriber_disconnected", "id", sub.id, "total", len(h.subscribers))
				}
			}
			h.mu.Unlock()

		case message := <-h.broadcast:
			h.mu.RLock()
			for sub := range h.subscribers {
				select {
				case sub.send <- message:
				default:
					// Subscriber can't keep up; drop it rather than block the hub.
					close(sub.send)
					delete(h.subscribers, sub)
				}
			}
			h.mu.RUnlock()
		}
	}
}

// BroadcastToChannel sends a trade update to every subscriber that has
// opted into channel (typically "trade:<trade_id>").
func (h *Hub) BroadcastToChannel(channel string, data interface{}) {
	message, err := json.Marshal(data)
	if err != nil {
		if h.log != nil {
			h.log.Warnw("ws_broadcast_marshal_failed", "channel", channel, "err", err)
		}
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for sub := range h.subscribers {
		if sub.IsSubscribed(channel) {
			select {
			case sub.send <- message:
			default:
				// Buffer full, skip this subscriber for this message.
			}
		}
	}
}

// subscriber is one WebSocket client's view of the hub: a connection plus
// the set of trade channels it has asked to watch.
type subscriber struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte
	id   string

	subscriptions map[string]bool
	subsMu        sync.RWMutex
}

// IsSubscribed reports whether sub is watching channel.
func (sub *subscriber) IsSubscribed(channel string) bool {
	sub.subsMu.RLock()
	defer sub.subsMu.RUnlock()
	return sub.subscriptions[channel]
}

func (sub *subscriber) Subscribe(channel string) {
	sub.subsMu.Lock()
	sub.subscriptions[channel] = true
	sub.subsMu.Unlock()
	if sub.hub.log != nil {
		sub.hub.log.Infow("ws_subscribed", "id", sub.id, "channel", channel)
	}
}

func (sub *subscriber) Unsubscribe(channel string) {
	sub.subsMu.Lock()
	delete(sub.subscriptions, channel)
	sub.subsMu.Unlock()
	if sub.hub.log != nil {
		sub.hub.log.Infow("ws_unsubscribed", "id", sub.id, "channel", channel)
	}
}

// readPump pumps subscribe/unsubscribe requests off the connection until
// it errors or closes, then unregisters from the hub.
func (sub *subscriber) readPump() {
	defer func() {
		sub.hub.unregister <- sub
		sub.conn.Close()
	}()

	sub.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	sub.conn.SetPongHandler(func(string) error {
		sub.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	for {
		_, message, err := sub.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) && sub.hub.log != nil {
				sub.hub.log.Warnw("ws_read_error", "id", sub.id, "err", err)
			}
			break
		}

		var req WSSubscribeRequest
		if err := json.Unmarshal(message, &req); err != nil {
			if sub.hub.log != nil {
				sub.hub.log.Warnw("ws_invalid_message", "id", sub.id, "err", err)
			}
			continue
		}

		switch req.Op {
		case "subscribe":
			for _, channel := range req.Channels {
				sub.Subscribe(channel)
			}
		case "unsubscribe":
			for _, channel := range req.Channels {
				sub.Unsubscribe(channel)
			}
		default:
			if sub.hub.log != nil {
				sub.hub.log.Warnw("ws_unknown_op", "id", sub.id, "op", req.Op)
			}
		}
	}
}

// writePump drains queued trade-update messages to the connection and
// keeps it alive with periodic pings.
func (sub *subscriber) writePump() {
	ticker := time.NewTicker(54 * time.Second)
	defer func() {
		ticker.Stop()
		sub.conn.Close()
	}()

	for {
		select {
		case message, ok := <-sub.send:
			sub.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if !ok {
				sub.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			w, err := sub.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			w.Write(message)

			// Coalesce anything else already queued into this same frame.
			n := len(sub.send)
			for i := 0; i < n; i++ {
				w.Write([]byte{'\n'})
				w.Write(<-sub.send)
			}

			if err := w.Close(); err != nil {
				return
			}

		case <-ticker.C:
			sub.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := sub.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// handleWebSocket upgrades the connection and registers a new subscriber
// on s.hub, so it starts receiving trade updates for whatever channels it
// subscribes to.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		if s.log != nil {
			s.log.Warnw("ws_upgrade_failed", "err", err)
		}
		return
	}

	sub := &subscriber{
		hub:           s.hub,
		conn:          conn,
		send:          make(chan []byte, 256),
		id:            conn.RemoteAddr().String(),
		subscriptions: make(map[string]bool),
	}

	sub.hub.register <- sub

	go sub.writePump()
	go sub.readPump()
}
