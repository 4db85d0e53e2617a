// Package stream pushes notification log changes to websocket clients.
package stream

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/gorilla/websocket"

	"sensorwatch/internal/alerts"
	"sensorwatch/internal/logger"
	"sensorwatch/internal/metrics"
)

// Message types sent to clients.
const (
	TypeAlerts = "alerts"
	TypeCount  = "count"
)

// Message is the envelope of every frame sent to a client.
type Message struct {
	Type    string `json:"type"`
	Payload any    `json:"payload"`
}

// CountPayload carries the notification badge count.
type CountPayload struct {
	Count int `json:"count"`
}

// Hub maintains the set of active clients and broadcasts messages.
type Hub struct {
	clients    map[*Client]bool
	broadcast  chan []byte
	register   chan *Client
	unregister chan *Client
	done       chan struct{}

	// count reports the current log size for newly connected clients.
	count func() int

	upgrader websocket.Upgrader
}

// NewHub creates a hub; count is called when a client connects.
func NewHub(count func() int) *Hub {
	return &Hub{
		clients:    make(map[*Client]bool),
		broadcast:  make(chan []byte, 256),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
		count:      count,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

// Run serves register, unregister and broadcast requests until ctx is done.
func (h *Hub) Run(ctx context.Context) error {
	log := logger.WithComponent("stream")
	defer close(h.done)

	for {
		select {
		case <-ctx.Done():
			for client := range h.clients {
				h.remove(client)
			}
			log.Info().Msg("stream hub stopped")
			return nil

		case client := <-h.register:
			h.clients[client] = true
			metrics.StreamClients.Set(float64(len(h.clients)))
			log.Debug().Str("remote_addr", client.remoteAddr()).Msg("websocket client registered")
			if msg, err := encode(TypeCount, CountPayload{Count: h.count()}); err == nil {
				client.send <- msg
			}

		case client := <-h.unregister:
			if h.clients[client] {
				h.remove(client)
				log.Debug().Str("remote_addr", client.remoteAddr()).Msg("websocket client unregistered")
			}

		case message := <-h.broadcast:
			for client := range h.clients {
				select {
				case client.send <- message:
				default:
					log.Warn().Str("remote_addr", client.remoteAddr()).Msg("websocket client send buffer full, removing")
					h.remove(client)
				}
			}
		}
	}
}

func (h *Hub) remove(client *Client) {
	delete(h.clients, client)
	close(client.send)
	metrics.StreamClients.Set(float64(len(h.clients)))
}

// Subscriber returns a notification log subscriber that broadcasts every
// appended batch followed by the new count, and count 0 on clear.
func (h *Hub) Subscriber() alerts.Subscriber {
	return func(c alerts.Change) {
		switch c.Kind {
		case alerts.ChangeAppended:
			h.Broadcast(TypeAlerts, c.Events)
			h.Broadcast(TypeCount, CountPayload{Count: c.Count})
		case alerts.ChangeCleared:
			h.Broadcast(TypeCount, CountPayload{Count: 0})
		}
	}
}

// Broadcast queues a message for every connected client without blocking.
func (h *Hub) Broadcast(kind string, payload any) {
	log := logger.WithComponent("stream")
	msg, err := encode(kind, payload)
	if err != nil {
		log.Error().Err(err).Str("type", kind).Msg("failed to encode broadcast")
		return
	}
	select {
	case h.broadcast <- msg:
	default:
		log.Warn().Str("type", kind).Msg("broadcast queue full, dropping message")
	}
}

// ServeHTTP upgrades the request to a websocket and attaches the client.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log := logger.WithComponent("stream")
		log.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	client := &Client{hub: h, conn: conn, send: make(chan []byte, 64)}
	select {
	case h.register <- client:
	case <-h.done:
		conn.Close()
		return
	}

	go client.writePump()
	go client.readPump()
}

func encode(kind string, payload any) ([]byte, error) {
	return json.Marshal(Message{Type: kind, Payload: payload})
}
