// Package ws fans deploy events out to websocket subscribers per app.
package ws

import (
	"encoding/json"
	"fmt"
)

// Subscriber abstracts a streaming client.
type Subscriber interface {
	Send([]byte) error
	Close()
}

// DefaultHistory is the number of recent events replayed to new subscribers.
const DefaultHistory = 64

// Hub manages stream subscriptions by app name. Recent events are replayed
// to subscribers that join mid-deploy.
type Hub struct {
	clients   map[string]map[Subscriber]struct{}
	history   map[string][][]byte
	keep      int
	register  chan subscription
	unreg     chan subscription
	broadcast chan message
	done      chan struct{}
}

// message couples payload with app name.
type message struct {
	app     string
	payload []byte
}

// subscription defines register/unregister requests.
type subscription struct {
	app    string
	client Subscriber
}

// NewHub creates a Hub keeping keep events of history per app.
func NewHub(keep int) *Hub {
	if keep < 0 {
		keep = 0
	}
	h := &Hub{
		clients:   make(map[string]map[Subscriber]struct{}),
		history:   make(map[string][][]byte),
		keep:      keep,
		register:  make(chan subscription),
		unreg:     make(chan subscription),
		broadcast: make(chan message),
		done:      make(chan struct{}),
	}
	go h.run()
	return h
}

func (h *Hub) run() {
	for {
		select {
		case <-h.done:
			for _, clients := range h.clients {
				for c := range clients {
					c.Close()
				}
			}
			return
		case sub := <-h.register:
			for _, payload := range h.history[sub.app] {
				if err := sub.client.Send(payload); err != nil {
					sub.client.Close()
					break
				}
			}
			if _, ok := h.clients[sub.app]; !ok {
				h.clients[sub.app] = make(map[Subscriber]struct{})
			}
			h.clients[sub.app][sub.client] = struct{}{}
		case sub := <-h.unreg:
			if clients, ok := h.clients[sub.app]; ok {
				delete(clients, sub.client)
				if len(clients) == 0 {
					delete(h.clients, sub.app)
				}
			}
		case msg := <-h.broadcast:
			h.remember(msg)
			if clients, ok := h.clients[msg.app]; ok {
				for c := range clients {
					if err := c.Send(msg.payload); err != nil {
						c.Close()
						delete(clients, c)
					}
				}
				if len(clients) == 0 {
					delete(h.clients, msg.app)
				}
			}
		}
	}
}

func (h *Hub) remember(msg message) {
	if h.keep == 0 {
		return
	}
	events := append(h.history[msg.app], msg.payload)
	if len(events) > h.keep {
		events = events[len(events)-h.keep:]
	}
	h.history[msg.app] = events
}

// Register adds a client to an app stream.
func (h *Hub) Register(app string, client Subscriber) {
	select {
	case h.register <- subscription{app: app, client: client}:
	case <-h.done:
		client.Close()
	}
}

// Unregister removes a client.
func (h *Hub) Unregister(app string, client Subscriber) {
	select {
	case h.unreg <- subscription{app: app, client: client}:
	case <-h.done:
	}
}

// Broadcast sends payload to all app clients.
func (h *Hub) Broadcast(app string, payload []byte) {
	select {
	case h.broadcast <- message{app: app, payload: payload}:
	case <-h.done:
	}
}

// BroadcastJSON encodes v and broadcasts it.
func (h *Hub) BroadcastJSON(app string, v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	h.Broadcast(app, payload)
	return nil
}

// Close stops the hub and closes every subscriber.
func (h *Hub) Close() {
	select {
	case <-h.done:
	default:
		close(h.done)
	}
}
