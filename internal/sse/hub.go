package sse

import (
	"context"
	"encoding/json"
	"sync"
)

type Event struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

type Client struct {
	ID   string
	Send chan []byte
}

// Hub fans events out to every connected client. New clients first receive
// the most recent event so they never start from an empty state.
type Hub struct {
	clients    map[string]*Client
	register   chan *Client
	unregister chan *Client
	broadcast  chan []byte
	done       chan struct{}
	last       []byte
	mu         sync.RWMutex

	// OnClientsChanged is called with +1/-1 as clients come and go.
	OnClientsChanged func(delta int)
}

func NewHub() *Hub {
	return &Hub{
		clients:    make(map[string]*Client),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan []byte, 256),
		done:       make(chan struct{}),
	}
}

// Run serves registrations and broadcasts until ctx ends, then closes every
// client's Send channel.
func (h *Hub) Run(ctx context.Context) {
	defer func() {
		h.mu.Lock()
		for id, client := range h.clients {
			close(client.Send)
			delete(h.clients, id)
		}
		h.mu.Unlock()
		close(h.done)
	}()

	for {
		select {
		case <-ctx.Done():
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client.ID] = client
			if h.last != nil {
				deliver(client, h.last)
			}
			h.mu.Unlock()
			h.clientsChanged(1)

		case client := <-h.unregister:
			h.mu.Lock()
			_, ok := h.clients[client.ID]
			if ok {
				delete(h.clients, client.ID)
				close(client.Send)
			}
			h.mu.Unlock()
			if ok {
				h.clientsChanged(-1)
			}

		case data := <-h.broadcast:
			h.mu.Lock()
			h.last = data
			for _, client := range h.clients {
				deliver(client, data)
			}
			h.mu.Unlock()
		}
	}
}

// deliver never blocks: a full buffer loses its oldest message.
func deliver(client *Client, data []byte) {
	select {
	case client.Send <- data:
		return
	default:
	}
	select {
	case <-client.Send:
	default:
	}
	select {
	case client.Send <- data:
	default:
	}
}

func (h *Hub) clientsChanged(delta int) {
	if h.OnClientsChanged != nil {
		h.OnClientsChanged(delta)
	}
}

func (h *Hub) Register(client *Client) bool {
	select {
	case h.register <- client:
		return true
	case <-h.done:
		return false
	}
}

func (h *Hub) Unregister(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.done:
	}
}

func (h *Hub) Publish(eventType string, data interface{}) error {
	payload, err := json.Marshal(Event{Type: eventType, Data: data})
	if err != nil {
		return err
	}
	select {
	case h.broadcast <- payload:
	case <-h.done:
	}
	return nil
}

func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Forward publishes every value received on ch as eventType until ch is
// closed or ctx ends.
func Forward[T any](ctx context.Context, h *Hub, eventType string, ch <-chan T) {
	for {
		select {
		case <-ctx.Done():
			return
		case v, ok := <-ch:
			if !ok {
				return
			}
			_ = h.Publish(eventType, v)
		}
	}
}
