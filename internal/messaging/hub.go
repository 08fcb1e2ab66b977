// internal/messaging/hub.go

package messaging

import (
	"context"
	"log"
	"sync"
)

// Hub maintains active websocket connections and their sessions. It is
// also the presence source for offline-notification decisions.
type Hub struct {
	clients    map[string]*Client
	clientsMux sync.RWMutex

	register   chan *Client
	unregister chan *Client

	service Service
	rt      Realtime

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewHub(service Service, rt Realtime) *Hub {
	ctx, cancel := context.WithCancel(context.Background())

	return &Hub{
		clients:    make(map[string]*Client),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		service:    service,
		rt:         rt,
		ctx:        ctx,
		cancel:     cancel,
	}
}

func (h *Hub) Run() {
	defer h.cleanup()

	for {
		select {
		case client := <-h.register:
			h.registerClient(client)

		case client := <-h.unregister:
			h.unregisterClient(client)

		case <-h.ctx.Done():
			return
		}
	}
}

func (h *Hub) registerClient(client *Client) {
	h.clientsMux.Lock()
	// A reconnect replaces the previous connection for the same user.
	if old, exists := h.clients[client.session.UserID()]; exists {
		old.Close()
	}
	h.clients[client.session.UserID()] = client
	total := len(h.clients)
	h.clientsMux.Unlock()

	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		client.session.Start(h.ctx)
	}()

	log.Printf("messaging: user %s connected, %d clients total", client.session.UserID(), total)
}

func (h *Hub) unregisterClient(client *Client) {
	h.clientsMux.Lock()
	current, exists := h.clients[client.session.UserID()]
	if exists && current == client {
		delete(h.clients, client.session.UserID())
	}
	total := len(h.clients)
	h.clientsMux.Unlock()

	client.Close()
	log.Printf("messaging: user %s disconnected, %d clients total", client.session.UserID(), total)
}

// IsUserOnline implements Presence for the service's fan-out path.
func (h *Hub) IsUserOnline(userID string) bool {
	h.clientsMux.RLock()
	defer h.clientsMux.RUnlock()

	_, exists := h.clients[userID]
	return exists
}

func (h *Hub) ActiveConnections() int {
	h.clientsMux.RLock()
	defer h.clientsMux.RUnlock()
	return len(h.clients)
}

func (h *Hub) Shutdown() {
	h.cancel()
	h.wg.Wait()
}

func (h *Hub) cleanup() {
	h.clientsMux.Lock()
	for _, client := range h.clients {
		client.Close()
	}
	h.clients = make(map[string]*Client)
	h.clientsMux.Unlock()

	h.wg.Wait()
}
