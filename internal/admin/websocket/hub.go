// Package websocket broadcasts the Dispatcher's Outcome stream to browser
// clients: the Hub pattern of the teacher's internal/api/websocket,
// generalized from "broadcast Redis events to browser clients" to
// "broadcast dispatcher outcomes to browser clients", and implementing
// dispatch.Observer directly rather than subscribing to a Redis channel —
// a run with no registry configured still has a live dashboard.
package websocket

import (
	"encoding/json"
	"sync"

	"github.com/maumercado/accel-dispatch/internal/dispatch"
	"github.com/maumercado/accel-dispatch/internal/logger"
	"github.com/maumercado/accel-dispatch/internal/metrics"
	"github.com/maumercado/accel-dispatch/internal/outcome"
	"github.com/maumercado/accel-dispatch/internal/registry"
)

// workerStateEvent is the broadcast shape for a WorkerState transition; it
// has no counterpart on the wire protocol (worker states are local to the
// Dispatcher) so it is defined here rather than in internal/registry.
type workerStateEvent struct {
	Kind     string `json:"kind"`
	DeviceID int    `json:"device_id"`
	State    string `json:"state"`
}

// Hub fans out every Outcome and WorkerState transition to every currently
// registered Client. It implements dispatch.Observer.
type Hub struct {
	clients    map[*Client]bool
	broadcast  chan []byte
	register   chan *Client
	unregister chan *Client
	mu         sync.RWMutex
	stopCh     chan struct{}
	wg         sync.WaitGroup
}

// NewHub constructs a Hub. Call Run before attaching it as an Observer.
func NewHub() *Hub {
	return &Hub{
		clients:    make(map[*Client]bool),
		broadcast:  make(chan []byte, 256),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		stopCh:     make(chan struct{}),
	}
}

// Run starts the hub's dispatch loop. It returns immediately; call Stop to
// tear it down.
func (h *Hub) Run() {
	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		for {
			select {
			case <-h.stopCh:
				h.closeAllClients()
				return

			case client := <-h.register:
				h.mu.Lock()
				h.clients[client] = true
				h.mu.Unlock()
				metrics.SetWebSocketConnections(float64(h.ClientCount()))
				logger.Debug().Str("client_id", client.ID).Msg("admin: websocket client registered")

			case client := <-h.unregister:
				h.mu.Lock()
				if _, ok := h.clients[client]; ok {
					delete(h.clients, client)
					close(client.send)
				}
				h.mu.Unlock()
				metrics.SetWebSocketConnections(float64(h.ClientCount()))
				logger.Debug().Str("client_id", client.ID).Msg("admin: websocket client unregistered")

			case data := <-h.broadcast:
				h.broadcastBytes(data)
			}
		}
	}()
}

// Stop tears down the hub and closes every connected client.
func (h *Hub) Stop() {
	close(h.stopCh)
	h.wg.Wait()
}

// Register registers a client with the hub.
func (h *Hub) Register(client *Client) { h.register <- client }

// Unregister removes a client from the hub.
func (h *Hub) Unregister(client *Client) { h.unregister <- client }

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Outcome implements dispatch.Observer.
func (h *Hub) Outcome(msg outcome.Message) {
	ev := registry.NewOutcomeEvent(msg)
	data, err := ev.ToJSON()
	if err != nil {
		logger.Error().Err(err).Msg("admin: failed to encode outcome for broadcast")
		return
	}
	h.enqueue(data)
}

// WorkerState implements dispatch.Observer.
func (h *Hub) WorkerState(deviceID int, state dispatch.WorkerState) {
	data, err := json.Marshal(workerStateEvent{Kind: "worker_state", DeviceID: deviceID, State: state.String()})
	if err != nil {
		return
	}
	h.enqueue(data)
}

func (h *Hub) enqueue(data []byte) {
	select {
	case h.broadcast <- data:
	default:
		logger.Warn().Msg("admin: broadcast channel full, dropping event")
	}
}

func (h *Hub) broadcastBytes(data []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for client := range h.clients {
		select {
		case client.send <- data:
		default:
			go func(c *Client) { h.unregister <- c }(client)
		}
	}
}

func (h *Hub) closeAllClients() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for client := range h.clients {
		close(client.send)
		delete(h.clients, client)
	}
}
