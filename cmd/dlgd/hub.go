package main

import (
	"encoding/json"
	"sync"

	"github.com/rexliu/delegate/pkg/ipc"
	"github.com/rexliu/delegate/pkg/rpc"
)

// Event kinds pushed to the remote context.
const (
	eventRequest = "request"
	eventLogin   = "trigger_login"
	eventOpen    = "open"
	eventClose   = "close"
)

// remoteEvent is one instruction for the remote context, delivered through
// the bridge.
type remoteEvent struct {
	Kind      string       `json:"kind"`
	Request   *rpc.Request `json:"request,omitempty"`
	LoginType string       `json:"loginType,omitempty"`
	WindowID  string       `json:"windowId,omitempty"`
	URL       string       `json:"url,omitempty"`
	Features  string       `json:"features,omitempty"`
}

// eventHub broadcasts remote events to attached bridges.
type eventHub struct {
	logger  ipc.Logger
	mu      sync.Mutex
	clients map[*eventClient]struct{}
}

type eventClient struct {
	send chan []byte
}

func newEventHub(logger ipc.Logger) *eventHub {
	return &eventHub{
		logger:  logger,
		clients: make(map[*eventClient]struct{}),
	}
}

func (h *eventHub) register() *eventClient {
	h.mu.Lock()
	defer h.mu.Unlock()
	client := &eventClient{send: make(chan []byte, 64)}
	h.clients[client] = struct{}{}
	return client
}

func (h *eventHub) unregister(client *eventClient) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[client]; ok {
		delete(h.clients, client)
		close(client.send)
	}
}

// attached reports how many bridges are listening.
func (h *eventHub) attached() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// broadcast queues event for every client and returns how many accepted it.
func (h *eventHub) broadcast(event remoteEvent) int {
	payload, err := json.Marshal(event)
	if err != nil {
		if h.logger != nil {
			h.logger.Printf("event marshal error: %v", err)
		}
		return 0
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	delivered := 0
	for client := range h.clients {
		select {
		case client.send <- payload:
			delivered++
		default:
			if h.logger != nil {
				h.logger.Printf("dropping %s event for slow bridge", event.Kind)
			}
		}
	}
	return delivered
}
