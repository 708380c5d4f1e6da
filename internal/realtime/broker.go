package realtime

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/ticketdesk/reportd/internal/config"
	"github.com/ticketdesk/reportd/internal/executions"
	"github.com/ticketdesk/reportd/internal/metrics"
)

const defaultMaxClients = 1000

// Broker fans execution events out to connected clients.
type Broker struct {
	clients      map[string]*Client
	sendBuffer   int
	writeTimeout time.Duration
	maxClients   int

	mu      sync.RWMutex
	stopped bool
}

// NewBroker creates a broker from the realtime configuration.
func NewBroker(cfg config.RealtimeConfig) *Broker {
	b := &Broker{
		clients:      make(map[string]*Client),
		sendBuffer:   cfg.SendBuffer,
		writeTimeout: cfg.WriteTimeout,
		maxClients:   defaultMaxClients,
	}
	if b.sendBuffer < 1 {
		b.sendBuffer = 64
	}
	if b.writeTimeout <= 0 {
		b.writeTimeout = 10 * time.Second
	}
	return b
}

// Listener returns an execution listener that publishes every change.
func (b *Broker) Listener() executions.Listener {
	return b.Publish
}

// Publish sends exec to every client whose filter matches.
func (b *Broker) Publish(exec *executions.Execution) {
	event := EventExecutionFinished
	if exec.Status == executions.StatusRunning {
		event = EventExecutionStarted
	}

	payload, err := json.Marshal(&EventPayload{
		Event:     event,
		Execution: exec,
		Timestamp: time.Now().UTC(),
	})
	if err != nil {
		log.Error().Err(err).Str("execution_id", exec.ID).Msg("Failed to encode execution event")
		return
	}
	data, err := json.Marshal(&Message{Type: MessageTypeEvent, Payload: payload})
	if err != nil {
		return
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, client := range b.clients {
		if client.Filter().Matches(exec) {
			client.sendRaw(data)
		}
	}
}

// RegisterClient adds a new client to the broker.
func (b *Broker) RegisterClient(client *Client) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.stopped {
		return ErrBrokerStopped
	}
	if len(b.clients) >= b.maxClients {
		return ErrTooManyClients
	}

	b.clients[client.ID] = client
	metrics.UpdateRealtimeConnections(len(b.clients))
	log.Debug().Str("client_id", client.ID).Int("total_clients", len(b.clients)).Msg("Client connected")
	return nil
}

// UnregisterClient removes a client from the broker.
func (b *Broker) UnregisterClient(clientID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.clients[clientID]; !ok {
		return
	}
	delete(b.clients, clientID)
	metrics.UpdateRealtimeConnections(len(b.clients))
	log.Debug().Str("client_id", clientID).Int("total_clients", len(b.clients)).Msg("Client disconnected")
}

// ClientCount returns the number of connected clients.
func (b *Broker) ClientCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.clients)
}

// Stop disconnects every client and refuses new ones.
func (b *Broker) Stop() {
	b.mu.Lock()
	b.stopped = true
	clients := make([]*Client, 0, len(b.clients))
	for _, client := range b.clients {
		clients = append(clients, client)
	}
	b.clients = make(map[string]*Client)
	metrics.UpdateRealtimeConnections(0)
	b.mu.Unlock()

	for _, client := range clients {
		client.shutdown()
	}
}
