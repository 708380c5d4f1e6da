package realtime

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

const (
	pingInterval   = 30 * time.Second
	pongTimeout    = 60 * time.Second
	maxMessageSize = 16 * 1024
)

// Client is one connected feed consumer.
type Client struct {
	ID           string
	conn         *websocket.Conn
	writeTimeout time.Duration

	mu     sync.RWMutex
	filter Filter

	sendCh    chan []byte
	done      chan struct{}
	closeOnce sync.Once
	ctx       context.Context
	cancel    context.CancelFunc
}

// NewClient wraps an accepted connection. filter is the initial filter,
// usually taken from the query string.
func NewClient(conn *websocket.Conn, broker *Broker, filter Filter) *Client {
	ctx, cancel := context.WithCancel(context.Background())
	return &Client{
		ID:           uuid.New().String(),
		conn:         conn,
		writeTimeout: broker.writeTimeout,
		filter:       filter,
		sendCh:       make(chan []byte, broker.sendBuffer),
		done:         make(chan struct{}),
		ctx:          ctx,
		cancel:       cancel,
	}
}

// Filter returns the client's current filter.
func (c *Client) Filter() Filter {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.filter
}

// Run starts the write and ping loops and reads until the connection ends.
func (c *Client) Run() {
	go c.writePump()
	go c.pingPump()
	c.readPump()
}

// Close terminates the connection normally.
func (c *Client) Close() {
	c.closeWith(websocket.StatusNormalClosure, "closing")
}

func (c *Client) shutdown() {
	c.closeWith(websocket.StatusGoingAway, "server shutting down")
}

func (c *Client) closeWith(status websocket.StatusCode, reason string) {
	c.closeOnce.Do(func() {
		close(c.done)
		c.cancel()
		c.conn.Close(status, reason)
	})
}

// Send queues a message to be sent to the client.
func (c *Client) Send(msg *Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	c.sendRaw(data)
	return nil
}

func (c *Client) sendRaw(data []byte) {
	select {
	case c.sendCh <- data:
	case <-c.done:
	default:
		log.Warn().Str("client_id", c.ID).Msg("Client send buffer full, dropping message")
	}
}

func (c *Client) sendError(msgID string, code ErrorCode, message string) {
	payload, _ := json.Marshal(&ErrorPayload{Code: string(code), Message: message})
	_ = c.Send(&Message{ID: msgID, Type: MessageTypeError, Payload: payload})
}

func (c *Client) readPump() {
	defer c.Close()

	c.conn.SetReadLimit(maxMessageSize)

	for {
		_, data, err := c.conn.Read(c.ctx)
		if err != nil {
			if websocket.CloseStatus(err) != websocket.StatusNormalClosure {
				log.Debug().Err(err).Str("client_id", c.ID).Msg("WebSocket read error")
			}
			return
		}

		var msg Message
		if err := json.Unmarshal(data, &msg); err != nil {
			c.sendError("", ErrorCodeInvalidMessage, "Invalid JSON message")
			continue
		}

		c.handleMessage(&msg)
	}
}

func (c *Client) writePump() {
	for {
		select {
		case data := <-c.sendCh:
			ctx, cancel := context.WithTimeout(c.ctx, c.writeTimeout)
			err := c.conn.Write(ctx, websocket.MessageText, data)
			cancel()
			if err != nil {
				log.Debug().Err(err).Str("client_id", c.ID).Msg("WebSocket write error")
				c.Close()
				return
			}
		case <-c.done:
			return
		}
	}
}

func (c *Client) pingPump() {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(c.ctx, pongTimeout)
			err := c.conn.Ping(ctx)
			cancel()
			if err != nil {
				log.Debug().Err(err).Str("client_id", c.ID).Msg("Ping failed")
				c.Close()
				return
			}
		case <-c.done:
			return
		}
	}
}

func (c *Client) handleMessage(msg *Message) {
	switch msg.Type {
	case MessageTypeSubscribe:
		var filter Filter
		if len(msg.Payload) > 0 {
			if err := json.Unmarshal(msg.Payload, &filter); err != nil {
				c.sendError(msg.ID, ErrorCodeInvalidPayload, "Invalid subscribe payload")
				return
			}
		}
		c.mu.Lock()
		c.filter = filter
		c.mu.Unlock()

		payload, _ := json.Marshal(filter)
		_ = c.Send(&Message{ID: msg.ID, Type: MessageTypeSubscribed, Payload: payload})
	case MessageTypePing:
		_ = c.Send(&Message{ID: msg.ID, Type: MessageTypePong})
	default:
		c.sendError(msg.ID, ErrorCodeInvalidMessage, "Unknown message type")
	}
}
