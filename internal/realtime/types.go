// Package realtime pushes execution lifecycle events to WebSocket clients.
package realtime

import (
	"encoding/json"
	"time"

	"github.com/ticketdesk/reportd/internal/executions"
)

// MessageType represents the type of WebSocket message.
type MessageType string

const (
	MessageTypeSubscribe MessageType = "subscribe"
	MessageTypePing      MessageType = "ping"

	MessageTypeConnected  MessageType = "connected"
	MessageTypeSubscribed MessageType = "subscribed"
	MessageTypeEvent      MessageType = "event"
	MessageTypeError      MessageType = "error"
	MessageTypePong       MessageType = "pong"
)

// EventType names an execution lifecycle change.
type EventType string

const (
	EventExecutionStarted  EventType = "execution.started"
	EventExecutionFinished EventType = "execution.finished"
)

// Message is the base WebSocket message structure.
type Message struct {
	ID      string          `json:"id,omitempty"`
	Type    MessageType     `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Filter narrows the events a client receives. Zero values match everything.
type Filter struct {
	CompanyID  int64  `json:"company_id,omitempty"`
	ScheduleID string `json:"schedule_id,omitempty"`
}

// Matches reports whether exec passes the filter.
func (f Filter) Matches(exec *executions.Execution) bool {
	if f.CompanyID > 0 && exec.CompanyID != f.CompanyID {
		return false
	}
	if f.ScheduleID != "" && exec.ScheduleID != f.ScheduleID {
		return false
	}
	return true
}

// ConnectedPayload is the payload for connected messages.
type ConnectedPayload struct {
	ClientID string `json:"client_id"`
}

// EventPayload is the payload for event messages.
type EventPayload struct {
	Event     EventType             `json:"event"`
	Execution *executions.Execution `json:"execution"`
	Timestamp time.Time             `json:"timestamp"`
}

// ErrorCode identifies a protocol error.
type ErrorCode string

const (
	ErrorCodeInvalidMessage ErrorCode = "INVALID_MESSAGE"
	ErrorCodeInvalidPayload ErrorCode = "INVALID_PAYLOAD"
)

// ErrorPayload is the payload for error messages.
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
