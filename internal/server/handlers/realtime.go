package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/coder/websocket"
	"github.com/rs/zerolog/log"

	"github.com/ticketdesk/reportd/internal/realtime"
)

// RealtimeHandler streams execution events over WebSocket.
type RealtimeHandler struct {
	broker         *realtime.Broker
	originPatterns []string
}

// NewRealtimeHandler creates a new realtime handler. originPatterns are
// passed to the WebSocket origin check.
func NewRealtimeHandler(broker *realtime.Broker, originPatterns []string) *RealtimeHandler {
	return &RealtimeHandler{broker: broker, originPatterns: originPatterns}
}

// HandleWebSocket handles GET /scheduled-reports/executions/stream. The
// company_id and schedule_id query parameters set the initial filter.
func (h *RealtimeHandler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	var filter realtime.Filter
	if raw := r.URL.Query().Get("company_id"); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || id <= 0 {
			BadRequest(w, "company_id must be a positive integer")
			return
		}
		filter.CompanyID = id
	}
	filter.ScheduleID = r.URL.Query().Get("schedule_id")

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: h.originPatterns,
	})
	if err != nil {
		log.Error().Err(err).Msg("Failed to accept WebSocket connection")
		return
	}

	client := realtime.NewClient(conn, h.broker, filter)
	if err := h.broker.RegisterClient(client); err != nil {
		status := websocket.StatusInternalError
		if errors.Is(err, realtime.ErrTooManyClients) || errors.Is(err, realtime.ErrBrokerStopped) {
			status = websocket.StatusTryAgainLater
		}
		conn.Close(status, err.Error())
		return
	}
	defer h.broker.UnregisterClient(client.ID)

	connectedPayload, _ := json.Marshal(&realtime.ConnectedPayload{
		ClientID: client.ID,
	})

	_ = client.Send(&realtime.Message{
		Type:    realtime.MessageTypeConnected,
		Payload: connectedPayload,
	})

	client.Run()
}
