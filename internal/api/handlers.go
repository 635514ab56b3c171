package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/websocket"

	"amen-agent/internal/agent"
	"amen-agent/pkg/types"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// Allow all origins for local development
		// TODO: restrict in production
		return true
	},
}

// StatusSource reports the agent loop's live state.
type StatusSource interface {
	Status() agent.Status
}

// EventSource exposes the recent security event window.
type EventSource interface {
	RecentEvents(count int) []types.SecurityEvent
}

const defaultEventLimit = 50

// Handlers holds all HTTP handler dependencies
type Handlers struct {
	status StatusSource
	events EventSource
	hub    *Hub
	logger *slog.Logger
}

// NewHandlers creates a new handlers instance
func NewHandlers(status StatusSource, events EventSource, hub *Hub, logger *slog.Logger) *Handlers {
	return &Handlers{
		status: status,
		events: events,
		hub:    hub,
		logger: logger.With("component", "api-handlers"),
	}
}

// HandleRoot answers the bare liveness probe.
func (h *Handlers) HandleRoot(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}

	h.writeJSON(w, map[string]string{"status": "healthy", "service": "amen-agent"})
}

// HandleHealth reports process health along with the full loop status. The
// top-level status string tracks the loop's lifecycle so probes can tell a
// starting agent from a wedged one.
func (h *Handlers) HandleHealth(w http.ResponseWriter, r *http.Request) {
	status := h.status.Status()

	var resp map[string]any
	switch {
	case status.State == agent.StateStarting:
		resp = map[string]any{"status": "starting"}
	case status.State == agent.StateShuttingDown:
		resp = map[string]any{"status": "shutting_down", "agent": status}
	case status.LastError != nil:
		resp = map[string]any{"status": "error", "error": *status.LastError, "agent": status}
	default:
		resp = map[string]any{"status": "healthy", "agent": status}
	}

	h.writeJSON(w, resp)
}

// HandleStatus returns the agent loop's counters and last observations
func (h *Handlers) HandleStatus(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, h.status.Status())
}

// HandleEvents returns recent security events, oldest first
func (h *Handlers) HandleEvents(w http.ResponseWriter, r *http.Request) {
	limit := defaultEventLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			http.Error(w, "invalid limit", http.StatusBadRequest)
			return
		}
		limit = n
	}

	events := h.events.RecentEvents(limit)
	if events == nil {
		events = []types.SecurityEvent{}
	}

	h.writeJSON(w, map[string]any{
		"events": events,
		"count":  len(events),
	})
}

// HandleWebSocket upgrades the connection and creates a new WebSocket client
func (h *Handlers) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("websocket upgrade failed", "error", err)
		return
	}

	client := NewClient(h.hub, conn)

	// First frame tells the dashboard where the loop stands before any
	// live events arrive.
	data, err := json.Marshal(Frame{
		Type:      frameStatus,
		Timestamp: time.Now(),
		Data:      h.status.Status(),
	})
	if err != nil {
		h.logger.Error("failed to marshal initial status", "error", err)
		return
	}

	select {
	case client.send <- data:
	default:
		h.logger.Warn("failed to send initial status to client")
	}
}

func (h *Handlers) writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Error("failed to encode response", "error", err)
	}
}
