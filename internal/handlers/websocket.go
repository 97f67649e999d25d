package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/ternarybob/arbor"
	"golang.org/x/time/rate"

	"github.com/erdilatifi/chunkd/internal/common"
	"github.com/erdilatifi/chunkd/internal/interfaces"
	"github.com/erdilatifi/chunkd/internal/metrics"
	"github.com/erdilatifi/chunkd/internal/models"
)

// WSMessage is the envelope for every websocket frame.
type WSMessage struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload"`
}

// clientState tracks one connection's subscriptions. writeMu serializes
// writes; gorilla/websocket does not allow concurrent writers on one conn.
type clientState struct {
	id      string
	writeMu sync.Mutex
	jobs    map[string]bool
	all     bool
}

// subscribeRequest is what clients send to manage their subscriptions.
type subscribeRequest struct {
	Type  string `json:"type"` // "subscribe" or "unsubscribe"
	JobID string `json:"job_id"`
}

// WebSocketHandler pushes job status updates to subscribed clients. Clients
// subscribe to individual job IDs (or everything) and receive an update on
// every observable state change of those jobs.
type WebSocketHandler struct {
	logger           arbor.ILogger
	metrics          *metrics.Metrics
	upgrader         websocket.Upgrader
	mu               sync.RWMutex
	clients          map[*websocket.Conn]*clientState
	throttleInterval time.Duration
	throttlers       map[string]*rate.Limiter // per-job broadcast throttle
	lastSent         map[string]int           // per-job high-water completed count
	throttleMu       sync.Mutex
	serverInstanceID string
}

// NewWebSocketHandler creates the push publisher and subscribes it to job
// status events.
func NewWebSocketHandler(eventService interfaces.EventService, logger arbor.ILogger, m *metrics.Metrics, config *common.WebSocketConfig) *WebSocketHandler {
	h := &WebSocketHandler{
		logger:  logger,
		metrics: m,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true // Allow all origins for local development
			},
		},
		clients:          make(map[*websocket.Conn]*clientState),
		throttlers:       make(map[string]*rate.Limiter),
		lastSent:         make(map[string]int),
		serverInstanceID: uuid.New().String(),
	}

	if config != nil {
		if config.ReadBufferSize > 0 {
			h.upgrader.ReadBufferSize = config.ReadBufferSize
		}
		if config.WriteBufferSize > 0 {
			h.upgrader.WriteBufferSize = config.WriteBufferSize
		}
		h.throttleInterval = config.BroadcastInterval
	}

	logger.Info().Str("server_instance_id", h.serverInstanceID).Msg("WebSocket handler initialized")

	if eventService != nil {
		eventService.Subscribe(interfaces.EventJobStatus, func(ctx context.Context, event interfaces.Event) error {
			job, ok := event.Payload.(*models.Job)
			if !ok {
				h.logger.Warn().Msg("Invalid job status event payload type")
				return nil
			}
			h.BroadcastJobStatus(job)
			return nil
		})
	}

	return h
}

// HandleWebSocket handles WebSocket connections. An optional ?job_id= query
// parameter sets up an initial subscription.
func (h *WebSocketHandler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to upgrade WebSocket connection")
		return
	}

	state := &clientState{id: common.NewClientID(), jobs: make(map[string]bool)}
	if jobID := r.URL.Query().Get("job_id"); jobID != "" {
		state.jobs[jobID] = true
	} else {
		state.all = true
	}

	h.mu.Lock()
	h.clients[conn] = state
	clientCount := len(h.clients)
	h.mu.Unlock()

	if h.metrics != nil {
		h.metrics.WSConnections.Inc()
	}
	h.logger.Debug().Str("client_id", state.id).Msgf("WebSocket client connected (total: %d)", clientCount)

	h.sendHello(conn, state)

	defer func() {
		h.mu.Lock()
		_, present := h.clients[conn]
		delete(h.clients, conn)
		remaining := len(h.clients)
		h.mu.Unlock()

		// Broadcast pruning may have removed the client already
		if present && h.metrics != nil {
			h.metrics.WSConnections.Dec()
		}
		conn.Close()
		h.logger.Debug().Str("client_id", state.id).Msgf("WebSocket client disconnected (remaining: %d)", remaining)
	}()

	// Read loop: subscription management keeps the connection alive
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				h.logger.Warn().Err(err).Msg("WebSocket error")
			}
			break
		}

		var req subscribeRequest
		if err := json.Unmarshal(data, &req); err != nil {
			continue
		}
		h.mu.Lock()
		switch req.Type {
		case "subscribe":
			if req.JobID != "" {
				state.jobs[req.JobID] = true
				state.all = false
			} else {
				state.all = true
			}
		case "unsubscribe":
			if req.JobID != "" {
				delete(state.jobs, req.JobID)
			} else {
				state.all = false
			}
		}
		h.mu.Unlock()
	}
}

// sendHello confirms the connection and carries the server instance ID so
// clients can detect restarts and resubscribe.
func (h *WebSocketHandler) sendHello(conn *websocket.Conn, state *clientState) {
	msg := WSMessage{
		Type: "hello",
		Payload: map[string]interface{}{
			"server_instance_id": h.serverInstanceID,
		},
	}
	data, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to marshal hello message")
		return
	}

	state.writeMu.Lock()
	err = conn.WriteMessage(websocket.TextMessage, data)
	state.writeMu.Unlock()
	if err != nil {
		h.logger.Warn().Err(err).Msg("Failed to send hello")
	}
}

// BroadcastJobStatus sends the job snapshot to every subscriber of that
// job. Events are dispatched on independent goroutines, so snapshots of the
// same job can arrive here out of order; a snapshot whose completed count is
// below the last one sent is dropped so progress never regresses on the
// wire. Non-terminal updates are throttled per job when an interval is
// configured; terminal updates always go out.
func (h *WebSocketHandler) BroadcastJobStatus(job *models.Job) {
	if !h.noteProgress(job) {
		return
	}
	if !job.Status.IsTerminal() && !h.allowBroadcast(job.ID) {
		return
	}

	msg := WSMessage{Type: "job_status", Payload: job}
	data, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to marshal job status message")
		return
	}

	h.mu.RLock()
	targets := make(map[*websocket.Conn]*clientState)
	for conn, state := range h.clients {
		if state.all || state.jobs[job.ID] {
			targets[conn] = state
		}
	}
	h.mu.RUnlock()

	var broken []*websocket.Conn
	for conn, state := range targets {
		state.writeMu.Lock()
		err := conn.WriteMessage(websocket.TextMessage, data)
		state.writeMu.Unlock()

		if err != nil {
			h.logger.Warn().Str("job_id", job.ID).Err(err).Msg("Failed to send job status, pruning client")
			broken = append(broken, conn)
		}
	}

	// Prune connections whose writes fail; a dead peer must not keep
	// accumulating in the registry.
	if len(broken) > 0 {
		h.mu.Lock()
		for _, conn := range broken {
			if _, ok := h.clients[conn]; ok {
				delete(h.clients, conn)
				if h.metrics != nil {
					h.metrics.WSConnections.Dec()
				}
			}
			conn.Close()
		}
		h.mu.Unlock()
	}

	if job.Status.IsTerminal() {
		h.dropThrottler(job.ID)
	}
}

// noteProgress records the snapshot's completed count and reports whether it
// is current. Terminal snapshots always pass and clear the job's entry.
func (h *WebSocketHandler) noteProgress(job *models.Job) bool {
	h.throttleMu.Lock()
	defer h.throttleMu.Unlock()

	if job.Status.IsTerminal() {
		delete(h.lastSent, job.ID)
		return true
	}
	if job.CompletedChunks < h.lastSent[job.ID] {
		return false
	}
	h.lastSent[job.ID] = job.CompletedChunks
	return true
}

func (h *WebSocketHandler) allowBroadcast(jobID string) bool {
	if h.throttleInterval <= 0 {
		return true
	}
	h.throttleMu.Lock()
	limiter, ok := h.throttlers[jobID]
	if !ok {
		limiter = rate.NewLimiter(rate.Every(h.throttleInterval), 1)
		h.throttlers[jobID] = limiter
	}
	h.throttleMu.Unlock()
	return limiter.Allow()
}

func (h *WebSocketHandler) dropThrottler(jobID string) {
	h.throttleMu.Lock()
	delete(h.throttlers, jobID)
	h.throttleMu.Unlock()
}

// ClientCount returns the number of connected clients.
func (h *WebSocketHandler) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
