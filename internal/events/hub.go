package events

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"quizgen/internal/domain"
)

const writeWait = 10 * time.Second

// JobEvent is the message pushed to subscribers of a job.
type JobEvent struct {
	Type            string    `json:"type"`
	JobID           string    `json:"job_id"`
	Status          string    `json:"status"`
	BillingState    string    `json:"billing_state"`
	ProcessedChunks int       `json:"processed_chunks"`
	TotalChunks     int       `json:"total_chunks"`
	Error           string    `json:"error,omitempty"`
	Timestamp       time.Time `json:"timestamp"`
}

// NewJobEvent builds the event for a job snapshot.
func NewJobEvent(job *domain.GenerationJob) JobEvent {
	ev := JobEvent{
		Type:            "job_update",
		JobID:           job.ID,
		Status:          string(job.Status),
		BillingState:    string(job.BillingState),
		ProcessedChunks: job.ProcessedChunks,
		TotalChunks:     job.TotalChunks,
		Timestamp:       job.UpdatedAt,
	}
	if job.Status == domain.JobStatusFailed && job.ErrorMessage != "" {
		ev.Error = job.ErrorMessage
	}
	return ev
}

func (e JobEvent) terminal() bool {
	return domain.JobStatus(e.Status).IsTerminal()
}

type subscription struct {
	jobID   string
	conn    *websocket.Conn
	initial *JobEvent
}

// Hub fans job updates out to websocket clients subscribed to that job. All
// writes to a connection happen on the hub goroutine.
type Hub struct {
	clients    map[*websocket.Conn]string
	broadcast  chan JobEvent
	register   chan subscription
	unregister chan *websocket.Conn
	mu         sync.Mutex
	logger     zerolog.Logger
}

func NewHub(logger zerolog.Logger) *Hub {
	return &Hub{
		clients:    make(map[*websocket.Conn]string),
		broadcast:  make(chan JobEvent, 256),
		register:   make(chan subscription, 16),
		unregister: make(chan *websocket.Conn, 16),
		logger:     logger,
	}
}

// Run processes registrations and broadcasts until ctx is done.
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			h.closeAll()
			return
		case sub := <-h.register:
			h.mu.Lock()
			h.clients[sub.conn] = sub.jobID
			h.mu.Unlock()
			h.logger.Debug().Str("job_id", sub.jobID).Msg("events: client subscribed")
			if sub.initial != nil {
				h.deliver(*sub.initial, sub.conn)
			}
		case conn := <-h.unregister:
			h.drop(conn)
		case ev := <-h.broadcast:
			h.mu.Lock()
			var targets []*websocket.Conn
			for conn, jobID := range h.clients {
				if jobID == ev.JobID {
					targets = append(targets, conn)
				}
			}
			h.mu.Unlock()
			for _, conn := range targets {
				h.deliver(ev, conn)
			}
		}
	}
}

// Subscribe attaches conn to jobID. initial, when non-nil, is sent first.
func (h *Hub) Subscribe(jobID string, conn *websocket.Conn, initial *JobEvent) {
	h.register <- subscription{jobID: jobID, conn: conn, initial: initial}
}

// Unsubscribe detaches and closes conn.
func (h *Hub) Unsubscribe(conn *websocket.Conn) {
	h.unregister <- conn
}

// JobUpdated implements domain.JobNotifier. It never blocks; updates are
// dropped when the hub is saturated.
func (h *Hub) JobUpdated(job *domain.GenerationJob) {
	select {
	case h.broadcast <- NewJobEvent(job):
	default:
		h.logger.Warn().Str("job_id", job.ID).Msg("events: broadcast queue full, update dropped")
	}
}

// Subscribers returns the number of clients watching jobID.
func (h *Hub) Subscribers(jobID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	n := 0
	for _, id := range h.clients {
		if id == jobID {
			n++
		}
	}
	return n
}

// deliver writes ev to conn and closes the stream once the job is terminal.
func (h *Hub) deliver(ev JobEvent, conn *websocket.Conn) {
	payload, err := json.Marshal(ev)
	if err != nil {
		h.logger.Error().Err(err).Msg("events: marshal job update")
		return
	}
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
		h.logger.Debug().Err(err).Str("job_id", ev.JobID).Msg("events: write failed")
		h.drop(conn)
		return
	}
	if ev.terminal() {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, "job finished"),
			time.Now().Add(writeWait))
		h.drop(conn)
	}
}

func (h *Hub) drop(conn *websocket.Conn) {
	h.mu.Lock()
	_, ok := h.clients[conn]
	delete(h.clients, conn)
	h.mu.Unlock()
	if ok {
		_ = conn.Close()
	}
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for conn := range h.clients {
		_ = conn.Close()
		delete(h.clients, conn)
	}
}

var _ domain.JobNotifier = (*Hub)(nil)
