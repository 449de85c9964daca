package websocket

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/aescanero/synthflow/pkg/domain"
	"github.com/aescanero/synthflow/pkg/ports"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	writeWait  = 10 * time.Second
	bufferSize = 64
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// StatusSource returns the current status of a job.
type StatusSource interface {
	Status(ctx context.Context, jobID string) (*domain.JobStatusSnapshot, error)
}

// Message is one frame sent to the client. The first frame of a stream is
// a snapshot; every following frame carries an event.
type Message struct {
	Kind     string                    `json:"kind"`
	Snapshot *domain.JobStatusSnapshot `json:"snapshot,omitempty"`
	Event    *domain.Event             `json:"event,omitempty"`
}

// Message kinds.
const (
	KindSnapshot = "snapshot"
	KindEvent    = "event"
)

// Handler handles WebSocket connections
type Handler struct {
	eventBus ports.EventBus
	jobs     StatusSource
	logger   *zap.Logger
}

// NewHandler creates a new WebSocket handler
func NewHandler(eventBus ports.EventBus, jobs StatusSource, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		eventBus: eventBus,
		jobs:     jobs,
		logger:   logger,
	}
}

// HandleJobStream streams the lifecycle events of one job. The stream is
// closed after the job reaches a terminal state.
func (h *Handler) HandleJobStream(c *gin.Context) {
	jobID := c.Param("id")

	if _, err := h.jobs.Status(c.Request.Context(), jobID); err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, domain.ErrJobNotFound) {
			status = http.StatusNotFound
		}
		c.AbortWithStatusJSON(status, gin.H{"error": gin.H{"code": "NOT_FOUND", "message": err.Error()}})
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Error("failed to upgrade connection", zap.Error(err))
		return
	}
	defer func() { _ = conn.Close() }()

	h.logger.Info("WebSocket connection established",
		zap.String("job_id", jobID),
		zap.String("client", c.ClientIP()))

	// The request context is not cancelled when a hijacked connection
	// goes away, so the read loop ends the stream instead.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go h.readLoop(conn, cancel)

	events := make(chan domain.Event, bufferSize)
	if err := h.subscribe(ctx, jobID, events); err != nil {
		h.logger.Error("failed to subscribe to events", zap.String("job_id", jobID), zap.Error(err))
		return
	}

	// Subscribed first, so nothing between the snapshot and the first
	// event is lost.
	snap, err := h.jobs.Status(ctx, jobID)
	if err != nil {
		h.logger.Error("failed to read job status", zap.String("job_id", jobID), zap.Error(err))
		return
	}
	if err := h.write(conn, Message{Kind: KindSnapshot, Snapshot: snap}); err != nil {
		return
	}
	if snap.Status.Terminal() {
		h.close(conn)
		return
	}

	for {
		select {
		case <-ctx.Done():
			return
		case event := <-events:
			if err := h.write(conn, Message{Kind: KindEvent, Event: &event}); err != nil {
				return
			}
			if isTerminal(event.Type) {
				h.close(conn)
				return
			}
		}
	}
}

func (h *Handler) subscribe(ctx context.Context, jobID string, ch chan<- domain.Event) error {
	handler := func(ctx context.Context, event domain.Event) error {
		if event.JobID != jobID {
			return nil
		}
		select {
		case ch <- event:
		case <-ctx.Done():
			return ctx.Err()
		default:
			h.logger.Warn("event channel full, dropping event",
				zap.String("event_id", event.ID),
				zap.String("event_type", string(event.Type)))
		}
		return nil
	}

	for _, topic := range []string{domain.TopicJobEvents, domain.TopicNodeEvents} {
		if err := h.eventBus.Subscribe(ctx, topic, handler); err != nil {
			return err
		}
	}
	return nil
}

func (h *Handler) write(conn *websocket.Conn, msg Message) error {
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteJSON(msg); err != nil {
		h.logger.Debug("failed to write message", zap.Error(err))
		return err
	}
	return nil
}

func (h *Handler) close(conn *websocket.Conn) {
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "job finished")
	_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
}

// readLoop discards client frames and cancels the stream when the client
// disconnects.
func (h *Handler) readLoop(conn *websocket.Conn, cancel context.CancelFunc) {
	defer cancel()
	for {
		if _, _, err := conn.NextReader(); err != nil {
			return
		}
	}
}

func isTerminal(t domain.EventType) bool {
	switch t {
	case domain.EventTypeJobCompleted, domain.EventTypeJobFailed, domain.EventTypeJobCancelled:
		return true
	}
	return false
}
