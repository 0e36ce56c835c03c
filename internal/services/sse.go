package services

import (
	"sync"
	"time"
)

const (
	StageStarted   = "started"
	StageScraped   = "scraped"
	StageProcessed = "processed"
	StageIdea      = "idea"
	StageHalted    = "halted"
	StageCompleted = "completed"
	StageFailed    = "failed"
)

// PipelineEvent is one progress update of a pipeline run.
type PipelineEvent struct {
	Stage       string    `json:"stage"`
	Source      string    `json:"source,omitempty"`
	ComplaintID string    `json:"complaint_id,omitempty"`
	IdeaID      string    `json:"idea_id,omitempty"`
	Count       int       `json:"count,omitempty"`
	Score       *int      `json:"score,omitempty"`
	Error       string    `json:"error,omitempty"`
	Time        time.Time `json:"time"`
}

// SSEHub fans pipeline events out to connected stream clients.
type SSEHub struct {
	clients map[string]chan PipelineEvent
	mu      sync.RWMutex
}

func NewSSEHub() *SSEHub {
	return &SSEHub{
		clients: make(map[string]chan PipelineEvent),
	}
}

// Subscribe registers a new client and returns a channel for receiving events
func (h *SSEHub) Subscribe(clientID string) <-chan PipelineEvent {
	h.mu.Lock()
	defer h.mu.Unlock()

	ch := make(chan PipelineEvent, 100)
	h.clients[clientID] = ch
	return ch
}

func (h *SSEHub) Unsubscribe(clientID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if ch, ok := h.clients[clientID]; ok {
		close(ch)
		delete(h.clients, clientID)
	}
}

// Publish broadcasts an event to all clients. A nil hub discards it.
func (h *SSEHub) Publish(event PipelineEvent) {
	if h == nil {
		return
	}
	if event.Time.IsZero() {
		event.Time = time.Now()
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, ch := range h.clients {
		// Slow clients lose events rather than stall the pipeline.
		select {
		case ch <- event:
		default:
		}
	}
}

func (h *SSEHub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Close disconnects every client. Streams see their channel closed and end.
func (h *SSEHub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for id, ch := range h.clients {
		close(ch)
		delete(h.clients, id)
	}
}
