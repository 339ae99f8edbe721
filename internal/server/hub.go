package server

import (
	"encoding/json"
	"log"
	"sync"
	"time"
)

// recentEventCap bounds the replay buffer handed to newly connected clients.
const recentEventCap = 32

// Hub fans job lifecycle events out to connected websocket clients and
// retains a short tail of events so late joiners see what just happened.
// It satisfies the pipeline's Notifier interface.
type Hub struct {
	mu      sync.RWMutex
	clients map[chan []byte]struct{}
	recent  [][]byte
}

func NewHub() *Hub {
	return &Hub{clients: make(map[chan []byte]struct{})}
}

func (h *Hub) Subscribe() chan []byte {
	ch, _ := h.SubscribeWithReplay()
	return ch
}

// SubscribeWithReplay registers a client and returns the retained recent
// events in broadcast order. Registration and snapshot happen under one
// lock, so the caller sees every event exactly once.
func (h *Hub) SubscribeWithReplay() (chan []byte, [][]byte) {
	ch := make(chan []byte, 64)
	h.mu.Lock()
	h.clients[ch] = struct{}{}
	replay := make([][]byte, len(h.recent))
	copy(replay, h.recent)
	h.mu.Unlock()
	return ch, replay
}

func (h *Hub) Unsubscribe(ch chan []byte) {
	h.mu.Lock()
	delete(h.clients, ch)
	h.mu.Unlock()
	close(ch)
}

// Broadcast delivers to every subscriber, dropping messages for slow ones,
// and appends the message to the replay tail.
func (h *Hub) Broadcast(msg []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.recent = append(h.recent, msg)
	if len(h.recent) > recentEventCap {
		h.recent = h.recent[len(h.recent)-recentEventCap:]
	}

	for ch := range h.clients {
		select {
		case ch <- msg:
		default:
		}
	}
}

func (h *Hub) JobStarted(userID int64, mediaKind string) {
	h.broadcastEvent(JobStartedEvent{
		Event:     newEvent("job_started", time.Now().UTC()),
		UserID:    userID,
		MediaKind: mediaKind,
	})
}

func (h *Hub) JobDone(userID int64, durationSeconds float64, summarized bool) {
	h.broadcastEvent(JobDoneEvent{
		Event:      newEvent("job_done", time.Now().UTC()),
		UserID:     userID,
		Duration:   durationSeconds,
		Summarized: summarized,
	})
}

func (h *Hub) JobFailed(userID int64, reason string) {
	h.broadcastEvent(JobFailedEvent{
		Event:  newEvent("job_failed", time.Now().UTC()),
		UserID: userID,
		Reason: reason,
	})
}

func (h *Hub) SummaryReady(userID int64) {
	h.broadcastEvent(SummaryReadyEvent{
		Event:  newEvent("summary_ready", time.Now().UTC()),
		UserID: userID,
	})
}

func (h *Hub) broadcastEvent(event any) {
	payload, err := json.Marshal(event)
	if err != nil {
		log.Printf("event marshal error: %v", err)
		return
	}
	h.Broadcast(payload)
}
