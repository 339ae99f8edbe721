package server

import "time"

const EventVersion = 1

type Event struct {
	Type      string `json:"type"`
	Version   int    `json:"version"`
	Timestamp string `json:"timestamp"`
}

type JobStartedEvent struct {
	Event
	UserID    int64  `json:"user_id"`
	MediaKind string `json:"media_kind"`
}

type JobDoneEvent struct {
	Event
	UserID     int64   `json:"user_id"`
	Duration   float64 `json:"duration"`
	Summarized bool    `json:"summarized"`
}

type JobFailedEvent struct {
	Event
	UserID int64  `json:"user_id"`
	Reason string `json:"reason"`
}

type SummaryReadyEvent struct {
	Event
	UserID int64 `json:"user_id"`
}

// StatusEvent is the handshake sent to a client on connect, carrying the
// pipeline state at that moment.
type StatusEvent struct {
	Event
	Busy bool `json:"busy"`
}

func newEvent(eventType string, now time.Time) Event {
	if now.IsZero() {
		now = time.Now().UTC()
	}
	return Event{
		Type:      eventType,
		Version:   EventVersion,
		Timestamp: now.UTC().Format(time.RFC3339Nano),
	}
}
