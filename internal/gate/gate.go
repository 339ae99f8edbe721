package gate

import (
	"sync/atomic"

	"golang.org/x/sync/semaphore"
)

// Gate is the single-slot admission control for the transcription backend.
// The backend (one loaded local model, or one quota-limited API client)
// cannot serve two jobs at once, so a second job is rejected immediately
// rather than queued — the caller tells the user to try again.
type Gate struct {
	sem  *semaphore.Weighted
	held atomic.Bool
}

func New() *Gate {
	return &Gate{sem: semaphore.NewWeighted(1)}
}

// TryAcquire claims the slot without blocking. On success the returned
// release function must be called on every exit path, typically via defer.
// Release is idempotent so cleanup code can call it early and still defer it.
func (g *Gate) TryAcquire() (release func(), ok bool) {
	if !g.sem.TryAcquire(1) {
		return nil, false
	}
	g.held.Store(true)

	released := false
	return func() {
		if released {
			return
		}
		released = true
		g.held.Store(false)
		g.sem.Release(1)
	}, true
}

// Busy reports whether the slot is currently held. It is a read-only
// observation and never touches the semaphore, so a status poll cannot
// steal the slot from a job racing to acquire it.
func (g *Gate) Busy() bool {
	return g.held.Load()
}
