package orchestrator

import "sync"

// ProgressReporter fans progress events out through a buffered channel.
// Emit never blocks and is safe at any point in a controller's life,
// including after Close: an abort arriving while the run loop tears itself
// down must be dropped, not panic the process.
type ProgressReporter struct {
	mu     sync.Mutex
	ch     chan ProgressEvent
	closed bool
}

// NewProgressReporter creates a reporter with room for 64 buffered events.
func NewProgressReporter() *ProgressReporter {
	return &ProgressReporter{ch: make(chan ProgressEvent, 64)}
}

// Emit sends a progress event without blocking. The event is dropped when
// the buffer is full or the reporter is already closed.
func (pr *ProgressReporter) Emit(event ProgressEvent) {
	pr.mu.Lock()
	defer pr.mu.Unlock()
	if pr.closed {
		return
	}
	select {
	case pr.ch <- event:
	default:
	}
}

// Subscribe returns a read-only channel for consuming progress events.
func (pr *ProgressReporter) Subscribe() <-chan ProgressEvent {
	return pr.ch
}

// Close ends the event stream. Idempotent; later emits are dropped.
func (pr *ProgressReporter) Close() {
	pr.mu.Lock()
	defer pr.mu.Unlock()
	if pr.closed {
		return
	}
	pr.closed = true
	close(pr.ch)
}
