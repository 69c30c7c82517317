package log

import (
	"sync"
	"testing"
)

// captureLogger records events for assertions.
type captureLogger struct {
	mu     sync.Mutex
	events []Event
}

func (c *captureLogger) Log(event Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, event)
}

func (c *captureLogger) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.events)
}

func TestMultiLoggerFanOut(t *testing.T) {
	a := &captureLogger{}
	b := &captureLogger{}
	multi := NewMultiLogger(a, b)

	multi.Log(Event{ConnectionID: "c1"})
	multi.Log(Event{ConnectionID: "c2"})

	if a.count() != 2 || b.count() != 2 {
		t.Errorf("fan-out counts = %d/%d, want 2/2", a.count(), b.count())
	}
}

func TestNoopLogger(t *testing.T) {
	// Must not panic, including as a zero value.
	var l NoopLogger
	l.Log(Event{ConnectionID: "ignored"})
}
