package jobs

import (
	"sync"
	"time"

	"translate-rx/internal/domain"
)

// EventType classifies store transitions.
type EventType string

const (
	EventTypeStatus  EventType = "status"
	EventTypeResult  EventType = "result"
	EventTypeError   EventType = "error"
	EventTypeCleared EventType = "cleared"
)

// Event is one sequenced transition of a slot.
type Event struct {
	Seq       int64            `json:"seq"`
	Timestamp time.Time        `json:"timestamp"`
	Slot      domain.Slot      `json:"slot"`
	JobID     string           `json:"jobId"`
	Type      EventType        `json:"type"`
	Status    domain.JobStatus `json:"status,omitempty"`
	Attempt   int              `json:"attempt"`
	Message   string           `json:"message,omitempty"`
	// Job is the snapshot after the transition; zero for cleared events.
	Job domain.Job `json:"-"`
}

// EventBus is the session's transition log. Every committed store
// mutation is appended with a monotonically increasing sequence; once
// maxEvents is exceeded the oldest transitions are dropped, so a reader
// that falls behind by more than the cap misses them and can detect the
// gap by comparing its cursor with Oldest.
type EventBus struct {
	mu        sync.RWMutex
	nextSeq   int64
	maxEvents int
	events    []Event
}

// NewEventBus creates a log holding at most maxEvents transitions
// (500 when maxEvents is not positive).
func NewEventBus(maxEvents int) *EventBus {
	if maxEvents <= 0 {
		maxEvents = 500
	}

	return &EventBus{
		maxEvents: maxEvents,
		events:    make([]Event, 0, maxEvents),
	}
}

// Publish appends one transition and assigns its sequence and timestamp.
func (b *EventBus) Publish(event Event) Event {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextSeq++
	event.Seq = b.nextSeq
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	if len(b.events) == b.maxEvents {
		n := copy(b.events, b.events[1:])
		b.events = b.events[:n]
	}
	b.events = append(b.events, event)
	return event
}

// Since returns transitions of every slot with sequence greater than seq.
func (b *EventBus) Since(seq int64) []Event {
	return b.filter(seq, "")
}

// ForSlot returns the slot's transitions with sequence greater than seq.
func (b *EventBus) ForSlot(slot domain.Slot, seq int64) []Event {
	return b.filter(seq, slot)
}

// Oldest returns the sequence of the oldest retained transition, 0 when
// the log is empty.
func (b *EventBus) Oldest() int64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if len(b.events) == 0 {
		return 0
	}
	return b.events[0].Seq
}

func (b *EventBus) filter(seq int64, slot domain.Slot) []Event {
	b.mu.RLock()
	defer b.mu.RUnlock()

	var out []Event
	for _, event := range b.events {
		if event.Seq <= seq || (slot != "" && event.Slot != slot) {
			continue
		}
		out = append(out, event)
	}
	return out
}
