package jobs

import (
	"sync"
	"time"

	"github.com/MimeLyc/srt-translator/internal/errs"
)

// Observer receives job progress and state changes.
type Observer interface {
	OnProgress(jobID string, percent int, preview string)
	OnJobStateChange(jobID string, state Status, err error)
}

type EventType string

const (
	EventTypeProgress EventType = "progress"
	EventTypeState    EventType = "state"
)

// Event is a sequenced payload consumed by UI subscribers.
type Event struct {
	Seq       int64     `json:"seq"`
	Timestamp time.Time `json:"timestamp"`
	JobID     string    `json:"job_id"`
	Type      EventType `json:"type"`
	Status    Status    `json:"status,omitempty"`
	Progress  int       `json:"progress"`
	Preview   string    `json:"preview,omitempty"`
	Error     string    `json:"error,omitempty"`
	ErrorKind string    `json:"error_kind,omitempty"`
}

// EventBus stores recent events, provides incremental reads and fans out
// to live subscribers. It implements Observer.
type EventBus struct {
	mu        sync.RWMutex
	nextSeq   int64
	maxEvents int
	events    []Event
	subs      map[chan Event]struct{}
}

// NewEventBus creates a bounded in-memory event buffer.
func NewEventBus(maxEvents int) *EventBus {
	if maxEvents <= 0 {
		maxEvents = 500
	}

	return &EventBus{
		maxEvents: maxEvents,
		events:    make([]Event, 0, maxEvents),
		subs:      make(map[chan Event]struct{}),
	}
}

// Publish appends one event and assigns sequence and timestamp. Slow
// subscribers miss events rather than block the queue; they can catch up
// with Since.
func (b *EventBus) Publish(event Event) Event {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextSeq++
	event.Seq = b.nextSeq
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	b.events = append(b.events, event)
	if len(b.events) > b.maxEvents {
		trim := len(b.events) - b.maxEvents
		b.events = append([]Event(nil), b.events[trim:]...)
	}

	for ch := range b.subs {
		select {
		case ch <- event:
		default:
		}
	}
	return event
}

// Since returns events with sequence strictly greater than seq.
func (b *EventBus) Since(seq int64) []Event {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if len(b.events) == 0 {
		return nil
	}

	out := make([]Event, 0, len(b.events))
	for _, event := range b.events {
		if event.Seq > seq {
			out = append(out, event)
		}
	}
	return out
}

// Subscribe returns a channel of new events and a function that closes it.
func (b *EventBus) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 64
	}
	ch := make(chan Event, buffer)

	b.mu.Lock()
	b.subs[ch] = struct{}{}
	b.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, ch)
			b.mu.Unlock()
			close(ch)
		})
	}
}

func (b *EventBus) OnProgress(jobID string, percent int, preview string) {
	b.Publish(Event{JobID: jobID, Type: EventTypeProgress, Status: StatusActive, Progress: percent, Preview: preview})
}

func (b *EventBus) OnJobStateChange(jobID string, state Status, err error) {
	event := Event{JobID: jobID, Type: EventTypeState, Status: state}
	if state == StatusCompleted {
		event.Progress = 100
	}
	if err != nil {
		event.Error = err.Error()
		event.ErrorKind = errs.KindOf(err).String()
	}
	b.Publish(event)
}
