package journal

import (
	"context"
	"errors"
	"sync"
)

// EventType names what happened to a run.
type EventType string

const (
	EventRunStarted   EventType = "run_started"
	EventStateChanged EventType = "state_changed"
	EventRunFinished  EventType = "run_finished"
)

// Event is the message published for every run transition.
type Event struct {
	Type       EventType         `json:"type"`
	RunID      string            `json:"run_id"`
	Network    string            `json:"network,omitempty"`
	From       string            `json:"from,omitempty"`
	State      string            `json:"state"`
	Status     Status            `json:"status,omitempty"`
	ElapsedMS  int64             `json:"elapsed_ms,omitempty"`
	Attributes map[string]string `json:"attributes,omitempty"`
	ErrorCode  string            `json:"error_code,omitempty"`
	Error      string            `json:"error,omitempty"`
	At         int64             `json:"at"`
}

// Publisher delivers events to an external sink.
type Publisher interface {
	Publish(ctx context.Context, event Event) error
	Close() error
}

// NopPublisher drops every event.
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, Event) error { return nil }

func (NopPublisher) Close() error { return nil }

var errPublisherClosed = errors.New("publisher closed")

// MemoryPublisher keeps published events in order. It is meant for tests
// and for inspecting a run in process.
type MemoryPublisher struct {
	mu     sync.Mutex
	events []Event
	closed bool
}

// NewMemoryPublisher creates an empty MemoryPublisher.
func NewMemoryPublisher() *MemoryPublisher {
	return &MemoryPublisher{}
}

// Publish implements Publisher.
func (p *MemoryPublisher) Publish(ctx context.Context, event Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return errPublisherClosed
	}
	event.Attributes = cloneAttributes(event.Attributes)
	p.events = append(p.events, event)
	return nil
}

// Events returns a copy of everything published so far.
func (p *MemoryPublisher) Events() []Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Event(nil), p.events...)
}

// Close rejects later publishes.
func (p *MemoryPublisher) Close() error {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
	return nil
}

var (
	_ Publisher = NopPublisher{}
	_ Publisher = (*MemoryPublisher)(nil)
)
