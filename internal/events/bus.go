// Package events buffers model events for frontends that poll by sequence.
package events

import (
	"sync"
	"time"

	"whisper-desk/internal/models"
)

// Type classifies model events.
type Type string

const (
	TypeCatalog  Type = "catalog"
	TypeProgress Type = "progress"
	TypeOutcome  Type = "outcome"
	TypeDeleted  Type = "deleted"
	TypeSelected Type = "selected"
	TypeError    Type = "error"
)

// Event is a sequenced payload consumed by UI subscribers.
type Event struct {
	Seq            int64              `json:"seq"`
	Timestamp      time.Time          `json:"timestamp"`
	Type           Type               `json:"type"`
	ModelID        string             `json:"modelId,omitempty"`
	SessionID      string             `json:"sessionId,omitempty"`
	CatalogVersion uint64             `json:"catalogVersion,omitempty"`
	Progress       *models.Progress   `json:"progress,omitempty"`
	Outcome        models.OutcomeKind `json:"outcome,omitempty"`
	FreedBytes     int64              `json:"freedBytes,omitempty"`
	Message        string             `json:"message,omitempty"`
}

// FromSession converts a download session event.
func FromSession(ev models.SessionEvent) Event {
	out := Event{ModelID: ev.ModelID, SessionID: ev.SessionID}
	if ev.Kind == models.SessionEventOutcome && ev.Outcome != nil {
		out.Type = TypeOutcome
		out.Outcome = ev.Outcome.Kind
		out.Message = ev.Outcome.Reason
		return out
	}
	p := ev.Progress
	out.Type = TypeProgress
	out.Progress = &p
	return out
}

// Bus stores recent events and provides incremental reads.
type Bus struct {
	mu        sync.RWMutex
	nextSeq   int64
	maxEvents int
	events    []Event
}

// NewBus creates a bounded in-memory event buffer.
func NewBus(maxEvents int) *Bus {
	if maxEvents <= 0 {
		maxEvents = 500
	}

	return &Bus{
		maxEvents: maxEvents,
		events:    make([]Event, 0, maxEvents),
	}
}

// Publish appends one event and assigns sequence and timestamp.
func (b *Bus) Publish(event Event) Event {
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

	return event
}

// Since returns events with sequence strictly greater than seq.
func (b *Bus) Since(seq int64) []Event {
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

// LastSeq returns the sequence of the newest event, or 0.
func (b *Bus) LastSeq() int64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.nextSeq
}
