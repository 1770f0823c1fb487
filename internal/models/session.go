package models

import (
	"context"
	"sync"
	"time"

	"whisper-desk/internal/domain"
)

const (
	sessionEventBuffer = 64
	speedSamples       = 10

	// maxTransferFraction caps progress while the transfer is still running;
	// only a successful completion reports 1.0.
	maxTransferFraction = 0.99
)

// Progress is one tick of a download. BytesTotal is 0 while unknown.
type Progress struct {
	Fraction       float64 `json:"fraction"`
	BytesReceived  int64   `json:"bytesReceived"`
	BytesTotal     int64   `json:"bytesTotal,omitempty"`
	BytesPerSecond float64 `json:"bytesPerSecond,omitempty"`
}

// SessionEventKind distinguishes progress ticks from the terminal event.
type SessionEventKind string

const (
	SessionEventProgress SessionEventKind = "progress"
	SessionEventOutcome  SessionEventKind = "outcome"
)

// SessionEvent is one element of a session's event stream.
type SessionEvent struct {
	SessionID string           `json:"sessionId"`
	ModelID   string           `json:"modelId"`
	Kind      SessionEventKind `json:"kind"`
	Progress  Progress         `json:"progress"`
	Outcome   *Outcome         `json:"outcome,omitempty"`
}

// SessionInfo is a read-only view of a download session.
type SessionInfo struct {
	ID        string    `json:"id"`
	ModelID   string    `json:"modelId"`
	StartedAt time.Time `json:"startedAt"`
	Progress  Progress  `json:"progress"`
}

// ProgressFunc receives normalized progress for one session.
type ProgressFunc func(Progress)

// session is the transient state of one transfer. Progress and terminal events
// are produced only by the orchestrator goroutine running the transfer.
type session struct {
	id         string
	descriptor domain.ModelDescriptor
	startedAt  time.Time

	ctx    context.Context
	cancel context.CancelFunc

	events chan SessionEvent
	done   chan struct{}

	mu              sync.Mutex
	progress        Progress
	speeds          []float64
	lastSampleAt    time.Time
	lastSampleBytes int64
	cancelRequested bool
	outcome         *Outcome
}

func newSession(id string, descriptor domain.ModelDescriptor, startedAt time.Time) *session {
	ctx, cancel := context.WithCancel(context.Background())
	return &session{
		id:           id,
		descriptor:   descriptor,
		startedAt:    startedAt,
		ctx:          ctx,
		cancel:       cancel,
		events:       make(chan SessionEvent, sessionEventBuffer),
		done:         make(chan struct{}),
		lastSampleAt: startedAt,
		progress:     Progress{BytesTotal: descriptor.SizeEstimateBytes},
	}
}

func (s *session) modelID() string {
	return s.descriptor.ID
}

func (s *session) info() SessionInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	return SessionInfo{ID: s.id, ModelID: s.descriptor.ID, StartedAt: s.startedAt, Progress: s.progress}
}

// advance folds a raw transport report into the session, keeping fraction and
// byte count non-decreasing. It reports false when nothing moved.
func (s *session) advance(p Progress, now time.Time) (SessionEvent, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.outcome != nil {
		return SessionEvent{}, false
	}

	if p.BytesTotal <= 0 {
		p.BytesTotal = s.progress.BytesTotal
	}
	// Byte counts win over a transport-computed fraction whenever a total,
	// real or estimated, is known.
	if p.BytesReceived > 0 && p.BytesTotal > 0 {
		p.Fraction = float64(p.BytesReceived) / float64(p.BytesTotal)
	}
	if p.Fraction > maxTransferFraction {
		p.Fraction = maxTransferFraction
	}
	p.Fraction = clampFraction(p.Fraction)
	if p.Fraction < s.progress.Fraction {
		p.Fraction = s.progress.Fraction
	}
	if p.BytesReceived < s.progress.BytesReceived {
		p.BytesReceived = s.progress.BytesReceived
	}
	if p.Fraction == s.progress.Fraction && p.BytesReceived == s.progress.BytesReceived {
		return SessionEvent{}, false
	}

	p.BytesPerSecond = s.sampleSpeed(p.BytesReceived, now)
	s.progress = p
	return s.event(SessionEventProgress), true
}

// complete emits the closing 1.0 tick once the transfer has succeeded.
func (s *session) complete(size int64, now time.Time) (SessionEvent, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.progress.Fraction >= 1 {
		return SessionEvent{}, false
	}
	received := s.progress.BytesReceived
	if size > received {
		received = size
	}
	s.progress = Progress{
		Fraction:       1,
		BytesReceived:  received,
		BytesTotal:     received,
		BytesPerSecond: s.sampleSpeed(received, now),
	}
	return s.event(SessionEventProgress), true
}

// sampleSpeed keeps a moving average of the last few throughput samples.
func (s *session) sampleSpeed(received int64, now time.Time) float64 {
	elapsed := now.Sub(s.lastSampleAt).Seconds()
	if elapsed > 0 && received > s.lastSampleBytes {
		s.speeds = append(s.speeds, float64(received-s.lastSampleBytes)/elapsed)
		if len(s.speeds) > speedSamples {
			s.speeds = s.speeds[len(s.speeds)-speedSamples:]
		}
		s.lastSampleAt = now
		s.lastSampleBytes = received
	}
	if len(s.speeds) == 0 {
		return 0
	}
	var sum float64
	for _, v := range s.speeds {
		sum += v
	}
	return sum / float64(len(s.speeds))
}

func (s *session) event(kind SessionEventKind) SessionEvent {
	return SessionEvent{SessionID: s.id, ModelID: s.descriptor.ID, Kind: kind, Progress: s.progress}
}

// push delivers a progress event without blocking the transfer. Ticks are
// dropped when the consumer lags; the last slot is kept for the outcome.
func (s *session) push(ev SessionEvent) {
	if len(s.events) >= cap(s.events)-1 {
		return
	}
	s.events <- ev
}

// finish records the single terminal outcome and closes the stream.
func (s *session) finish(outcome Outcome) SessionEvent {
	s.mu.Lock()
	if s.outcome != nil {
		s.mu.Unlock()
		panic("models: download session " + s.id + " finished twice")
	}
	s.outcome = &outcome
	ev := s.event(SessionEventOutcome)
	ev.Outcome = &outcome
	s.mu.Unlock()

	s.events <- ev
	close(s.events)
	close(s.done)
	return ev
}

func (s *session) requestCancel() {
	s.mu.Lock()
	s.cancelRequested = true
	s.mu.Unlock()
	s.cancel()
}

func (s *session) wasCancelled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cancelRequested
}

func (s *session) result() (Outcome, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.outcome == nil {
		return Outcome{}, false
	}
	return *s.outcome, true
}

func clampFraction(f float64) float64 {
	switch {
	case f < 0:
		return 0
	case f > 1:
		return 1
	default:
		return f
	}
}

// Handle is the caller's grip on a started download.
type Handle struct {
	s *session
}

// ID returns the session id.
func (h *Handle) ID() string { return h.s.id }

// ModelID returns the model under transfer.
func (h *Handle) ModelID() string { return h.s.modelID() }

// Events returns the session's ordered event stream. It ends with exactly one
// outcome event and is then closed. The stream is not restartable.
func (h *Handle) Events() <-chan SessionEvent { return h.s.events }

// Done is closed once the terminal outcome is recorded.
func (h *Handle) Done() <-chan struct{} { return h.s.done }

// Outcome returns the terminal outcome once Done is closed.
func (h *Handle) Outcome() (Outcome, bool) { return h.s.result() }

// Info returns the current session progress.
func (h *Handle) Info() SessionInfo { return h.s.info() }

// Cancel requests cooperative cancellation.
func (h *Handle) Cancel() { h.s.requestCancel() }

// Wait blocks until the session ends or ctx is done.
func (h *Handle) Wait(ctx context.Context) (Outcome, error) {
	select {
	case <-h.s.done:
		outcome, _ := h.s.result()
		return outcome, nil
	case <-ctx.Done():
		return Outcome{}, ctx.Err()
	}
}
