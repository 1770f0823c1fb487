package models

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"whisper-desk/internal/domain"
)

const defaultRefreshTimeout = 30 * time.Second

// DownloadReport summarizes a finished session for metrics and history.
type DownloadReport struct {
	SessionID     string
	ModelID       string
	StartedAt     time.Time
	FinishedAt    time.Time
	BytesReceived int64
	Outcome       Outcome
}

// Recorder observes download lifecycle edges. Implementations must not block.
type Recorder interface {
	DownloadStarted(modelID string)
	DownloadFinished(report DownloadReport)
}

// Orchestrator runs model downloads, one at a time across the whole catalog.
type Orchestrator struct {
	catalog        *Catalog
	transfer       Transferer
	log            logrus.FieldLogger
	recorders      []Recorder
	refreshTimeout time.Duration
	newID          func() string
	now            func() time.Time

	mu     sync.Mutex
	active *session
	wg     sync.WaitGroup

	subMu     sync.Mutex
	listeners map[int]func(SessionEvent)
	nextSub   int
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithLogger sets the orchestrator logger.
func WithLogger(log logrus.FieldLogger) Option {
	return func(o *Orchestrator) { o.log = log }
}

// WithRecorder adds an observer of download starts and outcomes.
func WithRecorder(r Recorder) Option {
	return func(o *Orchestrator) {
		if r != nil {
			o.recorders = append(o.recorders, r)
		}
	}
}

// WithRefreshTimeout bounds the catalog refresh that follows a success.
func WithRefreshTimeout(d time.Duration) Option {
	return func(o *Orchestrator) { o.refreshTimeout = d }
}

// NewOrchestrator builds an orchestrator over catalog and transfer.
func NewOrchestrator(catalog *Catalog, transfer Transferer, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		catalog:        catalog,
		transfer:       transfer,
		log:            logrus.StandardLogger(),
		refreshTimeout: defaultRefreshTimeout,
		newID:          uuid.NewString,
		now:            time.Now,
		listeners:      map[int]func(SessionEvent){},
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Start begins downloading modelID. Only one download may be active in the
// whole catalog; a second Start fails with ErrAlreadyDownloading.
func (o *Orchestrator) Start(modelID string, onProgress ProgressFunc) (*Handle, error) {
	o.mu.Lock()
	if o.active != nil {
		busy := o.active.modelID()
		o.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrAlreadyDownloading, busy)
	}

	entry, err := o.catalog.Get(modelID)
	if err != nil {
		o.mu.Unlock()
		return nil, err
	}
	switch entry.State.Status {
	case domain.ModelStatusDownloaded:
		o.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrAlreadyDownloaded, modelID)
	case domain.ModelStatusDownloading:
		o.mu.Unlock()
		panic("models: " + modelID + " is downloading without an active session")
	}

	snap, err := o.catalog.markDownloading(modelID)
	if err != nil {
		o.mu.Unlock()
		return nil, err
	}
	s := newSession(o.newID(), entry.Descriptor, o.now())
	o.active = s
	o.wg.Add(1)
	o.mu.Unlock()

	o.catalog.publish(snap)
	for _, r := range o.recorders {
		r.DownloadStarted(modelID)
	}
	o.log.WithFields(logrus.Fields{"model": modelID, "session": s.id}).Info("model download started")

	go o.run(s, onProgress)
	return &Handle{s: s}, nil
}

// Cancel asks the active download of modelID to stop. It is a no-op when no
// such download is running, including one that has just finished.
func (o *Orchestrator) Cancel(modelID string) {
	o.mu.Lock()
	s := o.active
	o.mu.Unlock()

	if s == nil || s.modelID() != modelID {
		return
	}
	s.requestCancel()
}

// Active returns the running session, if any.
func (o *Orchestrator) Active() (SessionInfo, bool) {
	o.mu.Lock()
	s := o.active
	o.mu.Unlock()

	if s == nil {
		return SessionInfo{}, false
	}
	return s.info(), true
}

// IsActive reports whether modelID is being downloaded.
func (o *Orchestrator) IsActive(modelID string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.active != nil && o.active.modelID() == modelID
}

// Subscribe registers fn for every progress and terminal event of every
// session and returns an unsubscribe func.
func (o *Orchestrator) Subscribe(fn func(SessionEvent)) func() {
	o.subMu.Lock()
	id := o.nextSub
	o.nextSub++
	o.listeners[id] = fn
	o.subMu.Unlock()

	return func() {
		o.subMu.Lock()
		delete(o.listeners, id)
		o.subMu.Unlock()
	}
}

// Wait blocks until every started session has finished, including the
// catalog refresh that follows a success.
func (o *Orchestrator) Wait() {
	o.wg.Wait()
}

// Shutdown cancels the active download and waits for it to unwind.
func (o *Orchestrator) Shutdown(ctx context.Context) error {
	o.mu.Lock()
	s := o.active
	o.mu.Unlock()
	if s != nil {
		s.requestCancel()
	}

	done := make(chan struct{})
	go func() {
		o.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (o *Orchestrator) run(s *session, onProgress ProgressFunc) {
	defer o.wg.Done()
	defer s.cancel()

	log := o.log.WithFields(logrus.Fields{"model": s.modelID(), "session": s.id})

	size, err := o.transfer.Transfer(s.ctx, s.descriptor, func(p Progress) {
		if ev, ok := s.advance(p, o.now()); ok {
			o.emit(s, ev, onProgress)
		}
	})

	outcome := o.classify(s, size, err)
	if outcome.Kind == OutcomeSucceeded {
		if ev, ok := s.complete(size, o.now()); ok {
			o.emit(s, ev, onProgress)
		}
	}

	// Applying the result and releasing the single-flight slot happen
	// together so no Start can observe a downloading entry without a session.
	o.mu.Lock()
	snap, changed, applyErr := o.catalog.applyResult(s.modelID(), outcome)
	if o.active != s {
		o.mu.Unlock()
		panic("models: finished session " + s.id + " is not the active one")
	}
	o.active = nil
	o.mu.Unlock()

	if applyErr != nil {
		log.WithError(applyErr).Error("apply download result")
	} else if changed {
		o.catalog.publish(snap)
	}

	ev := s.finish(outcome)
	o.notify(ev)

	info := s.info()
	report := DownloadReport{
		SessionID:     s.id,
		ModelID:       s.modelID(),
		StartedAt:     s.startedAt,
		FinishedAt:    o.now(),
		BytesReceived: info.Progress.BytesReceived,
		Outcome:       outcome,
	}
	for _, r := range o.recorders {
		r.DownloadFinished(report)
	}

	switch outcome.Kind {
	case OutcomeSucceeded:
		log.WithField("bytes", outcome.SizeBytes).Info("model download finished")
		ctx, cancel := context.WithTimeout(context.Background(), o.refreshTimeout)
		defer cancel()
		if _, err := o.catalog.Refresh(ctx); err != nil {
			log.WithError(err).Warn("refresh after download")
		}
	case OutcomeCancelled:
		log.Info("model download cancelled")
	default:
		log.WithError(outcome.Err).Warn("model download failed")
	}
}

func (o *Orchestrator) classify(s *session, size int64, err error) Outcome {
	switch {
	case err == nil:
		return Outcome{Kind: OutcomeSucceeded, SizeBytes: size}
	case errors.Is(err, context.Canceled) && s.wasCancelled():
		return Outcome{Kind: OutcomeCancelled}
	default:
		terr := &TransferError{ModelID: s.modelID(), Reason: err.Error(), Err: err}
		return Outcome{Kind: OutcomeFailed, Reason: terr.Reason, Err: terr}
	}
}

func (o *Orchestrator) emit(s *session, ev SessionEvent, onProgress ProgressFunc) {
	s.push(ev)
	if onProgress != nil {
		onProgress(ev.Progress)
	}
	o.notify(ev)
}

func (o *Orchestrator) notify(ev SessionEvent) {
	o.subMu.Lock()
	fns := make([]func(SessionEvent), 0, len(o.listeners))
	for _, fn := range o.listeners {
		fns = append(fns, fn)
	}
	o.subMu.Unlock()

	for _, fn := range fns {
		fn(ev)
	}
}
