// Package models owns the local speech model catalog: what exists, what is on
// disk, which model is selected, and the single in-flight download.
package models

import (
	"context"
	"fmt"
	"strconv"
	"sync"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"

	"whisper-desk/internal/domain"
)

// OutcomeKind classifies the terminal result of a download session.
type OutcomeKind string

const (
	OutcomeSucceeded OutcomeKind = "succeeded"
	OutcomeFailed    OutcomeKind = "failed"
	OutcomeCancelled OutcomeKind = "cancelled"
)

// Outcome is the terminal result of one download session.
type Outcome struct {
	Kind      OutcomeKind `json:"kind"`
	SizeBytes int64       `json:"sizeBytes,omitempty"`
	Reason    string      `json:"reason,omitempty"`
	Err       error       `json:"-"`
}

// Entry pairs a descriptor with its runtime state.
type Entry struct {
	Descriptor domain.ModelDescriptor  `json:"descriptor"`
	State      domain.ModelRuntimeState `json:"state"`
}

// Snapshot is an immutable copy of the catalog at one version.
type Snapshot struct {
	Version uint64  `json:"version"`
	Entries []Entry `json:"entries"`
}

// Get returns the entry for id.
func (s Snapshot) Get(id string) (Entry, bool) {
	for _, e := range s.Entries {
		if e.Descriptor.ID == id {
			return e, true
		}
	}
	return Entry{}, false
}

// Selected returns the selected entry, if any.
func (s Snapshot) Selected() (Entry, bool) {
	for _, e := range s.Entries {
		if e.State.Selected {
			return e, true
		}
	}
	return Entry{}, false
}

// Catalog is the authoritative store of model runtime state. Readers only get
// snapshots; mutation goes through its methods.
type Catalog struct {
	source      Enumerator
	descriptors DescriptorSource
	log         logrus.FieldLogger

	refreshes singleflight.Group

	mu       sync.RWMutex
	order    []string
	states   map[string]domain.ModelRuntimeState
	selected string
	version  uint64
	// gen counts changes to what is on disk. A listing taken before the
	// latest change is discarded.
	gen uint64

	// dispatchMu serializes listener calls so versions arrive in order.
	dispatchMu sync.Mutex
	delivered  uint64

	subMu     sync.Mutex
	listeners map[int]func(Snapshot)
	nextSub   int
}

// NewCatalog builds an empty catalog. Call Refresh to populate it.
func NewCatalog(source Enumerator, descriptors DescriptorSource, log logrus.FieldLogger) *Catalog {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Catalog{
		source:      source,
		descriptors: descriptors,
		log:         log,
		states:      map[string]domain.ModelRuntimeState{},
		listeners:   map[int]func(Snapshot){},
	}
}

// Refresh replaces the catalog from the enumeration source. Concurrent calls
// made between the same two disk changes share one enumeration; a call made
// after a download or delete always lists again. On error the previous
// snapshot is kept.
func (c *Catalog) Refresh(ctx context.Context) (Snapshot, error) {
	c.mu.RLock()
	gen := c.gen
	c.mu.RUnlock()

	// The enumeration outlives a cancelled caller so joined callers still
	// get its result.
	listCtx := context.WithoutCancel(ctx)
	results := c.refreshes.DoChan(strconv.FormatUint(gen, 10), func() (any, error) {
		listed, err := c.source.ListModels(listCtx)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrCatalogUnavailable, err)
		}
		snap, applied := c.replace(listed, gen)
		if applied {
			c.publish(snap)
		}
		return snap, nil
	})

	select {
	case res := <-results:
		if res.Err != nil {
			c.log.WithError(res.Err).Warn("model catalog refresh failed, keeping previous snapshot")
			return c.Snapshot(), res.Err
		}
		return res.Val.(Snapshot), nil
	case <-ctx.Done():
		return c.Snapshot(), ctx.Err()
	}
}

// replace installs a listing taken at generation gen. A listing that predates
// a later disk change is dropped and the current snapshot returned.
func (c *Catalog) replace(listed []LocalModel, gen uint64) (Snapshot, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if gen != c.gen {
		return c.snapshotLocked(), false
	}

	order := make([]string, 0, len(listed))
	states := make(map[string]domain.ModelRuntimeState, len(listed))
	for _, m := range listed {
		if _, dup := states[m.ID]; dup || m.ID == "" {
			continue
		}
		state := domain.ModelRuntimeState{Status: domain.ModelStatusNotDownloaded}
		if m.Downloaded {
			state.Status = domain.ModelStatusDownloaded
			state.DownloadedSizeBytes = m.SizeBytes
		}
		if prev, ok := c.states[m.ID]; ok && prev.Status == domain.ModelStatusDownloading {
			state = prev
		}
		order = append(order, m.ID)
		states[m.ID] = state
	}

	// The orchestrator owns downloading entries; a listing that misses one
	// must not drop the row under transfer.
	for _, id := range c.order {
		if _, kept := states[id]; kept {
			continue
		}
		if prev := c.states[id]; prev.Status == domain.ModelStatusDownloading {
			order = append(order, id)
			states[id] = prev
		}
	}

	c.order = order
	c.states = states
	if st, ok := states[c.selected]; !ok || st.Status != domain.ModelStatusDownloaded {
		c.selected = ""
	}
	c.version++
	return c.snapshotLocked(), true
}

// invalidate records a disk change made outside the catalog, such as a
// removed model file, so in-flight listings are not applied.
func (c *Catalog) invalidate() {
	c.mu.Lock()
	c.gen++
	c.mu.Unlock()
}

// Snapshot returns the current catalog.
func (c *Catalog) Snapshot() Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.snapshotLocked()
}

func (c *Catalog) snapshotLocked() Snapshot {
	entries := make([]Entry, 0, len(c.order))
	for _, id := range c.order {
		entries = append(entries, c.entryLocked(id))
	}
	return Snapshot{Version: c.version, Entries: entries}
}

func (c *Catalog) entryLocked(id string) Entry {
	desc, ok := c.descriptors.Lookup(id)
	if !ok {
		desc = domain.ModelDescriptor{ID: id, DisplayName: id}
	}
	state := c.states[id]
	state.Selected = id == c.selected
	return Entry{Descriptor: desc, State: state}
}

// Get returns the current entry for id or ErrNotFound.
func (c *Catalog) Get(id string) (Entry, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if _, ok := c.states[id]; !ok {
		return Entry{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return c.entryLocked(id), nil
}

// SetSelected makes id the only selected model. id must be downloaded.
func (c *Catalog) SetSelected(id string) error {
	c.mu.Lock()
	st, ok := c.states[id]
	if !ok || st.Status != domain.ModelStatusDownloaded {
		c.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrUnknownModel, id)
	}
	if c.selected == id {
		c.mu.Unlock()
		return nil
	}
	c.selected = id
	c.version++
	snap := c.snapshotLocked()
	c.mu.Unlock()

	c.publish(snap)
	return nil
}

// ClearSelected removes the selection, if any.
func (c *Catalog) ClearSelected() {
	c.mu.Lock()
	if c.selected == "" {
		c.mu.Unlock()
		return
	}
	c.selected = ""
	c.version++
	snap := c.snapshotLocked()
	c.mu.Unlock()

	c.publish(snap)
}

// ApplyDownloadResult moves id to the state implied by a terminal outcome.
// Applying the same outcome twice is a no-op.
func (c *Catalog) ApplyDownloadResult(id string, outcome Outcome) error {
	snap, changed, err := c.applyResult(id, outcome)
	if err != nil {
		return err
	}
	if changed {
		c.publish(snap)
	}
	return nil
}

func (c *Catalog) applyResult(id string, outcome Outcome) (Snapshot, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	current, ok := c.states[id]
	if !ok {
		return Snapshot{}, false, fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	var next domain.ModelRuntimeState
	switch outcome.Kind {
	case OutcomeSucceeded:
		next = domain.ModelRuntimeState{Status: domain.ModelStatusDownloaded, DownloadedSizeBytes: outcome.SizeBytes}
	case OutcomeFailed:
		next = domain.ModelRuntimeState{Status: domain.ModelStatusFailed, LastError: outcome.Reason}
	case OutcomeCancelled:
		next = domain.ModelRuntimeState{Status: domain.ModelStatusNotDownloaded}
	default:
		return Snapshot{}, false, fmt.Errorf("unknown download outcome %q", outcome.Kind)
	}

	if next == current {
		return Snapshot{}, false, nil
	}
	c.states[id] = next
	if c.selected == id && next.Status != domain.ModelStatusDownloaded {
		c.selected = ""
	}
	c.gen++
	c.version++
	return c.snapshotLocked(), true, nil
}

// markDownloading is reserved to the orchestrator, which publishes the
// returned snapshot once its own lock is released.
func (c *Catalog) markDownloading(id string) (Snapshot, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.states[id]; !ok {
		return Snapshot{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	c.states[id] = domain.ModelRuntimeState{Status: domain.ModelStatusDownloading}
	c.gen++
	c.version++
	return c.snapshotLocked(), nil
}

// markRemoved reconciles one entry after a confirmed deletion when the
// enumeration source could not be reached.
func (c *Catalog) markRemoved(id string) {
	c.mu.Lock()
	if _, ok := c.states[id]; !ok {
		c.mu.Unlock()
		return
	}
	c.states[id] = domain.ModelRuntimeState{Status: domain.ModelStatusNotDownloaded}
	if c.selected == id {
		c.selected = ""
	}
	c.gen++
	c.version++
	snap := c.snapshotLocked()
	c.mu.Unlock()

	c.publish(snap)
}

// Subscribe registers fn for every new snapshot and returns an unsubscribe
// func. fn must not mutate the catalog synchronously.
func (c *Catalog) Subscribe(fn func(Snapshot)) func() {
	c.subMu.Lock()
	id := c.nextSub
	c.nextSub++
	c.listeners[id] = fn
	c.subMu.Unlock()

	return func() {
		c.subMu.Lock()
		delete(c.listeners, id)
		c.subMu.Unlock()
	}
}

func (c *Catalog) publish(snap Snapshot) {
	c.dispatchMu.Lock()
	defer c.dispatchMu.Unlock()

	// A newer snapshot already went out; it supersedes this one.
	if snap.Version <= c.delivered {
		return
	}
	c.delivered = snap.Version

	c.subMu.Lock()
	fns := make([]func(Snapshot), 0, len(c.listeners))
	for _, fn := range c.listeners {
		fns = append(fns, fn)
	}
	c.subMu.Unlock()

	for _, fn := range fns {
		fn(snap)
	}
}
