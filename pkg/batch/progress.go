package batch

import (
	"errors"
	"sync"
	"time"
)

// ErrBatchNotFound indicates no tracked batch exists under the given ID.
var ErrBatchNotFound = errors.New("batch: not tracked")

// Progress is a point-in-time snapshot of a running batch.
type Progress struct {
	BatchID   string
	Total     int
	Completed int
	Failed    int
	InFlight  int

	// Percent is settled units over total, 0..100.
	Percent float64

	// EstimatedRemaining extrapolates from the average settle time so far.
	// Zero until at least one unit has settled.
	EstimatedRemaining time.Duration
}

type batchState struct {
	total     int
	completed int
	failed    int
	inFlight  int
	startedAt time.Time
}

// Tracker keeps progress for in-flight batches. Cancelling a batch only
// stops tracking it; already-dispatched work runs to completion.
type Tracker struct {
	mu      sync.Mutex
	batches map[string]*batchState

	now func() time.Time
}

// NewTracker creates an empty tracker.
func NewTracker() *Tracker {
	return &Tracker{
		batches: make(map[string]*batchState),
		now:     time.Now,
	}
}

func (t *Tracker) start(batchID string, total int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.batches[batchID] = &batchState{total: total, startedAt: t.now()}
}

func (t *Tracker) unitStarted(batchID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if s, ok := t.batches[batchID]; ok {
		s.inFlight++
	}
}

func (t *Tracker) unitSettled(batchID string, failed bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	s, ok := t.batches[batchID]
	if !ok {
		return
	}
	if s.inFlight > 0 {
		s.inFlight--
	}
	if failed {
		s.failed++
	} else {
		s.completed++
	}
}

// Progress returns the current snapshot for the batch.
func (t *Tracker) Progress(batchID string) (Progress, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	s, ok := t.batches[batchID]
	if !ok {
		return Progress{}, ErrBatchNotFound
	}

	p := Progress{
		BatchID:   batchID,
		Total:     s.total,
		Completed: s.completed,
		Failed:    s.failed,
		InFlight:  s.inFlight,
	}

	settled := s.completed + s.failed
	if s.total > 0 {
		p.Percent = float64(settled) / float64(s.total) * 100
	}
	if settled > 0 && settled < s.total {
		elapsed := t.now().Sub(s.startedAt)
		perUnit := elapsed / time.Duration(settled)
		p.EstimatedRemaining = perUnit * time.Duration(s.total-settled)
	}
	return p, nil
}

// Cancel stops tracking the batch. It does not interrupt dispatched units.
func (t *Tracker) Cancel(batchID string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, ok := t.batches[batchID]; !ok {
		return ErrBatchNotFound
	}
	delete(t.batches, batchID)
	return nil
}

// Forget removes a finished batch from the tracker.
func (t *Tracker) Forget(batchID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.batches, batchID)
}
