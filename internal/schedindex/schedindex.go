// Package schedindex implements the Scheduler Index (C6): a mapping from
// schedule id to its next UTC firing, simultaneously viewable ordered by
// ascending fires_at_utc, plus the blocking wait the Timer Loop (C9)
// drives off of.
//
// Like the Internal Work Queue, this is a pure in-process concurrency
// structure; no third-party dependency is a better fit than
// sync.Mutex/sync.Cond over a map plus a kept-sorted slice
// (container/heap would also work, but a flat sorted slice is simpler
// and the expected cardinality here, live schedules, is small).
package schedindex

import (
	"sort"
	"sync"
	"time"
)

// NextFiring is a (schedule_id, fires_at_utc) pair.
type NextFiring struct {
	ScheduleID string
	FiresAtUTC time.Time
}

// Index is the C6 data structure: invariant I-1 (at most one NextFiring
// per schedule_id) and I-2 (the ordered view is consistent with the map
// at every quiescent point) both hold at every point outside of a single
// method call, since every method holds mu for its whole body.
type Index struct {
	mu      sync.Mutex
	cond    *sync.Cond
	byID    map[string]time.Time
	ordered []NextFiring // kept sorted ascending by FiresAtUTC
	closed  bool
}

// New creates an empty Index.
func New() *Index {
	idx := &Index{byID: make(map[string]time.Time)}
	idx.cond = sync.NewCond(&idx.mu)
	return idx
}

// Upsert replaces any existing entry for scheduleID.
func (idx *Index) Upsert(scheduleID string, firesAtUTC time.Time) {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	idx.removeLocked(scheduleID)
	idx.byID[scheduleID] = firesAtUTC
	idx.insertOrderedLocked(NextFiring{ScheduleID: scheduleID, FiresAtUTC: firesAtUTC})
	idx.cond.Broadcast()
}

// Remove deletes the entry for scheduleID, if any.
func (idx *Index) Remove(scheduleID string) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	idx.removeLocked(scheduleID)
}

func (idx *Index) removeLocked(scheduleID string) {
	if _, ok := idx.byID[scheduleID]; !ok {
		return
	}
	delete(idx.byID, scheduleID)
	for i, nf := range idx.ordered {
		if nf.ScheduleID == scheduleID {
			idx.ordered = append(idx.ordered[:i], idx.ordered[i+1:]...)
			break
		}
	}
}

func (idx *Index) insertOrderedLocked(nf NextFiring) {
	i := sort.Search(len(idx.ordered), func(i int) bool {
		return idx.ordered[i].FiresAtUTC.After(nf.FiresAtUTC)
	})
	idx.ordered = append(idx.ordered, NextFiring{})
	copy(idx.ordered[i+1:], idx.ordered[i:])
	idx.ordered[i] = nf
}

// PeekEarliest returns the entry with the smallest fires_at_utc, if any.
func (idx *Index) PeekEarliest() (NextFiring, bool) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	if len(idx.ordered) == 0 {
		return NextFiring{}, false
	}
	return idx.ordered[0], true
}

// Snapshot returns every entry, ordered ascending by fires_at_utc, used by
// the IPC show_schedule command.
func (idx *Index) Snapshot() []NextFiring {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	out := make([]NextFiring, len(idx.ordered))
	copy(out, idx.ordered)
	return out
}

// WaitUntilDue blocks until the earliest entry's fires_at_utc is <= now,
// re-checking every poll interval so a late insertion ahead of the
// previous earliest entry is observed, or until cancel is closed.
func (idx *Index) WaitUntilDue(poll time.Duration, cancel <-chan struct{}) (NextFiring, bool) {
	done := make(chan struct{})
	go func() {
		select {
		case <-cancel:
			idx.mu.Lock()
			idx.closed = true
			idx.cond.Broadcast()
			idx.mu.Unlock()
		case <-done:
		}
	}()
	defer close(done)

	idx.mu.Lock()
	defer idx.mu.Unlock()

	for {
		if idx.closed {
			return NextFiring{}, false
		}

		if len(idx.ordered) > 0 {
			head := idx.ordered[0]
			if !head.FiresAtUTC.After(time.Now()) {
				return head, true
			}
		}

		idx.waitWithTimeoutLocked(poll)
	}
}

// waitWithTimeoutLocked waits on cond for at most d, re-acquiring mu
// before returning (sync.Cond.Wait already does this; the timeout is
// layered on top via a timer that broadcasts).
func (idx *Index) waitWithTimeoutLocked(d time.Duration) {
	timer := time.AfterFunc(d, func() {
		idx.mu.Lock()
		idx.cond.Broadcast()
		idx.mu.Unlock()
	})
	idx.cond.Wait()
	timer.Stop()
}
