// Package review implements the Review Worker (C7): the sole component
// that reconciles a schedule id drained from the Internal Work Queue
// into the Scheduler Index and the Queue Enqueuer, re-reading the
// system-of-record for a fresh view of that one id.
package review

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/btu-sched/daemon/internal/cronengine"
	"github.com/btu-sched/daemon/internal/enqueue"
	"github.com/btu-sched/daemon/internal/payload"
	"github.com/btu-sched/daemon/internal/schedindex"
	"github.com/btu-sched/daemon/internal/schedule"
	"github.com/btu-sched/daemon/internal/source"
	"github.com/btu-sched/daemon/internal/workqueue"
)

// SQLTimeout bounds the per-id read issued while draining the queue.
const SQLTimeout = 5 * time.Second

// InitialBackoff and MaxBackoff bound the transient-error retry delay:
// 30s first, doubled on each consecutive failure, capped at 5 min.
const (
	InitialBackoff = 30 * time.Second
	MaxBackoff     = 5 * time.Minute
)

// Worker is the C7 worker.
type Worker struct {
	log      *slog.Logger
	reader   source.Reader
	fetcher  payload.Fetcher
	enqueuer enqueue.Enqueuer
	index    *schedindex.Index
	queue    *workqueue.Queue

	backoffMu sync.Mutex
	backoff   map[string]time.Duration
}

// New builds a Review Worker.
func New(log *slog.Logger, reader source.Reader, fetcher payload.Fetcher, enqueuer enqueue.Enqueuer, index *schedindex.Index, queue *workqueue.Queue) *Worker {
	return &Worker{
		log:      log,
		reader:   reader,
		fetcher:  fetcher,
		enqueuer: enqueuer,
		index:    index,
		queue:    queue,
		backoff:  make(map[string]time.Duration),
	}
}

// Run drains the queue until it is closed (pop returns ok=false).
func (w *Worker) Run() {
	for {
		id, ok := w.queue.Pop()
		if !ok {
			return
		}
		w.reconcile(id)
	}
}

func (w *Worker) reconcile(id string) {
	ctx, cancel := context.WithTimeout(context.Background(), SQLTimeout)
	defer cancel()

	row, err := w.reader.ReadOne(ctx, id)
	if errors.Is(err, source.ErrNotFound) {
		w.log.Info("schedule no longer exists, cancelling", "schedule_id", id)
		if cerr := w.enqueuer.CancelAllFor(ctx, id); cerr != nil {
			w.log.Error("cancel_all_for failed", "schedule_id", id, "error", cerr)
		}
		w.index.Remove(id)
		w.clearBackoff(id)
		return
	}
	if err != nil {
		w.retryWithBackoff(id, "source read failed", err)
		return
	}
	if !row.Enabled {
		w.log.Info("schedule disabled, cancelling", "schedule_id", id)
		if cerr := w.enqueuer.CancelAllFor(ctx, id); cerr != nil {
			w.log.Error("cancel_all_for failed", "schedule_id", id, "error", cerr)
		}
		w.index.Remove(id)
		w.clearBackoff(id)
		return
	}

	validated, err := schedule.Validate(row)
	if err != nil {
		w.log.Warn("schedule invalid, dropping from index", "schedule_id", id, "error", err)
		w.index.Remove(id)
		w.clearBackoff(id)
		return
	}

	firings, inert := cronengine.NextNFirings(validated.Cron7, validated.Location, time.Now().UTC(), 1)
	if inert || len(firings) == 0 {
		w.log.Warn("schedule is inert, dropping from index", "schedule_id", id)
		w.index.Remove(id)
		w.clearBackoff(id)
		return
	}
	next := firings[0]

	// The fetch gets its own timeout rather than sharing ctx's remaining
	// SQLTimeout budget: spec.md grants it up to 10s on its own.
	fetchCtx, fetchCancel := context.WithTimeout(context.Background(), payload.DefaultTimeout)
	payloadBytes, err := w.fetcher.FetchPayload(fetchCtx, row.TaskID)
	fetchCancel()
	if err != nil {
		w.retryWithBackoff(id, "payload fetch failed", err)
		return
	}

	hints := enqueue.Hints{RetryCount: row.RetryCount, ResultTTLSecs: row.ResultTTLSecs}
	if _, err := w.enqueuer.EnqueueAt(ctx, row.ID, row.QueueName, row.TaskID, payloadBytes, next, hints); err != nil {
		w.retryWithBackoff(id, "enqueue failed", err)
		return
	}

	w.index.Upsert(row.ID, next)
	w.clearBackoff(id)
	w.log.Info("reconciled", "schedule_id", id, "next_fire", next)
}

// retryWithBackoff re-pushes id onto the queue after its current backoff
// delay, doubling the delay for next time (capped at MaxBackoff). The
// scheduler index is left untouched so the schedule keeps firing on its
// last known-good cadence while the transient condition persists.
func (w *Worker) retryWithBackoff(id, reason string, cause error) {
	w.log.Warn("transient error, requeuing with backoff", "schedule_id", id, "reason", reason, "error", cause)

	delay := w.nextBackoff(id)
	go func() {
		time.Sleep(delay)
		w.queue.Push(id)
	}()
}

func (w *Worker) nextBackoff(id string) time.Duration {
	w.backoffMu.Lock()
	defer w.backoffMu.Unlock()

	cur, ok := w.backoff[id]
	if !ok {
		cur = InitialBackoff
	} else {
		cur *= 2
		if cur > MaxBackoff {
			cur = MaxBackoff
		}
	}
	w.backoff[id] = cur
	return cur
}

func (w *Worker) clearBackoff(id string) {
	w.backoffMu.Lock()
	defer w.backoffMu.Unlock()
	delete(w.backoff, id)
}
