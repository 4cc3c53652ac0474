// Package timerloop implements the Timer Loop (C9): the critical path
// that wakes on the Scheduler Index's earliest due instant, fires the
// corresponding job, and advances the schedule to its next firing.
package timerloop

import (
	"context"
	"log/slog"
	"time"

	"github.com/btu-sched/daemon/internal/cronengine"
	"github.com/btu-sched/daemon/internal/enqueue"
	"github.com/btu-sched/daemon/internal/payload"
	"github.com/btu-sched/daemon/internal/schedindex"
	"github.com/btu-sched/daemon/internal/schedule"
	"github.com/btu-sched/daemon/internal/source"
	"github.com/btu-sched/daemon/internal/workqueue"
)

// SQLTimeout bounds the fresh per-firing read of the schedule row.
const SQLTimeout = 5 * time.Second

// Loop is the C9 worker. It owns no state beyond its collaborators; C6
// and C5 are shared, reference-counted handles (see schedindex.Index and
// workqueue.Queue), never raw containers.
type Loop struct {
	log      *slog.Logger
	reader   source.Reader
	fetcher  payload.Fetcher
	enqueuer enqueue.Enqueuer
	index    *schedindex.Index
	requeue  *workqueue.Queue
	poll     time.Duration
}

// New builds a Timer Loop.
func New(log *slog.Logger, reader source.Reader, fetcher payload.Fetcher, enqueuer enqueue.Enqueuer, index *schedindex.Index, requeue *workqueue.Queue, poll time.Duration) *Loop {
	return &Loop{log: log, reader: reader, fetcher: fetcher, enqueuer: enqueuer, index: index, requeue: requeue, poll: poll}
}

// Run blocks, servicing due firings until cancel is closed.
func (l *Loop) Run(cancel <-chan struct{}) {
	for {
		due, ok := l.index.WaitUntilDue(l.poll, cancel)
		if !ok {
			return
		}

		// Remove the due entry. This takes the index lock separately from
		// WaitUntilDue, so an entry upserted for the id in between is
		// removed too; fire re-reads the row and upserts the next firing.
		l.index.Remove(due.ScheduleID)
		l.fire(due)
	}
}

func (l *Loop) fire(due schedindex.NextFiring) {
	ctx, cancel := context.WithTimeout(context.Background(), SQLTimeout)
	defer cancel()

	row, err := l.reader.ReadOne(ctx, due.ScheduleID)
	if err != nil {
		l.log.Warn("re-read failed ahead of firing, deferring to review worker",
			"schedule_id", due.ScheduleID, "error", err)
		l.requeue.Push(due.ScheduleID)
		return
	}

	if !row.Enabled {
		l.log.Info("schedule disabled since last firing, dropping", "schedule_id", due.ScheduleID)
		l.requeue.Push(due.ScheduleID)
		return
	}

	validated, err := schedule.Validate(row)
	if err != nil {
		l.log.Warn("schedule no longer normalises, dropping", "schedule_id", due.ScheduleID, "error", err)
		l.requeue.Push(due.ScheduleID)
		return
	}

	// The fetch gets its own timeout rather than sharing ctx's remaining
	// SQLTimeout budget: spec.md grants it up to 10s on its own.
	fetchCtx, fetchCancel := context.WithTimeout(context.Background(), payload.DefaultTimeout)
	payloadBytes, err := l.fetchPayload(fetchCtx, row.TaskID)
	fetchCancel()
	if err != nil {
		l.log.Warn("payload fetch failed while firing, deferring to review worker",
			"schedule_id", due.ScheduleID, "error", err)
		l.requeue.Push(due.ScheduleID)
		return
	}

	nexts, inert := cron7NextFiring(validated)
	if inert {
		l.log.Warn("schedule is inert, no further firings within horizon", "schedule_id", due.ScheduleID)
		return
	}

	// Enqueue at nexts, not due.FiresAtUTC: the external queue store must
	// always hold exactly one *future* job per schedule id, matching the
	// review worker's own enqueue-the-next-firing semantics.
	hints := enqueue.Hints{RetryCount: row.RetryCount, ResultTTLSecs: row.ResultTTLSecs}
	if _, err := l.enqueuer.EnqueueAt(ctx, row.ID, row.QueueName, row.TaskID, payloadBytes, nexts, hints); err != nil {
		l.log.Error("enqueue failed while firing, deferring to review worker",
			"schedule_id", due.ScheduleID, "error", err)
		l.requeue.Push(due.ScheduleID)
		return
	}

	l.index.Upsert(row.ID, nexts)
	l.log.Info("fired and advanced", "schedule_id", due.ScheduleID, "next_fire", nexts)
}

func (l *Loop) fetchPayload(ctx context.Context, taskID string) ([]byte, error) {
	return l.fetcher.FetchPayload(ctx, taskID)
}

// cron7NextFiring computes the single next UTC firing for a validated
// schedule, relative to now.
func cron7NextFiring(v schedule.Validated) (time.Time, bool) {
	firings, inert := cronengine.NextNFirings(v.Cron7, v.Location, time.Now().UTC(), 1)
	if len(firings) == 0 {
		return time.Time{}, true
	}
	return firings[0], inert
}
