// Package refresh implements the Refresh Worker (C8): the periodic full
// enumeration of every enabled schedule, pushing each id into the
// Internal Work Queue so the Review Worker reconciles it.
package refresh

import (
	"context"
	"log/slog"
	"time"

	"github.com/btu-sched/daemon/internal/source"
	"github.com/btu-sched/daemon/internal/workqueue"
)

// SQLTimeout bounds the full-table enumeration query.
const SQLTimeout = 5 * time.Second

// Worker is the C8 worker.
type Worker struct {
	log      *slog.Logger
	reader   source.Reader
	queue    *workqueue.Queue
	interval time.Duration
}

// New builds a Refresh Worker. interval is the
// full_refresh_internal_secs config value.
func New(log *slog.Logger, reader source.Reader, queue *workqueue.Queue, interval time.Duration) *Worker {
	return &Worker{log: log, reader: reader, queue: queue, interval: interval}
}

// RunOnce performs a single synchronous enumeration, used at startup
// before the Review Worker begins draining: the daemon is not ready
// until one full refresh has completed.
func (w *Worker) RunOnce(ctx context.Context) error {
	rows, err := w.reader.ReadAllEnabled(ctx)
	if err != nil {
		return err
	}
	for _, row := range rows {
		w.queue.Push(row.ID)
	}
	w.log.Info("full refresh complete", "enabled_count", len(rows))
	return nil
}

// Run performs RunOnce every interval until cancel is closed.
func (w *Worker) Run(cancel <-chan struct{}) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-cancel:
			return
		case <-ticker.C:
			ctx, done := context.WithTimeout(context.Background(), SQLTimeout)
			if err := w.RunOnce(ctx); err != nil {
				w.log.Error("periodic full refresh failed", "error", err)
			}
			done()
		}
	}
}
