package refresh

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/btu-sched/daemon/internal/schedule"
	"github.com/btu-sched/daemon/internal/workqueue"
)

type fakeReader struct {
	rows []schedule.Schedule
	err  error
}

func (f *fakeReader) ReadOne(context.Context, string) (schedule.Schedule, error) {
	return schedule.Schedule{}, nil
}

func (f *fakeReader) ReadAllEnabled(context.Context) ([]schedule.Schedule, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.rows, nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestRunOnce_PushesEveryEnabledID(t *testing.T) {
	reader := &fakeReader{rows: []schedule.Schedule{
		{ID: "a", Enabled: true},
		{ID: "b", Enabled: true},
	}}
	q := workqueue.New()
	w := New(testLogger(), reader, q, time.Hour)

	if err := w.RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if got := q.Len(); got != 2 {
		t.Fatalf("queue length = %d, want 2", got)
	}
	snap := q.Snapshot()
	if snap[0] != "a" || snap[1] != "b" {
		t.Fatalf("snapshot = %v, want [a b]", snap)
	}
}

func TestRunOnce_PropagatesReaderError(t *testing.T) {
	reader := &fakeReader{err: context.DeadlineExceeded}
	q := workqueue.New()
	w := New(testLogger(), reader, q, time.Hour)

	if err := w.RunOnce(context.Background()); err == nil {
		t.Fatal("expected RunOnce to propagate the reader error")
	}
}

func TestRun_StopsOnCancel(t *testing.T) {
	reader := &fakeReader{}
	q := workqueue.New()
	w := New(testLogger(), reader, q, 5*time.Millisecond)

	cancel := make(chan struct{})
	done := make(chan struct{})
	go func() {
		w.Run(cancel)
		close(done)
	}()

	time.Sleep(20 * time.Millisecond)
	close(cancel)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
