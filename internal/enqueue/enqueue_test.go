package enqueue

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func setupTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("failed to create miniredis: %v", err)
	}
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		_ = client.Close()
		mr.Close()
	})
	return mr, client
}

func TestEnqueueAt_WritesJobAndIndex(t *testing.T) {
	_, client := setupTestRedis(t)
	enq := NewRedisEnqueuer(client)
	ctx := context.Background()

	fireAt := time.Now().Add(time.Hour).Truncate(time.Second)
	jobID, err := enq.EnqueueAt(ctx, "sched-1", "default", "task-1", []byte("payload"), fireAt, Hints{RetryCount: 3, ResultTTLSecs: 600})
	if err != nil {
		t.Fatalf("EnqueueAt: %v", err)
	}

	scheduleID, ok := jobIDScheduleID(jobID)
	if !ok || scheduleID != "sched-1" {
		t.Fatalf("jobIDScheduleID(%q) = (%q, %v), want (sched-1, true)", jobID, scheduleID, ok)
	}

	exists, err := client.Exists(ctx, jobKey(jobID)).Result()
	if err != nil {
		t.Fatalf("Exists: %v", err)
	}
	if exists != 1 {
		t.Fatal("expected job hash to exist")
	}

	score, err := client.ZScore(ctx, scheduledSetKey, jobID).Result()
	if err != nil {
		t.Fatalf("ZScore: %v", err)
	}
	if int64(score) != fireAt.Unix() {
		t.Fatalf("ZScore = %v, want %v", score, fireAt.Unix())
	}
}

// TestEnqueueAt_IdempotentPerSchedule checks that a schedule id has
// exactly one future job at a time: a second EnqueueAt for the same
// schedule id replaces the first.
func TestEnqueueAt_IdempotentPerSchedule(t *testing.T) {
	_, client := setupTestRedis(t)
	enq := NewRedisEnqueuer(client)
	ctx := context.Background()

	first := time.Now().Add(time.Hour).Truncate(time.Second)
	firstJobID, err := enq.EnqueueAt(ctx, "sched-1", "default", "task-1", nil, first, Hints{})
	if err != nil {
		t.Fatalf("first EnqueueAt: %v", err)
	}

	second := time.Now().Add(2 * time.Hour).Truncate(time.Second)
	secondJobID, err := enq.EnqueueAt(ctx, "sched-1", "default", "task-1", nil, second, Hints{})
	if err != nil {
		t.Fatalf("second EnqueueAt: %v", err)
	}

	if firstJobID == secondJobID {
		t.Fatal("expected distinct job ids across firings")
	}

	count, err := client.ZCard(ctx, scheduledSetKey).Result()
	if err != nil {
		t.Fatalf("ZCard: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected exactly one pending job, got %d", count)
	}

	exists, err := client.Exists(ctx, jobKey(firstJobID)).Result()
	if err != nil {
		t.Fatalf("Exists: %v", err)
	}
	if exists != 0 {
		t.Fatal("expected the first job to have been cancelled")
	}
}

// TestCancelAllFor_RemovesEveryJob checks that after remove_schedule, no
// job for the schedule remains until a later re-submission.
func TestCancelAllFor_RemovesEveryJob(t *testing.T) {
	_, client := setupTestRedis(t)
	enq := NewRedisEnqueuer(client)
	ctx := context.Background()

	fireAt := time.Now().Add(time.Hour).Truncate(time.Second)
	jobID, err := enq.EnqueueAt(ctx, "sched-2", "default", "task-2", nil, fireAt, Hints{})
	if err != nil {
		t.Fatalf("EnqueueAt: %v", err)
	}

	if err := enq.CancelAllFor(ctx, "sched-2"); err != nil {
		t.Fatalf("CancelAllFor: %v", err)
	}

	exists, err := client.Exists(ctx, jobKey(jobID)).Result()
	if err != nil {
		t.Fatalf("Exists: %v", err)
	}
	if exists != 0 {
		t.Fatal("expected job hash to be deleted")
	}

	count, err := client.ZCard(ctx, scheduledSetKey).Result()
	if err != nil {
		t.Fatalf("ZCard: %v", err)
	}
	if count != 0 {
		t.Fatalf("expected empty scheduled set, got %d members", count)
	}
}

func TestCancelAllFor_NoExistingJobsIsNotAnError(t *testing.T) {
	_, client := setupTestRedis(t)
	enq := NewRedisEnqueuer(client)

	if err := enq.CancelAllFor(context.Background(), "never-scheduled"); err != nil {
		t.Fatalf("CancelAllFor on a schedule with no jobs returned an error: %v", err)
	}
}

func TestJobIDScheduleID_RejectsMalformedIDs(t *testing.T) {
	tests := []struct {
		jobID string
		ok    bool
	}{
		{"schedule.abc.123", true},
		{"schedule.abc-def.123", true},
		{"not-a-job-id", false},
		{"schedule.abc", false},
		{"schedule.abc.notanumber", false},
	}

	for _, tt := range tests {
		_, ok := jobIDScheduleID(tt.jobID)
		if ok != tt.ok {
			t.Errorf("jobIDScheduleID(%q) ok = %v, want %v", tt.jobID, ok, tt.ok)
		}
	}
}
