// Package enqueue implements the Queue Enqueuer (C4): writing a scheduled
// job into the external RQ-style job-queue store under a named queue at
// a precise UTC instant, and removing it again on cancellation.
package enqueue

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultOpTimeout is the per-operation Redis timeout used by the IPC
// remove_schedule handler. RedisEnqueuer does not apply it itself: each
// call runs under the deadline of the ctx its caller passes in.
const DefaultOpTimeout = 2 * time.Second

// scheduledSetKey is the sorted set of all pending jobs, scored by their
// fires_at_utc epoch, mirroring the RQ scheduler's own
// "rq:scheduler:scheduled_jobs" structure.
const scheduledSetKey = "btu:scheduled"

func jobKey(jobID string) string      { return "btu:job:" + jobID }
func scheduleIndexKey(id string) string { return "btu:schedule_jobs:" + id }

// Hints carries per-schedule transport hints through to the queue
// runtime unchanged.
type Hints struct {
	RetryCount    int
	ResultTTLSecs int
}

// Enqueuer is the capability surface C7 and C9 depend on.
type Enqueuer interface {
	EnqueueAt(ctx context.Context, scheduleID, queueName, taskID string, payload []byte, firesAtUTC time.Time, hints Hints) (jobID string, err error)
	CancelAllFor(ctx context.Context, scheduleID string) error
}

// RedisEnqueuer is an Enqueuer backed by Redis, built in a
// redis.Cmdable-typed, context-aware, fmt.Errorf-wrapped style so it
// can be driven against a real client or a miniredis instance
// interchangeably in tests.
type RedisEnqueuer struct {
	rdb redis.Cmdable
}

// NewRedisEnqueuer wraps an already-configured redis.Cmdable.
func NewRedisEnqueuer(rdb redis.Cmdable) *RedisEnqueuer {
	return &RedisEnqueuer{rdb: rdb}
}

// EnqueueAt writes a new scheduled job and removes any previously
// scheduled job for the same schedule id first, so exactly one future
// job exists per schedule id at any time.
func (e *RedisEnqueuer) EnqueueAt(ctx context.Context, scheduleID, queueName, taskID string, payload []byte, firesAtUTC time.Time, hints Hints) (string, error) {
	if err := e.CancelAllFor(ctx, scheduleID); err != nil {
		return "", fmt.Errorf("clearing prior jobs for schedule %s: %w", scheduleID, err)
	}

	jobID := fmt.Sprintf("schedule.%s.%d", scheduleID, firesAtUTC.Unix())

	pipe := e.rdb.TxPipeline()
	pipe.HSet(ctx, jobKey(jobID), map[string]any{
		"schedule_id":     scheduleID,
		"queue_name":      queueName,
		"task_id":         taskID,
		"payload":         payload,
		"fires_at_utc":    firesAtUTC.Unix(),
		"retry_count":     hints.RetryCount,
		"result_ttl_secs": hints.ResultTTLSecs,
	})
	pipe.ZAdd(ctx, scheduledSetKey, redis.Z{Score: float64(firesAtUTC.Unix()), Member: jobID})
	pipe.SAdd(ctx, scheduleIndexKey(scheduleID), jobID)

	if _, err := pipe.Exec(ctx); err != nil {
		return "", fmt.Errorf("writing scheduled job for schedule %s: %w", scheduleID, err)
	}

	return jobID, nil
}

// CancelAllFor removes every future scheduled job for scheduleID.
func (e *RedisEnqueuer) CancelAllFor(ctx context.Context, scheduleID string) error {
	indexKey := scheduleIndexKey(scheduleID)

	jobIDs, err := e.rdb.SMembers(ctx, indexKey).Result()
	if err != nil && err != redis.Nil {
		return fmt.Errorf("listing jobs for schedule %s: %w", scheduleID, err)
	}
	if len(jobIDs) == 0 {
		return nil
	}

	pipe := e.rdb.TxPipeline()
	for _, jobID := range jobIDs {
		pipe.Del(ctx, jobKey(jobID))
		pipe.ZRem(ctx, scheduledSetKey, jobID)
	}
	pipe.Del(ctx, indexKey)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("cancelling jobs for schedule %s: %w", scheduleID, err)
	}
	return nil
}

// jobIDScheduleID extracts the schedule id from a "schedule.<id>.<epoch>"
// job id.
func jobIDScheduleID(jobID string) (string, bool) {
	if !strings.HasPrefix(jobID, "schedule.") {
		return "", false
	}
	rest := strings.TrimPrefix(jobID, "schedule.")
	idx := strings.LastIndexByte(rest, '.')
	if idx < 0 {
		return "", false
	}
	if _, err := strconv.ParseInt(rest[idx+1:], 10, 64); err != nil {
		return "", false
	}
	return rest[:idx], true
}
