// Package source implements the Source Reader (C2): fetching one or all
// enabled Schedule rows from the relational system-of-record.
package source

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/btu-sched/daemon/internal/schedule"
)

// ErrNotFound is returned by ReadOne when no row exists for the given id.
var ErrNotFound = errors.New("schedule not found")

// QueryTimeout is the per-query timeout, in seconds. MySQLReader does not
// apply it itself: each query runs under the deadline of the ctx its
// caller passes in.
const QueryTimeout = 5

// Reader is the capability surface C7, C8, and C9 depend on. Implementations
// must treat errors as transient-retriable from the caller's perspective;
// there is no cached fallback.
type Reader interface {
	ReadOne(ctx context.Context, id string) (schedule.Schedule, error)
	ReadAllEnabled(ctx context.Context) ([]schedule.Schedule, error)
}

// MySQLReader is a Reader backed by the MySQL system-of-record: one
// struct wrapping *sql.DB, one method per query, sql.Null* scanning for
// optional columns, fmt.Errorf wrapping.
type MySQLReader struct {
	db *sql.DB
}

// NewMySQLReader wraps an already-open *sql.DB (opened with the
// go-sql-driver/mysql DSN from config.MySQLConfig.DSN).
func NewMySQLReader(db *sql.DB) *MySQLReader {
	return &MySQLReader{db: db}
}

const selectColumns = `id, enabled, cron_local, time_zone, queue_name, task_id, retry_count, result_ttl_secs`

// ReadOne fetches a single schedule row by id.
func (r *MySQLReader) ReadOne(ctx context.Context, id string) (schedule.Schedule, error) {
	query := `SELECT ` + selectColumns + ` FROM schedules WHERE id = ?`

	row := r.db.QueryRowContext(ctx, query, id)
	sch, err := scanSchedule(row)
	if errors.Is(err, sql.ErrNoRows) {
		return schedule.Schedule{}, ErrNotFound
	}
	if err != nil {
		return schedule.Schedule{}, fmt.Errorf("reading schedule %s: %w", id, err)
	}
	return sch, nil
}

// ReadAllEnabled fetches every enabled schedule row.
func (r *MySQLReader) ReadAllEnabled(ctx context.Context) ([]schedule.Schedule, error) {
	query := `SELECT ` + selectColumns + ` FROM schedules WHERE enabled = 1`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("listing enabled schedules: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []schedule.Schedule
	for rows.Next() {
		sch, err := scanSchedule(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning schedule row: %w", err)
		}
		out = append(out, sch)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating enabled schedules: %w", err)
	}
	return out, nil
}

// rowScanner is satisfied by both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanSchedule(s rowScanner) (schedule.Schedule, error) {
	var sch schedule.Schedule
	var retryCount, resultTTL sql.NullInt64

	err := s.Scan(
		&sch.ID, &sch.Enabled, &sch.CronLocal, &sch.TimeZone, &sch.QueueName,
		&sch.TaskID, &retryCount, &resultTTL,
	)
	if err != nil {
		return schedule.Schedule{}, err
	}

	sch.RetryCount = int(retryCount.Int64)
	sch.ResultTTLSecs = int(resultTTL.Int64)
	return sch, nil
}
