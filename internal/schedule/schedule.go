// Package schedule defines the canonical in-memory Schedule record and
// its validation rule: the cron expression and time zone must both be
// well-formed before anything downstream relies on them.
package schedule

import (
	"fmt"
	"time"

	"github.com/btu-sched/daemon/internal/cronengine"
)

// Schedule is the in-memory record for one row of the system-of-record.
type Schedule struct {
	ID             string
	Enabled        bool
	CronLocal      string
	TimeZone       string
	QueueName      string
	TaskID         string
	RetryCount     int
	ResultTTLSecs  int
}

// Validated holds a Schedule alongside the artifacts its cron_local and
// time_zone fields normalise to, so downstream components (C6, C7, C9)
// never re-parse them.
type Validated struct {
	Schedule
	Cron7    cronengine.Cron7
	Location *time.Location
}

// Validate enforces invariant S-1: cron_local must normalise and
// time_zone must resolve to a known IANA zone. Invalid schedules are
// rejected here and never reach C6.
func Validate(s Schedule) (Validated, error) {
	cron7, err := cronengine.Normalise(s.CronLocal)
	if err != nil {
		return Validated{}, fmt.Errorf("schedule %s: %w", s.ID, err)
	}

	loc, err := time.LoadLocation(s.TimeZone)
	if err != nil {
		return Validated{}, fmt.Errorf("schedule %s: unknown time zone %q: %w", s.ID, s.TimeZone, err)
	}

	return Validated{Schedule: s, Cron7: cron7, Location: loc}, nil
}
