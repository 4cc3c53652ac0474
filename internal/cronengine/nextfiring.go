package cronengine

import "time"

// Horizon is how far forward the search for a firing will look before the
// cron is declared inert: if no firing exists within four years, return
// fewer than n firings and mark the cron inert.
const Horizon = 4 * 365 * 24 * time.Hour

// maxSteps bounds the per-candidate increment loop so a pathological
// field combination cannot spin forever inside the horizon window.
const maxSteps = 10_000_000

// NextNFirings returns the first n UTC instants, strictly after nowUTC,
// at which cron7 (interpreted as local wall-clock time in loc) fires.
// If fewer than n firings exist within Horizon, the returned slice is
// shorter than n and inert is true.
func NextNFirings(cron7 Cron7, loc *time.Location, nowUTC time.Time, n int) (firings []time.Time, inert bool) {
	horizon := nowUTC.Add(Horizon)
	after := nowUTC

	for len(firings) < n {
		t, ok := nextFiring(cron7, loc, after, horizon)
		if !ok {
			return firings, true
		}
		firings = append(firings, t)
		after = t
	}
	return firings, false
}

// nextFiring finds the earliest UTC instant strictly after afterUTC, and
// no later than horizonUTC, at which cron7 fires local wall-clock time in
// loc. It walks candidate (year, month, day, hour, minute, second) tuples
// forward field-by-field, the same shape of search ordinary cron
// matchers use, except each accepted calendar tuple is then resolved to
// a UTC instant through loc, skipping candidates that fall in a
// spring-forward gap and collapsing a fall-back ambiguity to its earlier
// UTC interpretation.
func nextFiring(cron7 Cron7, loc *time.Location, afterUTC, horizonUTC time.Time) (time.Time, bool) {
	localStart := afterUTC.In(loc).Add(time.Second)
	y, moT, d := localStart.Date()
	mo := int(moT)
	hh, mm, ss := localStart.Clock()

	for step := 0; step < maxSteps; step++ {
		candidateUpper := time.Date(y, time.Month(mo), d, hh, mm, ss, 0, loc)
		if candidateUpper.After(horizonUTC) {
			return time.Time{}, false
		}

		if !cron7.Year.match(y) {
			y++
			mo, d, hh, mm, ss = 1, 1, 0, 0, 0
			continue
		}

		if !cron7.Month.match(mo) {
			mo++
			if mo > 12 {
				mo = 1
				y++
			}
			d, hh, mm, ss = 1, 0, 0, 0
			continue
		}

		if !dayMatches(cron7, y, mo, d) {
			y, mo, d = addDays(y, mo, d, 1)
			hh, mm, ss = 0, 0, 0
			continue
		}

		if !cron7.Hours.match(hh) {
			hh++
			mm, ss = 0, 0
			if hh > 23 {
				hh = 0
				y, mo, d = addDays(y, mo, d, 1)
			}
			continue
		}

		if !cron7.Minutes.match(mm) {
			mm++
			ss = 0
			if mm > 59 {
				mm = 0
				hh++
				if hh > 23 {
					hh = 0
					y, mo, d = addDays(y, mo, d, 1)
				}
			}
			continue
		}

		if !cron7.Seconds.match(ss) {
			ss++
			if ss > 59 {
				ss = 0
				mm++
				if mm > 59 {
					mm = 0
					hh++
					if hh > 23 {
						hh = 0
						y, mo, d = addDays(y, mo, d, 1)
					}
				}
			}
			continue
		}

		instant, existed, _ := resolveLocal(y, mo, d, hh, mm, ss, loc)
		if !existed {
			// Spring-forward gap: this wall-clock reading never happens.
			ss++
			if ss > 59 {
				ss = 0
				mm++
				if mm > 59 {
					mm = 0
					hh++
					if hh > 23 {
						hh = 0
						y, mo, d = addDays(y, mo, d, 1)
					}
				}
			}
			continue
		}

		if !instant.After(afterUTC) {
			// Guards against a pathological loc/afterUTC combination that
			// would otherwise re-emit the same instant.
			ss++
			continue
		}

		return instant, true
	}

	return time.Time{}, false
}

// dayMatches applies cron's day-of-month/day-of-week OR semantics: if
// both fields are restricted (non-wildcard), a day matching either one
// is accepted; if only one is restricted, that one alone governs.
func dayMatches(c Cron7, y, mo, d int) bool {
	domRestricted := !c.Dom.any
	dowRestricted := !c.Dow.any

	switch {
	case domRestricted && dowRestricted:
		return c.Dom.match(d) || c.Dow.match(weekday1to7(y, mo, d))
	case domRestricted:
		return c.Dom.match(d)
	case dowRestricted:
		return c.Dow.match(weekday1to7(y, mo, d))
	default:
		return true
	}
}

// weekday1to7 returns the day-of-week for (y, mo, d) in the
// 1=Sunday..7=Saturday convention Cron7 fields use.
func weekday1to7(y, mo, d int) int {
	return int(time.Date(y, time.Month(mo), d, 0, 0, 0, 0, time.UTC).Weekday()) + 1
}

// addDays advances a calendar date by n days using pure civil-calendar
// arithmetic (no zone involved, so it cannot itself straddle a DST
// transition).
func addDays(y, mo, d, n int) (int, int, int) {
	t := time.Date(y, time.Month(mo), d+n, 0, 0, 0, 0, time.UTC)
	yy, mm, dd := t.Date()
	return yy, int(mm), dd
}

// resolveLocal converts a local wall-clock reading to the UTC instant it
// denotes in loc. It probes the UTC offset in effect on the calendar day
// before and the day after the candidate (using the same wall-clock
// reading, which is only itself ambiguous/non-existent in exotic
// back-to-back-transition zones that do not occur in IANA data) to learn
// whether a DST transition falls on this day at all:
//
//   - offsets equal on both sides: ordinary day, single interpretation.
//   - both candidate instants round-trip to the requested wall clock:
//     fall-back ambiguity, the earlier of the two UTC instants is kept.
//   - exactly one round-trips: use it.
//   - neither round-trips: spring-forward gap, the wall-clock reading
//     never occurs.
func resolveLocal(y, mo, d, hh, mm, ss int, loc *time.Location) (instant time.Time, existed bool, ambiguous bool) {
	probeBefore := time.Date(y, time.Month(mo), d-1, hh, mm, ss, 0, loc)
	probeAfter := time.Date(y, time.Month(mo), d+1, hh, mm, ss, 0, loc)
	_, offBefore := probeBefore.Zone()
	_, offAfter := probeAfter.Zone()

	utcGuess := time.Date(y, time.Month(mo), d, hh, mm, ss, 0, time.UTC)
	candFor := func(off int) time.Time {
		return utcGuess.Add(-time.Duration(off) * time.Second)
	}
	matches := func(t time.Time) bool {
		lt := t.In(loc)
		ly, lmo, ld := lt.Date()
		lh, lm, ls := lt.Clock()
		return ly == y && int(lmo) == mo && ld == d && lh == hh && lm == mm && ls == ss
	}

	candBefore := candFor(offBefore)
	candAfter := candFor(offAfter)
	mBefore := matches(candBefore)
	mAfter := matches(candAfter)

	switch {
	case mBefore && mAfter:
		if offBefore == offAfter {
			return candBefore, true, false
		}
		if candBefore.Before(candAfter) {
			return candBefore, true, true
		}
		return candAfter, true, true
	case mBefore:
		return candBefore, true, false
	case mAfter:
		return candAfter, true, false
	default:
		return time.Time{}, false, false
	}
}
