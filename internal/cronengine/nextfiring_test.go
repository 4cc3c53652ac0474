package cronengine

import (
	"testing"
	"time"
)

func losAngeles(t *testing.T) *time.Location {
	t.Helper()
	loc, err := time.LoadLocation("America/Los_Angeles")
	if err != nil {
		t.Skipf("tzdata unavailable: %v", err)
	}
	return loc
}

// TestNextNFirings_Monotonic checks that successive firings strictly
// increase, for a handful of representative cron shapes.
func TestNextNFirings_Monotonic(t *testing.T) {
	loc := losAngeles(t)
	exprs := []string{
		"* * * * *",
		"0 */15 * * * *",
		"0 0 9 * * 2 *",
		"0 30 7 1 * * *",
	}

	for _, expr := range exprs {
		t.Run(expr, func(t *testing.T) {
			c7, err := Normalise(expr)
			if err != nil {
				t.Fatalf("Normalise(%q): %v", expr, err)
			}

			now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
			firings, _ := NextNFirings(c7, loc, now, 5)
			if len(firings) < 2 {
				t.Fatalf("expected at least 2 firings, got %d", len(firings))
			}
			for i := 1; i < len(firings); i++ {
				if !firings[i].After(firings[i-1]) {
					t.Fatalf("firing %d (%v) did not strictly increase over firing %d (%v)",
						i, firings[i], i-1, firings[i-1])
				}
			}
		})
	}
}

// TestNextNFirings_SpringForward checks that a 7am local cron lands at
// 15:00 UTC the day before the spring-forward transition and at 14:00 UTC
// on the transition day itself.
func TestNextNFirings_SpringForward(t *testing.T) {
	loc := losAngeles(t)
	c7, err := Normalise("0 0 7 * * * *")
	if err != nil {
		t.Fatalf("Normalise: %v", err)
	}

	// 2026-03-08 is the US spring-forward date: 2:00am local skips to 3:00am.
	before := time.Date(2026, 3, 7, 0, 0, 0, 0, time.UTC)
	firings, inert := NextNFirings(c7, loc, before, 2)
	if inert {
		t.Fatal("did not expect an inert schedule")
	}
	if len(firings) != 2 {
		t.Fatalf("expected 2 firings, got %d", len(firings))
	}

	// Before the transition, PST is UTC-8, so 7am local is 15:00 UTC.
	wantFirst := time.Date(2026, 3, 7, 15, 0, 0, 0, time.UTC)
	if !firings[0].Equal(wantFirst) {
		t.Errorf("first firing = %v, want %v", firings[0], wantFirst)
	}

	// After the transition, PDT is UTC-7, so 7am local is 14:00 UTC.
	wantSecond := time.Date(2026, 3, 8, 14, 0, 0, 0, time.UTC)
	if !firings[1].Equal(wantSecond) {
		t.Errorf("second firing = %v, want %v", firings[1], wantSecond)
	}
}

// TestNextNFirings_FallBack checks that an ambiguous local reading during
// fall-back resolves to the earlier UTC instant.
func TestNextNFirings_FallBack(t *testing.T) {
	loc := losAngeles(t)
	c7, err := Normalise("0 0 1 * * * *")
	if err != nil {
		t.Fatalf("Normalise: %v", err)
	}

	// 2026-11-01 is the US fall-back date: 1:00-2:00am local occurs twice.
	// Start from 2026-10-31 17:00 PDT so the next 1:00am reading is the
	// one on the fall-back day itself.
	before := time.Date(2026, 11, 1, 0, 0, 0, 0, time.UTC)
	firings, inert := NextNFirings(c7, loc, before, 1)
	if inert {
		t.Fatal("did not expect an inert schedule")
	}
	if len(firings) != 1 {
		t.Fatalf("expected 1 firing, got %d", len(firings))
	}

	// PDT (UTC-7) is still in effect at 1:00am local on the fall-back day
	// itself (the clock only rolls back after 2:00am), so the earlier of
	// the two 1:00am readings is the PDT one: 08:00 UTC.
	want := time.Date(2026, 11, 1, 8, 0, 0, 0, time.UTC)
	if !firings[0].Equal(want) {
		t.Errorf("firing = %v, want %v", firings[0], want)
	}
}

func TestNextNFirings_InertBeyondHorizon(t *testing.T) {
	loc := losAngeles(t)
	// Feb 30th never exists: dom=30 combined with month=FEB can never match.
	c7, err := Normalise("0 0 7 30 FEB * *")
	if err != nil {
		t.Fatalf("Normalise: %v", err)
	}

	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	firings, inert := NextNFirings(c7, loc, now, 1)
	if !inert {
		t.Fatal("expected schedule to be inert")
	}
	if len(firings) != 0 {
		t.Fatalf("expected no firings, got %d", len(firings))
	}
}
