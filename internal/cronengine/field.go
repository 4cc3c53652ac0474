package cronengine

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/robfig/cron/v3"
)

// fieldSpec is the matcher for one of Cron7's seven fields. Rather than a
// fixed-size bitset (as robfig/cron uses internally for its five fields),
// a set keyed by value is used: the year field's domain is otherwise
// inconveniently large to preallocate for, and every other field is small
// enough that the map overhead is irrelevant at normalisation time.
type fieldSpec struct {
	any bool
	set map[int]bool
}

func (f fieldSpec) match(v int) bool {
	if f.any {
		return true
	}
	return f.set[v]
}

// robfigAliasParser resolves the JAN..DEC/SUN..SAT name tables below by
// asking robfig/cron's own standard parser to interpret them, rather than
// hand-copying a literal translation table. robfig/cron cannot serve as
// Cron7's matcher (see cron7.go: no year field, 0-indexed Sunday, no
// DST-gap/ambiguity distinction), but its alias handling is real
// cron-parsing logic and is reused here instead of being reinvented.
var robfigAliasParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

var monthAbbrevs = []string{"JAN", "FEB", "MAR", "APR", "MAY", "JUN", "JUL", "AUG", "SEP", "OCT", "NOV", "DEC"}
var dowAbbrevs = []string{"SUN", "MON", "TUE", "WED", "THU", "FRI", "SAT"}

var monthNames = resolveMonthNames()
var dowNames = resolveDowNames()

// resolveMonthNames asks robfig/cron to parse each month alias in a probe
// expression, then finds which numeric month field (1..12) parses to the
// identical schedule, so the translation table reflects robfig/cron's own
// understanding of each alias rather than a separately maintained literal.
func resolveMonthNames() map[string]int {
	out := make(map[string]int, len(monthAbbrevs))
	for _, name := range monthAbbrevs {
		v, err := resolveAlias(name, 1, 12,
			func(token string) string { return fmt.Sprintf("0 0 1 %s *", token) },
			func(s *cron.SpecSchedule) uint64 { return s.Month })
		if err != nil {
			panic(fmt.Sprintf("resolving robfig/cron month alias %q: %v", name, err))
		}
		out[name] = v
	}
	return out
}

// resolveDowNames does the same for weekday aliases, then shifts
// robfig/cron's 0=Sunday..6=Saturday result onto Cron7's own
// 1=Sunday..7=Saturday convention.
func resolveDowNames() map[string]int {
	out := make(map[string]int, len(dowAbbrevs))
	for _, name := range dowAbbrevs {
		v, err := resolveAlias(name, 0, 6,
			func(token string) string { return fmt.Sprintf("0 0 1 1 %s", token) },
			func(s *cron.SpecSchedule) uint64 { return s.Dow })
		if err != nil {
			panic(fmt.Sprintf("resolving robfig/cron weekday alias %q: %v", name, err))
		}
		out[name] = v + 1
	}
	return out
}

// resolveAlias parses name through exprFor via robfig/cron, then tries
// every numeric value in [min,max] through the same exprFor template
// until one parses to an identical field bitmask, which is the numeric
// value robfig/cron considers equivalent to name.
func resolveAlias(name string, min, max int, exprFor func(string) string, field func(*cron.SpecSchedule) uint64) (int, error) {
	nameSched, err := robfigAliasParser.Parse(exprFor(name))
	if err != nil {
		return 0, fmt.Errorf("parsing alias %q: %w", name, err)
	}
	nameSpec, ok := nameSched.(*cron.SpecSchedule)
	if !ok {
		return 0, fmt.Errorf("unexpected schedule type %T for alias %q", nameSched, name)
	}

	for v := min; v <= max; v++ {
		numSched, err := robfigAliasParser.Parse(exprFor(strconv.Itoa(v)))
		if err != nil {
			continue
		}
		if numSpec, ok := numSched.(*cron.SpecSchedule); ok && field(numSpec) == field(nameSpec) {
			return v, nil
		}
	}
	return 0, fmt.Errorf("no numeric equivalent in [%d,%d] for alias %q", min, max, name)
}

// parseField parses one comma-separated cron field into a fieldSpec.
// Each comma-separated term is one of: "*", "*/step", "value", "a-b",
// or "a-b/step". Named tokens (month/weekday abbreviations) are resolved
// via names before falling back to strconv.Atoi.
func parseField(token string, min, max int, names map[string]int) (fieldSpec, error) {
	spec := fieldSpec{set: make(map[int]bool)}

	for _, term := range strings.Split(token, ",") {
		if term == "" {
			return fieldSpec{}, fmt.Errorf("empty term in field %q", token)
		}

		base := term
		step := 1
		if idx := strings.IndexByte(term, '/'); idx >= 0 {
			base = term[:idx]
			stepVal, err := strconv.Atoi(term[idx+1:])
			if err != nil || stepVal <= 0 {
				return fieldSpec{}, fmt.Errorf("invalid step in term %q", term)
			}
			step = stepVal
		}

		var start, end int
		switch {
		case base == "*" || base == "?":
			if step == 1 {
				spec.any = true
			}
			start, end = min, max
		case strings.Contains(base, "-"):
			parts := strings.SplitN(base, "-", 2)
			a, err := resolveValue(parts[0], names)
			if err != nil {
				return fieldSpec{}, err
			}
			b, err := resolveValue(parts[1], names)
			if err != nil {
				return fieldSpec{}, err
			}
			start, end = a, b
		default:
			v, err := resolveValue(base, names)
			if err != nil {
				return fieldSpec{}, err
			}
			start, end = v, v
		}

		if start < min || start > max || end < min || end > max {
			return fieldSpec{}, fmt.Errorf("term %q out of range [%d,%d]", term, min, max)
		}

		if start <= end {
			for v := start; v <= end; v += step {
				spec.set[v] = true
			}
		} else {
			// Wrap-around range, e.g. a weekday range "6-2".
			span := (max - start + 1) + (end - min + 1)
			for pos := 0; pos < span; pos += step {
				actual := start + pos
				if actual > max {
					actual = min + (actual - max - 1)
				}
				spec.set[actual] = true
			}
		}
	}

	if len(spec.set) == 0 && !spec.any {
		return fieldSpec{}, fmt.Errorf("field %q matches no values", token)
	}

	return spec, nil
}

func resolveValue(tok string, names map[string]int) (int, error) {
	upper := strings.ToUpper(strings.TrimSpace(tok))
	if names != nil {
		if v, ok := names[upper]; ok {
			return v, nil
		}
	}
	v, err := strconv.Atoi(tok)
	if err != nil {
		return 0, fmt.Errorf("invalid value %q", tok)
	}
	return v, nil
}
