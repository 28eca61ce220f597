package recurrence

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ErrInvalidRule marks rules rejected at construction. Callers test with
// errors.Is; the wrapped message carries the specific problem.
var ErrInvalidRule = errors.New("invalid recurrence rule")

type Kind int

const (
	Daily Kind = iota
	Weekly
	Monthly
	Yearly
	WeeklyOnDays
	MonthlyOrdinal
)

func (k Kind) String() string {
	switch k {
	case Daily:
		return "daily"
	case Weekly:
		return "weekly"
	case Monthly:
		return "monthly"
	case Yearly:
		return "yearly"
	case WeeklyOnDays:
		return "weekly-on-days"
	case MonthlyOrdinal:
		return "monthly-ordinal"
	}
	return "unknown"
}

var dayNames = map[string]time.Weekday{
	"SU": time.Sunday,
	"MO": time.Monday,
	"TU": time.Tuesday,
	"WE": time.Wednesday,
	"TH": time.Thursday,
	"FR": time.Friday,
	"SA": time.Saturday,
}

var dayAbbrev = map[time.Weekday]string{
	time.Sunday:    "SU",
	time.Monday:    "MO",
	time.Tuesday:   "TU",
	time.Wednesday: "WE",
	time.Thursday:  "TH",
	time.Friday:    "FR",
	time.Saturday:  "SA",
}

var ordinalNames = map[int]string{
	1:  "first",
	2:  "second",
	3:  "third",
	4:  "fourth",
	-1: "last",
}

// Rule describes a recurrence pattern. The anchor date the pattern hangs off
// is not part of the rule; it travels with the reminder.
type Rule struct {
	Kind     Kind
	Interval int            // every n days/weeks/months/years; must be >= 1
	Days     []time.Weekday // WeeklyOnDays: which weekdays, Monday-first order
	Ordinal  int            // MonthlyOrdinal: 1..4, or -1 for last
	Weekday  time.Weekday   // MonthlyOrdinal: which weekday
	Count    int            // stop after n occurrences (0 = no limit)
	Until    *Date          // stop after this date (nil = no limit)
}

// Parse parses the stored rule form, e.g. "FREQ=WEEKLY;BYDAY=MO,WE;INTERVAL=2"
// or "FREQ=MONTHLY;BYDAY=1MO". The result is validated; malformed rules are
// rejected here, never sanitized.
func Parse(rule string) (Rule, error) {
	if rule == "" {
		return Rule{}, fmt.Errorf("%w: empty rule", ErrInvalidRule)
	}

	r := Rule{Interval: 1}
	var freq string
	var byDay []string

	for _, part := range strings.Split(rule, ";") {
		kv := strings.SplitN(part, "=", 2)
		if len(kv) != 2 {
			return Rule{}, fmt.Errorf("%w: malformed part %q", ErrInvalidRule, part)
		}
		key, val := kv[0], kv[1]

		switch key {
		case "FREQ":
			freq = val

		case "INTERVAL":
			n, err := strconv.Atoi(val)
			if err != nil {
				return Rule{}, fmt.Errorf("%w: interval %q", ErrInvalidRule, val)
			}
			r.Interval = n

		case "BYDAY":
			for _, tok := range strings.Split(val, ",") {
				byDay = append(byDay, strings.TrimSpace(tok))
			}

		case "COUNT":
			n, err := strconv.Atoi(val)
			if err != nil || n < 1 {
				return Rule{}, fmt.Errorf("%w: count %q", ErrInvalidRule, val)
			}
			r.Count = n

		case "UNTIL":
			t, err := time.Parse("20060102", val)
			if err != nil {
				return Rule{}, fmt.Errorf("%w: until %q", ErrInvalidRule, val)
			}
			d := DateOf(t)
			r.Until = &d

		default:
			return Rule{}, fmt.Errorf("%w: unsupported key %q", ErrInvalidRule, key)
		}
	}

	if err := applyFreq(&r, freq, byDay); err != nil {
		return Rule{}, err
	}
	if err := r.Validate(); err != nil {
		return Rule{}, err
	}
	return r, nil
}

// applyFreq derives the rule kind from FREQ plus the shape of BYDAY.
func applyFreq(r *Rule, freq string, byDay []string) error {
	switch freq {
	case "DAILY":
		if len(byDay) > 0 {
			return fmt.Errorf("%w: BYDAY not valid with FREQ=DAILY", ErrInvalidRule)
		}
		r.Kind = Daily

	case "WEEKLY":
		if len(byDay) == 0 {
			r.Kind = Weekly
			return nil
		}
		r.Kind = WeeklyOnDays
		for _, tok := range byDay {
			wd, ok := dayNames[tok]
			if !ok {
				return fmt.Errorf("%w: unknown day %q", ErrInvalidRule, tok)
			}
			r.Days = append(r.Days, wd)
		}
		r.Days = sortDays(r.Days)

	case "MONTHLY":
		if len(byDay) == 0 {
			r.Kind = Monthly
			return nil
		}
		if len(byDay) != 1 {
			return fmt.Errorf("%w: FREQ=MONTHLY takes one ordinal BYDAY", ErrInvalidRule)
		}
		ord, wd, err := parseOrdinalDay(byDay[0])
		if err != nil {
			return err
		}
		r.Kind = MonthlyOrdinal
		r.Ordinal = ord
		r.Weekday = wd

	case "YEARLY":
		if len(byDay) > 0 {
			return fmt.Errorf("%w: BYDAY not valid with FREQ=YEARLY", ErrInvalidRule)
		}
		r.Kind = Yearly

	case "":
		return fmt.Errorf("%w: FREQ is required", ErrInvalidRule)

	default:
		return fmt.Errorf("%w: unknown frequency %q", ErrInvalidRule, freq)
	}
	return nil
}

// parseOrdinalDay parses tokens like "1MO", "4TH", "-1FR".
func parseOrdinalDay(tok string) (int, time.Weekday, error) {
	if len(tok) < 3 {
		return 0, 0, fmt.Errorf("%w: ordinal day %q", ErrInvalidRule, tok)
	}
	ord, err := strconv.Atoi(tok[:len(tok)-2])
	if err != nil {
		return 0, 0, fmt.Errorf("%w: ordinal day %q", ErrInvalidRule, tok)
	}
	wd, ok := dayNames[tok[len(tok)-2:]]
	if !ok {
		return 0, 0, fmt.Errorf("%w: ordinal day %q", ErrInvalidRule, tok)
	}
	return ord, wd, nil
}

// Validate rejects rules the generator cannot safely run: non-positive
// intervals, empty day sets, out-of-range ordinals, contradictory end
// conditions.
func (r Rule) Validate() error {
	if r.Interval < 1 {
		return fmt.Errorf("%w: interval must be at least 1, got %d", ErrInvalidRule, r.Interval)
	}
	if r.Count < 0 {
		return fmt.Errorf("%w: count must not be negative", ErrInvalidRule)
	}
	if r.Count > 0 && r.Until != nil {
		return fmt.Errorf("%w: COUNT and UNTIL are mutually exclusive", ErrInvalidRule)
	}

	switch r.Kind {
	case Daily, Weekly, Monthly, Yearly:
		if len(r.Days) > 0 {
			return fmt.Errorf("%w: day set not valid for %s rules", ErrInvalidRule, r.Kind)
		}
		if r.Ordinal != 0 {
			return fmt.Errorf("%w: ordinal not valid for %s rules", ErrInvalidRule, r.Kind)
		}
	case WeeklyOnDays:
		if len(r.Days) == 0 {
			return fmt.Errorf("%w: weekly-on-days needs at least one weekday", ErrInvalidRule)
		}
	case MonthlyOrdinal:
		if r.Ordinal != -1 && (r.Ordinal < 1 || r.Ordinal > 4) {
			return fmt.Errorf("%w: ordinal must be 1..4 or -1, got %d", ErrInvalidRule, r.Ordinal)
		}
	default:
		return fmt.Errorf("%w: unknown kind %d", ErrInvalidRule, int(r.Kind))
	}
	return nil
}

// String serializes the rule back to its stored form. Parse(r.String())
// round-trips for any valid rule.
func (r Rule) String() string {
	var parts []string

	switch r.Kind {
	case Daily:
		parts = append(parts, "FREQ=DAILY")
	case Weekly:
		parts = append(parts, "FREQ=WEEKLY")
	case WeeklyOnDays:
		var days []string
		for _, d := range sortDays(r.Days) {
			days = append(days, dayAbbrev[d])
		}
		parts = append(parts, "FREQ=WEEKLY", "BYDAY="+strings.Join(days, ","))
	case Monthly:
		parts = append(parts, "FREQ=MONTHLY")
	case MonthlyOrdinal:
		parts = append(parts, "FREQ=MONTHLY", fmt.Sprintf("BYDAY=%d%s", r.Ordinal, dayAbbrev[r.Weekday]))
	case Yearly:
		parts = append(parts, "FREQ=YEARLY")
	}

	if r.Interval > 1 {
		parts = append(parts, fmt.Sprintf("INTERVAL=%d", r.Interval))
	}
	if r.Count > 0 {
		parts = append(parts, fmt.Sprintf("COUNT=%d", r.Count))
	}
	if r.Until != nil {
		parts = append(parts, "UNTIL="+r.Until.Time(time.UTC).Format("20060102"))
	}

	return strings.Join(parts, ";")
}

// Describe returns a human-readable description of the rule.
func (r Rule) Describe() string {
	var desc string
	switch r.Kind {
	case Daily:
		desc = every(r.Interval, "day")
	case Weekly:
		desc = every(r.Interval, "week")
	case WeeklyOnDays:
		var names []string
		for _, d := range sortDays(r.Days) {
			names = append(names, d.String()[:3])
		}
		desc = every(r.Interval, "week") + " on " + strings.Join(names, ", ")
	case Monthly:
		desc = every(r.Interval, "month")
	case MonthlyOrdinal:
		desc = fmt.Sprintf("%s on the %s %s", every(r.Interval, "month"), ordinalNames[r.Ordinal], r.Weekday)
	case Yearly:
		desc = every(r.Interval, "year")
	default:
		return ""
	}

	if r.Count > 0 {
		desc += fmt.Sprintf(", %d times", r.Count)
	}
	if r.Until != nil {
		desc += ", until " + r.Until.String()
	}
	return desc
}

func every(interval int, unit string) string {
	if interval > 1 {
		return fmt.Sprintf("Repeats every %d %ss", interval, unit)
	}
	if unit == "day" {
		return "Repeats daily"
	}
	return "Repeats " + unit + "ly"
}

// sortDays returns a Monday-first, de-duplicated copy of days.
func sortDays(days []time.Weekday) []time.Weekday {
	seen := make(map[time.Weekday]bool, len(days))
	var out []time.Weekday
	for _, d := range days {
		if !seen[d] {
			seen[d] = true
			out = append(out, d)
		}
	}
	mondayIdx := func(d time.Weekday) int { return (int(d) + 6) % 7 }
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && mondayIdx(out[j]) < mondayIdx(out[j-1]); j-- {
			out[j], out[j-1] = out[j-1], out[j]
		}
	}
	return out
}
