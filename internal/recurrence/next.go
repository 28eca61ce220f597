package recurrence

import "time"

// Safety bound on pattern scans. Generous enough for any real rule; stops
// runaway loops on rules that slipped past validation.
const maxScan = 5000

// Next returns the smallest occurrence of the pattern anchored at anchor
// that falls strictly after from, or false when the rule's UNTIL bound has
// been passed. The anchor itself is the pattern's first member, so callers
// wanting "on or after date d" pass from = d.AddDays(-1).
//
// Next is stateless. COUNT is deliberately not interpreted here; the caller
// owns the occurrence counter (see the lifecycle controller).
func Next(r Rule, anchor, from Date) (Date, bool) {
	if from.Before(anchor.AddDays(-1)) {
		from = anchor.AddDays(-1)
	}

	var next Date
	var ok bool
	switch r.Kind {
	case Daily:
		next, ok = nextByDays(anchor, from, r.Interval)
	case Weekly:
		next, ok = nextByDays(anchor, from, 7*r.Interval)
	case WeeklyOnDays:
		next, ok = nextWeeklyOnDays(r, anchor, from)
	case Monthly:
		next, ok = nextMonthly(r, anchor, from)
	case Yearly:
		next, ok = nextYearly(r, anchor, from)
	case MonthlyOrdinal:
		next, ok = nextMonthlyOrdinal(r, anchor, from)
	}
	if !ok {
		return Date{}, false
	}
	if r.Until != nil && next.After(*r.Until) {
		return Date{}, false
	}
	return next, true
}

// Generate accumulates up to max occurrences by repeated Next calls,
// starting at the anchor, optionally bounded by until. Preview and test use
// only; production materializes one occurrence at a time.
func Generate(r Rule, anchor Date, max int, until *Date) []Date {
	var out []Date
	from := anchor.AddDays(-1)
	for len(out) < max {
		next, ok := Next(r, anchor, from)
		if !ok {
			break
		}
		if until != nil && next.After(*until) {
			break
		}
		out = append(out, next)
		from = next
	}
	return out
}

// nextByDays handles the fixed-stride kinds: occurrences are anchor + n*step
// days for n >= 0.
func nextByDays(anchor, from Date, step int) (Date, bool) {
	if step < 1 {
		return Date{}, false
	}
	elapsed := from.DaysSince(anchor)
	n := 0
	if elapsed >= 0 {
		n = elapsed/step + 1
	}
	return anchor.AddDays(n * step), true
}

// nextWeeklyOnDays scans forward day-by-day from from+1, restricted to the
// rule's weekday set. With interval > 1 only weeks aligned to the anchor's
// week count; hitting a non-aligned week jumps straight to the next aligned
// Monday.
func nextWeeklyOnDays(r Rule, anchor, from Date) (Date, bool) {
	if r.Interval < 1 || len(r.Days) == 0 {
		return Date{}, false
	}

	anchorWeek := mondayOf(anchor)
	cur := from.AddDays(1)
	if cur.Before(anchor) {
		cur = anchor
	}

	for i := 0; i < maxScan; i++ {
		week := mondayOf(cur)
		weeks := week.DaysSince(anchorWeek) / 7
		if rem := weeks % r.Interval; rem != 0 {
			cur = week.AddDays((r.Interval - rem) * 7)
			continue
		}
		if containsDay(r.Days, cur.Weekday()) {
			return cur, true
		}
		cur = cur.AddDays(1)
	}
	return Date{}, false
}

// nextMonthly walks months aligned to the anchor month in interval strides.
// The anchor's day-of-month is preserved across the walk and clamped per
// target month, so a day-31 rule yields Jan 31, Feb 28, Mar 31 rather than
// drifting down to 28.
func nextMonthly(r Rule, anchor, from Date) (Date, bool) {
	if r.Interval < 1 {
		return Date{}, false
	}
	start := alignedMonth(anchor, from, r.Interval)
	for i := 0; i < maxScan; i++ {
		year, month := monthAt(start + i*r.Interval)
		cand := Date{Year: year, Month: month, Day: clampDay(year, month, anchor.Day)}
		if cand.After(from) {
			return cand, true
		}
	}
	return Date{}, false
}

func nextYearly(r Rule, anchor, from Date) (Date, bool) {
	if r.Interval < 1 {
		return Date{}, false
	}
	start := anchor.Year
	if from.Year > anchor.Year {
		start = anchor.Year + (from.Year-anchor.Year)/r.Interval*r.Interval
	}
	for i := 0; i < maxScan; i++ {
		year := start + i*r.Interval
		cand := Date{Year: year, Month: anchor.Month, Day: clampDay(year, anchor.Month, anchor.Day)}
		if cand.After(from) {
			return cand, true
		}
	}
	return Date{}, false
}

// nextMonthlyOrdinal walks aligned months looking for the first/..../last
// occurrence of the rule's weekday inside each.
func nextMonthlyOrdinal(r Rule, anchor, from Date) (Date, bool) {
	if r.Interval < 1 {
		return Date{}, false
	}
	start := alignedMonth(anchor, from, r.Interval)
	for i := 0; i < maxScan; i++ {
		year, month := monthAt(start + i*r.Interval)
		cand, ok := ordinalWeekday(year, month, r.Ordinal, r.Weekday)
		if ok && cand.After(from) {
			return cand, true
		}
	}
	return Date{}, false
}

// ordinalWeekday returns the nth (1..4, -1 = last) given weekday of the
// month, false when the month has no nth occurrence.
func ordinalWeekday(year int, month time.Month, ordinal int, wd time.Weekday) (Date, bool) {
	first := Date{Year: year, Month: month, Day: 1}
	firstHit := 1 + (int(wd)-int(first.Weekday())+7)%7
	last := daysInMonth(year, month)

	if ordinal == -1 {
		day := firstHit
		for day+7 <= last {
			day += 7
		}
		return Date{Year: year, Month: month, Day: day}, true
	}

	day := firstHit + (ordinal-1)*7
	if day > last {
		return Date{}, false
	}
	return Date{Year: year, Month: month, Day: day}, true
}

// alignedMonth returns the month index (year*12 + month) of the latest
// anchor-aligned month at or before from's month, never earlier than the
// anchor's own month.
func alignedMonth(anchor, from Date, interval int) int {
	anchorIdx := monthIndex(anchor)
	fromIdx := monthIndex(from)
	if fromIdx <= anchorIdx {
		return anchorIdx
	}
	return anchorIdx + (fromIdx-anchorIdx)/interval*interval
}

func monthIndex(d Date) int {
	return d.Year*12 + int(d.Month) - 1
}

func monthAt(idx int) (int, time.Month) {
	return idx / 12, time.Month(idx%12 + 1)
}

func containsDay(days []time.Weekday, d time.Weekday) bool {
	for _, x := range days {
		if x == d {
			return true
		}
	}
	return false
}
