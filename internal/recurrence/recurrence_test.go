package recurrence

import (
	"errors"
	"testing"
	"time"
)

func TestParseKinds(t *testing.T) {
	tests := []struct {
		input string
		kind  Kind
	}{
		{"FREQ=DAILY", Daily},
		{"FREQ=WEEKLY", Weekly},
		{"FREQ=WEEKLY;BYDAY=MO,WE,FR", WeeklyOnDays},
		{"FREQ=MONTHLY", Monthly},
		{"FREQ=MONTHLY;BYDAY=1MO", MonthlyOrdinal},
		{"FREQ=MONTHLY;BYDAY=-1FR", MonthlyOrdinal},
		{"FREQ=YEARLY", Yearly},
	}

	for _, tt := range tests {
		r, err := Parse(tt.input)
		if err != nil {
			t.Errorf("Parse(%q) error: %v", tt.input, err)
			continue
		}
		if r.Kind != tt.kind {
			t.Errorf("Parse(%q).Kind = %v, want %v", tt.input, r.Kind, tt.kind)
		}
		if r.Interval != 1 {
			t.Errorf("Parse(%q).Interval = %d, want 1", tt.input, r.Interval)
		}
	}
}

func TestParseWeeklyOnDays(t *testing.T) {
	r, err := Parse("FREQ=WEEKLY;BYDAY=FR,MO,WE;INTERVAL=2")
	if err != nil {
		t.Fatalf("Parse error: %v", err)
	}
	want := []time.Weekday{time.Monday, time.Wednesday, time.Friday}
	if len(r.Days) != len(want) {
		t.Fatalf("Days len = %d, want %d", len(r.Days), len(want))
	}
	for i, d := range r.Days {
		if d != want[i] {
			t.Errorf("Days[%d] = %v, want %v", i, d, want[i])
		}
	}
	if r.Interval != 2 {
		t.Errorf("Interval = %d, want 2", r.Interval)
	}
}

func TestParseMonthlyOrdinal(t *testing.T) {
	r, err := Parse("FREQ=MONTHLY;BYDAY=-1FR")
	if err != nil {
		t.Fatalf("Parse error: %v", err)
	}
	if r.Ordinal != -1 || r.Weekday != time.Friday {
		t.Errorf("got ordinal=%d weekday=%v, want -1 Friday", r.Ordinal, r.Weekday)
	}
}

func TestParseEndConditions(t *testing.T) {
	r, err := Parse("FREQ=DAILY;COUNT=5")
	if err != nil {
		t.Fatalf("Parse error: %v", err)
	}
	if r.Count != 5 {
		t.Errorf("Count = %d, want 5", r.Count)
	}

	r, err = Parse("FREQ=WEEKLY;UNTIL=20240630")
	if err != nil {
		t.Fatalf("Parse error: %v", err)
	}
	if r.Until == nil || !r.Until.Equal(NewDate(2024, time.June, 30)) {
		t.Errorf("Until = %v, want 2024-06-30", r.Until)
	}
}

func TestParseRejectsInvalid(t *testing.T) {
	tests := []string{
		"",
		"FREQ=HOURLY",
		"INTERVAL=2",
		"FREQ=DAILY;INTERVAL=0",
		"FREQ=DAILY;INTERVAL=-3",
		"FREQ=WEEKLY;BYDAY=XX",
		"FREQ=WEEKLY;BYDAY=",
		"FREQ=DAILY;BYDAY=MO",
		"FREQ=MONTHLY;BYDAY=5MO",
		"FREQ=MONTHLY;BYDAY=MO,WE",
		"FREQ=DAILY;COUNT=0",
		"FREQ=DAILY;COUNT=3;UNTIL=20250101",
		"FREQ=DAILY;BOGUS=1",
	}

	for _, input := range tests {
		if _, err := Parse(input); !errors.Is(err, ErrInvalidRule) {
			t.Errorf("Parse(%q) = %v, want ErrInvalidRule", input, err)
		}
	}
}

func TestValidateRejectsEmptyDaySet(t *testing.T) {
	r := Rule{Kind: WeeklyOnDays, Interval: 1}
	if err := r.Validate(); !errors.Is(err, ErrInvalidRule) {
		t.Errorf("Validate = %v, want ErrInvalidRule", err)
	}
}

func TestStringRoundTrip(t *testing.T) {
	tests := []string{
		"FREQ=DAILY",
		"FREQ=DAILY;INTERVAL=3",
		"FREQ=WEEKLY;BYDAY=MO,WE,FR;INTERVAL=2",
		"FREQ=MONTHLY;BYDAY=1MO",
		"FREQ=MONTHLY;BYDAY=-1FR;INTERVAL=6",
		"FREQ=YEARLY;COUNT=10",
		"FREQ=WEEKLY;UNTIL=20251231",
	}

	for _, input := range tests {
		r, err := Parse(input)
		if err != nil {
			t.Fatalf("Parse(%q): %v", input, err)
		}
		again, err := Parse(r.String())
		if err != nil {
			t.Fatalf("Parse(String) for %q: %v", input, err)
		}
		if again.String() != r.String() {
			t.Errorf("round trip %q: got %q then %q", input, r.String(), again.String())
		}
	}
}

func TestDescribe(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"FREQ=DAILY", "Repeats daily"},
		{"FREQ=DAILY;INTERVAL=2", "Repeats every 2 days"},
		{"FREQ=WEEKLY;BYDAY=MO,WE", "Repeats weekly on Mon, Wed"},
		{"FREQ=MONTHLY;BYDAY=1MO", "Repeats monthly on the first Monday"},
		{"FREQ=MONTHLY;BYDAY=-1FR", "Repeats monthly on the last Friday"},
		{"FREQ=YEARLY;COUNT=3", "Repeats yearly, 3 times"},
	}

	for _, tt := range tests {
		r, err := Parse(tt.input)
		if err != nil {
			t.Fatalf("Parse(%q): %v", tt.input, err)
		}
		if got := r.Describe(); got != tt.want {
			t.Errorf("Describe(%q) = %q, want %q", tt.input, got, tt.want)
		}
	}
}

func TestNextDaily(t *testing.T) {
	rule := Rule{Kind: Daily, Interval: 1}
	anchor := NewDate(2024, time.January, 15)

	next, ok := Next(rule, anchor, anchor)
	if !ok || !next.Equal(NewDate(2024, time.January, 16)) {
		t.Errorf("next after anchor = %v, want 2024-01-16", next)
	}

	// on-or-after semantics: from one day before the anchor yields the anchor
	next, ok = Next(rule, anchor, anchor.AddDays(-1))
	if !ok || !next.Equal(anchor) {
		t.Errorf("next from anchor-1 = %v, want anchor", next)
	}
}

func TestNextDailyIntervalLaw(t *testing.T) {
	anchor := NewDate(2024, time.March, 1)
	for _, k := range []int{1, 2, 5, 30} {
		rule := Rule{Kind: Daily, Interval: k}
		from := anchor
		for n := 1; n <= 20; n++ {
			next, ok := Next(rule, anchor, from)
			if !ok {
				t.Fatalf("interval %d: no occurrence at step %d", k, n)
			}
			want := anchor.AddDays(n * k)
			if !next.Equal(want) {
				t.Fatalf("interval %d step %d: got %v, want %v", k, n, next, want)
			}
			from = next
		}
	}
}

func TestNextWeekly(t *testing.T) {
	rule := Rule{Kind: Weekly, Interval: 2}
	anchor := NewDate(2024, time.January, 15)

	next, ok := Next(rule, anchor, anchor)
	if !ok || !next.Equal(NewDate(2024, time.January, 29)) {
		t.Errorf("biweekly next = %v, want 2024-01-29", next)
	}
}

func TestNextWeeklyOnDays(t *testing.T) {
	rule := Rule{
		Kind:     WeeklyOnDays,
		Interval: 1,
		Days:     []time.Weekday{time.Monday, time.Wednesday, time.Friday},
	}
	anchor := NewDate(2024, time.January, 15) // a Monday

	got := Generate(rule, anchor, 5, nil)
	want := []Date{
		NewDate(2024, time.January, 15),
		NewDate(2024, time.January, 17),
		NewDate(2024, time.January, 19),
		NewDate(2024, time.January, 22),
		NewDate(2024, time.January, 24),
	}
	if len(got) != len(want) {
		t.Fatalf("got %d occurrences, want %d", len(got), len(want))
	}
	for i := range want {
		if !got[i].Equal(want[i]) {
			t.Errorf("occurrence %d = %v, want %v", i, got[i], want[i])
		}
	}
}

func TestNextWeeklyOnDaysSkipsWeeks(t *testing.T) {
	rule := Rule{
		Kind:     WeeklyOnDays,
		Interval: 2,
		Days:     []time.Weekday{time.Monday, time.Wednesday},
	}
	anchor := NewDate(2024, time.January, 15) // Monday

	got := Generate(rule, anchor, 4, nil)
	want := []Date{
		NewDate(2024, time.January, 15),
		NewDate(2024, time.January, 17),
		// week of Jan 22 skipped entirely
		NewDate(2024, time.January, 29),
		NewDate(2024, time.January, 31),
	}
	if len(got) != len(want) {
		t.Fatalf("got %d occurrences, want %d", len(got), len(want))
	}
	for i := range want {
		if !got[i].Equal(want[i]) {
			t.Errorf("occurrence %d = %v, want %v", i, got[i], want[i])
		}
	}
}

func TestNextWeeklyOnDaysAnchorNotInSet(t *testing.T) {
	rule := Rule{Kind: WeeklyOnDays, Interval: 1, Days: []time.Weekday{time.Wednesday}}
	anchor := NewDate(2024, time.January, 16) // a Tuesday

	next, ok := Next(rule, anchor, anchor.AddDays(-1))
	if !ok || !next.Equal(NewDate(2024, time.January, 17)) {
		t.Errorf("next = %v, want 2024-01-17", next)
	}
}

func TestNextMonthlyClamps(t *testing.T) {
	rule := Rule{Kind: Monthly, Interval: 1}
	anchor := NewDate(2024, time.January, 31)

	got := Generate(rule, anchor, 6, nil)
	want := []Date{
		NewDate(2024, time.January, 31),
		NewDate(2024, time.February, 29), // leap year
		NewDate(2024, time.March, 31),
		NewDate(2024, time.April, 30),
		NewDate(2024, time.May, 31),
		NewDate(2024, time.June, 30),
	}
	for i := range want {
		if !got[i].Equal(want[i]) {
			t.Errorf("occurrence %d = %v, want %v", i, got[i], want[i])
		}
	}
}

func TestNextMonthlyClampLaw(t *testing.T) {
	rule := Rule{Kind: Monthly, Interval: 1}
	anchor := NewDate(2023, time.January, 31)

	for i, d := range Generate(rule, anchor, 36, nil) {
		last := daysInMonth(d.Year, d.Month)
		if d.Day != 31 && d.Day != last {
			t.Errorf("occurrence %d = %v: day %d is neither 31 nor month end %d", i, d, d.Day, last)
		}
	}
}

func TestNextYearlyLeapClamp(t *testing.T) {
	rule := Rule{Kind: Yearly, Interval: 1}
	anchor := NewDate(2024, time.February, 29)

	got := Generate(rule, anchor, 5, nil)
	want := []Date{
		NewDate(2024, time.February, 29),
		NewDate(2025, time.February, 28),
		NewDate(2026, time.February, 28),
		NewDate(2027, time.February, 28),
		NewDate(2028, time.February, 29),
	}
	for i := range want {
		if !got[i].Equal(want[i]) {
			t.Errorf("occurrence %d = %v, want %v", i, got[i], want[i])
		}
	}
}

func TestNextMonthlyOrdinal(t *testing.T) {
	rule := Rule{Kind: MonthlyOrdinal, Interval: 1, Ordinal: 1, Weekday: time.Monday}
	anchor := NewDate(2024, time.January, 15)

	next, ok := Next(rule, anchor, anchor)
	if !ok || !next.Equal(NewDate(2024, time.February, 5)) {
		t.Errorf("next = %v, want 2024-02-05", next)
	}
}

func TestNextMonthlyOrdinalLast(t *testing.T) {
	rule := Rule{Kind: MonthlyOrdinal, Interval: 1, Ordinal: -1, Weekday: time.Friday}
	anchor := NewDate(2024, time.January, 1)

	got := Generate(rule, anchor, 3, nil)
	want := []Date{
		NewDate(2024, time.January, 26),
		NewDate(2024, time.February, 23),
		NewDate(2024, time.March, 29),
	}
	for i := range want {
		if !got[i].Equal(want[i]) {
			t.Errorf("occurrence %d = %v, want %v", i, got[i], want[i])
		}
	}
}

func TestNextMonthlyOrdinalFourth(t *testing.T) {
	rule := Rule{Kind: MonthlyOrdinal, Interval: 1, Ordinal: 4, Weekday: time.Thursday}
	anchor := NewDate(2024, time.November, 1)

	next, ok := Next(rule, anchor, anchor)
	if !ok || !next.Equal(NewDate(2024, time.November, 28)) {
		t.Errorf("next = %v, want 2024-11-28", next)
	}
}

func TestNextHonorsUntil(t *testing.T) {
	until := NewDate(2024, time.January, 20)
	rule := Rule{Kind: Daily, Interval: 3, Until: &until}
	anchor := NewDate(2024, time.January, 15)

	next, ok := Next(rule, anchor, anchor)
	if !ok || !next.Equal(NewDate(2024, time.January, 18)) {
		t.Errorf("next = %v, want 2024-01-18", next)
	}
	if _, ok := Next(rule, anchor, next); ok {
		t.Error("expected no occurrence past UNTIL")
	}
}

func TestNextIsCountAgnostic(t *testing.T) {
	rule := Rule{Kind: Daily, Interval: 1, Count: 2}
	anchor := NewDate(2024, time.January, 1)

	from := anchor
	for n := 0; n < 5; n++ {
		next, ok := Next(rule, anchor, from)
		if !ok {
			t.Fatalf("step %d: generator stopped; the occurrence counter lives with the caller", n)
		}
		from = next
	}
}

func TestGenerateBounds(t *testing.T) {
	rule := Rule{Kind: Daily, Interval: 1}
	anchor := NewDate(2024, time.January, 1)

	if got := Generate(rule, anchor, 10, nil); len(got) != 10 {
		t.Errorf("Generate max 10: got %d", len(got))
	}

	until := NewDate(2024, time.January, 4)
	got := Generate(rule, anchor, 10, &until)
	if len(got) != 4 {
		t.Errorf("Generate until 01-04: got %d occurrences, want 4", len(got))
	}
}

func TestGenerateDeterministic(t *testing.T) {
	rule := Rule{Kind: WeeklyOnDays, Interval: 2, Days: []time.Weekday{time.Tuesday, time.Saturday}}
	anchor := NewDate(2024, time.May, 7)

	a := Generate(rule, anchor, 8, nil)
	b := Generate(rule, anchor, 8, nil)
	if len(a) != 8 || len(b) != 8 {
		t.Fatalf("lengths: %d and %d, want 8", len(a), len(b))
	}
	for i := range a {
		if !a[i].Equal(b[i]) {
			t.Fatalf("occurrence %d differs across runs: %v vs %v", i, a[i], b[i])
		}
	}
}
