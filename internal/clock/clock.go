package clock

import (
	"fmt"
	"sync"
	"time"

	"github.com/NicolaePaulGeambazu/ClueMe-sub004/internal/recurrence"
)

// DefaultDueHour is the local hour reminders without an explicit due time
// anchor to for notification purposes.
const DefaultDueHour = 9

// Clock is the only source of current time and zone-offset lookups. Keeping
// it behind an interface lets tests pin the clock and exercise DST edges.
type Clock interface {
	Now() time.Time
	Location(tz string) (*time.Location, error)
	OffsetMinutes(tz string, at time.Time) (int, error)
	LocalDateTime(at time.Time, tz string) (LocalTime, error)
}

// LocalTime is the wall-clock reading of an instant in a named zone.
type LocalTime struct {
	Date   recurrence.Date
	Hour   int
	Minute int
}

func (lt LocalTime) String() string {
	return fmt.Sprintf("%s %02d:%02d", lt.Date, lt.Hour, lt.Minute)
}

// System follows the host clock and the IANA zone database.
type System struct{}

func NewSystem() System { return System{} }

func (System) Now() time.Time { return time.Now() }

func (System) Location(tz string) (*time.Location, error) {
	return loadLocation(tz)
}

func (System) OffsetMinutes(tz string, at time.Time) (int, error) {
	return offsetMinutes(tz, at)
}

func (System) LocalDateTime(at time.Time, tz string) (LocalTime, error) {
	return localDateTime(at, tz)
}

// Fixed is a settable clock for tests. Zone lookups behave exactly as the
// system clock's; only Now is pinned.
type Fixed struct {
	mu  sync.Mutex
	now time.Time
}

func NewFixed(now time.Time) *Fixed {
	return &Fixed{now: now}
}

func (c *Fixed) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *Fixed) Set(now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = now
}

func (c *Fixed) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func (c *Fixed) Location(tz string) (*time.Location, error) {
	return loadLocation(tz)
}

func (c *Fixed) OffsetMinutes(tz string, at time.Time) (int, error) {
	return offsetMinutes(tz, at)
}

func (c *Fixed) LocalDateTime(at time.Time, tz string) (LocalTime, error) {
	return localDateTime(at, tz)
}

func loadLocation(tz string) (*time.Location, error) {
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, fmt.Errorf("load timezone %q: %w", tz, err)
	}
	return loc, nil
}

func offsetMinutes(tz string, at time.Time) (int, error) {
	loc, err := loadLocation(tz)
	if err != nil {
		return 0, err
	}
	_, seconds := at.In(loc).Zone()
	return seconds / 60, nil
}

func localDateTime(at time.Time, tz string) (LocalTime, error) {
	loc, err := loadLocation(tz)
	if err != nil {
		return LocalTime{}, err
	}
	local := at.In(loc)
	return LocalTime{
		Date:   recurrence.DateOf(local),
		Hour:   local.Hour(),
		Minute: local.Minute(),
	}, nil
}

// At returns the instant of the given wall-clock time on date d in loc.
// An empty hhmm falls back to DefaultDueHour.
func At(d recurrence.Date, hhmm string, loc *time.Location) (time.Time, error) {
	hour, minute := DefaultDueHour, 0
	if hhmm != "" {
		t, err := time.Parse("15:04", hhmm)
		if err != nil {
			return time.Time{}, fmt.Errorf("parse due time %q: %w", hhmm, err)
		}
		hour, minute = t.Hour(), t.Minute()
	}
	return time.Date(d.Year, d.Month, d.Day, hour, minute, 0, 0, loc), nil
}
