package ledger

import "time"

// Clock abstracts time.Now so penalty windows, cooldowns and daily limits
// can be tested with a fixed time source.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// SystemClock returns the wall clock.
func SystemClock() Clock { return systemClock{} }

// ClockFunc adapts a func() time.Time into a Clock.
type ClockFunc func() time.Time

func (f ClockFunc) Now() time.Time { return f() }

// =============================================================================
// CALENDAR - Business-local day boundaries
// =============================================================================

// Calendar resolves "today" in the business's local time zone. Daily limits
// (one cooldown lift per day) and streaks are defined against the local
// calendar day, not UTC midnight — a lift bought at 23:50 local time must
// not carry into tomorrow just because UTC already rolled over.
type Calendar struct {
	Loc   *time.Location
	Clock Clock
}

// NewCalendar builds a calendar for the given IANA zone name.
func NewCalendar(zone string, clock Clock) (*Calendar, error) {
	loc, err := time.LoadLocation(zone)
	if err != nil {
		return nil, err
	}
	if clock == nil {
		clock = SystemClock()
	}
	return &Calendar{Loc: loc, Clock: clock}, nil
}

// Now returns the current instant from the injected clock.
func (c *Calendar) Now() time.Time { return c.Clock.Now() }

// LocalDay formats an instant as its local calendar day ("2006-01-02").
func (c *Calendar) LocalDay(t time.Time) string {
	return t.In(c.Loc).Format("2006-01-02")
}

// Today is the current local calendar day.
func (c *Calendar) Today() string { return c.LocalDay(c.Clock.Now()) }

// Yesterday is the local calendar day before the current one.
func (c *Calendar) Yesterday() string {
	return c.LocalDay(c.Clock.Now().AddDate(0, 0, -1))
}
