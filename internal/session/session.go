// Package session maps wall-clock time onto trading-session windows.
package session

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/minsuk-ha/sentinel/internal/models"
)

// Hours holds the session boundary times as minutes after local midnight.
// The night window wraps midnight: a time t is inside it when
// t >= NightOpen || t < NightClose.
type Hours struct {
	DayOpen    int
	DayClose   int
	NightOpen  int
	NightClose int
}

// DefaultHours returns the KRX boundaries: day 09:00-15:30, futures window
// 15:30-18:00, night 18:00-05:00.
func DefaultHours() Hours {
	return Hours{
		DayOpen:    9 * 60,
		DayClose:   15*60 + 30,
		NightOpen:  18 * 60,
		NightClose: 5 * 60,
	}
}

// ParseHHMM converts "HH:MM" into minutes after midnight.
func ParseHHMM(s string) (int, error) {
	parts := strings.SplitN(strings.TrimSpace(s), ":", 2)
	if len(parts) != 2 {
		return 0, fmt.Errorf("invalid time %q, want HH:MM", s)
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil || h < 0 || h > 23 {
		return 0, fmt.Errorf("invalid hour in %q", s)
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil || m < 0 || m > 59 {
		return 0, fmt.Errorf("invalid minute in %q", s)
	}
	return h*60 + m, nil
}

// Calendar classifies instants into trading sessions for a fixed local
// timezone and an explicit holiday set. It is a pure lookup; nothing is
// persisted between calls.
type Calendar struct {
	loc      *time.Location
	hours    Hours
	holidays map[string]struct{} // "2006-01-02" in loc
}

// NewCalendar builds a calendar for the named timezone. Holidays are
// date-only strings in "2006-01-02" form.
func NewCalendar(tz string, hours Hours, holidays []string) (*Calendar, error) {
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, fmt.Errorf("failed to load timezone %q: %w", tz, err)
	}
	hs := make(map[string]struct{}, len(holidays))
	for _, h := range holidays {
		d := strings.TrimSpace(h)
		if _, err := time.ParseInLocation("2006-01-02", d, loc); err != nil {
			return nil, fmt.Errorf("invalid holiday %q: %w", h, err)
		}
		hs[d] = struct{}{}
	}
	return &Calendar{loc: loc, hours: hours, holidays: hs}, nil
}

// Location returns the calendar's timezone.
func (c *Calendar) Location() *time.Location { return c.loc }

// IsTradingDay reports whether the date of t (in the calendar timezone) is a
// weekday that is not a holiday. The holiday lookup is date-only and
// independent of the weekday check.
func (c *Calendar) IsTradingDay(t time.Time) bool {
	t = t.In(c.loc)
	switch t.Weekday() {
	case time.Saturday, time.Sunday:
		return false
	}
	_, holiday := c.holidays[t.Format("2006-01-02")]
	return !holiday
}

// Classify returns the session tag for the instant now.
//
// The night window wraps midnight, so it cannot be a simple range check: the
// 00:00-05:00 half belongs to the previous day's night session and its
// trading-day test references that previous day.
func (c *Calendar) Classify(now time.Time) models.Session {
	now = now.In(c.loc)
	m := now.Hour()*60 + now.Minute()

	switch {
	case m >= c.hours.DayOpen && m < c.hours.DayClose:
		if c.IsTradingDay(now) {
			return models.SessionDay
		}
	case m >= c.hours.DayClose && m < c.hours.NightOpen:
		if c.IsTradingDay(now) {
			return models.SessionFuturesWindow
		}
	case m >= c.hours.NightOpen || m < c.hours.NightClose:
		ref := now
		if m < c.hours.NightClose {
			ref = now.AddDate(0, 0, -1)
		}
		if c.IsTradingDay(ref) {
			return models.SessionNight
		}
	}
	return models.SessionClosed
}
