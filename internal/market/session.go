package market

import (
	"fmt"
	"time"
)

// Session describes the tradable window of the exchange day. The
// minute fields count from midnight exchange time, CloseMinute is
// exclusive, and OpeningExclusion keeps the engine out of the first
// minutes after the open, where gaps and auction noise dominate.
type Session struct {
	Timezone         string `yaml:"timezone" validate:"required"`
	OpenMinute       int    `yaml:"open_minute"`
	CloseMinute      int    `yaml:"close_minute"`
	OpeningExclusion int    `yaml:"opening_exclusion"`

	loc *time.Location
}

// DefaultSession returns the regular US equity session: 09:30-16:00
// America/New_York with the first 45 minutes excluded.
func DefaultSession() Session {
	return Session{
		Timezone:         "America/New_York",
		OpenMinute:       9*60 + 30,
		CloseMinute:      16 * 60,
		OpeningExclusion: 45,
	}
}

// Init resolves the timezone. Must be called before the query methods.
func (s *Session) Init() error {
	loc, err := time.LoadLocation(s.Timezone)
	if err != nil {
		return fmt.Errorf("session timezone %q: %w", s.Timezone, err)
	}
	if s.CloseMinute <= s.OpenMinute {
		return fmt.Errorf("session close %d not after open %d", s.CloseMinute, s.OpenMinute)
	}
	s.loc = loc
	return nil
}

// Open reports whether t falls inside the session, weekend excluded.
func (s *Session) Open(t time.Time) bool {
	lt := t.In(s.location())
	if wd := lt.Weekday(); wd == time.Saturday || wd == time.Sunday {
		return false
	}
	m := lt.Hour()*60 + lt.Minute()
	return m >= s.OpenMinute && m < s.CloseMinute
}

// Tradable reports whether t is inside the session and past the
// opening-range exclusion. This is the predicate the admission
// pipeline uses; monitoring uses Open so exits are never delayed.
func (s *Session) Tradable(t time.Time) bool {
	if !s.Open(t) {
		return false
	}
	lt := t.In(s.location())
	m := lt.Hour()*60 + lt.Minute()
	return m >= s.OpenMinute+s.OpeningExclusion
}

// DayKey returns the exchange-local trading date of t, used for daily
// ledger rollovers.
func (s *Session) DayKey(t time.Time) string {
	return t.In(s.location()).Format("2006-01-02")
}

// WeekKey returns the exchange-local ISO week of t, used for weekly
// ledger rollovers.
func (s *Session) WeekKey(t time.Time) string {
	year, week := t.In(s.location()).ISOWeek()
	return fmt.Sprintf("%04d-W%02d", year, week)
}

func (s *Session) location() *time.Location {
	if s.loc != nil {
		return s.loc
	}
	return time.UTC
}
