// Package markethours answers session questions (open/closed, session date,
// next open) for an exchange in its home timezone.
package markethours

import (
	"fmt"
	"time"
)

// Default session: US equities, 09:30–16:00 New York time.
const (
	DefaultTimezone = "America/New_York"
	DefaultOpen     = 9*60 + 30
	DefaultClose    = 16 * 60
)

// Session is a daily trading session. OpenMin and CloseMin are minutes after
// local midnight; the session is [open, close).
type Session struct {
	Loc      *time.Location
	OpenMin  int
	CloseMin int
	holidays map[string]bool
}

// LoadSession builds a session in the named timezone. An empty name uses
// DefaultTimezone.
func LoadSession(tz string, openMin, closeMin int) (*Session, error) {
	if tz == "" {
		tz = DefaultTimezone
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, fmt.Errorf("markethours: load %q: %w", tz, err)
	}
	if openMin < 0 || closeMin > 24*60 || openMin >= closeMin {
		return nil, fmt.Errorf("markethours: invalid session %d-%d", openMin, closeMin)
	}
	return &Session{Loc: loc, OpenMin: openMin, CloseMin: closeMin}, nil
}

// Date returns the session date of t as "2006-01-02" in the session timezone.
func (s *Session) Date(t time.Time) string {
	return t.In(s.Loc).Format("2006-01-02")
}

// IsOpen returns true if t falls within the session on a trading day.
func (s *Session) IsOpen(t time.Time) bool {
	local := t.In(s.Loc)
	if !s.IsTradingDay(local) {
		return false
	}
	hm := local.Hour()*60 + local.Minute()
	return hm >= s.OpenMin && hm < s.CloseMin
}

// IsWeekday returns true if t is Mon–Fri.
func (s *Session) IsWeekday(t time.Time) bool {
	wd := t.In(s.Loc).Weekday()
	return wd >= time.Monday && wd <= time.Friday
}

// IsTradingDay returns true if t is a weekday and not a holiday.
func (s *Session) IsTradingDay(t time.Time) bool {
	return s.IsWeekday(t) && !s.IsHoliday(t)
}

func (s *Session) at(d time.Time, minutes int) time.Time {
	return time.Date(d.Year(), d.Month(), d.Day(), minutes/60, minutes%60, 0, 0, s.Loc)
}

// NextOpen returns the next session open. If t is before today's open on a
// trading day, returns today's open.
func (s *Session) NextOpen(t time.Time) time.Time {
	local := t.In(s.Loc)

	todayOpen := s.at(local, s.OpenMin)
	if local.Before(todayOpen) && s.IsTradingDay(local) {
		return todayOpen
	}

	d := local.AddDate(0, 0, 1)
	for i := 0; i < 15; i++ { // weekends + holiday clusters
		if s.IsTradingDay(d) {
			return s.at(d, s.OpenMin)
		}
		d = d.AddDate(0, 0, 1)
	}
	return s.at(local.AddDate(0, 0, 1), s.OpenMin)
}

// TodayClose returns the session close on t's date.
func (s *Session) TodayClose(t time.Time) time.Time {
	return s.at(t.In(s.Loc), s.CloseMin)
}

// StatusString returns a human-readable market status.
func (s *Session) StatusString(t time.Time) string {
	if s.IsOpen(t) {
		return fmt.Sprintf("Market Open, closes in %s", fmtDur(s.TodayClose(t).Sub(t)))
	}
	next := s.NextOpen(t)
	local := next.In(s.Loc)
	return fmt.Sprintf("Market Closed, opens %s %s (%s)",
		local.Weekday().String()[:3], local.Format("15:04"), fmtDur(next.Sub(t)))
}

func fmtDur(d time.Duration) string {
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	if h > 0 {
		return fmt.Sprintf("%dh%dm", h, m)
	}
	return fmt.Sprintf("%dm", m)
}
