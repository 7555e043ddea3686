package markethours

import (
	"fmt"
	"strings"
	"time"
)

// SetHolidays replaces the holiday calendar. Dates are "2006-01-02" strings
// in the session timezone.
func (s *Session) SetHolidays(dates []string) error {
	set := make(map[string]bool, len(dates))
	for _, d := range dates {
		d = strings.TrimSpace(d)
		if d == "" {
			continue
		}
		if _, err := time.ParseInLocation("2006-01-02", d, s.Loc); err != nil {
			return fmt.Errorf("markethours: holiday %q: %w", d, err)
		}
		set[d] = true
	}
	s.holidays = set
	return nil
}

// IsHoliday returns true if t's session date is a configured holiday.
func (s *Session) IsHoliday(t time.Time) bool {
	return s.holidays[s.Date(t)]
}

// HolidayCount returns how many holidays are configured.
func (s *Session) HolidayCount() int { return len(s.holidays) }
