// Package clock supplies the current time to time-based decisions
package clock

import (
	"fmt"
	"sync"
	"time"
)

// Clock returns the current instant
type Clock interface {
	Now() time.Time
}

// System reads the wall clock in the local zone
type System struct{}

// Now returns time.Now()
func (System) Now() time.Time {
	return time.Now()
}

// Manual is a settable clock, safe for concurrent use
type Manual struct {
	mu  sync.RWMutex
	now time.Time
}

// NewManual creates a clock frozen at t
func NewManual(t time.Time) *Manual {
	return &Manual{now: t}
}

func (m *Manual) Now() time.Time {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.now
}

// Set moves the clock to t
func (m *Manual) Set(t time.Time) {
	m.mu.Lock()
	m.now = t
	m.mu.Unlock()
}

// Advance moves the clock forward by d
func (m *Manual) Advance(d time.Duration) {
	m.mu.Lock()
	m.now = m.now.Add(d)
	m.mu.Unlock()
}

// DateLayout is the calendar-day format used for dose records
const DateLayout = "2006-01-02"

// Today returns the calendar day of t in t's location
func Today(t time.Time) string {
	return t.Format(DateLayout)
}

// StartOfDay returns local midnight for t
func StartOfDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}

// TimeLayout is the time-of-day format used for dose times
const TimeLayout = "15:04"

// ParseTimeOfDay splits an "HH:MM" string into hour and minute
func ParseTimeOfDay(s string) (hour, minute int, err error) {
	t, err := time.Parse(TimeLayout, s)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid time of day %q: %w", s, err)
	}
	return t.Hour(), t.Minute(), nil
}

// Combine resolves a calendar day and time of day to an instant in loc
func Combine(date, timeOfDay string, loc *time.Location) (time.Time, error) {
	return time.ParseInLocation(DateLayout+" "+TimeLayout, date+" "+timeOfDay, loc)
}
