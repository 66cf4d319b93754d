package clock

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestManual_SetAndAdvance(t *testing.T) {
	start := time.Date(2024, 1, 15, 8, 0, 0, 0, time.UTC)
	c := NewManual(start)

	assert.Equal(t, start, c.Now())

	c.Advance(90 * time.Minute)
	assert.Equal(t, start.Add(90*time.Minute), c.Now())

	later := time.Date(2024, 1, 16, 0, 0, 0, 0, time.UTC)
	c.Set(later)
	assert.Equal(t, later, c.Now())
}

func TestTodayAndStartOfDay(t *testing.T) {
	loc := time.FixedZone("UTC+5", 5*60*60)
	ts := time.Date(2024, 1, 15, 23, 45, 0, 0, loc)

	assert.Equal(t, "2024-01-15", Today(ts))
	assert.Equal(t, time.Date(2024, 1, 15, 0, 0, 0, 0, loc), StartOfDay(ts))
}

func TestParseTimeOfDay(t *testing.T) {
	h, m, err := ParseTimeOfDay("08:30")
	assert.NoError(t, err)
	assert.Equal(t, 8, h)
	assert.Equal(t, 30, m)

	_, _, err = ParseTimeOfDay("25:00")
	assert.Error(t, err)

	_, _, err = ParseTimeOfDay("morning")
	assert.Error(t, err)
}

func TestCombine(t *testing.T) {
	loc := time.FixedZone("UTC-3", -3*60*60)

	got, err := Combine("2024-01-15", "21:15", loc)
	assert.NoError(t, err)
	assert.Equal(t, time.Date(2024, 1, 15, 21, 15, 0, 0, loc), got)

	_, err = Combine("2024-13-01", "08:00", loc)
	assert.Error(t, err)
}
