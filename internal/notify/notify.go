// Package notify schedules local reminder notifications and delivers them
// to the configured sinks when they fire.
package notify

import (
	"context"
	"fmt"
	"time"

	apperrors "github.com/gmsas95/medtrack/internal/errors"
)

// Content is what a notification shows
type Content struct {
	Title string            `json:"title"`
	Body  string            `json:"body"`
	Data  map[string]string `json:"data,omitempty"`
}

// Trigger describes when a notification fires. A zero Date means a
// wall-clock trigger at Hour:Minute; Repeats makes it fire every day.
type Trigger struct {
	Hour    int       `json:"hour"`
	Minute  int       `json:"minute"`
	Repeats bool      `json:"repeats"`
	Date    time.Time `json:"date,omitempty"`
}

// Daily returns a trigger that fires every day at hour:minute
func Daily(hour, minute int) Trigger {
	return Trigger{Hour: hour, Minute: minute, Repeats: true}
}

// At returns a one-shot trigger for an exact instant
func At(t time.Time) Trigger {
	return Trigger{Date: t}
}

// IsDate reports whether the trigger fires at an exact instant
func (t Trigger) IsDate() bool {
	return !t.Date.IsZero()
}

func (t Trigger) validate(now time.Time) error {
	if t.IsDate() {
		if !t.Date.After(now) {
			return apperrors.WrapWith(apperrors.ErrInvalidTrigger, fmt.Errorf("date %s is not in the future", t.Date.Format(time.RFC3339)))
		}
		return nil
	}
	if t.Hour < 0 || t.Hour > 23 || t.Minute < 0 || t.Minute > 59 {
		return apperrors.WrapWith(apperrors.ErrInvalidTrigger, fmt.Errorf("%02d:%02d is not a valid time of day", t.Hour, t.Minute))
	}
	return nil
}

// cronSpec renders a wall-clock trigger as a five-field cron expression
func (t Trigger) cronSpec() string {
	return fmt.Sprintf("%d %d * * *", t.Minute, t.Hour)
}

// Request is a scheduled notification
type Request struct {
	Handle    string    `json:"handle"`
	Content   Content   `json:"content"`
	Trigger   Trigger   `json:"trigger"`
	CreatedAt time.Time `json:"created_at"`
	NextFire  time.Time `json:"next_fire,omitempty"`
}

// Scheduler registers and cancels notifications
type Scheduler interface {
	Schedule(ctx context.Context, content Content, trigger Trigger) (string, error)
	Cancel(ctx context.Context, handle string) error
	CancelAll(ctx context.Context) error
	Pending(ctx context.Context) ([]Request, error)
}

// Deliverer hands fired content to the outside world
type Deliverer interface {
	Deliver(ctx context.Context, content Content) error
}
