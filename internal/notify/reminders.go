package notify

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/gmsas95/medtrack/internal/clock"
	"github.com/gmsas95/medtrack/internal/metrics"
)

// Reminder kinds carried in Content.Data["type"]
const (
	KindMedicine    = "medicine"
	KindRefill      = "refill"
	KindAppointment = "appointment"
)

const (
	refillHour = 9
	doctorHour = 18
)

// MedicineReminder is one daily dose reminder. ScheduleID ties it to a
// dose record when set.
type MedicineReminder struct {
	MedicineID   string
	ScheduleID   string
	MedicineName string
	Dosage       string
	Time         string // HH:MM
	Frequency    string
}

// ReminderStats summarises scheduled and delivered reminders
type ReminderStats struct {
	Scheduled int   `json:"scheduled"`
	Delivered int64 `json:"delivered"`
}

// Reminders builds medicine, refill and appointment reminders on top of a
// Scheduler.
type Reminders struct {
	scheduler Scheduler
	clock     clock.Clock
	loc       *time.Location
	logger    *zap.Logger
}

// NewReminders wraps s. A nil loc means time.Local.
func NewReminders(s Scheduler, clk clock.Clock, loc *time.Location, logger *zap.Logger) *Reminders {
	if loc == nil {
		loc = time.Local
	}
	return &Reminders{scheduler: s, clock: clk, loc: loc, logger: logger}
}

// ScheduleReminder registers a daily reminder at r.Time
func (r *Reminders) ScheduleReminder(ctx context.Context, m MedicineReminder) (string, error) {
	hour, minute, err := clock.ParseTimeOfDay(m.Time)
	if err != nil {
		return "", err
	}

	extra := map[string]string{"medicineId": m.MedicineID}
	if m.ScheduleID != "" {
		extra["scheduleId"] = m.ScheduleID
	}
	return r.scheduler.Schedule(ctx, MedicineContent(m.MedicineName, m.Dosage, extra), Daily(hour, minute))
}

// MedicineContent builds the standard dose reminder. extra is merged into
// the notification data.
func MedicineContent(medicineName, dosage string, extra map[string]string) Content {
	data := map[string]string{
		"type":         KindMedicine,
		"medicineName": medicineName,
		"dosage":       dosage,
	}
	for k, v := range extra {
		data[k] = v
	}
	return Content{
		Title: "💊 Medicine Reminder",
		Body:  fmt.Sprintf("Time to take %s (%s)", medicineName, dosage),
		Data:  data,
	}
}

// ScheduleMultipleReminders schedules each reminder independently. The
// returned handles line up with items; a failed item gets "" and is logged,
// and its error is combined into the result.
func (r *Reminders) ScheduleMultipleReminders(ctx context.Context, items []MedicineReminder) ([]string, error) {
	handles := make([]string, len(items))
	var errs error

	for i, m := range items {
		handle, err := r.ScheduleReminder(ctx, m)
		if err != nil {
			r.logger.Warn("Failed to schedule reminder",
				zap.String("medicine_id", m.MedicineID),
				zap.String("schedule_id", m.ScheduleID),
				zap.String("time", m.Time),
				zap.Error(err),
			)
			errs = multierr.Append(errs, fmt.Errorf("%s at %s: %w", m.MedicineName, m.Time, err))
			continue
		}
		handles[i] = handle
	}
	return handles, errs
}

// ScheduleOneTimeReminder fires once at date
func (r *Reminders) ScheduleOneTimeReminder(ctx context.Context, title, body string, date time.Time, data map[string]string) (string, error) {
	return r.scheduler.Schedule(ctx, Content{Title: title, Body: body, Data: data}, At(date))
}

// ScheduleRefillReminder fires at 09:00 daysLeft days from today
func (r *Reminders) ScheduleRefillReminder(ctx context.Context, medicineID, medicineName string, daysLeft int) (string, error) {
	day := clock.StartOfDay(r.clock.Now().In(r.loc)).AddDate(0, 0, daysLeft)
	at := time.Date(day.Year(), day.Month(), day.Day(), refillHour, 0, 0, 0, r.loc)

	return r.ScheduleOneTimeReminder(ctx,
		"🔄 Medicine Refill Reminder",
		fmt.Sprintf("Your %s is running low. Consider refilling soon.", medicineName),
		at,
		map[string]string{"type": KindRefill, "medicineId": medicineID, "medicineName": medicineName},
	)
}

// DoctorReminderTime is when the reminder for an appointment fires: 18:00
// the day before.
func (r *Reminders) DoctorReminderTime(appointment time.Time) time.Time {
	day := appointment.In(r.loc).AddDate(0, 0, -1)
	return time.Date(day.Year(), day.Month(), day.Day(), doctorHour, 0, 0, 0, r.loc)
}

// ScheduleDoctorReminder fires at DoctorReminderTime(appointment)
func (r *Reminders) ScheduleDoctorReminder(ctx context.Context, medicineID, doctorName string, appointment time.Time) (string, error) {
	at := r.DoctorReminderTime(appointment)

	return r.ScheduleOneTimeReminder(ctx,
		"👨‍⚕️ Doctor Appointment Reminder",
		fmt.Sprintf("You have an appointment with Dr. %s tomorrow.", doctorName),
		at,
		map[string]string{
			"type":            KindAppointment,
			"medicineId":      medicineID,
			"doctorName":      doctorName,
			"appointmentDate": appointment.Format(time.RFC3339),
		},
	)
}

func (r *Reminders) CancelReminder(ctx context.Context, handle string) error {
	return r.scheduler.Cancel(ctx, handle)
}

func (r *Reminders) CancelAllReminders(ctx context.Context) error {
	return r.scheduler.CancelAll(ctx)
}

func (r *Reminders) GetAllScheduledReminders(ctx context.Context) ([]Request, error) {
	return r.scheduler.Pending(ctx)
}

// Stats counts pending reminders and deliveries since process start
func (r *Reminders) Stats(ctx context.Context) (ReminderStats, error) {
	pending, err := r.scheduler.Pending(ctx)
	if err != nil {
		return ReminderStats{}, err
	}
	return ReminderStats{
		Scheduled: len(pending),
		Delivered: metrics.TakeSnapshot().Notifications[metrics.NotifyDelivered],
	}, nil
}

// DailyReminders builds one reminder per time for a medicine
func DailyReminders(medicineID, medicineName, dosage string, times []string) []MedicineReminder {
	out := make([]MedicineReminder, 0, len(times))
	for _, t := range times {
		out = append(out, MedicineReminder{
			MedicineID:   medicineID,
			MedicineName: medicineName,
			Dosage:       dosage,
			Time:         t,
			Frequency:    "daily",
		})
	}
	return out
}
