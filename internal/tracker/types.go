package tracker

import "time"

// Status is where a dose is in its lifecycle
type Status string

const (
	StatusPending Status = "pending"
	StatusTaken   Status = "taken"
	StatusMissed  Status = "missed"
	StatusSkipped Status = "skipped"
)

// DoseSchedule is one dose of one medicine on one calendar day. Name and
// dosage are copied at creation and not kept in sync with the catalog.
type DoseSchedule struct {
	ID             string     `json:"id" yaml:"id"`
	MedicineID     string     `json:"medicineId" yaml:"medicine_id"`
	MedicineName   string     `json:"medicineName" yaml:"medicine_name"`
	Dosage         string     `json:"dosage" yaml:"dosage"`
	ScheduledTime  string     `json:"scheduledTime" yaml:"scheduled_time"`
	Date           string     `json:"date" yaml:"date"`
	Status         Status     `json:"status" yaml:"status"`
	TakenAt        *time.Time `json:"takenAt,omitempty" yaml:"taken_at,omitempty"`
	NotificationID string     `json:"notificationId,omitempty" yaml:"notification_id,omitempty"`
}

// ScheduleID derives the record id from medicine, time of day and date
func ScheduleID(medicineID, scheduledTime, date string) string {
	return medicineID + "_" + scheduledTime + "_" + date
}

// AdherenceStats counts doses by status over a window of days
type AdherenceStats struct {
	TotalDoses    int `json:"totalDoses" yaml:"total_doses"`
	TakenDoses    int `json:"takenDoses" yaml:"taken_doses"`
	MissedDoses   int `json:"missedDoses" yaml:"missed_doses"`
	SkippedDoses  int `json:"skippedDoses" yaml:"skipped_doses"`
	AdherenceRate int `json:"adherenceRate" yaml:"adherence_rate"`
}

// Config holds the tracker thresholds
type Config struct {
	MissedThreshold time.Duration
	UpcomingWindow  time.Duration
	AdherenceDays   int
}

// DefaultConfig returns the stock thresholds
func DefaultConfig() Config {
	return Config{
		MissedThreshold: 30 * time.Minute,
		UpcomingWindow:  2 * time.Hour,
		AdherenceDays:   7,
	}
}
