package catalog

import (
	"time"

	"github.com/gmsas95/medtrack/internal/history"
)

// Category classifies a medicine
type Category string

const (
	CategoryPrescription Category = "prescription"
	CategoryOTC          Category = "otc"
	CategorySupplement   Category = "supplement"
	CategoryVitamin      Category = "vitamin"
)

// Valid reports whether c is a known category
func (c Category) Valid() bool {
	switch c {
	case CategoryPrescription, CategoryOTC, CategorySupplement, CategoryVitamin:
		return true
	}
	return false
}

// Medicine is a catalog entry. Taken is parallel to Times.
type Medicine struct {
	ID              string    `json:"id" yaml:"id"`
	Name            string    `json:"name" yaml:"name"`
	Dosage          string    `json:"dosage" yaml:"dosage"`
	Frequency       string    `json:"frequency" yaml:"frequency"`
	Times           []string  `json:"times" yaml:"times"`
	Duration        string    `json:"duration" yaml:"duration"`
	Instructions    string    `json:"instructions" yaml:"instructions"`
	SideEffects     []string  `json:"sideEffects" yaml:"side_effects"`
	ReminderEnabled bool      `json:"reminderEnabled" yaml:"reminder_enabled"`
	Color           string    `json:"color" yaml:"color"`
	Taken           []bool    `json:"taken" yaml:"taken"`
	CreatedAt       time.Time `json:"createdAt" yaml:"created_at"`
	UpdatedAt       time.Time `json:"updatedAt" yaml:"updated_at"`
	Category        Category  `json:"category" yaml:"category"`

	Manufacturer   string `json:"manufacturer,omitempty" yaml:"manufacturer,omitempty"`
	ExpiryDate     string `json:"expiryDate,omitempty" yaml:"expiry_date,omitempty"`
	StockQuantity  *int   `json:"stockQuantity,omitempty" yaml:"stock_quantity,omitempty"`
	RefillReminder bool   `json:"refillReminder,omitempty" yaml:"refill_reminder,omitempty"`
	DoctorName     string `json:"doctorName,omitempty" yaml:"doctor_name,omitempty"`
	Appointment    string `json:"appointment,omitempty" yaml:"appointment,omitempty"` // AppointmentLayout, local time
	Notes          string `json:"notes,omitempty" yaml:"notes,omitempty"`
}

// AppointmentLayout is the format of Medicine.Appointment
const AppointmentLayout = "2006-01-02 15:04"

// AppointmentTime parses the doctor appointment in loc. ok is false when
// no appointment is set or it cannot be parsed.
func (m Medicine) AppointmentTime(loc *time.Location) (t time.Time, ok bool) {
	if m.Appointment == "" {
		return time.Time{}, false
	}
	t, err := time.ParseInLocation(AppointmentLayout, m.Appointment, loc)
	return t, err == nil
}

// Update is a partial change to a Medicine; nil fields are left alone
type Update struct {
	Name            *string
	Dosage          *string
	Frequency       *string
	Times           []string
	Duration        *string
	Instructions    *string
	SideEffects     []string
	ReminderEnabled *bool
	Color           *string
	Taken           []bool
	Category        *Category
	Manufacturer    *string
	ExpiryDate      *string
	StockQuantity   *int
	RefillReminder  *bool
	DoctorName      *string
	Appointment     *string
	Notes           *string
}

// ScanResult is one recognized prescription
type ScanResult struct {
	ID             string     `json:"id" yaml:"id"`
	ImageURI       string     `json:"imageUri" yaml:"image_uri"`
	RecognizedText string     `json:"recognizedText" yaml:"recognized_text"`
	Medicines      []Medicine `json:"medicines" yaml:"medicines"`
	Confidence     float64    `json:"confidence" yaml:"confidence"`
	Timestamp      time.Time  `json:"timestamp" yaml:"timestamp"`
	Processed      bool       `json:"processed" yaml:"processed"`
}

// Statistics summarises the catalog for today
type Statistics struct {
	TotalMedicines int `json:"totalMedicines" yaml:"total_medicines"`
	TakenToday     int `json:"takenToday" yaml:"taken_today"`
	MissedToday    int `json:"missedToday" yaml:"missed_today"`
	TotalScans     int `json:"totalScans" yaml:"total_scans"`
	AdherenceRate  int `json:"adherenceRate" yaml:"adherence_rate"`
}

// Export is a full dump of catalog data
type Export struct {
	Medicines  []Medicine      `json:"medicines" yaml:"medicines"`
	History    []history.Entry `json:"history" yaml:"history"`
	Scans      []ScanResult    `json:"scans" yaml:"scans"`
	ExportDate time.Time       `json:"exportDate" yaml:"export_date"`
}
