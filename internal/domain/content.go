package domain

import (
	"strings"
	"time"
)

// DayOfWeek enumerates the three delivery slots in a challenge week.
type DayOfWeek string

const (
	DaySunday    DayOfWeek = "Sunday"
	DayWednesday DayOfWeek = "Wednesday"
	DayFriday    DayOfWeek = "Friday"
)

// DeliveryDays lists the slots in week order.
var DeliveryDays = []DayOfWeek{DaySunday, DayWednesday, DayFriday}

// Valid reports whether d is one of the three delivery slots.
func (d DayOfWeek) Valid() bool {
	switch d {
	case DaySunday, DayWednesday, DayFriday:
		return true
	}
	return false
}

// ParseDayOfWeek normalizes a day name into a DayOfWeek. The second return
// is false for days outside the delivery calendar.
func ParseDayOfWeek(s string) (DayOfWeek, bool) {
	for _, d := range DeliveryDays {
		if strings.EqualFold(string(d), s) {
			return d, true
		}
	}
	return "", false
}

// ContentItem is one published challenge, keyed by (week, day). Items are
// immutable once published; authoring happens out of band.
type ContentItem struct {
	ID               string    `json:"id" db:"id"`
	WeekNumber       int       `json:"week_number" db:"week_number"`
	DayOfWeek        DayOfWeek `json:"day_of_week" db:"day_of_week"`
	SequenceNumber   int       `json:"sequence_number" db:"sequence_number"`
	Title            string    `json:"title" db:"title"`
	Body             string    `json:"body" db:"body"`
	Hint             string    `json:"hint,omitempty" db:"hint"`
	Answer           string    `json:"-" db:"answer"`
	Difficulty       int       `json:"difficulty" db:"difficulty"`
	PointsValue      int       `json:"points_value" db:"points_value"`
	RequiresPrevious bool      `json:"requires_previous" db:"requires_previous"`
	// PreviousAnswer is the expected answer of the prerequisite item.
	// Only meaningful when RequiresPrevious is true.
	PreviousAnswer string    `json:"-" db:"previous_answer"`
	CreatedAt      time.Time `json:"created_at" db:"created_at"`
}
