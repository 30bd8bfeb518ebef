package activity

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/clinicops/statusboard/internal/domain/scheduling"
)

// TransitionEvent is one immutable entry in the status change audit log.
type TransitionEvent struct {
	ID            uuid.UUID                    `db:"id" json:"id"`
	AppointmentID uuid.UUID                    `db:"appointment_id" json:"appointment_id"`
	OldStatus     scheduling.AppointmentStatus `db:"old_status" json:"old_status"`
	NewStatus     scheduling.AppointmentStatus `db:"new_status" json:"new_status"`
	Actor         string                       `db:"actor" json:"actor"`
	Source        string                       `db:"source" json:"source"`
	CreatedAt     time.Time                    `db:"created_at" json:"created_at"`
}

// Entry is an event joined with the names the feed displays. Either name is
// nil when the appointment or its doctor no longer resolves.
type Entry struct {
	TransitionEvent
	PatientName *string `json:"patient_name"`
	DoctorName  *string `json:"doctor_name"`
}

const (
	unknownPatient    = "Unknown patient"
	doctorUnavailable = "Doctor unavailable"
)

// Headline reads "<patient>’s appointment with <doctor> was <new status>".
func (e *Entry) Headline() string {
	patient := unknownPatient
	if e.PatientName != nil && *e.PatientName != "" {
		patient = *e.PatientName
	}
	doctor := doctorUnavailable
	if e.DoctorName != nil && *e.DoctorName != "" {
		doctor = *e.DoctorName
	}
	return fmt.Sprintf("%s’s appointment with %s was %s", patient, doctor, strings.ToLower(string(e.NewStatus)))
}

// Transition reads "<old> → <new>".
func (e *Entry) Transition() string {
	return fmt.Sprintf("%s → %s", e.OldStatus, e.NewStatus)
}

// RelativeTime labels t as seen at now: "just now", "N minutes ago",
// "N hours ago", otherwise the calendar date in loc.
func RelativeTime(t, now time.Time, loc *time.Location) string {
	if t.IsZero() {
		return ""
	}
	diff := now.Sub(t)
	minutes := int(diff / time.Minute)
	hours := minutes / 60

	switch {
	case minutes < 1:
		return "just now"
	case minutes < 60:
		return plural(minutes, "minute") + " ago"
	case hours < 24:
		return plural(hours, "hour") + " ago"
	}
	if loc == nil {
		loc = time.UTC
	}
	return t.In(loc).Format("2 Jan 2006")
}

func plural(n int, unit string) string {
	if n == 1 {
		return fmt.Sprintf("1 %s", unit)
	}
	return fmt.Sprintf("%d %ss", n, unit)
}

// FeedItem is an Entry rendered for display at a point in time.
type FeedItem struct {
	*Entry
	Headline   string `json:"headline"`
	Transition string `json:"transition"`
	When       string `json:"when"`
}

func render(e *Entry, now time.Time, loc *time.Location) FeedItem {
	return FeedItem{
		Entry:      e,
		Headline:   e.Headline(),
		Transition: e.Transition(),
		When:       RelativeTime(e.CreatedAt, now, loc),
	}
}
