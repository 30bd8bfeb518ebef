package activity

import (
	"context"
	"errors"

	"github.com/clinicops/statusboard/internal/domain/scheduling"
)

type Repository interface {
	// Insert stores e unless an event with the same id exists. It reports
	// whether a row was written.
	Insert(ctx context.Context, e *TransitionEvent) (bool, error)
	// Latest returns up to limit events, newest first, with names joined.
	Latest(ctx context.Context, limit int) ([]*Entry, error)
}

// Enricher resolves the names shown next to an event.
type Enricher interface {
	Enrich(ctx context.Context, e *TransitionEvent) (*Entry, error)
}

type appointmentEnricher struct {
	appointments scheduling.AppointmentRepository
}

// NewAppointmentEnricher looks names up through the appointment repository.
// A missing appointment yields an entry without names rather than an error.
func NewAppointmentEnricher(appts scheduling.AppointmentRepository) Enricher {
	return &appointmentEnricher{appointments: appts}
}

func (r *appointmentEnricher) Enrich(ctx context.Context, e *TransitionEvent) (*Entry, error) {
	entry := &Entry{TransitionEvent: *e}
	a, err := r.appointments.GetByID(ctx, e.AppointmentID)
	if errors.Is(err, scheduling.ErrNotFound) {
		return entry, nil
	}
	if err != nil {
		return nil, err
	}
	patient := a.PatientName
	entry.PatientName = &patient
	if name := a.DoctorName(); name != "" {
		entry.DoctorName = &name
	}
	return entry, nil
}
