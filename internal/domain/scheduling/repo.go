package scheduling

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound is returned when a row does not exist.
var ErrNotFound = errors.New("not found")

// AppointmentQuery selects appointments by time range [From, To) and,
// optionally, by doctor. Nil fields do not filter.
type AppointmentQuery struct {
	From     *time.Time
	To       *time.Time
	DoctorID *uuid.UUID
}

type AppointmentRepository interface {
	// ListByWindow returns matching appointments ordered by time ascending,
	// each with its doctor reference resolved.
	ListByWindow(ctx context.Context, q AppointmentQuery) ([]*Appointment, error)
	GetByID(ctx context.Context, id uuid.UUID) (*Appointment, error)
	// UpdateStatus writes status and returns the status the row held
	// immediately before the write.
	UpdateStatus(ctx context.Context, id uuid.UUID, status AppointmentStatus) (AppointmentStatus, error)
	Create(ctx context.Context, a *Appointment) error
}

type DoctorRepository interface {
	Create(ctx context.Context, d *Doctor) error
	GetByID(ctx context.Context, id uuid.UUID) (*Doctor, error)
	List(ctx context.Context, limit, offset int) ([]*Doctor, int, error)
}
