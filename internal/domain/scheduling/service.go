package scheduling

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

type Service struct {
	doctors      DoctorRepository
	appointments AppointmentRepository
	now          func() time.Time
}

func NewService(doc DoctorRepository, appt AppointmentRepository) *Service {
	return &Service{doctors: doc, appointments: appt, now: time.Now}
}

// WithClock replaces the time source used for gate decisions.
func (s *Service) WithClock(now func() time.Time) *Service {
	if now != nil {
		s.now = now
	}
	return s
}

// AppointmentDetail is an appointment together with the gate decision at the
// time it was read.
type AppointmentDetail struct {
	*Appointment
	Gate Decision `json:"gate"`
}

// -- Doctor --

func (s *Service) CreateDoctor(ctx context.Context, d *Doctor) error {
	d.FullName = strings.TrimSpace(d.FullName)
	if d.FullName == "" {
		return fmt.Errorf("full_name is required")
	}
	if strings.TrimSpace(d.Specialty) == "" {
		return fmt.Errorf("specialty is required")
	}
	if d.Status == "" {
		d.Status = DoctorAvailable
	}
	if !d.Status.Valid() {
		return fmt.Errorf("invalid doctor status: %s", d.Status)
	}
	return s.doctors.Create(ctx, d)
}

func (s *Service) GetDoctor(ctx context.Context, id uuid.UUID) (*Doctor, error) {
	return s.doctors.GetByID(ctx, id)
}

func (s *Service) ListDoctors(ctx context.Context, limit, offset int) ([]*Doctor, int, error) {
	return s.doctors.List(ctx, limit, offset)
}

// ListDoctorAppointments returns every appointment of one doctor, earliest first.
func (s *Service) ListDoctorAppointments(ctx context.Context, doctorID uuid.UUID) ([]*Appointment, error) {
	if _, err := s.doctors.GetByID(ctx, doctorID); err != nil {
		return nil, err
	}
	return s.appointments.ListByWindow(ctx, AppointmentQuery{DoctorID: &doctorID})
}

// -- Appointment --

func (s *Service) CreateAppointment(ctx context.Context, a *Appointment) error {
	a.PatientName = strings.TrimSpace(a.PatientName)
	if a.PatientName == "" {
		return fmt.Errorf("patient_name is required")
	}
	if a.AppointmentTime.IsZero() {
		return fmt.Errorf("appointment_time is required")
	}
	if a.Status == "" {
		a.Status = StatusPending
	}
	if !a.Status.Valid() {
		return fmt.Errorf("invalid appointment status: %s", a.Status)
	}
	return s.appointments.Create(ctx, a)
}

// GetAppointment reads one appointment and evaluates the gate against the
// doctor status stored right now.
func (s *Service) GetAppointment(ctx context.Context, id uuid.UUID) (*AppointmentDetail, error) {
	a, err := s.appointments.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	return &AppointmentDetail{
		Appointment: a,
		Gate:        CanMutate(a.DoctorStatus(), a.AppointmentTime, s.now()),
	}, nil
}
