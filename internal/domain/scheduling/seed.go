package scheduling

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// SeedDoctor and SeedAppointment describe demo rows. Appointments refer to
// their doctor by name.
type SeedDoctor struct {
	FullName  string
	Specialty string
	Status    DoctorStatus
	Email     string
	Phone     string
}

type SeedAppointment struct {
	PatientName     string
	AppointmentTime time.Time
	Status          AppointmentStatus
	Notes           string
	DoctorName      string
}

// SeedResult counts the rows a seed run inserted.
type SeedResult struct {
	Doctors      int
	Appointments int
}

func mustTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		panic(err)
	}
	return t
}

var DemoDoctors = []SeedDoctor{
	{FullName: "Dr. Aisha Khan", Specialty: "Cardiology", Status: DoctorAvailable, Email: "aisha.khan@practo.demo", Phone: "+91 90000 11111"},
	{FullName: "Dr. Rahul Mehta", Specialty: "Orthopedics", Status: DoctorInSurgery, Email: "rahul.mehta@practo.demo", Phone: "+91 90000 22222"},
	{FullName: "Dr. Neha Singh", Specialty: "Dermatology", Status: DoctorOnLeave, Email: "neha.singh@practo.demo", Phone: "+91 90000 33333"},
}

var DemoAppointments = []SeedAppointment{
	{PatientName: "Sameer Gupta", AppointmentTime: mustTime("2026-02-17T10:30:00+05:30"), Status: StatusConfirmed, Notes: "Follow-up after angiography.", DoctorName: "Dr. Aisha Khan"},
	{PatientName: "Anita Rao", AppointmentTime: mustTime("2026-02-17T11:15:00+05:30"), Status: StatusPending, Notes: "Initial consultation for knee pain.", DoctorName: "Dr. Rahul Mehta"},
	{PatientName: "Pranav Iyer", AppointmentTime: mustTime("2026-02-17T12:10:00+05:30"), Status: StatusRescheduled, Notes: "Review allergy treatment plan.", DoctorName: "Dr. Neha Singh"},
}

// Seed inserts the given doctors and appointments unless they already exist.
// Doctors match by full name, appointments by patient name and time.
// Appointments whose doctor cannot be found are skipped.
func (s *Service) Seed(ctx context.Context, doctors []SeedDoctor, appointments []SeedAppointment) (SeedResult, error) {
	var res SeedResult

	existing, _, err := s.doctors.List(ctx, 1000, 0)
	if err != nil {
		return res, fmt.Errorf("list doctors: %w", err)
	}
	byName := make(map[string]uuid.UUID, len(existing))
	for _, d := range existing {
		byName[d.FullName] = d.ID
	}

	for _, sd := range doctors {
		if _, ok := byName[sd.FullName]; ok {
			continue
		}
		d := &Doctor{FullName: sd.FullName, Specialty: sd.Specialty, Status: sd.Status}
		if sd.Email != "" {
			email := sd.Email
			d.Email = &email
		}
		if sd.Phone != "" {
			phone := sd.Phone
			d.Phone = &phone
		}
		if err := s.CreateDoctor(ctx, d); err != nil {
			return res, fmt.Errorf("seed doctor %q: %w", sd.FullName, err)
		}
		byName[d.FullName] = d.ID
		res.Doctors++
	}

	current, err := s.appointments.ListByWindow(ctx, AppointmentQuery{})
	if err != nil {
		return res, fmt.Errorf("list appointments: %w", err)
	}
	seen := make(map[string]bool, len(current))
	for _, a := range current {
		seen[seedKey(a.PatientName, a.AppointmentTime)] = true
	}

	for _, sa := range appointments {
		doctorID, ok := byName[sa.DoctorName]
		if !ok || seen[seedKey(sa.PatientName, sa.AppointmentTime)] {
			continue
		}
		notes := sa.Notes
		a := &Appointment{
			DoctorID:        &doctorID,
			PatientName:     sa.PatientName,
			AppointmentTime: sa.AppointmentTime,
			Status:          sa.Status,
			Notes:           &notes,
		}
		if err := s.CreateAppointment(ctx, a); err != nil {
			return res, fmt.Errorf("seed appointment for %q: %w", sa.PatientName, err)
		}
		seen[seedKey(a.PatientName, a.AppointmentTime)] = true
		res.Appointments++
	}
	return res, nil
}

func seedKey(patient string, t time.Time) string {
	return patient + "-" + t.UTC().Format(time.RFC3339)
}
