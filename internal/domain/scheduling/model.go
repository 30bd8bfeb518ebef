package scheduling

import (
	"time"

	"github.com/google/uuid"
)

// AppointmentStatus is the only appointment field the status board mutates.
type AppointmentStatus string

const (
	StatusConfirmed   AppointmentStatus = "Confirmed"
	StatusPending     AppointmentStatus = "Pending"
	StatusRescheduled AppointmentStatus = "Rescheduled"
)

// AppointmentStatuses lists the selectable statuses in display order.
var AppointmentStatuses = []AppointmentStatus{StatusConfirmed, StatusPending, StatusRescheduled}

func (s AppointmentStatus) Valid() bool {
	switch s {
	case StatusConfirmed, StatusPending, StatusRescheduled:
		return true
	}
	return false
}

// DoctorStatus is the doctor's current availability.
type DoctorStatus string

const (
	DoctorAvailable DoctorStatus = "Available"
	DoctorInSurgery DoctorStatus = "In Surgery"
	DoctorOnLeave   DoctorStatus = "On Leave"
)

func (s DoctorStatus) Valid() bool {
	switch s {
	case DoctorAvailable, DoctorInSurgery, DoctorOnLeave:
		return true
	}
	return false
}

// Doctor maps to the doctors table.
type Doctor struct {
	ID        uuid.UUID    `db:"id" json:"id"`
	FullName  string       `db:"full_name" json:"full_name"`
	Specialty string       `db:"specialty" json:"specialty"`
	Status    DoctorStatus `db:"status" json:"status"`
	Email     *string      `db:"email" json:"email,omitempty"`
	Phone     *string      `db:"phone" json:"phone,omitempty"`
	CreatedAt time.Time    `db:"created_at" json:"created_at"`
}

// Ref returns the reference embedded in appointment rows.
func (d *Doctor) Ref() *DoctorRef {
	if d == nil {
		return nil
	}
	return &DoctorRef{ID: d.ID, FullName: d.FullName, Status: d.Status}
}

// DoctorRef is the single optional doctor reference an appointment carries.
// Joined queries and change notifications are both normalized into it.
type DoctorRef struct {
	ID       uuid.UUID    `json:"id"`
	FullName string       `json:"full_name"`
	Status   DoctorStatus `json:"status"`
}

// Appointment maps to the appointments table. Doctor is filled by joined
// reads and is absent from change notification payloads.
type Appointment struct {
	ID              uuid.UUID         `db:"id" json:"id"`
	DoctorID        *uuid.UUID        `db:"doctor_id" json:"doctor_id"`
	PatientName     string            `db:"patient_name" json:"patient_name"`
	AppointmentTime time.Time         `db:"appointment_time" json:"appointment_time"`
	Status          AppointmentStatus `db:"status" json:"status"`
	Notes           *string           `db:"notes" json:"notes,omitempty"`
	CreatedAt       time.Time         `db:"created_at" json:"created_at"`
	Doctor          *DoctorRef        `json:"doctor,omitempty"`
}

// Clone returns a copy that shares no pointers with a.
func (a *Appointment) Clone() *Appointment {
	if a == nil {
		return nil
	}
	c := *a
	if a.DoctorID != nil {
		id := *a.DoctorID
		c.DoctorID = &id
	}
	if a.Notes != nil {
		n := *a.Notes
		c.Notes = &n
	}
	if a.Doctor != nil {
		d := *a.Doctor
		c.Doctor = &d
	}
	return &c
}

// DoctorStatus returns the assigned doctor's status, or "" when unassigned
// or not yet resolved.
func (a *Appointment) DoctorStatus() DoctorStatus {
	if a == nil || a.Doctor == nil {
		return ""
	}
	return a.Doctor.Status
}

// DoctorName returns the assigned doctor's name, or "" when unknown.
func (a *Appointment) DoctorName() string {
	if a == nil || a.Doctor == nil {
		return ""
	}
	return a.Doctor.FullName
}
