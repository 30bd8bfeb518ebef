package scheduling

import (
	"fmt"
	"time"
)

// ReasonPastAppointment is returned for appointments whose time has passed.
const ReasonPastAppointment = "Past appointment"

// Decision is the outcome of the availability gate. Reason is empty when the
// mutation is allowed.
type Decision struct {
	Allowed bool   `json:"allowed"`
	Reason  string `json:"reason,omitempty"`
}

// CanMutate decides whether an appointment's status may be changed. A past
// appointment is rejected first, then a doctor who is On Leave or In Surgery.
// An empty doctorStatus means no doctor is assigned and never blocks.
func CanMutate(doctorStatus DoctorStatus, appointmentTime, now time.Time) Decision {
	if IsPast(appointmentTime, now) {
		return Decision{Reason: ReasonPastAppointment}
	}
	switch doctorStatus {
	case DoctorOnLeave, DoctorInSurgery:
		return Decision{Reason: fmt.Sprintf("Status updates are disabled while the doctor is %s.", doctorStatus)}
	}
	return Decision{Allowed: true}
}
