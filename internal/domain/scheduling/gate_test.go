package scheduling

import "testing"

func TestCanMutate(t *testing.T) {
	now := at("2026-02-17T10:00:00+05:30")

	tests := []struct {
		name        string
		doctor      DoctorStatus
		apptTime    string
		wantAllowed bool
		wantReason  string
	}{
		{"available doctor, later today", DoctorAvailable, "2026-02-17T10:30:00+05:30", true, ""},
		{"no doctor assigned", "", "2026-02-17T10:30:00+05:30", true, ""},
		{"past appointment", DoctorAvailable, "2026-02-17T09:00:00+05:30", false, ReasonPastAppointment},
		{"past wins over doctor status", DoctorOnLeave, "2026-02-17T09:00:00+05:30", false, ReasonPastAppointment},
		{"doctor on leave", DoctorOnLeave, "2026-02-17T10:30:00+05:30", false, "Status updates are disabled while the doctor is On Leave."},
		{"doctor in surgery", DoctorInSurgery, "2026-02-18T09:00:00+05:30", false, "Status updates are disabled while the doctor is In Surgery."},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := CanMutate(tt.doctor, at(tt.apptTime), now)
			if d.Allowed != tt.wantAllowed {
				t.Errorf("Allowed = %v, want %v", d.Allowed, tt.wantAllowed)
			}
			if d.Reason != tt.wantReason {
				t.Errorf("Reason = %q, want %q", d.Reason, tt.wantReason)
			}
		})
	}
}
