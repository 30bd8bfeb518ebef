package scheduling

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	pgxmock "github.com/pashagolub/pgxmock/v4"
)

var apptColumns = []string{"id", "doctor_id", "patient_name", "appointment_time", "status", "notes", "created_at", "d_id", "full_name", "d_status"}

func TestAppointmentRepoPG_ListByWindow(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("failed to create pgx mock: %v", err)
	}
	defer mock.Close()
	repo := &appointmentRepoPG{db: mock}

	from := at("2026-02-17T00:00:00+05:30")
	to := at("2026-02-18T00:00:00+05:30")
	apptID := uuid.New()
	docID := uuid.New()
	name := "Dr. Aisha Khan"
	docStatus := "Available"
	now := time.Now().UTC()

	rows := pgxmock.NewRows(apptColumns).
		AddRow(apptID, &docID, "Sameer Gupta", at("2026-02-17T10:30:00+05:30"), "Confirmed", (*string)(nil), now, &docID, &name, &docStatus).
		AddRow(uuid.New(), (*uuid.UUID)(nil), "Walk In", at("2026-02-17T11:00:00+05:30"), "Pending", (*string)(nil), now, (*uuid.UUID)(nil), (*string)(nil), (*string)(nil))
	mock.ExpectQuery("SELECT (.+) FROM appointments a LEFT JOIN doctors d").WithArgs(from, to).WillReturnRows(rows)

	items, err := repo.ListByWindow(context.Background(), AppointmentQuery{From: &from, To: &to})
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("expected 2 items, got %d", len(items))
	}
	if items[0].Doctor == nil || items[0].Doctor.FullName != name || items[0].Doctor.Status != DoctorAvailable {
		t.Errorf("expected resolved doctor reference, got %+v", items[0].Doctor)
	}
	if items[1].Doctor != nil {
		t.Errorf("expected no doctor for unassigned appointment, got %+v", items[1].Doctor)
	}
	if items[0].Status != StatusConfirmed {
		t.Errorf("unexpected status %s", items[0].Status)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestAppointmentRepoPG_ListByWindow_QueryError(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("failed to create pgx mock: %v", err)
	}
	defer mock.Close()
	repo := &appointmentRepoPG{db: mock}

	mock.ExpectQuery("SELECT").WillReturnError(errors.New("connection reset"))
	if _, err := repo.ListByWindow(context.Background(), AppointmentQuery{}); err == nil {
		t.Fatal("expected error")
	}
}

func TestAppointmentRepoPG_UpdateStatusReturnsPrior(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("failed to create pgx mock: %v", err)
	}
	defer mock.Close()
	repo := &appointmentRepoPG{db: mock}

	id := uuid.New()
	mock.ExpectQuery("UPDATE appointments").WithArgs(id, "Confirmed").
		WillReturnRows(pgxmock.NewRows([]string{"status"}).AddRow("Pending"))

	prior, err := repo.UpdateStatus(context.Background(), id, StatusConfirmed)
	if err != nil {
		t.Fatalf("update failed: %v", err)
	}
	if prior != StatusPending {
		t.Errorf("expected prior Pending, got %s", prior)
	}

	mock.ExpectQuery("UPDATE appointments").WithArgs(id, "Rescheduled").
		WillReturnRows(pgxmock.NewRows([]string{"status"}))
	if _, err := repo.UpdateStatus(context.Background(), id, StatusRescheduled); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound for missing row, got %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestDoctorRepoPG_List(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("failed to create pgx mock: %v", err)
	}
	defer mock.Close()
	repo := &doctorRepoPG{db: mock}

	mock.ExpectQuery("SELECT COUNT").WillReturnRows(pgxmock.NewRows([]string{"count"}).AddRow(1))
	email := "neha.singh@practo.demo"
	mock.ExpectQuery("SELECT id, full_name").WithArgs(20, 0).WillReturnRows(
		pgxmock.NewRows([]string{"id", "full_name", "specialty", "status", "email", "phone", "created_at"}).
			AddRow(uuid.New(), "Dr. Neha Singh", "Dermatology", "On Leave", &email, (*string)(nil), time.Now()))

	items, total, err := repo.List(context.Background(), 20, 0)
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if total != 1 || len(items) != 1 {
		t.Fatalf("expected one doctor, got %d/%d", len(items), total)
	}
	if items[0].Status != DoctorOnLeave {
		t.Errorf("unexpected status %s", items[0].Status)
	}
	if items[0].Email == nil || *items[0].Email != email {
		t.Errorf("unexpected email %v", items[0].Email)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestDoctorRepoPG_GetByID_NotFound(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("failed to create pgx mock: %v", err)
	}
	defer mock.Close()
	repo := &doctorRepoPG{db: mock}

	id := uuid.New()
	mock.ExpectQuery("SELECT id, full_name").WithArgs(id).
		WillReturnRows(pgxmock.NewRows([]string{"id", "full_name", "specialty", "status", "email", "phone", "created_at"}))
	if _, err := repo.GetByID(context.Background(), id); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}
