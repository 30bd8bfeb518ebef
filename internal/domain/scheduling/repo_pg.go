package scheduling

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

type queryable interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

// =========== Appointment Repository ===========

type appointmentRepoPG struct{ db queryable }

func NewAppointmentRepoPG(pool *pgxpool.Pool) AppointmentRepository {
	return &appointmentRepoPG{db: pool}
}

const apptCols = `a.id, a.doctor_id, a.patient_name, a.appointment_time, a.status, a.notes, a.created_at,
	d.id, d.full_name, d.status`

const apptFrom = ` FROM appointments a LEFT JOIN doctors d ON d.id = a.doctor_id`

func (r *appointmentRepoPG) scanAppt(row pgx.Row) (*Appointment, error) {
	var (
		a         Appointment
		status    string
		docID     *uuid.UUID
		docName   *string
		docStatus *string
	)
	if err := row.Scan(&a.ID, &a.DoctorID, &a.PatientName, &a.AppointmentTime, &status, &a.Notes, &a.CreatedAt,
		&docID, &docName, &docStatus); err != nil {
		return nil, err
	}
	a.Status = AppointmentStatus(status)
	if docID != nil {
		ref := &DoctorRef{ID: *docID}
		if docName != nil {
			ref.FullName = *docName
		}
		if docStatus != nil {
			ref.Status = DoctorStatus(*docStatus)
		}
		a.Doctor = ref
	}
	return &a, nil
}

func (r *appointmentRepoPG) ListByWindow(ctx context.Context, q AppointmentQuery) ([]*Appointment, error) {
	query := `SELECT ` + apptCols + apptFrom + ` WHERE 1=1`
	var args []interface{}
	idx := 1

	if q.From != nil {
		query += fmt.Sprintf(" AND a.appointment_time >= $%d", idx)
		args = append(args, *q.From)
		idx++
	}
	if q.To != nil {
		query += fmt.Sprintf(" AND a.appointment_time < $%d", idx)
		args = append(args, *q.To)
		idx++
	}
	if q.DoctorID != nil {
		query += fmt.Sprintf(" AND a.doctor_id = $%d", idx)
		args = append(args, *q.DoctorID)
	}
	query += " ORDER BY a.appointment_time ASC, a.id ASC"

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list appointments: %w", err)
	}
	defer rows.Close()

	var items []*Appointment
	for rows.Next() {
		a, err := r.scanAppt(rows)
		if err != nil {
			return nil, fmt.Errorf("scan appointment: %w", err)
		}
		items = append(items, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate appointments: %w", err)
	}
	return items, nil
}

func (r *appointmentRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	a, err := r.scanAppt(r.db.QueryRow(ctx, `SELECT `+apptCols+apptFrom+` WHERE a.id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get appointment %s: %w", id, err)
	}
	return a, nil
}

// UpdateStatus locks the row so the returned prior status is the one this
// write replaced, even when another writer raced on the same row.
func (r *appointmentRepoPG) UpdateStatus(ctx context.Context, id uuid.UUID, status AppointmentStatus) (AppointmentStatus, error) {
	var prior string
	err := r.db.QueryRow(ctx, `
		UPDATE appointments a SET status = $2, updated_at = NOW()
		FROM (SELECT id, status FROM appointments WHERE id = $1 FOR UPDATE) prior
		WHERE a.id = prior.id
		RETURNING prior.status`, id, string(status)).Scan(&prior)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("update appointment %s status: %w", id, err)
	}
	return AppointmentStatus(prior), nil
}

func (r *appointmentRepoPG) Create(ctx context.Context, a *Appointment) error {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}
	_, err := r.db.Exec(ctx, `
		INSERT INTO appointments (id, doctor_id, patient_name, appointment_time, status, notes, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		a.ID, a.DoctorID, strings.TrimSpace(a.PatientName), a.AppointmentTime, string(a.Status), a.Notes, a.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert appointment: %w", err)
	}
	return nil
}

// =========== Doctor Repository ===========

type doctorRepoPG struct{ db queryable }

func NewDoctorRepoPG(pool *pgxpool.Pool) DoctorRepository {
	return &doctorRepoPG{db: pool}
}

const doctorCols = `id, full_name, specialty, status, email, phone, created_at`

func (r *doctorRepoPG) scanDoctor(row pgx.Row) (*Doctor, error) {
	var (
		d      Doctor
		status string
	)
	if err := row.Scan(&d.ID, &d.FullName, &d.Specialty, &status, &d.Email, &d.Phone, &d.CreatedAt); err != nil {
		return nil, err
	}
	d.Status = DoctorStatus(status)
	return &d, nil
}

func (r *doctorRepoPG) Create(ctx context.Context, d *Doctor) error {
	if d.ID == uuid.Nil {
		d.ID = uuid.New()
	}
	if d.CreatedAt.IsZero() {
		d.CreatedAt = time.Now().UTC()
	}
	_, err := r.db.Exec(ctx, `
		INSERT INTO doctors (id, full_name, specialty, status, email, phone, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		d.ID, d.FullName, d.Specialty, string(d.Status), d.Email, d.Phone, d.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert doctor: %w", err)
	}
	return nil
}

func (r *doctorRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Doctor, error) {
	d, err := r.scanDoctor(r.db.QueryRow(ctx, `SELECT `+doctorCols+` FROM doctors WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get doctor %s: %w", id, err)
	}
	return d, nil
}

func (r *doctorRepoPG) List(ctx context.Context, limit, offset int) ([]*Doctor, int, error) {
	var total int
	if err := r.db.QueryRow(ctx, `SELECT COUNT(*) FROM doctors`).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count doctors: %w", err)
	}
	rows, err := r.db.Query(ctx, `SELECT `+doctorCols+` FROM doctors ORDER BY created_at ASC, id ASC LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("list doctors: %w", err)
	}
	defer rows.Close()
	var items []*Doctor
	for rows.Next() {
		d, err := r.scanDoctor(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan doctor: %w", err)
		}
		items = append(items, d)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate doctors: %w", err)
	}
	return items, total, nil
}
