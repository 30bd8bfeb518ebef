package activity

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/clinicops/statusboard/internal/domain/scheduling"
)

type queryable interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

type eventRepoPG struct{ db queryable }

func NewRepoPG(pool *pgxpool.Pool) Repository {
	return &eventRepoPG{db: pool}
}

func (r *eventRepoPG) Insert(ctx context.Context, e *TransitionEvent) (bool, error) {
	tag, err := r.db.Exec(ctx, `
		INSERT INTO appointment_events (id, appointment_id, old_status, new_status, actor, source, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO NOTHING`,
		e.ID, e.AppointmentID, string(e.OldStatus), string(e.NewStatus), e.Actor, e.Source, e.CreatedAt)
	if err != nil {
		return false, fmt.Errorf("insert appointment event %s: %w", e.ID, err)
	}
	return tag.RowsAffected() == 1, nil
}

func (r *eventRepoPG) Latest(ctx context.Context, limit int) ([]*Entry, error) {
	rows, err := r.db.Query(ctx, `
		SELECT e.id, e.appointment_id, e.old_status, e.new_status, e.actor, e.source, e.created_at,
			a.patient_name, d.full_name
		FROM appointment_events e
		LEFT JOIN appointments a ON a.id = e.appointment_id
		LEFT JOIN doctors d ON d.id = a.doctor_id
		ORDER BY e.created_at DESC, e.id DESC
		LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("list appointment events: %w", err)
	}
	defer rows.Close()

	var items []*Entry
	for rows.Next() {
		var (
			e        Entry
			old, neu string
		)
		if err := rows.Scan(&e.ID, &e.AppointmentID, &old, &neu, &e.Actor, &e.Source, &e.CreatedAt,
			&e.PatientName, &e.DoctorName); err != nil {
			return nil, fmt.Errorf("scan appointment event: %w", err)
		}
		e.OldStatus = scheduling.AppointmentStatus(old)
		e.NewStatus = scheduling.AppointmentStatus(neu)
		items = append(items, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate appointment events: %w", err)
	}
	return items, nil
}
