// Package memstore is an in-process stand-in for the shared PostgreSQL
// store. It implements the scheduling and activity repositories and
// publishes a change for every committed write, the way the database
// triggers do, so several coordinators can share one Store and observe each
// other's writes.
package memstore

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/clinicops/statusboard/internal/domain/activity"
	"github.com/clinicops/statusboard/internal/domain/scheduling"
	"github.com/clinicops/statusboard/internal/platform/realtime"
)

// WriteHook runs before an appointment status write, outside the store
// lock. A non-nil error fails the write without changing the row.
type WriteHook func(ctx context.Context, id uuid.UUID, status scheduling.AppointmentStatus) error

type Store struct {
	mu           sync.Mutex
	doctors      map[uuid.UUID]*scheduling.Doctor
	appointments map[uuid.UUID]*scheduling.Appointment
	events       map[uuid.UUID]*activity.TransitionEvent

	publisher realtime.Publisher
	now       func() time.Time
	hook      WriteHook
	eventErr  error
}

// New creates an empty store. publisher may be nil.
func New(publisher realtime.Publisher) *Store {
	return &Store{
		doctors:      make(map[uuid.UUID]*scheduling.Doctor),
		appointments: make(map[uuid.UUID]*scheduling.Appointment),
		events:       make(map[uuid.UUID]*activity.TransitionEvent),
		publisher:    publisher,
		now:          time.Now,
	}
}

func (s *Store) WithClock(now func() time.Time) *Store {
	if now != nil {
		s.now = now
	}
	return s
}

// OnStatusWrite installs a hook for appointment status writes.
func (s *Store) OnStatusWrite(hook WriteHook) {
	s.mu.Lock()
	s.hook = hook
	s.mu.Unlock()
}

// FailEventInserts makes event inserts return err until called with nil.
func (s *Store) FailEventInserts(err error) {
	s.mu.Lock()
	s.eventErr = err
	s.mu.Unlock()
}

func (s *Store) Ping(ctx context.Context) error {
	return ctx.Err()
}

func (s *Store) Appointments() scheduling.AppointmentRepository { return &appointmentRepo{s} }
func (s *Store) Doctors() scheduling.DoctorRepository           { return &doctorRepo{s} }
func (s *Store) Events() activity.Repository                    { return &eventRepo{s} }

// publishLocked must be called with s.mu held so that changes to one row
// reach the publisher in commit order.
func (s *Store) publishLocked(dataset string, t realtime.ChangeType, record, old interface{}) {
	if s.publisher == nil {
		return
	}
	change := realtime.Change{Dataset: dataset, Type: t, CommittedAt: s.now().UTC()}
	if record != nil {
		change.Record, _ = json.Marshal(record)
	}
	if old != nil {
		change.OldRecord, _ = json.Marshal(old)
	}
	_ = s.publisher.Publish(context.Background(), change)
}

// row returns a copy of a stored appointment as the change feed carries it:
// no joined doctor.
func row(a *scheduling.Appointment) *scheduling.Appointment {
	c := a.Clone()
	c.Doctor = nil
	return c
}

func (s *Store) resolveLocked(a *scheduling.Appointment) *scheduling.Appointment {
	c := row(a)
	if a.DoctorID != nil {
		if d, ok := s.doctors[*a.DoctorID]; ok {
			c.Doctor = d.Ref()
		}
	}
	return c
}

// UpdateDoctorStatus changes a doctor's availability.
func (s *Store) UpdateDoctorStatus(ctx context.Context, id uuid.UUID, status scheduling.DoctorStatus) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.doctors[id]
	if !ok {
		return scheduling.ErrNotFound
	}
	old := *d
	d.Status = status
	s.publishLocked(realtime.DatasetDoctors, realtime.ChangeUpdate, d, &old)
	return nil
}

// UpdateAppointment replaces every field of an existing appointment.
func (s *Store) UpdateAppointment(ctx context.Context, a *scheduling.Appointment) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.appointments[a.ID]
	if !ok {
		return scheduling.ErrNotFound
	}
	old := row(cur)
	next := row(a)
	next.CreatedAt = cur.CreatedAt
	s.appointments[a.ID] = next
	s.publishLocked(realtime.DatasetAppointments, realtime.ChangeUpdate, next, old)
	return nil
}

// DeleteAppointment removes an appointment and its events.
func (s *Store) DeleteAppointment(ctx context.Context, id uuid.UUID) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.appointments[id]
	if !ok {
		return scheduling.ErrNotFound
	}
	delete(s.appointments, id)
	for eid, ev := range s.events {
		if ev.AppointmentID == id {
			delete(s.events, eid)
		}
	}
	s.publishLocked(realtime.DatasetAppointments, realtime.ChangeDelete, nil, row(cur))
	return nil
}

// -- Appointments --

type appointmentRepo struct{ s *Store }

func (r *appointmentRepo) ListByWindow(ctx context.Context, q scheduling.AppointmentQuery) ([]*scheduling.Appointment, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	var out []*scheduling.Appointment
	for _, a := range r.s.appointments {
		if !scheduling.Contains(q.From, q.To, a.AppointmentTime) {
			continue
		}
		if q.DoctorID != nil && (a.DoctorID == nil || *a.DoctorID != *q.DoctorID) {
			continue
		}
		out = append(out, r.s.resolveLocked(a))
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].AppointmentTime.Equal(out[j].AppointmentTime) {
			return out[i].ID.String() < out[j].ID.String()
		}
		return out[i].AppointmentTime.Before(out[j].AppointmentTime)
	})
	return out, nil
}

func (r *appointmentRepo) GetByID(ctx context.Context, id uuid.UUID) (*scheduling.Appointment, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	a, ok := r.s.appointments[id]
	if !ok {
		return nil, scheduling.ErrNotFound
	}
	return r.s.resolveLocked(a), nil
}

func (r *appointmentRepo) UpdateStatus(ctx context.Context, id uuid.UUID, status scheduling.AppointmentStatus) (scheduling.AppointmentStatus, error) {
	r.s.mu.Lock()
	hook := r.s.hook
	r.s.mu.Unlock()
	if hook != nil {
		if err := hook(ctx, id, status); err != nil {
			return "", err
		}
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	cur, ok := r.s.appointments[id]
	if !ok {
		return "", scheduling.ErrNotFound
	}
	old := row(cur)
	cur.Status = status
	r.s.publishLocked(realtime.DatasetAppointments, realtime.ChangeUpdate, row(cur), old)
	return old.Status, nil
}

func (r *appointmentRepo) Create(ctx context.Context, a *scheduling.Appointment) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = r.s.now().UTC()
	}
	stored := row(a)
	r.s.appointments[a.ID] = stored
	r.s.publishLocked(realtime.DatasetAppointments, realtime.ChangeInsert, stored, nil)
	return nil
}

// -- Doctors --

type doctorRepo struct{ s *Store }

func (r *doctorRepo) Create(ctx context.Context, d *scheduling.Doctor) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if d.ID == uuid.Nil {
		d.ID = uuid.New()
	}
	if d.CreatedAt.IsZero() {
		d.CreatedAt = r.s.now().UTC()
	}
	stored := *d
	r.s.doctors[d.ID] = &stored
	r.s.publishLocked(realtime.DatasetDoctors, realtime.ChangeInsert, &stored, nil)
	return nil
}

func (r *doctorRepo) GetByID(ctx context.Context, id uuid.UUID) (*scheduling.Doctor, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	d, ok := r.s.doctors[id]
	if !ok {
		return nil, scheduling.ErrNotFound
	}
	cp := *d
	return &cp, nil
}

func (r *doctorRepo) List(ctx context.Context, limit, offset int) ([]*scheduling.Doctor, int, error) {
	if err := ctx.Err(); err != nil {
		return nil, 0, err
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	all := make([]*scheduling.Doctor, 0, len(r.s.doctors))
	for _, d := range r.s.doctors {
		cp := *d
		all = append(all, &cp)
	}
	sort.Slice(all, func(i, j int) bool {
		if all[i].CreatedAt.Equal(all[j].CreatedAt) {
			return all[i].ID.String() < all[j].ID.String()
		}
		return all[i].CreatedAt.Before(all[j].CreatedAt)
	})
	total := len(all)
	if offset >= total {
		return []*scheduling.Doctor{}, total, nil
	}
	end := offset + limit
	if limit <= 0 || end > total {
		end = total
	}
	return all[offset:end], total, nil
}

// -- Events --

type eventRepo struct{ s *Store }

func (r *eventRepo) Insert(ctx context.Context, e *activity.TransitionEvent) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if r.s.eventErr != nil {
		return false, r.s.eventErr
	}
	if _, ok := r.s.events[e.ID]; ok {
		return false, nil
	}
	if _, ok := r.s.appointments[e.AppointmentID]; !ok {
		return false, scheduling.ErrNotFound
	}
	cp := *e
	r.s.events[e.ID] = &cp
	r.s.publishLocked(realtime.DatasetEvents, realtime.ChangeInsert, &cp, nil)
	return true, nil
}

func (r *eventRepo) Latest(ctx context.Context, limit int) ([]*activity.Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	out := make([]*activity.Entry, 0, len(r.s.events))
	for _, ev := range r.s.events {
		entry := &activity.Entry{TransitionEvent: *ev}
		if a, ok := r.s.appointments[ev.AppointmentID]; ok {
			patient := a.PatientName
			entry.PatientName = &patient
			if a.DoctorID != nil {
				if d, ok := r.s.doctors[*a.DoctorID]; ok {
					name := d.FullName
					entry.DoctorName = &name
				}
			}
		}
		out = append(out, entry)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID.String() > out[j].ID.String()
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
