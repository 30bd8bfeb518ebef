// Package statusboard keeps a local view of appointments consistent with the
// shared store while staff change statuses. Status changes are applied to the
// view optimistically, written through, and rolled back on failure; change
// notifications from other clients are merged without clobbering a change
// that is still in flight.
package statusboard

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/clinicops/statusboard/internal/domain/activity"
	"github.com/clinicops/statusboard/internal/domain/scheduling"
	"github.com/clinicops/statusboard/internal/errs"
	"github.com/clinicops/statusboard/internal/platform/metrics"
)

var tracer = otel.Tracer("statusboard.internal.statusboard")

const DefaultWriteTimeout = 10 * time.Second

var (
	ErrMutationInFlight   = errors.New("a status change for this appointment is already in progress")
	ErrUnknownAppointment = errors.New("appointment not found")
	ErrInvalidStatus      = errors.New("invalid appointment status")
)

// ReasonMutating is shown for a row whose status change has not resolved.
const ReasonMutating = "Status update in progress"

// GateError is a change rejected by the availability gate.
type GateError struct {
	Decision scheduling.Decision
}

func (e *GateError) Error() string { return e.Decision.Reason }

// Row is one appointment as the board displays it at a point in time.
type Row struct {
	*scheduling.Appointment
	Window   scheduling.Window   `json:"window"`
	Mutating bool                `json:"mutating"`
	Gate     scheduling.Decision `json:"gate"`
}

// Outcome reports how a status change resolved. Status is what the view
// shows afterwards; Previous is the status the store held before the write.
type Outcome struct {
	ID         uuid.UUID                    `json:"id"`
	Changed    bool                         `json:"changed"`
	Status     scheduling.AppointmentStatus `json:"status"`
	Previous   scheduling.AppointmentStatus `json:"previous"`
	Event      *activity.TransitionEvent    `json:"event,omitempty"`
	EventError string                       `json:"event_error,omitempty"`
}

// mutation is the Mutating state of one appointment. remote is the newest
// status transition seen on the change feed while the write was in flight;
// echoed is set once a transition to target has been seen.
type mutation struct {
	old    scheduling.AppointmentStatus
	target scheduling.AppointmentStatus
	remote *scheduling.AppointmentStatus
	echoed bool
}

// Coordinator owns the local view and the per-appointment mutation state.
// One mutex guards both; store calls happen outside it.
type Coordinator struct {
	mu       sync.Mutex
	view     map[uuid.UUID]*scheduling.Appointment
	inflight map[uuid.UUID]*mutation
	loaded   map[scheduling.Window]bool

	appointments scheduling.AppointmentRepository
	doctors      scheduling.DoctorRepository
	events       *activity.Log

	logger       zerolog.Logger
	metrics      *metrics.BoardMetrics
	loc          *time.Location
	now          func() time.Time
	writeTimeout time.Duration
	source       string
}

func NewCoordinator(appts scheduling.AppointmentRepository, doctors scheduling.DoctorRepository, events *activity.Log, logger zerolog.Logger) *Coordinator {
	return &Coordinator{
		view:         make(map[uuid.UUID]*scheduling.Appointment),
		inflight:     make(map[uuid.UUID]*mutation),
		loaded:       make(map[scheduling.Window]bool),
		appointments: appts,
		doctors:      doctors,
		events:       events,
		logger:       logger.With().Str("component", "coordinator").Logger(),
		loc:          time.Local,
		now:          time.Now,
		writeTimeout: DefaultWriteTimeout,
	}
}

// WithLocation sets the zone that decides where "today" starts.
func (c *Coordinator) WithLocation(loc *time.Location) *Coordinator {
	if loc != nil {
		c.loc = loc
	}
	return c
}

func (c *Coordinator) WithClock(now func() time.Time) *Coordinator {
	if now != nil {
		c.now = now
	}
	return c
}

func (c *Coordinator) WithWriteTimeout(d time.Duration) *Coordinator {
	if d > 0 {
		c.writeTimeout = d
	}
	return c
}

// WithSource sets the source tag recorded on transition events.
func (c *Coordinator) WithSource(source string) *Coordinator {
	c.source = source
	return c
}

func (c *Coordinator) WithMetrics(m *metrics.BoardMetrics) *Coordinator {
	c.metrics = m
	return c
}

// LoadAppointments queries the store for window and merges the result into
// the view. Rows with a change in flight keep their optimistic state. Rows
// the store no longer returns for the range are dropped. On failure the view
// is left untouched.
func (c *Coordinator) LoadAppointments(ctx context.Context, w scheduling.Window) ([]Row, error) {
	const op = "statusboard.LoadAppointments"
	ctx, span := tracer.Start(ctx, op)
	defer span.End()
	span.SetAttributes(attribute.String("statusboard.window", string(w)))

	now := c.now()
	from, to := scheduling.Bounds(w, now, c.loc)
	fetched, err := c.appointments.ListByWindow(ctx, scheduling.AppointmentQuery{From: from, To: to})
	if err != nil {
		span.RecordError(err)
		return nil, errs.Load(op, err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	present := make(map[uuid.UUID]struct{}, len(fetched))
	for _, a := range fetched {
		present[a.ID] = struct{}{}
		if _, busy := c.inflight[a.ID]; busy {
			continue
		}
		c.view[a.ID] = a.Clone()
	}
	for id, a := range c.view {
		if _, ok := present[id]; ok {
			continue
		}
		if _, busy := c.inflight[id]; busy {
			continue
		}
		if scheduling.Contains(from, to, a.AppointmentTime) {
			delete(c.view, id)
		}
	}
	c.loaded[w] = true
	return c.rowsLocked(w, now), nil
}

// Rows returns the view's rows for window without querying the store.
func (c *Coordinator) Rows(w scheduling.Window) []Row {
	now := c.now()
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.rowsLocked(w, now)
}

func (c *Coordinator) rowsLocked(w scheduling.Window, now time.Time) []Row {
	rows := make([]Row, 0)
	for id, a := range c.view {
		if scheduling.Classify(a.AppointmentTime, now, c.loc) != w {
			continue
		}
		_, busy := c.inflight[id]
		rows = append(rows, Row{
			Appointment: a.Clone(),
			Window:      w,
			Mutating:    busy,
			Gate:        scheduling.CanMutate(a.DoctorStatus(), a.AppointmentTime, now),
		})
	}
	sort.Slice(rows, func(i, j int) bool {
		a, b := rows[i].Appointment, rows[j].Appointment
		if a.AppointmentTime.Equal(b.AppointmentTime) {
			return a.ID.String() < b.ID.String()
		}
		return a.AppointmentTime.Before(b.AppointmentTime)
	})
	return rows
}

// Status returns the view's current status for id.
func (c *Coordinator) Status(id uuid.UUID) (scheduling.AppointmentStatus, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	a, ok := c.view[id]
	if !ok {
		return "", false
	}
	return a.Status, true
}

// IsMutating reports whether a change for id is in flight.
func (c *Coordinator) IsMutating(id uuid.UUID) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, busy := c.inflight[id]
	return busy
}

// Gate evaluates whether id's status control should be enabled now, using
// the doctor's current status from the store.
func (c *Coordinator) Gate(ctx context.Context, id uuid.UUID) (scheduling.Decision, error) {
	const op = "statusboard.Gate"
	a, err := c.lookup(ctx, id)
	if err != nil {
		return scheduling.Decision{}, err
	}
	if c.IsMutating(id) {
		return scheduling.Decision{Allowed: false, Reason: ReasonMutating}, nil
	}
	status, err := c.doctorStatus(ctx, a.DoctorID)
	if err != nil {
		return scheduling.Decision{}, errs.Load(op, err)
	}
	return scheduling.CanMutate(status, a.AppointmentTime, c.now()), nil
}

// lookup returns a copy of the view's row for id, reading it from the store
// when the view does not hold it.
func (c *Coordinator) lookup(ctx context.Context, id uuid.UUID) (*scheduling.Appointment, error) {
	const op = "statusboard.lookup"
	c.mu.Lock()
	if a, ok := c.view[id]; ok {
		cp := a.Clone()
		c.mu.Unlock()
		return cp, nil
	}
	c.mu.Unlock()

	a, err := c.appointments.GetByID(ctx, id)
	if errors.Is(err, scheduling.ErrNotFound) {
		return nil, errs.Validation(op, ErrUnknownAppointment)
	}
	if err != nil {
		return nil, errs.Load(op, err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if cur, ok := c.view[id]; ok {
		return cur.Clone(), nil
	}
	c.view[id] = a.Clone()
	return a, nil
}

func (c *Coordinator) doctorStatus(ctx context.Context, doctorID *uuid.UUID) (scheduling.DoctorStatus, error) {
	if doctorID == nil {
		return "", nil
	}
	d, err := c.doctors.GetByID(ctx, *doctorID)
	if errors.Is(err, scheduling.ErrNotFound) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return d.Status, nil
}

// ChangeStatus moves appointment id to status on behalf of actor.
//
// A same-status request is a no-op. A request while another change for the
// same id is in flight, or one the availability gate refuses, is rejected
// with a Validation error before any write. Otherwise the view shows the new
// status at once and the store write runs under the write timeout. On
// success one transition event is recorded; failing to record it is logged
// and does not undo the change. On failure the view reverts and a Write
// error is returned. Either way, a status that arrived from the change feed
// while the write was in flight wins over the local value.
func (c *Coordinator) ChangeStatus(ctx context.Context, id uuid.UUID, status scheduling.AppointmentStatus, actor string) (Outcome, error) {
	const op = "statusboard.ChangeStatus"
	ctx, span := tracer.Start(ctx, op)
	defer span.End()
	span.SetAttributes(
		attribute.String("statusboard.appointment_id", id.String()),
		attribute.String("statusboard.target_status", string(status)),
	)

	if !status.Valid() {
		c.metrics.ObserveMutation("rejected")
		return Outcome{ID: id}, errs.Validation(op, fmt.Errorf("%w: %q", ErrInvalidStatus, status))
	}

	if _, err := c.lookup(ctx, id); err != nil {
		span.RecordError(err)
		c.metrics.ObserveMutation("rejected")
		return Outcome{ID: id}, err
	}

	// Reserve the id before any store call so a second request for the same
	// appointment is debounced rather than racing this one.
	c.mu.Lock()
	row, ok := c.view[id]
	if !ok {
		c.mu.Unlock()
		return Outcome{ID: id}, errs.Validation(op, ErrUnknownAppointment)
	}
	if row.Status == status {
		c.mu.Unlock()
		c.metrics.ObserveMutation("noop")
		return Outcome{ID: id, Status: status, Previous: status}, nil
	}
	if _, busy := c.inflight[id]; busy {
		c.mu.Unlock()
		c.metrics.ObserveMutation("rejected")
		return Outcome{ID: id, Status: row.Status, Previous: row.Status}, errs.Validation(op, ErrMutationInFlight)
	}
	m := &mutation{old: row.Status, target: status}
	c.inflight[id] = m
	cur := row.Clone()
	c.mu.Unlock()

	doctorStatus, err := c.doctorStatus(ctx, cur.DoctorID)
	if err != nil {
		c.release(id)
		span.RecordError(err)
		c.metrics.ObserveMutation("rejected")
		return Outcome{ID: id, Status: m.old, Previous: m.old}, errs.Load(op, err)
	}
	if d := scheduling.CanMutate(doctorStatus, cur.AppointmentTime, c.now()); !d.Allowed {
		c.release(id)
		c.metrics.ObserveMutation("rejected")
		return Outcome{ID: id, Status: m.old, Previous: m.old}, errs.Validation(op, &GateError{Decision: d})
	}

	c.mu.Lock()
	if row, ok := c.view[id]; ok {
		row.Status = status
		if row.Doctor != nil && doctorStatus != "" {
			row.Doctor.Status = doctorStatus
		}
	}
	c.mu.Unlock()

	wctx, cancel := context.WithTimeout(ctx, c.writeTimeout)
	start := time.Now()
	prior, werr := c.appointments.UpdateStatus(wctx, id, status)
	cancel()
	c.metrics.ObserveWriteLatency(time.Since(start).Seconds())

	final := c.resolve(id, m, werr == nil)

	if werr != nil {
		span.RecordError(werr)
		c.metrics.ObserveMutation("reverted")
		c.logger.Warn().Err(werr).
			Str("appointment_id", id.String()).
			Str("target", string(status)).
			Str("reverted_to", string(final)).
			Msg("status write failed, view reverted")
		return Outcome{ID: id, Status: final, Previous: m.old}, errs.Write(op, werr)
	}

	c.metrics.ObserveMutation("applied")
	out := Outcome{ID: id, Changed: true, Status: final, Previous: prior}
	if prior == status {
		// Another writer set the same value first; no transition happened.
		out.Changed = false
		return out, nil
	}

	// The write is durable; the audit entry must not depend on the caller
	// staying connected.
	ectx, ecancel := context.WithTimeout(context.WithoutCancel(ctx), c.writeTimeout)
	defer ecancel()
	ev, err := c.events.Record(ectx, activity.RecordInput{
		AppointmentID: id,
		OldStatus:     prior,
		NewStatus:     status,
		Actor:         actor,
		Source:        c.source,
	})
	out.Event = ev
	if err != nil {
		out.EventError = err.Error()
		c.logger.Error().Err(err).Str("appointment_id", id.String()).Msg("status changed but transition event not recorded")
	}
	return out, nil
}

// resolve leaves the Mutating state and settles the view. A failed write
// takes the last remote transition, else the old status; a successful one
// takes the target unless a transition followed our own echo.
func (c *Coordinator) resolve(id uuid.UUID, m *mutation, ok bool) scheduling.AppointmentStatus {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.inflight, id)

	// Changes arrive in commit order, so after a successful write only a
	// transition seen after our own echo is newer than it.
	final := m.old
	switch {
	case ok && m.echoed:
		final = *m.remote
	case ok:
		final = m.target
	case m.remote != nil:
		final = *m.remote
	}
	if row, exists := c.view[id]; exists {
		row.Status = final
	}
	return final
}

func (c *Coordinator) release(id uuid.UUID) {
	c.mu.Lock()
	delete(c.inflight, id)
	c.mu.Unlock()
}
