package statusboard

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/clinicops/statusboard/internal/domain/scheduling"
	"github.com/clinicops/statusboard/internal/platform/realtime"
)

// Watch merges appointment and doctor changes into the view until ctx ends
// or stop is called. A resync reloads every window loaded so far.
func (c *Coordinator) Watch(ctx context.Context, hub *realtime.Hub) (stop func()) {
	appts := hub.Subscribe(realtime.DatasetAppointments, realtime.Handlers{
		OnInsert: func(ch realtime.Change) { c.applyUpsert(ctx, ch) },
		OnUpdate: func(ch realtime.Change) { c.applyUpsert(ctx, ch) },
		OnDelete: c.applyDelete,
		OnResync: func(realtime.Change) { c.reload(ctx) },
	})
	doctors := hub.Subscribe(realtime.DatasetDoctors, realtime.Handlers{
		OnInsert: c.applyDoctor,
		OnUpdate: c.applyDoctor,
		OnResync: func(realtime.Change) { c.reload(ctx) },
	})
	stop = func() {
		appts.Close()
		doctors.Close()
	}
	go func() {
		select {
		case <-ctx.Done():
			stop()
		case <-appts.Done():
			doctors.Close()
		}
	}()
	return stop
}

// applyUpsert merges a row from the change feed. A row with a change in
// flight keeps its optimistic status; a remote status transition is kept
// for resolution and every other field is taken as is.
func (c *Coordinator) applyUpsert(ctx context.Context, ch realtime.Change) {
	var a scheduling.Appointment
	if err := ch.Decode(&a); err != nil || a.ID == uuid.Nil {
		c.logger.Warn().Err(err).Str("type", string(ch.Type)).Msg("skipping undecodable appointment change")
		return
	}
	transition := statusTransition(ch, a.Status)
	notesOmitted := omitsNotes(ch)
	if notesOmitted {
		a.Notes, notesOmitted = c.fetchNotes(ctx, a.ID)
	}

	c.mu.Lock()
	ref := c.knownDoctorLocked(a.DoctorID)
	c.mu.Unlock()
	if ref == nil && a.DoctorID != nil {
		ref = c.fetchDoctorRef(ctx, *a.DoctorID)
	}
	a.Doctor = ref

	now := c.now()
	c.mu.Lock()
	defer c.mu.Unlock()

	cur, inView := c.view[a.ID]
	if notesOmitted && inView {
		a.Notes = cur.Clone().Notes
	}
	if m, busy := c.inflight[a.ID]; busy {
		if transition {
			status := a.Status
			m.remote = &status
			if status == m.target {
				m.echoed = true
			}
		}
		if inView {
			a.Status = cur.Status
		} else {
			a.Status = m.target
		}
		c.view[a.ID] = a.Clone()
		return
	}
	if !c.inRangeLocked(a.AppointmentTime, now) {
		delete(c.view, a.ID)
		return
	}
	c.view[a.ID] = a.Clone()
}

// statusTransition reports whether an update moved the row's status. Edits
// to other fields and inserts are not transitions.
func statusTransition(ch realtime.Change, status scheduling.AppointmentStatus) bool {
	if ch.Type != realtime.ChangeUpdate || len(ch.OldRecord) == 0 {
		return false
	}
	var old scheduling.Appointment
	if err := ch.DecodeOld(&old); err != nil {
		return false
	}
	return old.Status != status
}

func (c *Coordinator) applyDelete(ch realtime.Change) {
	var a scheduling.Appointment
	if err := ch.DecodeOld(&a); err != nil || a.ID == uuid.Nil {
		c.logger.Warn().Err(err).Msg("skipping undecodable appointment delete")
		return
	}
	c.mu.Lock()
	delete(c.view, a.ID)
	c.mu.Unlock()
}

// applyDoctor refreshes the doctor reference on every row assigned to the
// changed doctor.
func (c *Coordinator) applyDoctor(ch realtime.Change) {
	var d scheduling.Doctor
	if err := ch.Decode(&d); err != nil || d.ID == uuid.Nil {
		c.logger.Warn().Err(err).Msg("skipping undecodable doctor change")
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, a := range c.view {
		if a.DoctorID != nil && *a.DoctorID == d.ID {
			a.Doctor = d.Ref()
		}
	}
}

func (c *Coordinator) reload(ctx context.Context) {
	c.mu.Lock()
	windows := make([]scheduling.Window, 0, len(c.loaded))
	for w := range c.loaded {
		windows = append(windows, w)
	}
	c.mu.Unlock()

	for _, w := range windows {
		if _, err := c.LoadAppointments(ctx, w); err != nil {
			c.logger.Error().Err(err).Str("window", string(w)).Msg("reload after resync failed, keeping last known rows")
		}
	}
}

// knownDoctorLocked returns a copy of a doctor reference already held by
// some row in the view.
func (c *Coordinator) knownDoctorLocked(id *uuid.UUID) *scheduling.DoctorRef {
	if id == nil {
		return nil
	}
	for _, a := range c.view {
		if a.Doctor != nil && a.Doctor.ID == *id {
			ref := *a.Doctor
			return &ref
		}
	}
	return nil
}

// omitsNotes reports whether the change left out notes too long to carry.
func omitsNotes(ch realtime.Change) bool {
	var flags struct {
		NotesOmitted bool `json:"notes_omitted"`
	}
	return json.Unmarshal(ch.Record, &flags) == nil && flags.NotesOmitted
}

// fetchNotes reads the notes of a row whose change omitted them. The second
// result is true when the read failed and the caller should keep what it has.
func (c *Coordinator) fetchNotes(ctx context.Context, id uuid.UUID) (*string, bool) {
	lctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	a, err := c.appointments.GetByID(lctx, id)
	if err != nil {
		c.logger.Warn().Err(err).Str("appointment_id", id.String()).Msg("could not read notes omitted from appointment change")
		return nil, true
	}
	return a.Notes, false
}

func (c *Coordinator) fetchDoctorRef(ctx context.Context, id uuid.UUID) *scheduling.DoctorRef {
	lctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	d, err := c.doctors.GetByID(lctx, id)
	if err != nil {
		c.logger.Warn().Err(err).Str("doctor_id", id.String()).Msg("could not resolve doctor for appointment change")
		return nil
	}
	return d.Ref()
}

// inRangeLocked reports whether t falls inside any window loaded so far.
func (c *Coordinator) inRangeLocked(t, now time.Time) bool {
	for w := range c.loaded {
		from, to := scheduling.Bounds(w, now, c.loc)
		if scheduling.Contains(from, to, t) {
			return true
		}
	}
	return false
}
