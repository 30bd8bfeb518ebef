package statusboard

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clinicops/statusboard/internal/domain/activity"
	"github.com/clinicops/statusboard/internal/domain/scheduling"
	"github.com/clinicops/statusboard/internal/platform/memstore"
	"github.com/clinicops/statusboard/internal/platform/realtime"
)

func watching(t *testing.T, e *env) *Coordinator {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	c := e.coordinator()
	c.Watch(ctx, e.hub)
	for _, w := range scheduling.Windows {
		_, err := c.LoadAppointments(ctx, w)
		require.NoError(t, err)
	}
	return c
}

func statusIs(c *Coordinator, id uuid.UUID, want scheduling.AppointmentStatus) func() bool {
	return func() bool {
		got, ok := c.Status(id)
		return ok && got == want
	}
}

func rowFor(c *Coordinator, w scheduling.Window, id uuid.UUID) *Row {
	for _, r := range c.Rows(w) {
		if r.ID == id {
			r := r
			return &r
		}
	}
	return nil
}

func TestWatch_MergesRemoteInsertUpdateDelete(t *testing.T) {
	e := newEnv(t)
	c := watching(t, e)
	ctx := context.Background()

	a := e.addAppointment(t, e.doctor, slot, scheduling.StatusPending)
	waitFor(t, statusIs(c, a.ID, scheduling.StatusPending))
	row := rowFor(c, scheduling.WindowToday, a.ID)
	require.NotNil(t, row)
	require.NotNil(t, row.Doctor, "doctor resolved for a notified row")
	assert.Equal(t, e.doctor.FullName, row.Doctor.FullName)

	_, err := e.store.Appointments().UpdateStatus(ctx, a.ID, scheduling.StatusRescheduled)
	require.NoError(t, err)
	waitFor(t, statusIs(c, a.ID, scheduling.StatusRescheduled))

	require.NoError(t, e.store.DeleteAppointment(ctx, a.ID))
	waitFor(t, func() bool {
		_, ok := c.Status(a.ID)
		return !ok
	})
}

func TestWatch_RowMovesBetweenWindows(t *testing.T) {
	e := newEnv(t)
	a := e.addAppointment(t, e.doctor, slot, scheduling.StatusPending)
	c := watching(t, e)

	moved := a.Clone()
	moved.AppointmentTime = slot.Add(48 * time.Hour)
	require.NoError(t, e.store.UpdateAppointment(context.Background(), moved))

	waitFor(t, func() bool { return rowFor(c, scheduling.WindowUpcoming, a.ID) != nil })
	assert.Nil(t, rowFor(c, scheduling.WindowToday, a.ID))
}

func TestWatch_OutOfRangeRowNotAdded(t *testing.T) {
	e := newEnv(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	c := e.coordinator()
	c.Watch(ctx, e.hub)
	_, err := c.LoadAppointments(ctx, scheduling.WindowToday)
	require.NoError(t, err)

	future := e.addAppointment(t, e.doctor, slot.Add(72*time.Hour), scheduling.StatusPending)
	today := e.addAppointment(t, e.doctor, slot, scheduling.StatusPending)

	// Changes for one dataset arrive in commit order.
	waitFor(t, statusIs(c, today.ID, scheduling.StatusPending))
	_, ok := c.Status(future.ID)
	assert.False(t, ok, "upcoming window was never loaded")
}

func TestWatch_DoctorChangeRefreshesGate(t *testing.T) {
	e := newEnv(t)
	a := e.addAppointment(t, e.doctor, slot, scheduling.StatusPending)
	c := watching(t, e)
	require.True(t, rowFor(c, scheduling.WindowToday, a.ID).Gate.Allowed)

	require.NoError(t, e.store.UpdateDoctorStatus(context.Background(), e.doctor.ID, scheduling.DoctorOnLeave))
	waitFor(t, func() bool {
		r := rowFor(c, scheduling.WindowToday, a.ID)
		return r != nil && !r.Gate.Allowed
	})
	r := rowFor(c, scheduling.WindowToday, a.ID)
	assert.Equal(t, scheduling.DoctorOnLeave, r.Doctor.Status)
	assert.Contains(t, r.Gate.Reason, "On Leave")
}

func TestWatch_ResyncReloadsLoadedWindows(t *testing.T) {
	e, hub, d := quietEnv(t)
	c := watching(t, e)

	a := e.addAppointment(t, d, slot, scheduling.StatusPending)
	_, ok := c.Status(a.ID)
	require.False(t, ok)

	require.NoError(t, hub.Publish(context.Background(), realtime.Change{
		Dataset: realtime.DatasetAppointments,
		Type:    realtime.ChangeResync,
	}))
	waitFor(t, statusIs(c, a.ID, scheduling.StatusPending))
}

// quietEnv runs against a store that publishes nowhere, so only changes the
// test publishes itself reach the coordinator.
func quietEnv(t *testing.T) (*env, *realtime.Hub, *scheduling.Doctor) {
	t.Helper()
	hub := realtime.NewHub(zerolog.Nop())
	e := newEnv(t)
	quiet := memstore.New(nil).WithClock(e.clock.Now)
	d := &scheduling.Doctor{FullName: "Dr. Neha Rao", Status: scheduling.DoctorAvailable}
	require.NoError(t, quiet.Doctors().Create(context.Background(), d))
	e.store = quiet
	e.hub = hub
	return e, hub, d
}

func TestWatch_FetchesNotesOmittedFromChange(t *testing.T) {
	e, hub, d := quietEnv(t)
	a := e.addAppointment(t, d, slot, scheduling.StatusPending)
	c := watching(t, e)

	long := strings.Repeat("history of allergies; ", 300)
	upd := a.Clone()
	upd.Status = scheduling.StatusRescheduled
	upd.Notes = &long
	require.NoError(t, e.store.UpdateAppointment(context.Background(), upd))

	image := func(status scheduling.AppointmentStatus) json.RawMessage {
		b, err := json.Marshal(map[string]interface{}{
			"id":               a.ID,
			"doctor_id":        d.ID,
			"patient_name":     a.PatientName,
			"appointment_time": a.AppointmentTime,
			"status":           status,
			"notes_omitted":    true,
		})
		require.NoError(t, err)
		return b
	}
	require.NoError(t, hub.Publish(context.Background(), realtime.Change{
		Dataset:   realtime.DatasetAppointments,
		Type:      realtime.ChangeUpdate,
		Record:    image(scheduling.StatusRescheduled),
		OldRecord: image(scheduling.StatusPending),
	}))

	waitFor(t, statusIs(c, a.ID, scheduling.StatusRescheduled))
	r := rowFor(c, scheduling.WindowToday, a.ID)
	require.NotNil(t, r)
	require.NotNil(t, r.Notes)
	assert.Equal(t, long, *r.Notes)
}

func TestWatch_DoctorResyncRefreshesGate(t *testing.T) {
	e, hub, d := quietEnv(t)
	a := e.addAppointment(t, d, slot, scheduling.StatusPending)
	c := watching(t, e)
	require.True(t, rowFor(c, scheduling.WindowToday, a.ID).Gate.Allowed)

	require.NoError(t, e.store.UpdateDoctorStatus(context.Background(), d.ID, scheduling.DoctorInSurgery))
	require.NoError(t, hub.Publish(context.Background(), realtime.Change{
		Dataset: realtime.DatasetDoctors,
		Type:    realtime.ChangeResync,
	}))
	waitFor(t, func() bool {
		r := rowFor(c, scheduling.WindowToday, a.ID)
		return r != nil && !r.Gate.Allowed
	})
}

func TestWatch_StopReleasesSubscriptions(t *testing.T) {
	e := newEnv(t)
	ctx, cancel := context.WithCancel(context.Background())
	c := e.coordinator()
	c.Watch(ctx, e.hub)
	assert.Equal(t, 1, e.hub.SubscriptionCount(realtime.DatasetAppointments))
	assert.Equal(t, 1, e.hub.SubscriptionCount(realtime.DatasetDoctors))

	cancel()
	waitFor(t, func() bool {
		return e.hub.SubscriptionCount(realtime.DatasetAppointments) == 0 &&
			e.hub.SubscriptionCount(realtime.DatasetDoctors) == 0
	})

	stop := c.Watch(context.Background(), e.hub)
	stop()
	stop()
	assert.Equal(t, 0, e.hub.SubscriptionCount(realtime.DatasetAppointments))
}

func TestChangeStatus_OwnEchoIsConfirmation(t *testing.T) {
	e := newEnv(t)
	a := e.addAppointment(t, e.doctor, slot, scheduling.StatusPending)
	c := watching(t, e)

	out, err := c.ChangeStatus(context.Background(), a.ID, scheduling.StatusConfirmed, "")
	require.NoError(t, err)
	assert.Equal(t, scheduling.StatusConfirmed, out.Status)

	// Let the echo of our own write drain; the view must not move.
	time.Sleep(50 * time.Millisecond)
	status, _ := c.Status(a.ID)
	assert.Equal(t, scheduling.StatusConfirmed, status)
	assert.Len(t, e.eventsFor(t, a.ID), 1)
}

func TestChangeStatus_RemoteChangeInFlightWinsOverRollback(t *testing.T) {
	e := newEnv(t)
	a := e.addAppointment(t, e.doctor, slot, scheduling.StatusPending)
	held := holdWrites(e.store)
	c := watching(t, e)

	done := changeAsync(c, a.ID, scheduling.StatusConfirmed)
	held.waitEntered(t)

	notes := "moved by reception"
	third := a.Clone()
	third.Status = scheduling.StatusRescheduled
	third.Notes = &notes
	require.NoError(t, e.store.UpdateAppointment(context.Background(), third))

	// The notes prove the remote change reached the view; the status stays
	// optimistic until the write resolves.
	waitFor(t, func() bool {
		r := rowFor(c, scheduling.WindowToday, a.ID)
		return r != nil && r.Notes != nil && *r.Notes == notes
	})
	assert.Equal(t, scheduling.StatusConfirmed, rowFor(c, scheduling.WindowToday, a.ID).Status)

	held.release <- errors.New("connection reset")
	r := <-done
	require.Error(t, r.err)
	assert.Equal(t, scheduling.StatusRescheduled, r.out.Status)

	status, _ := c.Status(a.ID)
	assert.Equal(t, scheduling.StatusRescheduled, status, "remote value, not the stale old status")
	assert.Equal(t, scheduling.StatusRescheduled, e.storeStatus(t, a.ID))
}

func TestChangeStatus_NotesEditInFlightKeepsNewStatus(t *testing.T) {
	e := newEnv(t)
	a := e.addAppointment(t, e.doctor, slot, scheduling.StatusPending)
	held := holdWrites(e.store)
	c := watching(t, e)

	done := changeAsync(c, a.ID, scheduling.StatusConfirmed)
	held.waitEntered(t)

	notes := "bring previous reports"
	edit := a.Clone()
	edit.Notes = &notes
	require.NoError(t, e.store.UpdateAppointment(context.Background(), edit))
	waitFor(t, func() bool {
		r := rowFor(c, scheduling.WindowToday, a.ID)
		return r != nil && r.Notes != nil && *r.Notes == notes
	})

	held.release <- nil
	r := <-done
	require.NoError(t, r.err)
	assert.True(t, r.out.Changed)
	assert.Equal(t, scheduling.StatusConfirmed, r.out.Status)
	assert.Equal(t, scheduling.StatusPending, r.out.Previous)

	status, _ := c.Status(a.ID)
	assert.Equal(t, scheduling.StatusConfirmed, status)
	assert.Equal(t, scheduling.StatusConfirmed, e.storeStatus(t, a.ID))
	assert.Len(t, e.eventsFor(t, a.ID), 1)
}

func TestChangeStatus_EarlierTransitionInFlightDoesNotOverrideWrite(t *testing.T) {
	e := newEnv(t)
	a := e.addAppointment(t, e.doctor, slot, scheduling.StatusPending)
	held := holdWrites(e.store)
	c := watching(t, e)

	done := changeAsync(c, a.ID, scheduling.StatusConfirmed)
	held.waitEntered(t)

	// Committed before our write: Pending to Rescheduled and back.
	moved := a.Clone()
	moved.Status = scheduling.StatusRescheduled
	require.NoError(t, e.store.UpdateAppointment(context.Background(), moved))
	require.NoError(t, e.store.UpdateAppointment(context.Background(), a.Clone()))
	waitFor(t, func() bool {
		c.mu.Lock()
		defer c.mu.Unlock()
		m := c.inflight[a.ID]
		return m != nil && m.remote != nil && *m.remote == scheduling.StatusPending
	})

	held.release <- nil
	r := <-done
	require.NoError(t, r.err)
	assert.Equal(t, scheduling.StatusConfirmed, r.out.Status)
	assert.Equal(t, scheduling.StatusConfirmed, e.storeStatus(t, a.ID))
	waitFor(t, statusIs(c, a.ID, scheduling.StatusConfirmed))
}

func TestResolve_TransitionAfterOwnEchoWins(t *testing.T) {
	c := &Coordinator{view: map[uuid.UUID]*scheduling.Appointment{}, inflight: map[uuid.UUID]*mutation{}}
	id := uuid.New()
	reverted := scheduling.StatusPending
	m := &mutation{old: scheduling.StatusPending, target: scheduling.StatusConfirmed, remote: &reverted, echoed: true}
	c.inflight[id] = m

	assert.Equal(t, scheduling.StatusPending, c.resolve(id, m, true))
	assert.NotContains(t, c.inflight, id)
}

func TestChangeStatus_RemoteChangeBeforeOwnWriteConverges(t *testing.T) {
	e := newEnv(t)
	a := e.addAppointment(t, e.doctor, slot, scheduling.StatusPending)
	held := holdWrites(e.store)
	c := watching(t, e)

	done := changeAsync(c, a.ID, scheduling.StatusConfirmed)
	held.waitEntered(t)

	third := a.Clone()
	third.Status = scheduling.StatusRescheduled
	require.NoError(t, e.store.UpdateAppointment(context.Background(), third))

	held.release <- nil
	require.NoError(t, (<-done).err)

	// Our write committed last, so the store and the view settle on it.
	assert.Equal(t, scheduling.StatusConfirmed, e.storeStatus(t, a.ID))
	waitFor(t, statusIs(c, a.ID, scheduling.StatusConfirmed))
}

func TestTwoClients_ConvergeOnLastAcceptedWrite(t *testing.T) {
	for i := 0; i < 20; i++ {
		e := newEnv(t)
		a := e.addAppointment(t, e.doctor, slot, scheduling.StatusPending)
		first := watching(t, e)
		second := watching(t, e)

		// Every status the store ever held for the row.
		var mu sync.Mutex
		held := map[scheduling.AppointmentStatus]bool{scheduling.StatusPending: true}
		sub := e.hub.Subscribe(realtime.DatasetAppointments, realtime.Handlers{
			OnUpdate: func(ch realtime.Change) {
				var row scheduling.Appointment
				if ch.Decode(&row) == nil {
					mu.Lock()
					held[row.Status] = true
					mu.Unlock()
				}
			},
		})

		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, _ = first.ChangeStatus(context.Background(), a.ID, scheduling.StatusConfirmed, "Desk 1")
		}()
		go func() {
			defer wg.Done()
			_, _ = second.ChangeStatus(context.Background(), a.ID, scheduling.StatusRescheduled, "Desk 2")
		}()
		wg.Wait()

		final := e.storeStatus(t, a.ID)
		waitFor(t, statusIs(first, a.ID, final))
		waitFor(t, statusIs(second, a.ID, final))
		sub.Close()

		mu.Lock()
		for _, c := range []*Coordinator{first, second} {
			status, _ := c.Status(a.ID)
			assert.True(t, held[status], "client shows %s which the store never held", status)
		}
		mu.Unlock()
	}
}

func TestFeed_KeepsTenNewestTransitions(t *testing.T) {
	e := newEnv(t)
	a := e.addAppointment(t, e.doctor, slot, scheduling.StatusPending)
	c := e.coordinator()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	feed := activity.NewFeed(e.log(), activity.NewAppointmentEnricher(e.store.Appointments()), 10, zerolog.Nop())
	feed.Watch(ctx, e.hub)

	var last *activity.TransitionEvent
	statuses := []scheduling.AppointmentStatus{scheduling.StatusConfirmed, scheduling.StatusRescheduled, scheduling.StatusPending}
	for i := 0; i < 15; i++ {
		e.clock.Advance(time.Second)
		out, err := c.ChangeStatus(ctx, a.ID, statuses[i%len(statuses)], "")
		require.NoError(t, err)
		require.NotNil(t, out.Event)
		last = out.Event
	}

	waitFor(t, func() bool {
		entries := feed.Entries()
		return len(entries) == 10 && entries[0].ID == last.ID
	})
	entries := feed.Entries()
	for i := 1; i < len(entries); i++ {
		assert.True(t, entries[i-1].CreatedAt.After(entries[i].CreatedAt), "newest first")
	}
	require.NotNil(t, entries[0].PatientName)
	assert.Equal(t, "Sameer Gupta", *entries[0].PatientName)
	assert.Len(t, e.eventsFor(t, a.ID), 15)
}
