package activity

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/clinicops/statusboard/internal/domain/scheduling"
	"github.com/clinicops/statusboard/internal/errs"
	"github.com/clinicops/statusboard/internal/platform/metrics"
)

var tracer = otel.Tracer("statusboard.internal.activity")

const (
	DefaultActor  = "Admin"
	DefaultSource = "Dashboard"

	DefaultLatestLimit = 10
	MaxLatestLimit     = 100
)

// RecordInput describes one accepted status change. Empty Actor and Source
// take the log's defaults.
type RecordInput struct {
	AppointmentID uuid.UUID
	OldStatus     scheduling.AppointmentStatus
	NewStatus     scheduling.AppointmentStatus
	Actor         string
	Source        string
}

// Log is the append-only audit trail of status transitions.
type Log struct {
	repo          Repository
	outbox        Outbox
	logger        zerolog.Logger
	metrics       *metrics.BoardMetrics
	now           func() time.Time
	defaultActor  string
	defaultSource string
}

// NewLog writes to repo. A nil outbox disables parking of failed writes.
func NewLog(repo Repository, outbox Outbox, logger zerolog.Logger, m *metrics.BoardMetrics) *Log {
	return &Log{
		repo:          repo,
		outbox:        outbox,
		logger:        logger.With().Str("component", "activity").Logger(),
		metrics:       m,
		now:           time.Now,
		defaultActor:  DefaultActor,
		defaultSource: DefaultSource,
	}
}

func (l *Log) WithDefaults(actor, source string) *Log {
	if strings.TrimSpace(actor) != "" {
		l.defaultActor = strings.TrimSpace(actor)
	}
	if strings.TrimSpace(source) != "" {
		l.defaultSource = strings.TrimSpace(source)
	}
	return l
}

func (l *Log) WithClock(now func() time.Time) *Log {
	if now != nil {
		l.now = now
	}
	return l
}

// Record appends one transition event. When the store rejects the write the
// event is parked in the outbox and returned alongside a Write error.
func (l *Log) Record(ctx context.Context, in RecordInput) (*TransitionEvent, error) {
	const op = "activity.Record"
	ctx, span := tracer.Start(ctx, op, trace.WithSpanKind(trace.SpanKindInternal))
	defer span.End()

	if err := validateInput(in); err != nil {
		span.RecordError(err)
		return nil, errs.Validation(op, err)
	}

	ev := &TransitionEvent{
		ID:            uuid.New(),
		AppointmentID: in.AppointmentID,
		OldStatus:     in.OldStatus,
		NewStatus:     in.NewStatus,
		Actor:         firstNonEmpty(in.Actor, l.defaultActor),
		Source:        firstNonEmpty(in.Source, l.defaultSource),
		CreatedAt:     l.now().UTC(),
	}
	span.SetAttributes(
		attribute.String("statusboard.event_id", ev.ID.String()),
		attribute.String("statusboard.appointment_id", ev.AppointmentID.String()),
		attribute.String("statusboard.new_status", string(ev.NewStatus)),
	)

	if _, err := l.repo.Insert(ctx, ev); err != nil {
		span.RecordError(err)
		l.metrics.ObserveEventFailure("insert")
		l.park(ctx, ev, err)
		return ev, errs.Write(op, err)
	}
	return ev, nil
}

func (l *Log) park(ctx context.Context, ev *TransitionEvent, cause error) {
	evt := l.logger.Error().Err(cause).
		Str("event_id", ev.ID.String()).
		Str("appointment_id", ev.AppointmentID.String())
	if l.outbox == nil {
		evt.Msg("transition event lost: no outbox configured")
		return
	}
	// The caller's deadline may be what failed the insert.
	pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := l.outbox.Push(pctx, PendingEvent{Event: *ev, Attempts: 1, LastError: cause.Error()}); err != nil {
		l.metrics.ObserveEventFailure("outbox")
		evt.AnErr("outbox_error", err).Msg("transition event lost: outbox unavailable")
		return
	}
	if n, err := l.outbox.Len(pctx); err == nil {
		l.metrics.SetOutboxDepth(n)
	}
	evt.Msg("transition event parked for redelivery")
}

// Latest returns the newest events with patient and doctor names. Limit is
// clamped to [1, MaxLatestLimit]; zero means DefaultLatestLimit.
func (l *Log) Latest(ctx context.Context, limit int) ([]*Entry, error) {
	const op = "activity.Latest"
	ctx, span := tracer.Start(ctx, op)
	defer span.End()

	if limit <= 0 {
		limit = DefaultLatestLimit
	}
	if limit > MaxLatestLimit {
		limit = MaxLatestLimit
	}
	items, err := l.repo.Latest(ctx, limit)
	if err != nil {
		span.RecordError(err)
		return nil, errs.Load(op, err)
	}
	return items, nil
}

func validateInput(in RecordInput) error {
	if in.AppointmentID == uuid.Nil {
		return errors.New("appointment id is required")
	}
	if !in.OldStatus.Valid() {
		return fmt.Errorf("invalid old status %q", in.OldStatus)
	}
	if !in.NewStatus.Valid() {
		return fmt.Errorf("invalid new status %q", in.NewStatus)
	}
	if in.OldStatus == in.NewStatus {
		return fmt.Errorf("status unchanged (%s)", in.NewStatus)
	}
	return nil
}

func firstNonEmpty(v, fallback string) string {
	if s := strings.TrimSpace(v); s != "" {
		return s
	}
	return fallback
}
