package activity

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/clinicops/statusboard/internal/platform/metrics"
)

// Deliverer polls the outbox and re-inserts parked events. Inserts are
// idempotent by id, so an event that did reach the store before its first
// attempt failed is not duplicated.
type Deliverer struct {
	outbox      Outbox
	repo        Repository
	logger      zerolog.Logger
	metrics     *metrics.BoardMetrics
	batchSize   int
	interval    time.Duration
	maxAttempts int
}

func NewDeliverer(outbox Outbox, repo Repository, logger zerolog.Logger, m *metrics.BoardMetrics) *Deliverer {
	return &Deliverer{
		outbox:      outbox,
		repo:        repo,
		logger:      logger.With().Str("component", "outbox").Logger(),
		metrics:     m,
		batchSize:   25,
		interval:    5 * time.Second,
		maxAttempts: 20,
	}
}

func (d *Deliverer) WithInterval(interval time.Duration) *Deliverer {
	if interval > 0 {
		d.interval = interval
	}
	return d
}

// WithMaxAttempts sets how many failed redeliveries drop an event.
func (d *Deliverer) WithMaxAttempts(n int) *Deliverer {
	if n > 0 {
		d.maxAttempts = n
	}
	return d
}

func (d *Deliverer) Start(ctx context.Context) {
	if d.outbox == nil || d.repo == nil {
		return
	}
	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.Drain(ctx)
		}
	}
}

// Drain makes one redelivery pass and returns how many events were stored.
func (d *Deliverer) Drain(ctx context.Context) int {
	pending, err := d.outbox.Pending(ctx, d.batchSize)
	if err != nil {
		d.logger.Error().Err(err).Msg("outbox fetch failed")
		return 0
	}

	delivered := 0
	for _, p := range pending {
		ev := p.Event
		if _, err := d.repo.Insert(ctx, &ev); err != nil {
			p.Attempts++
			p.LastError = err.Error()
			if p.Attempts >= d.maxAttempts {
				d.logger.Error().Err(err).
					Str("event_id", ev.ID.String()).
					Str("appointment_id", ev.AppointmentID.String()).
					Int("attempts", p.Attempts).
					Msg("dropping transition event after max attempts")
				d.metrics.ObserveRedelivery("dropped")
				if err := d.outbox.Remove(ctx, ev.ID); err != nil {
					d.logger.Error().Err(err).Str("event_id", ev.ID.String()).Msg("outbox remove failed")
				}
				continue
			}
			d.metrics.ObserveRedelivery("failed")
			if err := d.outbox.Push(ctx, p); err != nil {
				d.logger.Error().Err(err).Str("event_id", ev.ID.String()).Msg("outbox update failed")
			}
			continue
		}

		if err := d.outbox.Remove(ctx, ev.ID); err != nil {
			d.logger.Error().Err(err).Str("event_id", ev.ID.String()).Msg("outbox remove failed")
			continue
		}
		d.metrics.ObserveRedelivery("delivered")
		d.logger.Info().Str("event_id", ev.ID.String()).Int("attempts", p.Attempts+1).Msg("transition event redelivered")
		delivered++
	}

	if n, err := d.outbox.Len(ctx); err == nil {
		d.metrics.SetOutboxDepth(n)
	}
	return delivered
}
