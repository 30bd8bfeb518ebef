package db

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/clinicops/statusboard/internal/errs"
	"github.com/clinicops/statusboard/internal/platform/metrics"
	"github.com/clinicops/statusboard/internal/platform/realtime"
)

// DefaultChangeChannel is the NOTIFY channel written by notify_clinic_change().
const DefaultChangeChannel = "clinic_changes"

var feedDatasets = []string{
	realtime.DatasetAppointments,
	realtime.DatasetDoctors,
	realtime.DatasetEvents,
}

// ChangeFeed holds a LISTEN connection on the change channel and republishes
// every notification, in arrival order, to a realtime.Publisher.
type ChangeFeed struct {
	pool       *pgxpool.Pool
	publisher  realtime.Publisher
	logger     zerolog.Logger
	metrics    *metrics.BoardMetrics
	channel    string
	minBackoff time.Duration
	maxBackoff time.Duration
}

func NewChangeFeed(pool *pgxpool.Pool, publisher realtime.Publisher, logger zerolog.Logger, m *metrics.BoardMetrics) *ChangeFeed {
	return &ChangeFeed{
		pool:       pool,
		publisher:  publisher,
		logger:     logger.With().Str("component", "changefeed").Logger(),
		metrics:    m,
		channel:    DefaultChangeChannel,
		minBackoff: 500 * time.Millisecond,
		maxBackoff: 30 * time.Second,
	}
}

// Run listens until ctx is cancelled. A lost connection is retried with
// exponential backoff; once listening again a resync change is published
// for every dataset, since notifications sent while disconnected are gone.
func (f *ChangeFeed) Run(ctx context.Context) error {
	backoff := f.minBackoff
	reconnecting := false

	for {
		err := f.listen(ctx, func() {
			backoff = f.minBackoff
			if reconnecting {
				f.publishResync(ctx)
			}
		})
		if ctx.Err() != nil {
			return nil
		}

		err = errs.Subscription("changefeed.listen", err)
		f.logger.Error().Err(err).Dur("retry_in", backoff).Msg("change feed interrupted")
		f.metrics.ObserveFeedReconnect()
		reconnecting = true

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(backoff):
		}
		backoff = nextBackoff(backoff, f.maxBackoff)
	}
}

func (f *ChangeFeed) listen(ctx context.Context, onReady func()) error {
	pooled, err := f.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire listener connection: %w", err)
	}
	// LISTEN state must not leak back into the pool.
	conn := pooled.Hijack()
	defer conn.Close(context.Background())

	if _, err := conn.Exec(ctx, "LISTEN "+pgx.Identifier{f.channel}.Sanitize()); err != nil {
		return fmt.Errorf("listen %s: %w", f.channel, err)
	}
	f.logger.Info().Str("channel", f.channel).Msg("change feed listening")
	onReady()

	for {
		n, err := conn.WaitForNotification(ctx)
		if err != nil {
			return fmt.Errorf("wait for notification: %w", err)
		}
		change, err := DecodeNotification(n.Payload)
		if err != nil {
			f.logger.Warn().Err(err).Str("payload", n.Payload).Msg("skipping malformed change notification")
			continue
		}
		f.metrics.ObserveChange(change.Dataset, string(change.Type))
		if err := f.publisher.Publish(ctx, change); err != nil {
			f.logger.Error().Err(err).Str("dataset", change.Dataset).Msg("publish change")
		}
	}
}

func (f *ChangeFeed) publishResync(ctx context.Context) {
	now := time.Now().UTC()
	for _, ds := range feedDatasets {
		change := realtime.Change{Dataset: ds, Type: realtime.ChangeResync, CommittedAt: now}
		if err := f.publisher.Publish(ctx, change); err != nil {
			f.logger.Error().Err(err).Str("dataset", ds).Msg("publish resync")
		}
	}
}

// DecodeNotification parses a notify_clinic_change() payload.
func DecodeNotification(payload string) (realtime.Change, error) {
	var change realtime.Change
	if err := json.Unmarshal([]byte(payload), &change); err != nil {
		return realtime.Change{}, fmt.Errorf("decode change: %w", err)
	}
	if change.Dataset == "" {
		return realtime.Change{}, fmt.Errorf("decode change: missing dataset")
	}
	switch change.Type {
	case realtime.ChangeInsert, realtime.ChangeUpdate:
		if len(change.Record) == 0 {
			return realtime.Change{}, fmt.Errorf("decode change: %s without record", change.Type)
		}
	case realtime.ChangeDelete:
		if len(change.OldRecord) == 0 {
			return realtime.Change{}, fmt.Errorf("decode change: delete without old_record")
		}
	case realtime.ChangeResync:
		// Sent in place of a row change too large for one notification.
	default:
		return realtime.Change{}, fmt.Errorf("decode change: unknown type %q", change.Type)
	}
	if change.CommittedAt.IsZero() {
		change.CommittedAt = time.Now().UTC()
	}
	return change, nil
}

func nextBackoff(cur, max time.Duration) time.Duration {
	next := cur * 2
	if next > max {
		return max
	}
	return next
}
