package activity

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/clinicops/statusboard/internal/platform/realtime"
)

const DefaultFeedLimit = 10

// Feed is the bounded, newest-first list of recent transitions kept live
// from appointment_events inserts. Delivery is at least once and rows may
// arrive out of created_at order, so entries are deduplicated by id and
// placed by timestamp.
type Feed struct {
	mu        sync.Mutex
	limit     int
	entries   []*Entry
	listeners map[uint64]func(*Entry)
	nextID    uint64

	log      *Log
	enricher Enricher
	logger   zerolog.Logger
}

// NewFeed keeps the newest limit entries (DefaultFeedLimit when limit <= 0).
// log seeds and reloads the feed; enricher names incoming events.
func NewFeed(log *Log, enricher Enricher, limit int, logger zerolog.Logger) *Feed {
	if limit <= 0 {
		limit = DefaultFeedLimit
	}
	return &Feed{
		limit:     limit,
		listeners: make(map[uint64]func(*Entry)),
		log:       log,
		enricher:  enricher,
		logger:    logger.With().Str("component", "activity_feed").Logger(),
	}
}

// Load replaces the feed with the newest events from the store.
func (f *Feed) Load(ctx context.Context) error {
	items, err := f.log.Latest(ctx, f.limit)
	if err != nil {
		return err
	}
	f.Seed(items)
	return nil
}

// Seed replaces the feed contents.
func (f *Feed) Seed(items []*Entry) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.entries = f.entries[:0]
	for _, e := range items {
		f.insertLocked(e)
	}
}

// Add inserts e unless it is a duplicate or older than everything retained
// in a full feed. It reports whether the feed changed.
func (f *Feed) Add(e *Entry) bool {
	f.mu.Lock()
	added := f.insertLocked(e)
	var fns []func(*Entry)
	if added {
		for _, fn := range f.listeners {
			fns = append(fns, fn)
		}
	}
	f.mu.Unlock()

	for _, fn := range fns {
		fn(e)
	}
	return added
}

func (f *Feed) insertLocked(e *Entry) bool {
	if e == nil {
		return false
	}
	for _, cur := range f.entries {
		if cur.ID == e.ID {
			return false
		}
	}
	pos := sort.Search(len(f.entries), func(i int) bool {
		return newer(e, f.entries[i])
	})
	if pos >= f.limit {
		return false
	}
	f.entries = append(f.entries, nil)
	copy(f.entries[pos+1:], f.entries[pos:])
	f.entries[pos] = e
	if len(f.entries) > f.limit {
		f.entries = f.entries[:f.limit]
	}
	return true
}

// newer orders by created_at descending, id descending on ties.
func newer(a, b *Entry) bool {
	if a.CreatedAt.Equal(b.CreatedAt) {
		return a.ID.String() > b.ID.String()
	}
	return a.CreatedAt.After(b.CreatedAt)
}

// Entries returns the current feed, newest first.
func (f *Feed) Entries() []*Entry {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]*Entry, len(f.entries))
	copy(out, f.entries)
	return out
}

// Items renders the feed for display at now.
func (f *Feed) Items(now time.Time, loc *time.Location) []FeedItem {
	entries := f.Entries()
	out := make([]FeedItem, 0, len(entries))
	for _, e := range entries {
		out = append(out, render(e, now, loc))
	}
	return out
}

// OnEvent calls fn for every entry the feed accepts until cancel is called.
func (f *Feed) OnEvent(fn func(*Entry)) (cancel func()) {
	f.mu.Lock()
	id := f.nextID
	f.nextID++
	f.listeners[id] = fn
	f.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			f.mu.Lock()
			delete(f.listeners, id)
			f.mu.Unlock()
		})
	}
}

// Watch feeds inserts on appointment_events into the feed until ctx ends.
// A resync reloads from the store.
func (f *Feed) Watch(ctx context.Context, hub *realtime.Hub) *realtime.Subscription {
	sub := hub.Subscribe(realtime.DatasetEvents, realtime.Handlers{
		OnInsert: func(c realtime.Change) { f.handleInsert(ctx, c) },
		OnResync: func(realtime.Change) {
			if err := f.Load(ctx); err != nil {
				f.logger.Error().Err(err).Msg("reload activity feed")
			}
		},
	})
	go func() {
		select {
		case <-ctx.Done():
			sub.Close()
		case <-sub.Done():
		}
	}()
	return sub
}

func (f *Feed) handleInsert(ctx context.Context, c realtime.Change) {
	var ev TransitionEvent
	if err := c.Decode(&ev); err != nil {
		f.logger.Warn().Err(err).Msg("skipping undecodable appointment event")
		return
	}
	if ev.ID == uuid.Nil {
		return
	}

	entry := &Entry{TransitionEvent: ev}
	if f.enricher != nil {
		ectx, cancel := context.WithTimeout(ctx, 5*time.Second)
		enriched, err := f.enricher.Enrich(ectx, &ev)
		cancel()
		if err != nil {
			f.logger.Warn().Err(err).Str("event_id", ev.ID.String()).Msg("could not resolve names for event")
		} else {
			entry = enriched
		}
	}
	f.Add(entry)
}
