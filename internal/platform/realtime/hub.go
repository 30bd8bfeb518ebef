// Package realtime fans out row-level change notifications from the shared
// store to in-process subscribers and to browsers connected over WebSocket.
// Each in-process subscription is delivered in commit order, at least once.
package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// Datasets carried by the change feed.
const (
	DatasetAppointments = "appointments"
	DatasetDoctors      = "doctors"
	DatasetEvents       = "appointment_events"
)

// ChangeType is the kind of row change. Resync tells subscribers that
// notifications may have been missed and state should be reloaded.
type ChangeType string

const (
	ChangeInsert ChangeType = "insert"
	ChangeUpdate ChangeType = "update"
	ChangeDelete ChangeType = "delete"
	ChangeResync ChangeType = "resync"
)

// Change is one committed row change. Record holds the row after the change
// and OldRecord the row before it, when the producer knows it.
type Change struct {
	Dataset     string          `json:"dataset"`
	Type        ChangeType      `json:"type"`
	Record      json.RawMessage `json:"record,omitempty"`
	OldRecord   json.RawMessage `json:"old_record,omitempty"`
	CommittedAt time.Time       `json:"committed_at"`
}

// Decode unmarshals the new row into v.
func (c Change) Decode(v interface{}) error {
	if len(c.Record) == 0 {
		return fmt.Errorf("realtime: %s %s change has no record", c.Dataset, c.Type)
	}
	return json.Unmarshal(c.Record, v)
}

// DecodeOld unmarshals the previous row into v, falling back to the new row
// for producers that only send one image (deletes carry the removed row).
func (c Change) DecodeOld(v interface{}) error {
	if len(c.OldRecord) > 0 {
		return json.Unmarshal(c.OldRecord, v)
	}
	return c.Decode(v)
}

// Publisher accepts committed changes.
type Publisher interface {
	Publish(ctx context.Context, change Change) error
}

// Handlers are invoked sequentially per subscription. Nil handlers are skipped.
type Handlers struct {
	OnInsert func(Change)
	OnUpdate func(Change)
	OnDelete func(Change)
	OnResync func(Change)
}

func (h Handlers) handlerFor(t ChangeType) func(Change) {
	switch t {
	case ChangeInsert:
		return h.OnInsert
	case ChangeUpdate:
		return h.OnUpdate
	case ChangeDelete:
		return h.OnDelete
	case ChangeResync:
		return h.OnResync
	}
	return nil
}

// Subscription is a live registration for one dataset. Changes queue in an
// unbounded mailbox drained by a single goroutine, so Publish never blocks
// and never drops.
type Subscription struct {
	ID      string
	Dataset string

	hub      *Hub
	handlers Handlers
	mu       sync.Mutex
	queue    []Change
	closed   bool
	signal   chan struct{}
	done     chan struct{}
	once     sync.Once
}

func (s *Subscription) deliver(c Change) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.queue = append(s.queue, c)
	s.mu.Unlock()

	select {
	case s.signal <- struct{}{}:
	default:
	}
}

func (s *Subscription) run() {
	for {
		select {
		case <-s.done:
			return
		case <-s.signal:
		}
		for {
			s.mu.Lock()
			batch := s.queue
			s.queue = nil
			s.mu.Unlock()
			if len(batch) == 0 {
				break
			}
			for _, c := range batch {
				select {
				case <-s.done:
					return
				default:
				}
				s.dispatch(c)
			}
		}
	}
}

func (s *Subscription) dispatch(c Change) {
	fn := s.handlers.handlerFor(c.Type)
	if fn == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			var stack [4096]byte
			n := runtime.Stack(stack[:], false)
			s.hub.logger.Error().
				Str("subscription", s.ID).
				Str("dataset", c.Dataset).
				Str("change", string(c.Type)).
				Str("panic", fmt.Sprintf("%v", r)).
				Str("stack", string(stack[:n])).
				Msg("change handler panicked")
		}
	}()
	fn(c)
}

// Close unsubscribes. It is safe to call more than once and from any
// goroutine, including a handler of this subscription.
func (s *Subscription) Close() {
	s.hub.Unsubscribe(s)
}

// Done is closed once the subscription has been torn down.
func (s *Subscription) Done() <-chan struct{} {
	return s.done
}

// Hub is the central registry of in-process subscriptions and WebSocket
// clients. All operations are thread-safe.
type Hub struct {
	mu      sync.RWMutex
	subs    map[string]map[*Subscription]struct{} // dataset -> subscriptions
	clients map[string]map[*Client]struct{}       // topic -> clients
	all     map[*Client]struct{}
	seq     atomic.Uint64
	logger  zerolog.Logger
	onDrop  func(dataset string)
}

// NewHub creates a hub. Pass zerolog.Nop() to silence handler panics.
func NewHub(logger zerolog.Logger) *Hub {
	return &Hub{
		subs:    make(map[string]map[*Subscription]struct{}),
		clients: make(map[string]map[*Client]struct{}),
		all:     make(map[*Client]struct{}),
		logger:  logger.With().Str("component", "realtime").Logger(),
	}
}

// OnClientDrop registers a callback invoked when a slow WebSocket client
// misses a change.
func (h *Hub) OnClientDrop(fn func(dataset string)) {
	h.mu.Lock()
	h.onDrop = fn
	h.mu.Unlock()
}

// Subscribe registers handlers for changes to dataset.
func (h *Hub) Subscribe(dataset string, handlers Handlers) *Subscription {
	sub := &Subscription{
		ID:       fmt.Sprintf("%s-%d", dataset, h.seq.Add(1)),
		Dataset:  dataset,
		hub:      h,
		handlers: handlers,
		signal:   make(chan struct{}, 1),
		done:     make(chan struct{}),
	}

	h.mu.Lock()
	if h.subs[dataset] == nil {
		h.subs[dataset] = make(map[*Subscription]struct{})
	}
	h.subs[dataset][sub] = struct{}{}
	h.mu.Unlock()

	go sub.run()
	return sub
}

// Unsubscribe removes sub and stops its delivery goroutine. Queued changes
// not yet dispatched are discarded.
func (h *Hub) Unsubscribe(sub *Subscription) {
	if sub == nil {
		return
	}
	sub.once.Do(func() {
		h.mu.Lock()
		if set, ok := h.subs[sub.Dataset]; ok {
			delete(set, sub)
			if len(set) == 0 {
				delete(h.subs, sub.Dataset)
			}
		}
		h.mu.Unlock()

		sub.mu.Lock()
		sub.closed = true
		sub.queue = nil
		sub.mu.Unlock()
		close(sub.done)
	})
}

// Publish delivers change to every subscription of its dataset and to
// WebSocket clients subscribed to the dataset topic.
func (h *Hub) Publish(_ context.Context, change Change) error {
	if change.CommittedAt.IsZero() {
		change.CommittedAt = time.Now().UTC()
	}

	h.mu.RLock()
	for sub := range h.subs[change.Dataset] {
		sub.deliver(change)
	}
	h.mu.RUnlock()

	h.broadcast(change)
	return nil
}

// SubscriptionCount returns the number of live subscriptions for dataset.
func (h *Hub) SubscriptionCount(dataset string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[dataset])
}
