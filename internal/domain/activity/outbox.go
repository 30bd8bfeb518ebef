package activity

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"
)

// PendingEvent is an event whose insert failed, awaiting redelivery.
type PendingEvent struct {
	Event     TransitionEvent `json:"event"`
	Attempts  int             `json:"attempts"`
	LastError string          `json:"last_error,omitempty"`
}

// Outbox parks events that could not be written so a Deliverer can retry
// them with their original id and timestamp.
type Outbox interface {
	Push(ctx context.Context, p PendingEvent) error
	// Pending returns up to limit entries, oldest event first.
	Pending(ctx context.Context, limit int) ([]PendingEvent, error)
	Remove(ctx context.Context, id uuid.UUID) error
	Len(ctx context.Context) (int, error)
}

// MemoryOutbox is a process-local Outbox. Entries are lost on restart.
type MemoryOutbox struct {
	mu      sync.Mutex
	entries map[uuid.UUID]PendingEvent
}

func NewMemoryOutbox() *MemoryOutbox {
	return &MemoryOutbox{entries: make(map[uuid.UUID]PendingEvent)}
}

// Push adds or replaces the entry for p.Event.ID.
func (o *MemoryOutbox) Push(_ context.Context, p PendingEvent) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.entries[p.Event.ID] = p
	return nil
}

func (o *MemoryOutbox) Pending(_ context.Context, limit int) ([]PendingEvent, error) {
	o.mu.Lock()
	out := make([]PendingEvent, 0, len(o.entries))
	for _, p := range o.entries {
		out = append(out, p)
	}
	o.mu.Unlock()
	return oldestFirst(out, limit), nil
}

func (o *MemoryOutbox) Remove(_ context.Context, id uuid.UUID) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.entries, id)
	return nil
}

func (o *MemoryOutbox) Len(context.Context) (int, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.entries), nil
}

func oldestFirst(items []PendingEvent, limit int) []PendingEvent {
	sort.Slice(items, func(i, j int) bool {
		a, b := items[i].Event, items[j].Event
		if a.CreatedAt.Equal(b.CreatedAt) {
			return a.ID.String() < b.ID.String()
		}
		return a.CreatedAt.Before(b.CreatedAt)
	})
	if limit > 0 && len(items) > limit {
		items = items[:limit]
	}
	return items
}
