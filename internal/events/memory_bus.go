package events

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/yoockh/closingdesk/internal/models"
)

// MemoryBus is an in-process Bus for single-node runs and tests. Slow
// subscribers drop events rather than block publishers.
type MemoryBus struct {
	mu   sync.Mutex
	subs map[string]map[*memorySubscription]struct{}

	// Published records every event in order.
	Published []models.AuthEvent
}

func NewMemoryBus() *MemoryBus {
	return &MemoryBus{subs: map[string]map[*memorySubscription]struct{}{}}
}

func (b *MemoryBus) Publish(_ context.Context, e models.AuthEvent) error {
	if e.EventID == "" {
		e.EventID = uuid.NewString()
	}
	if e.At.IsZero() {
		e.At = time.Now().UTC()
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.Published = append(b.Published, e)
	for s := range b.subs[e.UserID] {
		select {
		case s.out <- e:
		default:
		}
	}
	return nil
}

// Events returns a copy of everything published so far.
func (b *MemoryBus) Events() []models.AuthEvent {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]models.AuthEvent(nil), b.Published...)
}

func (b *MemoryBus) Subscribe(_ context.Context, userID string) (Subscription, error) {
	s := &memorySubscription{bus: b, userID: userID, out: make(chan models.AuthEvent, 16)}
	b.mu.Lock()
	if b.subs[userID] == nil {
		b.subs[userID] = map[*memorySubscription]struct{}{}
	}
	b.subs[userID][s] = struct{}{}
	b.mu.Unlock()
	return s, nil
}

type memorySubscription struct {
	bus    *MemoryBus
	userID string
	out    chan models.AuthEvent
	once   sync.Once
}

func (s *memorySubscription) Events() <-chan models.AuthEvent { return s.out }

func (s *memorySubscription) Close() error {
	s.once.Do(func() {
		s.bus.mu.Lock()
		delete(s.bus.subs[s.userID], s)
		s.bus.mu.Unlock()
		close(s.out)
	})
	return nil
}
