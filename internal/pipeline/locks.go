package pipeline

import (
	"context"
	"sync"

	"golang.org/x/sync/semaphore"
)

// TurnLocks serializes turns per conversation across every session of the
// process, so two connections cannot interleave history reads and writes.
type TurnLocks struct {
	mu    sync.Mutex
	slots map[string]*turnSlot
}

type turnSlot struct {
	sem  *semaphore.Weighted
	refs int
}

// NewTurnLocks creates an empty lock table.
func NewTurnLocks() *TurnLocks {
	return &TurnLocks{slots: make(map[string]*turnSlot)}
}

// Acquire waits until no other turn holds conversationID. The returned
// release func must be called exactly once; extra calls are no-ops.
func (l *TurnLocks) Acquire(ctx context.Context, conversationID string) (func(), error) {
	l.mu.Lock()
	slot, ok := l.slots[conversationID]
	if !ok {
		slot = &turnSlot{sem: semaphore.NewWeighted(1)}
		l.slots[conversationID] = slot
	}
	slot.refs++
	l.mu.Unlock()

	if err := slot.sem.Acquire(ctx, 1); err != nil {
		l.unref(conversationID, slot)
		return nil, err
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			slot.sem.Release(1)
			l.unref(conversationID, slot)
		})
	}, nil
}

func (l *TurnLocks) unref(conversationID string, slot *turnSlot) {
	l.mu.Lock()
	defer l.mu.Unlock()

	slot.refs--
	if slot.refs == 0 {
		delete(l.slots, conversationID)
	}
}

// Len returns the number of conversations with a held or awaited turn.
func (l *TurnLocks) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.slots)
}
