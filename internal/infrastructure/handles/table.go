// Package handles maps transport context values to Go values owned by a
// single connection. A slot is released exactly once: whichever caller
// deletes it first gets the value, everyone after gets nothing.
package handles

import (
	"slices"
	"sync"

	"go-hub-tunnel/internal/infrastructure/transport"
)

type Table[T any] struct {
	mu    sync.Mutex
	next  transport.Context
	slots map[transport.Context]T
}

func NewTable[T any]() *Table[T] {
	return &Table[T]{slots: make(map[transport.Context]T)}
}

// Put stores v and returns its context. The returned value is never
// transport.NoContext and is not reused while the table lives.
func (t *Table[T]) Put(v T) transport.Context {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.next++
	ctx := t.next
	t.slots[ctx] = v
	return ctx
}

func (t *Table[T]) Get(ctx transport.Context) (T, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	v, ok := t.slots[ctx]
	return v, ok
}

// Delete releases the slot. ok is true only for the call that released it.
func (t *Table[T]) Delete(ctx transport.Context) (T, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	v, ok := t.slots[ctx]
	if ok {
		delete(t.slots, ctx)
	}
	return v, ok
}

// Drain releases every slot and returns the values in allocation order.
func (t *Table[T]) Drain() []T {
	t.mu.Lock()
	defer t.mu.Unlock()

	keys := make([]transport.Context, 0, len(t.slots))
	for k := range t.slots {
		keys = append(keys, k)
	}
	slices.Sort(keys)

	values := make([]T, 0, len(keys))
	for _, k := range keys {
		values = append(values, t.slots[k])
	}
	clear(t.slots)
	return values
}

func (t *Table[T]) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()

	return len(t.slots)
}

