package hubconn

import (
	"slices"
	"sync"

	"go-hub-tunnel/internal/infrastructure/handles"
	"go-hub-tunnel/internal/infrastructure/transport"
)

type subscription struct {
	method     string
	argc       int
	handler    Handler
	unregister transport.Action
}

// registry holds the live subscriptions. A subscription leaves the registry
// before the transport is told, so a dispatch racing an unregister is
// acknowledged and dropped.
type registry struct {
	mu     sync.Mutex
	slots  *handles.Table[*subscription]
	byName map[string][]transport.Context
}

func newRegistry() *registry {
	return &registry{
		slots:  handles.NewTable[*subscription](),
		byName: make(map[string][]transport.Context),
	}
}

func (r *registry) add(sub *subscription) transport.Context {
	r.mu.Lock()
	defer r.mu.Unlock()

	slot := r.slots.Put(sub)
	r.byName[sub.method] = append(r.byName[sub.method], slot)
	return slot
}

// bind records the transport's unregister action. It reports false when the
// subscription was removed in the meantime.
func (r *registry) bind(slot transport.Context, unregister transport.Action) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	sub, ok := r.slots.Get(slot)
	if ok {
		sub.unregister = unregister
	}
	return ok
}

func (r *registry) lookup(slot transport.Context) (*subscription, bool) {
	return r.slots.Get(slot)
}

func (r *registry) remove(slot transport.Context) (*subscription, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	sub, ok := r.slots.Delete(slot)
	if !ok {
		return nil, false
	}
	r.byName[sub.method] = slices.DeleteFunc(r.byName[sub.method], func(s transport.Context) bool { return s == slot })
	if len(r.byName[sub.method]) == 0 {
		delete(r.byName, sub.method)
	}
	return sub, true
}

func (r *registry) removeMethod(method string) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	slots := r.byName[method]
	for _, slot := range slots {
		r.slots.Delete(slot)
	}
	delete(r.byName, method)
	return len(slots)
}

func (r *registry) count(method string) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	return len(r.byName[method])
}

func (r *registry) drain() []*subscription {
	r.mu.Lock()
	defer r.mu.Unlock()

	clear(r.byName)
	return r.slots.Drain()
}
