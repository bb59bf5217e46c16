package channel

import "sync"

type subscription struct {
	id      SubscriptionID
	handler Handler
}

// registry maps categories to handlers in registration order. It is safe to
// mutate from inside a handler: dispatch works on snapshots.
type registry struct {
	mu   sync.Mutex
	next SubscriptionID
	subs map[Category][]subscription
}

func newRegistry() *registry {
	return &registry{subs: make(map[Category][]subscription)}
}

func (r *registry) add(cat Category, h Handler) SubscriptionID {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.next++
	r.subs[cat] = append(r.subs[cat], subscription{id: r.next, handler: h})
	return r.next
}

func (r *registry) remove(cat Category, id SubscriptionID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	list := r.subs[cat]
	for i, s := range list {
		if s.id != id {
			continue
		}
		// Build a new slice so snapshots handed out earlier stay intact.
		kept := make([]subscription, 0, len(list)-1)
		kept = append(kept, list[:i]...)
		kept = append(kept, list[i+1:]...)
		if len(kept) == 0 {
			delete(r.subs, cat)
		} else {
			r.subs[cat] = kept
		}
		return true
	}
	return false
}

func (r *registry) snapshot(cat Category) []subscription {
	r.mu.Lock()
	defer r.mu.Unlock()
	list := r.subs[cat]
	if len(list) == 0 {
		return nil
	}
	out := make([]subscription, len(list))
	copy(out, list)
	return out
}

func (r *registry) count(cat Category) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.subs[cat])
}
