// Package pubsub holds listener registries owned by the engines.
package pubsub

import "sync"

// Registry is a set of callbacks for values of type T. The zero value is
// ready to use.
type Registry[T any] struct {
	mu     sync.Mutex
	nextID int
	order  []int
	fns    map[int]func(T)
}

// Add registers fn and returns a func that removes it. Calling the disposer
// more than once is harmless.
func (r *Registry[T]) Add(fn func(T)) (dispose func()) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fns == nil {
		r.fns = make(map[int]func(T))
	}
	id := r.nextID
	r.nextID++
	r.fns[id] = fn
	r.order = append(r.order, id)

	return func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		if _, ok := r.fns[id]; !ok {
			return
		}
		delete(r.fns, id)
		for i, o := range r.order {
			if o == id {
				r.order = append(r.order[:i], r.order[i+1:]...)
				break
			}
		}
	}
}

// Publish calls every registered listener in registration order. Listeners
// run without the registry lock held and may dispose themselves.
func (r *Registry[T]) Publish(v T) {
	r.mu.Lock()
	fns := make([]func(T), 0, len(r.order))
	for _, id := range r.order {
		fns = append(fns, r.fns[id])
	}
	r.mu.Unlock()

	for _, fn := range fns {
		fn(v)
	}
}

// Len returns the number of registered listeners.
func (r *Registry[T]) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.fns)
}
