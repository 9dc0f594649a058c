package transport

import "sync"

type handlerEntry[T any] struct {
	id int
	fn func(T)
}

// registry keeps callbacks in registration order.
type registry[T any] struct {
	mu    sync.RWMutex
	next  int
	items []handlerEntry[T]
}

func (r *registry[T]) add(fn func(T)) (remove func()) {
	r.mu.Lock()
	r.next++
	id := r.next
	r.items = append(r.items, handlerEntry[T]{id: id, fn: fn})
	r.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			r.mu.Lock()
			defer r.mu.Unlock()
			for i, it := range r.items {
				if it.id == id {
					r.items = append(r.items[:i:i], r.items[i+1:]...)
					return
				}
			}
		})
	}
}

func (r *registry[T]) emit(v T) {
	r.mu.RLock()
	items := make([]handlerEntry[T], len(r.items))
	copy(items, r.items)
	r.mu.RUnlock()

	for _, it := range items {
		it.fn(v)
	}
}

func (r *registry[T]) len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.items)
}
