package queue

import (
	"sync"
)

// Queue is a thread-safe FIFO queue that keeps at most one pending item
// per key. Pushing a key that is already queued replaces its item but keeps
// its original position.
type Queue[K comparable, V any] struct {
	mu    sync.Mutex
	keys  []K
	items map[K]V
}

// New creates a new empty queue.
func New[K comparable, V any]() *Queue[K, V] {
	return &Queue[K, V]{
		keys:  make([]K, 0),
		items: make(map[K]V),
	}
}

// Push queues item under key, replacing any pending item for key.
func (q *Queue[K, V]) Push(key K, item V) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if _, ok := q.items[key]; !ok {
		q.keys = append(q.keys, key)
	}
	q.items[key] = item
}

// Pop removes and returns the oldest item. ok is false if the queue is empty.
func (q *Queue[K, V]) Pop() (item V, ok bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.keys) == 0 {
		return item, false
	}
	key := q.keys[0]
	q.keys = q.keys[1:]
	item = q.items[key]
	delete(q.items, key)
	return item, true
}

// Empty returns true if the queue has no items.
func (q *Queue[K, V]) Empty() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.keys) == 0
}

// Len returns the number of items in the queue.
func (q *Queue[K, V]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.keys)
}

// Clear removes all items from the queue.
func (q *Queue[K, V]) Clear() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.keys = q.keys[:0]
	clear(q.items)
}

// GetAndEmpty returns all items in queue order and clears the queue.
func (q *Queue[K, V]) GetAndEmpty() []V {
	q.mu.Lock()
	defer q.mu.Unlock()
	result := make([]V, 0, len(q.keys))
	for _, k := range q.keys {
		result = append(result, q.items[k])
	}
	q.keys = make([]K, 0, cap(q.keys))
	q.items = make(map[K]V, len(result))
	return result
}

// Requeue puts items back at the front of the queue unless a newer item
// for the same key has been pushed since. keyOf extracts an item's key.
func (q *Queue[K, V]) Requeue(items []V, keyOf func(V) K) {
	q.mu.Lock()
	defer q.mu.Unlock()
	front := make([]K, 0, len(items))
	for _, item := range items {
		k := keyOf(item)
		if _, newer := q.items[k]; newer {
			continue
		}
		q.items[k] = item
		front = append(front, k)
	}
	q.keys = append(front, q.keys...)
}
