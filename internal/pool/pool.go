// Package pool wraps sync.Pool with type safety and an optional reset hook.
package pool

import (
	"sync"
)

// Pool is a typed sync.Pool. Items handed back with Put are passed through
// the reset function first, so Get always returns a clean item.
type Pool[T any] struct {
	pool  sync.Pool
	reset func(T) bool
}

// New creates a Pool whose empty-pool allocations come from factory.
func New[T any](factory func() T) *Pool[T] {
	return NewWithReset(factory, nil)
}

// NewWithReset creates a Pool that calls reset on every item given to Put.
// Returning false from reset drops the item instead of pooling it.
func NewWithReset[T any](factory func() T, reset func(T) bool) *Pool[T] {
	return &Pool[T]{
		pool: sync.Pool{
			New: func() interface{} {
				return factory()
			},
		},
		reset: reset,
	}
}

// Get retrieves an item from the pool, or creates a new one if the pool is empty.
func (p *Pool[T]) Get() T {
	return p.pool.Get().(T)
}

// Put returns an item to the pool.
func (p *Pool[T]) Put(x T) {
	if p.reset != nil && !p.reset(x) {
		return
	}
	p.pool.Put(x)
}
