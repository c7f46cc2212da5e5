package rpc

import (
	"sync"
	"sync/atomic"
)

// Registry maps correlation identifiers to pending calls. Insert is insert-if-absent and
// removal is take-and-remove, both single atomic operations; unrelated calls never
// contend on a shared lock.
type Registry[T any] struct {
	calls sync.Map // string -> *PendingCall[T]
	size  atomic.Int64
}

// NewRegistry creates an empty registry.
func NewRegistry[T any]() *Registry[T] {
	return &Registry[T]{}
}

// Register inserts p under its identifier. It fails with ErrDuplicateCall if the
// identifier is already pending; the existing entry is left untouched.
func (r *Registry[T]) Register(p *PendingCall[T]) error {
	if _, loaded := r.calls.LoadOrStore(p.ID, p); loaded {
		return ErrDuplicateCall
	}
	r.size.Add(1)
	return nil
}

// Take removes and returns the pending call for id. Only one caller ever gets ok=true
// for a given registration.
func (r *Registry[T]) Take(id string) (*PendingCall[T], bool) {
	v, loaded := r.calls.LoadAndDelete(id)
	if !loaded {
		return nil, false
	}
	r.size.Add(-1)
	return v.(*PendingCall[T]), true
}

// Contains reports whether id is pending.
func (r *Registry[T]) Contains(id string) bool {
	_, ok := r.calls.Load(id)
	return ok
}

// Len returns the number of pending calls.
func (r *Registry[T]) Len() int {
	return int(r.size.Load())
}

// drain takes every pending call out of the registry.
func (r *Registry[T]) drain() []*PendingCall[T] {
	var out []*PendingCall[T]
	r.calls.Range(func(key, _ any) bool {
		if p, ok := r.Take(key.(string)); ok {
			out = append(out, p)
		}
		return true
	})
	return out
}
