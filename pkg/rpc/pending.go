package rpc

import "time"

type result[T any] struct {
	value T
	err   error
}

// PendingCall is the in-flight state of one call.
type PendingCall[T any] struct {
	ID       string
	Decoder  Decoder[T]
	Started  time.Time
	Deadline time.Time

	done chan result[T]
}

func newPendingCall[T any](id string, dec Decoder[T], timeout time.Duration) *PendingCall[T] {
	now := time.Now()
	return &PendingCall[T]{
		ID:       id,
		Decoder:  dec,
		Started:  now,
		Deadline: now.Add(timeout),
		done:     make(chan result[T], 1),
	}
}

// resolve completes the call. Only the party that took the call out of the Registry
// may call it, so it runs at most once and never blocks.
func (p *PendingCall[T]) resolve(v T) {
	p.done <- result[T]{value: v}
}

func (p *PendingCall[T]) fail(err error) {
	p.done <- result[T]{err: err}
}

// wait blocks until the call is resolved. It must be called at most once.
func (p *PendingCall[T]) wait() result[T] {
	return <-p.done
}
