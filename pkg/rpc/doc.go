// Package rpc implements correlated request/reply over an asynchronous broker.
//
// A Client publishes a request carrying a fresh correlation identifier and the name of
// its reply channel, registers a pending call, and blocks until one of two parties takes
// that pending call out of the Registry: the Dispatcher, when a reply with the same
// identifier arrives, or the timeout guard, when the call's context ends. Take-and-remove
// is a single atomic map operation, so exactly one of them resolves the call and the
// other does nothing.
//
// One Client owns one reply channel, one Registry and one Dispatcher. Replies whose
// identifier is no longer pending (late, duplicate or foreign) are acknowledged, counted
// and dropped.
package rpc
