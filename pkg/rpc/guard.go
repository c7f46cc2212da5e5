package rpc

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

const guardLogPrefix = "rpc:guard"

// armGuard fails p when callCtx ends before a reply arrives. It only acts if it wins
// the take from the registry; a call already resolved by the dispatcher is left alone.
// The returned stop disarms the guard.
func armGuard[T any](callCtx context.Context, channel string, reg *Registry[T], c *counters, p *PendingCall[T]) (stop func() bool) {
	return context.AfterFunc(callCtx, func() {
		taken, ok := reg.Take(p.ID)
		if !ok {
			return
		}
		elapsed := time.Since(taken.Started).Round(time.Millisecond)
		cause := callCtx.Err()

		if errors.Is(cause, context.Canceled) {
			c.canceled.Add(1)
			slog.Info(fmt.Sprintf("%s - Call canceled by caller correlationId=%s channel=%s elapsed=%s", guardLogPrefix, p.ID, channel, elapsed))
			taken.fail(newCanceledError(channel, p.ID, cause))
			return
		}

		c.timedOut.Add(1)
		slog.Warn(fmt.Sprintf("%s - Call timed out correlationId=%s channel=%s elapsed=%s", guardLogPrefix, p.ID, channel, elapsed))
		taken.fail(newTimeoutError(channel, p.ID, cause))
	})
}
