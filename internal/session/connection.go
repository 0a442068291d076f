// ABOUTME: One identity's long-lived connection: sync loop with reconnect backoff
// ABOUTME: Receive handlers parse and dispatch only; processing happens elsewhere

package session

import (
	"context"
	"log/slog"
	"time"

	"github.com/2389/conclave/internal/transport"
)

const (
	initialBackoff = time.Second
	maxBackoff     = time.Minute
	// stableAfter is how long a sync loop must survive before the backoff
	// resets.
	stableAfter = time.Minute
)

// connection binds one identity name to its transport client and the
// context that scopes all of its work. Cancelling the context stops the
// sync loop and every in-flight unit started from it.
type connection struct {
	name   string
	client transport.Client
	logger *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
}

// run drives the sync loop until the connection's context is cancelled,
// reconnecting with exponential backoff on transient failures.
func (c *connection) run() error {
	backoff := initialBackoff
	for {
		started := time.Now()
		err := c.client.Run(c.ctx)
		if c.ctx.Err() != nil {
			return nil
		}
		if time.Since(started) > stableAfter {
			backoff = initialBackoff
		}

		c.logger.Warn("sync loop ended, reconnecting",
			"error", err,
			"backoff", backoff,
		)
		select {
		case <-c.ctx.Done():
			return nil
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > maxBackoff {
			backoff = maxBackoff
		}
	}
}
