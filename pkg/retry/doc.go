// Package retry provides exponential backoff for transient failures.
//
// The natsrpc connection manager uses it when a namespace is configured for
// eager connection: Start keeps dialing until a connection is established,
// the attempts are exhausted, or the context ends.
//
//	cfg := retry.DefaultConfig()
//	cfg.OnRetry = func(attempt int, err error, next time.Duration) {
//	    logger.Warn("connect failed, retrying", "attempt", attempt, "error", err, "in", next)
//	}
//	err := retry.Do(ctx, cfg, func() error {
//	    _, err := client.Connect(ctx)
//	    return err
//	})
//
// Wrap an error with NonRetryable to stop immediately:
//
//	if errors.Is(err, errors.ErrClosed) {
//	    return retry.NonRetryable(err)
//	}
package retry
