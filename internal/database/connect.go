package database

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

const (
	connectAttempts = 5
	connectBackoff  = 500 * time.Millisecond
)

// pingWithRetry waits for a dependency that may still be starting, doubling
// the pause between attempts.
func pingWithRetry(ctx context.Context, name string, ping func(context.Context) error, log zerolog.Logger) error {
	backoff := connectBackoff
	var err error
	for attempt := 1; attempt <= connectAttempts; attempt++ {
		if err = ping(ctx); err == nil {
			return nil
		}
		if attempt == connectAttempts {
			break
		}

		log.Warn().Err(err).
			Str("dependency", name).
			Int("attempt", attempt).
			Dur("retry_in", backoff).
			Msg("Dependency not ready")

		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return fmt.Errorf("ping %s: %w", name, ctx.Err())
		}
		backoff *= 2
	}
	return fmt.Errorf("ping %s after %d attempts: %w", name, connectAttempts, err)
}
