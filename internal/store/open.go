package store

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/AlexYaroshenko/krasavchik/internal/config"
)

// Open connects to the configured backend, retrying with exponential backoff.
func Open(ctx context.Context, cfg *config.Config, log zerolog.Logger) (Store, error) {
	open := func(ctx context.Context) (Store, error) {
		switch cfg.Store.Driver {
		case config.DriverBolt:
			return OpenBolt(cfg.Store.BoltPath, cfg.Store.TablePrefix)
		default:
			return OpenPostgres(ctx, cfg.PostgresURL(), cfg.Store.TablePrefix)
		}
	}
	return openWithRetry(ctx, open, cfg.Store.ConnectAttempts, cfg.Store.ConnectBackoff, cfg.Store.ConnectBackoffMax, log)
}

func openWithRetry(
	ctx context.Context,
	open func(context.Context) (Store, error),
	attempts int,
	backoff, maxBackoff time.Duration,
	log zerolog.Logger,
) (Store, error) {
	var lastErr error
	delay := backoff
	for i := 1; i <= attempts; i++ {
		s, err := open(ctx)
		if err == nil {
			return s, nil
		}
		lastErr = err
		if i == attempts {
			break
		}
		log.Warn().Err(err).
			Int("attempt", i).
			Int("max_attempts", attempts).
			Dur("retry_in", delay).
			Msg("store connection failed")

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
		delay *= 2
		if maxBackoff > 0 && delay > maxBackoff {
			delay = maxBackoff
		}
	}
	return nil, fmt.Errorf("store unreachable after %d attempts: %w", attempts, lastErr)
}
