package httpapi

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/atp-ledger/core/internal/ledger/idempotency"
)

// RunIdempotencySweepers starts the two periodic sweepers spec.md §4.4
// describes: one resets keys stuck in "processing" past the 5-minute
// timeout, the other deletes keys past their 24h expires_at. Both run
// until ctx is canceled.
func RunIdempotencySweepers(ctx context.Context, store idempotency.Store, logger zerolog.Logger) {
	staleTicker := time.NewTicker(idempotency.StaleProcessingTimeout / 5)
	expiryTicker := time.NewTicker(time.Hour)
	defer staleTicker.Stop()
	defer expiryTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-staleTicker.C:
			n, err := store.SweepStaleProcessing(ctx)
			if err != nil {
				logger.Error().Err(err).Msg("sweep stale idempotency keys failed")
				continue
			}
			if n > 0 {
				logger.Info().Int("count", n).Msg("reclaimed stale processing idempotency keys")
			}
		case <-expiryTicker.C:
			n, err := store.SweepExpired(ctx)
			if err != nil {
				logger.Error().Err(err).Msg("sweep expired idempotency keys failed")
				continue
			}
			if n > 0 {
				logger.Info().Int("count", n).Msg("deleted expired idempotency keys")
			}
		}
	}
}
