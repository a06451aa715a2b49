package db

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Purger physically removes tombstones that every participant has received.
type Purger interface {
	PurgeAcknowledged(ctx context.Context, before time.Time) (int64, error)
}

// StartSoftDeleteCleaner purges acknowledged tombstones older than
// retention every interval until ctx is done.
func StartSoftDeleteCleaner(
	ctx context.Context,
	purger Purger,
	interval time.Duration,
	retention time.Duration,
	log *zap.Logger,
) {
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				cutoff := time.Now().Add(-retention)
				removed, err := purger.PurgeAcknowledged(ctx, cutoff)
				if err != nil {
					if ctx.Err() != nil {
						return
					}
					log.Error("failed to purge tombstones", zap.Error(err))
					continue
				}
				if removed > 0 {
					log.Info("purged tombstones", zap.Int64("removed", removed), zap.Time("before", cutoff))
				}
			}
		}
	}()
}
