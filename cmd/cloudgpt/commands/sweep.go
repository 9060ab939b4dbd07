package commands

import (
	"context"
	"log/slog"
	"time"
)

// expiredSweeper is a quota store that keeps closed windows until asked to
// delete them.
type expiredSweeper interface {
	DeleteExpired(ctx context.Context, olderThan time.Duration) (int64, error)
}

// sweepQuota deletes quota windows that closed more than one interval ago,
// once per interval, until ctx ends.
func sweepQuota(ctx context.Context, s expiredSweeper, every time.Duration, logger *slog.Logger) {
	t := time.NewTicker(every)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}

		n, err := s.DeleteExpired(ctx, every)
		switch {
		case err != nil && ctx.Err() == nil:
			logger.Warn("quota sweep failed", "error", err)
		case n > 0:
			logger.Debug("quota sweep", "deleted", n)
		}
	}
}
