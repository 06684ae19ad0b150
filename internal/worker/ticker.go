package worker

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// RunEvery calls fn every interval until ctx is done. Errors are logged and
// the loop keeps going.
func RunEvery(ctx context.Context, interval time.Duration, name string, logger *zap.Logger, fn func(context.Context) error) error {
	if interval <= 0 {
		<-ctx.Done()
		return nil
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := fn(ctx); err != nil && ctx.Err() == nil {
				logger.Warn("periodic job failed", zap.String("job", name), zap.Error(err))
			}
		}
	}
}
