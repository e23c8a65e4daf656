package auth

import (
	"context"
	"time"

	"go.uber.org/zap"

	"typhonrelay/internal/logging"
)

const DefaultPurgeInterval = time.Hour

// StartTokenPurger deletes expired tokens every interval until ctx is done.
func (s *Service) StartTokenPurger(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultPurgeInterval
	}
	go s.purgeLoop(ctx, interval)
}

func (s *Service) purgeLoop(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := s.PurgeExpired(ctx)
			if err != nil {
				logging.L().Warn("purge expired tokens failed", zap.Error(err))
				continue
			}
			if n > 0 {
				logging.L().Info("purged expired tokens", zap.Int64("count", n))
			}
		}
	}
}
