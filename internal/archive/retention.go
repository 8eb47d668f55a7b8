// internal/archive/retention.go
package archive

import (
	"context"
	"fmt"
	"time"

	"github.com/gorhill/cronexpr"
	"go.uber.org/zap"
)

// RunRetention prunes expired records on the cron schedule expr until
// ctx is done. The expression is parsed up front; a bad one is returned
// immediately.
func (s *Store) RunRetention(ctx context.Context, expr string) error {
	sched, err := cronexpr.Parse(expr)
	if err != nil {
		return fmt.Errorf("archive: prune schedule: %w", err)
	}

	for {
		next := sched.Next(time.Now())
		if next.IsZero() {
			s.log.Warn("prune schedule has no future run", zap.String("cron", expr))
			return nil
		}

		t := time.NewTimer(time.Until(next))
		select {
		case <-ctx.Done():
			t.Stop()
			return nil
		case now := <-t.C:
			n, err := s.PruneExpired(now)
			if err != nil {
				s.log.Warn("archive prune failed", zap.Error(err))
				continue
			}
			s.log.Debug("archive pruned", zap.Int("records", n), zap.Duration("retention", s.retention))
		}
	}
}
