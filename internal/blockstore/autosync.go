package blockstore

import (
	"context"
	"time"
)

// startAutoSync launches the background worker that calls Sync on a fixed
// cadence (policy.IntervalMs) whenever there is dirty data, covering both
// the debounce case (maybeFlushLocked defers threshold-crossing flushes to
// this worker) and the plain interval_ms case. Grounded on the original
// CLI's checkpoint ticker in internal/store/checkpoint.go, generalized from
// a single WAL-checkpoint timer to a per-database sync ticker.
func (s *Storage) startAutoSync() {
	s.stopAuto = make(chan struct{})
	s.autoWG.Add(1)
	go func() {
		defer s.autoWG.Done()
		ticker := time.NewTicker(s.policy.interval())
		defer ticker.Stop()
		for {
			select {
			case <-s.stopAuto:
				return
			case <-ticker.C:
				ctx, cancel := context.WithTimeout(context.Background(), s.policy.interval())
				if err := s.Sync(ctx); err != nil {
					s.logger.Error("auto-sync failed", "error", err)
				}
				cancel()
			}
		}
	}()
}
