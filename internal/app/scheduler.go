package app

import (
	"fmt"

	"github.com/robfig/cron/v3"

	"github.com/porticolabs/portico/internal/cache"
	"github.com/porticolabs/portico/internal/common"
)

// scheduler drives periodic keepalive refreshes: on each tick it asks the
// cache manager to re-fetch every stale entry that still remembers a usable
// token, so returning users see warm data instead of a cold fetch.
type scheduler struct {
	cron   *cron.Cron
	logger *common.Logger
}

func startScheduler(manager *cache.Manager, schedule string, logger *common.Logger) (*scheduler, error) {
	c := cron.New()

	_, err := c.AddFunc(schedule, func() {
		n := manager.RefreshStale()
		if n > 0 {
			logger.Debug().Int("entries", n).Msg("Keepalive refresh triggered")
		}
	})
	if err != nil {
		return nil, fmt.Errorf("invalid refresh schedule %q: %w", schedule, err)
	}

	c.Start()
	logger.Info().Str("schedule", schedule).Msg("Refresh scheduler started")

	return &scheduler{cron: c, logger: logger}, nil
}

func (s *scheduler) stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	s.logger.Info().Msg("Refresh scheduler stopped")
}
