package cache

import (
	"log/slog"

	cronlib "github.com/robfig/cron/v3"
)

// cronParser parses standard 5-field cron expressions (minute, hour, dom, month, dow).
var cronParser = cronlib.NewParser(
	cronlib.Minute | cronlib.Hour | cronlib.Dom | cronlib.Month | cronlib.Dow,
)

// Sweeper runs the expired-entry sweep on a cron schedule. Lazy eviction on
// read keeps correctness; the sweep keeps memory bounded for keys that are
// never read again.
type Sweeper struct {
	cron   *cronlib.Cron
	logger *slog.Logger
}

// NewSweeper schedules Sweep on the given cache per spec (a 5-field cron
// expression, e.g. "*/5 * * * *").
func NewSweeper(c *Cache, spec string, logger *slog.Logger) (*Sweeper, error) {
	if logger == nil {
		logger = slog.Default()
	}
	cr := cronlib.New(cronlib.WithParser(cronParser))
	_, err := cr.AddFunc(spec, func() {
		if n := c.Sweep(); n > 0 {
			logger.Info("cache sweep evicted expired entries", "count", n)
		}
	})
	if err != nil {
		return nil, err
	}
	return &Sweeper{cron: cr, logger: logger}, nil
}

// Start begins the sweep schedule.
func (s *Sweeper) Start() {
	s.cron.Start()
	s.logger.Info("cache sweeper started")
}

// Stop halts the schedule, waiting for a running sweep to finish.
func (s *Sweeper) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	s.logger.Info("cache sweeper stopped")
}
