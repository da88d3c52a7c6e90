// Package scheduler runs the decoder's periodic housekeeping: archive
// retention and a periodic traffic summary in the log.
package scheduler

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/energizer-project/liqi/internal/db"
	"github.com/energizer-project/liqi/internal/util"
)

// Archive is the subset of the message store the scheduler maintains.
type Archive interface {
	Purge(ctx context.Context, before time.Time) (int64, error)
	Stats(ctx context.Context) (db.ArchiveStats, error)
}

// Options configure the scheduler. A zero Retention disables purging and a
// zero StatsInterval disables the summary.
type Options struct {
	Retention     time.Duration
	PurgeInterval time.Duration
	StatsInterval time.Duration
}

// Scheduler manages periodic background tasks.
type Scheduler struct {
	archive Archive
	opts    Options
	logger  zerolog.Logger
	now     func() time.Time
}

// NewScheduler creates a scheduler over archive.
func NewScheduler(archive Archive, opts Options) *Scheduler {
	if opts.PurgeInterval <= 0 {
		opts.PurgeInterval = time.Hour
	}
	return &Scheduler{
		archive: archive,
		opts:    opts,
		logger:  util.ComponentLogger("scheduler"),
		now:     time.Now,
	}
}

// Start runs the enabled tasks until ctx is cancelled. The first purge
// happens immediately.
func (s *Scheduler) Start(ctx context.Context) {
	s.logger.Info().
		Dur("retention", s.opts.Retention).
		Dur("stats_interval", s.opts.StatsInterval).
		Msg("scheduler started")

	var purge, stats <-chan time.Time
	if s.opts.Retention > 0 {
		s.PurgeOnce(ctx)
		t := time.NewTicker(s.opts.PurgeInterval)
		defer t.Stop()
		purge = t.C
	}
	if s.opts.StatsInterval > 0 {
		t := time.NewTicker(s.opts.StatsInterval)
		defer t.Stop()
		stats = t.C
	}

	for {
		select {
		case <-ctx.Done():
			s.logger.Info().Msg("scheduler stopped")
			return
		case <-purge:
			s.PurgeOnce(ctx)
		case <-stats:
			s.LogStats(ctx)
		}
	}
}

// PurgeOnce deletes archived rows older than the retention window.
func (s *Scheduler) PurgeOnce(ctx context.Context) int64 {
	if s.opts.Retention <= 0 {
		return 0
	}
	cutoff := s.now().Add(-s.opts.Retention)
	removed, err := s.archive.Purge(ctx, cutoff)
	if err != nil {
		s.logger.Warn().Err(err).Msg("archive purge failed")
		return 0
	}
	return removed
}

// LogStats writes an archive summary to the log.
func (s *Scheduler) LogStats(ctx context.Context) {
	stats, err := s.archive.Stats(ctx)
	if err != nil {
		s.logger.Warn().Err(err).Msg("failed to collect archive stats")
		return
	}

	ev := s.logger.Info().
		Int64("messages", stats.Messages).
		Int64("failures", stats.Failures).
		Int64("notify", stats.ByType["notify"]).
		Int64("request", stats.ByType["request"]).
		Int64("response", stats.ByType["response"])
	if len(stats.TopMethods) > 0 {
		ev = ev.Str("top_method", stats.TopMethods[0].Method)
	}
	ev.Msg("archive summary")
}
