// Package broadcast runs the periodic drain-and-publish cycle: it
// snapshots the dirty set on a fixed cadence, fetches fresh counts for
// each dirty poll and pushes one consolidated snapshot per poll to its
// subscribers. N votes arriving within one interval collapse into a
// single broadcast per affected poll.
package broadcast

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/pollcast/pollcast/internal/entity"
	"github.com/pollcast/pollcast/internal/lib/sl"
)

// DirtySet is the drain side of the dirty-set tracker.
type DirtySet interface {
	SnapshotAndClear(ctx context.Context) ([]uuid.UUID, error)
}

// CountSource yields the current per-option counts for a poll.
type CountSource interface {
	Results(ctx context.Context, pollID uuid.UUID) ([]entity.OptionCount, error)
}

// Publisher delivers one results snapshot to a poll's subscribers.
type Publisher interface {
	PublishResults(ctx context.Context, pollID uuid.UUID, results []entity.OptionCount) error
}

// Scheduler is a single-threaded cooperative loop driven by a fixed
// interval timer. Run at most one instance per dirty set: the atomic
// snapshot guarantees each dirty poll is drained by exactly one cycle.
// A poll whose publish fails is retried only when a later vote re-marks
// it dirty.
type Scheduler struct {
	log      *slog.Logger
	dirty    DirtySet
	counts   CountSource
	pub      Publisher
	interval time.Duration
}

func NewScheduler(log *slog.Logger, dirty DirtySet, counts CountSource, pub Publisher, interval time.Duration) *Scheduler {
	return &Scheduler{
		log:      log,
		dirty:    dirty,
		counts:   counts,
		pub:      pub,
		interval: interval,
	}
}

// Run ticks until ctx is done. It never blocks a vote request and is
// never blocked by one.
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.log.Info("broadcast scheduler started", slog.Duration("interval", s.interval))

	for {
		select {
		case <-ctx.Done():
			s.log.Info("broadcast scheduler stopped")
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

func (s *Scheduler) tick(ctx context.Context) {
	const op = "broadcast.Scheduler.tick"

	log := s.log.With(slog.String("op", op))

	pollIDs, err := s.dirty.SnapshotAndClear(ctx)
	if err != nil {
		log.Error("failed to drain dirty set", sl.Err(err))
		return
	}
	if len(pollIDs) == 0 {
		return
	}

	log.Debug("broadcasting updates", slog.Int("polls", len(pollIDs)))

	// One poll's failure must not abort the rest of the batch.
	for _, pollID := range pollIDs {
		results, err := s.counts.Results(ctx, pollID)
		if err != nil {
			log.Error("failed to fetch counts",
				slog.String("poll_id", pollID.String()), sl.Err(err))
			continue
		}

		if err := s.pub.PublishResults(ctx, pollID, results); err != nil {
			log.Error("failed to publish results",
				slog.String("poll_id", pollID.String()), sl.Err(err))
			continue
		}
	}
}
