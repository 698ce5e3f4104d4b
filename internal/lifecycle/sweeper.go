package lifecycle

import (
	"context"
	"log/slog"
	"time"

	"github.com/kentyler/cogito-sub006/internal/metrics"
	"github.com/kentyler/cogito-sub006/internal/notify"
	"github.com/kentyler/cogito-sub006/internal/repository"
)

type SweeperOptions struct {
	Threshold    time.Duration
	Interval     time.Duration
	AutoComplete bool
	// MaxMeetingDuration force-completes bots created longer ago than this. Zero disables.
	MaxMeetingDuration time.Duration
}

// Sweeper periodically detects stuck bots. It never writes state itself; every
// change goes through the Manager like any other caller.
type Sweeper struct {
	manager  *Manager
	notifier notify.Notifier
	metrics  *metrics.Metrics
	opts     SweeperOptions
}

func NewSweeper(manager *Manager, notifier notify.Notifier, m *metrics.Metrics, opts SweeperOptions) *Sweeper {
	return &Sweeper{
		manager:  manager,
		notifier: notifier,
		metrics:  m,
		opts:     opts,
	}
}

func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.opts.Interval)
	defer ticker.Stop()
	slog.Info("stuck sweeper started",
		"threshold", s.opts.Threshold.String(),
		"interval", s.opts.Interval.String(),
		"auto_complete", s.opts.AutoComplete,
		"max_meeting_duration", s.opts.MaxMeetingDuration.String(),
	)
	for {
		select {
		case <-ctx.Done():
			slog.Info("stuck sweeper stopped")
			return
		case <-ticker.C:
			if _, err := s.SweepOnce(ctx); err != nil {
				slog.Error("stuck sweep failed", "error", err)
			}
		}
	}
}

// SweepOnce returns the bots found stuck on this pass. Bots over the meeting
// limit are completed as well but are not part of the result.
func (s *Sweeper) SweepOnce(ctx context.Context) ([]repository.Bot, error) {
	bots, err := s.manager.ListStuck(ctx, s.opts.Threshold)
	if err != nil {
		return nil, err
	}
	s.metrics.StuckBots.Set(float64(len(bots)))

	now := s.manager.Now()
	completed := make(map[string]bool)
	for _, b := range bots {
		if b.State != repository.BotStateStuck {
			updated, err := s.manager.MarkStuck(ctx, b.ID)
			if err != nil {
				slog.Error("failed to mark bot stuck", "error", err, "bot_id", b.ID)
				continue
			}
			if updated.State == repository.BotStateStuck {
				alert := notify.StuckAlert{Bot: *updated, Threshold: s.opts.Threshold, Idle: IdleFor(b, now)}
				if err := s.notifier.NotifyStuck(ctx, alert); err != nil {
					slog.Warn("failed to send stuck alert", "error", err, "bot_id", b.ID)
				}
			}
		}
		if s.opts.AutoComplete {
			if _, err := s.manager.ForceComplete(ctx, b.ID); err != nil {
				slog.Error("auto force-complete failed", "error", err, "bot_id", b.ID)
				continue
			}
			completed[b.ID] = true
		}
	}

	if s.opts.MaxMeetingDuration > 0 {
		if err := s.completeOverdue(ctx, now, completed); err != nil {
			return bots, err
		}
	}
	return bots, nil
}

func (s *Sweeper) completeOverdue(ctx context.Context, now time.Time, skip map[string]bool) error {
	overdue, err := s.manager.ListOverdue(ctx, s.opts.MaxMeetingDuration)
	if err != nil {
		return err
	}
	for _, b := range overdue {
		if skip[b.ID] {
			continue
		}
		slog.Warn("bot exceeded max meeting duration", "bot_id", b.ID, "state", b.State, "age", now.Sub(b.CreatedAt).String())
		if _, err := s.manager.ForceComplete(ctx, b.ID); err != nil {
			slog.Error("max duration force-complete failed", "error", err, "bot_id", b.ID)
		}
	}
	return nil
}
