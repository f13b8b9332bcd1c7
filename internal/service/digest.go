package service

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"commissiond/internal/alerting"
	"commissiond/internal/heat"
	"commissiond/internal/scheduler"
	"commissiond/internal/storage"
)

// Digest scores vendors on every scheduler tick and posts the extremes.
type Digest struct {
	svc       *Service
	scheduler *scheduler.Scheduler
	notifier  alerting.Notifier
	locker    storage.AdvisoryLocker
	lockKey   int64
	topN      int
	logger    zerolog.Logger
}

// DigestOptions configure the digest loop.
type DigestOptions struct {
	TopN    int
	LockKey int64
}

// NewDigest wires the digest loop. notifier and locker may be nil.
func NewDigest(svc *Service, sched *scheduler.Scheduler, notifier alerting.Notifier, locker storage.AdvisoryLocker, opts DigestOptions, logger zerolog.Logger) *Digest {
	topN := opts.TopN
	if topN <= 0 {
		topN = 5
	}
	return &Digest{
		svc:       svc,
		scheduler: sched,
		notifier:  notifier,
		locker:    locker,
		lockKey:   opts.LockKey,
		topN:      topN,
		logger:    logger.With().Str("component", "digest").Logger(),
	}
}

// Run begins the scheduled digest loop.
func (d *Digest) Run(ctx context.Context) error {
	if d.scheduler == nil {
		return fmt.Errorf("scheduler not configured")
	}
	return d.scheduler.Run(ctx, d.Tick)
}

// Tick builds and sends one digest as of at.
func (d *Digest) Tick(ctx context.Context, at time.Time) error {
	unlock, proceed, err := d.acquireLock(ctx)
	if err != nil {
		return err
	}
	if !proceed {
		d.logger.Debug().Time("tick", at).Msg("skip digest because advisory lock held elsewhere")
		return nil
	}
	if unlock != nil {
		defer unlock()
	}

	report, err := d.svc.VendorHeat(ctx, at)
	if err != nil {
		return fmt.Errorf("vendor heat: %w", err)
	}

	digest := Summarize(report, d.topN)
	d.logger.Info().Time("as_of", digest.AsOf).
		Int("vendors", digest.Total).
		Msg("digest computed")

	if d.notifier == nil {
		return nil
	}
	if err := d.notifier.Notify(ctx, digest); err != nil {
		return fmt.Errorf("send digest: %w", err)
	}
	return nil
}

// Summarize picks the top n and bottom n of a ranked report. The two lists
// never share an entity.
func Summarize(report HeatReport, n int) alerting.Digest {
	scores := report.Scores
	digest := alerting.Digest{AsOf: report.AsOf, Total: len(scores)}
	if n <= 0 || len(scores) == 0 {
		return digest
	}

	hot := min(n, len(scores))
	digest.Hottest = append([]heat.Score(nil), scores[:hot]...)

	cold := min(n, len(scores)-hot)
	for i := len(scores) - 1; i >= len(scores)-cold; i-- {
		digest.Coldest = append(digest.Coldest, scores[i])
	}
	return digest
}

func (d *Digest) acquireLock(ctx context.Context) (func(), bool, error) {
	if d.lockKey == 0 || d.locker == nil {
		return nil, true, nil
	}
	unlock, acquired, err := d.locker.TryAdvisoryLock(ctx, d.lockKey)
	if err != nil {
		return nil, false, fmt.Errorf("acquire advisory lock: %w", err)
	}
	if !acquired {
		return nil, false, nil
	}
	return unlock, true, nil
}
