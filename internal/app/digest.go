package app

import (
	"context"
	"errors"
	"io"
	"time"

	"commissiond/internal/alerting"
	"commissiond/internal/service"
)

// DigestOptions configure a one-off digest.
type DigestOptions struct {
	AsOf   time.Time
	TopN   int
	DryRun bool
}

// SendDigest builds a single heat digest and posts it, or prints it when
// DryRun is set.
func (a *App) SendDigest(ctx context.Context, opts DigestOptions) error {
	var notifier alerting.Notifier
	if !opts.DryRun {
		notifier = a.newNotifier()
		if notifier == nil {
			return errors.New("no digest channel enabled; use --dry-run to print instead")
		}
	}

	b, err := a.openBackend(ctx)
	if err != nil {
		return err
	}
	defer b.close()

	report, err := b.service.VendorHeat(ctx, opts.AsOf)
	if err != nil {
		return err
	}

	digest := service.Summarize(report, a.Config.ResolveTopN(opts.TopN))
	if opts.DryRun {
		_, err := io.WriteString(a.Out, alerting.RenderDigest(digest))
		return err
	}
	return notifier.Notify(ctx, digest)
}
