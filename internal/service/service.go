package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"commissiond/internal/attribution"
	"commissiond/internal/cohort"
	"commissiond/internal/fetcher"
	"commissiond/internal/heat"
)

// ErrFetch wraps failures of the aggregate source so callers can tell them
// apart from malformed aggregates.
var ErrFetch = errors.New("service: aggregate fetch failed")

// Options tune query behaviour.
type Options struct {
	QueryTimeout    time.Duration
	MaxOffsetMonths int
	CohortLookback  int
}

// Service fetches aggregate snapshots and runs the analytics on them.
type Service struct {
	source fetcher.Aggregates
	opts   Options
	now    func() time.Time
	logger zerolog.Logger
}

// New constructs the analytics service.
func New(source fetcher.Aggregates, opts Options, logger zerolog.Logger) *Service {
	return &Service{
		source: source,
		opts:   opts,
		now:    time.Now,
		logger: logger.With().Str("component", "service").Logger(),
	}
}

// AttributionReport is a decomposed period-over-period commission change.
type AttributionReport struct {
	Prior     attribution.PeriodSnapshot `json:"prior"`
	Current   attribution.PeriodSnapshot `json:"current"`
	Result    attribution.Result         `json:"result"`
	MixShift  []attribution.ProductShift `json:"mix_shift"`
	TopMovers []attribution.Mover        `json:"top_movers"`
}

// CohortReport is a retention matrix over a window of start months, with
// each cohort's chargebacks and advance earn-out alongside.
type CohortReport struct {
	Start           string               `json:"start"`
	End             string               `json:"end"`
	MaxOffsetMonths int                  `json:"max_offset_months"`
	Matrix          cohort.Matrix        `json:"matrix"`
	Summary         cohort.Summary       `json:"summary"`
	Chargebacks     []cohort.Chargeback  `json:"chargebacks"`
	Earnings        []cohort.Earning     `json:"earnings"`
	Ledger          cohort.LedgerSummary `json:"ledger"`
}

// HeatReport is a ranked list of heat scores.
type HeatReport struct {
	AsOf   time.Time    `json:"as_of"`
	Scores []heat.Score `json:"scores"`
}

// CarrierReport ranks carriers by return on written premium.
type CarrierReport struct {
	AsOf     time.Time                `json:"as_of"`
	Carriers []attribution.CarrierROI `json:"carriers"`
}

// Overview bundles the latest month's attribution, the lookback cohorts and
// vendor heat as of the same instant.
type Overview struct {
	AsOf        time.Time         `json:"as_of"`
	Attribution AttributionReport `json:"attribution"`
	Cohorts     CohortReport      `json:"cohorts"`
	Vendors     HeatReport        `json:"vendors"`
}

// Attribution decomposes the commission change from prior to current.
func (s *Service) Attribution(ctx context.Context, prior, current fetcher.Period) (AttributionReport, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	var priorSnap, currentSnap attribution.PeriodSnapshot
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		priorSnap, err = s.source.FetchPeriodSnapshot(gctx, prior)
		return fetchErr("period snapshot "+prior.Label, err)
	})
	g.Go(func() error {
		var err error
		currentSnap, err = s.source.FetchPeriodSnapshot(gctx, current)
		return fetchErr("period snapshot "+current.Label, err)
	})
	if err := g.Wait(); err != nil {
		return AttributionReport{}, err
	}

	return s.decompose(priorSnap, currentSnap)
}

func (s *Service) decompose(prior, current attribution.PeriodSnapshot) (AttributionReport, error) {
	result, err := attribution.Decompose(prior, current)
	if err != nil {
		return AttributionReport{}, err
	}

	movers, err := attribution.TopMovers(prior, current)
	if err != nil {
		return AttributionReport{}, err
	}

	s.logger.Debug().
		Str("prior", prior.Period).
		Str("current", current.Period).
		Str("total_change", result.TotalChange.String()).
		Int("movers", len(movers)).
		Msg("attribution computed")

	return AttributionReport{
		Prior:     prior,
		Current:   current,
		Result:    result,
		MixShift:  attribution.MixShift(prior, current),
		TopMovers: movers,
	}, nil
}

// Cohorts builds the retention matrix for window.
func (s *Service) Cohorts(ctx context.Context, window fetcher.CohortWindow) (CohortReport, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	var (
		records []cohort.Record
		ledger  []cohort.CommissionRecord
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		records, err = s.source.FetchCohortRecords(gctx, window)
		return fetchErr("cohort records", err)
	})
	g.Go(func() error {
		var err error
		ledger, err = s.source.FetchCohortCommissions(gctx, window)
		return fetchErr("cohort commissions", err)
	})
	if err := g.Wait(); err != nil {
		return CohortReport{}, err
	}
	return s.buildCohorts(window, records, ledger)
}

func (s *Service) buildCohorts(window fetcher.CohortWindow, records []cohort.Record, ledger []cohort.CommissionRecord) (CohortReport, error) {
	matrix, summary, err := cohort.Build(records)
	if err != nil {
		return CohortReport{}, err
	}
	chargebacks, earnings, ledgerSummary, err := cohort.BuildLedger(ledger)
	if err != nil {
		return CohortReport{}, err
	}

	s.logger.Debug().
		Int("records", len(records)).
		Int("ledger_rows", len(ledger)).
		Int("cohorts", summary.TotalCohorts).
		Msg("cohort matrix built")

	return CohortReport{
		Start:           fetcher.PeriodOf(window.Start).Label,
		End:             fetcher.PeriodOf(window.End.AddDate(0, 0, -1)).Label,
		MaxOffsetMonths: window.MaxOffsetMonths,
		Matrix:          matrix,
		Summary:         summary,
		Chargebacks:     chargebacks,
		Earnings:        earnings,
		Ledger:          ledgerSummary,
	}, nil
}

// VendorHeat ranks lead vendors as of asOf.
func (s *Service) VendorHeat(ctx context.Context, asOf time.Time) (HeatReport, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	asOf = s.resolveAsOf(asOf)
	signals, err := s.source.FetchVendorSignals(ctx, asOf)
	if err := fetchErr("vendor signals", err); err != nil {
		return HeatReport{}, err
	}
	return s.scoreVendors(asOf, signals)
}

func (s *Service) scoreVendors(asOf time.Time, signals []heat.VendorSignal) (HeatReport, error) {
	scores, err := heat.ScoreVendors(signals)
	if err != nil {
		return HeatReport{}, err
	}
	s.logger.Debug().Int("vendors", len(scores)).Time("as_of", asOf).Msg("vendor heat scored")
	return HeatReport{AsOf: asOf, Scores: scores}, nil
}

// PackHeat ranks lead packs as of asOf. With byVendor set, packs are first
// rolled up so each vendor is ranked on its combined pack economics.
func (s *Service) PackHeat(ctx context.Context, asOf time.Time, byVendor bool) (HeatReport, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	asOf = s.resolveAsOf(asOf)
	signals, err := s.source.FetchPackSignals(ctx, asOf)
	if err := fetchErr("pack signals", err); err != nil {
		return HeatReport{}, err
	}
	if byVendor {
		if signals, err = heat.RollupByVendor(signals); err != nil {
			return HeatReport{}, err
		}
	}

	scores, err := heat.ScorePacks(signals)
	if err != nil {
		return HeatReport{}, err
	}
	s.logger.Debug().Int("packs", len(scores)).Bool("by_vendor", byVendor).Time("as_of", asOf).Msg("pack heat scored")
	return HeatReport{AsOf: asOf, Scores: scores}, nil
}

// Carriers ranks carriers by the commission returned on premium written with
// them up to asOf.
func (s *Service) Carriers(ctx context.Context, asOf time.Time) (CarrierReport, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	asOf = s.resolveAsOf(asOf)
	stats, err := s.source.FetchCarrierStats(ctx, asOf)
	if err := fetchErr("carrier stats", err); err != nil {
		return CarrierReport{}, err
	}

	carriers, err := attribution.CarrierReturns(stats)
	if err != nil {
		return CarrierReport{}, err
	}
	s.logger.Debug().Int("carriers", len(carriers)).Time("as_of", asOf).Msg("carrier returns ranked")
	return CarrierReport{AsOf: asOf, Carriers: carriers}, nil
}

// Overview fetches all three aggregate sets concurrently, then runs the
// analytics on the results.
func (s *Service) Overview(ctx context.Context, asOf time.Time) (Overview, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	asOf = s.resolveAsOf(asOf)
	current := fetcher.PeriodOf(asOf)
	prior := current.Previous()
	window := fetcher.LookbackWindow(s.opts.CohortLookback, s.opts.MaxOffsetMonths, asOf)

	var (
		priorSnap, currentSnap attribution.PeriodSnapshot
		records                []cohort.Record
		ledger                 []cohort.CommissionRecord
		vendors                []heat.VendorSignal
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		priorSnap, err = s.source.FetchPeriodSnapshot(gctx, prior)
		return fetchErr("period snapshot "+prior.Label, err)
	})
	g.Go(func() error {
		var err error
		currentSnap, err = s.source.FetchPeriodSnapshot(gctx, current)
		return fetchErr("period snapshot "+current.Label, err)
	})
	g.Go(func() error {
		var err error
		records, err = s.source.FetchCohortRecords(gctx, window)
		return fetchErr("cohort records", err)
	})
	g.Go(func() error {
		var err error
		ledger, err = s.source.FetchCohortCommissions(gctx, window)
		return fetchErr("cohort commissions", err)
	})
	g.Go(func() error {
		var err error
		vendors, err = s.source.FetchVendorSignals(gctx, asOf)
		return fetchErr("vendor signals", err)
	})
	if err := g.Wait(); err != nil {
		return Overview{}, err
	}

	attr, err := s.decompose(priorSnap, currentSnap)
	if err != nil {
		return Overview{}, err
	}
	cohorts, err := s.buildCohorts(window, records, ledger)
	if err != nil {
		return Overview{}, err
	}
	heatReport, err := s.scoreVendors(asOf, vendors)
	if err != nil {
		return Overview{}, err
	}

	return Overview{AsOf: asOf, Attribution: attr, Cohorts: cohorts, Vendors: heatReport}, nil
}

func (s *Service) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.opts.QueryTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, s.opts.QueryTimeout)
}

// resolveAsOf defaults to now and truncates to the minute so repeated calls
// share cache entries.
func (s *Service) resolveAsOf(asOf time.Time) time.Time {
	if asOf.IsZero() {
		asOf = s.now()
	}
	return asOf.UTC().Truncate(time.Minute)
}

func fetchErr(what string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %s: %w", ErrFetch, what, err)
}
