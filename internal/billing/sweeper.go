package billing

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// OrganizationLister lists organizations whose subscription quantity
// should track their seat count.
type OrganizationLister interface {
	ListReconcilableOrganizations(ctx context.Context) ([]string, error)
}

// SweepSummary counts the outcomes of one sweep.
type SweepSummary struct {
	Total   int `json:"total"`
	Updated int `json:"updated"`
	Skipped int `json:"skipped"`
	Failed  int `json:"failed"`
}

// Sweeper periodically reconciles every per-user subscription to repair
// drift left by failed or missed reconciliations.
type Sweeper struct {
	reconciler *Reconciler
	lister     OrganizationLister
	cron       *cron.Cron
	timeout    time.Duration
}

// NewSweeper schedules a sweep on a standard cron spec (descriptors such
// as "@hourly" are accepted). The schedule starts with Start. An empty
// schedule builds a sweeper for RunOnce only.
func NewSweeper(reconciler *Reconciler, lister OrganizationLister, schedule string) (*Sweeper, error) {
	logger := cronLogger{logger: log.With().Str("component", "reconcile-sweeper").Logger()}
	s := &Sweeper{
		reconciler: reconciler,
		lister:     lister,
		timeout:    10 * time.Minute,
		cron: cron.New(
			cron.WithLogger(logger),
			cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
		),
	}
	if schedule == "" {
		return s, nil
	}
	if _, err := s.cron.AddFunc(schedule, s.runScheduled); err != nil {
		return nil, fmt.Errorf("schedule reconcile sweep %q: %w", schedule, err)
	}
	return s, nil
}

// Start begins running scheduled sweeps in the background.
func (s *Sweeper) Start() {
	s.cron.Start()
}

// Stop stops scheduling and waits for a running sweep to finish or ctx to
// expire.
func (s *Sweeper) Stop(ctx context.Context) {
	done := s.cron.Stop()
	select {
	case <-done.Done():
	case <-ctx.Done():
	}
}

func (s *Sweeper) runScheduled() {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()
	if _, err := s.RunOnce(ctx); err != nil {
		log.Error().Err(err).Msg("Reconcile sweep failed")
	}
}

// RunOnce reconciles every listed organization. A failure for one
// organization is counted and does not stop the sweep.
func (s *Sweeper) RunOnce(ctx context.Context) (SweepSummary, error) {
	var summary SweepSummary
	orgIDs, err := s.lister.ListReconcilableOrganizations(ctx)
	if err != nil {
		return summary, fmt.Errorf("list reconcilable organizations: %w", err)
	}

	for _, orgID := range orgIDs {
		if err := ctx.Err(); err != nil {
			return summary, err
		}
		summary.Total++
		res := s.reconciler.UpdateSubscriptionQuantityForUsers(ctx, orgID)
		switch {
		case !res.Success:
			summary.Failed++
		case res.NewQuantity == nil:
			summary.Skipped++
		default:
			summary.Updated++
		}
	}

	log.Info().
		Int("total", summary.Total).
		Int("updated", summary.Updated).
		Int("skipped", summary.Skipped).
		Int("failed", summary.Failed).
		Msg("Reconcile sweep completed")
	return summary, nil
}

// cronLogger adapts zerolog to cron.Logger.
type cronLogger struct {
	logger zerolog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug().Fields(keysAndValues).Msg(msg)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error().Err(err).Fields(keysAndValues).Msg(msg)
}
