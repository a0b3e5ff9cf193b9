package certstore

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"pvacms/metrics"
	"pvacms/model"
)

// TransitionFunc is invoked once per serial a sweep moves, letting the
// caller (the CMS service) re-sign and republish that serial's status PV
// without the store needing to know about pvnet or certstatus.
type TransitionFunc func(ctx context.Context, serial uint64, newStatus model.PVAStatus)

// Sweeper drives the two clock-based transitions the Cert Store owns
// rather than any RPC caller: PENDING -> VALID once not_before arrives,
// and VALID -> EXPIRED once not_after passes, using robfig/cron/v3 for
// the periodic schedule.
type Sweeper struct {
	store    Store
	onChange TransitionFunc
	log      *zap.Logger
	cron     *cron.Cron
}

// DefaultSweepPeriod is used when the configuration leaves the sweep
// interval unset.
const DefaultSweepPeriod = 30 * time.Second

// NewSweeper builds a Sweeper. period <= 0 selects DefaultSweepPeriod.
func NewSweeper(store Store, period time.Duration, onChange TransitionFunc, log *zap.Logger) *Sweeper {
	if period <= 0 {
		period = DefaultSweepPeriod
	}
	if log == nil {
		log = zap.NewNop()
	}
	c := cron.New(cron.WithSeconds())
	s := &Sweeper{store: store, onChange: onChange, log: log, cron: c}
	spec := "@every " + period.String()
	if _, err := c.AddFunc(spec, s.runOnce); err != nil {
		// period is always a valid duration string; AddFunc can only
		// fail on a malformed spec, which would be a programming error.
		log.Error("certstore: invalid sweep schedule, sweeper disabled", zap.String("period", period.String()), zap.Error(err))
	}
	return s
}

// Start launches the cron scheduler in the background.
func (s *Sweeper) Start() { s.cron.Start() }

// Stop blocks until any in-flight sweep finishes, then halts scheduling.
func (s *Sweeper) Stop() { <-s.cron.Stop().Done() }

func (s *Sweeper) runOnce() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	toValid, toExpired, err := s.store.SweepDue(ctx, time.Now().UTC())
	if err != nil {
		s.log.Error("certstore: sweep query failed", zap.Error(err))
		return
	}

	for _, serial := range toValid {
		if err := s.store.SetStatus(ctx, serial, model.StatusValid, []model.PVAStatus{model.StatusPending}); err != nil {
			s.log.Warn("certstore: sweep PENDING->VALID failed", zap.Uint64("serial", serial), zap.Error(err))
			continue
		}
		s.log.Info("certstore: certificate activated", zap.Uint64("serial", serial))
		metrics.SweepTransitions.WithLabelValues("VALID").Inc()
		if s.onChange != nil {
			s.onChange(ctx, serial, model.StatusValid)
		}
	}

	for _, serial := range toExpired {
		if err := s.store.SetStatus(ctx, serial, model.StatusExpired, []model.PVAStatus{model.StatusValid}); err != nil {
			s.log.Warn("certstore: sweep VALID->EXPIRED failed", zap.Uint64("serial", serial), zap.Error(err))
			continue
		}
		s.log.Info("certstore: certificate expired", zap.Uint64("serial", serial))
		metrics.SweepTransitions.WithLabelValues("EXPIRED").Inc()
		if s.onChange != nil {
			s.onChange(ctx, serial, model.StatusExpired)
		}
	}
}
