package jobs

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

var cronParser = cron.NewParser(
	cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// ParseSpec checks spec with the same parser the scheduler uses.
func ParseSpec(spec string) (cron.Schedule, error) {
	return cronParser.Parse(spec)
}

const sweepTimeout = 30 * time.Second

type PromotionSweeper interface {
	ExpireStale(ctx context.Context) (int, error)
}

type Scheduler struct {
	sched     *cron.Cron
	promotion PromotionSweeper
}

// New registers the promotion expiry sweep under spec, which accepts
// descriptors such as "@every 5m" and cron lines with optional seconds.
func New(loc *time.Location, spec string, promotion PromotionSweeper) (*Scheduler, error) {
	if loc == nil {
		loc = time.UTC
	}
	s := &Scheduler{
		sched:     cron.New(cron.WithLocation(loc), cron.WithParser(cronParser)),
		promotion: promotion,
	}
	if _, err := s.sched.AddFunc(spec, s.SweepPromotions); err != nil {
		return nil, errors.Wrapf(err, "schedule promotion sweep %q", spec)
	}
	return s, nil
}

// SweepPromotions deactivates promotions whose validity window has ended.
func (s *Scheduler) SweepPromotions() {
	ctx, cancel := context.WithTimeout(context.Background(), sweepTimeout)
	defer cancel()

	expired, err := s.promotion.ExpireStale(ctx)
	if err != nil {
		zap.S().Errorf("promotion sweep error %s", err.Error())
		return
	}
	if expired > 0 {
		zap.L().Info("expired promotions deactivated", zap.Int("count", expired))
	}
}

// Run starts the scheduler and blocks until ctx is done, then waits for any
// running job to finish.
func (s *Scheduler) Run(ctx context.Context) error {
	s.sched.Start()
	<-ctx.Done()
	<-s.sched.Stop().Done()
	return nil
}
