package listener

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"pharmatrack/internal/logger"
	"pharmatrack/internal/monitoring"
	"pharmatrack/internal/pipeline"
)

const defaultInterval = 5 * time.Minute

type Syncer interface {
	SyncOnce(ctx context.Context) (pipeline.SyncResult, error)
}

// Service polls the mailbox until its context ends. Cycles never overlap.
type Service struct {
	syncer   Syncer
	interval time.Duration
	cronSpec string
	log      *zap.Logger
	metrics  *monitoring.Metrics
}

func NewService(syncer Syncer, interval time.Duration, cronSpec string, log *zap.Logger, metrics *monitoring.Metrics) *Service {
	if interval <= 0 {
		interval = defaultInterval
	}
	return &Service{
		syncer:   syncer,
		interval: interval,
		cronSpec: strings.TrimSpace(cronSpec),
		log:      logger.OrNop(log),
		metrics:  metrics,
	}
}

// Run performs one cycle immediately, then one per interval or per cron
// tick. It returns nil once ctx is cancelled; only an invalid cron spec
// is an error.
func (s *Service) Run(ctx context.Context) error {
	if s.cronSpec != "" {
		return s.runCron(ctx)
	}

	s.log.Info("mail listener started", zap.Duration("interval", s.interval))
	for {
		s.runCycle(ctx)

		select {
		case <-ctx.Done():
			s.log.Info("mail listener stopped")
			return nil
		case <-time.After(s.interval):
		}
	}
}

func (s *Service) runCron(ctx context.Context) error {
	cronLog := cron.PrintfLogger(zap.NewStdLog(s.log.Named("cron")))
	c := cron.New(cron.WithLogger(cronLog), cron.WithChain(cron.SkipIfStillRunning(cronLog)))
	if _, err := c.AddFunc(s.cronSpec, func() { s.runCycle(ctx) }); err != nil {
		return fmt.Errorf("listener schedule %q: %w", s.cronSpec, err)
	}

	s.log.Info("mail listener started", zap.String("cron", s.cronSpec))
	s.runCycle(ctx)
	c.Start()

	<-ctx.Done()
	<-c.Stop().Done()
	s.log.Info("mail listener stopped")
	return nil
}

func (s *Service) runCycle(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}

	start := time.Now()
	res, err := s.syncer.SyncOnce(ctx)
	s.metrics.RecordSyncRun(err)
	if err != nil {
		s.log.Error("listener cycle failed", zap.Error(err), zap.Duration("took", time.Since(start)))
		return
	}
	s.log.Info("listener cycle done",
		zap.Int("processed", res.ProcessedCount),
		zap.Int("skipped", res.Skipped),
		zap.Int("attachments", len(res.Results)),
		zap.Duration("took", time.Since(start)),
	)
}
