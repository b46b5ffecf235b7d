// Package scheduler runs the crawl on a cron cadence.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-co-op/gocron/v2"
	"go.uber.org/zap"
)

// CrawlFunc is the scheduled crawl entry point.
type CrawlFunc func(ctx context.Context) error

// Config controls the crawl schedule.
type Config struct {
	Cron       string
	RunOnStart bool
}

// Scheduler triggers crawl runs on a cron expression. Runs never overlap:
// the job is registered in singleton mode, so a tick that fires while a run
// is still in flight is rescheduled.
type Scheduler struct {
	gocron gocron.Scheduler
	cfg    Config
	crawl  CrawlFunc
	logger *zap.Logger

	mu      sync.RWMutex
	job     gocron.Job
	lastRun *time.Time
}

// New creates a Scheduler for the crawl function.
func New(cfg Config, crawl CrawlFunc, logger *zap.Logger) (*Scheduler, error) {
	if crawl == nil {
		return nil, fmt.Errorf("crawl function is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	gs, err := gocron.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("create gocron scheduler: %w", err)
	}
	return &Scheduler{
		gocron: gs,
		cfg:    cfg,
		crawl:  crawl,
		logger: logger.Named("scheduler"),
	}, nil
}

// Start registers the crawl job and starts ticking. When RunOnStart is set
// the first crawl fires immediately instead of waiting for the first tick.
func (s *Scheduler) Start() error {
	job, err := s.gocron.NewJob(
		gocron.CronJob(s.cfg.Cron, false),
		gocron.NewTask(s.execute),
		gocron.WithName("crawl"),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		return fmt.Errorf("register crawl job %q: %w", s.cfg.Cron, err)
	}
	s.mu.Lock()
	s.job = job
	s.mu.Unlock()

	s.gocron.Start()
	s.logger.Info("scheduler started",
		zap.String("cron", s.cfg.Cron),
		zap.Bool("run_on_start", s.cfg.RunOnStart))

	if s.cfg.RunOnStart {
		go s.execute()
	}
	return nil
}

// Stop shuts the scheduler down, waiting for an in-flight run to finish.
func (s *Scheduler) Stop() error {
	s.logger.Info("scheduler stopping")
	if err := s.gocron.Shutdown(); err != nil {
		return fmt.Errorf("shutdown scheduler: %w", err)
	}
	return nil
}

// LastRun returns when the most recent crawl started, if any has.
func (s *Scheduler) LastRun() (time.Time, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.lastRun == nil {
		return time.Time{}, false
	}
	return *s.lastRun, true
}

// NextRun returns the next scheduled tick.
func (s *Scheduler) NextRun() (time.Time, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.job == nil {
		return time.Time{}, fmt.Errorf("scheduler not started")
	}
	next, err := s.job.NextRun()
	if err != nil {
		return time.Time{}, fmt.Errorf("next run: %w", err)
	}
	return next, nil
}

func (s *Scheduler) execute() {
	started := time.Now().UTC()
	s.mu.Lock()
	s.lastRun = &started
	s.mu.Unlock()

	s.logger.Info("scheduled crawl starting")
	err := s.crawl(context.Background())
	duration := time.Since(started)
	if err != nil {
		s.logger.Error("scheduled crawl failed",
			zap.Duration("duration", duration), zap.Error(err))
		return
	}
	s.logger.Info("scheduled crawl finished", zap.Duration("duration", duration))
}
