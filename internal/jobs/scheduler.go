package jobs

import (
	"context"
	"errors"
	"sync"
	"time"

	"log/slog"

	"linklytics/internal/clicks"
	"linklytics/internal/config"
	"linklytics/internal/database"
	"linklytics/internal/settings"
	"linklytics/internal/timeseries"
)

// Scheduler is responsible for running background jobs: spool flushing,
// date aggregation and buffer cleanup.
type Scheduler struct {
	dbManager *database.DBManager
	logger    *slog.Logger
	ctx       context.Context
	cancel    context.CancelFunc
	enabled   bool
	isRunning bool
	cfg       *config.Config

	// Mutex to prevent concurrent aggregation executions
	processingMutex sync.Mutex
	isProcessing    bool

	// Job instances
	writer       *clicks.Writer
	aggregateJob *AggregateJob
	cleanupJob   *CleanupJob

	// Tickers for each job type
	flushTicker     *time.Ticker
	aggregateTicker *time.Ticker
	cleanupTicker   *time.Ticker
}

func NewScheduler(dbManager *database.DBManager, store *timeseries.Client, writer *clicks.Writer, provider *settings.Provider, logger *slog.Logger) (*Scheduler, error) {
	ctx, cancel := context.WithCancel(context.Background())
	cfg := config.GetConfig()

	s := &Scheduler{
		dbManager: dbManager,
		logger:    logger,
		ctx:       ctx,
		cancel:    cancel,
		enabled:   true,
		isRunning: false,
		cfg:       cfg,
		writer:    writer,
	}

	s.aggregateJob = NewAggregateJob(dbManager.GetConnection(), store, provider, logger)
	s.cleanupJob = NewCleanupJob(dbManager, logger, cfg)

	return s, nil
}

// executeJobSafely runs a job only if no other job is currently executing
func (s *Scheduler) executeJobSafely(jobName string, jobFunc func() error) {
	s.processingMutex.Lock()
	if s.isProcessing {
		s.logger.Debug("Skipping job execution - previous job still running", slog.String("job", jobName))
		s.processingMutex.Unlock()
		return
	}
	s.isProcessing = true
	s.processingMutex.Unlock()

	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("Panic recovered in background job",
				slog.String("job", jobName),
				slog.Any("panic", r))
		}

		s.processingMutex.Lock()
		s.isProcessing = false
		s.processingMutex.Unlock()
	}()

	if err := jobFunc(); err != nil {
		s.logger.Error("Error executing job", slog.String("job", jobName), slog.Any("error", err))
	}
}

// Start begins all background jobs
func (s *Scheduler) Start() error {
	if !s.enabled {
		s.logger.Info("Background jobs are disabled.")
		return nil
	}

	if s.isRunning {
		s.logger.Info("Background jobs already running.")
		return nil
	}

	s.logger.Info("Starting background jobs...")
	s.isRunning = true

	s.startFlushJob()
	s.startAggregateJob()
	s.startCleanupJob()

	s.logger.Info("Background jobs started",
		slog.Bool("enabled", s.enabled),
		slog.Bool("isRunning", s.isRunning))
	return nil
}

func (s *Scheduler) startFlushJob() {
	interval := time.Duration(s.cfg.JobIntervalSeconds) * time.Second
	s.logger.Info("Starting click flush job", slog.Duration("interval", interval))
	s.flushTicker = time.NewTicker(interval)

	go func() {
		s.runFlush()
		for {
			select {
			case <-s.flushTicker.C:
				s.runFlush()
			case <-s.ctx.Done():
				s.logger.Info("Click flush job stopped")
				return
			}
		}
	}()
}

func (s *Scheduler) runFlush() {
	delivered, err := s.writer.Flush(s.ctx, 500)
	if err != nil {
		s.logger.Error("Error flushing click spool", slog.Any("error", err))
		return
	}
	if delivered > 0 {
		s.logger.Debug("Flushed click spool", slog.Int("delivered", delivered))
	}
}

func (s *Scheduler) startAggregateJob() {
	interval := time.Hour
	s.logger.Info("Starting aggregation job", slog.Duration("interval", interval))
	s.aggregateTicker = time.NewTicker(interval)

	go func() {
		s.executeJobSafely("aggregate", s.runAggregation)
		for {
			select {
			case <-s.aggregateTicker.C:
				s.executeJobSafely("aggregate", s.runAggregation)
			case <-s.ctx.Done():
				s.logger.Info("Aggregation job stopped")
				return
			}
		}
	}()
}

// runAggregation aggregates the newest date that just crossed the threshold.
// Earlier missed dates are covered by RunBackfill, invoked manually.
func (s *Scheduler) runAggregation() error {
	_, err := s.aggregateJob.RunLatestEligible(s.ctx)
	return err
}

func (s *Scheduler) startCleanupJob() {
	interval := 24 * time.Hour
	s.logger.Info("Starting cleanup job", slog.Duration("interval", interval))
	s.cleanupTicker = time.NewTicker(interval)

	go func() {
		if err := s.cleanupJob.Run(); err != nil {
			s.logger.Error("Error in initial cleanup job", slog.Any("error", err))
		}
		for {
			select {
			case <-s.cleanupTicker.C:
				if err := s.cleanupJob.Run(); err != nil {
					s.logger.Error("Error in cleanup job", slog.Any("error", err))
				}
			case <-s.ctx.Done():
				s.logger.Info("Cleanup job stopped")
				return
			}
		}
	}()
}

// ErrJobBusy is returned when an exclusive job is requested while another job
// holds the single-flight guard.
var ErrJobBusy = errors.New("jobs: another job is currently running")

// RunBackfill aggregates every eligible date in the lookback window. Intended
// for operational use after an outage or a threshold change. It takes the
// same single-flight guard as the scheduled jobs, so a backfill never runs
// concurrently with the hourly aggregation over the same dates.
func (s *Scheduler) RunBackfill(lookbackDays int) (BackfillResult, error) {
	s.processingMutex.Lock()
	if s.isProcessing {
		s.processingMutex.Unlock()
		return BackfillResult{}, ErrJobBusy
	}
	s.isProcessing = true
	s.processingMutex.Unlock()

	defer func() {
		s.processingMutex.Lock()
		s.isProcessing = false
		s.processingMutex.Unlock()
	}()

	return s.aggregateJob.Backfill(s.ctx, lookbackDays, nil)
}

// Stop halts all background jobs.
// Implements cartridge.BackgroundWorker interface.
func (s *Scheduler) Stop() {
	s.logger.Info("Stopping background jobs...")
	s.enabled = false

	if s.flushTicker != nil {
		s.flushTicker.Stop()
	}
	if s.aggregateTicker != nil {
		s.aggregateTicker.Stop()
	}
	if s.cleanupTicker != nil {
		s.cleanupTicker.Stop()
	}

	s.cancel()
	s.isRunning = false
	s.logger.Info("Background jobs stopped")
}

// IsRunning returns whether jobs are currently running
func (s *Scheduler) IsRunning() bool {
	return s.isRunning
}
