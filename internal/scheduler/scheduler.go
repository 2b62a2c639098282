// Package scheduler runs the periodic mailbox poll and OAuth token refresh jobs.
package scheduler

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"talent-inbox/internal/ingestion/usecase"

	"go.uber.org/zap"
)

const (
	defaultPollInterval    = 5 * time.Minute
	defaultRefreshInterval = 10 * time.Minute
	defaultLeaseTTL        = 10 * time.Minute
	pollLeaseName          = "mailbox-poll"
)

type Poller interface {
	SyncAllActive(ctx context.Context) ([]*usecase.SyncResult, error)
}

type TokenRefresher interface {
	RefreshExpiring(ctx context.Context) (refreshed int, failed int, err error)
}

type Options struct {
	PollInterval    time.Duration
	RefreshInterval time.Duration
	// Lease, when set, extends the poll guard across processes.
	Lease    Lease
	LeaseTTL time.Duration
}

// Scheduler fires the poll and token refresh jobs on fixed intervals. Polls are single-flight:
// a tick that finds the previous poll still running is dropped. Token refreshes are not guarded.
type Scheduler struct {
	poller   Poller
	tokens   TokenRefresher
	opts     Options
	logger   *zap.Logger
	polling  atomic.Bool
	stopChan chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

func New(poller Poller, tokens TokenRefresher, opts Options, log *zap.Logger) *Scheduler {
	if opts.PollInterval <= 0 {
		opts.PollInterval = defaultPollInterval
	}
	if opts.RefreshInterval <= 0 {
		opts.RefreshInterval = defaultRefreshInterval
	}
	if opts.LeaseTTL <= 0 {
		opts.LeaseTTL = defaultLeaseTTL
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Scheduler{
		poller:   poller,
		tokens:   tokens,
		opts:     opts,
		logger:   log.Named("scheduler"),
		stopChan: make(chan struct{}),
	}
}

// Start runs both jobs once immediately and then on their intervals until Stop.
func (s *Scheduler) Start(ctx context.Context) {
	s.logger.Info("starting scheduler",
		zap.Duration("poll_interval", s.opts.PollInterval),
		zap.Duration("refresh_interval", s.opts.RefreshInterval),
		zap.Bool("lease", s.opts.Lease != nil),
	)
	s.loop(ctx, "poll", s.opts.PollInterval, func(ctx context.Context) { s.PollTick(ctx) })
	s.loop(ctx, "token_refresh", s.opts.RefreshInterval, s.RefreshTick)
}

// Stop stops the tickers and waits for running jobs to finish.
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() { close(s.stopChan) })
	s.wg.Wait()
	s.logger.Info("scheduler stopped")
}

func (s *Scheduler) loop(ctx context.Context, name string, interval time.Duration, tick func(context.Context)) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		tick(ctx)

		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				// Ticks may overlap; PollTick drops overlapping polls.
				s.wg.Add(1)
				go func() {
					defer s.wg.Done()
					tick(ctx)
				}()
			case <-s.stopChan:
				s.logger.Debug("job loop stopped", zap.String("job", name))
				return
			case <-ctx.Done():
				return
			}
		}
	}()
}

// PollTick syncs every active connection unless a poll is already running. It reports
// whether the poll ran.
func (s *Scheduler) PollTick(ctx context.Context) bool {
	if !s.polling.CompareAndSwap(false, true) {
		s.logger.Info("previous poll still running, skipping tick")
		return false
	}
	defer s.polling.Store(false)

	if s.opts.Lease != nil {
		release, ok, err := s.opts.Lease.Acquire(ctx, pollLeaseName, s.opts.LeaseTTL)
		switch {
		case err != nil:
			// Redis outage: fall back to the in-process guard only.
			s.logger.Warn("poll lease unavailable, polling without it", zap.Error(err))
		case !ok:
			s.logger.Info("poll lease held by another instance, skipping tick")
			return false
		default:
			defer release()
		}
	}

	started := time.Now()
	results, err := s.poller.SyncAllActive(ctx)
	if err != nil {
		s.logger.Error("scheduled poll failed", zap.Error(err))
		return true
	}

	var imported, failedConns, messageErrors int
	for _, r := range results {
		if r == nil {
			continue
		}
		imported += r.Imported
		messageErrors += len(r.Errors)
		if r.Error != "" {
			failedConns++
		}
	}
	s.logger.Info("scheduled poll finished",
		zap.Int("connections", len(results)),
		zap.Int("imported", imported),
		zap.Int("failed_connections", failedConns),
		zap.Int("message_errors", messageErrors),
		zap.Duration("took", time.Since(started)),
	)
	return true
}

func (s *Scheduler) RefreshTick(ctx context.Context) {
	refreshed, failed, err := s.tokens.RefreshExpiring(ctx)
	if err != nil {
		s.logger.Error("token refresh failed", zap.Error(err))
		return
	}
	if refreshed+failed > 0 {
		s.logger.Info("token refresh tick", zap.Int("refreshed", refreshed), zap.Int("failed", failed))
	}
}
