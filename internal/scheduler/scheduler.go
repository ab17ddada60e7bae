// Package scheduler runs the periodic housekeeping jobs: wallet balance
// refresh and journal pruning.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"

	"coinchart/internal/trade"
)

// BalanceRefresher refreshes the cached wallet balance.
type BalanceRefresher interface {
	RefreshBalance(ctx context.Context) (trade.Balance, error)
}

// Pruner deletes journal entries older than a cutoff.
type Pruner interface {
	Prune(ctx context.Context, cutoff time.Time) (int64, error)
}

// Config holds cron specs (with seconds) and the journal retention.
type Config struct {
	BalanceCron      string
	JournalPruneCron string
	Retention        time.Duration
	JobTimeout       time.Duration
}

// Scheduler wraps a cron runner.
type Scheduler struct {
	cron    *cron.Cron
	balance BalanceRefresher
	pruner  Pruner
	cfg     Config
	ctx     context.Context
	now     func() time.Time
}

// New creates a Scheduler. Jobs run under ctx.
func New(ctx context.Context, cfg Config, balance BalanceRefresher, pruner Pruner) *Scheduler {
	if cfg.JobTimeout == 0 {
		cfg.JobTimeout = 30 * time.Second
	}
	return &Scheduler{
		cron:    cron.New(cron.WithSeconds()),
		balance: balance,
		pruner:  pruner,
		cfg:     cfg,
		ctx:     ctx,
		now:     time.Now,
	}
}

// RegisterAll adds every configured job. Empty specs are skipped.
func (s *Scheduler) RegisterAll() error {
	if s.cfg.BalanceCron != "" && s.balance != nil {
		if _, err := s.cron.AddFunc(s.cfg.BalanceCron, s.RefreshBalanceNow); err != nil {
			return fmt.Errorf("register balance refresh: %w", err)
		}
	}
	if s.cfg.JournalPruneCron != "" && s.pruner != nil && s.cfg.Retention > 0 {
		if _, err := s.cron.AddFunc(s.cfg.JournalPruneCron, s.PruneJournalNow); err != nil {
			return fmt.Errorf("register journal prune: %w", err)
		}
	}
	return nil
}

// Jobs returns the number of registered jobs.
func (s *Scheduler) Jobs() int { return len(s.cron.Entries()) }

// Start starts the cron runner.
func (s *Scheduler) Start() {
	s.cron.Start()
	log.Info().Int("jobs", s.Jobs()).Msg("[scheduler] started")
}

// Stop stops the runner and waits for running jobs.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
	log.Info().Msg("[scheduler] stopped")
}

// RefreshBalanceNow runs the balance job once.
func (s *Scheduler) RefreshBalanceNow() {
	ctx, cancel := context.WithTimeout(s.ctx, s.cfg.JobTimeout)
	defer cancel()

	b, err := s.balance.RefreshBalance(ctx)
	switch {
	case errors.Is(err, trade.ErrNoCredentials):
		log.Debug().Msg("[scheduler] balance refresh skipped: no credentials")
	case err != nil:
		log.Warn().Err(err).Msg("[scheduler] balance refresh failed")
	default:
		log.Debug().Str("balance", b.Formatted).Str("mode", b.Mode).Msg("[scheduler] balance refreshed")
	}
}

// PruneJournalNow runs the journal prune once.
func (s *Scheduler) PruneJournalNow() {
	ctx, cancel := context.WithTimeout(s.ctx, s.cfg.JobTimeout)
	defer cancel()

	cutoff := s.now().Add(-s.cfg.Retention)
	n, err := s.pruner.Prune(ctx, cutoff)
	if err != nil {
		log.Error().Err(err).Msg("[scheduler] journal prune failed")
		return
	}
	if n > 0 {
		log.Info().Int64("deleted", n).Time("cutoff", cutoff).Msg("[scheduler] journal pruned")
	}
}
