package sync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	stdsync "sync"
	"time"

	"github.com/njoerd114/chessrelay/internal/config"
)

// AccountSyncer runs one sync cycle for one account. Implemented by [Engine].
type AccountSyncer interface {
	SyncAccount(ctx context.Context, account config.Account) (Stats, error)
}

// Scheduler owns the configured accounts and runs one independent repeating
// cycle per account. Accounts never share mutable state, so a failing or slow
// account cannot delay the others. Create one with [NewScheduler] and start
// it with [Scheduler.Run].
type Scheduler struct {
	syncer   AccountSyncer
	accounts []config.Account
	log      *slog.Logger
}

// NewScheduler creates a Scheduler for the given accounts.
func NewScheduler(syncer AccountSyncer, accounts []config.Account, logger *slog.Logger) *Scheduler {
	return &Scheduler{syncer: syncer, accounts: accounts, log: logger}
}

// Run starts one worker per account and blocks until ctx is cancelled.
// Cancellation interrupts every pending interval wait immediately; a cycle
// already in flight finishes its current write before the worker exits.
func (s *Scheduler) Run(ctx context.Context) error {
	var wg stdsync.WaitGroup
	for _, account := range s.accounts {
		wg.Add(1)
		go func(account config.Account) {
			defer wg.Done()
			s.runAccount(ctx, account)
		}(account)
	}
	wg.Wait()
	s.log.Info("scheduler shut down")
	return ctx.Err()
}

// RunOnce performs a single cycle for every account, sequentially, and
// returns the first error encountered (all accounts are still attempted).
func (s *Scheduler) RunOnce(ctx context.Context) error {
	var firstErr error
	for _, account := range s.accounts {
		stats, err := s.cycle(ctx, account, s.log.With("account", account.Name))
		if err != nil && firstErr == nil {
			firstErr = fmt.Errorf("account %q: %w", account.Name, err)
		}
		s.log.Info("sync pass complete",
			"account", account.Name,
			"imported", stats.Imported,
			"duplicates", stats.Duplicates,
			"skipped", stats.Skipped,
			"rejected", stats.Rejected,
			"errors", stats.Errors,
		)
	}
	return firstErr
}

// runAccount is one account's repeat loop: an immediate first cycle, then
// one cycle per interval, the interval measured from the end of the previous
// cycle rather than aligned to the wall clock.
func (s *Scheduler) runAccount(ctx context.Context, account config.Account) {
	log := s.log.With("account", account.Name)
	log.Info("account worker started", "interval", account.Interval)

	timer := time.NewTimer(0) // fire the first cycle immediately
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info("account worker stopped")
			return
		case <-timer.C:
		}

		if _, err := s.cycle(ctx, account, log); err != nil && ctx.Err() == nil {
			// Failed cycles wait the full interval too; the next trigger
			// retries from the recorded watermark.
			log.Error("sync cycle failed", "error", err)
		}

		timer.Reset(account.Interval)
	}
}

// cycle runs one engine cycle with a panic guard so no account can ever take
// the process down.
func (s *Scheduler) cycle(ctx context.Context, account config.Account, log *slog.Logger) (stats Stats, err error) {
	defer func() {
		if r := recover(); r != nil {
			log.Error("panic in sync cycle", "panic", r)
			err = fmt.Errorf("sync cycle for %q panicked: %v", account.Name, r)
		}
	}()

	stats, err = s.syncer.SyncAccount(ctx, account)
	if err != nil {
		return stats, err
	}
	if errors.Is(ctx.Err(), context.Canceled) {
		return stats, ctx.Err()
	}
	log.Debug("sync cycle complete",
		"imported", stats.Imported,
		"duplicates", stats.Duplicates,
		"skipped", stats.Skipped,
	)
	return stats, nil
}
