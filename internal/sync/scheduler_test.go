package sync

import (
	"context"
	"errors"
	stdsync "sync"
	"testing"
	"time"

	"github.com/njoerd114/chessrelay/internal/config"
)

// fakeSyncer counts cycles per account and can fail or panic for chosen
// accounts.
type fakeSyncer struct {
	mu     stdsync.Mutex
	cycles map[string]int
	fail   map[string]error
	panics map[string]bool
}

func newFakeSyncer() *fakeSyncer {
	return &fakeSyncer{
		cycles: make(map[string]int),
		fail:   make(map[string]error),
		panics: make(map[string]bool),
	}
}

func (f *fakeSyncer) SyncAccount(_ context.Context, account config.Account) (Stats, error) {
	f.mu.Lock()
	f.cycles[account.Name]++
	f.mu.Unlock()

	if f.panics[account.Name] {
		panic("boom")
	}
	if err := f.fail[account.Name]; err != nil {
		return Stats{}, err
	}
	return Stats{Imported: 1}, nil
}

func (f *fakeSyncer) count(account string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.cycles[account]
}

func shortAccount(name string, interval time.Duration) config.Account {
	a := testAccount(name)
	a.Interval = interval
	return a
}

func TestScheduler_CrossAccountIsolation(t *testing.T) {
	syncer := newFakeSyncer()
	syncer.panics["bob"] = true

	accounts := []config.Account{
		shortAccount("alice", 10*time.Millisecond),
		shortAccount("bob", 10*time.Millisecond),
	}

	ctx, cancel := context.WithTimeout(context.Background(), 150*time.Millisecond)
	defer cancel()

	s := NewScheduler(syncer, accounts, testLogger)
	_ = s.Run(ctx)

	// bob panics every cycle; alice must keep cycling regardless.
	if got := syncer.count("alice"); got < 3 {
		t.Errorf("alice cycles = %d, want at least 3 despite bob's panics", got)
	}
	if got := syncer.count("bob"); got < 2 {
		t.Errorf("bob cycles = %d, want the loop to keep retrying after panics", got)
	}
}

func TestScheduler_FailingAccountKeepsRetrying(t *testing.T) {
	syncer := newFakeSyncer()
	syncer.fail["alice"] = errors.New("login failed")

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	s := NewScheduler(syncer, []config.Account{shortAccount("alice", 10*time.Millisecond)}, testLogger)
	_ = s.Run(ctx)

	if got := syncer.count("alice"); got < 2 {
		t.Errorf("alice cycles = %d, want repeated retries after failures", got)
	}
}

func TestScheduler_ShutdownInterruptsIntervalWait(t *testing.T) {
	syncer := newFakeSyncer()
	// Long interval: after the immediate first cycle, the worker sits in its
	// interval wait until cancelled.
	s := NewScheduler(syncer, []config.Account{shortAccount("alice", time.Hour)}, testLogger)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	// Let the first cycle run.
	deadline := time.Now().Add(time.Second)
	for syncer.count("alice") == 0 {
		if time.Now().After(deadline) {
			t.Fatal("first cycle never ran")
		}
		time.Sleep(time.Millisecond)
	}

	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Run returned %v, want context.Canceled", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancellation")
	}

	if got := syncer.count("alice"); got != 1 {
		t.Errorf("alice cycles = %d, want exactly 1", got)
	}
}

func TestScheduler_RunOnce(t *testing.T) {
	syncer := newFakeSyncer()
	syncer.fail["bob"] = errors.New("listing failed")

	accounts := []config.Account{
		shortAccount("alice", time.Hour),
		shortAccount("bob", time.Hour),
		shortAccount("carol", time.Hour),
	}

	s := NewScheduler(syncer, accounts, testLogger)
	err := s.RunOnce(context.Background())
	if err == nil {
		t.Fatal("expected the failing account to surface an error")
	}

	// Every account is attempted exactly once, failure or not.
	for _, name := range []string{"alice", "bob", "carol"} {
		if got := syncer.count(name); got != 1 {
			t.Errorf("%s cycles = %d, want 1", name, got)
		}
	}
}
