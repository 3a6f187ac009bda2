package sync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"

	"github.com/njoerd114/chessrelay/internal/config"
	"github.com/njoerd114/chessrelay/internal/model"
)

const (
	otelScope        = "chessrelay/sync"
	spanCycle        = "sync.cycle"
	metricImported   = "chessrelay.sync.games.imported"
	metricDuplicates = "chessrelay.sync.games.duplicates"
	metricSkipped    = "chessrelay.sync.games.skipped"
	metricRejected   = "chessrelay.sync.games.rejected"
	metricErrors     = "chessrelay.sync.errors"
)

// ErrAuthFailed marks a cycle that failed because the source rejected the
// account credentials. Callers can test for it with [errors.Is].
var ErrAuthFailed = errors.New("authentication failed")

// Stats tracks what happened during a single sync cycle.
type Stats struct {
	Imported   int // games accepted by Lichess and recorded
	Duplicates int // games Lichess already had, recorded as success
	Skipped    int // games whose PGN could not be fetched
	Rejected   int // games Lichess refused (recorded with the reason)
	Errors     int // cycle-level failures, including lost record writes
}

// Engine runs one sync cycle for one account: login, list games above the
// watermark, then fetch → submit → record per game in ascending id order.
// It is stateless between calls — all persistent state lives in the
// [StateStore]. Create one with [NewEngine].
type Engine struct {
	source SourceClient
	dest   DestinationClient
	store  StateStore
	log    *slog.Logger

	// OTel instruments — always non-nil (no-op when telemetry is disabled).
	tracer        trace.Tracer
	cntImported   metric.Int64Counter
	cntDuplicates metric.Int64Counter
	cntSkipped    metric.Int64Counter
	cntRejected   metric.Int64Counter
	cntErrors     metric.Int64Counter
}

// NewEngine creates an Engine wired to the given clients and state store.
func NewEngine(source SourceClient, dest DestinationClient, store StateStore, logger *slog.Logger) *Engine {
	tracer := otel.Tracer(otelScope)
	meter := otel.Meter(otelScope)

	mustCounter := func(name, desc string) metric.Int64Counter {
		c, err := meter.Int64Counter(name, metric.WithDescription(desc))
		if err != nil {
			logger.Error("creating OTel counter", "name", name, "error", err)
			return noop.Int64Counter{}
		}
		return c
	}

	return &Engine{
		source: source,
		dest:   dest,
		store:  store,
		log:    logger,

		tracer:        tracer,
		cntImported:   mustCounter(metricImported, "Number of games imported into Lichess"),
		cntDuplicates: mustCounter(metricDuplicates, "Number of games Lichess already had"),
		cntSkipped:    mustCounter(metricSkipped, "Number of games skipped because their PGN could not be fetched"),
		cntRejected:   mustCounter(metricRejected, "Number of games Lichess rejected"),
		cntErrors:     mustCounter(metricErrors, "Number of failed sync cycles"),
	}
}

// SyncAccount runs one full cycle for the account, recording a trace span
// and metrics. The returned error marks the cycle as failed; progress made
// before the failure is already durably recorded.
func (e *Engine) SyncAccount(ctx context.Context, account config.Account) (Stats, error) {
	ctx, span := e.tracer.Start(ctx, spanCycle)
	defer span.End()

	stats, err := e.runCycle(ctx, account)

	if stats.Imported > 0 {
		e.cntImported.Add(ctx, int64(stats.Imported))
	}
	if stats.Duplicates > 0 {
		e.cntDuplicates.Add(ctx, int64(stats.Duplicates))
	}
	if stats.Skipped > 0 {
		e.cntSkipped.Add(ctx, int64(stats.Skipped))
	}
	if stats.Rejected > 0 {
		e.cntRejected.Add(ctx, int64(stats.Rejected))
	}
	if stats.Errors > 0 {
		e.cntErrors.Add(ctx, int64(stats.Errors))
	}

	span.SetAttributes(
		attribute.String("sync.account", account.Name),
		attribute.Int("sync.imported", stats.Imported),
		attribute.Int("sync.duplicates", stats.Duplicates),
		attribute.Int("sync.skipped", stats.Skipped),
		attribute.Int("sync.rejected", stats.Rejected),
		attribute.Int("sync.errors", stats.Errors),
	)
	if err != nil {
		span.RecordError(err)
	}
	return stats, err
}

// runCycle is the undecorated cycle: login → list → per-game processing.
func (e *Engine) runCycle(ctx context.Context, account config.Account) (Stats, error) {
	var stats Stats
	log := e.log.With("account", account.Name)

	watermark := e.store.Watermark(ctx, account.Name)

	sess, err := e.source.Login(ctx, account.Chessnut.Email, account.Chessnut.Password)
	if err != nil {
		log.Warn("Chessnut login failed", "error", err)
		stats.Errors++
		return stats, fmt.Errorf("logging in for %q: %w: %w", account.Name, ErrAuthFailed, err)
	}
	log.Debug("logged in to Chessnut")

	refs, err := e.source.ListNewGames(ctx, sess, watermark)
	if err != nil {
		stats.Errors++
		return stats, fmt.Errorf("listing games above id %d for %q: %w", watermark, account.Name, err)
	}
	if len(refs) == 0 {
		log.Info("no new games", "watermark", watermark)
		return stats, nil
	}
	log.Info("found new games", "count", len(refs), "watermark", watermark)

	// Strictly ascending by id: the watermark only ever moves forward, so an
	// abort mid-list must leave no unprocessed game below it.
	for _, ref := range refs {
		if err := e.processGame(ctx, log, account, ref, &stats); err != nil {
			stats.Errors++
			return stats, err
		}
	}

	return stats, nil
}

// processGame fetches, submits, and records one game. A nil return means the
// cycle continues with the next game; an error aborts the remaining games.
// Panics are converted into cycle aborts so one bad game can never take the
// scheduler down.
func (e *Engine) processGame(ctx context.Context, log *slog.Logger, account config.Account, ref model.GameRef, stats *Stats) (err error) {
	defer func() {
		if r := recover(); r != nil {
			log.Error("panic while processing game", "game_id", ref.ID, "panic", r)
			err = fmt.Errorf("processing game %d for %q: panic: %v", ref.ID, account.Name, r)
		}
	}()

	pgn, err := e.source.FetchPGN(ctx, ref)
	if err != nil {
		// One unfetchable game does not abort the run.
		log.Warn("PGN fetch failed, skipping game", "game_id", ref.ID, "error", err)
		stats.Skipped++
		return nil
	}

	res, submitErr := e.dest.Import(ctx, pgn, account.Lichess.APIToken)

	switch res.Outcome {
	case model.OutcomeAccepted:
		e.record(ctx, log, account.Name, model.ImportRecord{
			GameID:     ref.ID,
			LichessID:  res.LichessID,
			LichessURL: res.LichessURL,
			ImportedAt: time.Now().UTC(),
		}, stats)
		stats.Imported++
		log.Info("imported game", "game_id", ref.ID, "lichess_id", res.LichessID, "lichess_url", res.LichessURL)
		return nil

	case model.OutcomeDuplicate:
		e.record(ctx, log, account.Name, model.ImportRecord{
			GameID:     ref.ID,
			ImportedAt: time.Now().UTC(),
		}, stats)
		stats.Duplicates++
		log.Info("game already on Lichess", "game_id", ref.ID)
		return nil

	case model.OutcomeRejected:
		// Persist what failed, then stop: advancing past a rejected game
		// silently would bury it under the watermark.
		e.record(ctx, log, account.Name, model.ImportRecord{
			GameID:     ref.ID,
			ImportedAt: time.Now().UTC(),
			Error:      res.Reason,
		}, stats)
		stats.Rejected++
		log.Error("game rejected by Lichess, aborting cycle", "game_id", ref.ID, "reason", res.Reason)
		return fmt.Errorf("game %d rejected for %q: %s", ref.ID, account.Name, res.Reason)

	default:
		// RateLimited, Unauthorized, TransportFailure: nothing recorded, the
		// game stays above the watermark and is retried next cycle.
		log.Error("submit failed, aborting cycle",
			"game_id", ref.ID, "outcome", res.Outcome.String(), "error", submitErr)
		if submitErr != nil {
			return fmt.Errorf("submitting game %d for %q (%s): %w", ref.ID, account.Name, res.Outcome, submitErr)
		}
		return fmt.Errorf("submitting game %d for %q: %s", ref.ID, account.Name, res.Outcome)
	}
}

// record persists one import record. A failed write is logged and counted
// but does not abort the cycle: delivery is at-least-once, so losing the
// record only means the game is re-submitted and re-recorded next cycle.
func (e *Engine) record(ctx context.Context, log *slog.Logger, account string, rec model.ImportRecord, stats *Stats) {
	if err := e.store.RecordImport(ctx, account, rec); err != nil {
		log.Error("recording import failed", "game_id", rec.GameID, "error", err)
		stats.Errors++
	}
}
