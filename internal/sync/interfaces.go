// Package sync implements the multi-account synchronization engine for
// chessrelay. Per account it determines which Chessnut games are new relative
// to a durable watermark, fetches their PGN content, submits each game to
// Lichess, and records progress so that re-runs are idempotent.
//
// The package contains two main components:
//
//   - [Engine] runs one sync cycle for one account.
//   - [Scheduler] owns the configured accounts and runs each one's repeating
//     cycle independently.
package sync

import (
	"context"

	"github.com/njoerd114/chessrelay/internal/model"
)

// SourceClient provides read access to the Chessnut device cloud.
// Implemented by [chessnut.Client].
type SourceClient interface {
	Login(ctx context.Context, email, password string) (model.Session, error)
	ListNewGames(ctx context.Context, sess model.Session, watermark int64) ([]model.GameRef, error)
	FetchPGN(ctx context.Context, ref model.GameRef) (string, error)
}

// DestinationClient submits games to Lichess. Implemented by [lichess.Client].
type DestinationClient interface {
	Import(ctx context.Context, pgn, token string) (model.SubmitResult, error)
}

// StateStore provides access to the per-account import state.
// Implemented by [state.Store].
type StateStore interface {
	Watermark(ctx context.Context, account string) int64
	RecordImport(ctx context.Context, account string, rec model.ImportRecord) error
}
