// Package model defines shared types used across the sync engine and the
// provider clients.
package model

import "time"

// Session is an authenticated Chessnut API session, obtained by login and
// passed to every subsequent list request.
type Session struct {
	// Token is the bearer-like session token returned by the login endpoint.
	Token string

	// UserID identifies the Chessnut account the token belongs to.
	UserID string
}

// GameRef is a single entry from the Chessnut game listing: the provider's
// monotonically assigned game id plus the URL the full PGN can be fetched
// from. Refs are ephemeral — produced by one listing, consumed within the
// same cycle.
type GameRef struct {
	// ID orders games and serves as the watermark key.
	ID int64

	// PGNURL locates the full PGN content for this game.
	PGNURL string
}

// ImportRecord is the durable audit entry for one attempted game transfer.
// One record per attempted game, append-only per account.
type ImportRecord struct {
	// GameID is the Chessnut game id this record is about.
	GameID int64

	// LichessID and LichessURL reference the imported game on Lichess.
	// Both are empty for duplicate imports (the game already existed
	// downstream) and for failed imports.
	LichessID  string
	LichessURL string

	// ImportedAt is when the transfer was attempted.
	ImportedAt time.Time

	// Error holds the rejection reason when the destination refused the
	// game. Empty on success.
	Error string
}

// Failed reports whether this record documents a rejected import.
func (r ImportRecord) Failed() bool {
	return r.Error != ""
}

// Outcome classifies the result of submitting one game to Lichess. The
// client maps provider status codes into these variants at the boundary so
// the engine never inspects HTTP details.
type Outcome int

const (
	// OutcomeAccepted: the game was imported; SubmitResult carries id and URL.
	OutcomeAccepted Outcome = iota
	// OutcomeDuplicate: the game already exists downstream. Success for
	// watermark purposes.
	OutcomeDuplicate
	// OutcomeRejected: the destination refused the content (e.g. invalid
	// PGN). Not retryable.
	OutcomeRejected
	// OutcomeRateLimited: the destination is throttling us.
	OutcomeRateLimited
	// OutcomeUnauthorized: missing or invalid API token.
	OutcomeUnauthorized
	// OutcomeTransport: server error, network failure, or timeout.
	OutcomeTransport
)

// String returns the human-readable label for the outcome.
func (o Outcome) String() string {
	switch o {
	case OutcomeAccepted:
		return "accepted"
	case OutcomeDuplicate:
		return "duplicate"
	case OutcomeRejected:
		return "rejected"
	case OutcomeRateLimited:
		return "rate-limited"
	case OutcomeUnauthorized:
		return "unauthorized"
	case OutcomeTransport:
		return "transport-failure"
	default:
		return "unknown"
	}
}

// SubmitResult is the classified result of one Lichess import call.
type SubmitResult struct {
	Outcome Outcome

	// LichessID and LichessURL are set only for OutcomeAccepted.
	LichessID  string
	LichessURL string

	// Reason is set only for OutcomeRejected.
	Reason string
}
