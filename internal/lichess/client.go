// Package lichess implements the client for the Lichess game-import API. It
// submits PGN content with bearer-token authentication and classifies every
// response into a tagged [model.SubmitResult] at this boundary, so the sync
// engine never inspects HTTP status codes.
//
// Lichess throttles imports aggressively, so the client paces submissions
// with a [rate.Limiter] (one import per 10s by default).
package lichess

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/njoerd114/chessrelay/internal/model"
)

const (
	// DefaultBaseURL is the production Lichess API.
	DefaultBaseURL = "https://lichess.org"

	importPath        = "/api/import"
	exportImportsPath = "/api/games/export/imports"

	// duplicateMarker is the fragment Lichess puts in a 400 body when the
	// submitted game was imported before.
	duplicateMarker = "This game already exists"

	// defaultSubmitInterval spaces out imports to stay under the rate limit.
	defaultSubmitInterval = 10 * time.Second

	defaultTimeout = 30 * time.Second
)

// Client talks to the Lichess API. Create one with [NewClient] or, for tests
// against an httptest server, [NewClientWith].
type Client struct {
	baseURL string
	hc      *http.Client
	limiter *rate.Limiter
	log     *slog.Logger
}

// NewClient creates a Client against production Lichess with default pacing
// and timeout.
func NewClient(logger *slog.Logger) *Client {
	return NewClientWith(
		DefaultBaseURL,
		&http.Client{Timeout: defaultTimeout},
		rate.NewLimiter(rate.Every(defaultSubmitInterval), 1),
		logger,
	)
}

// NewClientWith creates a Client with caller-supplied base URL, HTTP client,
// and limiter. Intended for testing.
func NewClientWith(baseURL string, hc *http.Client, limiter *rate.Limiter, logger *slog.Logger) *Client {
	return &Client{baseURL: strings.TrimRight(baseURL, "/"), hc: hc, limiter: limiter, log: logger}
}

// importResponse is the 200 body of a successful import.
type importResponse struct {
	ID  string `json:"id"`
	URL string `json:"url"`
}

// errorResponse is the JSON body Lichess sends with most 4xx responses.
type errorResponse struct {
	Error string `json:"error"`
}

// Import submits one PGN to Lichess and classifies the outcome. The returned
// error is non-nil only for OutcomeTransport, where it carries the underlying
// failure for logging; every policy decision belongs to the Outcome.
func (c *Client) Import(ctx context.Context, pgn, token string) (model.SubmitResult, error) {
	if token == "" {
		return model.SubmitResult{Outcome: model.OutcomeUnauthorized}, nil
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return model.SubmitResult{Outcome: model.OutcomeTransport}, fmt.Errorf("waiting for submit slot: %w", err)
	}
	c.log.Debug("submitting PGN to Lichess", "bytes", len(pgn))

	form := url.Values{"pgn": {pgn}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+importPath, strings.NewReader(form.Encode()))
	if err != nil {
		return model.SubmitResult{Outcome: model.OutcomeTransport}, fmt.Errorf("creating import request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.hc.Do(req)
	if err != nil {
		// Network failures and client timeouts both land here.
		return model.SubmitResult{Outcome: model.OutcomeTransport}, fmt.Errorf("executing import request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	switch {
	case resp.StatusCode == http.StatusOK:
		var ir importResponse
		if err := json.NewDecoder(resp.Body).Decode(&ir); err != nil {
			return model.SubmitResult{Outcome: model.OutcomeTransport}, fmt.Errorf("parsing import response: %w", err)
		}
		return model.SubmitResult{
			Outcome:    model.OutcomeAccepted,
			LichessID:  ir.ID,
			LichessURL: ir.URL,
		}, nil

	case resp.StatusCode == http.StatusBadRequest:
		body, _ := io.ReadAll(resp.Body)
		if strings.Contains(string(body), duplicateMarker) {
			return model.SubmitResult{Outcome: model.OutcomeDuplicate}, nil
		}
		return model.SubmitResult{
			Outcome: model.OutcomeRejected,
			Reason:  rejectionReason(body),
		}, nil

	case resp.StatusCode == http.StatusUnauthorized:
		return model.SubmitResult{Outcome: model.OutcomeUnauthorized}, nil

	case resp.StatusCode == http.StatusTooManyRequests:
		return model.SubmitResult{Outcome: model.OutcomeRateLimited}, nil

	default:
		return model.SubmitResult{Outcome: model.OutcomeTransport}, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
}

// ExportImported downloads the PGN text of every game the token's user has
// imported. Used for manual inspection of what already made it downstream.
func (c *Client) ExportImported(ctx context.Context, token string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+exportImportsPath, nil)
	if err != nil {
		return "", fmt.Errorf("creating export request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.hc.Do(req)
	if err != nil {
		return "", fmt.Errorf("executing export request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("exporting imported games: unexpected status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("reading export response: %w", err)
	}
	return string(body), nil
}

// rejectionReason extracts a human-readable reason from a 400 body,
// preferring the JSON "error" field and falling back to the raw text.
func rejectionReason(body []byte) string {
	var er errorResponse
	if err := json.Unmarshal(body, &er); err == nil && er.Error != "" {
		return er.Error
	}
	reason := strings.TrimSpace(string(body))
	if reason == "" {
		return "rejected without reason"
	}
	return reason
}
