// Package chessnut implements the client for the Chessnut device-cloud API:
// form-encoded login, paginated game listing above a watermark, and PGN
// retrieval. It provides a [Client] whose methods align with the sync
// engine's needs and a 3-attempt exponential-backoff [Retry] helper for
// transient network failures.
package chessnut

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/njoerd114/chessrelay/internal/model"
)

const (
	// DefaultBaseURL is the production Chessnut cloud API.
	DefaultBaseURL = "https://api.chessnutech.com"

	loginPath   = "/api/login"
	pgnListPath = "/api/getPgnList"

	// codeOK is the application-level success code inside response bodies.
	codeOK = 200

	defaultTimeout = 30 * time.Second
)

// Client talks to the Chessnut cloud API. Create one with [NewClient] or,
// for tests against an httptest server, [NewClientWith].
type Client struct {
	baseURL string
	hc      *http.Client
	log     *slog.Logger
}

// NewClient creates a Client against the production API with a default
// request timeout.
func NewClient(logger *slog.Logger) *Client {
	return NewClientWith(DefaultBaseURL, &http.Client{Timeout: defaultTimeout}, logger)
}

// NewClientWith creates a Client with a caller-supplied base URL and HTTP
// client. Intended for testing.
func NewClientWith(baseURL string, hc *http.Client, logger *slog.Logger) *Client {
	return &Client{baseURL: strings.TrimRight(baseURL, "/"), hc: hc, log: logger}
}

// envelope is the common response wrapper: an application-level code plus a
// payload whose shape depends on the endpoint.
type envelope struct {
	Code int             `json:"code"`
	Msg  string          `json:"msg"`
	Data json.RawMessage `json:"data"`
}

type loginData struct {
	Token  string `json:"token"`
	UserID string `json:"user_id"`
}

type pgnListData struct {
	TotalPage int        `json:"total_page"`
	PGNList   []pgnEntry `json:"pgnList"`
}

// pgnEntry is one listing row; "pgn" carries the URL of the PGN file, not
// its content.
type pgnEntry struct {
	ID  int64  `json:"id"`
	PGN string `json:"pgn"`
}

// hashPassword derives the uppercase hex SHA-256 digest the login endpoint
// expects in place of the plaintext password.
func hashPassword(password string) string {
	sum := sha256.Sum256([]byte(password))
	return strings.ToUpper(fmt.Sprintf("%x", sum))
}

// Login exchanges account credentials for a session token pair. It never
// retries; a failed login ends the sync cycle and the next scheduled cycle
// tries again.
func (c *Client) Login(ctx context.Context, email, password string) (model.Session, error) {
	form := url.Values{
		"account":  {email},
		"password": {hashPassword(password)},
	}

	env, err := c.postForm(ctx, loginPath, form)
	if err != nil {
		return model.Session{}, fmt.Errorf("chessnut login: %w", err)
	}

	var data loginData
	if err := json.Unmarshal(env.Data, &data); err != nil {
		return model.Session{}, fmt.Errorf("chessnut login: parsing response data: %w", err)
	}
	if data.Token == "" || data.UserID == "" {
		return model.Session{}, fmt.Errorf("chessnut login: response is missing token or user id")
	}

	return model.Session{Token: data.Token, UserID: data.UserID}, nil
}

// ListNewGames returns all games with id > watermark, ascending by id. It
// paginates transparently: successive pages are requested while the
// just-fetched page was full (no entry filtered out as ≤ watermark) and the
// provider reports more pages. An empty listing is not an error.
//
// The call is stateless — nothing is retained between invocations, so a
// failed cycle simply lists again next time.
func (c *Client) ListNewGames(ctx context.Context, sess model.Session, watermark int64) ([]model.GameRef, error) {
	var refs []model.GameRef

	for page := 1; ; page++ {
		data, err := c.listPage(ctx, sess, page)
		if err != nil {
			return nil, err
		}
		if len(data.PGNList) == 0 {
			break
		}

		qualified := 0
		for _, e := range data.PGNList {
			if e.ID > watermark {
				refs = append(refs, model.GameRef{ID: e.ID, PGNURL: e.PGN})
				qualified++
			}
		}

		c.log.Debug("fetched listing page",
			"page", page, "total_pages", data.TotalPage, "entries", len(data.PGNList), "new", qualified)

		// A page containing any entry at or below the watermark means
		// everything beyond it is already imported.
		if qualified < len(data.PGNList) || page >= data.TotalPage {
			break
		}
	}

	sort.Slice(refs, func(i, j int) bool { return refs[i].ID < refs[j].ID })
	return refs, nil
}

// listPage fetches a single page of the game listing.
func (c *Client) listPage(ctx context.Context, sess model.Session, page int) (pgnListData, error) {
	form := url.Values{
		"token":   {sess.Token},
		"user_id": {sess.UserID},
		"page":    {strconv.Itoa(page)},
	}

	env, err := c.postForm(ctx, pgnListPath, form)
	if err != nil {
		return pgnListData{}, fmt.Errorf("chessnut list page %d: %w", page, err)
	}

	// "data": null means the account has no games at all.
	var data pgnListData
	if len(env.Data) > 0 && string(env.Data) != "null" {
		if err := json.Unmarshal(env.Data, &data); err != nil {
			return pgnListData{}, fmt.Errorf("chessnut list page %d: parsing response data: %w", page, err)
		}
	}
	return data, nil
}

// FetchPGN retrieves the PGN content at the reference's URL. Transport-level
// failures are retried; a non-2xx response is returned immediately.
func (c *Client) FetchPGN(ctx context.Context, ref model.GameRef) (string, error) {
	var body []byte
	err := Retry(ctx, defaultMaxAttempts, func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, ref.PGNURL, nil)
		if err != nil {
			return fmt.Errorf("creating request: %w", err)
		}
		resp, err := c.hc.Do(req)
		if err != nil {
			return err
		}
		defer func() { _ = resp.Body.Close() }()

		if resp.StatusCode != http.StatusOK {
			return errDone{fmt.Errorf("unexpected status %d", resp.StatusCode)}
		}
		body, err = io.ReadAll(resp.Body)
		return err
	})
	if err != nil {
		return "", fmt.Errorf("fetching PGN for game %d: %w", ref.ID, err)
	}
	return string(body), nil
}

// postForm sends a form-encoded POST to path and decodes the response
// envelope, rejecting transport and application-level failures.
func (c *Client) postForm(ctx context.Context, path string, form url.Values) (envelope, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, strings.NewReader(form.Encode()))
	if err != nil {
		return envelope{}, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.hc.Do(req)
	if err != nil {
		return envelope{}, fmt.Errorf("executing request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return envelope{}, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return envelope{}, fmt.Errorf("parsing response: %w", err)
	}
	if env.Code != codeOK {
		msg := env.Msg
		if msg == "" {
			msg = "unknown error"
		}
		return envelope{}, fmt.Errorf("API error code %d: %s", env.Code, msg)
	}
	return env, nil
}
