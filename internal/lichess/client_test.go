package lichess

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"golang.org/x/time/rate"

	"github.com/njoerd114/chessrelay/internal/model"
)

const testPGN = "[Event \"Casual game\"]\n1. e4 e5 *"

// newTestClient builds a Client against srv with pacing disabled.
func newTestClient(t *testing.T, handler http.Handler) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClientWith(srv.URL, srv.Client(), rate.NewLimiter(rate.Inf, 1), slog.Default())
}

func TestImport_Accepted(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != importPath {
			t.Errorf("path = %q, want %q", r.URL.Path, importPath)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer lip_token" {
			t.Errorf("Authorization = %q, want bearer token", got)
		}
		if got := r.PostFormValue("pgn"); got != testPGN {
			t.Errorf("pgn = %q, want submitted content", got)
		}
		fmt.Fprint(w, `{"id":"abc123","url":"https://lichess.org/abc123"}`)
	}))

	res, err := c.Import(context.Background(), testPGN, "lip_token")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Outcome != model.OutcomeAccepted {
		t.Fatalf("outcome = %v, want accepted", res.Outcome)
	}
	if res.LichessID != "abc123" || res.LichessURL != "https://lichess.org/abc123" {
		t.Errorf("result = %+v, want id abc123 and its URL", res)
	}
}

func TestImport_Duplicate(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprint(w, `{"error":"This game already exists: https://lichess.org/abc123"}`)
	}))

	res, err := c.Import(context.Background(), testPGN, "lip_token")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Outcome != model.OutcomeDuplicate {
		t.Errorf("outcome = %v, want duplicate", res.Outcome)
	}
}

func TestImport_Rejected(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprint(w, `{"error":"invalid pgn"}`)
	}))

	res, err := c.Import(context.Background(), "gibberish", "lip_token")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Outcome != model.OutcomeRejected {
		t.Fatalf("outcome = %v, want rejected", res.Outcome)
	}
	if res.Reason != "invalid pgn" {
		t.Errorf("reason = %q, want %q", res.Reason, "invalid pgn")
	}
}

func TestImport_Unauthorized(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))

	res, err := c.Import(context.Background(), testPGN, "bad_token")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Outcome != model.OutcomeUnauthorized {
		t.Errorf("outcome = %v, want unauthorized", res.Outcome)
	}
}

func TestImport_MissingToken(t *testing.T) {
	requests := 0
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests++
	}))

	res, err := c.Import(context.Background(), testPGN, "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Outcome != model.OutcomeUnauthorized {
		t.Errorf("outcome = %v, want unauthorized", res.Outcome)
	}
	if requests != 0 {
		t.Errorf("requests = %d, want 0 (short-circuit on empty token)", requests)
	}
}

func TestImport_RateLimited(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))

	res, err := c.Import(context.Background(), testPGN, "lip_token")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Outcome != model.OutcomeRateLimited {
		t.Errorf("outcome = %v, want rate-limited", res.Outcome)
	}
}

func TestImport_ServerError(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))

	res, err := c.Import(context.Background(), testPGN, "lip_token")
	if err == nil {
		t.Fatal("expected error detail for server error")
	}
	if res.Outcome != model.OutcomeTransport {
		t.Errorf("outcome = %v, want transport-failure", res.Outcome)
	}
}

func TestImport_NetworkError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close() // refuse all connections

	c := NewClientWith(srv.URL, &http.Client{}, rate.NewLimiter(rate.Inf, 1), slog.Default())
	res, err := c.Import(context.Background(), testPGN, "lip_token")
	if err == nil {
		t.Fatal("expected error detail for network failure")
	}
	if res.Outcome != model.OutcomeTransport {
		t.Errorf("outcome = %v, want transport-failure", res.Outcome)
	}
}

func TestImport_Paced(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"id":"x","url":"https://lichess.org/x"}`)
	}))
	t.Cleanup(srv.Close)

	const interval = 50 * time.Millisecond
	c := NewClientWith(srv.URL, srv.Client(), rate.NewLimiter(rate.Every(interval), 1), slog.Default())

	start := time.Now()
	for i := 0; i < 2; i++ {
		if _, err := c.Import(context.Background(), testPGN, "lip_token"); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if elapsed := time.Since(start); elapsed < interval {
		t.Errorf("two imports took %v, want at least %v between submits", elapsed, interval)
	}
}

func TestExportImported(t *testing.T) {
	const pgns = "[Event \"a\"]\n*\n\n[Event \"b\"]\n*\n"
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != exportImportsPath {
			t.Errorf("path = %q, want %q", r.URL.Path, exportImportsPath)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer lip_token" {
			t.Errorf("Authorization = %q, want bearer token", got)
		}
		fmt.Fprint(w, pgns)
	}))

	got, err := c.ExportImported(context.Background(), "lip_token")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != pgns {
		t.Errorf("export = %q, want %q", got, pgns)
	}
}
