package sync

import (
	"context"
	"fmt"
	"sort"
	stdsync "sync"

	"github.com/njoerd114/chessrelay/internal/model"
)

// --- Mock source -------------------------------------------------------------

// mockSource mimics the Chessnut client contract: ListNewGames filters the
// upstream listing by watermark and returns ascending ids; FetchPGN serves
// "pgn-<id>" content.
type mockSource struct {
	mu stdsync.Mutex

	games    []model.GameRef
	loginErr error
	listErr  error
	fetchErr map[int64]error

	loginCalls     int
	listCalls      int
	lastWatermarks []int64
}

func newMockSource(ids ...int64) *mockSource {
	m := &mockSource{fetchErr: make(map[int64]error)}
	for _, id := range ids {
		m.games = append(m.games, model.GameRef{
			ID:     id,
			PGNURL: fmt.Sprintf("http://example.com/pgn/%d", id),
		})
	}
	return m
}

func (m *mockSource) Login(_ context.Context, _, _ string) (model.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.loginCalls++
	if m.loginErr != nil {
		return model.Session{}, m.loginErr
	}
	return model.Session{Token: "tok", UserID: "u1"}, nil
}

func (m *mockSource) ListNewGames(_ context.Context, _ model.Session, watermark int64) ([]model.GameRef, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listCalls++
	m.lastWatermarks = append(m.lastWatermarks, watermark)
	if m.listErr != nil {
		return nil, m.listErr
	}

	var refs []model.GameRef
	for _, g := range m.games {
		if g.ID > watermark {
			refs = append(refs, g)
		}
	}
	sort.Slice(refs, func(i, j int) bool { return refs[i].ID < refs[j].ID })
	return refs, nil
}

func (m *mockSource) FetchPGN(_ context.Context, ref model.GameRef) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fetchErr[ref.ID]; err != nil {
		return "", err
	}
	return pgnFor(ref.ID), nil
}

func pgnFor(id int64) string {
	return fmt.Sprintf("pgn-%d", id)
}

// --- Mock destination --------------------------------------------------------

type submitResponse struct {
	res model.SubmitResult
	err error
}

// mockDest accepts everything unless a per-game response was configured.
type mockDest struct {
	mu stdsync.Mutex

	responses map[string]submitResponse // pgn content → response
	submitted []string                  // pgn contents in submit order
}

func newMockDest() *mockDest {
	return &mockDest{responses: make(map[string]submitResponse)}
}

// respond overrides the outcome for the game with the given id.
func (m *mockDest) respond(id int64, res model.SubmitResult, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.responses[pgnFor(id)] = submitResponse{res: res, err: err}
}

func (m *mockDest) Import(_ context.Context, pgn, _ string) (model.SubmitResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.submitted = append(m.submitted, pgn)

	if r, ok := m.responses[pgn]; ok {
		return r.res, r.err
	}
	return model.SubmitResult{
		Outcome:    model.OutcomeAccepted,
		LichessID:  "li-" + pgn,
		LichessURL: "https://lichess.org/li-" + pgn,
	}, nil
}

func (m *mockDest) submittedPGNs() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.submitted...)
}

// --- Mock store --------------------------------------------------------------

type mockStore struct {
	mu stdsync.Mutex

	records  map[string][]model.ImportRecord
	writeErr error
}

func newMockStore() *mockStore {
	return &mockStore{records: make(map[string][]model.ImportRecord)}
}

func (m *mockStore) Watermark(_ context.Context, account string) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	var max int64
	for _, rec := range m.records[account] {
		if rec.GameID > max {
			max = rec.GameID
		}
	}
	return max
}

func (m *mockStore) RecordImport(_ context.Context, account string, rec model.ImportRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.writeErr != nil {
		return m.writeErr
	}
	for i, existing := range m.records[account] {
		if existing.GameID == rec.GameID {
			m.records[account][i] = rec
			return nil
		}
	}
	m.records[account] = append(m.records[account], rec)
	return nil
}

func (m *mockStore) recordsFor(account string) []model.ImportRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	recs := append([]model.ImportRecord(nil), m.records[account]...)
	sort.Slice(recs, func(i, j int) bool { return recs[i].GameID < recs[j].GameID })
	return recs
}
