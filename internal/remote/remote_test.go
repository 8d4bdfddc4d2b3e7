package remote

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/verte-zerg/drillog/internal/model"
)

const (
	userA = "7d1c9a52-3b4e-4f60-8a71-92b3c4d5e6f7"
	userB = "1a2b3c4d-5e6f-4a7b-8c9d-0e1f2a3b4c5d"
)

var base = time.Date(2025, 4, 2, 18, 15, 0, 0, time.UTC)

type testServer struct {
	url      string
	backend  *Backend
	requests atomic.Int64
	encoded  atomic.Int64
}

func startServer(t *testing.T, opts ServerOptions) *testServer {
	t.Helper()
	backend, err := OpenBackend(context.Background(), filepath.Join(t.TempDir(), "server.db"), nil)
	if err != nil {
		t.Fatalf("OpenBackend failed: %v", err)
	}
	ts := &testServer{backend: backend}
	router := NewServer(backend, opts).Router()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ts.requests.Add(1)
		if r.Header.Get("Content-Encoding") == "zstd" {
			ts.encoded.Add(1)
		}
		router.ServeHTTP(w, r)
	}))
	t.Cleanup(func() {
		srv.Close()
		if err := backend.Close(); err != nil {
			t.Errorf("close backend failed: %v", err)
		}
	})
	ts.url = srv.URL
	return ts
}

func newClient(t *testing.T, url, user string) *Client {
	t.Helper()
	c, err := NewClient(ClientOptions{BaseURL: url, Timeout: 5 * time.Second})
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}
	c.SetUser(user)
	return c
}

func sampleSession() model.Session {
	done := base.Add(3 * time.Minute)
	return model.Session{ID: -1, DatasetID: "hsk1", PracticeType: model.PracticeStroke, GroupID: "g2", StartedAt: base, DoneAt: &done}
}

func TestCreateOrFetchIsIdempotent(t *testing.T) {
	ts := startServer(t, ServerOptions{})
	c := newClient(t, ts.url, userA)
	ctx := context.Background()

	first, err := c.CreateSession(ctx, sampleSession())
	if err != nil {
		t.Fatalf("CreateSession failed: %v", err)
	}
	second, err := c.CreateSession(ctx, sampleSession())
	if err != nil {
		t.Fatalf("CreateSession retry failed: %v", err)
	}
	if first <= 0 || first != second {
		t.Fatalf("expected the same positive id, got %d and %d", first, second)
	}

	attempt := model.WordAttempt{ID: -2, SessionID: first, WordID: "学", StartedAt: base, DoneAt: base.Add(2 * time.Second)}
	a1, err := c.CreateAttempt(ctx, attempt)
	if err != nil {
		t.Fatalf("CreateAttempt failed: %v", err)
	}
	a2, err := c.CreateAttempt(ctx, attempt)
	if err != nil {
		t.Fatalf("CreateAttempt retry failed: %v", err)
	}
	if a1 != a2 {
		t.Fatalf("expected the same attempt id, got %d and %d", a1, a2)
	}

	logs := []model.CharLog{{AttemptID: a1, CharIndex: 0, StartedAt: base, DoneAt: base.Add(time.Second), ErrorCount: 2}}
	for i := 0; i < 2; i++ {
		if err := c.CreateCharLogs(ctx, logs); err != nil {
			t.Fatalf("CreateCharLogs failed: %v", err)
		}
	}

	sessions, err := c.FetchAllSessions(ctx)
	if err != nil {
		t.Fatalf("FetchAllSessions failed: %v", err)
	}
	if len(sessions) != 1 || sessions[0].ID != first || !sessions[0].Synced {
		t.Fatalf("unexpected sessions: %+v", sessions)
	}
	if sessions[0].DoneAt == nil || !sessions[0].DoneAt.Equal(base.Add(3*time.Minute)) {
		t.Fatalf("unexpected doneAt: %v", sessions[0].DoneAt)
	}
	attempts, err := c.FetchAttempts(ctx, []int64{first})
	if err != nil || len(attempts) != 1 {
		t.Fatalf("expected one attempt, got %+v err=%v", attempts, err)
	}
	fetched, err := c.FetchCharLogs(ctx, []int64{a1})
	if err != nil || len(fetched) != 1 || fetched[0].ErrorCount != 2 {
		t.Fatalf("expected one char log with 2 errors, got %+v err=%v", fetched, err)
	}
}

func TestUpdateSessionDone(t *testing.T) {
	ts := startServer(t, ServerOptions{})
	c := newClient(t, ts.url, userA)
	ctx := context.Background()
	s := sampleSession()
	s.DoneAt = nil
	id, err := c.CreateSession(ctx, s)
	if err != nil {
		t.Fatalf("CreateSession failed: %v", err)
	}
	done := base.Add(time.Hour)
	if err := c.UpdateSessionDone(ctx, id, &done); err != nil {
		t.Fatalf("UpdateSessionDone failed: %v", err)
	}
	sessions, err := c.FetchAllSessions(ctx)
	if err != nil {
		t.Fatalf("FetchAllSessions failed: %v", err)
	}
	if sessions[0].DoneAt == nil || !sessions[0].DoneAt.Equal(done) {
		t.Fatalf("expected doneAt %v, got %v", done, sessions[0].DoneAt)
	}

	var statusErr *StatusError
	if err := c.UpdateSessionDone(ctx, id+100, &done); !errors.As(err, &statusErr) || statusErr.Status != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown session, got %v", err)
	}
}

func TestRemoteForeignKeys(t *testing.T) {
	ts := startServer(t, ServerOptions{})
	c := newClient(t, ts.url, userA)
	ctx := context.Background()

	_, err := c.CreateAttempt(ctx, model.WordAttempt{SessionID: 999, WordID: "学", StartedAt: base, DoneAt: base})
	var statusErr *StatusError
	if !errors.As(err, &statusErr) || statusErr.Status != http.StatusNotFound {
		t.Fatalf("expected 404 for missing session, got %v", err)
	}
	err = c.CreateCharLogs(ctx, []model.CharLog{{AttemptID: 999, StartedAt: base, DoneAt: base}})
	if !errors.As(err, &statusErr) || statusErr.Status != http.StatusNotFound {
		t.Fatalf("expected 404 for missing attempt, got %v", err)
	}
}

func TestUsersAreIsolated(t *testing.T) {
	ts := startServer(t, ServerOptions{})
	a := newClient(t, ts.url, userA)
	b := newClient(t, ts.url, userB)
	ctx := context.Background()

	idA, err := a.CreateSession(ctx, sampleSession())
	if err != nil {
		t.Fatalf("CreateSession failed: %v", err)
	}
	idB, err := b.CreateSession(ctx, sampleSession())
	if err != nil {
		t.Fatalf("CreateSession failed: %v", err)
	}
	if idA == idB {
		t.Fatalf("expected separate sessions per user")
	}
	sessions, err := b.FetchAllSessions(ctx)
	if err != nil || len(sessions) != 1 || sessions[0].ID != idB {
		t.Fatalf("expected only user B's session, got %+v err=%v", sessions, err)
	}
	if _, err := b.CreateAttempt(ctx, model.WordAttempt{SessionID: idA, WordID: "学", StartedAt: base, DoneAt: base}); err == nil {
		t.Fatalf("expected attempt under another user's session to fail")
	}
	attempts, err := b.FetchAttempts(ctx, []int64{idA})
	if err != nil || len(attempts) != 0 {
		t.Fatalf("expected no attempts of another user, got %+v err=%v", attempts, err)
	}
}

func TestAuthFailures(t *testing.T) {
	ts := startServer(t, ServerOptions{APIKey: "secret"})
	ctx := context.Background()

	tests := []struct {
		name   string
		user   string
		apiKey string
		want   error
	}{
		{name: "no user", user: "", apiKey: "secret", want: ErrNoUser},
		{name: "anonymous user", user: model.AnonymousUserID, apiKey: "secret", want: ErrUnauthorized},
		{name: "malformed user", user: "bob", apiKey: "secret", want: ErrUnauthorized},
		{name: "wrong key", user: userA, apiKey: "guess", want: ErrUnauthorized},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			c, err := NewClient(ClientOptions{BaseURL: ts.url, APIKey: tc.apiKey})
			if err != nil {
				t.Fatalf("NewClient failed: %v", err)
			}
			c.SetUser(tc.user)
			if _, err := c.FetchAllSessions(ctx); !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
		})
	}

	c, err := NewClient(ClientOptions{BaseURL: ts.url, APIKey: "secret"})
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}
	c.SetUser(userA)
	if _, err := c.FetchAllSessions(ctx); err != nil {
		t.Fatalf("expected valid credentials to pass, got %v", err)
	}
}

func TestClientSendsCredentials(t *testing.T) {
	var auth, key string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		key = r.Header.Get("X-Api-Key")
		w.Header().Set("Content-Type", "application/json")
		if _, err := w.Write([]byte(`[]`)); err != nil {
			t.Errorf("write response failed: %v", err)
		}
	}))
	defer srv.Close()

	c, err := NewClient(ClientOptions{BaseURL: srv.URL, APIKey: "secret"})
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}
	c.SetUser(userA)
	if _, err := c.FetchAllSessions(context.Background()); err != nil {
		t.Fatalf("FetchAllSessions failed: %v", err)
	}
	if auth != "Bearer "+userA {
		t.Fatalf("expected bearer user id, got %q", auth)
	}
	if key != "secret" {
		t.Fatalf("expected api key header, got %q", key)
	}
}

func TestLargePayloadIsCompressed(t *testing.T) {
	ts := startServer(t, ServerOptions{})
	c := newClient(t, ts.url, userA)
	ctx := context.Background()
	sessionID, err := c.CreateSession(ctx, sampleSession())
	if err != nil {
		t.Fatalf("CreateSession failed: %v", err)
	}
	attemptID, err := c.CreateAttempt(ctx, model.WordAttempt{SessionID: sessionID, WordID: "图书馆", StartedAt: base, DoneAt: base})
	if err != nil {
		t.Fatalf("CreateAttempt failed: %v", err)
	}
	var logs []model.CharLog
	for i := 0; i < 40; i++ {
		logs = append(logs, model.CharLog{AttemptID: attemptID, CharIndex: i, StartedAt: base, DoneAt: base.Add(time.Second)})
	}
	if err := c.CreateCharLogs(ctx, logs); err != nil {
		t.Fatalf("CreateCharLogs failed: %v", err)
	}
	if ts.encoded.Load() == 0 {
		t.Fatalf("expected a zstd-encoded request")
	}
	fetched, err := c.FetchCharLogs(ctx, []int64{attemptID})
	if err != nil || len(fetched) != 40 {
		t.Fatalf("expected 40 logs, got %d err=%v", len(fetched), err)
	}
}

func TestEmptyFetchSkipsNetwork(t *testing.T) {
	ts := startServer(t, ServerOptions{})
	c := newClient(t, ts.url, userA)
	ctx := context.Background()
	if attempts, err := c.FetchAttempts(ctx, nil); err != nil || attempts != nil {
		t.Fatalf("expected empty result, got %+v err=%v", attempts, err)
	}
	if logs, err := c.FetchCharLogs(ctx, []int64{}); err != nil || logs != nil {
		t.Fatalf("expected empty result, got %+v err=%v", logs, err)
	}
	if err := c.CreateCharLogs(ctx, nil); err != nil {
		t.Fatalf("CreateCharLogs failed: %v", err)
	}
	if n := ts.requests.Load(); n != 0 {
		t.Fatalf("expected no requests, got %d", n)
	}
}

func TestServerRateLimit(t *testing.T) {
	ts := startServer(t, ServerOptions{Limiter: NewInMemoryRateLimiter(0.001, 1)})
	c := newClient(t, ts.url, userA)
	ctx := context.Background()
	if _, err := c.FetchAllSessions(ctx); err != nil {
		t.Fatalf("first request failed: %v", err)
	}
	_, err := c.FetchAllSessions(ctx)
	var statusErr *StatusError
	if !errors.As(err, &statusErr) || statusErr.Status != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %v", err)
	}
	other := newClient(t, ts.url, userB)
	if _, err := other.FetchAllSessions(ctx); err != nil {
		t.Fatalf("expected a separate bucket per user, got %v", err)
	}
}

func TestHealth(t *testing.T) {
	ts := startServer(t, ServerOptions{})
	resp, err := http.Get(ts.url + "/health")
	if err != nil {
		t.Fatalf("GET /health failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
}

func TestNewClientRequiresURL(t *testing.T) {
	if _, err := NewClient(ClientOptions{}); err == nil {
		t.Fatalf("expected error for empty url")
	}
}
