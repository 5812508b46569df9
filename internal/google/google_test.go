package google

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/calendar/v3"

	"dockycal/internal/model"
)

type fakeTokens struct {
	mu          sync.Mutex
	tokens      []string
	i           int
	refreshes   int
	invalidated bool
}

func (f *fakeTokens) Token(context.Context) (string, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.tokens) == 0 {
		return "", false
	}
	return f.tokens[f.i], true
}

func (f *fakeTokens) Refresh(context.Context) (string, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.refreshes++
	if f.i+1 >= len(f.tokens) {
		return "", false
	}
	f.i++
	return f.tokens[f.i], true
}

func (f *fakeTokens) Invalidate() {
	f.mu.Lock()
	f.invalidated = true
	f.mu.Unlock()
}

// fakeCalendar accepts only the bearer token "good".
type fakeCalendar struct {
	calls   atomic.Int32
	deleted atomic.Value

	mu      sync.Mutex
	created *calendar.Event
}

func (f *fakeCalendar) lastCreated() *calendar.Event {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.created
}

func (f *fakeCalendar) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.calls.Add(1)
	if r.Header.Get("Authorization") != "Bearer good" {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		io.WriteString(w, `{"error":{"code":401,"message":"Invalid Credentials"}}`)
		return
	}

	switch {
	case r.Method == http.MethodGet && strings.HasSuffix(r.URL.Path, "/calendars/primary/events"):
		q := r.URL.Query()
		if q.Get("singleEvents") != "true" || q.Get("orderBy") != "startTime" || q.Get("maxResults") != "100" {
			http.Error(w, "bad query "+r.URL.RawQuery, http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{"items":[
			{"id":"r1","summary":"Lunch","start":{"dateTime":"2024-01-02T12:00:00Z"},"end":{"dateTime":"2024-01-02T13:00:00Z"}},
			{"id":"r2","start":{"date":"2024-01-03"},"end":{"date":"2024-01-04"}},
			{"id":"r3","summary":"broken","start":{},"end":{"date":"2024-01-04"}}
		]}`)
	case r.Method == http.MethodPost && strings.HasSuffix(r.URL.Path, "/calendars/primary/events"):
		var ev calendar.Event
		if err := json.NewDecoder(r.Body).Decode(&ev); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		f.mu.Lock()
		f.created = &ev
		f.mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{"id":"new-1"}`)
	case r.Method == http.MethodDelete:
		f.deleted.Store(r.URL.Path[strings.LastIndex(r.URL.Path, "/")+1:])
		w.WriteHeader(http.StatusNoContent)
	default:
		http.NotFound(w, r)
	}
}

func newTestClient(t *testing.T, tokens TokenProvider) (*Client, *fakeCalendar) {
	t.Helper()
	fake := &fakeCalendar{}
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)

	c, err := New(context.Background(), tokens, Config{Endpoint: srv.URL + "/", TimeZone: "UTC"})
	require.NoError(t, err)
	return c, fake
}

func TestListEvents(t *testing.T) {
	c, fake := newTestClient(t, &fakeTokens{tokens: []string{"good"}})

	items, err := c.ListEvents(context.Background(), time.Now().Add(-time.Hour), time.Now())
	require.NoError(t, err)
	assert.Len(t, items, 3)
	assert.EqualValues(t, 1, fake.calls.Load())

	events := ToEvents(items, time.UTC)
	require.Len(t, events, 2)
	assert.Equal(t, "google-r1", events[0].ID)
	assert.Equal(t, "r1", events[0].ExternalEventID)
	assert.Equal(t, "Untitled", events[1].Title)
	assert.Equal(t, model.ImportedColor, events[1].Color)
}

func TestRefreshAndRetryOnce(t *testing.T) {
	tokens := &fakeTokens{tokens: []string{"stale", "good"}}
	c, fake := newTestClient(t, tokens)

	id, err := c.CreateEvent(context.Background(), model.Event{
		Title: "Party",
		Start: time.Date(2024, 5, 1, 18, 0, 0, 0, time.UTC),
		End:   time.Date(2024, 5, 1, 20, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)
	assert.Equal(t, "new-1", id)
	assert.Equal(t, 1, tokens.refreshes)
	assert.EqualValues(t, 2, fake.calls.Load())

	created := fake.lastCreated()
	require.NotNil(t, created)
	assert.Equal(t, "Party", created.Summary)
	assert.Equal(t, "UTC", created.Start.TimeZone)
	assert.Equal(t, "2024-05-01T18:00:00Z", created.Start.DateTime)
}

func TestSecondRejectionIsSessionExpired(t *testing.T) {
	tokens := &fakeTokens{tokens: []string{"stale", "also-stale", "good"}}
	c, fake := newTestClient(t, tokens)

	err := c.DeleteEvent(context.Background(), "r1")
	assert.ErrorIs(t, err, ErrSessionExpired)
	assert.Equal(t, 1, tokens.refreshes, "no second refresh")
	assert.EqualValues(t, 2, fake.calls.Load(), "no second retry")
	assert.True(t, tokens.invalidated)
}

func TestFailedRefreshIsSessionExpired(t *testing.T) {
	tokens := &fakeTokens{tokens: []string{"stale"}}
	c, fake := newTestClient(t, tokens)

	_, err := c.ListEvents(context.Background(), time.Time{}, time.Time{})
	assert.ErrorIs(t, err, ErrSessionExpired)
	assert.EqualValues(t, 1, fake.calls.Load())
}

func TestMissingTokenNeverCallsAPI(t *testing.T) {
	c, fake := newTestClient(t, &fakeTokens{})

	err := c.DeleteEvent(context.Background(), "r1")
	assert.ErrorIs(t, err, ErrSessionExpired)
	assert.EqualValues(t, 0, fake.calls.Load())
}

func TestDeleteEvent(t *testing.T) {
	c, fake := newTestClient(t, &fakeTokens{tokens: []string{"good"}})
	require.NoError(t, c.DeleteEvent(context.Background(), "r9"))
	assert.Equal(t, "r9", fake.deleted.Load())
}

func TestNonAuthErrorsAreNotRetried(t *testing.T) {
	tokens := &fakeTokens{tokens: []string{"good"}}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	t.Cleanup(srv.Close)
	c, err := New(context.Background(), tokens, Config{Endpoint: srv.URL + "/"})
	require.NoError(t, err)

	err = c.DeleteEvent(context.Background(), "x")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrSessionExpired)
	assert.Equal(t, 0, tokens.refreshes)
}

func tokenServer(t *testing.T, hits *atomic.Int32) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		require.NoError(t, r.ParseForm())
		if r.Form.Get("refresh_token") != "rt" {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusBadRequest)
			io.WriteString(w, `{"error":"invalid_grant"}`)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{"access_token":"fresh","token_type":"Bearer","expires_in":3600}`)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestSessionTokens(t *testing.T) {
	var hits atomic.Int32
	srv := tokenServer(t, &hits)
	cache := NewTokenCache(afero.NewMemMapFs(), "/state/token.yaml")
	id := Identity{Email: "me@example.com", Providers: []string{"password", ProviderID}}

	s, err := NewSessionTokens(id, OAuthConfig{ClientID: "c", ClientSecret: "s", RefreshToken: "rt", TokenURL: srv.URL}, cache)
	require.NoError(t, err)

	tok, ok := s.Token(context.Background())
	require.True(t, ok)
	assert.Equal(t, "fresh", tok)
	assert.EqualValues(t, 1, hits.Load())

	cached, ok := cache.Get(TokenCacheKey)
	require.True(t, ok)
	assert.Equal(t, "fresh", cached)

	// a new session starts from the cache
	s2, err := NewSessionTokens(id, OAuthConfig{RefreshToken: "rt", TokenURL: srv.URL}, cache)
	require.NoError(t, err)
	tok, ok = s2.Token(context.Background())
	require.True(t, ok)
	assert.Equal(t, "fresh", tok)
	assert.EqualValues(t, 1, hits.Load())

	s2.Invalidate()
	_, ok = cache.Get(TokenCacheKey)
	assert.False(t, ok)
}

func TestSessionTokensBadRefreshToken(t *testing.T) {
	var hits atomic.Int32
	srv := tokenServer(t, &hits)
	s, err := NewSessionTokens(Identity{Providers: []string{ProviderID}}, OAuthConfig{RefreshToken: "revoked", TokenURL: srv.URL}, nil)
	require.NoError(t, err)

	_, ok := s.Token(context.Background())
	assert.False(t, ok)
}

func TestSessionTokensRequireLinkedIdentity(t *testing.T) {
	_, err := NewSessionTokens(Identity{Email: "me@example.com", Providers: []string{"password"}}, OAuthConfig{}, nil)
	assert.ErrorIs(t, err, ErrNotLinked)
}

func TestToEventDateOnlyIsLocalMidnight(t *testing.T) {
	paris := time.FixedZone("CET", 3600)
	ev, ok := ToEvent(&calendar.Event{
		Id:    "x",
		Start: &calendar.EventDateTime{Date: "2024-07-14"},
		End:   &calendar.EventDateTime{Date: "2024-07-15"},
	}, paris)
	require.True(t, ok)
	assert.Equal(t, time.Date(2024, 7, 14, 0, 0, 0, 0, paris), ev.Start)
	assert.Equal(t, time.Date(2024, 7, 15, 0, 0, 0, 0, paris), ev.End)
}

func TestToEventDropsMissingEndpoints(t *testing.T) {
	_, ok := ToEvent(&calendar.Event{Id: "x", Start: &calendar.EventDateTime{Date: "2024-07-14"}}, time.UTC)
	assert.False(t, ok)
	_, ok = ToEvent(nil, time.UTC)
	assert.False(t, ok)
}
