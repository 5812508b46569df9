package store

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dockycal/internal/docstore"
	"dockycal/internal/model"
	"dockycal/internal/recurrence"
)

type fakeRemote struct {
	mu        sync.Mutex
	created   []model.Event
	deleted   []string
	createErr error
	deleteErr error
	nextID    string
}

func (f *fakeRemote) CreateEvent(_ context.Context, ev model.Event) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return "", f.createErr
	}
	f.created = append(f.created, ev)
	return f.nextID, nil
}

func (f *fakeRemote) DeleteEvent(_ context.Context, remoteID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, remoteID)
	return f.deleteErr
}

type failingDocs struct{}

func (failingDocs) LoadAll(context.Context) ([]model.Event, error) {
	return nil, errors.New("disk on fire")
}
func (failingDocs) Upsert(context.Context, model.Event) error { return errors.New("read-only") }
func (failingDocs) Delete(context.Context, string) error      { return errors.New("read-only") }

func at(d, h int) time.Time {
	return time.Date(2024, 1, d, h, 0, 0, 0, time.UTC)
}

func newEvent(title string, d int) model.Event {
	return model.Event{Title: title, Start: at(d, 9), End: at(d, 10)}
}

func memDocs(t *testing.T) *docstore.FileStore {
	t.Helper()
	docs, err := docstore.NewFileStore(afero.NewMemMapFs(), "/data", docstore.DefaultCollection)
	require.NoError(t, err)
	return docs
}

func TestAddAssignsFreshIDs(t *testing.T) {
	s := New(nil, nil)
	a := s.Add(model.Event{ID: "ignored", Title: "a"})
	b := s.Add(model.Event{Title: "b"})

	assert.NotEmpty(t, a.ID)
	assert.NotEqual(t, "ignored", a.ID)
	assert.NotEqual(t, a.ID, b.ID)
	assert.Equal(t, 2, s.Len())

	got, ok := s.Get(a.ID)
	require.True(t, ok)
	assert.Equal(t, a, got)
}

func TestEventsReturnsCopy(t *testing.T) {
	s := New(nil, nil)
	s.Add(newEvent("a", 1))

	events := s.Events()
	events[0].Title = "mutated"

	assert.Equal(t, "a", s.Events()[0].Title)
}

func TestUpdate(t *testing.T) {
	s := New(nil, nil)
	ev := s.Add(newEvent("a", 1))

	title := "renamed"
	updated, ok := s.Update(ev.ID, model.Patch{Title: &title})
	require.True(t, ok)
	assert.Equal(t, "renamed", updated.Title)
	assert.Equal(t, ev.Start, updated.Start)
	assert.Equal(t, ev.ID, updated.ID)

	_, ok = s.Update("missing", model.Patch{Title: &title})
	assert.False(t, ok)
	assert.Equal(t, 1, s.Len())
}

func TestAddRecurringWeeklyScenario(t *testing.T) {
	s := New(nil, nil)
	base := model.Event{
		Title: "Weekly sync",
		Start: time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC),
		End:   time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC),
	}

	added := s.AddRecurring(base, recurrence.Rule{Frequency: recurrence.Weekly, Until: "2024-01-22"})

	require.Len(t, added, 4)
	assert.Equal(t, added, s.Events())
	ids := map[string]bool{}
	for i, ev := range added {
		day := 1 + 7*i
		assert.Equal(t, time.Date(2024, 1, day, 9, 0, 0, 0, time.UTC), ev.Start)
		assert.Equal(t, time.Date(2024, 1, day, 10, 0, 0, 0, time.UTC), ev.End)
		ids[ev.ID] = true
	}
	assert.Len(t, ids, 4)

	// occurrences are independent
	title := "moved"
	s.Update(added[1].ID, model.Patch{Title: &title})
	s.Delete(context.Background(), added[2].ID)
	events := s.Events()
	require.Len(t, events, 3)
	assert.Equal(t, "Weekly sync", events[0].Title)
	assert.Equal(t, "moved", events[1].Title)
	assert.Equal(t, "Weekly sync", events[2].Title)
}

func TestDeleteUnlinkedNeverCallsRemote(t *testing.T) {
	remote := &fakeRemote{}
	s := New(nil, remote)
	ev := s.Add(newEvent("local", 1))

	assert.True(t, s.Delete(context.Background(), ev.ID))
	assert.Empty(t, remote.deleted)
	assert.Equal(t, 0, s.Len())
}

func TestDeleteLinkedSurvivesRemoteFailure(t *testing.T) {
	remote := &fakeRemote{deleteErr: errors.New("503")}
	s := New(nil, remote)
	ev := newEvent("linked", 1)
	ev.ExternalEventID = "abc"
	ev = s.Add(ev)

	assert.True(t, s.Delete(context.Background(), ev.ID))
	assert.Equal(t, []string{"abc"}, remote.deleted)
	_, ok := s.Get(ev.ID)
	assert.False(t, ok)
}

func TestDeleteMissing(t *testing.T) {
	s := New(nil, &fakeRemote{})
	assert.False(t, s.Delete(context.Background(), "nope"))
}

func TestMergeImportIsIdempotent(t *testing.T) {
	s := New(nil, nil)
	s.Add(newEvent("local", 1))

	batch := []model.Event{
		{ID: "google-1", Title: "one", Start: at(2, 9), End: at(2, 10), ExternalEventID: "1"},
		{ID: "google-2", Title: "two", Start: at(3, 9), End: at(3, 10), ExternalEventID: "2"},
		{ID: "google-2", Title: "dup in batch", Start: at(3, 9), End: at(3, 10), ExternalEventID: "2"},
	}

	assert.Equal(t, 2, s.MergeImport(batch))
	assert.Equal(t, 3, s.Len())

	assert.Equal(t, 0, s.MergeImport(batch))
	assert.Equal(t, 3, s.Len())

	got, ok := s.Get("google-1")
	require.True(t, ok)
	assert.Equal(t, "one", got.Title)
}

func TestMergeImportUnlinkedAlwaysAppends(t *testing.T) {
	s := New(nil, nil)
	batch := []model.Event{{Title: "no link", Start: at(1, 9), End: at(1, 10)}}

	assert.Equal(t, 1, s.MergeImport(batch))
	assert.Equal(t, 1, s.MergeImport(batch))

	events := s.Events()
	require.Len(t, events, 2)
	assert.NotEmpty(t, events[0].ID)
	assert.NotEqual(t, events[0].ID, events[1].ID)
}

func TestExport(t *testing.T) {
	remote := &fakeRemote{nextID: "remote-42"}
	s := New(nil, remote)
	ev := s.Add(newEvent("party", 5))

	linked, err := s.Export(context.Background(), ev.ID)
	require.NoError(t, err)
	assert.Equal(t, "remote-42", linked.ExternalEventID)
	require.Len(t, remote.created, 1)
	assert.Equal(t, "party", remote.created[0].Title)

	_, err = s.Export(context.Background(), ev.ID)
	assert.ErrorIs(t, err, ErrAlreadyLinked)

	_, err = s.Export(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestExportFailureLeavesEventUnlinked(t *testing.T) {
	boom := errors.New("boom")
	s := New(nil, &fakeRemote{createErr: boom})
	ev := s.Add(newEvent("party", 5))

	_, err := s.Export(context.Background(), ev.ID)
	assert.ErrorIs(t, err, boom)

	got, _ := s.Get(ev.ID)
	assert.False(t, got.Linked())
}

func TestExportWithoutRemote(t *testing.T) {
	s := New(nil, nil)
	ev := s.Add(newEvent("party", 5))

	_, err := s.Export(context.Background(), ev.ID)
	assert.ErrorIs(t, err, ErrRemoteUnavailable)
}

func TestFlushAndLoad(t *testing.T) {
	ctx := context.Background()
	docs := memDocs(t)

	first := New(docs, nil)
	a := first.Add(newEvent("a", 1))
	b := first.Add(newEvent("b", 2))
	require.NoError(t, first.Flush(ctx))

	first.Delete(ctx, a.ID)
	require.NoError(t, first.Flush(ctx))

	second := New(docs, nil)
	assert.Equal(t, 1, second.Load(ctx))
	events := second.Events()
	require.Len(t, events, 1)
	assert.Equal(t, b.ID, events[0].ID)
	assert.True(t, b.Start.Equal(events[0].Start))
}

func TestLoadConvertsToDisplayZone(t *testing.T) {
	ctx := context.Background()
	docs := memDocs(t)
	require.NoError(t, docs.Upsert(ctx, model.Event{ID: "stored", Title: "stored", Start: at(1, 9), End: at(1, 10)}))

	tokyo := time.FixedZone("JST", 9*60*60)
	s := New(docs, nil)
	s.SetLocation(tokyo)
	require.Equal(t, 1, s.Load(ctx))

	ev, ok := s.Get("stored")
	require.True(t, ok)
	assert.Equal(t, tokyo, ev.Start.Location())
	assert.Equal(t, tokyo, ev.End.Location())
	assert.Equal(t, 18, ev.Start.Hour())
	assert.True(t, at(1, 9).Equal(ev.Start))
}

func TestLoadSkippedWhenMemoryNotEmpty(t *testing.T) {
	ctx := context.Background()
	docs := memDocs(t)
	require.NoError(t, docs.Upsert(ctx, model.Event{ID: "stored", Title: "stored", Start: at(1, 9), End: at(1, 10)}))

	s := New(docs, nil)
	s.Add(newEvent("fresh", 2))

	assert.Equal(t, 0, s.Load(ctx))
	events := s.Events()
	require.Len(t, events, 1)
	assert.Equal(t, "fresh", events[0].Title)
}

func TestLoadFailureYieldsEmpty(t *testing.T) {
	s := New(failingDocs{}, nil)
	assert.Equal(t, 0, s.Load(context.Background()))
	assert.Equal(t, 0, s.Len())
}

func TestFlushFailureKeepsMemory(t *testing.T) {
	s := New(failingDocs{}, nil)
	ev := s.Add(newEvent("a", 1))
	s.Delete(context.Background(), s.Add(newEvent("b", 2)).ID)

	assert.Error(t, s.Flush(context.Background()))
	events := s.Events()
	require.Len(t, events, 1)
	assert.Equal(t, ev.ID, events[0].ID)

	s.mu.RLock()
	assert.Len(t, s.pendingDeletes, 1, "failed delete stays pending")
	s.mu.RUnlock()
}

func TestRunPersistsOnMutation(t *testing.T) {
	docs := memDocs(t)
	s := New(docs, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()

	ev := s.Add(newEvent("a", 1))

	assert.Eventually(t, func() bool {
		stored, err := docs.LoadAll(context.Background())
		return err == nil && len(stored) == 1 && stored[0].ID == ev.ID
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	<-done
}
