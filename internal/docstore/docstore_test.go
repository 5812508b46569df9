package docstore

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dockycal/internal/model"
)

type collection interface {
	LoadAll(ctx context.Context) ([]model.Event, error)
	Upsert(ctx context.Context, ev model.Event) error
	Delete(ctx context.Context, id string) error
}

func sample(id string) model.Event {
	start := time.Date(2024, 1, 1, 9, 0, 0, 123456789, time.UTC)
	return model.Event{
		ID:              id,
		Title:           "Standup " + id,
		Start:           start,
		End:             start.Add(30 * time.Minute),
		Description:     "daily",
		Color:           model.Palette[0],
		ExternalEventID: "g-" + id,
	}
}

func exerciseCollection(t *testing.T, c collection) {
	t.Helper()
	ctx := context.Background()

	all, err := c.LoadAll(ctx)
	require.NoError(t, err)
	assert.Empty(t, all)

	require.NoError(t, c.Upsert(ctx, sample("b")))
	require.NoError(t, c.Upsert(ctx, sample("a")))

	updated := sample("a")
	updated.Title = "Renamed"
	require.NoError(t, c.Upsert(ctx, updated))

	all, err = c.LoadAll(ctx)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "a", all[0].ID)
	assert.Equal(t, "Renamed", all[0].Title)
	assert.True(t, sample("a").Start.Equal(all[0].Start), "sub-second precision kept")
	assert.True(t, sample("a").End.Equal(all[0].End))
	assert.Equal(t, "g-a", all[0].ExternalEventID)

	require.NoError(t, c.Delete(ctx, "a"))
	require.NoError(t, c.Delete(ctx, "missing"))

	all, err = c.LoadAll(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, "b", all[0].ID)
}

func TestFileStore(t *testing.T) {
	s, err := NewFileStore(afero.NewMemMapFs(), "/data", DefaultCollection)
	require.NoError(t, err)
	exerciseCollection(t, s)
}

func TestFileStoreRequiresCollection(t *testing.T) {
	_, err := NewFileStore(afero.NewMemMapFs(), "/data", " ")
	assert.ErrorIs(t, err, ErrCollectionRequired)
}

func TestFileStoreReadsLegacyShapes(t *testing.T) {
	fsys := afero.NewMemMapFs()
	s, err := NewFileStore(fsys, "/data", "cal")
	require.NoError(t, err)

	raw := `{
		"iso": {"title": "iso", "start": "2024-03-01T10:00:00Z", "end": "2024-03-01T11:00:00Z"},
		"millis": {"title": "ms", "start": 1709287200000, "end": 1709290800000},
		"underscore": {"title": "u", "start": {"_seconds": 1709287200}, "end": {"_seconds": 1709290800}},
		"broken": {"title": "bad", "start": true, "end": true}
	}`
	require.NoError(t, afero.WriteFile(fsys, "/data/cal.json", []byte(raw), 0o600))

	all, err := s.LoadAll(context.Background())
	require.NoError(t, err)
	require.Len(t, all, 3)

	want := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	for _, ev := range all {
		assert.True(t, want.Equal(ev.Start), "%s: %s", ev.ID, ev.Start)
		assert.Equal(t, time.Hour, ev.End.Sub(ev.Start))
	}
}

func TestSQLiteStore(t *testing.T) {
	s, err := OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "cal.db"), DefaultCollection)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	exerciseCollection(t, s)
}

func TestSQLiteCollectionsAreIsolated(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cal.db")
	ctx := context.Background()

	a, err := OpenSQLite(ctx, path, "a")
	require.NoError(t, err)
	require.NoError(t, a.Upsert(ctx, sample("1")))
	require.NoError(t, a.Close())

	b, err := OpenSQLite(ctx, path, "b")
	require.NoError(t, err)
	t.Cleanup(func() { b.Close() })

	all, err := b.LoadAll(ctx)
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestTimestampRoundTrip(t *testing.T) {
	in := Timestamp{time.Date(2024, 5, 6, 7, 8, 9, 10, time.UTC)}
	data, err := json.Marshal(in)
	require.NoError(t, err)
	assert.JSONEq(t, `{"seconds": 1714979289, "nanoseconds": 10}`, string(data))

	var out Timestamp
	require.NoError(t, json.Unmarshal(data, &out))
	assert.True(t, in.Equal(out.Time))
}

func TestParseTimestamp(t *testing.T) {
	want := time.Date(2024, 3, 1, 0, 0, 0, 0, time.Local)

	got, err := ParseTimestamp("2024-03-01")
	require.NoError(t, err)
	assert.True(t, want.Equal(got))

	got, err = ParseTimestamp(want.UnixMilli())
	require.NoError(t, err)
	assert.True(t, want.Equal(got))

	got, err = ParseTimestamp([]byte(want.UTC().Format(time.RFC3339Nano)))
	require.NoError(t, err)
	assert.True(t, want.Equal(got))

	_, err = ParseTimestamp("next tuesday")
	assert.ErrorIs(t, err, ErrBadTimestamp)

	_, err = ParseTimestamp(map[string]any{"nanos": 1.0})
	assert.ErrorIs(t, err, ErrBadTimestamp)
}
