package docstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"slices"
	"strings"
	"sync"

	"github.com/spf13/afero"

	appLog "dockycal/internal/log"
	"dockycal/internal/model"
)

// DefaultCollection is the collection events are kept in.
const DefaultCollection = "dockycalendar"

var ErrCollectionRequired = errors.New("collection name is required")

// document is the stored shape of an event. The id is the document key.
type document struct {
	Title           string    `json:"title"`
	Start           Timestamp `json:"start"`
	End             Timestamp `json:"end"`
	Description     string    `json:"description,omitempty"`
	Color           string    `json:"color,omitempty"`
	ExternalEventID string    `json:"googleEventId,omitempty"`
}

func toDocument(ev model.Event) document {
	return document{
		Title:           ev.Title,
		Start:           Timestamp{ev.Start},
		End:             Timestamp{ev.End},
		Description:     ev.Description,
		Color:           ev.Color,
		ExternalEventID: ev.ExternalEventID,
	}
}

func (d document) event(id string) model.Event {
	return model.Event{
		ID:              id,
		Title:           d.Title,
		Start:           d.Start.Time,
		End:             d.End.Time,
		Description:     d.Description,
		Color:           d.Color,
		ExternalEventID: d.ExternalEventID,
	}
}

// FileStore keeps a collection as one JSON object (id -> document) in a
// file under dir. Writes go through a temp file and a rename.
type FileStore struct {
	mu   sync.Mutex
	fs   afero.Fs
	path string
}

// NewFileStore returns a store for collection inside dir on fsys.
func NewFileStore(fsys afero.Fs, dir, collection string) (*FileStore, error) {
	if strings.TrimSpace(collection) == "" {
		return nil, ErrCollectionRequired
	}
	if err := fsys.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("create store dir: %w", err)
	}
	return &FileStore{
		fs:   fsys,
		path: filepath.Join(dir, collection+".json"),
	}, nil
}

// LoadAll returns every stored event ordered by id. Documents that cannot
// be decoded are skipped.
func (s *FileStore) LoadAll(ctx context.Context) ([]model.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	raw, err := s.read()
	if err != nil {
		return nil, err
	}

	ids := make([]string, 0, len(raw))
	for id := range raw {
		ids = append(ids, id)
	}
	slices.Sort(ids)

	out := make([]model.Event, 0, len(raw))
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		var doc document
		if err := json.Unmarshal(raw[id], &doc); err != nil {
			appLog.Error("docstore: skipping undecodable document", err, "id", id, "path", s.path)
			continue
		}
		out = append(out, doc.event(id))
	}
	return out, nil
}

// Upsert writes ev under its id, replacing any previous document.
func (s *FileStore) Upsert(ctx context.Context, ev model.Event) error {
	if ev.ID == "" {
		return errors.New("docstore: event id is empty")
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	raw, err := s.read()
	if err != nil {
		return err
	}
	data, err := json.Marshal(toDocument(ev))
	if err != nil {
		return err
	}
	raw[ev.ID] = data
	return s.write(raw)
}

// Delete removes the document for id. Missing documents are not an error.
func (s *FileStore) Delete(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	raw, err := s.read()
	if err != nil {
		return err
	}
	if _, ok := raw[id]; !ok {
		return nil
	}
	delete(raw, id)
	return s.write(raw)
}

func (s *FileStore) read() (map[string]json.RawMessage, error) {
	data, err := afero.ReadFile(s.fs, s.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return make(map[string]json.RawMessage), nil
		}
		return nil, fmt.Errorf("read collection: %w", err)
	}
	raw := make(map[string]json.RawMessage)
	if len(data) == 0 {
		return raw, nil
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("decode collection: %w", err)
	}
	return raw, nil
}

func (s *FileStore) write(raw map[string]json.RawMessage) error {
	data, err := json.MarshalIndent(raw, "", "  ")
	if err != nil {
		return err
	}

	dir := filepath.Dir(s.path)
	tmp, err := afero.TempFile(s.fs, dir, ".dockycal-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer s.fs.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := s.fs.Chmod(tmpName, 0o600); err != nil {
		return err
	}
	return s.fs.Rename(tmpName, s.path)
}
