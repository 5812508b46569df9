// Package store owns the authoritative event list. Mutations apply to
// memory synchronously and never fail on I/O; persistence and provider
// calls happen at the edges and only ever log or report their failures.
package store

import (
	"context"
	"errors"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	appLog "dockycal/internal/log"
	"dockycal/internal/model"
	"dockycal/internal/recurrence"
)

var (
	ErrNotFound          = errors.New("event not found")
	ErrRemoteUnavailable = errors.New("calendar provider is not connected")
	ErrAlreadyLinked     = errors.New("event is already linked to the provider")
)

// DocumentStore is the external persistence collaborator.
type DocumentStore interface {
	LoadAll(ctx context.Context) ([]model.Event, error)
	Upsert(ctx context.Context, ev model.Event) error
	Delete(ctx context.Context, id string) error
}

// Remote is the provider calendar as seen by the store.
type Remote interface {
	// CreateEvent returns the provider's id for the new event.
	CreateEvent(ctx context.Context, ev model.Event) (string, error)
	DeleteEvent(ctx context.Context, remoteID string) error
}

const defaultSaveWorkers = 4

type Store struct {
	mu     sync.RWMutex
	events []model.Event
	// ids removed locally whose documents still need deleting
	pendingDeletes map[string]struct{}

	docs   DocumentStore
	remote Remote
	// display zone applied to loaded events; nil keeps the decoded zone
	loc *time.Location

	saveWorkers int
	persistNow  chan struct{}
}

// New returns an empty store. docs and remote may be nil.
func New(docs DocumentStore, remote Remote) *Store {
	return &Store{
		events:         make([]model.Event, 0),
		pendingDeletes: make(map[string]struct{}),
		docs:           docs,
		remote:         remote,
		saveWorkers:    defaultSaveWorkers,
		persistNow:     make(chan struct{}, 1),
	}
}

// SetRemote replaces the provider collaborator; nil disconnects it.
func (s *Store) SetRemote(r Remote) {
	s.mu.Lock()
	s.remote = r
	s.mu.Unlock()
}

// SetLocation sets the zone stored events are converted to on Load.
func (s *Store) SetLocation(loc *time.Location) {
	s.mu.Lock()
	s.loc = loc
	s.mu.Unlock()
}

func (s *Store) getRemote() Remote {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.remote
}

// Events returns a copy of the list in insertion order.
func (s *Store) Events() []model.Event {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.events)
}

func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.events)
}

// Get returns the event with id.
func (s *Store) Get(id string) (model.Event, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if i := s.indexOf(id); i >= 0 {
		return s.events[i], true
	}
	return model.Event{}, false
}

// Add stores ev under a fresh id and returns the stored value. Any id on
// ev is ignored.
func (s *Store) Add(ev model.Event) model.Event {
	ev.ID = uuid.NewString()

	s.mu.Lock()
	s.events = append(s.events, ev)
	s.mu.Unlock()

	s.schedulePersist()
	return ev
}

// AddRecurring expands base by rule and adds every occurrence as an
// independent event, in occurrence order, under a single lock.
func (s *Store) AddRecurring(base model.Event, rule recurrence.Rule) []model.Event {
	occurrences := recurrence.Expand(base, rule)
	for i := range occurrences {
		occurrences[i].ID = uuid.NewString()
	}

	s.mu.Lock()
	s.events = append(s.events, occurrences...)
	s.mu.Unlock()

	if len(occurrences) > 0 {
		s.schedulePersist()
	}
	return occurrences
}

// Update merges patch into the event with id. It reports false when no
// such event exists.
func (s *Store) Update(id string, patch model.Patch) (model.Event, bool) {
	s.mu.Lock()
	i := s.indexOf(id)
	if i < 0 {
		s.mu.Unlock()
		return model.Event{}, false
	}
	s.events[i] = patch.Apply(s.events[i])
	updated := s.events[i]
	s.mu.Unlock()

	s.schedulePersist()
	return updated, true
}

// Delete removes the event with id. A linked event is first deleted from
// the provider; that failure is logged and the local delete goes ahead.
func (s *Store) Delete(ctx context.Context, id string) bool {
	ev, ok := s.Get(id)
	if !ok {
		return false
	}

	if remote := s.getRemote(); ev.Linked() && remote != nil {
		if err := remote.DeleteEvent(ctx, ev.ExternalEventID); err != nil {
			appLog.Error("store: remote delete failed, deleting locally only", err,
				"id", ev.ID, "external_id", ev.ExternalEventID)
		}
	}

	s.mu.Lock()
	i := s.indexOf(id)
	if i < 0 {
		s.mu.Unlock()
		return true
	}
	s.events = slices.Delete(s.events, i, i+1)
	s.pendingDeletes[id] = struct{}{}
	s.mu.Unlock()

	s.schedulePersist()
	return true
}

// MergeImport appends incoming events whose external id is not already
// present, either in the store or earlier in the batch. Imported events
// keep their ids unless empty. It returns the number appended.
func (s *Store) MergeImport(incoming []model.Event) int {
	s.mu.Lock()
	seen := make(map[string]struct{}, len(s.events))
	for _, ev := range s.events {
		if ev.Linked() {
			seen[ev.ExternalEventID] = struct{}{}
		}
	}

	added := 0
	for _, ev := range incoming {
		if ev.Linked() {
			if _, dup := seen[ev.ExternalEventID]; dup {
				continue
			}
			seen[ev.ExternalEventID] = struct{}{}
		}
		if ev.ID == "" || s.indexOf(ev.ID) >= 0 {
			ev.ID = uuid.NewString()
		}
		s.events = append(s.events, ev)
		added++
	}
	s.mu.Unlock()

	if added > 0 {
		appLog.Info("store: merged import", "added", added, "received", len(incoming))
		s.schedulePersist()
	}
	return added
}

// Export creates the event in the provider calendar and links it to the
// returned remote id.
func (s *Store) Export(ctx context.Context, id string) (model.Event, error) {
	ev, ok := s.Get(id)
	if !ok {
		return model.Event{}, ErrNotFound
	}
	if ev.Linked() {
		return ev, ErrAlreadyLinked
	}
	remote := s.getRemote()
	if remote == nil {
		return ev, ErrRemoteUnavailable
	}

	remoteID, err := remote.CreateEvent(ctx, ev)
	if err != nil {
		return ev, err
	}

	updated, ok := s.Update(id, model.Patch{ExternalEventID: &remoteID})
	if !ok {
		// deleted while the request was in flight
		return model.Event{}, ErrNotFound
	}
	return updated, nil
}

func (s *Store) indexOf(id string) int {
	return slices.IndexFunc(s.events, func(e model.Event) bool { return e.ID == id })
}
