package store

import (
	"context"
	"maps"
	"slices"

	"github.com/sourcegraph/conc/pool"

	appLog "dockycal/internal/log"
)

// Load fills the list from the document store, but only while the list is
// still empty. A failed load is logged and treated as "nothing stored".
// It reports how many events were loaded.
func (s *Store) Load(ctx context.Context) int {
	if s.docs == nil {
		return 0
	}

	stored, err := s.docs.LoadAll(ctx)
	if err != nil {
		appLog.Error("store: load failed, starting empty", err)
		return 0
	}
	if len(stored) == 0 {
		return 0
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.events) > 0 {
		appLog.Info("store: in-memory list not empty, ignoring stored events", "stored", len(stored))
		return 0
	}
	if s.loc != nil {
		for i := range stored {
			stored[i].Start = stored[i].Start.In(s.loc)
			stored[i].End = stored[i].End.In(s.loc)
		}
	}
	s.events = append(s.events, stored...)
	appLog.Info("store: loaded events", "count", len(stored))
	return len(stored)
}

// Run writes the list to the document store each time a mutation is
// signalled, until ctx is done. A final flush runs on the way out.
func (s *Store) Run(ctx context.Context) {
	if s.docs == nil {
		<-ctx.Done()
		return
	}
	for {
		select {
		case <-s.persistNow:
			if err := s.Flush(ctx); err != nil {
				appLog.Error("store: persist failed", err)
			}
		case <-ctx.Done():
			// ctx is already cancelled; give the last write its own context
			if err := s.Flush(context.WithoutCancel(ctx)); err != nil {
				appLog.Error("store: final persist failed", err)
			}
			return
		}
	}
}

// Flush applies pending document deletes and, when the list is non-empty,
// upserts every event. In-memory state is never rolled back on failure;
// deletes that fail stay pending for the next flush.
func (s *Store) Flush(ctx context.Context) error {
	if s.docs == nil {
		return nil
	}

	s.mu.Lock()
	snapshot := slices.Clone(s.events)
	deletes := slices.Sorted(maps.Keys(s.pendingDeletes))
	clear(s.pendingDeletes)
	s.mu.Unlock()

	p := pool.New().WithErrors().WithContext(ctx).WithMaxGoroutines(s.saveWorkers)

	for _, id := range deletes {
		p.Go(func(ctx context.Context) error {
			if err := s.docs.Delete(ctx, id); err != nil {
				s.mu.Lock()
				s.pendingDeletes[id] = struct{}{}
				s.mu.Unlock()
				return err
			}
			return nil
		})
	}
	if len(snapshot) > 0 {
		for _, ev := range snapshot {
			p.Go(func(ctx context.Context) error {
				return s.docs.Upsert(ctx, ev)
			})
		}
	}

	err := p.Wait()
	if err == nil {
		appLog.Debug("store: persisted", "events", len(snapshot), "deleted", len(deletes))
	}
	return err
}

func (s *Store) schedulePersist() {
	select {
	case s.persistNow <- struct{}{}:
	default:
		// a write is already pending
	}
}
