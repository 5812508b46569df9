// Package syncer pulls events from the provider calendar into the store,
// on demand and on a cron schedule.
package syncer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"google.golang.org/api/calendar/v3"

	"dockycal/internal/google"
	appLog "dockycal/internal/log"
	"dockycal/internal/model"
)

var ErrInProgress = errors.New("sync already in progress")

// Lister is the provider side of a sync.
type Lister interface {
	ListEvents(ctx context.Context, timeMin, timeMax time.Time) ([]*calendar.Event, error)
}

// Importer is the store side of a sync.
type Importer interface {
	MergeImport(incoming []model.Event) int
}

type Options struct {
	// Location is where date-only provider events are placed.
	Location   *time.Location
	PastDays   int
	FutureDays int
	// Now defaults to time.Now.
	Now func() time.Time
}

type Syncer struct {
	lister   Lister
	importer Importer
	opts     Options

	running sync.Mutex
}

func New(l Lister, imp Importer, opts Options) *Syncer {
	if opts.Location == nil {
		opts.Location = time.Local
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Syncer{lister: l, importer: imp, opts: opts}
}

// Window is the time range a sync lists.
func (s *Syncer) Window() (time.Time, time.Time) {
	now := s.opts.Now().In(s.opts.Location)
	return now.AddDate(0, 0, -s.opts.PastDays), now.AddDate(0, 0, s.opts.FutureDays)
}

// SyncOnce lists the provider window and merges it into the store. It
// returns the number of newly imported events. Overlapping calls get
// ErrInProgress.
func (s *Syncer) SyncOnce(ctx context.Context) (int, error) {
	if !s.running.TryLock() {
		return 0, ErrInProgress
	}
	defer s.running.Unlock()

	from, to := s.Window()
	items, err := s.lister.ListEvents(ctx, from, to)
	if err != nil {
		return 0, fmt.Errorf("list provider events: %w", err)
	}

	events := google.ToEvents(items, s.opts.Location)
	added := s.importer.MergeImport(events)

	appLog.Info("syncer: sync completed",
		"listed", len(items),
		"mapped", len(events),
		"added", added,
		"from", from.Format(time.RFC3339),
		"to", to.Format(time.RFC3339),
	)
	return added, nil
}

// Start runs SyncOnce on the standard 5-field cron spec until ctx is
// done.
func (s *Syncer) Start(ctx context.Context, spec string) error {
	c := cron.New(cron.WithLocation(s.opts.Location))
	_, err := c.AddFunc(spec, func() {
		if _, err := s.SyncOnce(ctx); err != nil {
			if errors.Is(err, google.ErrSessionExpired) {
				appLog.Error("syncer: provider session expired, reconnect to resume sync", err)
				return
			}
			appLog.Error("syncer: scheduled sync failed", err)
		}
	})
	if err != nil {
		return fmt.Errorf("invalid sync schedule %q: %w", spec, err)
	}

	c.Start()
	appLog.Info("syncer: scheduled", "cron", spec)

	go func() {
		<-ctx.Done()
		<-c.Stop().Done()
		appLog.Info("syncer: stopped")
	}()
	return nil
}
