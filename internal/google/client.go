// Package google talks to the Google Calendar API on behalf of a linked
// session. Auth rejections get exactly one token refresh and one retry
// before surfacing as ErrSessionExpired.
package google

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/avast/retry-go/v4"
	"golang.org/x/time/rate"
	"google.golang.org/api/calendar/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	appLog "dockycal/internal/log"
	"dockycal/internal/model"
)

var (
	ErrSessionExpired = errors.New("google session expired, reconnect your account")
	ErrNotLinked      = errors.New("account is not linked to google")
)

const (
	defaultCalendarID = "primary"
	defaultTimeZone   = "Europe/Paris"
	listPageSize      = 100
)

// Config tunes a Client.
type Config struct {
	CalendarID string
	// TimeZone is attached to created events.
	TimeZone string
	// Endpoint overrides the API base URL.
	Endpoint string
	// RequestsPerSecond paces API calls; <= 0 disables pacing.
	RequestsPerSecond float64
	// HTTPClient is the transport underneath the bearer auth. Nil means
	// http.DefaultClient's transport.
	HTTPClient *http.Client
}

type Client struct {
	svc        *calendar.Service
	tokens     TokenProvider
	calendarID string
	timeZone   string
	limiter    *rate.Limiter
}

func New(ctx context.Context, tokens TokenProvider, cfg Config) (*Client, error) {
	if tokens == nil {
		return nil, ErrNotLinked
	}
	if cfg.CalendarID == "" {
		cfg.CalendarID = defaultCalendarID
	}
	if cfg.TimeZone == "" {
		cfg.TimeZone = defaultTimeZone
	}

	base := http.DefaultTransport
	if cfg.HTTPClient != nil && cfg.HTTPClient.Transport != nil {
		base = cfg.HTTPClient.Transport
	}
	hc := &http.Client{Transport: &bearerTransport{base: base, tokens: tokens}}
	if cfg.HTTPClient != nil {
		hc.Timeout = cfg.HTTPClient.Timeout
	}

	opts := []option.ClientOption{option.WithHTTPClient(hc)}
	if cfg.Endpoint != "" {
		opts = append(opts, option.WithEndpoint(cfg.Endpoint))
	}
	svc, err := calendar.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create calendar service: %w", err)
	}

	limiter := rate.NewLimiter(rate.Inf, 1)
	if cfg.RequestsPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), 1)
	}

	return &Client{
		svc:        svc,
		tokens:     tokens,
		calendarID: cfg.CalendarID,
		timeZone:   cfg.TimeZone,
		limiter:    limiter,
	}, nil
}

// ListEvents returns up to one page of events between timeMin and timeMax,
// ordered by start, with recurring series expanded by the provider. Zero
// bounds are omitted.
func (c *Client) ListEvents(ctx context.Context, timeMin, timeMax time.Time) ([]*calendar.Event, error) {
	var items []*calendar.Event
	err := c.do(ctx, "list", func(ctx context.Context) error {
		call := c.svc.Events.List(c.calendarID).
			MaxResults(listPageSize).
			OrderBy("startTime").
			SingleEvents(true).
			Context(ctx)
		if !timeMin.IsZero() {
			call = call.TimeMin(timeMin.Format(time.RFC3339))
		}
		if !timeMax.IsZero() {
			call = call.TimeMax(timeMax.Format(time.RFC3339))
		}
		res, err := call.Do()
		if err != nil {
			return err
		}
		items = res.Items
		return nil
	})
	return items, err
}

// CreateEvent inserts ev and returns the provider's id for it.
func (c *Client) CreateEvent(ctx context.Context, ev model.Event) (string, error) {
	body := &calendar.Event{
		Summary:     ev.Title,
		Description: ev.Description,
		Start: &calendar.EventDateTime{
			DateTime: ev.Start.Format(time.RFC3339),
			TimeZone: c.timeZone,
		},
		End: &calendar.EventDateTime{
			DateTime: ev.End.Format(time.RFC3339),
			TimeZone: c.timeZone,
		},
	}

	var id string
	err := c.do(ctx, "create", func(ctx context.Context) error {
		created, err := c.svc.Events.Insert(c.calendarID, body).Context(ctx).Do()
		if err != nil {
			return err
		}
		id = created.Id
		return nil
	})
	return id, err
}

func (c *Client) DeleteEvent(ctx context.Context, remoteID string) error {
	return c.do(ctx, "delete", func(ctx context.Context) error {
		return c.svc.Events.Delete(c.calendarID, remoteID).Context(ctx).Do()
	})
}

// do runs fn with the current token. A 401 triggers one refresh and one
// retry; a second 401, or a failed refresh, is ErrSessionExpired.
func (c *Client) do(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	if _, ok := c.tokens.Token(ctx); !ok {
		return ErrSessionExpired
	}

	refreshed := false
	err := retry.Do(
		func() error {
			if err := c.limiter.Wait(ctx); err != nil {
				return retry.Unrecoverable(err)
			}
			return fn(ctx)
		},
		retry.Context(ctx),
		retry.Attempts(2),
		retry.Delay(0),
		retry.DelayType(retry.FixedDelay),
		retry.LastErrorOnly(true),
		retry.RetryIf(func(err error) bool {
			if refreshed || !isUnauthorized(err) {
				return false
			}
			refreshed = true
			_, ok := c.tokens.Refresh(ctx)
			return ok
		}),
		retry.OnRetry(func(n uint, err error) {
			appLog.Info("google: retrying with refreshed token", "op", op, "attempt", n+1)
		}),
	)
	if err == nil {
		return nil
	}

	if isUnauthorized(err) {
		if inv, ok := c.tokens.(Invalidator); ok {
			inv.Invalidate()
		}
		appLog.Error("google: session expired", err, "op", op)
		return ErrSessionExpired
	}
	return fmt.Errorf("google %s: %w", op, err)
}

func isUnauthorized(err error) bool {
	var gerr *googleapi.Error
	return errors.As(err, &gerr) && gerr.Code == http.StatusUnauthorized
}

// bearerTransport reads the provider's current token on every request, so
// a refresh takes effect on the retry.
type bearerTransport struct {
	base   http.RoundTripper
	tokens TokenProvider
}

func (t *bearerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	tok, _ := t.tokens.Token(req.Context())
	r := req.Clone(req.Context())
	r.Header.Set("Authorization", "Bearer "+tok)
	return t.base.RoundTrip(r)
}
