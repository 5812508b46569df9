package web

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"dockycal/internal/dates"
	"dockycal/internal/google"
	"dockycal/internal/ics"
	appLog "dockycal/internal/log"
	"dockycal/internal/model"
	"dockycal/internal/recurrence"
	"dockycal/internal/store"
	"dockycal/internal/syncer"
	"dockycal/internal/view"
)

const maxUploadBytes = 5 << 20

type eventsResponse struct {
	Events []model.Event `json:"events"`
}

type countResponse struct {
	Added     int      `json:"added"`
	Truncated []string `json:"truncated,omitempty"`
}

// createRequest is the body of POST /api/events.
type createRequest struct {
	Title       string           `json:"title"`
	Start       time.Time        `json:"start"`
	End         time.Time        `json:"end"`
	Description string           `json:"description"`
	Color       string           `json:"color"`
	Repeat      *recurrence.Rule `json:"repeat,omitempty"`
}

func (s *Server) handleListEvents(w http.ResponseWriter, _ *http.Request) {
	events := s.store.Events()
	slices.SortStableFunc(events, func(a, b model.Event) int {
		return a.Start.Compare(b.Start)
	})
	writeJSON(w, http.StatusOK, eventsResponse{Events: events})
}

// handleCreateEvent adds one event, or the materialized occurrences when
// a repeat rule is given.
func (s *Server) handleCreateEvent(w http.ResponseWriter, r *http.Request) {
	var req createRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	req.Title = strings.TrimSpace(req.Title)
	if req.Title == "" {
		writeError(w, http.StatusBadRequest, "title is required")
		return
	}
	if req.Start.IsZero() || req.End.IsZero() {
		writeError(w, http.StatusBadRequest, "start and end are required")
		return
	}

	if req.Color == "" {
		req.Color = model.Palette[0]
	}

	loc := s.location()
	base := model.Event{
		Title:       req.Title,
		Start:       req.Start.In(loc),
		End:         req.End.In(loc),
		Description: req.Description,
		Color:       req.Color,
	}

	if req.Repeat == nil {
		ev := s.store.Add(base)
		appLog.Info("event created", "id", ev.ID)
		writeJSON(w, http.StatusCreated, eventsResponse{Events: []model.Event{ev}})
		return
	}

	rule := recurrence.Rule{Frequency: recurrence.ParseFrequency(string(req.Repeat.Frequency)), Until: req.Repeat.Until}
	created := s.store.AddRecurring(base, rule)
	if len(created) == 0 {
		writeError(w, http.StatusUnprocessableEntity, "repeat ends before the event starts")
		return
	}
	appLog.Info("recurring events created", "count", len(created), "frequency", string(rule.Frequency))
	writeJSON(w, http.StatusCreated, eventsResponse{Events: created})
}

func (s *Server) handleUpdateEvent(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	var patch model.Patch
	if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if patch.Empty() {
		writeError(w, http.StatusBadRequest, "nothing to update")
		return
	}
	if patch.Title != nil && strings.TrimSpace(*patch.Title) == "" {
		writeError(w, http.StatusBadRequest, "title cannot be empty")
		return
	}

	ev, ok := s.store.Update(id, patch)
	if !ok {
		writeError(w, http.StatusNotFound, store.ErrNotFound.Error())
		return
	}
	writeJSON(w, http.StatusOK, ev)
}

func (s *Server) handleDeleteEvent(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if !s.store.Delete(r.Context(), id) {
		writeError(w, http.StatusNotFound, store.ErrNotFound.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleExportEvent(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	ev, err := s.store.Export(r.Context(), id)
	if err != nil {
		s.writeRemoteError(w, "export", err)
		return
	}
	writeJSON(w, http.StatusOK, ev)
}

// handleView renders one of the five views.
//
// GET /api/views/{kind}?date=2024-02-14&days=30
//   - date: anchor day in the display timezone (default today)
//   - days: N for the rolling view (default from config)
func (s *Server) handleView(w http.ResponseWriter, r *http.Request) {
	kind, err := view.ParseKind(mux.Vars(r)["kind"])
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}

	loc := s.location()
	opts := view.Options{
		Now:         s.now(),
		Location:    loc,
		RollingDays: parseIntDefault(r.URL.Query().Get("days"), s.cfg.RollingDays),
	}

	anchor := view.Today(opts)
	if raw := r.URL.Query().Get("date"); raw != "" {
		anchor, err = dates.ParseDate(raw, loc)
		if err != nil {
			writeError(w, http.StatusBadRequest, "date must be YYYY-MM-DD")
			return
		}
	}

	res, err := view.Render(kind, anchor, s.store.Events(), opts)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleSync(w http.ResponseWriter, r *http.Request) {
	if s.sync == nil {
		writeError(w, http.StatusServiceUnavailable, store.ErrRemoteUnavailable.Error())
		return
	}
	added, err := s.sync.SyncOnce(r.Context())
	if err != nil {
		s.writeRemoteError(w, "sync", err)
		return
	}
	writeJSON(w, http.StatusOK, countResponse{Added: added})
}

func (s *Server) handleCalendarFeed(w http.ResponseWriter, _ *http.Request) {
	body := ics.Export(s.store.Events(), "dockycal", s.now())
	w.Header().Set("Content-Type", "text/calendar; charset=utf-8")
	w.Header().Set("Content-Disposition", `inline; filename="calendar.ics"`)
	w.WriteHeader(http.StatusOK)
	_, _ = io.WriteString(w, body)
}

// handleImportICS accepts either a raw text/calendar body or a multipart
// form with a "file" field.
func (s *Server) handleImportICS(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)

	var src io.Reader = r.Body
	if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
		f, _, err := r.FormFile("file")
		if err != nil {
			writeError(w, http.StatusBadRequest, "missing file field")
			return
		}
		defer f.Close()
		src = f
	}

	body, err := io.ReadAll(src)
	if err != nil {
		writeError(w, http.StatusRequestEntityTooLarge, "upload too large")
		return
	}

	loc := s.location()
	parsed, err := ics.Parse(body, loc)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid calendar file")
		return
	}
	res := ics.ToEvents(parsed, ics.ExpandConfig{DisplayLocation: loc})
	added := s.store.MergeImport(res.Events)

	appLog.Info("ics import completed", "parsed", len(parsed), "added", added)
	writeJSON(w, http.StatusOK, countResponse{Added: added, Truncated: res.TruncatedEvents})
}

// writeRemoteError maps store and provider failures onto status codes.
// Session expiry is reported as 401 with a reconnect hint.
func (s *Server) writeRemoteError(w http.ResponseWriter, op string, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, store.ErrAlreadyLinked), errors.Is(err, syncer.ErrInProgress):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, store.ErrRemoteUnavailable):
		writeError(w, http.StatusServiceUnavailable, err.Error())
	case errors.Is(err, google.ErrSessionExpired):
		writeError(w, http.StatusUnauthorized, google.ErrSessionExpired.Error())
	default:
		appLog.Error("provider call failed", err, "op", op)
		writeError(w, http.StatusBadGateway, "calendar provider request failed")
	}
}
