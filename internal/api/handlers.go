package api

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/nerrad567/tsfeed/internal/collector"
	"github.com/nerrad567/tsfeed/internal/journal"
)

const (
	// healthCheckTimeout bounds each dependency probe made by /health.
	healthCheckTimeout = 2 * time.Second

	defaultSessionLimit = 5
	defaultEventLimit   = 10
	maxListLimit        = 100
)

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	Status  string            `json:"status"`
	Version string            `json:"version"`
	State   string            `json:"state"`
	Checks  map[string]string `json:"checks,omitempty"`
}

// StatusResponse is the body of GET /status.
type StatusResponse struct {
	Version   string             `json:"version"`
	Store     string             `json:"store"`
	Collector collector.Snapshot `json:"collector"`
	Journal   *JournalStatus     `json:"journal,omitempty"`
}

// JournalStatus is the journal section of GET /status.
type JournalStatus struct {
	Totals         journal.Totals    `json:"totals"`
	RecentSessions []journal.Session `json:"recent_sessions"`
	RecentEvents   []journal.Event   `json:"recent_events"`
	Error          string            `json:"error,omitempty"`
}

// handleHealth reports 200 when the journal database answers. Secondary
// sinks are listed but do not change the status code.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{
		Status:  "ok",
		Version: s.version,
		State:   s.collector.Snapshot().State,
		Checks:  make(map[string]string),
	}
	code := http.StatusOK

	if s.database != nil {
		if err := probe(r.Context(), s.database); err != nil {
			resp.Status = "unhealthy"
			resp.Checks["database"] = err.Error()
			code = http.StatusServiceUnavailable
		} else {
			resp.Checks["database"] = "ok"
		}
	}

	for name, sink := range s.sinks {
		if err := probe(r.Context(), sink); err != nil {
			resp.Checks[name] = err.Error()
		} else {
			resp.Checks[name] = "ok"
		}
	}

	writeJSON(w, code, resp)
}

// handleStatus returns the collector snapshot and journal history.
// The optional ?sessions=N and ?events=N queries select how many recent
// sessions and events to list.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	sessions, ok := listLimit(w, r, "sessions", defaultSessionLimit)
	if !ok {
		return
	}
	events, ok := listLimit(w, r, "events", defaultEventLimit)
	if !ok {
		return
	}

	resp := StatusResponse{
		Version:   s.version,
		Store:     s.store,
		Collector: s.collector.Snapshot(),
	}

	if s.history != nil {
		resp.Journal = s.journalStatus(r.Context(), sessions, events)
	}

	writeJSON(w, http.StatusOK, resp)
}

// journalStatus collects journal data. Journal errors are reported in the
// body rather than failing the request; the live snapshot is still useful.
func (s *Server) journalStatus(ctx context.Context, sessionLimit, eventLimit int) *JournalStatus {
	js := &JournalStatus{
		RecentSessions: []journal.Session{},
		RecentEvents:   []journal.Event{},
	}

	totals, err := s.history.Totals(ctx)
	if err != nil {
		s.logger.Warn("reading journal totals", "error", err)
		js.Error = err.Error()
		return js
	}
	js.Totals = totals

	if sessionLimit > 0 {
		sessions, err := s.history.RecentSessions(ctx, sessionLimit)
		if err != nil {
			s.logger.Warn("reading recent sessions", "error", err)
			js.Error = err.Error()
			return js
		}
		if sessions != nil {
			js.RecentSessions = sessions
		}
	}

	if eventLimit > 0 {
		events, err := s.history.RecentEvents(ctx, "", eventLimit)
		if err != nil {
			s.logger.Warn("reading recent events", "error", err)
			js.Error = err.Error()
			return js
		}
		if events != nil {
			js.RecentEvents = events
		}
	}
	return js
}

// listLimit parses an optional non-negative count query parameter, capped
// at maxListLimit. It writes a 400 and reports false on a bad value.
func listLimit(w http.ResponseWriter, r *http.Request, name string, def int) (int, bool) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return def, true
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		writeBadRequest(w, name+" must be a non-negative integer")
		return 0, false
	}
	return min(n, maxListLimit), true
}

func probe(ctx context.Context, hc HealthChecker) error {
	ctx, cancel := context.WithTimeout(ctx, healthCheckTimeout)
	defer cancel()
	return hc.HealthCheck(ctx)
}
