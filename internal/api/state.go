package api

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
)

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 200
	maxQueryParamLen    = 128
)

var errInvalidLimit = errors.New("limit must be a positive integer")

// handleGetState returns the full device state snapshot.
func (s *Server) handleGetState(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"available": s.session.Available(),
		"state":     s.session.Snapshot().View(),
	})
}

// handleGetStateField returns one top-level section of the snapshot
// document: power, routing, outputs, inputs, device, and so on.
func (s *Server) handleGetStateField(w http.ResponseWriter, r *http.Request) {
	field := chi.URLParam(r, "field")
	if field == "" || len(field) > maxQueryParamLen {
		writeBadRequest(w, "invalid field name")
		return
	}

	view := s.session.Snapshot().View()
	value, ok := view[field]
	if !ok {
		writeNotFound(w, "unknown state field")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"field": field,
		"value": value,
	})
}

// handleGetHistory returns recorded state changes, optionally filtered
// to a single field key (for example "routing.3").
func (s *Server) handleGetHistory(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		writeError(w, http.StatusServiceUnavailable, ErrCodeUnavailable, "state history unavailable")
		return
	}

	field := r.URL.Query().Get("field")
	if len(field) > maxQueryParamLen {
		writeBadRequest(w, "invalid field name")
		return
	}

	limit, err := parseHistoryLimit(r.URL.Query().Get("limit"))
	if err != nil {
		writeBadRequest(w, err.Error())
		return
	}

	entries, err := s.history.GetHistory(r.Context(), field, limit)
	if err != nil {
		s.logger.Error("history query failed", "error", err)
		writeInternalError(w, "failed to load state history")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"history": entries,
		"count":   len(entries),
	})
}

// handleSystemStatus reports the connection state and queue counters.
func (s *Server) handleSystemStatus(w http.ResponseWriter, _ *http.Request) {
	stats := s.session.Stats()
	writeJSON(w, http.StatusOK, map[string]any{
		"session": map[string]any{
			"state":        stats.State,
			"reconnects":   stats.Reconnects,
			"connected_at": formatConnectedAt(stats.ConnectedAt),
		},
		"queue": map[string]any{
			"submitted": stats.Queue.Submitted,
			"confirmed": stats.Queue.Confirmed,
			"failed":    stats.Queue.Failed,
			"retries":   stats.Queue.Retries,
			"in_flight": stats.Queue.InFlight,
			"depth":     stats.Queue.Depth,
		},
	})
}

// handleMetrics reports process counters for scrapers and dashboards:
// uptime, session/queue health, and WebSocket client count. Exposed
// without auth so a monitoring stack needs no credential.
func (s *Server) handleMetrics(w http.ResponseWriter, _ *http.Request) {
	stats := s.session.Stats()
	clients := 0
	if s.hub != nil {
		clients = s.hub.ClientCount()
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"uptime_s":           int(time.Since(s.started).Seconds()),
		"session_state":      stats.State,
		"reconnects":         stats.Reconnects,
		"commands_submitted": stats.Queue.Submitted,
		"commands_confirmed": stats.Queue.Confirmed,
		"commands_failed":    stats.Queue.Failed,
		"command_retries":    stats.Queue.Retries,
		"queue_depth":        stats.Queue.Depth,
		"websocket_clients":  clients,
	})
}

// formatConnectedAt renders the connection timestamp, or nil when the
// session has never connected.
func formatConnectedAt(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t.UTC().Format(time.RFC3339)
}

// parseHistoryLimit parses and clamps the limit query parameter.
func parseHistoryLimit(raw string) (int, error) {
	if raw == "" {
		return defaultHistoryLimit, nil
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit < 1 {
		return 0, errInvalidLimit
	}
	if limit > maxHistoryLimit {
		limit = maxHistoryLimit
	}
	return limit, nil
}
