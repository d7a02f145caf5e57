package api

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/gray-logic-identity/internal/audit"
)

// auditLogRequest is the body of POST /user/{uuid}/log. An empty level list
// selects every level.
type auditLogRequest struct {
	Levels []string `json:"levels"`
}

// handleAuditLog returns the most recent audit entries of a user, filtered
// by level.
func (s *Server) handleAuditLog(w http.ResponseWriter, r *http.Request) {
	var req auditLogRequest
	if r.ContentLength != 0 && !decodeBody(w, r, &req) {
		return
	}

	levels := audit.ParseLevels(strings.Join(req.Levels, ","))
	entries, err := s.auditLog.Log(r.Context(), chi.URLParam(r, "uuid"), levels)
	if err != nil {
		s.logger.Error("failed to query audit log", "error", err)
		writeInternalError(w, "failed to query audit log")
		return
	}
	if entries == nil {
		entries = []audit.Entry{}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"entries": entries,
		"count":   len(entries),
	})
}

// handleAuditTail returns audit entries created after the ts query parameter
// (unix milliseconds), oldest first.
func (s *Server) handleAuditTail(w http.ResponseWriter, r *http.Request) {
	var since time.Time
	if ts := r.URL.Query().Get("ts"); ts != "" {
		ms, err := strconv.ParseInt(ts, 10, 64)
		if err != nil || ms < 0 {
			writeBadRequest(w, "ts must be a unix timestamp in milliseconds")
			return
		}
		since = time.UnixMilli(ms)
	}

	entries, err := s.auditLog.Tail(r.Context(), chi.URLParam(r, "uuid"), since)
	if err != nil {
		s.logger.Error("failed to tail audit log", "error", err)
		writeInternalError(w, "failed to tail audit log")
		return
	}
	if entries == nil {
		entries = []audit.Entry{}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"entries": entries,
		"count":   len(entries),
	})
}
