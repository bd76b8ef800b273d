package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/nerrad567/halirc/internal/journal"
)

// handleListJournal returns journal entries, most recent first.
//
// Query parameters:
//   - kind: event, action or request
//   - source: device, trigger or timer name
//   - since: RFC 3339 time
//   - limit, offset: paging (limit defaults to 50, max 500)
func (s *Server) handleListJournal(w http.ResponseWriter, r *http.Request) {
	if s.journal == nil {
		writeUnavailable(w, "journal disabled")
		return
	}

	q := r.URL.Query()
	filter := journal.Filter{
		Kind:   q.Get("kind"),
		Source: q.Get("source"),
	}
	if v := q.Get("since"); v != "" {
		since, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeBadRequest(w, "since must be an RFC 3339 time")
			return
		}
		filter.Since = since
	}
	for name, dst := range map[string]*int{"limit": &filter.Limit, "offset": &filter.Offset} {
		v := q.Get(name)
		if v == "" {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeBadRequest(w, name+" must be a non-negative integer")
			return
		}
		*dst = n
	}

	result, err := s.journal.List(r.Context(), filter)
	if err != nil {
		s.logger.Error("journal query failed", "error", err)
		writeInternalError(w, "failed to list journal")
		return
	}
	writeJSON(w, http.StatusOK, result)
}
