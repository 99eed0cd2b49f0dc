package upload

import (
	"net/http"
	"strings"
)

// Mount registers h's two endpoints on mux under h.basePath, using the
// stdlib ServeMux's pattern matching. Routing itself is outside this
// package's protocol surface (spec.md §1); Mount exists only so the
// repository has a runnable default wiring in cmd/server.
func (h *Handler) Mount(mux *http.ServeMux) {
	prefix := strings.TrimSuffix(h.basePath, "/")

	mux.HandleFunc("POST "+prefix, h.PreRequest)
	mux.HandleFunc("PUT "+prefix+"/{segment}/", func(w http.ResponseWriter, r *http.Request) {
		segment := r.PathValue("segment")
		sessionID, ok := parseSessionSegment(segment)
		if !ok {
			h.sendError(h.newContext(w, r), ErrUnparsable)
			return
		}
		h.Upload(w, r, sessionID)
	})
}

// parseSessionSegment extracts <sessionId> from the literal "(<sessionId>)"
// path segment spec.md §6 mandates.
func parseSessionSegment(segment string) (string, bool) {
	if !strings.HasPrefix(segment, "(") || !strings.HasSuffix(segment, ")") {
		return "", false
	}
	id := segment[1 : len(segment)-1]
	if id == "" {
		return "", false
	}
	return id, true
}
