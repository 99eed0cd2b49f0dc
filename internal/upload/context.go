package upload

import (
	"context"
	"log/slog"
	"net/http"
)

// httpContext wraps the request's context.Context with the request/response
// pair and a logger that accumulates fields as the request is understood.
// Handlers thread *httpContext through instead of the bare *http.Request so
// that a single value carries everything downstream calls need.
type httpContext struct {
	context.Context

	res http.ResponseWriter
	req *http.Request

	log *slog.Logger
}

func (h *Handler) newContext(w http.ResponseWriter, r *http.Request) *httpContext {
	return &httpContext{
		Context: r.Context(),
		res:     w,
		req:     r,
		log:     h.logger.With("method", r.Method, "path", r.URL.Path),
	}
}
