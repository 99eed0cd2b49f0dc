package upload

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
)

// principalContextKey is unexported so that only WithPrincipal/PrincipalFromContext
// can read or write the authenticated principal carried on a request context.
// Authentication itself (JWT verification, role/group checks) happens upstream
// of this package; the upload handlers only ever consume the stable user id.
type principalContextKey struct{}

// Principal is the authenticated caller of a request, as established by an
// external auth middleware.
type Principal struct {
	UserID string
}

// WithPrincipal returns a copy of ctx carrying p. Call this from the auth
// middleware that sits in front of Handler.
func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalContextKey{}, p)
}

// PrincipalFromContext retrieves the Principal set by WithPrincipal.
func PrincipalFromContext(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalContextKey{}).(Principal)
	return p, ok
}

// Handler implements the two-phase resumable upload protocol: a pre-request
// handler mounted at BasePath, and an upload handler mounted at
// BasePath + "(<sessionId>)/".
type Handler struct {
	config Config

	objectStore   ObjectStore
	metadataStore MetadataStore
	sessionStore  SessionStore

	basePath string
	logger   *slog.Logger
	metrics  Metrics
}

// NewHandler validates config and builds a Handler ready to be mounted
// behind a router.
func NewHandler(config Config) (*Handler, error) {
	if err := config.validate(); err != nil {
		return nil, err
	}

	return &Handler{
		config:        config,
		objectStore:   config.ObjectStore,
		metadataStore: config.MetadataStore,
		sessionStore:  config.SessionStore,
		basePath:      config.BasePath,
		logger:        config.Logger,
		metrics:       newMetrics(),
	}, nil
}

// Metrics returns the handler's counters for an external collector to read.
func (h *Handler) Metrics() Metrics {
	return h.metrics
}

// PreRequest implements 4.2: POST <prefix>/measurements.
func (h *Handler) PreRequest(w http.ResponseWriter, r *http.Request) {
	h.metrics.incRequestsTotal(r.Method)
	c := h.newContext(w, r)
	c.log.Info("RequestIncoming")

	if err := h.handlePreRequest(c); err != nil {
		h.sendError(c, err)
	}
}

// Upload implements 4.3: PUT <prefix>/measurements/(<sessionId>)/.
//
// sessionID is the value already extracted from the URL by the caller's
// router (the parenthesized segment, parentheses stripped).
func (h *Handler) Upload(w http.ResponseWriter, r *http.Request, sessionID string) {
	h.metrics.incRequestsTotal(r.Method)
	c := h.newContext(w, r)
	c.log.Info("RequestIncoming", "sessionId", sessionID)

	if err := h.handleUpload(c, sessionID); err != nil {
		h.sendError(c, err)
	}
}

// sendResp writes resp exactly once and logs the outcome.
func (h *Handler) sendResp(c *httpContext, resp HTTPResponse) {
	resp.writeTo(c.res)
	c.log.Info("ResponseOutgoing", "status", resp.StatusCode)
}

// locationURL composes the bit-exact Location URL from spec.md §4.2 step 5:
// strip a trailing "?uploadType=resumable" query, substitute the scheme with
// X-Forwarded-Proto when present, append "/(<sessionId>)/".
func (h *Handler) locationURL(r *http.Request, sessionID string) string {
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	if proto := r.Header.Get("X-Forwarded-Proto"); proto != "" {
		scheme = proto
	}

	// r.URL.Path never includes the query string, so any
	// "?uploadType=resumable" suffix the client sent is already gone here.
	base := scheme + "://" + r.Host + r.URL.Path
	base = strings.TrimSuffix(base, "/")

	return base + "/(" + sessionID + ")/"
}
