package handlers

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/url"
	"path"
	"strings"

	"github.com/upb/registry-console/services"
	"github.com/upb/registry-console/services/registry"
	"github.com/upb/registry-console/utils"
	"go.uber.org/zap"
)

// SessionExpiredRedirect is where browser navigations land once the session
// could not be refreshed
const SessionExpiredRedirect = "/login?reason=session_expired"

// MaxProxyBodyBytes caps a request body forwarded to the registry API
const MaxProxyBodyBytes = 4 << 20

// Forwarder sends a console request to the registry API
type Forwarder interface {
	Forward(ctx context.Context, method, path string, query url.Values, body io.Reader, header http.Header) (*registry.Response, error)
}

// RegistryHandler proxies guarded console views to the registry API
type RegistryHandler struct {
	registry Forwarder
	prefix   string
	logger   *zap.Logger
}

// NewRegistryHandler creates a new RegistryHandler. prefix is stripped from the
// request path before forwarding.
func NewRegistryHandler(registry Forwarder, prefix string, logger *zap.Logger) *RegistryHandler {
	return &RegistryHandler{
		registry: registry,
		prefix:   prefix,
		logger:   logger,
	}
}

// HandleProxy forwards the request and copies the registry response back
func (h *RegistryHandler) HandleProxy(w http.ResponseWriter, r *http.Request) {
	h.serve(w, r, "")
}

// Scoped returns a proxy handler that only forwards paths at or below view.
// Requests that would leave view after dot segments are resolved get a 400.
func (h *RegistryHandler) Scoped(view string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		h.serve(w, r, view)
	}
}

func (h *RegistryHandler) serve(w http.ResponseWriter, r *http.Request, view string) {
	target, ok := forwardPath(r.URL.Path, h.prefix, view)
	if !ok {
		h.logger.Warn("rejected proxy path",
			zap.String("path", r.URL.Path),
			zap.String("view", view))
		_ = utils.WriteBadRequest(w, "invalid path", nil)
		return
	}

	var body io.Reader
	if r.Body != nil && r.Body != http.NoBody {
		body = http.MaxBytesReader(w, r.Body, MaxProxyBodyBytes)
	}

	resp, err := h.registry.Forward(r.Context(), r.Method, target, r.URL.Query(), body, r.Header)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			_ = utils.WriteError(w, http.StatusRequestEntityTooLarge, "request body too large", nil)
			return
		}
		if services.IsSessionExpiredError(err) && wantsHTML(r) {
			h.logger.Info("session expired, redirecting to login", zap.String("path", r.URL.Path))
			http.Redirect(w, r, SessionExpiredRedirect, http.StatusFound)
			return
		}
		HandleServiceError(w, err, h.logger)
		return
	}

	if ct := resp.Header.Get("Content-Type"); ct != "" {
		w.Header().Set("Content-Type", ct)
	}
	w.WriteHeader(resp.StatusCode)
	if _, err := w.Write(resp.Body); err != nil {
		h.logger.Error("failed to write registry response", zap.Error(err))
	}
}

// forwardPath strips prefix from the decoded request path. Dot segments are
// refused outright, and with a non-empty view the result must sit at or below it.
func forwardPath(requestPath, prefix, view string) (string, bool) {
	p := strings.TrimPrefix(requestPath, prefix)
	if p == "" {
		p = "/"
	}
	if hasDotSegment(p) {
		return "", false
	}
	p = path.Clean("/" + p)
	if view != "" && p != view && !strings.HasPrefix(p, view+"/") {
		return "", false
	}
	return p, true
}

func hasDotSegment(p string) bool {
	for _, seg := range strings.FieldsFunc(p, func(r rune) bool { return r == '/' || r == '\\' }) {
		if seg == "." || seg == ".." {
			return true
		}
	}
	return false
}

// wantsHTML reports whether the request is a browser navigation
func wantsHTML(r *http.Request) bool {
	return strings.Contains(r.Header.Get("Accept"), "text/html")
}
