package gateway

import (
	"net/http"
	"net/http/httputil"
	"net/url"
	"strings"

	"github.com/newcloud/newcloud/pkg/observability"
)

// Proxy routes incoming requests: paths under /api/auth are rewritten to
// /auth and forwarded to the backend; all other paths are forwarded to the
// client application unchanged. The Authorization header passes through
// untouched in both directions.
type Proxy struct {
	backend *httputil.ReverseProxy
	client  *httputil.ReverseProxy
	logger  *observability.Logger
}

// NewProxy creates a gateway proxy for the given upstream URLs.
func NewProxy(backendURL, clientURL *url.URL, logger *observability.Logger) *Proxy {
	backend := httputil.NewSingleHostReverseProxy(backendURL)
	inner := backend.Director
	backend.Director = func(req *http.Request) {
		inner(req)
		req.URL.Path = rewriteAuthPath(req.URL.Path)
	}
	backend.ErrorHandler = upstreamErrorHandler(logger, "backend")

	client := httputil.NewSingleHostReverseProxy(clientURL)
	client.ErrorHandler = upstreamErrorHandler(logger, "client")

	return &Proxy{backend: backend, client: client, logger: logger}
}

// ServeHTTP dispatches to the matching upstream.
func (p *Proxy) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if isAuthPath(r.URL.Path) {
		p.backend.ServeHTTP(w, r)
		return
	}
	p.client.ServeHTTP(w, r)
}

func isAuthPath(path string) bool {
	return path == "/api/auth" || strings.HasPrefix(path, "/api/auth/")
}

// rewriteAuthPath strips the /api prefix so /api/auth/login reaches the
// backend as /auth/login.
func rewriteAuthPath(path string) string {
	idx := strings.Index(path, "/api/auth")
	if idx < 0 {
		return path
	}
	rewritten := path[:idx] + path[idx+len("/api"):]
	if rewritten == "" {
		return "/auth"
	}
	return rewritten
}

func upstreamErrorHandler(logger *observability.Logger, upstream string) func(http.ResponseWriter, *http.Request, error) {
	return func(w http.ResponseWriter, r *http.Request, err error) {
		logger.WithError(err).WithField("upstream", upstream).Error("Upstream request failed")
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadGateway)
		w.Write([]byte(`{"message":"Upstream unavailable"}`))
	}
}
