package metrics

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
)

// UnmatchedRoute labels requests no route matched, so scanners probing
// random paths collapse into one series.
const UnmatchedRoute = "unmatched"

// Surface groups a route pattern into the API area it belongs to.
func Surface(route string) string {
	switch {
	case route == "/healthz", route == "/readyz", route == "/metrics":
		return "health"
	case strings.HasPrefix(route, "/v1/ingest"):
		return "ingest"
	case route == "/v1/rebuild":
		return "rebuild"
	case strings.HasPrefix(route, "/v1/stats/archive/"):
		return "archive"
	case strings.HasPrefix(route, "/v1/stats"):
		return "stats"
	case strings.HasPrefix(route, "/v1/applied"):
		return "applied"
	case route == "/v1/runs":
		return "runs"
	default:
		return UnmatchedRoute
	}
}

// Middleware records request count and latency per route pattern. Requests
// that match no route are recorded under UnmatchedRoute rather than their
// raw path.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(ww, r)

		route := UnmatchedRoute
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = strings.TrimSuffix(rctx.RoutePattern(), "/")
			if route == "" {
				route = "/"
			}
		}
		ObserveHTTPRequest(r.Method, route, ww.status, time.Since(start))
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (rw *statusRecorder) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}
