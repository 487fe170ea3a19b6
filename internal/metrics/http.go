package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// Collect records request counts and latency. Scrapes of /metrics are skipped.
func (p *Prom) Collect(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()

		defer func() {
			if r.URL.Path == "/metrics" {
				return
			}
			p.HTTPRequests.WithLabelValues(strconv.Itoa(ww.Status()), routePattern(r), r.Method).Inc()
			p.HTTPResponseTime.Observe(time.Since(start).Seconds())
		}()

		next.ServeHTTP(ww, r)
	})
}

// routePattern keeps label cardinality bounded by preferring chi's matched pattern.
func routePattern(r *http.Request) string {
	if rc := chi.RouteContext(r.Context()); rc != nil {
		if p := rc.RoutePattern(); p != "" {
			return p
		}
	}
	return r.URL.Path
}
