package httpapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
)

const writeTimeout = 5 * time.Second

func accessLog(l *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			defer func() {
				l.Info("http request",
					zap.String("requestId", middleware.GetReqID(r.Context())),
					zap.String("httpMethod", r.Method),
					zap.String("uri", r.URL.Path),
					zap.String("remoteAddr", r.RemoteAddr),
					zap.Int("status", ww.Status()),
					zap.Int("bytes", ww.BytesWritten()),
					zap.Duration("lat", time.Since(start)),
				)
			}()
			next.ServeHTTP(ww, r)
		})
	}
}
