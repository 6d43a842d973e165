package httpmiddleware

import (
	"net/http"
	"time"

	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"
)

// InjectLogger stores lg in the request context for zctx.From, tagged with
// the request id when one is present.
func InjectLogger(lg *zap.Logger) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			reqLg := lg
			if id := RequestIDFromContext(r.Context()); id != "" {
				reqLg = lg.With(zap.String("request_id", id))
			}
			next.ServeHTTP(w, r.WithContext(zctx.Base(r.Context(), reqLg)))
		})
	}
}

// LogRequests writes one line per request once it has been served.
func LogRequests(route RouteFinder) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			sw := &statusWriter{ResponseWriter: w}
			next.ServeHTTP(sw, r)

			status := sw.code()
			fields := []zap.Field{
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.String("route", route(r)),
				zap.Int("status", status),
				zap.Int("size", sw.size),
				zap.Duration("duration", time.Since(start)),
			}
			lg := zctx.From(r.Context())
			switch {
			case status >= http.StatusInternalServerError:
				lg.Error("Request", fields...)
			case status >= http.StatusBadRequest:
				lg.Warn("Request", fields...)
			default:
				lg.Info("Request", fields...)
			}
		})
	}
}
