package middleware

import (
	"net/http"
	"time"

	chimw "github.com/go-chi/chi/v5/middleware"
	pkgmw "github.com/kasperwtrcolor/clawpay/pkg/middleware"
	"github.com/rs/zerolog/log"
)

// responseWriter wraps http.ResponseWriter to capture status code.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
	bytes      int
}

func newResponseWriter(w http.ResponseWriter) *responseWriter {
	if rw, ok := w.(*responseWriter); ok {
		return rw
	}
	return &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	rw.bytes += n
	return n, err
}

// Logger returns structured request logging middleware. The caller handle
// is logged when the gate authenticated the request.
func Logger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := newResponseWriter(w)

		// The gate runs further down the chain, so it reports the identity
		// back through this holder.
		holder := &identityHolder{}
		next.ServeHTTP(rw, r.WithContext(withIdentityHolder(r.Context(), holder)))

		event := log.Info()
		if rw.statusCode >= 400 {
			event = log.Warn()
		}
		if rw.statusCode >= 500 {
			event = log.Error()
		}
		if id := holder.identity; id != nil {
			event = event.Str("subject", id.Subject).Str("handle", id.Handle)
		}

		event.
			Str("request_id", chimw.GetReqID(r.Context())).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", rw.statusCode).
			Int("bytes", rw.bytes).
			Dur("duration", time.Since(start)).
			Str("remote", clientIP(r)).
			Str("user_agent", r.UserAgent()).
			Msg("request")
	})
}

// clientIP prefers the address resolved by ClientIP over RemoteAddr.
func clientIP(r *http.Request) string {
	if ip := pkgmw.GetClientIP(r.Context()); ip != "" {
		return ip
	}
	return r.RemoteAddr
}
