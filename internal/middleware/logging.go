package middleware

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/NicolaePaulGeambazu/ClueMe-sub004/internal/timing"
)

// slowRequest flags replies slow enough that a polling sync client would
// treat them as an outage.
const slowRequest = 500 * time.Millisecond

// responseRecorder captures the status code and body size of a reply.
type responseRecorder struct {
	http.ResponseWriter
	status int
	bytes  int
}

func (r *responseRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *responseRecorder) Write(p []byte) (int, error) {
	n, err := r.ResponseWriter.Write(p)
	r.bytes += n
	return n, err
}

// Unwrap exposes the underlying writer so http.ResponseController can reach
// the hijacker during the websocket upgrade.
func (r *responseRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}

// RequestLogger returns middleware that emits one line per request with
// method, path, status, duration, reply size, and remote IP. The level
// follows the status class; a healthy reply slower than slowRequest is
// promoted to a warning.
func RequestLogger(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			rec := &responseRecorder{ResponseWriter: w, status: http.StatusOK}
			elapsed := timing.Elapsed(func() { next.ServeHTTP(rec, r) })

			attrs := []slog.Attr{
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.Int("status", rec.status),
				slog.Duration("duration", elapsed),
				slog.Int("bytes", rec.bytes),
				slog.String("remote", RealIP(r)),
			}

			level := slog.LevelInfo
			switch {
			case rec.status >= 500:
				level = slog.LevelError
			case rec.status >= 400 || elapsed > slowRequest:
				level = slog.LevelWarn
			}
			logger.LogAttrs(r.Context(), level, "request", attrs...)
		})
	}
}
