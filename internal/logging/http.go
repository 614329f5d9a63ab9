package logging

import (
	"bufio"
	"errors"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const headerRequestID = "X-Request-ID"

var errNotHijackable = errors.New("response writer cannot be hijacked")

// HTTPMiddleware gives every request an id and a scoped logger, then logs
// one line when the handler returns. Server errors log at error, client
// errors at warn. A websocket upgrade is logged when the handshake
// completes, not when the socket closes.
func HTTPMiddleware(logger zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			id := r.Header.Get(headerRequestID)
			if id == "" {
				id = uuid.New().String()
			}
			w.Header().Set(headerRequestID, id)

			reqLogger := logger.With().
				Str(FieldRequestID, id).
				Str(FieldMethod, r.Method).
				Str(FieldPath, r.URL.Path).
				Str(FieldClientIP, clientIP(r)).
				Logger()

			rw := &responseWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rw, r.WithContext(WithLogger(r.Context(), reqLogger)))

			var event *zerolog.Event
			switch {
			case rw.status >= http.StatusInternalServerError:
				event = reqLogger.Error()
			case rw.status >= http.StatusBadRequest:
				event = reqLogger.Warn()
			default:
				event = reqLogger.Info()
			}
			event.
				Int(FieldStatus, rw.status).
				Int64(FieldLatency, time.Since(start).Milliseconds()).
				Bool("upgraded", rw.upgraded).
				Msg("request completed")
		})
	}
}

// responseWriter records the status. It stays hijackable so /ws can
// upgrade through the middleware.
type responseWriter struct {
	http.ResponseWriter
	status   int
	upgraded bool
}

func (w *responseWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

func (w *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hj, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errNotHijackable
	}
	conn, rw, err := hj.Hijack()
	if err == nil {
		w.status = http.StatusSwitchingProtocols
		w.upgraded = true
	}
	return conn, rw, err
}

func (w *responseWriter) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// clientIP prefers the first X-Forwarded-For hop over the peer address.
func clientIP(r *http.Request) string {
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		first, _, _ := strings.Cut(forwarded, ",")
		if ip := strings.TrimSpace(first); ip != "" {
			return ip
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
