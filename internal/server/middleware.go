package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/ternarybob/arbor"
)

type contextKey string

// correlationIDKey carries the request's correlation id through the
// handler chain; echoed back in the X-Correlation-ID response header.
const correlationIDKey contextKey = "correlation_id"

// middleware is one layer of the request-processing chain.
type middleware func(http.Handler) http.Handler

// withMiddleware stacks the chain around the router. Order matters:
// requestID runs first so the log line and any recovery report carry the
// id; recovery sits closest to the handlers so the log layer still
// records the 500 it produces.
func (s *Server) withMiddleware(handler http.Handler) http.Handler {
	chain := []middleware{
		s.requestID,
		s.requestLog,
		s.cors,
		s.recoverPanics,
	}
	for i := len(chain) - 1; i >= 0; i-- {
		handler = chain[i](handler)
	}
	return handler
}

// requestID adopts the caller's X-Request-ID / X-Correlation-ID when
// present, otherwise mints one.
func (s *Server) requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		if id == "" {
			id = r.Header.Get("X-Correlation-ID")
		}
		if id == "" {
			id = uuid.New().String()
		}

		w.Header().Set("X-Correlation-ID", id)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), correlationIDKey, id)))
	})
}

// requestLog emits one structured line per request. 5xx logs at error,
// 4xx at warn, everything else at trace so routine traffic stays out of
// the way at normal log levels.
func (s *Server) requestLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(rec, r)

		var event arbor.ILogEvent
		switch {
		case rec.status >= 500:
			event = s.logger.Error()
		case rec.status >= 400:
			event = s.logger.Warn()
		default:
			event = s.logger.Trace()
		}

		id, _ := r.Context().Value(correlationIDKey).(string)
		event.
			Str("correlation_id", id).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", rec.status).
			Int64("duration_ms", time.Since(start).Milliseconds()).
			Int("bytes", rec.written).
			Str("remote", r.RemoteAddr)
		if r.URL.RawQuery != "" {
			event.Str("query", r.URL.RawQuery)
		}
		event.Msg("HTTP request")
	})
}

// cors answers preflights and stamps the permissive headers the browse
// frontend needs during local development. Lock the origin down per
// deployment.
func (s *Server) cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// recoverPanics converts a handler panic into a 500 instead of killing
// the connection, logging the panic value under the request's id.
func (s *Server) recoverPanics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if v := recover(); v != nil {
				id, _ := r.Context().Value(correlationIDKey).(string)
				s.logger.Error().
					Str("correlation_id", id).
					Str("panic", fmt.Sprintf("%v", v)).
					Str("path", r.URL.Path).
					Msg("handler panic recovered")
				http.Error(w, "Internal server error", http.StatusInternalServerError)
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// statusRecorder captures the status code and byte count a handler wrote,
// for the request log.
type statusRecorder struct {
	http.ResponseWriter
	status  int
	written int
}

func (rec *statusRecorder) WriteHeader(code int) {
	rec.status = code
	rec.ResponseWriter.WriteHeader(code)
}

func (rec *statusRecorder) Write(b []byte) (int, error) {
	n, err := rec.ResponseWriter.Write(b)
	rec.written += n
	return n, err
}
