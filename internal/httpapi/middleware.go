// Package httpapi wires the ingest core's HTTP surface: session
// lifecycle endpoints plus the range-reader stream, sitting behind the
// same request-id/recovery/logging middleware chain the worker side
// shares conceptually with the teacher's web package.
package httpapi

import (
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/videoingest/videoingest/internal/intake"
	"github.com/videoingest/videoingest/internal/logger"
)

type responseWriter struct {
	http.ResponseWriter
	status int
	size   int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	rw.size += n
	return n, err
}

// RequestID stamps every request with an id, reusing one supplied by an
// upstream proxy if present.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = uuid.New().String()
		}
		w.Header().Set("X-Request-ID", requestID)
		ctx := logger.WithRequestID(r.Context(), requestID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequestLogger logs start/end of every request at debug/info.
func RequestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &responseWriter{ResponseWriter: w, status: http.StatusOK}

		log := logger.FromContext(r.Context())
		log.Debug("request started", "method", r.Method, "path", r.URL.Path, "remote_addr", r.RemoteAddr)

		next.ServeHTTP(wrapped, r)

		log.Info("request completed",
			"method", r.Method,
			"path", r.URL.Path,
			"status", wrapped.status,
			"duration_ms", time.Since(start).Milliseconds(),
			"size", wrapped.size,
		)
	})
}

// Recovery converts a panicking handler into a 500 instead of crashing the
// process.
func Recovery(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				logger.FromContext(r.Context()).Error("panic recovered", "error", rec, "method", r.Method, "path", r.URL.Path)
				http.Error(w, "internal server error", http.StatusInternalServerError)
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// SecurityHeaders sets the baseline response headers every endpoint here
// gets; there is no browser UI behind this API so the CSP is left
// minimal rather than allow-listing script/style CDNs.
func SecurityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		w.Header().Set("Content-Security-Policy", "default-src 'none'")
		if r.TLS != nil || r.Header.Get("X-Forwarded-Proto") == "https" {
			w.Header().Set("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		}
		next.ServeHTTP(w, r)
	})
}

// OwnerHeader is the header carrying the caller's opaque owner id.
// Authentication itself is out of scope; this middleware is the thin
// stand-in a real auth layer would sit behind.
const OwnerHeader = "X-Owner-Id"

// InjectOwner populates the owner context key intake.Handler and the
// session endpoints read, from an opaque header value.
func InjectOwner(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		owner := r.Header.Get(OwnerHeader)
		if owner != "" {
			ctx := intake.WithOwner(r.Context(), owner)
			r = r.WithContext(ctx)
		}
		next.ServeHTTP(w, r)
	})
}
