package httpapi

import (
	"net/http"

	"github.com/videoingest/videoingest/internal/intake"
	"github.com/videoingest/videoingest/internal/rangereader"
	"github.com/videoingest/videoingest/internal/session"
)

// NewRouter wires the ingest core's HTTP surface (spec.md §6): session
// lifecycle, chunk intake, and range-read streaming, behind the
// owner-extraction middleware every handler here depends on.
func NewRouter(sessions *session.Manager, intakeHandler *intake.Handler, streamHandler *rangereader.Handler, chunkLimiter func(http.Handler) http.Handler) http.Handler {
	sessionHandlers := NewSessionHandlers(sessions)

	mux := http.NewServeMux()

	mux.HandleFunc("POST /upload/initialize", sessionHandlers.Initialize)
	mux.Handle("POST /upload/chunk", chunkLimiter(intakeHandler))
	mux.HandleFunc("GET /upload/status/{sid}", sessionHandlers.Status)
	mux.HandleFunc("POST /upload/resume/{sid}", sessionHandlers.Resume)
	mux.HandleFunc("DELETE /upload/cancel/{sid}", sessionHandlers.Cancel)
	mux.HandleFunc("GET /upload/sessions", sessionHandlers.List)
	mux.HandleFunc("GET /stream/{filename}", func(w http.ResponseWriter, r *http.Request) {
		streamHandler.ServeHTTP(w, r, func(r *http.Request) string { return r.PathValue("filename") })
	})

	return InjectOwner(mux)
}
