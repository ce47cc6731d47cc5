package httpapi

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/videoingest/videoingest/internal/apperror"
	"github.com/videoingest/videoingest/internal/intake"
	"github.com/videoingest/videoingest/internal/metadatastore"
	"github.com/videoingest/videoingest/internal/session"
)

// SessionHandlers serves the upload-session lifecycle endpoints: init,
// status, resume, cancel, and list. Chunk upload itself is
// intake.Handler; streaming is rangereader.Handler.
type SessionHandlers struct {
	sessions *session.Manager
}

func NewSessionHandlers(sessions *session.Manager) *SessionHandlers {
	return &SessionHandlers{sessions: sessions}
}

type initRequest struct {
	Filename  string         `json:"filename"`
	FileSize  int64          `json:"fileSize"`
	ChunkSize int64          `json:"chunkSize"`
	Metadata  map[string]any `json:"metadata"`
}

type initResponse struct {
	SessionID      string `json:"sessionId"`
	TotalChunks    int    `json:"totalChunks"`
	ChunkSize      int64  `json:"chunkSize"`
	UploadedChunks int    `json:"uploadedChunks"`
}

// Initialize serves POST /upload/initialize.
func (h *SessionHandlers) Initialize(w http.ResponseWriter, r *http.Request) {
	owner, ok := intake.OwnerFromContext(r.Context())
	if !ok {
		apperror.WriteJSON(w, r, apperror.ErrUnauthorised)
		return
	}

	var req initRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		apperror.WriteJSON(w, r, apperror.Wrap(err, apperror.ErrInvalidInput))
		return
	}

	sess, err := h.sessions.Init(r.Context(), owner, req.Filename, req.FileSize, req.ChunkSize, req.Metadata)
	if err != nil {
		apperror.WriteJSON(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, initResponse{
		SessionID:      sess.ID,
		TotalChunks:    sess.TotalChunks,
		ChunkSize:      sess.ChunkSize,
		UploadedChunks: sess.ReceivedCount(),
	})
}

type statusResponse struct {
	UploadedChunks int                        `json:"uploadedChunks"`
	TotalChunks    int                        `json:"totalChunks"`
	Status         metadatastore.SessionState `json:"status"`
	Progress       float64                    `json:"progress"`
}

// Status serves GET /upload/status/{sid}.
func (h *SessionHandlers) Status(w http.ResponseWriter, r *http.Request) {
	sid := r.PathValue("sid")

	sess, err := h.authorizedGet(r, sid)
	if err != nil {
		apperror.WriteJSON(w, r, err)
		return
	}

	progress := 0.0
	if sess.TotalChunks > 0 {
		progress = float64(sess.ReceivedCount()) / float64(sess.TotalChunks)
	}

	writeJSON(w, http.StatusOK, statusResponse{
		UploadedChunks: sess.ReceivedCount(),
		TotalChunks:    sess.TotalChunks,
		Status:         sess.State,
		Progress:       progress,
	})
}

type resumeResponse struct {
	MissingChunks []int                      `json:"missingChunks"`
	Status        metadatastore.SessionState `json:"status"`
}

// Resume serves POST /upload/resume/{sid}.
func (h *SessionHandlers) Resume(w http.ResponseWriter, r *http.Request) {
	sid := r.PathValue("sid")

	if _, err := h.authorizedGet(r, sid); err != nil {
		apperror.WriteJSON(w, r, err)
		return
	}

	result, err := h.sessions.Resume(r.Context(), sid)
	if err != nil {
		apperror.WriteJSON(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, resumeResponse{MissingChunks: result.MissingChunks, Status: result.State})
}

// Cancel serves DELETE /upload/cancel/{sid}.
func (h *SessionHandlers) Cancel(w http.ResponseWriter, r *http.Request) {
	sid := r.PathValue("sid")

	if _, err := h.authorizedGet(r, sid); err != nil {
		apperror.WriteJSON(w, r, err)
		return
	}

	if err := h.sessions.Delete(r.Context(), sid); err != nil {
		apperror.WriteJSON(w, r, err)
		return
	}

	w.WriteHeader(http.StatusOK)
}

type listResponse struct {
	Sessions []*metadatastore.Session `json:"sessions"`
	Page     int                      `json:"page"`
	Limit    int                      `json:"limit"`
}

// List serves GET /upload/sessions?page&limit.
func (h *SessionHandlers) List(w http.ResponseWriter, r *http.Request) {
	owner, ok := intake.OwnerFromContext(r.Context())
	if !ok {
		apperror.WriteJSON(w, r, apperror.ErrUnauthorised)
		return
	}

	page := queryInt(r, "page", 1)
	limit := queryInt(r, "limit", 20)
	if page < 1 {
		page = 1
	}
	if limit < 1 || limit > 200 {
		limit = 20
	}

	all, err := h.sessions.ListByOwner(r.Context(), owner)
	if err != nil {
		apperror.WriteJSON(w, r, err)
		return
	}

	start := (page - 1) * limit
	end := start + limit
	if start > len(all) {
		start = len(all)
	}
	if end > len(all) {
		end = len(all)
	}

	writeJSON(w, http.StatusOK, listResponse{Sessions: all[start:end], Page: page, Limit: limit})
}

// authorizedGet loads a session and enforces owner match, returning the
// apperror.ErrForbidden/NotFound spec.md §7 distinguishes.
func (h *SessionHandlers) authorizedGet(r *http.Request, sessionID string) (*metadatastore.Session, error) {
	owner, ok := intake.OwnerFromContext(r.Context())
	if !ok {
		return nil, apperror.ErrUnauthorised
	}

	sess, err := h.sessions.Get(r.Context(), sessionID)
	if err != nil {
		return nil, err
	}
	if sess.Owner != owner {
		return nil, apperror.ErrForbidden
	}
	return sess, nil
}

func queryInt(r *http.Request, key string, def int) int {
	v := r.URL.Query().Get(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
