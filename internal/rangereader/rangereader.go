// Package rangereader implements the Range Reader (C10): serves a named
// blob under HTTP byte-range semantics without buffering the full file.
package rangereader

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/videoingest/videoingest/internal/apperror"
	"github.com/videoingest/videoingest/internal/logger"
	"github.com/videoingest/videoingest/internal/session"
	"github.com/videoingest/videoingest/internal/storage"
)

// Handler serves GET /stream/:filename.
type Handler struct {
	blobs storage.Storage
}

func NewHandler(blobs storage.Storage) *Handler {
	return &Handler{blobs: blobs}
}

// FilenameParam resolves the path parameter carrying the target filename;
// callers wire their router's param extraction into this.
type FilenameParam func(r *http.Request) string

// ServeHTTP parses any Range header, resolves S/E against the blob's
// length, and streams the requested span straight from the store.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request, filenameParam FilenameParam) {
	log := logger.FromContext(r.Context())

	filename := filenameParam(r)
	if filename == "" {
		apperror.WriteJSON(w, r, apperror.ErrInvalidInput)
		return
	}
	key := session.UploadKey(filename)

	info, err := h.blobs.Stat(r.Context(), key)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			apperror.WriteJSON(w, r, apperror.ErrNotFound)
			return
		}
		apperror.WriteJSON(w, r, apperror.Wrap(err, apperror.ErrTransient))
		return
	}

	rangeHeader := r.Header.Get("Range")
	if rangeHeader == "" {
		h.serveFull(w, r, key, info)
		return
	}

	start, end, ok := parseRange(rangeHeader, info.Size)
	if !ok {
		w.Header().Set("Content-Range", fmt.Sprintf("bytes */%d", info.Size))
		w.WriteHeader(http.StatusRequestedRangeNotSatisfiable)
		return
	}

	reader, err := h.blobs.Open(r.Context(), key, start, end-start+1)
	if err != nil {
		log.Error("rangereader: open failed", "key", key, "error", err)
		apperror.WriteJSON(w, r, apperror.Wrap(err, apperror.ErrTransient))
		return
	}
	defer reader.Close()

	w.Header().Set("Content-Type", "video/mp4")
	w.Header().Set("Accept-Ranges", "bytes")
	w.Header().Set("Content-Range", fmt.Sprintf("bytes %d-%d/%d", start, end, info.Size))
	w.Header().Set("Content-Length", strconv.FormatInt(end-start+1, 10))
	w.WriteHeader(http.StatusPartialContent)
	_, _ = io.Copy(w, reader)
}

func (h *Handler) serveFull(w http.ResponseWriter, r *http.Request, key string, info storage.ObjectInfo) {
	reader, err := h.blobs.Open(r.Context(), key, 0, -1)
	if err != nil {
		apperror.WriteJSON(w, r, apperror.Wrap(err, apperror.ErrTransient))
		return
	}
	defer reader.Close()

	w.Header().Set("Content-Type", "video/mp4")
	w.Header().Set("Accept-Ranges", "bytes")
	w.Header().Set("Content-Length", strconv.FormatInt(info.Size, 10))
	w.WriteHeader(http.StatusOK)
	_, _ = io.Copy(w, reader)
}

// parseRange parses a single "bytes=S-E" spec. S missing => 0, E missing =>
// size-1. Returns ok=false for anything malformed or genuinely
// out-of-range (start >= size, or start > end).
func parseRange(header string, size int64) (start, end int64, ok bool) {
	spec, found := strings.CutPrefix(header, "bytes=")
	if !found {
		return 0, 0, false
	}
	// Only a single range is supported; multi-range requests are rejected
	// as malformed rather than honoured partially.
	if strings.Contains(spec, ",") {
		return 0, 0, false
	}

	parts := strings.SplitN(spec, "-", 2)
	if len(parts) != 2 {
		return 0, 0, false
	}

	if parts[0] == "" {
		// Suffix range: "bytes=-N" means the last N bytes.
		n, err := strconv.ParseInt(parts[1], 10, 64)
		if err != nil || n <= 0 {
			return 0, 0, false
		}
		if n > size {
			n = size
		}
		return size - n, size - 1, true
	}

	s, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil || s < 0 {
		return 0, 0, false
	}

	e := size - 1
	if parts[1] != "" {
		parsed, err := strconv.ParseInt(parts[1], 10, 64)
		if err != nil {
			return 0, 0, false
		}
		e = parsed
	}
	if e > size-1 {
		e = size - 1
	}
	if s > e || s >= size {
		return 0, 0, false
	}

	return s, e, true
}
