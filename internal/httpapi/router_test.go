package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/videoingest/videoingest/internal/chunkindex"
	"github.com/videoingest/videoingest/internal/intake"
	"github.com/videoingest/videoingest/internal/metadatastore"
	"github.com/videoingest/videoingest/internal/rangereader"
	"github.com/videoingest/videoingest/internal/session"
	"github.com/videoingest/videoingest/internal/storage"
	"github.com/videoingest/videoingest/internal/workbus"
)

func newTestRouter(t *testing.T) http.Handler {
	t.Helper()
	blobs := storage.NewMemoryStorage()
	sessions := session.NewManager(metadatastore.NewMemoryStore(), chunkindex.NewMemoryIndex(), blobs, 24*time.Hour, 5*1024*1024*1024)
	bus := workbus.NewMemoryBus()
	intakeHandler := intake.NewHandler(sessions, blobs, bus)
	streamHandler := rangereader.NewHandler(blobs)
	noopLimiter := func(next http.Handler) http.Handler { return next }
	return NewRouter(sessions, intakeHandler, streamHandler, noopLimiter)
}

func withOwner(req *http.Request, owner string) *http.Request {
	req.Header.Set(OwnerHeader, owner)
	return req
}

func TestInitializeCreatesSession(t *testing.T) {
	router := newTestRouter(t)

	body, _ := json.Marshal(initRequest{Filename: "movie.mp4", FileSize: 20, ChunkSize: 10})
	req := withOwner(httptest.NewRequest(http.MethodPost, "/upload/initialize", bytes.NewReader(body)), "owner-1")
	rec := httptest.NewRecorder()

	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusCreated, rec.Code)
	var resp initResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.NotEmpty(t, resp.SessionID)
	assert.Equal(t, 2, resp.TotalChunks)
}

func TestInitializeWithoutOwnerIsUnauthorised(t *testing.T) {
	router := newTestRouter(t)

	body, _ := json.Marshal(initRequest{Filename: "movie.mp4", FileSize: 20, ChunkSize: 10})
	req := httptest.NewRequest(http.MethodPost, "/upload/initialize", bytes.NewReader(body))
	rec := httptest.NewRecorder()

	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestStatusReportsProgress(t *testing.T) {
	router := newTestRouter(t)

	body, _ := json.Marshal(initRequest{Filename: "movie.mp4", FileSize: 20, ChunkSize: 10})
	initReq := withOwner(httptest.NewRequest(http.MethodPost, "/upload/initialize", bytes.NewReader(body)), "owner-1")
	initRec := httptest.NewRecorder()
	router.ServeHTTP(initRec, initReq)
	var created initResponse
	require.NoError(t, json.Unmarshal(initRec.Body.Bytes(), &created))

	statusReq := withOwner(httptest.NewRequest(http.MethodGet, "/upload/status/"+created.SessionID, nil), "owner-1")
	statusRec := httptest.NewRecorder()
	router.ServeHTTP(statusRec, statusReq)

	require.Equal(t, http.StatusOK, statusRec.Code)
	var resp statusResponse
	require.NoError(t, json.Unmarshal(statusRec.Body.Bytes(), &resp))
	assert.Equal(t, 2, resp.TotalChunks)
	assert.Equal(t, 0, resp.UploadedChunks)
	assert.Equal(t, metadatastore.SessionPending, resp.Status)
}

func TestStatusRejectsOwnerMismatch(t *testing.T) {
	router := newTestRouter(t)

	body, _ := json.Marshal(initRequest{Filename: "movie.mp4", FileSize: 20, ChunkSize: 10})
	initReq := withOwner(httptest.NewRequest(http.MethodPost, "/upload/initialize", bytes.NewReader(body)), "owner-1")
	initRec := httptest.NewRecorder()
	router.ServeHTTP(initRec, initReq)
	var created initResponse
	require.NoError(t, json.Unmarshal(initRec.Body.Bytes(), &created))

	statusReq := withOwner(httptest.NewRequest(http.MethodGet, "/upload/status/"+created.SessionID, nil), "owner-2")
	statusRec := httptest.NewRecorder()
	router.ServeHTTP(statusRec, statusReq)

	assert.Equal(t, http.StatusForbidden, statusRec.Code)
}

func TestCancelDeletesSession(t *testing.T) {
	router := newTestRouter(t)

	body, _ := json.Marshal(initRequest{Filename: "movie.mp4", FileSize: 20, ChunkSize: 10})
	initReq := withOwner(httptest.NewRequest(http.MethodPost, "/upload/initialize", bytes.NewReader(body)), "owner-1")
	initRec := httptest.NewRecorder()
	router.ServeHTTP(initRec, initReq)
	var created initResponse
	require.NoError(t, json.Unmarshal(initRec.Body.Bytes(), &created))

	cancelReq := withOwner(httptest.NewRequest(http.MethodDelete, "/upload/cancel/"+created.SessionID, nil), "owner-1")
	cancelRec := httptest.NewRecorder()
	router.ServeHTTP(cancelRec, cancelReq)
	require.Equal(t, http.StatusOK, cancelRec.Code)

	statusReq := withOwner(httptest.NewRequest(http.MethodGet, "/upload/status/"+created.SessionID, nil), "owner-1")
	statusRec := httptest.NewRecorder()
	router.ServeHTTP(statusRec, statusReq)
	assert.Equal(t, http.StatusNotFound, statusRec.Code)
}

func TestListSessionsPaginates(t *testing.T) {
	router := newTestRouter(t)

	for i := 0; i < 3; i++ {
		body, _ := json.Marshal(initRequest{Filename: "movie.mp4", FileSize: 20, ChunkSize: 10})
		req := withOwner(httptest.NewRequest(http.MethodPost, "/upload/initialize", bytes.NewReader(body)), "owner-1")
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		require.Equal(t, http.StatusCreated, rec.Code)
	}

	listReq := withOwner(httptest.NewRequest(http.MethodGet, "/upload/sessions?page=1&limit=2", nil), "owner-1")
	listRec := httptest.NewRecorder()
	router.ServeHTTP(listRec, listReq)

	require.Equal(t, http.StatusOK, listRec.Code)
	var resp listResponse
	require.NoError(t, json.Unmarshal(listRec.Body.Bytes(), &resp))
	assert.Len(t, resp.Sessions, 2)
	assert.Equal(t, 1, resp.Page)
	assert.Equal(t, 2, resp.Limit)
}

func TestStreamServesUploadedBlob(t *testing.T) {
	blobs := storage.NewMemoryStorage()
	sessions := session.NewManager(metadatastore.NewMemoryStore(), chunkindex.NewMemoryIndex(), blobs, 24*time.Hour, 5*1024*1024*1024)
	bus := workbus.NewMemoryBus()
	intakeHandler := intake.NewHandler(sessions, blobs, bus)
	streamHandler := rangereader.NewHandler(blobs)
	noopLimiter := func(next http.Handler) http.Handler { return next }
	router := NewRouter(sessions, intakeHandler, streamHandler, noopLimiter)

	require.NoError(t, blobs.Upload(context.Background(), session.UploadKey("movie.mp4"), bytes.NewReader([]byte("hello world")), "video/mp4", 11))

	streamReq := httptest.NewRequest(http.MethodGet, "/stream/movie.mp4", nil)
	streamReq.Header.Set("Range", "bytes=0-4")
	rec := httptest.NewRecorder()

	router.ServeHTTP(rec, streamReq)

	assert.Equal(t, http.StatusPartialContent, rec.Code)
	assert.Equal(t, "hello", rec.Body.String())
}
