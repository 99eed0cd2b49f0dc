package upload

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// createBoundSession runs a pre-request and returns the resulting session id.
func createBoundSession(t *testing.T, h *Handler) string {
	t.Helper()

	rec := doPreRequest(t, h, validPreRequestBody(), "12")
	require.Equal(t, http.StatusOK, rec.Code)

	location := rec.Header().Get("Location")
	return location[strings.LastIndex(location, "/(")+2 : len(location)-2]
}

func doChunk(t *testing.T, h *Handler, sessionID string, body []byte, contentRange string) *httptest.ResponseRecorder {
	t.Helper()

	req := httptest.NewRequest(http.MethodPut, "/api/v3/measurements/("+sessionID+")/", strings.NewReader(string(body)))
	req.Header.Set("Content-Length", strconv.Itoa(len(body)))
	if contentRange != "" {
		req.Header.Set("Content-Range", contentRange)
	}
	req = req.WithContext(WithPrincipal(context.Background(), Principal{UserID: "user-1"}))

	rec := httptest.NewRecorder()
	h.Upload(rec, req, sessionID)
	return rec
}

func TestUpload_SingleChunkHappyPath(t *testing.T) {
	h, objectStore, metadataStore, sessionStore := newTestHandler()
	sessionID := createBoundSession(t, h)

	payload := []byte("hello world!")
	rec := doChunk(t, h, sessionID, payload, fmt.Sprintf("bytes 0-%d/%d", len(payload)-1, len(payload)))

	require.Equal(t, http.StatusCreated, rec.Code)

	n, err := objectStore.BytesUploaded(context.Background(), h.mustUploadIdentifier(t, metadataStore))
	require.NoError(t, err)
	assert.Equal(t, int64(len(payload)), n)

	_, found, _ := sessionStore.Get(context.Background(), sessionID)
	assert.False(t, found, "session must be removed once the upload is committed")
}

// mustUploadIdentifier returns the Filename recorded for the only stored
// document, a convenience for tests that need the blob id after commit.
func (h *Handler) mustUploadIdentifier(t *testing.T, metadataStore *fakeMetadataStore) string {
	t.Helper()
	require.Len(t, metadataStore.docs, 1)
	return metadataStore.docs[0].Filename
}

func TestUpload_TwoChunkResume(t *testing.T) {
	h, objectStore, metadataStore, _ := newTestHandler()
	sessionID := createBoundSession(t, h)

	total := 20
	first := []byte("0123456789")
	rec := doChunk(t, h, sessionID, first, fmt.Sprintf("bytes 0-9/%d", total))
	require.Equal(t, http.StatusPermanentRedirect, rec.Code)
	assert.Equal(t, "bytes=0-9", rec.Header().Get("Range"))

	second := []byte("abcdefghij")
	rec = doChunk(t, h, sessionID, second, fmt.Sprintf("bytes 10-19/%d", total))
	require.Equal(t, http.StatusCreated, rec.Code)

	require.Len(t, metadataStore.docs, 1)
	n, err := objectStore.BytesUploaded(context.Background(), metadataStore.docs[0].Filename)
	require.NoError(t, err)
	assert.Equal(t, int64(total), n)
}

func TestUpload_StatusProbeAfterFirstChunk(t *testing.T) {
	h, _, _, _ := newTestHandler()
	sessionID := createBoundSession(t, h)

	total := 20
	first := []byte("0123456789")
	rec := doChunk(t, h, sessionID, first, fmt.Sprintf("bytes 0-9/%d", total))
	require.Equal(t, http.StatusPermanentRedirect, rec.Code)

	probe := httptest.NewRequest(http.MethodPut, "/api/v3/measurements/("+sessionID+")/", nil)
	probe.Header.Set("Content-Length", "0")
	probe.Header.Set("Content-Range", fmt.Sprintf("bytes */%d", total))
	probe = probe.WithContext(WithPrincipal(context.Background(), Principal{UserID: "user-1"}))

	rec = httptest.NewRecorder()
	h.Upload(rec, probe, sessionID)

	assert.Equal(t, http.StatusPermanentRedirect, rec.Code)
	assert.Equal(t, "bytes=0-9", rec.Header().Get("Range"))
}

func TestUpload_OutOfOrderChunkReturnsResumePoint(t *testing.T) {
	h, _, _, _ := newTestHandler()
	sessionID := createBoundSession(t, h)

	total := 20
	first := []byte("0123456789")
	rec := doChunk(t, h, sessionID, first, fmt.Sprintf("bytes 0-9/%d", total))
	require.Equal(t, http.StatusPermanentRedirect, rec.Code)

	// Client mistakenly resends a chunk starting at byte 15 instead of 10.
	skipped := []byte("fghij")
	rec = doChunk(t, h, sessionID, skipped, fmt.Sprintf("bytes 15-19/%d", total))

	assert.Equal(t, http.StatusPermanentRedirect, rec.Code)
	assert.Equal(t, "bytes=0-9", rec.Header().Get("Range"), "server must report the true resume point, not accept the skip")
}

func TestUpload_UnknownSessionIsExpired(t *testing.T) {
	h, _, _, _ := newTestHandler()
	rec := doChunk(t, h, "does-not-exist", []byte("x"), "bytes 0-0/1")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestUpload_UnboundSessionIsExpired(t *testing.T) {
	h, _, _, sessionStore := newTestHandler()
	session, err := sessionStore.Create(context.Background())
	require.NoError(t, err)

	rec := doChunk(t, h, session.SessionID, []byte("x"), "bytes 0-0/1")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

// TestUpload_MetadataRoundTrips covers spec.md §8: every field the
// validator accepted for a pre-request must appear unchanged on the
// MetadataDoc persisted when the upload completes.
func TestUpload_MetadataRoundTrips(t *testing.T) {
	h, _, metadataStore, _ := newTestHandler()

	body := validPreRequestBody()
	body["startLocLat"] = 49.0069
	body["startLocLon"] = 8.4037
	body["startLocTS"] = 1700000000000
	body["endLocLat"] = 49.0123
	body["endLocLon"] = 8.4099
	body["endLocTS"] = 1700000600000

	rec := doPreRequest(t, h, body, "12")
	require.Equal(t, http.StatusOK, rec.Code)
	location := rec.Header().Get("Location")
	sessionID := location[strings.LastIndex(location, "/(")+2 : len(location)-2]

	payload := []byte("hello world!")
	chunkRec := doChunk(t, h, sessionID, payload, fmt.Sprintf("bytes 0-%d/%d", len(payload)-1, len(payload)))
	require.Equal(t, http.StatusCreated, chunkRec.Code)

	require.Len(t, metadataStore.docs, 1)
	doc := metadataStore.docs[0]

	assert.Equal(t, body["deviceId"], doc.DeviceID)
	assert.Equal(t, body["measurementId"], doc.MeasurementID)
	assert.Equal(t, "", doc.AttachmentID)
	assert.Equal(t, body["deviceType"], doc.DeviceType)
	assert.Equal(t, body["osVersion"], doc.OSVersion)
	assert.Equal(t, body["appVersion"], doc.AppVersion)
	assert.Equal(t, body["modality"], doc.Modality)
	assert.Equal(t, body["length"], doc.Length)
	assert.Equal(t, int64(body["locationCount"].(int)), doc.LocationCount)
	assert.Equal(t, body["formatVersion"], doc.FormatVersion)

	require.NotNil(t, doc.StartLocation)
	assert.Equal(t, body["startLocLat"], doc.StartLocation.Lat)
	assert.Equal(t, body["startLocLon"], doc.StartLocation.Lon)
	assert.Equal(t, int64(body["startLocTS"].(int)), doc.StartLocation.Timestamp)

	require.NotNil(t, doc.EndLocation)
	assert.Equal(t, body["endLocLat"], doc.EndLocation.Lat)
	assert.Equal(t, body["endLocLon"], doc.EndLocation.Lon)
	assert.Equal(t, int64(body["endLocTS"].(int)), doc.EndLocation.Timestamp)

	assert.Equal(t, "user-1", doc.UserID)
	assert.NotEmpty(t, doc.Filename)
	assert.Equal(t, int64(len(payload)), doc.FileLength)
}

func TestUpload_MismatchedContentLengthIsRejected(t *testing.T) {
	h, _, _, _ := newTestHandler()
	sessionID := createBoundSession(t, h)

	req := httptest.NewRequest(http.MethodPut, "/api/v3/measurements/("+sessionID+")/", strings.NewReader("short"))
	req.Header.Set("Content-Length", strconv.Itoa(len("short")))
	req.Header.Set("Content-Range", "bytes 0-99/100") // declares 100 bytes, body only has 5
	req = req.WithContext(WithPrincipal(context.Background(), Principal{UserID: "user-1"}))

	rec := httptest.NewRecorder()
	h.Upload(rec, req, sessionID)

	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}
