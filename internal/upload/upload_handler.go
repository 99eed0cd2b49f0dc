package upload

import (
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/cyface-de/ingest/internal/uid"
)

// chunkSize bounds how much of a chunk's body is buffered in memory at
// once before being handed to the ObjectStore. Not a protocol constant,
// only a tunable for the write loop.
const chunkSize = 512 * 1024

// handleUpload implements spec.md §4.3: the resumable state machine core.
func (h *Handler) handleUpload(c *httpContext, sessionID string) error {
	if _, ok := PrincipalFromContext(c); !ok {
		return ErrIllegalSession
	}

	session, found, err := h.sessionStore.Get(c, sessionID)
	if err != nil {
		return ErrStorageFailure
	}
	if !found {
		return ErrSessionExpired
	}
	if !session.Bound {
		return ErrSessionExpired
	}

	if err := h.checkRequestIdentity(c, session); err != nil {
		return err
	}

	contentLength := c.req.Header.Get("content-length")
	bodySize, err := strconv.ParseInt(contentLength, 10, 64)
	if err != nil {
		return ErrUnparsable
	}

	contentRange := c.req.Header.Get("Content-Range")

	if bodySize == 0 {
		return h.statusProbe(c, session, contentRange)
	}

	from, to, total, err := parseContentRange(contentRange)
	if err != nil {
		return err
	}
	if to-from+1 != bodySize {
		return ErrUnparsable
	}
	if total > h.config.MeasurementPayloadLimit {
		return ErrPayloadTooLarge
	}

	return h.chunkUpload(c, session, from, to, total)
}

// checkRequestIdentity enforces that the optional x-device-id/x-measurement-id
// headers, when present, agree with the session they were bound to at
// pre-request time.
func (h *Handler) checkRequestIdentity(c *httpContext, session UploadSession) error {
	if deviceID := c.req.Header.Get("x-device-id"); deviceID != "" && deviceID != session.Metadata.DeviceID {
		return ErrIllegalSession
	}
	if measurementID := c.req.Header.Get("x-measurement-id"); measurementID != "" && measurementID != session.Metadata.MeasurementID {
		return ErrIllegalSession
	}
	return nil
}

// statusProbe implements spec.md §4.3.1.
func (h *Handler) statusProbe(c *httpContext, session UploadSession, contentRange string) error {
	if _, err := parseStatusRange(contentRange); err != nil {
		return err
	}

	alreadyStored, err := h.checkAlreadyStoredBySession(c, session)
	if err != nil {
		return err
	}
	if alreadyStored {
		h.sendResp(c, HTTPResponse{StatusCode: http.StatusOK})
		return nil
	}

	if session.UploadIdentifier == "" {
		h.sendResp(c, HTTPResponse{StatusCode: http.StatusPermanentRedirect})
		return nil
	}

	n, err := h.objectStore.BytesUploaded(c, session.UploadIdentifier)
	if err != nil {
		exists, existsErr := h.objectStore.Exists(c, session.UploadIdentifier)
		if existsErr == nil && !exists {
			session.UploadIdentifier = ""
			session.BytesReceived = 0
			if err := h.sessionStore.Update(c, session); err != nil {
				return ErrStorageFailure
			}
			h.sendResp(c, HTTPResponse{StatusCode: http.StatusPermanentRedirect})
			return nil
		}
		return ErrStorageFailure
	}

	h.sendResp(c, h.resumeResponse(n))
	return nil
}

// chunkUpload implements spec.md §4.3.2 and the streaming step.
func (h *Handler) chunkUpload(c *httpContext, session UploadSession, from, to, total int64) error {
	if session.UploadIdentifier == "" {
		if from != 0 {
			return ErrSessionExpired
		}
		session.UploadIdentifier = uid.New()
		session.DeclaredSize = total
		if err := h.sessionStore.Update(c, session); err != nil {
			return ErrStorageFailure
		}
		h.metrics.incUploadsCreated()
	} else {
		n, err := h.objectStore.BytesUploaded(c, session.UploadIdentifier)
		if err != nil {
			exists, existsErr := h.objectStore.Exists(c, session.UploadIdentifier)
			if existsErr == nil && !exists {
				session.UploadIdentifier = ""
				return h.chunkUpload(c, session, from, to, total)
			}
			return ErrStorageFailure
		}
		if from != n {
			h.sendResp(c, h.resumeResponse(n))
			return nil
		}
	}

	return h.streamChunk(c, session, to, total)
}

// streamChunk drains the request body in chunkSize pieces, appending each
// to the ObjectStore in order, then verifies the committed size and
// either keeps the session (intermediate chunk) or commits metadata
// (final chunk).
func (h *Handler) streamChunk(c *httpContext, session UploadSession, to, total int64) error {
	body := newBodyReader(c, h.config.MeasurementPayloadLimit)
	buf := make([]byte, chunkSize)

	for {
		n, readErr := body.Read(buf)
		if n > 0 {
			if _, err := h.objectStore.Write(c, session.UploadIdentifier, buf[:n]); err != nil {
				return ErrStorageFailure
			}
			h.metrics.incBytesReceived(uint64(n))
		}
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			return readErr
		}
	}

	if err := body.hasError(); err != nil {
		if isErrorCode(err, ErrPayloadTooLarge) {
			_ = h.objectStore.Delete(c, session.UploadIdentifier)
			_ = h.sessionStore.Remove(c, session.SessionID)
		}
		return err
	}

	committed, err := h.objectStore.BytesUploaded(c, session.UploadIdentifier)
	if err != nil {
		return ErrStorageFailure
	}
	if committed != to+1 {
		return ErrContentRangeNotMatchingFileSize
	}

	session.BytesReceived = committed
	session.LastTouched = time.Now()

	if to+1 < total {
		if err := h.sessionStore.Update(c, session); err != nil {
			return ErrStorageFailure
		}
		h.sendResp(c, h.resumeResponse(committed))
		return nil
	}

	return h.finishUpload(c, session, total)
}

// finishUpload commits the MetadataDoc for the final chunk and cleans up
// the session. Per spec.md §4.3.2 step 5, a failed metadata write leaves
// the blob intact for the reaper.
func (h *Handler) finishUpload(c *httpContext, session UploadSession, total int64) error {
	if finalizer, ok := h.objectStore.(Finalizer); ok {
		if err := finalizer.Finalize(c, session.UploadIdentifier, total); err != nil {
			return ErrStorageFailure
		}
	}

	principal, _ := PrincipalFromContext(c)

	doc := MetadataDoc{
		Metadata:   session.Metadata,
		UserID:     principal.UserID,
		UploadDate: time.Now(),
		Filename:   session.UploadIdentifier,
		FileLength: total,
	}

	if err := h.metadataStore.Store(c, doc); err != nil {
		return ErrStorageFailure
	}

	if err := h.sessionStore.Remove(c, session.SessionID); err != nil {
		c.log.Warn("SessionCleanupFailed", "sessionId", session.SessionID, "error", err)
	}

	h.metrics.incUploadsFinished()
	c.log.Info("UploadCompleted", "deviceId", session.Metadata.DeviceID, "measurementId", session.Metadata.MeasurementID, "bytes", total)

	h.sendResp(c, HTTPResponse{StatusCode: http.StatusCreated})
	return nil
}

func (h *Handler) checkAlreadyStoredBySession(c *httpContext, session UploadSession) (bool, error) {
	var (
		exists bool
		err    error
	)
	if session.Metadata.AttachmentID != "" {
		exists, err = h.metadataStore.ExistsAttachment(c, session.Metadata.DeviceID, session.Metadata.MeasurementID, session.Metadata.AttachmentID)
	} else {
		exists, err = h.metadataStore.Exists(c, session.Metadata.DeviceID, session.Metadata.MeasurementID)
	}
	if isErrorCode(err, ErrDuplicatesInDatabase) {
		return false, err
	}
	if err != nil {
		return false, ErrStorageFailure
	}
	return exists, nil
}

// resumeResponse builds the 308 Resume Incomplete response, including the
// Range header only when n > 0, per spec.md §4.3.1/§6.
func (h *Handler) resumeResponse(n int64) HTTPResponse {
	resp := HTTPResponse{StatusCode: http.StatusPermanentRedirect}
	if n > 0 {
		resp.Header = HTTPHeader{"Range": contentRangeHeader(n)}
	}
	return resp
}
