package upload

import "net/http"

// Error is an error with the intent of being sent directly to the client:
// it carries a machine-readable code, a message and the pre-rendered
// HTTP response that sendError will write.
type Error struct {
	ErrorCode    string
	Message      string
	HTTPResponse HTTPResponse
}

func (e Error) Error() string {
	return e.ErrorCode + ": " + e.Message
}

// Is implements the errors.Is contract by comparing ErrorCode. Error embeds
// a map (via HTTPResponse.Header), so it is not a comparable type and a bare
// == against it panics at runtime; defining Is lets errors.Is and
// assert.ErrorIs-based assertions compare by code instead.
func (e Error) Is(target error) bool {
	t, ok := target.(Error)
	return ok && e.ErrorCode == t.ErrorCode
}

// isErrorCode reports whether err is an Error carrying target's code.
func isErrorCode(err error, target Error) bool {
	e, ok := err.(Error)
	return ok && e.ErrorCode == target.ErrorCode
}

// NewError builds an Error whose HTTPResponse carries the given status
// code and a plain-text body of "<code>: <message>".
func NewError(errCode string, message string, statusCode int) Error {
	return Error{
		ErrorCode: errCode,
		Message:   message,
		HTTPResponse: HTTPResponse{
			StatusCode: statusCode,
			Body:       errCode + ": " + message + "\n",
			Header: HTTPHeader{
				"Content-Type": "text/plain; charset=utf-8",
			},
		},
	}
}

// The error kinds from spec.md §7. Each maps to exactly one status code;
// the handler never picks a status code directly, it returns one of these.
var (
	ErrUnparsable      = NewError("ERR_UNPARSABLE", "malformed header or body", http.StatusUnprocessableEntity)
	ErrInvalidMetadata = NewError("ERR_INVALID_METADATA", "metadata failed validation", http.StatusUnprocessableEntity)
	ErrPayloadTooLarge = NewError("ERR_PAYLOAD_TOO_LARGE", "declared or observed size exceeds the configured limit", http.StatusUnprocessableEntity)
	ErrIllegalSession  = NewError("ERR_ILLEGAL_SESSION", "session state is inconsistent with the request", http.StatusUnprocessableEntity)

	// ErrSkipUpload is a server-side policy refusal (too few locations, wrong
	// format version). The client is expected not to retry this upload.
	ErrSkipUpload = NewError("ERR_SKIP_UPLOAD", "server refuses this upload", http.StatusPreconditionFailed)

	// ErrAlreadyStored is returned from the pre-request when a completed
	// measurement with the same key already exists.
	ErrAlreadyStored = NewError("ERR_ALREADY_STORED", "measurement already stored", http.StatusConflict)

	// ErrSessionExpired means the session id in the URL is unknown to the
	// SessionStore; the client must restart via a new pre-request.
	ErrSessionExpired = NewError("ERR_SESSION_EXPIRED", "upload session not found or expired", http.StatusNotFound)

	// ErrContentRangeNotMatchingFileSize indicates the object store lost
	// bytes we believed were committed - an operator-visible storage bug.
	ErrContentRangeNotMatchingFileSize = NewError("ERR_CONTENT_RANGE_MISMATCH", "stored blob size does not match the acknowledged content range", http.StatusInternalServerError)

	// ErrDuplicatesInDatabase means the metadata store's uniqueness index has
	// been violated and returned more than one matching document. Fatal,
	// requires operator intervention.
	ErrDuplicatesInDatabase = NewError("ERR_DUPLICATES_IN_DATABASE", "more than one metadata document matches a key that must be unique", http.StatusInternalServerError)

	// ErrStorageFailure wraps a transient I/O error from the object store or
	// metadata store. The blob and session are left intact for resume.
	ErrStorageFailure = NewError("ERR_STORAGE_FAILURE", "storage backend error", http.StatusInternalServerError)
)

// sendError writes err to the client, translating any error that isn't
// one of ours into a generic 500 so that nothing ever leaks an
// unstructured panic message as a 200.
func (h *Handler) sendError(c *httpContext, err error) {
	detailed, ok := err.(Error)
	if !ok {
		c.log.Error("InternalServerError", "error", err.Error())
		detailed = NewError("ERR_INTERNAL", err.Error(), http.StatusInternalServerError)
	}

	h.sendResp(c, detailed.HTTPResponse)
	h.metrics.incErrorsTotal(detailed.ErrorCode)
}
