package upload

import (
	"context"
	"time"
)

// SupportedFormatVersion is the only transfer-format version the server
// accepts for Metadata.FormatVersion (spec.md §3).
const SupportedFormatVersion = 2

// Location carries a single GPS fix, ms-since-epoch timestamp included.
type Location struct {
	Timestamp int64
	Lat       float64
	Lon       float64
}

// Metadata is the immutable, validated description of one measurement (or
// attachment) that accompanies an upload. It is constructed exactly once,
// from the pre-request JSON body, is carried on the UploadSession, and is
// never mutated afterwards.
type Metadata struct {
	DeviceID      string
	MeasurementID string
	AttachmentID  string // optional; empty for a primary measurement
	DeviceType    string
	OSVersion     string
	AppVersion    string
	Modality      string
	Length        float64
	LocationCount int64
	StartLocation *Location
	EndLocation   *Location
	FormatVersion int
}

// IsAttachment reports whether this metadata describes an attachment
// rather than a primary measurement.
func (m Metadata) IsAttachment() bool {
	return m.AttachmentID != ""
}

// UploadSession is the server-side record binding one logical upload to a
// sequence of HTTP requests. The SessionStore exclusively owns these.
type UploadSession struct {
	SessionID string

	// Bound is set once a successful pre-request has validated and
	// attached a full Metadata to this session; Metadata is carried here
	// rather than just its id triple so finishUpload can persist every
	// field the validator accepted, not only the identifying ones.
	Bound    bool
	Metadata Metadata

	// UploadIdentifier names the blob pair in the ObjectStore. Absent
	// until the first chunk has been accepted.
	UploadIdentifier string
	BytesReceived    int64
	DeclaredSize     int64

	CreatedAt   time.Time
	LastTouched time.Time
}

// MetadataDoc is the persisted image of a completed upload: Metadata plus
// the bookkeeping fields the MetadataStore adds. Written once, never
// mutated.
type MetadataDoc struct {
	Metadata
	UserID     string
	UploadDate time.Time
	Filename   string // == UploadIdentifier
	FileLength int64  // total bytes of the committed blob
}

// ObjectStore writes append-style chunks of an upload into a blob backend.
// gcsblob simulates append on top of an immutable-blob store by writing
// each chunk to a sibling temp blob and server-side compositing
// (data, tmp) -> data (spec.md §4.4); s3blob appends through an S3
// multipart upload instead.
type ObjectStore interface {
	// Write appends bytes to uploadID's data blob, returning the number of
	// bytes written. Callers (the UploadHandler) serialize writes for a
	// given uploadID; concurrent writes to distinct ids are independent.
	Write(ctx context.Context, uploadID string, data []byte) (int64, error)

	// BytesUploaded returns the current size of uploadID's data blob. It
	// must reflect every previously acknowledged write.
	BytesUploaded(ctx context.Context, uploadID string) (int64, error)

	// Exists reports whether uploadID's data blob exists.
	Exists(ctx context.Context, uploadID string) (bool, error)

	// Delete removes both the tmp and data blobs for uploadID, if present.
	Delete(ctx context.Context, uploadID string) error
}

// MetadataStore stores one document per successfully completed upload and
// answers existence queries used for idempotency.
type MetadataStore interface {
	// Store inserts one completed-upload document.
	Store(ctx context.Context, doc MetadataDoc) error

	// Exists reports whether a completed, non-attachment document matches
	// (deviceID, measurementID). ErrDuplicatesInDatabase if more than one
	// document matches.
	Exists(ctx context.Context, deviceID, measurementID string) (bool, error)

	// ExistsAttachment is the attachment-scoped analogue of Exists.
	ExistsAttachment(ctx context.Context, deviceID, measurementID, attachmentID string) (bool, error)

	// CreateIndices ensures the uniqueness and query indices described in
	// spec.md §4.5. Idempotent.
	CreateIndices(ctx context.Context) error
}

// Finalizer is implemented by ObjectStore backends that need an explicit
// step to materialize the final blob once the last chunk has been
// written (e.g. completing an S3 multipart upload). Backends where every
// Write already commits directly into the final object, like gcsblob's
// compose-in-place, do not need to implement it.
type Finalizer interface {
	Finalize(ctx context.Context, uploadID string, totalSize int64) error
}

// SessionStore is the keyed, server-side map of upload-session state.
type SessionStore interface {
	Get(ctx context.Context, sessionID string) (UploadSession, bool, error)
	Create(ctx context.Context) (UploadSession, error)
	Update(ctx context.Context, session UploadSession) error
	Remove(ctx context.Context, sessionID string) error
}
