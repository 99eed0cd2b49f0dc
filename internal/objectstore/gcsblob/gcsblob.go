// Package gcsblob implements upload.ObjectStore on top of Google Cloud
// Storage, which only supports immutable objects. Appends are emulated by
// writing each incoming piece to a sibling "tmp" object and server-side
// composing (data, tmp) -> data, matching spec.md §4.4.
package gcsblob

import (
	"bytes"
	"context"
	"errors"
	"io"
	"time"

	"cloud.google.com/go/storage"
	"google.golang.org/api/iterator"

	"github.com/cyface-de/ingest/internal/upload"
)

// Store is an upload.ObjectStore and upload.BlobLister backed by a single
// GCS bucket.
type Store struct {
	bucket *storage.BucketHandle
	prefix string
}

// New constructs a Store against bucketName using client. prefix, if
// non-empty, is prepended to every object key to namespace the bucket.
func New(client *storage.Client, bucketName, prefix string) *Store {
	return &Store{
		bucket: client.Bucket(bucketName),
		prefix: prefix,
	}
}

func (s *Store) dataKey(uploadID string) string {
	return s.prefix + uploadID + "/data"
}

func (s *Store) tmpKey(uploadID string) string {
	return s.prefix + uploadID + "/tmp"
}

// Write implements the append emulation from spec.md §4.4: write data to
// tmp, create data if absent, compose (data, tmp) -> data, best-effort
// delete tmp.
func (s *Store) Write(ctx context.Context, uploadID string, data []byte) (int64, error) {
	tmp := s.bucket.Object(s.tmpKey(uploadID))
	w := tmp.NewWriter(ctx)
	if _, err := io.Copy(w, bytes.NewReader(data)); err != nil {
		w.Close()
		return 0, err
	}
	if err := w.Close(); err != nil {
		return 0, err
	}

	dataObj := s.bucket.Object(s.dataKey(uploadID))
	if _, err := dataObj.Attrs(ctx); err != nil {
		if !errors.Is(err, storage.ErrObjectNotExist) {
			return 0, err
		}
		// Data blob does not exist yet: an empty write still lets
		// compose treat it as the first source below.
		empty := dataObj.NewWriter(ctx)
		if err := empty.Close(); err != nil {
			return 0, err
		}
	}

	composer := dataObj.ComposerFrom(dataObj, tmp)
	if _, err := composer.Run(ctx); err != nil {
		return 0, err
	}

	// Best-effort: the next write overwrites tmp regardless.
	_ = tmp.Delete(ctx)

	return int64(len(data)), nil
}

func (s *Store) BytesUploaded(ctx context.Context, uploadID string) (int64, error) {
	attrs, err := s.bucket.Object(s.dataKey(uploadID)).Attrs(ctx)
	if err != nil {
		return 0, err
	}
	return attrs.Size, nil
}

func (s *Store) Exists(ctx context.Context, uploadID string) (bool, error) {
	_, err := s.bucket.Object(s.dataKey(uploadID)).Attrs(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (s *Store) Delete(ctx context.Context, uploadID string) error {
	if err := s.bucket.Object(s.dataKey(uploadID)).Delete(ctx); err != nil && !errors.Is(err, storage.ErrObjectNotExist) {
		return err
	}
	if err := s.bucket.Object(s.tmpKey(uploadID)).Delete(ctx); err != nil && !errors.Is(err, storage.ErrObjectNotExist) {
		return err
	}
	return nil
}

// ListExpired implements upload.BlobLister by iterating every object
// under the store's prefix and grouping data/tmp pairs by uploadId.
func (s *Store) ListExpired(ctx context.Context, olderThan time.Time) ([]upload.ExpiredBlob, error) {
	it := s.bucket.Objects(ctx, &storage.Query{Prefix: s.prefix})

	newest := make(map[string]time.Time)
	for {
		attrs, err := it.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, err
		}

		uploadID := uploadIDFromKey(s.prefix, attrs.Name)
		if uploadID == "" {
			continue
		}
		if t, ok := newest[uploadID]; !ok || attrs.Updated.After(t) {
			newest[uploadID] = attrs.Updated
		}
	}

	var expired []upload.ExpiredBlob
	for id, lastModified := range newest {
		if lastModified.Before(olderThan) {
			expired = append(expired, upload.ExpiredBlob{
				UploadIdentifier: id,
				Age:              time.Since(lastModified),
			})
		}
	}
	return expired, nil
}

func uploadIDFromKey(prefix, key string) string {
	key = key[len(prefix):]
	for _, suffix := range []string{"/data", "/tmp"} {
		if len(key) > len(suffix) && key[len(key)-len(suffix):] == suffix {
			return key[:len(key)-len(suffix)]
		}
	}
	return ""
}
