// Package s3blob implements upload.ObjectStore on top of AWS S3 (or an
// S3-compatible service), using a multipart upload per uploadId. This is
// the secondary ObjectStore backend; gcsblob is primary. S3 multipart
// parts must be at least MinPartSize bytes (except the last), so writes
// smaller than that are buffered in memory until enough has accumulated
// to flush a part.
package s3blob

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"

	"github.com/cyface-de/ingest/internal/upload"
)

// MinPartSize is the smallest part size S3 accepts for a non-final part
// of a multipart upload.
const MinPartSize = 5 * 1024 * 1024

// Store is an upload.ObjectStore backed by a single S3 bucket.
type Store struct {
	client *s3.Client
	bucket string
	prefix string

	mu    sync.Mutex
	state map[string]*multipartState
}

type multipartState struct {
	s3UploadID string
	buf        []byte
	partNumber int32
	parts      []types.CompletedPart
	totalSize  int64
}

// New constructs a Store against bucket using client.
func New(client *s3.Client, bucket, prefix string) *Store {
	return &Store{
		client: client,
		bucket: bucket,
		prefix: prefix,
		state:  make(map[string]*multipartState),
	}
}

func (s *Store) key(uploadID string) string {
	return s.prefix + uploadID
}

func (s *Store) Write(ctx context.Context, uploadID string, data []byte) (int64, error) {
	s.mu.Lock()
	st, ok := s.state[uploadID]
	s.mu.Unlock()

	if !ok {
		created, err := s.client.CreateMultipartUpload(ctx, &s3.CreateMultipartUploadInput{
			Bucket: aws.String(s.bucket),
			Key:    aws.String(s.key(uploadID)),
		})
		if err != nil {
			return 0, err
		}
		st = &multipartState{s3UploadID: aws.ToString(created.UploadId), partNumber: 1}

		s.mu.Lock()
		s.state[uploadID] = st
		s.mu.Unlock()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	st.buf = append(st.buf, data...)
	st.totalSize += int64(len(data))

	for len(st.buf) >= MinPartSize {
		part := st.buf[:MinPartSize]
		if err := s.uploadPart(ctx, uploadID, st, part); err != nil {
			return 0, err
		}
		st.buf = st.buf[MinPartSize:]
	}

	return int64(len(data)), nil
}

func (s *Store) uploadPart(ctx context.Context, uploadID string, st *multipartState, part []byte) error {
	out, err := s.client.UploadPart(ctx, &s3.UploadPartInput{
		Bucket:     aws.String(s.bucket),
		Key:        aws.String(s.key(uploadID)),
		UploadId:   aws.String(st.s3UploadID),
		PartNumber: aws.Int32(st.partNumber),
		Body:       bytes.NewReader(part),
	})
	if err != nil {
		return err
	}

	st.parts = append(st.parts, types.CompletedPart{
		ETag:       out.ETag,
		PartNumber: aws.Int32(st.partNumber),
	})
	st.partNumber++
	return nil
}

func (s *Store) BytesUploaded(ctx context.Context, uploadID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.state[uploadID]
	if !ok {
		return 0, fmt.Errorf("s3blob: unknown upload %q", uploadID)
	}
	return st.totalSize, nil
}

func (s *Store) Exists(ctx context.Context, uploadID string) (bool, error) {
	s.mu.Lock()
	_, ok := s.state[uploadID]
	s.mu.Unlock()
	if ok {
		return true, nil
	}

	_, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(uploadID)),
	})
	if err != nil {
		var notFound *types.NotFound
		if errors.As(err, &notFound) {
			return false, nil
		}
		var apiErr smithy.APIError
		if errors.As(err, &apiErr) && apiErr.ErrorCode() == "NotFound" {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (s *Store) Delete(ctx context.Context, uploadID string) error {
	s.mu.Lock()
	st, ok := s.state[uploadID]
	delete(s.state, uploadID)
	s.mu.Unlock()

	if ok {
		_, err := s.client.AbortMultipartUpload(ctx, &s3.AbortMultipartUploadInput{
			Bucket:   aws.String(s.bucket),
			Key:      aws.String(s.key(uploadID)),
			UploadId: aws.String(st.s3UploadID),
		})
		if err != nil {
			return err
		}
	}

	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(uploadID)),
	})
	var noSuchKey *types.NoSuchKey
	if err != nil && !errors.As(err, &noSuchKey) {
		return err
	}
	return nil
}

// Finalize flushes any buffered remainder as the last part and completes
// the multipart upload, materializing the final object. See
// upload.Finalizer.
func (s *Store) Finalize(ctx context.Context, uploadID string, totalSize int64) error {
	s.mu.Lock()
	st, ok := s.state[uploadID]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("s3blob: unknown upload %q", uploadID)
	}

	s.mu.Lock()
	if len(st.buf) > 0 {
		if err := s.uploadPart(ctx, uploadID, st, st.buf); err != nil {
			s.mu.Unlock()
			return err
		}
		st.buf = nil
	}
	parts := append([]types.CompletedPart(nil), st.parts...)
	s3UploadID := st.s3UploadID
	s.mu.Unlock()

	_, err := s.client.CompleteMultipartUpload(ctx, &s3.CompleteMultipartUploadInput{
		Bucket:   aws.String(s.bucket),
		Key:      aws.String(s.key(uploadID)),
		UploadId: aws.String(s3UploadID),
		MultipartUpload: &types.CompletedMultipartUpload{
			Parts: parts,
		},
	})
	if err != nil {
		return err
	}

	s.mu.Lock()
	delete(s.state, uploadID)
	s.mu.Unlock()

	return nil
}

// ListExpired implements upload.BlobLister by listing in-progress
// multipart uploads older than olderThan. Completed objects are never
// reaped here, since Finalize completes the multipart upload and S3 no
// longer lists a completed upload among the in-progress ones.
func (s *Store) ListExpired(ctx context.Context, olderThan time.Time) ([]upload.ExpiredBlob, error) {
	var expired []upload.ExpiredBlob
	var keyMarker, uploadIDMarker *string

	for {
		out, err := s.client.ListMultipartUploads(ctx, &s3.ListMultipartUploadsInput{
			Bucket:         aws.String(s.bucket),
			Prefix:         aws.String(s.prefix),
			KeyMarker:      keyMarker,
			UploadIdMarker: uploadIDMarker,
		})
		if err != nil {
			return nil, err
		}

		for _, u := range out.Uploads {
			if u.Initiated == nil || u.Initiated.After(olderThan) {
				continue
			}
			uploadID := strings.TrimPrefix(aws.ToString(u.Key), s.prefix)
			expired = append(expired, upload.ExpiredBlob{
				UploadIdentifier: uploadID,
				Age:              time.Since(*u.Initiated),
			})
		}

		if out.IsTruncated == nil || !*out.IsTruncated {
			break
		}
		keyMarker = out.NextKeyMarker
		uploadIDMarker = out.NextUploadIdMarker
	}

	return expired, nil
}
