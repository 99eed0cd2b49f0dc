// Package mongostore implements upload.MetadataStore against MongoDB, the
// backend spec.md §6 names directly via its mongo.data/mongo.user
// configuration keys.
package mongostore

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/cyface-de/ingest/internal/upload"
)

// location is the BSON shape of a single GPS fix.
type location struct {
	Timestamp int64   `bson:"timestamp"`
	Lat       float64 `bson:"lat"`
	Lon       float64 `bson:"lon"`
}

func toLocation(l *upload.Location) *location {
	if l == nil {
		return nil
	}
	return &location{Timestamp: l.Timestamp, Lat: l.Lat, Lon: l.Lon}
}

// document is the BSON shape stored per completed upload. It carries every
// field Metadata validated plus userId, not just the identifying triple.
// All fields sit at the top level of the document; there is no nested
// metadata sub-object.
type document struct {
	DeviceID      string    `bson:"deviceId"`
	MeasurementID string    `bson:"measurementId"`
	AttachmentID  string    `bson:"attachmentId,omitempty"`
	DeviceType    string    `bson:"deviceType"`
	OSVersion     string    `bson:"osVersion"`
	AppVersion    string    `bson:"appVersion"`
	Modality      string    `bson:"modality"`
	Length        float64   `bson:"length"`
	LocationCount int64     `bson:"locationCount"`
	StartLocation *location `bson:"startLocation,omitempty"`
	EndLocation   *location `bson:"endLocation,omitempty"`
	FormatVersion int       `bson:"formatVersion"`

	UserID     string    `bson:"userId"`
	UploadDate time.Time `bson:"uploadDate"`
	Filename   string    `bson:"filename"`
	FileLength int64     `bson:"fileLength"`
}

func toDocument(doc upload.MetadataDoc) document {
	return document{
		DeviceID:      doc.DeviceID,
		MeasurementID: doc.MeasurementID,
		AttachmentID:  doc.AttachmentID,
		DeviceType:    doc.DeviceType,
		OSVersion:     doc.OSVersion,
		AppVersion:    doc.AppVersion,
		Modality:      doc.Modality,
		Length:        doc.Length,
		LocationCount: doc.LocationCount,
		StartLocation: toLocation(doc.StartLocation),
		EndLocation:   toLocation(doc.EndLocation),
		FormatVersion: doc.FormatVersion,
		UserID:        doc.UserID,
		UploadDate:    doc.UploadDate,
		Filename:      doc.Filename,
		FileLength:    doc.FileLength,
	}
}

// Store is an upload.MetadataStore backed by a single MongoDB collection.
type Store struct {
	collection *mongo.Collection
}

// New returns a Store writing into the given collection.
func New(collection *mongo.Collection) *Store {
	return &Store{collection: collection}
}

func (s *Store) Store(ctx context.Context, doc upload.MetadataDoc) error {
	_, err := s.collection.InsertOne(ctx, toDocument(doc))
	if mongo.IsDuplicateKeyError(err) {
		return upload.ErrAlreadyStored
	}
	return err
}

func (s *Store) Exists(ctx context.Context, deviceID, measurementID string) (bool, error) {
	filter := bson.M{
		"deviceId":      deviceID,
		"measurementId": measurementID,
		"attachmentId":  bson.M{"$exists": false},
	}
	return s.exists(ctx, filter)
}

func (s *Store) ExistsAttachment(ctx context.Context, deviceID, measurementID, attachmentID string) (bool, error) {
	filter := bson.M{
		"deviceId":      deviceID,
		"measurementId": measurementID,
		"attachmentId":  attachmentID,
	}
	return s.exists(ctx, filter)
}

func (s *Store) exists(ctx context.Context, filter bson.M) (bool, error) {
	count, err := s.collection.CountDocuments(ctx, filter, options.Count().SetLimit(2))
	if err != nil {
		return false, err
	}
	switch count {
	case 0:
		return false, nil
	case 1:
		return true, nil
	default:
		return false, upload.ErrDuplicatesInDatabase
	}
}

// CreateIndices ensures the uniqueness indices spec.md §4.5 requires.
// Idempotent: CreateOne/CreateMany on an existing index is a no-op.
func (s *Store) CreateIndices(ctx context.Context) error {
	_, err := s.collection.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys: bson.D{{Key: "deviceId", Value: 1}, {Key: "measurementId", Value: 1}},
			Options: options.Index().
				SetUnique(true).
				SetPartialFilterExpression(bson.M{"attachmentId": bson.M{"$exists": false}}),
		},
		{
			Keys: bson.D{
				{Key: "deviceId", Value: 1},
				{Key: "measurementId", Value: 1},
				{Key: "attachmentId", Value: 1},
			},
			Options: options.Index().
				SetUnique(true).
				SetPartialFilterExpression(bson.M{"attachmentId": bson.M{"$exists": true}}),
		},
	})
	if errors.Is(err, mongo.ErrEmptySlice) {
		return nil
	}
	return err
}
