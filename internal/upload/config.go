package upload

import (
	"errors"
	"log/slog"
	"os"
	"time"
)

// Config configures a Handler. The three stores and a positive
// MeasurementPayloadLimit are required; everything else has a workable
// default.
type Config struct {
	ObjectStore   ObjectStore
	MetadataStore MetadataStore
	SessionStore  SessionStore

	// BasePath is the URL path uploads are mounted under, e.g.
	// "/api/v3/measurements". A trailing slash is added if absent.
	BasePath string

	// MeasurementPayloadLimit bounds both the declared total size on a
	// pre-request and any single chunk's content-length.
	MeasurementPayloadLimit int64

	// UploadExpiration is the reaper threshold: a blob whose last-modified
	// time is older than this is considered abandoned.
	UploadExpiration time.Duration

	// Logger receives structured events. Defaults to slog's stdout handler.
	Logger *slog.Logger
}

func (c *Config) validate() error {
	if c.ObjectStore == nil {
		return errors.New("upload: Config.ObjectStore must not be nil")
	}
	if c.MetadataStore == nil {
		return errors.New("upload: Config.MetadataStore must not be nil")
	}
	if c.SessionStore == nil {
		return errors.New("upload: Config.SessionStore must not be nil")
	}

	if c.BasePath == "" {
		c.BasePath = "/"
	}
	if c.BasePath[len(c.BasePath)-1] != '/' {
		c.BasePath += "/"
	}

	if c.MeasurementPayloadLimit <= 0 {
		return errors.New("upload: Config.MeasurementPayloadLimit must be positive")
	}

	if c.UploadExpiration <= 0 {
		c.UploadExpiration = 7 * 24 * time.Hour
	}

	if c.Logger == nil {
		c.Logger = slog.New(slog.NewTextHandler(os.Stdout, nil))
	}

	return nil
}
