package main

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// serverConfig collects the environment-driven settings from spec.md §6.
// CLI/configuration loading is an external collaborator per spec.md §1;
// this is kept minimal so the repository has a runnable default, not a
// general-purpose configuration framework.
type serverConfig struct {
	HTTPHost     string
	HTTPPort     string
	BasePath     string

	MeasurementPayloadLimit int64
	UploadExpiration        time.Duration

	ObjectStoreType   string // "gcs" or "s3"
	ObjectStoreBucket string
	ObjectStorePrefix string
	S3Endpoint        string

	MongoData string
	MongoUser string

	RedisAddr string // empty selects the in-memory SessionStore
}

func loadConfig() (serverConfig, error) {
	cfg := serverConfig{
		HTTPHost:          getenv("HTTP_HOST", "0.0.0.0"),
		HTTPPort:          getenv("HTTP_PORT", "8080"),
		BasePath:          getenv("HTTP_ENDPOINT", "/api/v3/measurements"),
		ObjectStoreType:   getenv("OBJECT_STORE_TYPE", "gcs"),
		ObjectStoreBucket: os.Getenv("OBJECT_STORE_BUCKET"),
		ObjectStorePrefix: os.Getenv("OBJECT_STORE_PREFIX"),
		S3Endpoint:        os.Getenv("OBJECT_STORE_S3_ENDPOINT"),
		MongoData:         os.Getenv("MONGO_DATA"),
		MongoUser:         os.Getenv("MONGO_USER"),
		RedisAddr:         os.Getenv("SESSION_STORE_REDIS_ADDR"),
	}

	limit, err := parseInt64(getenv("MEASUREMENT_PAYLOAD_LIMIT", "104857600"))
	if err != nil {
		return serverConfig{}, fmt.Errorf("MEASUREMENT_PAYLOAD_LIMIT: %w", err)
	}
	cfg.MeasurementPayloadLimit = limit

	expirationMs, err := parseInt64(getenv("UPLOAD_EXPIRATION", fmt.Sprintf("%d", 7*24*time.Hour.Milliseconds())))
	if err != nil {
		return serverConfig{}, fmt.Errorf("UPLOAD_EXPIRATION: %w", err)
	}
	cfg.UploadExpiration = time.Duration(expirationMs) * time.Millisecond

	if cfg.ObjectStoreBucket == "" {
		return serverConfig{}, fmt.Errorf("OBJECT_STORE_BUCKET must be set")
	}
	if cfg.MongoData == "" {
		return serverConfig{}, fmt.Errorf("MONGO_DATA must be set")
	}

	return cfg, nil
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func parseInt64(s string) (int64, error) {
	return strconv.ParseInt(s, 10, 64)
}
