package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"cloud.google.com/go/storage"
	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/cyface-de/ingest/internal/objectstore/gcsblob"
	"github.com/cyface-de/ingest/internal/objectstore/s3blob"
	"github.com/cyface-de/ingest/internal/metadatastore/mongostore"
	"github.com/cyface-de/ingest/internal/sessionstore/memstore"
	"github.com/cyface-de/ingest/internal/sessionstore/redisstore"
	"github.com/cyface-de/ingest/internal/upload"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

const shutdownTimeout = 10 * time.Second

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))

	if err := run(logger); err != nil {
		logger.Error("StartupFailed", "error", err.Error())
		os.Exit(1)
	}
}

func run(logger *slog.Logger) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	objectStore, lister, err := newObjectStore(ctx, cfg)
	if err != nil {
		return fmt.Errorf("object store: %w", err)
	}

	metadataStore, err := newMetadataStore(ctx, cfg)
	if err != nil {
		return fmt.Errorf("metadata store: %w", err)
	}

	sessionStore := newSessionStore(cfg)

	h, err := upload.NewHandler(upload.Config{
		ObjectStore:             objectStore,
		MetadataStore:           metadataStore,
		SessionStore:            sessionStore,
		BasePath:                cfg.BasePath,
		MeasurementPayloadLimit: cfg.MeasurementPayloadLimit,
		UploadExpiration:        cfg.UploadExpiration,
		Logger:                  logger,
	})
	if err != nil {
		return fmt.Errorf("handler: %w", err)
	}

	mux := http.NewServeMux()
	h.Mount(mux)

	server := &http.Server{
		Addr:    cfg.HTTPHost + ":" + cfg.HTTPPort,
		Handler: mux,
	}

	if lister != nil {
		reaper := upload.NewReaper(h, lister, 0)
		go reaper.Run(ctx)
	}

	shutdownComplete := setupSignalHandler(logger, server, cancel)

	logger.Info("ServerStarting", "addr", server.Addr, "basePath", cfg.BasePath)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}

	<-shutdownComplete
	return nil
}

func newObjectStore(ctx context.Context, cfg serverConfig) (upload.ObjectStore, upload.BlobLister, error) {
	switch cfg.ObjectStoreType {
	case "s3":
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
		if err != nil {
			return nil, nil, err
		}
		client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
			if cfg.S3Endpoint != "" {
				o.BaseEndpoint = &cfg.S3Endpoint
			}
		})
		store := s3blob.New(client, cfg.ObjectStoreBucket, cfg.ObjectStorePrefix)
		return store, store, nil

	case "gcs", "":
		client, err := storage.NewClient(ctx)
		if err != nil {
			return nil, nil, err
		}
		store := gcsblob.New(client, cfg.ObjectStoreBucket, cfg.ObjectStorePrefix)
		return store, store, nil

	default:
		return nil, nil, fmt.Errorf("unknown OBJECT_STORE_TYPE %q", cfg.ObjectStoreType)
	}
}

func newMetadataStore(ctx context.Context, cfg serverConfig) (upload.MetadataStore, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.MongoData))
	if err != nil {
		return nil, err
	}
	if err := client.Ping(ctx, nil); err != nil {
		return nil, err
	}

	collection := client.Database("measurements").Collection("measurements")
	store := mongostore.New(collection)
	if err := store.CreateIndices(ctx); err != nil {
		return nil, err
	}
	return store, nil
}

func newSessionStore(cfg serverConfig) upload.SessionStore {
	if cfg.RedisAddr == "" {
		return memstore.New()
	}
	client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	return redisstore.New(client, "session:", cfg.UploadExpiration)
}

// setupSignalHandler mirrors the teacher CLI's graceful-shutdown sequence:
// first SIGINT/SIGTERM starts a timed Shutdown, a second exits immediately.
func setupSignalHandler(logger *slog.Logger, server *http.Server, cancelBackground context.CancelFunc) <-chan struct{} {
	shutdownComplete := make(chan struct{})

	sig := make(chan os.Signal, 2)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-sig
		logger.Info("ShutdownSignalReceived")

		go func() {
			<-sig
			logger.Warn("ShutdownForced")
			os.Exit(1)
		}()

		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		if err := server.Shutdown(ctx); err != nil {
			logger.Error("ShutdownFailed", "error", err.Error())
		} else {
			logger.Info("ShutdownComplete")
		}

		cancelBackground()
		close(shutdownComplete)
	}()

	return shutdownComplete
}
