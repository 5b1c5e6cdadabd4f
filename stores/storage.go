package stores

import (
	"context"
	"os"
	"path/filepath"
	"strconv"

	"savesync/core"
	"savesync/stores/local/filesystem"
	localmemory "savesync/stores/local/memory"
	"savesync/stores/remote/memory"
	"savesync/stores/remote/postgres"
	"savesync/stores/remote/redis"
	"savesync/stores/remote/s3"
	"savesync/stores/remote/sqlite"

	"github.com/adrg/xdg"
	"github.com/sirupsen/logrus"
)

// GetRowStore picks the save server's row backend from STORAGE_TYPE.
// Misconfiguration is fatal; the server cannot run without storage.
func GetRowStore(ctx context.Context) core.SaveRowStore {
	storageType := os.Getenv("STORAGE_TYPE")
	var store core.SaveRowStore

	storageField := logrus.Fields{
		"storageType": storageType,
	}

	switch storageType {
	case "sqlite":
		dataSourceName := os.Getenv("DATA_SOURCE_NAME")
		if dataSourceName == "" {
			dataSourceName = "savesync.db" // Default filename
		}
		storageField["dataSourceName"] = dataSourceName
		s, err := sqlite.NewStore(dataSourceName)
		if err != nil {
			logrus.WithFields(storageField).Fatalf("Failed to open sqlite store: %v", err)
		}
		store = s
	case "postgres":
		databaseURL := os.Getenv("DATABASE_URL")
		if databaseURL == "" {
			logrus.Fatal("DATABASE_URL environment variable must be set for postgres storage type")
		}
		s, err := postgres.Connect(ctx, databaseURL)
		if err != nil {
			logrus.WithFields(storageField).Fatalf("Failed to connect to postgres: %v", err)
		}
		store = s
	case "redis":
		addr := os.Getenv("REDIS_ADDR")
		if addr == "" {
			addr = "localhost:6379"
		}
		db, _ := strconv.Atoi(os.Getenv("REDIS_DB"))
		storageField["addr"] = addr
		s, err := redis.Connect(ctx, addr, os.Getenv("REDIS_PASSWORD"), db)
		if err != nil {
			logrus.WithFields(storageField).Fatalf("Failed to connect to redis: %v", err)
		}
		store = s
	case "s3":
		bucketName := os.Getenv("S3_BUCKET_NAME")
		if bucketName == "" {
			logrus.Fatal("S3_BUCKET_NAME environment variable must be set for s3 storage type")
		}
		storageField["bucketName"] = bucketName
		s, err := s3.NewStore(ctx, bucketName)
		if err != nil {
			logrus.WithFields(storageField).Fatalf("Failed to create s3 store: %v", err)
		}
		store = s
	default:
		store = memory.NewStore()
		storageField["storageType"] = "in-memory"
	}
	logrus.WithFields(storageField).Info("Use storage")
	return store
}

// LocalOptions configures the device-local save store.
type LocalOptions struct {
	// Type is "filesystem" (default) or "memory".
	Type   string
	Path   string
	Prefix string
	// Quota in bytes; 0 means unlimited.
	Quota int64
}

// DefaultLocalPath is where confirmed local saves live unless configured.
func DefaultLocalPath() string {
	return filepath.Join(xdg.DataHome, "savesync", "saves")
}

func GetLocalStore(opts LocalOptions) core.LocalStore {
	fields := logrus.Fields{"storageType": opts.Type, "prefix": opts.Prefix}

	var store core.LocalStore
	switch opts.Type {
	case "memory":
		store = localmemory.NewStore(opts.Prefix, int(opts.Quota))
	default:
		path := opts.Path
		if path == "" {
			path = DefaultLocalPath()
		}
		fields["storageType"] = "filesystem"
		fields["basePath"] = path
		store = filesystem.NewStore(path, opts.Prefix, filesystem.WithQuota(opts.Quota))
	}
	logrus.WithFields(fields).Debug("Use local storage")
	return store
}
