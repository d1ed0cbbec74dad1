// Package storage defines the uniform file-storage contract for BleepDrive
// and the backend adapters that implement it.
//
// Every adapter owns a native SDK client built once at construction and
// performs one round trip per operation (Move performs two). Failures are
// classified into the internal/errors taxonomy before they cross the
// contract.
package storage

import (
	"context"
	"io"
	"time"
)

// DefaultSignedURLExpiry is used when SignedURLOptions.Expiry is zero.
const DefaultSignedURLExpiry = 900 * time.Second

// Driver names understood by the facade.
const (
	DriverS3     = "s3"
	DriverMinio  = "minio"
	DriverGCS    = "gcs"
	DriverAzure  = "azure"
	DriverWebDAV = "webdav"
	DriverLocal  = "local"
	DriverMemory = "memory"
	DriverSQLite = "sqlite"
)

// Storage is the contract every backend adapter implements. All methods are
// safe for concurrent use and never mutate the receiver.
type Storage interface {
	// Driver returns the adapter's driver name (e.g. "s3").
	Driver() string

	// Exists reports whether location exists. A missing file is not an
	// error; only transport and authorization failures are returned.
	Exists(ctx context.Context, location string) (*ExistsResponse, error)

	// Get reads location and decodes it using the named character encoding.
	// An empty encoding means utf-8.
	Get(ctx context.Context, location, encoding string) (*ContentResponse[string], error)

	// GetBuffer reads the full content of location.
	GetBuffer(ctx context.Context, location string) (*ContentResponse[[]byte], error)

	// GetStream opens location for reading. The caller must close the
	// returned reader. Failures after the stream is open surface from Read.
	GetStream(ctx context.Context, location string) (io.ReadCloser, error)

	// Put writes content to location, replacing any existing file.
	Put(ctx context.Context, location string, content io.Reader, opts *PutOptions) (*Response, error)

	// Delete removes location. Deleting a missing file succeeds.
	Delete(ctx context.Context, location string, opts *DeleteOptions) (*Response, error)

	// Copy duplicates src to dest, optionally into another bucket.
	Copy(ctx context.Context, src, dest string, opts *CopyOptions) (*Response, error)

	// Move copies src to dest and then deletes src. It is not atomic.
	Move(ctx context.Context, src, dest string, opts *CopyOptions) (*Response, error)

	// GetURL returns the public URL of location without a network call.
	GetURL(location string) string

	// GetSignedURL returns a time-limited URL granting access to location.
	GetSignedURL(ctx context.Context, location string, opts *SignedURLOptions) (*SignedURLResponse, error)

	// GetStat returns size and last-modified time of location.
	GetStat(ctx context.Context, location string) (*StatResponse, error)

	// Bucket returns a new handle bound to another bucket or container.
	Bucket(name string) (Storage, error)
}

// HealthChecker is implemented by disks that can cheaply verify their
// backend is reachable without touching a file.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}
