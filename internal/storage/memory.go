package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"sync"
	"time"

	"github.com/bleepstore/bleepdrive/internal/config"
	drverr "github.com/bleepstore/bleepdrive/internal/errors"
)

// defaultMemoryBucket is used when a memory disk names no bucket.
const defaultMemoryBucket = "default"

// memObject holds the data and attributes of an in-memory file.
type memObject struct {
	Data        []byte
	ContentType string
	Metadata    map[string]string
	Modified    time.Time
}

// memStore is shared by every bucket handle of one memory disk.
type memStore struct {
	mu      sync.RWMutex
	objects map[string]memObject // key: "bucket/location"
}

// objectKey builds the map key for a file from its bucket and location.
func objectKey(bucket, location string) string {
	return bucket + "/" + location
}

// MemoryStorage implements Storage with in-memory maps. It is safe for
// concurrent use. Contents are lost when the process exits.
type MemoryStorage struct {
	bucket string
	store  *memStore
	urls   gatewayURLs
}

// NewMemoryStorage creates an empty memory disk.
func NewMemoryStorage(cfg config.DiskConfig) *MemoryStorage {
	bucket := cfg.Bucket
	if bucket == "" {
		bucket = defaultMemoryBucket
	}
	s := &MemoryStorage{
		bucket: bucket,
		store:  &memStore{objects: make(map[string]memObject)},
		urls:   newGatewayURLs(DriverMemory, cfg),
	}
	slog.Debug("memory disk initialized", "bucket", bucket)
	return s
}

func (s *MemoryStorage) lookup(location string) (memObject, bool) {
	s.store.mu.RLock()
	defer s.store.mu.RUnlock()
	obj, ok := s.store.objects[objectKey(s.bucket, location)]
	return obj, ok
}

func (s *MemoryStorage) notFound(op, location string) error {
	return drverr.FileNotFound(op, location, fmt.Errorf("memory: %s not found in bucket %s", location, s.bucket))
}

// Driver implements Storage.
func (s *MemoryStorage) Driver() string { return DriverMemory }

// Exists implements Storage.
func (s *MemoryStorage) Exists(_ context.Context, location string) (*ExistsResponse, error) {
	obj, ok := s.lookup(location)
	if !ok {
		return &ExistsResponse{Exists: false, Raw: s.notFound("exists", location)}, nil
	}
	return &ExistsResponse{Exists: true, Raw: obj}, nil
}

// Get implements Storage.
func (s *MemoryStorage) Get(ctx context.Context, location, encoding string) (*ContentResponse[string], error) {
	return getFromBuffer(ctx, s, location, encoding)
}

// GetBuffer implements Storage. The returned slice is a copy.
func (s *MemoryStorage) GetBuffer(_ context.Context, location string) (*ContentResponse[[]byte], error) {
	obj, ok := s.lookup(location)
	if !ok {
		return nil, s.notFound("getBuffer", location)
	}
	return &ContentResponse[[]byte]{Content: bytes.Clone(obj.Data), Raw: obj}, nil
}

// GetStream implements Storage.
func (s *MemoryStorage) GetStream(_ context.Context, location string) (io.ReadCloser, error) {
	obj, ok := s.lookup(location)
	if !ok {
		return nil, s.notFound("getStream", location)
	}
	// Stored slices are never mutated in place, so the reader can share it.
	return io.NopCloser(bytes.NewReader(obj.Data)), nil
}

// Put implements Storage.
func (s *MemoryStorage) Put(ctx context.Context, location string, content io.Reader, opts *PutOptions) (*Response, error) {
	data, err := io.ReadAll(content)
	if err != nil {
		return nil, drverr.Unknown("put", location, "", fmt.Errorf("reading content: %w", err))
	}
	if err := ctx.Err(); err != nil {
		return nil, drverr.Unknown("put", location, "", err)
	}
	if data == nil {
		data = []byte{}
	}
	obj := memObject{
		Data:        data,
		ContentType: opts.contentType(),
		Metadata:    opts.metadata(),
		Modified:    time.Now().UTC(),
	}

	s.store.mu.Lock()
	s.store.objects[objectKey(s.bucket, location)] = obj
	s.store.mu.Unlock()
	return &Response{Raw: obj}, nil
}

// Delete implements Storage.
func (s *MemoryStorage) Delete(_ context.Context, location string, _ *DeleteOptions) (*Response, error) {
	s.store.mu.Lock()
	defer s.store.mu.Unlock()
	key := objectKey(s.bucket, location)
	_, existed := s.store.objects[key]
	delete(s.store.objects, key)
	return &Response{Raw: existed}, nil
}

// Copy implements Storage, optionally into another bucket of the same disk.
func (s *MemoryStorage) Copy(_ context.Context, src, dest string, opts *CopyOptions) (*Response, error) {
	dstBucket := opts.destBucket(s.bucket)

	s.store.mu.Lock()
	defer s.store.mu.Unlock()
	obj, ok := s.store.objects[objectKey(s.bucket, src)]
	if !ok {
		return nil, s.notFound("copy", src)
	}
	cp := memObject{
		Data:        obj.Data,
		ContentType: obj.ContentType,
		Metadata:    obj.Metadata,
		Modified:    time.Now().UTC(),
	}
	if ct := opts.contentType(); ct != "" {
		cp.ContentType = ct
	}
	if md := opts.metadata(); md != nil {
		cp.Metadata = md
	}
	s.store.objects[objectKey(dstBucket, dest)] = cp
	return &Response{Raw: cp}, nil
}

// Move implements Storage.
func (s *MemoryStorage) Move(ctx context.Context, src, dest string, opts *CopyOptions) (*Response, error) {
	return MoveObject(ctx, s, src, dest, opts)
}

// GetURL implements Storage: {base_url}/{location}.
func (s *MemoryStorage) GetURL(location string) string {
	return s.urls.url(location)
}

// GetSignedURL implements Storage with HMAC signed gateway URLs.
func (s *MemoryStorage) GetSignedURL(_ context.Context, location string, opts *SignedURLOptions) (*SignedURLResponse, error) {
	return s.urls.signedURL("getSignedUrl", location, opts)
}

// VerifySignedURL implements SignedURLVerifier.
func (s *MemoryStorage) VerifySignedURL(method, location string, q url.Values) error {
	return s.urls.verify(method, location, q)
}

// GetStat implements Storage.
func (s *MemoryStorage) GetStat(_ context.Context, location string) (*StatResponse, error) {
	obj, ok := s.lookup(location)
	if !ok {
		return nil, s.notFound("getStat", location)
	}
	return &StatResponse{Size: int64(len(obj.Data)), Modified: obj.Modified, Raw: obj}, nil
}

// Bucket implements Storage. The new handle shares the disk's store.
func (s *MemoryStorage) Bucket(name string) (Storage, error) {
	if err := checkBucketName(name); err != nil {
		return nil, err
	}
	b := *s
	b.bucket = name
	return &b, nil
}

var (
	_ Storage           = (*MemoryStorage)(nil)
	_ SignedURLVerifier = (*MemoryStorage)(nil)
)
