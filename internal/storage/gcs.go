package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	gcs "cloud.google.com/go/storage"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/bleepstore/bleepdrive/internal/config"
	drverr "github.com/bleepstore/bleepdrive/internal/errors"
)

// GCSAPI is the subset of the GCS client the adapter uses. It allows
// mocking in tests.
type GCSAPI interface {
	// NewWriter returns a writer for the given object. The upload is
	// committed when the writer is closed.
	NewWriter(ctx context.Context, bucket, object string, attrs GCSWriteAttrs) GCSWriter
	// NewReader opens the given object for reading.
	NewReader(ctx context.Context, bucket, object string) (io.ReadCloser, error)
	// Delete deletes the given object.
	Delete(ctx context.Context, bucket, object string) error
	// Attrs returns the attributes of the given object.
	Attrs(ctx context.Context, bucket, object string) (*GCSAttrs, error)
	// Copy copies an object, possibly across buckets.
	Copy(ctx context.Context, srcBucket, srcObject, dstBucket, dstObject string, attrs GCSWriteAttrs) (*GCSAttrs, error)
	// SignedURL returns a V4 signed URL for the given object.
	SignedURL(bucket, object string, opts *gcs.SignedURLOptions) (string, error)
}

// GCSWriter is a writer interface for writing to GCS objects.
type GCSWriter interface {
	io.WriteCloser
}

// GCSAttrs holds object attributes returned from GCS operations.
type GCSAttrs struct {
	Name        string
	Size        int64
	ContentType string
	Updated     time.Time
	MD5         []byte
}

// GCSWriteAttrs are the object attributes set on upload or copy.
type GCSWriteAttrs struct {
	ContentType  string
	CacheControl string
	Metadata     map[string]string
}

// realGCSClient wraps the official GCS client to satisfy GCSAPI.
type realGCSClient struct {
	client *gcs.Client
}

func (c *realGCSClient) NewWriter(ctx context.Context, bucket, object string, attrs GCSWriteAttrs) GCSWriter {
	w := c.client.Bucket(bucket).Object(object).NewWriter(ctx)
	w.ContentType = attrs.ContentType
	w.CacheControl = attrs.CacheControl
	w.Metadata = attrs.Metadata
	return w
}

func (c *realGCSClient) NewReader(ctx context.Context, bucket, object string) (io.ReadCloser, error) {
	return c.client.Bucket(bucket).Object(object).NewReader(ctx)
}

func (c *realGCSClient) Delete(ctx context.Context, bucket, object string) error {
	return c.client.Bucket(bucket).Object(object).Delete(ctx)
}

func (c *realGCSClient) Attrs(ctx context.Context, bucket, object string) (*GCSAttrs, error) {
	attrs, err := c.client.Bucket(bucket).Object(object).Attrs(ctx)
	if err != nil {
		return nil, err
	}
	return toGCSAttrs(attrs), nil
}

func (c *realGCSClient) Copy(ctx context.Context, srcBucket, srcObject, dstBucket, dstObject string, attrs GCSWriteAttrs) (*GCSAttrs, error) {
	src := c.client.Bucket(srcBucket).Object(srcObject)
	dst := c.client.Bucket(dstBucket).Object(dstObject)
	copier := dst.CopierFrom(src)
	if attrs.ContentType != "" {
		copier.ContentType = attrs.ContentType
	}
	if attrs.Metadata != nil {
		copier.Metadata = attrs.Metadata
	}
	out, err := copier.Run(ctx)
	if err != nil {
		return nil, err
	}
	return toGCSAttrs(out), nil
}

func (c *realGCSClient) SignedURL(bucket, object string, opts *gcs.SignedURLOptions) (string, error) {
	return c.client.Bucket(bucket).SignedURL(object, opts)
}

func toGCSAttrs(a *gcs.ObjectAttrs) *GCSAttrs {
	return &GCSAttrs{
		Name:        a.Name,
		Size:        a.Size,
		ContentType: a.ContentType,
		Updated:     a.Updated,
		MD5:         a.MD5,
	}
}

// GCSStorage implements Storage on Google Cloud Storage.
type GCSStorage struct {
	bucket string
	// accessID and privateKey sign V4 URLs. When empty the client's own
	// credentials are used.
	accessID   string
	privateKey []byte
	client     GCSAPI
}

// NewGCSStorage creates a GCS client. Credentials come from Application
// Default Credentials (GOOGLE_APPLICATION_CREDENTIALS, gcloud auth,
// metadata server). A configured endpoint targets an emulator without
// authentication.
func NewGCSStorage(ctx context.Context, cfg config.DiskConfig) (*GCSStorage, error) {
	if cfg.Bucket == "" {
		return nil, errors.New("gcs: bucket is required")
	}

	var opts []option.ClientOption
	if cfg.Endpoint != "" {
		opts = append(opts, option.WithEndpoint(cfg.Endpoint), option.WithoutAuthentication())
	}
	client, err := gcs.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("creating GCS client: %w", err)
	}

	slog.Info("gcs disk initialized", "bucket", cfg.Bucket, "project", cfg.Project)
	return NewGCSStorageWithClient(cfg, &realGCSClient{client: client}), nil
}

// NewGCSStorageWithClient creates a GCSStorage with a pre-configured
// client. This is primarily used for testing with mock clients.
func NewGCSStorageWithClient(cfg config.DiskConfig, client GCSAPI) *GCSStorage {
	s := &GCSStorage{
		bucket:   cfg.Bucket,
		accessID: cfg.Key,
		client:   client,
	}
	if cfg.Secret != "" {
		s.privateKey = []byte(cfg.Secret)
	}
	return s
}

// Close releases the underlying GCS client.
func (s *GCSStorage) Close() error {
	if rc, ok := s.client.(*realGCSClient); ok {
		return rc.client.Close()
	}
	return nil
}

// Driver implements Storage.
func (s *GCSStorage) Driver() string { return DriverGCS }

// Exists implements Storage.
func (s *GCSStorage) Exists(ctx context.Context, location string) (*ExistsResponse, error) {
	attrs, err := s.client.Attrs(ctx, s.bucket, location)
	if err != nil {
		c := classifyGCSError(err)
		if c.Kind == drverr.KindFileNotFound {
			return &ExistsResponse{Exists: false, Raw: err}, nil
		}
		return nil, drverr.Classify("exists", location, c, err)
	}
	return &ExistsResponse{Exists: true, Raw: attrs}, nil
}

// Get implements Storage.
func (s *GCSStorage) Get(ctx context.Context, location, encoding string) (*ContentResponse[string], error) {
	return getFromBuffer(ctx, s, location, encoding)
}

// GetBuffer implements Storage.
func (s *GCSStorage) GetBuffer(ctx context.Context, location string) (*ContentResponse[[]byte], error) {
	r, err := s.client.NewReader(ctx, s.bucket, location)
	if err != nil {
		return nil, s.wrap("getBuffer", location, err)
	}
	data, err := readAllClose(r)
	if err != nil {
		return nil, s.wrap("getBuffer", location, err)
	}
	return &ContentResponse[[]byte]{Content: data, Raw: r}, nil
}

// GetStream implements Storage.
func (s *GCSStorage) GetStream(ctx context.Context, location string) (io.ReadCloser, error) {
	r, err := s.client.NewReader(ctx, s.bucket, location)
	if err != nil {
		return nil, s.wrap("getStream", location, err)
	}
	return r, nil
}

// Put implements Storage. The object is committed when the writer closes.
// A failed read of content cancels the writer's context before closing it,
// which aborts the upload instead of committing a truncated object.
func (s *GCSStorage) Put(ctx context.Context, location string, content io.Reader, opts *PutOptions) (*Response, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	w := s.client.NewWriter(ctx, s.bucket, location, GCSWriteAttrs{
		ContentType:  opts.contentType(),
		CacheControl: opts.cacheControl(),
		Metadata:     opts.metadata(),
	})
	n, err := io.Copy(w, content)
	if err != nil {
		cancel()
		_ = w.Close()
		return nil, s.wrap("put", location, err)
	}
	if err := w.Close(); err != nil {
		return nil, s.wrap("put", location, err)
	}
	return &Response{Raw: n}, nil
}

// Delete implements Storage.
func (s *GCSStorage) Delete(ctx context.Context, location string, _ *DeleteOptions) (*Response, error) {
	err := s.client.Delete(ctx, s.bucket, location)
	if err != nil {
		c := classifyGCSError(err)
		if c.Kind == drverr.KindFileNotFound {
			return &Response{Raw: err}, nil
		}
		return nil, drverr.Classify("delete", location, c, err)
	}
	return &Response{Raw: location}, nil
}

// Copy implements Storage.
func (s *GCSStorage) Copy(ctx context.Context, src, dest string, opts *CopyOptions) (*Response, error) {
	attrs, err := s.client.Copy(ctx, s.bucket, src, opts.destBucket(s.bucket), dest, GCSWriteAttrs{
		ContentType: opts.contentType(),
		Metadata:    opts.metadata(),
	})
	if err != nil {
		return nil, s.wrap("copy", src, err)
	}
	return &Response{Raw: attrs}, nil
}

// Move implements Storage.
func (s *GCSStorage) Move(ctx context.Context, src, dest string, opts *CopyOptions) (*Response, error) {
	return MoveObject(ctx, s, src, dest, opts)
}

// GetURL implements Storage.
func (s *GCSStorage) GetURL(location string) string {
	return fmt.Sprintf("https://storage.googleapis.com/%s/%s", s.bucket, location)
}

// GetSignedURL implements Storage using V4 signing.
func (s *GCSStorage) GetSignedURL(ctx context.Context, location string, opts *SignedURLOptions) (*SignedURLResponse, error) {
	signOpts := &gcs.SignedURLOptions{
		GoogleAccessID: s.accessID,
		PrivateKey:     s.privateKey,
		Method:         opts.method(),
		Expires:        time.Now().Add(opts.expiry()),
		Scheme:         gcs.SigningSchemeV4,
	}
	if opts.method() == http.MethodPut {
		signOpts.ContentType = opts.contentTypeValue()
	} else {
		q := url.Values{}
		if ct := opts.contentTypeValue(); ct != "" {
			q.Set("response-content-type", ct)
		}
		if cd := opts.contentDisposition(); cd != "" {
			q.Set("response-content-disposition", cd)
		}
		if len(q) > 0 {
			signOpts.QueryParameters = q
		}
	}

	signed, err := s.client.SignedURL(s.bucket, location, signOpts)
	if err != nil {
		return nil, s.wrap("getSignedUrl", location, err)
	}
	return &SignedURLResponse{SignedURL: signed, Raw: signOpts}, nil
}

// GetStat implements Storage.
func (s *GCSStorage) GetStat(ctx context.Context, location string) (*StatResponse, error) {
	attrs, err := s.client.Attrs(ctx, s.bucket, location)
	if err != nil {
		return nil, s.wrap("getStat", location, err)
	}
	return &StatResponse{Size: attrs.Size, Modified: attrs.Updated, Raw: attrs}, nil
}

// Bucket implements Storage.
func (s *GCSStorage) Bucket(name string) (Storage, error) {
	if err := checkBucketName(name); err != nil {
		return nil, err
	}
	b := *s
	b.bucket = name
	return &b, nil
}

func (s *GCSStorage) wrap(op, location string, err error) error {
	return drverr.Classify(op, location, classifyGCSError(err), err)
}

// classifyGCSError recognizes the client's sentinel errors and googleapi
// HTTP errors.
func classifyGCSError(err error) drverr.Classification {
	if errors.Is(err, gcs.ErrObjectNotExist) {
		return drverr.Classification{Kind: drverr.KindFileNotFound, Code: "NoSuchObject"}
	}
	if errors.Is(err, gcs.ErrBucketNotExist) {
		return drverr.Classification{Kind: drverr.KindUnknown, Code: "BucketNotFound"}
	}
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		var reason string
		if len(apiErr.Errors) > 0 {
			reason = apiErr.Errors[0].Reason
		}
		return classifyResponse(apiErr.Code, reason)
	}
	return drverr.Classification{Kind: drverr.KindUnknown}
}

var _ Storage = (*GCSStorage)(nil)
