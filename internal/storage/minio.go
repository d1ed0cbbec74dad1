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

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/bleepstore/bleepdrive/internal/config"
	drverr "github.com/bleepstore/bleepdrive/internal/errors"
)

// MinioAPI is the subset of the minio-go client the adapter uses.
// GetObject returns the opened stream together with its object info so
// that a missing object is reported before the stream is handed out.
type MinioAPI interface {
	StatObject(ctx context.Context, bucket, object string, opts minio.StatObjectOptions) (minio.ObjectInfo, error)
	GetObject(ctx context.Context, bucket, object string, opts minio.GetObjectOptions) (io.ReadCloser, minio.ObjectInfo, error)
	PutObject(ctx context.Context, bucket, object string, reader io.Reader, size int64, opts minio.PutObjectOptions) (minio.UploadInfo, error)
	RemoveObject(ctx context.Context, bucket, object string, opts minio.RemoveObjectOptions) error
	CopyObject(ctx context.Context, dst minio.CopyDestOptions, src minio.CopySrcOptions) (minio.UploadInfo, error)
	PresignedGetObject(ctx context.Context, bucket, object string, expires time.Duration, reqParams url.Values) (*url.URL, error)
	PresignedPutObject(ctx context.Context, bucket, object string, expires time.Duration) (*url.URL, error)
}

// realMinioClient wraps *minio.Client to satisfy MinioAPI.
type realMinioClient struct {
	client *minio.Client
}

func (c *realMinioClient) StatObject(ctx context.Context, bucket, object string, opts minio.StatObjectOptions) (minio.ObjectInfo, error) {
	return c.client.StatObject(ctx, bucket, object, opts)
}

// GetObject opens the object and forces the first request via Stat, which
// surfaces NoSuchKey here instead of on the first Read.
func (c *realMinioClient) GetObject(ctx context.Context, bucket, object string, opts minio.GetObjectOptions) (io.ReadCloser, minio.ObjectInfo, error) {
	obj, err := c.client.GetObject(ctx, bucket, object, opts)
	if err != nil {
		return nil, minio.ObjectInfo{}, err
	}
	info, err := obj.Stat()
	if err != nil {
		obj.Close()
		return nil, minio.ObjectInfo{}, err
	}
	return obj, info, nil
}

func (c *realMinioClient) PutObject(ctx context.Context, bucket, object string, reader io.Reader, size int64, opts minio.PutObjectOptions) (minio.UploadInfo, error) {
	return c.client.PutObject(ctx, bucket, object, reader, size, opts)
}

func (c *realMinioClient) RemoveObject(ctx context.Context, bucket, object string, opts minio.RemoveObjectOptions) error {
	return c.client.RemoveObject(ctx, bucket, object, opts)
}

func (c *realMinioClient) CopyObject(ctx context.Context, dst minio.CopyDestOptions, src minio.CopySrcOptions) (minio.UploadInfo, error) {
	return c.client.CopyObject(ctx, dst, src)
}

func (c *realMinioClient) PresignedGetObject(ctx context.Context, bucket, object string, expires time.Duration, reqParams url.Values) (*url.URL, error) {
	return c.client.PresignedGetObject(ctx, bucket, object, expires, reqParams)
}

func (c *realMinioClient) PresignedPutObject(ctx context.Context, bucket, object string, expires time.Duration) (*url.URL, error) {
	return c.client.PresignedPutObject(ctx, bucket, object, expires)
}

// MinioStorage implements Storage on MinIO and other S3-compatible servers
// through minio-go.
type MinioStorage struct {
	bucket   string
	endpoint string
	secure   bool
	client   MinioAPI
}

// NewMinioStorage creates the minio-go client for cfg. The bucket is not
// probed or created.
func NewMinioStorage(cfg config.DiskConfig) (*MinioStorage, error) {
	if cfg.Endpoint == "" {
		return nil, errors.New("minio: endpoint is required")
	}
	if cfg.Bucket == "" {
		return nil, errors.New("minio: bucket is required")
	}

	client, err := minio.New(endpointHost(cfg.Endpoint), &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.Key, cfg.Secret, ""),
		Secure: cfg.IsSecure(),
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("initializing minio client: %w", err)
	}

	slog.Info("minio disk initialized", "endpoint", cfg.Endpoint, "bucket", cfg.Bucket)
	return NewMinioStorageWithClient(cfg, &realMinioClient{client: client}), nil
}

// NewMinioStorageWithClient creates a MinioStorage around an existing client.
// This is primarily used for testing with mock clients.
func NewMinioStorageWithClient(cfg config.DiskConfig, client MinioAPI) *MinioStorage {
	return &MinioStorage{
		bucket:   cfg.Bucket,
		endpoint: endpointHost(cfg.Endpoint),
		secure:   cfg.IsSecure(),
		client:   client,
	}
}

// Driver implements Storage.
func (s *MinioStorage) Driver() string { return DriverMinio }

// Exists implements Storage.
func (s *MinioStorage) Exists(ctx context.Context, location string) (*ExistsResponse, error) {
	info, err := s.client.StatObject(ctx, s.bucket, location, minio.StatObjectOptions{})
	if err != nil {
		c := classifyMinioError(err)
		if c.Kind == drverr.KindFileNotFound {
			return &ExistsResponse{Exists: false, Raw: err}, nil
		}
		return nil, drverr.Classify("exists", location, c, err)
	}
	return &ExistsResponse{Exists: true, Raw: info}, nil
}

// Get implements Storage.
func (s *MinioStorage) Get(ctx context.Context, location, encoding string) (*ContentResponse[string], error) {
	return getFromBuffer(ctx, s, location, encoding)
}

// GetBuffer implements Storage.
func (s *MinioStorage) GetBuffer(ctx context.Context, location string) (*ContentResponse[[]byte], error) {
	rc, info, err := s.client.GetObject(ctx, s.bucket, location, minio.GetObjectOptions{})
	if err != nil {
		return nil, s.wrap("getBuffer", location, err)
	}
	data, err := readAllClose(rc)
	if err != nil {
		return nil, s.wrap("getBuffer", location, err)
	}
	return &ContentResponse[[]byte]{Content: data, Raw: info}, nil
}

// GetStream implements Storage.
func (s *MinioStorage) GetStream(ctx context.Context, location string) (io.ReadCloser, error) {
	rc, _, err := s.client.GetObject(ctx, s.bucket, location, minio.GetObjectOptions{})
	if err != nil {
		return nil, s.wrap("getStream", location, err)
	}
	return rc, nil
}

// Put implements Storage. An unknown content length streams as multipart.
func (s *MinioStorage) Put(ctx context.Context, location string, content io.Reader, opts *PutOptions) (*Response, error) {
	info, err := s.client.PutObject(ctx, s.bucket, location, content, opts.size(), minio.PutObjectOptions{
		ContentType:  opts.contentType(),
		CacheControl: opts.cacheControl(),
		UserMetadata: opts.metadata(),
	})
	if err != nil {
		return nil, s.wrap("put", location, err)
	}
	return &Response{Raw: info}, nil
}

// Delete implements Storage.
func (s *MinioStorage) Delete(ctx context.Context, location string, opts *DeleteOptions) (*Response, error) {
	err := s.client.RemoveObject(ctx, s.bucket, location, minio.RemoveObjectOptions{
		VersionID: opts.versionID(),
	})
	if err != nil {
		c := classifyMinioError(err)
		if c.Kind == drverr.KindFileNotFound {
			return &Response{Raw: err}, nil
		}
		return nil, drverr.Classify("delete", location, c, err)
	}
	return &Response{Raw: location}, nil
}

// Copy implements Storage. minio-go takes the destination first.
func (s *MinioStorage) Copy(ctx context.Context, src, dest string, opts *CopyOptions) (*Response, error) {
	dst := minio.CopyDestOptions{
		Bucket: opts.destBucket(s.bucket),
		Object: dest,
	}
	if ct, md := opts.contentType(), opts.metadata(); ct != "" || md != nil {
		dst.ReplaceMetadata = true
		dst.UserMetadata = make(map[string]string, len(md)+1)
		for k, v := range md {
			dst.UserMetadata[k] = v
		}
		if ct != "" {
			dst.UserMetadata["Content-Type"] = ct
		}
	}
	info, err := s.client.CopyObject(ctx, dst, minio.CopySrcOptions{
		Bucket: s.bucket,
		Object: src,
	})
	if err != nil {
		return nil, s.wrap("copy", src, err)
	}
	return &Response{Raw: info}, nil
}

// Move implements Storage.
func (s *MinioStorage) Move(ctx context.Context, src, dest string, opts *CopyOptions) (*Response, error) {
	return MoveObject(ctx, s, src, dest, opts)
}

// GetURL implements Storage: {proto}://{endpoint}/{bucket}/{location}.
func (s *MinioStorage) GetURL(location string) string {
	return fmt.Sprintf("%s://%s/%s/%s", protocol(s.secure), s.endpoint, s.bucket, location)
}

// GetSignedURL implements Storage.
func (s *MinioStorage) GetSignedURL(ctx context.Context, location string, opts *SignedURLOptions) (*SignedURLResponse, error) {
	var (
		u   *url.URL
		err error
	)
	if opts.method() == http.MethodPut {
		u, err = s.client.PresignedPutObject(ctx, s.bucket, location, opts.expiry())
	} else {
		params := url.Values{}
		if ct := opts.contentTypeValue(); ct != "" {
			params.Set("response-content-type", ct)
		}
		if cd := opts.contentDisposition(); cd != "" {
			params.Set("response-content-disposition", cd)
		}
		u, err = s.client.PresignedGetObject(ctx, s.bucket, location, opts.expiry(), params)
	}
	if err != nil {
		return nil, s.wrap("getSignedUrl", location, err)
	}
	return &SignedURLResponse{SignedURL: u.String(), Raw: u}, nil
}

// GetStat implements Storage.
func (s *MinioStorage) GetStat(ctx context.Context, location string) (*StatResponse, error) {
	info, err := s.client.StatObject(ctx, s.bucket, location, minio.StatObjectOptions{})
	if err != nil {
		return nil, s.wrap("getStat", location, err)
	}
	return &StatResponse{Size: info.Size, Modified: info.LastModified, Raw: info}, nil
}

// Bucket implements Storage.
func (s *MinioStorage) Bucket(name string) (Storage, error) {
	if err := checkBucketName(name); err != nil {
		return nil, err
	}
	b := *s
	b.bucket = name
	return &b, nil
}

func (s *MinioStorage) wrap(op, location string, err error) error {
	return drverr.Classify(op, location, classifyMinioError(err), err)
}

// classifyMinioError reads the S3 error code and status from a minio
// ErrorResponse.
func classifyMinioError(err error) drverr.Classification {
	resp := minio.ToErrorResponse(err)
	return classifyResponse(resp.StatusCode, resp.Code)
}

var _ Storage = (*MinioStorage)(nil)
