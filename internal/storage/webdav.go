package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path"
	"strings"

	"github.com/studio-b12/gowebdav"

	"github.com/bleepstore/bleepdrive/internal/config"
	drverr "github.com/bleepstore/bleepdrive/internal/errors"
)

// WebDAVAPI is the subset of *gowebdav.Client the adapter uses.
type WebDAVAPI interface {
	Stat(path string) (os.FileInfo, error)
	ReadStream(path string) (io.ReadCloser, error)
	WriteStream(path string, stream io.Reader, mode os.FileMode) error
	MkdirAll(path string, mode os.FileMode) error
	Remove(path string) error
	Copy(oldpath, newpath string, overwrite bool) error
}

// WebDAVStorage implements Storage on a WebDAV server. It has no buckets
// and cannot sign URLs.
type WebDAVStorage struct {
	baseURL  string
	rootPath string
	client   WebDAVAPI
}

// NewWebDAVStorage creates a gowebdav client for cfg.URL with basic auth.
func NewWebDAVStorage(cfg config.DiskConfig) (*WebDAVStorage, error) {
	if cfg.URL == "" {
		return nil, errors.New("webdav: url is required")
	}
	client := gowebdav.NewClient(cfg.URL, cfg.Username, cfg.Password)

	slog.Info("webdav disk initialized", "url", cfg.URL, "root", cfg.Root)
	return NewWebDAVStorageWithClient(cfg, client), nil
}

// NewWebDAVStorageWithClient creates a WebDAVStorage around an existing
// client. This is primarily used for testing with mock clients.
func NewWebDAVStorageWithClient(cfg config.DiskConfig, client WebDAVAPI) *WebDAVStorage {
	root := strings.Trim(cfg.Root, "/")
	if root != "" {
		root = "/" + root
	}
	return &WebDAVStorage{
		baseURL:  strings.TrimRight(cfg.URL, "/"),
		rootPath: root,
		client:   client,
	}
}

// fullPath maps a location to its path on the server.
func (s *WebDAVStorage) fullPath(location string) string {
	return s.rootPath + "/" + strings.TrimLeft(location, "/")
}

// Driver implements Storage.
func (s *WebDAVStorage) Driver() string { return DriverWebDAV }

// Exists implements Storage.
func (s *WebDAVStorage) Exists(ctx context.Context, location string) (*ExistsResponse, error) {
	info, err := withContext(ctx, func() (os.FileInfo, error) {
		return s.client.Stat(s.fullPath(location))
	})
	if err != nil {
		c := classifyWebDAVError(err)
		if c.Kind == drverr.KindFileNotFound {
			return &ExistsResponse{Exists: false, Raw: err}, nil
		}
		return nil, drverr.Classify("exists", location, c, err)
	}
	return &ExistsResponse{Exists: !info.IsDir(), Raw: info}, nil
}

// Get implements Storage.
func (s *WebDAVStorage) Get(ctx context.Context, location, encoding string) (*ContentResponse[string], error) {
	return getFromBuffer(ctx, s, location, encoding)
}

// GetBuffer implements Storage.
func (s *WebDAVStorage) GetBuffer(ctx context.Context, location string) (*ContentResponse[[]byte], error) {
	rc, err := s.GetStream(ctx, location)
	if err != nil {
		return nil, err
	}
	data, err := readAllClose(rc)
	if err != nil {
		return nil, s.wrap("getBuffer", location, err)
	}
	return &ContentResponse[[]byte]{Content: data, Raw: s.fullPath(location)}, nil
}

// GetStream implements Storage.
func (s *WebDAVStorage) GetStream(ctx context.Context, location string) (io.ReadCloser, error) {
	rc, err := withContext(ctx, func() (io.ReadCloser, error) {
		return s.client.ReadStream(s.fullPath(location))
	})
	if err != nil {
		return nil, s.wrap("getStream", location, err)
	}
	return rc, nil
}

// Put implements Storage. Parent collections are created first.
func (s *WebDAVStorage) Put(ctx context.Context, location string, content io.Reader, _ *PutOptions) (*Response, error) {
	full := s.fullPath(location)
	err := mutate(ctx, func() error {
		if err := s.ensureParent(full); err != nil {
			return err
		}
		return s.client.WriteStream(full, content, 0o644)
	})
	if err != nil {
		return nil, s.wrap("put", location, err)
	}
	return &Response{Raw: full}, nil
}

// Delete implements Storage.
func (s *WebDAVStorage) Delete(ctx context.Context, location string, _ *DeleteOptions) (*Response, error) {
	full := s.fullPath(location)
	err := mutate(ctx, func() error {
		return s.client.Remove(full)
	})
	if err != nil {
		c := classifyWebDAVError(err)
		if c.Kind == drverr.KindFileNotFound {
			return &Response{Raw: err}, nil
		}
		return nil, drverr.Classify("delete", location, c, err)
	}
	return &Response{Raw: full}, nil
}

// Copy implements Storage with a server-side COPY.
func (s *WebDAVStorage) Copy(ctx context.Context, src, dest string, opts *CopyOptions) (*Response, error) {
	if opts.destBucket("") != "" {
		return nil, drverr.MethodNotSupported("copy", DriverWebDAV)
	}
	from, to := s.fullPath(src), s.fullPath(dest)
	err := mutate(ctx, func() error {
		if err := s.ensureParent(to); err != nil {
			return err
		}
		return s.client.Copy(from, to, true)
	})
	if err != nil {
		return nil, s.wrap("copy", src, err)
	}
	return &Response{Raw: to}, nil
}

// Move implements Storage.
func (s *WebDAVStorage) Move(ctx context.Context, src, dest string, opts *CopyOptions) (*Response, error) {
	return MoveObject(ctx, s, src, dest, opts)
}

// GetURL implements Storage: {url}/{root}/{location}.
func (s *WebDAVStorage) GetURL(location string) string {
	return s.baseURL + s.fullPath(location)
}

// GetSignedURL is not supported by WebDAV.
func (s *WebDAVStorage) GetSignedURL(context.Context, string, *SignedURLOptions) (*SignedURLResponse, error) {
	return nil, drverr.MethodNotSupported("getSignedUrl", DriverWebDAV)
}

// GetStat implements Storage.
func (s *WebDAVStorage) GetStat(ctx context.Context, location string) (*StatResponse, error) {
	info, err := withContext(ctx, func() (os.FileInfo, error) {
		return s.client.Stat(s.fullPath(location))
	})
	if err != nil {
		return nil, s.wrap("getStat", location, err)
	}
	return &StatResponse{Size: info.Size(), Modified: info.ModTime(), Raw: info}, nil
}

// Bucket is not supported by WebDAV.
func (s *WebDAVStorage) Bucket(string) (Storage, error) {
	return nil, drverr.MethodNotSupported("bucket", DriverWebDAV)
}

func (s *WebDAVStorage) ensureParent(full string) error {
	dir := path.Dir(full)
	if dir == "/" || dir == "." || dir == s.rootPath {
		return nil
	}
	if err := s.client.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating collection %s: %w", dir, err)
	}
	return nil
}

func (s *WebDAVStorage) wrap(op, location string, err error) error {
	return drverr.Classify(op, location, classifyWebDAVError(err), err)
}

// classifyWebDAVError reads the HTTP status carried by gowebdav errors.
func classifyWebDAVError(err error) drverr.Classification {
	var se gowebdav.StatusError
	if errors.As(err, &se) {
		return classifyResponse(se.Status, "")
	}
	if errors.Is(err, os.ErrNotExist) {
		return drverr.Classification{Kind: drverr.KindFileNotFound, Code: "404"}
	}
	return drverr.Classification{Kind: drverr.KindUnknown}
}

// withContext runs the read fn, returning early with ctx.Err() if ctx ends
// first. gowebdav calls take no context. A result that arrives after the
// caller gave up is closed if it is an io.Closer.
func withContext[T any](ctx context.Context, fn func() (T, error)) (T, error) {
	var zero T
	if err := ctx.Err(); err != nil {
		return zero, err
	}
	type result struct {
		v   T
		err error
	}
	done := make(chan result, 1)
	go func() {
		v, err := fn()
		done <- result{v, err}
	}()
	select {
	case <-ctx.Done():
		go func() {
			r := <-done
			if c, ok := any(r.v).(io.Closer); ok && r.err == nil {
				c.Close()
			}
		}()
		return zero, ctx.Err()
	case r := <-done:
		return r.v, r.err
	}
}

// mutate runs a write fn to completion once ctx is still live. A write that
// has started is never abandoned, so the caller's reader is not touched after
// return and the outcome reported matches the server's state.
func mutate(ctx context.Context, fn func() error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return fn()
}

var _ Storage = (*WebDAVStorage)(nil)
