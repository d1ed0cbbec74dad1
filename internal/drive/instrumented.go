package drive

import (
	"context"
	"io"
	"log/slog"
	"net/url"
	"time"

	drverr "github.com/bleepstore/bleepdrive/internal/errors"
	"github.com/bleepstore/bleepdrive/internal/metrics"
	"github.com/bleepstore/bleepdrive/internal/storage"
)

// instrumented decorates a disk with metrics and failure logging. It only
// observes: results and errors pass through unchanged.
type instrumented struct {
	name   string
	inner  storage.Storage
	logger *slog.Logger
}

func newInstrumented(name string, inner storage.Storage, logger *slog.Logger) *instrumented {
	return &instrumented{name: name, inner: inner, logger: logger}
}

// observe records one operation. Not-found is logged at debug level since
// callers routinely probe for missing files.
func (d *instrumented) observe(op, location string, start time.Time, err error) {
	metrics.StorageOperationDuration.WithLabelValues(d.name, op).Observe(time.Since(start).Seconds())

	status := "success"
	if err != nil {
		status = string(drverr.KindOf(err))
	}
	metrics.StorageOperationsTotal.WithLabelValues(d.name, op, status).Inc()

	if err == nil {
		return
	}
	level := slog.LevelWarn
	if drverr.IsNotFound(err) {
		level = slog.LevelDebug
	}
	d.logger.Log(context.Background(), level, "storage operation failed",
		"disk", d.name, "driver", d.inner.Driver(), "op", op, "path", location, "error", err)
}

func (d *instrumented) Driver() string { return d.inner.Driver() }

func (d *instrumented) Exists(ctx context.Context, location string) (*storage.ExistsResponse, error) {
	start := time.Now()
	res, err := d.inner.Exists(ctx, location)
	d.observe("exists", location, start, err)
	return res, err
}

func (d *instrumented) Get(ctx context.Context, location, encoding string) (*storage.ContentResponse[string], error) {
	start := time.Now()
	res, err := d.inner.Get(ctx, location, encoding)
	d.observe("get", location, start, err)
	return res, err
}

func (d *instrumented) GetBuffer(ctx context.Context, location string) (*storage.ContentResponse[[]byte], error) {
	start := time.Now()
	res, err := d.inner.GetBuffer(ctx, location)
	d.observe("getBuffer", location, start, err)
	return res, err
}

// GetStream records the time to open the stream, not to drain it.
func (d *instrumented) GetStream(ctx context.Context, location string) (io.ReadCloser, error) {
	start := time.Now()
	rc, err := d.inner.GetStream(ctx, location)
	d.observe("getStream", location, start, err)
	return rc, err
}

func (d *instrumented) Put(ctx context.Context, location string, content io.Reader, opts *storage.PutOptions) (*storage.Response, error) {
	start := time.Now()
	res, err := d.inner.Put(ctx, location, content, opts)
	d.observe("put", location, start, err)
	return res, err
}

func (d *instrumented) Delete(ctx context.Context, location string, opts *storage.DeleteOptions) (*storage.Response, error) {
	start := time.Now()
	res, err := d.inner.Delete(ctx, location, opts)
	d.observe("delete", location, start, err)
	return res, err
}

func (d *instrumented) Copy(ctx context.Context, src, dest string, opts *storage.CopyOptions) (*storage.Response, error) {
	start := time.Now()
	res, err := d.inner.Copy(ctx, src, dest, opts)
	d.observe("copy", src, start, err)
	return res, err
}

func (d *instrumented) Move(ctx context.Context, src, dest string, opts *storage.CopyOptions) (*storage.Response, error) {
	start := time.Now()
	res, err := d.inner.Move(ctx, src, dest, opts)
	d.observe("move", src, start, err)
	return res, err
}

func (d *instrumented) GetURL(location string) string {
	return d.inner.GetURL(location)
}

func (d *instrumented) GetSignedURL(ctx context.Context, location string, opts *storage.SignedURLOptions) (*storage.SignedURLResponse, error) {
	start := time.Now()
	res, err := d.inner.GetSignedURL(ctx, location, opts)
	d.observe("getSignedUrl", location, start, err)
	return res, err
}

func (d *instrumented) GetStat(ctx context.Context, location string) (*storage.StatResponse, error) {
	start := time.Now()
	res, err := d.inner.GetStat(ctx, location)
	d.observe("getStat", location, start, err)
	return res, err
}

// Bucket returns a decorated handle for the other bucket, reported under
// the same disk name.
func (d *instrumented) Bucket(name string) (storage.Storage, error) {
	b, err := d.inner.Bucket(name)
	if err != nil {
		return nil, err
	}
	return newInstrumented(d.name, b, d.logger), nil
}

// VerifySignedURL delegates to disks that serve their own signed URLs
// through the gateway. Others report MethodNotSupported.
func (d *instrumented) VerifySignedURL(method, location string, q url.Values) error {
	v, ok := d.inner.(storage.SignedURLVerifier)
	if !ok {
		return drverr.MethodNotSupported("verifySignedUrl", d.inner.Driver())
	}
	return v.VerifySignedURL(method, location, q)
}

var (
	_ storage.Storage           = (*instrumented)(nil)
	_ storage.SignedURLVerifier = (*instrumented)(nil)
)
