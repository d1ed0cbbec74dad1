package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"

	"github.com/bleepstore/bleepdrive/internal/config"
	drverr "github.com/bleepstore/bleepdrive/internal/errors"
)

// AzureBlobAPI is the subset of the Azure Blob Storage client the adapter
// uses. It allows mocking in tests.
type AzureBlobAPI interface {
	// GetProperties returns the blob's size, type and modification time.
	GetProperties(ctx context.Context, containerName, blobName string) (*AzureBlobProps, error)
	// DownloadStream opens the blob for reading.
	DownloadStream(ctx context.Context, containerName, blobName string) (io.ReadCloser, *AzureBlobProps, error)
	// UploadStream uploads body as a block blob, overwriting any existing blob.
	UploadStream(ctx context.Context, containerName, blobName string, body io.Reader, attrs AzureUploadAttrs) error
	// DeleteBlob deletes a blob. Returns an error if the blob does not exist.
	DeleteBlob(ctx context.Context, containerName, blobName string) error
	// CopyBlob starts a server-side copy, possibly across containers, and
	// returns the copy status reported by the service.
	CopyBlob(ctx context.Context, srcContainer, srcBlob, dstContainer, dstBlob string, metadata map[string]string) (string, error)
	// SignedURL returns the blob URL with a service SAS appended.
	SignedURL(containerName, blobName string, opts AzureSASOptions) (string, error)
}

// AzureBlobProps holds blob attributes.
type AzureBlobProps struct {
	Size        int64
	ContentType string
	Modified    time.Time
	// CopyStatus is the state of the last copy into this blob: pending,
	// success, aborted or failed. Empty when the blob was never copied.
	CopyStatus            string
	CopyStatusDescription string
}

// Copy states reported by the blob service.
const (
	azureCopyPending = "pending"
	azureCopySuccess = "success"
)

// defaultAzureCopyPoll is how often a pending copy is checked.
const defaultAzureCopyPoll = 500 * time.Millisecond

// AzureUploadAttrs are the blob headers and metadata set on upload.
type AzureUploadAttrs struct {
	ContentType  string
	CacheControl string
	Metadata     map[string]string
}

// AzureSASOptions describes a service SAS.
type AzureSASOptions struct {
	Read               bool
	Write              bool
	Expiry             time.Time
	ContentType        string
	ContentDisposition string
}

// AzureStorage implements Storage on Azure Blob Storage. Buckets map to
// containers.
type AzureStorage struct {
	container  string
	accountURL string
	client     AzureBlobAPI
	copyPoll   time.Duration
}

// NewAzureStorage creates the Azure SDK client for cfg. The account URL
// defaults to https://{key}.blob.core.windows.net when only the account
// name is given.
func NewAzureStorage(cfg config.DiskConfig) (*AzureStorage, error) {
	if cfg.Bucket == "" {
		return nil, errors.New("azure: container (bucket) is required")
	}
	accountURL := cfg.AccountURL
	if accountURL == "" {
		if cfg.Key == "" {
			return nil, errors.New("azure: account_url or key (account name) is required")
		}
		accountURL = fmt.Sprintf("https://%s.blob.core.windows.net", cfg.Key)
	}

	client, err := newRealAzureClient(accountURL, cfg.ConnectionString, cfg.Key, cfg.Secret)
	if err != nil {
		return nil, fmt.Errorf("creating Azure client: %w", err)
	}

	slog.Info("azure disk initialized", "container", cfg.Bucket, "account", accountURL)
	return NewAzureStorageWithClient(cfg.Bucket, accountURL, client), nil
}

// NewAzureStorageWithClient creates an AzureStorage with a pre-configured
// client. This is primarily used for testing with mock clients.
func NewAzureStorageWithClient(container, accountURL string, client AzureBlobAPI) *AzureStorage {
	return &AzureStorage{
		container:  container,
		accountURL: strings.TrimRight(accountURL, "/"),
		client:     client,
		copyPoll:   defaultAzureCopyPoll,
	}
}

// Driver implements Storage.
func (s *AzureStorage) Driver() string { return DriverAzure }

// Exists implements Storage.
func (s *AzureStorage) Exists(ctx context.Context, location string) (*ExistsResponse, error) {
	props, err := s.client.GetProperties(ctx, s.container, location)
	if err != nil {
		c := classifyAzureError(err)
		if c.Kind == drverr.KindFileNotFound {
			return &ExistsResponse{Exists: false, Raw: err}, nil
		}
		return nil, drverr.Classify("exists", location, c, err)
	}
	return &ExistsResponse{Exists: true, Raw: props}, nil
}

// Get implements Storage.
func (s *AzureStorage) Get(ctx context.Context, location, encoding string) (*ContentResponse[string], error) {
	return getFromBuffer(ctx, s, location, encoding)
}

// GetBuffer implements Storage.
func (s *AzureStorage) GetBuffer(ctx context.Context, location string) (*ContentResponse[[]byte], error) {
	body, props, err := s.client.DownloadStream(ctx, s.container, location)
	if err != nil {
		return nil, s.wrap("getBuffer", location, err)
	}
	data, err := readAllClose(body)
	if err != nil {
		return nil, s.wrap("getBuffer", location, err)
	}
	return &ContentResponse[[]byte]{Content: data, Raw: props}, nil
}

// GetStream implements Storage.
func (s *AzureStorage) GetStream(ctx context.Context, location string) (io.ReadCloser, error) {
	body, _, err := s.client.DownloadStream(ctx, s.container, location)
	if err != nil {
		return nil, s.wrap("getStream", location, err)
	}
	return body, nil
}

// Put implements Storage.
func (s *AzureStorage) Put(ctx context.Context, location string, content io.Reader, opts *PutOptions) (*Response, error) {
	attrs := AzureUploadAttrs{
		ContentType:  opts.contentType(),
		CacheControl: opts.cacheControl(),
		Metadata:     opts.metadata(),
	}
	if err := s.client.UploadStream(ctx, s.container, location, content, attrs); err != nil {
		return nil, s.wrap("put", location, err)
	}
	return &Response{Raw: attrs}, nil
}

// Delete implements Storage.
func (s *AzureStorage) Delete(ctx context.Context, location string, _ *DeleteOptions) (*Response, error) {
	if err := s.client.DeleteBlob(ctx, s.container, location); err != nil {
		c := classifyAzureError(err)
		if c.Kind == drverr.KindFileNotFound {
			return &Response{Raw: err}, nil
		}
		return nil, drverr.Classify("delete", location, c, err)
	}
	return &Response{Raw: location}, nil
}

// Copy implements Storage. Azure copies from a source URL; the adapter
// builds it from the receiver's container. The service may accept a copy
// and finish it later, so Copy waits until the destination reports success.
func (s *AzureStorage) Copy(ctx context.Context, src, dest string, opts *CopyOptions) (*Response, error) {
	dstContainer := opts.destBucket(s.container)
	status, err := s.client.CopyBlob(ctx, s.container, src, dstContainer, dest, opts.metadata())
	if err != nil {
		return nil, s.wrap("copy", src, err)
	}
	if err := s.waitForCopy(ctx, dstContainer, dest, status); err != nil {
		return nil, err
	}
	return &Response{Raw: s.accountURL + "/" + dstContainer + "/" + dest}, nil
}

// waitForCopy polls the destination while its copy is pending.
func (s *AzureStorage) waitForCopy(ctx context.Context, container, dest, status string) error {
	var desc string
	for status == azureCopyPending {
		timer := time.NewTimer(s.copyPoll)
		select {
		case <-ctx.Done():
			timer.Stop()
			return drverr.Unknown("copy", dest, "CopyPending", ctx.Err())
		case <-timer.C:
		}
		props, err := s.client.GetProperties(ctx, container, dest)
		if err != nil {
			return s.wrap("copy", dest, err)
		}
		status, desc = props.CopyStatus, props.CopyStatusDescription
	}
	if status != "" && status != azureCopySuccess {
		return drverr.Unknown("copy", dest, "CopyFailed", fmt.Errorf("azure: copy %s: %s", status, desc))
	}
	return nil
}

// Move implements Storage.
func (s *AzureStorage) Move(ctx context.Context, src, dest string, opts *CopyOptions) (*Response, error) {
	return MoveObject(ctx, s, src, dest, opts)
}

// GetURL implements Storage: {accountURL}/{container}/{location}.
func (s *AzureStorage) GetURL(location string) string {
	return fmt.Sprintf("%s/%s/%s", s.accountURL, s.container, location)
}

// GetSignedURL implements Storage with a service SAS. Disks without a
// shared key credential cannot sign.
func (s *AzureStorage) GetSignedURL(ctx context.Context, location string, opts *SignedURLOptions) (*SignedURLResponse, error) {
	sasOpts := AzureSASOptions{
		Expiry:             time.Now().Add(opts.expiry()),
		ContentType:        opts.contentTypeValue(),
		ContentDisposition: opts.contentDisposition(),
	}
	if opts.method() == http.MethodPut {
		sasOpts.Write = true
	} else {
		sasOpts.Read = true
	}

	signed, err := s.client.SignedURL(s.container, location, sasOpts)
	if err != nil {
		if errors.Is(err, errAzureNoSharedKey) {
			return nil, drverr.MethodNotSupported("getSignedUrl", DriverAzure)
		}
		return nil, s.wrap("getSignedUrl", location, err)
	}
	return &SignedURLResponse{SignedURL: signed, Raw: sasOpts}, nil
}

// GetStat implements Storage.
func (s *AzureStorage) GetStat(ctx context.Context, location string) (*StatResponse, error) {
	props, err := s.client.GetProperties(ctx, s.container, location)
	if err != nil {
		return nil, s.wrap("getStat", location, err)
	}
	return &StatResponse{Size: props.Size, Modified: props.Modified, Raw: props}, nil
}

// Bucket implements Storage, returning a handle bound to another container.
func (s *AzureStorage) Bucket(name string) (Storage, error) {
	if err := checkBucketName(name); err != nil {
		return nil, err
	}
	b := *s
	b.container = name
	return &b, nil
}

func (s *AzureStorage) wrap(op, location string, err error) error {
	return drverr.Classify(op, location, classifyAzureError(err), err)
}

// classifyAzureError reads the service error code and status from an
// azcore.ResponseError.
func classifyAzureError(err error) drverr.Classification {
	var respErr *azcore.ResponseError
	if errors.As(err, &respErr) {
		return classifyResponse(respErr.StatusCode, respErr.ErrorCode)
	}
	return drverr.Classification{Kind: drverr.KindUnknown}
}

var _ Storage = (*AzureStorage)(nil)
