package storage

import (
	"net/http"
	"strings"
	"time"
)

// Response is returned by operations that carry no content. Raw holds the
// backend's native result for diagnostics.
type Response struct {
	Raw any
}

// ContentResponse carries file content decoded as T.
type ContentResponse[T any] struct {
	Content T
	Raw     any
}

// ExistsResponse answers Exists. Raw is set even when Exists is false.
type ExistsResponse struct {
	Exists bool
	Raw    any
}

// SignedURLResponse carries a time-limited URL.
type SignedURLResponse struct {
	SignedURL string
	Raw       any
}

// StatResponse carries file metadata.
type StatResponse struct {
	Size     int64
	Modified time.Time
	Raw      any
}

// PutOptions tunes a Put call. A nil *PutOptions is valid.
type PutOptions struct {
	ContentType   string
	ContentLength int64
	Metadata      map[string]string
	CacheControl  string
}

// DeleteOptions tunes a Delete call.
type DeleteOptions struct {
	// VersionID targets a specific object version where supported.
	VersionID string
}

// CopyOptions tunes Copy and Move.
type CopyOptions struct {
	// DestBucket copies into another bucket. Empty means the receiver's.
	DestBucket  string
	ContentType string
	Metadata    map[string]string
}

// SignedURLOptions tunes GetSignedURL.
type SignedURLOptions struct {
	// Expiry is the URL lifetime. Zero means DefaultSignedURLExpiry.
	Expiry time.Duration
	// Method is the HTTP verb the URL authorizes (GET or PUT). Empty means GET.
	Method             string
	ContentType        string
	ContentDisposition string
}

func (o *PutOptions) contentType() string {
	if o == nil {
		return ""
	}
	return o.ContentType
}

func (o *PutOptions) metadata() map[string]string {
	if o == nil {
		return nil
	}
	return o.Metadata
}

func (o *PutOptions) cacheControl() string {
	if o == nil {
		return ""
	}
	return o.CacheControl
}

// size returns the declared content length, or -1 when unknown.
func (o *PutOptions) size() int64 {
	if o == nil || o.ContentLength <= 0 {
		return -1
	}
	return o.ContentLength
}

func (o *DeleteOptions) versionID() string {
	if o == nil {
		return ""
	}
	return o.VersionID
}

func (o *CopyOptions) destBucket(fallback string) string {
	if o == nil || o.DestBucket == "" {
		return fallback
	}
	return o.DestBucket
}

func (o *CopyOptions) contentType() string {
	if o == nil {
		return ""
	}
	return o.ContentType
}

func (o *CopyOptions) metadata() map[string]string {
	if o == nil {
		return nil
	}
	return o.Metadata
}

func (o *SignedURLOptions) expiry() time.Duration {
	if o == nil || o.Expiry <= 0 {
		return DefaultSignedURLExpiry
	}
	return o.Expiry
}

func (o *SignedURLOptions) method() string {
	if o == nil || o.Method == "" {
		return http.MethodGet
	}
	return strings.ToUpper(o.Method)
}

func (o *SignedURLOptions) contentTypeValue() string {
	if o == nil {
		return ""
	}
	return o.ContentType
}

func (o *SignedURLOptions) contentDisposition() string {
	if o == nil {
		return ""
	}
	return o.ContentDisposition
}
