package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"golang.org/x/text/encoding/htmlindex"

	drverr "github.com/bleepstore/bleepdrive/internal/errors"
)

// DefaultEncoding is the character encoding Get uses when none is given.
const DefaultEncoding = "utf-8"

// checkBucketName rejects the empty bucket name every bucketed driver
// refuses in Bucket.
func checkBucketName(name string) error {
	if name == "" {
		return drverr.Unknown("bucket", "", "InvalidBucketName", errors.New("bucket name is empty"))
	}
	return nil
}

// decodeContent converts raw bytes into a string using the named encoding.
// Encoding names follow the WHATWG label set ("utf-8", "latin1",
// "windows-1252", "shift_jis", ...).
func decodeContent(op, location string, data []byte, encoding string) (string, error) {
	if encoding == "" {
		encoding = DefaultEncoding
	}
	enc, err := htmlindex.Get(encoding)
	if err != nil {
		return "", drverr.Unknown(op, location, "EncodingNotSupported", fmt.Errorf("encoding %q: %w", encoding, err))
	}
	name, _ := htmlindex.Name(enc)
	if name == "utf-8" {
		return string(data), nil
	}
	out, err := enc.NewDecoder().Bytes(data)
	if err != nil {
		return "", drverr.Unknown(op, location, "DecodeFailed", err)
	}
	return string(out), nil
}

// getFromBuffer implements Get on top of a GetBuffer call.
func getFromBuffer(ctx context.Context, s Storage, location, encoding string) (*ContentResponse[string], error) {
	buf, err := s.GetBuffer(ctx, location)
	if err != nil {
		return nil, err
	}
	text, err := decodeContent("get", location, buf.Content, encoding)
	if err != nil {
		return nil, err
	}
	return &ContentResponse[string]{Content: text, Raw: buf.Raw}, nil
}

// MoveObject copies src to dest on s and then deletes src. When the delete
// fails the copy is left in place and the delete error is returned.
func MoveObject(ctx context.Context, s Storage, src, dest string, opts *CopyOptions) (*Response, error) {
	if _, err := s.Copy(ctx, src, dest, opts); err != nil {
		return nil, err
	}
	return s.Delete(ctx, src, nil)
}

// classifyResponse maps a backend error code and HTTP status to a kind. The
// code wins when it is recognized. A missing bucket or container is never
// FileNotFound: only object absence is.
func classifyResponse(status int, code string) drverr.Classification {
	if kind, ok := classifyCode(code); ok {
		return drverr.Classification{Kind: kind, Code: code}
	}
	if isMissingBucketCode(code) {
		return drverr.Classification{Kind: drverr.KindUnknown, Code: code}
	}
	if code == "" && status != 0 {
		code = strconv.Itoa(status)
	}
	switch status {
	case http.StatusNotFound:
		return drverr.Classification{Kind: drverr.KindFileNotFound, Code: code}
	case http.StatusUnauthorized:
		return drverr.Classification{Kind: drverr.KindAuthorizationRequired, Code: code}
	case http.StatusForbidden:
		return drverr.Classification{Kind: drverr.KindPermissionMissing, Code: code}
	}
	return drverr.Classification{Kind: drverr.KindUnknown, Code: code}
}

func isMissingBucketCode(code string) bool {
	switch code {
	case "NoSuchBucket", "ContainerNotFound", "BucketNotFound":
		return true
	}
	return false
}

// classifyCode maps an object-storage error code to a kind. ok is false when
// the code carries no classification of its own.
func classifyCode(code string) (drverr.Kind, bool) {
	switch code {
	case "NoSuchKey", "NotFound", "BlobNotFound", "NoSuchObject", "ResourceNotFound":
		return drverr.KindFileNotFound, true
	case "AccessDenied", "Forbidden", "AuthorizationPermissionMismatch",
		"AuthorizationFailure", "InsufficientAccountPermissions", "AllAccessDisabled":
		return drverr.KindPermissionMissing, true
	case "InvalidAccessKeyId", "SignatureDoesNotMatch", "AuthenticationFailed",
		"InvalidToken", "ExpiredToken", "Unauthorized", "NoAuthenticationInformation":
		return drverr.KindAuthorizationRequired, true
	}
	return "", false
}

// readAllClose drains and closes rc.
func readAllClose(rc io.ReadCloser) ([]byte, error) {
	defer rc.Close()
	return io.ReadAll(rc)
}

// joinURL joins a base URL and a location with exactly one slash.
func joinURL(base, location string) string {
	return strings.TrimRight(base, "/") + "/" + strings.TrimLeft(location, "/")
}

func protocol(secure bool) string {
	if secure {
		return "https"
	}
	return "http"
}

// endpointURL ensures endpoint carries a scheme.
func endpointURL(endpoint string, secure bool) string {
	if strings.Contains(endpoint, "://") {
		return endpoint
	}
	return protocol(secure) + "://" + endpoint
}

// endpointHost strips the scheme and any trailing slash from endpoint.
func endpointHost(endpoint string) string {
	if i := strings.Index(endpoint, "://"); i >= 0 {
		endpoint = endpoint[i+3:]
	}
	return strings.TrimRight(endpoint, "/")
}
