// Package signer issues and verifies HMAC-SHA256 signed URLs for disks
// whose backend has no native presigning (local, memory, sqlite).
//
// A signed URL carries its parameters in the query string:
//
//	X-Drive-Algorithm=DRIVE-HMAC-SHA256
//	X-Drive-Date=20060102T150405Z
//	X-Drive-Expires=<seconds>
//	X-Drive-Method=GET|PUT
//	X-Drive-Content-Type=...          (optional)
//	X-Drive-Content-Disposition=...   (optional)
//	X-Drive-Signature=<hex>
//
// The signature covers every parameter except itself together with the
// canonical location.
package signer

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"
)

const (
	// Algorithm is the signing algorithm identifier.
	Algorithm = "DRIVE-HMAC-SHA256"

	// MaxExpiry is the longest lifetime a signed URL may carry (7 days).
	MaxExpiry = 7 * 24 * time.Hour

	// dateFormat is the format for X-Drive-Date values.
	dateFormat = "20060102T150405Z"
	// dateShort is the date portion used in key derivation.
	dateShort = "20060102"
	// scopeTerminator is mixed into the derived key.
	scopeTerminator = "drive_request"
)

// Query parameter names.
const (
	ParamAlgorithm          = "X-Drive-Algorithm"
	ParamDate               = "X-Drive-Date"
	ParamExpires            = "X-Drive-Expires"
	ParamMethod             = "X-Drive-Method"
	ParamContentType        = "X-Drive-Content-Type"
	ParamContentDisposition = "X-Drive-Content-Disposition"
	ParamSignature          = "X-Drive-Signature"
)

// Errors returned by Verify.
var (
	ErrMissingSignature = errors.New("signed url: missing signature")
	ErrMalformed        = errors.New("signed url: malformed parameters")
	ErrExpired          = errors.New("signed url: expired")
	ErrMethodMismatch   = errors.New("signed url: method not allowed")
	ErrSignatureInvalid = errors.New("signed url: signature does not match")
)

// Params describes what a signed URL grants.
type Params struct {
	Location           string
	Method             string
	Expiry             time.Duration
	ContentType        string
	ContentDisposition string
}

// Signer signs and verifies URLs with a shared secret. It is safe for
// concurrent use.
type Signer struct {
	secret []byte
	now    func() time.Time
}

// Option configures a Signer.
type Option func(*Signer)

// WithClock overrides the time source. Used by tests.
func WithClock(now func() time.Time) Option {
	return func(s *Signer) { s.now = now }
}

// New creates a Signer for secret.
func New(secret string, opts ...Option) *Signer {
	s := &Signer{secret: []byte(secret), now: time.Now}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Query returns the signed query parameters for p. Expiry is clamped to
// [1s, MaxExpiry]; an empty method means GET.
func (s *Signer) Query(p Params) url.Values {
	method := strings.ToUpper(p.Method)
	if method == "" {
		method = http.MethodGet
	}
	expiry := p.Expiry
	if expiry < time.Second {
		expiry = time.Second
	}
	if expiry > MaxExpiry {
		expiry = MaxExpiry
	}

	signTime := s.now().UTC()
	q := url.Values{}
	q.Set(ParamAlgorithm, Algorithm)
	q.Set(ParamDate, signTime.Format(dateFormat))
	q.Set(ParamExpires, strconv.FormatInt(int64(expiry/time.Second), 10))
	q.Set(ParamMethod, method)
	if p.ContentType != "" {
		q.Set(ParamContentType, p.ContentType)
	}
	if p.ContentDisposition != "" {
		q.Set(ParamContentDisposition, p.ContentDisposition)
	}

	q.Set(ParamSignature, s.signature(signTime.Format(dateShort), p.Location, q))
	return q
}

// SignURL appends the signed query for p to baseURL.
func (s *Signer) SignURL(baseURL string, p Params) string {
	sep := "?"
	if strings.Contains(baseURL, "?") {
		sep = "&"
	}
	return baseURL + sep + s.Query(p).Encode()
}

// Verify checks that q is a valid, unexpired signature for location and
// that it authorizes method. A GET signature also authorizes HEAD.
func (s *Signer) Verify(method, location string, q url.Values) error {
	sig := q.Get(ParamSignature)
	if sig == "" {
		return ErrMissingSignature
	}
	if q.Get(ParamAlgorithm) != Algorithm {
		return fmt.Errorf("%w: unsupported algorithm", ErrMalformed)
	}

	date := q.Get(ParamDate)
	signTime, err := time.Parse(dateFormat, date)
	if err != nil {
		return fmt.Errorf("%w: invalid %s", ErrMalformed, ParamDate)
	}
	expires, err := strconv.ParseInt(q.Get(ParamExpires), 10, 64)
	if err != nil || expires < 1 || time.Duration(expires)*time.Second > MaxExpiry {
		return fmt.Errorf("%w: invalid %s", ErrMalformed, ParamExpires)
	}
	if s.now().UTC().After(signTime.Add(time.Duration(expires) * time.Second)) {
		return ErrExpired
	}

	expected := s.signature(date[:8], location, q)
	if subtle.ConstantTimeCompare([]byte(expected), []byte(sig)) != 1 {
		return ErrSignatureInvalid
	}

	signed := q.Get(ParamMethod)
	method = strings.ToUpper(method)
	if method != signed && !(method == http.MethodHead && signed == http.MethodGet) {
		return ErrMethodMismatch
	}
	return nil
}

// signature computes the hex signature over location and every parameter
// in q except the signature itself.
func (s *Signer) signature(dateStr, location string, q url.Values) string {
	params := url.Values{}
	for k, v := range q {
		if k != ParamSignature {
			params[k] = v
		}
	}
	stringToSign := Algorithm + "\n" +
		canonicalLocation(location) + "\n" +
		canonicalQueryString(params)
	return hex.EncodeToString(hmacSHA256(deriveKey(s.secret, dateStr), stringToSign))
}

// deriveKey scopes the secret to a single day.
func deriveKey(secret []byte, dateStr string) []byte {
	dateKey := hmacSHA256(append([]byte("DRIVE"), secret...), dateStr)
	return hmacSHA256(dateKey, scopeTerminator)
}

// canonicalLocation returns the URI-encoded location with a leading slash.
func canonicalLocation(location string) string {
	return "/" + URIEncode(strings.TrimLeft(location, "/"), false)
}

// canonicalQueryString returns the sorted, URI-encoded query string.
func canonicalQueryString(values url.Values) string {
	if len(values) == 0 {
		return ""
	}
	var pairs []string
	for key, vals := range values {
		encodedKey := URIEncode(key, true)
		if len(vals) == 0 {
			pairs = append(pairs, encodedKey+"=")
		}
		for _, val := range vals {
			pairs = append(pairs, encodedKey+"="+URIEncode(val, true))
		}
	}
	sort.Strings(pairs)
	return strings.Join(pairs, "&")
}

// URIEncode percent-encodes s, leaving A-Z, a-z, 0-9, '-', '_', '.', '~'
// untouched. '/' is kept when encodeSlash is false.
func URIEncode(s string, encodeSlash bool) string {
	var sb strings.Builder
	sb.Grow(len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		if isUnreserved(c) || (!encodeSlash && c == '/') {
			sb.WriteByte(c)
			continue
		}
		sb.WriteByte('%')
		sb.WriteByte(hexDigit(c >> 4))
		sb.WriteByte(hexDigit(c & 0x0f))
	}
	return sb.String()
}

func isUnreserved(c byte) bool {
	return (c >= 'A' && c <= 'Z') ||
		(c >= 'a' && c <= 'z') ||
		(c >= '0' && c <= '9') ||
		c == '-' || c == '_' || c == '.' || c == '~'
}

func hexDigit(b byte) byte {
	if b < 10 {
		return '0' + b
	}
	return 'A' + b - 10
}

func hmacSHA256(key []byte, data string) []byte {
	h := hmac.New(sha256.New, key)
	h.Write([]byte(data))
	return h.Sum(nil)
}
