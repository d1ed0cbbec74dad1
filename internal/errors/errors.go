// Package errors defines the error taxonomy surfaced by every BleepDrive disk.
//
// Adapters classify backend-native failures into one of the kinds below at
// the contract boundary. The native error is kept as the cause and remains
// reachable through errors.Unwrap / errors.As.
package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind is the machine-readable category of a drive error.
type Kind string

// Error kinds.
const (
	// KindFileNotFound means the target key does not exist.
	KindFileNotFound Kind = "E_FILE_NOT_FOUND"
	// KindUnknown is any backend failure that could not be classified.
	KindUnknown Kind = "E_UNKNOWN"
	// KindAuthorizationRequired means the backend rejected the credentials.
	KindAuthorizationRequired Kind = "E_AUTHORIZATION_REQUIRED"
	// KindPermissionMissing means the credentials lack access to the resource.
	KindPermissionMissing Kind = "E_PERMISSION_MISSING"
	// KindMethodNotSupported means the disk's driver cannot perform the operation.
	KindMethodNotSupported Kind = "E_METHOD_NOT_SUPPORTED"
	// KindInvalidConfig means a disk is missing or misconfigured.
	KindInvalidConfig Kind = "E_INVALID_CONFIG"
	// KindDriverNotSupported means a disk names a driver that is not registered.
	KindDriverNotSupported Kind = "E_DRIVER_NOT_SUPPORTED"
	// KindInvalidSignature means a signed URL failed verification or expired.
	KindInvalidSignature Kind = "E_INVALID_SIGNATURE"
)

// httpStatus maps each kind to the status the HTTP gateway answers with.
var httpStatus = map[Kind]int{
	KindFileNotFound:          http.StatusNotFound,
	KindUnknown:               http.StatusInternalServerError,
	KindAuthorizationRequired: http.StatusUnauthorized,
	KindPermissionMissing:     http.StatusForbidden,
	KindMethodNotSupported:    http.StatusNotImplemented,
	KindInvalidConfig:         http.StatusInternalServerError,
	KindDriverNotSupported:    http.StatusInternalServerError,
	KindInvalidSignature:      http.StatusForbidden,
}

// Error is the only error type that crosses the storage contract.
type Error struct {
	// Kind is the taxonomy category.
	Kind Kind
	// Code is the backend-specific error code (e.g. "NoSuchBucket",
	// "BlobNotFound", "404"). Empty when the backend gave none.
	Code string
	// Op is the contract operation that failed (e.g. "put", "copy").
	Op string
	// Path is the location involved, if any.
	Path string
	// Err is the original cause.
	Err error
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Kind, describe(e.Kind))
	if e.Op != "" {
		msg = e.Op + " " + msg
	}
	if e.Path != "" {
		msg += fmt.Sprintf(" (path=%s)", e.Path)
	}
	if e.Code != "" {
		msg += fmt.Sprintf(" [code=%s]", e.Code)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the original cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target is an *Error of the same kind, so that
// errors.Is(err, ErrFileNotFound) matches any not-found error.
func (e *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		return e.Kind == t.Kind
	}
	return false
}

// HTTPStatus returns the HTTP status code for the error's kind.
func (e *Error) HTTPStatus() int {
	if s, ok := httpStatus[e.Kind]; ok {
		return s
	}
	return http.StatusInternalServerError
}

func describe(k Kind) string {
	switch k {
	case KindFileNotFound:
		return "file not found"
	case KindAuthorizationRequired:
		return "authorization required"
	case KindPermissionMissing:
		return "permission missing"
	case KindMethodNotSupported:
		return "method not supported by driver"
	case KindInvalidConfig:
		return "invalid configuration"
	case KindDriverNotSupported:
		return "driver not supported"
	case KindInvalidSignature:
		return "invalid or expired signature"
	default:
		return "unknown exception"
	}
}

// Sentinels for errors.Is comparisons.
var (
	ErrFileNotFound          = &Error{Kind: KindFileNotFound}
	ErrUnknown               = &Error{Kind: KindUnknown}
	ErrAuthorizationRequired = &Error{Kind: KindAuthorizationRequired}
	ErrPermissionMissing     = &Error{Kind: KindPermissionMissing}
	ErrMethodNotSupported    = &Error{Kind: KindMethodNotSupported}
	ErrInvalidConfig         = &Error{Kind: KindInvalidConfig}
	ErrDriverNotSupported    = &Error{Kind: KindDriverNotSupported}
	ErrInvalidSignature      = &Error{Kind: KindInvalidSignature}
)

// FileNotFound builds a not-found error for path.
func FileNotFound(op, path string, err error) *Error {
	return &Error{Kind: KindFileNotFound, Op: op, Path: path, Err: err}
}

// Unknown builds an unclassified error carrying the backend code and cause.
func Unknown(op, path, code string, err error) *Error {
	return &Error{Kind: KindUnknown, Op: op, Path: path, Code: code, Err: err}
}

// AuthorizationRequired builds an authentication failure.
func AuthorizationRequired(op, path, code string, err error) *Error {
	return &Error{Kind: KindAuthorizationRequired, Op: op, Path: path, Code: code, Err: err}
}

// PermissionMissing builds an access-denied failure.
func PermissionMissing(op, path, code string, err error) *Error {
	return &Error{Kind: KindPermissionMissing, Op: op, Path: path, Code: code, Err: err}
}

// MethodNotSupported reports that driver cannot perform op.
func MethodNotSupported(op, driver string) *Error {
	return &Error{Kind: KindMethodNotSupported, Op: op, Code: driver}
}

// InvalidConfig reports a configuration problem for the named disk.
func InvalidConfig(disk string, err error) *Error {
	return &Error{Kind: KindInvalidConfig, Path: disk, Err: err}
}

// DriverNotSupported reports an unregistered driver name.
func DriverNotSupported(driver string) *Error {
	return &Error{Kind: KindDriverNotSupported, Code: driver}
}

// InvalidSignature reports a failed signed-URL verification.
func InvalidSignature(path, reason string) *Error {
	return &Error{Kind: KindInvalidSignature, Path: path, Err: errors.New(reason)}
}

// KindOf returns the kind of err, or KindUnknown for errors outside the
// taxonomy. It returns "" for a nil error.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var de *Error
	if errors.As(err, &de) {
		return de.Kind
	}
	return KindUnknown
}

// IsNotFound reports whether err is a FileNotFound error.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrFileNotFound)
}

// HTTPStatus returns the HTTP status code for any error.
func HTTPStatus(err error) int {
	var de *Error
	if errors.As(err, &de) {
		return de.HTTPStatus()
	}
	return http.StatusInternalServerError
}

// Classification carries the result of mapping a native error.
type Classification struct {
	Kind Kind
	Code string
}

// Classify wraps a native error into the taxonomy using a pre-computed
// classification. A nil err returns nil.
func Classify(op, path string, c Classification, err error) error {
	if err == nil {
		return nil
	}
	var de *Error
	if errors.As(err, &de) {
		return err
	}
	return &Error{Kind: c.Kind, Op: op, Path: path, Code: c.Code, Err: err}
}
