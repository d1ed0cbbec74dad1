package storage

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/bleepstore/bleepdrive/internal/config"
	drverr "github.com/bleepstore/bleepdrive/internal/errors"
	"github.com/bleepstore/bleepdrive/internal/signer"
)

// SignedURLVerifier is implemented by disks whose signed URLs are served by
// the BleepDrive gateway rather than by the backend itself.
type SignedURLVerifier interface {
	VerifySignedURL(method, location string, q url.Values) error
}

// gatewayURLs builds public and signed URLs for disks served through the
// HTTP gateway (local, memory and sqlite).
type gatewayURLs struct {
	driver  string
	baseURL string
	// signer is nil when the disk has no sign_key.
	signer *signer.Signer
}

func newGatewayURLs(driver string, cfg config.DiskConfig) gatewayURLs {
	g := gatewayURLs{
		driver:  driver,
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
	}
	if cfg.SignKey != "" {
		g.signer = signer.New(cfg.SignKey)
	}
	return g
}

// url returns {base_url}/{location} with the location path-encoded.
func (g gatewayURLs) url(location string) string {
	return g.baseURL + "/" + signer.URIEncode(strings.TrimLeft(location, "/"), false)
}

func (g gatewayURLs) signedURL(op, location string, opts *SignedURLOptions) (*SignedURLResponse, error) {
	if g.signer == nil {
		return nil, drverr.MethodNotSupported(op, g.driver)
	}
	expiry := opts.expiry()
	if expiry > signer.MaxExpiry {
		return nil, drverr.Unknown(op, location, "ExpiryTooLong",
			fmt.Errorf("expiry %s exceeds the %s maximum", expiry, signer.MaxExpiry))
	}
	p := signer.Params{
		Location:           location,
		Method:             opts.method(),
		Expiry:             expiry,
		ContentType:        opts.contentTypeValue(),
		ContentDisposition: opts.contentDisposition(),
	}
	return &SignedURLResponse{SignedURL: g.signer.SignURL(g.url(location), p), Raw: p}, nil
}

func (g gatewayURLs) verify(method, location string, q url.Values) error {
	if g.signer == nil {
		return drverr.MethodNotSupported("verifySignedUrl", g.driver)
	}
	if err := g.signer.Verify(method, location, q); err != nil {
		return drverr.InvalidSignature(location, fmt.Sprintf("%s %s: %v", method, location, err))
	}
	return nil
}
