package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/bleepstore/bleepdrive/internal/config"
	drverr "github.com/bleepstore/bleepdrive/internal/errors"
	"github.com/bleepstore/bleepdrive/internal/uid"
)

// tmpDirName holds in-flight writes. It lives under the root so the final
// rename never crosses filesystems.
const tmpDirName = ".tmp"

// LocalStorage implements Storage on the local filesystem. Files are stored
// under a root directory, with the location used as the relative path.
type LocalStorage struct {
	root string
	urls gatewayURLs
}

// NewLocalStorage creates a LocalStorage rooted at cfg.Root. It creates the
// root and temp directories if they do not exist and removes temp files
// left behind by a previous crash.
func NewLocalStorage(cfg config.DiskConfig) (*LocalStorage, error) {
	if cfg.Root == "" {
		return nil, errors.New("local: root is required")
	}
	root, err := filepath.Abs(cfg.Root)
	if err != nil {
		return nil, fmt.Errorf("resolving root %q: %w", cfg.Root, err)
	}
	if err := os.MkdirAll(filepath.Join(root, tmpDirName), 0o755); err != nil {
		return nil, fmt.Errorf("creating storage root directory %q: %w", root, err)
	}

	s := &LocalStorage{root: root, urls: newGatewayURLs(DriverLocal, cfg)}
	if err := s.CleanTempFiles(); err != nil {
		return nil, err
	}
	slog.Info("local disk initialized", "root", root, "signed_urls", s.urls.signer != nil)
	return s, nil
}

// Root returns the absolute root directory.
func (s *LocalStorage) Root() string { return s.root }

// CleanTempFiles removes all files in the temp directory. Any temp file
// present at startup is an incomplete write from a previous crash.
func (s *LocalStorage) CleanTempFiles() error {
	tmpDir := filepath.Join(s.root, tmpDirName)
	entries, err := os.ReadDir(tmpDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("reading temp directory: %w", err)
	}
	for _, entry := range entries {
		if !entry.IsDir() {
			os.Remove(filepath.Join(tmpDir, entry.Name()))
		}
	}
	return nil
}

// resolve maps a location to a path under the root. Locations that climb
// out of the root or into the temp directory are rejected.
func (s *LocalStorage) resolve(op, location string) (string, error) {
	for _, seg := range strings.Split(location, "/") {
		if seg == ".." {
			return "", drverr.Unknown(op, location, "InvalidPath", errors.New("location escapes the disk root"))
		}
	}
	clean := path.Clean("/" + location)
	if clean == "/" || clean == "/"+tmpDirName || strings.HasPrefix(clean, "/"+tmpDirName+"/") {
		return "", drverr.Unknown(op, location, "InvalidPath", fmt.Errorf("invalid location %q", location))
	}
	return filepath.Join(s.root, filepath.FromSlash(clean)), nil
}

// HealthCheck verifies that the root directory is accessible.
func (s *LocalStorage) HealthCheck(context.Context) error {
	_, err := os.Stat(s.root)
	return err
}

// Driver implements Storage.
func (s *LocalStorage) Driver() string { return DriverLocal }

// Exists implements Storage. Directories do not count as files.
func (s *LocalStorage) Exists(_ context.Context, location string) (*ExistsResponse, error) {
	p, err := s.resolve("exists", location)
	if err != nil {
		return nil, err
	}
	info, err := os.Stat(p)
	if err != nil {
		c := classifyLocalError(err)
		if c.Kind == drverr.KindFileNotFound {
			return &ExistsResponse{Exists: false, Raw: err}, nil
		}
		return nil, drverr.Classify("exists", location, c, err)
	}
	return &ExistsResponse{Exists: !info.IsDir(), Raw: info}, nil
}

// Get implements Storage.
func (s *LocalStorage) Get(ctx context.Context, location, encoding string) (*ContentResponse[string], error) {
	return getFromBuffer(ctx, s, location, encoding)
}

// GetBuffer implements Storage.
func (s *LocalStorage) GetBuffer(_ context.Context, location string) (*ContentResponse[[]byte], error) {
	p, err := s.resolve("getBuffer", location)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(p)
	if err != nil {
		return nil, s.wrap("getBuffer", location, err)
	}
	return &ContentResponse[[]byte]{Content: data, Raw: p}, nil
}

// GetStream implements Storage. The caller closes the returned file.
func (s *LocalStorage) GetStream(_ context.Context, location string) (io.ReadCloser, error) {
	p, err := s.resolve("getStream", location)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(p)
	if err != nil {
		return nil, s.wrap("getStream", location, err)
	}
	if info, err := f.Stat(); err == nil && info.IsDir() {
		f.Close()
		return nil, drverr.FileNotFound("getStream", location, fmt.Errorf("%s is a directory", p))
	}
	return f, nil
}

// Put implements Storage using the crash-only write pattern: write to a
// temp file, fsync, rename. Parent directories are created as needed.
func (s *LocalStorage) Put(_ context.Context, location string, content io.Reader, _ *PutOptions) (*Response, error) {
	p, err := s.resolve("put", location)
	if err != nil {
		return nil, err
	}
	n, err := s.writeAtomic(p, content)
	if err != nil {
		return nil, s.wrap("put", location, err)
	}
	return &Response{Raw: n}, nil
}

// writeAtomic streams r into dst through a temp file and returns the byte
// count.
func (s *LocalStorage) writeAtomic(dst string, r io.Reader) (int64, error) {
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return 0, fmt.Errorf("creating parent directories: %w", err)
	}

	tmpPath := filepath.Join(s.root, tmpDirName, "tmp-"+uid.New())
	tmpFile, err := os.Create(tmpPath)
	if err != nil {
		return 0, fmt.Errorf("creating temp file: %w", err)
	}

	n, err := io.Copy(tmpFile, r)
	if err != nil {
		tmpFile.Close()
		os.Remove(tmpPath)
		return 0, fmt.Errorf("writing file data: %w", err)
	}

	// Fsync before rename to guarantee durability.
	if err := tmpFile.Sync(); err != nil {
		tmpFile.Close()
		os.Remove(tmpPath)
		return 0, fmt.Errorf("syncing temp file: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		os.Remove(tmpPath)
		return 0, fmt.Errorf("closing temp file: %w", err)
	}

	if err := os.Rename(tmpPath, dst); err != nil {
		os.Remove(tmpPath)
		return 0, fmt.Errorf("renaming temp file to final path: %w", err)
	}
	return n, nil
}

// Delete implements Storage. Deleting a missing file succeeds. Empty parent
// directories are removed up to the root.
func (s *LocalStorage) Delete(_ context.Context, location string, _ *DeleteOptions) (*Response, error) {
	p, err := s.resolve("delete", location)
	if err != nil {
		return nil, err
	}
	if err := os.Remove(p); err != nil {
		c := classifyLocalError(err)
		if c.Kind == drverr.KindFileNotFound {
			return &Response{Raw: err}, nil
		}
		return nil, drverr.Classify("delete", location, c, err)
	}
	cleanEmptyParents(filepath.Dir(p), s.root)
	return &Response{Raw: p}, nil
}

// Copy implements Storage. The destination is written atomically.
func (s *LocalStorage) Copy(_ context.Context, src, dest string, opts *CopyOptions) (*Response, error) {
	if opts.destBucket("") != "" {
		return nil, drverr.MethodNotSupported("copy", DriverLocal)
	}
	srcPath, err := s.resolve("copy", src)
	if err != nil {
		return nil, err
	}
	destPath, err := s.resolve("copy", dest)
	if err != nil {
		return nil, err
	}

	f, err := os.Open(srcPath)
	if err != nil {
		return nil, s.wrap("copy", src, err)
	}
	defer f.Close()

	if _, err := s.writeAtomic(destPath, f); err != nil {
		return nil, s.wrap("copy", src, err)
	}
	return &Response{Raw: destPath}, nil
}

// Move implements Storage as Copy then Delete. A failed delete leaves the
// copy in place and returns the delete error. Moving a file onto itself
// keeps it.
func (s *LocalStorage) Move(ctx context.Context, src, dest string, opts *CopyOptions) (*Response, error) {
	if opts.destBucket("") != "" {
		return nil, drverr.MethodNotSupported("move", DriverLocal)
	}
	srcPath, err := s.resolve("move", src)
	if err != nil {
		return nil, err
	}
	destPath, err := s.resolve("move", dest)
	if err != nil {
		return nil, err
	}
	if srcPath == destPath {
		if _, err := os.Stat(srcPath); err != nil {
			return nil, s.wrap("move", src, err)
		}
		return &Response{Raw: destPath}, nil
	}
	if _, err := MoveObject(ctx, s, src, dest, opts); err != nil {
		return nil, err
	}
	return &Response{Raw: destPath}, nil
}

// GetURL implements Storage: {base_url}/{location}.
func (s *LocalStorage) GetURL(location string) string {
	return s.urls.url(location)
}

// GetSignedURL implements Storage with HMAC signed gateway URLs. Disks
// without a sign_key return MethodNotSupported.
func (s *LocalStorage) GetSignedURL(_ context.Context, location string, opts *SignedURLOptions) (*SignedURLResponse, error) {
	return s.urls.signedURL("getSignedUrl", location, opts)
}

// VerifySignedURL implements SignedURLVerifier.
func (s *LocalStorage) VerifySignedURL(method, location string, q url.Values) error {
	return s.urls.verify(method, location, q)
}

// GetStat implements Storage.
func (s *LocalStorage) GetStat(_ context.Context, location string) (*StatResponse, error) {
	p, err := s.resolve("getStat", location)
	if err != nil {
		return nil, err
	}
	info, err := os.Stat(p)
	if err != nil {
		return nil, s.wrap("getStat", location, err)
	}
	if info.IsDir() {
		return nil, drverr.FileNotFound("getStat", location, fmt.Errorf("%s is a directory", p))
	}
	return &StatResponse{Size: info.Size(), Modified: info.ModTime(), Raw: info}, nil
}

// Bucket is not supported by the local driver.
func (s *LocalStorage) Bucket(string) (Storage, error) {
	return nil, drverr.MethodNotSupported("bucket", DriverLocal)
}

func (s *LocalStorage) wrap(op, location string, err error) error {
	return drverr.Classify(op, location, classifyLocalError(err), err)
}

// classifyLocalError maps filesystem errors onto the taxonomy.
func classifyLocalError(err error) drverr.Classification {
	switch {
	case errors.Is(err, os.ErrNotExist):
		return drverr.Classification{Kind: drverr.KindFileNotFound, Code: "ENOENT"}
	case errors.Is(err, syscall.ENOTDIR):
		return drverr.Classification{Kind: drverr.KindFileNotFound, Code: "ENOTDIR"}
	case errors.Is(err, os.ErrPermission):
		return drverr.Classification{Kind: drverr.KindPermissionMissing, Code: "EACCES"}
	}
	return drverr.Classification{Kind: drverr.KindUnknown}
}

// cleanEmptyParents removes empty directories starting from dir up to (but
// not including) stopAt.
func cleanEmptyParents(dir, stopAt string) {
	dir = filepath.Clean(dir)
	stopAt = filepath.Clean(stopAt)

	for dir != stopAt && strings.HasPrefix(dir, stopAt) {
		if err := os.Remove(dir); err != nil {
			break
		}
		dir = filepath.Dir(dir)
	}
}

var (
	_ Storage           = (*LocalStorage)(nil)
	_ SignedURLVerifier = (*LocalStorage)(nil)
	_ HealthChecker     = (*LocalStorage)(nil)
)
