package storage

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/bleepstore/bleepdrive/internal/config"
	drverr "github.com/bleepstore/bleepdrive/internal/errors"
)

func newTestLocalStorage(t *testing.T, signKey string) *LocalStorage {
	t.Helper()
	s, err := NewLocalStorage(config.DiskConfig{
		Driver:  "local",
		Root:    t.TempDir(),
		BaseURL: "http://localhost:9100/files/local/",
		SignKey: signKey,
	})
	if err != nil {
		t.Fatalf("NewLocalStorage failed: %v", err)
	}
	return s
}

func TestLocalContract(t *testing.T) {
	testStorageContract(t, newTestLocalStorage(t, "secret"))
}

func TestLocalPutAtomicWrite(t *testing.T) {
	s := newTestLocalStorage(t, "")
	mustPut(t, s, "atomic.txt", "atomic content")

	// Temp dir should be empty after a successful write.
	entries, err := os.ReadDir(filepath.Join(s.Root(), tmpDirName))
	if err != nil {
		t.Fatalf("ReadDir .tmp failed: %v", err)
	}
	if len(entries) != 0 {
		t.Errorf("expected empty .tmp dir, found %d entries", len(entries))
	}

	data, err := os.ReadFile(filepath.Join(s.Root(), "atomic.txt"))
	if err != nil {
		t.Fatalf("ReadFile failed: %v", err)
	}
	if string(data) != "atomic content" {
		t.Errorf("file content = %q", data)
	}
}

func TestLocalCleanTempFilesOnStartup(t *testing.T) {
	root := t.TempDir()
	tmpDir := filepath.Join(root, tmpDirName)
	if err := os.MkdirAll(tmpDir, 0o755); err != nil {
		t.Fatal(err)
	}
	for _, name := range []string{"tmp-aaa", "tmp-bbb"} {
		if err := os.WriteFile(filepath.Join(tmpDir, name), []byte("partial"), 0o644); err != nil {
			t.Fatal(err)
		}
	}

	if _, err := NewLocalStorage(config.DiskConfig{Root: root}); err != nil {
		t.Fatalf("NewLocalStorage failed: %v", err)
	}
	entries, _ := os.ReadDir(tmpDir)
	if len(entries) != 0 {
		t.Errorf("expected leftover temp files to be removed, found %d", len(entries))
	}
}

func TestLocalDeleteCleansEmptyDirs(t *testing.T) {
	s := newTestLocalStorage(t, "")
	ctx := context.Background()
	mustPut(t, s, "a/b/c/file.txt", "x")

	if _, err := s.Delete(ctx, "a/b/c/file.txt", nil); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if _, err := os.Stat(filepath.Join(s.Root(), "a")); !os.IsNotExist(err) {
		t.Error("empty parent directories should be removed")
	}
	if _, err := os.Stat(s.Root()); err != nil {
		t.Errorf("root must survive: %v", err)
	}
}

func TestLocalExistsDirectory(t *testing.T) {
	s := newTestLocalStorage(t, "")
	mustPut(t, s, "dir/file.txt", "x")

	res, err := s.Exists(context.Background(), "dir")
	if err != nil {
		t.Fatalf("Exists failed: %v", err)
	}
	if res.Exists {
		t.Error("a directory is not a file")
	}
	_, err = s.GetStat(context.Background(), "dir")
	assertKind(t, err, drverr.KindFileNotFound)
}

func TestLocalRejectsEscapingPaths(t *testing.T) {
	s := newTestLocalStorage(t, "")
	ctx := context.Background()

	for _, loc := range []string{"../outside.txt", "a/../../outside.txt", ".tmp/x", ""} {
		t.Run(loc, func(t *testing.T) {
			_, err := s.Put(ctx, loc, strings.NewReader("x"), nil)
			assertKind(t, err, drverr.KindUnknown)
		})
	}
	if _, err := os.Stat(filepath.Join(filepath.Dir(s.Root()), "outside.txt")); !os.IsNotExist(err) {
		t.Error("file written outside the root")
	}
}

func TestLocalMoveIntoNewDirectory(t *testing.T) {
	s := newTestLocalStorage(t, "")
	ctx := context.Background()
	mustPut(t, s, "in/src.txt", "payload")

	if _, err := s.Move(ctx, "in/src.txt", "out/deeper/dst.txt", nil); err != nil {
		t.Fatalf("Move failed: %v", err)
	}
	assertContent(t, s, "out/deeper/dst.txt", "payload")
	if _, err := os.Stat(filepath.Join(s.Root(), "in")); !os.IsNotExist(err) {
		t.Error("source directory should be cleaned up")
	}
}

func TestLocalMoveOntoItself(t *testing.T) {
	s := newTestLocalStorage(t, "")
	mustPut(t, s, "same.txt", "stay")
	if _, err := s.Move(context.Background(), "same.txt", "./same.txt", nil); err != nil {
		t.Fatalf("Move failed: %v", err)
	}
	assertContent(t, s, "same.txt", "stay")
}

func TestLocalMoveLeavesNoTempFiles(t *testing.T) {
	s := newTestLocalStorage(t, "")
	ctx := context.Background()
	mustPut(t, s, "a.txt", "payload")
	if _, err := s.Move(ctx, "a.txt", "b.txt", nil); err != nil {
		t.Fatalf("Move failed: %v", err)
	}
	entries, err := os.ReadDir(s.Root())
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	var names []string
	for _, e := range entries {
		if e.Name() != tmpDirName {
			names = append(names, e.Name())
		}
	}
	if len(names) != 1 || names[0] != "b.txt" {
		t.Errorf("root holds %v, want [b.txt]", names)
	}
	tmp, err := os.ReadDir(filepath.Join(s.Root(), tmpDirName))
	if err != nil {
		t.Fatalf("ReadDir tmp: %v", err)
	}
	if len(tmp) != 0 {
		t.Errorf("%d temp files left behind", len(tmp))
	}
}

func TestLocalUnsupported(t *testing.T) {
	s := newTestLocalStorage(t, "")
	ctx := context.Background()

	_, err := s.Bucket("other")
	assertKind(t, err, drverr.KindMethodNotSupported)

	_, err = s.GetSignedURL(ctx, "a.txt", nil)
	assertKind(t, err, drverr.KindMethodNotSupported)

	mustPut(t, s, "a.txt", "x")
	_, err = s.Copy(ctx, "a.txt", "b.txt", &CopyOptions{DestBucket: "other"})
	assertKind(t, err, drverr.KindMethodNotSupported)
}

func TestLocalGetURL(t *testing.T) {
	s := newTestLocalStorage(t, "")
	if got, want := s.GetURL("img/my photo.png"), "http://localhost:9100/files/local/img/my%20photo.png"; got != want {
		t.Errorf("GetURL = %q, want %q", got, want)
	}
}

func TestLocalSignedURLRoundTrip(t *testing.T) {
	s := newTestLocalStorage(t, "secret")

	res, err := s.GetSignedURL(context.Background(), "docs/a.txt", &SignedURLOptions{Expiry: time.Minute})
	if err != nil {
		t.Fatalf("GetSignedURL failed: %v", err)
	}
	if !strings.HasPrefix(res.SignedURL, "http://localhost:9100/files/local/docs/a.txt?") {
		t.Fatalf("SignedURL = %q", res.SignedURL)
	}
	u, err := url.Parse(res.SignedURL)
	if err != nil {
		t.Fatal(err)
	}
	q := u.Query()
	if got := q.Get("X-Drive-Expires"); got != "60" {
		t.Errorf("X-Drive-Expires = %q, want 60", got)
	}

	if err := s.VerifySignedURL(http.MethodGet, "docs/a.txt", q); err != nil {
		t.Errorf("VerifySignedURL failed: %v", err)
	}
	if err := s.VerifySignedURL(http.MethodHead, "docs/a.txt", q); err != nil {
		t.Errorf("HEAD should be allowed by a GET signature: %v", err)
	}
	err = s.VerifySignedURL(http.MethodGet, "docs/b.txt", q)
	assertKind(t, err, drverr.KindInvalidSignature)
	err = s.VerifySignedURL(http.MethodPut, "docs/a.txt", q)
	assertKind(t, err, drverr.KindInvalidSignature)
}

func TestLocalSignedURLDefaultExpiry(t *testing.T) {
	s := newTestLocalStorage(t, "secret")
	res, err := s.GetSignedURL(context.Background(), "a.txt", nil)
	if err != nil {
		t.Fatalf("GetSignedURL failed: %v", err)
	}
	u, _ := url.Parse(res.SignedURL)
	if got := u.Query().Get("X-Drive-Expires"); got != "900" {
		t.Errorf("X-Drive-Expires = %q, want 900", got)
	}
}

func TestLocalSignedURLExpiryEncodedOrRejected(t *testing.T) {
	s := newTestLocalStorage(t, "secret")
	ctx := context.Background()

	res, err := s.GetSignedURL(ctx, "a.txt", &SignedURLOptions{Expiry: 7 * 24 * time.Hour})
	if err != nil {
		t.Fatalf("GetSignedURL(7d) failed: %v", err)
	}
	u, _ := url.Parse(res.SignedURL)
	if got := u.Query().Get("X-Drive-Expires"); got != "604800" {
		t.Errorf("X-Drive-Expires = %q, want 604800", got)
	}

	_, err = s.GetSignedURL(ctx, "a.txt", &SignedURLOptions{Expiry: 30 * 24 * time.Hour})
	assertKind(t, err, drverr.KindUnknown)
	var de *drverr.Error
	if errors.As(err, &de) && de.Code != "ExpiryTooLong" {
		t.Errorf("Code = %q, want ExpiryTooLong", de.Code)
	}
}

func TestNewLocalStorageRequiresRoot(t *testing.T) {
	if _, err := NewLocalStorage(config.DiskConfig{Driver: "local"}); err == nil {
		t.Error("expected error without root")
	}
}
