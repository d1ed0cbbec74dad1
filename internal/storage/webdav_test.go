package storage

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/studio-b12/gowebdav"

	"github.com/bleepstore/bleepdrive/internal/config"
	drverr "github.com/bleepstore/bleepdrive/internal/errors"
)

// mockWebDAVClient implements WebDAVAPI over an in-memory tree. Writes fail
// with 409 when the parent collection is missing, as real servers do.
type mockWebDAVClient struct {
	mu    sync.Mutex
	files map[string][]byte
	mtime map[string]time.Time
	dirs  map[string]bool
}

func newMockWebDAVClient(root string) *mockWebDAVClient {
	return &mockWebDAVClient{
		files: make(map[string][]byte),
		mtime: make(map[string]time.Time),
		dirs:  map[string]bool{"/": true, root: true},
	}
}

type mockFileInfo struct {
	name  string
	size  int64
	mod   time.Time
	isDir bool
}

func (fi mockFileInfo) Name() string       { return fi.name }
func (fi mockFileInfo) Size() int64        { return fi.size }
func (fi mockFileInfo) Mode() os.FileMode  { return 0o644 }
func (fi mockFileInfo) ModTime() time.Time { return fi.mod }
func (fi mockFileInfo) IsDir() bool        { return fi.isDir }
func (fi mockFileInfo) Sys() any           { return nil }

func webdavStatus(op, p string, status int) error {
	return &os.PathError{Op: op, Path: p, Err: gowebdav.StatusError{Status: status}}
}

func (m *mockWebDAVClient) Stat(p string) (os.FileInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if data, ok := m.files[p]; ok {
		return mockFileInfo{name: path.Base(p), size: int64(len(data)), mod: m.mtime[p]}, nil
	}
	if m.dirs[p] {
		return mockFileInfo{name: path.Base(p), isDir: true}, nil
	}
	return nil, webdavStatus("Stat", p, 404)
}

func (m *mockWebDAVClient) ReadStream(p string) (io.ReadCloser, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.files[p]
	if !ok {
		return nil, webdavStatus("ReadStream", p, 404)
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (m *mockWebDAVClient) WriteStream(p string, stream io.Reader, _ os.FileMode) error {
	data, err := io.ReadAll(stream)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.dirs[path.Dir(p)] {
		return webdavStatus("WriteStream", p, 409)
	}
	m.files[p] = data
	m.mtime[p] = time.Now().UTC()
	return nil
}

func (m *mockWebDAVClient) MkdirAll(p string, _ os.FileMode) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for dir := p; dir != "/" && dir != "."; dir = path.Dir(dir) {
		m.dirs[dir] = true
	}
	return nil
}

// Remove mirrors gowebdav, which treats a 404 on DELETE as success.
func (m *mockWebDAVClient) Remove(p string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.files, p)
	return nil
}

func (m *mockWebDAVClient) Copy(oldpath, newpath string, _ bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.files[oldpath]
	if !ok {
		return webdavStatus("Copy", oldpath, 404)
	}
	if !m.dirs[path.Dir(newpath)] {
		return webdavStatus("Copy", newpath, 409)
	}
	m.files[newpath] = append([]byte(nil), data...)
	m.mtime[newpath] = time.Now().UTC()
	return nil
}

func newTestWebDAVStorage(t *testing.T) (*WebDAVStorage, *mockWebDAVClient) {
	t.Helper()
	mock := newMockWebDAVClient("/drive")
	s := NewWebDAVStorageWithClient(config.DiskConfig{
		Driver: "webdav",
		URL:    "https://dav.example.com/remote.php/",
		Root:   "/drive/",
	}, mock)
	return s, mock
}

func TestWebDAVContract(t *testing.T) {
	s, _ := newTestWebDAVStorage(t)
	testStorageContract(t, s)
}

func TestWebDAVPutCreatesCollections(t *testing.T) {
	s, mock := newTestWebDAVStorage(t)
	mustPut(t, s, "x/y/z.txt", "nested")

	for _, dir := range []string{"/drive/x", "/drive/x/y"} {
		if !mock.dirs[dir] {
			t.Errorf("collection %s not created", dir)
		}
	}
	if _, ok := mock.files["/drive/x/y/z.txt"]; !ok {
		t.Error("file not stored under root path")
	}
}

func TestWebDAVGetURL(t *testing.T) {
	s, _ := newTestWebDAVStorage(t)
	if got, want := s.GetURL("a/b.txt"), "https://dav.example.com/remote.php/drive/a/b.txt"; got != want {
		t.Errorf("GetURL = %q, want %q", got, want)
	}

	noRoot := NewWebDAVStorageWithClient(config.DiskConfig{URL: "http://dav.local"}, newMockWebDAVClient("/"))
	if got, want := noRoot.GetURL("a.txt"), "http://dav.local/a.txt"; got != want {
		t.Errorf("GetURL = %q, want %q", got, want)
	}
}

func TestWebDAVUnsupported(t *testing.T) {
	s, _ := newTestWebDAVStorage(t)
	ctx := context.Background()

	_, err := s.GetSignedURL(ctx, "a.txt", nil)
	assertKind(t, err, drverr.KindMethodNotSupported)

	_, err = s.Bucket("other")
	assertKind(t, err, drverr.KindMethodNotSupported)

	mustPut(t, s, "a.txt", "x")
	_, err = s.Copy(ctx, "a.txt", "b.txt", &CopyOptions{DestBucket: "other"})
	assertKind(t, err, drverr.KindMethodNotSupported)
}

func TestWebDAVCanceledContext(t *testing.T) {
	s, _ := newTestWebDAVStorage(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := s.GetBuffer(ctx, "a.txt")
	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}

// blockingWebDAVClient holds ReadStream and WriteStream until release is
// closed, signalling on started when a call begins.
type blockingWebDAVClient struct {
	*mockWebDAVClient
	started chan struct{}
	release chan struct{}
	closed  chan struct{}
}

type closeNotifier struct {
	io.Reader
	closed chan struct{}
}

func (c closeNotifier) Close() error {
	close(c.closed)
	return nil
}

func (b *blockingWebDAVClient) ReadStream(p string) (io.ReadCloser, error) {
	b.started <- struct{}{}
	<-b.release
	return closeNotifier{Reader: strings.NewReader("late"), closed: b.closed}, nil
}

func (b *blockingWebDAVClient) WriteStream(p string, stream io.Reader, mode os.FileMode) error {
	b.started <- struct{}{}
	<-b.release
	return b.mockWebDAVClient.WriteStream(p, stream, mode)
}

func newBlockingWebDAVStorage() (*WebDAVStorage, *blockingWebDAVClient) {
	b := &blockingWebDAVClient{
		mockWebDAVClient: newMockWebDAVClient("/drive"),
		started:          make(chan struct{}, 1),
		release:          make(chan struct{}),
		closed:           make(chan struct{}),
	}
	s := NewWebDAVStorageWithClient(config.DiskConfig{Driver: "webdav", URL: "https://dav.example.com", Root: "/drive"}, b)
	return s, b
}

func TestWebDAVGetStreamClosesLateResult(t *testing.T) {
	s, b := newBlockingWebDAVStorage()
	ctx, cancel := context.WithCancel(context.Background())

	errCh := make(chan error, 1)
	go func() {
		_, err := s.GetStream(ctx, "a.txt")
		errCh <- err
	}()
	<-b.started
	cancel()
	if err := <-errCh; !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}

	close(b.release)
	select {
	case <-b.closed:
	case <-time.After(2 * time.Second):
		t.Fatal("stream opened after cancellation was never closed")
	}
}

func TestWebDAVPutFinishesStartedWrite(t *testing.T) {
	s, b := newBlockingWebDAVStorage()
	ctx, cancel := context.WithCancel(context.Background())
	content := strings.NewReader("payload")

	errCh := make(chan error, 1)
	go func() {
		_, err := s.Put(ctx, "a.txt", content, nil)
		errCh <- err
	}()
	<-b.started
	cancel()

	select {
	case err := <-errCh:
		t.Fatalf("Put returned while its write was still running: %v", err)
	case <-time.After(50 * time.Millisecond):
	}

	close(b.release)
	if err := <-errCh; err != nil {
		t.Fatalf("Put: %v", err)
	}
	if content.Len() != 0 {
		t.Errorf("%d bytes left unread when Put returned", content.Len())
	}
	if got := string(b.files["/drive/a.txt"]); got != "payload" {
		t.Errorf("stored %q, want %q", got, "payload")
	}
}

func TestWebDAVPutCanceledBeforeStart(t *testing.T) {
	s, mock := newTestWebDAVStorage(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := s.Put(ctx, "a.txt", strings.NewReader("x"), nil)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if _, ok := mock.files["/drive/a.txt"]; ok {
		t.Error("canceled Put reached the server")
	}
}

func TestNewWebDAVStorageRequiresURL(t *testing.T) {
	if _, err := NewWebDAVStorage(config.DiskConfig{Driver: "webdav"}); err == nil {
		t.Error("expected error without url")
	}
	s, err := NewWebDAVStorage(config.DiskConfig{Driver: "webdav", URL: "http://localhost:8080"})
	if err != nil {
		t.Fatalf("NewWebDAVStorage: %v", err)
	}
	if !strings.HasPrefix(s.GetURL("f"), "http://localhost:8080/") {
		t.Errorf("GetURL = %q", s.GetURL("f"))
	}
}

func TestClassifyWebDAVError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want drverr.Kind
	}{
		{"not found", webdavStatus("Stat", "/a", 404), drverr.KindFileNotFound},
		{"unauthorized", webdavStatus("Stat", "/a", 401), drverr.KindAuthorizationRequired},
		{"forbidden", webdavStatus("Stat", "/a", 403), drverr.KindPermissionMissing},
		{"conflict", webdavStatus("Put", "/a", 409), drverr.KindUnknown},
		{"os not exist", &os.PathError{Op: "Stat", Path: "/a", Err: os.ErrNotExist}, drverr.KindFileNotFound},
		{"other", io.ErrUnexpectedEOF, drverr.KindUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := classifyWebDAVError(tt.err).Kind; got != tt.want {
				t.Errorf("kind = %s, want %s", got, tt.want)
			}
		})
	}
}
