package storage

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	drverr "github.com/bleepstore/bleepdrive/internal/errors"
)

// testStorageContract runs the behaviour every adapter must share. It is
// called from each adapter's test file with a fresh, empty disk.
func testStorageContract(t *testing.T, s Storage) {
	t.Helper()
	ctx := context.Background()

	t.Run("put then get round trips", func(t *testing.T) {
		if _, err := s.Put(ctx, "greeting.txt", strings.NewReader("hello"), nil); err != nil {
			t.Fatalf("Put: %v", err)
		}
		got, err := s.Get(ctx, "greeting.txt", "")
		if err != nil {
			t.Fatalf("Get: %v", err)
		}
		if got.Content != "hello" {
			t.Errorf("Content = %q, want %q", got.Content, "hello")
		}
		if got.Raw == nil {
			t.Error("Raw should be set")
		}
	})

	t.Run("put overwrites", func(t *testing.T) {
		mustPut(t, s, "over.txt", "one")
		mustPut(t, s, "over.txt", "two")
		buf, err := s.GetBuffer(ctx, "over.txt")
		if err != nil {
			t.Fatalf("GetBuffer: %v", err)
		}
		if string(buf.Content) != "two" {
			t.Errorf("Content = %q, want %q", buf.Content, "two")
		}
	})

	t.Run("put accepts bytes and empty content", func(t *testing.T) {
		if _, err := s.Put(ctx, "bytes.bin", bytes.NewReader([]byte{0, 1, 2}), &PutOptions{ContentType: "application/octet-stream"}); err != nil {
			t.Fatalf("Put bytes: %v", err)
		}
		bin, err := s.GetBuffer(ctx, "bytes.bin")
		if err != nil {
			t.Fatalf("GetBuffer bytes: %v", err)
		}
		if !bytes.Equal(bin.Content, []byte{0, 1, 2}) {
			t.Errorf("Content = %v, want [0 1 2]", bin.Content)
		}

		if _, err := s.Put(ctx, "empty.txt", strings.NewReader(""), nil); err != nil {
			t.Fatalf("Put empty: %v", err)
		}
		buf, err := s.GetBuffer(ctx, "empty.txt")
		if err != nil {
			t.Fatalf("GetBuffer empty: %v", err)
		}
		if len(buf.Content) != 0 {
			t.Errorf("len = %d, want 0", len(buf.Content))
		}
	})

	t.Run("get stream", func(t *testing.T) {
		mustPut(t, s, "stream.txt", "streamed content")
		rc, err := s.GetStream(ctx, "stream.txt")
		if err != nil {
			t.Fatalf("GetStream: %v", err)
		}
		defer rc.Close()
		data, err := io.ReadAll(rc)
		if err != nil {
			t.Fatalf("ReadAll: %v", err)
		}
		if string(data) != "streamed content" {
			t.Errorf("data = %q", data)
		}
	})

	t.Run("exists", func(t *testing.T) {
		mustPut(t, s, "present.txt", "x")
		res, err := s.Exists(ctx, "present.txt")
		if err != nil {
			t.Fatalf("Exists: %v", err)
		}
		if !res.Exists {
			t.Error("Exists = false, want true")
		}

		res, err = s.Exists(ctx, "absent.txt")
		if err != nil {
			t.Fatalf("Exists on missing file should not fail: %v", err)
		}
		if res.Exists {
			t.Error("Exists = true for missing file")
		}
		if res.Raw == nil {
			t.Error("Raw should be set even when the file is missing")
		}
	})

	t.Run("missing file is FileNotFound", func(t *testing.T) {
		_, err := s.GetBuffer(ctx, "nope.txt")
		assertKind(t, err, drverr.KindFileNotFound)

		_, err = s.Get(ctx, "nope.txt", "utf-8")
		assertKind(t, err, drverr.KindFileNotFound)

		_, err = s.GetStat(ctx, "nope.txt")
		assertKind(t, err, drverr.KindFileNotFound)

		_, err = s.Copy(ctx, "nope.txt", "dest.txt", nil)
		assertKind(t, err, drverr.KindFileNotFound)

		_, err = s.Move(ctx, "nope.txt", "dest.txt", nil)
		assertKind(t, err, drverr.KindFileNotFound)
	})

	t.Run("delete is idempotent", func(t *testing.T) {
		mustPut(t, s, "gone.txt", "bye")
		if _, err := s.Delete(ctx, "gone.txt", nil); err != nil {
			t.Fatalf("Delete: %v", err)
		}
		if _, err := s.Delete(ctx, "gone.txt", nil); err != nil {
			t.Fatalf("second Delete: %v", err)
		}
		res, err := s.Exists(ctx, "gone.txt")
		if err != nil {
			t.Fatalf("Exists: %v", err)
		}
		if res.Exists {
			t.Error("file still exists after Delete")
		}
	})

	t.Run("copy keeps source", func(t *testing.T) {
		mustPut(t, s, "src.txt", "copy me")
		if _, err := s.Copy(ctx, "src.txt", "nested/dst.txt", nil); err != nil {
			t.Fatalf("Copy: %v", err)
		}
		assertContent(t, s, "src.txt", "copy me")
		assertContent(t, s, "nested/dst.txt", "copy me")
	})

	t.Run("move removes source", func(t *testing.T) {
		mustPut(t, s, "from.txt", "move me")
		if _, err := s.Move(ctx, "from.txt", "to.txt", nil); err != nil {
			t.Fatalf("Move: %v", err)
		}
		assertContent(t, s, "to.txt", "move me")
		res, err := s.Exists(ctx, "from.txt")
		if err != nil {
			t.Fatalf("Exists: %v", err)
		}
		if res.Exists {
			t.Error("source still exists after Move")
		}
	})

	t.Run("stat", func(t *testing.T) {
		mustPut(t, s, "sized.txt", "12345")
		st, err := s.GetStat(ctx, "sized.txt")
		if err != nil {
			t.Fatalf("GetStat: %v", err)
		}
		if st.Size != 5 {
			t.Errorf("Size = %d, want 5", st.Size)
		}
		if st.Raw == nil {
			t.Error("Raw should be set")
		}
	})

	t.Run("get with unknown encoding", func(t *testing.T) {
		mustPut(t, s, "enc.txt", "abc")
		_, err := s.Get(ctx, "enc.txt", "no-such-charset")
		assertKind(t, err, drverr.KindUnknown)
		var de *drverr.Error
		if errors.As(err, &de) && de.Code != "EncodingNotSupported" {
			t.Errorf("Code = %q, want EncodingNotSupported", de.Code)
		}
	})

	t.Run("get decodes named encoding", func(t *testing.T) {
		if _, err := s.Put(ctx, "latin.txt", bytes.NewReader([]byte{0xE9}), nil); err != nil {
			t.Fatalf("Put: %v", err)
		}
		got, err := s.Get(ctx, "latin.txt", "windows-1252")
		if err != nil {
			t.Fatalf("Get: %v", err)
		}
		if got.Content != "é" {
			t.Errorf("Content = %q, want %q", got.Content, "é")
		}
	})

	t.Run("put stat delete in a folder", func(t *testing.T) {
		mustPut(t, s, "folder/test.txt", "test-data")
		st, err := s.GetStat(ctx, "folder/test.txt")
		if err != nil {
			t.Fatalf("GetStat: %v", err)
		}
		if st.Size != 9 {
			t.Errorf("Size = %d, want 9", st.Size)
		}
		if _, err := s.Delete(ctx, "folder/test.txt", nil); err != nil {
			t.Fatalf("Delete: %v", err)
		}
		res, err := s.Exists(ctx, "folder/test.txt")
		if err != nil {
			t.Fatalf("Exists: %v", err)
		}
		if res.Exists {
			t.Error("folder/test.txt still exists after Delete")
		}
	})

	t.Run("nested locations", func(t *testing.T) {
		mustPut(t, s, "a/b/c/deep.txt", "deep")
		assertContent(t, s, "a/b/c/deep.txt", "deep")
	})
}

func TestBucketRejectsEmptyName(t *testing.T) {
	s3s, _ := newTestS3Storage(t)
	minios, _ := newTestMinioStorage(t)
	gcss, _ := newTestGCSStorage(t)
	azs, _ := newTestAzureStorage(t)
	disks := map[string]Storage{
		DriverS3:     s3s,
		DriverMinio:  minios,
		DriverGCS:    gcss,
		DriverAzure:  azs,
		DriverMemory: newTestMemoryStorage(""),
	}
	for driver, s := range disks {
		t.Run(driver, func(t *testing.T) {
			b, err := s.Bucket("")
			if b != nil {
				t.Error("Bucket(\"\") returned a handle")
			}
			assertKind(t, err, drverr.KindUnknown)
			var de *drverr.Error
			if errors.As(err, &de) && de.Code != "InvalidBucketName" {
				t.Errorf("Code = %q, want InvalidBucketName", de.Code)
			}
		})
	}
}

func mustPut(t *testing.T, s Storage, location, content string) {
	t.Helper()
	if _, err := s.Put(context.Background(), location, strings.NewReader(content), nil); err != nil {
		t.Fatalf("Put(%q): %v", location, err)
	}
}

func assertContent(t *testing.T, s Storage, location, want string) {
	t.Helper()
	got, err := s.Get(context.Background(), location, "")
	if err != nil {
		t.Fatalf("Get(%q): %v", location, err)
	}
	if got.Content != want {
		t.Errorf("Get(%q) = %q, want %q", location, got.Content, want)
	}
}

func assertKind(t *testing.T, err error, want drverr.Kind) {
	t.Helper()
	if err == nil {
		t.Fatalf("expected %s error, got nil", want)
	}
	if got := drverr.KindOf(err); got != want {
		t.Fatalf("kind = %s, want %s (err: %v)", got, want, err)
	}
}

// failingReader yields data once, then fails.
type failingReader struct {
	data []byte
	err  error
	done bool
}

func (r *failingReader) Read(p []byte) (int, error) {
	if r.done {
		return 0, r.err
	}
	r.done = true
	return copy(p, r.data), nil
}
