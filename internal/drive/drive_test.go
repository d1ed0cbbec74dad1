package drive

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"path/filepath"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bleepstore/bleepdrive/internal/config"
	drverr "github.com/bleepstore/bleepdrive/internal/errors"
	"github.com/bleepstore/bleepdrive/internal/metrics"
	"github.com/bleepstore/bleepdrive/internal/storage"
)

func testDriveConfig(t *testing.T) config.DriveConfig {
	t.Helper()
	return config.DriveConfig{
		Default: "files",
		Disks: map[string]config.DiskConfig{
			"files": {Driver: "local", Root: t.TempDir(), BaseURL: "/files/files", SignKey: "k"},
			"cache": {Driver: "memory", BaseURL: "/files/cache"},
			"db":    {Driver: "sqlite", DSN: filepath.Join(t.TempDir(), "db.sqlite")},
		},
	}
}

func newTestManager(t *testing.T, opts ...Option) *Manager {
	t.Helper()
	m, err := New(context.Background(), testDriveConfig(t), opts...)
	require.NoError(t, err)
	t.Cleanup(func() { m.Close() })
	return m
}

func TestNewBuildsEveryDisk(t *testing.T) {
	m := newTestManager(t)

	assert.Equal(t, []string{"cache", "db", "files"}, m.Names())
	assert.Equal(t, "files", m.DefaultName())

	for name, driver := range map[string]string{"files": "local", "cache": "memory", "db": "sqlite"} {
		d, err := m.Disk(name)
		require.NoError(t, err, name)
		assert.Equal(t, driver, d.Driver())
	}
}

func TestDiskEmptyNameIsDefault(t *testing.T) {
	m := newTestManager(t)
	d, err := m.Disk("")
	require.NoError(t, err)
	assert.Same(t, m.Default(), d)
}

func TestDiskUnknownNameIsInvalidConfig(t *testing.T) {
	m := newTestManager(t)
	_, err := m.Disk("nope")
	require.Error(t, err)
	assert.Equal(t, drverr.KindInvalidConfig, drverr.KindOf(err))
}

func TestNewUnknownDriver(t *testing.T) {
	cfg := config.DriveConfig{
		Default: "x",
		Disks:   map[string]config.DiskConfig{"x": {Driver: "ftp"}},
	}
	_, err := New(context.Background(), cfg)
	require.Error(t, err)
	assert.True(t, errors.Is(err, drverr.ErrDriverNotSupported))
}

func TestNewConstructionFailureIsInvalidConfig(t *testing.T) {
	cfg := config.DriveConfig{
		Default: "broken",
		Disks:   map[string]config.DiskConfig{"broken": {Driver: "local"}},
	}
	_, err := New(context.Background(), cfg)
	require.Error(t, err)

	var de *drverr.Error
	require.True(t, errors.As(err, &de))
	assert.Equal(t, drverr.KindInvalidConfig, de.Kind)
	assert.Equal(t, "broken", de.Path)
}

func TestNewRejectsMissingDefault(t *testing.T) {
	cfg := config.DriveConfig{
		Default: "gone",
		Disks:   map[string]config.DiskConfig{"a": {Driver: "memory"}},
	}
	_, err := New(context.Background(), cfg)
	assert.Equal(t, drverr.KindInvalidConfig, drverr.KindOf(err))

	_, err = New(context.Background(), config.DriveConfig{})
	assert.Equal(t, drverr.KindInvalidConfig, drverr.KindOf(err))
}

func TestWithDriverRegistersCustomFactory(t *testing.T) {
	var gotName string
	custom := func(_ context.Context, name string, cfg config.DiskConfig) (storage.Storage, error) {
		gotName = name
		return storage.NewMemoryStorage(cfg), nil
	}
	cfg := config.DriveConfig{
		Default: "scratch",
		Disks:   map[string]config.DiskConfig{"scratch": {Driver: "scratchpad"}},
	}
	m, err := New(context.Background(), cfg, WithDriver("scratchpad", custom))
	require.NoError(t, err)
	assert.Equal(t, "scratch", gotName)

	_, err = m.Default().Put(context.Background(), "a.txt", strings.NewReader("hi"), nil)
	require.NoError(t, err)
}

func TestCloseReleasesDiskGauge(t *testing.T) {
	gauge := metrics.DisksConfigured.WithLabelValues("memory")
	before := testutil.ToFloat64(gauge)

	m, err := New(context.Background(), config.DriveConfig{
		Default: "a",
		Disks: map[string]config.DiskConfig{
			"a": {Driver: "memory"},
			"b": {Driver: "memory"},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, before+2, testutil.ToFloat64(gauge))

	require.NoError(t, m.Close())
	assert.Equal(t, before, testutil.ToFloat64(gauge))

	require.NoError(t, m.Close())
	assert.Equal(t, before, testutil.ToFloat64(gauge), "second Close must not decrement again")
}

func TestFailedNewReleasesDiskGauge(t *testing.T) {
	gauge := metrics.DisksConfigured.WithLabelValues("memory")
	before := testutil.ToFloat64(gauge)

	_, err := New(context.Background(), config.DriveConfig{
		Default: "a",
		Disks: map[string]config.DiskConfig{
			"a": {Driver: "memory"},
			"b": {Driver: "nope"},
		},
	})
	require.Error(t, err)
	assert.Equal(t, before, testutil.ToFloat64(gauge))
}

func TestInstrumentedRecordsMetrics(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()
	d, err := m.Disk("cache")
	require.NoError(t, err)

	success := metrics.StorageOperationsTotal.WithLabelValues("cache", "put", "success")
	notFound := metrics.StorageOperationsTotal.WithLabelValues("cache", "getBuffer", string(drverr.KindFileNotFound))
	beforeOK, beforeNF := testutil.ToFloat64(success), testutil.ToFloat64(notFound)

	_, err = d.Put(ctx, "a.txt", strings.NewReader("x"), nil)
	require.NoError(t, err)
	_, err = d.GetBuffer(ctx, "missing.txt")
	require.Error(t, err)
	assert.True(t, drverr.IsNotFound(err), "decorator must not reinterpret errors")

	assert.Equal(t, beforeOK+1, testutil.ToFloat64(success))
	assert.Equal(t, beforeNF+1, testutil.ToFloat64(notFound))
}

func TestInstrumentedBucketIsDecorated(t *testing.T) {
	m := newTestManager(t)
	d, _ := m.Disk("cache")

	b, err := d.Bucket("other")
	require.NoError(t, err)
	_, ok := b.(*instrumented)
	assert.True(t, ok, "bucket handle should stay instrumented")

	files, _ := m.Disk("files")
	_, err = files.Bucket("other")
	assert.Equal(t, drverr.KindMethodNotSupported, drverr.KindOf(err))
}

func TestInstrumentedVerifySignedURL(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()
	files, _ := m.Disk("files")

	res, err := files.GetSignedURL(ctx, "doc.txt", nil)
	require.NoError(t, err)
	u, err := url.Parse(res.SignedURL)
	require.NoError(t, err)

	v := files.(storage.SignedURLVerifier)
	assert.NoError(t, v.VerifySignedURL(http.MethodGet, "doc.txt", u.Query()))

	// The memory disk has no sign key.
	cache, _ := m.Disk("cache")
	err = cache.(storage.SignedURLVerifier).VerifySignedURL(http.MethodGet, "doc.txt", u.Query())
	assert.Equal(t, drverr.KindMethodNotSupported, drverr.KindOf(err))
}

func TestHealthCheck(t *testing.T) {
	m := newTestManager(t)
	assert.Empty(t, m.HealthCheck(context.Background()))
}

func TestDrivers(t *testing.T) {
	factories := builtinFactories()
	for _, d := range Drivers() {
		_, ok := factories[d]
		assert.True(t, ok, d)
	}
	assert.Len(t, factories, len(Drivers()))
}
