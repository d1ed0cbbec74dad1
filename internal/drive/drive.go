// Package drive builds the configured disks once at startup and hands them
// out by name. Lookups are pure: nothing is retried, cached or created
// lazily.
package drive

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/bleepstore/bleepdrive/internal/config"
	drverr "github.com/bleepstore/bleepdrive/internal/errors"
	"github.com/bleepstore/bleepdrive/internal/metrics"
	"github.com/bleepstore/bleepdrive/internal/storage"
)

// Factory builds a disk from its configuration.
type Factory func(ctx context.Context, name string, cfg config.DiskConfig) (storage.Storage, error)

// Option configures a Manager.
type Option func(*options)

type options struct {
	factories map[string]Factory
	logger    *slog.Logger
}

// WithDriver registers a custom driver, or replaces a built-in one.
func WithDriver(driver string, f Factory) Option {
	return func(o *options) { o.factories[driver] = f }
}

// WithLogger sets the logger used by the disk decorators. Defaults to
// slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// Manager maps disk names to their adapters.
type Manager struct {
	disks       map[string]*instrumented
	names       []string
	defaultName string

	closeOnce sync.Once
	closeErr  error
}

// New builds every disk in cfg. An unknown driver fails with
// DriverNotSupported; an adapter that cannot be constructed fails with
// InvalidConfig naming the disk. Disks built before a failure are closed.
func New(ctx context.Context, cfg config.DriveConfig, opts ...Option) (*Manager, error) {
	o := &options{factories: builtinFactories()}
	for _, opt := range opts {
		opt(o)
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}

	if len(cfg.Disks) == 0 {
		return nil, drverr.InvalidConfig("", errors.New("no disks configured"))
	}
	if _, ok := cfg.Disks[cfg.Default]; !ok {
		return nil, drverr.InvalidConfig(cfg.Default, fmt.Errorf("default disk %q is not configured", cfg.Default))
	}

	m := &Manager{
		disks:       make(map[string]*instrumented, len(cfg.Disks)),
		names:       cfg.Names(),
		defaultName: cfg.Default,
	}
	for _, name := range m.names {
		diskCfg := cfg.Disks[name]
		factory, ok := o.factories[diskCfg.Driver]
		if !ok {
			m.Close()
			return nil, drverr.DriverNotSupported(diskCfg.Driver)
		}
		disk, err := factory(ctx, name, diskCfg)
		if err != nil {
			m.Close()
			return nil, drverr.InvalidConfig(name, err)
		}
		m.disks[name] = newInstrumented(name, disk, o.logger)
		metrics.DisksConfigured.WithLabelValues(disk.Driver()).Inc()
	}

	o.logger.Info("drive ready", "disks", m.names, "default", m.defaultName)
	return m, nil
}

// Disk returns the named disk. An empty name selects the default disk.
func (m *Manager) Disk(name string) (storage.Storage, error) {
	if name == "" {
		name = m.defaultName
	}
	d, ok := m.disks[name]
	if !ok {
		return nil, drverr.InvalidConfig(name, fmt.Errorf("disk %q is not configured", name))
	}
	return d, nil
}

// Default returns the default disk.
func (m *Manager) Default() storage.Storage {
	return m.disks[m.defaultName]
}

// DefaultName returns the name of the default disk.
func (m *Manager) DefaultName() string { return m.defaultName }

// Names returns the configured disk names in sorted order.
func (m *Manager) Names() []string {
	out := make([]string, len(m.names))
	copy(out, m.names)
	return out
}

// HealthCheck runs the health check of every disk that has one and returns
// the failures keyed by disk name.
func (m *Manager) HealthCheck(ctx context.Context) map[string]error {
	failed := make(map[string]error)
	for _, name := range m.names {
		d, ok := m.disks[name]
		if !ok {
			continue
		}
		if hc, ok := d.inner.(storage.HealthChecker); ok {
			if err := hc.HealthCheck(ctx); err != nil {
				failed[name] = err
			}
		}
	}
	return failed
}

// Close closes every disk whose adapter holds resources and removes the
// disks from the configured-disks gauge. Later calls return the first result.
func (m *Manager) Close() error {
	m.closeOnce.Do(func() {
		var errs []error
		for _, name := range m.names {
			d, ok := m.disks[name]
			if !ok {
				continue
			}
			metrics.DisksConfigured.WithLabelValues(d.Driver()).Dec()
			if c, ok := d.inner.(io.Closer); ok {
				if err := c.Close(); err != nil {
					errs = append(errs, fmt.Errorf("closing disk %q: %w", name, err))
				}
			}
		}
		m.closeErr = errors.Join(errs...)
	})
	return m.closeErr
}
