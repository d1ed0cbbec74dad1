package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleYAML = `
server:
  port: 9200
  writable: true
logging:
  level: debug
  format: json
drive:
  default: local
  disks:
    local:
      driver: local
      root: ./data/files
      base_url: http://localhost:9200/files/local
      sign_key: change-me
    assets:
      driver: s3
      key: AKIAEXAMPLE
      secret: shh
      bucket: assets
      secure: false
    cache:
      driver: memory
    db:
      driver: sqlite
`

func TestParse(t *testing.T) {
	cfg, err := Parse([]byte(sampleYAML))
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0", cfg.Server.Host)
	assert.Equal(t, 9200, cfg.Server.Port)
	assert.True(t, cfg.Server.Writable)
	assert.Equal(t, 30, cfg.Server.ShutdownTimeout)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "json", cfg.Logging.Format)
	assert.True(t, cfg.Observability.Metrics)
	assert.True(t, cfg.Observability.HealthCheck)

	assert.Equal(t, "local", cfg.Drive.Default)
	assert.Equal(t, []string{"assets", "cache", "db", "local"}, cfg.Drive.Names())

	local := cfg.Drive.Disks["local"]
	assert.Equal(t, "http://localhost:9200/files/local", local.BaseURL)
	assert.Equal(t, "change-me", local.SignKey)
	assert.True(t, local.IsSecure())

	assets := cfg.Drive.Disks["assets"]
	assert.Equal(t, "us-east-1", assets.Region)
	assert.False(t, assets.IsSecure())
}

func TestParseAppliesDiskDefaults(t *testing.T) {
	cfg, err := Parse([]byte(sampleYAML))
	require.NoError(t, err)

	assert.Equal(t, "/files/cache", cfg.Drive.Disks["cache"].BaseURL)
	assert.Equal(t, filepath.Join("data", "db.db"), cfg.Drive.Disks["db"].DSN)
	assert.Equal(t, "/files/db", cfg.Drive.Disks["db"].BaseURL)
}

func TestParseSingleDiskBecomesDefault(t *testing.T) {
	cfg, err := Parse([]byte(`
drive:
  disks:
    only:
      driver: local
`))
	require.NoError(t, err)
	assert.Equal(t, "only", cfg.Drive.Default)
	assert.Equal(t, filepath.Join("data", "files", "only"), cfg.Drive.Disks["only"].Root)
}

func TestParseValidation(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"no disks", "server:\n  port: 1\n"},
		{"missing driver", "drive:\n  default: a\n  disks:\n    a: {root: /tmp}\n"},
		{"unknown default", "drive:\n  default: nope\n  disks:\n    a: {driver: memory}\n    b: {driver: memory}\n"},
		{"bad yaml", "drive: [\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			assert.Error(t, err)
		})
	}
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bleepdrive.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sampleYAML), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 9200, cfg.Server.Port)
}

func TestLoadFallsBackToExample(t *testing.T) {
	dir := t.TempDir()
	example := filepath.Join(dir, "bleepdrive.example.yaml")
	require.NoError(t, os.WriteFile(example, []byte(sampleYAML), 0o644))

	cfg, err := Load(filepath.Join(dir, "missing.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "local", cfg.Drive.Default)
}

func TestLoadMissing(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
