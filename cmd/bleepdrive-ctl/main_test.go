package main

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	root := filepath.Join(dir, "files")
	cfg := fmt.Sprintf(`drive:
  default: files
  disks:
    files:
      driver: local
      root: %s
      base_url: https://cdn.example.com/files
      sign_key: ctl-test-key
`, root)
	path := filepath.Join(dir, "bleepdrive.yaml")
	require.NoError(t, os.WriteFile(path, []byte(cfg), 0o644))
	return path
}

func runCtl(t *testing.T, input string, args ...string) (int, string, string) {
	t.Helper()
	var out, errOut bytes.Buffer
	stdin, stdout, stderr = strings.NewReader(input), &out, &errOut
	t.Cleanup(func() { stdin, stdout, stderr = os.Stdin, os.Stdout, os.Stderr })
	code := run(args)
	return code, out.String(), errOut.String()
}

func TestPutGetStatDelete(t *testing.T) {
	cfg := writeConfig(t)

	code, out, errOut := runCtl(t, "hello ctl", "put", "-config", cfg, "docs/a.txt")
	require.Equal(t, 0, code, errOut)
	assert.Equal(t, "https://cdn.example.com/files/docs/a.txt\n", out)

	code, out, _ = runCtl(t, "", "get", "-config", cfg, "docs/a.txt")
	require.Equal(t, 0, code)
	assert.Equal(t, "hello ctl", out)

	code, out, _ = runCtl(t, "", "stat", "-config", cfg, "docs/a.txt")
	require.Equal(t, 0, code)
	assert.Contains(t, out, `"size":9`)

	code, out, _ = runCtl(t, "", "exists", "-config", cfg, "docs/a.txt")
	require.Equal(t, 0, code)
	assert.Equal(t, "true\n", out)

	code, _, _ = runCtl(t, "", "delete", "-config", cfg, "docs/a.txt")
	require.Equal(t, 0, code)

	code, out, _ = runCtl(t, "", "exists", "-config", cfg, "docs/a.txt")
	require.Equal(t, 0, code)
	assert.Equal(t, "false\n", out)
}

func TestCopyAndMove(t *testing.T) {
	cfg := writeConfig(t)
	code, _, _ := runCtl(t, "data", "put", "-config", cfg, "src.txt")
	require.Equal(t, 0, code)

	code, _, errOut := runCtl(t, "", "copy", "-config", cfg, "src.txt", "copy.txt")
	require.Equal(t, 0, code, errOut)
	code, _, errOut = runCtl(t, "", "move", "-config", cfg, "copy.txt", "moved/copy.txt")
	require.Equal(t, 0, code, errOut)

	code, out, _ := runCtl(t, "", "get", "-config", cfg, "moved/copy.txt")
	require.Equal(t, 0, code)
	assert.Equal(t, "data", out)

	code, out, _ = runCtl(t, "", "exists", "-config", cfg, "copy.txt")
	require.Equal(t, 0, code)
	assert.Equal(t, "false\n", out)
}

func TestSignAndURL(t *testing.T) {
	cfg := writeConfig(t)

	code, out, _ := runCtl(t, "", "url", "-config", cfg, "a b.txt")
	require.Equal(t, 0, code)
	assert.Equal(t, "https://cdn.example.com/files/a%20b.txt\n", out)

	code, out, _ = runCtl(t, "", "sign", "-config", cfg, "-expiry", "1m", "a.txt")
	require.Equal(t, 0, code)
	assert.True(t, strings.HasPrefix(out, "https://cdn.example.com/files/a.txt?"), out)
	assert.Contains(t, out, "X-Drive-Expires=60")
}

func TestGetMissingFails(t *testing.T) {
	cfg := writeConfig(t)
	code, _, errOut := runCtl(t, "", "get", "-config", cfg, "missing.txt")
	assert.Equal(t, 1, code)
	assert.Contains(t, errOut, "E_FILE_NOT_FOUND")
}

func TestUsageErrors(t *testing.T) {
	code, _, errOut := runCtl(t, "")
	assert.Equal(t, 1, code)
	assert.Contains(t, errOut, "Usage")

	code, _, errOut = runCtl(t, "", "frobnicate")
	assert.Equal(t, 1, code)
	assert.Contains(t, errOut, "Unknown command")

	cfg := writeConfig(t)
	code, _, _ = runCtl(t, "", "copy", "-config", cfg, "only-one")
	assert.Equal(t, 2, code)

	code, _, errOut = runCtl(t, "", "get", "-config", cfg, "-disk", "nope", "a.txt")
	assert.Equal(t, 1, code)
	assert.Contains(t, errOut, "E_INVALID_CONFIG")
}
