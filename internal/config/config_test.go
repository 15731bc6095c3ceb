package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ratlocker/ratlocker/pkg/bytesize"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestDefaults(t *testing.T) {
	cfg := Default()

	assert.Equal(t, ":3000", cfg.Listen)
	assert.NotEmpty(t, cfg.DataDir)
	assert.NotContains(t, cfg.DataDir, "~")
	assert.Equal(t, int64(35*bytesize.MB), cfg.MaxFileSize.Bytes())
	assert.Equal(t, 5, cfg.MaxFilesPerUpload)
	assert.True(t, cfg.DownloadIsPublic())
	assert.True(t, cfg.MetricsEnabled())
}

func TestLoadServerConfig(t *testing.T) {
	path := writeConfig(t, `
listen: ":8080"
data_dir: /var/lib/ratlocker
max_file_size: 10MB
max_files_per_upload: 2
public_download: false
metrics: false
`)

	cfg, err := LoadServerConfig(path)
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Listen)
	assert.Equal(t, "/var/lib/ratlocker", cfg.DataDir)
	assert.Equal(t, int64(10*bytesize.MB), cfg.MaxFileSize.Bytes())
	assert.Equal(t, 2, cfg.MaxFilesPerUpload)
	assert.False(t, cfg.DownloadIsPublic())
	assert.False(t, cfg.MetricsEnabled())
	assert.Equal(t, filepath.Join("/var/lib/ratlocker", "keys.json"), cfg.KeysPath())
}

func TestLoadPartialConfigGetsDefaults(t *testing.T) {
	path := writeConfig(t, `listen: ":9000"`)

	cfg, err := LoadServerConfig(path)
	require.NoError(t, err)

	assert.Equal(t, ":9000", cfg.Listen)
	assert.Equal(t, int64(35*bytesize.MB), cfg.MaxFileSize.Bytes())
	assert.Equal(t, 5, cfg.MaxFilesPerUpload)
	assert.True(t, cfg.DownloadIsPublic())
}

func TestLoadNumericSize(t *testing.T) {
	path := writeConfig(t, `max_file_size: 2048`)

	cfg, err := LoadServerConfig(path)
	require.NoError(t, err)
	assert.Equal(t, int64(2048), cfg.MaxFileSize.Bytes())
}

func TestLoadInvalid(t *testing.T) {
	_, err := LoadServerConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	path := writeConfig(t, `max_files_per_upload: -1`)
	_, err = LoadServerConfig(path)
	assert.Error(t, err)

	path = writeConfig(t, `max_file_size: "not a size"`)
	_, err = LoadServerConfig(path)
	assert.Error(t, err)
}

func TestHomeExpansion(t *testing.T) {
	path := writeConfig(t, `data_dir: ~/locker-data`)

	cfg, err := LoadServerConfig(path)
	require.NoError(t, err)

	home, err := os.UserHomeDir()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(home, "locker-data"), cfg.DataDir)
}
