package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "blobfs.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadMinio(t *testing.T) {
	path := writeConfig(t, `
log:
  level: debug
  format: console
server:
  addr: ":9090"
storage:
  provider: minio
  bucket: assets
  directory: media
  create: true
  cache_control: "max-age=3600"
  minio:
    endpoint: localhost:9000
    access_key: minioadmin
    secret_key: minioadmin
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, ":9090", cfg.Server.Addr)
	assert.Equal(t, ProviderMinIO, cfg.Storage.Provider)
	assert.Equal(t, "assets", cfg.Storage.Bucket)
	assert.Equal(t, "media", cfg.Storage.Directory)
	assert.True(t, cfg.Storage.Create)
	assert.Equal(t, "max-age=3600", cfg.Storage.CacheControl)
	assert.Equal(t, "localhost:9000", cfg.Storage.Minio.Endpoint)
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, `
storage:
  provider: gcs
  bucket: assets
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, ":8080", cfg.Server.Addr)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("BLOBFS_MINIO_ACCESS_KEY", "env-access")
	t.Setenv("BLOBFS_MINIO_SECRET_KEY", "env-secret")
	t.Setenv("BLOBFS_LISTEN_ADDR", ":7070")

	path := writeConfig(t, `
storage:
  provider: minio
  bucket: assets
  minio:
    endpoint: localhost:9000
    access_key: file-access
    secret_key: file-secret
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "env-access", cfg.Storage.Minio.AccessKey)
	assert.Equal(t, "env-secret", cfg.Storage.Minio.SecretKey)
	assert.Equal(t, ":7070", cfg.Server.Addr)
}

func TestValidateErrors(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantErr string
	}{
		{
			name: "missing bucket",
			content: `
storage:
  provider: minio
  minio:
    endpoint: localhost:9000
    access_key: a
    secret_key: s
`,
			wantErr: "bucket is required",
		},
		{
			name: "unknown provider",
			content: `
storage:
  provider: ftp
  bucket: assets
`,
			wantErr: "invalid storage provider",
		},
		{
			name: "minio without endpoint",
			content: `
storage:
  provider: minio
  bucket: assets
  minio:
    access_key: a
    secret_key: s
`,
			wantErr: "endpoint is required",
		},
		{
			name: "gcs create without project",
			content: `
storage:
  provider: gcs
  bucket: assets
  create: true
`,
			wantErr: "project is required",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.content))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read config file")
}
