package qsdk

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func chdir(t *testing.T, dir string) {
	t.Helper()
	oldWd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(oldWd) })
}

func TestLoadConfig_ProjectConfig(t *testing.T) {
	chdir(t, t.TempDir())

	require.NoError(t, os.WriteFile("qremote.yaml", []byte("api_url: http://jobs.example.com:8000/\ntimeout: 5s\n"), 0644))

	cfg, err := LoadConfig("")
	require.NoError(t, err)

	assert.Equal(t, "http://jobs.example.com:8000", cfg.APIURL)
	assert.Equal(t, 5*time.Second, cfg.Timeout)
	assert.Equal(t, "table", cfg.Output)
}

func TestLoadConfig_LocalOverride(t *testing.T) {
	chdir(t, t.TempDir())

	require.NoError(t, os.WriteFile("qremote.yaml", []byte("api_url: http://jobs.example.com:8000\noutput: json\n"), 0644))
	require.NoError(t, os.MkdirAll(ConfigRoot, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(ConfigRoot, "config.yaml"), []byte("api_url: http://localhost:9000\n"), 0644))

	cfg, err := LoadConfig("")
	require.NoError(t, err)

	assert.Equal(t, "http://localhost:9000", cfg.APIURL)
	assert.Equal(t, "json", cfg.Output)
}

func TestLoadConfig_Defaults(t *testing.T) {
	chdir(t, t.TempDir())

	cfg, err := LoadConfig("")
	require.NoError(t, err)

	assert.Equal(t, DefaultAPIURL, cfg.APIURL)
	assert.Equal(t, 30*time.Second, cfg.Timeout)
	assert.Empty(t, cfg.ConfigFileUsed())
}

func TestLoadConfig_EnvOverridesFile(t *testing.T) {
	chdir(t, t.TempDir())
	t.Setenv("QREMOTE_API_URL", "http://from-env:8000")

	require.NoError(t, os.WriteFile("qremote.yaml", []byte("api_url: http://from-file:8000\n"), 0644))

	cfg, err := LoadConfig("")
	require.NoError(t, err)
	assert.Equal(t, "http://from-env:8000", cfg.APIURL)
}

func TestLoadConfig_ExplicitFileAndSet(t *testing.T) {
	dir := t.TempDir()
	chdir(t, dir)

	customPath := filepath.Join(dir, "custom.yaml")
	require.NoError(t, os.WriteFile(customPath, []byte("api_url: http://custom:9000\n"), 0644))

	cfg, err := LoadConfig(customPath)
	require.NoError(t, err)
	assert.Equal(t, "http://custom:9000", cfg.APIURL)
	assert.Equal(t, customPath, cfg.ConfigFileUsed())

	require.NoError(t, cfg.Set(APIURLKey, "http://flag:1234/"))
	assert.Equal(t, "http://flag:1234", cfg.APIURL)
}

func TestLoadConfig_MissingExplicitFile(t *testing.T) {
	chdir(t, t.TempDir())

	_, err := LoadConfig("does-not-exist.yaml")
	assert.Error(t, err)
}
