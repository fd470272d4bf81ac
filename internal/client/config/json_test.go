package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTempJSON(t *testing.T, data map[string]any) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "cfg.json")
	b, err := json.Marshal(data)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, b, 0o600))
	return path
}

func Test_parseJson(t *testing.T) {
	t.Run("overlays present keys only", func(t *testing.T) {
		path := writeTempJSON(t, map[string]any{
			"log_format":      "json",
			"trash_retention": "48h",
			"backoff":         250000000,
			"max_retries":     0,
			"s3": map[string]any{
				"region":     "eu-west-1",
				"access_key": "AK",
				"secret_key": "SK",
			},
		})
		cfg := &Config{LogLevel: "warn", MaxRetries: 3}
		require.NoError(t, parseJson(cfg, path))

		assert.Equal(t, "json", cfg.LogFormat)
		assert.Equal(t, "warn", cfg.LogLevel)
		assert.Equal(t, 48*time.Hour, cfg.TrashRetention)
		assert.Equal(t, 250*time.Millisecond, cfg.Backoff)
		// explicit zero overrides the default
		assert.Zero(t, cfg.MaxRetries)
		assert.Equal(t, "SK", cfg.S3SecretKey)
	})

	t.Run("no path, no changes", func(t *testing.T) {
		cfg := &Config{DataDir: "/keep"}
		require.NoError(t, parseJson(cfg, ""))
		assert.Equal(t, "/keep", cfg.DataDir)
	})

	t.Run("invalid JSON", func(t *testing.T) {
		bad := filepath.Join(t.TempDir(), "bad.json")
		require.NoError(t, os.WriteFile(bad, []byte(`{ this is not valid json`), 0o600))
		require.Error(t, parseJson(&Config{}, bad))
	})

	t.Run("invalid duration", func(t *testing.T) {
		path := writeTempJSON(t, map[string]any{"http_timeout": "forever"})
		require.Error(t, parseJson(&Config{}, path))
	})
}
