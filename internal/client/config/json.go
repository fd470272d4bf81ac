package config

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/dmitrijs2005/vaultkeeper/internal/timex"
)

// JsonConfig is a DTO used exclusively for JSON unmarshalling. Durations
// accept "1.5s" or integer nanoseconds. Absent keys keep the earlier value.
type JsonConfig struct {
	DataDir  *string `json:"data_dir"`
	DBPath   *string `json:"db_path"`
	DeviceID *string `json:"device_id"`

	LogLevel  *string `json:"log_level"`
	LogFormat *string `json:"log_format"`

	HTTPTimeout *timex.Duration `json:"http_timeout"`
	MaxRetries  *uint64         `json:"max_retries"`
	Backoff     *timex.Duration `json:"backoff"`

	BreachURL     *string         `json:"breach_url"`
	BreachDelay   *timex.Duration `json:"breach_delay"`
	BreachRetries *uint64         `json:"breach_retries"`

	TrashRetention *timex.Duration `json:"trash_retention"`
	WatchDebounce  *timex.Duration `json:"watch_debounce"`

	S3 *struct {
		Region    string `json:"region"`
		Endpoint  string `json:"endpoint"`
		AccessKey string `json:"access_key"`
		SecretKey string `json:"secret_key"`
	} `json:"s3"`
}

// parseJson overlays cfg with the JSON file at path. An empty path is a
// no-op.
func parseJson(cfg *Config, path string) error {
	if path == "" {
		return nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config: %w", err)
	}
	var jc JsonConfig
	if err := json.Unmarshal(data, &jc); err != nil {
		return fmt.Errorf("failed to parse config %s: %w", path, err)
	}

	setString(&cfg.DataDir, jc.DataDir)
	setString(&cfg.DBPath, jc.DBPath)
	setString(&cfg.DeviceID, jc.DeviceID)
	setString(&cfg.LogLevel, jc.LogLevel)
	setString(&cfg.LogFormat, jc.LogFormat)
	setString(&cfg.BreachURL, jc.BreachURL)

	setDuration(&cfg.HTTPTimeout, jc.HTTPTimeout)
	setDuration(&cfg.Backoff, jc.Backoff)
	setDuration(&cfg.BreachDelay, jc.BreachDelay)
	setDuration(&cfg.TrashRetention, jc.TrashRetention)
	setDuration(&cfg.WatchDebounce, jc.WatchDebounce)

	if jc.MaxRetries != nil {
		cfg.MaxRetries = *jc.MaxRetries
	}
	if jc.BreachRetries != nil {
		cfg.BreachRetries = *jc.BreachRetries
	}
	if jc.S3 != nil {
		cfg.S3Region = jc.S3.Region
		cfg.S3Endpoint = jc.S3.Endpoint
		cfg.S3AccessKey = jc.S3.AccessKey
		cfg.S3SecretKey = jc.S3.SecretKey
	}
	return nil
}

func setString(dst *string, v *string) {
	if v != nil {
		*dst = *v
	}
}

func setDuration(dst *time.Duration, v *timex.Duration) {
	if v != nil {
		*dst = v.Duration
	}
}
