package config

import (
	"os"
	"path/filepath"
	"time"

	"github.com/adrg/xdg"
	"github.com/dmitrijs2005/vaultkeeper/internal/flagx"
)

// AppName names the per-user data directory.
const AppName = "vaultkeeper"

// Config holds runtime settings for the vault CLI.
//
// DBPath defaults to vault.db under DataDir; it is resolved after every
// source has been applied, so moving DataDir alone moves the database too.
type Config struct {
	DataDir  string
	DBPath   string
	DeviceID string

	LogLevel  string
	LogFormat string

	HTTPTimeout time.Duration
	MaxRetries  uint64
	Backoff     time.Duration

	BreachURL     string
	BreachDelay   time.Duration
	BreachRetries uint64

	TrashRetention time.Duration
	WatchDebounce  time.Duration

	S3Region    string
	S3Endpoint  string
	S3AccessKey string
	S3SecretKey string
}

// LoadDefaults populates c with sensible defaults.
func (c *Config) LoadDefaults() {
	c.DataDir = filepath.Join(xdg.DataHome, AppName)
	c.DBPath = ""
	c.DeviceID = defaultDeviceID()
	c.LogLevel = "warn"
	c.LogFormat = "text"
	c.HTTPTimeout = 30 * time.Second
	c.MaxRetries = 3
	c.Backoff = 500 * time.Millisecond
	c.BreachURL = "https://api.pwnedpasswords.com"
	c.BreachDelay = 1500 * time.Millisecond
	c.BreachRetries = 3
	c.TrashRetention = 30 * 24 * time.Hour
	c.WatchDebounce = 500 * time.Millisecond
}

func defaultDeviceID() string {
	if h, err := os.Hostname(); err == nil && h != "" {
		return h
	}
	return "local"
}

// Database returns the database file path.
func (c *Config) Database() string {
	if c.DBPath != "" {
		return c.DBPath
	}
	return filepath.Join(c.DataDir, "vault.db")
}

// LoadConfig builds a Config from defaults, then the JSON file named by
// -c/-config (if any), then the flags in args. Later sources take precedence.
// It returns the arguments that were not consumed, for the command parser.
func LoadConfig(args []string) (*Config, []string, error) {
	cfg := &Config{}
	cfg.LoadDefaults()
	if err := parseJson(cfg, flagx.ConfigPath(args)); err != nil {
		return nil, nil, err
	}
	if err := parseFlags(cfg, args); err != nil {
		return nil, nil, err
	}
	return cfg, flagx.StripArgs(args, append(flagNames(), "-c", "-config", "--config")), nil
}
