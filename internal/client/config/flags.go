package config

import (
	"flag"
	"fmt"
	"io"

	"github.com/dmitrijs2005/vaultkeeper/internal/flagx"
)

func newFlagSet(cfg *Config) *flag.FlagSet {
	fs := flag.NewFlagSet("vaultkeeper", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	fs.StringVar(&cfg.DataDir, "data", cfg.DataDir, "data directory")
	fs.StringVar(&cfg.DBPath, "db", cfg.DBPath, "database file (default <data>/vault.db)")
	fs.StringVar(&cfg.DeviceID, "device", cfg.DeviceID, "device id recorded in the change log")
	fs.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "debug, info, warn or error")
	fs.StringVar(&cfg.LogFormat, "log-format", cfg.LogFormat, "text or json")
	fs.DurationVar(&cfg.HTTPTimeout, "timeout", cfg.HTTPTimeout, "HTTP request timeout")
	fs.Uint64Var(&cfg.MaxRetries, "retries", cfg.MaxRetries, "retries for transient network failures")
	fs.DurationVar(&cfg.Backoff, "backoff", cfg.Backoff, "base retry backoff")
	fs.StringVar(&cfg.BreachURL, "breach-url", cfg.BreachURL, "breach range API base URL")
	fs.DurationVar(&cfg.BreachDelay, "breach-delay", cfg.BreachDelay, "delay between breach API requests")
	fs.DurationVar(&cfg.TrashRetention, "trash-retention", cfg.TrashRetention, "age after which trashed entries are purged")
	fs.StringVar(&cfg.S3Region, "s3-region", cfg.S3Region, "region for s3:// containers")
	fs.StringVar(&cfg.S3Endpoint, "s3-endpoint", cfg.S3Endpoint, "custom S3 endpoint")
	return fs
}

// flagNames lists the accepted flags in single-dash form.
func flagNames() []string {
	var names []string
	newFlagSet(&Config{}).VisitAll(func(f *flag.Flag) {
		names = append(names, "-"+f.Name)
	})
	return names
}

// parseFlags overlays cfg with the known flags found in args. Anything else
// in args is left for the command parser.
func parseFlags(cfg *Config, args []string) error {
	fs := newFlagSet(cfg)
	if err := fs.Parse(flagx.FilterArgs(args, flagNames())); err != nil {
		return fmt.Errorf("failed to parse flags: %w", err)
	}
	return nil
}
