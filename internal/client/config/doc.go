// Package config loads runtime configuration for the vault CLI.
//
// Sources & precedence
//
//  1. Built-in defaults (see (*Config).LoadDefaults). The data directory
//     lives under the XDG data home.
//  2. Optional JSON file selected via -c or -config.
//  3. Global flags (-data, -db, -device, -log-level, -log-format, -timeout,
//     -retries, -backoff, -breach-url, -breach-delay, -trash-retention,
//     -s3-region, -s3-endpoint), which override earlier values.
//
// Global flags use the single-dash form and may appear anywhere on the
// command line; LoadConfig strips them and returns the rest for the
// command parser.
//
// # JSON schema
//
//	{
//	  "data_dir": "/home/me/.local/share/vaultkeeper",
//	  "device_id": "laptop",
//	  "log_level": "info",
//	  "http_timeout": "30s",
//	  "breach_delay": "1.5s",
//	  "trash_retention": "720h",
//	  "s3": {"region": "eu-west-1", "endpoint": "http://127.0.0.1:9000"}
//	}
//
// S3 credentials are accepted only from the JSON file so they never show up
// in a process listing.
package config
