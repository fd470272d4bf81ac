package metadata

import (
	"context"
)

// Well-known keys besides the keyring material owned by cryptox.
const (
	KeyDeviceID = "device_id"
	// KeyPassphraseChange holds the phase of an unfinished passphrase change.
	KeyPassphraseChange = "passphrase_change"
)

// Repository is a small key/value store. It satisfies cryptox.KeyStore.
type Repository interface {
	// Get returns (nil, nil) when the key is absent.
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
	List(ctx context.Context) (map[string][]byte, error)

	GetString(ctx context.Context, key string) (string, error)
	SetString(ctx context.Context, key, value string) error
}
