package cryptox

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/dmitrijs2005/vaultkeeper/internal/common"
)

// Metadata keys under which key material is persisted. The key itself is
// never stored, only what is needed to re-derive and verify it.
const (
	MetaSalt      = "kdf_salt"
	MetaVerifier  = "kdf_verifier"
	MetaKDFParams = "kdf_params"
)

var ErrNotInitialized = errors.New("vault is not initialized")

// KeyStore persists key material. The metadata repository satisfies it.
type KeyStore interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
}

// KeyMaterial is what must be persisted for a master passphrase.
type KeyMaterial struct {
	Salt     []byte
	Verifier []byte
	Params   KDFParams
}

// Keyring derives, verifies and persists the device master key.
type Keyring struct {
	store  KeyStore
	params KDFParams
}

type KeyringOption func(*Keyring)

// WithKDFParams overrides the cost parameters used for new key material.
func WithKDFParams(p KDFParams) KeyringOption {
	return func(k *Keyring) { k.params = p }
}

func NewKeyring(store KeyStore, opts ...KeyringOption) *Keyring {
	k := &Keyring{store: store, params: DefaultKDFParams}
	for _, o := range opts {
		o(k)
	}
	return k
}

// WithStore returns a copy bound to another store, e.g. a transaction.
func (k *Keyring) WithStore(store KeyStore) *Keyring {
	return &Keyring{store: store, params: k.params}
}

// Initialized reports whether key material exists.
func (k *Keyring) Initialized(ctx context.Context) (bool, error) {
	salt, err := k.store.Get(ctx, MetaSalt)
	if err != nil {
		return false, err
	}
	return len(salt) > 0, nil
}

// Unlock derives the key from passphrase and returns a live Session.
// A wrong passphrase yields common.ErrAuth.
func (k *Keyring) Unlock(ctx context.Context, passphrase []byte) (*Session, error) {
	m, err := k.load(ctx)
	if err != nil {
		return nil, err
	}
	key := DeriveMasterKeyWith(passphrase, m.Salt, m.Params)
	if subtle.ConstantTimeCompare(MakeVerifier(key), m.Verifier) == 0 {
		common.WipeByteArray(key)
		return nil, common.ErrAuth
	}
	return NewSession(key), nil
}

// VerifyMasterPassphrase reports whether candidate matches the stored key.
func (k *Keyring) VerifyMasterPassphrase(ctx context.Context, candidate []byte) (bool, error) {
	m, err := k.load(ctx)
	if err != nil {
		return false, err
	}
	key := DeriveMasterKeyWith(candidate, m.Salt, m.Params)
	defer common.WipeByteArray(key)
	return subtle.ConstantTimeCompare(MakeVerifier(key), m.Verifier) == 1, nil
}

// Prepare derives fresh key material for passphrase without persisting it.
func (k *Keyring) Prepare(passphrase []byte) (*Session, KeyMaterial) {
	m := KeyMaterial{Salt: common.GenerateRandByteArray(saltLen), Params: k.params}
	key := DeriveMasterKeyWith(passphrase, m.Salt, m.Params)
	m.Verifier = MakeVerifier(key)
	return NewSession(key), m
}

// Install persists key material produced by Prepare.
func (k *Keyring) Install(ctx context.Context, m KeyMaterial) error {
	params, err := json.Marshal(m.Params)
	if err != nil {
		return err
	}
	if err := k.store.Set(ctx, MetaSalt, m.Salt); err != nil {
		return fmt.Errorf("store salt: %w", err)
	}
	if err := k.store.Set(ctx, MetaVerifier, m.Verifier); err != nil {
		return fmt.Errorf("store verifier: %w", err)
	}
	if err := k.store.Set(ctx, MetaKDFParams, params); err != nil {
		return fmt.Errorf("store kdf params: %w", err)
	}
	return nil
}

// SetMasterPassphrase re-derives the device key from passphrase and persists
// the new material. Existing ciphertext is NOT re-encrypted here; callers
// that already hold data must use Prepare and Install around their own
// re-encryption.
func (k *Keyring) SetMasterPassphrase(ctx context.Context, passphrase []byte) (*Session, error) {
	s, m := k.Prepare(passphrase)
	if err := k.Install(ctx, m); err != nil {
		s.Lock()
		return nil, err
	}
	return s, nil
}

func (k *Keyring) load(ctx context.Context) (KeyMaterial, error) {
	var m KeyMaterial
	var err error
	if m.Salt, err = k.store.Get(ctx, MetaSalt); err != nil {
		return m, fmt.Errorf("load salt: %w", err)
	}
	if m.Verifier, err = k.store.Get(ctx, MetaVerifier); err != nil {
		return m, fmt.Errorf("load verifier: %w", err)
	}
	if len(m.Salt) == 0 || len(m.Verifier) == 0 {
		return m, ErrNotInitialized
	}
	raw, err := k.store.Get(ctx, MetaKDFParams)
	if err != nil {
		return m, fmt.Errorf("load kdf params: %w", err)
	}
	m.Params = DefaultKDFParams
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &m.Params); err != nil {
			return m, fmt.Errorf("decode kdf params: %w", err)
		}
	}
	return m, nil
}
