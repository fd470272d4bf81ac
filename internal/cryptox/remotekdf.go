package cryptox

import (
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"io"
	"strings"

	"github.com/dmitrijs2005/vaultkeeper/internal/common"
	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/hkdf"
	"golang.org/x/crypto/pbkdf2"
)

// KdfType is the remote account's key-derivation function as reported by
// the prelogin endpoint.
type KdfType int

const (
	KdfPBKDF2SHA256 KdfType = 0
	KdfArgon2id     KdfType = 1
)

// RemoteKdf carries the remote account KDF settings. Memory is in MiB.
type RemoteKdf struct {
	Type        KdfType
	Iterations  int
	Memory      int
	Parallelism int
}

// DeriveRemoteMasterKey computes the account master key. PBKDF2 salts with
// the normalized email; Argon2id salts with its SHA-256.
func DeriveRemoteMasterKey(password []byte, email string, kdf RemoteKdf) ([]byte, error) {
	salt := []byte(strings.ToLower(strings.TrimSpace(email)))
	switch kdf.Type {
	case KdfPBKDF2SHA256:
		if kdf.Iterations <= 0 {
			return nil, fmt.Errorf("pbkdf2: invalid iterations %d", kdf.Iterations)
		}
		return pbkdf2.Key(password, salt, kdf.Iterations, 32, sha256.New), nil
	case KdfArgon2id:
		if kdf.Iterations <= 0 || kdf.Memory <= 0 || kdf.Parallelism <= 0 {
			return nil, fmt.Errorf("argon2id: invalid parameters %+v", kdf)
		}
		sum := sha256.Sum256(salt)
		return argon2.IDKey(password, sum[:], uint32(kdf.Iterations), uint32(kdf.Memory)*1024, uint8(kdf.Parallelism), 32), nil
	default:
		return nil, fmt.Errorf("unsupported kdf type %d", kdf.Type)
	}
}

// MasterPasswordHash is the value sent to the identity endpoint in place of
// the password: one PBKDF2 round of the password keyed by the master key.
func MasterPasswordHash(masterKey, password []byte) string {
	return base64.StdEncoding.EncodeToString(pbkdf2.Key(masterKey, password, 1, 32, sha256.New))
}

// StretchMasterKey expands the master key into enc and mac halves with
// HKDF-Expand (info "enc" and "mac").
func StretchMasterKey(masterKey []byte) (*SymmetricKey, error) {
	enc := make([]byte, 32)
	if _, err := io.ReadFull(hkdf.Expand(sha256.New, masterKey, []byte("enc")), enc); err != nil {
		return nil, err
	}
	mac := make([]byte, 32)
	if _, err := io.ReadFull(hkdf.Expand(sha256.New, masterKey, []byte("mac")), mac); err != nil {
		return nil, err
	}
	return &SymmetricKey{Enc: enc, Mac: mac}, nil
}

// UnwrapVaultKey decrypts the protected vault key returned at login.
func UnwrapVaultKey(protected string, stretched *SymmetricKey) (*SymmetricKey, error) {
	e, err := ParseEncString(protected)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", common.ErrDecryption, err)
	}
	raw, err := e.Decrypt(stretched, false)
	if err != nil {
		return nil, err
	}
	defer common.WipeByteArray(raw)
	return NewSymmetricKey(raw)
}
