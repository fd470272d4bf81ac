// Package cryptox implements the vault's cryptography: the device master key
// and field cipher (Keyring, Session), and the enc-string primitives used for
// end-to-end encrypted remote payloads.
package cryptox

import (
	"crypto/sha256"

	"golang.org/x/crypto/argon2"
)

// KDFParams are the Argon2id cost parameters for the device master key.
type KDFParams struct {
	Time    uint32 `json:"time"`
	Memory  uint32 `json:"memory_kib"`
	Threads uint8  `json:"threads"`
}

// DefaultKDFParams is used when a vault is initialized.
var DefaultKDFParams = KDFParams{Time: 1, Memory: 64 * 1024, Threads: 4}

const (
	masterKeyLen = 32
	saltLen      = 32
)

// DeriveMasterKey derives a 32-byte key with the default parameters.
func DeriveMasterKey(password []byte, salt []byte) []byte {
	return DeriveMasterKeyWith(password, salt, DefaultKDFParams)
}

func DeriveMasterKeyWith(password, salt []byte, p KDFParams) []byte {
	return argon2.IDKey(password, salt, p.Time, p.Memory, p.Threads, masterKeyLen)
}

// MakeVerifier returns a one-way fingerprint of the master key that can be
// stored next to the salt and compared at unlock time.
func MakeVerifier(masterKey []byte) []byte {
	hash := sha256.Sum256(masterKey)
	return hash[:]
}
