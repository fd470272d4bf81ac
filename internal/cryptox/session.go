package cryptox

import (
	"sync"

	"github.com/dmitrijs2005/vaultkeeper/internal/common"
)

// Session holds the unlocked device master key. Every field operation goes
// through a Session; after Lock all operations fail with common.ErrLocked.
type Session struct {
	mu  sync.RWMutex
	key []byte
}

// NewSession takes ownership of key. The caller must not reuse the slice.
func NewSession(key []byte) *Session {
	lockMemory(key)
	return &Session{key: key}
}

// Encrypt seals plaintext into an opaque string.
func (s *Session) Encrypt(plaintext string) (string, error) {
	return s.EncryptBytes([]byte(plaintext))
}

// Decrypt opens a string produced by Encrypt. Malformed input or a key
// mismatch yields common.ErrDecryption.
func (s *Session) Decrypt(ciphertext string) (string, error) {
	b, err := s.DecryptBytes(ciphertext)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func (s *Session) EncryptBytes(plaintext []byte) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.key == nil {
		return "", common.ErrLocked
	}
	return sealField(s.key, plaintext)
}

func (s *Session) DecryptBytes(ciphertext string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.key == nil {
		return nil, common.ErrLocked
	}
	return openField(s.key, ciphertext)
}

// Lock zeroes the key and invalidates the session. Safe to call twice.
func (s *Session) Lock() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.key == nil {
		return
	}
	common.WipeByteArray(s.key)
	unlockMemory(s.key)
	s.key = nil
}

func (s *Session) Locked() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.key == nil
}
