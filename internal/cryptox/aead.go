package cryptox

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/dmitrijs2005/vaultkeeper/internal/common"
	"golang.org/x/crypto/chacha20poly1305"
)

// Field ciphertext formats. New values are always sealed as xchachaPrefix;
// gcmPrefix is still opened so vaults written with AES-GCM keep working.
const (
	xchachaPrefix = "x1."
	gcmPrefix     = "g1."
	gcmNonceSize  = 12
)

// sealX encrypts with XChaCha20-Poly1305 and returns nonce||ciphertext.
func sealX(key, plaintext, aad []byte) ([]byte, error) {
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, chacha20poly1305.NonceSizeX, chacha20poly1305.NonceSizeX+len(plaintext)+aead.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		return nil, err
	}
	return aead.Seal(nonce, nonce, plaintext, aad), nil
}

func openX(key, blob, aad []byte) ([]byte, error) {
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, err
	}
	if len(blob) < chacha20poly1305.NonceSizeX+aead.Overhead() {
		return nil, fmt.Errorf("%w: ciphertext too short", common.ErrDecryption)
	}
	nonce, ct := blob[:chacha20poly1305.NonceSizeX], blob[chacha20poly1305.NonceSizeX:]
	pt, err := aead.Open(nil, nonce, ct, aad)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", common.ErrDecryption, err)
	}
	return pt, nil
}

func sealGCM(key, plaintext []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	aesgcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, gcmNonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return nil, err
	}
	return aesgcm.Seal(nonce, nonce, plaintext, nil), nil
}

func openGCM(key, blob []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	aesgcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	if len(blob) < gcmNonceSize+aesgcm.Overhead() {
		return nil, fmt.Errorf("%w: ciphertext too short", common.ErrDecryption)
	}
	pt, err := aesgcm.Open(nil, blob[:gcmNonceSize], blob[gcmNonceSize:], nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", common.ErrDecryption, err)
	}
	return pt, nil
}

// sealField produces the opaque textual form stored in the row store.
func sealField(key, plaintext []byte) (string, error) {
	blob, err := sealX(key, plaintext, []byte(xchachaPrefix))
	if err != nil {
		return "", err
	}
	return xchachaPrefix + base64.RawURLEncoding.EncodeToString(blob), nil
}

func openField(key []byte, s string) ([]byte, error) {
	switch {
	case strings.HasPrefix(s, xchachaPrefix):
		blob, err := base64.RawURLEncoding.DecodeString(s[len(xchachaPrefix):])
		if err != nil {
			return nil, fmt.Errorf("%w: bad encoding", common.ErrDecryption)
		}
		return openX(key, blob, []byte(xchachaPrefix))
	case strings.HasPrefix(s, gcmPrefix):
		blob, err := base64.RawURLEncoding.DecodeString(s[len(gcmPrefix):])
		if err != nil {
			return nil, fmt.Errorf("%w: bad encoding", common.ErrDecryption)
		}
		return openGCM(key, blob)
	default:
		return nil, fmt.Errorf("%w: unknown ciphertext format", common.ErrDecryption)
	}
}
