package cryptox

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/dmitrijs2005/vaultkeeper/internal/common"
)

// Enc-string types understood by the remote service.
const (
	EncTypeAesCbc256B64           = 0
	EncTypeAesCbc256HmacSha256B64 = 2
)

var errBadEncString = errors.New("malformed enc-string")

// SymmetricKey is the 64-byte vault key split into encryption and MAC halves.
type SymmetricKey struct {
	Enc []byte
	Mac []byte
}

// NewSymmetricKey splits a 64-byte key. A 32-byte key is accepted as an
// encryption-only key for legacy type-0 payloads.
func NewSymmetricKey(b []byte) (*SymmetricKey, error) {
	switch len(b) {
	case 64:
		return &SymmetricKey{Enc: bytes.Clone(b[:32]), Mac: bytes.Clone(b[32:])}, nil
	case 32:
		return &SymmetricKey{Enc: bytes.Clone(b)}, nil
	default:
		return nil, fmt.Errorf("%w: symmetric key must be 32 or 64 bytes, got %d", common.ErrDecryption, len(b))
	}
}

// Bytes returns enc||mac.
func (k *SymmetricKey) Bytes() []byte {
	out := make([]byte, 0, len(k.Enc)+len(k.Mac))
	out = append(out, k.Enc...)
	return append(out, k.Mac...)
}

func (k *SymmetricKey) Wipe() {
	common.WipeByteArray(k.Enc)
	common.WipeByteArray(k.Mac)
}

// EncString is the "<type>.<iv>|<data>|<mac>" wire format.
type EncString struct {
	Type int
	IV   []byte
	Data []byte
	MAC  []byte
}

// ParseEncString parses the textual form. Base64 padding and URL-safe
// alphabets are tolerated.
func ParseEncString(s string) (*EncString, error) {
	head, body, ok := strings.Cut(strings.TrimSpace(s), ".")
	if !ok {
		return nil, errBadEncString
	}
	t, err := strconv.Atoi(head)
	if err != nil {
		return nil, errBadEncString
	}
	parts := strings.Split(body, "|")

	e := &EncString{Type: t}
	switch t {
	case EncTypeAesCbc256B64:
		if len(parts) != 2 {
			return nil, errBadEncString
		}
	case EncTypeAesCbc256HmacSha256B64:
		if len(parts) != 3 {
			return nil, errBadEncString
		}
		if e.MAC, err = decodeTolerant(parts[2]); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("%w: unsupported type %d", errBadEncString, t)
	}
	if e.IV, err = decodeTolerant(parts[0]); err != nil {
		return nil, err
	}
	if e.Data, err = decodeTolerant(parts[1]); err != nil {
		return nil, err
	}
	if len(e.IV) != aes.BlockSize {
		return nil, fmt.Errorf("%w: bad iv length", errBadEncString)
	}
	return e, nil
}

func (e *EncString) String() string {
	enc := base64.StdEncoding
	if e.Type == EncTypeAesCbc256B64 {
		return fmt.Sprintf("%d.%s|%s", e.Type, enc.EncodeToString(e.IV), enc.EncodeToString(e.Data))
	}
	return fmt.Sprintf("%d.%s|%s|%s", e.Type, enc.EncodeToString(e.IV), enc.EncodeToString(e.Data), enc.EncodeToString(e.MAC))
}

// Encrypt produces a type-2 enc-string: AES-256-CBC with PKCS#7 padding and
// HMAC-SHA256 over iv||data.
func Encrypt(plaintext []byte, key *SymmetricKey) (*EncString, error) {
	if len(key.Mac) == 0 {
		return nil, errors.New("encryption requires a MAC key")
	}
	block, err := aes.NewCipher(key.Enc)
	if err != nil {
		return nil, err
	}
	iv := make([]byte, aes.BlockSize)
	if _, err := rand.Read(iv); err != nil {
		return nil, err
	}
	padded := pkcs7Pad(plaintext, aes.BlockSize)
	data := make([]byte, len(padded))
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(data, padded)

	return &EncString{
		Type: EncTypeAesCbc256HmacSha256B64,
		IV:   iv,
		Data: data,
		MAC:  computeMAC(key.Mac, iv, data),
	}, nil
}

// Decrypt verifies and decrypts e. Type-0 values carry no MAC and are only
// accepted when allowUnauthenticated is set.
func (e *EncString) Decrypt(key *SymmetricKey, allowUnauthenticated bool) ([]byte, error) {
	switch e.Type {
	case EncTypeAesCbc256HmacSha256B64:
		if len(key.Mac) == 0 {
			return nil, fmt.Errorf("%w: missing mac key", common.ErrDecryption)
		}
		if !hmac.Equal(e.MAC, computeMAC(key.Mac, e.IV, e.Data)) {
			return nil, fmt.Errorf("%w: mac mismatch", common.ErrDecryption)
		}
	case EncTypeAesCbc256B64:
		if !allowUnauthenticated {
			return nil, fmt.Errorf("%w: unauthenticated enc-string rejected", common.ErrDecryption)
		}
	default:
		return nil, fmt.Errorf("%w: unsupported type %d", common.ErrDecryption, e.Type)
	}

	if len(e.Data) == 0 || len(e.Data)%aes.BlockSize != 0 {
		return nil, fmt.Errorf("%w: bad ciphertext length", common.ErrDecryption)
	}
	block, err := aes.NewCipher(key.Enc)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", common.ErrDecryption, err)
	}
	out := make([]byte, len(e.Data))
	cipher.NewCBCDecrypter(block, e.IV).CryptBlocks(out, e.Data)
	return pkcs7Unpad(out, aes.BlockSize)
}

// EncryptString is Encrypt rendered to text. Empty input stays empty so
// optional fields are not sent as ciphertext of nothing.
func EncryptString(s string, key *SymmetricKey) (string, error) {
	if s == "" {
		return "", nil
	}
	e, err := Encrypt([]byte(s), key)
	if err != nil {
		return "", err
	}
	return e.String(), nil
}

// DecryptString parses and decrypts an authenticated enc-string.
func DecryptString(s string, key *SymmetricKey) (string, error) {
	if s == "" {
		return "", nil
	}
	e, err := ParseEncString(s)
	if err != nil {
		return "", fmt.Errorf("%w: %v", common.ErrDecryption, err)
	}
	b, err := e.Decrypt(key, false)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func computeMAC(key, iv, data []byte) []byte {
	m := hmac.New(sha256.New, key)
	m.Write(iv)
	m.Write(data)
	return m.Sum(nil)
}

func pkcs7Pad(b []byte, size int) []byte {
	n := size - len(b)%size
	out := make([]byte, len(b), len(b)+n)
	copy(out, b)
	return append(out, bytes.Repeat([]byte{byte(n)}, n)...)
}

func pkcs7Unpad(b []byte, size int) ([]byte, error) {
	if len(b) == 0 {
		return nil, fmt.Errorf("%w: empty plaintext", common.ErrDecryption)
	}
	n := int(b[len(b)-1])
	if n == 0 || n > size || n > len(b) {
		return nil, fmt.Errorf("%w: bad padding", common.ErrDecryption)
	}
	for _, c := range b[len(b)-n:] {
		if int(c) != n {
			return nil, fmt.Errorf("%w: bad padding", common.ErrDecryption)
		}
	}
	return b[:len(b)-n], nil
}

// decodeTolerant accepts standard or URL-safe base64 with or without padding.
func decodeTolerant(s string) ([]byte, error) {
	s = strings.TrimSpace(s)
	s = strings.NewReplacer("-", "+", "_", "/").Replace(s)
	s = strings.TrimRight(s, "=")
	b, err := base64.RawStdEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errBadEncString, err)
	}
	return b, nil
}
