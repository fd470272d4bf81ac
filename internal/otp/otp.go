// Package otp generates HOTP/TOTP codes (RFC 4226 / RFC 6238) and the Steam
// Guard variant. Generation is pure: the same inputs always give the same code,
// and counters are only advanced explicitly by the caller.
package otp

import (
	"crypto/hmac"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/base32"
	"encoding/binary"
	"errors"
	"fmt"
	"hash"
	"strings"
	"time"
)

var (
	ErrInvalidSecret  = errors.New("invalid otp secret")
	ErrInvalidVariant = errors.New("invalid otp parameters")
)

// Algorithm is the HMAC hash.
type Algorithm int

const (
	SHA1 Algorithm = iota
	SHA256
	SHA512
)

func (a Algorithm) String() string {
	switch a {
	case SHA256:
		return "SHA256"
	case SHA512:
		return "SHA512"
	default:
		return "SHA1"
	}
}

func ParseAlgorithm(s string) (Algorithm, error) {
	switch strings.ToUpper(strings.ReplaceAll(s, "-", "")) {
	case "", "SHA1":
		return SHA1, nil
	case "SHA256":
		return SHA256, nil
	case "SHA512":
		return SHA512, nil
	default:
		return SHA1, fmt.Errorf("%w: algorithm %q", ErrInvalidVariant, s)
	}
}

func (a Algorithm) hash() func() hash.Hash {
	switch a {
	case SHA256:
		return sha256.New
	case SHA512:
		return sha512.New
	default:
		return sha1.New
	}
}

// Variant is one of TimeBased, CounterBased or Steam.
type Variant interface {
	isVariant()
}

// TimeBased is RFC 6238 TOTP. Offset shifts the clock, e.g. to correct for
// device drift.
type TimeBased struct {
	Period    time.Duration
	Digits    int
	Algorithm Algorithm
	Offset    time.Duration
}

// CounterBased is RFC 4226 HOTP. Counter is persisted by the caller.
type CounterBased struct {
	Counter   uint64
	Digits    int
	Algorithm Algorithm
}

// Steam is the Steam Guard variant: 5 characters, 30s period, SHA1.
type Steam struct {
	Offset time.Duration
}

func (TimeBased) isVariant()    {}
func (CounterBased) isVariant() {}
func (Steam) isVariant()        {}

// DefaultTOTP is what authenticator apps assume when parameters are absent.
var DefaultTOTP = TimeBased{Period: 30 * time.Second, Digits: 6, Algorithm: SHA1}

const (
	steamPeriod   = 30 * time.Second
	steamDigits   = 5
	steamAlphabet = "23456789BCDFGHJKMNPQRTVWXY"
)

// Next returns the variant with its counter advanced by one.
func (c CounterBased) Next() CounterBased {
	c.Counter++
	return c
}

// Generate returns the code for secret (base32) under v at now. now is
// ignored for CounterBased.
func Generate(secret string, v Variant, now time.Time) (string, error) {
	key, err := DecodeSecret(secret)
	if err != nil {
		return "", err
	}

	switch v := v.(type) {
	case TimeBased:
		if !validPeriod(v.Period) || !validDigits(v.Digits) {
			return "", fmt.Errorf("%w: period %s digits %d", ErrInvalidVariant, v.Period, v.Digits)
		}
		return numericCode(key, timeCounter(now.Add(v.Offset), v.Period), v.Digits, v.Algorithm), nil
	case CounterBased:
		if !validDigits(v.Digits) {
			return "", fmt.Errorf("%w: digits %d", ErrInvalidVariant, v.Digits)
		}
		return numericCode(key, v.Counter, v.Digits, v.Algorithm), nil
	case Steam:
		return steamCode(key, timeCounter(now.Add(v.Offset), steamPeriod)), nil
	default:
		return "", fmt.Errorf("%w: unsupported variant %T", ErrInvalidVariant, v)
	}
}

// Remaining reports how long the code generated at now stays valid.
// Counter codes never expire and report zero.
func Remaining(v Variant, now time.Time) time.Duration {
	var period, offset time.Duration
	switch v := v.(type) {
	case TimeBased:
		period, offset = v.Period, v.Offset
	case Steam:
		period, offset = steamPeriod, v.Offset
	default:
		return 0
	}
	if !validPeriod(period) {
		return 0
	}
	t := now.Add(offset)
	if t.Unix() < 0 {
		// every instant before the epoch maps to counter zero
		return time.Unix(0, 0).Sub(t) + period
	}
	elapsed := time.Duration(t.UnixNano()) % period
	return period - elapsed
}

// DecodeSecret accepts base32 with any case, spaces, dashes and optional
// padding.
func DecodeSecret(secret string) ([]byte, error) {
	s := strings.ToUpper(secret)
	s = strings.NewReplacer(" ", "", "-", "", "\t", "").Replace(s)
	s = strings.TrimRight(s, "=")
	if s == "" {
		return nil, ErrInvalidSecret
	}
	key, err := base32.StdEncoding.WithPadding(base32.NoPadding).DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSecret, err)
	}
	return key, nil
}

func validDigits(d int) bool { return d >= 6 && d <= 10 }

// validPeriod accepts whole seconds only; counters step once per period.
func validPeriod(p time.Duration) bool { return p >= time.Second && p%time.Second == 0 }

func timeCounter(t time.Time, period time.Duration) uint64 {
	u := t.Unix()
	if u < 0 {
		return 0
	}
	return uint64(u) / uint64(period/time.Second)
}

// truncate is the RFC 4226 dynamic truncation to a 31-bit integer.
func truncate(key []byte, counter uint64, alg Algorithm) uint32 {
	var msg [8]byte
	binary.BigEndian.PutUint64(msg[:], counter)
	m := hmac.New(alg.hash(), key)
	m.Write(msg[:])
	sum := m.Sum(nil)
	off := sum[len(sum)-1] & 0x0f
	return binary.BigEndian.Uint32(sum[off:off+4]) & 0x7fffffff
}

func numericCode(key []byte, counter uint64, digits int, alg Algorithm) string {
	v := uint64(truncate(key, counter, alg))
	mod := uint64(1)
	for i := 0; i < digits; i++ {
		mod *= 10
	}
	return fmt.Sprintf("%0*d", digits, v%mod)
}

func steamCode(key []byte, counter uint64) string {
	v := truncate(key, counter, SHA1)
	out := make([]byte, steamDigits)
	n := uint32(len(steamAlphabet))
	for i := range out {
		out[i] = steamAlphabet[v%n]
		v /= n
	}
	return string(out)
}
