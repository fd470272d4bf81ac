package otp

import (
	"encoding/base32"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	rfcSHA1   = base32.StdEncoding.EncodeToString([]byte("12345678901234567890"))
	rfcSHA256 = base32.StdEncoding.EncodeToString([]byte("12345678901234567890123456789012"))
	rfcSHA512 = base32.StdEncoding.EncodeToString([]byte("1234567890123456789012345678901234567890123456789012345678901234"))
)

func TestGenerate_RFC6238Vectors(t *testing.T) {
	tests := []struct {
		secret string
		alg    Algorithm
		unix   int64
		want   string
	}{
		{rfcSHA1, SHA1, 59, "94287082"},
		{rfcSHA256, SHA256, 59, "46119246"},
		{rfcSHA512, SHA512, 59, "90693936"},
		{rfcSHA1, SHA1, 1111111109, "07081804"},
		{rfcSHA1, SHA1, 1234567890, "89005924"},
		{rfcSHA1, SHA1, 2000000000, "69279037"},
	}
	for _, tc := range tests {
		t.Run(tc.alg.String(), func(t *testing.T) {
			v := TimeBased{Period: 30 * time.Second, Digits: 8, Algorithm: tc.alg}
			got, err := Generate(tc.secret, v, time.Unix(tc.unix, 0))
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestGenerate_RFC4226Counter(t *testing.T) {
	want := []string{"755224", "287082", "359152", "969429", "338314", "254676", "287922", "162583", "399871", "520489"}
	v := CounterBased{Digits: 6, Algorithm: SHA1}
	for i, w := range want {
		got, err := Generate(rfcSHA1, v, time.Time{})
		require.NoError(t, err)
		assert.Equal(t, w, got, "counter %d", i)

		again, err := Generate(rfcSHA1, v, time.Now())
		require.NoError(t, err)
		assert.Equal(t, got, again, "generation must not advance the counter")

		v = v.Next()
	}
}

func TestGenerate_DeterministicAndPeriodic(t *testing.T) {
	v := DefaultTOTP
	base := time.Unix(1700000000, 0)

	a, err := Generate(rfcSHA1, v, base)
	require.NoError(t, err)
	b, err := Generate(rfcSHA1, v, base)
	require.NoError(t, err)
	assert.Equal(t, a, b)
	assert.Len(t, a, 6)

	next, err := Generate(rfcSHA1, v, base.Add(30*time.Second))
	require.NoError(t, err)
	assert.NotEqual(t, a, next)

	back, err := Generate(rfcSHA1, v, base.Add(30*time.Second).Add(-30*time.Second))
	require.NoError(t, err)
	assert.Equal(t, a, back)
}

func TestGenerate_OffsetShiftsClock(t *testing.T) {
	now := time.Unix(1700000000, 0)
	shifted := DefaultTOTP
	shifted.Offset = 30 * time.Second

	a, err := Generate(rfcSHA1, shifted, now)
	require.NoError(t, err)
	b, err := Generate(rfcSHA1, DefaultTOTP, now.Add(30*time.Second))
	require.NoError(t, err)
	assert.Equal(t, b, a)
}

func TestGenerate_Steam(t *testing.T) {
	now := time.Unix(1700000000, 0)
	code, err := Generate(rfcSHA1, Steam{}, now)
	require.NoError(t, err)
	require.Len(t, code, 5)
	for _, c := range code {
		assert.True(t, strings.ContainsRune(steamAlphabet, c), "char %q", c)
	}

	again, err := Generate(rfcSHA1, Steam{}, now.Add(10*time.Second))
	require.NoError(t, err)
	assert.Equal(t, code, again, "same 30s window")
}

func TestGenerate_Errors(t *testing.T) {
	_, err := Generate("", DefaultTOTP, time.Now())
	require.ErrorIs(t, err, ErrInvalidSecret)

	_, err = Generate("!!!!", DefaultTOTP, time.Now())
	require.ErrorIs(t, err, ErrInvalidSecret)

	_, err = Generate(rfcSHA1, TimeBased{Period: 0, Digits: 6}, time.Now())
	require.ErrorIs(t, err, ErrInvalidVariant)

	for _, p := range []time.Duration{-time.Second, 500 * time.Millisecond, 1500 * time.Millisecond} {
		assert.NotPanics(t, func() {
			_, err = Generate(rfcSHA1, TimeBased{Period: p, Digits: 6}, time.Now())
		})
		require.ErrorIs(t, err, ErrInvalidVariant, p)
	}

	_, err = Generate(rfcSHA1, CounterBased{Digits: 4}, time.Now())
	require.ErrorIs(t, err, ErrInvalidVariant)

	_, err = Generate(rfcSHA1, nil, time.Now())
	require.ErrorIs(t, err, ErrInvalidVariant)
}

func TestDecodeSecret_Lenient(t *testing.T) {
	want, err := DecodeSecret("JBSWY3DPEHPK3PXP")
	require.NoError(t, err)

	for _, s := range []string{"jbswy3dpehpk3pxp", "JBSW Y3DP EHPK 3PXP", "JBSW-Y3DP-EHPK-3PXP"} {
		got, err := DecodeSecret(s)
		require.NoError(t, err, s)
		assert.Equal(t, want, got)
	}
}

func TestRemaining(t *testing.T) {
	now := time.Unix(1700000010, 0) // 10s into a 30s window
	assert.Equal(t, 20*time.Second, Remaining(DefaultTOTP, now))
	assert.Equal(t, 20*time.Second, Remaining(Steam{}, now))
	assert.Equal(t, time.Duration(0), Remaining(CounterBased{Digits: 6}, now))
}

func TestRemaining_BeforeEpoch(t *testing.T) {
	before := time.Unix(-10, 0)
	// the pre-epoch code stays valid until the end of the first window
	assert.Equal(t, 40*time.Second, Remaining(DefaultTOTP, before))

	code, err := Generate(rfcSHA1, DefaultTOTP, before)
	require.NoError(t, err)
	last, err := Generate(rfcSHA1, DefaultTOTP, before.Add(39*time.Second))
	require.NoError(t, err)
	assert.Equal(t, code, last)

	assert.Zero(t, Remaining(TimeBased{Period: 500 * time.Millisecond, Digits: 6}, time.Unix(0, 0)))
}
