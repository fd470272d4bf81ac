package otp

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Key is a parsed otpauth:// provisioning URI.
type Key struct {
	Issuer  string
	Account string
	Secret  string
	Variant Variant
}

// ParseURI parses otpauth://totp/..., otpauth://hotp/... and steam://SECRET.
// A TOTP URI with issuer "Steam" or encoder=steam yields the Steam variant.
func ParseURI(raw string) (*Key, error) {
	raw = strings.TrimSpace(raw)
	if strings.HasPrefix(strings.ToLower(raw), "steam://") {
		secret := raw[len("steam://"):]
		if _, err := DecodeSecret(secret); err != nil {
			return nil, err
		}
		return &Key{Issuer: "Steam", Secret: secret, Variant: Steam{}}, nil
	}

	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidVariant, err)
	}
	if !strings.EqualFold(u.Scheme, "otpauth") {
		return nil, fmt.Errorf("%w: scheme %q", ErrInvalidVariant, u.Scheme)
	}
	q := u.Query()

	k := &Key{Secret: q.Get("secret")}
	if _, err := DecodeSecret(k.Secret); err != nil {
		return nil, err
	}

	label := strings.TrimPrefix(u.Path, "/")
	if issuer, account, ok := strings.Cut(label, ":"); ok {
		k.Issuer, k.Account = strings.TrimSpace(issuer), strings.TrimSpace(account)
	} else {
		k.Account = strings.TrimSpace(label)
	}
	if is := q.Get("issuer"); is != "" {
		k.Issuer = is
	}

	alg, err := ParseAlgorithm(q.Get("algorithm"))
	if err != nil {
		return nil, err
	}
	digits, err := intParam(q, "digits", 6)
	if err != nil {
		return nil, err
	}

	switch strings.ToLower(u.Host) {
	case "totp":
		if strings.EqualFold(q.Get("encoder"), "steam") || strings.EqualFold(k.Issuer, "steam") {
			k.Variant = Steam{}
			return k, nil
		}
		period, err := intParam(q, "period", 30)
		if err != nil {
			return nil, err
		}
		k.Variant = TimeBased{Period: time.Duration(period) * time.Second, Digits: digits, Algorithm: alg}
	case "hotp":
		counter, err := strconv.ParseUint(q.Get("counter"), 10, 64)
		if err != nil && q.Get("counter") != "" {
			return nil, fmt.Errorf("%w: counter %q", ErrInvalidVariant, q.Get("counter"))
		}
		k.Variant = CounterBased{Counter: counter, Digits: digits, Algorithm: alg}
	default:
		return nil, fmt.Errorf("%w: type %q", ErrInvalidVariant, u.Host)
	}
	return k, nil
}

// URI renders k back into an otpauth:// URI.
func (k *Key) URI() string {
	q := url.Values{}
	q.Set("secret", strings.ToUpper(strings.ReplaceAll(k.Secret, " ", "")))
	if k.Issuer != "" {
		q.Set("issuer", k.Issuer)
	}

	label := k.Account
	if k.Issuer != "" {
		label = k.Issuer + ":" + k.Account
	}
	u := url.URL{Scheme: "otpauth", Path: "/" + label}

	switch v := k.Variant.(type) {
	case CounterBased:
		u.Host = "hotp"
		q.Set("algorithm", v.Algorithm.String())
		q.Set("digits", strconv.Itoa(v.Digits))
		q.Set("counter", strconv.FormatUint(v.Counter, 10))
	case Steam:
		u.Host = "totp"
		q.Set("encoder", "steam")
	case TimeBased:
		u.Host = "totp"
		q.Set("algorithm", v.Algorithm.String())
		q.Set("digits", strconv.Itoa(v.Digits))
		q.Set("period", strconv.Itoa(int(v.Period/time.Second)))
	default:
		u.Host = "totp"
	}
	u.RawQuery = q.Encode()
	return u.String()
}

func intParam(q url.Values, name string, def int) (int, error) {
	s := q.Get(name)
	if s == "" {
		return def, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("%w: %s %q", ErrInvalidVariant, name, s)
	}
	return n, nil
}
