package models

import (
	"fmt"
	"strings"
	"time"

	"github.com/dmitrijs2005/vaultkeeper/internal/common"
	"github.com/dmitrijs2005/vaultkeeper/internal/otp"
)

// OTP types stored in TotpPayload.OTPType.
const (
	OTPTypeTOTP  = "totp"
	OTPTypeHOTP  = "hotp"
	OTPTypeSteam = "steam"
)

// Variant maps the stored parameters to an otp.Variant.
func (p TotpPayload) Variant() (otp.Variant, error) {
	alg, err := otp.ParseAlgorithm(p.Algorithm)
	if err != nil {
		return nil, err
	}
	digits := p.Digits
	if digits == 0 {
		digits = 6
	}
	switch strings.ToLower(p.OTPType) {
	case "", OTPTypeTOTP:
		period := p.Period
		if period == 0 {
			period = 30
		}
		return otp.TimeBased{Period: time.Duration(period) * time.Second, Digits: digits, Algorithm: alg}, nil
	case OTPTypeHOTP:
		return otp.CounterBased{Counter: p.Counter, Digits: digits, Algorithm: alg}, nil
	case OTPTypeSteam:
		return otp.Steam{}, nil
	default:
		return nil, fmt.Errorf("%w: otp type %q", common.ErrInvalidArgument, p.OTPType)
	}
}

// Key renders the payload as an otp.Key.
func (p TotpPayload) Key() (*otp.Key, error) {
	v, err := p.Variant()
	if err != nil {
		return nil, err
	}
	return &otp.Key{Issuer: p.Issuer, Account: p.Account, Secret: p.Secret, Variant: v}, nil
}

// TotpPayloadFromKey is the inverse of Key.
func TotpPayloadFromKey(k *otp.Key) TotpPayload {
	p := TotpPayload{Issuer: k.Issuer, Account: k.Account, Secret: k.Secret}
	switch v := k.Variant.(type) {
	case otp.TimeBased:
		p.OTPType, p.Algorithm, p.Digits, p.Period = OTPTypeTOTP, v.Algorithm.String(), v.Digits, int(v.Period/time.Second)
	case otp.CounterBased:
		p.OTPType, p.Algorithm, p.Digits, p.Counter = OTPTypeHOTP, v.Algorithm.String(), v.Digits, v.Counter
	case otp.Steam:
		p.OTPType, p.Algorithm, p.Digits, p.Period = OTPTypeSteam, otp.SHA1.String(), 5, 30
	}
	return p
}
