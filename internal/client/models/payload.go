// Package models defines the vault data model: entries with their
// kind-specific payloads, categories, container descriptors, group bindings,
// timeline records and remote vault accounts.
package models

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/dmitrijs2005/vaultkeeper/internal/common"
)

// Kind classifies an entry.
type Kind string

const (
	KindPassword Kind = "password"
	KindTotp     Kind = "totp"
	KindCard     Kind = "card"
	KindDocument Kind = "document"
	KindNote     Kind = "note"
)

var AllKinds = []Kind{KindPassword, KindTotp, KindCard, KindDocument, KindNote}

func ParseKind(s string) (Kind, error) {
	for _, k := range AllKinds {
		if string(k) == s {
			return k, nil
		}
	}
	return "", fmt.Errorf("%w: unknown kind %q", common.ErrInvalidArgument, s)
}

// Payload is the kind-specific part of an entry. Implementations are the
// *Payload types in this package only.
type Payload interface {
	Kind() Kind
	isPayload()
}

type PasswordPayload struct {
	Username string `json:"username"`
	Password string `json:"password"`
	Website  string `json:"website"`
	Notes    string `json:"notes"`
	// OTP is an optional otpauth:// URI attached to the login.
	OTP string `json:"otp,omitempty"`
}

// TotpPayload is a standalone one-time code seed. OTPType is "totp", "hotp"
// or "steam"; Counter is only meaningful for hotp and is advanced explicitly.
type TotpPayload struct {
	Issuer    string `json:"issuer"`
	Account   string `json:"account"`
	Secret    string `json:"secret"`
	OTPType   string `json:"otp_type"`
	Algorithm string `json:"algorithm"`
	Digits    int    `json:"digits"`
	Period    int    `json:"period"`
	Counter   uint64 `json:"counter"`
}

type CardPayload struct {
	Holder   string `json:"holder"`
	Number   string `json:"number"`
	Brand    string `json:"brand"`
	ExpMonth string `json:"exp_month"`
	ExpYear  string `json:"exp_year"`
	CVV      string `json:"cvv"`
	Notes    string `json:"notes"`
}

type DocumentPayload struct {
	DocType   string `json:"doc_type"`
	Number    string `json:"number"`
	FullName  string `json:"full_name"`
	IssuedOn  string `json:"issued_on"`
	ExpiresOn string `json:"expires_on"`
	Notes     string `json:"notes"`
}

type NotePayload struct {
	Content string `json:"content"`
}

func (PasswordPayload) Kind() Kind { return KindPassword }
func (TotpPayload) Kind() Kind     { return KindTotp }
func (CardPayload) Kind() Kind     { return KindCard }
func (DocumentPayload) Kind() Kind { return KindDocument }
func (NotePayload) Kind() Kind     { return KindNote }

func (PasswordPayload) isPayload() {}
func (TotpPayload) isPayload()     {}
func (CardPayload) isPayload()     {}
func (DocumentPayload) isPayload() {}
func (NotePayload) isPayload()     {}

type envelope struct {
	Kind Kind            `json:"kind"`
	Data json.RawMessage `json:"data"`
}

// MarshalPayload encodes p together with its kind.
func MarshalPayload(p Payload) ([]byte, error) {
	if p == nil {
		return nil, fmt.Errorf("%w: nil payload", common.ErrInvalidArgument)
	}
	data, err := json.Marshal(p)
	if err != nil {
		return nil, err
	}
	return json.Marshal(envelope{Kind: p.Kind(), Data: data})
}

// UnmarshalPayload is the inverse of MarshalPayload. Unknown kinds fail.
func UnmarshalPayload(b []byte) (Payload, error) {
	var env envelope
	if err := json.Unmarshal(b, &env); err != nil {
		return nil, err
	}
	switch env.Kind {
	case KindPassword:
		return decodeAs[PasswordPayload](env.Data)
	case KindTotp:
		return decodeAs[TotpPayload](env.Data)
	case KindCard:
		return decodeAs[CardPayload](env.Data)
	case KindDocument:
		return decodeAs[DocumentPayload](env.Data)
	case KindNote:
		return decodeAs[NotePayload](env.Data)
	default:
		return nil, fmt.Errorf("%w: unknown kind %q", common.ErrInvalidArgument, env.Kind)
	}
}

func decodeAs[T Payload](data []byte) (Payload, error) {
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, err
	}
	return v, nil
}

// Field is one labeled user-facing value of a payload.
type Field struct {
	Label string
	Value string
}

// Field labels. These are persisted in timeline records and must stay stable.
const (
	LabelTitle     = "title"
	LabelUsername  = "username"
	LabelPassword  = "password"
	LabelWebsite   = "website"
	LabelNotes     = "notes"
	LabelOTP       = "otp"
	LabelIssuer    = "issuer"
	LabelAccount   = "account"
	LabelSecret    = "secret"
	LabelOTPType   = "otp_type"
	LabelAlgorithm = "algorithm"
	LabelDigits    = "digits"
	LabelPeriod    = "period"
	LabelCounter   = "counter"
	LabelHolder    = "holder"
	LabelNumber    = "number"
	LabelBrand     = "brand"
	LabelExpMonth  = "exp_month"
	LabelExpYear   = "exp_year"
	LabelCVV       = "cvv"
	LabelDocType   = "doc_type"
	LabelFullName  = "full_name"
	LabelIssuedOn  = "issued_on"
	LabelExpiresOn = "expires_on"
	LabelContent   = "content"

	// LabelName is the category name.
	LabelName = "name"
)

// Fields lists the tracked fields of p in a fixed order.
func Fields(p Payload) []Field {
	switch v := p.(type) {
	case PasswordPayload:
		return []Field{
			{LabelUsername, v.Username}, {LabelPassword, v.Password}, {LabelWebsite, v.Website},
			{LabelNotes, v.Notes}, {LabelOTP, v.OTP},
		}
	case TotpPayload:
		return []Field{
			{LabelIssuer, v.Issuer}, {LabelAccount, v.Account}, {LabelSecret, v.Secret},
			{LabelOTPType, v.OTPType}, {LabelAlgorithm, v.Algorithm}, {LabelDigits, strconv.Itoa(v.Digits)},
			{LabelPeriod, strconv.Itoa(v.Period)}, {LabelCounter, strconv.FormatUint(v.Counter, 10)},
		}
	case CardPayload:
		return []Field{
			{LabelHolder, v.Holder}, {LabelNumber, v.Number}, {LabelBrand, v.Brand},
			{LabelExpMonth, v.ExpMonth}, {LabelExpYear, v.ExpYear}, {LabelCVV, v.CVV}, {LabelNotes, v.Notes},
		}
	case DocumentPayload:
		return []Field{
			{LabelDocType, v.DocType}, {LabelNumber, v.Number}, {LabelFullName, v.FullName},
			{LabelIssuedOn, v.IssuedOn}, {LabelExpiresOn, v.ExpiresOn}, {LabelNotes, v.Notes},
		}
	case NotePayload:
		return []Field{{LabelContent, v.Content}}
	default:
		return nil
	}
}

// SetField returns a copy of p with the labeled field set to value. Labels
// that do not belong to p's kind fail with common.ErrUnknownField.
func SetField(p Payload, label, value string) (Payload, error) {
	unknown := fmt.Errorf("%w: %q for kind %s", common.ErrUnknownField, label, kindOf(p))

	switch v := p.(type) {
	case PasswordPayload:
		switch label {
		case LabelUsername:
			v.Username = value
		case LabelPassword:
			v.Password = value
		case LabelWebsite:
			v.Website = value
		case LabelNotes:
			v.Notes = value
		case LabelOTP:
			v.OTP = value
		default:
			return nil, unknown
		}
		return v, nil
	case TotpPayload:
		var err error
		switch label {
		case LabelIssuer:
			v.Issuer = value
		case LabelAccount:
			v.Account = value
		case LabelSecret:
			v.Secret = value
		case LabelOTPType:
			v.OTPType = value
		case LabelAlgorithm:
			v.Algorithm = value
		case LabelDigits:
			v.Digits, err = strconv.Atoi(value)
		case LabelPeriod:
			v.Period, err = strconv.Atoi(value)
		case LabelCounter:
			v.Counter, err = strconv.ParseUint(value, 10, 64)
		default:
			return nil, unknown
		}
		if err != nil {
			return nil, fmt.Errorf("%w: %s=%q", common.ErrInvalidArgument, label, value)
		}
		return v, nil
	case CardPayload:
		switch label {
		case LabelHolder:
			v.Holder = value
		case LabelNumber:
			v.Number = value
		case LabelBrand:
			v.Brand = value
		case LabelExpMonth:
			v.ExpMonth = value
		case LabelExpYear:
			v.ExpYear = value
		case LabelCVV:
			v.CVV = value
		case LabelNotes:
			v.Notes = value
		default:
			return nil, unknown
		}
		return v, nil
	case DocumentPayload:
		switch label {
		case LabelDocType:
			v.DocType = value
		case LabelNumber:
			v.Number = value
		case LabelFullName:
			v.FullName = value
		case LabelIssuedOn:
			v.IssuedOn = value
		case LabelExpiresOn:
			v.ExpiresOn = value
		case LabelNotes:
			v.Notes = value
		default:
			return nil, unknown
		}
		return v, nil
	case NotePayload:
		if label != LabelContent {
			return nil, unknown
		}
		v.Content = value
		return v, nil
	default:
		return nil, unknown
	}
}

func kindOf(p Payload) Kind {
	if p == nil {
		return ""
	}
	return p.Kind()
}
