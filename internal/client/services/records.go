package services

import (
	"fmt"

	"github.com/dmitrijs2005/vaultkeeper/internal/client/models"
	"github.com/dmitrijs2005/vaultkeeper/internal/common"
	"github.com/dmitrijs2005/vaultkeeper/internal/container"
	"github.com/dmitrijs2005/vaultkeeper/internal/otp"
)

// kindKey marks entries written by us whose kind is not a plain login.
const kindKey = "vaultkeeper:kind"

// Extra value keys for kinds without standard container fields.
const (
	keyHolder    = "Holder"
	keyCardNo    = "Card number"
	keyBrand     = "Brand"
	keyExpMonth  = "Expiry month"
	keyExpYear   = "Expiry year"
	keyCVV       = "CVV"
	keyDocType   = "Document type"
	keyDocNumber = "Document number"
	keyFullName  = "Full name"
	keyIssuedOn  = "Issued on"
	keyExpiresOn = "Expires on"
)

// payloadOfRecord maps a container entry to a payload. Entries we did not
// write are logins unless they only carry an otpauth URI or only notes.
func payloadOfRecord(r container.Record) (models.Payload, error) {
	switch models.Kind(r.Extra[kindKey]) {
	case models.KindTotp:
		return totpOfRecord(r)
	case models.KindCard:
		return models.CardPayload{
			Holder: r.Extra[keyHolder], Number: r.Extra[keyCardNo], Brand: r.Extra[keyBrand],
			ExpMonth: r.Extra[keyExpMonth], ExpYear: r.Extra[keyExpYear], CVV: r.Extra[keyCVV], Notes: r.Notes,
		}, nil
	case models.KindDocument:
		return models.DocumentPayload{
			DocType: r.Extra[keyDocType], Number: r.Extra[keyDocNumber], FullName: r.Extra[keyFullName],
			IssuedOn: r.Extra[keyIssuedOn], ExpiresOn: r.Extra[keyExpiresOn], Notes: r.Notes,
		}, nil
	case models.KindNote:
		return models.NotePayload{Content: r.Notes}, nil
	case models.KindPassword, "":
	default:
		return nil, fmt.Errorf("%w: kind %q", common.ErrInvalidArgument, r.Extra[kindKey])
	}

	login := r.Username != "" || r.Password != "" || r.URL != ""
	switch {
	case !login && r.OTP != "":
		return totpOfRecord(r)
	case !login && r.Notes != "":
		return models.NotePayload{Content: r.Notes}, nil
	}
	return models.PasswordPayload{Username: r.Username, Password: r.Password, Website: r.URL, Notes: r.Notes, OTP: r.OTP}, nil
}

func totpOfRecord(r container.Record) (models.Payload, error) {
	k, err := otp.ParseURI(r.OTP)
	if err != nil {
		return nil, err
	}
	return models.TotpPayloadFromKey(k), nil
}

// recordOf is the inverse of payloadOfRecord.
func recordOf(it *models.Item) (container.Record, error) {
	r := container.Record{Title: it.Title}
	switch p := it.Payload.(type) {
	case models.PasswordPayload:
		r.Username, r.Password, r.URL, r.Notes, r.OTP = p.Username, p.Password, p.Website, p.Notes, p.OTP
		return r, nil
	case models.TotpPayload:
		k, err := p.Key()
		if err != nil {
			return r, err
		}
		r.Username = p.Account
		r.OTP = k.URI()
	case models.CardPayload:
		r.Notes = p.Notes
		r.Extra = map[string]string{
			keyHolder: p.Holder, keyCardNo: p.Number, keyBrand: p.Brand,
			keyExpMonth: p.ExpMonth, keyExpYear: p.ExpYear, keyCVV: p.CVV,
		}
		r.Protected = map[string]bool{keyCardNo: true, keyCVV: true}
	case models.DocumentPayload:
		r.Notes = p.Notes
		r.Extra = map[string]string{
			keyDocType: p.DocType, keyDocNumber: p.Number, keyFullName: p.FullName,
			keyIssuedOn: p.IssuedOn, keyExpiresOn: p.ExpiresOn,
		}
		r.Protected = map[string]bool{keyDocNumber: true}
	case models.NotePayload:
		r.Notes = p.Content
	default:
		return r, fmt.Errorf("%w: payload %T", common.ErrInvalidArgument, it.Payload)
	}
	if r.Extra == nil {
		r.Extra = map[string]string{}
	}
	r.Extra[kindKey] = string(it.Payload.Kind())
	return r, nil
}
