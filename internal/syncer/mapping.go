package syncer

import (
	"fmt"
	"strings"

	"github.com/dmitrijs2005/vaultkeeper/internal/client/models"
	"github.com/dmitrijs2005/vaultkeeper/internal/common"
	"github.com/dmitrijs2005/vaultkeeper/internal/otp"
	"github.com/dmitrijs2005/vaultkeeper/internal/remote"
)

// kindField is a hidden custom field carrying the local kind for kinds the
// remote service has no type for.
const kindField = "vaultkeeper:kind"

// Custom field names of documents stored as secure notes.
const (
	fieldDocType   = "Document type"
	fieldNumber    = "Number"
	fieldFullName  = "Full name"
	fieldIssuedOn  = "Issued on"
	fieldExpiresOn = "Expires on"
)

// PayloadOf converts a decrypted remote cipher into a local payload.
func PayloadOf(c remote.Cipher) (models.Payload, error) {
	marker := models.Kind(c.FieldValue(kindField))

	switch c.Type {
	case remote.CipherTypeLogin:
		l := c.Login
		if l == nil {
			l = &remote.Login{}
		}
		if marker == models.KindTotp || (l.Password == "" && l.Totp != "" && marker == "") {
			if k, err := otp.ParseURI(l.Totp); err == nil {
				return models.TotpPayloadFromKey(k), nil
			}
		}
		p := models.PasswordPayload{Username: l.Username, Password: l.Password, Notes: c.Notes, OTP: l.Totp}
		if len(l.URIs) > 0 {
			p.Website = l.URIs[0]
		}
		return p, nil
	case remote.CipherTypeCard:
		cd := c.Card
		if cd == nil {
			cd = &remote.Card{}
		}
		return models.CardPayload{
			Holder: cd.Holder, Number: cd.Number, Brand: cd.Brand,
			ExpMonth: cd.ExpMonth, ExpYear: cd.ExpYear, CVV: cd.Code, Notes: c.Notes,
		}, nil
	case remote.CipherTypeSecureNote:
		if marker == models.KindDocument {
			return models.DocumentPayload{
				DocType:   c.FieldValue(fieldDocType),
				Number:    c.FieldValue(fieldNumber),
				FullName:  c.FieldValue(fieldFullName),
				IssuedOn:  c.FieldValue(fieldIssuedOn),
				ExpiresOn: c.FieldValue(fieldExpiresOn),
				Notes:     c.Notes,
			}, nil
		}
		return models.NotePayload{Content: c.Notes}, nil
	default:
		return nil, fmt.Errorf("%w: cipher type %d", common.ErrInvalidArgument, c.Type)
	}
}

// CipherOf renders an item as a remote cipher. ID and FolderID come from
// the item's remote link.
func CipherOf(it *models.Item) (remote.Cipher, error) {
	c := remote.Cipher{
		ID:       it.Remote.CipherID,
		FolderID: it.Remote.FolderID,
		Name:     it.Title,
		Favorite: it.IsFavorite,
	}

	switch p := it.Payload.(type) {
	case models.PasswordPayload:
		c.Type = remote.CipherTypeLogin
		c.Notes = p.Notes
		c.Login = &remote.Login{Username: p.Username, Password: p.Password, Totp: p.OTP}
		if p.Website != "" {
			c.Login.URIs = []string{p.Website}
		}
	case models.TotpPayload:
		k, err := p.Key()
		if err != nil {
			return remote.Cipher{}, err
		}
		c.Type = remote.CipherTypeLogin
		c.Login = &remote.Login{Username: p.Account, Totp: k.URI()}
		c.Fields = []remote.Field{{Name: kindField, Value: string(models.KindTotp), Hidden: true}}
	case models.CardPayload:
		c.Type = remote.CipherTypeCard
		c.Notes = p.Notes
		c.Card = &remote.Card{
			Holder: p.Holder, Brand: p.Brand, Number: p.Number,
			ExpMonth: p.ExpMonth, ExpYear: p.ExpYear, Code: p.CVV,
		}
	case models.DocumentPayload:
		c.Type = remote.CipherTypeSecureNote
		c.Notes = p.Notes
		c.Fields = []remote.Field{
			{Name: kindField, Value: string(models.KindDocument), Hidden: true},
			{Name: fieldDocType, Value: p.DocType},
			{Name: fieldNumber, Value: p.Number, Hidden: true},
			{Name: fieldFullName, Value: p.FullName},
			{Name: fieldIssuedOn, Value: p.IssuedOn},
			{Name: fieldExpiresOn, Value: p.ExpiresOn},
		}
	case models.NotePayload:
		c.Type = remote.CipherTypeSecureNote
		c.Notes = p.Content
	default:
		return remote.Cipher{}, fmt.Errorf("%w: payload %T", common.ErrInvalidArgument, it.Payload)
	}
	return c, nil
}

// IdentityKey is the dedupe identity of an item. Two TOTP seeds match on
// (issuer, account); two logins match on (title, username, website).
// Other kinds never count as duplicates and get "".
func IdentityKey(title string, p models.Payload) string {
	fold := func(s string) string { return strings.ToLower(strings.TrimSpace(s)) }
	switch v := p.(type) {
	case models.TotpPayload:
		return "totp\x00" + fold(v.Issuer) + "\x00" + fold(v.Account)
	case models.PasswordPayload:
		return "password\x00" + fold(title) + "\x00" + fold(v.Username) + "\x00" + models.NormalizeWebsite(v.Website)
	default:
		return ""
	}
}
