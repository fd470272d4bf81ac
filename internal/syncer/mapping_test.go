package syncer

import (
	"testing"

	"github.com/dmitrijs2005/vaultkeeper/internal/client/models"
	"github.com/dmitrijs2005/vaultkeeper/internal/common"
	"github.com/dmitrijs2005/vaultkeeper/internal/remote"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCipherOf_PayloadOf(t *testing.T) {
	tests := []struct {
		name    string
		payload models.Payload
		typ     int
	}{
		{"password", models.PasswordPayload{Username: "u", Password: "p", Website: "https://x.example", Notes: "n", OTP: "otpauth://totp/X:u?secret=JBSWY3DPEHPK3PXP"}, remote.CipherTypeLogin},
		{"totp", models.TotpPayload{Issuer: "GitHub", Account: "me", Secret: "JBSWY3DPEHPK3PXP", OTPType: "totp", Algorithm: "SHA1", Digits: 6, Period: 30}, remote.CipherTypeLogin},
		{"card", models.CardPayload{Holder: "A B", Number: "4111", Brand: "Visa", ExpMonth: "01", ExpYear: "2030", CVV: "123", Notes: "n"}, remote.CipherTypeCard},
		{"document", models.DocumentPayload{DocType: "passport", Number: "X1", FullName: "A B", IssuedOn: "2020-01-01", ExpiresOn: "2030-01-01", Notes: "n"}, remote.CipherTypeSecureNote},
		{"note", models.NotePayload{Content: "hello"}, remote.CipherTypeSecureNote},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			it := &models.Item{Entry: models.Entry{Title: "T", Remote: models.RemoteLink{CipherID: "c1", FolderID: "f1"}}, Payload: tt.payload}
			c, err := CipherOf(it)
			require.NoError(t, err)
			assert.Equal(t, tt.typ, c.Type)
			assert.Equal(t, "c1", c.ID)
			assert.Equal(t, "f1", c.FolderID)

			got, err := PayloadOf(c)
			require.NoError(t, err)
			assert.Equal(t, tt.payload, got)
		})
	}
}

func TestPayloadOf_BareTotpLoginBecomesSeed(t *testing.T) {
	c := remote.Cipher{Type: remote.CipherTypeLogin, Name: "Svc", Login: &remote.Login{
		Username: "me", Totp: "otpauth://totp/Svc:me?secret=JBSWY3DPEHPK3PXP&issuer=Svc",
	}}
	p, err := PayloadOf(c)
	require.NoError(t, err)
	tp, ok := p.(models.TotpPayload)
	require.True(t, ok)
	assert.Equal(t, "Svc", tp.Issuer)
	assert.Equal(t, "me", tp.Account)

	c.Login.Totp = "not a uri"
	p, err = PayloadOf(c)
	require.NoError(t, err)
	assert.IsType(t, models.PasswordPayload{}, p)
}

func TestPayloadOf_UnsupportedType(t *testing.T) {
	_, err := PayloadOf(remote.Cipher{Type: remote.CipherTypeIdentity})
	require.ErrorIs(t, err, common.ErrInvalidArgument)
}

func TestIdentityKey(t *testing.T) {
	a := IdentityKey("Mail", models.PasswordPayload{Username: "Me ", Website: "https://www.mail.example/"})
	b := IdentityKey(" mail", models.PasswordPayload{Username: "me", Website: "mail.example"})
	assert.Equal(t, a, b)
	assert.NotEqual(t, a, IdentityKey("Mail", models.PasswordPayload{Username: "other", Website: "mail.example"}))

	assert.Equal(t,
		IdentityKey("x", models.TotpPayload{Issuer: "GitHub", Account: "me"}),
		IdentityKey("y", models.TotpPayload{Issuer: "github", Account: "ME"}))
	assert.Empty(t, IdentityKey("n", models.NotePayload{Content: "x"}))
}

func TestGroupMatches(t *testing.T) {
	tests := []struct {
		pattern, path string
		want          bool
	}{
		{"Root/Mail", "Root/Mail", true},
		{"Root/Mail", "Root/Mail/Old", true},
		{"Root/Mail", "Root/Mailbox", false},
		{"Root/**/Mail", "Root/Work/Team/Mail", true},
		{"Root/*", "Root/Bank", true},
		{"Root/*", "Other/Bank", false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, GroupMatches(tt.pattern, tt.path), "%s vs %s", tt.pattern, tt.path)
	}
}
