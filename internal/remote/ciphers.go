package remote

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"github.com/dmitrijs2005/vaultkeeper/internal/common"
	"github.com/dmitrijs2005/vaultkeeper/internal/cryptox"
)

// Sync pulls the whole account and decrypts it. Ciphers that fail to
// decrypt are listed in Snapshot.Failed and do not abort the pull.
func (c *Client) Sync(ctx context.Context, s *Session) (*Snapshot, error) {
	var resp syncResponse
	req := request{method: http.MethodGet, url: c.apiURL + "/sync?excludeDomains=true"}
	if err := c.authed(ctx, s, req, &resp); err != nil {
		return nil, fmt.Errorf("sync: %w", err)
	}

	snap := &Snapshot{}
	for _, f := range resp.Folders {
		folder, err := decryptFolder(f, s.Key)
		if err != nil {
			// a folder we cannot read is treated as absent
			c.log.Warn(ctx, "skipping undecryptable folder", "vault_id", s.VaultID, "folder_id", f.ID, "error", err)
			continue
		}
		snap.Folders = append(snap.Folders, folder)
	}
	for _, cj := range resp.Ciphers {
		if cj.OrganizationID != nil && *cj.OrganizationID != "" {
			snap.OrganizationSkipped++
			continue
		}
		ci, err := decryptCipher(cj, s.Key)
		if err != nil {
			snap.Failed = append(snap.Failed, CipherFailure{ID: cj.ID, Err: err})
			continue
		}
		snap.Ciphers = append(snap.Ciphers, ci)
	}
	c.log.Debug(ctx, "sync pulled", "vault_id", s.VaultID,
		"folders", len(snap.Folders), "ciphers", len(snap.Ciphers), "failed", len(snap.Failed))
	return snap, nil
}

// CreateCipher encrypts ci and stores it. The returned cipher carries the
// server-assigned id and revision.
func (c *Client) CreateCipher(ctx context.Context, s *Session, ci Cipher) (*Cipher, error) {
	return c.putCipher(ctx, s, http.MethodPost, c.apiURL+"/ciphers", ci)
}

func (c *Client) UpdateCipher(ctx context.Context, s *Session, ci Cipher) (*Cipher, error) {
	if ci.ID == "" {
		return nil, fmt.Errorf("%w: cipher id required", common.ErrInvalidArgument)
	}
	return c.putCipher(ctx, s, http.MethodPut, c.apiURL+"/ciphers/"+url.PathEscape(ci.ID), ci)
}

func (c *Client) putCipher(ctx context.Context, s *Session, method, target string, ci Cipher) (*Cipher, error) {
	body, err := encryptCipher(ci, s.Key)
	if err != nil {
		return nil, err
	}
	req, err := jsonRequest(method, target, body)
	if err != nil {
		return nil, err
	}
	var resp cipherJSON
	if err := c.authed(ctx, s, req, &resp); err != nil {
		return nil, fmt.Errorf("%s cipher: %w", method, err)
	}
	out, err := decryptCipher(resp, s.Key)
	if err != nil {
		// the write succeeded; keep what we sent with the server metadata
		out = ci
		out.ID = resp.ID
		if resp.RevisionDate != nil {
			out.Revision = *resp.RevisionDate
		}
	}
	return &out, nil
}

// DeleteCipher permanently deletes a cipher. A cipher that is already gone
// counts as deleted.
func (c *Client) DeleteCipher(ctx context.Context, s *Session, cipherID string) (bool, error) {
	req := request{method: http.MethodDelete, url: c.apiURL + "/ciphers/" + url.PathEscape(cipherID)}
	err := c.authed(ctx, s, req, nil)
	if err != nil {
		if statusOf(err) == http.StatusNotFound {
			return true, nil
		}
		return false, fmt.Errorf("delete cipher %s: %w", cipherID, err)
	}
	return true, nil
}

func decryptCipher(cj cipherJSON, userKey *cryptox.SymmetricKey) (Cipher, error) {
	key := userKey
	if cj.Key != "" {
		// per-item key wrapped with the user key
		itemKey, err := cryptox.UnwrapVaultKey(cj.Key, userKey)
		if err != nil {
			return Cipher{}, fmt.Errorf("cipher %s key: %w", cj.ID, err)
		}
		defer itemKey.Wipe()
		key = itemKey
	}

	d := decrypter{key: key}
	ci := Cipher{
		ID:       cj.ID,
		Type:     cj.Type,
		Name:     d.str(cj.Name),
		Notes:    d.str(cj.Notes),
		Favorite: cj.Favorite,
		Deleted:  cj.DeletedDate != nil,
	}
	if cj.FolderID != nil {
		ci.FolderID = *cj.FolderID
	}
	if cj.RevisionDate != nil {
		ci.Revision = *cj.RevisionDate
	}
	if l := cj.Login; l != nil {
		ci.Login = &Login{Username: d.str(l.Username), Password: d.str(l.Password), Totp: d.str(l.Totp)}
		for _, u := range l.URIs {
			if v := d.str(u.URI); v != "" {
				ci.Login.URIs = append(ci.Login.URIs, v)
			}
		}
	}
	if cd := cj.Card; cd != nil {
		ci.Card = &Card{
			Holder:   d.str(cd.CardholderName),
			Brand:    d.str(cd.Brand),
			Number:   d.str(cd.Number),
			ExpMonth: d.str(cd.ExpMonth),
			ExpYear:  d.str(cd.ExpYear),
			Code:     d.str(cd.Code),
		}
	}
	for _, f := range cj.Fields {
		ci.Fields = append(ci.Fields, Field{Name: d.str(f.Name), Value: d.str(f.Value), Hidden: f.Type == FieldTypeHidden})
	}
	if d.err != nil {
		return Cipher{}, fmt.Errorf("cipher %s: %w", cj.ID, d.err)
	}
	return ci, nil
}

func encryptCipher(ci Cipher, key *cryptox.SymmetricKey) (cipherJSON, error) {
	e := encrypter{key: key}
	cj := cipherJSON{
		ID:       ci.ID,
		Type:     ci.Type,
		Name:     e.str(ci.Name),
		Notes:    e.str(ci.Notes),
		Favorite: ci.Favorite,
	}
	if ci.FolderID != "" {
		id := ci.FolderID
		cj.FolderID = &id
	}
	switch ci.Type {
	case CipherTypeLogin:
		l := ci.Login
		if l == nil {
			l = &Login{}
		}
		cj.Login = &loginJSON{Username: e.str(l.Username), Password: e.str(l.Password), Totp: e.str(l.Totp)}
		for _, u := range l.URIs {
			cj.Login.URIs = append(cj.Login.URIs, uriJSON{URI: e.str(u)})
		}
	case CipherTypeSecureNote:
		cj.SecureNote = &noteJSON{Type: 0}
	case CipherTypeCard:
		cd := ci.Card
		if cd == nil {
			cd = &Card{}
		}
		cj.Card = &cardJSON{
			CardholderName: e.str(cd.Holder),
			Brand:          e.str(cd.Brand),
			Number:         e.str(cd.Number),
			ExpMonth:       e.str(cd.ExpMonth),
			ExpYear:        e.str(cd.ExpYear),
			Code:           e.str(cd.Code),
		}
	default:
		return cipherJSON{}, fmt.Errorf("%w: unsupported cipher type %d", common.ErrInvalidArgument, ci.Type)
	}
	for _, f := range ci.Fields {
		t := FieldTypeText
		if f.Hidden {
			t = FieldTypeHidden
		}
		cj.Fields = append(cj.Fields, fieldJSON{Name: e.str(f.Name), Value: e.str(f.Value), Type: t})
	}
	if e.err != nil {
		return cipherJSON{}, fmt.Errorf("encrypt cipher: %w", e.err)
	}
	return cj, nil
}

// decrypter and encrypter keep the first error so field mapping stays flat.
type decrypter struct {
	key *cryptox.SymmetricKey
	err error
}

func (d *decrypter) str(s string) string {
	if d.err != nil || s == "" {
		return ""
	}
	out, err := cryptox.DecryptString(s, d.key)
	if err != nil {
		d.err = err
		return ""
	}
	return out
}

type encrypter struct {
	key *cryptox.SymmetricKey
	err error
}

func (e *encrypter) str(s string) string {
	if e.err != nil || s == "" {
		return ""
	}
	out, err := cryptox.EncryptString(s, e.key)
	if err != nil {
		e.err = err
		return ""
	}
	return out
}
