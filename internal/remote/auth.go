package remote

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/dmitrijs2005/vaultkeeper/internal/common"
	"github.com/dmitrijs2005/vaultkeeper/internal/cryptox"
)

// Prelogin asks the server which KDF protects the account.
func (c *Client) Prelogin(ctx context.Context, email string) (cryptox.RemoteKdf, error) {
	req, err := jsonRequest(http.MethodPost, c.identityURL+"/accounts/prelogin", preloginRequest{Email: normalizeEmail(email)})
	if err != nil {
		return cryptox.RemoteKdf{}, err
	}
	var resp preloginResponse
	if err := c.send(ctx, req, &resp); err != nil {
		return cryptox.RemoteKdf{}, fmt.Errorf("prelogin: %w", err)
	}
	kdf := cryptox.RemoteKdf{Type: cryptox.KdfType(resp.Kdf), Iterations: resp.KdfIterations}
	if resp.KdfMemory != nil {
		kdf.Memory = *resp.KdfMemory
	}
	if resp.KdfParallelism != nil {
		kdf.Parallelism = *resp.KdfParallelism
	}
	return kdf, nil
}

// Login authenticates with the master password and unwraps the vault key.
// The password never leaves the process; only its derived hash does.
func (c *Client) Login(ctx context.Context, vaultID, email, password string) (*Session, error) {
	email = normalizeEmail(email)
	kdf, err := c.Prelogin(ctx, email)
	if err != nil {
		return nil, err
	}

	pw := []byte(password)
	defer common.WipeByteArray(pw)
	masterKey, err := cryptox.DeriveRemoteMasterKey(pw, email, kdf)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", common.ErrAuth, err)
	}
	defer common.WipeByteArray(masterKey)

	form := url.Values{}
	form.Set("grant_type", "password")
	form.Set("username", email)
	form.Set("password", cryptox.MasterPasswordHash(masterKey, pw))
	form.Set("scope", "api offline_access")
	form.Set("client_id", clientName)
	form.Set("deviceIdentifier", c.opts.DeviceID)
	form.Set("deviceType", deviceType)
	form.Set("deviceName", c.opts.DeviceName)

	req := request{
		method:      http.MethodPost,
		url:         c.identityURL + "/connect/token",
		body:        []byte(form.Encode()),
		contentType: "application/x-www-form-urlencoded",
		header:      http.Header{"Auth-Email": {base64.RawURLEncoding.EncodeToString([]byte(email))}},
	}
	tr, err := c.token(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("login: %w", err)
	}
	if tr.Key == "" {
		return nil, fmt.Errorf("login: %w: response carries no vault key", common.ErrAuth)
	}

	stretched, err := cryptox.StretchMasterKey(masterKey)
	if err != nil {
		return nil, err
	}
	defer stretched.Wipe()
	key, err := cryptox.UnwrapVaultKey(tr.Key, stretched)
	if err != nil {
		return nil, fmt.Errorf("unwrap vault key: %w", err)
	}

	c.log.Info(ctx, "remote login succeeded", "vault_id", vaultID)
	return NewSession(vaultID, email, c.tokensFrom(tr, ""), key), nil
}

// Refresh exchanges the refresh token for a new access token.
func (c *Client) Refresh(ctx context.Context, s *Session) error {
	unlock, err := c.vaults.Lock(ctx, s.VaultID)
	if err != nil {
		return err
	}
	defer unlock()
	_, err = c.refresh(ctx, s)
	return err
}

func (c *Client) refresh(ctx context.Context, s *Session) (Tokens, error) {
	current := s.Tokens()
	if current.Refresh == "" {
		return Tokens{}, fmt.Errorf("%w: no refresh token", common.ErrAuth)
	}
	form := url.Values{}
	form.Set("grant_type", "refresh_token")
	form.Set("client_id", clientName)
	form.Set("refresh_token", current.Refresh)

	tr, err := c.token(ctx, request{
		method:      http.MethodPost,
		url:         c.identityURL + "/connect/token",
		body:        []byte(form.Encode()),
		contentType: "application/x-www-form-urlencoded",
	})
	if err != nil {
		return Tokens{}, fmt.Errorf("refresh token: %w", err)
	}
	next := c.tokensFrom(tr, current.Refresh)
	s.setTokens(next)
	c.log.Debug(ctx, "access token refreshed", "vault_id", s.VaultID)
	return next, nil
}

// token posts to the identity endpoint. A 400 there means rejected
// credentials, not a malformed request.
func (c *Client) token(ctx context.Context, req request) (*tokenResponse, error) {
	var tr tokenResponse
	err := c.send(ctx, req, &tr)
	if err != nil {
		var he *common.HTTPError
		if errors.As(err, &he) && he.StatusCode == http.StatusBadRequest {
			var te tokenError
			_ = json.Unmarshal([]byte(he.Body), &te)
			return nil, fmt.Errorf("%w: %s", common.ErrAuth, firstNonEmpty(te.ErrorDescription, te.Error, "invalid_grant"))
		}
		return nil, err
	}
	if tr.AccessToken == "" {
		return nil, fmt.Errorf("%w: empty access token", common.ErrAuth)
	}
	return &tr, nil
}

func (c *Client) tokensFrom(tr *tokenResponse, fallbackRefresh string) Tokens {
	t := Tokens{Access: tr.AccessToken, Refresh: tr.RefreshToken}
	if t.Refresh == "" {
		t.Refresh = fallbackRefresh
	}
	if tr.ExpiresIn > 0 {
		t.ExpiresAt = c.opts.Now().Add(time.Duration(tr.ExpiresIn) * time.Second)
	}
	return t
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
