package services

import (
	"context"
	"encoding/base64"
	"fmt"
	"time"

	"github.com/dmitrijs2005/vaultkeeper/internal/client/models"
	"github.com/dmitrijs2005/vaultkeeper/internal/client/repositories/categories"
	"github.com/dmitrijs2005/vaultkeeper/internal/client/repositories/entries"
	"github.com/dmitrijs2005/vaultkeeper/internal/client/repositories/remotevaults"
	"github.com/dmitrijs2005/vaultkeeper/internal/cryptox"
	"github.com/dmitrijs2005/vaultkeeper/internal/dbx"
	"github.com/dmitrijs2005/vaultkeeper/internal/remote"
	"github.com/dmitrijs2005/vaultkeeper/internal/syncer"
	"github.com/google/uuid"
)

// AddRemoteVault logs in to a remote account and stores its tokens and
// vault key sealed with the device key. The folder list is cached right
// away so categories can be linked before the first sync.
func (s *VaultService) AddRemoteVault(ctx context.Context, name, endpoint, email, password string) (*models.RemoteVault, error) {
	st, err := s.current()
	if err != nil {
		return nil, err
	}
	client, err := s.client(endpoint)
	if err != nil {
		return nil, err
	}
	v := &models.RemoteVault{ID: uuid.NewString(), Name: name, Endpoint: endpoint, Email: email, CreatedAt: s.opts.Now()}
	sess, err := client.Login(ctx, v.ID, email, password)
	if err != nil {
		return nil, err
	}
	defer sess.Close()

	// the fetch may rotate tokens, so credentials are sealed after it
	snap, err := client.Sync(ctx, sess)
	if err != nil {
		s.log.Warn(ctx, "initial folder fetch failed", "vault_id", v.ID, "error", err)
	}
	if err := sealCredentials(st.session, v, sess); err != nil {
		return nil, err
	}
	if err := remotevaults.NewSQLiteRepository(s.db).Create(ctx, v); err != nil {
		return nil, fmt.Errorf("failed to store remote vault: %w", err)
	}
	if snap != nil {
		if err := s.cacheFolders(ctx, st, v.ID, snap.Folders); err != nil {
			return nil, err
		}
	}
	s.log.Info(ctx, "remote vault added", "vault_id", v.ID, "endpoint", endpoint)
	return v, nil
}

func (s *VaultService) cacheFolders(ctx context.Context, st *unlocked, vaultID string, folders []remote.Folder) error {
	cached := make([]models.RemoteFolder, 0, len(folders))
	for _, f := range folders {
		name, err := st.session.Encrypt(f.Name)
		if err != nil {
			return err
		}
		cached = append(cached, models.RemoteFolder{VaultID: vaultID, FolderID: f.ID, SealedName: name, Revision: f.Revision.UTC().Format(time.RFC3339Nano)})
	}
	return dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		return remotevaults.NewSQLiteRepository(tx).ReplaceFolders(ctx, vaultID, cached)
	})
}

func (s *VaultService) ListRemoteVaults(ctx context.Context) ([]models.RemoteVault, error) {
	return remotevaults.NewSQLiteRepository(s.db).List(ctx)
}

// RemoveRemoteVault forgets a remote account. Entries bound to it become
// local-only.
func (s *VaultService) RemoveRemoteVault(ctx context.Context, id string) error {
	return dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		repo := entries.NewSQLiteRepository(tx)
		bound, err := repo.List(ctx, entries.Filter{Any: true, VaultID: id})
		if err != nil {
			return err
		}
		for _, e := range bound {
			e.Remote = models.RemoteLink{}
			if err := repo.Update(ctx, &e); err != nil {
				return err
			}
		}
		cats := categories.NewSQLiteRepository(tx)
		linked, err := cats.ListLinked(ctx, id)
		if err != nil {
			return err
		}
		for _, c := range linked {
			c.Link = nil
			if err := cats.Update(ctx, &c); err != nil {
				return err
			}
		}
		return remotevaults.NewSQLiteRepository(tx).Delete(ctx, id)
	})
}

// AllowEmptyOnce lets the next sync of vaultID apply an empty remote.
func (s *VaultService) AllowEmptyOnce(ctx context.Context, vaultID string) error {
	repo := remotevaults.NewSQLiteRepository(s.db)
	v, err := repo.Get(ctx, vaultID)
	if err != nil {
		return err
	}
	v.AllowEmptyOnce = true
	return repo.Update(ctx, v)
}

// Folder is a cached remote folder with its decrypted name.
type Folder struct {
	ID   string
	Name string
}

func (s *VaultService) Folders(ctx context.Context, vaultID string) ([]Folder, error) {
	st, err := s.current()
	if err != nil {
		return nil, err
	}
	cached, err := remotevaults.NewSQLiteRepository(s.db).Folders(ctx, vaultID)
	if err != nil {
		return nil, err
	}
	out := make([]Folder, 0, len(cached))
	for _, f := range cached {
		name, err := st.session.Decrypt(f.SealedName)
		if err != nil {
			return nil, fmt.Errorf("folder %s: %w", f.FolderID, err)
		}
		out = append(out, Folder{ID: f.FolderID, Name: name})
	}
	return out, nil
}

// CreateFolder creates a folder remotely and caches it.
func (s *VaultService) CreateFolder(ctx context.Context, vaultID, name string) (*Folder, error) {
	st, err := s.current()
	if err != nil {
		return nil, err
	}
	conn := connector{s: s, sess: st.session}
	rc, sess, err := conn.open(ctx, vaultID)
	if err != nil {
		return nil, err
	}
	defer sess.Close()
	f, err := rc.client.CreateFolder(ctx, sess, name)
	if err != nil {
		return nil, err
	}
	if err := conn.persist(ctx, vaultID, rc.issued, sess); err != nil {
		return nil, err
	}
	sealed, err := st.session.Encrypt(f.Name)
	if err != nil {
		return nil, err
	}
	err = remotevaults.NewSQLiteRepository(s.db).UpsertFolder(ctx, &models.RemoteFolder{
		VaultID: vaultID, FolderID: f.ID, SealedName: sealed, Revision: f.Revision.UTC().Format(time.RFC3339Nano),
	})
	if err != nil {
		return nil, err
	}
	return &Folder{ID: f.ID, Name: f.Name}, nil
}

// RenameFolder renames a remote folder and its cached copy.
func (s *VaultService) RenameFolder(ctx context.Context, vaultID, folderID, name string) (*Folder, error) {
	st, err := s.current()
	if err != nil {
		return nil, err
	}
	conn := connector{s: s, sess: st.session}
	rc, sess, err := conn.open(ctx, vaultID)
	if err != nil {
		return nil, err
	}
	defer sess.Close()
	f, err := rc.client.RenameFolder(ctx, sess, folderID, name)
	if err != nil {
		return nil, err
	}
	if err := conn.persist(ctx, vaultID, rc.issued, sess); err != nil {
		return nil, err
	}
	sealed, err := st.session.Encrypt(f.Name)
	if err != nil {
		return nil, err
	}
	err = remotevaults.NewSQLiteRepository(s.db).UpsertFolder(ctx, &models.RemoteFolder{
		VaultID: vaultID, FolderID: f.ID, SealedName: sealed, Revision: f.Revision.UTC().Format(time.RFC3339Nano),
	})
	if err != nil {
		return nil, err
	}
	return &Folder{ID: f.ID, Name: f.Name}, nil
}

// DeleteFolder deletes a remote folder. Ciphers in it stay and lose their
// folder; categories linked to it and group bindings onto it are unlinked.
func (s *VaultService) DeleteFolder(ctx context.Context, vaultID, folderID string) error {
	st, err := s.current()
	if err != nil {
		return err
	}
	conn := connector{s: s, sess: st.session}
	rc, sess, err := conn.open(ctx, vaultID)
	if err != nil {
		return err
	}
	defer sess.Close()
	if err := rc.client.DeleteFolder(ctx, sess, folderID); err != nil {
		return err
	}
	if err := conn.persist(ctx, vaultID, rc.issued, sess); err != nil {
		return err
	}
	return st.rec.ForgetFolder(ctx, vaultID, folderID)
}

func (s *VaultService) Sync(ctx context.Context, vaultID string) (*syncer.Result, error) {
	st, err := s.current()
	if err != nil {
		return nil, err
	}
	return st.rec.Sync(ctx, vaultID)
}

func (s *VaultService) SyncAll(ctx context.Context) ([]syncer.Result, error) {
	st, err := s.current()
	if err != nil {
		return nil, err
	}
	return st.rec.SyncAll(ctx)
}

// DrainPending pushes every locally modified entry of vaultID.
func (s *VaultService) DrainPending(ctx context.Context, vaultID string) (models.Outcome, error) {
	st, err := s.current()
	if err != nil {
		return models.Outcome{}, err
	}
	return st.rec.DrainPending(ctx, vaultID)
}

// UploadAll tags every local-only entry for vaultID and pushes them.
func (s *VaultService) UploadAll(ctx context.Context, vaultID, folderID string) (models.Outcome, error) {
	st, err := s.current()
	if err != nil {
		return models.Outcome{}, err
	}
	return st.rec.UploadAll(ctx, vaultID, folderID)
}

// LinkCategory attaches a category to a remote folder, or detaches it when
// link is nil. It returns the number of entries tagged for upload.
func (s *VaultService) LinkCategory(ctx context.Context, categoryID string, link *models.FolderLink) (int, error) {
	st, err := s.current()
	if err != nil {
		return 0, err
	}
	return st.rec.ApplyCategoryLink(ctx, categoryID, link)
}

// BindGroup maps a container group to a remote folder.
func (s *VaultService) BindGroup(ctx context.Context, containerID, groupPath, vaultID, folderID string) (int, error) {
	st, err := s.current()
	if err != nil {
		return 0, err
	}
	return st.rec.BindGroup(ctx, containerID, groupPath, vaultID, folderID)
}

// client returns the cached client for endpoint.
func (s *VaultService) client(endpoint string) (*remote.Client, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.clients[endpoint]; ok {
		return c, nil
	}
	c, err := remote.New(endpoint, s.log, remote.Options{
		HTTPClient: s.opts.HTTPClient,
		MaxRetries: s.opts.MaxRetries,
		Backoff:    s.opts.Backoff,
		DeviceID:   s.opts.DeviceID,
		Now:        s.opts.Now,
	})
	if err != nil {
		return nil, err
	}
	s.clients[endpoint] = c
	return c, nil
}

func sealCredentials(sealer models.Sealer, v *models.RemoteVault, sess *remote.Session) error {
	t := sess.Tokens()
	key := sess.Key.Bytes()
	half := len(key) / 2
	var err error
	seal := func(plain string) string {
		if err != nil {
			return ""
		}
		var c string
		c, err = sealer.Encrypt(plain)
		return c
	}
	v.SealedAccessToken = seal(t.Access)
	v.SealedRefreshToken = seal(t.Refresh)
	v.SealedEncKey = seal(base64.StdEncoding.EncodeToString(key[:half]))
	v.SealedMacKey = seal(base64.StdEncoding.EncodeToString(key[half:]))
	v.TokenExpiresAt = t.ExpiresAt
	return err
}

// connector opens remote sessions from stored credentials for the
// reconciler. Tokens refreshed during a call are written back.
type connector struct {
	s    *VaultService
	sess *cryptox.Session
}

type opened struct {
	client *remote.Client
	issued remote.Tokens
}

func (c connector) Connect(ctx context.Context, vaultID string) (syncer.Remote, *remote.Session, error) {
	o, sess, err := c.open(ctx, vaultID)
	if err != nil {
		return nil, nil, err
	}
	return &persisting{Client: o.client, conn: c, vaultID: vaultID, issued: o.issued}, sess, nil
}

func (c connector) open(ctx context.Context, vaultID string) (*opened, *remote.Session, error) {
	v, err := remotevaults.NewSQLiteRepository(c.s.db).Get(ctx, vaultID)
	if err != nil {
		return nil, nil, err
	}
	client, err := c.s.client(v.Endpoint)
	if err != nil {
		return nil, nil, err
	}

	var plain [4]string
	for i, sealed := range []string{v.SealedAccessToken, v.SealedRefreshToken, v.SealedEncKey, v.SealedMacKey} {
		if plain[i], err = c.sess.Decrypt(sealed); err != nil {
			return nil, nil, fmt.Errorf("vault %s credentials: %w", vaultID, err)
		}
	}
	enc, err := base64.StdEncoding.DecodeString(plain[2])
	if err != nil {
		return nil, nil, fmt.Errorf("vault %s key: %w", vaultID, err)
	}
	mac, err := base64.StdEncoding.DecodeString(plain[3])
	if err != nil {
		return nil, nil, fmt.Errorf("vault %s key: %w", vaultID, err)
	}
	key, err := cryptox.NewSymmetricKey(append(enc, mac...))
	if err != nil {
		return nil, nil, err
	}
	tokens := remote.Tokens{Access: plain[0], Refresh: plain[1], ExpiresAt: v.TokenExpiresAt}
	return &opened{client: client, issued: tokens}, remote.NewSession(vaultID, v.Email, tokens, key), nil
}

// persist stores the session tokens if they differ from issued.
func (c connector) persist(ctx context.Context, vaultID string, issued remote.Tokens, sess *remote.Session) error {
	t := sess.Tokens()
	if t == issued {
		return nil
	}
	repo := remotevaults.NewSQLiteRepository(c.s.db)
	v, err := repo.Get(ctx, vaultID)
	if err != nil {
		return err
	}
	if v.SealedAccessToken, err = c.sess.Encrypt(t.Access); err != nil {
		return err
	}
	if v.SealedRefreshToken, err = c.sess.Encrypt(t.Refresh); err != nil {
		return err
	}
	v.TokenExpiresAt = t.ExpiresAt
	if err := repo.Update(ctx, v); err != nil {
		return fmt.Errorf("failed to store refreshed tokens: %w", err)
	}
	c.s.log.Debug(ctx, "refreshed tokens stored", "vault_id", vaultID)
	return nil
}

// persisting is a remote.Client that writes refreshed tokens back after
// every call.
type persisting struct {
	*remote.Client
	conn    connector
	vaultID string
	issued  remote.Tokens
}

func (p *persisting) after(ctx context.Context, sess *remote.Session) {
	if err := p.conn.persist(ctx, p.vaultID, p.issued, sess); err != nil {
		p.conn.s.log.Warn(ctx, "refreshed tokens not stored", "vault_id", p.vaultID, "error", err)
		return
	}
	p.issued = sess.Tokens()
}

func (p *persisting) Sync(ctx context.Context, s *remote.Session) (*remote.Snapshot, error) {
	defer p.after(ctx, s)
	return p.Client.Sync(ctx, s)
}

func (p *persisting) CreateCipher(ctx context.Context, s *remote.Session, ci remote.Cipher) (*remote.Cipher, error) {
	defer p.after(ctx, s)
	return p.Client.CreateCipher(ctx, s, ci)
}

func (p *persisting) UpdateCipher(ctx context.Context, s *remote.Session, ci remote.Cipher) (*remote.Cipher, error) {
	defer p.after(ctx, s)
	return p.Client.UpdateCipher(ctx, s, ci)
}

func (p *persisting) DeleteCipher(ctx context.Context, s *remote.Session, cipherID string) (bool, error) {
	defer p.after(ctx, s)
	return p.Client.DeleteCipher(ctx, s, cipherID)
}
