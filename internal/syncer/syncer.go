// Package syncer reconciles the local vault with remote vaults: it applies
// remote snapshots, pushes pending local changes and orders deletions so
// that a local row never disappears before its remote cipher.
package syncer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dmitrijs2005/vaultkeeper/internal/client/models"
	"github.com/dmitrijs2005/vaultkeeper/internal/client/repositories/bindings"
	"github.com/dmitrijs2005/vaultkeeper/internal/client/repositories/categories"
	"github.com/dmitrijs2005/vaultkeeper/internal/client/repositories/entries"
	"github.com/dmitrijs2005/vaultkeeper/internal/client/repositories/remotevaults"
	"github.com/dmitrijs2005/vaultkeeper/internal/common"
	"github.com/dmitrijs2005/vaultkeeper/internal/dbx"
	"github.com/dmitrijs2005/vaultkeeper/internal/lockx"
	"github.com/dmitrijs2005/vaultkeeper/internal/logging"
	"github.com/dmitrijs2005/vaultkeeper/internal/remote"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// Remote is the part of remote.Client the reconciler needs.
type Remote interface {
	Sync(ctx context.Context, s *remote.Session) (*remote.Snapshot, error)
	CreateCipher(ctx context.Context, s *remote.Session, c remote.Cipher) (*remote.Cipher, error)
	UpdateCipher(ctx context.Context, s *remote.Session, c remote.Cipher) (*remote.Cipher, error)
	DeleteCipher(ctx context.Context, s *remote.Session, cipherID string) (bool, error)
}

// Connector yields an authenticated client and session for a vault.
type Connector interface {
	Connect(ctx context.Context, vaultID string) (Remote, *remote.Session, error)
}

type ConnectorFunc func(ctx context.Context, vaultID string) (Remote, *remote.Session, error)

func (f ConnectorFunc) Connect(ctx context.Context, vaultID string) (Remote, *remote.Session, error) {
	return f(ctx, vaultID)
}

// Journal records permanent deletions on the timeline.
type Journal interface {
	RecordPurge(ctx context.Context, tx dbx.DBTX, e *models.Entry) (*models.ChangeRecord, error)
}

type DB interface {
	dbx.DBTX
	dbx.Beginner
}

type Reconciler struct {
	db      DB
	sealer  models.Sealer
	conn    Connector
	journal Journal
	log     logging.Logger
	now     func() time.Time
	vaults  lockx.KeyedMutex
	// parallel bounds SyncAll.
	parallel int
}

func New(db DB, sealer models.Sealer, conn Connector, log logging.Logger) *Reconciler {
	return &Reconciler{
		db:       db,
		sealer:   sealer,
		conn:     conn,
		log:      log,
		now:      func() time.Time { return time.Now().UTC() },
		parallel: 4,
	}
}

// WithClock replaces the time source. Use before first call.
func (r *Reconciler) WithClock(now func() time.Time) *Reconciler {
	r.now = now
	return r
}

// WithJournal makes permanent deletions appear on the timeline.
func (r *Reconciler) WithJournal(j Journal) *Reconciler {
	r.journal = j
	return r
}

// Result describes one vault sync.
type Result struct {
	VaultID string
	// Outcome counts applied remote ciphers (Succeeded), duplicates and
	// unchanged ciphers (Skipped), and ciphers that could not be applied.
	Outcome   models.Outcome
	Created   int
	Updated   int
	Removed   int
	Unchanged int
	// Duplicates lists remote cipher ids skipped as duplicates of local
	// entries.
	Duplicates []string
	// Conflicts lists entries changed on both sides; neither was touched.
	Conflicts []string
	Blocked   bool
	Err       error
}

// Sync pulls the remote snapshot of vaultID and applies it locally in one
// transaction. An empty snapshot against a non-empty local cache is refused
// with common.ErrEmptyVaultBlocked unless the vault was never synced or
// the user allowed it once.
func (r *Reconciler) Sync(ctx context.Context, vaultID string) (*Result, error) {
	unlock, err := r.vaults.Lock(ctx, vaultID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	log := r.log.With("vault_id", vaultID)
	rc, sess, err := r.conn.Connect(ctx, vaultID)
	if err != nil {
		return nil, fmt.Errorf("connect: %w", err)
	}
	defer sess.Close()
	snap, err := rc.Sync(ctx, sess)
	if err != nil {
		return nil, fmt.Errorf("sync: %w", err)
	}

	res := &Result{VaultID: vaultID}
	err = dbx.WithTx(ctx, r.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		return r.apply(ctx, tx, vaultID, snap, res)
	})
	if errors.Is(err, common.ErrEmptyVaultBlocked) {
		res.Blocked = true
		log.Warn(ctx, "empty remote vault refused", "error", err)
		return res, err
	}
	if err != nil {
		return nil, err
	}

	log.Info(ctx, "vault synced", "created", res.Created, "updated", res.Updated,
		"removed", res.Removed, "duplicates", len(res.Duplicates), "conflicts", len(res.Conflicts),
		"failed", res.Outcome.Failed)
	return res, nil
}

func (r *Reconciler) apply(ctx context.Context, tx dbx.DBTX, vaultID string, snap *remote.Snapshot, res *Result) error {
	vaults := remotevaults.NewSQLiteRepository(tx)
	entryRepo := entries.NewSQLiteRepository(tx)
	now := r.now()

	vault, err := vaults.Get(ctx, vaultID)
	if err != nil {
		return err
	}

	bound, err := entryRepo.CountBound(ctx, vaultID)
	if err != nil {
		return err
	}
	if len(snap.Ciphers) == 0 && len(snap.Failed) == 0 && bound > 0 && !vault.FirstSync() {
		if !vault.AllowEmptyOnce {
			return fmt.Errorf("%w: %d local entries, remote reports none", common.ErrEmptyVaultBlocked, bound)
		}
		r.log.Warn(ctx, "empty remote vault accepted once", "vault_id", vaultID)
	}

	if err := r.applyFolders(ctx, tx, vaultID, snap.Folders); err != nil {
		return err
	}

	local, err := entryRepo.List(ctx, entries.Filter{Any: true, VaultID: vaultID})
	if err != nil {
		return err
	}
	byCipher := make(map[string]models.Entry)
	for _, e := range local {
		if e.Remote.Bound() {
			byCipher[e.Remote.CipherID] = e
		}
	}

	identities, err := r.localIdentities(ctx, tx)
	if err != nil {
		return err
	}
	folderCategory, err := r.folderCategories(ctx, tx, vaultID)
	if err != nil {
		return err
	}

	seen := make(map[string]bool, len(snap.Ciphers)+len(snap.Failed))
	for _, f := range snap.Failed {
		seen[f.ID] = true
		res.Outcome.Fail(f.ID, f.Err)
	}

	for _, c := range snap.Ciphers {
		seen[c.ID] = true
		rev := revision(c.Revision)

		e, ok := byCipher[c.ID]
		switch {
		case ok && e.Remote.Revision == rev:
			res.Unchanged++
			res.Outcome.Skip()
		case ok && e.Remote.LocalModified:
			res.Conflicts = append(res.Conflicts, e.ID)
			res.Outcome.Skip()
		case ok && c.Deleted:
			if !e.IsDeleted {
				e.Trash(now)
			}
			e.Remote.Revision = rev
			e.UpdatedAt = now
			if err := entryRepo.Update(ctx, &e); err != nil {
				return err
			}
			res.Removed++
			res.Outcome.Succeed()
		case ok:
			if err := r.updateFromCipher(ctx, entryRepo, e, c, folderCategory, now); err != nil {
				res.Outcome.Fail(c.ID, err)
				continue
			}
			res.Updated++
			res.Outcome.Succeed()
		case c.Deleted:
			res.Outcome.Skip()
		default:
			p, err := PayloadOf(c)
			if err != nil {
				res.Outcome.Fail(c.ID, err)
				continue
			}
			if key := IdentityKey(c.Name, p); key != "" && identities[key] {
				res.Duplicates = append(res.Duplicates, c.ID)
				res.Outcome.Skip()
				continue
			}
			if err := r.createFromCipher(ctx, entryRepo, vaultID, c, p, folderCategory, now); err != nil {
				res.Outcome.Fail(c.ID, err)
				continue
			}
			if key := IdentityKey(c.Name, p); key != "" {
				identities[key] = true
			}
			res.Created++
			res.Outcome.Succeed()
		}
	}

	// bound entries whose cipher is gone remotely become local-only
	for _, e := range byCipher {
		if seen[e.Remote.CipherID] {
			continue
		}
		if e.Remote.LocalModified {
			// keep the edit; it is pushed as a new cipher
			e.Remote.CipherID = ""
			e.Remote.Revision = ""
		} else {
			if !e.IsDeleted {
				e.Trash(now)
			}
			e.Remote = models.RemoteLink{}
		}
		e.UpdatedAt = now
		if err := entryRepo.Update(ctx, &e); err != nil {
			return err
		}
		res.Removed++
	}

	vault.LastSyncAt = &now
	vault.AllowEmptyOnce = false
	return vaults.Update(ctx, vault)
}

// applyFolders refreshes the folder cache and drops category links and
// group bindings pointing at folders that no longer exist.
func (r *Reconciler) applyFolders(ctx context.Context, tx dbx.DBTX, vaultID string, folders []remote.Folder) error {
	cached := make([]models.RemoteFolder, 0, len(folders))
	exists := make(map[string]bool, len(folders))
	for _, f := range folders {
		sealed, err := r.sealer.Encrypt(f.Name)
		if err != nil {
			return err
		}
		cached = append(cached, models.RemoteFolder{VaultID: vaultID, FolderID: f.ID, SealedName: sealed, Revision: revision(f.Revision)})
		exists[f.ID] = true
	}
	if err := remotevaults.NewSQLiteRepository(tx).ReplaceFolders(ctx, vaultID, cached); err != nil {
		return err
	}
	return r.dropStaleLinks(ctx, tx, vaultID, func(id string) bool { return exists[id] })
}

// ForgetFolder updates local state after folderID was deleted remotely.
// Entries in it keep their cipher but lose the folder, as the server does.
func (r *Reconciler) ForgetFolder(ctx context.Context, vaultID, folderID string) error {
	return dbx.WithTx(ctx, r.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		if err := remotevaults.NewSQLiteRepository(tx).DeleteFolder(ctx, vaultID, folderID); err != nil {
			return err
		}
		repo := entries.NewSQLiteRepository(tx)
		inVault, err := repo.List(ctx, entries.Filter{Any: true, VaultID: vaultID})
		if err != nil {
			return err
		}
		for _, e := range inVault {
			if e.Remote.FolderID != folderID {
				continue
			}
			e.Remote.FolderID = ""
			if err := repo.Update(ctx, &e); err != nil {
				return err
			}
		}
		return r.dropStaleLinks(ctx, tx, vaultID, func(id string) bool { return id != folderID })
	})
}

// dropStaleLinks clears category links and group bindings of vaultID whose
// folder no longer exists.
func (r *Reconciler) dropStaleLinks(ctx context.Context, tx dbx.DBTX, vaultID string, exists func(folderID string) bool) error {
	cats := categories.NewSQLiteRepository(tx)
	linked, err := cats.ListLinked(ctx, vaultID)
	if err != nil {
		return err
	}
	for _, c := range linked {
		if exists(c.Link.FolderID) {
			continue
		}
		r.log.Info(ctx, "category link cleared, folder gone", "category_id", c.ID, "folder_id", c.Link.FolderID)
		c.Link = nil
		if err := cats.Update(ctx, &c); err != nil {
			return err
		}
	}

	binds := bindings.NewSQLiteRepository(tx)
	bound, err := binds.ListByVault(ctx, vaultID)
	if err != nil {
		return err
	}
	for _, b := range bound {
		if !exists(b.FolderID) {
			if err := binds.Delete(ctx, b.ContainerID, b.GroupPath); err != nil {
				return err
			}
		}
	}
	return nil
}

// localIdentities collects dedupe keys of every live local entry.
func (r *Reconciler) localIdentities(ctx context.Context, tx dbx.DBTX) (map[string]bool, error) {
	live, err := entries.NewSQLiteRepository(tx).List(ctx, entries.Filter{})
	if err != nil {
		return nil, err
	}
	keys := make(map[string]bool)
	for _, e := range live {
		if e.Kind != models.KindPassword && e.Kind != models.KindTotp {
			continue
		}
		it, err := models.Open(r.sealer, e)
		if err != nil {
			r.log.Warn(ctx, "entry unreadable, skipped for dedupe", "entry_id", e.ID, "error", err)
			continue
		}
		if key := IdentityKey(it.Title, it.Payload); key != "" {
			keys[key] = true
		}
	}
	return keys, nil
}

func (r *Reconciler) folderCategories(ctx context.Context, tx dbx.DBTX, vaultID string) (map[string]string, error) {
	linked, err := categories.NewSQLiteRepository(tx).ListLinked(ctx, vaultID)
	if err != nil {
		return nil, err
	}
	out := make(map[string]string, len(linked))
	for _, c := range linked {
		if _, ok := out[c.Link.FolderID]; !ok {
			out[c.Link.FolderID] = c.ID
		}
	}
	return out, nil
}

func (r *Reconciler) updateFromCipher(ctx context.Context, repo *entries.SQLiteRepository, e models.Entry, c remote.Cipher, folderCategory map[string]string, now time.Time) error {
	p, err := PayloadOf(c)
	if err != nil {
		return err
	}
	it := &models.Item{Entry: e, Payload: p}
	it.Title = c.Name
	it.IsFavorite = c.Favorite
	it.Remote.FolderID = c.FolderID
	it.Remote.Revision = revision(c.Revision)
	if cat, ok := folderCategory[c.FolderID]; ok {
		it.CategoryID = cat
	}
	it.UpdatedAt = now
	if err := models.Seal(r.sealer, it); err != nil {
		return err
	}
	return repo.Update(ctx, &it.Entry)
}

func (r *Reconciler) createFromCipher(ctx context.Context, repo *entries.SQLiteRepository, vaultID string, c remote.Cipher, p models.Payload, folderCategory map[string]string, now time.Time) error {
	it := &models.Item{
		Entry: models.Entry{
			ID:         uuid.NewString(),
			Title:      c.Name,
			CategoryID: folderCategory[c.FolderID],
			Remote: models.RemoteLink{
				VaultID:  vaultID,
				CipherID: c.ID,
				FolderID: c.FolderID,
				Revision: revision(c.Revision),
			},
			IsFavorite: c.Favorite,
			CreatedAt:  now,
			UpdatedAt:  now,
		},
		Payload: p,
	}
	if err := models.Seal(r.sealer, it); err != nil {
		return err
	}
	return repo.Create(ctx, &it.Entry)
}

// SyncAll syncs every configured vault concurrently. Per-vault failures are
// reported in each Result; only listing the vaults can fail the call.
func (r *Reconciler) SyncAll(ctx context.Context) ([]Result, error) {
	vaults, err := remotevaults.NewSQLiteRepository(r.db).List(ctx)
	if err != nil {
		return nil, err
	}

	results := make([]Result, len(vaults))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.parallel)
	for i, v := range vaults {
		g.Go(func() error {
			res, err := r.Sync(gctx, v.ID)
			if res != nil {
				results[i] = *res
			}
			results[i].VaultID = v.ID
			results[i].Err = err
			return nil
		})
	}
	_ = g.Wait()
	return results, nil
}

func revision(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}
