package syncer

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/dmitrijs2005/vaultkeeper/internal/client/models"
	"github.com/dmitrijs2005/vaultkeeper/internal/client/repositories/bindings"
	"github.com/dmitrijs2005/vaultkeeper/internal/client/repositories/categories"
	"github.com/dmitrijs2005/vaultkeeper/internal/client/repositories/entries"
	"github.com/dmitrijs2005/vaultkeeper/internal/client/repositories/remotevaults"
	"github.com/dmitrijs2005/vaultkeeper/internal/common"
	"github.com/dmitrijs2005/vaultkeeper/internal/dbx"
	"github.com/dmitrijs2005/vaultkeeper/internal/remote"
)

// DrainPending pushes every live entry of vaultID flagged as locally
// modified. The flag is cleared only after the remote confirmed the write
// and only if the entry did not change in the meantime. An auth failure
// stops the drain; other failures are counted and the drain goes on.
func (r *Reconciler) DrainPending(ctx context.Context, vaultID string) (models.Outcome, error) {
	var out models.Outcome
	unlock, err := r.vaults.Lock(ctx, vaultID)
	if err != nil {
		return out, err
	}
	defer unlock()

	pending, err := entries.NewSQLiteRepository(r.db).List(ctx, entries.Filter{Any: true, VaultID: vaultID, Pending: true})
	if err != nil {
		return out, err
	}
	if len(pending) == 0 {
		return out, nil
	}

	rc, sess, err := r.conn.Connect(ctx, vaultID)
	if err != nil {
		return out, fmt.Errorf("connect: %w", err)
	}
	defer sess.Close()

	for _, e := range pending {
		if err := ctx.Err(); err != nil {
			return out, err
		}
		if e.IsDeleted {
			out.Skip()
			continue
		}
		err := r.push(ctx, rc, sess, e)
		switch {
		case err == nil:
			out.Succeed()
		case errors.Is(err, common.ErrAuth):
			out.Fail(e.ID, err)
			return out, err
		default:
			r.log.Warn(ctx, "push failed", "vault_id", vaultID, "entry_id", e.ID, "error", err)
			out.Fail(e.ID, err)
		}
	}
	r.log.Info(ctx, "pending entries pushed", "vault_id", vaultID, "outcome", out.String())
	return out, nil
}

func (r *Reconciler) push(ctx context.Context, rc Remote, sess *remote.Session, e models.Entry) error {
	it, err := models.Open(r.sealer, e)
	if err != nil {
		return err
	}
	c, err := CipherOf(it)
	if err != nil {
		return err
	}

	var saved *remote.Cipher
	if e.Remote.Bound() {
		saved, err = rc.UpdateCipher(ctx, sess, c)
	} else {
		saved, err = rc.CreateCipher(ctx, sess, c)
	}
	if err != nil {
		return err
	}

	return dbx.WithTx(ctx, r.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		repo := entries.NewSQLiteRepository(tx)
		cur, err := repo.Get(ctx, e.ID)
		if err != nil {
			return err
		}
		cur.Remote.CipherID = saved.ID
		cur.Remote.Revision = revision(saved.Revision)
		// edited while in flight: stays pending for the next drain
		if cur.UpdatedAt.Equal(e.UpdatedAt) && cur.Sealed == e.Sealed {
			cur.Remote.LocalModified = false
		}
		return repo.Update(ctx, cur)
	})
}

// UploadAll tags every live local-only entry for vaultID (optionally into
// folderID) and drains them.
func (r *Reconciler) UploadAll(ctx context.Context, vaultID, folderID string) (models.Outcome, error) {
	if folderID != "" {
		if err := r.requireFolder(ctx, vaultID, folderID); err != nil {
			return models.Outcome{}, err
		}
	}
	err := dbx.WithTx(ctx, r.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		repo := entries.NewSQLiteRepository(tx)
		live, err := repo.List(ctx, entries.Filter{})
		if err != nil {
			return err
		}
		now := r.now()
		for _, e := range live {
			if e.Remote.VaultID != "" {
				continue
			}
			e.Remote = models.RemoteLink{VaultID: vaultID, FolderID: folderID, LocalModified: true}
			e.UpdatedAt = now
			if err := repo.Update(ctx, &e); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return models.Outcome{}, err
	}
	return r.DrainPending(ctx, vaultID)
}

// ApplyCategoryLink sets or clears the folder link of a category. Setting a
// link tags the category's live entries of allowed kinds for the folder;
// entries bound to another vault are left alone. It returns the number of
// entries tagged.
func (r *Reconciler) ApplyCategoryLink(ctx context.Context, categoryID string, link *models.FolderLink) (int, error) {
	if link != nil {
		if err := r.requireFolder(ctx, link.VaultID, link.FolderID); err != nil {
			return 0, err
		}
	}

	tagged := 0
	err := dbx.WithTx(ctx, r.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		cats := categories.NewSQLiteRepository(tx)
		c, err := cats.Get(ctx, categoryID)
		if err != nil {
			return err
		}
		c.Link = link
		if err := cats.Update(ctx, c); err != nil {
			return err
		}
		if link == nil {
			return nil
		}

		repo := entries.NewSQLiteRepository(tx)
		inCategory, err := repo.List(ctx, entries.Filter{CategoryID: categoryID})
		if err != nil {
			return err
		}
		for _, e := range inCategory {
			if !link.Allows(e.Kind) {
				continue
			}
			if ok, err := r.tag(ctx, repo, e, link.VaultID, link.FolderID); err != nil {
				return err
			} else if ok {
				tagged++
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	r.log.Info(ctx, "category link applied", "category_id", categoryID, "tagged", tagged)
	return tagged, nil
}

// BindGroup binds a container group to a remote folder and tags the live
// entries imported from that group or below it. groupPath may also be a
// doublestar pattern such as "Root/**/Mail".
func (r *Reconciler) BindGroup(ctx context.Context, containerID, groupPath, vaultID, folderID string) (int, error) {
	if !doublestar.ValidatePattern(groupPath) {
		return 0, fmt.Errorf("%w: group pattern %q", common.ErrInvalidArgument, groupPath)
	}
	if err := r.requireFolder(ctx, vaultID, folderID); err != nil {
		return 0, err
	}

	tagged := 0
	err := dbx.WithTx(ctx, r.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		b := &models.GroupBinding{ContainerID: containerID, GroupPath: groupPath, VaultID: vaultID, FolderID: folderID, UpdatedAt: r.now()}
		if err := bindings.NewSQLiteRepository(tx).Upsert(ctx, b); err != nil {
			return err
		}

		repo := entries.NewSQLiteRepository(tx)
		imported, err := repo.List(ctx, entries.Filter{ContainerID: containerID})
		if err != nil {
			return err
		}
		for _, e := range imported {
			if !GroupMatches(groupPath, e.Source.GroupPath) {
				continue
			}
			if ok, err := r.tag(ctx, repo, e, vaultID, folderID); err != nil {
				return err
			} else if ok {
				tagged++
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	r.log.Info(ctx, "group bound", "container_id", containerID, "vault_id", vaultID, "tagged", tagged)
	return tagged, nil
}

// GroupMatches reports whether path is the group pattern, lies below it, or
// matches it as a doublestar pattern.
func GroupMatches(pattern, path string) bool {
	if path == pattern || strings.HasPrefix(path, pattern+"/") {
		return true
	}
	ok, err := doublestar.Match(pattern, path)
	return err == nil && ok
}

// tag marks e for upload into vaultID/folderID.
func (r *Reconciler) tag(ctx context.Context, repo *entries.SQLiteRepository, e models.Entry, vaultID, folderID string) (bool, error) {
	if e.Remote.VaultID != "" && e.Remote.VaultID != vaultID {
		return false, nil
	}
	e.Remote.VaultID = vaultID
	e.Remote.FolderID = folderID
	e.Remote.LocalModified = true
	e.UpdatedAt = r.now()
	return true, repo.Update(ctx, &e)
}

func (r *Reconciler) requireFolder(ctx context.Context, vaultID, folderID string) error {
	ok, err := remotevaults.NewSQLiteRepository(r.db).FolderExists(ctx, vaultID, folderID)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: folder %s not in vault %s", common.ErrInvalidArgument, folderID, vaultID)
	}
	return nil
}
