package syncer

import (
	"context"
	"fmt"
	"time"

	"github.com/dmitrijs2005/vaultkeeper/internal/client/models"
	"github.com/dmitrijs2005/vaultkeeper/internal/client/repositories/entries"
	"github.com/dmitrijs2005/vaultkeeper/internal/common"
	"github.com/dmitrijs2005/vaultkeeper/internal/dbx"
)

// DefaultRetention is how long trashed entries are kept before PurgeTrash
// removes them.
const DefaultRetention = 30 * 24 * time.Hour

// PermanentlyDelete removes an entry for good. A bound entry's remote
// cipher is deleted first; if that fails the local row stays so the call
// can be retried.
func (r *Reconciler) PermanentlyDelete(ctx context.Context, entryID string) error {
	repo := entries.NewSQLiteRepository(r.db)
	e, err := repo.Get(ctx, entryID)
	if err != nil {
		return err
	}

	if e.Remote.Bound() {
		if err := r.deleteRemote(ctx, e); err != nil {
			return err
		}
	}

	err = dbx.WithTx(ctx, r.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		if err := entries.NewSQLiteRepository(tx).Delete(ctx, entryID); err != nil {
			return err
		}
		if r.journal == nil {
			return nil
		}
		_, err := r.journal.RecordPurge(ctx, tx, e)
		return err
	})
	if err != nil {
		return err
	}
	r.log.Info(ctx, "entry deleted permanently", "entry_id", entryID, "remote", e.Remote.Bound())
	return nil
}

func (r *Reconciler) deleteRemote(ctx context.Context, e *models.Entry) error {
	unlock, err := r.vaults.Lock(ctx, e.Remote.VaultID)
	if err != nil {
		return err
	}
	defer unlock()

	rc, sess, err := r.conn.Connect(ctx, e.Remote.VaultID)
	if err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	defer sess.Close()
	ok, err := rc.DeleteCipher(ctx, sess, e.Remote.CipherID)
	if err != nil {
		return fmt.Errorf("delete remote cipher %s: %w", e.Remote.CipherID, err)
	}
	if !ok {
		return fmt.Errorf("delete remote cipher %s: %w", e.Remote.CipherID, common.ErrConflict)
	}
	return nil
}

// EmptyTrash permanently deletes every trashed entry.
func (r *Reconciler) EmptyTrash(ctx context.Context) (models.Outcome, error) {
	return r.deleteTrashed(ctx, entries.Filter{Trash: true})
}

// PurgeTrash permanently deletes entries trashed longer than retention ago.
func (r *Reconciler) PurgeTrash(ctx context.Context, retention time.Duration) (models.Outcome, error) {
	if retention <= 0 {
		retention = DefaultRetention
	}
	cutoff := r.now().Add(-retention)
	return r.deleteTrashed(ctx, entries.Filter{Trash: true, DeletedBefore: &cutoff})
}

func (r *Reconciler) deleteTrashed(ctx context.Context, f entries.Filter) (models.Outcome, error) {
	var out models.Outcome
	trashed, err := entries.NewSQLiteRepository(r.db).List(ctx, f)
	if err != nil {
		return out, err
	}
	for _, e := range trashed {
		if err := ctx.Err(); err != nil {
			return out, err
		}
		if err := r.PermanentlyDelete(ctx, e.ID); err != nil {
			r.log.Warn(ctx, "trashed entry kept", "entry_id", e.ID, "error", err)
			out.Fail(e.ID, err)
			continue
		}
		out.Succeed()
	}
	return out, nil
}
