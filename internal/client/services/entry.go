package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/dmitrijs2005/vaultkeeper/internal/client/models"
	"github.com/dmitrijs2005/vaultkeeper/internal/client/repositories/categories"
	"github.com/dmitrijs2005/vaultkeeper/internal/client/repositories/entries"
	"github.com/dmitrijs2005/vaultkeeper/internal/common"
	"github.com/dmitrijs2005/vaultkeeper/internal/dbx"
	"github.com/dmitrijs2005/vaultkeeper/internal/otp"
	"github.com/google/uuid"
)

// AddItem creates a local-only entry and logs its creation. An entry added
// to a linked category is tagged for upload like any other member.
func (s *VaultService) AddItem(ctx context.Context, title string, p models.Payload, categoryID string) (*models.Item, error) {
	st, err := s.current()
	if err != nil {
		return nil, err
	}
	now := s.opts.Now()
	it := &models.Item{
		Entry:   models.Entry{ID: uuid.NewString(), Title: title, CategoryID: categoryID, CreatedAt: now, UpdatedAt: now},
		Payload: p,
	}

	err = dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		if categoryID != "" {
			c, err := categories.NewSQLiteRepository(tx).Get(ctx, categoryID)
			if err != nil {
				return err
			}
			if c.Link != nil && c.Link.Allows(p.Kind()) {
				it.Remote = models.RemoteLink{VaultID: c.Link.VaultID, FolderID: c.Link.FolderID, LocalModified: true}
			}
		}
		if err := models.Seal(st.session, it); err != nil {
			return err
		}
		if err := entries.NewSQLiteRepository(tx).Create(ctx, &it.Entry); err != nil {
			return err
		}
		_, err := st.log.RecordCreate(ctx, tx, it)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to add item: %w", err)
	}
	s.log.Info(ctx, "item added", "entry_id", it.ID, "kind", it.Kind)
	return it, nil
}

// GetItem returns the decrypted entry.
func (s *VaultService) GetItem(ctx context.Context, id string) (*models.Item, error) {
	st, err := s.current()
	if err != nil {
		return nil, err
	}
	e, err := entries.NewSQLiteRepository(s.db).Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return models.Open(st.session, *e)
}

// ListItems lists entries without decrypting payloads.
func (s *VaultService) ListItems(ctx context.Context, f entries.Filter) ([]models.Entry, error) {
	if _, err := s.current(); err != nil {
		return nil, err
	}
	return entries.NewSQLiteRepository(s.db).List(ctx, f)
}

// RecordAndApply runs mutate on a decrypted copy of entry id, stores the
// result and appends the edit to the timeline in the same transaction.
// Entries tied to a remote vault are flagged for the next push.
func (s *VaultService) RecordAndApply(ctx context.Context, id string, mutate func(*models.Item) error) (*models.ChangeRecord, error) {
	st, err := s.current()
	if err != nil {
		return nil, err
	}

	var rec *models.ChangeRecord
	err = dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		repo := entries.NewSQLiteRepository(tx)
		e, err := repo.Get(ctx, id)
		if err != nil {
			return err
		}
		before, err := models.Open(st.session, *e)
		if err != nil {
			return err
		}
		after := *before
		if err := mutate(&after); err != nil {
			return err
		}
		if after.Payload == nil || after.Payload.Kind() != before.Kind {
			return fmt.Errorf("%w: payload kind cannot change", common.ErrInvalidArgument)
		}
		if err := models.Seal(st.session, &after); err != nil {
			return err
		}
		if after.Remote.VaultID != "" {
			after.Remote.LocalModified = true
		}
		after.UpdatedAt = s.opts.Now()
		if err := repo.Update(ctx, &after.Entry); err != nil {
			return err
		}
		rec, err = st.log.RecordEdit(ctx, tx, before, &after)
		return err
	})
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// SetFields edits labeled fields of an entry. An unknown label fails the
// whole edit.
func (s *VaultService) SetFields(ctx context.Context, id string, fields []models.Field) (*models.ChangeRecord, error) {
	return s.RecordAndApply(ctx, id, func(it *models.Item) error {
		for _, f := range fields {
			if err := models.SetItemField(it, f.Label, f.Value); err != nil {
				return err
			}
		}
		return nil
	})
}

// SetFavorite toggles the favorite flag. It is not a tracked field, so the
// timeline records the edit without diffs.
func (s *VaultService) SetFavorite(ctx context.Context, id string, favorite bool) error {
	_, err := s.RecordAndApply(ctx, id, func(it *models.Item) error {
		it.IsFavorite = favorite
		return nil
	})
	return err
}

// TrashEntries moves entries to the trash. One entry is logged as a delete
// of that entry, several as one batch record. Ids that cannot be loaded are
// counted as failures; the rest of the batch goes on.
func (s *VaultService) TrashEntries(ctx context.Context, ids []string) (models.Outcome, error) {
	return s.setTrashed(ctx, ids, true)
}

// RestoreEntries brings entries back from the trash.
func (s *VaultService) RestoreEntries(ctx context.Context, ids []string) (models.Outcome, error) {
	return s.setTrashed(ctx, ids, false)
}

func (s *VaultService) setTrashed(ctx context.Context, ids []string, trashed bool) (models.Outcome, error) {
	var out models.Outcome
	st, err := s.current()
	if err != nil {
		return out, err
	}
	if len(ids) == 0 {
		return out, nil
	}

	err = dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		repo := entries.NewSQLiteRepository(tx)
		now := s.opts.Now()
		var changed []string
		var single *models.Entry
		for _, id := range ids {
			e, err := repo.Get(ctx, id)
			if err != nil {
				s.log.Warn(ctx, "entry skipped in batch", "entry_id", id, "error", err)
				out.Fail(id, err)
				continue
			}
			if e.IsDeleted == trashed {
				out.Skip()
				continue
			}
			if trashed {
				e.Trash(now)
			} else {
				e.Restore()
			}
			e.UpdatedAt = now
			if err := repo.Update(ctx, e); err != nil {
				return err
			}
			changed = append(changed, id)
			single = e
			out.Succeed()
		}

		switch {
		case len(changed) == 0:
			return nil
		case len(changed) == 1 && trashed:
			_, err := st.log.Record(ctx, tx, models.OpDelete, string(single.Kind), single.ID, single.Title, nil)
			return err
		default:
			_, err := st.log.RecordBatchTrash(ctx, tx, batchTitle(len(changed), trashed), changed, trashed)
			return err
		}
	})
	if err != nil {
		return models.Outcome{}, err
	}
	return out, nil
}

func batchTitle(n int, trashed bool) string {
	if trashed {
		return fmt.Sprintf("%d entries moved to trash", n)
	}
	return fmt.Sprintf("%d entries restored", n)
}

// MoveEntries puts entries into categoryID ("" for none) as one batch. If
// the category is linked to a remote folder, moved entries of allowed kinds
// that are not bound elsewhere are tagged for upload into it. Unknown ids
// are counted as failures.
func (s *VaultService) MoveEntries(ctx context.Context, ids []string, categoryID string) (models.Outcome, error) {
	var out models.Outcome
	st, err := s.current()
	if err != nil {
		return out, err
	}

	err = dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		var link *models.FolderLink
		if categoryID != "" {
			c, err := categories.NewSQLiteRepository(tx).Get(ctx, categoryID)
			if err != nil {
				return err
			}
			link = c.Link
		}

		repo := entries.NewSQLiteRepository(tx)
		now := s.opts.Now()
		var before, after []models.MoveState
		for _, id := range ids {
			e, err := repo.Get(ctx, id)
			if err != nil {
				s.log.Warn(ctx, "entry skipped in batch", "entry_id", id, "error", err)
				out.Fail(id, err)
				continue
			}
			if e.CategoryID == categoryID {
				out.Skip()
				continue
			}
			before = append(before, moveState(e))
			e.CategoryID = categoryID
			if link != nil && link.Allows(e.Kind) && (e.Remote.VaultID == "" || e.Remote.VaultID == link.VaultID) {
				e.Remote.VaultID = link.VaultID
				e.Remote.FolderID = link.FolderID
				e.Remote.LocalModified = true
			}
			e.UpdatedAt = now
			if err := repo.Update(ctx, e); err != nil {
				return err
			}
			after = append(after, moveState(e))
			out.Succeed()
		}
		if len(before) == 0 {
			return nil
		}
		_, err := st.log.RecordBatchMove(ctx, tx, fmt.Sprintf("%d entries moved", len(before)), before, after)
		return err
	})
	if err != nil {
		return models.Outcome{}, err
	}
	return out, nil
}

func moveState(e *models.Entry) models.MoveState {
	return models.MoveState{EntryID: e.ID, CategoryID: e.CategoryID, Remote: e.Remote, Source: e.Source}
}

// CreateCategory adds a local category.
func (s *VaultService) CreateCategory(ctx context.Context, name string) (*models.Category, error) {
	st, err := s.current()
	if err != nil {
		return nil, err
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("%w: empty category name", common.ErrInvalidArgument)
	}
	c := &models.Category{ID: uuid.NewString(), Name: name, CreatedAt: s.opts.Now()}
	err = dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		if err := categories.NewSQLiteRepository(tx).Create(ctx, c); err != nil {
			return err
		}
		_, err := st.log.Record(ctx, tx, models.OpCreate, models.ItemTypeCategory, c.ID, c.Name,
			[]models.FieldDiff{{Field: models.LabelName, New: c.Name}})
		return err
	})
	if err != nil {
		return nil, err
	}
	return c, nil
}

// RenameCategory renames a category; the rename can be reverted.
func (s *VaultService) RenameCategory(ctx context.Context, id, name string) error {
	st, err := s.current()
	if err != nil {
		return err
	}
	return dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		repo := categories.NewSQLiteRepository(tx)
		c, err := repo.Get(ctx, id)
		if err != nil {
			return err
		}
		old := c.Name
		c.Name = name
		if err := repo.Update(ctx, c); err != nil {
			return err
		}
		_, err = st.log.Record(ctx, tx, models.OpUpdate, models.ItemTypeCategory, c.ID, c.Name,
			[]models.FieldDiff{{Field: models.LabelName, Old: old, New: name}})
		return err
	})
}

// DeleteCategory removes a category; its entries become uncategorized.
func (s *VaultService) DeleteCategory(ctx context.Context, id string) error {
	st, err := s.current()
	if err != nil {
		return err
	}
	return dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		repo := categories.NewSQLiteRepository(tx)
		c, err := repo.Get(ctx, id)
		if err != nil {
			return err
		}
		if err := repo.Delete(ctx, id); err != nil {
			return err
		}
		_, err = st.log.Record(ctx, tx, models.OpDelete, models.ItemTypeCategory, c.ID, c.Name,
			[]models.FieldDiff{{Field: models.LabelName, Old: c.Name}})
		return err
	})
}

func (s *VaultService) ListCategories(ctx context.Context) ([]models.Category, error) {
	return categories.NewSQLiteRepository(s.db).List(ctx)
}

// Code is a generated one-time code. Remaining is zero for counter codes.
type Code struct {
	Value     string
	Remaining time.Duration
}

// GenerateOTP computes the current code of a TOTP seed or of a login with
// an attached otpauth URI. Counter codes are stable until NextCounter.
func (s *VaultService) GenerateOTP(ctx context.Context, id string, now time.Time) (Code, error) {
	it, err := s.GetItem(ctx, id)
	if err != nil {
		return Code{}, err
	}
	secret, v, err := otpOf(it)
	if err != nil {
		return Code{}, err
	}
	code, err := otp.Generate(secret, v, now)
	if err != nil {
		return Code{}, err
	}
	return Code{Value: code, Remaining: otp.Remaining(v, now)}, nil
}

// NextCounter advances a counter-based seed by one and returns the new
// code. The advance is a logged edit.
func (s *VaultService) NextCounter(ctx context.Context, id string) (Code, error) {
	var next models.TotpPayload
	_, err := s.RecordAndApply(ctx, id, func(it *models.Item) error {
		p, ok := it.Payload.(models.TotpPayload)
		if !ok || !strings.EqualFold(p.OTPType, models.OTPTypeHOTP) {
			return fmt.Errorf("%w: entry %s is not a counter-based seed", common.ErrInvalidArgument, id)
		}
		p.Counter++
		it.Payload = p
		next = p
		return nil
	})
	if err != nil {
		return Code{}, err
	}
	v, err := next.Variant()
	if err != nil {
		return Code{}, err
	}
	code, err := otp.Generate(next.Secret, v, s.opts.Now())
	if err != nil {
		return Code{}, err
	}
	return Code{Value: code}, nil
}

func otpOf(it *models.Item) (string, otp.Variant, error) {
	switch p := it.Payload.(type) {
	case models.TotpPayload:
		v, err := p.Variant()
		return p.Secret, v, err
	case models.PasswordPayload:
		if p.OTP == "" {
			break
		}
		k, err := otp.ParseURI(p.OTP)
		if err != nil {
			return "", nil, err
		}
		return k.Secret, k.Variant, nil
	}
	return "", nil, fmt.Errorf("%w: entry %s has no one-time code", common.ErrInvalidArgument, it.ID)
}
