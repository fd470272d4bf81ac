// Package changelog is the revertible timeline. Every mutation appends one
// record of labeled field diffs; Revert toggles a record between applied and
// reverted and re-applies the matching side of its diffs to the live data in
// the same transaction.
package changelog

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/dmitrijs2005/vaultkeeper/internal/client/models"
	"github.com/dmitrijs2005/vaultkeeper/internal/client/repositories/categories"
	"github.com/dmitrijs2005/vaultkeeper/internal/client/repositories/changelog"
	"github.com/dmitrijs2005/vaultkeeper/internal/client/repositories/entries"
	"github.com/dmitrijs2005/vaultkeeper/internal/common"
	"github.com/dmitrijs2005/vaultkeeper/internal/dbx"
	"github.com/dmitrijs2005/vaultkeeper/internal/logging"
	"github.com/google/uuid"
)

// DB is a database handle that can also start transactions.
type DB interface {
	dbx.DBTX
	dbx.Beginner
}

type Log struct {
	db       DB
	sealer   models.Sealer
	deviceID string
	now      func() time.Time
	log      logging.Logger
}

func New(db DB, sealer models.Sealer, deviceID string, log logging.Logger) *Log {
	return &Log{db: db, sealer: sealer, deviceID: deviceID, now: func() time.Time { return time.Now().UTC() }, log: log}
}

// WithClock replaces the time source.
func (l *Log) WithClock(now func() time.Time) *Log {
	cp := *l
	cp.now = now
	return &cp
}

// WithSealer returns a log bound to another device key.
func (l *Log) WithSealer(s models.Sealer) *Log {
	cp := *l
	cp.sealer = s
	return &cp
}

// Record appends one record through tx (nil means the log's own handle).
func (l *Log) Record(ctx context.Context, tx dbx.DBTX, op models.Operation, itemType, itemID, title string, diffs []models.FieldDiff) (*models.ChangeRecord, error) {
	if tx == nil {
		tx = l.db
	}
	if diffs == nil {
		diffs = []models.FieldDiff{}
	}
	raw, err := json.Marshal(diffs)
	if err != nil {
		return nil, fmt.Errorf("encode diffs: %w", err)
	}
	sealed, err := l.sealer.Encrypt(string(raw))
	if err != nil {
		return nil, fmt.Errorf("seal diffs: %w", err)
	}
	rec := models.ChangeRecord{
		ID:        uuid.NewString(),
		Operation: op,
		ItemType:  itemType,
		ItemID:    itemID,
		ItemTitle: title,
		Diffs:     diffs,
		Timestamp: l.now(),
		DeviceID:  l.deviceID,
	}
	row := changelog.Row{ChangeRecord: rec, ChangesSealed: sealed}
	row.Diffs = nil
	if err := changelog.NewSQLiteRepository(tx).Append(ctx, &row); err != nil {
		return nil, err
	}
	return &rec, nil
}

// RecordCreate logs a new entry with every non-empty field as a diff.
func (l *Log) RecordCreate(ctx context.Context, tx dbx.DBTX, it *models.Item) (*models.ChangeRecord, error) {
	var diffs []models.FieldDiff
	for _, f := range models.ItemFields(it) {
		if f.Value != "" {
			diffs = append(diffs, models.FieldDiff{Field: f.Label, New: f.Value})
		}
	}
	return l.Record(ctx, tx, models.OpCreate, string(it.Kind), it.ID, it.Title, diffs)
}

// RecordDelete logs a move to trash.
func (l *Log) RecordDelete(ctx context.Context, tx dbx.DBTX, it *models.Item) (*models.ChangeRecord, error) {
	return l.Record(ctx, tx, models.OpDelete, string(it.Kind), it.ID, it.Title, nil)
}

// RecordPurge logs the permanent deletion of e. Such a record shows on the
// timeline but cannot be reverted.
func (l *Log) RecordPurge(ctx context.Context, tx dbx.DBTX, e *models.Entry) (*models.ChangeRecord, error) {
	diffs := []models.FieldDiff{{Field: models.FieldPurged, Old: e.ID}}
	return l.Record(ctx, tx, models.OpDelete, string(e.Kind), e.ID, e.Title, diffs)
}

// RecordEdit logs an edit. The record is written even when no tracked
// field changed: the edit itself belongs on the timeline.
func (l *Log) RecordEdit(ctx context.Context, tx dbx.DBTX, before, after *models.Item) (*models.ChangeRecord, error) {
	return l.Record(ctx, tx, models.OpUpdate, string(after.Kind), after.ID, after.Title, Diff(before, after))
}

// RecordBatchMove logs a category or binding change of many entries at once.
func (l *Log) RecordBatchMove(ctx context.Context, tx dbx.DBTX, title string, before, after []models.MoveState) (*models.ChangeRecord, error) {
	oldRaw, err := json.Marshal(before)
	if err != nil {
		return nil, err
	}
	newRaw, err := json.Marshal(after)
	if err != nil {
		return nil, err
	}
	diffs := []models.FieldDiff{{Field: models.FieldBatchMove, Old: string(oldRaw), New: string(newRaw)}}
	return l.Record(ctx, tx, models.OpUpdate, models.ItemTypeBatch, uuid.NewString(), title, diffs)
}

// RecordBatchTrash logs moving ids to the trash (deleted) or out of it.
func (l *Log) RecordBatchTrash(ctx context.Context, tx dbx.DBTX, title string, ids []string, deleted bool) (*models.ChangeRecord, error) {
	oldRaw, err := json.Marshal(models.TrashState{EntryIDs: ids, Deleted: !deleted})
	if err != nil {
		return nil, err
	}
	newRaw, err := json.Marshal(models.TrashState{EntryIDs: ids, Deleted: deleted})
	if err != nil {
		return nil, err
	}
	diffs := []models.FieldDiff{{Field: models.FieldBatchTrash, Old: string(oldRaw), New: string(newRaw)}}
	op := models.OpDelete
	if !deleted {
		op = models.OpUpdate
	}
	return l.Record(ctx, tx, op, models.ItemTypeBatch, uuid.NewString(), title, diffs)
}

// Diff lists the labeled fields that differ between before and after.
func Diff(before, after *models.Item) []models.FieldDiff {
	old := make(map[string]string)
	for _, f := range models.ItemFields(before) {
		old[f.Label] = f.Value
	}
	var diffs []models.FieldDiff
	for _, f := range models.ItemFields(after) {
		if prev := old[f.Label]; prev != f.Value {
			diffs = append(diffs, models.FieldDiff{Field: f.Label, Old: prev, New: f.Value})
		}
	}
	return diffs
}

// List returns records newest first with their diffs opened. A record whose
// diffs cannot be decrypted is returned without diffs.
func (l *Log) List(ctx context.Context, opts changelog.ListOptions) ([]models.ChangeRecord, error) {
	rows, err := changelog.NewSQLiteRepository(l.db).List(ctx, opts)
	if err != nil {
		return nil, err
	}
	out := make([]models.ChangeRecord, 0, len(rows))
	for _, row := range rows {
		rec := row.ChangeRecord
		if rec.Diffs, err = l.open(row.ChangesSealed); err != nil {
			l.log.Warn(ctx, "change record unreadable", "record_id", row.ID, "error", err)
		}
		out = append(out, rec)
	}
	return out, nil
}

// Revert toggles record id and applies its old values (when it was
// applied) or its new values (when it was reverted). It returns the new
// reverted state. Nothing is changed unless every diff applies.
func (l *Log) Revert(ctx context.Context, id string) (bool, error) {
	var reverted bool
	err := dbx.WithTx(ctx, l.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		repo := changelog.NewSQLiteRepository(tx)
		row, err := repo.Get(ctx, id)
		if err != nil {
			return err
		}
		diffs, err := l.open(row.ChangesSealed)
		if err != nil {
			return err
		}

		// applied records go back to Old; reverted ones forward to New
		useOld := !row.IsReverted
		if err := l.apply(ctx, tx, &row.ChangeRecord, diffs, useOld); err != nil {
			return err
		}

		ok, err := repo.SetReverted(ctx, id, row.IsReverted)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("record %s: %w", id, common.ErrRevertConflict)
		}
		reverted = !row.IsReverted
		return nil
	})
	if err != nil {
		return false, err
	}
	l.log.Info(ctx, "change record toggled", "record_id", id, "reverted", reverted)
	return reverted, nil
}

func (l *Log) apply(ctx context.Context, tx dbx.DBTX, rec *models.ChangeRecord, diffs []models.FieldDiff, useOld bool) error {
	pick := func(d models.FieldDiff) string {
		if useOld {
			return d.Old
		}
		return d.New
	}

	for _, d := range diffs {
		switch d.Field {
		case models.FieldBatchMove:
			var states []models.MoveState
			if err := json.Unmarshal([]byte(pick(d)), &states); err != nil {
				return fmt.Errorf("decode batch move: %w", err)
			}
			return l.applyMoves(ctx, tx, states)
		case models.FieldPurged:
			return fmt.Errorf("entry %s deleted permanently: %w", rec.ItemID, common.ErrRevertTargetMissing)
		case models.FieldBatchTrash:
			var st models.TrashState
			if err := json.Unmarshal([]byte(pick(d)), &st); err != nil {
				return fmt.Errorf("decode batch trash: %w", err)
			}
			return l.applyTrash(ctx, tx, st)
		}
	}

	if rec.ItemType == models.ItemTypeCategory {
		return l.applyCategory(ctx, tx, rec, diffs, pick)
	}
	return l.applyEntry(ctx, tx, rec, diffs, useOld, pick)
}

// applyEntry re-applies labeled fields to one entry. Create and delete
// records toggle the trash state instead of blanking fields.
func (l *Log) applyEntry(ctx context.Context, tx dbx.DBTX, rec *models.ChangeRecord, diffs []models.FieldDiff, useOld bool, pick func(models.FieldDiff) string) error {
	repo := entries.NewSQLiteRepository(tx)
	e, err := repo.Get(ctx, rec.ItemID)
	if errors.Is(err, common.ErrNotFound) {
		return fmt.Errorf("entry %s: %w", rec.ItemID, common.ErrRevertTargetMissing)
	}
	if err != nil {
		return err
	}
	it, err := models.Open(l.sealer, *e)
	if err != nil {
		return err
	}

	now := l.now()
	switch rec.Operation {
	case models.OpCreate:
		setTrashed(&it.Entry, useOld, now)
	case models.OpDelete:
		setTrashed(&it.Entry, !useOld, now)
	case models.OpUpdate:
		for _, d := range diffs {
			if d.Hidden() {
				continue
			}
			if err := models.SetItemField(it, d.Field, pick(d)); err != nil {
				return fmt.Errorf("revert %s: %w", rec.ID, err)
			}
		}
		if err := models.Seal(l.sealer, it); err != nil {
			return err
		}
	default:
		return fmt.Errorf("%w: operation %q", common.ErrInvalidArgument, rec.Operation)
	}

	it.UpdatedAt = now
	if it.Remote.VaultID != "" {
		it.Remote.LocalModified = true
	}
	return repo.Update(ctx, &it.Entry)
}

func (l *Log) applyCategory(ctx context.Context, tx dbx.DBTX, rec *models.ChangeRecord, diffs []models.FieldDiff, pick func(models.FieldDiff) string) error {
	// only renames are revertible; deleted categories are gone for good
	if rec.Operation != models.OpUpdate {
		return fmt.Errorf("%w: category %s cannot be reverted", common.ErrInvalidArgument, rec.Operation)
	}
	repo := categories.NewSQLiteRepository(tx)
	c, err := repo.Get(ctx, rec.ItemID)
	if errors.Is(err, common.ErrNotFound) {
		return fmt.Errorf("category %s: %w", rec.ItemID, common.ErrRevertTargetMissing)
	}
	if err != nil {
		return err
	}
	for _, d := range diffs {
		switch d.Field {
		case models.LabelName:
			c.Name = pick(d)
		default:
			return fmt.Errorf("revert %s: %w: %q for category", rec.ID, common.ErrUnknownField, d.Field)
		}
	}
	return repo.Update(ctx, c)
}

func (l *Log) applyMoves(ctx context.Context, tx dbx.DBTX, states []models.MoveState) error {
	repo := entries.NewSQLiteRepository(tx)
	now := l.now()
	for _, st := range states {
		e, err := repo.Get(ctx, st.EntryID)
		if errors.Is(err, common.ErrNotFound) {
			return fmt.Errorf("entry %s: %w", st.EntryID, common.ErrRevertTargetMissing)
		}
		if err != nil {
			return err
		}
		e.CategoryID = st.CategoryID
		e.Source = st.Source
		e.Remote = restoreLink(e.Remote, st.Remote)
		e.UpdatedAt = now
		if err := repo.Update(ctx, e); err != nil {
			return err
		}
	}
	return nil
}

// restoreLink puts back the placement saved in want. The cipher identity of
// cur stays: a cipher already pushed keeps its vault and is marked for an
// update so the remote copy follows the restored folder.
func restoreLink(cur, want models.RemoteLink) models.RemoteLink {
	if !cur.Bound() {
		want.CipherID = ""
		want.Revision = ""
		return want
	}
	if cur.FolderID != want.FolderID {
		cur.FolderID = want.FolderID
		cur.LocalModified = true
	}
	cur.LocalModified = cur.LocalModified || want.LocalModified
	return cur
}

func (l *Log) applyTrash(ctx context.Context, tx dbx.DBTX, st models.TrashState) error {
	repo := entries.NewSQLiteRepository(tx)
	now := l.now()
	for _, id := range st.EntryIDs {
		e, err := repo.Get(ctx, id)
		if errors.Is(err, common.ErrNotFound) {
			return fmt.Errorf("entry %s: %w", id, common.ErrRevertTargetMissing)
		}
		if err != nil {
			return err
		}
		setTrashed(e, st.Deleted, now)
		e.UpdatedAt = now
		if err := repo.Update(ctx, e); err != nil {
			return err
		}
	}
	return nil
}

func setTrashed(e *models.Entry, trashed bool, now time.Time) {
	if trashed {
		if !e.IsDeleted {
			e.Trash(now)
		}
		return
	}
	e.Restore()
}

func (l *Log) open(sealed string) ([]models.FieldDiff, error) {
	raw, err := l.sealer.Decrypt(sealed)
	if err != nil {
		return nil, err
	}
	var diffs []models.FieldDiff
	if err := json.Unmarshal([]byte(raw), &diffs); err != nil {
		return nil, fmt.Errorf("%w: diffs: %v", common.ErrDecryption, err)
	}
	return diffs, nil
}

// Reseal re-encrypts every record's diffs from one key to another inside
// tx. Used by the two-phase passphrase change.
func Reseal(ctx context.Context, tx dbx.DBTX, from, to models.Sealer) error {
	repo := changelog.NewSQLiteRepository(tx)
	rows, err := repo.List(ctx, changelog.ListOptions{})
	if err != nil {
		return err
	}
	for _, row := range rows {
		plain, err := from.Decrypt(row.ChangesSealed)
		if err != nil {
			return fmt.Errorf("record %s: %w", row.ID, err)
		}
		sealed, err := to.Encrypt(plain)
		if err != nil {
			return err
		}
		if err := repo.Reseal(ctx, row.ID, sealed); err != nil {
			return err
		}
	}
	return nil
}

var _ DB = (*sql.DB)(nil)
