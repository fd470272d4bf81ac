package entries

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/dmitrijs2005/vaultkeeper/internal/client/models"
	"github.com/dmitrijs2005/vaultkeeper/internal/common"
	"github.com/dmitrijs2005/vaultkeeper/internal/dbx"
)

// SQLiteRepository implements Repository using a DBTX (either *sql.DB or *sql.Tx).
type SQLiteRepository struct {
	db dbx.DBTX
}

// NewSQLiteRepository returns a new SQLiteRepository bound to the given DBTX.
func NewSQLiteRepository(db dbx.DBTX) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

const columns = `id, kind, title, sealed, category_id,
	remote_vault_id, remote_cipher_id, remote_folder_id, remote_revision, local_modified,
	container_id, container_group, is_favorite, is_deleted, deleted_at, sort_order,
	created_at, updated_at`

func (r *SQLiteRepository) Create(ctx context.Context, e *models.Entry) error {
	query := `INSERT INTO entries (` + columns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err := r.db.ExecContext(ctx, query, args(e)...)
	if err != nil {
		return fmt.Errorf("failed to insert entry: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) Update(ctx context.Context, e *models.Entry) error {
	query := `UPDATE entries SET kind = ?, title = ?, sealed = ?, category_id = ?,
			remote_vault_id = ?, remote_cipher_id = ?, remote_folder_id = ?, remote_revision = ?, local_modified = ?,
			container_id = ?, container_group = ?, is_favorite = ?, is_deleted = ?, deleted_at = ?, sort_order = ?,
			created_at = ?, updated_at = ?
		WHERE id = ?`
	a := args(e)
	res, err := r.db.ExecContext(ctx, query, append(a[1:], e.ID)...)
	if err != nil {
		return fmt.Errorf("failed to update entry: %w", err)
	}
	ok, err := dbx.AffectedOne(res)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("entry %s: %w", e.ID, common.ErrNotFound)
	}
	return nil
}

func (r *SQLiteRepository) Get(ctx context.Context, id string) (*models.Entry, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+columns+` FROM entries WHERE id = ?`, id)
	e, err := scan(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("entry %s: %w", id, common.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("query row scan failed: %w", err)
	}
	return e, nil
}

func (r *SQLiteRepository) FindByCipher(ctx context.Context, vaultID, cipherID string) (*models.Entry, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+columns+` FROM entries
		WHERE remote_vault_id = ? AND remote_cipher_id = ?`, vaultID, cipherID)
	e, err := scan(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("cipher %s: %w", cipherID, common.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("query row scan failed: %w", err)
	}
	return e, nil
}

func (r *SQLiteRepository) List(ctx context.Context, f Filter) ([]models.Entry, error) {
	var where []string
	var params []any
	switch {
	case f.Any:
	case f.Trash:
		where = append(where, "is_deleted = 1")
	default:
		where = append(where, "is_deleted = 0")
	}
	if f.Kind != "" {
		where = append(where, "kind = ?")
		params = append(params, string(f.Kind))
	}
	if f.CategoryID != "" {
		where = append(where, "category_id = ?")
		params = append(params, f.CategoryID)
	}
	if f.VaultID != "" {
		where = append(where, "remote_vault_id = ?")
		params = append(params, f.VaultID)
	}
	if f.ContainerID != "" {
		where = append(where, "container_id = ?")
		params = append(params, f.ContainerID)
	}
	if f.Pending {
		where = append(where, "local_modified = 1")
	}

	query := `SELECT ` + columns + ` FROM entries`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY sort_order, created_at, id`

	rows, err := r.db.QueryContext(ctx, query, params...)
	if err != nil {
		return nil, fmt.Errorf("failed to select entries: %w", err)
	}
	defer rows.Close()

	var result []models.Entry
	for rows.Next() {
		e, err := scan(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan entry: %w", err)
		}
		// compared in Go: stored timestamps are text
		if f.DeletedBefore != nil && (e.DeletedAt == nil || !e.DeletedAt.Before(*f.DeletedBefore)) {
			continue
		}
		result = append(result, *e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (r *SQLiteRepository) CountBound(ctx context.Context, vaultID string) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM entries
		WHERE remote_vault_id = ? AND remote_cipher_id IS NOT NULL`, vaultID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count bound entries: %w", err)
	}
	return n, nil
}

func (r *SQLiteRepository) Delete(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM entries WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete entry: %w", err)
	}
	ok, err := dbx.AffectedOne(res)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("entry %s: %w", id, common.ErrNotFound)
	}
	return nil
}

func args(e *models.Entry) []any {
	return []any{
		e.ID, string(e.Kind), e.Title, e.Sealed, dbx.NullString(e.CategoryID),
		dbx.NullString(e.Remote.VaultID), dbx.NullString(e.Remote.CipherID), dbx.NullString(e.Remote.FolderID),
		e.Remote.Revision, e.Remote.LocalModified,
		dbx.NullString(e.Source.ContainerID), e.Source.GroupPath,
		e.IsFavorite, e.IsDeleted, dbx.NullTime(e.DeletedAt), e.SortOrder,
		e.CreatedAt, e.UpdatedAt,
	}
}

type scanner interface {
	Scan(dest ...any) error
}

func scan(s scanner) (*models.Entry, error) {
	var (
		e                               models.Entry
		kind                            string
		category, vault, cipher, folder sql.NullString
		container                       sql.NullString
		deletedAt                       sql.NullTime
	)
	err := s.Scan(&e.ID, &kind, &e.Title, &e.Sealed, &category,
		&vault, &cipher, &folder, &e.Remote.Revision, &e.Remote.LocalModified,
		&container, &e.Source.GroupPath, &e.IsFavorite, &e.IsDeleted, &deletedAt, &e.SortOrder,
		&e.CreatedAt, &e.UpdatedAt)
	if err != nil {
		return nil, err
	}
	e.Kind = models.Kind(kind)
	e.CategoryID = category.String
	e.Remote.VaultID = vault.String
	e.Remote.CipherID = cipher.String
	e.Remote.FolderID = folder.String
	e.Source.ContainerID = container.String
	e.DeletedAt = dbx.TimePtr(deletedAt)
	return &e, nil
}
