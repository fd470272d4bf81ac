package categories

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

type SQLiteRepository struct {
	db dbx.DBTX
}

func NewSQLiteRepository(db dbx.DBTX) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

const columns = `id, name, sort_order, remote_vault_id, remote_folder_id, sync_kinds, created_at`

func (r *SQLiteRepository) Create(ctx context.Context, c *models.Category) error {
	vault, folder, kinds := linkArgs(c.Link)
	_, err := r.db.ExecContext(ctx, `INSERT INTO categories (`+columns+`) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.Name, c.SortOrder, vault, folder, kinds, c.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert category: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) Update(ctx context.Context, c *models.Category) error {
	vault, folder, kinds := linkArgs(c.Link)
	res, err := r.db.ExecContext(ctx, `UPDATE categories
		SET name = ?, sort_order = ?, remote_vault_id = ?, remote_folder_id = ?, sync_kinds = ?
		WHERE id = ?`, c.Name, c.SortOrder, vault, folder, kinds, c.ID)
	if err != nil {
		return fmt.Errorf("failed to update category: %w", err)
	}
	ok, err := dbx.AffectedOne(res)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("category %s: %w", c.ID, common.ErrNotFound)
	}
	return nil
}

func (r *SQLiteRepository) Get(ctx context.Context, id string) (*models.Category, error) {
	c, err := scan(r.db.QueryRowContext(ctx, `SELECT `+columns+` FROM categories WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("category %s: %w", id, common.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get category: %w", err)
	}
	return c, nil
}

func (r *SQLiteRepository) List(ctx context.Context) ([]models.Category, error) {
	return r.list(ctx, `SELECT `+columns+` FROM categories ORDER BY sort_order, name`)
}

func (r *SQLiteRepository) ListLinked(ctx context.Context, vaultID string) ([]models.Category, error) {
	return r.list(ctx, `SELECT `+columns+` FROM categories WHERE remote_vault_id = ? ORDER BY sort_order, name`, vaultID)
}

func (r *SQLiteRepository) Delete(ctx context.Context, id string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM categories WHERE id = ?`, id); err != nil {
		return fmt.Errorf("failed to delete category: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) list(ctx context.Context, query string, args ...any) ([]models.Category, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to select categories: %w", err)
	}
	defer rows.Close()

	var out []models.Category
	for rows.Next() {
		c, err := scan(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan category: %w", err)
		}
		out = append(out, *c)
	}
	return out, rows.Err()
}

func linkArgs(l *models.FolderLink) (vault, folder sql.NullString, kinds string) {
	if l == nil {
		return
	}
	parts := make([]string, 0, len(l.SyncKinds))
	for _, k := range l.SyncKinds {
		parts = append(parts, string(k))
	}
	return dbx.NullString(l.VaultID), dbx.NullString(l.FolderID), strings.Join(parts, ",")
}

type scanner interface {
	Scan(dest ...any) error
}

func scan(s scanner) (*models.Category, error) {
	var (
		c             models.Category
		vault, folder sql.NullString
		kinds         string
	)
	if err := s.Scan(&c.ID, &c.Name, &c.SortOrder, &vault, &folder, &kinds, &c.CreatedAt); err != nil {
		return nil, err
	}
	if vault.Valid {
		c.Link = &models.FolderLink{VaultID: vault.String, FolderID: folder.String}
		for _, k := range strings.Split(kinds, ",") {
			if k != "" {
				c.Link.SyncKinds = append(c.Link.SyncKinds, models.Kind(k))
			}
		}
	}
	return &c, nil
}
