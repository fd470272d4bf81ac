package bindings

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

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

func (r *SQLiteRepository) Upsert(ctx context.Context, b *models.GroupBinding) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO group_bindings (container_id, group_path, vault_id, folder_id, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(container_id, group_path) DO UPDATE SET
			vault_id = excluded.vault_id,
			folder_id = excluded.folder_id,
			updated_at = excluded.updated_at
	`, b.ContainerID, b.GroupPath, b.VaultID, b.FolderID, b.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to upsert binding[%s:%s]: %w", b.ContainerID, b.GroupPath, err)
	}
	return nil
}

func (r *SQLiteRepository) Get(ctx context.Context, containerID, groupPath string) (*models.GroupBinding, error) {
	var b models.GroupBinding
	err := r.db.QueryRowContext(ctx, `SELECT container_id, group_path, vault_id, folder_id, updated_at
		FROM group_bindings WHERE container_id = ? AND group_path = ?`, containerID, groupPath).
		Scan(&b.ContainerID, &b.GroupPath, &b.VaultID, &b.FolderID, &b.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("binding[%s:%s]: %w", containerID, groupPath, common.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get binding[%s:%s]: %w", containerID, groupPath, err)
	}
	return &b, nil
}

func (r *SQLiteRepository) ListByContainer(ctx context.Context, containerID string) ([]models.GroupBinding, error) {
	return r.list(ctx, `WHERE container_id = ?`, containerID)
}

func (r *SQLiteRepository) ListByVault(ctx context.Context, vaultID string) ([]models.GroupBinding, error) {
	return r.list(ctx, `WHERE vault_id = ?`, vaultID)
}

func (r *SQLiteRepository) Delete(ctx context.Context, containerID, groupPath string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM group_bindings WHERE container_id = ? AND group_path = ?`, containerID, groupPath)
	if err != nil {
		return fmt.Errorf("failed to delete binding[%s:%s]: %w", containerID, groupPath, err)
	}
	return nil
}

func (r *SQLiteRepository) list(ctx context.Context, where string, arg string) ([]models.GroupBinding, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT container_id, group_path, vault_id, folder_id, updated_at
		FROM group_bindings `+where+` ORDER BY container_id, group_path`, arg)
	if err != nil {
		return nil, fmt.Errorf("failed to list bindings: %w", err)
	}
	defer rows.Close()

	var out []models.GroupBinding
	for rows.Next() {
		var b models.GroupBinding
		if err := rows.Scan(&b.ContainerID, &b.GroupPath, &b.VaultID, &b.FolderID, &b.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan binding: %w", err)
		}
		out = append(out, b)
	}
	return out, rows.Err()
}
