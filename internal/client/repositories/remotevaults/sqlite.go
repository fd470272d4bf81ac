package remotevaults

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

const columns = `id, name, endpoint, email, sealed_access_token, sealed_refresh_token,
	sealed_enc_key, sealed_mac_key, token_expires_at, last_sync_at, allow_empty_once, created_at`

func (r *SQLiteRepository) Create(ctx context.Context, v *models.RemoteVault) error {
	_, err := r.db.ExecContext(ctx, `INSERT INTO remote_vaults (`+columns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		v.ID, v.Name, v.Endpoint, v.Email, v.SealedAccessToken, v.SealedRefreshToken,
		v.SealedEncKey, v.SealedMacKey, expiry(v), dbx.NullTime(v.LastSyncAt), v.AllowEmptyOnce, v.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert remote vault: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) Update(ctx context.Context, v *models.RemoteVault) error {
	res, err := r.db.ExecContext(ctx, `UPDATE remote_vaults SET name = ?, endpoint = ?, email = ?,
			sealed_access_token = ?, sealed_refresh_token = ?, sealed_enc_key = ?, sealed_mac_key = ?,
			token_expires_at = ?, last_sync_at = ?, allow_empty_once = ?
		WHERE id = ?`,
		v.Name, v.Endpoint, v.Email, v.SealedAccessToken, v.SealedRefreshToken, v.SealedEncKey, v.SealedMacKey,
		expiry(v), dbx.NullTime(v.LastSyncAt), v.AllowEmptyOnce, v.ID)
	if err != nil {
		return fmt.Errorf("failed to update remote vault: %w", err)
	}
	ok, err := dbx.AffectedOne(res)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("remote vault %s: %w", v.ID, common.ErrNotFound)
	}
	return nil
}

func (r *SQLiteRepository) Get(ctx context.Context, id string) (*models.RemoteVault, error) {
	v, err := scan(r.db.QueryRowContext(ctx, `SELECT `+columns+` FROM remote_vaults WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("remote vault %s: %w", id, common.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get remote vault: %w", err)
	}
	return v, nil
}

func (r *SQLiteRepository) List(ctx context.Context) ([]models.RemoteVault, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+columns+` FROM remote_vaults ORDER BY name, id`)
	if err != nil {
		return nil, fmt.Errorf("failed to select remote vaults: %w", err)
	}
	defer rows.Close()

	var out []models.RemoteVault
	for rows.Next() {
		v, err := scan(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan remote vault: %w", err)
		}
		out = append(out, *v)
	}
	return out, rows.Err()
}

func (r *SQLiteRepository) Delete(ctx context.Context, id string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM remote_vaults WHERE id = ?`, id); err != nil {
		return fmt.Errorf("failed to delete remote vault: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) ReplaceFolders(ctx context.Context, vaultID string, folders []models.RemoteFolder) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM remote_folders WHERE vault_id = ?`, vaultID); err != nil {
		return fmt.Errorf("failed to clear folders of %s: %w", vaultID, err)
	}
	for i := range folders {
		f := folders[i]
		f.VaultID = vaultID
		if err := r.UpsertFolder(ctx, &f); err != nil {
			return err
		}
	}
	return nil
}

func (r *SQLiteRepository) UpsertFolder(ctx context.Context, f *models.RemoteFolder) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO remote_folders (vault_id, folder_id, sealed_name, revision) VALUES (?, ?, ?, ?)
		ON CONFLICT(vault_id, folder_id) DO UPDATE SET sealed_name = excluded.sealed_name, revision = excluded.revision
	`, f.VaultID, f.FolderID, f.SealedName, f.Revision)
	if err != nil {
		return fmt.Errorf("failed to upsert folder[%s]: %w", f.FolderID, err)
	}
	return nil
}

func (r *SQLiteRepository) DeleteFolder(ctx context.Context, vaultID, folderID string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM remote_folders WHERE vault_id = ? AND folder_id = ?`, vaultID, folderID)
	if err != nil {
		return fmt.Errorf("failed to delete folder[%s]: %w", folderID, err)
	}
	return nil
}

func (r *SQLiteRepository) Folders(ctx context.Context, vaultID string) ([]models.RemoteFolder, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT vault_id, folder_id, sealed_name, revision
		FROM remote_folders WHERE vault_id = ? ORDER BY folder_id`, vaultID)
	if err != nil {
		return nil, fmt.Errorf("failed to select folders: %w", err)
	}
	defer rows.Close()

	var out []models.RemoteFolder
	for rows.Next() {
		var f models.RemoteFolder
		if err := rows.Scan(&f.VaultID, &f.FolderID, &f.SealedName, &f.Revision); err != nil {
			return nil, fmt.Errorf("failed to scan folder: %w", err)
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

func (r *SQLiteRepository) FolderExists(ctx context.Context, vaultID, folderID string) (bool, error) {
	var n int
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM remote_folders WHERE vault_id = ? AND folder_id = ?`,
		vaultID, folderID).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("failed to check folder[%s]: %w", folderID, err)
	}
	return n > 0, nil
}

func expiry(v *models.RemoteVault) sql.NullTime {
	if v.TokenExpiresAt.IsZero() {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: v.TokenExpiresAt, Valid: true}
}

type scanner interface {
	Scan(dest ...any) error
}

func scan(s scanner) (*models.RemoteVault, error) {
	var v models.RemoteVault
	var exp, last sql.NullTime
	err := s.Scan(&v.ID, &v.Name, &v.Endpoint, &v.Email, &v.SealedAccessToken, &v.SealedRefreshToken,
		&v.SealedEncKey, &v.SealedMacKey, &exp, &last, &v.AllowEmptyOnce, &v.CreatedAt)
	if err != nil {
		return nil, err
	}
	if exp.Valid {
		v.TokenExpiresAt = exp.Time
	}
	v.LastSyncAt = dbx.TimePtr(last)
	return &v, nil
}
