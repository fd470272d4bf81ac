package containers

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

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

const columns = `id, name, mode, uri, sealed_password, entry_count, is_default, created_at, updated_at`

func (r *SQLiteRepository) Create(ctx context.Context, d *models.ContainerDescriptor) error {
	_, err := r.db.ExecContext(ctx, `INSERT INTO container_descriptors (`+columns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		d.ID, d.Name, string(d.Mode), d.URI, d.SealedPassword, d.EntryCount, d.IsDefault, d.CreatedAt, d.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert container descriptor: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) Update(ctx context.Context, d *models.ContainerDescriptor) error {
	res, err := r.db.ExecContext(ctx, `UPDATE container_descriptors
		SET name = ?, mode = ?, uri = ?, sealed_password = ?, entry_count = ?, is_default = ?, updated_at = ?
		WHERE id = ?`,
		d.Name, string(d.Mode), d.URI, d.SealedPassword, d.EntryCount, d.IsDefault, d.UpdatedAt, d.ID)
	if err != nil {
		return fmt.Errorf("failed to update container descriptor: %w", err)
	}
	return expectOne(res, d.ID)
}

func (r *SQLiteRepository) Get(ctx context.Context, id string) (*models.ContainerDescriptor, error) {
	d, err := scan(r.db.QueryRowContext(ctx, `SELECT `+columns+` FROM container_descriptors WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("container %s: %w", id, common.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get container descriptor: %w", err)
	}
	return d, nil
}

func (r *SQLiteRepository) Default(ctx context.Context) (*models.ContainerDescriptor, error) {
	d, err := scan(r.db.QueryRowContext(ctx, `SELECT `+columns+` FROM container_descriptors WHERE is_default = 1`))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("default container: %w", common.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get default container: %w", err)
	}
	return d, nil
}

func (r *SQLiteRepository) List(ctx context.Context) ([]models.ContainerDescriptor, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+columns+` FROM container_descriptors ORDER BY name, id`)
	if err != nil {
		return nil, fmt.Errorf("failed to select container descriptors: %w", err)
	}
	defer rows.Close()

	var out []models.ContainerDescriptor
	for rows.Next() {
		d, err := scan(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan container descriptor: %w", err)
		}
		out = append(out, *d)
	}
	return out, rows.Err()
}

func (r *SQLiteRepository) Delete(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM container_descriptors WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete container descriptor: %w", err)
	}
	return expectOne(res, id)
}

func (r *SQLiteRepository) SetEntryCount(ctx context.Context, id string, n int) error {
	res, err := r.db.ExecContext(ctx, `UPDATE container_descriptors SET entry_count = ?, updated_at = ? WHERE id = ?`,
		n, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to set entry count: %w", err)
	}
	return expectOne(res, id)
}

func (r *SQLiteRepository) SetDefault(ctx context.Context, id string) error {
	if _, err := r.db.ExecContext(ctx, `UPDATE container_descriptors SET is_default = 0 WHERE is_default = 1`); err != nil {
		return fmt.Errorf("failed to clear default container: %w", err)
	}
	res, err := r.db.ExecContext(ctx, `UPDATE container_descriptors SET is_default = 1 WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to set default container: %w", err)
	}
	return expectOne(res, id)
}

func expectOne(res sql.Result, id string) error {
	ok, err := dbx.AffectedOne(res)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("container %s: %w", id, common.ErrNotFound)
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scan(s scanner) (*models.ContainerDescriptor, error) {
	var d models.ContainerDescriptor
	var mode string
	err := s.Scan(&d.ID, &d.Name, &mode, &d.URI, &d.SealedPassword, &d.EntryCount, &d.IsDefault, &d.CreatedAt, &d.UpdatedAt)
	if err != nil {
		return nil, err
	}
	d.Mode = models.StorageMode(mode)
	return &d, nil
}
