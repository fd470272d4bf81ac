package changelog

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

const columns = `id, operation, item_type, item_id, item_title, changes_sealed, created_at, device_id, is_reverted`

func (r *SQLiteRepository) Append(ctx context.Context, row *Row) error {
	_, err := r.db.ExecContext(ctx, `INSERT INTO changelog (`+columns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		row.ID, string(row.Operation), row.ItemType, row.ItemID, row.ItemTitle, row.ChangesSealed,
		row.Timestamp, row.DeviceID, row.IsReverted)
	if err != nil {
		return fmt.Errorf("failed to append change record: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) Get(ctx context.Context, id string) (*Row, error) {
	row, err := scan(r.db.QueryRowContext(ctx, `SELECT `+columns+` FROM changelog WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("change record %s: %w", id, common.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get change record: %w", err)
	}
	return row, nil
}

func (r *SQLiteRepository) List(ctx context.Context, opts ListOptions) ([]Row, error) {
	var where []string
	var args []any
	if opts.ItemID != "" {
		where = append(where, "item_id = ?")
		args = append(args, opts.ItemID)
	}
	query := `SELECT ` + columns + ` FROM changelog`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY seq DESC`

	rows, err := r.query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	out := rows[:0]
	for _, row := range rows {
		if opts.Since != nil && row.Timestamp.Before(*opts.Since) {
			continue
		}
		out = append(out, row)
		if opts.Limit > 0 && len(out) == opts.Limit {
			break
		}
	}
	return out, nil
}

func (r *SQLiteRepository) ForItem(ctx context.Context, itemID string) ([]Row, error) {
	return r.query(ctx, `SELECT `+columns+` FROM changelog WHERE item_id = ? ORDER BY seq`, itemID)
}

func (r *SQLiteRepository) SetReverted(ctx context.Context, id string, from bool) (bool, error) {
	res, err := r.db.ExecContext(ctx, `UPDATE changelog SET is_reverted = ? WHERE id = ? AND is_reverted = ?`, !from, id, from)
	if err != nil {
		return false, fmt.Errorf("failed to toggle change record: %w", err)
	}
	return dbx.AffectedOne(res)
}

func (r *SQLiteRepository) Reseal(ctx context.Context, id, sealed string) error {
	res, err := r.db.ExecContext(ctx, `UPDATE changelog SET changes_sealed = ? WHERE id = ?`, sealed, id)
	if err != nil {
		return fmt.Errorf("failed to reseal change record: %w", err)
	}
	ok, err := dbx.AffectedOne(res)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("change record %s: %w", id, common.ErrNotFound)
	}
	return nil
}

func (r *SQLiteRepository) query(ctx context.Context, query string, args ...any) ([]Row, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to select change records: %w", err)
	}
	defer rows.Close()

	var out []Row
	for rows.Next() {
		row, err := scan(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan change record: %w", err)
		}
		out = append(out, *row)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scan(s scanner) (*Row, error) {
	var row Row
	var op string
	err := s.Scan(&row.ID, &op, &row.ItemType, &row.ItemID, &row.ItemTitle, &row.ChangesSealed,
		&row.Timestamp, &row.DeviceID, &row.IsReverted)
	if err != nil {
		return nil, err
	}
	row.Operation = models.Operation(op)
	return &row, nil
}
