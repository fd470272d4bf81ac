// Package changelog persists timeline records. Diffs are stored sealed as a
// single blob; apart from is_reverted a record never changes.
package changelog

import (
	"context"
	"time"

	"github.com/dmitrijs2005/vaultkeeper/internal/client/models"
)

// Row is a record as stored: Diffs stays nil and ChangesSealed carries
// the encrypted diff list.
type Row struct {
	models.ChangeRecord
	ChangesSealed string
}

type ListOptions struct {
	ItemID string
	Since  *time.Time
	Limit  int
}

type Repository interface {
	Append(ctx context.Context, r *Row) error
	Get(ctx context.Context, id string) (*Row, error)
	// List returns newest first.
	List(ctx context.Context, opts ListOptions) ([]Row, error)
	// SetReverted flips is_reverted from from to !from. It reports false
	// when the record was not in state from (a concurrent toggle won).
	SetReverted(ctx context.Context, id string, from bool) (bool, error)
	// Reseal replaces the sealed diffs; used only by key rotation.
	Reseal(ctx context.Context, id, sealed string) error
	// ForItem returns every record of itemID, oldest first.
	ForItem(ctx context.Context, itemID string) ([]Row, error)
}
