package entries

import (
	"context"
	"time"

	"github.com/dmitrijs2005/vaultkeeper/internal/client/models"
)

// Filter narrows List. Zero value lists live (non-trashed) entries.
type Filter struct {
	// Trash selects trashed entries instead of live ones.
	Trash bool
	// Any ignores the trash flag.
	Any           bool
	Kind          models.Kind
	CategoryID    string
	VaultID       string
	ContainerID   string
	Pending       bool
	DeletedBefore *time.Time
}

// Repository describes persistence of vault entries.
type Repository interface {
	Create(ctx context.Context, e *models.Entry) error

	// Update overwrites every column of an existing entry.
	Update(ctx context.Context, e *models.Entry) error

	// Get returns common.ErrNotFound for unknown ids.
	Get(ctx context.Context, id string) (*models.Entry, error)

	List(ctx context.Context, f Filter) ([]models.Entry, error)

	// FindByCipher returns the entry bound to a remote cipher.
	FindByCipher(ctx context.Context, vaultID, cipherID string) (*models.Entry, error)

	// CountBound counts entries bound to a cipher of vaultID, trashed or not.
	CountBound(ctx context.Context, vaultID string) (int, error)

	// Delete removes the row. Trash lifecycle checks belong to callers.
	Delete(ctx context.Context, id string) error
}
