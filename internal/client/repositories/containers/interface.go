// Package containers persists registered container descriptors.
package containers

import (
	"context"

	"github.com/dmitrijs2005/vaultkeeper/internal/client/models"
)

type Repository interface {
	Create(ctx context.Context, d *models.ContainerDescriptor) error
	Update(ctx context.Context, d *models.ContainerDescriptor) error
	Get(ctx context.Context, id string) (*models.ContainerDescriptor, error)
	List(ctx context.Context) ([]models.ContainerDescriptor, error)
	Delete(ctx context.Context, id string) error

	// SetEntryCount refreshes the cached entry count.
	SetEntryCount(ctx context.Context, id string, n int) error
	// SetDefault makes id the only default descriptor. Run it inside a
	// transaction: it clears the old default first.
	SetDefault(ctx context.Context, id string) error
	// Default returns common.ErrNotFound when no descriptor is default.
	Default(ctx context.Context) (*models.ContainerDescriptor, error)
}
