// Package categories persists local categories and their optional link to a
// remote folder.
package categories

import (
	"context"

	"github.com/dmitrijs2005/vaultkeeper/internal/client/models"
)

type Repository interface {
	Create(ctx context.Context, c *models.Category) error
	Update(ctx context.Context, c *models.Category) error
	Get(ctx context.Context, id string) (*models.Category, error)
	List(ctx context.Context) ([]models.Category, error)
	// ListLinked returns categories linked to a folder of vaultID.
	ListLinked(ctx context.Context, vaultID string) ([]models.Category, error)
	Delete(ctx context.Context, id string) error
}
