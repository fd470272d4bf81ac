// Package bindings persists container group to remote folder bindings.
package bindings

import (
	"context"

	"github.com/dmitrijs2005/vaultkeeper/internal/client/models"
)

type Repository interface {
	// Upsert keeps at most one binding per (container, group path).
	Upsert(ctx context.Context, b *models.GroupBinding) error
	Get(ctx context.Context, containerID, groupPath string) (*models.GroupBinding, error)
	ListByContainer(ctx context.Context, containerID string) ([]models.GroupBinding, error)
	ListByVault(ctx context.Context, vaultID string) ([]models.GroupBinding, error)
	Delete(ctx context.Context, containerID, groupPath string) error
}
