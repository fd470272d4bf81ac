// Package remotevaults persists configured remote accounts and their folder
// cache.
package remotevaults

import (
	"context"

	"github.com/dmitrijs2005/vaultkeeper/internal/client/models"
)

type Repository interface {
	Create(ctx context.Context, v *models.RemoteVault) error
	Update(ctx context.Context, v *models.RemoteVault) error
	Get(ctx context.Context, id string) (*models.RemoteVault, error)
	List(ctx context.Context) ([]models.RemoteVault, error)
	Delete(ctx context.Context, id string) error

	// ReplaceFolders swaps the cached folder set of a vault. Run it in a
	// transaction.
	ReplaceFolders(ctx context.Context, vaultID string, folders []models.RemoteFolder) error
	UpsertFolder(ctx context.Context, f *models.RemoteFolder) error
	DeleteFolder(ctx context.Context, vaultID, folderID string) error
	Folders(ctx context.Context, vaultID string) ([]models.RemoteFolder, error)
	FolderExists(ctx context.Context, vaultID, folderID string) (bool, error)
}
