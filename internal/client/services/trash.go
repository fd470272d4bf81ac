package services

import (
	"context"

	"github.com/dmitrijs2005/vaultkeeper/internal/client/models"
)

// PermanentlyDelete removes an entry for good, deleting its remote cipher
// first when it is bound.
func (s *VaultService) PermanentlyDelete(ctx context.Context, id string) error {
	st, err := s.current()
	if err != nil {
		return err
	}
	return st.rec.PermanentlyDelete(ctx, id)
}

func (s *VaultService) EmptyTrash(ctx context.Context) (models.Outcome, error) {
	st, err := s.current()
	if err != nil {
		return models.Outcome{}, err
	}
	return st.rec.EmptyTrash(ctx)
}

// PurgeTrash deletes entries trashed longer than the configured retention.
func (s *VaultService) PurgeTrash(ctx context.Context) (models.Outcome, error) {
	st, err := s.current()
	if err != nil {
		return models.Outcome{}, err
	}
	return st.rec.PurgeTrash(ctx, s.opts.TrashRetention)
}
