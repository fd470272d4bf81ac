package services

import (
	"context"

	"github.com/dmitrijs2005/vaultkeeper/internal/client/models"
	"github.com/dmitrijs2005/vaultkeeper/internal/client/repositories/changelog"
)

// Timeline lists change records newest first.
func (s *VaultService) Timeline(ctx context.Context, opts changelog.ListOptions) ([]models.ChangeRecord, error) {
	st, err := s.current()
	if err != nil {
		return nil, err
	}
	return st.log.List(ctx, opts)
}

// Revert toggles a change record and returns its new reverted state.
// Reverting a reverted record re-applies it.
func (s *VaultService) Revert(ctx context.Context, recordID string) (bool, error) {
	st, err := s.current()
	if err != nil {
		return false, err
	}
	return st.log.Revert(ctx, recordID)
}
