package services

import (
	"context"

	"github.com/dmitrijs2005/vaultkeeper/internal/audit"
	"github.com/dmitrijs2005/vaultkeeper/internal/client/models"
	"github.com/dmitrijs2005/vaultkeeper/internal/client/repositories/entries"
)

// RunSecurityAudit starts an analysis over every live login. The run goes
// on in the background; decrypted passwords stay inside it.
func (s *VaultService) RunSecurityAudit(ctx context.Context) (*audit.Run, error) {
	st, err := s.current()
	if err != nil {
		return nil, err
	}
	logins, err := entries.NewSQLiteRepository(s.db).List(ctx, entries.Filter{Kind: models.KindPassword})
	if err != nil {
		return nil, err
	}

	subjects := make([]audit.Subject, 0, len(logins))
	for _, e := range logins {
		it, err := models.Open(st.session, e)
		if err != nil {
			s.log.Warn(ctx, "entry left out of audit", "entry_id", e.ID, "error", err)
			continue
		}
		p, ok := it.Payload.(models.PasswordPayload)
		if !ok {
			continue
		}
		subjects = append(subjects, audit.Subject{
			ID: it.ID, Title: it.Title, Username: p.Username, Website: p.Website, Password: p.Password,
		})
	}

	breaches := s.breaches
	if breaches == nil {
		breaches = audit.NewPwnedClient(s.opts.BreachURL, audit.PwnedOptions{
			HTTPClient: s.opts.HTTPClient,
			Delay:      s.opts.BreachDelay,
			MaxRetries: s.opts.BreachRetries,
		})
	}
	s.log.Info(ctx, "security audit started", "subjects", len(subjects))
	return audit.New(breaches, nil, s.log).Start(ctx, subjects), nil
}
