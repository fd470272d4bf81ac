package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dmitrijs2005/vaultkeeper/internal/client/models"
	"github.com/dmitrijs2005/vaultkeeper/internal/client/repositories/bindings"
	"github.com/dmitrijs2005/vaultkeeper/internal/client/repositories/containers"
	"github.com/dmitrijs2005/vaultkeeper/internal/client/repositories/entries"
	"github.com/dmitrijs2005/vaultkeeper/internal/common"
	"github.com/dmitrijs2005/vaultkeeper/internal/container"
	"github.com/dmitrijs2005/vaultkeeper/internal/dbx"
	"github.com/dmitrijs2005/vaultkeeper/internal/filex"
	"github.com/dmitrijs2005/vaultkeeper/internal/syncer"
	"github.com/google/uuid"
)

// RegisterContainer adds an existing container file. The password is
// checked by decoding the file before anything is stored. With embed the
// file is copied into the data directory; otherwise uri is referenced where
// it lives. The first registered container becomes the default.
func (s *VaultService) RegisterContainer(ctx context.Context, name, uri, password string, embed bool) (*models.ContainerDescriptor, error) {
	st, err := s.current()
	if err != nil {
		return nil, err
	}
	now := s.opts.Now()
	desc := &models.ContainerDescriptor{ID: uuid.NewString(), Name: name, Mode: models.StorageExternal, URI: uri, CreatedAt: now, UpdatedAt: now}

	data, err := s.store.Read(ctx, desc)
	if err != nil {
		return nil, fmt.Errorf("read container: %w", err)
	}
	c, err := container.Decode(data, password)
	if err != nil {
		return nil, err
	}
	desc.EntryCount = c.EntryCount()
	if embed {
		if err := s.store.Embed(ctx, desc, data); err != nil {
			return nil, err
		}
	}
	if desc.SealedPassword, err = st.session.Encrypt(password); err != nil {
		return nil, err
	}
	if err := s.saveDescriptor(ctx, desc); err != nil {
		return nil, err
	}
	s.log.Info(ctx, "container registered", "container_id", desc.ID, "mode", desc.Mode, "entries", desc.EntryCount)
	return desc, nil
}

// CreateContainer writes a new empty container. An empty uri creates an
// embedded file in the data directory.
func (s *VaultService) CreateContainer(ctx context.Context, name, uri, password string) (*models.ContainerDescriptor, error) {
	st, err := s.current()
	if err != nil {
		return nil, err
	}
	now := s.opts.Now()
	desc := &models.ContainerDescriptor{ID: uuid.NewString(), Name: name, Mode: models.StorageExternal, URI: uri, CreatedAt: now, UpdatedAt: now}
	if uri == "" {
		if _, err := filex.EnsureSubDir(s.opts.DataDir, "containers"); err != nil {
			return nil, err
		}
		desc.Mode = models.StorageEmbedded
		desc.URI = s.store.EmbeddedPath(desc.ID)
	}
	if err := s.store.Create(ctx, desc, password); err != nil {
		return nil, fmt.Errorf("create container: %w", err)
	}
	if desc.SealedPassword, err = st.session.Encrypt(password); err != nil {
		return nil, err
	}
	if err := s.saveDescriptor(ctx, desc); err != nil {
		return nil, err
	}
	return desc, nil
}

func (s *VaultService) saveDescriptor(ctx context.Context, desc *models.ContainerDescriptor) error {
	return dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		repo := containers.NewSQLiteRepository(tx)
		_, err := repo.Default(ctx)
		switch {
		case errors.Is(err, common.ErrNotFound):
			desc.IsDefault = true
		case err != nil:
			return err
		}
		return repo.Create(ctx, desc)
	})
}

func (s *VaultService) ListContainers(ctx context.Context) ([]models.ContainerDescriptor, error) {
	return containers.NewSQLiteRepository(s.db).List(ctx)
}

func (s *VaultService) SetDefaultContainer(ctx context.Context, id string) error {
	return dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		return containers.NewSQLiteRepository(tx).SetDefault(ctx, id)
	})
}

// RemoveContainer forgets a descriptor. Imported entries stay.
func (s *VaultService) RemoveContainer(ctx context.Context, id string) error {
	return containers.NewSQLiteRepository(s.db).Delete(ctx, id)
}

// ContainerGroups lists the group paths of a container, optionally
// filtered by a doublestar pattern.
func (s *VaultService) ContainerGroups(ctx context.Context, id, pattern string) ([]container.GroupRef, error) {
	c, _, err := s.openContainer(ctx, id)
	if err != nil {
		return nil, err
	}
	var out []container.GroupRef
	if pattern == "" {
		for g := range container.ListGroups(c) {
			out = append(out, g)
		}
		return out, nil
	}
	seq, err := container.MatchGroups(c, pattern)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", common.ErrInvalidArgument, err)
	}
	for g := range seq {
		out = append(out, g)
	}
	return out, nil
}

func (s *VaultService) openContainer(ctx context.Context, id string) (*container.Container, *models.ContainerDescriptor, error) {
	st, err := s.current()
	if err != nil {
		return nil, nil, err
	}
	desc, err := containers.NewSQLiteRepository(s.db).Get(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	pw, err := st.session.Decrypt(desc.SealedPassword)
	if err != nil {
		return nil, nil, fmt.Errorf("container %s password: %w", id, err)
	}
	c, err := s.store.Load(ctx, desc, pw)
	if err != nil {
		return nil, nil, err
	}
	return c, desc, nil
}

// ImportContainer copies the entries of a container into the vault. Logins
// and seeds that already exist locally (same identity) are skipped as
// duplicates; entries that cannot be mapped are counted as failed and the
// import goes on. Entries from groups bound to a remote folder are tagged
// for upload into it.
func (s *VaultService) ImportContainer(ctx context.Context, id, categoryID string) (models.Outcome, error) {
	var out models.Outcome
	st, err := s.current()
	if err != nil {
		return out, err
	}
	c, desc, err := s.openContainer(ctx, id)
	if err != nil {
		return out, err
	}
	records := c.Records()

	err = dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		identities, err := s.identities(ctx, tx, st)
		if err != nil {
			return err
		}
		binds, err := bindings.NewSQLiteRepository(tx).ListByContainer(ctx, id)
		if err != nil {
			return err
		}
		repo := entries.NewSQLiteRepository(tx)
		now := s.opts.Now()

		for _, r := range records {
			ref := r.UUID
			p, err := payloadOfRecord(r)
			if err != nil {
				s.log.Warn(ctx, "container entry skipped", "container_id", id, "record", ref, "error", err)
				out.Fail(ref, err)
				continue
			}
			key := syncer.IdentityKey(r.Title, p)
			if key != "" && identities[key] {
				out.Skip()
				continue
			}

			it := &models.Item{
				Entry: models.Entry{
					ID:         uuid.NewString(),
					Title:      r.Title,
					CategoryID: categoryID,
					Source:     models.ContainerLink{ContainerID: id, GroupPath: r.GroupPath},
					CreatedAt:  now,
					UpdatedAt:  now,
				},
				Payload: p,
			}
			if b := bindingFor(binds, r.GroupPath); b != nil {
				it.Remote = models.RemoteLink{VaultID: b.VaultID, FolderID: b.FolderID, LocalModified: true}
			}
			if err := models.Seal(st.session, it); err != nil {
				out.Fail(ref, err)
				continue
			}
			if err := repo.Create(ctx, &it.Entry); err != nil {
				return err
			}
			if _, err := st.log.RecordCreate(ctx, tx, it); err != nil {
				return err
			}
			if key != "" {
				identities[key] = true
			}
			out.Succeed()
		}
		return containers.NewSQLiteRepository(tx).SetEntryCount(ctx, desc.ID, len(records))
	})
	if err != nil {
		return models.Outcome{}, fmt.Errorf("failed to import container: %w", err)
	}
	s.log.Info(ctx, "container imported", "container_id", id, "outcome", out.String())
	return out, nil
}

// bindingFor picks the most specific binding covering groupPath.
func bindingFor(binds []models.GroupBinding, groupPath string) *models.GroupBinding {
	var best *models.GroupBinding
	for i := range binds {
		b := &binds[i]
		if !syncer.GroupMatches(b.GroupPath, groupPath) {
			continue
		}
		if best == nil || len(b.GroupPath) > len(best.GroupPath) {
			best = b
		}
	}
	return best
}

// identities collects dedupe keys of live local entries.
func (s *VaultService) identities(ctx context.Context, tx dbx.DBTX, st *unlocked) (map[string]bool, error) {
	live, err := entries.NewSQLiteRepository(tx).List(ctx, entries.Filter{})
	if err != nil {
		return nil, err
	}
	keys := make(map[string]bool)
	for _, e := range live {
		if e.Kind != models.KindPassword && e.Kind != models.KindTotp {
			continue
		}
		it, err := models.Open(st.session, e)
		if err != nil {
			s.log.Warn(ctx, "entry unreadable, skipped for dedupe", "entry_id", e.ID, "error", err)
			continue
		}
		if key := syncer.IdentityKey(it.Title, it.Payload); key != "" {
			keys[key] = true
		}
	}
	return keys, nil
}

// ExportContainer appends entries to a container under groupPath. The file
// is replaced atomically; on any error it is left as it was.
func (s *VaultService) ExportContainer(ctx context.Context, id string, entryIDs []string, groupPath string) (models.Outcome, error) {
	var out models.Outcome
	st, err := s.current()
	if err != nil {
		return out, err
	}
	repo := containers.NewSQLiteRepository(s.db)
	desc, err := repo.Get(ctx, id)
	if err != nil {
		return out, err
	}
	pw, err := st.session.Decrypt(desc.SealedPassword)
	if err != nil {
		return out, fmt.Errorf("container %s password: %w", id, err)
	}

	var recs []container.Record
	for _, eid := range entryIDs {
		it, err := s.GetItem(ctx, eid)
		if err == nil {
			var r container.Record
			if r, err = recordOf(it); err == nil {
				recs = append(recs, r)
				out.Succeed()
				continue
			}
		}
		s.log.Warn(ctx, "entry not exported", "entry_id", eid, "error", err)
		out.Fail(eid, err)
	}
	if len(recs) == 0 {
		return out, nil
	}

	n, err := s.store.Update(ctx, desc, pw, func(c *container.Container) (*container.Container, error) {
		return container.AppendEntries(c, groupPath, recs)
	})
	if err != nil {
		return models.Outcome{}, fmt.Errorf("failed to export container: %w", err)
	}
	if err := repo.SetEntryCount(ctx, id, n); err != nil {
		return out, err
	}
	s.log.Info(ctx, "container exported", "container_id", id, "outcome", out.String())
	return out, nil
}

// RefreshEntryCount re-reads a container and caches its entry count.
func (s *VaultService) RefreshEntryCount(ctx context.Context, id string) (int, error) {
	c, _, err := s.openContainer(ctx, id)
	if err != nil {
		return 0, err
	}
	n := c.EntryCount()
	return n, containers.NewSQLiteRepository(s.db).SetEntryCount(ctx, id, n)
}

// WatchContainers keeps entry counts of external container files current
// until ctx is done.
func (s *VaultService) WatchContainers(ctx context.Context, debounce time.Duration) error {
	descs, err := s.ListContainers(ctx)
	if err != nil {
		return err
	}
	paths := container.Watchable(descs)
	if len(paths) == 0 {
		return nil
	}
	return container.Watch(ctx, paths, debounce, s.log, func(id string) {
		n, err := s.RefreshEntryCount(ctx, id)
		if err != nil {
			s.log.Warn(ctx, "entry count refresh failed", "container_id", id, "error", err)
			return
		}
		s.log.Debug(ctx, "entry count refreshed", "container_id", id, "entries", n)
	})
}
