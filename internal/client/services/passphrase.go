package services

import (
	"context"
	"fmt"

	"github.com/dmitrijs2005/vaultkeeper/internal/changelog"
	"github.com/dmitrijs2005/vaultkeeper/internal/client/models"
	"github.com/dmitrijs2005/vaultkeeper/internal/client/repositories/containers"
	"github.com/dmitrijs2005/vaultkeeper/internal/client/repositories/entries"
	"github.com/dmitrijs2005/vaultkeeper/internal/client/repositories/metadata"
	"github.com/dmitrijs2005/vaultkeeper/internal/client/repositories/remotevaults"
	"github.com/dmitrijs2005/vaultkeeper/internal/common"
	"github.com/dmitrijs2005/vaultkeeper/internal/dbx"
)

// ChangePassphrase moves every sealed value to a key derived from next.
// All values are decrypted under the current key first; if any of them
// cannot be opened nothing is written and the old key stays installed.
// Entries, timeline diffs, container passwords, remote credentials and
// folder names are rewritten together with the new key material in one
// transaction.
func (s *VaultService) ChangePassphrase(ctx context.Context, current, next []byte) error {
	st, err := s.current()
	if err != nil {
		return err
	}
	if len(next) == 0 {
		return fmt.Errorf("%w: empty passphrase", common.ErrInvalidArgument)
	}
	ok, err := s.keyring.VerifyMasterPassphrase(ctx, current)
	if err != nil {
		return err
	}
	if !ok {
		return common.ErrAuth
	}

	newSess, material := s.keyring.Prepare(next)
	err = dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		rk := &rekey{from: st.session, to: newSess}
		if err := rk.collect(ctx, tx); err != nil {
			return err
		}
		if err := changelog.Reseal(ctx, tx, st.session, newSess); err != nil {
			return fmt.Errorf("reseal timeline: %w", err)
		}
		if err := rk.write(ctx); err != nil {
			return err
		}
		return s.keyring.WithStore(metadata.NewSQLiteRepository(tx)).Install(ctx, material)
	})
	if err != nil {
		newSess.Lock()
		s.log.Error(ctx, "passphrase change aborted", "error", err)
		return fmt.Errorf("failed to change passphrase: %w", err)
	}

	s.install(newSess)
	s.log.Info(ctx, "passphrase changed")
	return nil
}

// sealedSet is a group of sealed values of one row, decrypted in the first
// phase and written back by apply in the second.
type sealedSet struct {
	plain []string
	empty []bool
	apply func(ctx context.Context, sealed []string) error
}

type rekey struct {
	from, to models.Sealer
	sets     []sealedSet
}

func (rk *rekey) add(name string, ciphertexts []string, apply func(ctx context.Context, sealed []string) error) error {
	set := sealedSet{plain: make([]string, len(ciphertexts)), empty: make([]bool, len(ciphertexts)), apply: apply}
	for i, c := range ciphertexts {
		if c == "" {
			set.empty[i] = true
			continue
		}
		p, err := rk.from.Decrypt(c)
		if err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
		set.plain[i] = p
	}
	rk.sets = append(rk.sets, set)
	return nil
}

func (rk *rekey) collect(ctx context.Context, tx dbx.DBTX) error {
	entryRepo := entries.NewSQLiteRepository(tx)
	all, err := entryRepo.List(ctx, entries.Filter{Any: true})
	if err != nil {
		return err
	}
	for _, e := range all {
		err := rk.add("entry "+e.ID, []string{e.Sealed}, func(ctx context.Context, sealed []string) error {
			e.Sealed = sealed[0]
			return entryRepo.Update(ctx, &e)
		})
		if err != nil {
			return err
		}
	}

	descRepo := containers.NewSQLiteRepository(tx)
	descs, err := descRepo.List(ctx)
	if err != nil {
		return err
	}
	for _, d := range descs {
		err := rk.add("container "+d.ID, []string{d.SealedPassword}, func(ctx context.Context, sealed []string) error {
			d.SealedPassword = sealed[0]
			return descRepo.Update(ctx, &d)
		})
		if err != nil {
			return err
		}
	}

	vaultRepo := remotevaults.NewSQLiteRepository(tx)
	vaults, err := vaultRepo.List(ctx)
	if err != nil {
		return err
	}
	for _, v := range vaults {
		creds := []string{v.SealedAccessToken, v.SealedRefreshToken, v.SealedEncKey, v.SealedMacKey}
		err := rk.add("vault "+v.ID, creds, func(ctx context.Context, sealed []string) error {
			v.SealedAccessToken, v.SealedRefreshToken, v.SealedEncKey, v.SealedMacKey = sealed[0], sealed[1], sealed[2], sealed[3]
			return vaultRepo.Update(ctx, &v)
		})
		if err != nil {
			return err
		}

		folders, err := vaultRepo.Folders(ctx, v.ID)
		if err != nil {
			return err
		}
		names := make([]string, len(folders))
		for i, f := range folders {
			names[i] = f.SealedName
		}
		err = rk.add("folders of vault "+v.ID, names, func(ctx context.Context, sealed []string) error {
			for i := range folders {
				folders[i].SealedName = sealed[i]
			}
			return vaultRepo.ReplaceFolders(ctx, v.ID, folders)
		})
		if err != nil {
			return err
		}
	}
	return nil
}

func (rk *rekey) write(ctx context.Context) error {
	for _, set := range rk.sets {
		sealed := make([]string, len(set.plain))
		for i, p := range set.plain {
			if set.empty[i] {
				continue
			}
			c, err := rk.to.Encrypt(p)
			if err != nil {
				return err
			}
			sealed[i] = c
		}
		if err := set.apply(ctx, sealed); err != nil {
			return err
		}
	}
	return nil
}
