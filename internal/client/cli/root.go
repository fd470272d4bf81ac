package cli

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/dmitrijs2005/vaultkeeper/internal/common"
	"github.com/spf13/cobra"
)

// PassphraseEnv, when set, is used instead of prompting.
const PassphraseEnv = "VAULTKEEPER_PASSPHRASE"

// commands annotated with noUnlock run against a locked vault
const noUnlock = "no-unlock"

func (a *App) rootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:           "vaultctl",
		Short:         "Encrypted password vault with container import and remote sync",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if _, skip := cmd.Annotations[noUnlock]; skip || cmd.Name() == "help" {
				return nil
			}
			return a.unlock(cmd.Context())
		},
	}
	root.CompletionOptions.DisableDefaultCmd = true
	root.AddCommand(
		a.initCommand(),
		a.itemCommand(),
		a.otpCommand(),
		a.categoryCommand(),
		a.containerCommand(),
		a.remoteCommand(),
		a.timelineCommand(),
		a.revertCommand(),
		a.trashCommand(),
		a.auditCommand(),
		a.passphraseCommand(),
	)
	return root
}

func (a *App) passphrase(prompt string) ([]byte, error) {
	if v := os.Getenv(PassphraseEnv); v != "" {
		return []byte(v), nil
	}
	return a.secret(prompt)
}

func (a *App) unlock(ctx context.Context) error {
	if !a.svc.Locked() {
		return nil
	}
	ok, err := a.svc.Initialized(ctx)
	if err != nil {
		return err
	}
	if !ok {
		return errors.New("vault is not initialized, run 'vaultctl init' first")
	}
	pw, err := a.passphrase("Master passphrase")
	if err != nil {
		return err
	}
	defer wipe(pw)
	if err := a.svc.Unlock(ctx, pw); err != nil {
		if errors.Is(err, common.ErrAuth) {
			return errors.New("wrong master passphrase")
		}
		return err
	}
	return nil
}

func (a *App) initCommand() *cobra.Command {
	return &cobra.Command{
		Use:         "init",
		Short:       "Set the master passphrase of a new vault",
		Args:        cobra.NoArgs,
		Annotations: map[string]string{noUnlock: ""},
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			pw, err := a.newPassphrase("New master passphrase")
			if err != nil {
				return err
			}
			defer wipe(pw)
			if err := a.svc.Setup(ctx, pw); err != nil {
				return err
			}
			fmt.Fprintf(a.out, "Vault initialized at %s\n", a.config.Database())
			return nil
		},
	}
}

// newPassphrase asks twice unless the passphrase comes from the
// environment.
func (a *App) newPassphrase(prompt string) ([]byte, error) {
	if v := os.Getenv(PassphraseEnv); v != "" {
		return []byte(v), nil
	}
	return a.askTwice(prompt)
}

func (a *App) askTwice(prompt string) ([]byte, error) {
	pw, err := a.secret(prompt)
	if err != nil {
		return nil, err
	}
	again, err := a.secret("Repeat")
	if err != nil {
		wipe(pw)
		return nil, err
	}
	defer wipe(again)
	if string(pw) != string(again) {
		wipe(pw)
		return nil, errors.New("passphrases do not match")
	}
	if len(pw) == 0 {
		return nil, errors.New("passphrase must not be empty")
	}
	return pw, nil
}

func (a *App) passphraseCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "passphrase",
		Short: "Manage the master passphrase",
	}
	cmd.AddCommand(&cobra.Command{
		Use:         "change",
		Short:       "Re-encrypt the vault under a new master passphrase",
		Args:        cobra.NoArgs,
		Annotations: map[string]string{noUnlock: ""},
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			current, err := a.passphrase("Current passphrase")
			if err != nil {
				return err
			}
			defer wipe(current)
			next, err := a.askTwice("New passphrase")
			if err != nil {
				return err
			}
			defer wipe(next)
			if err := a.svc.Unlock(ctx, current); err != nil {
				return err
			}
			if err := a.svc.ChangePassphrase(ctx, current, next); err != nil {
				return err
			}
			fmt.Fprintln(a.out, "Master passphrase changed")
			return nil
		},
	})
	return cmd
}
