package cli

import (
	"fmt"
	"io"
	"strings"

	"github.com/dmitrijs2005/vaultkeeper/internal/syncer"
	"github.com/spf13/cobra"
)

func (a *App) remoteCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "remote",
		Short: "Connect and synchronize remote vaults",
	}
	cmd.AddCommand(
		a.remoteAddCommand(),
		&cobra.Command{
			Use:   "list",
			Short: "List connected remote vaults",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				vaults, err := a.svc.ListRemoteVaults(cmd.Context())
				if err != nil {
					return err
				}
				t := newTable(a.out, "ID", "Name", "Endpoint", "Email", "Last sync")
				for _, v := range vaults {
					last := "never"
					if v.LastSyncAt != nil {
						last = shortTime(*v.LastSyncAt)
					}
					t.AppendRow([]any{v.ID, v.Name, v.Endpoint, v.Email, last})
				}
				t.Render()
				return nil
			},
		},
		&cobra.Command{
			Use:   "remove <id>",
			Short: "Disconnect a remote vault; bound entries stay local",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return a.svc.RemoveRemoteVault(cmd.Context(), args[0])
			},
		},
		a.remoteSyncCommand(),
		&cobra.Command{
			Use:   "push <id>",
			Short: "Upload locally modified entries",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				out, err := a.svc.DrainPending(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				printOutcome(a.out, "pushed", out)
				return nil
			},
		},
		a.remoteUploadCommand(),
		&cobra.Command{
			Use:   "allow-empty <id>",
			Short: "Let the next sync apply an empty remote vault",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return a.svc.AllowEmptyOnce(cmd.Context(), args[0])
			},
		},
		&cobra.Command{
			Use:   "folders <id>",
			Short: "List the cached folders of a remote vault",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				folders, err := a.svc.Folders(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				t := newTable(a.out, "ID", "Name")
				for _, f := range folders {
					t.AppendRow([]any{f.ID, f.Name})
				}
				t.Render()
				return nil
			},
		},
		&cobra.Command{
			Use:   "mkfolder <id> <name>",
			Short: "Create a folder in a remote vault",
			Args:  cobra.ExactArgs(2),
			RunE: func(cmd *cobra.Command, args []string) error {
				f, err := a.svc.CreateFolder(cmd.Context(), args[0], args[1])
				if err != nil {
					return err
				}
				fmt.Fprintln(a.out, f.ID)
				return nil
			},
		},
		&cobra.Command{
			Use:   "mvfolder <id> <folder> <name>",
			Short: "Rename a folder in a remote vault",
			Args:  cobra.ExactArgs(3),
			RunE: func(cmd *cobra.Command, args []string) error {
				_, err := a.svc.RenameFolder(cmd.Context(), args[0], args[1], args[2])
				return err
			},
		},
		&cobra.Command{
			Use:   "rmfolder <id> <folder>",
			Short: "Delete a folder from a remote vault; its items stay",
			Args:  cobra.ExactArgs(2),
			RunE: func(cmd *cobra.Command, args []string) error {
				return a.svc.DeleteFolder(cmd.Context(), args[0], args[1])
			},
		},
	)
	return cmd
}

func (a *App) remoteAddCommand() *cobra.Command {
	var email string
	cmd := &cobra.Command{
		Use:   "add <name> <endpoint>",
		Short: "Log in to a remote vault and store its credentials",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			var err error
			if email == "" {
				if email, err = GetSimpleText(a.reader, "Email", a.out); err != nil {
					return err
				}
			}
			pw, err := a.secret("Remote master password")
			if err != nil {
				return err
			}
			defer wipe(pw)
			v, err := a.svc.AddRemoteVault(cmd.Context(), args[0], args[1], email, string(pw))
			if err != nil {
				return err
			}
			fmt.Fprintln(a.out, v.ID)
			return nil
		},
	}
	cmd.Flags().StringVar(&email, "email", "", "account email")
	return cmd
}

func (a *App) remoteSyncCommand() *cobra.Command {
	var all bool
	cmd := &cobra.Command{
		Use:   "sync [id]",
		Short: "Pull a remote vault into the local store",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if all || len(args) == 0 {
				results, err := a.svc.SyncAll(ctx)
				for _, r := range results {
					printResult(a.out, &r)
				}
				return err
			}
			r, err := a.svc.Sync(ctx, args[0])
			if r != nil {
				printResult(a.out, r)
			}
			return err
		},
	}
	cmd.Flags().BoolVar(&all, "all", false, "sync every connected vault")
	return cmd
}

func printResult(w io.Writer, r *syncer.Result) {
	switch {
	case r.Blocked:
		fmt.Fprintf(w, "%s: blocked, the remote vault is empty (run 'remote allow-empty %s' if intended)\n", r.VaultID, r.VaultID)
		return
	case r.Err != nil:
		fmt.Fprintf(w, "%s: %v\n", r.VaultID, r.Err)
		return
	}
	fmt.Fprintf(w, "%s: created=%d updated=%d removed=%d unchanged=%d\n",
		r.VaultID, r.Created, r.Updated, r.Removed, r.Unchanged)
	if len(r.Duplicates) > 0 {
		fmt.Fprintf(w, "  skipped duplicates: %s\n", strings.Join(r.Duplicates, ", "))
	}
	if len(r.Conflicts) > 0 {
		fmt.Fprintf(w, "  conflicts (changed on both sides): %s\n", strings.Join(r.Conflicts, ", "))
	}
	for _, f := range r.Outcome.Failures {
		fmt.Fprintf(w, "  %s: %s\n", f.ID, f.Reason)
	}
}

func (a *App) remoteUploadCommand() *cobra.Command {
	var folder string
	cmd := &cobra.Command{
		Use:   "upload <id>",
		Short: "Upload every local-only entry to a remote vault",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out, err := a.svc.UploadAll(cmd.Context(), args[0], folder)
			if err != nil {
				return err
			}
			printOutcome(a.out, "uploaded", out)
			return nil
		},
	}
	cmd.Flags().StringVar(&folder, "folder", "", "remote folder for the uploaded entries")
	return cmd
}
