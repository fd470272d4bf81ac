package cli

import (
	"fmt"
	"os"
	"os/signal"
	"strconv"

	"github.com/spf13/cobra"
)

func (a *App) containerCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "container",
		Aliases: []string{"kdbx"},
		Short:   "Register, import and export KDBX container files",
	}
	cmd.AddCommand(
		a.containerRegisterCommand(),
		a.containerCreateCommand(),
		&cobra.Command{
			Use:   "list",
			Short: "List registered containers",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				list, err := a.svc.ListContainers(cmd.Context())
				if err != nil {
					return err
				}
				t := newTable(a.out, "ID", "Name", "Mode", "Location", "Entries", "Default")
				for _, d := range list {
					def := ""
					if d.IsDefault {
						def = "yes"
					}
					t.AppendRow([]any{d.ID, d.Name, d.Mode, d.URI, d.EntryCount, def})
				}
				t.Render()
				return nil
			},
		},
		&cobra.Command{
			Use:   "default <id>",
			Short: "Make a container the default export target",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return a.svc.SetDefaultContainer(cmd.Context(), args[0])
			},
		},
		&cobra.Command{
			Use:   "remove <id>",
			Short: "Forget a container; imported entries stay",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return a.svc.RemoveContainer(cmd.Context(), args[0])
			},
		},
		a.containerGroupsCommand(),
		a.containerImportCommand(),
		a.containerExportCommand(),
		a.containerBindCommand(),
		&cobra.Command{
			Use:   "refresh <id>",
			Short: "Re-read a container and update its entry count",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				n, err := a.svc.RefreshEntryCount(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				fmt.Fprintf(a.out, "%d entries\n", n)
				return nil
			},
		},
		&cobra.Command{
			Use:   "watch",
			Short: "Keep entry counts of external files current until interrupted",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
				defer stop()
				return a.svc.WatchContainers(ctx, a.config.WatchDebounce)
			},
		},
	)
	return cmd
}

func (a *App) containerPassword() (string, error) {
	pw, err := a.secret("Container password")
	if err != nil {
		return "", err
	}
	defer wipe(pw)
	return string(pw), nil
}

func (a *App) containerRegisterCommand() *cobra.Command {
	var embed bool
	cmd := &cobra.Command{
		Use:   "register <name> <path|s3://bucket/key>",
		Short: "Register an existing container file",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			pw, err := a.containerPassword()
			if err != nil {
				return err
			}
			d, err := a.svc.RegisterContainer(cmd.Context(), args[0], args[1], pw, embed)
			if err != nil {
				return err
			}
			fmt.Fprintf(a.out, "%s (%d entries)\n", d.ID, d.EntryCount)
			return nil
		},
	}
	cmd.Flags().BoolVar(&embed, "embed", false, "copy the file into the data directory")
	return cmd
}

func (a *App) containerCreateCommand() *cobra.Command {
	var uri string
	cmd := &cobra.Command{
		Use:   "create <name>",
		Short: "Create an empty container",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			pw, err := a.containerPassword()
			if err != nil {
				return err
			}
			d, err := a.svc.CreateContainer(cmd.Context(), args[0], uri, pw)
			if err != nil {
				return err
			}
			fmt.Fprintf(a.out, "%s %s\n", d.ID, d.URI)
			return nil
		},
	}
	cmd.Flags().StringVar(&uri, "uri", "", "file path or s3:// location (default: inside the data directory)")
	return cmd
}

func (a *App) containerGroupsCommand() *cobra.Command {
	var pattern string
	cmd := &cobra.Command{
		Use:   "groups <id>",
		Short: "List the groups of a container",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			groups, err := a.svc.ContainerGroups(cmd.Context(), args[0], pattern)
			if err != nil {
				return err
			}
			t := newTable(a.out, "Group", "Entries")
			for _, g := range groups {
				t.AppendRow([]any{g.Path, strconv.Itoa(g.Entries)})
			}
			t.Render()
			return nil
		},
	}
	cmd.Flags().StringVar(&pattern, "match", "", "glob over group paths, e.g. 'Root/**/Work'")
	return cmd
}

func (a *App) containerImportCommand() *cobra.Command {
	var category string
	cmd := &cobra.Command{
		Use:   "import <id>",
		Short: "Import the entries of a container",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out, err := a.svc.ImportContainer(cmd.Context(), args[0], category)
			if err != nil {
				return err
			}
			printOutcome(a.out, "imported", out)
			return nil
		},
	}
	cmd.Flags().StringVar(&category, "category", "", "category for the imported entries")
	return cmd
}

func (a *App) containerExportCommand() *cobra.Command {
	var group string
	cmd := &cobra.Command{
		Use:   "export <container-id> <entry-id>...",
		Short: "Append entries to a container",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			out, err := a.svc.ExportContainer(cmd.Context(), args[0], args[1:], group)
			if err != nil {
				return err
			}
			printOutcome(a.out, "exported", out)
			return nil
		},
	}
	cmd.Flags().StringVar(&group, "group", "Root", "target group path, created when missing")
	return cmd
}

func (a *App) containerBindCommand() *cobra.Command {
	var vaultID, folderID string
	cmd := &cobra.Command{
		Use:   "bind <id> <group>",
		Short: "Sync a container group with a remote folder",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if vaultID == "" {
				return fmt.Errorf("--vault is required")
			}
			n, err := a.svc.BindGroup(cmd.Context(), args[0], args[1], vaultID, folderID)
			if err != nil {
				return err
			}
			fmt.Fprintf(a.out, "%d entries tagged for upload\n", n)
			return nil
		},
	}
	cmd.Flags().StringVar(&vaultID, "vault", "", "remote vault id")
	cmd.Flags().StringVar(&folderID, "folder", "", "remote folder id")
	return cmd
}
