package cli

import (
	"fmt"
	"strings"

	"github.com/dmitrijs2005/vaultkeeper/internal/client/models"
	"github.com/spf13/cobra"
)

func (a *App) categoryCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "category",
		Aliases: []string{"cat"},
		Short:   "Manage categories",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "add <name>",
			Short: "Create a category",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				c, err := a.svc.CreateCategory(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				fmt.Fprintln(a.out, c.ID)
				return nil
			},
		},
		&cobra.Command{
			Use:   "list",
			Short: "List categories",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				cats, err := a.svc.ListCategories(cmd.Context())
				if err != nil {
					return err
				}
				t := newTable(a.out, "ID", "Name", "Remote folder", "Kinds")
				for _, c := range cats {
					folder, kinds := "", ""
					if c.Link != nil {
						folder = c.Link.VaultID + "/" + c.Link.FolderID
						kinds = joinKinds(c.Link.SyncKinds)
					}
					t.AppendRow([]any{c.ID, c.Name, folder, kinds})
				}
				t.Render()
				return nil
			},
		},
		&cobra.Command{
			Use:   "rename <id> <name>",
			Short: "Rename a category",
			Args:  cobra.ExactArgs(2),
			RunE: func(cmd *cobra.Command, args []string) error {
				return a.svc.RenameCategory(cmd.Context(), args[0], args[1])
			},
		},
		&cobra.Command{
			Use:   "delete <id>",
			Short: "Delete a category; its entries become uncategorized",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return a.svc.DeleteCategory(cmd.Context(), args[0])
			},
		},
		a.categoryLinkCommand(),
	)
	return cmd
}

func (a *App) categoryLinkCommand() *cobra.Command {
	var (
		vaultID, folderID string
		kinds             []string
		unlink            bool
	)
	cmd := &cobra.Command{
		Use:   "link <id>",
		Short: "Sync a category with a remote folder",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var link *models.FolderLink
			if !unlink {
				if vaultID == "" || folderID == "" {
					return fmt.Errorf("--vault and --folder are required")
				}
				link = &models.FolderLink{VaultID: vaultID, FolderID: folderID}
				for _, k := range kinds {
					kind, err := models.ParseKind(k)
					if err != nil {
						return err
					}
					link.SyncKinds = append(link.SyncKinds, kind)
				}
			}
			n, err := a.svc.LinkCategory(cmd.Context(), args[0], link)
			if err != nil {
				return err
			}
			fmt.Fprintf(a.out, "%d entries tagged for upload\n", n)
			return nil
		},
	}
	cmd.Flags().StringVar(&vaultID, "vault", "", "remote vault id")
	cmd.Flags().StringVar(&folderID, "folder", "", "remote folder id")
	cmd.Flags().StringSliceVar(&kinds, "kinds", nil, "kinds to sync (default all)")
	cmd.Flags().BoolVar(&unlink, "unlink", false, "remove the link")
	return cmd
}

func joinKinds(kinds []models.Kind) string {
	if len(kinds) == 0 {
		return "all"
	}
	s := make([]string, len(kinds))
	for i, k := range kinds {
		s[i] = string(k)
	}
	return strings.Join(s, ",")
}
