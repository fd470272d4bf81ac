package cli

import (
	"fmt"
	"strings"
	"time"

	"github.com/dmitrijs2005/vaultkeeper/internal/client/models"
	"github.com/dmitrijs2005/vaultkeeper/internal/client/repositories/changelog"
	"github.com/spf13/cobra"
)

func (a *App) timelineCommand() *cobra.Command {
	var (
		opts   changelog.ListOptions
		since  time.Duration
		reveal bool
	)
	cmd := &cobra.Command{
		Use:     "timeline",
		Aliases: []string{"log"},
		Short:   "Show the change history, newest first",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if since > 0 {
				t := time.Now().Add(-since)
				opts.Since = &t
			}
			recs, err := a.svc.Timeline(cmd.Context(), opts)
			if err != nil {
				return err
			}
			t := newTable(a.out, "ID", "When", "Op", "Type", "Title", "Changes", "Device")
			for _, r := range recs {
				op := string(r.Operation)
				if r.IsReverted {
					op += " (reverted)"
				}
				t.AppendRow([]any{r.ID, shortTime(r.Timestamp), op, r.ItemType, r.ItemTitle, diffSummary(r.Diffs, reveal), r.DeviceID})
			}
			t.Render()
			return nil
		},
	}
	cmd.Flags().StringVar(&opts.ItemID, "item", "", "only records of this entry or category")
	cmd.Flags().IntVar(&opts.Limit, "limit", 50, "maximum number of records")
	cmd.Flags().DurationVar(&since, "since", 0, "only records newer than this, e.g. 24h")
	cmd.Flags().BoolVar(&reveal, "reveal", false, "print secret values in clear text")
	return cmd
}

func diffSummary(diffs []models.FieldDiff, reveal bool) string {
	var parts []string
	for _, d := range diffs {
		if d.Hidden() {
			continue
		}
		parts = append(parts, fmt.Sprintf("%s: %q -> %q", d.Field, masked(d.Field, d.Old, reveal), masked(d.Field, d.New, reveal)))
	}
	return strings.Join(parts, "\n")
}

func (a *App) revertCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "revert <record-id>",
		Short: "Undo a timeline record; reverting it again re-applies it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			reverted, err := a.svc.Revert(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if reverted {
				fmt.Fprintln(a.out, "reverted")
			} else {
				fmt.Fprintln(a.out, "re-applied")
			}
			return nil
		},
	}
}

func (a *App) trashCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "trash",
		Short: "Inspect and empty the trash",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "delete <id>",
			Short: "Delete a trashed entry for good, remotely first",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return a.svc.PermanentlyDelete(cmd.Context(), args[0])
			},
		},
		&cobra.Command{
			Use:   "empty",
			Short: "Delete every trashed entry",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				out, err := a.svc.EmptyTrash(cmd.Context())
				if err != nil {
					return err
				}
				printOutcome(a.out, "deleted", out)
				return nil
			},
		},
		&cobra.Command{
			Use:   "purge",
			Short: "Delete trashed entries older than the retention period",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				out, err := a.svc.PurgeTrash(cmd.Context())
				if err != nil {
					return err
				}
				printOutcome(a.out, "purged", out)
				return nil
			},
		},
	)
	return cmd
}
