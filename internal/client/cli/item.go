package cli

import (
	"fmt"
	"strings"
	"time"

	"github.com/dmitrijs2005/vaultkeeper/internal/client/models"
	"github.com/dmitrijs2005/vaultkeeper/internal/client/repositories/entries"
	"github.com/dmitrijs2005/vaultkeeper/internal/client/services"
	"github.com/dmitrijs2005/vaultkeeper/internal/common"
	"github.com/dmitrijs2005/vaultkeeper/internal/otp"
	"github.com/spf13/cobra"
)

// prompted lists, per kind, the fields asked for interactively.
var prompted = map[models.Kind][]string{
	models.KindPassword: {models.LabelUsername, models.LabelPassword, models.LabelWebsite, models.LabelOTP},
	models.KindTotp:     {models.LabelIssuer, models.LabelAccount, models.LabelSecret},
	models.KindCard:     {models.LabelHolder, models.LabelNumber, models.LabelExpMonth, models.LabelExpYear, models.LabelCVV},
	models.KindDocument: {models.LabelDocType, models.LabelNumber, models.LabelFullName, models.LabelIssuedOn, models.LabelExpiresOn},
}

func emptyPayload(k models.Kind) (models.Payload, error) {
	switch k {
	case models.KindPassword:
		return models.PasswordPayload{}, nil
	case models.KindTotp:
		return models.TotpPayload{}, nil
	case models.KindCard:
		return models.CardPayload{}, nil
	case models.KindDocument:
		return models.DocumentPayload{}, nil
	case models.KindNote:
		return models.NotePayload{}, nil
	default:
		return nil, fmt.Errorf("%w: unknown kind %q", common.ErrInvalidArgument, k)
	}
}

// parseSets turns label=value pairs into fields.
func parseSets(sets []string) ([]models.Field, error) {
	fields := make([]models.Field, 0, len(sets))
	for _, s := range sets {
		label, value, ok := strings.Cut(s, "=")
		if !ok || strings.TrimSpace(label) == "" {
			return nil, fmt.Errorf("%w: expected label=value, got %q", common.ErrInvalidArgument, s)
		}
		fields = append(fields, models.Field{Label: strings.TrimSpace(label), Value: value})
	}
	return fields, nil
}

// inputPayload asks for the fields of kind k.
func (a *App) inputPayload(k models.Kind) (models.Payload, error) {
	p, err := emptyPayload(k)
	if err != nil {
		return nil, err
	}
	if k == models.KindNote {
		text, err := GetMultiline(a.reader, "Enter note text", a.out)
		if err != nil {
			return nil, err
		}
		return models.NotePayload{Content: text}, nil
	}
	for _, label := range prompted[k] {
		var value string
		if secretLabels[label] {
			b, err := a.secret(label)
			if err != nil {
				return nil, err
			}
			value = string(b)
			wipe(b)
		} else if value, err = GetSimpleText(a.reader, label, a.out); err != nil {
			return nil, err
		}
		if value == "" {
			continue
		}
		if p, err = models.SetField(p, label, value); err != nil {
			return nil, err
		}
	}
	return p, nil
}

func (a *App) itemCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "item",
		Aliases: []string{"items"},
		Short:   "Add, inspect and edit vault entries",
	}
	cmd.AddCommand(
		a.itemAddCommand(),
		a.itemListCommand(),
		a.itemShowCommand(),
		a.itemEditCommand(),
		a.itemFavCommand(),
		&cobra.Command{
			Use:   "trash <id>...",
			Short: "Move entries to the trash",
			Args:  cobra.MinimumNArgs(1),
			RunE: func(cmd *cobra.Command, ids []string) error {
				out, err := a.svc.TrashEntries(cmd.Context(), ids)
				if err != nil {
					return err
				}
				printOutcome(a.out, "trashed", out)
				return nil
			},
		},
		&cobra.Command{
			Use:   "restore <id>...",
			Short: "Restore entries from the trash",
			Args:  cobra.MinimumNArgs(1),
			RunE: func(cmd *cobra.Command, ids []string) error {
				out, err := a.svc.RestoreEntries(cmd.Context(), ids)
				if err != nil {
					return err
				}
				printOutcome(a.out, "restored", out)
				return nil
			},
		},
		a.itemMoveCommand(),
	)
	return cmd
}

func (a *App) itemAddCommand() *cobra.Command {
	var (
		kind, title, category, uri string
		sets                       []string
	)
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Add an entry; fields not given with --set are prompted for",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			k, err := models.ParseKind(kind)
			if err != nil {
				return err
			}
			if title == "" {
				if title, err = GetSimpleText(a.reader, "title", a.out); err != nil {
					return err
				}
			}
			if strings.TrimSpace(title) == "" {
				return fmt.Errorf("%w: title is required", common.ErrInvalidArgument)
			}

			var p models.Payload
			switch {
			case uri != "":
				key, err := otp.ParseURI(uri)
				if err != nil {
					return err
				}
				p = models.TotpPayloadFromKey(key)
			case len(sets) > 0:
				if p, err = emptyPayload(k); err != nil {
					return err
				}
				fields, err := parseSets(sets)
				if err != nil {
					return err
				}
				for _, f := range fields {
					if p, err = models.SetField(p, f.Label, f.Value); err != nil {
						return err
					}
				}
			default:
				if p, err = a.inputPayload(k); err != nil {
					return err
				}
			}

			it, err := a.svc.AddItem(cmd.Context(), strings.TrimSpace(title), p, category)
			if err != nil {
				return err
			}
			fmt.Fprintln(a.out, it.ID)
			return nil
		},
	}
	cmd.Flags().StringVarP(&kind, "kind", "k", string(models.KindPassword), "password, totp, card, document or note")
	cmd.Flags().StringVarP(&title, "title", "t", "", "entry title")
	cmd.Flags().StringVar(&category, "category", "", "category id")
	cmd.Flags().StringVar(&uri, "uri", "", "otpauth:// URI of a one-time password seed")
	cmd.Flags().StringArrayVar(&sets, "set", nil, "field as label=value (repeatable)")
	return cmd
}

func (a *App) itemListCommand() *cobra.Command {
	var (
		f    entries.Filter
		kind string
	)
	cmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List entries",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if kind != "" {
				k, err := models.ParseKind(kind)
				if err != nil {
					return err
				}
				f.Kind = k
			}
			list, err := a.svc.ListItems(cmd.Context(), f)
			if err != nil {
				return err
			}
			t := newTable(a.out, "ID", "Kind", "Title", "Category", "Remote", "Updated")
			for _, e := range list {
				t.AppendRow([]any{e.ID, e.Kind, favTitle(e), e.CategoryID, remoteState(e.Remote), shortTime(e.UpdatedAt)})
			}
			t.Render()
			return nil
		},
	}
	cmd.Flags().StringVar(&kind, "kind", "", "only entries of this kind")
	cmd.Flags().StringVar(&f.CategoryID, "category", "", "only entries in this category")
	cmd.Flags().StringVar(&f.VaultID, "vault", "", "only entries bound to this remote vault")
	cmd.Flags().StringVar(&f.ContainerID, "container", "", "only entries imported from this container")
	cmd.Flags().BoolVar(&f.Pending, "pending", false, "only entries waiting for upload")
	cmd.Flags().BoolVar(&f.Trash, "trash", false, "list the trash instead")
	return cmd
}

func favTitle(e models.Entry) string {
	if e.IsFavorite {
		return "* " + e.Title
	}
	return e.Title
}

func remoteState(l models.RemoteLink) string {
	switch {
	case l.VaultID == "":
		return ""
	case l.LocalModified:
		return "pending"
	case l.Bound():
		return "synced"
	default:
		return "linked"
	}
}

func (a *App) itemShowCommand() *cobra.Command {
	var reveal bool
	cmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Show the fields of an entry",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			it, err := a.svc.GetItem(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			t := newTable(a.out, "Field", "Value")
			t.AppendRow([]any{"kind", it.Kind})
			for _, f := range models.ItemFields(it) {
				t.AppendRow([]any{f.Label, masked(f.Label, f.Value, reveal)})
			}
			if it.Source.ContainerID != "" {
				t.AppendRow([]any{"container", it.Source.ContainerID + ":" + it.Source.GroupPath})
			}
			t.AppendRow([]any{"updated", shortTime(it.UpdatedAt)})
			t.Render()
			return nil
		},
	}
	cmd.Flags().BoolVar(&reveal, "reveal", false, "print secrets in clear text")
	return cmd
}

func (a *App) itemEditCommand() *cobra.Command {
	var sets []string
	cmd := &cobra.Command{
		Use:   "edit <id> --set label=value...",
		Short: "Change fields of an entry",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			fields, err := parseSets(sets)
			if err != nil {
				return err
			}
			if len(fields) == 0 {
				return fmt.Errorf("%w: nothing to change", common.ErrInvalidArgument)
			}
			rec, err := a.svc.SetFields(cmd.Context(), args[0], fields)
			if err != nil {
				return err
			}
			if rec == nil {
				fmt.Fprintln(a.out, "no changes")
				return nil
			}
			fmt.Fprintf(a.out, "recorded %s (%d fields)\n", rec.ID, len(rec.Diffs))
			return nil
		},
	}
	cmd.Flags().StringArrayVar(&sets, "set", nil, "field as label=value (repeatable)")
	return cmd
}

func (a *App) itemFavCommand() *cobra.Command {
	var off bool
	cmd := &cobra.Command{
		Use:   "fav <id>",
		Short: "Mark an entry as favorite",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.svc.SetFavorite(cmd.Context(), args[0], !off)
		},
	}
	cmd.Flags().BoolVar(&off, "off", false, "clear the favorite mark")
	return cmd
}

func (a *App) itemMoveCommand() *cobra.Command {
	var category string
	cmd := &cobra.Command{
		Use:   "move <id>...",
		Short: "Move entries to a category (empty for none)",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, ids []string) error {
			out, err := a.svc.MoveEntries(cmd.Context(), ids, category)
			if err != nil {
				return err
			}
			printOutcome(a.out, "moved", out)
			return nil
		},
	}
	cmd.Flags().StringVar(&category, "category", "", "target category id")
	return cmd
}

func (a *App) otpCommand() *cobra.Command {
	var next bool
	cmd := &cobra.Command{
		Use:   "otp <id>",
		Short: "Print the current one-time password of an entry",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var (
				code services.Code
				err  error
			)
			if next {
				code, err = a.svc.NextCounter(cmd.Context(), args[0])
			} else {
				code, err = a.svc.GenerateOTP(cmd.Context(), args[0], time.Now())
			}
			if err != nil {
				return err
			}
			if code.Remaining > 0 {
				fmt.Fprintf(a.out, "%s (%ds left)\n", code.Value, int(code.Remaining.Seconds()))
				return nil
			}
			fmt.Fprintln(a.out, code.Value)
			return nil
		},
	}
	cmd.Flags().BoolVar(&next, "next", false, "advance the counter of an HOTP seed")
	return cmd
}
