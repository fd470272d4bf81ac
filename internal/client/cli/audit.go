package cli

import (
	"fmt"
	"io"
	"strings"

	"github.com/dmitrijs2005/vaultkeeper/internal/audit"
	"github.com/spf13/cobra"
)

func (a *App) auditCommand() *cobra.Command {
	var quiet bool
	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Check passwords for reuse, breaches and missing two-factor",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			run, err := a.svc.RunSecurityAudit(ctx)
			if err != nil {
				return err
			}
			for ev := range run.Events() {
				if !quiet && ev.State == audit.Running {
					fmt.Fprintf(cmd.ErrOrStderr(), "\r%-20s %3d%%", ev.Stage, ev.Progress)
				}
			}
			if !quiet {
				fmt.Fprintln(cmd.ErrOrStderr())
			}
			rep, err := run.Wait(ctx)
			if rep != nil {
				printReport(a.out, rep)
			}
			return err
		},
	}
	cmd.Flags().BoolVarP(&quiet, "quiet", "q", false, "no progress output")
	return cmd
}

func printReport(w io.Writer, r *audit.Report) {
	fmt.Fprintf(w, "Security score: %d/100\n", r.Score)
	fmt.Fprintf(w, "Strength: weak=%d medium=%d strong=%d very strong=%d\n",
		r.Strength.Weak, r.Strength.Medium, r.Strength.Strong, r.Strength.VeryStrong)
	if r.Failed != 0 {
		fmt.Fprintf(w, "Stage %s did not finish; results below are partial\n", r.Failed)
	}

	if len(r.DuplicatePasswords) > 0 {
		t := newTable(w, "Reused password", "Entries")
		for i, g := range r.DuplicatePasswords {
			t.AppendRow([]any{fmt.Sprintf("#%d", i+1), subjectTitles(g.Subjects)})
		}
		t.Render()
	}
	if len(r.DuplicateSites) > 0 {
		t := newTable(w, "Site", "Entries")
		for _, g := range r.DuplicateSites {
			t.AppendRow([]any{g.Key, subjectTitles(g.Subjects)})
		}
		t.Render()
	}
	if len(r.Breached) > 0 {
		t := newTable(w, "Breached entry", "Seen")
		for _, b := range r.Breached {
			t.AppendRow([]any{b.Subject.Title, b.Count})
		}
		t.Render()
	}
	var missing []audit.TwoFactorFinding
	for _, f := range r.TwoFactor {
		if f.Supported {
			missing = append(missing, f)
		}
	}
	if len(missing) > 0 {
		t := newTable(w, "Two-factor available", "Domain")
		for _, f := range missing {
			t.AppendRow([]any{f.Subject.Title, f.Domain})
		}
		t.Render()
	}
}

func subjectTitles(subjects []audit.Subject) string {
	titles := make([]string, len(subjects))
	for i, s := range subjects {
		titles[i] = s.Title
	}
	return strings.Join(titles, ", ")
}
