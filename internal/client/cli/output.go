package cli

import (
	"fmt"
	"io"
	"time"

	"github.com/dmitrijs2005/vaultkeeper/internal/client/models"
	"github.com/jedib0t/go-pretty/v6/table"
)

func newTable(w io.Writer, header ...any) table.Writer {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row(header))
	return t
}

func printOutcome(w io.Writer, verb string, o models.Outcome) {
	fmt.Fprintf(w, "%s: %s\n", verb, o)
	for _, f := range o.Failures {
		fmt.Fprintf(w, "  %s: %s\n", f.ID, f.Reason)
	}
}

func shortTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Local().Format("2006-01-02 15:04")
}

// secretLabels are masked unless the caller asks to reveal them.
var secretLabels = map[string]bool{
	models.LabelPassword: true,
	models.LabelCVV:      true,
	models.LabelSecret:   true,
	models.LabelOTP:      true,
}

func masked(label, value string, reveal bool) string {
	if reveal || value == "" || !secretLabels[label] {
		return value
	}
	return "********"
}
