package app

import (
	"database/sql"
	"fmt"
	"slices"
	"sort"
	"strings"

	"workflowaudit/internal/domain"
	"workflowaudit/internal/storage/sqlite"

	"github.com/spf13/cobra"
)

func newShowCommand() *cobra.Command {
	var reports bool
	cmd := &cobra.Command{
		Use:   "show <project-id>",
		Short: "Print a stored project with its delay attribution by category",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := setup()
			if err != nil {
				return err
			}
			defer rt.Close()
			out, err := showProject(rt.db, args[0], reports)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), out)
			return nil
		},
	}
	cmd.Flags().BoolVar(&reports, "reports", false, "list every stored forensic report")
	return cmd
}

// showProject renders a project from the store. Category counts and reports
// are read from the forensic_reports table, not from the statistics blob.
func showProject(db *sql.DB, id string, withReports bool) (string, error) {
	p, err := sqlite.LoadProject(db, id)
	if err != nil {
		return "", err
	}
	counts, err := sqlite.CountReportsByCategory(db, id)
	if err != nil {
		return "", fmt.Errorf("count reports: %w", err)
	}

	var b strings.Builder
	b.WriteString(formatProject(p))
	if len(counts) > 0 {
		b.WriteString("\nDelay attribution:")
		for _, c := range slices.Concat(domain.Categories, []domain.Category{domain.CategoryUncategorized}) {
			if n := counts[c]; n > 0 {
				fmt.Fprintf(&b, "\n  %s: %d", c, n)
			}
		}
	}
	if !withReports {
		return b.String(), nil
	}

	stored, err := sqlite.GetForensicReports(db, id)
	if err != nil {
		return "", fmt.Errorf("load reports: %w", err)
	}
	tickets := make([]string, 0, len(stored))
	for t := range stored {
		tickets = append(tickets, t)
	}
	sort.Strings(tickets)
	for _, t := range tickets {
		r := stored[t]
		fmt.Fprintf(&b, "\n%s [%s %.0f%%] %s", t, r.DelayAttribution.Category, r.DelayAttribution.Confidence*100, r.Narrative)
	}
	return b.String(), nil
}
