package cli

import (
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"place-service/internal/services"
)

// ReconcileOptions holds flags for the reconcile command.
type ReconcileOptions struct {
	*RootOptions
	Prune     bool
	MinAge    time.Duration
	BatchSize int
}

// NewReconcileCommand creates the reconcile command.
func NewReconcileCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ReconcileOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "reconcile",
		Short: "Find geo index entries without a stored place",
		Long: `Scan the geo index and report entries whose place is absent from the
object store. These come from creates whose object store commit failed
after the index row was written.

Examples:
  placectl reconcile
  placectl reconcile --prune --min-age 10m`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReconcile(opts, cmd)
		},
	}

	cmd.Flags().BoolVar(&opts.Prune, "prune", false, "delete orphan entries from the geo index")
	cmd.Flags().DurationVar(&opts.MinAge, "min-age", time.Minute, "ignore entries younger than this")
	cmd.Flags().IntVar(&opts.BatchSize, "batch", 500, "index rows read per page")

	return cmd
}

func runReconcile(opts *ReconcileOptions, cmd *cobra.Command) error {
	ctx := cmd.Context()
	c, err := openComponents(ctx)
	if err != nil {
		return err
	}
	defer c.Close()

	rec := c.Reconciler()
	rec.MinAge = opts.MinAge
	rec.BatchSize = opts.BatchSize

	report, err := rec.Run(ctx, opts.Prune)
	if err != nil {
		return err
	}
	return printResult(cmd.OutOrStdout(), opts.RootOptions, report, func(w io.Writer) {
		printReconcileReport(w, report)
	})
}

func printReconcileReport(w io.Writer, report services.ReconcileReport) {
	fmt.Fprintf(w, "scanned: %d\n", report.Scanned)
	fmt.Fprintf(w, "skipped (too young): %d\n", report.Skipped)
	fmt.Fprintf(w, "orphans: %d\n", len(report.Orphans))
	for _, oid := range report.Orphans {
		fmt.Fprintf(w, "  %s\n", oid)
	}
	if report.Pruned {
		fmt.Fprintf(w, "removed: %d\n", report.Removed)
	}
}
