package cli

import (
	"fmt"
	"io"
	"sort"

	"github.com/spf13/cobra"
)

// NewPackCommand creates the pack command.
func NewPackCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "pack",
		Short: "Drop object store revisions no reader can see",
		Long: `Drop superseded object store revisions.

Pack only knows about connections opened by this command. Stop the place
server before packing its store file.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			c, err := openComponents(ctx)
			if err != nil {
				return err
			}
			defer c.Close()

			res, err := c.Store.Pack(ctx)
			if err != nil {
				return err
			}
			return printResult(cmd.OutOrStdout(), rootOpts, res, func(w io.Writer) {
				fmt.Fprintf(w, "packed up to tid %d: %d revisions removed, %d tombstones purged\n",
					res.Bound, res.RevisionsRemoved, res.TombstonesPurged)
			})
		},
	}
}

// NewStatsCommand creates the stats command.
func NewStatsCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show object and index counts",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			c, err := openComponents(ctx)
			if err != nil {
				return err
			}
			defer c.Close()

			st, err := c.Registry.Stats(ctx)
			if err != nil {
				return err
			}
			return printResult(cmd.OutOrStdout(), rootOpts, st, func(w io.Writer) {
				fmt.Fprintf(w, "object store: %s\n", st.Objects.StoragePath)
				fmt.Fprintf(w, "  last tid: %d\n", st.Objects.LastTID)
				fmt.Fprintf(w, "  revisions: %d\n", st.Objects.Revisions)
				trees := make([]string, 0, len(st.Objects.Trees))
				for name := range st.Objects.Trees {
					trees = append(trees, name)
				}
				sort.Strings(trees)
				for _, name := range trees {
					fmt.Fprintf(w, "  tree %s: %d\n", name, st.Objects.Trees[name])
				}
				fmt.Fprintf(w, "geo index rows: %d\n", st.IndexRows)
			})
		},
	}
}
