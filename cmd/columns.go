package cmd

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/KaramelBytes/statloom-cli/internal/dataset"
)

var (
	columnsWorkspace string
	columnsAll       bool
	renameWorkspace  string
	deleteWorkspace  string
)

var columnsCmd = &cobra.Command{
	Use:   "columns",
	Short: "List the variables of the workspace dataset",
	RunE: func(cmd *cobra.Command, args []string) error {
		w, err := loadWorkspace(columnsWorkspace)
		if err != nil {
			return err
		}
		ds, err := w.DatasetStore().Load(cmd.Context())
		if err != nil {
			return err
		}
		cols := ds.LiveColumns()
		if columnsAll {
			cols = ds.Columns
		}
		out := cmd.OutOrStdout()
		if len(cols) == 0 {
			fmt.Fprintln(out, "(no columns)")
			return nil
		}
		tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "INDEX\tNAME\tTYPE\tMEASURE\tLABEL")
		for _, c := range cols {
			name := c.Name
			if c.Deleted {
				name += " (deleted)"
			}
			fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\n", c.ColumnIndex, name, c.Type, c.Measure, c.Label)
		}
		if err := tw.Flush(); err != nil {
			return err
		}
		fmt.Fprintf(out, "%d rows\n", ds.RowCount())
		return nil
	},
}

var columnsRenameCmd = &cobra.Command{
	Use:   "rename <old> <new>",
	Short: "Rename a variable of the workspace dataset",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return editColumns(cmd, renameWorkspace, func(ds *dataset.Dataset) error {
			return ds.RenameColumn(args[0], args[1])
		}, fmt.Sprintf("Renamed %s to %s", args[0], args[1]))
	},
}

var columnsDeleteCmd = &cobra.Command{
	Use:   "delete <name>",
	Short: "Delete a variable of the workspace dataset (its index stays reserved)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return editColumns(cmd, deleteWorkspace, func(ds *dataset.Dataset) error {
			return ds.DeleteColumn(args[0])
		}, "Deleted "+args[0])
	},
}

// editColumns loads the workspace dataset, applies edit and replaces the stored copy.
func editColumns(cmd *cobra.Command, name string, edit func(*dataset.Dataset) error, done string) error {
	w, err := loadWorkspace(name)
	if err != nil {
		return err
	}
	store := w.DatasetStore()
	ds, err := store.Load(cmd.Context())
	if err != nil {
		return err
	}
	if err := edit(ds); err != nil {
		return err
	}
	if err := store.Replace(cmd.Context(), ds); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "✓ %s\n", done)
	return nil
}

func init() {
	rootCmd.AddCommand(columnsCmd)
	columnsCmd.Flags().StringVarP(&columnsWorkspace, "workspace", "w", "", "workspace name or path")
	columnsCmd.Flags().BoolVar(&columnsAll, "all", false, "include deleted columns")

	columnsCmd.AddCommand(columnsRenameCmd, columnsDeleteCmd)
	columnsRenameCmd.Flags().StringVarP(&renameWorkspace, "workspace", "w", "", "workspace name or path")
	columnsDeleteCmd.Flags().StringVarP(&deleteWorkspace, "workspace", "w", "", "workspace name or path")
}
