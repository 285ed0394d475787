package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/KaramelBytes/statloom-cli/internal/engine"
	"github.com/KaramelBytes/statloom-cli/internal/ledger"
)

var (
	logWorkspace string
	logRun       string
	logJSON      bool
)

var logCmd = &cobra.Command{
	Use:   "log",
	Short: "Print the result log (runs, groups and tables)",
	RunE: func(cmd *cobra.Command, args []string) error {
		w, err := loadWorkspace(logWorkspace)
		if err != nil {
			return err
		}
		res, err := w.OpenResults()
		if err != nil {
			return err
		}
		defer res.Close()
		tree, err := ledger.BuildTree(cmd.Context(), res, ledger.RunID(logRun))
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		if logJSON {
			enc := json.NewEncoder(out)
			enc.SetIndent("", "  ")
			return enc.Encode(tree)
		}
		if len(tree.Runs) == 0 {
			fmt.Fprintln(out, "(no runs)")
			return nil
		}
		fmt.Fprint(out, tree.Markdown(func(t ledger.OutputTable) string { return engine.RenderPayload(t.Payload) }))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(logCmd)
	logCmd.Flags().StringVarP(&logWorkspace, "workspace", "w", "", "workspace name or path")
	logCmd.Flags().StringVar(&logRun, "run", "", "only print this run id")
	logCmd.Flags().BoolVar(&logJSON, "json", false, "print the log as JSON")
}
