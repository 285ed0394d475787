package cmd

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/KaramelBytes/statloom-cli/internal/engine"
	"github.com/KaramelBytes/statloom-cli/internal/ledger"
	"github.com/KaramelBytes/statloom-cli/internal/pipeline"
)

var (
	runWorkspace   string
	runDependent   []string
	runLabel       string
	runIndependent []string
	runOpts        pipeline.Options
	runShow        bool
)

var runCmd = &cobra.Command{
	Use:   "run <kind>",
	Short: "Run an analysis against the workspace dataset",
	Long: "Run an analysis against the workspace dataset. Kinds: " + kindList() + `.
The run waits until every task finished and its tables were recorded.
Discriminant analysis is computed by the remote engine only; set
default_engine to remote (statloom config set default_engine remote).`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := requireConfig()
		if err != nil {
			return err
		}
		w, err := loadWorkspace(runWorkspace)
		if err != nil {
			return err
		}
		log := newLogger()
		defer func() { _ = log.Sync() }()
		notify := pipeline.NotifierFunc(func(e pipeline.Event) {
			log.Debug("event", zap.String("type", e.Type), zap.String("run", e.RunID), zap.String("tag", e.Tag), zap.String("message", e.Message))
		})
		sess, err := w.Open(cmd.Context(), c, log, notify)
		if err != nil {
			return err
		}
		defer sess.Close()

		sel := pipeline.Selection{Dependent: runDependent, Label: runLabel, Independent: runIndependent}
		out, err := sess.Workbench.Run(cmd.Context(), pipeline.Kind(args[0]), sel, runOpts)
		if err != nil {
			log.Debug("run failed", zap.Error(err), zap.String("category", string(pipeline.Classify(err))))
			if out != nil {
				// columns may be missing but the run was recorded
				out.Wait()
			}
			return errors.New(pipeline.UserMessage(err))
		}
		rep := out.Wait()

		stdout := cmd.OutOrStdout()
		fmt.Fprintf(stdout, "✓ Run %s: %s\n", rep.RunID, rep.Text)
		fmt.Fprintf(stdout, "  %d group(s), %d table(s) recorded\n", rep.Groups, rep.Tables)
		if len(rep.Columns) > 0 {
			fmt.Fprintf(stdout, "  columns written: %s\n", strings.Join(rep.Columns, ", "))
		}
		for _, m := range rep.Messages() {
			fmt.Fprintf(cmd.ErrOrStderr(), "⚠ %s\n", m)
		}
		if runShow {
			tree, err := ledger.BuildTree(cmd.Context(), sess.Results, rep.RunID)
			if err != nil {
				return err
			}
			fmt.Fprintln(stdout)
			fmt.Fprint(stdout, tree.Markdown(func(t ledger.OutputTable) string { return engine.RenderPayload(t.Payload) }))
		}
		return nil
	},
}

func kindList() string {
	kinds := pipeline.Kinds()
	names := make([]string, len(kinds))
	for i, k := range kinds {
		names[i] = string(k)
	}
	return strings.Join(names, ", ")
}

func init() {
	rootCmd.AddCommand(runCmd)
	f := runCmd.Flags()
	f.StringVarP(&runWorkspace, "workspace", "w", "", "workspace name or path")
	f.StringSliceVar(&runDependent, "dependent", nil, "dependent variable(s), comma separated")
	f.StringVar(&runLabel, "label", "", "label variable (time/period or grouping)")
	f.StringSliceVar(&runIndependent, "independent", nil, "independent variable(s) for regression")
	f.StringVar(&runOpts.Method, "method", "", "variant: moving_average|exponential, additive|multiplicative")
	f.IntVar(&runOpts.Window, "window", 0, "moving average window")
	f.Float64Var(&runOpts.Alpha, "alpha", 0, "exponential smoothing factor")
	f.IntVar(&runOpts.Period, "period", 0, "seasonal period")
	f.IntVar(&runOpts.Lags, "lags", 0, "number of lags for autocorrelation")
	f.IntVar(&runOpts.P, "p", 0, "ARIMA autoregressive order")
	f.IntVar(&runOpts.D, "d", 0, "ARIMA differencing order")
	f.IntVar(&runOpts.Q, "q", 0, "ARIMA moving-average order")
	f.IntVar(&runOpts.Horizon, "horizon", 0, "forecast horizon")
	f.BoolVar(&runOpts.Save, "save", false, "write derived series back to the dataset as new columns")
	f.BoolVar(&runShow, "show", false, "print the recorded tables")
}
