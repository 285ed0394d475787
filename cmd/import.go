package cmd

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/spf13/cobra"

	"github.com/KaramelBytes/statloom-cli/internal/dataset"
)

var (
	importWorkspace string
	importSheet     string
	importDelimiter string
	importDecimal   string
	importMaxRows   int
	importTypes     []string
)

var importCmd = &cobra.Command{
	Use:   "import <file.csv|file.tsv|file.xlsx>",
	Short: "Replace the workspace dataset with a CSV/TSV or XLSX file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		w, err := loadWorkspace(importWorkspace)
		if err != nil {
			return err
		}
		opt := dataset.DefaultImportOptions()
		if cmd.Flags().Changed("max-rows") {
			opt.MaxRows = importMaxRows
		}
		if importDelimiter != "" {
			d, err := singleRune("delimiter", importDelimiter)
			if err != nil {
				return err
			}
			opt.Delimiter = d
		}
		if importDecimal != "" {
			d, err := singleRune("decimal", importDecimal)
			if err != nil {
				return err
			}
			opt.Number.DecimalSeparator = d
		}
		if len(importTypes) > 0 {
			opt.Types = map[string]dataset.Kind{}
			for _, spec := range importTypes {
				name, kind, ok := strings.Cut(spec, "=")
				if !ok {
					return fmt.Errorf("invalid --type %q (use column=numeric|string|date)", spec)
				}
				k := dataset.Kind(strings.ToLower(strings.TrimSpace(kind)))
				switch k {
				case dataset.KindNumeric, dataset.KindString, dataset.KindDate:
				default:
					return fmt.Errorf("invalid kind %q for column %s", kind, name)
				}
				opt.Types[strings.TrimSpace(name)] = k
			}
		}
		ds, err := w.Import(cmd.Context(), args[0], opt, importSheet)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "✓ Imported %d rows, %d columns into %s\n", ds.RowCount(), len(ds.LiveColumns()), w.Name)
		return nil
	},
}

func singleRune(flag, s string) (rune, error) {
	if s == `\t` || strings.EqualFold(s, "tab") {
		return '\t', nil
	}
	if utf8.RuneCountInString(s) != 1 {
		return 0, fmt.Errorf("--%s must be a single character", flag)
	}
	r, _ := utf8.DecodeRuneInString(s)
	return r, nil
}

func init() {
	rootCmd.AddCommand(importCmd)
	importCmd.Flags().StringVarP(&importWorkspace, "workspace", "w", "", "workspace name or path")
	importCmd.Flags().StringVar(&importSheet, "sheet", "", "XLSX sheet name (default first sheet)")
	importCmd.Flags().StringVar(&importDelimiter, "delimiter", "", "CSV delimiter (default detected)")
	importCmd.Flags().StringVar(&importDecimal, "decimal", "", "decimal separator (default detected per value)")
	importCmd.Flags().IntVar(&importMaxRows, "max-rows", 0, "max data rows to import (0 = unlimited)")
	importCmd.Flags().StringSliceVar(&importTypes, "type", nil, "force a column kind, e.g. --type month=string")
}
