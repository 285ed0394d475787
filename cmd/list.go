package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/KaramelBytes/statloom-cli/internal/workspace"
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List workspaces",
	RunE: func(cmd *cobra.Command, args []string) error {
		root, err := defaultWorkspacesDir()
		if err != nil {
			return err
		}
		dirs, err := os.ReadDir(root)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		found := false
		for _, e := range dirs {
			if !e.IsDir() {
				continue
			}
			w, err := workspace.Load(filepath.Join(root, e.Name()))
			if err != nil {
				continue
			}
			found = true
			line := "- " + e.Name()
			if w.Description != "" {
				line += ": " + w.Description
			}
			if w.Source != "" {
				line += fmt.Sprintf(" [%s]", filepath.Base(w.Source))
			}
			fmt.Fprintln(out, line)
		}
		if !found {
			fmt.Fprintln(out, "(no workspaces)")
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(listCmd)
}
