package cmd

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	cfgpkg "github.com/KaramelBytes/statloom-cli/internal/config"
	"github.com/KaramelBytes/statloom-cli/internal/dataset"
	"github.com/KaramelBytes/statloom-cli/internal/engine"
	"github.com/KaramelBytes/statloom-cli/internal/workspace"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "View or set StatLoom configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show effective configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := requireConfig()
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "workspaces_dir: %s\n", c.WorkspacesDir)
		fmt.Fprintf(out, "default_engine: %s\n", c.DefaultEngine)
		if c.RemoteEngineURL != "" {
			fmt.Fprintf(out, "remote_engine_url: %s\n", c.RemoteEngineURL)
		}
		if c.RemoteAPIKey != "" {
			fmt.Fprintf(out, "remote_api_key: %s\n", mask(c.RemoteAPIKey))
		}
		fmt.Fprintf(out, "http_timeout_sec: %d\n", c.HTTPTimeoutSec)
		fmt.Fprintf(out, "retry_max_attempts: %d\n", c.RetryMaxAttempts)
		fmt.Fprintf(out, "retry_base_delay_ms: %d\n", c.RetryBaseDelayMs)
		fmt.Fprintf(out, "retry_max_delay_ms: %d\n", c.RetryMaxDelayMs)
		fmt.Fprintf(out, "max_workers: %d\n", c.MaxWorkers)
		fmt.Fprintf(out, "task_timeout_sec: %d\n", c.TaskTimeoutSec)
		fmt.Fprintf(out, "result_store: %s\n", c.ResultStore)
		fmt.Fprintf(out, "column_packing: %s\n", c.ColumnPacking)
		fmt.Fprintf(out, "series_overflow: %s\n", c.SeriesOverflow)
		fmt.Fprintf(out, "serve_addr: %s\n", c.ServeAddr)
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a config value and save to disk",
	Long:  "Set a config value and save to disk. Keys: " + strings.Join(cfgpkg.Keys, ", "),
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, val := args[0], args[1]
		c, err := requireConfig()
		if err != nil {
			return err
		}
		switch key {
		case "workspaces_dir":
			c.WorkspacesDir = val
		case "default_engine":
			if _, ok := engine.GetEngine(val, engine.Config{}); !ok {
				return fmt.Errorf("invalid default_engine: %s (use one of %s)", val, strings.Join(engine.Names(), ", "))
			}
			c.DefaultEngine = val
		case "remote_engine_url":
			c.RemoteEngineURL = val
		case "remote_api_key":
			c.RemoteAPIKey = val
		case "http_timeout_sec", "retry_max_attempts", "retry_base_delay_ms", "retry_max_delay_ms", "max_workers", "task_timeout_sec":
			i, err := strconv.Atoi(val)
			if err != nil || i < 0 {
				return fmt.Errorf("invalid non-negative int for %s: %v", key, val)
			}
			setInt(c, key, i)
		case "result_store":
			if _, err := workspace.ParseResultStore(val); err != nil {
				return err
			}
			c.ResultStore = val
		case "column_packing":
			if _, err := dataset.ParsePacking(val); err != nil {
				return err
			}
			c.ColumnPacking = val
		case "series_overflow":
			if _, err := dataset.ParseOverflow(val); err != nil {
				return err
			}
			c.SeriesOverflow = val
		case "serve_addr":
			c.ServeAddr = val
		default:
			return fmt.Errorf("unknown key: %s", key)
		}
		if err := cfgpkg.Save(c, cfgFile); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), "✓ Saved config")
		return nil
	},
}

func setInt(c *cfgpkg.Global, key string, v int) {
	switch key {
	case "http_timeout_sec":
		c.HTTPTimeoutSec = v
	case "retry_max_attempts":
		c.RetryMaxAttempts = v
	case "retry_base_delay_ms":
		c.RetryBaseDelayMs = v
	case "retry_max_delay_ms":
		c.RetryMaxDelayMs = v
	case "max_workers":
		c.MaxWorkers = v
	case "task_timeout_sec":
		c.TaskTimeoutSec = v
	}
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
}

func mask(s string) string {
	if s == "" {
		return ""
	}
	if len(s) <= 6 {
		return "******"
	}
	return s[:3] + "****" + s[len(s)-3:]
}
