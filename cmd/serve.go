package cmd

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/KaramelBytes/statloom-cli/internal/server"
)

var (
	serveWorkspace string
	serveAddr      string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the workspace over HTTP and WebSocket",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := requireConfig()
		if err != nil {
			return err
		}
		w, err := loadWorkspace(serveWorkspace)
		if err != nil {
			return err
		}
		addr := serveAddr
		if addr == "" {
			addr = c.ServeAddr
		}
		log := newLogger()
		defer func() { _ = log.Sync() }()

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		hub := server.NewHub(log)
		hubCtx, stopHub := context.WithCancel(context.Background())
		defer stopHub()
		go hub.Run(hubCtx)

		sess, err := w.Open(ctx, c, log, hub)
		if err != nil {
			return err
		}
		defer sess.Close()

		srv, err := server.New(server.Config{
			Workbench: sess.Workbench,
			Results:   sess.Results,
			Hub:       hub,
			Gatherer:  sess.Registry,
			Logger:    log,
		})
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "✓ Serving %s on http://%s\n", w.Name, addr)
		return srv.Start(ctx, addr)
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringVarP(&serveWorkspace, "workspace", "w", "", "workspace name or path")
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "listen address (default from config serve_addr)")
}
