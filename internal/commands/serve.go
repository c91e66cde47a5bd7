// internal/commands/serve.go
package mcpdispatch

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/mwiater/mcpdispatch/internal/appconfig"
	"github.com/mwiater/mcpdispatch/internal/logging"
)

// serveCmd runs the transport selected by the configuration.
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve tools over the configured transport",
	Long: `The 'serve' command starts the tool server on the transport named by the
configuration (stdio by default). Use 'serve stdio' or 'serve http' to pick one
explicitly.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServer(cmd, "")
	},
}

// serveStdioCmd serves newline-delimited JSON-RPC on stdin/stdout.
var serveStdioCmd = &cobra.Command{
	Use:   "stdio",
	Short: "Serve JSON-RPC over stdin/stdout",
	Long:  `Reads one JSON-RPC message per line from stdin and writes each response as one line on stdout. Requests are handled in arrival order.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServer(cmd, appconfig.TransportStdio)
	},
}

// serveHTTPCmd serves JSON-RPC over HTTP.
var serveHTTPCmd = &cobra.Command{
	Use:   "http",
	Short: "Serve JSON-RPC over HTTP",
	Long:  `Starts the HTTP transport: POST /jsonrpc for calls, GET /tools for the catalog, GET /health and GET /metrics.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServer(cmd, appconfig.TransportHTTP)
	},
}

func init() {
	serveCmd.PersistentFlags().String("transport", "", "transport to serve: stdio or http")
	serveHTTPCmd.Flags().String("host", "", "interface to bind")
	serveHTTPCmd.Flags().Int("port", 0, "port to bind")

	serveCmd.AddCommand(serveStdioCmd)
	serveCmd.AddCommand(serveHTTPCmd)
	rootCmd.AddCommand(serveCmd)
}

// runServer builds the app and serves until EOF, SIGINT or SIGTERM. A build
// or bind failure is returned so the process exits non-zero.
func runServer(cmd *cobra.Command, transport string) error {
	if transport != "" {
		currentConfig.Transport = transport
	}
	app, err := buildApp()
	if err != nil {
		return err
	}

	parent := cmd.Context()
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger := logging.L()
	logger.Info("serving",
		zap.String("transport", app.Config.Transport),
		zap.String("version", appVersion),
		zap.Int("tools", app.Registry.Len()),
	)
	if err := app.Serve(ctx, cmd.InOrStdin(), cmd.OutOrStdout()); err != nil {
		logger.Error("server stopped", zap.Error(err))
		return err
	}
	logger.Info("server stopped")
	return nil
}
