package cmd

import (
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/visekai/tessellate/internal/server"
)

// serveCmd represents the serve command.
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start HTTP server for the OCR job API",
	Long: `Start an HTTP server that provides REST API endpoints for asynchronous
OCR job processing.

The server provides the following endpoints:
  POST   /api/v1/jobs            - Submit an image for processing
  GET    /api/v1/jobs            - List jobs
  GET    /api/v1/jobs/{id}       - Get job status and result
  DELETE /api/v1/jobs/{id}       - Cancel a job
  GET    /api/v1/jobs/{id}/watch - WebSocket job status stream
  GET    /health                 - Health check endpoint
  GET    /metrics                - Prometheus metrics

Examples:
  tessellate serve
  tessellate serve --port 8080
  tessellate serve --host 0.0.0.0 --port 3000`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := GetConfig()

		host := cfg.Server.Host
		if cmd.Flags().Changed("host") {
			host, _ = cmd.Flags().GetString("host")
		}
		port := cfg.Server.Port
		if cmd.Flags().Changed("port") {
			port, _ = cmd.Flags().GetInt("port")
		}

		pipeline, err := buildPipeline(cfg)
		if err != nil {
			return err
		}
		defer pipeline.Close()

		serverCfg := server.Config{
			Host:            host,
			Port:            port,
			CORSOrigin:      cfg.Server.CORSOrigin,
			MaxUploadMB:     int64(cfg.Server.MaxUploadMB),
			TimeoutSec:      cfg.Server.TimeoutSec,
			ShutdownTimeout: cfg.Server.ShutdownTimeout,
		}
		srv, err := server.New(pipeline.Scheduler, serverCfg)
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		return server.Run(ctx, srv, serverCfg)
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().String("host", "localhost", "host to bind the server to")
	serveCmd.Flags().IntP("port", "p", 8080, "port to bind the server to")
}
