package main

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/sells-group/covid-loader/internal/metrics"
	"github.com/sells-group/covid-loader/internal/model"
	"github.com/sells-group/covid-loader/internal/server"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the upload server",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if servePort != 0 {
			cfg.Server.Port = servePort
		}
		if err := cfg.Validate("serve"); err != nil {
			return err
		}

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		srv := server.New(newLoader(st), st, server.Config{
			UploadDir:   cfg.Server.UploadDir,
			MaxUploadMB: cfg.Server.MaxUploadMB,
			Concurrency: cfg.Loader.Concurrency,
			DefaultMode: model.Mode(cfg.Loader.Mode),
			Metrics:     metrics.New(),
		})
		return srv.Serve(ctx, fmt.Sprintf(":%d", cfg.Server.Port))
	},
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}
