package cmd

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/tanpawarit/grooming-reservation-agent/agent/server"
	configx "github.com/tanpawarit/grooming-reservation-agent/pkg/config"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API",
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := configx.New[server.Config]("SERVER")
		if err != nil {
			return err
		}
		if addr, _ := cmd.Flags().GetString("addr"); addr != "" {
			cfg.Addr = addr
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		a, err := bootstrap(ctx)
		if err != nil {
			return err
		}
		defer a.close()

		handler := server.NewHandler(a.orchestrator, *cfg,
			server.WithVerifier(a.qstash),
			server.WithMetricsHandler(a.metrics.Handler()),
		)
		return server.Serve(ctx, handler, *cfg)
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().String("addr", "", "listen address, overrides SERVER_ADDR")
}

