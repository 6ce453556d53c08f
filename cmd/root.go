// Package cmd is the command line entry point: an interactive chat loop, the
// HTTP server and chat history management.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	configx "github.com/tanpawarit/grooming-reservation-agent/pkg/config"
	logx "github.com/tanpawarit/grooming-reservation-agent/pkg/logger"
)

var rootCmd = &cobra.Command{
	Use:           "grooming-agent",
	Short:         "Pet grooming reservation assistant",
	Long:          `Routes customer messages to a reservation or service-menu assistant and asks for confirmation before any booking is changed.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
		envFile, _ := cmd.Flags().GetString("env")
		configx.SetEnvFile(envFile)

		logCfg, err := configx.New[logx.Config]("LOG")
		if err != nil {
			return err
		}
		if debug, _ := cmd.Flags().GetBool("debug"); debug {
			logCfg.Debug = true
		}
		logx.Init(*logCfg)
		return nil
	},
}

// Execute runs the root command and exits non-zero on failure.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().String("env", "", "path to a .env file (default ./.env when present)")
	rootCmd.PersistentFlags().Bool("debug", false, "enable debug logging")
}
