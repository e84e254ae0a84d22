package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var (
	flagConfig  string
	flagDir     string
	flagProject string
	flagAgent   string
)

var rootCmd = &cobra.Command{
	Use:          "texbridge",
	Short:        "Incremental LaTeX sync and compile dispatch to local or cloud servers",
	SilenceUsage: true,
}

func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagConfig, "config", "", "settings file (default <config dir>/texbridge/settings.yaml)")
	rootCmd.PersistentFlags().StringVar(&flagDir, "dir", ".", "project directory")
	rootCmd.PersistentFlags().StringVar(&flagProject, "project", "", "project id (default derived from --dir)")
	rootCmd.PersistentFlags().StringVar(&flagAgent, "agent", "", "agent URL to send through (default an in-process agent)")
}
