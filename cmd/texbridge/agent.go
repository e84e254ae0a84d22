package main

import (
	"context"
	"log"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/shehryarbajwa/texbridge/internal/agent"
	"github.com/shehryarbajwa/texbridge/internal/transport"
)

var (
	flagAddr     string
	flagMaxFrame int
)

var agentCmd = &cobra.Command{
	Use:   "agent",
	Short: "Run the agent that forwards compiles from the channel to compile servers",
	RunE: func(cmd *cobra.Command, args []string) error {
		srv := &http.Server{
			Addr:        flagAddr,
			Handler:     agent.NewServer(agent.New(), flagMaxFrame).SetupRoutes(),
			ReadTimeout: 15 * time.Second,
			IdleTimeout: 60 * time.Second,
		}

		errc := make(chan error, 1)
		go func() {
			log.Printf("🚀 Agent listening on ws://%s/v1/channel", flagAddr)
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				errc <- err
			}
			close(errc)
		}()

		select {
		case err := <-errc:
			return err
		case <-cmd.Context().Done():
		}

		log.Println("⏳ Shutting down agent...")
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			return err
		}
		log.Println("✅ Agent stopped cleanly")
		return nil
	},
}

func init() {
	agentCmd.Flags().StringVar(&flagAddr, "addr", "127.0.0.1:8766", "listen address")
	agentCmd.Flags().IntVar(&flagMaxFrame, "max-frame", transport.DefaultMaxFrame, "largest frame accepted on the channel, in bytes")
	rootCmd.AddCommand(agentCmd)
}
