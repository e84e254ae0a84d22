package main

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/shehryarbajwa/texbridge/internal/health"
	"github.com/shehryarbajwa/texbridge/internal/selector"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Probe the configured compile servers and show which one would be used",
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := openSettings()
		if err != nil {
			return err
		}
		cfg := st.Get()
		policy := cfg.Policy()
		monitor := health.NewMonitor(health.DefaultTimeout)
		ctx := cmd.Context()

		fmt.Printf("Settings: %s\n", st.Path())
		printProbe("local", policy.LocalURL, monitor.Probe(ctx, policy.LocalURL, ""))
		if policy.CloudURL != "" {
			printProbe("cloud", policy.CloudURL, monitor.Probe(ctx, policy.CloudURL, policy.AuthToken))
		} else {
			fmt.Println("  cloud  not configured")
		}

		sel, err := selector.New(monitor).Select(ctx, policy)
		if errors.Is(err, selector.ErrNoServer) {
			fmt.Println("❌", err)
			return nil
		}
		if err != nil {
			return err
		}
		note := ""
		if sel.Fallback {
			note = " (fallback)"
		}
		fmt.Printf("Compiles go to %s %s%s\n", sel.Server.Mode, sel.Server.URL, note)
		return nil
	},
}

func printProbe(name, url string, res health.Result) {
	state := "offline"
	if res.Online {
		state = "online"
	}
	line := fmt.Sprintf("  %-6s %-8s %s", name, state, url)
	if len(res.Capabilities) > 0 {
		line += "  [" + strings.Join(res.Capabilities, ", ") + "]"
	}
	fmt.Println(line)
}

func init() {
	rootCmd.AddCommand(statusCmd)
}
