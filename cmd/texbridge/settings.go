package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/shehryarbajwa/texbridge/internal/settings"
)

var settingsCmd = &cobra.Command{
	Use:   "settings",
	Short: "Show or change client settings",
}

var settingsShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective settings",
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := openSettings()
		if err != nil {
			return err
		}
		cfg := st.Get()
		if cfg.AuthToken != "" {
			cfg.AuthToken = "********"
		}
		if cfg.HostCookie != "" {
			cfg.HostCookie = "********"
		}
		data, err := yaml.Marshal(cfg)
		if err != nil {
			return err
		}
		fmt.Printf("# %s\n%s", st.Path(), data)
		return nil
	},
}

var settingsSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Change one setting (keys as in settings show)",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := openSettings()
		if err != nil {
			return err
		}
		if err := st.Set(args[0], args[1]); err != nil {
			return err
		}
		fmt.Printf("✅ %s updated\n", args[0])
		return nil
	},
}

var settingsResetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Restore default settings",
	RunE: func(cmd *cobra.Command, args []string) error {
		path, err := settingsPath()
		if err != nil {
			return err
		}
		if err := settings.New(path).Reset(); err != nil {
			return err
		}
		fmt.Println("✅ Settings reset")
		return nil
	},
}

func init() {
	settingsCmd.AddCommand(settingsShowCmd, settingsSetCmd, settingsResetCmd)
	rootCmd.AddCommand(settingsCmd)
}
