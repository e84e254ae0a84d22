package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/shehryarbajwa/texbridge/internal/delta"
)

var hashesCmd = &cobra.Command{
	Use:   "hashes",
	Short: "Inspect or reset the stored content hashes of a project",
}

var hashesShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print how many files the last sync recorded",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.close()

		record, err := delta.NewSynchronizer(a.store).Stored(a.projectID)
		if err != nil {
			return err
		}
		fmt.Printf("Project %s: %d files recorded\n", a.projectID, len(record))
		return nil
	},
}

var hashesClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Forget stored hashes so the next compile sends every file",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.close()

		if err := delta.NewSynchronizer(a.store).Reset(a.projectID); err != nil {
			return err
		}
		fmt.Printf("✅ Hashes cleared for %s\n", a.projectID)
		return nil
	},
}

func init() {
	hashesCmd.AddCommand(hashesShowCmd, hashesClearCmd)
	rootCmd.AddCommand(hashesCmd)
}
