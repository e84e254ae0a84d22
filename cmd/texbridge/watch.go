package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/shehryarbajwa/texbridge/internal/dispatch"
	"github.com/shehryarbajwa/texbridge/internal/watch"
)

var flagDebounce time.Duration

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Recompile whenever project files change",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.close()

		ctx := cmd.Context()
		acct, err := accountClient(a.settings.Get())
		if err != nil {
			return err
		}
		if acct != nil {
			if _, err := acct.Check(ctx); err != nil {
				return quotaError(err)
			}
		}

		out, rel := outputPath(a.dir, flagOut, flagMain)
		d, err := a.dispatcher(ctx, excludeList(rel))
		if err != nil {
			return err
		}

		compile := metered(acct, d.Compile, a.request())
		var started time.Time
		w := &watch.Watcher{
			Root:     a.dir,
			Exclude:  excludeList(rel),
			Debounce: flagDebounce,
			Compile: func(ctx context.Context) (*dispatch.Result, error) {
				started = time.Now()
				return compile(ctx)
			},
			OnResult: func(res *dispatch.Result, err error) {
				if err != nil {
					fmt.Fprintln(os.Stderr, "❌", userError(err))
					return
				}
				if err := writeResult(res, out, time.Since(started)); err != nil {
					fmt.Fprintln(os.Stderr, "❌", err)
				}
			},
		}

		fmt.Printf("Watching %s (Ctrl-C to stop)\n", a.dir)
		return w.Run(ctx)
	},
}

func init() {
	watchCmd.Flags().DurationVar(&flagDebounce, "debounce", watch.DefaultDebounce, "quiet period before recompiling")
	rootCmd.AddCommand(watchCmd)
}
