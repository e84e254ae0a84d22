package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/shehryarbajwa/texbridge/internal/dispatch"
	"github.com/shehryarbajwa/texbridge/internal/entitlement"
	"github.com/shehryarbajwa/texbridge/internal/settings"
)

var (
	flagOut    string
	flagMain   string
	flagEngine string
)

var compileCmd = &cobra.Command{
	Use:   "compile",
	Short: "Sync the project and compile it once",
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

		out, rel := outputPath(a.dir, flagOut, flagMain)
		d, err := a.dispatcher(ctx, excludeList(rel))
		if err != nil {
			return err
		}

		fmt.Printf("Compiling %s...\n", a.dir)
		start := time.Now()
		res, err := metered(acct, d.Compile, a.request())(ctx)
		if err != nil {
			return userError(err)
		}
		return writeResult(res, out, time.Since(start))
	},
}

func (a *app) request() dispatch.Request {
	return dispatch.Request{ProjectID: a.projectID, MainFile: flagMain, Engine: flagEngine}
}

// accountClient returns the entitlement client, or nil when no account
// service is configured
func accountClient(s settings.Settings) (*entitlement.Client, error) {
	if s.AccountURL == "" {
		return nil, nil
	}
	return entitlement.NewClient(s.AccountURL, s.AuthToken)
}

type compileFunc func(ctx context.Context, req dispatch.Request) (*dispatch.Result, error)

// metered consumes one compile from the account before every dispatch. A
// nil client dispatches directly.
func metered(acct *entitlement.Client, compile compileFunc, req dispatch.Request) func(context.Context) (*dispatch.Result, error) {
	return func(ctx context.Context) (*dispatch.Result, error) {
		if acct != nil {
			if _, err := acct.Authorize(ctx); err != nil {
				return nil, quotaError(err)
			}
		}
		return compile(ctx, req)
	}
}

// quotaError separates an exhausted subscription from other failures of the
// account service
func quotaError(err error) error {
	if errors.Is(err, entitlement.ErrNotAuthorized) {
		return fmt.Errorf("no compiles left on this account: %w", err)
	}
	return fmt.Errorf("account check failed: %w", err)
}

func writeResult(res *dispatch.Result, out string, elapsed time.Duration) error {
	if err := os.WriteFile(out, res.PDF, 0o644); err != nil {
		return fmt.Errorf("write pdf: %w", err)
	}
	via := string(res.ServerMode)
	if res.Fallback {
		via += " (fallback)"
	}
	fmt.Printf("✅ Compiled via %s %s in %s\n", via, res.ServerURL, elapsed.Round(time.Millisecond))
	fmt.Printf("  Sync:   %d changed, %d deleted", res.Changed, res.Deleted)
	if res.Recovered {
		fmt.Print(", resent in full")
	}
	fmt.Println()
	fmt.Printf("  Output: %s (%s)\n", out, humanize.Bytes(uint64(len(res.PDF))))
	return nil
}

// userError renders a dispatch failure as its user-facing message
func userError(err error) error {
	var derr *dispatch.Error
	if errors.As(err, &derr) {
		return errors.New(derr.UserMessage())
	}
	return err
}

func init() {
	for _, c := range []*cobra.Command{compileCmd, watchCmd} {
		c.Flags().StringVar(&flagOut, "out", "", "output PDF (default <main>.pdf in the project directory)")
		c.Flags().StringVar(&flagMain, "main", "", "main .tex file relative to the project (default discovered by the server)")
		c.Flags().StringVar(&flagEngine, "engine", "", "LaTeX engine (default from settings)")
	}
	rootCmd.AddCommand(compileCmd)
}
