// Command scout discovers sites built on a given CMS inside a domain suffix
// through search dorks, then stores the visible text of every site it has
// not seen before.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Set with -ldflags at build time.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

// Exit codes.
const (
	exitOK          = 0
	exitFailure     = 1
	exitUsage       = 2
	exitInterrupted = 130
)

// exitError carries a process exit code up to main.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string { return e.err.Error() }
func (e *exitError) Unwrap() error { return e.err }

func usageError(err error) error   { return &exitError{code: exitUsage, err: err} }
func failureError(err error) error { return &exitError{code: exitFailure, err: err} }

func main() {
	os.Exit(execute(context.Background(), os.Args[1:]))
}

func execute(ctx context.Context, args []string) int {
	root := newRootCmd()
	root.SetArgs(args)

	err := root.ExecuteContext(ctx)
	if err == nil {
		return exitOK
	}

	code := exitFailure
	var ee *exitError
	if errors.As(err, &ee) {
		code = ee.code
	}
	if code != exitInterrupted {
		fmt.Fprintf(root.ErrOrStderr(), "Error: %v\n", err)
	}
	return code
}

func newRootCmd() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:   "scout",
		Short: "Discover CMS sites in a domain suffix and collect their text",
		Long: `scout expands a CMS dork profile for a domain suffix, runs the queries
against the Custom Search API (falling back to the public results page when
the API finds nothing), and fetches every root domain not already in the
seen-domain ledger.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runScout(cmd, configPath)
		},
	}
	root.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return usageError(err)
	})

	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file (default ./scout.yaml if present)")
	registerRunFlags(root)

	root.AddCommand(newReportCmd(), newDorksCmd(), newVersionCmd())
	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print build information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "scout %s (commit %s, built %s)\n", version, commit, date)
		},
	}
}
