package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/FranksOps/scout/internal/dork"
	"github.com/FranksOps/scout/internal/report"
	"github.com/FranksOps/scout/internal/storage"
	"github.com/spf13/cobra"
)

func newReportCmd() *cobra.Command {
	var (
		dsn    string
		format string
		runID  string
		since  time.Duration
		limit  int
	)

	cmd := &cobra.Command{
		Use:   "report",
		Short: "Summarize records kept in a record store",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if dsn == "" {
				return usageError(errors.New("--store is required"))
			}
			f, err := report.ParseFormat(format)
			if err != nil {
				return usageError(err)
			}

			store, err := openStore(cmd.Context(), dsn)
			if err != nil {
				return failureError(err)
			}
			defer store.Close()

			filter := storage.Filter{RunID: runID, Limit: limit}
			if since > 0 {
				t := time.Now().Add(-since)
				filter.Since = &t
			}
			recs, err := store.Query(cmd.Context(), filter)
			if err != nil {
				return failureError(err)
			}
			return report.Write(cmd.OutOrStdout(), f, report.GenerateSummary(recs))
		},
	}

	fs := cmd.Flags()
	fs.StringVar(&dsn, "store", "", "record store: .csv, .json, sqlite:PATH or postgres:// DSN")
	fs.StringVar(&format, "format", string(report.FormatText), "output format: text, json or html")
	fs.StringVar(&runID, "run-id", "", "only records from this run")
	fs.DurationVar(&since, "since", 0, "only records newer than this age")
	fs.IntVar(&limit, "limit", 0, "at most this many of the newest records (0 = all)")
	return cmd
}

func newDorksCmd() *cobra.Command {
	var domain, cms string

	cmd := &cobra.Command{
		Use:   "dorks",
		Short: "Print the search queries a run would issue",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			suffix, err := dork.NormalizeSuffix(domain)
			if err != nil {
				return usageError(err)
			}
			profile, err := dork.Lookup(cms)
			if err != nil {
				return usageError(err)
			}
			for _, q := range profile.Generate(suffix) {
				fmt.Fprintln(cmd.OutOrStdout(), q)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&domain, "domain", "d", "", "domain suffix, e.g. or.id")
	cmd.Flags().StringVar(&cms, "cms", "wordpress", "dork profile")
	return cmd
}
