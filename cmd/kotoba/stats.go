package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/pario-ai/kotoba/pkg/config"
	"github.com/pario-ai/kotoba/pkg/tracker"
)

func newStatsCmd() *cobra.Command {
	var (
		configPath string
		since      time.Duration
		recent     int
	)

	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show upstream call statistics from the ledger",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}

			tr, err := tracker.New(cfg.DBPath)
			if err != nil {
				return err
			}
			defer tr.Close()

			ctx := context.Background()

			if recent > 0 {
				records, err := tr.Recent(ctx, recent)
				if err != nil {
					return err
				}
				if len(records) == 0 {
					fmt.Println("No calls recorded.")
					return nil
				}
				w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
				fmt.Fprintln(w, "TIME\tREQUEST ID\tOPERATION\tTYPE\tOUTCOME\tCATEGORY\tATTEMPTS\tLATENCY\tTOKENS")
				for _, r := range records {
					fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%d\t%dms\t%d\n",
						r.CreatedAt.Local().Format("2006-01-02T15:04:05"), dash(r.RequestID), r.Operation, dash(r.AnalysisType),
						r.Outcome, dash(r.Category), r.Attempts, r.LatencyMs, r.TotalTokens)
				}
				return w.Flush()
			}

			summaries, err := tr.Summary(ctx, time.Now().Add(-since))
			if err != nil {
				return err
			}
			if len(summaries) == 0 {
				fmt.Println("No calls recorded.")
				return nil
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "OPERATION\tOUTCOME\tCATEGORY\tCALLS\tAVG ATTEMPTS\tAVG LATENCY\tTOKENS")
			for _, s := range summaries {
				fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%.2f\t%.0fms\t%d\n",
					s.Operation, s.Outcome, dash(s.Category), s.Count, s.AvgAttempts, s.AvgLatencyMs, s.TotalTokens)
			}
			return w.Flush()
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "kotoba.yaml", "path to config file")
	cmd.Flags().DurationVar(&since, "since", 24*time.Hour, "summarize calls newer than this")
	cmd.Flags().IntVar(&recent, "recent", 0, "list the N most recent calls instead of a summary")
	return cmd
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
