package main

import (
	"time"

	"github.com/spf13/cobra"

	"github.com/leoscope/leoscope/internal/monitors"
)

func newMonitorCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "monitor",
		Short: "Local debug tools for the trigger-monitor sources",
	}
	cmd.AddCommand(newMonitorReplayCmd())
	return cmd
}

// newMonitorReplayCmd drives a satellite fixture file through
// monitors.ReplaySource entirely locally, with no coordinator or node
// agent involved, so an operator can sanity-check a trigger expression
// against canned dish readings before wiring it into a real job.
func newMonitorReplayCmd() *cobra.Command {
	var fixture string
	var count int
	var interval time.Duration

	cmd := &cobra.Command{
		Use:   "replay",
		Short: "Replay a canned satellite fixture and print each reading",
		RunE: func(cmd *cobra.Command, args []string) error {
			if fixture == "" {
				return badInput("--fixture is required")
			}
			source, err := monitors.NewSatelliteReplaySource(fixture)
			if err != nil {
				return badInput("loading fixture: %v", err)
			}

			ctx := cmd.Context()
			for i := 0; i < count; i++ {
				readings, err := source.Read(ctx)
				if err != nil {
					return badInput("reading fixture entry %d: %v", i, err)
				}
				if err := printJSON(readings); err != nil {
					return err
				}
				if i < count-1 && interval > 0 {
					select {
					case <-time.After(interval):
					case <-ctx.Done():
						return nil
					}
				}
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&fixture, "fixture", "", "path to a newline-delimited JSON satellite fixture (required)")
	cmd.Flags().IntVar(&count, "count", 1, "number of readings to replay")
	cmd.Flags().DurationVar(&interval, "interval", time.Second, "delay between readings")
	cmd.MarkFlagRequired("fixture")
	return cmd
}
