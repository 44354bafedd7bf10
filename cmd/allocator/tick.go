package main

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/warp/su-allocator/allocation"
	"github.com/warp/su-allocator/api"
	"github.com/warp/su-allocator/factory"
)

type tickOptions struct {
	dryRun bool
	at     string
}

func newTickCmd(root *rootOptions, out io.Writer) *cobra.Command {
	opts := &tickOptions{}
	cmd := &cobra.Command{
		Use:   "tick",
		Short: "Run one allocation tick",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runTick(cmd, root, opts, out)
		},
	}
	cmd.Flags().BoolVar(&opts.dryRun, "dry-run", false, "compute and render drafts without persisting state")
	cmd.Flags().StringVar(&opts.at, "at", "", "evaluate at this date (YYYY-MM-DD) instead of now")
	return cmd
}

func runTick(cmd *cobra.Command, root *rootOptions, opts *tickOptions, out io.Writer) error {
	ctx := cmd.Context()

	tickOpts := allocation.TickOptions{DryRun: opts.dryRun}
	if opts.at != "" {
		at, err := time.ParseInLocation("2006-01-02", opts.at, time.Local)
		if err != nil {
			return fmt.Errorf("invalid --at date %q: %w", opts.at, err)
		}
		tickOpts.At = at
	}

	c, err := root.build(ctx, factory.BuildOptions{})
	if err != nil {
		return err
	}
	defer c.Close()

	scheduler := api.NewTickScheduler(c.Engine, c.RunLog)
	report, _, err := scheduler.RunTick(ctx, tickOpts)
	if err != nil {
		return err
	}
	printReport(out, report)
	return nil
}

func printReport(out io.Writer, r *allocation.TickReport) {
	mode := ""
	if r.DryRun {
		mode = " (dry run)"
	}
	fmt.Fprintf(out, "Tick %s%s\n", r.RunID, mode)
	fmt.Fprintf(out, "  %s, day %d, period %d %s\n", r.Now.Quarter, r.Now.DayOffset, r.Now.PeriodIndex, r.Now.Period)
	fmt.Fprintf(out, "  new quarter: %t  new period: %t  rollover: %t  refreshed: %t\n",
		r.NewQuarter, r.NewPeriod, r.Rollover, r.Refreshed)

	if len(r.Events) > 0 {
		fmt.Fprintln(out, "  events:")
		for _, ev := range r.Events {
			draft := ""
			if ev.IsDraft() {
				draft = " [draft]"
			}
			fmt.Fprintf(out, "    %-22s %-20s %s%s\n", ev.Kind(), ev.GroupID(), eventDetail(ev), draft)
		}
	}
	if len(r.Warnings) > 0 {
		fmt.Fprintln(out, "  warnings:")
		for _, w := range r.Warnings {
			fmt.Fprintf(out, "    %s\n", w)
		}
	}
	if len(r.Persisted) > 0 {
		fmt.Fprintf(out, "  persisted: %s\n", strings.Join(r.Persisted, ", "))
	}
}

func eventDetail(ev allocation.Event) string {
	switch e := ev.(type) {
	case allocation.NewPeriodAllocation:
		return "budget " + e.Record.Budget.String()
	case allocation.UsageWarning:
		return fmt.Sprintf("usage %s of %s", e.NewUsage, e.Record.Budget)
	}
	return ""
}
