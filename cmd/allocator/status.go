package main

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/warp/su-allocator/allocation"
	"github.com/warp/su-allocator/factory"
)

func newStatusCmd(root *rootOptions, out io.Writer) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the persisted clock and current allocations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := root.loadConfig()
			if err != nil {
				return err
			}
			st, closer, err := factory.OpenStore(cfg.Storage)
			if err != nil {
				return err
			}
			if closer != nil {
				defer closer.Close()
			}
			return printStatus(cmd, allocation.NewRepository(st), out)
		},
	}
}

func printStatus(cmd *cobra.Command, repo *allocation.Repository, out io.Writer) error {
	ctx := cmd.Context()

	clock, err := repo.LoadClock(ctx)
	if err != nil {
		return err
	}
	if clock == nil {
		fmt.Fprintln(out, "No state yet; run a tick first.")
		return nil
	}
	fmt.Fprintf(out, "Clock: %s, day %d, period %d (updated %s)\n",
		clock.Quarter, clock.DayOffset, clock.PeriodIndex, clock.UpdatedAt.Format("2006-01-02 15:04"))

	q, err := repo.LoadQuarter(ctx, clock.Quarter)
	if err != nil {
		return err
	}
	if q == nil {
		fmt.Fprintf(out, "No record for %s\n", clock.Quarter.Name())
		return nil
	}
	fmt.Fprintf(out, "Supply: %s total, %s remaining at quarter start\n", q.TotalSupply, q.RemainingSupply)

	p := q.Period(clock.PeriodIndex)
	if p == nil {
		fmt.Fprintf(out, "Period %d not allocated\n", clock.PeriodIndex)
		return nil
	}
	fmt.Fprintf(out, "Period %d %s\n\n", p.Index, p.Dates)

	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "GROUP\tLEADER\tBUDGET\tUSAGE\tUSED\tPENALTY")
	for _, id := range p.GroupIDs() {
		rec := p.Groups[id]
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s%%\t%s\n",
			rec.GroupID, rec.Leader, rec.Budget, rec.Usage, rec.UsagePercent().StringFixed(1), rec.PenaltyNew)
	}
	return tw.Flush()
}
