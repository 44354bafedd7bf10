package main

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/warp/su-allocator/allocation"
)

func newConfigCmd(root *rootOptions, out io.Writer) *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Validate and show the active configuration",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			cfg, err := root.loadConfig()
			if err != nil {
				return err
			}
			return printConfig(out, cfg.Allocation)
		},
	}
}

func printConfig(out io.Writer, cfg allocation.Config) error {
	fmt.Fprintf(out, "Epoch: %04d Q%d\n", cfg.BaseYear, cfg.BaseQuarter)
	fmt.Fprintf(out, "Penalty factor: %s, past member weight: %s\n", cfg.PenaltyFactor, cfg.PastMemberWeight)

	fmt.Fprintln(out, "Periods:")
	for i, p := range cfg.Periods {
		share := "remaining supply"
		if p.Fraction != nil {
			share = p.Fraction.String() + " of remaining supply"
		}
		fmt.Fprintf(out, "  %d: from day %d, %s\n", i, p.StartDay, share)
	}

	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "\nPERSON\tCATEGORY\tWEIGHT")
	for _, p := range cfg.People {
		person := allocation.Person{ID: p.ID, Category: p.Category, WeightOverride: p.Weight, Past: p.Past}
		fmt.Fprintf(tw, "%s\t%s\t%s\n", p.ID, p.Category, cfg.DescribeWeight(person))
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	fmt.Fprintln(out, "\nGroups:")
	for _, g := range cfg.Groups {
		fmt.Fprintf(out, "  %s (leader %s)\n", g.ID, g.Leader)
	}
	return nil
}
