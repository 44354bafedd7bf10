/*
main.go - Allocator command line

PURPOSE:
  Single binary for operating the allocator: one-shot ticks from cron,
  inspection of the active configuration and persisted state, and a
  long-running HTTP server with a built-in tick scheduler.

COMMANDS:
  tick     Run one tick (--dry-run renders drafts and persists nothing)
  status   Show the persisted clock and the active period's allocations
  config   Show the period table, roster weights and groups
  serve    HTTP API, /metrics and scheduled ticks

EXAMPLES:
  # Hourly from cron
  allocator tick --config /etc/allocator.yaml

  # Preview what the next tick would send
  allocator tick --dry-run -v=2

  # Demo server on an in-memory source
  allocator serve --demo --port 3000

SEE ALSO:
  - factory/config.go: Configuration file format
  - api/server.go: Routes served by "serve"
*/
package main

import (
	"context"
	goflag "flag"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"k8s.io/klog/v2"

	"github.com/warp/su-allocator/factory"
)

func main() {
	os.Exit(Execute(os.Args[1:], os.Stdout, os.Stderr))
}

// Execute runs the root command and returns the process exit code.
func Execute(args []string, out, errOut io.Writer) int {
	defer klog.Flush()

	cmd := NewRootCmd(out, errOut)
	cmd.SetArgs(args)
	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(errOut, "error: %v\n", err)
		return 1
	}
	return 0
}

type rootOptions struct {
	configPath string
}

// NewRootCmd builds the command tree. klog flags (-v, --logtostderr, ...)
// are available on every subcommand.
func NewRootCmd(out, errOut io.Writer) *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:           "allocator",
		Short:         "Quarterly compute-time allocator for research groups",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.SetOut(out)
	cmd.SetErr(errOut)

	cmd.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "allocator.yaml", "path to the configuration file")

	klogFlags := goflag.NewFlagSet("klog", goflag.ContinueOnError)
	klog.InitFlags(klogFlags)
	cmd.PersistentFlags().AddGoFlagSet(klogFlags)

	cmd.AddCommand(newTickCmd(opts, out))
	cmd.AddCommand(newStatusCmd(opts, out))
	cmd.AddCommand(newConfigCmd(opts, out))
	cmd.AddCommand(newServeCmd(opts, out))
	return cmd
}

func (o *rootOptions) loadConfig() (*factory.Config, error) {
	return factory.LoadConfig(o.configPath)
}

func (o *rootOptions) build(ctx context.Context, bo factory.BuildOptions) (*factory.Components, error) {
	cfg, err := o.loadConfig()
	if err != nil {
		return nil, err
	}
	return factory.Build(ctx, cfg, bo)
}
