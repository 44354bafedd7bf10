package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"k8s.io/klog/v2"

	"github.com/warp/su-allocator/allocation"
	"github.com/warp/su-allocator/api"
	"github.com/warp/su-allocator/factory"
	"github.com/warp/su-allocator/generic"
	"github.com/warp/su-allocator/metrics"
	"github.com/warp/su-allocator/source"
)

type serveOptions struct {
	port int
	demo bool
}

func newServeCmd(root *rootOptions, out io.Writer) *cobra.Command {
	opts := &serveOptions{}
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP API and run scheduled ticks",
		Long: `Serve the HTTP API, Prometheus metrics and a tick scheduler.

The scheduler ticks once at startup and then every server.tickInterval;
an interval of 0 disables scheduled ticks. With --demo the server runs
on an in-memory source and in-memory state that can be switched between
demo scenarios over the API.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), root, opts, out)
		},
	}
	cmd.Flags().IntVar(&opts.port, "port", 0, "HTTP port (overrides server.port)")
	cmd.Flags().BoolVar(&opts.demo, "demo", false, "use an in-memory source and store with demo scenarios")
	return cmd
}

func runServe(ctx context.Context, root *rootOptions, opts *serveOptions, out io.Writer) error {
	cfg, err := root.loadConfig()
	if err != nil {
		return err
	}
	if opts.port != 0 {
		cfg.Server.Port = opts.port
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	collector, err := metrics.NewPrometheus(reg, "")
	if err != nil {
		return fmt.Errorf("failed to register metrics: %w", err)
	}

	bo := factory.BuildOptions{Metrics: collector}
	var demo *source.Static
	if opts.demo {
		cfg.Storage = factory.StorageConfig{Driver: factory.DriverMemory}
		demo, err = newDemoSource(cfg.Allocation)
		if err != nil {
			return err
		}
		bo.Source = demo
	}

	c, err := factory.Build(ctx, cfg, bo)
	if err != nil {
		return err
	}
	defer c.Close()

	scheduler := api.NewTickScheduler(c.Engine, c.RunLog)
	scheduler.Interval = cfg.Server.TickInterval
	handler := api.NewHandler(c.Engine, scheduler, c.RunLog, c.Store)
	handler.Demo = demo

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      api.NewRouter(handler, reg),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		klog.Infof("Server starting on http://localhost:%d", cfg.Server.Port)
		fmt.Fprintf(out, "API available at http://localhost:%d/api\n", cfg.Server.Port)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()
	scheduler.Start()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)

	select {
	case <-quit:
	case err, ok := <-serveErr:
		if ok {
			scheduler.Stop()
			return fmt.Errorf("server failed: %w", err)
		}
	}

	klog.Info("Shutting down server...")
	scheduler.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	klog.Info("Server stopped")
	return nil
}

// newDemoSource returns an empty static source with supply for the current
// quarter. Groups arrive through POST /api/scenarios/load.
func newDemoSource(cfg allocation.Config) (*source.Static, error) {
	now, err := allocation.NewClock(cfg, nil).Now()
	if err != nil {
		return nil, err
	}
	demo := source.NewStatic()
	demo.SetSupply(now.Quarter.Year, now.Quarter.QuarterOfYear, allocation.Supply{
		Total:     generic.SU(100000),
		Remaining: generic.SU(100000),
	})
	return demo, nil
}
