package factory

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/hashicorp/go-multierror"

	"github.com/warp/su-allocator/allocation"
	"github.com/warp/su-allocator/generic"
	"github.com/warp/su-allocator/generic/store"
	"github.com/warp/su-allocator/metrics"
	"github.com/warp/su-allocator/notify"
	"github.com/warp/su-allocator/source"
	"github.com/warp/su-allocator/store/fs"
	"github.com/warp/su-allocator/store/sqlite"
)

// =============================================================================
// COMPONENTS - Everything a command needs, built from one Config
// =============================================================================

// Components are the wired collaborators of one allocator process.
type Components struct {
	Config   *Config
	Store    generic.Store
	RunLog   generic.RunLog
	Source   allocation.Source
	Renderer *notify.Renderer
	Outbox   *notify.Outbox
	Engine   *allocation.Engine

	closers []io.Closer
}

// BuildOptions override parts of the wiring.
type BuildOptions struct {
	Source  allocation.Source // replaces the configured source file
	Metrics metrics.Collector
	Now     func() time.Time
}

// Build opens the store and wires source, outbox and engine.
func Build(ctx context.Context, cfg *Config, opts BuildOptions) (*Components, error) {
	c := &Components{Config: cfg, Source: opts.Source}

	st, closer, err := OpenStore(cfg.Storage)
	if err != nil {
		return nil, err
	}
	c.Store = st
	if closer != nil {
		c.closers = append(c.closers, closer)
	}
	if rl, ok := st.(generic.RunLog); ok {
		c.RunLog = rl
	} else {
		c.RunLog = store.NewMemory()
	}

	if c.Source == nil {
		if cfg.Source.File == "" {
			c.Close()
			return nil, &generic.ConfigurationError{Field: "source.file", Reason: "a usage file is required"}
		}
		c.Source = source.NewFile(cfg.Source.File)
	}

	c.Renderer, err = notify.NewRenderer(cfg.Allocation, cfg.Notify.MailDomain, cfg.Notify.SignOff)
	if err != nil {
		c.Close()
		return nil, err
	}
	c.Outbox, err = notify.NewOutbox(ctx, cfg.Notify.Outbox, c.Renderer, opts.Now)
	if err != nil {
		c.Close()
		return nil, err
	}

	c.Engine, err = allocation.NewEngine(cfg.Allocation, allocation.Options{
		Clock:      allocation.NewClock(cfg.Allocation, opts.Now),
		Source:     c.Source,
		Store:      c.Store,
		Dispatcher: notify.Multi{notify.LogDispatcher{}, c.Outbox},
		Metrics:    opts.Metrics,
	})
	if err != nil {
		c.Close()
		return nil, err
	}
	return c, nil
}

// Close releases the store.
func (c *Components) Close() error {
	var result *multierror.Error
	for _, cl := range c.closers {
		if err := cl.Close(); err != nil {
			result = multierror.Append(result, err)
		}
	}
	c.closers = nil
	return result.ErrorOrNil()
}

// OpenStore opens the configured state store. The closer is nil when the
// store holds no resources.
func OpenStore(cfg StorageConfig) (generic.Store, io.Closer, error) {
	switch cfg.Driver {
	case DriverSQLite:
		s, err := sqlite.New(cfg.Path)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open sqlite store: %w", err)
		}
		return s, s, nil
	case DriverFS:
		s, err := fs.New(cfg.Path)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open file store: %w", err)
		}
		return s, nil, nil
	case DriverMemory:
		return store.NewMemory(), nil, nil
	default:
		return nil, nil, &generic.ConfigurationError{Field: "storage.driver", Reason: fmt.Sprintf("unknown driver %q", cfg.Driver)}
	}
}
