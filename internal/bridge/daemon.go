package bridge

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"

	"github.com/calder-analytics/geniebot/internal/config"
)

// Daemon is the main bot process. It connects to a chat platform via an
// Adapter, pumps inbound events to the Orchestrator, and runs the optional
// usage digest scheduler.
type Daemon struct {
	cfg          *config.Config
	adapter      Adapter
	orchestrator *Orchestrator
	out          io.Writer
}

// DaemonOpts holds parameters for creating a new Daemon.
type DaemonOpts struct {
	Config       *config.Config
	Adapter      Adapter
	Orchestrator *Orchestrator
	Out          io.Writer // defaults to os.Stdout
}

// NewDaemon creates a Daemon with the given options.
func NewDaemon(opts DaemonOpts) (*Daemon, error) {
	if opts.Config == nil {
		return nil, fmt.Errorf("bridge: config is required")
	}
	if opts.Adapter == nil {
		return nil, fmt.Errorf("bridge: adapter is required")
	}
	if opts.Orchestrator == nil {
		return nil, fmt.Errorf("bridge: orchestrator is required")
	}
	out := opts.Out
	if out == nil {
		out = os.Stdout
	}
	return &Daemon{
		cfg:          opts.Config,
		adapter:      opts.Adapter,
		orchestrator: opts.Orchestrator,
		out:          out,
	}, nil
}

// Run starts the daemon. It connects the adapter, starts the digest
// scheduler, and blocks pumping inbound events until the context is
// cancelled. On shutdown it closes the adapter gracefully.
func (d *Daemon) Run(ctx context.Context) error {
	fmt.Fprintf(d.out, "Geniebot connecting...\n")
	if err := d.adapter.Connect(ctx); err != nil {
		return fmt.Errorf("bridge: connect: %w", err)
	}

	events, err := d.adapter.Listen(ctx)
	if err != nil {
		d.adapter.Close()
		return fmt.Errorf("bridge: listen: %w", err)
	}

	go d.runDigestScheduler(ctx)

	fmt.Fprintf(d.out, "Geniebot online (backend=%s)\n", d.cfg.Backend)

	for {
		select {
		case <-ctx.Done():
			fmt.Fprintf(d.out, "Geniebot shutting down...\n")
			if err := d.adapter.Close(); err != nil {
				log.Printf("bridge: close adapter: %v", err)
			}
			fmt.Fprintf(d.out, "Geniebot stopped\n")
			return nil

		case ev, ok := <-events:
			if !ok {
				fmt.Fprintf(d.out, "Geniebot event channel closed\n")
				return nil
			}
			// Each event is handled on its own goroutine so a slow
			// backend poll never blocks the pump.
			go d.orchestrator.HandleEvent(ctx, ev)
		}
	}
}
