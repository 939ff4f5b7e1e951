package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sync"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/oxplot/go-buckboost/bbdriver/tps55289"
	"github.com/oxplot/go-buckboost/bbmon"
)

// reportPrinter prints monitor reports of several devices to one writer.
type reportPrinter struct {
	mu  sync.Mutex
	out io.Writer
}

func (p *reportPrinter) handler(dev string) bbmon.EventHandler {
	return bbmon.EventHandlerFunc(func(r bbmon.Report) {
		p.mu.Lock()
		defer p.mu.Unlock()
		ts := time.Now().Format("15:04:05.000")
		switch r.Event {
		case bbmon.EventFault:
			fmt.Fprintf(p.out, "%s %s fault %s (%s)\n", ts, dev, r.Fault, r.Status.Mode)
		case bbmon.EventModeChange:
			fmt.Fprintf(p.out, "%s %s mode %s\n", ts, dev, r.Status.Mode)
		case bbmon.EventError:
			fmt.Fprintf(p.out, "%s %s error %v\n", ts, dev, r.Err)
		default:
			fmt.Fprintf(p.out, "%s %s %s\n", ts, dev, r.Event)
		}
	})
}

func (a *app) monitorCmd() *cobra.Command {
	var (
		interval        time.Duration
		shutdownOnFault bool
		maxErrors       int
	)
	cmd := &cobra.Command{
		Use:   "monitor",
		Short: "Watch devices for faults and operating mode changes",
		Long: "Watch one or more devices, given by repeating --addr, for faults and " +
			"operating mode changes until interrupted.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer stop()
			return a.withDevs(func(devs []*tps55289.Dev) error {
				return a.monitor(ctx, devs, &reportPrinter{out: cmd.OutOrStdout()}, interval, shutdownOnFault, maxErrors)
			})
		},
	}
	f := cmd.Flags()
	f.DurationVarP(&interval, "interval", "i", bbmon.DefaultInterval, "status polling interval")
	f.BoolVar(&shutdownOnFault, "shutdown-on-fault", false, "turn the output off when a fault is detected")
	f.IntVar(&maxErrors, "max-errors", 10, "give up after this many consecutive bus errors, 0 to retry forever")
	return cmd
}

// monitor runs a monitor per device until ctx is done or one of them fails.
func (a *app) monitor(ctx context.Context, devs []*tps55289.Dev, p *reportPrinter, interval time.Duration, shutdownOnFault bool, maxErrors int) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, d := range devs {
		d := d
		m := bbmon.New(d)
		m.SetLogger(a.log.With("dev", d.String()))
		m.SetInterval(interval)
		m.SetShutdownOnFault(shutdownOnFault)
		m.SetMaxErrors(maxErrors)
		m.SetEventHandler(p.handler(d.String()))
		g.Go(func() error {
			a.log.Info("monitoring", "dev", d.String(), "interval", interval)
			return m.Run(ctx)
		})
	}
	return g.Wait()
}
