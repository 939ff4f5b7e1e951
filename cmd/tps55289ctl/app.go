package main

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/host/v3"

	"github.com/oxplot/go-buckboost/bbdriver"
	"github.com/oxplot/go-buckboost/bbdriver/tps55289"
)

const busSpeed = 400 * physic.KiloHertz

// app holds the global flags and the hardware access functions shared by
// all commands.
type app struct {
	bus       string
	addrs     []string
	enablePin string
	rsense    string
	divider   float64
	logLevel  string

	log    *slog.Logger
	stderr io.Writer

	openBus   func(name string) (i2c.BusCloser, error)
	pinByName func(name string) (bbdriver.Pin, error)
}

func newApp() *app {
	return &app{
		bus:       "1",
		addrs:     []string{fmt.Sprintf("%#04x", tps55289.AddressDefault)},
		rsense:    (10 * physic.MilliOhm).String(),
		logLevel:  "info",
		log:       slog.Default(),
		stderr:    os.Stderr,
		openBus:   openHostBus,
		pinByName: hostPin,
	}
}

func openHostBus(name string) (i2c.BusCloser, error) {
	if _, err := host.Init(); err != nil {
		return nil, err
	}
	b, err := i2creg.Open(name)
	if err != nil {
		return nil, err
	}
	if err := b.SetSpeed(busSpeed); err != nil {
		b.Close()
		return nil, err
	}
	return b, nil
}

func hostPin(name string) (bbdriver.Pin, error) {
	if _, err := host.Init(); err != nil {
		return nil, err
	}
	p := gpioreg.ByName(name)
	if p == nil {
		return nil, fmt.Errorf("unknown gpio pin %q", name)
	}
	return p, nil
}

// setupLogging replaces the logger with a text logger on a.stderr at the
// level given by --log-level.
func (a *app) setupLogging() error {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(a.logLevel)); err != nil {
		return fmt.Errorf("invalid log level %q", a.logLevel)
	}
	a.log = slog.New(slog.NewTextHandler(a.stderr, &slog.HandlerOptions{Level: lvl}))
	return nil
}

func parseAddr(s string) (tps55289.Address, error) {
	v, err := strconv.ParseUint(strings.TrimSpace(s), 0, 7)
	if err != nil {
		return 0, fmt.Errorf("invalid address %q", s)
	}
	return tps55289.Address(v), nil
}

func (a *app) opts(addr tps55289.Address) (*tps55289.Opts, error) {
	o := &tps55289.Opts{
		Addr:            addr,
		FeedbackDivider: a.divider,
		Logger:          a.log,
	}
	if err := o.SenseResistor.Set(a.rsense); err != nil {
		return nil, fmt.Errorf("invalid sense resistor %q: %w", a.rsense, err)
	}
	if a.enablePin != "" {
		p, err := a.pinByName(a.enablePin)
		if err != nil {
			return nil, err
		}
		o.EnablePin = p
	}
	return o, nil
}

// withDevs opens the bus, initializes a driver for each address given with
// --addr and calls f. The bus is closed once f returns.
func (a *app) withDevs(f func([]*tps55289.Dev) error) (err error) {
	if len(a.addrs) == 0 {
		return errors.New("no device address given")
	}
	var devOpts []*tps55289.Opts
	for _, s := range a.addrs {
		addr, err := parseAddr(s)
		if err != nil {
			return err
		}
		o, err := a.opts(addr)
		if err != nil {
			return err
		}
		devOpts = append(devOpts, o)
	}

	bus, err := a.openBus(a.bus)
	if err != nil {
		return fmt.Errorf("open i2c bus %q: %w", a.bus, err)
	}
	defer func() {
		if cerr := bus.Close(); err == nil && cerr != nil {
			err = fmt.Errorf("close i2c bus: %w", cerr)
		}
	}()

	devs := make([]*tps55289.Dev, 0, len(devOpts))
	for _, o := range devOpts {
		d := tps55289.New(bus, o)
		if err := d.Init(); err != nil {
			return err
		}
		a.log.Debug("device initialized", "dev", d.String(), "bus", bus.String())
		devs = append(devs, d)
	}
	return f(devs)
}

// withDev is withDevs for commands that operate on a single device.
func (a *app) withDev(f func(*tps55289.Dev) error) error {
	if len(a.addrs) > 1 {
		return errors.New("this command takes a single device address")
	}
	return a.withDevs(func(d []*tps55289.Dev) error { return f(d[0]) })
}

func (a *app) rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "tps55289ctl",
		Short:        "Configure and monitor TPS55289 buck-boost converters",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.setupLogging()
		},
	}

	f := root.PersistentFlags()
	f.StringVar(&a.bus, "bus", a.bus, "I2C bus name or number")
	f.StringSliceVar(&a.addrs, "addr", a.addrs, "device address, may be repeated for monitor")
	f.StringVar(&a.enablePin, "enable-pin", a.enablePin, "GPIO pin driving EN, empty if EN is tied high")
	f.StringVar(&a.rsense, "rsense", a.rsense, "output current sense resistor")
	f.Float64Var(&a.divider, "divider", a.divider, "external feedback divider ratio Rbottom/(Rtop+Rbottom)")
	f.StringVar(&a.logLevel, "log-level", a.logLevel, "log level: debug, info, warn, error")

	root.AddCommand(
		a.statusCmd(),
		a.voltageCmd(),
		a.referenceCmd(),
		a.currentLimitCmd(),
		a.slewRateCmd(),
		a.ocpDelayCmd(),
		a.feedbackCmd(),
		a.ratioCmd(),
		a.indicateCmd(),
		a.compensationCmd(),
		a.modeCmd(),
		a.enableCmd(),
		a.disableCmd(),
		a.applyCmd(),
		a.dumpCmd(),
		a.monitorCmd(),
		a.shellCmd(),
	)
	return root
}
