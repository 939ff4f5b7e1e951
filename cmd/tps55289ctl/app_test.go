package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
	"periph.io/x/conn/v3/gpio/gpiotest"
	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/physic"

	"github.com/oxplot/go-buckboost"
	"github.com/oxplot/go-buckboost/bbdriver"
	"github.com/oxplot/go-buckboost/bbprofile"
	"github.com/oxplot/go-buckboost/bbreg"
)

// regBus emulates the register file of converters at the given addresses.
// Reading STATUS clears its fault bits like the real device does.
type regBus struct {
	mu     sync.Mutex
	devs   map[uint16]*[bbreg.NumRegisters]byte
	closed bool
}

func newRegBus(addrs ...uint16) *regBus {
	b := &regBus{devs: map[uint16]*[bbreg.NumRegisters]byte{}}
	for _, a := range addrs {
		regs := bbreg.DefaultMap().Bytes()
		b.devs[a] = &regs
	}
	return b
}

func (b *regBus) String() string                  { return "regbus" }
func (b *regBus) SetSpeed(physic.Frequency) error { return nil }

func (b *regBus) Close() error {
	b.mu.Lock()
	b.closed = true
	b.mu.Unlock()
	return nil
}

func (b *regBus) Tx(addr uint16, w, r []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	regs, ok := b.devs[addr]
	if !ok {
		return errors.New("nack")
	}
	if len(w) == 0 || int(w[0]) >= bbreg.NumRegisters {
		return fmt.Errorf("bad register access %x", w)
	}
	reg := w[0]
	if len(w) == 2 {
		regs[reg] = w[1]
	}
	if len(r) > 0 {
		r[0] = regs[reg]
		if reg == bbreg.AddrStatus {
			regs[reg] &= 0b11
		}
	}
	return nil
}

func (b *regBus) reg(addr uint16, reg uint8) byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.devs[addr][reg]
}

func (b *regBus) setReg(addr uint16, reg uint8, v byte) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.devs[addr][reg] = v
}

type runResult struct {
	out, log string
	err      error
}

func runCtx(ctx context.Context, t *testing.T, bus *regBus, args ...string) runResult {
	t.Helper()
	var out, log bytes.Buffer
	a := newApp()
	a.stderr = &log
	a.openBus = func(string) (i2c.BusCloser, error) { return bus, nil }
	a.pinByName = func(n string) (bbdriver.Pin, error) { return &gpiotest.Pin{N: n}, nil }
	root := a.rootCmd()
	root.SetOut(&out)
	root.SetErr(&log)
	root.SetArgs(args)
	err := root.ExecuteContext(ctx)
	return runResult{out.String(), log.String(), err}
}

func run(t *testing.T, bus *regBus, args ...string) runResult {
	t.Helper()
	return runCtx(context.Background(), t, bus, args...)
}

const dev = 0x74

func TestVoltage(t *testing.T) {
	bus := newRegBus(dev)

	r := run(t, bus, "voltage", "12V")
	require.NoError(t, r.err)
	assert.Equal(t, byte(0x5F), bus.reg(dev, bbreg.AddrRefLSB))
	assert.Equal(t, byte(0x04), bus.reg(dev, bbreg.AddrRefMSB))
	assert.True(t, bus.closed)

	r = run(t, bus, "voltage")
	require.NoError(t, r.err)
	var v bbprofile.Voltage
	require.NoError(t, v.UnmarshalText([]byte(strings.TrimSpace(r.out))))
	assert.InDelta(t, float64(12*physic.Volt), float64(v), float64(10*physic.MilliVolt))
}

func TestVoltageErrors(t *testing.T) {
	bus := newRegBus(dev)
	assert.ErrorIs(t, run(t, bus, "voltage", "30V").err, buckboost.ErrOutOfRange)
	assert.Error(t, run(t, bus, "voltage", "5A").err)
	assert.ErrorIs(t, run(t, bus, "--addr", "0x75", "voltage").err, buckboost.ErrNotFound)
	assert.Error(t, run(t, bus, "--addr", "0x74,0x75", "voltage").err)
	assert.Error(t, run(t, bus, "--addr", "xyz", "voltage").err)
}

func TestCurrentLimit(t *testing.T) {
	bus := newRegBus(dev)

	r := run(t, bus, "current-limit")
	require.NoError(t, r.err)
	assert.True(t, strings.HasSuffix(r.out, "(on)\n"), r.out)

	require.NoError(t, run(t, bus, "current-limit", "off").err)
	assert.Equal(t, byte(0x64), bus.reg(dev, bbreg.AddrIOutLimit))

	require.NoError(t, run(t, bus, "current-limit", "3A").err)
	assert.Equal(t, byte(0xBC), bus.reg(dev, bbreg.AddrIOutLimit))

	require.NoError(t, run(t, bus, "--rsense", "5mΩ", "current-limit", "3A").err)
	assert.Equal(t, byte(0x80|0x1E), bus.reg(dev, bbreg.AddrIOutLimit))
}

func TestEnumSettings(t *testing.T) {
	bus := newRegBus(dev)

	require.NoError(t, run(t, bus, "slew-rate", "10mV/us").err)
	require.NoError(t, run(t, bus, "ocp-delay", "12.288ms").err)
	assert.Equal(t, byte(0x33), bus.reg(dev, bbreg.AddrVOutSR))

	r := run(t, bus, "slew-rate")
	require.NoError(t, r.err)
	assert.Equal(t, "10mV/us\n", r.out)

	require.NoError(t, run(t, bus, "ratio", "5mV").err)
	assert.Equal(t, byte(0x01), bus.reg(dev, bbreg.AddrVOutFS))

	require.NoError(t, run(t, bus, "feedback", "external").err)
	assert.Equal(t, byte(0x81), bus.reg(dev, bbreg.AddrVOutFS))

	assert.Error(t, run(t, bus, "slew-rate", "fast").err)
}

func TestExternalFeedbackDivider(t *testing.T) {
	bus := newRegBus(dev)
	bus.setReg(dev, bbreg.AddrVOutFS, 0x80)

	assert.ErrorIs(t, run(t, bus, "voltage", "5V").err, buckboost.ErrExternalFeedback)
	require.NoError(t, run(t, bus, "--divider", "0.1", "voltage", "5V").err)
	assert.Equal(t, byte(0x26), bus.reg(dev, bbreg.AddrRefLSB))
	assert.Equal(t, byte(0x03), bus.reg(dev, bbreg.AddrRefMSB))
}

func TestIndicate(t *testing.T) {
	bus := newRegBus(dev)

	require.NoError(t, run(t, bus, "indicate", "ovp").err)
	assert.Equal(t, byte(0x20), bus.reg(dev, bbreg.AddrCDC))

	r := run(t, bus, "indicate")
	require.NoError(t, r.err)
	assert.Equal(t, "OVP\n", r.out)

	require.NoError(t, run(t, bus, "indicate", "all").err)
	assert.Equal(t, byte(0xE0), bus.reg(dev, bbreg.AddrCDC))
}

func TestCompensation(t *testing.T) {
	bus := newRegBus(dev)

	require.NoError(t, run(t, bus, "compensation", "300mV").err)
	assert.Equal(t, byte(0xE3), bus.reg(dev, bbreg.AddrCDC))

	r := run(t, bus, "compensation")
	require.NoError(t, r.err)
	assert.Equal(t, "internal 300mV\n", r.out)

	require.NoError(t, run(t, bus, "compensation", "external").err)
	assert.Equal(t, byte(0xEB), bus.reg(dev, bbreg.AddrCDC))

	assert.Error(t, run(t, bus, "compensation", "lots").err)
	assert.ErrorIs(t, run(t, bus, "compensation", "250mV").err, buckboost.ErrInvalidValue)
	assert.ErrorIs(t, run(t, bus, "compensation", "900mV").err, buckboost.ErrInvalidValue)
	assert.Equal(t, byte(0xEB), bus.reg(dev, bbreg.AddrCDC), "rejected voltage left the source external")
}

func TestMode(t *testing.T) {
	bus := newRegBus(dev)

	require.NoError(t, run(t, bus, "mode", "--hiccup=false", "--discharge", "--light-load", "fpwm").err)
	assert.Equal(t, byte(0x12), bus.reg(dev, bbreg.AddrMode))

	r := run(t, bus, "mode")
	require.NoError(t, r.err)
	assert.Contains(t, r.out, "hiccup:       off")
	assert.Contains(t, r.out, "discharge:    on")
	assert.Contains(t, r.out, "light-load:   fpwm")
	assert.Contains(t, r.out, "address:      0x74 (MODE pin)")

	assert.Error(t, run(t, bus, "mode", "--light-load", "slow").err)
}

func TestEnableDisableStatus(t *testing.T) {
	bus := newRegBus(dev)

	require.NoError(t, run(t, bus, "--enable-pin", "GPIO17", "enable").err)
	assert.Equal(t, byte(0xA0), bus.reg(dev, bbreg.AddrMode))

	bus.setReg(dev, bbreg.AddrStatus, 0x80|0x40|0x02)
	r := run(t, bus, "status")
	require.NoError(t, r.err)
	assert.Equal(t, "output: on\nmode:   buck-boost\nfaults: SC|OCP\n", r.out)

	r = run(t, bus, "status")
	require.NoError(t, r.err)
	assert.Contains(t, r.out, "faults: None")

	require.NoError(t, run(t, bus, "disable").err)
	assert.Equal(t, byte(0x20), bus.reg(dev, bbreg.AddrMode))
}

func TestDump(t *testing.T) {
	bus := newRegBus(dev)

	r := run(t, bus, "dump")
	require.NoError(t, r.err)
	lines := strings.Split(strings.TrimSpace(r.out), "\n")
	require.Len(t, lines, bbreg.NumRegisters)
	assert.Equal(t, "0x00 REF_LSB    0xa4 10100100", lines[0])
	assert.Equal(t, "0x06 MODE       0x20 00100000", lines[6])

	r = run(t, bus, "dump", "--format", "yaml")
	require.NoError(t, r.err)
	var m bbreg.Map
	require.NoError(t, yaml.Unmarshal([]byte(r.out), &m))
	assert.Equal(t, bbreg.DefaultMap(), m)

	r = run(t, bus, "dump", "-f", "cbor")
	require.NoError(t, r.err)
	m = bbreg.Map{}
	require.NoError(t, cbor.Unmarshal([]byte(r.out), &m))
	assert.Equal(t, bbreg.DefaultMap(), m)

	assert.Error(t, run(t, bus, "dump", "-f", "xml").err)
}

const profiles = `
default: usb
profiles:
  usb:
    output_voltage: 12V
    current_limit: 3A
    indicate: sc
  quiet:
    output_voltage: 5V
    enable: false
`

func writeProfiles(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "profiles.yaml")
	require.NoError(t, os.WriteFile(path, []byte(profiles), 0o600))
	return path
}

func TestApply(t *testing.T) {
	bus := newRegBus(dev)
	path := writeProfiles(t)

	r := run(t, bus, "apply", "--config", path)
	require.NoError(t, r.err)
	assert.True(t, strings.HasPrefix(r.out, "12V @ max. 3"), r.out)
	assert.Contains(t, r.log, "set output voltage")
	assert.Equal(t, byte(0x5F), bus.reg(dev, bbreg.AddrRefLSB))
	assert.Equal(t, byte(0x04), bus.reg(dev, bbreg.AddrRefMSB))
	assert.Equal(t, byte(0xBC), bus.reg(dev, bbreg.AddrIOutLimit))
	assert.Equal(t, byte(0x80), bus.reg(dev, bbreg.AddrCDC))
	assert.True(t, bbreg.Mode(bus.reg(dev, bbreg.AddrMode)).OutputEnabled())

	require.NoError(t, run(t, bus, "apply", "-c", path, "-p", "quiet").err)
	assert.False(t, bbreg.Mode(bus.reg(dev, bbreg.AddrMode)).OutputEnabled())
}

func TestApplyFaultLatched(t *testing.T) {
	bus := newRegBus(dev)
	bus.setReg(dev, bbreg.AddrStatus, 0x20)

	err := run(t, bus, "apply").err
	assert.ErrorIs(t, err, bbprofile.ErrFaultLatched)
	assert.False(t, bbreg.Mode(bus.reg(dev, bbreg.AddrMode)).OutputEnabled())
}

func TestApplyDryRun(t *testing.T) {
	bus := newRegBus()
	r := run(t, bus, "apply", "--dry-run", "--config", writeProfiles(t), "--profile", "quiet")
	require.NoError(t, r.err)
	assert.Contains(t, r.log, "set output voltage")
	assert.False(t, bus.closed)

	assert.ErrorIs(t, run(t, bus, "apply", "-n", "-c", writeProfiles(t), "-p", "bench").err, bbprofile.ErrUnknownProfile)
	assert.Error(t, run(t, bus, "apply", "-n", "-p", "usb").err)
}

func TestMonitor(t *testing.T) {
	bus := newRegBus(0x74, 0x75)
	require.NoError(t, run(t, bus, "--addr", "0x75", "enable").err)
	bus.setReg(0x75, bbreg.AddrStatus, 0x80)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	r := runCtx(ctx, t, bus, "--addr", "0x74", "--addr", "0x75", "monitor",
		"--interval", "5ms", "--shutdown-on-fault")
	require.NoError(t, r.err)

	assert.Contains(t, r.out, "tps55289@0x75 fault SC")
	assert.Contains(t, r.out, "tps55289@0x75 shutdown")
	assert.Contains(t, r.out, "tps55289@0x75 cleared")
	assert.NotContains(t, r.out, "tps55289@0x74 fault")
	assert.False(t, bbreg.Mode(bus.reg(0x75, bbreg.AddrMode)).OutputEnabled())
}

func TestShell(t *testing.T) {
	bus := newRegBus(dev)
	a := newApp()
	a.openBus = func(string) (i2c.BusCloser, error) { return bus, nil }

	lines := []string{"", "voltage 9V", "shell", "slew-rate", "bogus", "exit", "voltage 3V"}
	readLine := func() (string, error) {
		if len(lines) == 0 {
			return "", io.EOF
		}
		l := lines[0]
		lines = lines[1:]
		return l, nil
	}

	var out, errOut bytes.Buffer
	require.NoError(t, a.shell(readLine, &out, &errOut))
	assert.Equal(t, []string{"voltage 3V"}, lines)
	assert.Equal(t, "2.5mV/us\n", out.String())
	assert.Contains(t, errOut.String(), "already in a shell")
	assert.Contains(t, errOut.String(), "unknown command")

	var v bbprofile.Voltage
	require.NoError(t, v.UnmarshalText([]byte("9V")))
	ref := bbreg.NewRef(bus.reg(dev, bbreg.AddrRefLSB), bus.reg(dev, bbreg.AddrRefMSB))
	assert.InDelta(t, float64(v)*bbreg.Ratio10mV.Value(), float64(ref.Voltage()), float64(physic.MilliVolt))
}
