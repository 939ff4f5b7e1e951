// Package tps55289 implements a driver for the TPS55289 I2C controlled
// buck-boost converter from Texas Instruments.
package tps55289

import (
	"fmt"
	"io"
	"log/slog"
	"math"
	"sync"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/physic"

	"github.com/oxplot/go-buckboost"
	"github.com/oxplot/go-buckboost/bbdriver"
	"github.com/oxplot/go-buckboost/bbreg"
)

// Address represents the 7 bit I2C address of the device which is selected
// by the resistor on the MODE pin.
type Address uint8

// I2CAddress returns the I2C address of the TPS55289.
func (a Address) I2CAddress() uint16 {
	return uint16(a)
}

// Addresses
const (
	AddressDefault Address = 0x74
	AddressAlt     Address = 0x75
)

// Output voltage limits of the device.
const (
	MinOutputVoltage = 800 * physic.MilliVolt
	MaxOutputVoltage = 22 * physic.Volt
)

// Opts holds the board specific configuration of a converter.
type Opts struct {
	// Addr is the device address. Zero means AddressDefault.
	Addr Address

	// EnablePin drives the EN input of the device. It may be nil if EN is
	// tied high.
	EnablePin bbdriver.Pin

	// SenseResistor is the output current sense resistor between ISP and
	// ISN. Zero means DefaultOpts.SenseResistor.
	SenseResistor physic.ElectricResistance

	// FeedbackDivider is Rbottom/(Rtop+Rbottom) of the external feedback
	// divider. It's only used in external feedback mode.
	FeedbackDivider float64

	// Logger receives debug records of every register write. Nil discards
	// them.
	Logger *slog.Logger
}

// DefaultOpts is the configuration of the TI evaluation module.
var DefaultOpts = Opts{
	Addr:          AddressDefault,
	SenseResistor: 10 * physic.MilliOhm,
}

// Dev represents a TPS55289 converter.
type Dev struct {
	port  bbdriver.I2C
	addr  uint16
	en    bbdriver.Pin
	rsns  physic.ElectricResistance
	fbDiv float64
	log   *slog.Logger

	// mu serializes bus transactions and read-modify-write cycles between
	// goroutines sharing the Dev.
	mu sync.Mutex

	// Buffer used for tx and rx, defined once here instead to avoid heap
	// allocations in each method used.
	buf [2]byte
}

var _ buckboost.Converter = (*Dev)(nil)

// New creates a new driver. No bus transaction is issued until Init is
// called.
func New(port bbdriver.I2C, opts *Opts) *Dev {
	o := DefaultOpts
	if opts != nil {
		o = *opts
	}
	if o.Addr == 0 {
		o.Addr = DefaultOpts.Addr
	}
	if o.SenseResistor == 0 {
		o.SenseResistor = DefaultOpts.SenseResistor
	}
	l := o.Logger
	if l == nil {
		l = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Dev{
		port:  port,
		addr:  o.Addr.I2CAddress(),
		en:    o.EnablePin,
		rsns:  o.SenseResistor,
		fbDiv: o.FeedbackDivider,
		log:   l.With("dev", fmt.Sprintf("tps55289@%#04x", o.Addr)),
	}
}

func (d *Dev) String() string {
	return fmt.Sprintf("tps55289@%#04x", d.addr)
}

func (d *Dev) read(r uint8) (byte, error) {
	d.buf[0] = r
	if err := d.port.Tx(d.addr, d.buf[:1], d.buf[1:2]); err != nil {
		return 0, fmt.Errorf("tps55289: read %s: %w", bbreg.Name(r), err)
	}
	return d.buf[1], nil
}

func (d *Dev) write(r uint8, v byte) error {
	d.buf[0] = r
	d.buf[1] = v
	d.log.Debug("register write", "reg", bbreg.Name(r), "value", fmt.Sprintf("%#04x", v))
	if err := d.port.Tx(d.addr, d.buf[:2], nil); err != nil {
		return fmt.Errorf("tps55289: write %s: %w", bbreg.Name(r), err)
	}
	return nil
}

// update performs a read-modify-write cycle on register r.
func (d *Dev) update(r uint8, f func(byte) byte) error {
	v, err := d.read(r)
	if err != nil {
		return err
	}
	return d.write(r, f(v))
}

// Init raises the EN pin if one is configured and checks that the device
// responds on the bus. The register contents are left untouched.
func (d *Dev) Init() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.en != nil {
		if err := d.en.Out(gpio.High); err != nil {
			return fmt.Errorf("tps55289: enable pin: %w", err)
		}
	}
	if _, err := d.read(bbreg.AddrMode); err != nil {
		return fmt.Errorf("tps55289: %w at %#04x: %w", buckboost.ErrNotFound, d.addr, err)
	}
	return nil
}

// Shutdown turns the output off and pulls the EN pin low which puts the
// device into its lowest power state. Init must be called again before
// further use.
func (d *Dev) Shutdown() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.setOE(false); err != nil {
		return err
	}
	if d.en != nil {
		if err := d.en.Out(gpio.Low); err != nil {
			return fmt.Errorf("tps55289: enable pin: %w", err)
		}
	}
	return nil
}

func (d *Dev) setOE(e bool) error {
	return d.update(bbreg.AddrMode, func(v byte) byte {
		m := bbreg.Mode(v)
		m.SetOutputEnabled(e)
		return byte(m)
	})
}

// Enable turns the output on.
func (d *Dev) Enable() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.setOE(true)
}

// Disable turns the output off.
func (d *Dev) Disable() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.setOE(false)
}

// ratio returns VREF/VOUT for the active feedback configuration.
func (d *Dev) ratio() (float64, error) {
	v, err := d.read(bbreg.AddrVOutFS)
	if err != nil {
		return 0, err
	}
	fs := bbreg.VOutFS(v)
	if fs.Feedback() == bbreg.FeedbackInternal {
		return fs.Ratio().Value(), nil
	}
	if d.fbDiv <= 0 || d.fbDiv > 1 {
		return 0, fmt.Errorf("tps55289: %w", buckboost.ErrExternalFeedback)
	}
	return d.fbDiv, nil
}

func (d *Dev) writeRef(ref bbreg.Ref) error {
	// The reference is latched on the MSB write.
	if err := d.write(bbreg.AddrRefLSB, ref.LSB()); err != nil {
		return err
	}
	return d.write(bbreg.AddrRefMSB, ref.MSB())
}

func (d *Dev) readRef() (bbreg.Ref, error) {
	lsb, err := d.read(bbreg.AddrRefLSB)
	if err != nil {
		return 0, err
	}
	msb, err := d.read(bbreg.AddrRefMSB)
	if err != nil {
		return 0, err
	}
	return bbreg.NewRef(lsb, msb), nil
}

// SetOutputVoltage sets the output voltage. In internal feedback mode the
// active feedback ratio determines the resolution, in external feedback
// mode Opts.FeedbackDivider must be set.
func (d *Dev) SetOutputVoltage(v physic.ElectricPotential) error {
	if v < MinOutputVoltage || v > MaxOutputVoltage {
		return fmt.Errorf("tps55289: output voltage %s: %w", v, buckboost.ErrOutOfRange)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	r, err := d.ratio()
	if err != nil {
		return err
	}
	ref, ok := bbreg.RefFromVoltage(physic.ElectricPotential(math.Round(float64(v) * r)))
	if !ok {
		return fmt.Errorf("tps55289: output voltage %s with ratio %g: %w", v, r, buckboost.ErrOutOfRange)
	}
	return d.writeRef(ref)
}

// OutputVoltage returns the programmed output voltage.
func (d *Dev) OutputVoltage() (physic.ElectricPotential, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	ref, err := d.readRef()
	if err != nil {
		return 0, err
	}
	r, err := d.ratio()
	if err != nil {
		return 0, err
	}
	return physic.ElectricPotential(math.Round(float64(ref.Voltage()) / r)), nil
}

// SetReferenceVoltage sets the internal reference voltage directly.
func (d *Dev) SetReferenceVoltage(v physic.ElectricPotential) error {
	ref, ok := bbreg.RefFromVoltage(v)
	if !ok {
		return fmt.Errorf("tps55289: reference voltage %s: %w", v, buckboost.ErrOutOfRange)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.writeRef(ref)
}

// ReferenceVoltage returns the programmed reference voltage.
func (d *Dev) ReferenceVoltage() (physic.ElectricPotential, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	ref, err := d.readRef()
	if err != nil {
		return 0, err
	}
	return ref.Voltage(), nil
}

// SetCurrentLimit sets the output current limit. The resolution is 0.5 mV
// across the sense resistor, 50 mA with the default 10 mOhm.
func (d *Dev) SetCurrentLimit(c physic.ElectricCurrent) error {
	if c < 0 || c > bbreg.MaxCurrentLimit(d.rsns) {
		return fmt.Errorf("tps55289: current limit %s: %w", c, buckboost.ErrOutOfRange)
	}
	code, ok := bbreg.CurrentLimitCode(c, d.rsns)
	if !ok {
		return fmt.Errorf("tps55289: current limit %s is not a multiple of %s: %w", c, bbreg.MaxCurrentLimit(d.rsns)/bbreg.MaxCurrentLimitCode, buckboost.ErrInvalidValue)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.update(bbreg.AddrIOutLimit, func(v byte) byte {
		r := bbreg.IOutLimit(v)
		r.SetSetting(code)
		return byte(r)
	})
}

// CurrentLimit returns the programmed output current limit.
func (d *Dev) CurrentLimit() (physic.ElectricCurrent, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	v, err := d.read(bbreg.AddrIOutLimit)
	if err != nil {
		return 0, err
	}
	return bbreg.IOutLimit(v).Current(d.rsns), nil
}

// SetCurrentLimitEnabled turns output current limiting on or off.
func (d *Dev) SetCurrentLimitEnabled(e bool) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.update(bbreg.AddrIOutLimit, func(v byte) byte {
		r := bbreg.IOutLimit(v)
		r.SetEnabled(e)
		return byte(r)
	})
}

// CurrentLimitEnabled returns true if output current limiting is on.
func (d *Dev) CurrentLimitEnabled() (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	v, err := d.read(bbreg.AddrIOutLimit)
	if err != nil {
		return false, err
	}
	return bbreg.IOutLimit(v).Enabled(), nil
}

// SetSlewRate sets the rate at which the output follows reference changes.
func (d *Dev) SetSlewRate(s bbreg.SlewRate) error {
	if s > bbreg.SlewRate10mVPerUs {
		return fmt.Errorf("tps55289: slew rate %d: %w", s, buckboost.ErrInvalidValue)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.update(bbreg.AddrVOutSR, func(v byte) byte {
		r := bbreg.VOutSR(v)
		r.SetSlewRate(s)
		return byte(r)
	})
}

// SlewRate returns the programmed slew rate.
func (d *Dev) SlewRate() (bbreg.SlewRate, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	v, err := d.read(bbreg.AddrVOutSR)
	return bbreg.VOutSR(v).SlewRate(), err
}

// SetOCPDelay sets how long an overcurrent condition is tolerated before
// the converter reacts to it.
func (d *Dev) SetOCPDelay(o bbreg.OCPDelay) error {
	if o > bbreg.OCPDelay12ms {
		return fmt.Errorf("tps55289: ocp delay %d: %w", o, buckboost.ErrInvalidValue)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.update(bbreg.AddrVOutSR, func(v byte) byte {
		r := bbreg.VOutSR(v)
		r.SetOCPDelay(o)
		return byte(r)
	})
}

// OCPDelay returns the programmed overcurrent response delay.
func (d *Dev) OCPDelay() (bbreg.OCPDelay, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	v, err := d.read(bbreg.AddrVOutSR)
	return bbreg.VOutSR(v).OCPDelay(), err
}

// SetFeedback selects the internal or external feedback divider. The
// reference is not touched so the output voltage changes with the divider.
func (d *Dev) SetFeedback(f bbreg.Feedback) error {
	if f > bbreg.FeedbackExternal {
		return fmt.Errorf("tps55289: feedback %d: %w", f, buckboost.ErrInvalidValue)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.update(bbreg.AddrVOutFS, func(v byte) byte {
		r := bbreg.VOutFS(v)
		r.SetFeedback(f)
		return byte(r)
	})
}

// Feedback returns the selected feedback divider.
func (d *Dev) Feedback() (bbreg.Feedback, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	v, err := d.read(bbreg.AddrVOutFS)
	return bbreg.VOutFS(v).Feedback(), err
}

// SetFeedbackRatio selects the internal feedback ratio.
func (d *Dev) SetFeedbackRatio(f bbreg.FeedbackRatio) error {
	if f > bbreg.Ratio10mV {
		return fmt.Errorf("tps55289: feedback ratio %d: %w", f, buckboost.ErrInvalidValue)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.update(bbreg.AddrVOutFS, func(v byte) byte {
		r := bbreg.VOutFS(v)
		r.SetRatio(f)
		return byte(r)
	})
}

// FeedbackRatio returns the selected internal feedback ratio.
func (d *Dev) FeedbackRatio() (bbreg.FeedbackRatio, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	v, err := d.read(bbreg.AddrVOutFS)
	return bbreg.VOutFS(v).Ratio(), err
}

// SetFaultIndication enables or disables the fault indication of every
// fault in f.
func (d *Dev) SetFaultIndication(f buckboost.Fault, enabled bool) error {
	if f == buckboost.FaultNone || f&^buckboost.FaultAll != 0 {
		return fmt.Errorf("tps55289: fault set %#x: %w", uint8(f), buckboost.ErrInvalidValue)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.update(bbreg.AddrCDC, func(v byte) byte {
		r := bbreg.CDC(v)
		if f.Has(buckboost.FaultShortCircuit) {
			r.SetSCIndication(enabled)
		}
		if f.Has(buckboost.FaultOvercurrent) {
			r.SetOCPIndication(enabled)
		}
		if f.Has(buckboost.FaultOvervoltage) {
			r.SetOVPIndication(enabled)
		}
		return byte(r)
	})
}

// FaultIndication returns the set of faults being indicated.
func (d *Dev) FaultIndication() (buckboost.Fault, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	v, err := d.read(bbreg.AddrCDC)
	if err != nil {
		return buckboost.FaultNone, err
	}
	r := bbreg.CDC(v)
	var f buckboost.Fault
	if r.SCIndication() {
		f.Add(buckboost.FaultShortCircuit)
	}
	if r.OCPIndication() {
		f.Add(buckboost.FaultOvercurrent)
	}
	if r.OVPIndication() {
		f.Add(buckboost.FaultOvervoltage)
	}
	return f, nil
}

// SetCompensationSource selects where the cable compensation level comes
// from.
func (d *Dev) SetCompensationSource(s bbreg.CompensationSource) error {
	if s > bbreg.CompensationExternal {
		return fmt.Errorf("tps55289: compensation source %d: %w", s, buckboost.ErrInvalidValue)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.update(bbreg.AddrCDC, func(v byte) byte {
		r := bbreg.CDC(v)
		r.SetSource(s)
		return byte(r)
	})
}

// CompensationSource returns where the cable compensation level comes from.
func (d *Dev) CompensationSource() (bbreg.CompensationSource, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	v, err := d.read(bbreg.AddrCDC)
	return bbreg.CDC(v).Source(), err
}

// SetCableCompensation sets the internal cable compensation level in 0.1 V
// steps from 0 to 0.7 V.
func (d *Dev) SetCableCompensation(c physic.ElectricPotential) error {
	if c < 0 || c > bbreg.MaxCompensation {
		return fmt.Errorf("tps55289: cable compensation %s: %w", c, buckboost.ErrOutOfRange)
	}
	code, ok := bbreg.CompensationCode(c)
	if !ok {
		return fmt.Errorf("tps55289: cable compensation %s: %w", c, buckboost.ErrInvalidValue)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.update(bbreg.AddrCDC, func(v byte) byte {
		r := bbreg.CDC(v)
		r.SetSetting(code)
		return byte(r)
	})
}

// CableCompensation returns the internal cable compensation level.
func (d *Dev) CableCompensation() (physic.ElectricPotential, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	v, err := d.read(bbreg.AddrCDC)
	return bbreg.CDC(v).Compensation(), err
}

func (d *Dev) updateMode(f func(*bbreg.Mode)) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.update(bbreg.AddrMode, func(v byte) byte {
		m := bbreg.Mode(v)
		f(&m)
		return byte(m)
	})
}

// SetFrequencyDoubling doubles the switching frequency in buck-boost
// operation.
func (d *Dev) SetFrequencyDoubling(e bool) error {
	return d.updateMode(func(m *bbreg.Mode) { m.SetFrequencyDoubling(e) })
}

// SetHiccup selects hiccup mode (true) or latch-off on short circuit.
func (d *Dev) SetHiccup(e bool) error {
	return d.updateMode(func(m *bbreg.Mode) { m.SetHiccup(e) })
}

// SetDischarge enables output discharge while the output is disabled.
func (d *Dev) SetDischarge(e bool) error {
	return d.updateMode(func(m *bbreg.Mode) { m.SetDischarge(e) })
}

// SetLightLoadMode selects PFM or forced PWM at light load.
func (d *Dev) SetLightLoadMode(l bbreg.LightLoadMode) error {
	if l > bbreg.LightLoadFPWM {
		return fmt.Errorf("tps55289: light load mode %d: %w", l, buckboost.ErrInvalidValue)
	}
	return d.updateMode(func(m *bbreg.Mode) { m.SetLightLoad(l) })
}

// Status reads the status register.
func (d *Dev) Status() (buckboost.Status, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	v, err := d.read(bbreg.AddrStatus)
	if err != nil {
		return buckboost.Status{}, err
	}
	return buckboost.StatusFromRegister(bbreg.Status(v)), nil
}

// Mode reads the MODE register.
func (d *Dev) Mode() (bbreg.Mode, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	v, err := d.read(bbreg.AddrMode)
	return bbreg.Mode(v), err
}

// Registers reads the whole register map. Reading includes the status
// register and so clears any latched fault.
func (d *Dev) Registers() (bbreg.Map, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	var b [bbreg.NumRegisters]byte
	for i := range b {
		v, err := d.read(uint8(i))
		if err != nil {
			return bbreg.Map{}, err
		}
		b[i] = v
	}
	return bbreg.MapFromBytes(b), nil
}
