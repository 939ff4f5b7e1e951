// Package buckboost defines high level interfaces and types for operating an
// I2C controlled buck-boost converter such as the TPS55289.
package buckboost

import (
	"errors"
	"fmt"
	"strings"

	"periph.io/x/conn/v3/physic"

	"github.com/oxplot/go-buckboost/bbreg"
)

// Fault can store multiple fault conditions and return them in priority
// order.
type Fault uint8

// FaultNone represents no fault.
const FaultNone Fault = 0

// The faults are listed in order of priority from highest to lowest.
const (
	FaultShortCircuit Fault = 1 << iota // Output short circuit (SC)
	FaultOvercurrent                    // Overcurrent protection tripped (OCP)
	FaultOvervoltage                    // Overvoltage protection tripped (OVP)
)

// FaultAll is the set of all faults the converter reports.
const FaultAll = FaultShortCircuit | FaultOvercurrent | FaultOvervoltage

// Pop returns the highest priority fault and clears it.
func (f *Fault) Pop() Fault {
	for r := Fault(1); r != 0 && r <= FaultOvervoltage; r <<= 1 {
		if *f&r != 0 {
			*f &= ^r
			return r
		}
	}
	return FaultNone
}

// Add adds the faults v to the set.
func (f *Fault) Add(v Fault) {
	*f |= v
}

// Has returns true if any of the faults in v is set.
func (f Fault) Has(v Fault) bool {
	return f&v != 0
}

func (f Fault) String() string {
	switch f {
	case FaultNone:
		return "None"
	case FaultShortCircuit:
		return "SC"
	case FaultOvercurrent:
		return "OCP"
	case FaultOvervoltage:
		return "OVP"
	}
	if f&^FaultAll != 0 {
		return "INVALID"
	}
	var names []string
	for c := f; c != 0; {
		names = append(names, c.Pop().String())
	}
	return strings.Join(names, "|")
}

// MarshalText implements encoding.TextMarshaler.
func (f Fault) MarshalText() ([]byte, error) {
	if f&^FaultAll != 0 {
		return nil, fmt.Errorf("buckboost: invalid fault set %#x", uint8(f))
	}
	return []byte(strings.ToLower(f.String())), nil
}

// UnmarshalText implements encoding.TextUnmarshaler. It accepts fault names
// separated by "|" or ",", as well as "none" and "all".
func (f *Fault) UnmarshalText(b []byte) error {
	var r Fault
	for _, n := range strings.FieldsFunc(string(b), func(c rune) bool { return c == '|' || c == ',' }) {
		switch strings.ToLower(strings.TrimSpace(n)) {
		case "none", "":
		case "all":
			r.Add(FaultAll)
		case "sc":
			r.Add(FaultShortCircuit)
		case "ocp":
			r.Add(FaultOvercurrent)
		case "ovp":
			r.Add(FaultOvervoltage)
		default:
			return fmt.Errorf("buckboost: unknown fault %q", n)
		}
	}
	*f = r
	return nil
}

// Status is the decoded content of the status register.
type Status struct {
	Faults Fault
	Mode   bbreg.OperatingMode
}

// StatusFromRegister decodes the status register.
func StatusFromRegister(r bbreg.Status) Status {
	s := Status{Mode: r.Mode()}
	if r.SCP() {
		s.Faults.Add(FaultShortCircuit)
	}
	if r.OCP() {
		s.Faults.Add(FaultOvercurrent)
	}
	if r.OVP() {
		s.Faults.Add(FaultOvervoltage)
	}
	return s
}

// Converter provides an interface to operate a buck-boost converter over
// its register interface. Every method performs its register transactions
// synchronously and returns the transport error, if any.
//
// Setters validate their input before touching the device and return an
// error wrapping ErrOutOfRange or ErrInvalidValue for unacceptable values.
type Converter interface {

	// Enable turns the converter output on.
	Enable() error

	// Disable turns the converter output off.
	Disable() error

	// SetOutputVoltage programs the reference so that the output settles at v
	// given the active feedback configuration.
	SetOutputVoltage(v physic.ElectricPotential) error

	// OutputVoltage returns the programmed output voltage.
	OutputVoltage() (physic.ElectricPotential, error)

	// SetReferenceVoltage programs the reference DAC directly.
	SetReferenceVoltage(v physic.ElectricPotential) error

	// ReferenceVoltage returns the programmed reference voltage.
	ReferenceVoltage() (physic.ElectricPotential, error)

	// SetCurrentLimit programs the output current limit.
	SetCurrentLimit(c physic.ElectricCurrent) error

	// CurrentLimit returns the programmed output current limit.
	CurrentLimit() (physic.ElectricCurrent, error)

	// SetCurrentLimitEnabled turns output current limiting on or off.
	SetCurrentLimitEnabled(e bool) error

	// CurrentLimitEnabled returns true if output current limiting is on.
	CurrentLimitEnabled() (bool, error)

	SetSlewRate(s bbreg.SlewRate) error
	SlewRate() (bbreg.SlewRate, error)

	SetOCPDelay(d bbreg.OCPDelay) error
	OCPDelay() (bbreg.OCPDelay, error)

	SetFeedback(f bbreg.Feedback) error
	Feedback() (bbreg.Feedback, error)

	SetFeedbackRatio(r bbreg.FeedbackRatio) error
	FeedbackRatio() (bbreg.FeedbackRatio, error)

	// SetFaultIndication enables or disables reporting of the faults in f.
	SetFaultIndication(f Fault, enabled bool) error

	// FaultIndication returns the set of faults being reported.
	FaultIndication() (Fault, error)

	SetCompensationSource(s bbreg.CompensationSource) error
	CompensationSource() (bbreg.CompensationSource, error)

	// SetCableCompensation sets the output voltage rise at full load used to
	// compensate for cable drop.
	SetCableCompensation(v physic.ElectricPotential) error
	CableCompensation() (physic.ElectricPotential, error)

	SetFrequencyDoubling(e bool) error
	SetHiccup(e bool) error
	SetDischarge(e bool) error
	SetLightLoadMode(m bbreg.LightLoadMode) error

	// Status reads the status register. Fault flags are cleared by the device
	// on read so each fault is reported by exactly one call.
	Status() (Status, error)
}

// SetIndicatedFaults makes c indicate exactly the faults in f and mask the
// rest.
func SetIndicatedFaults(c Converter, f Fault) error {
	if f != FaultNone {
		if err := c.SetFaultIndication(f, true); err != nil {
			return err
		}
	}
	if masked := FaultAll &^ f; masked != FaultNone {
		return c.SetFaultIndication(masked, false)
	}
	return nil
}

var (
	// ErrOutOfRange is returned when a requested value is outside of what
	// the device can produce.
	ErrOutOfRange = errors.New("value out of range")

	// ErrInvalidValue is returned when a requested value is in range but not
	// one of the discrete settings the device supports.
	ErrInvalidValue = errors.New("invalid value")

	// ErrNotFound is returned when the device does not respond on the bus.
	ErrNotFound = errors.New("device not found")

	// ErrExternalFeedback is returned when the output voltage is requested
	// in external feedback mode without a known divider ratio.
	ErrExternalFeedback = errors.New("external feedback divider unknown")
)
