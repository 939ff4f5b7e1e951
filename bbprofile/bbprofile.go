// Package bbprofile implements output profiles for buck-boost converters. A
// profile is a complete, validated converter configuration that can be
// applied in one go and stored in YAML files.
package bbprofile

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"periph.io/x/conn/v3/physic"

	"github.com/oxplot/go-buckboost"
	"github.com/oxplot/go-buckboost/bbreg"
)

// Voltage is a physic.ElectricPotential that reads and writes text such as
// "5V" or "450mV".
type Voltage physic.ElectricPotential

func (v Voltage) String() string {
	return physic.ElectricPotential(v).String()
}

// MarshalText implements encoding.TextMarshaler.
func (v Voltage) MarshalText() ([]byte, error) {
	return []byte(v.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (v *Voltage) UnmarshalText(b []byte) error {
	return (*physic.ElectricPotential)(v).Set(strings.TrimSpace(string(b)))
}

// Current is a physic.ElectricCurrent that reads and writes text such as
// "3A" or "500mA".
type Current physic.ElectricCurrent

func (c Current) String() string {
	return physic.ElectricCurrent(c).String()
}

// MarshalText implements encoding.TextMarshaler.
func (c Current) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (c *Current) UnmarshalText(b []byte) error {
	return (*physic.ElectricCurrent)(c).Set(strings.TrimSpace(string(b)))
}

// Profile describes a complete converter configuration.
type Profile struct {

	// Turn the output on once the profile is applied.
	Enable bool `yaml:"enable"`

	// Feedback source. In internal mode Ratio sets the divider.
	Feedback bbreg.Feedback      `yaml:"feedback"`
	Ratio    bbreg.FeedbackRatio `yaml:"ratio"`

	// Output voltage. In external feedback mode it's only usable if the
	// driver knows the divider ratio, otherwise set ReferenceVoltage instead.
	OutputVoltage Voltage `yaml:"output_voltage,omitempty"`

	// Reference voltage, used in external feedback mode when OutputVoltage is
	// zero.
	ReferenceVoltage Voltage `yaml:"reference_voltage,omitempty"`

	// Output current limit. Zero turns current limiting off.
	CurrentLimit Current `yaml:"current_limit"`

	SlewRate bbreg.SlewRate `yaml:"slew_rate"`
	OCPDelay bbreg.OCPDelay `yaml:"ocp_delay"`

	// Faults to be indicated. The rest are masked.
	Indicate buckboost.Fault `yaml:"indicate"`

	CompensationSource bbreg.CompensationSource `yaml:"compensation_source"`
	CableCompensation  Voltage                  `yaml:"cable_compensation"`

	FrequencyDoubling bool                `yaml:"frequency_doubling"`
	Hiccup            bool                `yaml:"hiccup"`
	Discharge         bool                `yaml:"discharge"`
	LightLoad         bbreg.LightLoadMode `yaml:"light_load"`
}

// Default returns a 5V profile with the converter's own protective defaults:
// all faults indicated, hiccup on short circuit and the largest current
// limit the default sense resistor allows.
func Default() Profile {
	return Profile{
		Enable:        true,
		Feedback:      bbreg.FeedbackInternal,
		Ratio:         bbreg.Ratio10mV,
		OutputVoltage: Voltage(5 * physic.Volt),
		CurrentLimit:  Current(6350 * physic.MilliAmpere),
		SlewRate:      bbreg.SlewRate2500uVPerUs,
		OCPDelay:      bbreg.OCPDelay128us,
		Indicate:      buckboost.FaultAll,
		Hiccup:        true,
		LightLoad:     bbreg.LightLoadPFM,
	}
}

var (
	// ErrFaultLatched is returned by Apply when the converter reports a
	// fault after configuration. The output is left off.
	ErrFaultLatched = errors.New("bbprofile: fault present, output left off")

	errNoVoltage = fmt.Errorf("bbprofile: external feedback needs output_voltage or reference_voltage: %w", buckboost.ErrInvalidValue)
)

func outOfRange(what string, v fmt.Stringer, lo, hi fmt.Stringer) error {
	return fmt.Errorf("bbprofile: %s %s must be >= %s & <= %s: %w", what, v, lo, hi, buckboost.ErrOutOfRange)
}

// Validate returns an error if the profile parameters are invalid.
func (p Profile) Validate() error {
	if p.Feedback > bbreg.FeedbackExternal || p.Ratio > bbreg.Ratio10mV ||
		p.SlewRate > bbreg.SlewRate10mVPerUs || p.OCPDelay > bbreg.OCPDelay12ms ||
		p.CompensationSource > bbreg.CompensationExternal || p.LightLoad > bbreg.LightLoadFPWM {
		return fmt.Errorf("bbprofile: enumerated setting out of range: %w", buckboost.ErrInvalidValue)
	}
	if p.Indicate&^buckboost.FaultAll != 0 {
		return fmt.Errorf("bbprofile: indicate %#x: %w", uint8(p.Indicate), buckboost.ErrInvalidValue)
	}

	vout := physic.ElectricPotential(p.OutputVoltage)
	vref := physic.ElectricPotential(p.ReferenceVoltage)
	minV, maxV := 800*physic.MilliVolt, 22*physic.Volt
	switch {
	case p.Feedback == bbreg.FeedbackInternal:
		if vout < minV || vout > maxV {
			return outOfRange("output voltage", vout, minV, maxV)
		}
		if _, ok := bbreg.RefFromVoltage(physic.ElectricPotential(float64(vout) * p.Ratio.Value())); !ok {
			lo := physic.ElectricPotential(float64(bbreg.MinRefVoltage) / p.Ratio.Value())
			hi := physic.ElectricPotential(float64(bbreg.MaxRefVoltage) / p.Ratio.Value())
			return outOfRange("output voltage with ratio "+p.Ratio.String(), vout, lo, hi)
		}
	case vout != 0:
		if vout < minV || vout > maxV {
			return outOfRange("output voltage", vout, minV, maxV)
		}
	case vref != 0:
		if _, ok := bbreg.RefFromVoltage(vref); !ok {
			return outOfRange("reference voltage", vref, bbreg.MinRefVoltage, bbreg.MaxRefVoltage)
		}
	default:
		return errNoVoltage
	}

	if p.CurrentLimit < 0 {
		return fmt.Errorf("bbprofile: current limit %s: %w", physic.ElectricCurrent(p.CurrentLimit), buckboost.ErrOutOfRange)
	}
	cc := physic.ElectricPotential(p.CableCompensation)
	if cc < 0 || cc > bbreg.MaxCompensation {
		return outOfRange("cable compensation", cc, physic.ElectricPotential(0), bbreg.MaxCompensation)
	}
	if _, ok := bbreg.CompensationCode(cc); !ok {
		return fmt.Errorf("bbprofile: cable compensation %s must be a multiple of %s: %w", cc, bbreg.CompensationStep, buckboost.ErrInvalidValue)
	}
	return nil
}

type step struct {
	name string
	f    func() error
}

// Apply validates p and writes it to c. The output is turned off first and,
// if p.Enable is set, turned back on only after every setting is written
// and the converter reports no fault. Apply stops at the first failing step
// or when ctx is done, leaving the output off.
func (p Profile) Apply(ctx context.Context, c buckboost.Converter) error {
	if err := p.Validate(); err != nil {
		return err
	}

	steps := []step{
		{"disable", c.Disable},
		{"feedback", func() error { return c.SetFeedback(p.Feedback) }},
		{"ratio", func() error { return c.SetFeedbackRatio(p.Ratio) }},
		{"voltage", func() error {
			if p.Feedback == bbreg.FeedbackInternal || p.OutputVoltage != 0 {
				return c.SetOutputVoltage(physic.ElectricPotential(p.OutputVoltage))
			}
			return c.SetReferenceVoltage(physic.ElectricPotential(p.ReferenceVoltage))
		}},
		{"current limit", func() error {
			if p.CurrentLimit == 0 {
				return c.SetCurrentLimitEnabled(false)
			}
			if err := c.SetCurrentLimit(physic.ElectricCurrent(p.CurrentLimit)); err != nil {
				return err
			}
			return c.SetCurrentLimitEnabled(true)
		}},
		{"ocp delay", func() error { return c.SetOCPDelay(p.OCPDelay) }},
		{"slew rate", func() error { return c.SetSlewRate(p.SlewRate) }},
		{"fault indication", func() error { return buckboost.SetIndicatedFaults(c, p.Indicate) }},
		{"compensation source", func() error { return c.SetCompensationSource(p.CompensationSource) }},
		{"cable compensation", func() error {
			return c.SetCableCompensation(physic.ElectricPotential(p.CableCompensation))
		}},
		{"frequency doubling", func() error { return c.SetFrequencyDoubling(p.FrequencyDoubling) }},
		{"hiccup", func() error { return c.SetHiccup(p.Hiccup) }},
		{"discharge", func() error { return c.SetDischarge(p.Discharge) }},
		{"light load", func() error { return c.SetLightLoadMode(p.LightLoad) }},
		{"status", func() error {
			s, err := c.Status()
			if err != nil {
				return err
			}
			if s.Faults != buckboost.FaultNone {
				return fmt.Errorf("%w: %s", ErrFaultLatched, s.Faults)
			}
			return nil
		}},
	}
	if p.Enable {
		steps = append(steps, step{"enable", c.Enable})
	}

	for _, s := range steps {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := s.f(); err != nil {
			if errors.Is(err, ErrFaultLatched) {
				return err
			}
			return fmt.Errorf("bbprofile: %s: %w", s.name, err)
		}
	}
	return nil
}

// String returns a one line description of the profile.
func (p Profile) String() string {
	var b strings.Builder
	switch {
	case p.Feedback == bbreg.FeedbackInternal || p.OutputVoltage != 0:
		fmt.Fprintf(&b, "%s", physic.ElectricPotential(p.OutputVoltage))
	default:
		fmt.Fprintf(&b, "VREF %s", physic.ElectricPotential(p.ReferenceVoltage))
	}
	if p.CurrentLimit == 0 {
		b.WriteString(" @ no limit")
	} else {
		fmt.Fprintf(&b, " @ max. %s", physic.ElectricCurrent(p.CurrentLimit))
	}
	fmt.Fprintf(&b, ", %s feedback", p.Feedback)
	if p.Feedback == bbreg.FeedbackInternal {
		fmt.Fprintf(&b, " (%s step)", p.Ratio)
	}
	fmt.Fprintf(&b, ", slew %s, ocp delay %s, indicate %s", p.SlewRate, p.OCPDelay, p.Indicate)
	if p.CompensationSource == bbreg.CompensationExternal {
		b.WriteString(", external cable compensation")
	} else if p.CableCompensation != 0 {
		fmt.Fprintf(&b, ", cable compensation %s", physic.ElectricPotential(p.CableCompensation))
	}
	fmt.Fprintf(&b, ", %s at light load", p.LightLoad)
	if p.Hiccup {
		b.WriteString(", hiccup")
	}
	if p.FrequencyDoubling {
		b.WriteString(", fsw doubling")
	}
	if p.Discharge {
		b.WriteString(", discharge")
	}
	if !p.Enable {
		b.WriteString(", output off")
	}
	return b.String()
}
