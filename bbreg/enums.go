package bbreg

import (
	"fmt"
	"strings"

	"periph.io/x/conn/v3/physic"
)

// SlewRate is the output voltage change rate on reference updates.
type SlewRate uint8

// Slew rates.
const (
	SlewRate1250uVPerUs SlewRate = iota // 1.25 mV/us
	SlewRate2500uVPerUs                 // 2.5 mV/us
	SlewRate5mVPerUs                    // 5 mV/us
	SlewRate10mVPerUs                   // 10 mV/us
)

var slewRateNames = []string{"1.25mV/us", "2.5mV/us", "5mV/us", "10mV/us"}

func (s SlewRate) String() string { return enumName(slewRateNames, uint8(s)) }

// MarshalText implements encoding.TextMarshaler.
func (s SlewRate) MarshalText() ([]byte, error) { return marshalEnum(slewRateNames, uint8(s)) }

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *SlewRate) UnmarshalText(b []byte) error {
	return unmarshalEnum("slew rate", slewRateNames, b, (*uint8)(s))
}

// OCPDelay is the time an overcurrent condition must persist before the
// converter reacts.
type OCPDelay uint8

// Overcurrent response delays.
const (
	OCPDelay128us OCPDelay = iota
	OCPDelay3ms            // 3.072 ms
	OCPDelay6ms            // 6.144 ms
	OCPDelay12ms           // 12.288 ms
)

var ocpDelayNames = []string{"128us", "3.072ms", "6.144ms", "12.288ms"}

func (d OCPDelay) String() string { return enumName(ocpDelayNames, uint8(d)) }

// MarshalText implements encoding.TextMarshaler.
func (d OCPDelay) MarshalText() ([]byte, error) { return marshalEnum(ocpDelayNames, uint8(d)) }

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *OCPDelay) UnmarshalText(b []byte) error {
	return unmarshalEnum("ocp delay", ocpDelayNames, b, (*uint8)(d))
}

// Feedback selects how the output voltage is sensed.
type Feedback uint8

// Feedback sources.
const (
	FeedbackInternal Feedback = iota // internal divider set by FeedbackRatio
	FeedbackExternal                 // external resistor divider on FB pin
)

var feedbackNames = []string{"internal", "external"}

func (f Feedback) String() string { return enumName(feedbackNames, uint8(f)) }

// MarshalText implements encoding.TextMarshaler.
func (f Feedback) MarshalText() ([]byte, error) { return marshalEnum(feedbackNames, uint8(f)) }

// UnmarshalText implements encoding.TextUnmarshaler.
func (f *Feedback) UnmarshalText(b []byte) error {
	return unmarshalEnum("feedback", feedbackNames, b, (*uint8)(f))
}

// FeedbackRatio selects the internal feedback divider and with it the
// output voltage step per reference code.
type FeedbackRatio uint8

// Internal feedback ratios named by their output voltage step.
const (
	Ratio2500uV FeedbackRatio = iota // 0.2256
	Ratio5mV                         // 0.1128
	Ratio7500uV                      // 0.0752
	Ratio10mV                        // 0.0564
)

var (
	ratioNames  = []string{"2.5mV", "5mV", "7.5mV", "10mV"}
	ratioValues = []float64{0.2256, 0.1128, 0.0752, 0.0564}
)

// Value returns the divider ratio VREF/VOUT.
func (f FeedbackRatio) Value() float64 {
	return ratioValues[f&0b11]
}

// Step returns the output voltage change per reference code.
func (f FeedbackRatio) Step() physic.ElectricPotential {
	return []physic.ElectricPotential{
		2500 * physic.MicroVolt,
		5 * physic.MilliVolt,
		7500 * physic.MicroVolt,
		10 * physic.MilliVolt,
	}[f&0b11]
}

func (f FeedbackRatio) String() string { return enumName(ratioNames, uint8(f)) }

// MarshalText implements encoding.TextMarshaler.
func (f FeedbackRatio) MarshalText() ([]byte, error) { return marshalEnum(ratioNames, uint8(f)) }

// UnmarshalText implements encoding.TextUnmarshaler.
func (f *FeedbackRatio) UnmarshalText(b []byte) error {
	return unmarshalEnum("feedback ratio", ratioNames, b, (*uint8)(f))
}

// CompensationSource selects where the cable droop compensation level is
// taken from.
type CompensationSource uint8

// Compensation sources.
const (
	CompensationInternal CompensationSource = iota // CDC register setting
	CompensationExternal                           // resistor on CDC pin
)

var compensationNames = []string{"internal", "external"}

func (c CompensationSource) String() string { return enumName(compensationNames, uint8(c)) }

// MarshalText implements encoding.TextMarshaler.
func (c CompensationSource) MarshalText() ([]byte, error) {
	return marshalEnum(compensationNames, uint8(c))
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (c *CompensationSource) UnmarshalText(b []byte) error {
	return unmarshalEnum("compensation source", compensationNames, b, (*uint8)(c))
}

// LightLoadMode selects the switching behavior at light load.
type LightLoadMode uint8

// Light load modes.
const (
	LightLoadPFM  LightLoadMode = iota // pulse frequency modulation
	LightLoadFPWM                      // forced PWM
)

var lightLoadNames = []string{"pfm", "fpwm"}

func (m LightLoadMode) String() string { return enumName(lightLoadNames, uint8(m)) }

// MarshalText implements encoding.TextMarshaler.
func (m LightLoadMode) MarshalText() ([]byte, error) { return marshalEnum(lightLoadNames, uint8(m)) }

// UnmarshalText implements encoding.TextUnmarshaler.
func (m *LightLoadMode) UnmarshalText(b []byte) error {
	return unmarshalEnum("light load mode", lightLoadNames, b, (*uint8)(m))
}

// OperatingMode is the conversion mode reported in STATUS.
type OperatingMode uint8

// Operating modes.
const (
	ModeBoost OperatingMode = iota
	ModeBuck
	ModeBuckBoost
	ModeReserved
)

var operatingModeNames = []string{"boost", "buck", "buck-boost", "reserved"}

func (m OperatingMode) String() string { return enumName(operatingModeNames, uint8(m)) }

// MarshalText implements encoding.TextMarshaler.
func (m OperatingMode) MarshalText() ([]byte, error) {
	return marshalEnum(operatingModeNames, uint8(m))
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (m *OperatingMode) UnmarshalText(b []byte) error {
	return unmarshalEnum("operating mode", operatingModeNames, b, (*uint8)(m))
}

func enumName(names []string, v uint8) string {
	if int(v) < len(names) {
		return names[v]
	}
	return "INVALID"
}

func marshalEnum(names []string, v uint8) ([]byte, error) {
	if int(v) >= len(names) {
		return nil, fmt.Errorf("bbreg: invalid value %d", v)
	}
	return []byte(names[v]), nil
}

func unmarshalEnum(what string, names []string, b []byte, v *uint8) error {
	s := strings.ToLower(strings.TrimSpace(string(b)))
	for i, n := range names {
		if strings.ToLower(n) == s {
			*v = uint8(i)
			return nil
		}
	}
	return fmt.Errorf("bbreg: invalid %s %q, want one of %s", what, s, strings.Join(names, ", "))
}
