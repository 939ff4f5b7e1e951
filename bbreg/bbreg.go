// Package bbreg defines the register map of the TPS55289 buck-boost
// converter along with typed accessors for each bit field and the linear
// formulas that relate register codes to physical quantities.
package bbreg

import (
	"fmt"
	"math"
	"time"

	"periph.io/x/conn/v3/physic"
)

// Register addresses.
const (
	AddrRefLSB    = 0x00
	AddrRefMSB    = 0x01
	AddrIOutLimit = 0x02
	AddrVOutSR    = 0x03
	AddrVOutFS    = 0x04
	AddrCDC       = 0x05
	AddrMode      = 0x06
	AddrStatus    = 0x07

	// NumRegisters is the number of registers in the map.
	NumRegisters = 8
)

// Power-on defaults.
const (
	DefaultRef       Ref       = 0x01A4
	DefaultIOutLimit IOutLimit = 0xE4
	DefaultVOutSR    VOutSR    = 0x01
	DefaultVOutFS    VOutFS    = 0x03
	DefaultCDC       CDC       = 0xE0
	DefaultMode      Mode      = 0x20
)

// Ref holds the 11 bit reference voltage code spread over REF_LSB and
// REF_MSB.
type Ref uint16

// MaxRefCode is the largest code the reference DAC accepts.
const MaxRefCode = 0x7FF

const (
	refOffset = 45 * physic.MilliVolt
	refStep   = 564500 * physic.NanoVolt
)

// NewRef assembles a Ref from its two register bytes.
func NewRef(lsb, msb byte) Ref {
	return Ref(uint16(msb&0b111)<<8 | uint16(lsb))
}

// LSB returns the value of the REF_LSB register.
func (r Ref) LSB() byte {
	return byte(r)
}

// MSB returns the value of the REF_MSB register.
func (r Ref) MSB() byte {
	return byte(r>>8) & 0b111
}

// Voltage returns the reference voltage encoded by r.
func (r Ref) Voltage() physic.ElectricPotential {
	return refOffset + physic.ElectricPotential(r&MaxRefCode)*refStep
}

// RefFromVoltage returns the code nearest to the reference voltage v. ok is
// false if v lies outside the DAC range.
func RefFromVoltage(v physic.ElectricPotential) (r Ref, ok bool) {
	f := float64(v-refOffset) / float64(refStep)
	if f < 0 || f > MaxRefCode {
		return 0, false
	}
	return Ref(math.Round(f)), true
}

// MinRefVoltage and MaxRefVoltage bound the reference DAC output.
var (
	MinRefVoltage = Ref(0).Voltage()
	MaxRefVoltage = Ref(MaxRefCode).Voltage()
)

// IOutLimit represents the IOUT_LIMIT register.
type IOutLimit uint8

// MaxCurrentLimitCode is the largest current limit setting.
const MaxCurrentLimitCode = 0x7F

// currentLimitStep is the sense voltage across the current sense resistor
// per current limit code.
const currentLimitStep = 500 * physic.MicroVolt

// Enabled returns true if output current limiting is enabled.
func (r IOutLimit) Enabled() bool {
	return r&(1<<7) != 0
}

// SetEnabled enables or disables output current limiting.
func (r *IOutLimit) SetEnabled(e bool) {
	if e {
		*r |= 1 << 7
	} else {
		*r &= ^IOutLimit(1 << 7)
	}
}

// Setting returns the raw current limit code.
func (r IOutLimit) Setting() uint8 {
	return uint8(r) & MaxCurrentLimitCode
}

// SetSetting sets the raw current limit code. Bits above 6 are ignored.
func (r *IOutLimit) SetSetting(c uint8) {
	*r = (*r & ^IOutLimit(MaxCurrentLimitCode)) | IOutLimit(c&MaxCurrentLimitCode)
}

// Current returns the current limit for the given sense resistor.
func (r IOutLimit) Current(rsense physic.ElectricResistance) physic.ElectricCurrent {
	if rsense <= 0 {
		return 0
	}
	// nV / nOhm = A
	v := float64(physic.ElectricPotential(r.Setting()) * currentLimitStep)
	return physic.ElectricCurrent(math.Round(v / float64(rsense) * float64(physic.Ampere)))
}

// MaxCurrentLimit returns the largest current limit for the given sense
// resistor.
func MaxCurrentLimit(rsense physic.ElectricResistance) physic.ElectricCurrent {
	return IOutLimit(MaxCurrentLimitCode).Current(rsense)
}

// CurrentLimitCode returns the code for current c with the given sense
// resistor. ok is false if c is out of range or not a whole number of
// steps.
func CurrentLimitCode(c physic.ElectricCurrent, rsense physic.ElectricResistance) (code uint8, ok bool) {
	if rsense <= 0 || c < 0 {
		return 0, false
	}
	// nA * nOhm / 1e9 = nV
	f := float64(c) * float64(rsense) / float64(physic.Ampere) / float64(currentLimitStep)
	n := math.Round(f)
	if math.Abs(f-n) > 1e-6 || n > MaxCurrentLimitCode {
		return 0, false
	}
	return uint8(n), true
}

// VOutSR represents the VOUT_SR register.
type VOutSR uint8

// OCPDelay returns the overcurrent response delay field.
func (r VOutSR) OCPDelay() OCPDelay {
	return OCPDelay(r>>4) & 0b11
}

// SetOCPDelay sets the overcurrent response delay field.
func (r *VOutSR) SetOCPDelay(d OCPDelay) {
	*r = (*r & ^VOutSR(0b11<<4)) | VOutSR(d&0b11)<<4
}

// SlewRate returns the output voltage slew rate field.
func (r VOutSR) SlewRate() SlewRate {
	return SlewRate(r) & 0b11
}

// SetSlewRate sets the output voltage slew rate field.
func (r *VOutSR) SetSlewRate(s SlewRate) {
	*r = (*r & ^VOutSR(0b11)) | VOutSR(s&0b11)
}

// VOutFS represents the VOUT_FS register.
type VOutFS uint8

// Feedback returns the feedback source.
func (r VOutFS) Feedback() Feedback {
	return Feedback(r>>7) & 1
}

// SetFeedback sets the feedback source.
func (r *VOutFS) SetFeedback(f Feedback) {
	*r = (*r & ^VOutFS(1<<7)) | VOutFS(f&1)<<7
}

// Ratio returns the internal feedback ratio.
func (r VOutFS) Ratio() FeedbackRatio {
	return FeedbackRatio(r) & 0b11
}

// SetRatio sets the internal feedback ratio.
func (r *VOutFS) SetRatio(f FeedbackRatio) {
	*r = (*r & ^VOutFS(0b11)) | VOutFS(f&0b11)
}

// CDC represents the CDC register which holds the fault indication masks
// and the cable droop compensation settings.
type CDC uint8

const (
	cdcSCMask     = 1 << 7
	cdcOCPMask    = 1 << 6
	cdcOVPMask    = 1 << 5
	cdcOption     = 1 << 3
	cdcSettingMsk = 0b111
)

// SCIndication returns true if short circuit indication is enabled.
func (r CDC) SCIndication() bool { return r&cdcSCMask != 0 }

// OCPIndication returns true if overcurrent indication is enabled.
func (r CDC) OCPIndication() bool { return r&cdcOCPMask != 0 }

// OVPIndication returns true if overvoltage indication is enabled.
func (r CDC) OVPIndication() bool { return r&cdcOVPMask != 0 }

// SetSCIndication enables or disables short circuit indication.
func (r *CDC) SetSCIndication(e bool) { r.set(cdcSCMask, e) }

// SetOCPIndication enables or disables overcurrent indication.
func (r *CDC) SetOCPIndication(e bool) { r.set(cdcOCPMask, e) }

// SetOVPIndication enables or disables overvoltage indication.
func (r *CDC) SetOVPIndication(e bool) { r.set(cdcOVPMask, e) }

func (r *CDC) set(m CDC, e bool) {
	if e {
		*r |= m
	} else {
		*r &= ^m
	}
}

// Source returns where cable compensation is configured from.
func (r CDC) Source() CompensationSource {
	if r&cdcOption != 0 {
		return CompensationExternal
	}
	return CompensationInternal
}

// SetSource sets where cable compensation is configured from.
func (r *CDC) SetSource(s CompensationSource) {
	r.set(cdcOption, s == CompensationExternal)
}

// Setting returns the raw compensation code.
func (r CDC) Setting() uint8 {
	return uint8(r) & cdcSettingMsk
}

// SetSetting sets the raw compensation code.
func (r *CDC) SetSetting(c uint8) {
	*r = (*r & ^CDC(cdcSettingMsk)) | CDC(c&cdcSettingMsk)
}

// CompensationStep is the output voltage rise per compensation code at
// full current sense voltage.
const CompensationStep = 100 * physic.MilliVolt

// MaxCompensation is the largest cable compensation setting.
const MaxCompensation = 7 * CompensationStep

// Compensation returns the cable compensation voltage.
func (r CDC) Compensation() physic.ElectricPotential {
	return physic.ElectricPotential(r.Setting()) * CompensationStep
}

// CompensationCode returns the code for compensation voltage v. ok is false
// if v is not a whole multiple of CompensationStep within range.
func CompensationCode(v physic.ElectricPotential) (code uint8, ok bool) {
	if v < 0 || v > MaxCompensation || v%CompensationStep != 0 {
		return 0, false
	}
	return uint8(v / CompensationStep), true
}

// Mode represents the MODE register.
type Mode uint8

const (
	modeOE     = 1 << 7
	modeFSWDBL = 1 << 6
	modeHiccup = 1 << 5
	modeDischg = 1 << 4
	modeVCC    = 1 << 3
	modeI2CAdd = 1 << 2
	modeFPWM   = 1 << 1
	modeReg    = 1 << 0
)

func (r *Mode) set(m Mode, e bool) {
	if e {
		*r |= m
	} else {
		*r &= ^m
	}
}

// OutputEnabled returns the OE bit.
func (r Mode) OutputEnabled() bool { return r&modeOE != 0 }

// SetOutputEnabled sets the OE bit.
func (r *Mode) SetOutputEnabled(e bool) { r.set(modeOE, e) }

// FrequencyDoubling returns true if switching frequency is doubled in
// buck-boost operation.
func (r Mode) FrequencyDoubling() bool { return r&modeFSWDBL != 0 }

// SetFrequencyDoubling sets the FSWDBL bit.
func (r *Mode) SetFrequencyDoubling(e bool) { r.set(modeFSWDBL, e) }

// Hiccup returns true if hiccup mode is used on short circuit.
func (r Mode) Hiccup() bool { return r&modeHiccup != 0 }

// SetHiccup sets the HICCUP bit.
func (r *Mode) SetHiccup(e bool) { r.set(modeHiccup, e) }

// Discharge returns true if the output is discharged when disabled.
func (r Mode) Discharge() bool { return r&modeDischg != 0 }

// SetDischarge sets the DISCHG bit.
func (r *Mode) SetDischarge(e bool) { r.set(modeDischg, e) }

// ExternalVCC returns the VCC bit.
func (r Mode) ExternalVCC() bool { return r&modeVCC != 0 }

// AltAddress returns the I2CADD bit.
func (r Mode) AltAddress() bool { return r&modeI2CAdd != 0 }

// RegisterControl returns true if VCC and I2CADD are taken from the
// register instead of the MODE pin.
func (r Mode) RegisterControl() bool { return r&modeReg != 0 }

// LightLoad returns the light load operating mode.
func (r Mode) LightLoad() LightLoadMode {
	if r&modeFPWM != 0 {
		return LightLoadFPWM
	}
	return LightLoadPFM
}

// SetLightLoad sets the light load operating mode.
func (r *Mode) SetLightLoad(m LightLoadMode) { r.set(modeFPWM, m == LightLoadFPWM) }

// Status represents the STATUS register. Fault bits are cleared by the
// device after each read.
type Status uint8

// SCP returns true if a short circuit was detected.
func (s Status) SCP() bool { return s&(1<<7) != 0 }

// OCP returns true if an overcurrent event was detected.
func (s Status) OCP() bool { return s&(1<<6) != 0 }

// OVP returns true if an overvoltage event was detected.
func (s Status) OVP() bool { return s&(1<<5) != 0 }

// Mode returns the present operating mode.
func (s Status) Mode() OperatingMode { return OperatingMode(s & 0b11) }

// Map is a snapshot of the whole register map.
type Map struct {
	Ref       Ref       `yaml:"ref" cbor:"1,keyasint"`
	IOutLimit IOutLimit `yaml:"iout_limit" cbor:"2,keyasint"`
	VOutSR    VOutSR    `yaml:"vout_sr" cbor:"3,keyasint"`
	VOutFS    VOutFS    `yaml:"vout_fs" cbor:"4,keyasint"`
	CDC       CDC       `yaml:"cdc" cbor:"5,keyasint"`
	Mode      Mode      `yaml:"mode" cbor:"6,keyasint"`
	Status    Status    `yaml:"status" cbor:"7,keyasint"`
}

// DefaultMap returns the register map after power on.
func DefaultMap() Map {
	return Map{
		Ref:       DefaultRef,
		IOutLimit: DefaultIOutLimit,
		VOutSR:    DefaultVOutSR,
		VOutFS:    DefaultVOutFS,
		CDC:       DefaultCDC,
		Mode:      DefaultMode,
	}
}

// Bytes returns the register values in address order.
func (m Map) Bytes() [NumRegisters]byte {
	return [NumRegisters]byte{
		m.Ref.LSB(), m.Ref.MSB(), byte(m.IOutLimit), byte(m.VOutSR),
		byte(m.VOutFS), byte(m.CDC), byte(m.Mode), byte(m.Status),
	}
}

// MapFromBytes builds a Map from register values in address order.
func MapFromBytes(b [NumRegisters]byte) Map {
	return Map{
		Ref:       NewRef(b[AddrRefLSB], b[AddrRefMSB]),
		IOutLimit: IOutLimit(b[AddrIOutLimit]),
		VOutSR:    VOutSR(b[AddrVOutSR]),
		VOutFS:    VOutFS(b[AddrVOutFS]),
		CDC:       CDC(b[AddrCDC]),
		Mode:      Mode(b[AddrMode]),
		Status:    Status(b[AddrStatus]),
	}
}

// Name returns the datasheet name of register addr.
func Name(addr uint8) string {
	switch addr {
	case AddrRefLSB:
		return "REF_LSB"
	case AddrRefMSB:
		return "REF_MSB"
	case AddrIOutLimit:
		return "IOUT_LIMIT"
	case AddrVOutSR:
		return "VOUT_SR"
	case AddrVOutFS:
		return "VOUT_FS"
	case AddrCDC:
		return "CDC"
	case AddrMode:
		return "MODE"
	case AddrStatus:
		return "STATUS"
	default:
		return fmt.Sprintf("REG_%#04x", addr)
	}
}

// Duration returns the overcurrent response delay as a time.Duration.
func (d OCPDelay) Duration() time.Duration {
	switch d & 0b11 {
	case OCPDelay128us:
		return 128 * time.Microsecond
	case OCPDelay3ms:
		return 3072 * time.Microsecond
	case OCPDelay6ms:
		return 6144 * time.Microsecond
	default:
		return 12288 * time.Microsecond
	}
}
