package bbreg

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
	"periph.io/x/conn/v3/physic"
)

func TestRefBytes(t *testing.T) {
	r := NewRef(0xA4, 0xF9)
	assert.Equal(t, Ref(0x1A4), r)
	assert.Equal(t, byte(0xA4), r.LSB())
	assert.Equal(t, byte(0x01), r.MSB())
}

func TestRefVoltage(t *testing.T) {
	assert.Equal(t, 45*physic.MilliVolt, Ref(0).Voltage())
	assert.InDelta(t, float64(1200*physic.MilliVolt), float64(MaxRefVoltage), float64(physic.MilliVolt))

	tests := []struct {
		v    physic.ElectricPotential
		want Ref
		ok   bool
	}{
		{45 * physic.MilliVolt, 0, true},
		{282 * physic.MilliVolt, 0x1A4, true},
		{MaxRefVoltage, MaxRefCode, true},
		{45200 * physic.MicroVolt, 0, true}, // rounds to the nearest code
		{MaxRefVoltage + 100*physic.MicroVolt, 0, false},
		{40 * physic.MilliVolt, 0, false},
		{1210 * physic.MilliVolt, 0, false},
	}
	for _, tt := range tests {
		got, ok := RefFromVoltage(tt.v)
		assert.Equal(t, tt.ok, ok, "RefFromVoltage(%s)", tt.v)
		if tt.ok {
			assert.Equal(t, tt.want, got, "RefFromVoltage(%s)", tt.v)
		}
	}
}

func TestIOutLimit(t *testing.T) {
	r := DefaultIOutLimit
	assert.True(t, r.Enabled())
	assert.Equal(t, uint8(100), r.Setting())
	assert.Equal(t, 5*physic.Ampere, r.Current(10*physic.MilliOhm))
	assert.Equal(t, physic.ElectricCurrent(0), r.Current(0))

	r.SetEnabled(false)
	r.SetSetting(0xFF)
	assert.Equal(t, IOutLimit(0x7F), r)

	code, ok := CurrentLimitCode(50*physic.MilliAmpere, 10*physic.MilliOhm)
	assert.True(t, ok)
	assert.Equal(t, uint8(1), code)

	code, ok = CurrentLimitCode(6350*physic.MilliAmpere, 10*physic.MilliOhm)
	assert.True(t, ok)
	assert.Equal(t, uint8(MaxCurrentLimitCode), code)
	assert.Equal(t, 6350*physic.MilliAmpere, MaxCurrentLimit(10*physic.MilliOhm))

	code, ok = CurrentLimitCode(3*physic.Ampere, 5*physic.MilliOhm)
	assert.True(t, ok)
	assert.Equal(t, uint8(30), code)

	_, ok = CurrentLimitCode(6370*physic.MilliAmpere, 10*physic.MilliOhm)
	assert.False(t, ok, "above the largest code")
	_, ok = CurrentLimitCode(1230*physic.MilliAmpere, 10*physic.MilliOhm)
	assert.False(t, ok, "between two codes")

	_, ok = CurrentLimitCode(physic.Ampere, 0)
	assert.False(t, ok)
}

func TestVOutSR(t *testing.T) {
	r := DefaultVOutSR
	assert.Equal(t, SlewRate2500uVPerUs, r.SlewRate())
	assert.Equal(t, OCPDelay128us, r.OCPDelay())

	r.SetOCPDelay(OCPDelay12ms)
	assert.Equal(t, VOutSR(0x31), r)
	r.SetSlewRate(SlewRate1250uVPerUs)
	assert.Equal(t, VOutSR(0x30), r)
	assert.Equal(t, 12288*time.Microsecond, r.OCPDelay().Duration())
}

func TestCDC(t *testing.T) {
	r := DefaultCDC
	assert.True(t, r.SCIndication())
	assert.True(t, r.OCPIndication())
	assert.True(t, r.OVPIndication())
	assert.Equal(t, CompensationInternal, r.Source())

	r.SetOVPIndication(false)
	r.SetSource(CompensationExternal)
	r.SetSetting(7)
	assert.Equal(t, CDC(0xCF), r)
	assert.Equal(t, 700*physic.MilliVolt, r.Compensation())

	_, ok := CompensationCode(250 * physic.MilliVolt)
	assert.False(t, ok)
	code, ok := CompensationCode(MaxCompensation)
	assert.True(t, ok)
	assert.Equal(t, uint8(7), code)
}

func TestMode(t *testing.T) {
	m := DefaultMode
	assert.False(t, m.OutputEnabled())
	assert.True(t, m.Hiccup())
	assert.Equal(t, LightLoadPFM, m.LightLoad())

	m.SetOutputEnabled(true)
	m.SetLightLoad(LightLoadFPWM)
	m.SetHiccup(false)
	assert.Equal(t, Mode(0x82), m)
	assert.False(t, m.RegisterControl())
	assert.False(t, m.ExternalVCC())
	assert.False(t, m.AltAddress())
}

func TestStatus(t *testing.T) {
	s := Status(0xA3)
	assert.True(t, s.SCP())
	assert.False(t, s.OCP())
	assert.True(t, s.OVP())
	assert.Equal(t, ModeReserved, s.Mode())
}

func TestMapBytes(t *testing.T) {
	m := DefaultMap()
	b := m.Bytes()
	assert.Equal(t, [NumRegisters]byte{0xA4, 0x01, 0xE4, 0x01, 0x03, 0xE0, 0x20, 0x00}, b)
	assert.Equal(t, m, MapFromBytes(b))
	assert.Equal(t, "IOUT_LIMIT", Name(AddrIOutLimit))
	assert.Equal(t, "REG_0x09", Name(9))
}

func TestFeedbackRatio(t *testing.T) {
	for r := Ratio2500uV; r <= Ratio10mV; r++ {
		// VOUT step = VREF step / ratio, roughly the named step.
		step := float64(refStep) / r.Value()
		assert.InEpsilon(t, float64(r.Step()), step, 0.01, r.String())
	}
}

func TestEnumText(t *testing.T) {
	var cfg struct {
		SR   SlewRate      `yaml:"sr"`
		OCP  OCPDelay      `yaml:"ocp"`
		FB   Feedback      `yaml:"fb"`
		FS   FeedbackRatio `yaml:"fs"`
		LL   LightLoadMode `yaml:"ll"`
		Mode OperatingMode `yaml:"mode"`
	}
	doc := "sr: 5mV/us\nocp: 3.072ms\nfb: External\nfs: 7.5mV\nll: fpwm\nmode: buck-boost\n"
	require.NoError(t, yaml.Unmarshal([]byte(doc), &cfg))
	assert.Equal(t, SlewRate5mVPerUs, cfg.SR)
	assert.Equal(t, OCPDelay3ms, cfg.OCP)
	assert.Equal(t, FeedbackExternal, cfg.FB)
	assert.Equal(t, Ratio7500uV, cfg.FS)
	assert.Equal(t, LightLoadFPWM, cfg.LL)
	assert.Equal(t, ModeBuckBoost, cfg.Mode)

	out, err := yaml.Marshal(cfg)
	require.NoError(t, err)
	assert.Equal(t, "sr: 5mV/us\nocp: 3.072ms\nfb: external\nfs: 7.5mV\nll: fpwm\nmode: buck-boost\n", string(out))

	var sr SlewRate
	assert.Error(t, sr.UnmarshalText([]byte("fast")))
	_, err = SlewRate(9).MarshalText()
	assert.Error(t, err)
	assert.Equal(t, "INVALID", SlewRate(9).String())
}
