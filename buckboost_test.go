package buckboost

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/oxplot/go-buckboost/bbreg"
)

func TestFaultPopOrder(t *testing.T) {
	f := FaultOvervoltage | FaultShortCircuit | FaultOvercurrent
	assert.Equal(t, FaultShortCircuit, f.Pop())
	assert.Equal(t, FaultOvercurrent, f.Pop())
	assert.Equal(t, FaultOvervoltage, f.Pop())
	assert.Equal(t, FaultNone, f.Pop())
	assert.Equal(t, FaultNone, f)
}

func TestFaultAddHas(t *testing.T) {
	var f Fault
	assert.False(t, f.Has(FaultAll))
	f.Add(FaultOvercurrent)
	assert.True(t, f.Has(FaultOvercurrent))
	assert.True(t, f.Has(FaultAll))
	assert.False(t, f.Has(FaultShortCircuit|FaultOvervoltage))
}

func TestFaultString(t *testing.T) {
	tests := []struct {
		f    Fault
		want string
	}{
		{FaultNone, "None"},
		{FaultShortCircuit, "SC"},
		{FaultOvercurrent | FaultOvervoltage, "OCP|OVP"},
		{FaultAll, "SC|OCP|OVP"},
		{0x80, "INVALID"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.f.String())
	}
}

func TestStatusFromRegister(t *testing.T) {
	s := StatusFromRegister(bbreg.Status(0x61))
	assert.Equal(t, FaultOvercurrent|FaultOvervoltage, s.Faults)
	assert.Equal(t, bbreg.ModeBuck, s.Mode)

	s = StatusFromRegister(0)
	assert.Equal(t, Status{Faults: FaultNone, Mode: bbreg.ModeBoost}, s)
}

func TestFaultText(t *testing.T) {
	var f Fault
	assert.NoError(t, f.UnmarshalText([]byte("SC| ovp")))
	assert.Equal(t, FaultShortCircuit|FaultOvervoltage, f)

	assert.NoError(t, f.UnmarshalText([]byte("all")))
	assert.Equal(t, FaultAll, f)

	assert.NoError(t, f.UnmarshalText([]byte("none")))
	assert.Equal(t, FaultNone, f)

	assert.Error(t, f.UnmarshalText([]byte("sc,fire")))

	b, err := (FaultOvercurrent | FaultShortCircuit).MarshalText()
	assert.NoError(t, err)
	assert.Equal(t, "sc|ocp", string(b))

	_, err = Fault(0x40).MarshalText()
	assert.Error(t, err)
}

// indicationRecorder only implements SetFaultIndication; other methods
// panic through the nil embedded Converter.
type indicationRecorder struct {
	Converter
	set map[Fault]bool
}

func (r *indicationRecorder) SetFaultIndication(f Fault, enabled bool) error {
	r.set[f] = enabled
	return nil
}

func TestSetIndicatedFaults(t *testing.T) {
	tests := []struct {
		f    Fault
		want map[Fault]bool
	}{
		{FaultAll, map[Fault]bool{FaultAll: true}},
		{FaultNone, map[Fault]bool{FaultAll: false}},
		{FaultOvervoltage, map[Fault]bool{
			FaultOvervoltage:                     true,
			FaultShortCircuit | FaultOvercurrent: false,
		}},
	}
	for _, tt := range tests {
		r := &indicationRecorder{set: map[Fault]bool{}}
		assert.NoError(t, SetIndicatedFaults(r, tt.f))
		assert.Equal(t, tt.want, r.set, tt.f.String())
	}
}
