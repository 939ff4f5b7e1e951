package bbprofile

import (
	"log/slog"

	"periph.io/x/conn/v3/physic"

	"github.com/oxplot/go-buckboost"
	"github.com/oxplot/go-buckboost/bbreg"
)

// Logger is a passthrough converter that logs every setting written to the
// underlying converter. It's mostly used to trace what Apply does, either in
// front of a real device or, with a nil base, as a dry run.
type Logger struct {
	log  *slog.Logger
	base buckboost.Converter
}

var _ buckboost.Converter = (*Logger)(nil)

// NewLogger creates a new logger which writes to l and passes calls through
// to base. If no base is provided, setters succeed without effect and
// getters return zero values.
func NewLogger(l *slog.Logger, base buckboost.Converter) *Logger {
	if l == nil {
		l = slog.Default()
	}
	return &Logger{log: l, base: base}
}

func (l *Logger) set(op string, value any, f func() error) error {
	var err error
	if l.base != nil {
		err = f()
	}
	if err != nil {
		l.log.Error(op, "value", value, "err", err)
	} else {
		l.log.Info(op, "value", value)
	}
	return err
}

// Enable logs and passes the call to the base converter.
func (l *Logger) Enable() error {
	return l.set("enable output", true, func() error { return l.base.Enable() })
}

// Disable logs and passes the call to the base converter.
func (l *Logger) Disable() error {
	return l.set("disable output", false, func() error { return l.base.Disable() })
}

// SetOutputVoltage logs and passes the call to the base converter.
func (l *Logger) SetOutputVoltage(v physic.ElectricPotential) error {
	return l.set("set output voltage", v.String(), func() error { return l.base.SetOutputVoltage(v) })
}

// OutputVoltage returns the value from the base converter.
func (l *Logger) OutputVoltage() (physic.ElectricPotential, error) {
	if l.base == nil {
		return 0, nil
	}
	return l.base.OutputVoltage()
}

// SetReferenceVoltage logs and passes the call to the base converter.
func (l *Logger) SetReferenceVoltage(v physic.ElectricPotential) error {
	return l.set("set reference voltage", v.String(), func() error { return l.base.SetReferenceVoltage(v) })
}

// ReferenceVoltage returns the value from the base converter.
func (l *Logger) ReferenceVoltage() (physic.ElectricPotential, error) {
	if l.base == nil {
		return 0, nil
	}
	return l.base.ReferenceVoltage()
}

// SetCurrentLimit logs and passes the call to the base converter.
func (l *Logger) SetCurrentLimit(c physic.ElectricCurrent) error {
	return l.set("set current limit", c.String(), func() error { return l.base.SetCurrentLimit(c) })
}

// CurrentLimit returns the value from the base converter.
func (l *Logger) CurrentLimit() (physic.ElectricCurrent, error) {
	if l.base == nil {
		return 0, nil
	}
	return l.base.CurrentLimit()
}

// SetCurrentLimitEnabled logs and passes the call to the base converter.
func (l *Logger) SetCurrentLimitEnabled(e bool) error {
	return l.set("set current limit enabled", e, func() error { return l.base.SetCurrentLimitEnabled(e) })
}

// CurrentLimitEnabled returns the value from the base converter.
func (l *Logger) CurrentLimitEnabled() (bool, error) {
	if l.base == nil {
		return false, nil
	}
	return l.base.CurrentLimitEnabled()
}

// SetSlewRate logs and passes the call to the base converter.
func (l *Logger) SetSlewRate(s bbreg.SlewRate) error {
	return l.set("set slew rate", s.String(), func() error { return l.base.SetSlewRate(s) })
}

// SlewRate returns the value from the base converter.
func (l *Logger) SlewRate() (bbreg.SlewRate, error) {
	if l.base == nil {
		return 0, nil
	}
	return l.base.SlewRate()
}

// SetOCPDelay logs and passes the call to the base converter.
func (l *Logger) SetOCPDelay(d bbreg.OCPDelay) error {
	return l.set("set ocp delay", d.String(), func() error { return l.base.SetOCPDelay(d) })
}

// OCPDelay returns the value from the base converter.
func (l *Logger) OCPDelay() (bbreg.OCPDelay, error) {
	if l.base == nil {
		return 0, nil
	}
	return l.base.OCPDelay()
}

// SetFeedback logs and passes the call to the base converter.
func (l *Logger) SetFeedback(f bbreg.Feedback) error {
	return l.set("set feedback", f.String(), func() error { return l.base.SetFeedback(f) })
}

// Feedback returns the value from the base converter.
func (l *Logger) Feedback() (bbreg.Feedback, error) {
	if l.base == nil {
		return 0, nil
	}
	return l.base.Feedback()
}

// SetFeedbackRatio logs and passes the call to the base converter.
func (l *Logger) SetFeedbackRatio(r bbreg.FeedbackRatio) error {
	return l.set("set feedback ratio", r.String(), func() error { return l.base.SetFeedbackRatio(r) })
}

// FeedbackRatio returns the value from the base converter.
func (l *Logger) FeedbackRatio() (bbreg.FeedbackRatio, error) {
	if l.base == nil {
		return 0, nil
	}
	return l.base.FeedbackRatio()
}

// SetFaultIndication logs and passes the call to the base converter.
func (l *Logger) SetFaultIndication(f buckboost.Fault, enabled bool) error {
	op := "mask faults"
	if enabled {
		op = "indicate faults"
	}
	return l.set(op, f.String(), func() error { return l.base.SetFaultIndication(f, enabled) })
}

// FaultIndication returns the value from the base converter.
func (l *Logger) FaultIndication() (buckboost.Fault, error) {
	if l.base == nil {
		return buckboost.FaultNone, nil
	}
	return l.base.FaultIndication()
}

// SetCompensationSource logs and passes the call to the base converter.
func (l *Logger) SetCompensationSource(s bbreg.CompensationSource) error {
	return l.set("set compensation source", s.String(), func() error { return l.base.SetCompensationSource(s) })
}

// CompensationSource returns the value from the base converter.
func (l *Logger) CompensationSource() (bbreg.CompensationSource, error) {
	if l.base == nil {
		return 0, nil
	}
	return l.base.CompensationSource()
}

// SetCableCompensation logs and passes the call to the base converter.
func (l *Logger) SetCableCompensation(v physic.ElectricPotential) error {
	return l.set("set cable compensation", v.String(), func() error { return l.base.SetCableCompensation(v) })
}

// CableCompensation returns the value from the base converter.
func (l *Logger) CableCompensation() (physic.ElectricPotential, error) {
	if l.base == nil {
		return 0, nil
	}
	return l.base.CableCompensation()
}

// SetFrequencyDoubling logs and passes the call to the base converter.
func (l *Logger) SetFrequencyDoubling(e bool) error {
	return l.set("set frequency doubling", e, func() error { return l.base.SetFrequencyDoubling(e) })
}

// SetHiccup logs and passes the call to the base converter.
func (l *Logger) SetHiccup(e bool) error {
	return l.set("set hiccup", e, func() error { return l.base.SetHiccup(e) })
}

// SetDischarge logs and passes the call to the base converter.
func (l *Logger) SetDischarge(e bool) error {
	return l.set("set discharge", e, func() error { return l.base.SetDischarge(e) })
}

// SetLightLoadMode logs and passes the call to the base converter.
func (l *Logger) SetLightLoadMode(m bbreg.LightLoadMode) error {
	return l.set("set light load mode", m.String(), func() error { return l.base.SetLightLoadMode(m) })
}

// Status logs and returns the converter status.
func (l *Logger) Status() (buckboost.Status, error) {
	if l.base == nil {
		return buckboost.Status{}, nil
	}
	s, err := l.base.Status()
	if err != nil {
		l.log.Error("read status", "err", err)
		return s, err
	}
	l.log.Info("read status", "faults", s.Faults.String(), "mode", s.Mode.String())
	return s, nil
}
