package main

import (
	"encoding"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"periph.io/x/conn/v3/physic"

	"github.com/oxplot/go-buckboost"
	"github.com/oxplot/go-buckboost/bbdriver/tps55289"
	"github.com/oxplot/go-buckboost/bbprofile"
	"github.com/oxplot/go-buckboost/bbreg"
)

func onOff(b bool) string {
	if b {
		return "on"
	}
	return "off"
}

// settingCmd returns a command that prints a setting when called without
// arguments and changes it when called with one.
func settingCmd[T fmt.Stringer, PT interface {
	*T
	encoding.TextUnmarshaler
}](a *app, use, short string, get func(*tps55289.Dev) (T, error), set func(*tps55289.Dev, T) error) *cobra.Command {
	return &cobra.Command{
		Use:   use + " [value]",
		Short: short,
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var v T
			if len(args) == 1 {
				if err := PT(&v).UnmarshalText([]byte(args[0])); err != nil {
					return err
				}
			}
			return a.withDev(func(d *tps55289.Dev) error {
				if len(args) == 1 {
					return set(d, v)
				}
				v, err := get(d)
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), v)
				return nil
			})
		},
	}
}

func (a *app) statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show output state, operating mode and latched faults",
		Long: "Show output state, operating mode and latched faults. Reading the " +
			"status clears the latched faults.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withDev(func(d *tps55289.Dev) error {
				m, err := d.Mode()
				if err != nil {
					return err
				}
				s, err := d.Status()
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "output: %s\n", onOff(m.OutputEnabled()))
				fmt.Fprintf(out, "mode:   %s\n", s.Mode)
				fmt.Fprintf(out, "faults: %s\n", s.Faults)
				return nil
			})
		},
	}
}

func (a *app) voltageCmd() *cobra.Command {
	return settingCmd(a, "voltage", "Get or set the output voltage",
		func(d *tps55289.Dev) (bbprofile.Voltage, error) {
			v, err := d.OutputVoltage()
			return bbprofile.Voltage(v), err
		},
		func(d *tps55289.Dev, v bbprofile.Voltage) error {
			return d.SetOutputVoltage(physic.ElectricPotential(v))
		})
}

func (a *app) referenceCmd() *cobra.Command {
	return settingCmd(a, "reference", "Get or set the reference voltage",
		func(d *tps55289.Dev) (bbprofile.Voltage, error) {
			v, err := d.ReferenceVoltage()
			return bbprofile.Voltage(v), err
		},
		func(d *tps55289.Dev, v bbprofile.Voltage) error {
			return d.SetReferenceVoltage(physic.ElectricPotential(v))
		})
}

func (a *app) currentLimitCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "current-limit [on|off|current]",
		Short: "Get or set the output current limit",
		Long: "Get or set the output current limit. Setting a current also turns " +
			"limiting on.",
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var limit bbprofile.Current
			if len(args) == 1 && args[0] != "on" && args[0] != "off" {
				if err := limit.UnmarshalText([]byte(args[0])); err != nil {
					return err
				}
			}
			return a.withDev(func(d *tps55289.Dev) error {
				if len(args) == 0 {
					c, err := d.CurrentLimit()
					if err != nil {
						return err
					}
					e, err := d.CurrentLimitEnabled()
					if err != nil {
						return err
					}
					fmt.Fprintf(cmd.OutOrStdout(), "%s (%s)\n", c, onOff(e))
					return nil
				}
				switch args[0] {
				case "on":
					return d.SetCurrentLimitEnabled(true)
				case "off":
					return d.SetCurrentLimitEnabled(false)
				}
				if err := d.SetCurrentLimit(physic.ElectricCurrent(limit)); err != nil {
					return err
				}
				return d.SetCurrentLimitEnabled(true)
			})
		},
	}
}

func (a *app) slewRateCmd() *cobra.Command {
	return settingCmd(a, "slew-rate", "Get or set the output voltage slew rate",
		(*tps55289.Dev).SlewRate, (*tps55289.Dev).SetSlewRate)
}

func (a *app) ocpDelayCmd() *cobra.Command {
	return settingCmd(a, "ocp-delay", "Get or set the overcurrent response delay",
		(*tps55289.Dev).OCPDelay, (*tps55289.Dev).SetOCPDelay)
}

func (a *app) feedbackCmd() *cobra.Command {
	return settingCmd(a, "feedback", "Get or set the feedback source (internal or external)",
		(*tps55289.Dev).Feedback, (*tps55289.Dev).SetFeedback)
}

func (a *app) ratioCmd() *cobra.Command {
	return settingCmd(a, "ratio", "Get or set the internal feedback ratio by its output step",
		(*tps55289.Dev).FeedbackRatio, (*tps55289.Dev).SetFeedbackRatio)
}

func (a *app) indicateCmd() *cobra.Command {
	cmd := settingCmd(a, "indicate", "Get or set the faults indicated on the FB/INT pin",
		(*tps55289.Dev).FaultIndication,
		func(d *tps55289.Dev, f buckboost.Fault) error { return buckboost.SetIndicatedFaults(d, f) })
	cmd.Use = "indicate [none|all|sc,ocp,ovp]"
	return cmd
}

func (a *app) compensationCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "compensation [internal|external|voltage]",
		Short: "Get or set output cable voltage drop compensation",
		Long: "Get or set output cable voltage drop compensation. A voltage selects " +
			"internal compensation with the given rise at full load.",
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var (
				src     bbreg.CompensationSource
				v       bbprofile.Voltage
				srcOnly bool
			)
			if len(args) == 1 {
				if err := src.UnmarshalText([]byte(args[0])); err == nil {
					srcOnly = true
				} else if err := v.UnmarshalText([]byte(args[0])); err != nil {
					return fmt.Errorf("%q is neither a compensation source nor a voltage", args[0])
				} else if _, ok := bbreg.CompensationCode(physic.ElectricPotential(v)); !ok {
					return fmt.Errorf("cable compensation %s must be a multiple of %s up to %s: %w",
						v, bbreg.CompensationStep, bbreg.MaxCompensation, buckboost.ErrInvalidValue)
				}
			}
			return a.withDev(func(d *tps55289.Dev) error {
				if len(args) == 1 {
					if err := d.SetCompensationSource(src); err != nil || srcOnly {
						return err
					}
					return d.SetCableCompensation(physic.ElectricPotential(v))
				}
				s, err := d.CompensationSource()
				if err != nil {
					return err
				}
				if s == bbreg.CompensationExternal {
					fmt.Fprintln(cmd.OutOrStdout(), s)
					return nil
				}
				c, err := d.CableCompensation()
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", s, c)
				return nil
			})
		},
	}
}

func (a *app) modeCmd() *cobra.Command {
	var (
		fswDouble, hiccup, discharge bool
		lightLoad                    string
	)
	cmd := &cobra.Command{
		Use:   "mode",
		Short: "Show or change the MODE register settings",
		Long: "Show or change the MODE register settings. Only the settings given " +
			"as flags are changed.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			fl := cmd.Flags()
			var ll bbreg.LightLoadMode
			if fl.Changed("light-load") {
				if err := ll.UnmarshalText([]byte(lightLoad)); err != nil {
					return err
				}
			}
			return a.withDev(func(d *tps55289.Dev) error {
				changes := []struct {
					flag string
					f    func() error
				}{
					{"fsw-double", func() error { return d.SetFrequencyDoubling(fswDouble) }},
					{"hiccup", func() error { return d.SetHiccup(hiccup) }},
					{"discharge", func() error { return d.SetDischarge(discharge) }},
					{"light-load", func() error { return d.SetLightLoadMode(ll) }},
				}
				changed := false
				for _, c := range changes {
					if !fl.Changed(c.flag) {
						continue
					}
					changed = true
					if err := c.f(); err != nil {
						return err
					}
				}
				if changed {
					return nil
				}

				m, err := d.Mode()
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "output:       %s\n", onOff(m.OutputEnabled()))
				fmt.Fprintf(out, "fsw-double:   %s\n", onOff(m.FrequencyDoubling()))
				fmt.Fprintf(out, "hiccup:       %s\n", onOff(m.Hiccup()))
				fmt.Fprintf(out, "discharge:    %s\n", onOff(m.Discharge()))
				fmt.Fprintf(out, "light-load:   %s\n", m.LightLoad())
				vcc, addr := "internal", tps55289.AddressDefault
				if m.ExternalVCC() {
					vcc = "external"
				}
				if m.AltAddress() {
					addr = tps55289.AddressAlt
				}
				src := "MODE pin"
				if m.RegisterControl() {
					src = "register"
				}
				fmt.Fprintf(out, "vcc:          %s (%s)\n", vcc, src)
				fmt.Fprintf(out, "address:      %#04x (%s)\n", uint8(addr), src)
				return nil
			})
		},
	}
	f := cmd.Flags()
	f.BoolVar(&fswDouble, "fsw-double", false, "double the switching frequency in buck-boost operation")
	f.BoolVar(&hiccup, "hiccup", false, "use hiccup mode on output short circuit")
	f.BoolVar(&discharge, "discharge", false, "discharge the output when it's turned off")
	f.StringVar(&lightLoad, "light-load", "", "light load operation: "+strings.Join([]string{
		bbreg.LightLoadPFM.String(), bbreg.LightLoadFPWM.String()}, " or "))
	return cmd
}

func (a *app) enableCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "enable",
		Short: "Turn the output on",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withDev(func(d *tps55289.Dev) error { return d.Enable() })
		},
	}
}

func (a *app) disableCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "disable",
		Short: "Turn the output off",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withDev(func(d *tps55289.Dev) error { return d.Disable() })
		},
	}
}
