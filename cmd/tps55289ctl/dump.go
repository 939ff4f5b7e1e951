package main

import (
	"fmt"
	"io"

	"github.com/fxamacker/cbor/v2"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/oxplot/go-buckboost/bbdriver/tps55289"
	"github.com/oxplot/go-buckboost/bbreg"
)

var dumpEncMode cbor.EncMode

func init() {
	var err error
	dumpEncMode, err = cbor.EncOptions{
		Sort:        cbor.SortCanonical,
		IndefLength: cbor.IndefLengthForbidden,
	}.EncMode()
	if err != nil {
		panic(fmt.Sprintf("failed to create dump CBOR encoder mode: %v", err))
	}
}

func writeDump(w io.Writer, format string, m bbreg.Map) error {
	switch format {
	case "text":
		for i, v := range m.Bytes() {
			fmt.Fprintf(w, "%#04x %-10s %#04x %08b\n", i, bbreg.Name(uint8(i)), v, v)
		}
		return nil
	case "yaml":
		enc := yaml.NewEncoder(w)
		if err := enc.Encode(m); err != nil {
			return err
		}
		return enc.Close()
	case "cbor":
		b, err := dumpEncMode.Marshal(m)
		if err != nil {
			return err
		}
		_, err = w.Write(b)
		return err
	}
	return fmt.Errorf("unknown dump format %q", format)
}

func (a *app) dumpCmd() *cobra.Command {
	var format string
	cmd := &cobra.Command{
		Use:   "dump",
		Short: "Dump the register map",
		Long: "Dump the register map as text, YAML or CBOR. Reading the map clears " +
			"the latched faults.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if format != "text" && format != "yaml" && format != "cbor" {
				return fmt.Errorf("unknown dump format %q", format)
			}
			return a.withDev(func(d *tps55289.Dev) error {
				m, err := d.Registers()
				if err != nil {
					return err
				}
				return writeDump(cmd.OutOrStdout(), format, m)
			})
		},
	}
	cmd.Flags().StringVarP(&format, "format", "f", "text", "output format: text, yaml or cbor")
	return cmd
}
