package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/oxplot/go-buckboost/bbdriver/tps55289"
	"github.com/oxplot/go-buckboost/bbprofile"
)

func (a *app) applyCmd() *cobra.Command {
	var (
		config, profile string
		dryRun          bool
	)
	cmd := &cobra.Command{
		Use:   "apply",
		Short: "Apply an output profile",
		Long: "Apply an output profile from a YAML profile file, or the built-in " +
			"5V profile if no file is given. The output is turned off while the " +
			"profile is written and only turned back on if no fault is latched.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			p := bbprofile.Default()
			if config != "" {
				f, err := bbprofile.LoadFile(config)
				if err != nil {
					return err
				}
				if p, err = f.Profile(profile); err != nil {
					return err
				}
			} else if profile != "" {
				return fmt.Errorf("--profile %q needs --config", profile)
			}
			fmt.Fprintln(cmd.OutOrStdout(), p)

			if dryRun {
				return p.Apply(cmd.Context(), bbprofile.NewLogger(a.log, nil))
			}
			return a.withDev(func(d *tps55289.Dev) error {
				return p.Apply(cmd.Context(), bbprofile.NewLogger(a.log, d))
			})
		},
	}
	f := cmd.Flags()
	f.StringVarP(&config, "config", "c", "", "YAML profile file")
	f.StringVarP(&profile, "profile", "p", "", "profile name, defaults to the file's default profile")
	f.BoolVarP(&dryRun, "dry-run", "n", false, "log the settings without touching the device")
	return cmd
}
