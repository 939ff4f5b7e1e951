package main

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/chzyer/readline"
	"github.com/spf13/cobra"
)

func (a *app) shellCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "shell",
		Short: "Run commands interactively",
		Long: "Run commands interactively. Each line is run as a tps55289ctl command " +
			"line with the global flags given to shell as defaults.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			rl, err := readline.NewEx(&readline.Config{
				Prompt:          "tps55289> ",
				InterruptPrompt: "^C",
				EOFPrompt:       "exit",
			})
			if err != nil {
				return fmt.Errorf("failed to create readline: %w", err)
			}
			defer rl.Close()
			return a.shell(rl.Readline, rl.Stdout(), rl.Stderr())
		},
	}
}

// shell runs command lines returned by readLine until it returns an error
// or the user exits.
func (a *app) shell(readLine func() (string, error), stdout, stderr io.Writer) error {
	saved := a.stderr
	a.stderr = stderr
	defer func() { a.stderr = saved }()

	for {
		line, err := readLine()
		if errors.Is(err, readline.ErrInterrupt) {
			continue
		}
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}

		fields := strings.Fields(line)
		if len(fields) == 0 {
			continue
		}
		switch fields[0] {
		case "exit", "quit":
			return nil
		case "shell":
			fmt.Fprintln(stderr, "already in a shell")
			continue
		}

		// Flags are bound to a, so a fresh command tree starts with the
		// current global flag values as defaults.
		sub := *a
		root := sub.rootCmd()
		root.SetArgs(fields)
		root.SetOut(stdout)
		root.SetErr(stderr)
		root.Execute()
	}
}
