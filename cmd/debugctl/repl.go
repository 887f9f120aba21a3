// Copyright 2014 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/chzyer/readline"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var replCmd = &cobra.Command{
	Use:   "repl",
	Short: "Start an interactive session shell",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runREPL()
	},
}

func runREPL() error {
	historyFile := ""
	if home, err := os.UserHomeDir(); err == nil {
		historyFile = home + "/.debugctl_history"
	}

	rl, err := readline.NewEx(&readline.Config{
		Prompt:      "(debugctl) ",
		HistoryFile: historyFile,
	})
	if err != nil {
		return err
	}
	defer rl.Close()

	fmt.Println(`Type a debugctl subcommand (execute, attach, connect, go, step-into,
step-over, break-into, regs, mem, break, threads, modules, list) or "quit".`)

	for {
		line, err := rl.Readline()
		if err == io.EOF || err == readline.ErrInterrupt {
			return nil
		}
		if err != nil {
			return err
		}

		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if line == "quit" || line == "exit" {
			return nil
		}

		if err := dispatchREPLLine(line); err != nil {
			fmt.Fprintln(os.Stderr, err)
		}
	}
}

// dispatchREPLLine re-enters the cobra command tree for one typed line, the
// same pattern the interactive shell in the corpus uses to reuse its
// non-interactive command handlers (sendGdbCommand's "-" passthrough).
func dispatchREPLLine(line string) error {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return nil
	}

	cmd, rest, err := rootCmd.Find(fields)
	if err != nil {
		return err
	}
	if cmd == rootCmd {
		return fmt.Errorf("unknown command %q", fields[0])
	}
	if cmd.RunE == nil {
		return fmt.Errorf("command %q has no handler", fields[0])
	}

	logrus.WithField("cmd", fields[0]).Debug("repl dispatch")
	if err := cmd.Flags().Parse(rest); err != nil {
		return err
	}
	return cmd.RunE(cmd, cmd.Flags().Args())
}
