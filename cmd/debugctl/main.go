// Copyright 2014 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Command debugctl is a thin command-line driver over the adapter registry:
// it launches or attaches a backend, runs a cobra subcommand or drops into
// an interactive readline shell, and prints results as text.
package main

import (
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"nativedbg/adapter"

	_ "nativedbg/dbgeng"
	_ "nativedbg/gdbadapter"
	_ "nativedbg/lldbadapter"
)

var verbose bool

var rootCmd = &cobra.Command{
	Use:   "debugctl",
	Short: "Drive a GDB/LLDB/DbgEng backend from the command line",
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if verbose {
			logrus.SetLevel(logrus.DebugLevel)
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&sess.adapterName, "adapter", "", "adapter name to use (default: best for host)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")

	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(executeCmd)
	rootCmd.AddCommand(attachCmd)
	rootCmd.AddCommand(connectCmd)
	rootCmd.AddCommand(goCmd)
	rootCmd.AddCommand(stepIntoCmd)
	rootCmd.AddCommand(stepOverCmd)
	rootCmd.AddCommand(breakIntoCmd)
	rootCmd.AddCommand(regsCmd)
	rootCmd.AddCommand(memCmd)
	rootCmd.AddCommand(breakCmd)
	rootCmd.AddCommand(threadsCmd)
	rootCmd.AddCommand(modulesCmd)
	rootCmd.AddCommand(replCmd)
}

func main() {
	logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// anyBinaryView is a permissive adapter.BinaryView used when debugctl has no
// real host binary-analysis framework to ask: every adapter kind is reported
// as format/architecture-compatible (it reports "ELF", the only format a
// registered predicate checks), leaving CanExecute/CanConnect/host-OS
// checks in the registry to decide availability.
type anyBinaryView struct{}

func (anyBinaryView) Format() string       { return "ELF" }
func (anyBinaryView) Architecture() string { return "" }
func (anyBinaryView) EntryPoint() uint64   { return 0 }

func resolveAdapterName() (string, error) {
	if sess.adapterName != "" {
		return sess.adapterName, nil
	}
	name := adapter.Default.DefaultName(anyBinaryView{})
	if name == "" {
		return "", fmt.Errorf("no adapter available on this host")
	}
	return name, nil
}
