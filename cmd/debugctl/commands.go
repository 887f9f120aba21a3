// Copyright 2014 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package main

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"nativedbg/adapter"
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List adapters available on this host",
	RunE: func(cmd *cobra.Command, args []string) error {
		for _, name := range adapter.Default.Available(anyBinaryView{}) {
			fmt.Println(name)
		}
		return nil
	},
}

var launchArgs string

var executeCmd = &cobra.Command{
	Use:   "execute <path> [args...]",
	Short: "Launch a process under the selected adapter",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newAdapter()
		if err != nil {
			return err
		}
		cfg := adapter.LaunchConfig{Args: launchArgs, CaptureStdio: true}
		var ok bool
		if len(args) > 1 {
			ok, err = a.ExecuteWithArgs(context.Background(), args[0], args[1:], cfg)
		} else {
			ok, err = a.Execute(context.Background(), args[0], cfg)
		}
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("execute reported failure")
		}
		sess.set(a)
		fmt.Println("launched")
		return nil
	},
}

var attachCmd = &cobra.Command{
	Use:   "attach <pid>",
	Short: "Attach to a running process by pid",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		pid, err := strconv.ParseUint(args[0], 10, 32)
		if err != nil {
			return fmt.Errorf("invalid pid %q: %w", args[0], err)
		}
		a, err := newAdapter()
		if err != nil {
			return err
		}
		ok, err := a.Attach(context.Background(), uint32(pid))
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("attach reported failure")
		}
		sess.set(a)
		fmt.Println("attached")
		return nil
	},
}

var connectCmd = &cobra.Command{
	Use:   "connect <host> <port>",
	Short: "Connect to a remote gdbserver/lldb-server stub",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		port, err := strconv.ParseUint(args[1], 10, 16)
		if err != nil {
			return fmt.Errorf("invalid port %q: %w", args[1], err)
		}
		a, err := newAdapter()
		if err != nil {
			return err
		}
		ok, err := a.Connect(context.Background(), args[0], uint16(port))
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("connect reported failure")
		}
		sess.set(a)
		fmt.Println("connected")
		return nil
	},
}

var goCmd = &cobra.Command{
	Use:   "go",
	Short: "Resume execution until the next stop",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runAndPrintStop(func(a adapter.Adapter) (adapter.StopReason, error) {
			return a.Go(context.Background())
		})
	},
}

var stepIntoCmd = &cobra.Command{
	Use:   "step-into",
	Short: "Single-step one instruction",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runAndPrintStop(func(a adapter.Adapter) (adapter.StopReason, error) {
			return a.StepInto(context.Background())
		})
	},
}

var stepOverCmd = &cobra.Command{
	Use:   "step-over",
	Short: "Step over the instruction at the current IP",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runAndPrintStop(func(a adapter.Adapter) (adapter.StopReason, error) {
			return a.StepOver(context.Background())
		})
	},
}

func runAndPrintStop(fn func(adapter.Adapter) (adapter.StopReason, error)) error {
	a, err := sess.get()
	if err != nil {
		return err
	}
	stop, err := fn(a)
	if err != nil {
		return err
	}
	fmt.Println(stop.String())
	return nil
}

var breakIntoCmd = &cobra.Command{
	Use:   "break-into",
	Short: "Interrupt a running target",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := sess.get()
		if err != nil {
			return err
		}
		return a.BreakInto()
	},
}

var regsCmd = &cobra.Command{
	Use:   "regs [name] [value]",
	Short: "List registers, read one, or write one",
	Args:  cobra.MaximumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := sess.get()
		if err != nil {
			return err
		}
		ctx := context.Background()
		switch len(args) {
		case 0:
			names, err := a.RegisterList(ctx)
			if err != nil {
				return err
			}
			for _, n := range names {
				fmt.Println(n)
			}
			return nil
		case 1:
			r, err := a.ReadRegister(ctx, args[0])
			if err != nil {
				return err
			}
			fmt.Printf("%s = %#x\n", r.Name, r.Value)
			return nil
		default:
			v, err := strconv.ParseUint(strings.TrimPrefix(args[1], "0x"), 16, 64)
			if err != nil {
				return fmt.Errorf("invalid register value %q: %w", args[1], err)
			}
			return a.WriteRegister(ctx, args[0], v)
		}
	},
}

var memSize int

var memCmd = &cobra.Command{
	Use:   "mem <addr> [hexbytes]",
	Short: "Read or write target memory",
	Args:  cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := sess.get()
		if err != nil {
			return err
		}
		addr, err := strconv.ParseUint(strings.TrimPrefix(args[0], "0x"), 16, 64)
		if err != nil {
			return fmt.Errorf("invalid address %q: %w", args[0], err)
		}
		ctx := context.Background()
		if len(args) == 1 {
			data, err := a.ReadMemory(ctx, addr, memSize)
			if err != nil {
				return err
			}
			fmt.Printf("%x\n", data)
			return nil
		}
		data, err := hexStringToBytes(args[1])
		if err != nil {
			return err
		}
		return a.WriteMemory(ctx, addr, data)
	},
}

func hexStringToBytes(s string) ([]byte, error) {
	if len(s)%2 != 0 {
		return nil, fmt.Errorf("odd-length hex string %q", s)
	}
	out := make([]byte, len(s)/2)
	for i := range out {
		v, err := strconv.ParseUint(s[i*2:i*2+2], 16, 8)
		if err != nil {
			return nil, fmt.Errorf("invalid hex byte %q: %w", s[i*2:i*2+2], err)
		}
		out[i] = byte(v)
	}
	return out, nil
}

var breakCmd = &cobra.Command{
	Use:   "break add|remove|list [addr]",
	Short: "Manage breakpoints",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := sess.get()
		if err != nil {
			return err
		}
		ctx := context.Background()
		switch args[0] {
		case "list":
			for _, bp := range a.BreakpointList() {
				fmt.Printf("#%d %#x active=%v\n", bp.ID, bp.Address, bp.Active)
			}
			return nil
		case "add":
			if len(args) != 2 {
				return fmt.Errorf("break add requires an address")
			}
			addr, err := strconv.ParseUint(strings.TrimPrefix(args[1], "0x"), 16, 64)
			if err != nil {
				return fmt.Errorf("invalid address %q: %w", args[1], err)
			}
			bp, err := a.AddBreakpoint(ctx, addr)
			if err != nil {
				return err
			}
			fmt.Printf("#%d %#x\n", bp.ID, bp.Address)
			return nil
		case "remove":
			if len(args) != 2 {
				return fmt.Errorf("break remove requires an address")
			}
			addr, err := strconv.ParseUint(strings.TrimPrefix(args[1], "0x"), 16, 64)
			if err != nil {
				return fmt.Errorf("invalid address %q: %w", args[1], err)
			}
			return a.RemoveBreakpoint(ctx, addr)
		default:
			return fmt.Errorf("unknown break subcommand %q", args[0])
		}
	},
}

var threadsCmd = &cobra.Command{
	Use:   "threads",
	Short: "List threads",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := sess.get()
		if err != nil {
			return err
		}
		threads, err := a.ThreadList(context.Background())
		if err != nil {
			return err
		}
		active := a.ActiveThread()
		for _, th := range threads {
			marker := " "
			if th.TID == active.TID {
				marker = "*"
			}
			fmt.Printf("%s tid=%d index=%d\n", marker, th.TID, th.InternalIndex)
		}
		return nil
	},
}

var modulesCmd = &cobra.Command{
	Use:   "modules",
	Short: "List loaded modules",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := sess.get()
		if err != nil {
			return err
		}
		mods, err := a.ModuleList(context.Background())
		if err != nil {
			return err
		}
		for _, m := range mods {
			fmt.Printf("%#x %#x %s\n", m.Base, m.Size, m.Name)
		}
		return nil
	},
}

func init() {
	executeCmd.Flags().StringVar(&launchArgs, "args", "", "command-line arguments passed to the launched process")
	memCmd.Flags().IntVar(&memSize, "size", 16, "number of bytes to read")
}
