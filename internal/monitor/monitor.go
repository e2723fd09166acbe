// Package monitor is the line-oriented kernel monitor: a small REPL over a
// static command table, the same shape as kern/monitor.c's commands[] array
// and runcmd dispatch loop.
package monitor

import (
	"bufio"
	"fmt"
	"io"
	"runtime"
	"strings"

	"exok/internal/envtab"
	"exok/internal/kernel"
)

// command is one entry of the static command table.
type command struct {
	name string
	desc string
	fn   func(m *Monitor, args []string) error
}

// Monitor is a kernel monitor bound to one Kernel, reading commands from an
// io.Reader and writing output to an io.Writer so it can run against stdin
// in cmd/exokernel or against an in-memory buffer in tests.
type Monitor struct {
	K   *kernel.Kernel
	out io.Writer

	commands []command
}

// New builds a Monitor with the standard command table.
func New(k *kernel.Kernel, out io.Writer) *Monitor {
	m := &Monitor{K: k, out: out}
	m.commands = []command{
		{"help", "Display this list of commands", (*Monitor).cmdHelp},
		{"kerninfo", "Display information about the kernel", (*Monitor).cmdKerninfo},
		{"backtrace", "Display the monitor's own call stack", (*Monitor).cmdBacktrace},
		{"continue", "Resume execution of a suspended program", (*Monitor).cmdContinue},
	}
	return m
}

// Run reads whitespace-separated command lines from in until EOF or a
// command signals exit, printing a prompt before each. It returns nil on a
// clean EOF.
func (m *Monitor) Run(in io.Reader) error {
	fmt.Fprintln(m.out, "Welcome to the exokernel monitor!")
	fmt.Fprintln(m.out, "Type 'help' for a list of commands.")

	scanner := bufio.NewScanner(in)
	for {
		fmt.Fprint(m.out, "K> ")
		if !scanner.Scan() {
			return scanner.Err()
		}
		exit, err := m.RunCmd(scanner.Text())
		if err != nil {
			fmt.Fprintln(m.out, err)
		}
		if exit {
			return nil
		}
	}
}

// RunCmd parses and dispatches a single command line, mirroring runcmd's
// whitespace-split argv and "-1 return forces exit" convention: the "quit"
// pseudo-command (or its alias "exit") is the one builtin that returns
// exit=true.
func (m *Monitor) RunCmd(line string) (exit bool, err error) {
	args := strings.Fields(line)
	if len(args) == 0 {
		return false, nil
	}
	if args[0] == "quit" || args[0] == "exit" {
		return true, nil
	}
	for _, c := range m.commands {
		if c.name == args[0] {
			return false, c.fn(m, args)
		}
	}
	fmt.Fprintf(m.out, "Unknown command %q\n", args[0])
	return false, nil
}

func (m *Monitor) cmdHelp(_ []string) error {
	for _, c := range m.commands {
		fmt.Fprintf(m.out, "%s - %s\n", c.name, c.desc)
	}
	return nil
}

func (m *Monitor) cmdKerninfo(_ []string) error {
	fmt.Fprintln(m.out, "Kernel info:")
	fmt.Fprintf(m.out, "  uptime:           %s\n", m.K.Uptime())
	fmt.Fprintf(m.out, "  live environments: %d/%d\n", m.K.LiveEnvs(), envtab.NENV)
	fmt.Fprintf(m.out, "  locking discipline: %s\n", m.K.Discipline())
	fmt.Fprintf(m.out, "  ipc mode:          %s\n", m.K.IPCModeOf())
	if m.K.NIC != nil && m.K.NIC.Func != nil {
		fmt.Fprintf(m.out, "  nic:               %s\n", m.K.NIC.Func.Describe(m.K.Log))
		fmt.Fprintln(m.out, "  nic registers:")
		for _, reg := range m.K.NIC.RegisterDump() {
			fmt.Fprintf(m.out, "    %-6s (%#07x) = %#x\n", reg.Name, reg.Offset, reg.Value)
		}
	} else {
		fmt.Fprintln(m.out, "  nic:               none attached")
	}
	return nil
}

// cmdBacktrace walks the Go call stack of the goroutine running the
// monitor — the nearest honest analogue of mon_backtrace's %ebp-chain walk,
// since there is no synthetic x86 stack frame here to unwind, only this
// goroutine's real one.
func (m *Monitor) cmdBacktrace(_ []string) error {
	fmt.Fprintln(m.out, "Stack backtrace:")
	pc := make([]uintptr, 32)
	n := runtime.Callers(2, pc)
	frames := runtime.CallersFrames(pc[:n])
	for {
		frame, more := frames.Next()
		fmt.Fprintf(m.out, "  %s\n    %s:%d\n", frame.Function, frame.File, frame.Line)
		if !more {
			break
		}
	}
	return nil
}

// cmdContinue has nothing to resume in this port: a real mon_continue
// single-steps a debug-trapped environment back into env_run, but no
// environment here ever traps into the monitor goroutine — each runs on its
// own goroutine independently of whether the monitor is reading a line.
func (m *Monitor) cmdContinue(_ []string) error {
	fmt.Fprintln(m.out, "No pending environment, command ignored.")
	return nil
}
