// Command exokernel boots a simulated kernel, optionally attaches a
// simulated e1000 NIC, runs a small demo workload exercising fork/IPC/net,
// and can drop into the kernel monitor — the entrypoint wiring every
// package in this module together, the way cmd/mipsvm/main.go wires up a
// memory, a CPU, and signal handling around it.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"exok/internal/console"
	"exok/internal/envtab"
	"exok/internal/kernel"
	"exok/internal/mmu"
	"exok/internal/monitor"
	"exok/internal/nic"
	"exok/internal/pci"
	"exok/internal/userlib"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

type options struct {
	cpus       int
	discipline string
	ipc        string
	withNIC    bool
	monitor    bool
	verbose    bool
}

func newRootCmd() *cobra.Command {
	opts := &options{}
	cmd := &cobra.Command{
		Use:   "exokernel",
		Short: "run the exokernel simulator",
		Long:  "exokernel boots a simulated environment table, scheduler, and IPC core, runs a small demo workload, and can drop into the kernel monitor.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), opts)
		},
	}
	flags := cmd.Flags()
	flags.IntVar(&opts.cpus, "cpus", 2, "number of environments allowed to run concurrently")
	flags.StringVar(&opts.discipline, "discipline", "fine", "locking discipline: big|fine")
	flags.StringVar(&opts.ipc, "ipc", "queued", "ipc rendezvous mode: baseline|queued")
	flags.BoolVar(&opts.withNIC, "nic", true, "attach a simulated e1000 NIC")
	flags.BoolVar(&opts.monitor, "monitor", false, "drop into the kernel monitor after the demo workload")
	flags.BoolVar(&opts.verbose, "verbose", false, "enable debug logging")
	return cmd
}

func run(ctx context.Context, opts *options) error {
	log := logrus.New()
	if opts.verbose {
		log.SetLevel(logrus.DebugLevel)
	}

	discipline := kernel.FineGrained
	if opts.discipline == "big" {
		discipline = kernel.BigLock
	}
	ipcMode := kernel.IPCQueued
	if opts.ipc == "baseline" {
		ipcMode = kernel.IPCBaseline
	}

	cfg := kernel.Config{
		Discipline: discipline,
		IPCMode:    ipcMode,
		NumCPU:     opts.cpus,
		Log:        log,
	}

	var con *console.Console
	if term, err := console.Open(log); err == nil {
		con = term
		cfg.Console = con
		defer con.Close()
	} else {
		log.WithError(err).Debug("console unavailable, sys_cgetc will always read 0")
	}

	if opts.withNIC {
		f := pci.NewFunc(0, 3, 0, nic.VendorIntel, nic.DeviceE1000, 128*1024)
		dev, err := nic.Attach(f, log)
		if err != nil {
			return fmt.Errorf("attach nic: %w", err)
		}
		cfg.NIC = dev
		defer dev.Close()
		log.Infof("nic attached: %s", f.Describe(log))
	}

	k := kernel.New(cfg)
	log.Infof("kernel up: %d cpus, %s locking, %s ipc", opts.cpus, discipline, ipcMode)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		select {
		case <-sigCh:
			log.Info("signal received, shutting down")
			cancel()
		case <-runCtx.Done():
		}
	}()

	if err := runDemo(runCtx, k, log); err != nil {
		return err
	}

	if opts.monitor {
		return monitor.New(k, os.Stdout).Run(os.Stdin)
	}
	return nil
}

// runDemo spawns a small fleet of environments exercising fork, IPC, and the
// NIC bridge tasks, and waits for the fork demo to finish (or the context to
// be cancelled) via an errgroup, standing in for "wait for every CPU's run
// queue to drain" in a real shutdown path.
func runDemo(ctx context.Context, k *kernel.Kernel, log *logrus.Logger) error {
	g, ctx := errgroup.WithContext(ctx)
	done := make(chan struct{})

	_, err := k.Spawn(0, func(k *kernel.Kernel, self envtab.ID) {
		defer close(done)
		h := userlib.New(k, self)
		runForkDemo(h, log)
	})
	if err != nil {
		return fmt.Errorf("spawn demo environment: %w", err)
	}

	if k.NIC != nil {
		if _, err := k.Spawn(0, func(k *kernel.Kernel, self envtab.ID) {
			userlib.Output(userlib.New(k, self))
		}); err != nil {
			log.WithError(err).Warn("spawn net output task")
		}
	}

	g.Go(func() error {
		select {
		case <-done:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(5 * time.Second):
			return fmt.Errorf("demo workload timed out")
		}
	})
	return g.Wait()
}

// runForkDemo allocates a page, forks, and has the parent and child each
// write a distinct value into their own (by-then-private) copy, the
// classic duppage/COW smoke test lib/fork.c's own test programs run.
func runForkDemo(h *userlib.Handle, log *logrus.Logger) {
	const va = mmu.USTACKTOP - 2*mmu.PageSize
	// Fork always copies the caller's user stack page into the child, so
	// one must be mapped before forking even though this demo never
	// touches it directly.
	if err := h.PageAlloc(0, mmu.USTACKTOP-mmu.PageSize, mmu.PteU|mmu.PteW|mmu.PteP); err != nil {
		h.Printf("demo: stack page alloc failed: %v", err)
		return
	}
	if err := h.PageAlloc(0, va, mmu.PteU|mmu.PteW|mmu.PteP); err != nil {
		h.Printf("demo: page alloc failed: %v", err)
		return
	}
	if err := h.Write(va, []byte("parent")); err != nil {
		h.Printf("demo: write failed: %v", err)
		return
	}

	childID, err := h.Fork(func(child *userlib.Handle) {
		if err := child.Write(va, []byte("child!")); err != nil {
			child.Printf("demo child: write failed: %v", err)
			return
		}
		buf := make([]byte, 6)
		if err := child.Read(va, buf); err != nil {
			child.Printf("demo child: read failed: %v", err)
			return
		}
		child.Printf("demo child %d sees %q", child.ID(), buf)
	})
	if err != nil {
		h.Printf("demo: fork failed: %v", err)
		return
	}

	buf := make([]byte, 6)
	if err := h.Read(va, buf); err != nil {
		h.Printf("demo parent: read failed: %v", err)
		return
	}
	h.Printf("demo parent %d forked child %d, parent still sees %q", h.ID(), childID, buf)
}
