package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"memlocate/config"
	"memlocate/layout"
	"memlocate/locator"
	"memlocate/process"
	"memlocate/process_blob"

	"github.com/spf13/cobra"
)

// target holds the flags shared by every command that needs a process.
type target struct {
	configPath string
	pid        int
	name       string
	dumpDir    string
}

func (t *target) register(cmd *cobra.Command) {
	cmd.PersistentFlags().StringVarP(&t.configPath, "config", "c", "", "settings file (YAML)")
	cmd.PersistentFlags().IntVarP(&t.pid, "pid", "p", 0, "process ID to attach to")
	cmd.PersistentFlags().StringVarP(&t.name, "name", "n", "", "process name to attach to")
	cmd.PersistentFlags().StringVar(&t.dumpDir, "dump", "", "work offline against a dump directory instead of a live process")
}

func (t *target) config() (*config.Config, error) {
	return config.Load(t.configPath)
}

// open attaches to the live process or loads the dump named by the flags.
func (t *target) open() (process.Process, error) {
	if t.dumpDir != "" {
		dump := process_blob.NewProcessDump()
		if err := dump.Load(t.dumpDir); err != nil {
			return nil, fmt.Errorf("failed to load dump from %s: %w", t.dumpDir, err)
		}
		return dump, nil
	}

	pid := process.ProcessID(t.pid)
	if pid == 0 && t.name != "" {
		var err error
		if pid, err = process.FindByName(t.name); err != nil {
			return nil, err
		}
	}
	if pid == 0 {
		return nil, fmt.Errorf("one of --pid, --name or --dump is required")
	}

	proc, err := attach(pid)
	if err != nil {
		return nil, fmt.Errorf("failed to attach to process %d: %w", pid, err)
	}
	return proc, nil
}

// session is an opened process with the layout and engine built from the settings file.
type session struct {
	cfg    *config.Config
	proc   process.Process
	layout *layout.Layout
	engine *locator.Engine
}

func (t *target) session() (*session, error) {
	cfg, err := t.config()
	if err != nil {
		return nil, err
	}
	l, r, err := cfg.LoadLayout()
	if err != nil {
		return nil, err
	}
	proc, err := t.open()
	if err != nil {
		return nil, err
	}

	opts := cfg.EngineOptions()
	if t.dumpDir != "" {
		// a cache written against a dump would never match a live run
		opts.CachePath = ""
	}
	return &session{
		cfg:    cfg,
		proc:   proc,
		layout: l,
		engine: locator.New(proc, l, r, opts),
	}, nil
}

func (s *session) Close() {
	s.proc.Close()
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func newRootCmd() *cobra.Command {
	t := &target{}
	root := &cobra.Command{
		Use:   "memlocate",
		Short: "Locate and track a structure of known layout in another process",
		Long: `memlocate finds a structure whose field offsets are known but whose address is not.

Candidates are found by value or by range scans, checked against every field relation of the
layout, ranked, and confirmed against the live process. The result is cached together with a
static pointer chain when one exists, so later runs skip the scan.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	t.register(root)

	root.AddCommand(newFindCmd(t))
	root.AddCommand(newTrackCmd(t))
	root.AddCommand(newChainCmd(t))
	root.AddCommand(newRegionsCmd(t))
	root.AddCommand(newDumpCmd(t))
	root.AddCommand(newReadCmd(t))
	root.AddCommand(newAOBCmd(t))
	return root
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
