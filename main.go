package main

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/munroe/arm-forth-sim/config"
	"github.com/munroe/arm-forth-sim/disasm"
	"github.com/munroe/arm-forth-sim/hostio"
	"github.com/munroe/arm-forth-sim/inspector"
	"github.com/munroe/arm-forth-sim/loader"
	"github.com/munroe/arm-forth-sim/vm"
)

// Version information - can be overridden at build time with:
// go build -ldflags "-X main.Version=v1.2.3"
var (
	Version = "dev"
	Commit  = "unknown"
	Date    = "unknown"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "armsim",
		Short:         "Simulator for the ARM2 Forth kernel image format",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	root.AddCommand(newVersionCmd())
	root.AddCommand(newRunCmd())
	root.AddCommand(newConfigInitCmd())
	return root
}

// newConfigInitCmd writes the built-in defaults to the config file so they
// can be hand-edited, mirroring config.Save/SaveTo's split between "write
// to the platform default path" and "write to an explicit path".
func newConfigInitCmd() *cobra.Command {
	var path string

	cmd := &cobra.Command{
		Use:   "config-init",
		Short: "Write the default configuration to disk for editing",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.DefaultConfig()
			if path != "" {
				return cfg.SaveTo(path)
			}
			return cfg.Save()
		},
	}
	cmd.Flags().StringVarP(&path, "config", "c", "", "config file path (default: platform config dir)")
	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Printf("armsim %s (commit %s, built %s)\n", Version, Commit, Date)
			return nil
		},
	}
}

// runOptions holds the run subcommand's flags.
type runOptions struct {
	imagePath   string
	searchPath  string
	configPath  string
	dump        bool
	backtrace   bool
	quiet       bool
	verbose     bool
	noUndo      bool
	interactive bool
}

func newRunCmd() *cobra.Command {
	opts := &runOptions{}

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Load a kernel image and execute it",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMain(opts)
		},
	}

	flags := cmd.Flags()
	flags.StringVarP(&opts.imagePath, "file", "f", "", "path to the kernel image (default: config's default_path)")
	flags.StringVarP(&opts.searchPath, "path", "p", "", "readfile search path, os.PathListSeparator-joined (default: MUFORTH_PATH, then config)")
	flags.StringVarP(&opts.configPath, "config", "c", "", "config file path (default: platform config dir)")
	flags.BoolVarP(&opts.dump, "dump", "d", false, "dump the loaded image via the Forth-aware inspector instead of running it")
	flags.BoolVarP(&opts.backtrace, "backtrace", "b", false, "print a disassembled line before executing each instruction")
	flags.BoolVarP(&opts.quiet, "quiet", "q", false, "suppress the load/exit banner")
	flags.BoolVarP(&opts.verbose, "verbose", "v", false, "print machine state after every instruction")
	flags.BoolVarP(&opts.noUndo, "no-undo", "u", false, "disable the undo/redo journal")
	flags.BoolVarP(&opts.interactive, "interactive", "i", false, "drop into an interactive step/undo/redo prompt instead of free-running")

	return cmd
}

func runMain(opts *runOptions) error {
	var cfg *config.Config
	var err error
	if opts.configPath != "" {
		cfg, err = config.LoadFrom(opts.configPath)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return fmt.Errorf("armsim: %w", err)
	}

	imagePath := opts.imagePath
	if imagePath == "" {
		imagePath = cfg.Image.DefaultPath
	}
	searchPath := config.ResolveSearchPath(opts.searchPath, cfg)

	img, err := loader.LoadFile(imagePath)
	if err != nil {
		return fmt.Errorf("armsim: %w", err)
	}

	m := vm.NewMachine()
	m.MaxCycles = cfg.Execution.MaxCycles
	m.Verbose = opts.verbose
	m.Backtrace = opts.backtrace
	if cfg.Journal.Capacity > 0 {
		m.Journal = vm.NewJournal(cfg.Journal.Capacity)
	}
	m.Journal.Disabled = opts.noUndo || !cfg.Journal.Enabled

	if err := m.Memory.RegisterRegion("guest", cfg.Memory.Base, cfg.Memory.Size,
		vm.PermRead|vm.PermWrite|vm.PermExecute); err != nil {
		return fmt.Errorf("armsim: %w", &config.ConfigError{Err: err})
	}

	pb, err := loader.Load(img, m.Memory, cfg.Memory.Base, cfg.Memory.Size)
	if err != nil {
		return fmt.Errorf("armsim: %w", err)
	}

	m.Host = hostio.New(searchPath)
	m.CPU.PC = pb.Entry
	m.CPU.SetRegister(vm.R0, cfg.Memory.Base)
	m.EntryPoint = pb.Entry

	headers := inspector.ScanHeaders(m.Memory, cfg.Memory.Base, cfg.Memory.Size/4, inspector.KnownCodeFields{})
	symbols := vm.NewSymbolResolver(headers)

	if !opts.quiet {
		fmt.Printf("armsim: loaded %s, entry=%s, guest=0x%08X+%d, %d dictionary words found\n",
			imagePath, symbols.FormatAddress(pb.Entry), cfg.Memory.Base, cfg.Memory.Size, symbols.GetSymbolCount())
	}

	if opts.dump {
		for _, line := range inspector.Dump(m.Memory, cfg.Memory.Base, cfg.Memory.Size/4, inspector.KnownCodeFields{}) {
			fmt.Println(line)
		}
		return nil
	}

	if opts.interactive {
		runInteractive(m, opts)
	} else {
		runFree(m, opts)
	}

	if !opts.quiet {
		if m.LastError != nil && !errors.Is(m.LastError, vm.GuestHalt) {
			fmt.Printf("armsim: stopped at %s: %v\n", symbols.FormatAddress(m.CPU.PC), m.LastError)
		} else {
			fmt.Printf("armsim: halted after %d cycles, exit code %d\n", m.Cycles, m.ExitCode)
		}
	}

	if m.State == vm.StateError {
		return fmt.Errorf("armsim: execution failed: %w", m.LastError)
	}
	os.Exit(int(m.ExitCode))
	return nil
}

// runFree steps until halt or error, printing per-instruction diagnostics
// when -b is set.
func runFree(m *vm.Machine, opts *runOptions) {
	m.State = vm.StateRunning
	for m.State == vm.StateRunning {
		traceStep(m, opts)
		if err := m.Step(); err != nil {
			return
		}
		if opts.verbose {
			fmt.Println(m.DumpState())
		}
	}
}

func traceStep(m *vm.Machine, opts *runOptions) {
	if !opts.backtrace {
		return
	}
	pc := m.CPU.PC
	word := m.Memory.WordLoad(pc)
	if word != vm.BadMemVal {
		fmt.Printf("%08X: %08X  %s\n", pc, word, disasm.Format(pc, word))
	}
}

// printChangedRegisters reports which registers the most recent step
// touched, relative to a snapshot captured beforehand.
func printChangedRegisters(before *vm.RegisterSnapshot, cpu *vm.CPU) {
	var after vm.RegisterSnapshot
	after.Capture(cpu)

	changed := before.ChangedRegisters(&after)
	if len(changed) == 0 && !before.CPSRChanged(&after) {
		return
	}
	fmt.Print("changed:")
	for _, reg := range changed {
		fmt.Printf(" r%d=0x%08X", reg, after.GetRegister(reg))
	}
	if before.CPSRChanged(&after) {
		fmt.Print(" cpsr")
	}
	fmt.Println()
}

// runInteractive is a minimal step/undo/redo REPL in the teacher's
// command-line debugger style: one short command per line, read from
// stdin, acted on immediately.
func runInteractive(m *vm.Machine, opts *runOptions) {
	scanner := bufio.NewScanner(os.Stdin)
	m.State = vm.StateRunning
	fmt.Println("armsim interactive: step|s, continue|c, undo [n], redo [n], dump, quit|q")
	for m.State == vm.StateRunning {
		fmt.Print("> ")
		if !scanner.Scan() {
			return
		}
		fields := strings.Fields(scanner.Text())
		if len(fields) == 0 {
			continue
		}
		switch fields[0] {
		case "step", "s":
			var before vm.RegisterSnapshot
			before.Capture(m.CPU)
			traceStep(m, opts)
			if err := m.Step(); err != nil && !errors.Is(err, vm.GuestHalt) {
				fmt.Println(err)
			}
			printChangedRegisters(&before, m.CPU)
			fmt.Println(m.DumpState())
		case "continue", "c":
			runFree(m, opts)
		case "undo":
			n := 1
			fmt.Sscanf(strings.Join(fields[1:], " "), "%d", &n)
			fmt.Printf("undid %d transaction(s)\n", m.Undo(n))
		case "redo":
			n := 1
			fmt.Sscanf(strings.Join(fields[1:], " "), "%d", &n)
			fmt.Printf("redid %d transaction(s)\n", m.Redo(n))
		case "dump":
			fmt.Println(m.DumpState())
		case "quit", "q":
			return
		default:
			fmt.Printf("unrecognized command: %s\n", fields[0])
		}
	}
}
