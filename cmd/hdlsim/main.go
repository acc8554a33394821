// Command hdlsim drives the simulation core headlessly: compile a
// frontend IR dump to WebAssembly, or run it for a number of clock
// cycles and dump the outputs.
package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/tinytapeout/hdlsim/codegen"
	"github.com/tinytapeout/hdlsim/ir"
	"github.com/tinytapeout/hdlsim/sim"
)

var (
	flagVerbose bool
	flagOut     string
	flagTicks   int
	flagCSV     string
	flagMemMB   int
)

func main() {
	root := &cobra.Command{
		Use:          "hdlsim",
		Short:        "HDL-to-WebAssembly simulation core",
		SilenceUsage: true,
	}
	root.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "debug logging")

	compileCmd := &cobra.Command{
		Use:   "compile <ir.xml>",
		Short: "Compile an IR dump to a .wasm module",
		Args:  cobra.ExactArgs(1),
		RunE:  runCompile,
	}
	compileCmd.Flags().StringVarP(&flagOut, "out", "o", "out.wasm", "output file")
	compileCmd.Flags().IntVar(&flagMemMB, "max-memory", 0, "memory cap in MiB (0 = unlimited)")

	runCmd := &cobra.Command{
		Use:   "run <ir.xml>",
		Short: "Simulate a design for a number of clock cycles",
		Args:  cobra.ExactArgs(1),
		RunE:  runRun,
	}
	runCmd.Flags().IntVarP(&flagTicks, "ticks", "n", 16, "clock cycles to run")
	runCmd.Flags().StringVar(&flagCSV, "trace", "", "dump the trace ring as CSV to this file")
	runCmd.Flags().IntVar(&flagMemMB, "max-memory", 0, "memory cap in MiB (0 = unlimited)")

	root.AddCommand(compileCmd, runCmd)
	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func logger() *zap.Logger {
	if flagVerbose {
		l, _ := zap.NewDevelopment()
		return l
	}
	l, _ := zap.NewProduction()
	return l
}

func loadModule(path string) (*ir.Module, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return ir.ParseXML(f)
}

func runCompile(cmd *cobra.Command, args []string) error {
	m, err := loadModule(args[0])
	if err != nil {
		return err
	}
	cfg := codegen.DefaultConfig()
	cfg.MaxMemoryBytes = flagMemMB << 20
	prog, err := codegen.Compile(m, nil, cfg)
	if err != nil {
		return err
	}
	if err := os.WriteFile(flagOut, prog.Binary, 0o644); err != nil {
		return err
	}
	fmt.Printf("%s: %d bytes, %d pages, %d byte trace record\n",
		flagOut, len(prog.Binary), prog.Layout.Pages, prog.Layout.OutputBytes)
	return nil
}

func runRun(cmd *cobra.Command, args []string) error {
	log := logger()
	defer log.Sync()

	m, err := loadModule(args[0])
	if err != nil {
		return err
	}
	dir := filepath.Dir(args[0])
	opts := []sim.Option{
		sim.WithLogger(log),
		sim.WithFileLookup(func(path string) (string, bool) {
			b, err := os.ReadFile(filepath.Join(dir, filepath.Clean(path)))
			if err != nil {
				return "", false
			}
			return string(b), true
		}),
	}
	if flagMemMB > 0 {
		opts = append(opts, sim.WithMaxMemoryMB(flagMemMB))
	}
	s, err := sim.New(m, nil, opts...)
	if err != nil {
		return err
	}
	if err := s.Init(context.Background()); err != nil {
		return err
	}
	defer s.Dispose()

	if err := s.Reset(); err != nil {
		return err
	}
	if err := s.Tick2(flagTicks); err != nil {
		return err
	}

	for _, e := range s.Layout().Order {
		if !e.IsOutput {
			continue
		}
		v, err := s.State().Big(e.Name)
		if err != nil {
			return err
		}
		fmt.Printf("%s = 0x%x\n", e.Name, v)
	}
	if s.IsFinished() {
		fmt.Println("design executed $finish")
	}
	if flagCSV != "" {
		if err := dumpTraceCSV(s, flagCSV); err != nil {
			return err
		}
	}
	return nil
}

// dumpTraceCSV writes one row per ring slot (TraceDepth rows), one column
// per output.
func dumpTraceCSV(s *sim.Sim, path string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	var names []string
	for _, e := range s.Layout().Order {
		if e.IsOutput {
			names = append(names, e.Name)
		}
	}
	for i, n := range names {
		if i > 0 {
			fmt.Fprint(f, ",")
		}
		fmt.Fprint(f, n)
	}
	fmt.Fprintln(f)

	s.ResetTrace()
	for {
		tr := s.Trace()
		for i, n := range names {
			if i > 0 {
				fmt.Fprint(f, ",")
			}
			v, err := tr.Big(n)
			if err != nil {
				return err
			}
			fmt.Fprintf(f, "0x%x", v)
		}
		fmt.Fprintln(f)
		if !s.NextTrace() {
			return nil
		}
	}
}
