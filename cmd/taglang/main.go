// Command taglang is the runtime's CLI entry point: four run modes
// (ast-interpret, bc-interpret, bc-compile, run) over a shared
// --heap-size/--heap-log flag surface, plus an interactive REPL when
// invoked with no source file at all. Exit codes and option names are
// byte-exact to spec §6: 0 on normal completion, nonzero on any fatal
// error (bad CLI, parse failure, file I/O failure, heap exhaustion,
// invalid bytecode).
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"taglang/internal/astinterp"
	"taglang/internal/bcformat"
	"taglang/internal/compiler"
	"taglang/internal/heap"
	"taglang/internal/vm"
	"taglang/pkg/parser"
)

const heapSizeDefaultMiB = 200

var (
	heapSizeMiB int
	heapLogPath string
)

func main() {
	root := &cobra.Command{
		Use:   "taglang",
		Short: "Tree-walking and bytecode runtime for a small dynamic OO language",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runREPL()
		},
	}
	root.PersistentFlags().IntVar(&heapSizeMiB, "heap-size", heapSizeDefaultMiB, "heap size in MiB")
	root.PersistentFlags().StringVar(&heapLogPath, "heap-log", "", "append-only CSV heap event log path")

	root.AddCommand(
		&cobra.Command{
			Use:   "ast-interpret <file>",
			Short: "Parse and directly interpret the AST",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return runAstInterpret(args[0])
			},
		},
		&cobra.Command{
			Use:   "bc-interpret <file>",
			Short: "Load a serialized bytecode file and run it",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return runBcInterpret(args[0])
			},
		},
		&cobra.Command{
			Use:   "bc-compile <file>",
			Short: "Parse, compile, and write serialized bytecode to standard output",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return runBcCompile(args[0])
			},
		},
		&cobra.Command{
			Use:   "run <file>",
			Short: "Parse, compile in memory, and run without serialization",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return runRun(args[0])
			},
		},
		&cobra.Command{
			Use:   "repl",
			Short: "Start an interactive read-eval-print loop",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return runREPL()
			},
		},
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "taglang: %v\n", err)
		os.Exit(1)
	}
}

// newHeap constructs the shared heap for one run, wiring --heap-log the
// way the original's heap_log_event does: a plain append-mode file, one
// CSV line per allocation/collection event, never truncated.
func newHeap() (*heap.Heap, error) {
	h := heap.New(uint32(heapSizeMiB) << 20)
	if heapLogPath != "" {
		if err := h.SetLog(heapLogPath); err != nil {
			return nil, fmt.Errorf("open heap log: %w", err)
		}
	}
	return h, nil
}

func readSource(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read source: %w", err)
	}
	return string(data), nil
}

func runAstInterpret(path string) error {
	src, err := readSource(path)
	if err != nil {
		return err
	}
	p := parser.New(src)
	top, err := p.Parse()
	if err != nil {
		return fmt.Errorf("parse: %w", err)
	}
	h, err := newHeap()
	if err != nil {
		return err
	}
	defer h.CloseLog()

	it, err := astinterp.New(h)
	if err != nil {
		return fmt.Errorf("init interpreter: %w", err)
	}
	if _, err := it.Run(top); err != nil {
		return fmt.Errorf("runtime: %w", err)
	}
	return nil
}

func runRun(path string) error {
	src, err := readSource(path)
	if err != nil {
		return err
	}
	p := parser.New(src)
	top, err := p.Parse()
	if err != nil {
		return fmt.Errorf("parse: %w", err)
	}
	c := compiler.New()
	prog, err := c.Compile(top)
	if err != nil {
		return fmt.Errorf("compile: %w", err)
	}
	h, err := newHeap()
	if err != nil {
		return err
	}
	defer h.CloseLog()

	return execute(h, prog)
}

func runBcCompile(path string) error {
	src, err := readSource(path)
	if err != nil {
		return err
	}
	p := parser.New(src)
	top, err := p.Parse()
	if err != nil {
		return fmt.Errorf("parse: %w", err)
	}
	c := compiler.New()
	prog, err := c.Compile(top)
	if err != nil {
		return fmt.Errorf("compile: %w", err)
	}
	if err := bcformat.Encode(os.Stdout, prog); err != nil {
		return fmt.Errorf("encode bytecode: %w", err)
	}
	return nil
}

func runBcInterpret(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open bytecode file: %w", err)
	}
	defer f.Close()

	prog, err := bcformat.Decode(f)
	if err != nil {
		return fmt.Errorf("decode bytecode: %w", err)
	}
	h, err := newHeap()
	if err != nil {
		return err
	}
	defer h.CloseLog()

	return execute(h, prog)
}

func execute(h *heap.Heap, prog *bcformat.Program) error {
	m, err := vm.New(h, prog.Constants, prog.Globals)
	if err != nil {
		return fmt.Errorf("init vm: %w", err)
	}
	if err := m.Run(prog.EntryPoint); err != nil {
		return fmt.Errorf("runtime: %w", err)
	}
	return nil
}
