package main

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/chzyer/readline"

	"taglang/internal/astinterp"
	"taglang/pkg/parser"
)

// runREPL starts an interactive session backed by a single persistent
// astinterp.Interpreter, so `let` definitions and global functions
// entered on one line remain visible to every later line — the same
// "persistent VM, persistent compiler" convention the teacher's own
// bufio.Scanner REPL uses (cmd/smog/main.go's runREPL/evalREPL), upgraded
// to line editing and history via github.com/chzyer/readline.
func runREPL() error {
	h, err := newHeap()
	if err != nil {
		return err
	}
	defer h.CloseLog()

	it, err := astinterp.New(h)
	if err != nil {
		return fmt.Errorf("init interpreter: %w", err)
	}

	rl, err := readline.New("taglang> ")
	if err != nil {
		return fmt.Errorf("init readline: %w", err)
	}
	defer rl.Close()

	fmt.Println("taglang REPL — Ctrl-D to exit")
	for {
		line, err := rl.Readline()
		if errors.Is(err, readline.ErrInterrupt) {
			continue
		}
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		if line == "" {
			continue
		}
		evalREPLLine(it, line)
	}
}

// evalREPLLine parses and evaluates one line against the session's
// interpreter. Errors are reported to standard error without ending the
// session, matching the teacher's evalREPL.
func evalREPLLine(it *astinterp.Interpreter, line string) {
	p := parser.New(line)
	top, err := p.Parse()
	if err != nil {
		fmt.Fprintf(os.Stderr, "parse error: %v\n", err)
		return
	}
	if _, err := it.Run(top); err != nil {
		fmt.Fprintf(os.Stderr, "runtime error: %v\n", err)
	}
}
