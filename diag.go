package nanolog

import (
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/mattn/go-colorable"
	"github.com/mattn/go-isatty"
)

// Diagnostics from the runtime itself never travel through the log
// pipeline. They go to stderr, colored when stderr is a terminal.
var diag = newDiagWriter()

type diagWriter struct {
	mu       sync.Mutex
	out      io.Writer
	useColor bool
}

func newDiagWriter() *diagWriter {
	useColor := isatty.IsTerminal(os.Stderr.Fd()) ||
		isatty.IsCygwinTerminal(os.Stderr.Fd())

	var out io.Writer = os.Stderr
	if useColor {
		out = colorable.NewColorableStderr()
	}
	return &diagWriter{out: out, useColor: useColor}
}

func (d *diagWriter) errorf(format string, args ...any) {
	d.mu.Lock()
	if d.useColor {
		fmt.Fprintf(d.out, "\x1b[31mnanolog:\x1b[0m "+format+"\n", args...)
	} else {
		fmt.Fprintf(d.out, "nanolog: "+format+"\n", args...)
	}
	d.mu.Unlock()
}

// fatalf reports an unrecoverable startup failure and exits
func fatalf(format string, args ...any) {
	diag.errorf(format, args...)
	os.Exit(1)
}
