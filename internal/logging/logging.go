// Package logging provides the process-wide debug/trace output used by the
// core components. A host application owns real logging configuration
// (out of core scope); this package only gives the core a place to write
// diagnostic output that defaults to silence.
package logging

import (
	"fmt"
	"io"
	"os"
	"sync"
)

var (
	mu     sync.Mutex
	output io.Writer
)

// SetOutput directs debug output to w. Pass nil to disable it.
func SetOutput(w io.Writer) {
	mu.Lock()
	defer mu.Unlock()
	output = w
}

func enabled() bool {
	return os.Getenv("QFIND_DEBUG") == "1" || os.Getenv("QFIND_DEBUG") == "true"
}

func writer() io.Writer {
	mu.Lock()
	defer mu.Unlock()
	return output
}

// Log writes a component-tagged line if debug output is enabled and
// configured. Silent otherwise, so components can log unconditionally on
// their hot paths without a runtime cost beyond two atomics-free checks.
func Log(component, format string, args ...any) {
	if !enabled() {
		return
	}
	w := writer()
	if w == nil {
		return
	}
	fmt.Fprintf(w, "[%s] "+format+"\n", append([]any{component}, args...)...)
}
