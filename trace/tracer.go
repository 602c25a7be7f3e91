package trace

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
)

// Tracer provides wire-level event tracing for debugging
type Tracer struct {
	enabled bool
	filters []string
	writer  io.Writer
	mu      sync.Mutex
}

// Global tracer instance
var globalTracer *Tracer

// Init initializes the global tracer
func Init(enabled bool, filters []string, writer io.Writer) {
	if writer == nil {
		writer = os.Stderr
	}
	globalTracer = &Tracer{
		enabled: enabled,
		filters: filters,
		writer:  writer,
	}
}

// IsEnabled returns whether tracing is enabled
func IsEnabled() bool {
	if globalTracer == nil {
		return false
	}
	return globalTracer.enabled
}

// matchesFilter checks if an event kind matches any of the filter patterns
func (t *Tracer) matchesFilter(kind string) bool {
	if len(t.filters) == 0 {
		return true // No filters = trace everything
	}

	for _, pattern := range t.filters {
		if matched, _ := filepath.Match(pattern, kind); matched {
			return true
		}
	}
	return false
}

// Connection logs a connection lifecycle event (NEW, REJECT, DISCONNECT, CLOSE)
func (t *Tracer) Connection(event string, connID string, details string) {
	if !t.enabled || !t.matchesFilter("conn") {
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if details != "" {
		fmt.Fprintf(t.writer, "[TRACE] CONN %s conn=%s %s\n", event, connID, details)
	} else {
		fmt.Fprintf(t.writer, "[TRACE] CONN %s conn=%s\n", event, connID)
	}
}

// Message logs a protocol line, dir is "RECV" or "SEND"
func (t *Tracer) Message(dir string, connID string, line string) {
	if !t.enabled || !t.matchesFilter("msg") {
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	// Truncate long lines for readability
	display := line
	if len(display) > 60 {
		display = display[:57] + "..."
	}

	fmt.Fprintf(t.writer, "[TRACE]   MSG %s conn=%s %q\n", dir, connID, display)
}

// Block logs a binary payload run
func (t *Tracer) Block(connID string, index uint64, size uint32) {
	if !t.enabled || !t.matchesFilter("block") {
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	fmt.Fprintf(t.writer, "[TRACE]   BLOCK conn=%s index=%d size=%d\n", connID, index, size)
}

// Storage logs a store operation outcome
func (t *Tracer) Storage(op string, name string, err error) {
	if !t.enabled || !t.matchesFilter("store") {
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if err != nil {
		fmt.Fprintf(t.writer, "[TRACE] STORE %s file=%q err=%v\n", op, name, err)
	} else {
		fmt.Fprintf(t.writer, "[TRACE] STORE %s file=%q\n", op, name)
	}
}

// Global convenience functions

// Connection logs a connection event using the global tracer
func Connection(event string, connID string, details string) {
	if globalTracer != nil {
		globalTracer.Connection(event, connID, details)
	}
}

// Message logs a protocol line using the global tracer
func Message(dir string, connID string, line string) {
	if globalTracer != nil {
		globalTracer.Message(dir, connID, line)
	}
}

// Block logs a binary payload run using the global tracer
func Block(connID string, index uint64, size uint32) {
	if globalTracer != nil {
		globalTracer.Block(connID, index, size)
	}
}

// Storage logs a store operation using the global tracer
func Storage(op string, name string, err error) {
	if globalTracer != nil {
		globalTracer.Storage(op, name, err)
	}
}
