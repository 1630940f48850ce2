// Package logger provides leveled logging for inboxd.
// Debug, Info, Warn and Section print only in verbose mode (the --verbose
// flag, or always when running the daemon). Error always prints.
package logger

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"
)

var (
	mu         sync.RWMutex
	writeMu    sync.Mutex
	verbose    bool
	timestamps bool
	output     io.Writer = os.Stderr
	now                  = time.Now
)

// SetVerbose enables or disables verbose logging.
func SetVerbose(v bool) {
	mu.Lock()
	defer mu.Unlock()
	verbose = v
}

// IsVerbose returns true if verbose mode is enabled.
func IsVerbose() bool {
	mu.RLock()
	defer mu.RUnlock()
	return verbose
}

// SetTimestamps prefixes every line with an RFC 3339 timestamp.
// The daemon turns this on; interactive commands leave it off.
func SetTimestamps(v bool) {
	mu.Lock()
	defer mu.Unlock()
	timestamps = v
}

// SetOutput sets the output writer for logs.
// Defaults to os.Stderr. Useful for testing.
func SetOutput(w io.Writer) {
	mu.Lock()
	defer mu.Unlock()
	output = w
}

// Debug prints a message if verbose mode is enabled.
func Debug(format string, args ...any) {
	logf("[DEBUG] ", false, format, args...)
}

// Info prints an informational message if verbose mode is enabled.
func Info(format string, args ...any) {
	logf("[INFO] ", false, format, args...)
}

// Warn prints a warning message if verbose mode is enabled.
func Warn(format string, args ...any) {
	logf("[WARN] ", false, format, args...)
}

// Error prints an error message regardless of verbose mode.
func Error(format string, args ...any) {
	logf("[ERROR] ", true, format, args...)
}

// Section prints a section header if verbose mode is enabled.
func Section(name string) {
	mu.RLock()
	w, on := output, verbose
	mu.RUnlock()
	if !on {
		return
	}
	writeMu.Lock()
	defer writeMu.Unlock()
	fmt.Fprintf(w, "\n=== %s ===\n", name)
}

func logf(prefix string, always bool, format string, args ...any) {
	mu.RLock()
	w, on, stamp := output, verbose, timestamps
	mu.RUnlock()
	if !on && !always {
		return
	}
	if stamp {
		prefix = now().Format(time.RFC3339) + " " + prefix
	}
	writeMu.Lock()
	defer writeMu.Unlock()
	fmt.Fprintf(w, prefix+format+"\n", args...)
}
