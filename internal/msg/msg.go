// Copyright 2026 The goredo Authors
// SPDX-License-Identifier: Apache-2.0

// Package msg provides the leveled, colorized console output used
// throughout goredo: plain progress lines plus info/warn/error/fatal and
// two debug tiers.
package msg

import (
	"fmt"
	"os"
	"sync"

	"github.com/fatih/color"
)

var (
	mu      sync.Mutex
	debug   bool
	debug2  bool
	verbose bool
)

// SetVerbosity configures which debug tiers are printed. debug2 implies
// debug.
func SetVerbosity(d, d2 bool) {
	mu.Lock()
	defer mu.Unlock()
	debug = d || d2
	debug2 = d2
}

// SetVerbose records the VERBOSE flag; none of this package's printers
// consult it.
func SetVerbose(v bool) {
	mu.Lock()
	defer mu.Unlock()
	verbose = v
}

// Log prints a plain build-progress line.
func Log(format string, a ...any) {
	fmt.Fprintf(os.Stderr, format, a...)
}

// Info prints an informational line.
func Info(format string, a ...any) {
	fmt.Fprint(os.Stderr, color.HiGreenString("info"))
	fmt.Fprint(os.Stderr, ": ")
	fmt.Fprintf(os.Stderr, format, a...)
	fmt.Fprint(os.Stderr, "\n")
}

// Warn prints a warning line.
func Warn(format string, a ...any) {
	fmt.Fprint(os.Stderr, color.YellowString("warn"))
	fmt.Fprint(os.Stderr, ": ")
	fmt.Fprintf(os.Stderr, format, a...)
	fmt.Fprint(os.Stderr, "\n")
}

// Error prints an error line (does not exit).
func Error(format string, a ...any) {
	fmt.Fprint(os.Stderr, color.HiRedString("error"))
	fmt.Fprint(os.Stderr, ": ")
	fmt.Fprintf(os.Stderr, format, a...)
	fmt.Fprint(os.Stderr, "\n")
}

// Fatal prints an error line and exits the process.
func Fatal(format string, a ...any) {
	fmt.Fprint(os.Stderr, color.RedString("fatal"))
	fmt.Fprint(os.Stderr, ": ")
	fmt.Fprintf(os.Stderr, format, a...)
	fmt.Fprint(os.Stderr, "\n")
	os.Exit(1)
}

// Debug prints a line gated on the DEBUG config flag.
func Debug(format string, a ...any) {
	mu.Lock()
	on := debug
	mu.Unlock()
	if !on {
		return
	}
	fmt.Fprint(os.Stderr, color.CyanString("debug"))
	fmt.Fprint(os.Stderr, ": ")
	fmt.Fprintf(os.Stderr, format, a...)
	fmt.Fprint(os.Stderr, "\n")
}

// Debug2 prints a line gated on a stricter DEBUG2 tier, used for the
// lock acquire/release traces.
func Debug2(format string, a ...any) {
	mu.Lock()
	on := debug2
	mu.Unlock()
	if !on {
		return
	}
	fmt.Fprint(os.Stderr, color.HiBlackString("debug2"))
	fmt.Fprint(os.Stderr, ": ")
	fmt.Fprintf(os.Stderr, format, a...)
	fmt.Fprint(os.Stderr, "\n")
}
