// Copyright 2026 The goredo Authors
// SPDX-License-Identifier: Apache-2.0

// Package redoenv resolves the ambient per-invocation context (base
// directory, nesting depth, start directory) every goredo binary
// needs at startup, mirroring how the real redo family locates its .redo
// tree via REDO_BASE and tracks nesting via REDO_DEPTH.
package redoenv

import (
	"os"
	"path/filepath"
)

// FindBase locates the repository root: REDO_BASE if set, else the
// nearest ancestor directory containing a .redo metadata directory, else
// the current working directory.
func FindBase() (string, error) {
	if b := os.Getenv("REDO_BASE"); b != "" {
		return filepath.Abs(b)
	}
	cwd, err := os.Getwd()
	if err != nil {
		return "", err
	}
	dir := cwd
	for {
		if info, err := os.Stat(filepath.Join(dir, ".redo")); err == nil && info.IsDir() {
			return dir, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
	return cwd, nil
}

// Depth returns the inherited REDO_DEPTH, or "" at the top of the tree.
func Depth() string {
	return os.Getenv("REDO_DEPTH")
}

// StartDir returns the directory the outermost invocation was run from,
// used to print user-relative paths in logs.
func StartDir() (string, error) {
	if d := os.Getenv("REDO_STARTDIR"); d != "" {
		return d, nil
	}
	return os.Getwd()
}
