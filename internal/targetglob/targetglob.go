// Copyright 2026 The goredo Authors
// SPDX-License-Identifier: Apache-2.0

// Package targetglob expands shell-style glob patterns (`*.o`, `src/**/*.c`)
// given as redo command-line arguments into concrete, existing file paths,
// so `redo-ifchange *.o` works the way users of the real redo family expect
// without every caller having to shell out to a glob-capable shell first.
// Grounded on qobs-build-qobs's builder.collectFiles, which resolves
// manifest source/header patterns the same way.
package targetglob

import (
	"os"
	"path/filepath"

	"github.com/bmatcuk/doublestar/v4"
)

// Expand resolves each entry of args against base: entries containing no
// glob metacharacters pass through unchanged (so non-existent targets a
// recipe is about to create can still be named literally); entries that do
// are expanded via doublestar.Glob into matching files, relative to base.
func Expand(base string, args []string) ([]string, error) {
	fsys := os.DirFS(base)
	var out []string
	for _, pat := range args {
		if !doublestar.ValidatePattern(pat) || !hasMeta(pat) {
			out = append(out, pat)
			continue
		}
		matches, err := doublestar.Glob(fsys, pat, doublestar.WithFilesOnly())
		if err != nil {
			return nil, err
		}
		if len(matches) == 0 {
			out = append(out, pat)
			continue
		}
		for _, m := range matches {
			out = append(out, filepath.Join(base, m))
		}
	}
	return out, nil
}

func hasMeta(pattern string) bool {
	for _, r := range pattern {
		switch r {
		case '*', '?', '[', '{':
			return true
		}
	}
	return false
}
