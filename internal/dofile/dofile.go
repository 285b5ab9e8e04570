// Copyright 2026 The goredo Authors
// SPDX-License-Identifier: Apache-2.0

// Package dofile implements do-file resolution: given a target name, it
// walks the target's directory and its ancestors up to BASE looking for a
// matching recipe script, following the redo naming convention (name.do,
// then default.<suffix>.do for progressively shorter suffixes, then
// default.do).
//
// The candidate-generation shape here — iterative, early-exit — is
// adapted from pattern.go's ParsePattern/Match style, even though the
// matching rule differs (suffix peeling, not named captures).
package dofile

import (
	"os"
	"path/filepath"
	"strings"
)

type candidate struct {
	file     string
	basename string
	ext      string
}

// candidatesFor returns the do-file names to try in a single directory,
// in priority order, for a target with basename `name` residing there.
// leaf controls whether the exact name+".do" candidate (valid only in the
// target's own directory) is included.
func candidatesFor(name string, leaf bool) []candidate {
	var out []candidate
	if leaf {
		ext := filepath.Ext(name)
		out = append(out, candidate{
			file:     name + ".do",
			basename: strings.TrimSuffix(name, ext),
			ext:      ext,
		})
	}

	rest := name
	for {
		idx := strings.IndexByte(rest, '.')
		if idx < 0 {
			break
		}
		rest = rest[idx+1:]
		ext := "." + rest
		out = append(out, candidate{
			file:     "default." + rest + ".do",
			basename: strings.TrimSuffix(name, ext),
			ext:      ext,
		})
	}

	out = append(out, candidate{file: "default.do", basename: name, ext: ""})
	return out
}

// Find resolves the do-file for target, searching from target's own
// directory up through its ancestors to (and including) base. It returns
// the do-file's directory (dodir) and filename (dofile), the target's own
// directory (basedir), and the basename/ext split implied by whichever
// candidate matched. ok is false if no do-file exists anywhere in range.
func Find(base, target string) (dodir, dofile, basedir, basename, ext string, ok bool) {
	absBase, err := filepath.Abs(base)
	if err != nil {
		return "", "", "", "", "", false
	}
	absTarget, err := filepath.Abs(target)
	if err != nil {
		return "", "", "", "", "", false
	}

	dir := filepath.Dir(absTarget)
	basedir = dir
	name := filepath.Base(absTarget)

	leaf := true
	for {
		for _, c := range candidatesFor(name, leaf) {
			p := filepath.Join(dir, c.file)
			if fileExists(p) {
				return dir, c.file, basedir, c.basename, c.ext, true
			}
		}

		if dir == absBase {
			break
		}
		rel, err := filepath.Rel(absBase, dir)
		if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
			break
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
		leaf = false
	}

	return "", "", basedir, "", "", false
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
