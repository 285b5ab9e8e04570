// Copyright 2026 The goredo Authors
// SPDX-License-Identifier: Apache-2.0

package dofile

import (
	"os"
	"path/filepath"
	"testing"
)

func writeFile(t *testing.T, path string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestFind_ExactDoFile(t *testing.T) {
	base := t.TempDir()
	writeFile(t, filepath.Join(base, "hello.c.do"))

	dodir, df, _, basename, ext, ok := Find(base, filepath.Join(base, "hello.c"))
	if !ok {
		t.Fatalf("expected a do-file match")
	}
	if df != "hello.c.do" {
		t.Errorf("dofile = %q, want hello.c.do", df)
	}
	if dodir != base {
		t.Errorf("dodir = %q, want %q", dodir, base)
	}
	if basename != "hello" || ext != ".c" {
		t.Errorf("basename/ext = %q/%q, want hello/.c", basename, ext)
	}
}

func TestFind_DefaultSuffixChain(t *testing.T) {
	base := t.TempDir()
	writeFile(t, filepath.Join(base, "default.c.do"))

	_, df, _, basename, ext, ok := Find(base, filepath.Join(base, "hello.c"))
	if !ok {
		t.Fatalf("expected a do-file match")
	}
	if df != "default.c.do" {
		t.Errorf("dofile = %q, want default.c.do", df)
	}
	if basename != "hello" || ext != ".c" {
		t.Errorf("basename/ext = %q/%q, want hello/.c", basename, ext)
	}
}

func TestFind_DefaultDoFallback(t *testing.T) {
	base := t.TempDir()
	writeFile(t, filepath.Join(base, "default.do"))

	_, df, _, basename, ext, ok := Find(base, filepath.Join(base, "hello.c"))
	if !ok {
		t.Fatalf("expected a do-file match")
	}
	if df != "default.do" {
		t.Errorf("dofile = %q, want default.do", df)
	}
	if basename != "hello.c" || ext != "" {
		t.Errorf("basename/ext = %q/%q, want hello.c/\"\"", basename, ext)
	}
}

func TestFind_WalksUpToBase(t *testing.T) {
	base := t.TempDir()
	sub := filepath.Join(base, "a", "b")
	if err := os.MkdirAll(sub, 0o755); err != nil {
		t.Fatal(err)
	}
	writeFile(t, filepath.Join(base, "default.c.do"))

	dodir, df, basedir, _, _, ok := Find(base, filepath.Join(sub, "hello.c"))
	if !ok {
		t.Fatalf("expected a do-file match walking up to base")
	}
	if dodir != base {
		t.Errorf("dodir = %q, want %q", dodir, base)
	}
	if df != "default.c.do" {
		t.Errorf("dofile = %q, want default.c.do", df)
	}
	if basedir != sub {
		t.Errorf("basedir = %q, want %q", basedir, sub)
	}
}

func TestFind_NoMatch(t *testing.T) {
	base := t.TempDir()
	_, _, _, _, _, ok := Find(base, filepath.Join(base, "hello.c"))
	if ok {
		t.Fatalf("expected no match in an empty tree")
	}
}

func TestFind_StopsAtBaseEvenIfParentHasDoFile(t *testing.T) {
	outer := t.TempDir()
	base := filepath.Join(outer, "proj")
	if err := os.MkdirAll(base, 0o755); err != nil {
		t.Fatal(err)
	}
	writeFile(t, filepath.Join(outer, "default.do"))

	_, _, _, _, _, ok := Find(base, filepath.Join(base, "hello.c"))
	if ok {
		t.Fatalf("expected search not to escape above base")
	}
}
