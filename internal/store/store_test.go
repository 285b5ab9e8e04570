// Copyright 2026 The goredo Authors
// SPDX-License-Identifier: Apache-2.0

package store

import (
	"os"
	"path/filepath"
	"testing"
)

func openTestStore(t *testing.T) *SQLStore {
	t.Helper()
	s, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSQLStore_FileByNameCreatesThenReuses(t *testing.T) {
	s := openTestStore(t)

	target := filepath.Join(s.Base(), "hello.o")
	t1, err := s.FileByName(target)
	if err != nil {
		t.Fatalf("FileByName: %v", err)
	}
	if t1.Name() != target {
		t.Errorf("Name() = %q, want %q", t1.Name(), target)
	}

	t2, err := s.FileByName(target)
	if err != nil {
		t.Fatalf("FileByName (second): %v", err)
	}
	if t1.ID() != t2.ID() {
		t.Errorf("expected the same row id on re-lookup, got %d and %d", t1.ID(), t2.ID())
	}
}

func TestSQLStore_FileByIDRoundTrips(t *testing.T) {
	s := openTestStore(t)

	target := filepath.Join(s.Base(), "hello.o")
	t1, err := s.FileByName(target)
	if err != nil {
		t.Fatal(err)
	}

	t2, err := s.FileByID(t1.ID())
	if err != nil {
		t.Fatalf("FileByID: %v", err)
	}
	if t2.Name() != target {
		t.Errorf("Name() = %q, want %q", t2.Name(), target)
	}
}

func TestRecord_SaveAndFinPersistState(t *testing.T) {
	s := openTestStore(t)

	target := filepath.Join(s.Base(), "hello.o")
	if err := os.WriteFile(target, []byte("object code"), 0o644); err != nil {
		t.Fatal(err)
	}

	rec, err := s.FileByName(target)
	if err != nil {
		t.Fatal(err)
	}
	rec.SetGenerated(true)
	if err := rec.Fin(); err != nil {
		t.Fatalf("Fin: %v", err)
	}

	reloaded, err := s.FileByID(rec.ID())
	if err != nil {
		t.Fatal(err)
	}
	rr := reloaded.(*Record)
	if rr.Checksum() == "" {
		t.Errorf("expected a non-empty checksum after Fin on an existing file")
	}
	if !reloaded.IsGenerated() {
		t.Errorf("expected IsGenerated() true after SetGenerated(true)+Save via Fin")
	}
}

func TestRecord_Deps(t *testing.T) {
	s := openTestStore(t)
	target := filepath.Join(s.Base(), "hello.o")

	tgt, err := s.FileByName(target)
	if err != nil {
		t.Fatal(err)
	}
	rec := tgt.(*Record)
	if err := rec.AddDep(filepath.Join(s.Base(), "hello.c"), KindIfChange); err != nil {
		t.Fatalf("AddDep: %v", err)
	}
	if err := rec.AddDep(filepath.Join(s.Base(), "hello.h"), KindIfCreate); err != nil {
		t.Fatalf("AddDep: %v", err)
	}

	changeDeps, err := rec.Deps(KindIfChange)
	if err != nil {
		t.Fatal(err)
	}
	if len(changeDeps) != 1 || changeDeps[0] != filepath.Join(s.Base(), "hello.c") {
		t.Errorf("Deps(ifchange) = %v, want [hello.c]", changeDeps)
	}

	createDeps, err := rec.Deps(KindIfCreate)
	if err != nil {
		t.Fatal(err)
	}
	if len(createDeps) != 1 {
		t.Errorf("Deps(ifcreate) = %v, want one entry", createDeps)
	}

	rec.ZapDeps1()
	changeDeps, err = rec.Deps(KindIfChange)
	if err != nil {
		t.Fatal(err)
	}
	if len(changeDeps) != 0 {
		t.Errorf("ZapDeps1 should clear recorded dependency edges, got %v", changeDeps)
	}
}

func TestRecord_ExistingNotGenerated(t *testing.T) {
	s := openTestStore(t)
	target := filepath.Join(s.Base(), "hello.c")
	if err := os.WriteFile(target, []byte("int main(){}"), 0o644); err != nil {
		t.Fatal(err)
	}

	rec, err := s.FileByName(target)
	if err != nil {
		t.Fatal(err)
	}
	if !rec.ExistingNotGenerated() {
		t.Errorf("a hand-written file never marked generated should be ExistingNotGenerated")
	}

	rec.SetGenerated(true)
	if rec.ExistingNotGenerated() {
		t.Errorf("a target marked generated should not be ExistingNotGenerated")
	}
}

func TestSQLStore_CheckSane(t *testing.T) {
	s := openTestStore(t)
	if !s.CheckSane() {
		t.Errorf("freshly opened store should be sane")
	}
	if err := os.RemoveAll(filepath.Join(s.Base(), ".redo")); err != nil {
		t.Fatal(err)
	}
	if s.CheckSane() {
		t.Errorf("store should report insane once .redo is removed")
	}
}

func TestNiceName(t *testing.T) {
	start := "/repo"
	got := NiceName("/repo/src/hello.c", start)
	want := filepath.Join("src", "hello.c")
	if got != want {
		t.Errorf("NiceName() = %q, want %q", got, want)
	}

	if got := NiceName("/other/hello.c", start); got != "/other/hello.c" {
		t.Errorf("NiceName() outside start should fall back to the original path, got %q", got)
	}
}
