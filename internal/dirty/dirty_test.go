// Copyright 2026 The goredo Authors
// SPDX-License-Identifier: Apache-2.0

package dirty

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/marcelocantos/goredo/internal/store"
)

func openTestStore(t *testing.T) *store.SQLStore {
	t.Helper()
	s, err := store.Open(t.TempDir())
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func writeFileT(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestShouldBuild_UnknownTargetIsDirty(t *testing.T) {
	s := openTestStore(t)
	c := NewDefaultChecker(s)

	out, err := c.ShouldBuild(filepath.Join(s.Base(), "nope.o"))
	if err != nil {
		t.Fatal(err)
	}
	if out.Result != Dirty {
		t.Errorf("ShouldBuild on a never-seen target = %v, want Dirty", out.Result)
	}
}

func TestShouldBuild_FailedIsDirty(t *testing.T) {
	s := openTestStore(t)
	target := filepath.Join(s.Base(), "hello.o")
	writeFileT(t, target, "obj")

	tgt, err := s.FileByName(target)
	if err != nil {
		t.Fatal(err)
	}
	rec := tgt.(*store.Record)
	rec.SetGenerated(true)
	if err := rec.Fin(); err != nil {
		t.Fatal(err)
	}
	rec.SetFailed()
	if err := rec.Save(); err != nil {
		t.Fatal(err)
	}

	c := NewDefaultChecker(s)
	out, err := c.ShouldBuild(target)
	if err != nil {
		t.Fatal(err)
	}
	if out.Result != Dirty {
		t.Errorf("ShouldBuild on a failed target = %v, want Dirty", out.Result)
	}
}

func TestShouldBuild_ExistingNotGeneratedIsNotDirty(t *testing.T) {
	s := openTestStore(t)
	target := filepath.Join(s.Base(), "hello.c")
	writeFileT(t, target, "int main(){}")

	if _, err := s.FileByName(target); err != nil {
		t.Fatal(err)
	}

	c := NewDefaultChecker(s)
	out, err := c.ShouldBuild(target)
	if err != nil {
		t.Fatal(err)
	}
	if out.Result != NotDirty {
		t.Errorf("ShouldBuild on a hand-written static source = %v, want NotDirty", out.Result)
	}
}

func TestShouldBuild_MissingTargetIsDirty(t *testing.T) {
	s := openTestStore(t)
	target := filepath.Join(s.Base(), "hello.o")
	writeFileT(t, target, "obj")

	tgt, err := s.FileByName(target)
	if err != nil {
		t.Fatal(err)
	}
	rec := tgt.(*store.Record)
	rec.SetGenerated(true)
	if err := rec.Fin(); err != nil {
		t.Fatal(err)
	}

	if err := os.Remove(target); err != nil {
		t.Fatal(err)
	}

	c := NewDefaultChecker(s)
	out, err := c.ShouldBuild(target)
	if err != nil {
		t.Fatal(err)
	}
	if out.Result != Dirty {
		t.Errorf("ShouldBuild on a vanished generated target = %v, want Dirty", out.Result)
	}
}

func TestShouldBuild_ContentMismatchIsDirty(t *testing.T) {
	s := openTestStore(t)
	target := filepath.Join(s.Base(), "hello.o")
	writeFileT(t, target, "obj v1")

	tgt, err := s.FileByName(target)
	if err != nil {
		t.Fatal(err)
	}
	rec := tgt.(*store.Record)
	rec.SetGenerated(true)
	if err := rec.Fin(); err != nil {
		t.Fatal(err)
	}

	writeFileT(t, target, "obj v2 hand-edited")

	c := NewDefaultChecker(s)
	out, err := c.ShouldBuild(target)
	if err != nil {
		t.Fatal(err)
	}
	if out.Result != Dirty {
		t.Errorf("ShouldBuild after content drifted = %v, want Dirty", out.Result)
	}
}

func TestShouldBuild_IfCreateNowExistsIsDirty(t *testing.T) {
	s := openTestStore(t)
	target := filepath.Join(s.Base(), "hello.o")
	writeFileT(t, target, "obj")
	guard := filepath.Join(s.Base(), "hello.h")

	tgt, err := s.FileByName(target)
	if err != nil {
		t.Fatal(err)
	}
	rec := tgt.(*store.Record)
	if err := rec.AddDep(guard, store.KindIfCreate); err != nil {
		t.Fatal(err)
	}
	rec.SetGenerated(true)
	if err := rec.Fin(); err != nil {
		t.Fatal(err)
	}

	writeFileT(t, guard, "now it exists")

	c := NewDefaultChecker(s)
	out, err := c.ShouldBuild(target)
	if err != nil {
		t.Fatal(err)
	}
	if out.Result != Dirty {
		t.Errorf("ShouldBuild once an ifcreate dep appears = %v, want Dirty", out.Result)
	}
}

func TestShouldBuild_UnknownInputHashIsMaybeDirty(t *testing.T) {
	s := openTestStore(t)
	target := filepath.Join(s.Base(), "hello.o")
	dep := filepath.Join(s.Base(), "hello.c")
	writeFileT(t, target, "obj")
	writeFileT(t, dep, "src")

	tgt, err := s.FileByName(target)
	if err != nil {
		t.Fatal(err)
	}
	rec := tgt.(*store.Record)
	if err := rec.AddDep(dep, store.KindIfChange); err != nil {
		t.Fatal(err)
	}
	rec.SetGenerated(true)
	// No RecordBuildHashes call: the dep is recorded but its hash was
	// never stamped, so it's unproven this run.
	if err := rec.Fin(); err != nil {
		t.Fatal(err)
	}

	c := NewDefaultChecker(s)
	out, err := c.ShouldBuild(target)
	if err != nil {
		t.Fatal(err)
	}
	if out.Result != MaybeDirty {
		t.Errorf("ShouldBuild with an unproven ifchange dep = %v, want MaybeDirty", out.Result)
	}
	if len(out.Suspects) != 1 || out.Suspects[0] != dep {
		t.Errorf("Suspects = %v, want [%s]", out.Suspects, dep)
	}
}

func TestShouldBuild_AllCleanIsNotDirty(t *testing.T) {
	s := openTestStore(t)
	target := filepath.Join(s.Base(), "hello.o")
	dep := filepath.Join(s.Base(), "hello.c")
	writeFileT(t, target, "obj")
	writeFileT(t, dep, "src")

	depHash, err := store.HashFile(dep)
	if err != nil {
		t.Fatal(err)
	}

	tgt, err := s.FileByName(target)
	if err != nil {
		t.Fatal(err)
	}
	rec := tgt.(*store.Record)
	if err := rec.AddDep(dep, store.KindIfChange); err != nil {
		t.Fatal(err)
	}
	rec.SetGenerated(true)
	rec.RecordBuildHashes("do-hash", map[string]string{dep: depHash})
	if err := rec.Fin(); err != nil {
		t.Fatal(err)
	}

	c := NewDefaultChecker(s)
	out, err := c.ShouldBuild(target)
	if err != nil {
		t.Fatal(err)
	}
	if out.Result != NotDirty {
		t.Errorf("ShouldBuild with everything clean = %v, want NotDirty", out.Result)
	}
}

func TestDepFingerprints_ReusesHashUntilFileChanges(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "a.h")
	writeFileT(t, path, "hello")

	d := newDepFingerprints()
	h1, err := d.hashDep(path)
	if err != nil {
		t.Fatal(err)
	}
	h2, err := d.hashDep(path)
	if err != nil {
		t.Fatal(err)
	}
	if h1 != h2 {
		t.Errorf("fingerprint should be stable across calls when file is unchanged")
	}

	writeFileT(t, path, "goodbye")
	h3, err := d.hashDep(path)
	if err != nil {
		t.Fatal(err)
	}
	if h3 == h1 {
		t.Errorf("fingerprint should change once mtime/size move")
	}
}
