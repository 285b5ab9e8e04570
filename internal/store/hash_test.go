// Copyright 2026 The goredo Authors
// SPDX-License-Identifier: Apache-2.0

package store

import (
	"os"
	"path/filepath"
	"testing"
)

func TestHashFile_ChangesWithContent(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "a.txt")

	if err := os.WriteFile(path, []byte("hello"), 0o644); err != nil {
		t.Fatal(err)
	}
	h1, err := HashFile(path)
	if err != nil {
		t.Fatal(err)
	}

	if err := os.WriteFile(path, []byte("world"), 0o644); err != nil {
		t.Fatal(err)
	}
	h2, err := HashFile(path)
	if err != nil {
		t.Fatal(err)
	}

	if h1 == h2 {
		t.Errorf("hash should change when content changes")
	}
}

func TestHashString_Deterministic(t *testing.T) {
	if HashString("abc") != HashString("abc") {
		t.Errorf("HashString should be deterministic")
	}
	if HashString("abc") == HashString("abd") {
		t.Errorf("HashString should differ for different input")
	}
}
