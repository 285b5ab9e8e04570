// Copyright 2026 The goredo Authors
// SPDX-License-Identifier: Apache-2.0

// Package dirty implements the default staleness check ("shouldbuild")
// a BuildJob consults before running a target's recipe. It is adapted
// from marcelocantos-mk's state.go IsStale, translated from mk's
// prereq-list-plus-recipe-hash model to goredo's ifchange/ifcreate
// dependency-edge model.
package dirty

import (
	"os"
	"sync"
	"time"

	"github.com/marcelocantos/goredo/internal/store"
)

// Result is the tri-state (plus escape hatch) outcome of a dirtiness
// check.
type Result int

const (
	// NotDirty means the target's recorded state still matches reality;
	// no recipe needs to run.
	NotDirty Result = iota
	// Dirty means the recipe must run.
	Dirty
	// MaybeDirty means every dependency checked out clean against its
	// last recorded hash, but one or more of them have not themselves
	// been freshly verified this run (Suspects names them) — the
	// out-of-band path must resolve those first.
	MaybeDirty
	// ShortCircuit means the caller should return immediately with Code,
	// bypassing the normal build decision entirely. Modeled as an enum
	// tag rather than a Go error or panic so ShouldBuild's signature
	// stays a plain two-value return.
	ShortCircuit
)

func (r Result) String() string {
	switch r {
	case NotDirty:
		return "not-dirty"
	case Dirty:
		return "dirty"
	case MaybeDirty:
		return "maybe-dirty"
	case ShortCircuit:
		return "short-circuit"
	default:
		return "unknown"
	}
}

// Outcome is the full result of a ShouldBuild check.
type Outcome struct {
	Result   Result
	Suspects []string
	Code     int
}

// Checker decides whether a target needs rebuilding.
type Checker interface {
	ShouldBuild(target string) (Outcome, error)
}

// DefaultChecker is the shipped content-hash-based Checker, grounded on
// state.go's IsStale.
type DefaultChecker struct {
	Store *store.SQLStore
	deps  *depFingerprints
}

// NewDefaultChecker constructs a DefaultChecker that remembers the content
// fingerprint of every target file and ifchange dependency it hashes
// across the calls it serves, so a dependency shared by several targets in
// one scheduler run (a common header, a shared .do file) is re-read from
// disk only when its mtime or size has moved. ifcreate dependencies are
// only checked for existence, never hashed.
func NewDefaultChecker(s *store.SQLStore) *DefaultChecker {
	return &DefaultChecker{Store: s, deps: newDepFingerprints()}
}

// depFingerprints memoizes the content hash ShouldBuild computes for a
// target's own file and for each ifchange dependency it walks, keyed by
// (mtime, size) so a child re-verified by a later target in the same run
// isn't re-read unless it actually changed on disk in between.
type depFingerprints struct {
	mu      sync.Mutex
	entries map[string]depFingerprint
}

type depFingerprint struct {
	mtime time.Time
	size  int64
	hash  string
}

func newDepFingerprints() *depFingerprints {
	return &depFingerprints{entries: make(map[string]depFingerprint)}
}

// hashDep returns child's current content hash, the way ShouldBuild wants
// it: reused from the last fingerprint taken for child this run if its
// mtime and size haven't moved since, recomputed and stored otherwise.
func (d *depFingerprints) hashDep(child string) (string, error) {
	info, err := os.Stat(child)
	if err != nil {
		return "", err
	}
	mtime, size := info.ModTime(), info.Size()

	d.mu.Lock()
	if e, ok := d.entries[child]; ok && e.mtime.Equal(mtime) && e.size == size {
		d.mu.Unlock()
		return e.hash, nil
	}
	d.mu.Unlock()

	h, err := store.HashFile(child)
	if err != nil {
		return "", err
	}

	d.mu.Lock()
	d.entries[child] = depFingerprint{mtime: mtime, size: size, hash: h}
	d.mu.Unlock()

	return h, nil
}

// ShouldBuild reports whether target needs its recipe re-run.
func (c *DefaultChecker) ShouldBuild(target string) (Outcome, error) {
	rec, err := c.Store.Peek(target)
	if err != nil {
		return Outcome{}, err
	}
	if rec == nil {
		return Outcome{Result: Dirty}, nil
	}
	if rec.IsFailed() {
		return Outcome{Result: Dirty}, nil
	}
	if rec.ExistingNotGenerated() {
		return Outcome{Result: NotDirty}, nil
	}
	if rec.Checksum() == "" {
		return Outcome{Result: Dirty}, nil
	}

	info, err := rec.TryStat()
	if err != nil {
		return Outcome{}, err
	}
	if info == nil {
		return Outcome{Result: Dirty}, nil
	}
	if h, err := c.deps.hashDep(target); err == nil && h != rec.Checksum() {
		return Outcome{Result: Dirty}, nil
	}

	for _, child := range mustDeps(rec, store.KindIfCreate) {
		if fileExists(child) {
			return Outcome{Result: Dirty}, nil
		}
	}

	var suspects []string
	for _, child := range mustDeps(rec, store.KindIfChange) {
		recorded, known := rec.InputHash(child)
		if !known {
			suspects = append(suspects, child)
			continue
		}
		h, err := c.deps.hashDep(child)
		if err != nil {
			// Dependency vanished or became unreadable: treat as dirty,
			// matching IsStale's "stat failed => stale" rule.
			return Outcome{Result: Dirty}, nil
		}
		if h != recorded {
			return Outcome{Result: Dirty}, nil
		}
		childRec, err := c.Store.Peek(child)
		if err != nil {
			return Outcome{}, err
		}
		if childRec != nil && childRec.IsFailed() {
			suspects = append(suspects, child)
		}
	}

	if len(suspects) > 0 {
		return Outcome{Result: MaybeDirty, Suspects: suspects}, nil
	}
	return Outcome{Result: NotDirty}, nil
}

func mustDeps(rec *store.Record, kind store.DepKind) []string {
	deps, err := rec.Deps(kind)
	if err != nil {
		return nil
	}
	return deps
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
