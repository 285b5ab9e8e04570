// Copyright 2026 The goredo Authors
// SPDX-License-Identifier: Apache-2.0

package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/marcelocantos/goredo/internal/dofile"
)

// Record is the concrete Target implementation backed by the targets
// table. It also exposes the checksum/dependency bookkeeping the default
// dirty.Checker needs, beyond the narrower Target interface.
type Record struct {
	store *SQLStore

	id                   int64
	name                 string
	isGenerated          bool
	isFailed             bool
	isStatic             bool
	isExternallyModified bool
	checksum             string
	dofileHash           string
	inputHashes          map[string]string
	suspects             []string
}

func scanTarget(s *SQLStore, row *sql.Row) (*Record, error) {
	var (
		r                                       Record
		inputHashesJSON, suspectsJSON           string
		isGenerated, isFailed                   bool
		isStatic, isExternallyModified          bool
	)
	err := row.Scan(&r.id, &r.name, &isGenerated, &isFailed, &isStatic,
		&isExternallyModified, &r.checksum, &r.dofileHash, &inputHashesJSON, &suspectsJSON)
	if err != nil {
		return nil, err
	}
	r.store = s
	r.isGenerated = isGenerated
	r.isFailed = isFailed
	r.isStatic = isStatic
	r.isExternallyModified = isExternallyModified
	_ = json.Unmarshal([]byte(inputHashesJSON), &r.inputHashes)
	if r.inputHashes == nil {
		r.inputHashes = map[string]string{}
	}
	_ = json.Unmarshal([]byte(suspectsJSON), &r.suspects)
	return &r, nil
}

// Peek returns the Record for name without creating one if it doesn't
// exist yet (used by the default dirty.Checker, which must not mutate the
// store merely by asking "is this dirty?").
func (s *SQLStore) Peek(name string) (*Record, error) {
	return s.lookupByName(name)
}

func (r *Record) ID() int64    { return r.id }
func (r *Record) Name() string { return r.name }

// TryStat returns the target's current filesystem stat, or nil if it does
// not exist.
func (r *Record) TryStat() (os.FileInfo, error) {
	info, err := os.Stat(r.name)
	if os.IsNotExist(err) {
		return nil, nil
	}
	return info, err
}

// CheckExternallyModified reports whether a generated target's on-disk
// content no longer matches the checksum recorded at its last successful
// build — i.e. someone hand-edited it outside goredo's control.
func (r *Record) CheckExternallyModified() bool {
	if !r.isGenerated || r.checksum == "" {
		return false
	}
	h, err := HashFile(r.name)
	if err != nil {
		return false
	}
	return h != r.checksum
}

// ExistingNotGenerated reports whether the target exists on disk but was
// never produced by a recipe (a hand-written static source).
func (r *Record) ExistingNotGenerated() bool {
	if r.isGenerated {
		return false
	}
	info, err := r.TryStat()
	return err == nil && info != nil
}

func (r *Record) IsFailed() bool { return r.isFailed }

func (r *Record) SetFailed() { r.isFailed = true }

func (r *Record) SetStatic() {
	r.isStatic = true
	r.isGenerated = false
}

func (r *Record) SetSomethingElse() {
	r.isStatic = true
}

func (r *Record) SetExternallyModified() {
	r.isExternallyModified = true
}

// ZapDeps1 clears dependency edges before do-file resolution begins
// Called just before do-file resolution starts.
func (r *Record) ZapDeps1() {
	if r.store != nil {
		_, _ = r.store.db.Exec(`DELETE FROM deps WHERE parent_id = ?`, r.id)
	}
	r.suspects = nil
}

// ZapDeps2 clears dependency edges after a failed build.
func (r *Record) ZapDeps2() {
	r.ZapDeps1()
}

// Fin finalizes a successful build: recomputes the target's checksum
// (empty if the target is absent), clears the failed flag and the suspect
// list, and saves the record for future staleness checks. The do-file hash
// is left as RecordBuildHashes last set it.
func (r *Record) Fin() error {
	if info, _ := r.TryStat(); info != nil {
		if h, err := HashFile(r.name); err == nil {
			r.checksum = h
		}
	} else {
		r.checksum = ""
	}
	r.isFailed = false
	r.suspects = nil
	return r.Save()
}

func (r *Record) IsGenerated() bool    { return r.isGenerated }
func (r *Record) SetGenerated(v bool)  { r.isGenerated = v }

// Save persists the record to the store.
func (r *Record) Save() error {
	if r.store == nil {
		return nil
	}
	inputHashesJSON, err := json.Marshal(r.inputHashes)
	if err != nil {
		return err
	}
	suspectsJSON, err := json.Marshal(r.suspects)
	if err != nil {
		return err
	}
	_, err = r.store.db.Exec(`UPDATE targets SET is_generated = ?, is_failed = ?,
		is_static = ?, is_externally_modified = ?, checksum = ?, dofile_hash = ?,
		input_hashes = ?, suspects = ?, updated_at = ? WHERE id = ?`,
		r.isGenerated, r.isFailed, r.isStatic, r.isExternallyModified,
		r.checksum, r.dofileHash, string(inputHashesJSON), string(suspectsJSON),
		time.Now().UTC(), r.id)
	return err
}

// TempFilenames returns the two sibling temp paths co-located with the
// target: a stdout-capture file and a $3 artifact file. Since at most one
// BuildJob ever holds this target's Lock at a time, fixed per-target names
// are sufficient (no risk of collision between concurrent builds of the
// same target).
func (r *Record) TempFilenames() (tmpStdout, tmpOut3 string) {
	dir := filepath.Dir(r.name)
	base := filepath.Base(r.name)
	tmpStdout = filepath.Join(dir, "."+base+".redo1.tmp")
	tmpOut3 = filepath.Join(dir, "."+base+".redo2.tmp")
	return tmpStdout, tmpOut3
}

// FindDoFile resolves the recipe script bound to this target.
func (r *Record) FindDoFile(base string) (dodir, doFile, basedir, basename, ext string, ok bool) {
	return dofile.Find(base, r.name)
}

// Checksum returns the checksum recorded at the target's last successful
// build (empty if never built or the build produced no artifact).
func (r *Record) Checksum() string { return r.checksum }

// DoFileHash returns the do-file content hash recorded at the last
// successful build.
func (r *Record) DoFileHash() string { return r.dofileHash }

// InputHash returns the content hash recorded for a named dependency at
// the last successful build.
func (r *Record) InputHash(name string) (string, bool) {
	h, ok := r.inputHashes[name]
	return h, ok
}

// Suspects returns the stored suspect-children list (cleared by ZapDeps1
// and Fin). dirty.DefaultChecker does not read it; it derives MaybeDirty
// suspects from the dependency edges.
func (r *Record) Suspects() []string { return append([]string(nil), r.suspects...) }

// SetSuspects overwrites the suspect-children list.
func (r *Record) SetSuspects(suspects []string) { r.suspects = suspects }

// RecordBuildHashes stamps the do-file hash and input-dependency hashes
// observed for this build, for use by the next ShouldBuild check. Call
// before Fin() persists the whole record.
func (r *Record) RecordBuildHashes(doFileHash string, inputs map[string]string) {
	r.dofileHash = doFileHash
	if inputs != nil {
		r.inputHashes = inputs
	}
}

// MarkAlwaysDirty clears every recorded staleness signal so the next
// shouldbuild check is unconditionally dirty (redo-always's contract).
func (r *Record) MarkAlwaysDirty() error {
	r.checksum = ""
	r.dofileHash = ""
	r.inputHashes = map[string]string{}
	return r.Save()
}

// AddDep records a dependency edge of the given kind ("ifchange" or
// "ifcreate") from this target to child.
func (r *Record) AddDep(child string, kind DepKind) error {
	if r.store == nil {
		return fmt.Errorf("target %q has no store", r.name)
	}
	_, err := r.store.db.Exec(`INSERT OR REPLACE INTO deps (parent_id, child_name, kind)
		VALUES (?, ?, ?)`, r.id, child, string(kind))
	return err
}

// Deps returns the dependency names of the given kind recorded for this
// target.
func (r *Record) Deps(kind DepKind) ([]string, error) {
	if r.store == nil {
		return nil, nil
	}
	rows, err := r.store.db.Query(`SELECT child_name FROM deps WHERE parent_id = ? AND kind = ?`,
		r.id, string(kind))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		out = append(out, name)
	}
	return out, rows.Err()
}

// DepKind distinguishes "rebuild if this changed" from "rebuild if this
// newly exists" dependency edges. ZapDeps1 and ZapDeps2 clear edges of
// both kinds.
type DepKind string

const (
	KindIfChange DepKind = "ifchange"
	KindIfCreate DepKind = "ifcreate"
)
