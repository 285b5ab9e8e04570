// Copyright 2026 The goredo Authors
// SPDX-License-Identifier: Apache-2.0

// Package store implements the persistent metadata store and per-target
// lock manager: the `Target` record and `Lock` handle that the scheduler
// and build jobs treat as external collaborators. It backs them with a
// modernc.org/sqlite database at .redo/redo.db, following the
// connection/migration idiom of mattcburns-shoal-provision's
// internal/database package (pure-Go sqlite driver, idempotent
// CREATE TABLE IF NOT EXISTS migrations, log/slog progress logging), in
// place of marcelocantos-mk's JSON-file BuildState.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite"
)

// Target is the per-target metadata handle (a File record).
type Target interface {
	ID() int64
	Name() string

	TryStat() (os.FileInfo, error)
	CheckExternallyModified() bool
	ExistingNotGenerated() bool

	IsFailed() bool
	SetFailed()
	SetStatic()
	SetSomethingElse()
	SetExternallyModified()

	ZapDeps1()
	ZapDeps2()
	Fin() error

	IsGenerated() bool
	SetGenerated(bool)

	Save() error

	TempFilenames() (tmpStdout, tmpOut3 string)
	FindDoFile(base string) (dodir, dofile, basedir, basename, ext string, ok bool)
}

// Lock is the per-target advisory exclusive lock.
type Lock interface {
	TryLock() bool
	WaitLock()
	Unlock()
	Owned() bool
	// Assume marks the lock as owned without acquiring it, for the
	// UNLOCKED config flag (the caller is itself redo-unlocked and the
	// parent already holds the real lock).
	Assume()
}

// Store is the persistent metadata store capability.
type Store interface {
	FileByName(name string) (Target, error)
	FileByID(id int64) (Target, error)
	NewLock(id int64) Lock
	RelPath(path, base string) string
	Commit() error
	CheckSane() bool
	WarnOverride(name string)
	Base() string
}

// SQLStore is the default Store implementation.
type SQLStore struct {
	db       *sql.DB
	base     string
	redoDir  string
	locksDir string
}

// Open opens (creating if necessary) the .redo metadata store rooted at
// base, and runs migrations.
func Open(base string) (*SQLStore, error) {
	absBase, err := filepath.Abs(base)
	if err != nil {
		return nil, err
	}
	redoDir := filepath.Join(absBase, ".redo")
	locksDir := filepath.Join(redoDir, "locks")
	if err := os.MkdirAll(locksDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating %s: %w", locksDir, err)
	}

	dbPath := filepath.Join(redoDir, "redo.db")
	conn, err := sql.Open("sqlite", dbPath+"?_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", dbPath, err)
	}
	if err := conn.Ping(); err != nil {
		return nil, fmt.Errorf("pinging %s: %w", dbPath, err)
	}

	s := &SQLStore{db: conn, base: absBase, redoDir: redoDir, locksDir: locksDir}
	if err := s.migrate(context.Background()); err != nil {
		conn.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLStore) migrate(ctx context.Context) error {
	slog.Info("running goredo store migrations", "path", s.redoDir)
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS targets (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			name TEXT NOT NULL UNIQUE,
			is_generated BOOLEAN NOT NULL DEFAULT 0,
			is_failed BOOLEAN NOT NULL DEFAULT 0,
			is_static BOOLEAN NOT NULL DEFAULT 0,
			is_externally_modified BOOLEAN NOT NULL DEFAULT 0,
			checksum TEXT NOT NULL DEFAULT '',
			dofile_hash TEXT NOT NULL DEFAULT '',
			input_hashes TEXT NOT NULL DEFAULT '{}',
			suspects TEXT NOT NULL DEFAULT '[]',
			updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS deps (
			parent_id INTEGER NOT NULL,
			child_name TEXT NOT NULL,
			kind TEXT NOT NULL,
			PRIMARY KEY (parent_id, child_name, kind)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_deps_parent ON deps(parent_id)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migration %q: %w", stmt, err)
		}
	}
	return nil
}

// Close closes the underlying database connection.
func (s *SQLStore) Close() error {
	return s.db.Close()
}

// Base returns the repository base directory this store is rooted at.
func (s *SQLStore) Base() string { return s.base }

// FileByName returns the Target for name, creating a fresh row if one does
// not yet exist — Target records are created on demand by the
// scheduler (by name).
func (s *SQLStore) FileByName(name string) (Target, error) {
	t, err := s.lookupByName(name)
	if err != nil {
		return nil, err
	}
	if t != nil {
		return t, nil
	}

	res, err := s.db.Exec(`INSERT INTO targets (name) VALUES (?)`, name)
	if err != nil {
		// Lost the race with a concurrent process; re-read.
		if t, err2 := s.lookupByName(name); err2 == nil && t != nil {
			return t, nil
		}
		return nil, fmt.Errorf("inserting target %q: %w", name, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, err
	}
	return s.FileByID(id)
}

// FileByID re-opens a Target by its stable id, for re-opening a deferred
// target in the scheduler's drain pass.
func (s *SQLStore) FileByID(id int64) (Target, error) {
	row := s.db.QueryRow(`SELECT id, name, is_generated, is_failed, is_static,
		is_externally_modified, checksum, dofile_hash, input_hashes, suspects
		FROM targets WHERE id = ?`, id)
	return scanTarget(s, row)
}

func (s *SQLStore) lookupByName(name string) (*Record, error) {
	row := s.db.QueryRow(`SELECT id, name, is_generated, is_failed, is_static,
		is_externally_modified, checksum, dofile_hash, input_hashes, suspects
		FROM targets WHERE name = ?`, name)
	t, err := scanTarget(s, row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return t, nil
}

// NewLock creates a Lock handle for the given target id.
func (s *SQLStore) NewLock(id int64) Lock {
	return &flockLock{path: filepath.Join(s.locksDir, fmt.Sprintf("%d.lock", id))}
}

// RelPath expresses path relative to base, used to print user-relative
// paths in log output.
func (s *SQLStore) RelPath(path, base string) string {
	rel, err := filepath.Rel(base, path)
	if err != nil || strings.HasPrefix(rel, "..") {
		return path
	}
	return rel
}

// Commit issues a passive WAL checkpoint. The database is not opened in
// WAL mode and every write commits on its own, so the checkpoint has
// nothing to flush. Called before any blocking
// get_token, before handing a recipe to the broker, and before final
// return.
func (s *SQLStore) Commit() error {
	_, err := s.db.Exec(`PRAGMA wal_checkpoint(PASSIVE)`)
	return err
}

// CheckSane reports whether the .redo metadata directory still exists.
// If it has vanished mid-run, the caller cannot continue.
func (s *SQLStore) CheckSane() bool {
	info, err := os.Stat(s.redoDir)
	return err == nil && info.IsDir()
}

// WarnOverride logs that a generated target was hand-edited outside
// goredo's control.
func (s *SQLStore) WarnOverride(name string) {
	slog.Warn("target modified outside goredo; leaving it alone", "target", name)
}

// AllGenerated returns the names of every target recorded as produced by
// a recipe, for `redo-targets`.
func (s *SQLStore) AllGenerated() ([]string, error) {
	return s.namesWhere(`is_generated = 1`)
}

// AllStatic returns the names of every target recorded as a hand-written
// source, for `redo-sources`.
func (s *SQLStore) AllStatic() ([]string, error) {
	return s.namesWhere(`is_static = 1`)
}

func (s *SQLStore) namesWhere(cond string) ([]string, error) {
	rows, err := s.db.Query(`SELECT name FROM targets WHERE ` + cond + ` ORDER BY name`)
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

// NiceName relativizes name against startDir for log output.
func NiceName(name, startDir string) string {
	rel, err := filepath.Rel(startDir, name)
	if err != nil || strings.HasPrefix(rel, "..") {
		return name
	}
	return rel
}
