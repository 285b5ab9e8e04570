// Copyright 2026 The goredo Authors
// SPDX-License-Identifier: Apache-2.0

package store

import (
	"errors"
	"os"
	"syscall"

	"github.com/google/uuid"

	"github.com/marcelocantos/goredo/internal/msg"
)

// flockLock is the default Lock implementation: one regular file per
// target id under .redo/locks, held exclusively via syscall.Flock. This is
// advisory, cross-process locking — any cooperating goredo process sees
// the same lock state, which is what lets two independent `redo` runs
// against the same tree serialize on a contended target rather than race.
type flockLock struct {
	path string
	file *os.File
	held bool

	// token is stamped fresh on every successful acquisition and included
	// in the msg.Debug2 lock traces, so overlapping lock/unlock traces
	// across processes can be told apart in the log.
	token string
}

// TryLock attempts a non-blocking exclusive acquisition. It returns false
// (without error) if another process currently holds the lock.
func (l *flockLock) TryLock() bool {
	if l.held {
		return true
	}
	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		msg.Warn("opening lock file %s: %v", l.path, err)
		return false
	}
	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		f.Close()
		if errors.Is(err, syscall.EWOULDBLOCK) {
			return false
		}
		msg.Warn("flocking %s: %v", l.path, err)
		return false
	}
	l.file = f
	l.held = true
	l.token = uuid.NewString()
	msg.Debug2("lock acquired %s token=%s", l.path, l.token)
	return true
}

// WaitLock blocks until the exclusive lock is acquired. Callers must have
// already given back any job-slot token they hold (see jobtoken.Pool) —
// blocking here while still holding a token is how you deadlock the whole
// build.
func (l *flockLock) WaitLock() {
	if l.held {
		return
	}
	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		msg.Warn("opening lock file %s: %v", l.path, err)
		return
	}
	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX); err != nil {
		f.Close()
		msg.Warn("flocking %s: %v", l.path, err)
		return
	}
	l.file = f
	l.held = true
	l.token = uuid.NewString()
	msg.Debug2("lock acquired (blocking) %s token=%s", l.path, l.token)
}

// Unlock releases the lock if held.
func (l *flockLock) Unlock() {
	if !l.held || l.file == nil {
		return
	}
	msg.Debug2("lock released %s token=%s", l.path, l.token)
	syscall.Flock(int(l.file.Fd()), syscall.LOCK_UN)
	l.file.Close()
	l.file = nil
	l.held = false
	l.token = ""
}

// Owned reports whether this handle currently holds the lock.
func (l *flockLock) Owned() bool { return l.held }

// Assume marks the lock as owned without acquiring it (for REDO_UNLOCKED
// children, whose parent already holds the real flock on their behalf).
func (l *flockLock) Assume() {
	l.held = true
	l.token = uuid.NewString()
}
