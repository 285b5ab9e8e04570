// Copyright 2026 The goredo Authors
// SPDX-License-Identifier: Apache-2.0

// Package scheduler implements the top-level two-phase driver that
// dispatches BuildJobs for a sequence of requested targets: an
// opportunistic pass that grabs every lock it can without blocking,
// followed by a drain pass that blocks in turn on whatever is left.
// Translated from marcelocantos-mk's Executor.Build/doBuild
// singleflight-dedup shape (exec.go), generalized from mk's
// recursive-build-with-waitgroup model into redo's flat token/lock-based
// two-phase scheduling.
package scheduler

import (
	"math/rand"
	"sync"

	"github.com/marcelocantos/goredo/internal/buildjob"
	"github.com/marcelocantos/goredo/internal/config"
	"github.com/marcelocantos/goredo/internal/dirty"
	"github.com/marcelocantos/goredo/internal/jobtoken"
	"github.com/marcelocantos/goredo/internal/msg"
	"github.com/marcelocantos/goredo/internal/store"
)

// Scheduler runs a batch of targets to completion, aggregating their
// exit codes under a "first failure wins unless a reserved code is
// raised" rule.
type Scheduler struct {
	cfg     config.Config
	st      store.Store
	tokens  jobtoken.Pool
	checker dirty.Checker

	startDir string
	depth    string

	mu        sync.Mutex
	worstCode int
	anyFailed bool
	hasToken  bool
}

// New constructs a Scheduler.
func New(cfg config.Config, st store.Store, tokens jobtoken.Pool, checker dirty.Checker, startDir, depth string) *Scheduler {
	return &Scheduler{cfg: cfg, st: st, tokens: tokens, checker: checker, startDir: startDir, depth: depth}
}

type deferredTarget struct {
	id   int64
	name string
}

// RunTargets builds every target in names and returns the aggregate exit
// code.
func (s *Scheduler) RunTargets(names []string) int {
	if !s.st.CheckSane() {
		msg.Error("metadata directory is gone; cannot continue")
		return buildjob.CodeMetadataGone
	}

	order := names
	if s.cfg.Shuffle {
		order = append([]string(nil), names...)
		rand.Shuffle(len(order), func(i, j int) { order[i], order[j] = order[j], order[i] })
	}

	seen := make(map[string]bool, len(order))
	var deferred []deferredTarget

	// Phase 1: opportunistic pass.
	for _, name := range order {
		if seen[name] {
			continue
		}
		seen[name] = true

		if s.failed() && !s.cfg.KeepGoing {
			break
		}

		if !s.st.CheckSane() {
			s.record(buildjob.CodeMetadataGone)
			break
		}

		if !s.hasToken {
			_ = s.st.Commit()
		}
		s.tokens.GetToken(name)
		s.hasToken = true

		target, err := s.st.FileByName(name)
		if err != nil {
			msg.Error("opening %s: %v", name, err)
			s.record(1)
			continue
		}
		lock := s.st.NewLock(target.ID())

		owned := false
		if s.cfg.Unlocked {
			lock.Assume()
			owned = true
		} else {
			owned = lock.TryLock()
		}

		if !owned {
			deferred = append(deferred, deferredTarget{id: target.ID(), name: name})
			continue
		}

		s.launch(target, lock)
	}

	// Phase 2: drain pass.
	for len(deferred) > 0 || s.tokens.Running() > 0 {
		_ = s.st.Commit()
		s.tokens.WaitAll()
		s.hasToken = false

		if s.failed() && !s.cfg.KeepGoing {
			break
		}
		if len(deferred) == 0 {
			continue
		}

		dt := deferred[0]
		deferred = deferred[1:]

		lock := s.st.NewLock(dt.id)
		owned := lock.TryLock()
		for !owned {
			s.tokens.ReleaseMine()
			lock.WaitLock()
			lock.Unlock()
			s.tokens.GetToken(dt.name)
			s.hasToken = true
			owned = lock.TryLock()
		}

		target, err := s.st.FileByID(dt.id)
		if err != nil {
			msg.Error("re-opening %s: %v", dt.name, err)
			lock.Unlock()
			s.record(1)
			continue
		}
		if target.IsFailed() {
			lock.Unlock()
			s.record(buildjob.CodeAlreadyFailed)
			continue
		}

		s.launch(target, lock)
	}

	_ = s.st.Commit()
	return s.worstCode
}

func (s *Scheduler) launch(target store.Target, lock store.Lock) {
	job := buildjob.New(s.cfg, s.st, target, lock, s.checker, s.tokens, s.startDir, s.depth,
		func(t store.Target, rv int) { s.record(rv) })
	job.Start()
}

// record folds rv into the scheduler's aggregate exit code. Reserved
// codes (2, 205, 206, 207) always win over a plain non-zero code; among
// equal-priority codes, the first one seen wins. Safe for concurrent use:
// BuildJob completion callbacks fire from job-broker goroutines.
func (s *Scheduler) record(rv int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rv != 0 {
		s.anyFailed = true
	}
	if s.worstCode == 0 {
		s.worstCode = rv
		return
	}
	if isReserved(rv) && !isReserved(s.worstCode) {
		s.worstCode = rv
	}
}

func (s *Scheduler) failed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.anyFailed
}

func isReserved(code int) bool {
	switch code {
	case buildjob.CodeAlreadyFailed, buildjob.CodeMetadataGone, buildjob.CodeDirectModify, buildjob.CodeRedundantOutput:
		return true
	default:
		return false
	}
}
