// Copyright 2026 The goredo Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/marcelocantos/goredo/internal/buildjob"
	"github.com/marcelocantos/goredo/internal/config"
	"github.com/marcelocantos/goredo/internal/dirty"
	"github.com/marcelocantos/goredo/internal/jobtoken"
	"github.com/marcelocantos/goredo/internal/msg"
	"github.com/marcelocantos/goredo/internal/redoenv"
	"github.com/marcelocantos/goredo/internal/scheduler"
	"github.com/marcelocantos/goredo/internal/store"
	"github.com/marcelocantos/goredo/internal/targetglob"
)

// runRedoMode implements the shared behavior of the redo-* binaries: mode
// selects which entry point this process is acting as.
func runRedoMode(mode string, args []string) int {
	base, err := redoenv.FindBase()
	if err != nil {
		msg.Fatal("locating .redo base: %v", err)
	}
	startDir, err := redoenv.StartDir()
	if err != nil {
		startDir = base
	}
	depth := redoenv.Depth()

	cfg, err := config.Load(base)
	if err != nil {
		msg.Warn("loading config: %v", err)
		cfg = config.Default()
	}
	msg.SetVerbosity(cfg.Debug, false)
	msg.SetVerbose(cfg.Verbose)

	st, err := store.Open(base)
	if err != nil {
		msg.Fatal("opening store: %v", err)
	}
	defer st.Close()

	switch mode {
	case "ifcreate":
		return runIfCreate(st, args)
	case "always":
		return runAlways(st, args)
	case "unlocked":
		return runUnlocked(cfg, st, startDir, depth, args)
	case "ood":
		expanded, err := targetglob.Expand(base, args)
		if err != nil {
			msg.Error("expanding target patterns: %v", err)
			return 1
		}
		return runOOD(st, expanded)
	case "targets":
		return runTargets(st)
	case "sources":
		return runSources(st)
	default: // "force" (redo), "ifchange"
		pool := jobtoken.New(cfg.Jobs)
		var checker dirty.Checker = dirty.NewDefaultChecker(st)
		if mode == "force" {
			checker = forcedChecker{inner: checker}
		}
		if len(args) == 0 {
			msg.Error("no targets given")
			return buildjob.CodeNoRule
		}
		expanded, err := targetglob.Expand(base, args)
		if err != nil {
			msg.Error("expanding target patterns: %v", err)
			return 1
		}
		sched := scheduler.New(cfg, st, pool, checker, startDir, depth)
		return sched.RunTargets(expanded)
	}
}

// forcedChecker always reports Dirty, implementing `redo`'s unconditional
// rebuild semantics (as opposed to redo-ifchange's conditional rebuild) by
// decorating the default checker rather than branching inside it.
type forcedChecker struct{ inner dirty.Checker }

func (f forcedChecker) ShouldBuild(target string) (dirty.Outcome, error) {
	return dirty.Outcome{Result: dirty.Dirty}, nil
}

// runIfCreate records an ifcreate dependency edge from the current
// recipe's target (named by REDO_TARGET) to each named child, without
// building anything.
func runIfCreate(st *store.SQLStore, args []string) int {
	parentName := currentTarget()
	if parentName == "" {
		msg.Error("redo-ifcreate: no target is currently being built")
		return 1
	}
	parent, err := st.Peek(parentName)
	if err != nil || parent == nil {
		msg.Error("redo-ifcreate: %s is not a known target", parentName)
		return 1
	}
	for _, child := range args {
		if err := parent.AddDep(child, store.KindIfCreate); err != nil {
			msg.Error("recording ifcreate dep %s -> %s: %v", parentName, child, err)
			return 1
		}
	}
	return 0
}

// runAlways marks the current target as never memoized clean, by zeroing
// its recorded checksum so the next shouldbuild check is unconditionally
// dirty.
func runAlways(st *store.SQLStore, _ []string) int {
	parentName := currentTarget()
	if parentName == "" {
		msg.Error("redo-always: no target is currently being built")
		return 1
	}
	t, err := st.FileByName(parentName)
	if err != nil {
		msg.Error("redo-always: %v", err)
		return 1
	}
	rec, ok := t.(*store.Record)
	if !ok {
		return 0
	}
	if err := rec.MarkAlwaysDirty(); err != nil {
		msg.Error("redo-always: %v", err)
		return 1
	}
	return 0
}

// runUnlocked is the out-of-band re-verification helper: it re-checks the
// suspect children of a MaybeDirty target while the parent BuildJob
// retains the target's lock.
func runUnlocked(cfg config.Config, st *store.SQLStore, startDir, depth string, args []string) int {
	if len(args) == 0 {
		return 0
	}
	target := args[0]
	suspects := args[1:]

	checker := dirty.NewDefaultChecker(st)
	pool := jobtoken.New(cfg.Jobs)
	cfg.Unlocked = true

	worst := 0
	if len(suspects) > 0 {
		sched := scheduler.New(cfg, st, pool, checker, startDir, depth)
		worst = sched.RunTargets(suspects)
	}

	t, err := st.FileByName(target)
	if err != nil {
		msg.Error("redo-unlocked: %v", err)
		return 1
	}
	outcome, err := checker.ShouldBuild(target)
	if err != nil {
		return 1
	}
	if outcome.Result == dirty.NotDirty {
		return 0
	}
	if worst != 0 {
		return worst
	}
	lock := st.NewLock(t.ID())
	lock.Assume()
	done := make(chan int, 1)
	cfg.NoOOB = true
	bj := buildjob.New(cfg, st, t, lock, forcedChecker{inner: checker}, pool, startDir, depth,
		func(_ store.Target, rv int) { done <- rv })
	bj.Start()
	pool.WaitAll()
	select {
	case rv := <-done:
		return rv
	default:
		return 0
	}
}

// runOOD, runTargets, runSources are read-only introspection commands
// over the store, named after the real redo tool family's conventions.
func runOOD(st *store.SQLStore, args []string) int {
	names := args
	checker := dirty.NewDefaultChecker(st)
	for _, name := range names {
		outcome, err := checker.ShouldBuild(name)
		if err != nil {
			msg.Error("%s: %v", name, err)
			continue
		}
		if outcome.Result != dirty.NotDirty {
			fmt.Println(name)
		}
	}
	return 0
}

func runTargets(st *store.SQLStore) int {
	names, err := st.AllGenerated()
	if err != nil {
		msg.Error("%v", err)
		return 1
	}
	for _, n := range names {
		fmt.Println(n)
	}
	return 0
}

func runSources(st *store.SQLStore) int {
	names, err := st.AllStatic()
	if err != nil {
		msg.Error("%v", err)
		return 1
	}
	for _, n := range names {
		fmt.Println(n)
	}
	return 0
}

// currentTarget resolves the target presently being built by this
// recipe's parent process, from the environment BuildJob.runRecipe sets.
func currentTarget() string {
	t := os.Getenv("REDO_TARGET")
	if t == "" {
		return ""
	}
	if filepath.IsAbs(t) {
		return t
	}
	cwd, err := os.Getwd()
	if err != nil {
		return t
	}
	return filepath.Join(cwd, t)
}
