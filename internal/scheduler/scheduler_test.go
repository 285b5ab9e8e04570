// Copyright 2026 The goredo Authors
// SPDX-License-Identifier: Apache-2.0

package scheduler

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/marcelocantos/goredo/internal/buildjob"
	"github.com/marcelocantos/goredo/internal/config"
	"github.com/marcelocantos/goredo/internal/dirty"
	"github.com/marcelocantos/goredo/internal/jobtoken"
	"github.com/marcelocantos/goredo/internal/metrics"
	"github.com/marcelocantos/goredo/internal/store"
)

func newTestScheduler(t *testing.T, cfg config.Config) (*Scheduler, *store.SQLStore, string) {
	t.Helper()
	metrics.Reset()
	base := t.TempDir()
	st, err := store.Open(base)
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	cfg.Base = base
	return New(cfg, st, jobtoken.New(2), dirty.NewDefaultChecker(st), base, ""), st, base
}

func writeDoFile(t *testing.T, base, relPath, body string) {
	t.Helper()
	full := filepath.Join(base, relPath)
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(full, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestRunTargets_AllSucceed(t *testing.T) {
	sched, _, base := newTestScheduler(t, config.Default())
	writeDoFile(t, base, "a.o.do", "echo a > $3\n")
	writeDoFile(t, base, "b.o.do", "echo b > $3\n")

	rv := sched.RunTargets([]string{filepath.Join(base, "a.o"), filepath.Join(base, "b.o")})
	if rv != 0 {
		t.Fatalf("RunTargets() = %d, want 0", rv)
	}
	for _, name := range []string{"a.o", "b.o"} {
		if _, err := os.Stat(filepath.Join(base, name)); err != nil {
			t.Errorf("expected %s to be built: %v", name, err)
		}
	}
}

func TestRunTargets_NoRulePropagatesFailure(t *testing.T) {
	sched, _, base := newTestScheduler(t, config.Default())

	rv := sched.RunTargets([]string{filepath.Join(base, "missing.o")})
	if rv != buildjob.CodeNoRule {
		t.Errorf("RunTargets() = %d, want CodeNoRule (%d)", rv, buildjob.CodeNoRule)
	}
}

func TestRunTargets_StopsEarlyWithoutKeepGoing(t *testing.T) {
	sched, _, base := newTestScheduler(t, config.Default())
	writeDoFile(t, base, "b.o.do", "echo b > $3\n")

	rv := sched.RunTargets([]string{
		filepath.Join(base, "missing.o"),
		filepath.Join(base, "b.o"),
	})
	if rv != buildjob.CodeNoRule {
		t.Fatalf("RunTargets() = %d, want CodeNoRule", rv)
	}
	if _, err := os.Stat(filepath.Join(base, "b.o")); !os.IsNotExist(err) {
		t.Errorf("b.o should not have been built once an earlier target failed without keep-going")
	}
}

func TestRunTargets_KeepGoingRunsEverything(t *testing.T) {
	cfg := config.Default()
	cfg.KeepGoing = true
	sched, _, base := newTestScheduler(t, cfg)
	writeDoFile(t, base, "b.o.do", "echo b > $3\n")

	rv := sched.RunTargets([]string{
		filepath.Join(base, "missing.o"),
		filepath.Join(base, "b.o"),
	})
	if rv != buildjob.CodeNoRule {
		t.Fatalf("RunTargets() = %d, want CodeNoRule", rv)
	}
	if _, err := os.Stat(filepath.Join(base, "b.o")); err != nil {
		t.Errorf("b.o should have been built under keep-going despite the earlier failure: %v", err)
	}
}

func TestRunTargets_ReservedCodeOutranksPlainFailure(t *testing.T) {
	cfg := config.Default()
	cfg.KeepGoing = true
	sched, st, base := newTestScheduler(t, cfg)

	// "plain.o" has no rule (rv=1, not reserved); "direct.o" exists already,
	// is recorded as generated (so it is not a static source), and its
	// recipe bypasses $3/stdout to modify it directly (rv=206, reserved).
	// Reserved codes must win the aggregate regardless of the order targets
	// were requested in.
	direct := filepath.Join(base, "direct.o")
	if err := os.WriteFile(direct, []byte("stale"), 0o644); err != nil {
		t.Fatal(err)
	}
	tgt, err := st.FileByName(direct)
	if err != nil {
		t.Fatal(err)
	}
	tgt.SetGenerated(true)
	if err := tgt.Save(); err != nil {
		t.Fatal(err)
	}
	writeDoFile(t, base, "direct.o.do", "echo bypass > direct.o\n")

	rv := sched.RunTargets([]string{
		filepath.Join(base, "plain.o"),
		direct,
	})
	if rv != buildjob.CodeDirectModify {
		t.Errorf("RunTargets() = %d, want the reserved CodeDirectModify (%d) to win", rv, buildjob.CodeDirectModify)
	}
}
