// Copyright 2026 The goredo Authors
// SPDX-License-Identifier: Apache-2.0

// Package buildjob implements the per-target transient object that
// classifies a target, resolves and runs its recipe, and
// validates and publishes the result. Translated from marcelocantos-mk's
// exec.go Executor.executeRecipe (subprocess plumbing: exec.Command,
// Stdout/Stderr/Env wiring) into the redo-style three-argument recipe
// contract ($1/$2/$3) with direct-modify and redundant-output discipline
// checks exec.go has no analogue for.
package buildjob

import (
	"bufio"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/marcelocantos/goredo/internal/config"
	"github.com/marcelocantos/goredo/internal/dirty"
	"github.com/marcelocantos/goredo/internal/jobtoken"
	"github.com/marcelocantos/goredo/internal/metrics"
	"github.com/marcelocantos/goredo/internal/msg"
	"github.com/marcelocantos/goredo/internal/store"
)

// Exit codes reserved for conditions the core itself detects, distinct
// from whatever a recipe's own exit status means.
const (
	CodeOK              = 0
	CodeNoRule          = 1
	CodeAlreadyFailed   = 2
	CodeMetadataGone    = 205
	CodeDirectModify    = 206
	CodeRedundantOutput = 207
)

// DoneFunc is invoked exactly once per BuildJob with the final outcome.
type DoneFunc func(t store.Target, rv int)

// BuildJob executes one target: it is created just after the caller
// acquires the target's Lock, and destroyed after its completion callback
// runs.
type BuildJob struct {
	cfg     config.Config
	st      store.Store
	target  store.Target
	lock    store.Lock
	checker dirty.Checker
	tokens  jobtoken.Pool
	done    DoneFunc

	startDir string
	depth    string

	beforeStat os.FileInfo

	dodir, dofile, basedir, basename, ext string
	tmpStdoutPath, tmpOut3Path            string
	tmpStdoutFile                         *os.File

	startedAt time.Time
}

// New constructs a BuildJob. The caller must already hold lock.
func New(cfg config.Config, st store.Store, target store.Target, lock store.Lock,
	checker dirty.Checker, tokens jobtoken.Pool, startDir, depth string, done DoneFunc) *BuildJob {
	return &BuildJob{
		cfg:      cfg,
		st:       st,
		target:   target,
		lock:     lock,
		checker:  checker,
		tokens:   tokens,
		done:     done,
		startDir: startDir,
		depth:    depth,
	}
}

// Start runs the target's dirtiness check and, depending on its outcome,
// either finishes immediately or dispatches the recipe. Precondition: the
// lock is held.
func (bj *BuildJob) Start() {
	bj.beforeStat, _ = bj.target.TryStat()

	outcome, err := bj.checker.ShouldBuild(bj.target.Name())
	if err != nil {
		msg.Error("checking %s: %v", bj.nice(), err)
		bj.finish(CodeNoRule)
		return
	}

	switch outcome.Result {
	case dirty.NotDirty:
		bj.finish(CodeOK)
	case dirty.ShortCircuit:
		bj.finish(outcome.Code)
	case dirty.Dirty:
		bj.startDo()
	case dirty.MaybeDirty:
		if bj.cfg.NoOOB {
			bj.startDo()
		} else {
			bj.startUnlocked(outcome.Suspects)
		}
	default:
		bj.startDo()
	}
}

func (bj *BuildJob) nice() string {
	return store.NiceName(bj.target.Name(), bj.startDir)
}

// startDo classifies the target and, if it genuinely needs a recipe run,
// resolves the do-file and dispatches it to the job broker.
func (bj *BuildJob) startDo() {
	if bj.target.CheckExternallyModified() {
		bj.st.WarnOverride(bj.target.Name())
		bj.target.SetExternallyModified()
		bj.finish(CodeOK)
		return
	}
	if bj.target.ExistingNotGenerated() {
		bj.target.SetSomethingElse()
		bj.finish(CodeOK)
		return
	}

	bj.target.ZapDeps1()

	dodir, dofile, basedir, basename, ext, ok := bj.target.FindDoFile(bj.st.Base())
	if !ok {
		if info, _ := bj.target.TryStat(); info != nil {
			bj.target.SetSomethingElse()
			bj.finish(CodeOK)
			return
		}
		msg.Error("no rule to build %s", bj.nice())
		bj.finish(CodeNoRule)
		return
	}
	bj.dodir, bj.dofile, bj.basedir, bj.basename, bj.ext = dodir, dofile, basedir, basename, ext

	argv, err := bj.setupArgv()
	if err != nil {
		msg.Error("preparing recipe for %s: %v", bj.nice(), err)
		bj.finish(CodeNoRule)
		return
	}

	bj.target.SetGenerated(true)
	if err := bj.target.Save(); err != nil {
		msg.Warn("saving %s: %v", bj.nice(), err)
	}

	doFilePath := filepath.Join(bj.dodir, bj.dofile)
	if doTarget, err := bj.st.FileByName(doFilePath); err == nil {
		doTarget.SetStatic()
		_ = doTarget.Save()
	}
	if err := bj.st.Commit(); err != nil {
		msg.Warn("commit: %v", err)
	}

	bj.startedAt = time.Now()
	bj.tokens.StartJob(bj.target.Name(),
		func() int { return bj.runRecipe(argv) },
		func(rv int) { bj.after(rv) },
	)
}

// setupArgv opens the recipe's stdout temp file and composes its argv:
// interpreter, do-file name, then the $1/$2/$3 triple.
func (bj *BuildJob) setupArgv() ([]string, error) {
	tmpStdout, tmpOut3 := bj.target.TempFilenames()
	bj.tmpStdoutPath, bj.tmpOut3Path = tmpStdout, tmpOut3

	// A prior recipe run for this target may have been killed before it
	// could clean up after itself; these paths are fixed per-target, so
	// a leftover would otherwise either fail the O_EXCL open outright or
	// get silently republished by yeah().
	os.Remove(tmpStdout)
	os.Remove(tmpOut3)

	f, err := os.OpenFile(tmpStdout, os.O_CREATE|os.O_RDWR|os.O_EXCL, 0o666)
	if err != nil {
		return nil, fmt.Errorf("creating %s: %w", tmpStdout, err)
	}
	bj.tmpStdoutFile = f

	var arg1, arg2 string
	if bj.cfg.OldArgs {
		arg1 = bj.basename
		arg2 = bj.ext
	} else {
		arg1 = bj.basename + bj.ext
		arg2 = bj.basename
	}
	arg3, err := filepath.Rel(bj.dodir, tmpOut3)
	if err != nil {
		arg3 = tmpOut3
	}

	interp := []string{"sh", "-e"}
	if bj.cfg.Verbose {
		interp[1] += "v"
	}
	if bj.cfg.XTrace {
		interp[1] += "x"
	}

	doFilePath := filepath.Join(bj.dodir, bj.dofile)
	if shebang, ok := readShebang(doFilePath); ok {
		interp = shebang
	}

	argv := append(append([]string{}, interp...), bj.dofile, arg1, arg2, arg3)
	return argv, nil
}

// readShebang reads the first line of path and, if it begins with "#!/",
// returns its tokens as the interpreter override.
func readShebang(path string) ([]string, bool) {
	f, err := os.Open(path)
	if err != nil {
		return nil, false
	}
	defer f.Close()
	sc := bufio.NewScanner(f)
	if !sc.Scan() {
		return nil, false
	}
	line := sc.Text()
	if !strings.HasPrefix(line, "#!/") {
		return nil, false
	}
	fields := strings.Fields(strings.TrimPrefix(line, "#!"))
	if len(fields) == 0 {
		return nil, false
	}
	return fields, true
}

// runRecipe runs the composed recipe argv as the recipe child. It is the
// "body" handed to the job broker and runs concurrently with other
// in-flight recipes.
func (bj *BuildJob) runRecipe(argv []string) int {
	defer bj.tmpStdoutFile.Close()

	cmd := exec.Command(argv[0], argv[1:]...)
	cmd.Dir = bj.dodir
	cmd.Stdout = bj.tmpStdoutFile
	cmd.Stderr = os.Stderr
	cmd.Stdin = nil

	pwd, err := filepath.Rel(bj.startDir, bj.dodir)
	if err != nil {
		pwd = bj.dodir
	}
	cmd.Env = append(os.Environ(),
		"REDO_PWD="+pwd,
		"REDO_TARGET="+bj.basename+bj.ext,
		"REDO_DEPTH="+bj.depth+"  ",
	)

	msg.Info("%s%s", bj.depth, bj.nice())
	err = cmd.Run()
	if err == nil {
		return 0
	}
	if exitErr, ok := err.(*exec.ExitError); ok {
		if ws, ok := exitErr.Sys().(syscall.WaitStatus); ok {
			return ws.ExitStatus()
		}
		return 1
	}
	msg.Error("executing recipe for %s: %v", bj.nice(), err)
	return 127
}

// after validates and publishes (or rejects) the recipe's output, then
// completes the job.
func (bj *BuildJob) after(rv int) {
	if rv == 0 && bj.checkDirectModify() {
		msg.Error("%s modified $1 directly", bj.nice())
		rv = CodeDirectModify
	}
	if rv == 0 && bj.checkRedundantOutput() {
		msg.Error("%s wrote to both stdout and $3", bj.nice())
		rv = CodeRedundantOutput
	}

	if rv == 0 {
		if err := bj.yeah(); err != nil {
			msg.Error("publishing %s: %v", bj.nice(), err)
			rv = 1
		} else if err := bj.target.Fin(); err != nil {
			msg.Warn("finalizing %s: %v", bj.nice(), err)
		}
	} else {
		bj.nah(rv)
	}

	metrics.ObserveBuild(rv, time.Since(bj.startedAt))
	bj.after2(rv)
}

// checkDirectModify reports whether the recipe wrote to the target path
// ($1) directly instead of through $3/stdout, by comparing ctime before
// and after the recipe ran.
func (bj *BuildJob) checkDirectModify() bool {
	if bj.beforeStat == nil || bj.beforeStat.IsDir() {
		return false
	}
	after, err := bj.target.TryStat()
	if err != nil || after == nil || after.IsDir() {
		return false
	}
	before, ok1 := ctimeOf(bj.beforeStat)
	now, ok2 := ctimeOf(after)
	if !ok1 || !ok2 {
		return false
	}
	return !before.Equal(now)
}

func ctimeOf(info os.FileInfo) (time.Time, bool) {
	st, ok := info.Sys().(*syscall.Stat_t)
	if !ok {
		return time.Time{}, false
	}
	return time.Unix(st.Ctim.Sec, st.Ctim.Nsec), true
}

// checkRedundantOutput reports whether the recipe both produced a
// non-empty stdout temp file and created $3 — the two output channels are
// mutually exclusive.
func (bj *BuildJob) checkRedundantOutput() bool {
	st2, err2 := os.Stat(bj.tmpOut3Path)
	if err2 != nil {
		return false
	}
	_ = st2
	st1, err1 := os.Stat(bj.tmpStdoutPath)
	return err1 == nil && st1.Size() > 0
}

// yeah publishes the recipe's output onto the target path: $3 wins if
// present, otherwise a non-empty stdout capture, otherwise the target
// (and any stale artifact) is removed.
func (bj *BuildJob) yeah() error {
	st2, err2 := os.Stat(bj.tmpOut3Path)
	haveOut3 := err2 == nil

	if haveOut3 {
		_ = st2
		if err := renameOrRemove(bj.tmpOut3Path, bj.target.Name()); err != nil {
			return err
		}
		os.Remove(bj.tmpStdoutPath)
		return nil
	}

	st1, err1 := os.Stat(bj.tmpStdoutPath)
	if err1 == nil && st1.Size() > 0 {
		if err := renameOrRemove(bj.tmpStdoutPath, bj.target.Name()); err != nil {
			return err
		}
		os.Remove(bj.tmpOut3Path)
		return nil
	}

	os.Remove(bj.tmpStdoutPath)
	os.Remove(bj.tmpOut3Path)
	os.Remove(bj.target.Name())
	return nil
}

// renameOrRemove atomically publishes src as dst. If the rename fails with
// ENOENT, dst is unlinked instead (a no-op if it is already absent) and no
// error is reported.
func renameOrRemove(src, dst string) error {
	if err := os.Rename(src, dst); err != nil {
		if os.IsNotExist(err) {
			os.Remove(dst)
			return nil
		}
		return err
	}
	return nil
}

// nah rejects the recipe's output: unlinks both temps, marks the target
// failed, and clears its dependency edges so the next run treats it as
// unproven.
func (bj *BuildJob) nah(rv int) {
	os.Remove(bj.tmpStdoutPath)
	os.Remove(bj.tmpOut3Path)
	bj.target.SetFailed()
	bj.target.ZapDeps2()
	if err := bj.target.Save(); err != nil {
		msg.Warn("saving %s: %v", bj.nice(), err)
	}
	msg.Error("%s exited with code %d", bj.nice(), rv)
}

// after2 invokes the completion callback and always releases the lock,
// This is the sole funnel every exit path — including
// the immediate-finish shortcuts — goes through, so the lock is
// guaranteed to be released exactly once.
func (bj *BuildJob) after2(rv int) {
	defer func() {
		if r := recover(); r != nil {
			msg.Error("buildjob %s panicked completing: %v", bj.nice(), r)
		}
		bj.lock.Unlock()
	}()
	bj.done(bj.target, rv)
}

// finish completes the job immediately without running a recipe (the
// not-dirty, externally-modified, something-else, no-rule, and
// short-circuit outcomes all funnel through here). Unlike the
// StartJob-dispatched recipe path, nothing here ever hands the job's
// token to the broker to give back, so finish returns it itself —
// otherwise every immediate-finish target leaks the token the scheduler
// acquired for it before it knew the target wasn't dirty.
func (bj *BuildJob) finish(rv int) {
	bj.tokens.ReleaseMine()
	bj.after2(rv)
}

// startUnlocked dispatches the out-of-band path: an auxiliary
// `redo-unlocked` driver process re-verifies the suspect children while
// this BuildJob retains the lock.
func (bj *BuildJob) startUnlocked(suspects []string) {
	args := append([]string{bj.target.Name()}, suspects...)
	bj.tokens.StartJob(bj.target.Name(),
		func() int { return bj.runUnlocked(args) },
		func(rv int) { bj.after2(rv) },
	)
}

func (bj *BuildJob) runUnlocked(args []string) int {
	self, err := os.Executable()
	if err != nil {
		self = "redo-unlocked"
	} else {
		self = filepath.Join(filepath.Dir(self), "redo-unlocked")
	}
	cmd := exec.Command(self, args...)
	cmd.Env = append(os.Environ(), "REDO_UNLOCKED=1")
	cmd.Stdout = os.Stderr
	cmd.Stderr = os.Stderr
	if err := cmd.Run(); err == nil {
		return 0
	} else if exitErr, ok := err.(*exec.ExitError); ok {
		if ws, ok := exitErr.Sys().(syscall.WaitStatus); ok {
			return ws.ExitStatus()
		}
	}
	return 1
}
