// Copyright 2026 The goredo Authors
// SPDX-License-Identifier: Apache-2.0

// Package jobtoken implements the job-slot broker: a cooperative
// parallelism-token pool modeled on GNU make's jobserver, exposing a
// has_token/get_token/release_mine/start_job/wait_all/running contract.
// The semaphore-channel shape is the one exec.go's Executor uses (sem
// chan struct{}, sized by -j), generalized here into a standalone broker
// the scheduler and BuildJob can block on independently of any single
// recipe invocation.
package jobtoken

import (
	"runtime"
	"sync"
	"sync/atomic"

	"github.com/marcelocantos/goredo/internal/metrics"
	"github.com/marcelocantos/goredo/internal/msg"
)

// Pool is the capability BuildJob and Scheduler consume as their shared
// job-token broker.
type Pool interface {
	HasToken() bool
	GetToken(tag string)
	ReleaseMine()
	StartJob(tag string, body func() int, done func(rv int))
	WaitAll()
	Running() int
}

// ChannelPool is the default, in-process Pool implementation. jobs<0 means
// "auto" (runtime.NumCPU()); jobs==0 means unlimited concurrency — the same
// three-way branch NewExecutor used.
type ChannelPool struct {
	sem chan struct{} // nil => unlimited

	mu      sync.Mutex
	held    int
	wg      sync.WaitGroup
	running int32
}

// New constructs a ChannelPool sized for jobs concurrent recipes.
func New(jobs int) *ChannelPool {
	if jobs < 0 {
		jobs = runtime.NumCPU()
	}
	var sem chan struct{}
	if jobs > 0 {
		sem = make(chan struct{}, jobs)
	}
	metrics.SetTokensCapacity(jobs)
	return &ChannelPool{sem: sem}
}

// HasToken reports whether this process currently holds at least one
// uncommitted token.
func (p *ChannelPool) HasToken() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.held > 0
}

// GetToken blocks until a token is available, then marks it held by this
// process. tag is used only for DEBUG logging.
func (p *ChannelPool) GetToken(tag string) {
	msg.Debug("get_token(%s)", tag)
	if p.sem != nil {
		p.sem <- struct{}{}
	}
	p.mu.Lock()
	p.held++
	n := p.held
	p.mu.Unlock()
	metrics.SetTokensInUse(n)
}

// ReleaseMine gives back one token this process holds but is not currently
// spending on a started job. Callers must never block on a lock while
// holding a token; this is how the scheduler's deadlock-free wait cycle
// sheds its token before waiting.
func (p *ChannelPool) ReleaseMine() {
	p.mu.Lock()
	if p.held == 0 {
		p.mu.Unlock()
		return
	}
	p.held--
	n := p.held
	p.mu.Unlock()
	if p.sem != nil {
		<-p.sem
	}
	metrics.SetTokensInUse(n)
}

// StartJob spawns body in a goroutine, invoking done exactly once with its
// return value after it completes (or after it panics — a panic is
// recovered and reported as exit code 1 rather than crashing the process,
// so done is never skipped). The token acquired for this job via GetToken
// is returned to the pool once body finishes, before done runs; a job
// started while this process holds no token returns none.
func (p *ChannelPool) StartJob(tag string, body func() int, done func(rv int)) {
	p.wg.Add(1)
	atomic.AddInt32(&p.running, 1)
	go func() {
		defer p.wg.Done()
		defer atomic.AddInt32(&p.running, -1)

		rv := p.runBody(tag, body)

		p.mu.Lock()
		released := p.held > 0
		if released {
			p.held--
		}
		n := p.held
		p.mu.Unlock()
		if released && p.sem != nil {
			<-p.sem
		}
		metrics.SetTokensInUse(n)

		done(rv)
	}()
}

func (p *ChannelPool) runBody(tag string, body func() int) (rv int) {
	defer func() {
		if r := recover(); r != nil {
			msg.Error("job %q panicked: %v", tag, r)
			rv = 1
		}
	}()
	return body()
}

// WaitAll blocks until every job started via StartJob has completed. After
// it returns, this process holds no tokens on behalf of in-flight children,
// so it is safe to block on a lock.
func (p *ChannelPool) WaitAll() {
	p.wg.Wait()
}

// Running returns the number of jobs currently in flight.
func (p *ChannelPool) Running() int {
	return int(atomic.LoadInt32(&p.running))
}
