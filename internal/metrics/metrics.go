// Copyright 2026 The goredo Authors
// SPDX-License-Identifier: Apache-2.0

// Package metrics exposes the additive, scheduling-blind observability
// goredo carries as ambient infrastructure: a Prometheus registry recording
// recipe outcomes, recipe duration, and the job-token pool's occupancy.
// Nothing in internal/scheduler or internal/buildjob consults these values
// to make decisions — they are write-only from the core's perspective.
package metrics

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	mu  sync.RWMutex
	reg *prometheus.Registry

	buildsTotal    *prometheus.CounterVec
	buildDuration  *prometheus.HistogramVec
	tokensInUse    prometheus.Gauge
	tokensCapacity prometheus.Gauge
)

func init() {
	resetLocked()
}

// Reset clears and reinitializes all collectors. Used by tests to ensure
// clean state between runs within the same process.
func Reset() {
	mu.Lock()
	defer mu.Unlock()
	resetLocked()
}

// Handler returns an HTTP handler exposing metrics in Prometheus format.
func Handler() http.Handler {
	mu.RLock()
	registry := reg
	mu.RUnlock()
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}

// ObserveBuild records one BuildJob's outcome and recipe wall-clock time.
func ObserveBuild(exitCode int, d time.Duration) {
	mu.RLock()
	defer mu.RUnlock()
	if buildsTotal != nil {
		buildsTotal.WithLabelValues(strconv.Itoa(exitCode)).Inc()
	}
	if buildDuration != nil && d > 0 {
		buildDuration.WithLabelValues(strconv.Itoa(exitCode)).Observe(d.Seconds())
	}
}

// SetTokensInUse records the job-slot broker's current occupancy.
func SetTokensInUse(n int) {
	mu.RLock()
	defer mu.RUnlock()
	if tokensInUse != nil {
		tokensInUse.Set(float64(n))
	}
}

// SetTokensCapacity records the job-slot broker's configured capacity
// (0 means unlimited).
func SetTokensCapacity(n int) {
	mu.RLock()
	defer mu.RUnlock()
	if tokensCapacity != nil {
		tokensCapacity.Set(float64(n))
	}
}

func resetLocked() {
	registry := prometheus.NewRegistry()

	bTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "goredo",
		Subsystem: "build",
		Name:      "jobs_total",
		Help:      "Total BuildJob completions, grouped by exit code.",
	}, []string{"code"})

	bDur := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "goredo",
		Subsystem: "build",
		Name:      "recipe_duration_seconds",
		Help:      "Recipe wall-clock duration, grouped by exit code.",
		Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10, 30, 60, 300},
	}, []string{"code"})

	tiu := prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "goredo",
		Subsystem: "jobtoken",
		Name:      "tokens_in_use",
		Help:      "Job-slot tokens currently held by in-flight recipes.",
	})

	tc := prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "goredo",
		Subsystem: "jobtoken",
		Name:      "tokens_capacity",
		Help:      "Configured job-slot pool capacity (0 = unlimited).",
	})

	registry.MustRegister(bTotal, bDur, tiu, tc)

	reg = registry
	buildsTotal = bTotal
	buildDuration = bDur
	tokensInUse = tiu
	tokensCapacity = tc
}
