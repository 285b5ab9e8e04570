// Copyright 2026 The goredo Authors
// SPDX-License-Identifier: Apache-2.0

// Package config loads the scheduling/build flags (SHUFFLE, KEEP_GOING,
// UNLOCKED, NO_OOB, OLD_ARGS, VERBOSE, XTRACE, DEBUG_LOCKS, DEBUG, STARTDIR,
// BASE, DEPTH) from three layers of decreasing-to-increasing precedence:
// compiled-in defaults, .redo/config.toml, and REDO_* environment variables.
// cmd/goredo has no command-line flags that override these settings.
package config

import (
	"os"
	"path/filepath"
	"strconv"

	"github.com/pelletier/go-toml/v2"
)

// Config holds the scheduling/BuildJob-wide flags, threaded explicitly
// through the Scheduler and BuildJob constructors rather than kept as
// package-level globals.
type Config struct {
	Shuffle    bool `toml:"shuffle"`
	KeepGoing  bool `toml:"keep_going"`
	Unlocked   bool `toml:"-"` // not read from config.toml or the environment: set when invoked as redo-unlocked
	NoOOB      bool `toml:"no_oob"`
	OldArgs    bool `toml:"old_args"`
	Verbose    bool `toml:"verbose"`
	XTrace     bool `toml:"xtrace"`
	DebugLocks bool `toml:"debug_locks"`
	Debug      bool `toml:"debug"`
	Jobs       int  `toml:"jobs"`

	StartDir string `toml:"-"`
	Base     string `toml:"-"`
	Depth    string `toml:"-"`
}

// Default returns the compiled-in defaults.
func Default() Config {
	return Config{Jobs: -1, Depth: ""}
}

// Load resolves base's .redo/config.toml (if present) over the defaults,
// then overlays REDO_* environment variables.
func Load(base string) (Config, error) {
	cfg := Default()
	cfg.Base = base

	data, err := os.ReadFile(filepath.Join(base, ".redo", "config.toml"))
	if err == nil {
		if err := toml.Unmarshal(data, &cfg); err != nil {
			return cfg, err
		}
	} else if !os.IsNotExist(err) {
		return cfg, err
	}

	cfg.applyEnv()
	return cfg, nil
}

func (c *Config) applyEnv() {
	boolVar(&c.Shuffle, "REDO_SHUFFLE")
	boolVar(&c.KeepGoing, "REDO_KEEP_GOING")
	boolVar(&c.NoOOB, "REDO_NO_OOB")
	boolVar(&c.OldArgs, "REDO_OLD_ARGS")
	boolVar(&c.Verbose, "REDO_VERBOSE")
	boolVar(&c.XTrace, "REDO_XTRACE")
	boolVar(&c.DebugLocks, "REDO_DEBUG_LOCKS")
	boolVar(&c.Debug, "REDO_DEBUG")
	if v := os.Getenv("REDO_DEPTH"); v != "" {
		c.Depth = v
	}
	if v := os.Getenv("REDO_JOBS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Jobs = n
		}
	}
}

func boolVar(dst *bool, env string) {
	v := os.Getenv(env)
	if v == "" {
		return
	}
	b, err := strconv.ParseBool(v)
	if err == nil {
		*dst = b
	}
}
