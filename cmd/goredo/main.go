// Copyright 2026 The goredo Authors
// SPDX-License-Identifier: Apache-2.0

// Command goredo is a redo-family build driver: a single binary that
// behaves as whichever member of the redo tool family it is invoked as
// (redo, redo-ifchange, redo-ifcreate, ...), following the real redo
// convention of dispatching on argv[0]. Translated from
// marcelocantos-mk's cmd/mk/main.go flag-parsing shape into cobra, to
// also serve a plain `goredo <subcommand>` entry point.
package main

import (
	"os"
	"path/filepath"

	"github.com/marcelocantos/goredo/internal/msg"
)

var redoBinaries = map[string]string{
	"redo":          "force",
	"redo-ifchange": "ifchange",
	"redo-ifcreate": "ifcreate",
	"redo-always":   "always",
	"redo-unlocked": "unlocked",
	"redo-ood":      "ood",
	"redo-targets":  "targets",
	"redo-sources":  "sources",
}

func main() {
	prog := filepath.Base(os.Args[0])
	if mode, ok := redoBinaries[prog]; ok {
		os.Exit(runRedoMode(mode, os.Args[1:]))
	}
	if err := rootCmd.Execute(); err != nil {
		msg.Fatal("%v", err)
	}
}
