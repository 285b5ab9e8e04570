// Copyright 2026 The goredo Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"net/http"
	"os"

	"github.com/spf13/cobra"

	"github.com/marcelocantos/goredo/internal/metrics"
	"github.com/marcelocantos/goredo/internal/msg"
)

var flagMetricsAddr string

var rootCmd = &cobra.Command{
	Use:   "goredo [target ...]",
	Short: "A redo-family build driver",
	Long: `goredo builds targets using per-target do-file recipes, cooperative
parallelism tokens, and cross-process advisory locks, in the style of the
redo build tool family.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if flagMetricsAddr != "" {
			go serveMetrics(flagMetricsAddr)
		}
		os.Exit(runRedoMode("ifchange", args))
		return nil
	},
}

var buildCmd = &cobra.Command{
	Use:   "build [target ...]",
	Short: "Build targets only if they are dirty (same as redo-ifchange)",
	RunE: func(cmd *cobra.Command, args []string) error {
		os.Exit(runRedoMode("ifchange", args))
		return nil
	},
}

var forceCmd = &cobra.Command{
	Use:   "force [target ...]",
	Short: "Unconditionally rebuild targets (same as redo)",
	RunE: func(cmd *cobra.Command, args []string) error {
		os.Exit(runRedoMode("force", args))
		return nil
	},
}

var targetsCmd = &cobra.Command{
	Use:   "targets",
	Short: "List targets ever built by a recipe",
	RunE: func(cmd *cobra.Command, args []string) error {
		os.Exit(runRedoMode("targets", nil))
		return nil
	},
}

var sourcesCmd = &cobra.Command{
	Use:   "sources",
	Short: "List targets classified as hand-written static sources",
	RunE: func(cmd *cobra.Command, args []string) error {
		os.Exit(runRedoMode("sources", nil))
		return nil
	},
}

var oodCmd = &cobra.Command{
	Use:   "ood [target ...]",
	Short: "List targets that are out of date",
	RunE: func(cmd *cobra.Command, args []string) error {
		os.Exit(runRedoMode("ood", args))
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagMetricsAddr, "metrics", "", "serve Prometheus metrics on the given address (e.g. :9090)")
	rootCmd.AddCommand(buildCmd, forceCmd, targetsCmd, sourcesCmd, oodCmd)
}

func serveMetrics(addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	msg.Info("serving metrics on %s", addr)
	if err := http.ListenAndServe(addr, mux); err != nil {
		msg.Warn("metrics server: %v", err)
	}
}
