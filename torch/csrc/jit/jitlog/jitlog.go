// Package jitlog provides leveled logging for graph transformation passes.
// Passes report node-level rewrites at the update level, candidate
// considerations at the debug level, and whole-graph snapshots at the dump
// level. Logging is off by default and enabled through SetLevel or the
// JIT_LOG_LEVEL environment variable.
package jitlog

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync/atomic"
)

// Level controls how much pass activity is logged. Each level includes the
// ones below it.
type Level int32

const (
	Off Level = iota
	Dump
	Update
	Debug
)

var level atomic.Int32

func init() {
	switch strings.ToLower(os.Getenv("JIT_LOG_LEVEL")) {
	case "dump":
		level.Store(int32(Dump))
	case "update":
		level.Store(int32(Update))
	case "debug":
		level.Store(int32(Debug))
	}
}

// SetLevel sets the logging level for all passes.
func SetLevel(l Level) {
	level.Store(int32(l))
}

func enabled(l Level) bool {
	return level.Load() >= int32(l)
}

// GraphUpdate logs a single graph rewrite (node inserted, replaced, moved,
// or deleted).
func GraphUpdate(args ...any) {
	if enabled(Update) {
		slog.Info(sprint(args...))
	}
}

// GraphDebug logs a candidate being considered or skipped.
func GraphDebug(args ...any) {
	if enabled(Debug) {
		slog.Debug(sprint(args...))
	}
}

// GraphDump logs a whole-graph snapshot under the given message.
func GraphDump(msg string, graph fmt.Stringer) {
	if enabled(Dump) {
		slog.Info(msg, "graph", graph.String())
	}
}

func sprint(args ...any) string {
	parts := make([]string, len(args))
	for i, a := range args {
		parts[i] = fmt.Sprint(a)
	}
	return strings.Join(parts, " ")
}
