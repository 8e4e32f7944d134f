// Package log is a thin slog front end. Records carry a module tag as
// a structured attribute so output can be filtered per subsystem.
// Until InitLogger runs, everything is muted.
package log

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"math"
	"os"
	"strings"
	"sync/atomic"
)

// LevelTrace sits below debug for per-instruction stepping output;
// LevelCrit sits above error for unrecoverable conditions.
const (
	LevelTrace = slog.LevelDebug - 4
	LevelCrit  = slog.LevelError + 4
)

// Module tags.
const (
	CompilerMonitoring = "wasm_compile" // module loader / rewriter
	VMMonitoring       = "wasm_exec"    // processor stepping
	ContractMonitoring = "bvm_contract" // contract-mode host calls
	ManagerMonitoring  = "bvm_manager"  // manager-mode host calls
	StoreMonitoring    = "store_mod"    // variable store
	DriverMonitoring   = "bvm_driver"   // top-level invocations
)

var root atomic.Pointer[slog.Logger]

func init() {
	muted := slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.Level(math.MaxInt)})
	root.Store(slog.New(muted))
}

// ParseLevel maps a level name to its slog value.
func ParseLevel(name string) (slog.Level, error) {
	switch strings.ToLower(name) {
	case "trace":
		return LevelTrace, nil
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	case "crit", "critical":
		return LevelCrit, nil
	}
	return 0, fmt.Errorf("unknown log level %q", name)
}

func levelName(l slog.Level) string {
	switch {
	case l <= LevelTrace:
		return "TRACE"
	case l >= LevelCrit:
		return "CRIT"
	}
	return l.String()
}

// InitLogger routes records at or above the named level to stderr.
// An unknown level name is fatal.
func InitLogger(level string) {
	lvl, err := ParseLevel(level)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	h := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: lvl,
		ReplaceAttr: func(_ []string, a slog.Attr) slog.Attr {
			if a.Key == slog.LevelKey {
				if l, ok := a.Value.Any().(slog.Level); ok {
					a.Value = slog.StringValue(levelName(l))
				}
			}
			return a
		},
	})
	root.Store(slog.New(h))
}

func emit(level slog.Level, module, msg string, kv []any) {
	l := root.Load()
	if !l.Enabled(context.Background(), level) {
		return
	}
	args := make([]any, 0, len(kv)+2)
	args = append(args, "module", module)
	args = append(args, kv...)
	l.Log(context.Background(), level, msg, args...)
}

func Trace(module, msg string, kv ...any) { emit(LevelTrace, module, msg, kv) }
func Debug(module, msg string, kv ...any) { emit(slog.LevelDebug, module, msg, kv) }
func Info(module, msg string, kv ...any)  { emit(slog.LevelInfo, module, msg, kv) }
func Warn(module, msg string, kv ...any)  { emit(slog.LevelWarn, module, msg, kv) }
func Error(module, msg string, kv ...any) { emit(slog.LevelError, module, msg, kv) }
func Crit(module, msg string, kv ...any)  { emit(LevelCrit, module, msg, kv) }
