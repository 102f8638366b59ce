// Package joblog wires the engine's structured logger. It is built on
// github.com/go-pkgz/lgr, the same leveled-logging library used by other
// SSH-based deployment tooling in this space, and tags "executing command"
// lines with "EXEC". lgr has no separate EXEC level: those lines are
// written at INFO severity.
package joblog

import (
	"strings"
	"sync"

	"github.com/go-pkgz/lgr"
)

// Level is one of the engine's six supported verbosities.
type Level string

const (
	LevelDebugFull Level = "debug_full"
	LevelDebug     Level = "debug"
	LevelInfo      Level = "info"
	LevelExec      Level = "exec"
	LevelWarning   Level = "warning"
	LevelError     Level = "error"
)

var (
	mu     sync.Mutex
	logger lgr.L = lgr.NoOp

	// debugFull records that debug_full was selected. No caller-based
	// filter is applied at any level, so it changes no output on its own.
	debugFull bool
)

// Setup builds the logger for the given level and should run once, before
// any run starts. Only DEBUG lines are filtered (shown at debug and
// debug_full); at exec, warning and error, INFO and EXEC lines are still
// written.
func Setup(level Level) {
	mu.Lock()
	defer mu.Unlock()

	var opts []lgr.Option
	opts = append(opts, lgr.Msec, lgr.LevelBraces)

	switch level {
	case LevelDebugFull:
		opts = append(opts, lgr.Debug, lgr.CallerFile, lgr.CallerFunc)
		debugFull = true
	case LevelDebug:
		opts = append(opts, lgr.Debug)
	case LevelInfo, LevelExec:
		// lgr has no native notion of "exec"; it is implemented as an
		// INFO-level line carrying an "EXEC " prefix (see Exec below),
		// always shown at info-or-above.
	case LevelWarning:
		opts = append(opts, lgr.Secret()) // no secrets given: adds no level filter
	case LevelError:
	}

	logger = lgr.New(opts...)
}

// Debug logs a line at DEBUG, visible only once debug/debug_full is active.
func Debug(format string, args ...interface{}) {
	get().Logf("DEBUG "+format, args...)
}

// Info logs a line at INFO.
func Info(format string, args ...interface{}) {
	get().Logf("INFO "+format, args...)
}

// Exec logs an "executing command" line. It is an INFO line carrying an
// "EXEC " tag, not a separate numeric level: it is shown whenever INFO is,
// and operators filtering on "EXEC " can isolate command invocations from
// other info noise.
func Exec(format string, args ...interface{}) {
	get().Logf("INFO EXEC "+format, args...)
}

// Warn logs a line at WARN.
func Warn(format string, args ...interface{}) {
	get().Logf("WARN "+format, args...)
}

// Error logs a line at ERROR.
func Error(format string, args ...interface{}) {
	get().Logf("ERROR "+format, args...)
}

func get() lgr.L {
	mu.Lock()
	defer mu.Unlock()
	if logger == nil {
		return lgr.NoOp
	}
	return logger
}

// IsDebugFull reports whether Setup was called with debug_full.
func IsDebugFull() bool {
	mu.Lock()
	defer mu.Unlock()
	return debugFull
}

// ParseLevel validates a --log-level flag value.
func ParseLevel(s string) (Level, bool) {
	switch Level(strings.ToLower(s)) {
	case LevelDebugFull, LevelDebug, LevelInfo, LevelExec, LevelWarning, LevelError:
		return Level(strings.ToLower(s)), true
	default:
		return "", false
	}
}
