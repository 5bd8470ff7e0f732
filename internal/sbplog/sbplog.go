// Package sbplog is a thin, dependency-free logging helper.
//
// It follows the donor repo's philosophy: no framework, no encoders,
// just env-gated fmt calls writing to stderr. SBP_DEBUG=1 turns on
// Debugf; Infof prints unless quiet mode is set; Warnf/Errorf always
// print.
package sbplog

import (
	"fmt"
	"os"
	"sync"
	"time"
)

var (
	debugEnabled = os.Getenv("SBP_DEBUG") != ""
	quietMode    = false
	mu           sync.Mutex
)

// SetDebug enables or disables debug-level output at runtime.
func SetDebug(on bool) {
	mu.Lock()
	defer mu.Unlock()
	debugEnabled = on
}

// DebugEnabled reports whether debug-level logging is active.
func DebugEnabled() bool {
	mu.Lock()
	defer mu.Unlock()
	return debugEnabled
}

// SetQuiet suppresses Infof output (Warnf/Errorf still print).
func SetQuiet(quiet bool) {
	mu.Lock()
	defer mu.Unlock()
	quietMode = quiet
}

func write(level, component, format string, args ...interface{}) {
	mu.Lock()
	defer mu.Unlock()
	ts := time.Now().UTC().Format(time.RFC3339)
	msg := fmt.Sprintf(format, args...)
	fmt.Fprintf(os.Stderr, "%s [%s] component=%s %s\n", ts, level, component, msg)
}

// Debugf logs at debug level; suppressed unless SBP_DEBUG is set.
func Debugf(component, format string, args ...interface{}) {
	if !debugEnabled {
		return
	}
	write("debug", component, format, args...)
}

// Infof logs at info level; suppressed in quiet mode.
func Infof(component, format string, args ...interface{}) {
	if quietMode {
		return
	}
	write("info", component, format, args...)
}

// Warnf logs at warn level.
func Warnf(component, format string, args ...interface{}) {
	write("warn", component, format, args...)
}

// Errorf logs at error level.
func Errorf(component, format string, args ...interface{}) {
	write("error", component, format, args...)
}
