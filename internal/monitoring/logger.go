// Package monitoring holds the engine's diagnostic logger.
package monitoring

import "log"

// Logf is the package-level diagnostic logger. It defaults to log.Printf
// but may be replaced by SetLogger. Tests or embedding applications can
// redirect or mute it.
var Logf func(format string, v ...interface{}) = log.Printf

// verbose gates Debugf output. Off by default; the binaries flip it with
// a -verbose flag.
var verbose bool

// SetLogger replaces the package logger. Passing nil installs a no-op
// logger.
func SetLogger(f func(format string, v ...interface{})) {
	if f == nil {
		Logf = func(string, ...interface{}) {}
		return
	}
	Logf = f
}

// SetVerbose toggles Debugf output.
func SetVerbose(v bool) {
	verbose = v
}

// Debugf logs through Logf only when verbose mode is on. Used for chatty
// per-point diagnostics (candidate counts, backend fallbacks).
func Debugf(format string, v ...interface{}) {
	if verbose {
		Logf(format, v...)
	}
}
